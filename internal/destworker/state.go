package destworker

import "strconv"

// State is the destination worker's connection/batching lifecycle, encoded
// as an explicit enum per spec §9 rather than scattered booleans.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateBatching
	StateFlushing
	StateSuspended
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateBatching:
		return "batching"
	case StateFlushing:
		return "flushing"
	case StateSuspended:
		return "suspended"
	default:
		return "unknown"
	}
}

// formatSeqnumKey and formatQueueKey implement the per-driver persist-name
// convention from syslog-ng's logthrdestdrv.c: worker 0 uses the bare,
// legacy (pre-fan-out) persist name so upgrading a single-worker driver to
// multiple workers doesn't orphan its persisted sequence number; workers
// 1..N suffix the name with their index.
func formatSeqnumKey(driverName string, workerIndex int) string {
	if workerIndex == 0 {
		return driverName + ".seqnum"
	}
	return driverName + "." + strconv.Itoa(workerIndex) + ".seqnum"
}

func formatQueueKey(driverName string, workerIndex int) string {
	if workerIndex == 0 {
		return driverName + ".queue"
	}
	return driverName + "." + strconv.Itoa(workerIndex) + ".queue"
}
