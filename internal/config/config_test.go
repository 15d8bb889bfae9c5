package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ChuLiYu/logrelay/pkg/corecontract"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "logrelay.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing test config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaultsForUnsetFields(t *testing.T) {
	path := writeConfig(t, "queue:\n  capacity: 500\n")
	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Capacity() != 500 {
		t.Fatalf("Capacity() = %d, want 500", p.Capacity())
	}
	if p.BatchLines() != 1 {
		t.Fatalf("BatchLines() default = %d, want 1", p.BatchLines())
	}
	if p.NumWorkers() != 1 {
		t.Fatalf("NumWorkers() default = %d, want 1", p.NumWorkers())
	}
}

func TestLoadParsesAllFields(t *testing.T) {
	path := writeConfig(t, `
queue:
  capacity: 2000
  use_backlog: true
  throttle_rate: 50
destination:
  batch_lines: 25
  batch_timeout_ms: 500
  reopen_sec: 10
  max_retries: 5
  max_retries_on_error: 4
  num_workers: 3
mark_mode: global
`)
	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Capacity() != 2000 || !p.UseBacklog() || p.ThrottleRate() != 50 {
		t.Fatalf("queue fields not parsed correctly: %+v", p.f.Queue)
	}
	if p.BatchLines() != 25 || p.BatchTimeoutMS() != 500 || p.ReopenSec() != 10 {
		t.Fatalf("destination fields not parsed correctly: %+v", p.f.Destination)
	}
	if p.MaxRetries() != 5 || p.MaxRetriesOnError() != 4 || p.NumWorkers() != 3 {
		t.Fatalf("destination retry/worker fields not parsed correctly: %+v", p.f.Destination)
	}
	if p.MarkMode() != corecontract.MarkModeGlobal {
		t.Fatalf("MarkMode() = %v, want global", p.MarkMode())
	}
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected an error loading a missing config file")
	}
}

func TestLoadInvalidYAMLReturnsError(t *testing.T) {
	path := writeConfig(t, "queue: [this is not a mapping")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected an error parsing invalid YAML")
	}
}

func TestFromFileAppliesDefaults(t *testing.T) {
	p := FromFile(File{})
	if p.Capacity() != 10000 {
		t.Fatalf("Capacity() default = %d, want 10000", p.Capacity())
	}
}

func TestUnknownMarkModeDefaultsToNone(t *testing.T) {
	path := writeConfig(t, "mark_mode: nonsense\n")
	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.MarkMode() != corecontract.MarkModeNone {
		t.Fatalf("MarkMode() = %v, want none", p.MarkMode())
	}
}
