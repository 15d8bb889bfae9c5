package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSinkIsUsableImmediately(t *testing.T) {
	s := NewSink()
	require.NotNil(t, s)
	require.NotNil(t, s.Registry())
}

func TestRegisterCounterIsIdempotentByNameAndLabels(t *testing.T) {
	s := NewSink()

	h1, err := s.RegisterCounter("queued_total", map[string]string{"driver": "d1"})
	require.NoError(t, err)

	h2, err := s.RegisterCounter("queued_total", map[string]string{"driver": "d1"})
	require.NoError(t, err)

	assert.Same(t, h1, h2, "registering the same name+labels twice should return the same handle")
}

func TestRegisterCounterDistinguishesLabels(t *testing.T) {
	s := NewSink()

	h1, err := s.RegisterCounter("written_total", map[string]string{"driver": "a"})
	require.NoError(t, err)
	h2, err := s.RegisterCounter("written_total", map[string]string{"driver": "b"})
	require.NoError(t, err)

	assert.NotSame(t, h1, h2)
}

func TestAddIncrementsCounter(t *testing.T) {
	s := NewSink()
	h, err := s.RegisterCounter("dropped_total", nil)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		s.Add(h, 1)
		s.Add(h, 4)
	})
}

func TestGaugeSetIncDec(t *testing.T) {
	s := NewSink()
	h, err := s.RegisterGauge("memory_usage_bytes", nil)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		s.Set(h, 100)
		s.Inc(h)
		s.Dec(h)
	})
}

func TestAddWithWrongHandleTypePanics(t *testing.T) {
	s := NewSink()
	g, err := s.RegisterGauge("in_flight", nil)
	require.NoError(t, err)

	assert.Panics(t, func() {
		s.Add(g, 1) // g is a gauge handle, Add expects a counter
	})
}

func TestConcurrentRegistrationAndUpdates(t *testing.T) {
	s := NewSink()
	done := make(chan struct{}, 50)

	for i := 0; i < 50; i++ {
		go func(i int) {
			defer func() { done <- struct{}{} }()
			h, err := s.RegisterCounter("processed_total", map[string]string{"worker": "w"})
			if err != nil {
				return
			}
			s.Add(h, 1)
		}(i)
	}
	for i := 0; i < 50; i++ {
		<-done
	}

	h, err := s.RegisterCounter("processed_total", map[string]string{"worker": "w"})
	require.NoError(t, err)
	assert.NotNil(t, h)
}

func TestHandlerServesRegisteredMetrics(t *testing.T) {
	s := NewSink()
	h, err := s.RegisterCounter("handler_smoke_total", nil)
	require.NoError(t, err)
	s.Add(h, 3)

	assert.NotNil(t, s.Handler())
}
