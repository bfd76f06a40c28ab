package event

import (
	"fmt"
	"sync/atomic"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/srg/gattsd/pkg/convert"
)

// MaxHistorySize caps the diagnostic history.
const MaxHistorySize uint32 = 64 * 1024

// History keeps the most recent envelopes for diagnostics. Once full the
// oldest envelope is overwritten. Delivery to subscribers never goes through
// History.
type History struct {
	ring        mpmc.RichOverlappedRingBuffer[convert.Object]
	recorded    atomic.Int64
	overwritten atomic.Int64
}

// NewHistory creates a history holding about size envelopes; the ring may
// round the size up.
func NewHistory(size uint32) (*History, error) {
	if size == 0 {
		return nil, fmt.Errorf("history size must be > 0")
	}
	if size > MaxHistorySize {
		return nil, fmt.Errorf("history size %d exceeds maximum %d", size, MaxHistorySize)
	}
	return &History{ring: mpmc.NewOverlappedRingBuffer[convert.Object](size)}, nil
}

// Record appends env.
func (h *History) Record(env convert.Object) error {
	overwrites, err := h.ring.EnqueueM(env)
	if err != nil {
		return fmt.Errorf("history enqueue: %w", err)
	}
	h.recorded.Add(1)
	h.overwritten.Add(int64(overwrites))
	return nil
}

// Drain removes and returns the retained envelopes, oldest first.
func (h *History) Drain() ([]convert.Object, error) {
	var out []convert.Object
	for !h.ring.IsEmpty() {
		env, err := h.ring.Dequeue()
		if err != nil {
			return out, fmt.Errorf("history dequeue: %w", err)
		}
		out = append(out, env)
	}
	return out, nil
}

// Recorded is the number of envelopes ever recorded.
func (h *History) Recorded() int64 { return h.recorded.Load() }

// Overwritten is the number of envelopes lost to overwrite.
func (h *History) Overwritten() int64 { return h.overwritten.Load() }
