package export

import (
	"context"

	"github.com/kikiluvv/framecut/pkg/util"
)

// Tick is one output frame to encode
type Tick struct {
	Index    int
	PTS      float64
	Duration float64
}

// FrameIterator is the synchronous generator of output frames. The caller
// decides where it runs; cancellation is observed between steps.
type FrameIterator struct {
	ctx   context.Context
	fps   float64
	total int
	next  int
	err   error
}

// NewFrameIterator yields ceil(duration*fps) ticks
func NewFrameIterator(ctx context.Context, duration, fps float64) *FrameIterator {
	return &FrameIterator{
		ctx:   ctx,
		fps:   fps,
		total: util.FrameCount(duration, fps),
	}
}

// Total returns the number of frames the iterator produces when not cancelled
func (it *FrameIterator) Total() int {
	return it.total
}

// Next returns the next tick, or false when exhausted or cancelled
func (it *FrameIterator) Next() (Tick, bool) {
	if it.err != nil {
		return Tick{}, false
	}
	if err := it.ctx.Err(); err != nil {
		it.err = err
		return Tick{}, false
	}
	if it.next >= it.total {
		return Tick{}, false
	}

	i := it.next
	it.next++
	return Tick{
		Index:    i,
		PTS:      float64(i) / it.fps,
		Duration: 1 / it.fps,
	}, true
}

// Err returns the cancellation that stopped the iterator, if any
func (it *FrameIterator) Err() error {
	return it.err
}
