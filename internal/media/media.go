package media

import (
	"context"
	"errors"
	"image"
	"sync"
)

var (
	// ErrNoFrame means no decoded unit is available for the request
	ErrNoFrame = errors.New("no frame")
	// ErrNonMonotonic means a frame-exact request went backwards in time
	ErrNonMonotonic = errors.New("non-monotonic frame request")
	// ErrClosed means the source has been closed
	ErrClosed = errors.New("source closed")
)

// Frame is a decoded picture handed to a caller, who must Release it after use
type Frame struct {
	Image image.Image
	PTS   float64

	once      sync.Once
	onRelease func()
}

// NewFrame wraps an image with a release callback
func NewFrame(img image.Image, pts float64, onRelease func()) *Frame {
	return &Frame{Image: img, PTS: pts, onRelease: onRelease}
}

// Release returns the frame to its owner. Safe to call more than once.
func (f *Frame) Release() {
	if f == nil {
		return
	}
	f.once.Do(func() {
		if f.onRelease != nil {
			f.onRelease()
		}
	})
}

// Source yields frames for one media reference
type Source interface {
	FrameAt(ctx context.Context, t float64) (*Frame, error)
	Close() error
}

// Key identifies a pooled handle
type Key struct {
	Source  string
	Variant string
}

// Opener creates sources for pool keys
type Opener interface {
	Open(ctx context.Context, key Key) (Source, error)
}

// Stream is a sequential decode of raw RGBA frames
type Stream interface {
	// Next returns the next picture and its presentation time, io.EOF at the end
	Next() (*image.RGBA, float64, error)
	Close() error
}

// StreamOpener starts a sequential decode of source beginning at start seconds
type StreamOpener interface {
	OpenStream(ctx context.Context, source string, start float64) (Stream, error)
}
