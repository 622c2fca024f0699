package media

import (
	"context"
	"fmt"
	"image"
	"io"
	"math"
	"sync/atomic"
)

// Frame-exact decode defaults
const (
	DefaultTolerance  = 0.030
	DefaultRestartGap = 2.0
)

// DecoderOptions tunes frame-exact access
type DecoderOptions struct {
	// Tolerance is how far a decoded unit may sit from the request.
	Tolerance float64
	// RestartGap is the forward jump beyond which the stream is reopened instead of decoded through.
	RestartGap float64
}

type unit struct {
	img *image.RGBA
	pts float64
}

// Decoder gives frame-exact access to one source for monotonic requests.
// At most two decoded units are retained between calls.
type Decoder struct {
	opener StreamOpener
	source string
	opts   DecoderOptions

	stream  Stream
	held    *unit
	pending *unit
	eof     bool
	last    float64
	started bool
	closed  bool

	outstanding atomic.Int64
}

// NewDecoder creates a frame-exact decoder. The stream opens lazily on the first request.
func NewDecoder(opener StreamOpener, source string, opts DecoderOptions) *Decoder {
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultTolerance
	}
	if opts.RestartGap <= 0 {
		opts.RestartGap = DefaultRestartGap
	}
	return &Decoder{
		opener: opener,
		source: source,
		opts:   opts,
	}
}

// FrameAt returns the unit nearest t among those decoded up to t+tolerance.
// When the source has no unit that close (low frame rate, end of stream) the
// latest earlier unit is held and returned.
func (d *Decoder) FrameAt(ctx context.Context, t float64) (*Frame, error) {
	if d.closed {
		return nil, ErrClosed
	}
	if d.started && t < d.last-d.opts.Tolerance {
		return nil, fmt.Errorf("%w: %s requested %.3f after %.3f", ErrNonMonotonic, d.source, t, d.last)
	}
	d.last = math.Max(d.last, t)
	d.started = true

	if d.needsRestart(t) {
		if err := d.restart(ctx, t); err != nil {
			return nil, err
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		u, err := d.peek()
		if err != nil {
			return nil, err
		}
		if u == nil {
			break
		}
		if u.pts <= t {
			// earlier units are dropped as soon as a later one is known
			d.held = u
			d.pending = nil
			continue
		}
		if u.pts-t <= d.opts.Tolerance && (d.held == nil || u.pts-t < t-d.held.pts) {
			d.held = u
			d.pending = nil
		}
		break
	}

	if d.held == nil {
		return nil, fmt.Errorf("%w: %s at %.3f", ErrNoFrame, d.source, t)
	}

	d.outstanding.Add(1)
	return NewFrame(d.held.img, d.held.pts, func() { d.outstanding.Add(-1) }), nil
}

// Outstanding returns the number of frames handed out and not yet released
func (d *Decoder) Outstanding() int64 {
	return d.outstanding.Load()
}

// Close stops decoding and drops retained units
func (d *Decoder) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.held, d.pending = nil, nil
	if d.stream != nil {
		err := d.stream.Close()
		d.stream = nil
		return err
	}
	return nil
}

func (d *Decoder) peek() (*unit, error) {
	if d.pending != nil {
		return d.pending, nil
	}
	if d.eof {
		return nil, nil
	}
	img, pts, err := d.stream.Next()
	if err == io.EOF {
		d.eof = true
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", d.source, err)
	}
	d.pending = &unit{img: img, pts: pts}
	return d.pending, nil
}

func (d *Decoder) needsRestart(t float64) bool {
	if d.stream == nil {
		return true
	}
	if d.eof {
		return false
	}
	ref := d.held
	if d.pending != nil {
		ref = d.pending
	}
	if ref == nil {
		return false
	}
	return t-ref.pts > d.opts.RestartGap
}

func (d *Decoder) restart(ctx context.Context, t float64) error {
	if d.stream != nil {
		_ = d.stream.Close()
		d.stream = nil
	}
	d.held, d.pending, d.eof = nil, nil, false

	s, err := d.opener.OpenStream(ctx, d.source, t)
	if err != nil {
		return fmt.Errorf("open %s at %.3f: %w", d.source, t, err)
	}
	d.stream = s
	return nil
}
