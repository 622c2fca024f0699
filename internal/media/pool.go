package media

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"github.com/kikiluvv/framecut/internal/resolver"
	"github.com/rs/zerolog"
)

// KeyFunc maps a layer to the handle that serves it
type KeyFunc func(l *resolver.Layer) Key

// SourceKey keys handles by (source, variant)
func SourceKey(l *resolver.Layer) Key {
	return Key{Source: l.Source, Variant: l.Variant}
}

// ClipKey gives every clip its own handle so two clips cutting the same file
// never share a monotonic decode position.
func ClipKey(l *resolver.Layer) Key {
	return Key{Source: l.Source, Variant: l.Variant + "#" + l.ClipID}
}

type pooled struct {
	key      Key
	src      Source
	err      error
	lastUsed int64
}

// Pool is an explicitly owned registry of decodable handles. Live preview and
// each export job hold separate instances.
type Pool struct {
	logger zerolog.Logger
	opener Opener
	keyFn  KeyFunc

	mu      sync.Mutex
	handles map[Key]*pooled
	tick    int64
	closed  bool

	outstanding atomic.Int64
}

// NewPool creates a pool over opener. A nil keyFn keys by source and variant.
func NewPool(logger zerolog.Logger, opener Opener, keyFn KeyFunc) *Pool {
	if keyFn == nil {
		keyFn = SourceKey
	}
	return &Pool{
		logger:  logger.With().Str("component", "media-pool").Logger(),
		opener:  opener,
		keyFn:   keyFn,
		handles: make(map[Key]*pooled),
	}
}

// Acquire returns the frame for key at t, or nil when the source cannot
// provide one. Decode problems are logged, never returned.
func (p *Pool) Acquire(ctx context.Context, key Key, t float64) *Frame {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	h, ok := p.handles[key]
	if !ok {
		h = &pooled{key: key}
		src, err := p.opener.Open(ctx, key)
		if err != nil {
			h.err = err
			p.logger.Warn().Err(err).Str("source", key.Source).Msg("source unavailable, rendering gap")
		}
		h.src = src
		p.handles[key] = h
	}
	h.lastUsed = p.tick

	if h.src == nil {
		return nil
	}

	f, err := h.src.FrameAt(ctx, t)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		case errors.Is(err, ErrNoFrame):
			p.logger.Debug().Str("source", key.Source).Float64("t", t).Msg("no frame")
		case errors.Is(err, ErrNonMonotonic):
			p.logger.Error().Err(err).Str("source", key.Source).Msg("out of order frame request")
		default:
			p.logger.Warn().Err(err).Str("source", key.Source).Float64("t", t).Msg("decode failed")
		}
		return nil
	}

	p.outstanding.Add(1)
	return NewFrame(f.Image, f.PTS, func() {
		f.Release()
		p.outstanding.Add(-1)
	})
}

// Sweep advances the pool clock and closes handles unused for more than idle ticks
func (p *Pool) Sweep(idle int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.tick++
	for key, h := range p.handles {
		if p.tick-h.lastUsed > idle {
			if h.src != nil {
				_ = h.src.Close()
			}
			delete(p.handles, key)
		}
	}
}

// Handles returns the number of open handles
func (p *Pool) Handles() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}

// Outstanding returns frames acquired and not yet released
func (p *Pool) Outstanding() int64 {
	return p.outstanding.Load()
}

// Close closes every handle. Frames already handed out remain valid until released.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	for key, h := range p.handles {
		if h.src != nil {
			if err := h.src.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", key.Source, err))
			}
		}
		delete(p.handles, key)
	}
	return errors.Join(errs...)
}

// Batch collects the frames acquired for one render so they can be released together
func (p *Pool) Batch(ctx context.Context) *Batch {
	return &Batch{ctx: ctx, pool: p}
}

// Batch serves layer frames for a single render pass
type Batch struct {
	ctx    context.Context
	pool   *Pool
	frames []*Frame
}

// FrameFor returns the picture for a layer at its source time, nil for a gap
func (b *Batch) FrameFor(l *resolver.Layer) image.Image {
	if l.Source == "" {
		return nil
	}
	f := b.pool.Acquire(b.ctx, b.pool.keyFn(l), l.SourceTime)
	if f == nil {
		return nil
	}
	b.frames = append(b.frames, f)
	return f.Image
}

// Release returns every frame acquired through the batch
func (b *Batch) Release() {
	for _, f := range b.frames {
		f.Release()
	}
	b.frames = b.frames[:0]
}

// Router opens images directly and everything else through a frame-exact decoder
type Router struct {
	Streams StreamOpener
	Decoder DecoderOptions
}

// Open implements Opener
func (r *Router) Open(ctx context.Context, key Key) (Source, error) {
	if IsImage(key.Source) {
		return LoadImage(ctx, key.Source)
	}
	if r.Streams == nil {
		return nil, fmt.Errorf("no stream decoder for %s", key.Source)
	}
	return NewDecoder(r.Streams, key.Source, r.Decoder), nil
}
