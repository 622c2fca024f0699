package media

import (
	"context"
	"image"
	"math"
	"sync"
	"time"

	"github.com/kikiluvv/framecut/internal/resolver"
	"github.com/rs/zerolog"
)

// Live sync tolerances
const (
	DefaultPausedTolerance  = 0.05
	DefaultPlayingTolerance = 0.2
)

// Player is a free-running playback handle driven by the live preview
type Player interface {
	CurrentTime() float64
	Seek(t float64)
	Seeking() bool
	Play()
	Pause()
	Playing() bool
	SetRate(rate float64)
	Rate() float64
	Ended() bool
	Frame() image.Image
	Close() error
}

// Tolerances bound the drift tolerated before a seek is issued
type Tolerances struct {
	Paused  float64
	Playing float64
}

// DefaultTolerances returns the scrub and playback tolerances
func DefaultTolerances() Tolerances {
	return Tolerances{Paused: DefaultPausedTolerance, Playing: DefaultPlayingTolerance}
}

// LiveHandle reconciles a player with the resolved source time
type LiveHandle struct {
	Player   Player
	lastUsed int64
}

// Sync brings the player to target. A seek is issued only when drift exceeds
// the tolerance and no seek is already in flight.
func (h *LiveHandle) Sync(target float64, playing bool, rate float64, tol Tolerances) {
	p := h.Player
	if rate > 0 && p.Rate() != rate {
		p.SetRate(rate)
	}

	limit := tol.Paused
	if playing {
		limit = tol.Playing
	}
	if math.Abs(p.CurrentTime()-target) > limit && !p.Seeking() {
		p.Seek(target)
	}

	switch {
	case playing && !p.Ended() && !p.Playing():
		p.Play()
	case !playing && p.Playing():
		p.Pause()
	}
}

// PlayerFactory opens a player for a pool key
type PlayerFactory func(ctx context.Context, key Key) (Player, error)

// LivePool owns the playback handles of the interactive preview
type LivePool struct {
	logger  zerolog.Logger
	factory PlayerFactory
	tol     Tolerances

	mu      sync.Mutex
	handles map[Key]*LiveHandle
	failed  map[Key]bool
	tick    int64
}

// NewLivePool creates a preview pool
func NewLivePool(logger zerolog.Logger, factory PlayerFactory, tol Tolerances) *LivePool {
	if tol.Paused <= 0 {
		tol.Paused = DefaultPausedTolerance
	}
	if tol.Playing <= 0 {
		tol.Playing = DefaultPlayingTolerance
	}
	return &LivePool{
		logger:  logger.With().Str("component", "live-pool").Logger(),
		factory: factory,
		tol:     tol,
		handles: make(map[Key]*LiveHandle),
		failed:  make(map[Key]bool),
	}
}

// Sync reconciles every media layer of a frame state and pauses handles that fell out of it
func (lp *LivePool) Sync(ctx context.Context, state *resolver.FrameState, playing bool, rate float64) {
	lp.mu.Lock()
	defer lp.mu.Unlock()

	lp.tick++
	for i := range state.Layers {
		l := &state.Layers[i]
		if l.Source == "" {
			continue
		}
		h := lp.handle(ctx, SourceKey(l))
		if h == nil {
			continue
		}
		h.lastUsed = lp.tick
		speed := 1.0
		if l.Clip != nil {
			speed = l.Clip.EffectiveSpeed()
		}
		h.Sync(l.SourceTime, playing, rate*speed, lp.tol)
	}

	for _, h := range lp.handles {
		if h.lastUsed != lp.tick && h.Player.Playing() {
			h.Player.Pause()
		}
	}
}

// FrameFor returns the player's current picture for a layer
func (lp *LivePool) FrameFor(l *resolver.Layer) image.Image {
	lp.mu.Lock()
	defer lp.mu.Unlock()

	h, ok := lp.handles[SourceKey(l)]
	if !ok {
		return nil
	}
	return h.Player.Frame()
}

// Seeking reports whether any player still has a seek in flight
func (lp *LivePool) Seeking() bool {
	lp.mu.Lock()
	defer lp.mu.Unlock()

	for _, h := range lp.handles {
		if h.Player.Seeking() {
			return true
		}
	}
	return false
}

// Sweep closes handles unused for more than idle syncs
func (lp *LivePool) Sweep(idle int64) {
	lp.mu.Lock()
	defer lp.mu.Unlock()

	for key, h := range lp.handles {
		if lp.tick-h.lastUsed > idle {
			_ = h.Player.Close()
			delete(lp.handles, key)
		}
	}
}

// Close closes every player
func (lp *LivePool) Close() error {
	lp.mu.Lock()
	defer lp.mu.Unlock()

	for key, h := range lp.handles {
		_ = h.Player.Close()
		delete(lp.handles, key)
	}
	return nil
}

func (lp *LivePool) handle(ctx context.Context, key Key) *LiveHandle {
	if h, ok := lp.handles[key]; ok {
		return h
	}
	if lp.failed[key] {
		return nil
	}
	p, err := lp.factory(ctx, key)
	if err != nil {
		lp.failed[key] = true
		lp.logger.Warn().Err(err).Str("source", key.Source).Msg("player unavailable")
		return nil
	}
	h := &LiveHandle{Player: p}
	lp.handles[key] = h
	return h
}

// Clock reports wall time
type Clock func() time.Time

// DecodePlayer plays a source by decoding in wall-clock order. Seeks run in
// the background and the last picture stays on screen until they land.
type DecodePlayer struct {
	open     func(ctx context.Context) (Source, error)
	clock    Clock
	duration float64

	mu      sync.Mutex
	src     Source
	frame   *Frame
	base    float64
	wall    time.Time
	playing bool
	rate    float64
	seeking bool
	seekGen int
	closed  bool
	logger  zerolog.Logger
}

// NewDecodePlayer creates a player. open is called for the initial source and on every seek.
func NewDecodePlayer(logger zerolog.Logger, open func(ctx context.Context) (Source, error), duration float64, clock Clock) *DecodePlayer {
	if clock == nil {
		clock = time.Now
	}
	return &DecodePlayer{
		open:     open,
		clock:    clock,
		duration: duration,
		rate:     1,
		logger:   logger,
	}
}

func (p *DecodePlayer) now() float64 {
	if !p.playing {
		return p.base
	}
	return p.base + p.clock().Sub(p.wall).Seconds()*p.rate
}

// CurrentTime returns the playback position in source seconds
func (p *DecodePlayer) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.now()
}

// Seek reopens the source at t in the background
func (p *DecodePlayer) Seek(t float64) {
	p.mu.Lock()
	p.seeking = true
	p.seekGen++
	gen := p.seekGen
	p.mu.Unlock()

	go func() {
		src, err := p.open(context.Background())
		var f *Frame
		if err == nil {
			f, err = src.FrameAt(context.Background(), t)
		}

		p.mu.Lock()
		defer p.mu.Unlock()
		if p.closed || gen != p.seekGen {
			f.Release()
			if src != nil {
				_ = src.Close()
			}
			return
		}
		if err != nil {
			p.logger.Debug().Err(err).Float64("t", t).Msg("seek failed")
		}
		if p.src != nil {
			_ = p.src.Close()
		}
		p.src = src
		if f != nil {
			p.frame.Release()
			p.frame = f
		}
		p.base = t
		p.wall = p.clock()
		p.seeking = false
	}()
}

// Seeking reports a seek in flight
func (p *DecodePlayer) Seeking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seeking
}

// Play starts the clock
func (p *DecodePlayer) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.playing {
		p.wall = p.clock()
		p.playing = true
	}
}

// Pause freezes the clock
func (p *DecodePlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playing {
		p.base = p.now()
		p.playing = false
	}
}

// Playing reports whether the clock runs
func (p *DecodePlayer) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// SetRate changes the playback rate keeping the current position
func (p *DecodePlayer) SetRate(rate float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.base = p.now()
	p.wall = p.clock()
	p.rate = rate
}

// Rate returns the playback rate
func (p *DecodePlayer) Rate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rate
}

// Ended reports playback past the source duration
func (p *DecodePlayer) Ended() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duration > 0 && p.now() >= p.duration
}

// Frame decodes up to the current position and returns the latest picture
func (p *DecodePlayer) Frame() image.Image {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	if !p.seeking && p.src == nil {
		src, err := p.open(context.Background())
		if err != nil {
			p.logger.Debug().Err(err).Msg("open failed")
			return nil
		}
		p.src = src
	}
	if !p.seeking && p.src != nil {
		f, err := p.src.FrameAt(context.Background(), p.now())
		if err == nil {
			p.frame.Release()
			p.frame = f
		}
	}
	if p.frame == nil {
		return nil
	}
	return p.frame.Image
}

// Close releases the source
func (p *DecodePlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.frame.Release()
	p.frame = nil
	if p.src != nil {
		return p.src.Close()
	}
	return nil
}
