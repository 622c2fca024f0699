// Package preview drives the live, frame-droppable render loop: a clock
// advances the playhead, free-running players are reconciled against the
// resolved frame state, and the frame is painted onto a downscaled surface.
package preview

import (
	"context"
	"image"
	"math"
	"sync"
	"time"

	"github.com/kikiluvv/framecut/internal/media"
	"github.com/kikiluvv/framecut/internal/render"
	"github.com/kikiluvv/framecut/internal/resolver"
	"github.com/kikiluvv/framecut/internal/timeline"
	"github.com/rs/zerolog"
)

// Defaults applied to zero Options fields
const (
	DefaultFPS      = 30.0
	DefaultMaxWidth = 960
)

// Players unused for this many renders are closed
const idleRenders = 120

// Options tune a preview session
type Options struct {
	FPS        float64
	MaxWidth   int
	Tolerances media.Tolerances
	// HighQuality trades preview speed for export-grade resampling.
	HighQuality bool
	Fonts       *render.FontRegistry
	Clock       media.Clock
	// OnFrame receives every rendered surface while the session is locked; it
	// must not call back into the session. The surface is reused on the next render.
	OnFrame func(surface *image.RGBA, fs *resolver.FrameState)
}

// Stats count what happened to ticks
type Stats struct {
	Rendered int64 `json:"rendered"`
	// Dropped ticks arrived while the previous render was still over budget.
	Dropped int64 `json:"dropped"`
	// Skipped ticks would have repainted an identical frame.
	Skipped int64 `json:"skipped"`
}

type frameKey struct {
	t       float64
	rev     int64
	playing bool
}

// Session owns the live player pool and the playhead
type Session struct {
	logger zerolog.Logger
	pool   *media.LivePool
	opts   Options

	mu       sync.Mutex
	tl       *timeline.Timeline
	rev      int64
	playing  bool
	speed    float64
	position float64
	anchor   time.Time
	surface  *image.RGBA
	last     frameKey
	rendered bool
	dirty    bool
	nextDue  time.Time
	stats    Stats
}

// New creates a session for tl. factory opens a player per source.
func New(logger zerolog.Logger, factory media.PlayerFactory, tl *timeline.Timeline, opts Options) *Session {
	if opts.FPS <= 0 {
		opts.FPS = DefaultFPS
	}
	if opts.MaxWidth <= 0 {
		opts.MaxWidth = DefaultMaxWidth
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Fonts == nil {
		opts.Fonts = render.NewFontRegistry()
	} else {
		opts.Fonts = opts.Fonts.Fork()
	}
	if tl == nil {
		tl = timeline.New(0, 0)
	}

	logger = logger.With().Str("component", "preview").Logger()
	s := &Session{
		logger: logger,
		pool:   media.NewLivePool(logger, factory, opts.Tolerances),
		opts:   opts,
		speed:  1,
		anchor: opts.Clock(),
	}
	s.setTimeline(tl)
	return s
}

// DecodeFactory builds players that decode in wall-clock order through router
func DecodeFactory(logger zerolog.Logger, router *media.Router, clock media.Clock) media.PlayerFactory {
	return func(ctx context.Context, key media.Key) (media.Player, error) {
		open := func(ctx context.Context) (media.Source, error) {
			return router.Open(ctx, key)
		}
		return media.NewDecodePlayer(logger.With().Str("source", key.Source).Logger(), open, 0, clock), nil
	}
}

// SetTimeline swaps the timeline snapshot. The next tick always renders.
func (s *Session) SetTimeline(tl *timeline.Timeline) {
	if tl == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setTimeline(tl)
	s.position = math.Min(s.position, s.duration())
}

func (s *Session) setTimeline(tl *timeline.Timeline) {
	s.tl = tl
	s.rev++

	w, h := s.surfaceSize()
	if s.surface == nil || s.surface.Rect.Dx() != w || s.surface.Rect.Dy() != h {
		s.surface = image.NewRGBA(image.Rect(0, 0, w, h))
	}
}

func (s *Session) surfaceSize() (int, int) {
	editW, editH := s.tl.Canvas()
	w := min(editW, s.opts.MaxWidth)
	return w, max(1, w*editH/editW)
}

func (s *Session) duration() float64 {
	if s.tl.Duration > 0 {
		return s.tl.Duration
	}
	return s.tl.ContentEnd()
}

// positionAt returns the playhead at now, stopping playback at the end
func (s *Session) positionAt(now time.Time) float64 {
	if !s.playing {
		return s.position
	}
	t := s.position + now.Sub(s.anchor).Seconds()*s.speed
	if d := s.duration(); t >= d {
		s.position = d
		s.playing = false
		return d
	}
	return math.Max(0, t)
}

// Play starts playback from the playhead, rewinding when it sits at the end
func (s *Session) Play() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playing {
		return
	}
	if s.position >= s.duration() {
		s.position = 0
	}
	s.anchor = s.opts.Clock()
	s.playing = true
}

// Pause freezes the playhead
func (s *Session) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.position = s.positionAt(s.opts.Clock())
	s.playing = false
}

// Seek moves the playhead to t, clamped to the timeline
func (s *Session) Seek(t float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.position = math.Max(0, math.Min(t, s.duration()))
	s.anchor = s.opts.Clock()
}

// SetSpeed changes the playback rate, keeping the playhead
func (s *Session) SetSpeed(speed float64) {
	if speed <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.opts.Clock()
	s.position = s.positionAt(now)
	s.anchor = now
	s.speed = speed
}

// Time returns the current playhead
func (s *Session) Time() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positionAt(s.opts.Clock())
}

// Playing reports whether playback runs
func (s *Session) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// Revision counts timeline swaps
func (s *Session) Revision() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rev
}

// Stats returns tick counters
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Snapshot returns a copy of the last rendered surface
func (s *Session) Snapshot() *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := image.NewRGBA(s.surface.Rect)
	copy(out.Pix, s.surface.Pix)
	return out
}

// Tick renders the frame for now unless the loop is over budget or the frame
// would be identical to the last one. It reports whether a frame was rendered.
func (s *Session) Tick(ctx context.Context, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.nextDue.IsZero() && now.Before(s.nextDue) {
		s.stats.Dropped++
		return false
	}

	t := s.positionAt(now)
	key := frameKey{t: t, rev: s.rev, playing: s.playing}
	if s.rendered && key == s.last && !s.dirty {
		s.stats.Skipped++
		return false
	}

	fs := resolver.Resolve(s.tl, t, resolver.Settings{OutputWidth: s.surface.Rect.Dx()})
	s.pool.Sync(ctx, &fs, s.playing, s.speed)

	start := s.opts.Clock()
	render.Render(s.surface, &fs, render.Options{
		HighQuality: s.opts.HighQuality,
		Frames:      s.pool,
		Fonts:       s.opts.Fonts,
	})
	if s.opts.OnFrame != nil {
		s.opts.OnFrame(s.surface, &fs)
	}
	elapsed := s.opts.Clock().Sub(start)

	s.pool.Sweep(idleRenders)
	s.stats.Rendered++
	s.last = key
	s.rendered = true
	// players still landing a seek will show a different picture next time
	s.dirty = s.pool.Seeking()

	budget := time.Duration(float64(time.Second) / s.opts.FPS)
	if elapsed > budget {
		s.nextDue = now.Add(elapsed)
		s.logger.Debug().
			Dur("elapsed", elapsed).
			Dur("budget", budget).
			Msg("render over budget, dropping ticks")
	} else {
		s.nextDue = time.Time{}
	}
	return true
}

// Run ticks at the preview frame rate until ctx ends
func (s *Session) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(float64(time.Second) / s.opts.FPS))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			s.Tick(ctx, now)
		}
	}
}

// Close releases every player
func (s *Session) Close() error {
	return s.pool.Close()
}
