package export

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kikiluvv/framecut/internal/audio"
	"github.com/kikiluvv/framecut/internal/media"
	"github.com/kikiluvv/framecut/internal/render"
	"github.com/kikiluvv/framecut/internal/resolver"
	"github.com/kikiluvv/framecut/internal/timeline"
	"github.com/kikiluvv/framecut/pkg/util"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Defaults applied to zero Config fields
const (
	DefaultFPS          = 30.0
	DefaultYieldEvery   = 10
	DefaultAudioBitrate = 192_000
)

// Handles unused for this many frames are closed during export
const handleIdleFrames = 90

// Share of the progress bar given to each step
var stepWeights = map[State][2]float64{
	StateRenderingVideo: {0, 0.85},
	StateRenderingAudio: {0.85, 0.9},
	StateEncodingAudio:  {0.9, 0.97},
	StateFinalizing:     {0.97, 1},
}

// Config describes one export job
type Config struct {
	Width   int     `json:"width" yaml:"width"`
	Height  int     `json:"height" yaml:"height"`
	FPS     float64 `json:"fps" yaml:"fps"`
	Bitrate int64   `json:"bitrate" yaml:"bitrate"`
	// Output is the final file path. Nothing is written there unless the job completes.
	Output  string `json:"filename" yaml:"filename"`
	HWAccel string `json:"hwaccel,omitempty" yaml:"hwaccel"`
	// TempDir holds intermediate files; empty means the output directory.
	TempDir    string `json:"-" yaml:"temp_dir"`
	YieldEvery int    `json:"-" yaml:"yield_every"`

	SampleRate      int     `json:"sampleRate,omitempty" yaml:"sample_rate"`
	Channels        int     `json:"channels,omitempty" yaml:"channels"`
	FrameSize       int     `json:"-" yaml:"frame_size"`
	AudioBitrate    int64   `json:"audioBitrate,omitempty" yaml:"audio_bitrate"`
	DecodeTolerance float64 `json:"-" yaml:"decode_tolerance"`
}

func (c Config) withDefaults(tl *timeline.Timeline) Config {
	if c.Width <= 0 || c.Height <= 0 {
		w, h := tl.Canvas()
		if c.Width <= 0 && c.Height <= 0 {
			c.Width, c.Height = w, h
		} else if c.Width <= 0 {
			c.Width = max(2, c.Height*w/h)
		} else {
			c.Height = max(2, c.Width*h/w)
		}
	}
	// yuv420p needs even dimensions
	c.Width += c.Width % 2
	c.Height += c.Height % 2
	if c.FPS <= 0 {
		c.FPS = DefaultFPS
	}
	if c.YieldEvery <= 0 {
		c.YieldEvery = DefaultYieldEvery
	}
	if c.SampleRate <= 0 {
		c.SampleRate = audio.DefaultSampleRate
	}
	if c.Channels <= 0 {
		c.Channels = audio.DefaultChannels
	}
	if c.FrameSize <= 0 {
		c.FrameSize = audio.DefaultFrameSize
	}
	if c.AudioBitrate <= 0 {
		c.AudioBitrate = DefaultAudioBitrate
	}
	if c.TempDir == "" {
		c.TempDir = filepath.Dir(c.Output)
	}
	return c
}

// Option configures an Exporter
type Option func(*Exporter)

// WithFonts sets the registry used for text layers
func WithFonts(fonts *render.FontRegistry) Option {
	return func(e *Exporter) { e.fonts = fonts }
}

// WithAlpha enables a segmentation pre-pass for background-removed layers
func WithAlpha(alpha render.AlphaSource) Option {
	return func(e *Exporter) { e.alpha = alpha }
}

// WithProgressInterval sets the minimum spacing between progress callbacks
func WithProgressInterval(d time.Duration) Option {
	return func(e *Exporter) { e.interval = d }
}

// Exporter runs export jobs against an encoding backend
type Exporter struct {
	logger   zerolog.Logger
	backend  Backend
	streams  media.StreamOpener
	loader   audio.Loader
	fonts    *render.FontRegistry
	alpha    render.AlphaSource
	interval time.Duration
}

// New creates an exporter. streams decodes video sources and loader decodes audio.
func New(logger zerolog.Logger, backend Backend, streams media.StreamOpener, loader audio.Loader, opts ...Option) *Exporter {
	e := &Exporter{
		logger:   logger.With().Str("component", "export").Logger(),
		backend:  backend,
		streams:  streams,
		loader:   loader,
		interval: 250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.fonts == nil {
		e.fonts = render.NewFontRegistry()
	}
	if e.loader == nil {
		e.loader = noAudio{}
	}
	return e
}

// Start launches the job on its own goroutine and returns immediately
func (e *Exporter) Start(ctx context.Context, tl *timeline.Timeline, cfg Config, fn ProgressFunc) *Job {
	job := e.newJob(ctx, cfg, fn)
	go e.run(job, tl)
	return job
}

// Run executes the job on the calling goroutine. A cancelled job returns
// ErrAborted; a failed one returns its StepError.
func (e *Exporter) Run(ctx context.Context, tl *timeline.Timeline, cfg Config, fn ProgressFunc) (*Job, error) {
	job := e.newJob(ctx, cfg, fn)
	e.run(job, tl)
	if job.Step() == StateAborted {
		return job, ErrAborted
	}
	return job, job.Err()
}

func (e *Exporter) newJob(ctx context.Context, cfg Config, fn ProgressFunc) *Job {
	ctx, cancel := context.WithCancel(ctx)
	id := uuid.NewString()
	limit := rate.Inf
	if e.interval > 0 {
		limit = rate.Every(e.interval)
	}
	return &Job{
		ID:         id,
		config:     cfg,
		Created:    time.Now(),
		logger:     e.logger.With().Str("job", id).Logger(),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		state:      StateIdle,
		onProgress: fn,
		limiter:    rate.NewLimiter(limit, 1),
	}
}

func (e *Exporter) run(job *Job, tl *timeline.Timeline) {
	defer close(job.done)
	defer job.cancel()

	start := time.Now()
	output, err := e.safeExport(job, tl)

	switch {
	case err == nil:
		job.complete(output)
		job.logger.Info().
			Str("output", output).
			Dur("elapsed", time.Since(start)).
			Msg("export complete")
	case job.ctx.Err() != nil:
		job.abort()
		job.logger.Info().Str("step", string(job.lastStep())).Msg("export aborted")
	default:
		var se *StepError
		if !errors.As(err, &se) {
			se = &StepError{Step: job.Step(), Err: err}
		}
		job.fail(se)
		job.logger.Error().Err(se.Err).Str("step", string(se.Step)).Msg("export failed")
	}
}

// safeExport turns a panic in any step into that step's failure
func (e *Exporter) safeExport(job *Job, tl *timeline.Timeline) (output string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &StepError{Step: job.Step(), Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return e.export(job, tl)
}

func (e *Exporter) export(job *Job, tl *timeline.Timeline) (string, error) {
	ctx := job.ctx
	job.transition(StateInitializing)

	if tl == nil {
		return "", &StepError{Step: StateInitializing, Err: errors.New("no timeline")}
	}
	if job.config.Output == "" {
		return "", &StepError{Step: StateInitializing, Err: errors.New("output filename is required")}
	}

	snap := *tl
	if snap.Duration <= 0 {
		snap.Duration = snap.ContentEnd()
	}
	if snap.Duration <= 0 {
		return "", &StepError{Step: StateInitializing, Err: errors.New("timeline is empty")}
	}

	cfg := job.config.withDefaults(&snap)
	job.setConfig(cfg)

	if err := util.EnsureDir(cfg.TempDir); err != nil {
		return "", &StepError{Step: StateInitializing, Err: err}
	}
	work, err := os.MkdirTemp(cfg.TempDir, ".framecut-export-")
	if err != nil {
		return "", &StepError{Step: StateInitializing, Err: fmt.Errorf("failed to create work dir: %w", err)}
	}
	defer os.RemoveAll(work)

	videoPath := filepath.Join(work, "video.mp4")
	audioPath := filepath.Join(work, "audio.m4a")
	muxPath := filepath.Join(work, "output"+filepath.Ext(cfg.Output))

	job.logger.Info().
		Int("width", cfg.Width).
		Int("height", cfg.Height).
		Float64("fps", cfg.FPS).
		Float64("duration", snap.Duration).
		Str("output", cfg.Output).
		Msg("starting export")

	pool := media.NewPool(job.logger, &media.Router{
		Streams: e.streams,
		Decoder: media.DecoderOptions{Tolerance: cfg.DecodeTolerance},
	}, media.ClipKey)

	err = e.renderVideo(job, &snap, cfg, pool, videoPath)
	_ = pool.Close()
	job.outstanding.Store(pool.Outstanding())
	if err != nil {
		return "", err
	}

	if err := e.renderAudio(job, &snap, cfg, audioPath); err != nil {
		return "", err
	}

	job.transition(StateFinalizing)
	if err := e.backend.Mux(ctx, videoPath, audioPath, muxPath); err != nil {
		return "", &StepError{Step: StateFinalizing, Err: fmt.Errorf("mux failed: %w", err)}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := util.EnsureDir(filepath.Dir(cfg.Output)); err != nil {
		return "", &StepError{Step: StateFinalizing, Err: err}
	}
	if err := util.MoveFile(muxPath, cfg.Output); err != nil {
		return "", &StepError{Step: StateFinalizing, Err: err}
	}
	job.report(StateFinalizing, 1, 0, 0)
	return cfg.Output, nil
}

func (e *Exporter) renderVideo(job *Job, tl *timeline.Timeline, cfg Config, pool *media.Pool, path string) error {
	ctx := job.ctx
	job.transition(StateRenderingVideo)

	profile := ChooseProfile(cfg.Width, cfg.Height, cfg.FPS)
	if cfg.Bitrate > 0 {
		profile.Bitrate = cfg.Bitrate
	}

	enc, err := e.backend.NewVideoEncoder(ctx, path, VideoSettings{
		Width:   cfg.Width,
		Height:  cfg.Height,
		FPS:     cfg.FPS,
		Bitrate: profile.Bitrate,
		Profile: profile,
		HWAccel: cfg.HWAccel,
	})
	if err != nil {
		return &StepError{Step: StateRenderingVideo, Err: fmt.Errorf("failed to open video encoder: %w", err)}
	}
	defer func() {
		if r := recover(); r != nil {
			_ = enc.Close()
			panic(r)
		}
	}()

	surface := image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height))
	settings := resolver.Settings{OutputWidth: cfg.Width, OutputHeight: cfg.Height}
	opts := render.Options{
		HighQuality: true,
		Fonts:       e.fonts.Fork(),
		Alpha:       e.alpha,
	}

	it := NewFrameIterator(ctx, tl.Duration, cfg.FPS)
	total := it.Total()
	for {
		tick, ok := it.Next()
		if !ok {
			break
		}

		fs := resolver.Resolve(tl, tick.PTS, settings)
		batch := pool.Batch(ctx)
		opts.Frames = batch
		render.Render(surface, &fs, opts)
		err := enc.Encode(surface, tick.PTS, tick.Duration)
		batch.Release()
		pool.Sweep(handleIdleFrames)

		if err != nil {
			_ = enc.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &StepError{Step: StateRenderingVideo, Err: fmt.Errorf("frame %d: %w", tick.Index, err)}
		}

		job.report(StateRenderingVideo, float64(tick.Index+1)/float64(total), tick.Index+1, total)
		if (tick.Index+1)%cfg.YieldEvery == 0 {
			runtime.Gosched()
		}
	}

	if err := it.Err(); err != nil {
		_ = enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return &StepError{Step: StateRenderingVideo, Err: fmt.Errorf("failed to flush video: %w", err)}
	}
	return nil
}

func (e *Exporter) renderAudio(job *Job, tl *timeline.Timeline, cfg Config, path string) error {
	ctx := job.ctx
	job.transition(StateRenderingAudio)

	mixer := audio.NewMixer(job.logger, e.loader, cfg.SampleRate, cfg.Channels)
	buf, err := mixer.Render(ctx, tl)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &StepError{Step: StateRenderingAudio, Err: err}
	}
	job.report(StateRenderingAudio, 1, 0, 0)

	job.transition(StateEncodingAudio)
	enc, err := e.backend.NewAudioEncoder(ctx, path, AudioSettings{
		SampleRate: cfg.SampleRate,
		Channels:   cfg.Channels,
		Bitrate:    cfg.AudioBitrate,
	})
	if err != nil {
		return &StepError{Step: StateEncodingAudio, Err: fmt.Errorf("failed to open audio encoder: %w", err)}
	}

	chunks := audio.Chunks(buf, cfg.FrameSize)
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			_ = enc.Close()
			return err
		}
		if err := enc.Encode(chunk); err != nil {
			_ = enc.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &StepError{Step: StateEncodingAudio, Err: fmt.Errorf("chunk %d: %w", i, err)}
		}
		job.report(StateEncodingAudio, float64(i+1)/float64(len(chunks)), 0, 0)
	}

	if err := enc.Close(); err != nil {
		return &StepError{Step: StateEncodingAudio, Err: fmt.Errorf("failed to flush audio: %w", err)}
	}
	return nil
}

// Job is a running or finished export
type Job struct {
	ID      string
	Created time.Time

	logger     zerolog.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	onProgress ProgressFunc
	limiter    *rate.Limiter

	mu       sync.RWMutex
	config   Config
	state    State
	last     State
	progress float64
	frame    int
	total    int
	err      *StepError
	output   string

	outstanding atomic.Int64
}

// Cancel requests an abort; it is observed at the top of the next frame
func (j *Job) Cancel() {
	j.cancel()
}

// Done is closed when the job reaches a terminal state
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job finishes or ctx ends
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return j.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Step returns the current state
func (j *Job) Step() State {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state
}

// Progress returns overall completion from 0 to 1
func (j *Job) Progress() float64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.progress
}

// Status returns a human-readable summary of the job
func (j *Job) Status() string {
	j.mu.RLock()
	defer j.mu.RUnlock()

	switch j.state {
	case StateFailed:
		return fmt.Sprintf("failed during %s: %v", j.err.Step, j.err.Err)
	case StateAborted:
		return fmt.Sprintf("aborted during %s", j.last)
	case StateCompleted:
		return "completed: " + j.output
	case StateRenderingVideo:
		return fmt.Sprintf("rendering video frame %d/%d (%.0f%%)", j.frame, j.total, j.progress*100)
	}
	return fmt.Sprintf("%s (%.0f%%)", j.state, j.progress*100)
}

// Err returns the terminal error of a failed job. Aborted jobs have none.
func (j *Job) Err() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.err == nil {
		return nil
	}
	return j.err
}

// Output returns the file path once the job completed
func (j *Job) Output() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.output
}

// Outstanding returns decoded frames not released when the video step ended
func (j *Job) Outstanding() int64 {
	return j.outstanding.Load()
}

// Snapshot is a serializable view of a job
type Snapshot struct {
	ID       string    `json:"id"`
	State    State     `json:"state"`
	Progress float64   `json:"progress"`
	Status   string    `json:"status"`
	Error    string    `json:"error,omitempty"`
	Output   string    `json:"output,omitempty"`
	Created  time.Time `json:"created"`
}

// Snapshot captures the job state
func (j *Job) Snapshot() Snapshot {
	s := Snapshot{
		ID:       j.ID,
		State:    j.Step(),
		Progress: j.Progress(),
		Status:   j.Status(),
		Output:   j.Output(),
		Created:  j.Created,
	}
	if err := j.Err(); err != nil {
		s.Error = err.Error()
	}
	return s
}

// Config returns the job configuration with defaults applied once the job started
func (j *Job) Config() Config {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.config
}

func (j *Job) setConfig(cfg Config) {
	j.mu.Lock()
	j.config = cfg
	j.mu.Unlock()
}

func (j *Job) lastStep() State {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.last
}

func (j *Job) transition(s State) {
	j.mu.Lock()
	j.state = s
	j.last = s
	if w, ok := stepWeights[s]; ok {
		j.progress = w[0]
	}
	j.mu.Unlock()

	j.logger.Debug().Str("step", string(s)).Msg("export step")
	j.notify(true)
}

// report records fractional progress within step s
func (j *Job) report(s State, frac float64, frame, total int) {
	w := stepWeights[s]
	j.mu.Lock()
	j.progress = w[0] + (w[1]-w[0])*frac
	if total > 0 {
		j.frame, j.total = frame, total
	}
	j.mu.Unlock()
	j.notify(false)
}

func (j *Job) notify(force bool) {
	if j.onProgress == nil {
		return
	}
	if !force && !j.limiter.Allow() {
		return
	}
	j.mu.RLock()
	u := Update{
		JobID:    j.ID,
		State:    j.state,
		Progress: j.progress,
		Frame:    j.frame,
		Total:    j.total,
	}
	j.mu.RUnlock()
	j.onProgress(u)
}

func (j *Job) complete(output string) {
	j.mu.Lock()
	j.state = StateCompleted
	j.progress = 1
	j.output = output
	j.mu.Unlock()
	j.notify(true)
}

func (j *Job) abort() {
	j.mu.Lock()
	j.state = StateAborted
	j.mu.Unlock()
	j.notify(true)
}

func (j *Job) fail(err *StepError) {
	j.mu.Lock()
	j.state = StateFailed
	j.err = err
	j.mu.Unlock()
	j.notify(true)
}

type noAudio struct{}

func (noAudio) LoadAudio(context.Context, string, int, int) (*audio.Buffer, error) {
	return nil, errors.New("no audio decoder configured")
}
