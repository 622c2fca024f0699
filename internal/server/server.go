// Package server exposes frame resolution, still rendering and export jobs over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/kikiluvv/framecut/internal/export"
	"github.com/kikiluvv/framecut/internal/media"
	"github.com/kikiluvv/framecut/internal/render"
	"github.com/kikiluvv/framecut/internal/timeline"
	"github.com/rs/zerolog"
)

// Exporter starts export jobs
type Exporter interface {
	Start(ctx context.Context, tl *timeline.Timeline, cfg export.Config, fn export.ProgressFunc) *export.Job
}

var _ Exporter = (*export.Exporter)(nil)

// Options configure a Server
type Options struct {
	Addr string
	// MaxJobs caps concurrently running exports; 0 means unlimited.
	MaxJobs int
	// OutputDir receives finished exports. Requested filenames are confined to it.
	OutputDir string
	// Defaults fill export settings the request leaves empty.
	Defaults export.Config
	// Frames opens sources for still renders.
	Frames media.Opener
	Fonts  *render.FontRegistry
	// MediaRoot confines clip sources for frame and export requests.
	// Empty trusts every local path and URL in the request.
	MediaRoot string
	// AllowRemote admits http(s) sources when MediaRoot is set.
	AllowRemote bool
}

var errTooManyJobs = errors.New("too many running exports")

type Server struct {
	logger     zerolog.Logger
	opts       Options
	exporter   Exporter
	httpServer *http.Server
	started    time.Time

	// jobs outlive the request that created them
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.RWMutex
	jobs map[string]*export.Job
}

func New(logger zerolog.Logger, exporter Exporter, opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "."
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		logger:   logger.With().Str("component", "server").Logger(),
		opts:     opts,
		exporter: exporter,
		started:  time.Now(),
		ctx:      ctx,
		cancel:   cancel,
		jobs:     make(map[string]*export.Job),
	}
	s.httpServer = &http.Server{
		Addr:         opts.Addr,
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start serves until Shutdown
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("starting HTTP server")
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, aborts running exports and waits for them
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")
	err := s.httpServer.Shutdown(ctx)

	s.cancel()
	for _, job := range s.list() {
		select {
		case <-job.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// startJob launches an export unless MaxJobs are already running
func (s *Server) startJob(tl *timeline.Timeline, cfg export.Config) (*export.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.MaxJobs > 0 {
		n := 0
		for _, j := range s.jobs {
			if !j.Step().Terminal() {
				n++
			}
		}
		if n >= s.opts.MaxJobs {
			return nil, errTooManyJobs
		}
	}

	job := s.exporter.Start(s.ctx, tl, cfg, nil)
	s.jobs[job.ID] = job
	s.logger.Info().Str("job", job.ID).Str("output", cfg.Output).Msg("export started")
	return job, nil
}

func (s *Server) get(id string) *export.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobs[id]
}

// list returns jobs oldest first
func (s *Server) list() []*export.Job {
	s.mu.RLock()
	jobs := make([]*export.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.RUnlock()

	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].Created.Before(jobs[k].Created)
	})
	return jobs
}
