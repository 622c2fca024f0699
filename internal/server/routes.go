package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/kikiluvv/framecut/internal/export"
	"github.com/kikiluvv/framecut/internal/media"
	"github.com/kikiluvv/framecut/internal/render"
	"github.com/kikiluvv/framecut/internal/resolver"
	"github.com/kikiluvv/framecut/internal/timeline"
)

// maxBody bounds timeline request bodies
const maxBody = 32 << 20

type HealthResponse struct {
	Status  string `json:"status"`
	UptimeS int64  `json:"uptime_s"`
	Jobs    int    `json:"jobs"`
}

type ExportRequest struct {
	Timeline *timeline.Timeline `json:"timeline"`
	Config   export.Config      `json:"config"`
}

type ExportResponse struct {
	JobID string `json:"jobId"`
}

type JobsResponse struct {
	Jobs []export.Snapshot `json:"jobs"`
}

// Router builds the HTTP routes
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/resolve", s.handleResolve)
		r.Post("/frame", s.handleFrame)

		r.Post("/exports", s.handleCreateExport)
		r.Get("/exports", s.handleListExports)
		r.Get("/exports/{id}", s.handleGetExport)
		r.Delete("/exports/{id}", s.handleCancelExport)
		r.Get("/exports/{id}/download", s.handleDownload)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	n := len(s.jobs)
	s.mu.RUnlock()

	WriteJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		UptimeS: int64(time.Since(s.started).Seconds()),
		Jobs:    n,
	})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	tl, ok := decodeTimeline(w, r)
	if !ok {
		return
	}
	t, err := floatParam(r, "t", 0)
	if err != nil || t < 0 {
		WriteError(w, http.StatusBadRequest, "t must be a non-negative number", "BAD_REQUEST")
		return
	}

	fs := resolver.Resolve(tl, t, resolver.Settings{})
	WriteJSON(w, http.StatusOK, fs)
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	tl, ok := decodeTimeline(w, r)
	if !ok || !s.allowSources(w, tl) {
		return
	}
	t, err := floatParam(r, "t", 0)
	if err != nil || t < 0 {
		WriteError(w, http.StatusBadRequest, "t must be a non-negative number", "BAD_REQUEST")
		return
	}

	editW, editH := tl.Canvas()
	width, err1 := intParam(r, "width", editW)
	height, err2 := intParam(r, "height", 0)
	if err1 != nil || err2 != nil || width <= 0 || height < 0 || width > 8192 || height > 8192 {
		WriteError(w, http.StatusBadRequest, "invalid width or height", "BAD_REQUEST")
		return
	}
	if height == 0 {
		height = int(float64(width) * float64(editH) / float64(editW))
	}

	fs := resolver.Resolve(tl, t, resolver.Settings{OutputWidth: width, OutputHeight: height})

	surface := image.NewRGBA(image.Rect(0, 0, width, height))
	opts := render.Options{HighQuality: true}
	if s.opts.Fonts != nil {
		opts.Fonts = s.opts.Fonts.Fork()
	}
	if s.opts.Frames != nil {
		pool := media.NewPool(s.logger, s.opts.Frames, media.ClipKey)
		defer pool.Close()
		batch := pool.Batch(r.Context())
		defer batch.Release()
		opts.Frames = batch
	}
	render.Render(surface, &fs, opts)

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	if err := png.Encode(w, surface); err != nil {
		s.logger.Warn().Err(err).Msg("failed to write frame")
	}
}

func (s *Server) handleCreateExport(w http.ResponseWriter, r *http.Request) {
	var req ExportRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
		return
	}
	if req.Timeline == nil {
		WriteError(w, http.StatusBadRequest, "timeline is required", "BAD_REQUEST")
		return
	}
	if err := req.Timeline.Validate(); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error(), "INVALID_TIMELINE")
		return
	}
	if !s.allowSources(w, req.Timeline) {
		return
	}

	cfg, err := s.exportConfig(req.Config)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
		return
	}

	job, err := s.startJob(req.Timeline, cfg)
	if errors.Is(err, errTooManyJobs) {
		WriteError(w, http.StatusTooManyRequests, err.Error(), "TOO_MANY_JOBS")
		return
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		return
	}

	WriteJSON(w, http.StatusAccepted, ExportResponse{JobID: job.ID})
}

// exportConfig fills defaults and confines the output filename to OutputDir
func (s *Server) exportConfig(req export.Config) (export.Config, error) {
	cfg := s.opts.Defaults
	if req.Width > 0 {
		cfg.Width = req.Width
	}
	if req.Height > 0 {
		cfg.Height = req.Height
	}
	if req.FPS > 0 {
		cfg.FPS = req.FPS
	}
	if req.Bitrate > 0 {
		cfg.Bitrate = req.Bitrate
	}
	if req.HWAccel != "" {
		cfg.HWAccel = req.HWAccel
	}
	if req.SampleRate > 0 {
		cfg.SampleRate = req.SampleRate
	}
	if req.Channels > 0 {
		cfg.Channels = req.Channels
	}
	if req.AudioBitrate > 0 {
		cfg.AudioBitrate = req.AudioBitrate
	}

	name := req.Output
	if name == "" {
		name = fmt.Sprintf("export-%d.mp4", time.Now().UnixNano())
	}
	base := filepath.Base(filepath.Clean("/" + name))
	if base != name || base == "/" || base == "." {
		return cfg, fmt.Errorf("invalid filename %q", name)
	}
	if filepath.Ext(base) == "" {
		base += ".mp4"
	}
	cfg.Output = filepath.Join(s.opts.OutputDir, base)
	return cfg, nil
}

func (s *Server) handleListExports(w http.ResponseWriter, r *http.Request) {
	jobs := s.list()
	resp := JobsResponse{Jobs: make([]export.Snapshot, len(jobs))}
	for i, j := range jobs {
		resp.Jobs[i] = j.Snapshot()
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetExport(w http.ResponseWriter, r *http.Request) {
	job := s.get(chi.URLParam(r, "id"))
	if job == nil {
		WriteError(w, http.StatusNotFound, "export not found", "NOT_FOUND")
		return
	}
	WriteJSON(w, http.StatusOK, job.Snapshot())
}

func (s *Server) handleCancelExport(w http.ResponseWriter, r *http.Request) {
	job := s.get(chi.URLParam(r, "id"))
	if job == nil {
		WriteError(w, http.StatusNotFound, "export not found", "NOT_FOUND")
		return
	}
	if job.Step().Terminal() {
		WriteError(w, http.StatusConflict, "export already finished", "CONFLICT")
		return
	}

	job.Cancel()
	s.logger.Info().Str("job", job.ID).Msg("export cancel requested")
	WriteJSON(w, http.StatusAccepted, job.Snapshot())
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	job := s.get(chi.URLParam(r, "id"))
	if job == nil {
		WriteError(w, http.StatusNotFound, "export not found", "NOT_FOUND")
		return
	}
	if job.Step() != export.StateCompleted {
		WriteError(w, http.StatusConflict, "export is "+string(job.Step()), "NOT_READY")
		return
	}

	out := job.Output()
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(out)))
	http.ServeFile(w, r, out)
}

func decodeTimeline(w http.ResponseWriter, r *http.Request) (*timeline.Timeline, bool) {
	tl, err := timeline.Decode(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid timeline: "+err.Error(), "BAD_REQUEST")
		return nil, false
	}
	return tl, true
}

func floatParam(r *http.Request, name string, def float64) (float64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.ParseFloat(v, 64)
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
