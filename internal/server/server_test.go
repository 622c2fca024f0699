package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kikiluvv/framecut/internal/audio"
	"github.com/kikiluvv/framecut/internal/export"
	"github.com/kikiluvv/framecut/internal/media"
	"github.com/kikiluvv/framecut/internal/render"
	"github.com/kikiluvv/framecut/internal/timeline"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend writes placeholder files. With a gate, every frame waits for
// the gate or the job context.
type fakeBackend struct {
	gate chan struct{}
}

func (b *fakeBackend) NewVideoEncoder(ctx context.Context, path string, _ export.VideoSettings) (export.VideoEncoder, error) {
	if err := os.WriteFile(path, []byte("video"), 0644); err != nil {
		return nil, err
	}
	return &fakeVideo{ctx: ctx, gate: b.gate}, nil
}

func (b *fakeBackend) NewAudioEncoder(_ context.Context, path string, _ export.AudioSettings) (export.AudioEncoder, error) {
	if err := os.WriteFile(path, []byte("audio"), 0644); err != nil {
		return nil, err
	}
	return fakeAudio{}, nil
}

func (b *fakeBackend) Mux(_ context.Context, video, audio, output string) error {
	v, err := os.ReadFile(video)
	if err != nil {
		return err
	}
	a, err := os.ReadFile(audio)
	if err != nil {
		return err
	}
	return os.WriteFile(output, append(v, a...), 0644)
}

type fakeVideo struct {
	ctx  context.Context
	gate chan struct{}
}

func (v *fakeVideo) Encode(*image.RGBA, float64, float64) error {
	if v.gate == nil {
		return nil
	}
	select {
	case <-v.gate:
	case <-v.ctx.Done():
	}
	return nil
}

func (v *fakeVideo) Close() error { return nil }

type fakeAudio struct{}

func (fakeAudio) Encode(audio.Chunk) error { return nil }
func (fakeAudio) Close() error             { return nil }

type harness struct {
	server *Server
	router http.Handler
	dir    string
	body   []byte
}

func newHarness(t *testing.T, backend *fakeBackend, maxJobs int) *harness {
	t.Helper()
	dir := t.TempDir()

	img := image.NewRGBA(image.Rect(0, 0, 16, 9))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
		img.Pix[i+3] = 255
	}
	src := filepath.Join(dir, "red.png")
	f, err := os.Create(src)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	tl := timeline.New(64, 36)
	tl.AddTrack(timeline.TrackVideo).Add(timeline.NewClip(timeline.ClipImage, src, 0, 0.5))
	tl.RecomputeDuration()
	var buf bytes.Buffer
	require.NoError(t, tl.Encode(&buf))

	exp := export.New(zerolog.Nop(), backend, nil, nil)
	s := New(zerolog.Nop(), exp, Options{
		MaxJobs:   maxJobs,
		OutputDir: filepath.Join(dir, "out"),
		Defaults:  export.Config{FPS: 10, TempDir: filepath.Join(dir, "tmp")},
		Frames:    &media.Router{},
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Shutdown(ctx)
	})

	return &harness{server: s, router: s.Router(), dir: dir, body: buf.Bytes()}
}

func (h *harness) do(method, target string, body []byte) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	h.router.ServeHTTP(rr, req)
	return rr
}

func (h *harness) exportBody(t *testing.T, filename string) []byte {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"timeline": json.RawMessage(h.body),
		"config":   map[string]any{"filename": filename},
	})
	require.NoError(t, err)
	return data
}

func (h *harness) startExport(t *testing.T, filename string) string {
	t.Helper()
	rr := h.do(http.MethodPost, "/api/exports", h.exportBody(t, filename))
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	var resp ExportResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.JobID)
	return resp.JobID
}

func (h *harness) wait(t *testing.T, id string) {
	t.Helper()
	job := h.server.get(id)
	require.NotNil(t, job)
	select {
	case <-job.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("export did not finish")
	}
}

func TestHealth(t *testing.T) {
	h := newHarness(t, &fakeBackend{}, 0)

	rr := h.do(http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestResolve(t *testing.T) {
	h := newHarness(t, &fakeBackend{}, 0)

	rr := h.do(http.MethodPost, "/api/resolve?t=0.25", h.body)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var fs struct {
		Time       float64          `json:"time"`
		Layers     []map[string]any `json:"layers"`
		HasVisible bool             `json:"hasVisible"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &fs))
	assert.Equal(t, 0.25, fs.Time)
	assert.Len(t, fs.Layers, 1)
	assert.True(t, fs.HasVisible)

	rr = h.do(http.MethodPost, "/api/resolve?t=2", h.body)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &fs))
	assert.Empty(t, fs.Layers)
}

func TestResolve_BadInput(t *testing.T) {
	h := newHarness(t, &fakeBackend{}, 0)

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/api/resolve?t=abc", h.body).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/api/resolve?t=-1", h.body).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/api/resolve", []byte("{")).Code)
}

func TestFrame(t *testing.T) {
	h := newHarness(t, &fakeBackend{}, 0)

	rr := h.do(http.MethodPost, "/api/frame?t=0.1&width=32&height=18", h.body)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "image/png", rr.Header().Get("Content-Type"))

	img, err := png.Decode(rr.Body)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 32, 18), img.Bounds())

	c := color.RGBAModel.Convert(img.At(16, 9)).(color.RGBA)
	assert.Equal(t, uint8(255), c.R)
	assert.Equal(t, uint8(0), c.G)
}

func TestFrame_DefaultHeightFollowsCanvas(t *testing.T) {
	h := newHarness(t, &fakeBackend{}, 0)

	rr := h.do(http.MethodPost, "/api/frame?width=128", h.body)
	require.Equal(t, http.StatusOK, rr.Code)
	cfg, err := png.DecodeConfig(rr.Body)
	require.NoError(t, err)
	assert.Equal(t, 128, cfg.Width)
	assert.Equal(t, 72, cfg.Height)

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/api/frame?width=0", h.body).Code)
}

func TestFrame_ConcurrentTextRequests(t *testing.T) {
	h := newHarness(t, &fakeBackend{}, 0)
	h.server.opts.Fonts = render.NewFontRegistry()

	tl := timeline.New(640, 360)
	c := timeline.NewClip(timeline.ClipText, "", 0, 1)
	c.Text = timeline.NewText("shared fonts")
	tl.AddTrack(timeline.TrackText).Add(c)
	tl.RecomputeDuration()
	var buf bytes.Buffer
	require.NoError(t, tl.Encode(&buf))
	body := buf.Bytes()

	var wg sync.WaitGroup
	codes := make([]int, 6)
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = h.do(http.MethodPost, "/api/frame?t=0.5", body).Code
		}(i)
	}
	wg.Wait()
	for _, code := range codes {
		assert.Equal(t, http.StatusOK, code)
	}
}

func TestCheckSource(t *testing.T) {
	root := t.TempDir()
	cases := []struct {
		name   string
		source string
		remote bool
		ok     bool
	}{
		{"inside root", filepath.Join(root, "clips", "a.mp4"), false, true},
		{"file url inside root", "file://" + filepath.Join(root, "a.png"), false, true},
		{"outside root", filepath.Join(filepath.Dir(root), "other.mp4"), false, false},
		{"dot dot escape", filepath.Join(root, "..", "x.mp4"), false, false},
		{"remote disabled", "https://example.com/a.png", false, false},
		{"remote allowed", "https://example.com/a.png", true, true},
		{"ffmpeg protocol", "concat:" + filepath.Join(root, "a.mp4"), true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &Server{opts: Options{MediaRoot: root, AllowRemote: tc.remote}}
			err := s.checkSource(root, tc.source)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestMediaRootConfinesRequests(t *testing.T) {
	h := newHarness(t, &fakeBackend{}, 0)

	h.server.opts.MediaRoot = h.dir
	rr := h.do(http.MethodPost, "/api/frame?t=0.1&width=32", h.body)
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	h.server.opts.MediaRoot = t.TempDir()
	rr = h.do(http.MethodPost, "/api/frame?t=0.1&width=32", h.body)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "SOURCE_NOT_ALLOWED", resp.Code)

	rr = h.do(http.MethodPost, "/api/exports", h.exportBody(t, "blocked.mp4"))
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Empty(t, h.server.list())
}

func TestExportLifecycle(t *testing.T) {
	h := newHarness(t, &fakeBackend{}, 0)

	id := h.startExport(t, "final.mp4")
	h.wait(t, id)

	rr := h.do(http.MethodGet, "/api/exports/"+id, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var snap export.Snapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	assert.Equal(t, export.StateCompleted, snap.State)
	assert.Equal(t, 1.0, snap.Progress)
	assert.Equal(t, filepath.Join(h.dir, "out", "final.mp4"), snap.Output)

	rr = h.do(http.MethodGet, "/api/exports/"+id+"/download", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "videoaudio", rr.Body.String())
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "final.mp4")

	rr = h.do(http.MethodGet, "/api/exports", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list JobsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list.Jobs, 1)
	assert.Equal(t, id, list.Jobs[0].ID)

	assert.Equal(t, http.StatusConflict, h.do(http.MethodDelete, "/api/exports/"+id, nil).Code)
}

func TestExportCancelAndJobLimit(t *testing.T) {
	h := newHarness(t, &fakeBackend{gate: make(chan struct{})}, 1)

	id := h.startExport(t, "first.mp4")

	rr := h.do(http.MethodPost, "/api/exports", h.exportBody(t, "second.mp4"))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)

	rr = h.do(http.MethodGet, "/api/exports/"+id+"/download", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = h.do(http.MethodDelete, "/api/exports/"+id, nil)
	assert.Equal(t, http.StatusAccepted, rr.Code)
	h.wait(t, id)

	job := h.server.get(id)
	assert.Equal(t, export.StateAborted, job.Step())
	assert.NoError(t, job.Err())
	assert.NoFileExists(t, filepath.Join(h.dir, "out", "first.mp4"))

	// the slot is free again
	h.startExport(t, "third.mp4")
}

func TestExport_BadRequests(t *testing.T) {
	h := newHarness(t, &fakeBackend{}, 0)

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/api/exports", []byte("nope")).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/api/exports", []byte(`{"config":{}}`)).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/api/exports", h.exportBody(t, "../escape.mp4")).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/api/exports", h.exportBody(t, "nested/out.mp4")).Code)

	invalid := []byte(`{"timeline":{"width":64,"height":36,"duration":1,"tracks":[{"id":"t","kind":"video","clips":[{"id":"c","type":"image","source":"x.png","startTime":0,"duration":0}]}]},"config":{}}`)
	rr := h.do(http.MethodPost, "/api/exports", invalid)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &e))
	assert.Equal(t, "INVALID_TIMELINE", e.Code)
}

func TestExport_NotFound(t *testing.T) {
	h := newHarness(t, &fakeBackend{}, 0)

	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/api/exports/missing", nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodDelete, "/api/exports/missing", nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/api/exports/missing/download", nil).Code)
}

func TestExportConfig_DefaultsAndExtension(t *testing.T) {
	h := newHarness(t, &fakeBackend{}, 0)

	cfg, err := h.server.exportConfig(export.Config{Output: "clip", Width: 720})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(h.dir, "out", "clip.mp4"), cfg.Output)
	assert.Equal(t, 720, cfg.Width)
	assert.Equal(t, 10.0, cfg.FPS)
}

func TestShutdownAbortsRunningExports(t *testing.T) {
	h := newHarness(t, &fakeBackend{gate: make(chan struct{})}, 0)
	id := h.startExport(t, "slow.mp4")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.server.Shutdown(ctx))

	assert.Equal(t, export.StateAborted, h.server.get(id).Step())
}

func TestRecoverer(t *testing.T) {
	h := newHarness(t, &fakeBackend{}, 0)

	r := h.server.Router()
	r.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("boom") })

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}
