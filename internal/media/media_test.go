package media

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kikiluvv/framecut/internal/resolver"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	fps      float64
	n        int
	duration float64
	closed   bool
}

func (s *fakeStream) Next() (*image.RGBA, float64, error) {
	pts := float64(s.n) / s.fps
	if pts >= s.duration {
		return nil, 0, io.EOF
	}
	s.n++
	return image.NewRGBA(image.Rect(0, 0, 2, 2)), pts, nil
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

type fakeStreams struct {
	mu       sync.Mutex
	fps      float64
	duration float64
	opens    []float64
	fail     bool
}

func (f *fakeStreams) OpenStream(ctx context.Context, source string, start float64) (Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("boom")
	}
	f.opens = append(f.opens, start)
	return &fakeStream{fps: f.fps, n: int(math.Floor(start * f.fps)), duration: f.duration}, nil
}

func TestDecoderMatchesWithinTolerance(t *testing.T) {
	streams := &fakeStreams{fps: 30, duration: 10}
	d := NewDecoder(streams, "a.mp4", DecoderOptions{})
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		want := float64(i) / 30
		f, err := d.FrameAt(ctx, want)
		require.NoError(t, err)
		assert.InDelta(t, want, f.PTS, 1e-9, "frame %d", i)
		f.Release()
	}
	assert.Len(t, streams.opens, 1)
	assert.Zero(t, d.Outstanding())
}

func TestDecoderPrefersNearerFollowingUnit(t *testing.T) {
	d := NewDecoder(&fakeStreams{fps: 30, duration: 10}, "a.mp4", DecoderOptions{})

	// 0.065 sits between 0.0333 and 0.0667; the later unit is nearer
	f, err := d.FrameAt(context.Background(), 0.065)
	require.NoError(t, err)
	assert.InDelta(t, 2.0/30, f.PTS, 1e-9)
	f.Release()
}

func TestDecoderHoldsLowFrameRateUnit(t *testing.T) {
	d := NewDecoder(&fakeStreams{fps: 2, duration: 10}, "slow.mp4", DecoderOptions{})
	ctx := context.Background()

	f, err := d.FrameAt(ctx, 0.2)
	require.NoError(t, err)
	assert.Equal(t, 0.0, f.PTS)
	f.Release()

	f, err = d.FrameAt(ctx, 0.49)
	require.NoError(t, err)
	assert.Equal(t, 0.5, f.PTS)
	f.Release()
}

func TestDecoderHoldsLastUnitPastEnd(t *testing.T) {
	d := NewDecoder(&fakeStreams{fps: 10, duration: 1}, "short.mp4", DecoderOptions{})
	ctx := context.Background()

	f, err := d.FrameAt(ctx, 0.5)
	require.NoError(t, err)
	f.Release()

	f, err = d.FrameAt(ctx, 1.5)
	require.NoError(t, err)
	assert.InDelta(t, 0.9, f.PTS, 1e-9)
	f.Release()
}

func TestDecoderRejectsBackwardRequests(t *testing.T) {
	d := NewDecoder(&fakeStreams{fps: 30, duration: 10}, "a.mp4", DecoderOptions{})
	ctx := context.Background()

	f, err := d.FrameAt(ctx, 1)
	require.NoError(t, err)
	f.Release()

	_, err = d.FrameAt(ctx, 0.5)
	assert.ErrorIs(t, err, ErrNonMonotonic)

	// jitter within tolerance is accepted
	f, err = d.FrameAt(ctx, 0.99)
	require.NoError(t, err)
	f.Release()
}

func TestDecoderRestartsOnLargeJump(t *testing.T) {
	streams := &fakeStreams{fps: 30, duration: 20}
	d := NewDecoder(streams, "a.mp4", DecoderOptions{})
	ctx := context.Background()

	f, err := d.FrameAt(ctx, 0)
	require.NoError(t, err)
	f.Release()

	f, err = d.FrameAt(ctx, 10)
	require.NoError(t, err)
	assert.InDelta(t, 10, f.PTS, 1.0/30)
	f.Release()

	assert.Equal(t, []float64{0, 10}, streams.opens)
}

func TestDecoderClosed(t *testing.T) {
	d := NewDecoder(&fakeStreams{fps: 30, duration: 1}, "a.mp4", DecoderOptions{})
	require.NoError(t, d.Close())
	_, err := d.FrameAt(context.Background(), 0)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFrameReleaseIdempotent(t *testing.T) {
	calls := 0
	f := NewFrame(nil, 0, func() { calls++ })
	f.Release()
	f.Release()
	assert.Equal(t, 1, calls)
}

func TestIsImage(t *testing.T) {
	assert.True(t, IsImage("a.PNG"))
	assert.True(t, IsImage("https://cdn/sticker.svg?v=2"))
	assert.False(t, IsImage("clip.mp4"))
}

func TestLoadImageFile(t *testing.T) {
	dir := t.TempDir()
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	img.Set(1, 1, color.RGBA{255, 0, 0, 255})

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	path := filepath.Join(dir, "still.png")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))

	src, err := LoadImage(context.Background(), "file://"+path)
	require.NoError(t, err)
	defer src.Close()

	f, err := src.FrameAt(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 3), f.Image.Bounds())
	assert.Equal(t, int64(1), src.Outstanding())
	f.Release()
	assert.Zero(t, src.Outstanding())
}

func TestLoadAnimatedGIF(t *testing.T) {
	pal := color.Palette{color.Black, color.White}
	g := &gif.GIF{}
	for i := 0; i < 2; i++ {
		fr := image.NewPaletted(image.Rect(0, 0, 2, 2), pal)
		if i == 1 {
			fr.SetColorIndex(0, 0, 1)
		}
		g.Image = append(g.Image, fr)
		g.Delay = append(g.Delay, 50)
		g.Disposal = append(g.Disposal, gif.DisposalNone)
	}

	var buf bytes.Buffer
	require.NoError(t, gif.EncodeAll(&buf, g))
	path := filepath.Join(t.TempDir(), "anim.gif")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))

	src, err := LoadImage(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 2, src.Frames())

	f, err := src.FrameAt(context.Background(), 0.6)
	require.NoError(t, err)
	r, _, _, _ := f.Image.At(0, 0).RGBA()
	assert.Equal(t, uint32(0xffff), r)
	f.Release()

	// loops after one second
	f, err = src.FrameAt(context.Background(), 1.1)
	require.NoError(t, err)
	r, _, _, _ = f.Image.At(0, 0).RGBA()
	assert.Zero(t, r)
	f.Release()
}

func TestPoolBatchReleasesFrames(t *testing.T) {
	streams := &fakeStreams{fps: 30, duration: 10}
	pool := NewPool(zerolog.Nop(), &Router{Streams: streams}, nil)
	defer pool.Close()

	layers := []resolver.Layer{
		{ClipID: "a", Source: "one.mp4", SourceTime: 1},
		{ClipID: "b", Source: "two.mp4", SourceTime: 2},
		{ClipID: "c", Kind: "text"},
	}

	b := pool.Batch(context.Background())
	for i := range layers {
		img := b.FrameFor(&layers[i])
		if layers[i].Source == "" {
			assert.Nil(t, img)
			continue
		}
		assert.NotNil(t, img)
	}
	assert.Equal(t, int64(2), pool.Outstanding())
	assert.Equal(t, 2, pool.Handles())

	b.Release()
	assert.Zero(t, pool.Outstanding())
}

func TestPoolFailedOpenIsGap(t *testing.T) {
	pool := NewPool(zerolog.Nop(), &Router{Streams: &fakeStreams{fail: true}}, nil)
	defer pool.Close()

	b := pool.Batch(context.Background())
	assert.Nil(t, b.FrameFor(&resolver.Layer{Source: "missing.mp4", SourceTime: 1}))
	b.Release()
	assert.Zero(t, pool.Outstanding())
}

func TestPoolClipKeySeparatesHandles(t *testing.T) {
	streams := &fakeStreams{fps: 30, duration: 10}
	pool := NewPool(zerolog.Nop(), &Router{Streams: streams}, ClipKey)
	defer pool.Close()

	b := pool.Batch(context.Background())
	assert.NotNil(t, b.FrameFor(&resolver.Layer{ClipID: "a", Source: "same.mp4", SourceTime: 5}))
	assert.NotNil(t, b.FrameFor(&resolver.Layer{ClipID: "b", Source: "same.mp4", SourceTime: 1}))
	b.Release()

	assert.Equal(t, 2, pool.Handles())
}

func TestPoolSweepClosesIdle(t *testing.T) {
	pool := NewPool(zerolog.Nop(), &Router{Streams: &fakeStreams{fps: 30, duration: 10}}, nil)

	b := pool.Batch(context.Background())
	b.FrameFor(&resolver.Layer{Source: "one.mp4"})
	b.Release()

	pool.Sweep(1)
	assert.Equal(t, 1, pool.Handles())
	pool.Sweep(1)
	assert.Zero(t, pool.Handles())
}

type fakePlayer struct {
	t       float64
	seeking bool
	playing bool
	ended   bool
	rate    float64
	seeks   []float64
	rates   int
}

func (p *fakePlayer) CurrentTime() float64 { return p.t }
func (p *fakePlayer) Seek(t float64)       { p.seeks = append(p.seeks, t); p.seeking = true }
func (p *fakePlayer) Seeking() bool        { return p.seeking }
func (p *fakePlayer) Play()                { p.playing = true }
func (p *fakePlayer) Pause()               { p.playing = false }
func (p *fakePlayer) Playing() bool        { return p.playing }
func (p *fakePlayer) SetRate(rate float64) { p.rate = rate; p.rates++ }
func (p *fakePlayer) Rate() float64        { return p.rate }
func (p *fakePlayer) Ended() bool          { return p.ended }
func (p *fakePlayer) Frame() image.Image   { return nil }
func (p *fakePlayer) Close() error         { return nil }

func TestLiveSyncPolicy(t *testing.T) {
	tol := DefaultTolerances()

	t.Run("paused drift within tolerance", func(t *testing.T) {
		p := &fakePlayer{t: 1.0, rate: 1}
		(&LiveHandle{Player: p}).Sync(1.04, false, 1, tol)
		assert.Empty(t, p.seeks)
	})

	t.Run("paused drift beyond tolerance", func(t *testing.T) {
		p := &fakePlayer{t: 1.0, rate: 1}
		(&LiveHandle{Player: p}).Sync(1.06, false, 1, tol)
		assert.Equal(t, []float64{1.06}, p.seeks)
	})

	t.Run("playing tolerance is wider", func(t *testing.T) {
		p := &fakePlayer{t: 1.0, rate: 1}
		(&LiveHandle{Player: p}).Sync(1.15, true, 1, tol)
		assert.Empty(t, p.seeks)
		assert.True(t, p.playing)
	})

	t.Run("no second seek while seeking", func(t *testing.T) {
		p := &fakePlayer{t: 0, rate: 1}
		h := &LiveHandle{Player: p}
		h.Sync(3, false, 1, tol)
		h.Sync(3.5, false, 1, tol)
		assert.Len(t, p.seeks, 1)
	})

	t.Run("rate only when changed", func(t *testing.T) {
		p := &fakePlayer{rate: 1}
		h := &LiveHandle{Player: p}
		h.Sync(0, true, 1, tol)
		h.Sync(0, true, 2, tol)
		h.Sync(0, true, 2, tol)
		assert.Equal(t, 1, p.rates)
	})

	t.Run("ended player is not restarted", func(t *testing.T) {
		p := &fakePlayer{rate: 1, ended: true}
		(&LiveHandle{Player: p}).Sync(0, true, 1, tol)
		assert.False(t, p.playing)
	})

	t.Run("pause when stopped", func(t *testing.T) {
		p := &fakePlayer{rate: 1, playing: true}
		(&LiveHandle{Player: p}).Sync(0, false, 1, tol)
		assert.False(t, p.playing)
	})
}

func TestLivePoolPausesLayersThatLeave(t *testing.T) {
	players := map[string]*fakePlayer{}
	lp := NewLivePool(zerolog.Nop(), func(ctx context.Context, key Key) (Player, error) {
		p := &fakePlayer{rate: 1}
		players[key.Source] = p
		return p, nil
	}, Tolerances{})

	ctx := context.Background()
	lp.Sync(ctx, &resolver.FrameState{Layers: []resolver.Layer{{Source: "a.mp4"}, {Source: "b.mp4"}}}, true, 1)
	assert.True(t, players["a.mp4"].playing)
	assert.True(t, players["b.mp4"].playing)

	lp.Sync(ctx, &resolver.FrameState{Layers: []resolver.Layer{{Source: "b.mp4"}}}, true, 1)
	assert.False(t, players["a.mp4"].playing)
	assert.True(t, players["b.mp4"].playing)
}

func TestDecodePlayerClock(t *testing.T) {
	now := time.Unix(0, 0)
	clock := func() time.Time { return now }
	streams := &fakeStreams{fps: 30, duration: 10}
	p := NewDecodePlayer(zerolog.Nop(), func(ctx context.Context) (Source, error) {
		return NewDecoder(streams, "a.mp4", DecoderOptions{}), nil
	}, 10, clock)
	defer p.Close()

	p.Play()
	now = now.Add(500 * time.Millisecond)
	assert.InDelta(t, 0.5, p.CurrentTime(), 1e-9)

	p.SetRate(2)
	now = now.Add(500 * time.Millisecond)
	assert.InDelta(t, 1.5, p.CurrentTime(), 1e-9)

	p.Pause()
	now = now.Add(time.Second)
	assert.InDelta(t, 1.5, p.CurrentTime(), 1e-9)

	p.Seek(4)
	require.Eventually(t, func() bool { return !p.Seeking() }, time.Second, time.Millisecond)
	assert.InDelta(t, 4, p.CurrentTime(), 1e-9)
	assert.NotNil(t, p.Frame())
}
