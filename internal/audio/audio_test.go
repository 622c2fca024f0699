package audio

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/kikiluvv/framecut/internal/timeline"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// constLoader returns one second of a constant level per source
type constLoader struct {
	levels map[string]float32
	calls  int
}

func (l *constLoader) LoadAudio(ctx context.Context, source string, sampleRate, channels int) (*Buffer, error) {
	l.calls++
	v, ok := l.levels[source]
	if !ok {
		return nil, errors.New("unsupported codec")
	}
	b := NewBuffer(sampleRate, channels, sampleRate*10)
	for _, ch := range b.Data {
		for i := range ch {
			ch[i] = v
		}
	}
	return b, nil
}

func newTimeline(duration float64) *timeline.Timeline {
	tl := timeline.New(1920, 1080)
	tl.Duration = duration
	return tl
}

func TestSources(t *testing.T) {
	tl := newTimeline(4)
	video := tl.AddTrack(timeline.TrackVideo)
	music := tl.AddTrack(timeline.TrackAudio)
	muted := tl.AddTrack(timeline.TrackAudio)
	muted.Muted = true

	attached := timeline.NewClip(timeline.ClipVideo, "a.mp4", 0, 2)
	detached := timeline.NewClip(timeline.ClipVideo, "b.mp4", 2, 2)
	detached.AudioDetached = true
	still := timeline.NewClip(timeline.ClipImage, "c.png", 0, 2)
	song := timeline.NewClip(timeline.ClipAudio, "song.mp3", 0, 4)
	silent := timeline.NewClip(timeline.ClipAudio, "x.mp3", 0, 4)
	silent.Muted = true

	video.Add(attached)
	video.Add(detached)
	video.Add(still)
	music.Add(song)
	music.Add(silent)
	muted.Add(timeline.NewClip(timeline.ClipAudio, "y.mp3", 0, 4))

	got := Sources(tl)
	require.Len(t, got, 2)
	assert.Equal(t, attached.ID, got[0].ID)
	assert.Equal(t, song.ID, got[1].ID)
}

func TestMixerSchedulesAtStartWithGain(t *testing.T) {
	tl := newTimeline(2)
	tr := tl.AddTrack(timeline.TrackAudio)
	c := timeline.NewClip(timeline.ClipAudio, "tone", 1, 1)
	c.Volume = 50
	tr.Add(c)

	m := NewMixer(zerolog.Nop(), &constLoader{levels: map[string]float32{"tone": 0.8}}, 100, 2)
	buf, err := m.Render(context.Background(), tl)
	require.NoError(t, err)

	assert.Equal(t, 200, buf.Frames())
	assert.Equal(t, 2, buf.Channels())
	assert.Zero(t, buf.Data[0][50])
	assert.InDelta(t, 0.4, buf.Data[0][150], 1e-6)
	assert.InDelta(t, 0.4, buf.Data[1][150], 1e-6)
}

func TestMixerFades(t *testing.T) {
	tl := newTimeline(1)
	tr := tl.AddTrack(timeline.TrackAudio)
	c := timeline.NewClip(timeline.ClipAudio, "tone", 0, 1)
	c.FadeIn = 0.5
	c.FadeOut = 0.5
	tr.Add(c)

	m := NewMixer(zerolog.Nop(), &constLoader{levels: map[string]float32{"tone": 1}}, 100, 1)
	buf, err := m.Render(context.Background(), tl)
	require.NoError(t, err)

	assert.Zero(t, buf.Data[0][0])
	assert.InDelta(t, 0.5, buf.Data[0][25], 1e-6)
	assert.InDelta(t, 1, buf.Data[0][50], 1e-6)
	assert.InDelta(t, 0.5, buf.Data[0][75], 1e-6)
}

func TestMixerNegativeOffsetClampsToSourceStart(t *testing.T) {
	tl := newTimeline(1)
	tr := tl.AddTrack(timeline.TrackAudio)
	c := timeline.NewClip(timeline.ClipAudio, "tone", 0, 1)
	c.StartOffset = -1
	tr.Add(c)

	m := NewMixer(zerolog.Nop(), &constLoader{levels: map[string]float32{"tone": 0.5}}, 100, 1)
	var buf *Buffer
	require.NotPanics(t, func() {
		var err error
		buf, err = m.Render(context.Background(), tl)
		require.NoError(t, err)
	})
	assert.InDelta(t, 0.5, buf.Data[0][0], 1e-6)
	assert.InDelta(t, 0.5, buf.Data[0][99], 1e-6)
}

func TestMixerHardClipsSum(t *testing.T) {
	tl := newTimeline(1)
	a := tl.AddTrack(timeline.TrackAudio)
	b := tl.AddTrack(timeline.TrackAudio)
	a.Add(timeline.NewClip(timeline.ClipAudio, "loud", 0, 1))
	b.Add(timeline.NewClip(timeline.ClipAudio, "loud", 0, 1))

	loader := &constLoader{levels: map[string]float32{"loud": 0.9}}
	m := NewMixer(zerolog.Nop(), loader, 100, 1)
	buf, err := m.Render(context.Background(), tl)
	require.NoError(t, err)

	assert.Equal(t, float32(1), buf.Data[0][10])
	assert.Equal(t, 1, loader.calls, "sources load once per render")
}

func TestMixerFailedSourceIsSilence(t *testing.T) {
	tl := newTimeline(1)
	tr := tl.AddTrack(timeline.TrackAudio)
	tr.Add(timeline.NewClip(timeline.ClipAudio, "corrupt", 0, 1))

	m := NewMixer(zerolog.Nop(), &constLoader{}, 100, 2)
	buf, err := m.Render(context.Background(), tl)
	require.NoError(t, err)
	assert.Equal(t, 100, buf.Frames())
	for _, v := range buf.Data[0] {
		assert.Zero(t, v)
	}
}

func TestMixerCancelled(t *testing.T) {
	tl := newTimeline(1)
	tr := tl.AddTrack(timeline.TrackAudio)
	tr.Add(timeline.NewClip(timeline.ClipAudio, "tone", 0, 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMixer(zerolog.Nop(), &constLoader{}, 100, 1).Render(ctx, tl)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestChunksPadLastFrame(t *testing.T) {
	buf := NewBuffer(10, 2, 25)
	for i := 0; i < 25; i++ {
		buf.Data[0][i] = float32(i)
		buf.Data[1][i] = -float32(i)
	}

	chunks := Chunks(buf, 10)
	require.Len(t, chunks, 3)
	assert.Equal(t, []float64{0, 1, 2}, []float64{chunks[0].PTS, chunks[1].PTS, chunks[2].PTS})
	assert.Len(t, chunks[2].Samples, 20)
	assert.Equal(t, float32(21), chunks[2].Samples[2])
	assert.Equal(t, float32(-21), chunks[2].Samples[3])
	assert.Zero(t, chunks[2].Samples[19])
}

func TestF32LERoundTrip(t *testing.T) {
	var w bytes.Buffer
	require.NoError(t, WriteF32LE(&w, []float32{0.5, -0.5, 1, -1}))

	buf, err := ReadF32LE(&w, 48000, 2)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 1}, buf.Data[0])
	assert.Equal(t, []float32{-0.5, -1}, buf.Data[1])
}
