// Package audio renders a timeline's audio offline as one linear mix.
package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/kikiluvv/framecut/internal/timeline"
	"github.com/kikiluvv/framecut/pkg/util"
	"github.com/rs/zerolog"
)

// Mix defaults
const (
	DefaultSampleRate = 48000
	DefaultChannels   = 2
	DefaultFrameSize  = 1024
)

// Buffer is planar float32 audio
type Buffer struct {
	SampleRate int
	Data       [][]float32
}

// NewBuffer allocates silence
func NewBuffer(sampleRate, channels, frames int) *Buffer {
	data := make([][]float32, channels)
	for i := range data {
		data[i] = make([]float32, frames)
	}
	return &Buffer{SampleRate: sampleRate, Data: data}
}

// Channels returns the channel count
func (b *Buffer) Channels() int {
	return len(b.Data)
}

// Frames returns samples per channel
func (b *Buffer) Frames() int {
	if len(b.Data) == 0 {
		return 0
	}
	return len(b.Data[0])
}

// Duration returns the length in seconds
func (b *Buffer) Duration() float64 {
	if b.SampleRate == 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// Loader decodes a whole source at the given rate and channel count
type Loader interface {
	LoadAudio(ctx context.Context, source string, sampleRate, channels int) (*Buffer, error)
}

// Mixer schedules every audio-bearing clip into one buffer
type Mixer struct {
	logger     zerolog.Logger
	loader     Loader
	sampleRate int
	channels   int
}

// NewMixer creates a mixer. Zero rate or channels use the defaults.
func NewMixer(logger zerolog.Logger, loader Loader, sampleRate, channels int) *Mixer {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if channels <= 0 {
		channels = DefaultChannels
	}
	return &Mixer{
		logger:     logger.With().Str("component", "audio-mixer").Logger(),
		loader:     loader,
		sampleRate: sampleRate,
		channels:   channels,
	}
}

// Sources returns the clips that contribute audio: clips on audio tracks plus
// attached, unmuted audio of video clips.
func Sources(tl *timeline.Timeline) []*timeline.Clip {
	var out []*timeline.Clip
	for _, tr := range tl.Tracks {
		if tr == nil || tr.Muted {
			continue
		}
		for _, c := range tr.Clips {
			if c == nil || c.Muted || c.Source == "" || c.Duration <= 0 || c.Volume <= 0 {
				continue
			}
			switch {
			case tr.Kind == timeline.TrackAudio:
				out = append(out, c)
			case tr.Kind == timeline.TrackVideo && c.Type == timeline.ClipVideo && !c.AudioDetached:
				out = append(out, c)
			}
		}
	}
	return out
}

// Render mixes the timeline to completion. The result always spans the
// timeline duration; missing sources leave silence.
func (m *Mixer) Render(ctx context.Context, tl *timeline.Timeline) (*Buffer, error) {
	frames := util.FrameCount(tl.Duration, float64(m.sampleRate))
	out := NewBuffer(m.sampleRate, m.channels, frames)

	cache := make(map[string]*Buffer)
	for _, c := range Sources(tl) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		src, ok := cache[c.Source]
		if !ok {
			var err error
			src, err = m.loader.LoadAudio(ctx, c.Source, m.sampleRate, m.channels)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				m.logger.Warn().Err(err).Str("clip", c.ID).Str("source", c.Source).Msg("audio source unavailable, mixing silence")
			}
			cache[c.Source] = src
		}
		if src == nil {
			continue
		}
		m.schedule(out, src, c)
	}

	for _, ch := range out.Data {
		for i, v := range ch {
			if v > 1 {
				ch[i] = 1
			} else if v < -1 {
				ch[i] = -1
			}
		}
	}
	return out, nil
}

// schedule adds one clip at its timeline start with trim, speed, gain and fades
func (m *Mixer) schedule(out, src *Buffer, c *timeline.Clip) {
	sr := float64(m.sampleRate)
	start := int(math.Round(c.StartTime * sr))
	n := int(math.Round(c.Duration * sr))
	speed := c.EffectiveSpeed()
	gain := c.Volume / 100
	srcFrames := src.Frames()
	if srcFrames == 0 || src.Channels() == 0 {
		return
	}

	for i := 0; i < n; i++ {
		o := start + i
		if o < 0 {
			continue
		}
		if o >= out.Frames() {
			break
		}

		pos := (c.StartOffset + float64(i)/sr*speed) * float64(src.SampleRate)
		if pos < 0 || math.IsNaN(pos) {
			pos = 0
		}
		j := int(pos)
		if j >= srcFrames {
			break
		}
		frac := float32(pos - float64(j))

		g := float32(gain * fade(float64(i)/sr, c.Duration, c.FadeIn, c.FadeOut))
		if g == 0 {
			continue
		}
		for ch := 0; ch < out.Channels(); ch++ {
			data := src.Data[min(ch, src.Channels()-1)]
			v := data[j]
			if j+1 < srcFrames {
				v += (data[j+1] - v) * frac
			}
			out.Data[ch][o] += v * g
		}
	}
}

// fade returns the linear fade envelope at clip time t
func fade(t, dur, in, out float64) float64 {
	g := 1.0
	if in > 0 && t < in {
		g = t / in
	}
	if out > 0 && t > dur-out {
		g = math.Min(g, (dur-t)/out)
	}
	return math.Max(0, g)
}

// Chunk is one fixed-size interleaved frame ready for the encoder
type Chunk struct {
	Index   int
	PTS     float64
	Samples []float32
}

// Chunks splits buf into interleaved frames of frameSize samples per channel.
// The last frame is zero padded.
func Chunks(buf *Buffer, frameSize int) []Chunk {
	if frameSize <= 0 {
		frameSize = DefaultFrameSize
	}
	total := buf.Frames()
	chans := buf.Channels()
	count := (total + frameSize - 1) / frameSize

	chunks := make([]Chunk, count)
	for k := range chunks {
		samples := make([]float32, frameSize*chans)
		base := k * frameSize
		for i := 0; i < frameSize && base+i < total; i++ {
			for ch := 0; ch < chans; ch++ {
				samples[i*chans+ch] = buf.Data[ch][base+i]
			}
		}
		chunks[k] = Chunk{
			Index:   k,
			PTS:     float64(base) / float64(buf.SampleRate),
			Samples: samples,
		}
	}
	return chunks
}

// WriteF32LE writes interleaved samples as little-endian float32
func WriteF32LE(w io.Writer, samples []float32) error {
	buf := make([]byte, 4*len(samples))
	for i, v := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write samples: %w", err)
	}
	return nil
}

// ReadF32LE reads interleaved little-endian float32 into a planar buffer
func ReadF32LE(r io.Reader, sampleRate, channels int) (*Buffer, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read samples: %w", err)
	}
	frames := len(raw) / 4 / channels
	buf := NewBuffer(sampleRate, channels, frames)
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			off := (i*channels + ch) * 4
			buf.Data[ch][i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[off:]))
		}
	}
	return buf, nil
}
