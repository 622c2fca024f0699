package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"math"

	"github.com/kikiluvv/framecut/internal/audio"
	"github.com/kikiluvv/framecut/internal/media"
	"github.com/kikiluvv/framecut/pkg/util"
)

// OpenStream starts a sequential RGBA decode of source at start seconds,
// resampled to the source's nominal frame rate.
func (e *Executor) OpenStream(ctx context.Context, source string, start float64) (media.Stream, error) {
	info, err := e.probeCached(ctx, source)
	if err != nil {
		return nil, err
	}
	if !info.HasVideo || info.Width <= 0 || info.Height <= 0 {
		return nil, fmt.Errorf("%s has no video stream", source)
	}

	fps := info.FPS
	if fps <= 0 || fps > 240 {
		fps = DefaultFPS
	}
	// align to the frame grid so presentation times are exact
	start = math.Max(0, math.Floor(start*fps+1e-6)/fps)

	args := []string{
		"-ss", util.FormatSeconds(start),
		"-i", source,
		"-an", "-sn",
		"-vf", NewFilterBuilder().FPS(fps).Format("rgba").Build(),
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"pipe:1",
	}

	p, err := e.start(ctx, args, false, true)
	if err != nil {
		return nil, err
	}

	return &rawStream{
		proc:   p,
		width:  info.Width,
		height: info.Height,
		fps:    fps,
		start:  start,
	}, nil
}

type rawStream struct {
	proc   *process
	width  int
	height int
	fps    float64
	start  float64
	n      int
	closed bool
}

// Next implements media.Stream
func (s *rawStream) Next() (*image.RGBA, float64, error) {
	if s.closed {
		return nil, 0, io.EOF
	}
	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	if _, err := io.ReadFull(s.proc.stdout, img.Pix); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, 0, io.EOF
		}
		return nil, 0, fmt.Errorf("failed to read frame: %w", err)
	}
	pts := s.start + float64(s.n)/s.fps
	s.n++
	return img, pts, nil
}

// Close implements media.Stream
func (s *rawStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.proc.kill()
	return nil
}

// LoadAudio decodes the whole audio stream of source as float32 at the given layout
func (e *Executor) LoadAudio(ctx context.Context, source string, sampleRate, channels int) (*audio.Buffer, error) {
	var out bytes.Buffer
	opts := RunOptions{
		Args: []string{
			"-i", source,
			"-vn",
			"-f", "f32le",
			"-acodec", "pcm_f32le",
			"-ac", fmt.Sprintf("%d", channels),
			"-ar", fmt.Sprintf("%d", sampleRate),
			"pipe:1",
		},
		Stdout: &out,
		LogHandler: func(line string) {
			e.logger.Debug().Str("ffmpeg", line).Msg("audio decode")
		},
	}
	if err := e.Run(ctx, opts); err != nil {
		return nil, fmt.Errorf("failed to decode audio of %s: %w", source, err)
	}
	return audio.ReadF32LE(&out, sampleRate, channels)
}

// ExtractFrame decodes the single frame showing at t seconds
func (e *Executor) ExtractFrame(ctx context.Context, source string, t float64) (image.Image, error) {
	if source == "" {
		return nil, fmt.Errorf("input path is required")
	}

	var out bytes.Buffer
	opts := RunOptions{
		Args: []string{
			"-ss", util.FormatSeconds(t),
			"-i", source,
			"-frames:v", "1",
			"-f", "image2pipe",
			"-vcodec", "png",
			"pipe:1",
		},
		Stdout: &out,
		LogHandler: func(line string) {
			e.logger.Debug().Str("ffmpeg", line).Msg("frame extraction")
		},
	}
	if err := e.Run(ctx, opts); err != nil {
		return nil, err
	}
	if out.Len() == 0 {
		return nil, fmt.Errorf("no frame at %.3fs in %s", t, source)
	}
	return png.Decode(&out)
}
