package ffmpeg

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"math"
	"os/exec"
	"runtime"
	"strings"

	"github.com/kikiluvv/framecut/internal/audio"
	"github.com/kikiluvv/framecut/internal/export"
)

// HasEncoder reports whether the ffmpeg build lists the named encoder
func (e *Executor) HasEncoder(name string) bool {
	e.encodersOnce.Do(func() {
		e.encoders = make(map[string]bool)
		out, err := exec.Command(e.ffmpegPath, "-hide_banner", "-encoders").Output()
		if err != nil {
			e.logger.Warn().Err(err).Msg("failed to list encoders")
			return
		}
		e.encoders = parseEncoders(string(out))
	})
	return e.encoders[name]
}

// parseEncoders reads the `ffmpeg -encoders` table: flags then the encoder name
func parseEncoders(output string) map[string]bool {
	found := make(map[string]bool)
	scanner := bufio.NewScanner(strings.NewReader(output))
	table := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "------") {
			table = true
			continue
		}
		if !table {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			found[fields[1]] = true
		}
	}
	return found
}

// VideoCodec resolves the H.264 encoder for an acceleration mode. An empty
// mode uses the executor default.
func (e *Executor) VideoCodec(mode string) string {
	if mode == "" {
		mode = e.hwaccel
	}
	switch mode {
	case HWAccelVideoToolbox:
		return "h264_videotoolbox"
	case HWAccelNVENC:
		return "h264_nvenc"
	case HWAccelVAAPI:
		return "h264_vaapi"
	case HWAccelNone:
		return DefaultVideoCodec
	}

	switch {
	case runtime.GOOS == "darwin" && e.HasEncoder("h264_videotoolbox"):
		return "h264_videotoolbox"
	case e.HasEncoder("h264_nvenc"):
		return "h264_nvenc"
	case e.vaapiDevice != "" && e.HasEncoder("h264_vaapi"):
		return "h264_vaapi"
	}
	return DefaultVideoCodec
}

// Backend encodes through ffmpeg subprocesses fed over stdin
type Backend struct {
	exec *Executor
}

// NewBackend wraps an executor as an export backend
func NewBackend(e *Executor) *Backend {
	return &Backend{exec: e}
}

var _ export.Backend = (*Backend)(nil)

// videoArgs builds the raw RGBA to H.264 command line
func (e *Executor) videoArgs(path, codec string, s export.VideoSettings) []string {
	args := []string{}
	if codec == "h264_vaapi" {
		args = append(args, "-vaapi_device", e.vaapiDevice)
	}
	args = append(args,
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", s.Width, s.Height),
		"-framerate", formatRate(s.FPS),
		"-i", "pipe:0",
		"-an",
		"-c:v", codec,
	)

	switch codec {
	case DefaultVideoCodec:
		args = append(args, "-preset", e.preset)
	case "h264_nvenc":
		args = append(args, "-preset", "p5")
	}

	if s.Bitrate > 0 {
		args = append(args,
			"-b:v", fmt.Sprintf("%d", s.Bitrate),
			"-maxrate", fmt.Sprintf("%d", s.Bitrate*3/2),
			"-bufsize", fmt.Sprintf("%d", s.Bitrate*2),
		)
	}
	if s.Profile.Name != "" && codec != "h264_vaapi" {
		args = append(args, "-profile:v", s.Profile.Name)
	}
	if s.Profile.Level != "" && codec == DefaultVideoCodec {
		args = append(args, "-level", s.Profile.Level)
	}

	if codec == "h264_vaapi" {
		args = append(args, "-vf", NewFilterBuilder().Format("nv12").Custom("hwupload").Build())
	} else {
		args = append(args, "-pix_fmt", "yuv420p")
	}
	args = append(args, "-r", formatRate(s.FPS), "-f", "mp4", path)
	return args
}

// NewVideoEncoder implements export.Backend
func (b *Backend) NewVideoEncoder(ctx context.Context, path string, s export.VideoSettings) (export.VideoEncoder, error) {
	if s.Width <= 0 || s.Height <= 0 || s.FPS <= 0 {
		return nil, fmt.Errorf("invalid video settings %dx%d@%.3f", s.Width, s.Height, s.FPS)
	}

	codec := b.exec.VideoCodec(s.HWAccel)
	if codec == "h264_vaapi" && b.exec.vaapiDevice == "" {
		return nil, fmt.Errorf("%w: vaapi requires a device", ErrNoEncoder)
	}

	b.exec.logger.Info().
		Str("codec", codec).
		Int("width", s.Width).
		Int("height", s.Height).
		Float64("fps", s.FPS).
		Int64("bitrate", s.Bitrate).
		Str("level", s.Profile.Level).
		Msg("opening video encoder")

	p, err := b.exec.start(ctx, b.exec.videoArgs(path, codec, s), true, false)
	if err != nil {
		return nil, err
	}
	return &videoEncoder{proc: p, settings: s}, nil
}

type videoEncoder struct {
	proc     *process
	settings export.VideoSettings
	n        int
	closed   bool
}

// Encode writes one frame. Frames must arrive at consecutive n/fps timestamps.
func (v *videoEncoder) Encode(frame *image.RGBA, pts, duration float64) error {
	if v.closed {
		return fmt.Errorf("encoder closed")
	}
	want := float64(v.n) / v.settings.FPS
	if math.Abs(pts-want) > 1e-6 {
		return fmt.Errorf("frame %d has pts %.6f, expected %.6f", v.n, pts, want)
	}
	if frame.Rect.Dx() != v.settings.Width || frame.Rect.Dy() != v.settings.Height {
		return fmt.Errorf("frame is %dx%d, encoder expects %dx%d",
			frame.Rect.Dx(), frame.Rect.Dy(), v.settings.Width, v.settings.Height)
	}

	if _, err := v.proc.stdin.Write(packed(frame)); err != nil {
		return fmt.Errorf("failed to write frame %d: %w: %s", v.n, err, v.proc.tail.String())
	}
	v.n++
	return nil
}

// Close flushes the encoder and waits for the file to be finalized
func (v *videoEncoder) Close() error {
	if v.closed {
		return nil
	}
	v.closed = true
	return v.proc.wait()
}

// packed returns the pixels without row padding
func packed(img *image.RGBA) []byte {
	w := img.Rect.Dx() * 4
	if img.Stride == w && img.Rect.Min == (image.Point{}) {
		return img.Pix[:w*img.Rect.Dy()]
	}
	out := make([]byte, 0, w*img.Rect.Dy())
	for y := img.Rect.Min.Y; y < img.Rect.Max.Y; y++ {
		off := img.PixOffset(img.Rect.Min.X, y)
		out = append(out, img.Pix[off:off+w]...)
	}
	return out
}

// NewAudioEncoder implements export.Backend
func (b *Backend) NewAudioEncoder(ctx context.Context, path string, s export.AudioSettings) (export.AudioEncoder, error) {
	if s.SampleRate <= 0 || s.Channels <= 0 {
		return nil, fmt.Errorf("invalid audio settings %dHz x%d", s.SampleRate, s.Channels)
	}

	args := []string{
		"-f", "f32le",
		"-ar", fmt.Sprintf("%d", s.SampleRate),
		"-ac", fmt.Sprintf("%d", s.Channels),
		"-i", "pipe:0",
		"-vn",
		"-c:a", DefaultAudioCodec,
	}
	if s.Bitrate > 0 {
		args = append(args, "-b:a", fmt.Sprintf("%d", s.Bitrate))
	}
	args = append(args, "-f", "mp4", path)

	b.exec.logger.Info().
		Int("sample_rate", s.SampleRate).
		Int("channels", s.Channels).
		Int64("bitrate", s.Bitrate).
		Msg("opening audio encoder")

	p, err := b.exec.start(ctx, args, true, false)
	if err != nil {
		return nil, err
	}
	return &audioEncoder{proc: p}, nil
}

type audioEncoder struct {
	proc   *process
	closed bool
}

// Encode writes one interleaved chunk
func (a *audioEncoder) Encode(chunk audio.Chunk) error {
	if a.closed {
		return fmt.Errorf("encoder closed")
	}
	if err := audio.WriteF32LE(a.proc.stdin, chunk.Samples); err != nil {
		return fmt.Errorf("failed to write chunk %d: %w: %s", chunk.Index, err, a.proc.tail.String())
	}
	return nil
}

// Close flushes the encoder
func (a *audioEncoder) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	return a.proc.wait()
}

// Mux implements export.Backend by stream copying both inputs into one container
func (b *Backend) Mux(ctx context.Context, videoPath, audioPath, output string) error {
	b.exec.logger.Info().
		Str("video", videoPath).
		Str("audio", audioPath).
		Str("output", output).
		Msg("muxing")

	opts := RunOptions{
		Args: []string{
			"-i", videoPath,
			"-i", audioPath,
			"-map", "0:v:0",
			"-map", "1:a:0",
			"-c", "copy",
			"-movflags", "+faststart",
			"-shortest",
			output,
		},
		LogHandler: func(line string) {
			b.exec.logger.Debug().Str("ffmpeg", line).Msg("mux")
		},
	}
	return b.exec.Run(ctx, opts)
}

// formatRate renders a frame rate the way ffmpeg accepts it
func formatRate(fps float64) string {
	if fps == math.Trunc(fps) {
		return fmt.Sprintf("%d", int(fps))
	}
	return fmt.Sprintf("%.6f", fps)
}
