package ffmpeg

import (
	"context"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kikiluvv/framecut/internal/audio"
	"github.com/kikiluvv/framecut/internal/export"
	"github.com/rs/zerolog"
)

// TestResults stores results from all tests for final summary
type TestResults struct {
	ExecutorPath   string
	ProbeResults   *VideoInfo
	FramesStreamed int
	Encoded        bool
	ScenesFound    int
	SilencesFound  int
	VolumeStats    *VolumeStats
	Errors         []string
	TestDuration   time.Duration
}

var globalResults = &TestResults{
	Errors: make([]string, 0),
}

// skipIfNoFFmpeg skips the test if ffmpeg is not available
func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found in PATH - install with: brew install ffmpeg")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not found in PATH - install with: brew install ffmpeg")
	}
}

// generateMedia writes a testsrc video with a sine tone into dir
func generateMedia(t *testing.T, dir string, seconds, fps float64) string {
	t.Helper()
	path := filepath.Join(dir, "test_with_audio.mp4")
	cmd := exec.Command("ffmpeg",
		"-f", "lavfi", "-i", fmt.Sprintf("sine=frequency=1000:duration=%g", seconds),
		"-f", "lavfi", "-i", fmt.Sprintf("testsrc=duration=%g:size=320x240:rate=%g", seconds, fps),
		"-pix_fmt", "yuv420p", "-shortest", "-y", path)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Skipf("Could not generate test video with audio: %v: %s", err, out)
	}
	return path
}

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).Level(zerolog.InfoLevel)
	e, err := New(logger, Options{Threads: 2, HWAccel: HWAccelNone})
	if err != nil {
		t.Fatalf("failed to create executor: %v", err)
	}
	return e
}

func TestExecutorCreation(t *testing.T) {
	skipIfNoFFmpeg(t)

	logger := zerolog.New(os.Stderr)
	e, err := New(logger, Options{Threads: 4})
	if err != nil {
		globalResults.Errors = append(globalResults.Errors, fmt.Sprintf("Executor creation failed: %v", err))
		t.Fatalf("failed to create executor: %v", err)
	}
	if e.ffmpegPath == "" {
		t.Error("ffmpeg path is empty")
	}
	if e.ffprobePath == "" {
		t.Error("ffprobe path is empty")
	}
	if e.preset != DefaultPreset {
		t.Errorf("expected default preset %q, got %q", DefaultPreset, e.preset)
	}
	if e.hwaccel != HWAccelAuto {
		t.Errorf("expected hwaccel %q, got %q", HWAccelAuto, e.hwaccel)
	}

	globalResults.ExecutorPath = e.ffmpegPath
	t.Logf("ffmpeg: %s", e.ffmpegPath)
	t.Logf("ffprobe: %s", e.ffprobePath)
}

func TestExecutorMissingBinary(t *testing.T) {
	_, err := New(zerolog.Nop(), Options{BinaryPath: "framecut-no-such-ffmpeg"})
	if err == nil {
		t.Fatal("expected an error for a missing binary")
	}
}

func TestFilterBuilder(t *testing.T) {
	fb := NewFilterBuilder()
	filter := fb.Scale(1920, 1080).FPS(30).Build()

	expected := "scale=1920:1080,fps=30.000000"
	if filter != expected {
		t.Errorf("expected %q, got %q", expected, filter)
	}
}

func TestFilterBuilderEmpty(t *testing.T) {
	fb := NewFilterBuilder()
	filter := fb.Build()

	if filter != "" {
		t.Errorf("expected empty string, got %q", filter)
	}
}

func TestFilterBuilderSkipsInvalid(t *testing.T) {
	filter := NewFilterBuilder().Scale(0, 1080).FPS(0).Format("").Format("rgba").Build()

	if filter != "format=rgba" {
		t.Errorf("expected %q, got %q", "format=rgba", filter)
	}
}

func TestFilterBuilderChaining(t *testing.T) {
	fb := NewFilterBuilder()
	filter := fb.FPS(60).Format("nv12").Custom("hwupload").Build()

	expected := "fps=60.000000,format=nv12,hwupload"
	if filter != expected {
		t.Errorf("expected %q, got %q", expected, filter)
	}
	if len(fb.BuildAll()) != 3 {
		t.Errorf("expected 3 filters, got %d", len(fb.BuildAll()))
	}
}

func TestParseProbe(t *testing.T) {
	output := []byte(`{
		"streams": [
			{"codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080, "r_frame_rate": "30000/1001"},
			{"codec_type": "audio", "codec_name": "aac", "bit_rate": "128000", "sample_rate": "44100", "channels": 2},
			{"codec_type": "video", "codec_name": "mjpeg", "width": 320, "height": 240, "r_frame_rate": "90000/1"}
		],
		"format": {"duration": "12.500000", "bit_rate": "5000000"}
	}`)

	info, err := parseProbe(output)
	if err != nil {
		t.Fatalf("parseProbe failed: %v", err)
	}
	if !info.HasVideo || info.Width != 1920 || info.Height != 1080 {
		t.Errorf("expected the first video stream 1920x1080, got %dx%d", info.Width, info.Height)
	}
	if math.Abs(info.FPS-29.97) > 0.01 {
		t.Errorf("expected 29.97 fps, got %f", info.FPS)
	}
	if info.Seconds() != 12.5 {
		t.Errorf("expected 12.5s, got %f", info.Seconds())
	}
	if !info.HasAudio || info.SampleRate != 44100 || info.Channels != 2 || info.AudioBitrate != 128000 {
		t.Errorf("unexpected audio info: %+v", info)
	}

	if _, err := parseProbe([]byte("not json")); err == nil {
		t.Error("expected an error for malformed output")
	}
}

func TestParseSceneOutput(t *testing.T) {
	output := strings.Join([]string{
		"[Parsed_showinfo_1 @ 0x1] config in time_base: 1/15360",
		"[Parsed_showinfo_1 @ 0x1] n:   0 pts:  30720 pts_time:2       duration:512 pos: 1 fmt:yuv420p",
		"[Parsed_showinfo_1 @ 0x1] n:   1 pts:  64000 pts_time:4.16667 duration:512 pos: 2 fmt:yuv420p",
		"frame=    2 fps=0.0 q=-0.0",
	}, "\n")

	scenes := parseSceneOutput(output)
	if len(scenes) != 2 {
		t.Fatalf("expected 2 scenes, got %d", len(scenes))
	}
	if scenes[0] != 2 || math.Abs(scenes[1]-4.16667) > 1e-9 {
		t.Errorf("unexpected scene times: %v", scenes)
	}
}

func TestParseSilenceOutput(t *testing.T) {
	output := strings.Join([]string{
		"[silencedetect @ 0x1] silence_start: 1.5",
		"[silencedetect @ 0x1] silence_end: 2.75 | silence_duration: 1.25",
		"[silencedetect @ 0x1] silence_start: 4",
		"[silencedetect @ 0x1] silence_end: 5",
	}, "\n")

	segments := parseSilenceOutput(output)
	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segments))
	}
	if segments[0] != (SilenceSegment{Start: 1.5, End: 2.75, Duration: 1.25}) {
		t.Errorf("unexpected first segment: %+v", segments[0])
	}
	if segments[1] != (SilenceSegment{Start: 4, End: 5, Duration: 1}) {
		t.Errorf("unexpected second segment: %+v", segments[1])
	}
}

func TestParseVolumeOutput(t *testing.T) {
	output := "[Parsed_volumedetect_0 @ 0x1] mean_volume: -21.3 dB\n[Parsed_volumedetect_0 @ 0x1] max_volume: -3.0 dB\n"

	stats := parseVolumeOutput(output)
	if stats.MeanVolume != -21.3 || stats.MaxVolume != -3.0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestParseEncoders(t *testing.T) {
	output := `Encoders:
 V..... = Video
 A..... = Audio
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC / MPEG-4 part 10 (codec h264)
 V....D h264_videotoolbox    VideoToolbox H.264 Encoder (codec h264)
 A....D aac                  AAC (Advanced Audio Coding)
`
	found := parseEncoders(output)
	for _, name := range []string{"libx264", "h264_videotoolbox", "aac"} {
		if !found[name] {
			t.Errorf("expected encoder %s", name)
		}
	}
	if found["="] || found["Video"] {
		t.Error("legend lines must not be parsed as encoders")
	}
}

func TestVideoCodecExplicitModes(t *testing.T) {
	e := &Executor{hwaccel: HWAccelNone}

	cases := map[string]string{
		HWAccelNone:         "libx264",
		HWAccelVideoToolbox: "h264_videotoolbox",
		HWAccelNVENC:        "h264_nvenc",
		HWAccelVAAPI:        "h264_vaapi",
		"":                  "libx264",
	}
	for mode, want := range cases {
		if got := e.VideoCodec(mode); got != want {
			t.Errorf("mode %q: expected %s, got %s", mode, want, got)
		}
	}
}

func TestVideoArgs(t *testing.T) {
	e := &Executor{preset: "fast"}
	s := export.VideoSettings{
		Width:   1280,
		Height:  720,
		FPS:     30,
		Bitrate: 4_000_000,
		Profile: export.Profile{Name: "high", Level: "3.1"},
	}

	args := strings.Join(e.videoArgs("out.mp4", DefaultVideoCodec, s), " ")
	for _, want := range []string{
		"-f rawvideo -pix_fmt rgba -s 1280x720 -framerate 30 -i pipe:0",
		"-c:v libx264 -preset fast",
		"-b:v 4000000 -maxrate 6000000 -bufsize 8000000",
		"-level 3.1",
		"-pix_fmt yuv420p",
	} {
		if !strings.Contains(args, want) {
			t.Errorf("expected %q in %q", want, args)
		}
	}
	if !strings.HasSuffix(args, "out.mp4") {
		t.Errorf("output must be the last argument: %q", args)
	}

	e.vaapiDevice = "/dev/dri/renderD128"
	args = strings.Join(e.videoArgs("out.mp4", "h264_vaapi", s), " ")
	if !strings.HasPrefix(args, "-vaapi_device /dev/dri/renderD128") {
		t.Errorf("vaapi device must precede the input: %q", args)
	}
	if !strings.Contains(args, "-vf format=nv12,hwupload") {
		t.Errorf("vaapi needs an upload filter: %q", args)
	}
}

func TestFormatRate(t *testing.T) {
	if got := formatRate(30); got != "30" {
		t.Errorf("expected 30, got %s", got)
	}
	if got := formatRate(29.97); got != "29.970000" {
		t.Errorf("expected 29.970000, got %s", got)
	}
}

func TestPacked(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Pix[0] = 7
	if got := packed(img); len(got) != 64 || got[0] != 7 {
		t.Errorf("unexpected contiguous packing: len %d", len(got))
	}

	sub := img.SubImage(image.Rect(1, 1, 3, 3)).(*image.RGBA)
	if got := packed(sub); len(got) != 16 {
		t.Errorf("expected 16 bytes for a 2x2 sub image, got %d", len(got))
	}
}

func TestProbeVideo(t *testing.T) {
	skipIfNoFFmpeg(t)

	path := generateMedia(t, t.TempDir(), 2, 30)
	e := newTestExecutor(t)

	ctx := context.Background()
	start := time.Now()
	info, err := e.ProbeVideo(ctx, path)
	elapsed := time.Since(start)

	if err != nil {
		globalResults.Errors = append(globalResults.Errors, fmt.Sprintf("ProbeVideo failed: %v", err))
		t.Fatalf("ProbeVideo failed: %v", err)
	}

	globalResults.ProbeResults = info
	globalResults.TestDuration = elapsed

	if info.Width != 320 {
		t.Errorf("expected width 320, got %d", info.Width)
	}
	if info.Height != 240 {
		t.Errorf("expected height 240, got %d", info.Height)
	}
	if info.Duration == 0 {
		t.Error("duration is zero")
	}
	if !info.HasAudio {
		t.Error("expected an audio stream")
	}

	t.Logf("Video info: %dx%d, %.2f fps, duration: %v (probed in %v)",
		info.Width, info.Height, info.FPS, info.Duration, elapsed)
}

func TestOpenStream(t *testing.T) {
	skipIfNoFFmpeg(t)

	path := generateMedia(t, t.TempDir(), 1, 10)
	e := newTestExecutor(t)

	stream, err := e.OpenStream(context.Background(), path, 0.5)
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}
	defer stream.Close()

	var pts []float64
	for {
		img, p, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if img.Rect.Dx() != 320 || img.Rect.Dy() != 240 {
			t.Fatalf("unexpected frame size %v", img.Rect)
		}
		pts = append(pts, p)
	}

	globalResults.FramesStreamed = len(pts)
	if len(pts) < 4 || len(pts) > 6 {
		t.Errorf("expected about 5 frames after 0.5s, got %d", len(pts))
	}
	if len(pts) > 0 && math.Abs(pts[0]-0.5) > 1e-9 {
		t.Errorf("expected first pts 0.5, got %f", pts[0])
	}
	for i := 1; i < len(pts); i++ {
		if math.Abs(pts[i]-pts[i-1]-0.1) > 1e-9 {
			t.Errorf("pts %d not spaced by 1/fps: %v", i, pts)
			break
		}
	}
}

func TestExtractFrame(t *testing.T) {
	skipIfNoFFmpeg(t)

	path := generateMedia(t, t.TempDir(), 1, 30)
	e := newTestExecutor(t)

	img, err := e.ExtractFrame(context.Background(), path, 0.5)
	if err != nil {
		t.Fatalf("ExtractFrame failed: %v", err)
	}
	if img.Bounds().Dx() != 320 || img.Bounds().Dy() != 240 {
		t.Errorf("unexpected frame size %v", img.Bounds())
	}
}

func TestLoadAudio(t *testing.T) {
	skipIfNoFFmpeg(t)

	path := generateMedia(t, t.TempDir(), 1, 30)
	e := newTestExecutor(t)

	buf, err := e.LoadAudio(context.Background(), path, 48000, 2)
	if err != nil {
		t.Fatalf("LoadAudio failed: %v", err)
	}
	if buf.Channels() != 2 {
		t.Errorf("expected 2 channels, got %d", buf.Channels())
	}
	if math.Abs(buf.Duration()-1) > 0.05 {
		t.Errorf("expected about 1s of audio, got %f", buf.Duration())
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	skipIfNoFFmpeg(t)

	dir := t.TempDir()
	e := newTestExecutor(t)
	backend := NewBackend(e)
	ctx := context.Background()

	videoPath := filepath.Join(dir, "video.mp4")
	audioPath := filepath.Join(dir, "audio.m4a")
	output := filepath.Join(dir, "out.mp4")

	venc, err := backend.NewVideoEncoder(ctx, videoPath, export.VideoSettings{
		Width:   64,
		Height:  64,
		FPS:     10,
		Bitrate: 500_000,
		Profile: export.ChooseProfile(64, 64, 10),
	})
	if err != nil {
		t.Fatalf("NewVideoEncoder failed: %v", err)
	}

	frame := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for i := 0; i < 10; i++ {
		for p := 0; p < len(frame.Pix); p += 4 {
			frame.Pix[p] = uint8(i * 25)
			frame.Pix[p+3] = 255
		}
		if err := venc.Encode(frame, float64(i)/10, 0.1); err != nil {
			t.Fatalf("Encode frame %d failed: %v", i, err)
		}
	}
	if err := venc.Encode(frame, 5, 0.1); err == nil {
		t.Error("expected a pts mismatch error")
	}
	if err := venc.Close(); err != nil {
		t.Fatalf("video Close failed: %v", err)
	}

	aenc, err := backend.NewAudioEncoder(ctx, audioPath, export.AudioSettings{SampleRate: 48000, Channels: 2, Bitrate: 128000})
	if err != nil {
		t.Fatalf("NewAudioEncoder failed: %v", err)
	}
	for _, chunk := range audio.Chunks(audio.NewBuffer(48000, 2, 48000), 1024) {
		if err := aenc.Encode(chunk); err != nil {
			t.Fatalf("audio Encode failed: %v", err)
		}
	}
	if err := aenc.Close(); err != nil {
		t.Fatalf("audio Close failed: %v", err)
	}

	if err := backend.Mux(ctx, videoPath, audioPath, output); err != nil {
		t.Fatalf("Mux failed: %v", err)
	}

	info, err := e.ProbeVideo(ctx, output)
	if err != nil {
		t.Fatalf("ProbeVideo on output failed: %v", err)
	}
	if !info.HasVideo || !info.HasAudio {
		t.Errorf("expected video and audio streams, got %+v", info)
	}
	if info.Width != 64 || info.Height != 64 {
		t.Errorf("expected 64x64, got %dx%d", info.Width, info.Height)
	}
	if math.Abs(info.Seconds()-1) > 0.15 {
		t.Errorf("expected about 1s, got %f", info.Seconds())
	}
	globalResults.Encoded = true
}

func TestDetectScenes(t *testing.T) {
	skipIfNoFFmpeg(t)

	path := generateMedia(t, t.TempDir(), 2, 30)
	e := newTestExecutor(t)

	ctx := context.Background()
	start := time.Now()
	scenes, err := e.DetectScenes(ctx, path, 0.3)
	elapsed := time.Since(start)

	if err != nil {
		globalResults.Errors = append(globalResults.Errors, fmt.Sprintf("DetectScenes failed: %v", err))
		t.Fatalf("DetectScenes failed: %v", err)
	}

	globalResults.ScenesFound = len(scenes)

	t.Logf("Found %d scene changes in %v", len(scenes), elapsed)
	for i, scene := range scenes {
		if i >= 5 {
			t.Logf("  ... and %d more", len(scenes)-5)
			break
		}
		t.Logf("  Scene %d: %.3fs", i+1, scene)
	}
}

func TestDetectSilence(t *testing.T) {
	skipIfNoFFmpeg(t)

	path := generateMedia(t, t.TempDir(), 2, 30)
	e := newTestExecutor(t)

	ctx := context.Background()
	start := time.Now()
	silences, err := e.DetectSilence(ctx, path, -30, 0.5)
	elapsed := time.Since(start)

	if err != nil {
		globalResults.Errors = append(globalResults.Errors, fmt.Sprintf("DetectSilence failed: %v", err))
		t.Fatalf("DetectSilence failed: %v", err)
	}

	globalResults.SilencesFound = len(silences)

	t.Logf("Found %d silence periods in %v", len(silences), elapsed)
	for i, silence := range silences {
		t.Logf("  Silence %d: %.2fs - %.2fs (%.2fs)",
			i+1, silence.Start, silence.End, silence.Duration)
	}
}

func TestAnalyzeVolume(t *testing.T) {
	skipIfNoFFmpeg(t)

	path := generateMedia(t, t.TempDir(), 2, 30)
	e := newTestExecutor(t)

	ctx := context.Background()
	start := time.Now()
	stats, err := e.AnalyzeVolume(ctx, path)
	elapsed := time.Since(start)

	if err != nil {
		globalResults.Errors = append(globalResults.Errors, fmt.Sprintf("AnalyzeVolume failed: %v", err))
		t.Fatalf("AnalyzeVolume failed: %v", err)
	}

	globalResults.VolumeStats = stats

	t.Logf("Volume analysis completed in %v:", elapsed)
	t.Logf("  Mean: %.2f dB", stats.MeanVolume)
	t.Logf("  Max: %.2f dB", stats.MaxVolume)

	if stats.MeanVolume < -100 {
		t.Error("Mean volume suspiciously low")
	}
}

func TestProbeVideoInvalidFile(t *testing.T) {
	skipIfNoFFmpeg(t)

	e := newTestExecutor(t)
	ctx := context.Background()

	_, err := e.ProbeVideo(ctx, "nonexistent.mp4")
	if err == nil {
		t.Error("ProbeVideo should fail for non-existent file")
	}
	t.Logf("Error (expected): %v", err)

	invalidPath := filepath.Join(t.TempDir(), "invalid.txt")
	if err := os.WriteFile(invalidPath, []byte("not a video"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err = e.ProbeVideo(ctx, invalidPath)
	if err == nil {
		t.Error("ProbeVideo should fail for invalid video file")
	}
	t.Logf("Error (expected): %v", err)
}

// TestMain runs after all tests and prints summary
func TestMain(m *testing.M) {
	code := m.Run()

	// Print summary
	printTestSummary()

	os.Exit(code)
}

func printTestSummary() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("🎬 TEST SUMMARY - FFmpeg Layer")
	fmt.Println(strings.Repeat("=", 80))

	if globalResults.ExecutorPath != "" {
		fmt.Printf("\n✓ FFmpeg Binary: %s\n", globalResults.ExecutorPath)
	}

	if globalResults.ProbeResults != nil {
		fmt.Println("\n📹 VIDEO PROBE RESULTS:")
		fmt.Printf("  Resolution:    %dx%d @ %.2f fps\n",
			globalResults.ProbeResults.Width,
			globalResults.ProbeResults.Height,
			globalResults.ProbeResults.FPS)
		fmt.Printf("  Duration:      %v\n", globalResults.ProbeResults.Duration)
		fmt.Printf("  Video Codec:   %s\n", globalResults.ProbeResults.VideoCodec)
		fmt.Printf("  Audio Codec:   %s\n", globalResults.ProbeResults.AudioCodec)
		fmt.Printf("  Probe Time:    %v\n", globalResults.TestDuration)
	}

	fmt.Println("\n🎬 PROCESSING RESULTS:")
	fmt.Printf("  🎞️  Frames Streamed:  %d\n", globalResults.FramesStreamed)
	if globalResults.Encoded {
		fmt.Println("  ✓ Encode + Mux:     SUCCESS")
	} else {
		fmt.Println("  ✗ Encode + Mux:     NOT RUN")
	}

	fmt.Printf("  🎞️  Scene Changes:    %d detected\n", globalResults.ScenesFound)

	if globalResults.SilencesFound > 0 {
		fmt.Printf("  🔇 Silence Periods:  %d detected\n", globalResults.SilencesFound)
	} else {
		fmt.Printf("  🔇 Silence Periods:  0 (continuous audio)\n")
	}

	if globalResults.VolumeStats != nil {
		fmt.Println("\n🔊 AUDIO ANALYSIS:")
		fmt.Printf("  Mean Volume:   %6.2f dB\n", globalResults.VolumeStats.MeanVolume)
		fmt.Printf("  Peak Volume:   %6.2f dB\n", globalResults.VolumeStats.MaxVolume)

		if globalResults.VolumeStats.MeanVolume > -12 {
			fmt.Println("  Quality:       ⚠️  May be too loud (risk of clipping)")
		} else if globalResults.VolumeStats.MeanVolume < -30 {
			fmt.Println("  Quality:       ⚠️  Low volume (may need normalization)")
		} else {
			fmt.Println("  Quality:       ✓ Good levels")
		}
	}

	if len(globalResults.Errors) > 0 {
		fmt.Println("\n❌ ERRORS ENCOUNTERED:")
		for i, err := range globalResults.Errors {
			fmt.Printf("  %d. %s\n", i+1, err)
		}
	} else {
		fmt.Println("\n✅ ALL TESTS PASSED - No critical errors")
	}

	fmt.Println(strings.Repeat("=", 80))
	fmt.Println()
}
