package ffmpeg

import (
	"io"
	"time"
)

// VideoInfo contains metadata about a media file
type VideoInfo struct {
	FilePath     string
	Duration     time.Duration
	Width        int
	Height       int
	FPS          float64
	Bitrate      int64
	VideoCodec   string
	HasVideo     bool
	HasAudio     bool
	AudioCodec   string
	AudioBitrate int64
	SampleRate   int
	Channels     int
}

// Seconds returns the duration in seconds
func (v *VideoInfo) Seconds() float64 {
	return v.Duration.Seconds()
}

// Progress represents ffmpeg progress data
type Progress struct {
	Frame      int
	FPS        float64
	Bitrate    string
	Time       string
	Speed      string
	Percentage float64
}

// RunOptions configures ffmpeg execution
type RunOptions struct {
	Args            []string
	ProgressHandler func(*Progress)
	LogHandler      func(line string)

	// Stdin feeds the process; Stdout receives raw stdout instead of the log handler.
	Stdin  io.Reader
	Stdout io.Writer
}

// Default encoding settings
const (
	DefaultPreset     = "medium"
	DefaultVideoCodec = "libx264"
	DefaultAudioCodec = "aac"
	DefaultFPS        = 30.0
)

// Hardware acceleration modes
const (
	HWAccelAuto         = "auto"
	HWAccelNone         = "none"
	HWAccelVideoToolbox = "videotoolbox"
	HWAccelNVENC        = "nvenc"
	HWAccelVAAPI        = "vaapi"
)

// ProgressFunc is a callback for progress updates during ffmpeg operations.
// Called periodically with progress information as the operation executes.
type ProgressFunc func(*Progress)
