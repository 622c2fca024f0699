// Package export renders a timeline frame by frame into an encoded,
// muxed video file. Jobs are sequential: one frame is resolved, decoded,
// rendered and encoded before the next begins.
package export

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/kikiluvv/framecut/internal/audio"
)

// State is a step of the export state machine
type State string

// Export states in pipeline order, followed by the terminal states
const (
	StateIdle           State = "idle"
	StateInitializing   State = "initializing"
	StateRenderingVideo State = "rendering-video"
	StateRenderingAudio State = "rendering-audio"
	StateEncodingAudio  State = "encoding-audio"
	StateFinalizing     State = "finalizing"
	StateCompleted      State = "completed"
	StateAborted        State = "aborted"
	StateFailed         State = "failed"
)

// Terminal reports whether no further transitions can happen
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateAborted || s == StateFailed
}

// ErrAborted is returned by Run when the job was cancelled. Job.Err stays nil.
var ErrAborted = errors.New("export aborted")

// StepError is the single terminal error of a failed job
type StepError struct {
	Step State
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// VideoSettings describe the encoded video stream
type VideoSettings struct {
	Width   int
	Height  int
	FPS     float64
	Bitrate int64
	Profile Profile
	HWAccel string
}

// AudioSettings describe the encoded audio stream
type AudioSettings struct {
	SampleRate int
	Channels   int
	Bitrate    int64
}

// VideoEncoder consumes rendered frames in presentation order. The surface
// is reused by the caller after Encode returns.
type VideoEncoder interface {
	Encode(frame *image.RGBA, pts, duration float64) error
	// Close flushes pending frames and finalizes the file.
	Close() error
}

// AudioEncoder consumes fixed-size interleaved chunks in order
type AudioEncoder interface {
	Encode(chunk audio.Chunk) error
	Close() error
}

// Backend creates encoders and muxes their outputs
type Backend interface {
	NewVideoEncoder(ctx context.Context, path string, s VideoSettings) (VideoEncoder, error)
	NewAudioEncoder(ctx context.Context, path string, s AudioSettings) (AudioEncoder, error)
	Mux(ctx context.Context, video, audio, output string) error
}

// Update is a progress report delivered to a ProgressFunc
type Update struct {
	JobID    string
	State    State
	Progress float64
	Frame    int
	Total    int
}

// ProgressFunc receives throttled progress updates
type ProgressFunc func(Update)
