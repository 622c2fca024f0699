package resolver

import "github.com/kikiluvv/framecut/internal/timeline"

// Role marks a layer's part in a transition
type Role string

const (
	RoleIncoming Role = "incoming"
	RoleOutgoing Role = "outgoing"
)

// TransitionState is the transition a layer is participating in at this instant
type TransitionState struct {
	Type     string  `json:"type"`
	Progress float64 `json:"progress"`
	Role     Role    `json:"role"`
}

// Transform is a resolved placement in output pixels (X, Y) and percent (Scale)
type Transform struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Scale    float64 `json:"scale"`
	Rotation float64 `json:"rotation"`
}

// Layer is one fully-resolved visual contribution to a frame
type Layer struct {
	ClipID     string            `json:"clipId"`
	TrackID    string            `json:"trackId"`
	TrackIndex int               `json:"trackIndex"`
	Kind       timeline.ClipType `json:"kind"`

	// Clip references the timeline entity; it is never copied or mutated.
	Clip       *timeline.Clip `json:"-"`
	Source     string         `json:"source,omitempty"`
	Variant    string         `json:"variant,omitempty"`
	SourceTime float64        `json:"sourceTime"`
	ClipTime   float64        `json:"clipTime"`
	Duration   float64        `json:"duration"`

	Transform Transform          `json:"transform"`
	Opacity   float64            `json:"opacity"`
	BlendMode timeline.BlendMode `json:"blendMode"`
	Fit       timeline.Fit       `json:"fit"`
	Crop      timeline.Crop      `json:"crop"`

	Adjustments     timeline.Adjustments `json:"adjustments,omitempty"`
	Filter          string               `json:"filter,omitempty"`
	FilterIntensity float64              `json:"filterIntensity"`
	Mask            *timeline.Mask       `json:"mask,omitempty"`

	Text       *timeline.Text `json:"text,omitempty"`
	TextReveal float64        `json:"textReveal"`

	Transition        *TransitionState `json:"transition,omitempty"`
	BackgroundRemoval bool             `json:"backgroundRemoval,omitempty"`
}

// Visible reports whether the layer draws anything
func (l *Layer) Visible() bool {
	return l.Opacity > 0 && l.Transform.Scale != 0
}

// FrameState is the renderer-ready snapshot of a timeline at one instant
type FrameState struct {
	Time       float64 `json:"time"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	EditWidth  int     `json:"editWidth"`
	EditHeight int     `json:"editHeight"`
	Layers     []Layer `json:"layers"`

	// main track summary for consumers that preview a single global look
	MainAdjustments timeline.Adjustments `json:"mainAdjustments,omitempty"`
	MainFilter      string               `json:"mainFilter,omitempty"`
	HasVisible      bool                 `json:"hasVisible"`
}

// Override is a live drag or crop edit that wins over keyframes and presets
type Override struct {
	X        *float64       `json:"x,omitempty"`
	Y        *float64       `json:"y,omitempty"`
	Scale    *float64       `json:"scale,omitempty"`
	Rotation *float64       `json:"rotation,omitempty"`
	Opacity  *float64       `json:"opacity,omitempty"`
	Crop     *timeline.Crop `json:"crop,omitempty"`
}

// Settings are the global inputs to Resolve
type Settings struct {
	// OutputWidth and OutputHeight set the target surface; 0 means the edit canvas.
	OutputWidth  int
	OutputHeight int
	// Overrides are keyed by clip id.
	Overrides map[string]Override
	// TailHold is how far before its end an outgoing clip's held frame is taken.
	TailHold float64
	// Epsilon widens clip starts to absorb floating point drift.
	Epsilon float64
}

// Default resolver tolerances
const (
	DefaultEpsilon  = 0.01
	DefaultTailHold = 1.0 / 30
)

// VariantBackgroundRemoved is the media variant for segmented sources
const VariantBackgroundRemoved = "bg-removed"

func (s Settings) epsilon() float64 {
	if s.Epsilon > 0 {
		return s.Epsilon
	}
	return DefaultEpsilon
}

func (s Settings) tailHold() float64 {
	if s.TailHold > 0 {
		return s.TailHold
	}
	return DefaultTailHold
}

func (s Settings) output(editW, editH int) (int, int) {
	w, h := s.OutputWidth, s.OutputHeight
	switch {
	case w > 0 && h > 0:
		return w, h
	case w > 0:
		return w, max(1, w*editH/editW)
	case h > 0:
		return max(1, h*editW/editH), h
	}
	return editW, editH
}
