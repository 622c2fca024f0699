package timeline

import (
	"github.com/google/uuid"
	"github.com/kikiluvv/framecut/internal/animation"
)

// TrackKind is the kind of lane a track represents
type TrackKind string

const (
	TrackVideo      TrackKind = "video"
	TrackAudio      TrackKind = "audio"
	TrackText       TrackKind = "text"
	TrackSticker    TrackKind = "sticker"
	TrackAdjustment TrackKind = "adjustment"
)

// ClipType identifies what a clip references
type ClipType string

const (
	ClipVideo      ClipType = "video"
	ClipImage      ClipType = "image"
	ClipAudio      ClipType = "audio"
	ClipText       ClipType = "text"
	ClipSticker    ClipType = "sticker"
	ClipAdjustment ClipType = "adjustment"
)

// Fit controls how media is fitted to the canvas
type Fit string

const (
	FitContain Fit = "contain"
	FitCover   Fit = "cover"
	FitFill    Fit = "fill"
)

// BlendMode names a compositing blend mode
type BlendMode string

const (
	BlendNormal     BlendMode = "normal"
	BlendMultiply   BlendMode = "multiply"
	BlendScreen     BlendMode = "screen"
	BlendOverlay    BlendMode = "overlay"
	BlendDarken     BlendMode = "darken"
	BlendLighten    BlendMode = "lighten"
	BlendColorDodge BlendMode = "colorDodge"
	BlendColorBurn  BlendMode = "colorBurn"
	BlendHardLight  BlendMode = "hardLight"
	BlendSoftLight  BlendMode = "softLight"
	BlendDifference BlendMode = "difference"
	BlendExclusion  BlendMode = "exclusion"
	BlendAdd        BlendMode = "add"
)

// MaskShape names a mask geometry
type MaskShape string

const (
	MaskNone      MaskShape = "none"
	MaskRectangle MaskShape = "rectangle"
	MaskCircle    MaskShape = "circle"
	MaskStar      MaskShape = "star"
	MaskHeart     MaskShape = "heart"
	MaskFilmstrip MaskShape = "filmstrip"
	MaskText      MaskShape = "text"
)

// Default canvas and clip values
const (
	DefaultWidth           = 1920
	DefaultHeight          = 1080
	DefaultScale           = 100.0
	DefaultOpacity         = 100.0
	DefaultVolume          = 100.0
	DefaultSpeed           = 1.0
	DefaultFilterIntensity = 100.0
	DefaultFontSize        = 64.0
	DefaultFontFamily      = "sans"
	DefaultTextColor       = "#ffffff"
	DefaultTrackHeight     = 60
)

// Timeline is the full editable project
type Timeline struct {
	Tracks   []*Track `json:"tracks"`
	Duration float64  `json:"duration"`
	Width    int      `json:"width"`
	Height   int      `json:"height"`
}

// Track is an ordered lane of clips
type Track struct {
	ID     string    `json:"id"`
	Kind   TrackKind `json:"kind"`
	Name   string    `json:"name,omitempty"`
	Height int       `json:"height,omitempty"`
	Clips  []*Clip   `json:"clips"`
	Muted  bool      `json:"muted,omitempty"`
	Hidden bool      `json:"hidden,omitempty"`
}

// Transform is a clip's spatial placement. X and Y are pixel offsets from the
// canvas centre, Scale and Opacity are percentages, Rotation is degrees.
type Transform struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Scale    float64 `json:"scale"`
	Rotation float64 `json:"rotation"`
	Opacity  float64 `json:"opacity"`
}

// Crop holds percentage insets relative to the fitted media rectangle
type Crop struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
}

// IsZero reports whether no inset is set
func (c Crop) IsZero() bool {
	return c.Left == 0 && c.Top == 0 && c.Right == 0 && c.Bottom == 0
}

// Animation is a named preset with a window length in seconds
type Animation struct {
	Type     string  `json:"type"`
	Duration float64 `json:"duration"`
}

// Transition describes how a clip blends in from its predecessor on the same track
type Transition struct {
	Type     string  `json:"type"`
	Duration float64 `json:"duration"`
}

// Active reports whether the transition is more than a hard cut
func (t *Transition) Active() bool {
	return t != nil && t.Type != "" && t.Type != "none" && t.Duration > 0
}

// Mask clips a layer to a shape. X and Y offset the shape centre as a
// percentage of the layer size, Scale is a percentage, Blur is pixels.
type Mask struct {
	Shape    MaskShape `json:"shape"`
	X        float64   `json:"x"`
	Y        float64   `json:"y"`
	Scale    float64   `json:"scale"`
	Rotation float64   `json:"rotation"`
	Blur     float64   `json:"blur"`
	Invert   bool      `json:"invert,omitempty"`
	Text     *Text     `json:"text,omitempty"`
}

// Enabled reports whether the mask clips anything
func (m *Mask) Enabled() bool {
	return m != nil && m.Shape != "" && m.Shape != MaskNone
}

// Text holds typography for text clips and text masks
type Text struct {
	Content    string  `json:"content"`
	FontFamily string  `json:"fontFamily"`
	FontSize   float64 `json:"fontSize"`
	FontWeight string  `json:"fontWeight,omitempty"`
	FontStyle  string  `json:"fontStyle,omitempty"`
	Color      string  `json:"color"`
	Align      string  `json:"align,omitempty"`
}

// Clip is a placed, trimmed reference to a media source or inline content
type Clip struct {
	ID             string   `json:"id"`
	Type           ClipType `json:"type"`
	Name           string   `json:"name,omitempty"`
	Source         string   `json:"source,omitempty"`
	StartTime      float64  `json:"startTime"`
	Duration       float64  `json:"duration"`
	StartOffset    float64  `json:"startOffset,omitempty"`
	SourceDuration float64  `json:"sourceDuration,omitempty"`

	Transform Transform `json:"transform"`
	BlendMode BlendMode `json:"blendMode,omitempty"`
	Fit       Fit       `json:"fit,omitempty"`
	Crop      Crop      `json:"crop"`

	Keyframes  map[string][]animation.Keyframe `json:"keyframes,omitempty"`
	Animations []Animation                     `json:"animations,omitempty"`
	Transition *Transition                     `json:"transition,omitempty"`
	Mask       *Mask                           `json:"mask,omitempty"`

	Adjustments     Adjustments `json:"adjustments,omitempty"`
	Filter          string      `json:"filter,omitempty"`
	FilterIntensity float64     `json:"filterIntensity"`

	Text *Text `json:"text,omitempty"`

	Volume        float64 `json:"volume"`
	FadeIn        float64 `json:"fadeIn,omitempty"`
	FadeOut       float64 `json:"fadeOut,omitempty"`
	Speed         float64 `json:"speed"`
	VoiceEffect   string  `json:"voiceEffect,omitempty"`
	AudioDetached bool    `json:"audioDetached,omitempty"`
	Muted         bool    `json:"muted,omitempty"`

	BackgroundRemoval bool `json:"backgroundRemoval,omitempty"`
}

// NewID returns a fresh clip or track identifier
func NewID() string {
	return uuid.NewString()
}
