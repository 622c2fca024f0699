package timeline

import "encoding/json"

func defaultClip() Clip {
	return Clip{
		Transform: Transform{
			Scale:   DefaultScale,
			Opacity: DefaultOpacity,
		},
		BlendMode:       BlendNormal,
		Fit:             FitContain,
		FilterIntensity: DefaultFilterIntensity,
		Volume:          DefaultVolume,
		Speed:           DefaultSpeed,
	}
}

func defaultText() Text {
	return Text{
		FontFamily: DefaultFontFamily,
		FontSize:   DefaultFontSize,
		Color:      DefaultTextColor,
		Align:      "center",
	}
}

func defaultMask() Mask {
	return Mask{Shape: MaskNone, Scale: DefaultScale}
}

// NewClip creates a clip with defaults applied and a fresh id
func NewClip(typ ClipType, source string, start, duration float64) *Clip {
	c := defaultClip()
	c.ID = NewID()
	c.Type = typ
	c.Source = source
	c.StartTime = start
	c.Duration = duration
	return &c
}

// NewText creates typography with defaults applied
func NewText(content string) *Text {
	t := defaultText()
	t.Content = content
	return &t
}

// UnmarshalJSON decodes a clip on top of the default values so absent
// fields resolve once, here, instead of at every read site.
func (c *Clip) UnmarshalJSON(data []byte) error {
	type alias Clip
	a := alias(defaultClip())
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*c = Clip(a)
	if c.Adjustments == nil {
		c.Adjustments = Adjustments{}
	}
	return nil
}

// UnmarshalJSON decodes typography on top of the default values
func (t *Text) UnmarshalJSON(data []byte) error {
	type alias Text
	a := alias(defaultText())
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*t = Text(a)
	return nil
}

// UnmarshalJSON decodes a mask on top of the default values
func (m *Mask) UnmarshalJSON(data []byte) error {
	type alias Mask
	a := alias(defaultMask())
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*m = Mask(a)
	return nil
}

// UnmarshalJSON decodes a timeline and restores canvas defaults and the duration invariant
func (tl *Timeline) UnmarshalJSON(data []byte) error {
	type alias Timeline
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*tl = Timeline(a)
	if tl.Width <= 0 {
		tl.Width = DefaultWidth
	}
	if tl.Height <= 0 {
		tl.Height = DefaultHeight
	}
	for _, tr := range tl.Tracks {
		if tr == nil {
			continue
		}
		if tr.Height <= 0 {
			tr.Height = DefaultTrackHeight
		}
	}
	tl.RecomputeDuration()
	return nil
}
