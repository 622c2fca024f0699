package timeline

import (
	"math"

	"github.com/kikiluvv/framecut/internal/animation"
)

// End returns the timeline time at which the clip stops
func (c *Clip) End() float64 {
	return c.StartTime + c.Duration
}

// Contains reports whether t falls in [start-eps, end)
func (c *Clip) Contains(t, eps float64) bool {
	return t >= c.StartTime-eps && t < c.End()
}

// EffectiveSpeed returns the playback multiplier, 1 when unset
func (c *Clip) EffectiveSpeed() float64 {
	if c.Speed <= 0 || math.IsNaN(c.Speed) || math.IsInf(c.Speed, 0) {
		return DefaultSpeed
	}
	return c.Speed
}

// SourceTime maps a clip-relative time to a position in the source,
// clamped to the known source length.
func (c *Clip) SourceTime(clipTime float64) float64 {
	st := c.StartOffset + clipTime*c.EffectiveSpeed()
	if st < 0 {
		st = 0
	}
	if c.SourceDuration > 0 && st > c.SourceDuration {
		st = c.SourceDuration
	}
	return st
}

// IsVisual reports whether the clip draws pixels
func (c *Clip) IsVisual() bool {
	switch c.Type {
	case ClipVideo, ClipImage, ClipText, ClipSticker, ClipAdjustment:
		return true
	}
	return false
}

// NeedsSource reports whether the clip must reference decodable media
func (c *Clip) NeedsSource() bool {
	switch c.Type {
	case ClipVideo, ClipImage, ClipAudio, ClipSticker:
		return true
	}
	return false
}

// Keyframe returns the keyframe list for a property name
func (c *Clip) Keyframe(name string) []animation.Keyframe {
	if c.Keyframes == nil {
		return nil
	}
	return c.Keyframes[name]
}

// Clone returns a deep copy of the clip
func (c *Clip) Clone() *Clip {
	out := *c
	if c.Keyframes != nil {
		out.Keyframes = make(map[string][]animation.Keyframe, len(c.Keyframes))
		for k, v := range c.Keyframes {
			out.Keyframes[k] = append([]animation.Keyframe(nil), v...)
		}
	}
	out.Animations = append([]Animation(nil), c.Animations...)
	if c.Transition != nil {
		tr := *c.Transition
		out.Transition = &tr
	}
	if c.Mask != nil {
		m := *c.Mask
		if c.Mask.Text != nil {
			txt := *c.Mask.Text
			m.Text = &txt
		}
		out.Mask = &m
	}
	if c.Text != nil {
		txt := *c.Text
		out.Text = &txt
	}
	out.Adjustments = c.Adjustments.Clone()
	return &out
}
