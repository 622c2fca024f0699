package resolver

import (
	"math"
	"strings"

	"github.com/kikiluvv/framecut/internal/animation"
	"github.com/kikiluvv/framecut/internal/timeline"
)

var adjustmentNames = func() map[string]bool {
	m := make(map[string]bool, len(timeline.AdjustmentNames))
	for _, n := range timeline.AdjustmentNames {
		m[n] = true
	}
	return m
}()

// Resolve collapses the timeline into the frame state at time t.
// It has no side effects and never fails: clips that cannot be resolved
// are skipped so one bad clip cannot blank the frame.
func Resolve(tl *timeline.Timeline, t float64, s Settings) FrameState {
	if tl == nil {
		return FrameState{Time: t}
	}

	editW, editH := tl.Canvas()
	outW, outH := s.output(editW, editH)
	fs := FrameState{
		Time:       t,
		Width:      outW,
		Height:     outH,
		EditWidth:  editW,
		EditHeight: editH,
	}
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return fs
	}

	sx := float64(outW) / float64(editW)
	sy := float64(outH) / float64(editH)
	eps := s.epsilon()

	var media, adjust, overlay []Layer
	mainSet := false

	for i, tr := range tl.Tracks {
		if tr == nil || tr.Hidden || tr.Kind == timeline.TrackAudio {
			continue
		}

		c := activeClip(tr, t, eps)
		if c == nil {
			continue
		}

		if !mainSet && tr.Kind == timeline.TrackVideo {
			fs.MainAdjustments = c.Adjustments.Clone()
			fs.MainFilter = c.Filter
			mainSet = true
		}

		layers := resolveTrackClip(tr, i, c, t, s, editW, editH, eps)
		for j := range layers {
			scaleLayer(&layers[j], sx, sy)
		}

		switch {
		case tr.Kind == timeline.TrackAdjustment || c.Type == timeline.ClipAdjustment:
			adjust = append(adjust, layers...)
		case tr.Kind == timeline.TrackText || tr.Kind == timeline.TrackSticker:
			overlay = append(overlay, layers...)
		default:
			media = append(media, layers...)
		}
	}

	fs.Layers = make([]Layer, 0, len(media)+len(adjust)+len(overlay))
	fs.Layers = append(fs.Layers, media...)
	fs.Layers = append(fs.Layers, adjust...)
	fs.Layers = append(fs.Layers, overlay...)

	for i := range fs.Layers {
		l := &fs.Layers[i]
		if l.Kind != timeline.ClipAdjustment && l.Visible() {
			fs.HasVisible = true
			break
		}
	}

	return fs
}

// activeClip returns the first well-formed clip whose interval contains t
func activeClip(tr *timeline.Track, t, eps float64) *timeline.Clip {
	for _, c := range tr.Clips {
		if !usable(c) {
			continue
		}
		if c.Contains(t, eps) {
			return c
		}
	}
	return nil
}

func usable(c *timeline.Clip) bool {
	if c == nil || !c.IsVisual() {
		return false
	}
	if !(c.Duration > 0) || math.IsInf(c.Duration, 0) || math.IsNaN(c.StartTime) {
		return false
	}
	if c.NeedsSource() && c.Source == "" {
		return false
	}
	if c.Type == timeline.ClipText && c.Text == nil {
		return false
	}
	return true
}

// predecessor returns the clip ending where c starts on the same track
func predecessor(tr *timeline.Track, c *timeline.Clip, eps float64) *timeline.Clip {
	for _, p := range tr.Clips {
		if p == c || !usable(p) {
			continue
		}
		if math.Abs(p.End()-c.StartTime) <= eps {
			return p
		}
	}
	return nil
}

func resolveTrackClip(tr *timeline.Track, index int, c *timeline.Clip, t float64, s Settings, editW, editH int, eps float64) []Layer {
	clipTime := math.Max(0, t-c.StartTime)
	in := resolveClip(tr, index, c, clipTime, s, editW, editH)

	if !c.Transition.Active() || clipTime >= c.Transition.Duration {
		return []Layer{in}
	}

	p := clipTime / c.Transition.Duration
	kind := strings.ToLower(c.Transition.Type)
	outgoing := applyTransition(&in, kind, p, float64(editW), float64(editH))
	if !outgoing {
		return []Layer{in}
	}

	prev := predecessor(tr, c, eps)
	if prev == nil {
		return []Layer{in}
	}

	tail := math.Max(0, prev.Duration-s.tailHold())
	out := resolveClip(tr, index, prev, tail, s, editW, editH)
	out.Transition = &TransitionState{Type: c.Transition.Type, Progress: p, Role: RoleOutgoing}
	return []Layer{out, in}
}

// applyTransition deforms the incoming layer and reports whether the outgoing
// clip stays visible underneath.
func applyTransition(l *Layer, kind string, p, w, h float64) bool {
	state := &TransitionState{Type: l.Clip.Transition.Type, Progress: p, Role: RoleIncoming}

	switch kind {
	case "mix", "dissolve", "crossfade":
		l.Opacity *= p
	case "fade", "fadeblack", "fromblack":
		l.Opacity *= p
		l.Transition = state
		return false
	case "slideleft":
		l.Transform.X += (1 - p) * w
	case "slideright":
		l.Transform.X -= (1 - p) * w
	case "slideup":
		l.Transform.Y += (1 - p) * h
	case "slidedown":
		l.Transform.Y -= (1 - p) * h
	case "zoom", "zoomin":
		l.Transform.Scale *= 0.5 + 0.5*p
		l.Opacity *= p
	case "wipeleft", "wiperight", "wipeup", "wipedown", "circle":
		// revealed by the renderer
	default:
		return false
	}

	l.Transition = state
	return true
}

func resolveClip(tr *timeline.Track, index int, c *timeline.Clip, clipTime float64, s Settings, editW, editH int) Layer {
	tf := c.Transform
	props := animation.Props{
		X:        animation.Interpolate(clipTime, c.Keyframe("x"), tf.X),
		Y:        animation.Interpolate(clipTime, c.Keyframe("y"), tf.Y),
		Scale:    animation.Interpolate(clipTime, c.Keyframe("scale"), tf.Scale),
		Rotation: animation.Interpolate(clipTime, c.Keyframe("rotation"), tf.Rotation),
		Opacity:  animation.Interpolate(clipTime, c.Keyframe("opacity"), tf.Opacity),
		Width:    float64(editW),
		Height:   float64(editH),
	}

	reveal := 1.0
	for _, a := range c.Animations {
		kind := animation.PresetKind(a.Type)
		q, active := animation.Progress(kind, clipTime, c.Duration, a.Duration)
		if !active {
			continue
		}
		if a.Type == "typewriter" {
			reveal = q
		}
		props = animation.ApplyPreset(props, a.Type, q)
	}

	crop := timeline.Crop{
		Left:   animation.Interpolate(clipTime, c.Keyframe("crop.left"), c.Crop.Left),
		Top:    animation.Interpolate(clipTime, c.Keyframe("crop.top"), c.Crop.Top),
		Right:  animation.Interpolate(clipTime, c.Keyframe("crop.right"), c.Crop.Right),
		Bottom: animation.Interpolate(clipTime, c.Keyframe("crop.bottom"), c.Crop.Bottom),
	}

	if ov, ok := s.Overrides[c.ID]; ok {
		if ov.X != nil {
			props.X = *ov.X
		}
		if ov.Y != nil {
			props.Y = *ov.Y
		}
		if ov.Scale != nil {
			props.Scale = *ov.Scale
		}
		if ov.Rotation != nil {
			props.Rotation = *ov.Rotation
		}
		if ov.Opacity != nil {
			props.Opacity = *ov.Opacity
		}
		if ov.Crop != nil {
			crop = *ov.Crop
		}
	}

	adj := c.Adjustments.Clone()
	for name, kfs := range c.Keyframes {
		if adjustmentNames[name] {
			adj[name] = animation.Interpolate(clipTime, kfs, adj[name])
		}
	}

	l := Layer{
		ClipID:          c.ID,
		TrackID:         tr.ID,
		TrackIndex:      index,
		Kind:            c.Type,
		Clip:            c,
		Source:          c.Source,
		SourceTime:      c.SourceTime(clipTime),
		ClipTime:        clipTime,
		Duration:        c.Duration,
		Transform:       Transform{X: props.X, Y: props.Y, Scale: props.Scale, Rotation: props.Rotation},
		Opacity:         clampPercent(props.Opacity),
		BlendMode:       c.BlendMode,
		Fit:             c.Fit,
		Crop:            sanitizeCrop(crop),
		Adjustments:     adj,
		Filter:          c.Filter,
		FilterIntensity: c.FilterIntensity,
		Mask:            resolveMask(c, clipTime),
		TextReveal:      reveal,
	}
	if l.BlendMode == "" {
		l.BlendMode = timeline.BlendNormal
	}
	if l.Fit == "" {
		l.Fit = timeline.FitContain
	}
	if c.Text != nil {
		txt := *c.Text
		l.Text = &txt
	}
	if c.BackgroundRemoval {
		l.BackgroundRemoval = true
		l.Variant = VariantBackgroundRemoved
	}
	return l
}

func resolveMask(c *timeline.Clip, clipTime float64) *timeline.Mask {
	if !c.Mask.Enabled() {
		return nil
	}
	m := *c.Mask
	m.X = animation.Interpolate(clipTime, c.Keyframe("mask.x"), m.X)
	m.Y = animation.Interpolate(clipTime, c.Keyframe("mask.y"), m.Y)
	m.Scale = animation.Interpolate(clipTime, c.Keyframe("mask.scale"), m.Scale)
	m.Rotation = animation.Interpolate(clipTime, c.Keyframe("mask.rotation"), m.Rotation)
	m.Blur = animation.Interpolate(clipTime, c.Keyframe("mask.blur"), m.Blur)
	if c.Mask.Text != nil {
		txt := *c.Mask.Text
		m.Text = &txt
	}
	return &m
}

// scaleLayer converts absolute pixel values from edit to output coordinates.
// Percentages are resolution independent and stay as they are.
func scaleLayer(l *Layer, sx, sy float64) {
	if sx == 1 && sy == 1 {
		return
	}
	l.Transform.X *= sx
	l.Transform.Y *= sy
	if v := l.Adjustments.Get(timeline.AdjBlur); v != 0 {
		l.Adjustments[timeline.AdjBlur] = v * sy
	}
	if v := l.Adjustments.Get(timeline.AdjSharpen); v != 0 {
		l.Adjustments[timeline.AdjSharpen] = v * sy
	}
	if l.Mask != nil {
		l.Mask.Blur *= sy
	}
}

func clampPercent(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func sanitizeCrop(c timeline.Crop) timeline.Crop {
	clampInset := func(v float64) float64 {
		if math.IsNaN(v) || v < 0 {
			return 0
		}
		if v > 99 {
			return 99
		}
		return v
	}
	c.Left, c.Right = clampInset(c.Left), clampInset(c.Right)
	c.Top, c.Bottom = clampInset(c.Top), clampInset(c.Bottom)
	if s := c.Left + c.Right; s >= 99 {
		c.Left, c.Right = c.Left*99/s, c.Right*99/s
	}
	if s := c.Top + c.Bottom; s >= 99 {
		c.Top, c.Bottom = c.Top*99/s, c.Bottom*99/s
	}
	return c
}
