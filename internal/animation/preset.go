package animation

import "math"

// Props is the animatable base transform a preset deforms.
// Width and Height are the reference frame used for slide distances.
type Props struct {
	X        float64
	Y        float64
	Scale    float64
	Rotation float64
	Opacity  float64
	Width    float64
	Height   float64
}

// Kind classifies when a preset runs
type Kind int

const (
	KindNone Kind = iota
	KindIn
	KindOut
	KindLoop
)

func (k Kind) String() string {
	switch k {
	case KindIn:
		return "in"
	case KindOut:
		return "out"
	case KindLoop:
		return "loop"
	default:
		return "none"
	}
}

type presetFunc func(p Props, q float64) Props

type preset struct {
	kind Kind
	fn   presetFunc
}

var presets = map[string]preset{
	// in: q runs 0→1 over the first window of the clip, identity at 1
	"fadeIn": {KindIn, func(p Props, q float64) Props {
		p.Opacity *= easeOutCubic(q)
		return p
	}},
	"slideInLeft": {KindIn, func(p Props, q float64) Props {
		p.X -= (1 - easeOutCubic(q)) * p.Width
		return p
	}},
	"slideInRight": {KindIn, func(p Props, q float64) Props {
		p.X += (1 - easeOutCubic(q)) * p.Width
		return p
	}},
	"slideInUp": {KindIn, func(p Props, q float64) Props {
		p.Y += (1 - easeOutCubic(q)) * p.Height
		return p
	}},
	"slideInDown": {KindIn, func(p Props, q float64) Props {
		p.Y -= (1 - easeOutCubic(q)) * p.Height
		return p
	}},
	"zoomIn": {KindIn, func(p Props, q float64) Props {
		e := easeOutCubic(q)
		p.Scale *= 0.5 + 0.5*e
		p.Opacity *= e
		return p
	}},
	"rotateIn": {KindIn, func(p Props, q float64) Props {
		e := easeOutCubic(q)
		p.Rotation -= (1 - e) * 180
		p.Opacity *= e
		return p
	}},
	"bounceIn": {KindIn, func(p Props, q float64) Props {
		p.Scale *= bounceOut(q)
		return p
	}},
	"elasticIn": {KindIn, func(p Props, q float64) Props {
		p.Scale *= elasticOut(q)
		return p
	}},
	"popIn": {KindIn, func(p Props, q float64) Props {
		p.Scale *= backOut(q)
		p.Opacity *= math.Min(1, q*2)
		return p
	}},
	// text reveal is resolved from progress directly, the transform is untouched
	"typewriter": {KindIn, func(p Props, q float64) Props {
		return p
	}},

	// out: q runs 0→1 over the last window of the clip, identity at 0
	"fadeOut": {KindOut, func(p Props, q float64) Props {
		p.Opacity *= 1 - easeInCubic(q)
		return p
	}},
	"slideOutLeft": {KindOut, func(p Props, q float64) Props {
		p.X -= easeInCubic(q) * p.Width
		return p
	}},
	"slideOutRight": {KindOut, func(p Props, q float64) Props {
		p.X += easeInCubic(q) * p.Width
		return p
	}},
	"slideOutUp": {KindOut, func(p Props, q float64) Props {
		p.Y -= easeInCubic(q) * p.Height
		return p
	}},
	"slideOutDown": {KindOut, func(p Props, q float64) Props {
		p.Y += easeInCubic(q) * p.Height
		return p
	}},
	"zoomOut": {KindOut, func(p Props, q float64) Props {
		e := easeInCubic(q)
		p.Scale *= 1 - 0.5*e
		p.Opacity *= 1 - e
		return p
	}},
	"rotateOut": {KindOut, func(p Props, q float64) Props {
		e := easeInCubic(q)
		p.Rotation += e * 180
		p.Opacity *= 1 - e
		return p
	}},
	"bounceOut": {KindOut, func(p Props, q float64) Props {
		p.Scale *= 1 - bounceOut(q)
		return p
	}},
	"popOut": {KindOut, func(p Props, q float64) Props {
		p.Scale *= 1 - backIn(q)
		p.Opacity *= math.Min(1, (1-q)*2)
		return p
	}},

	// loop: q is the phase within one period, repeating across the whole clip
	"shake": {KindLoop, func(p Props, q float64) Props {
		p.X += math.Sin(q*2*math.Pi*4) * 0.01 * p.Width
		return p
	}},
	"pulse": {KindLoop, func(p Props, q float64) Props {
		p.Scale *= 1 + 0.05*math.Sin(q*2*math.Pi)
		return p
	}},
	"wobble": {KindLoop, func(p Props, q float64) Props {
		p.Rotation += 5 * math.Sin(q*2*math.Pi)
		return p
	}},
	"float": {KindLoop, func(p Props, q float64) Props {
		p.Y -= 0.01 * p.Height * math.Sin(q*2*math.Pi)
		return p
	}},
	"spin": {KindLoop, func(p Props, q float64) Props {
		p.Rotation += 360 * q
		return p
	}},
	"heartbeat": {KindLoop, func(p Props, q float64) Props {
		p.Scale *= 1 + 0.1*math.Max(0, math.Sin(q*4*math.Pi))
		return p
	}},
}

// DefaultLoopPeriod is used when a loop preset has no duration
const DefaultLoopPeriod = 1.0

// PresetKind classifies a preset name. Unknown names are KindNone.
func PresetKind(name string) Kind {
	if p, ok := presets[name]; ok {
		return p.kind
	}
	return KindNone
}

// Presets lists every known preset name
func Presets() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	return names
}

// ApplyPreset deforms p by the named preset at progress in [0, 1].
// Unknown names return p unchanged.
func ApplyPreset(p Props, name string, progress float64) Props {
	pr, ok := presets[name]
	if !ok {
		return p
	}
	if pr.kind != KindLoop {
		progress = clamp01(progress)
	}
	return pr.fn(p, progress)
}

// Progress computes a preset's progress at clipTime and whether it is active.
// In presets run over the first presetDuration seconds and hold at 1 afterwards.
// Out presets run over the last presetDuration seconds. Loop presets repeat with
// period presetDuration across the whole clip.
func Progress(kind Kind, clipTime, clipDuration, presetDuration float64) (float64, bool) {
	switch kind {
	case KindIn:
		if presetDuration <= 0 {
			return 1, false
		}
		return clamp01(clipTime / presetDuration), clipTime < presetDuration
	case KindOut:
		if presetDuration <= 0 {
			return 0, false
		}
		start := clipDuration - presetDuration
		if clipTime < start {
			return 0, false
		}
		return clamp01((clipTime - start) / presetDuration), true
	case KindLoop:
		period := presetDuration
		if period <= 0 {
			period = DefaultLoopPeriod
		}
		phase := math.Mod(clipTime/period, 1)
		if phase < 0 {
			phase += 1
		}
		return phase, true
	default:
		return 0, false
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func easeOutCubic(t float64) float64 {
	return 1 - math.Pow(1-t, 3)
}

func easeInCubic(t float64) float64 {
	return t * t * t
}

func backOut(t float64) float64 {
	const c1 = 1.70158
	const c3 = c1 + 1
	return 1 + c3*math.Pow(t-1, 3) + c1*math.Pow(t-1, 2)
}

func backIn(t float64) float64 {
	const c1 = 1.70158
	const c3 = c1 + 1
	return c3*t*t*t - c1*t*t
}

func bounceOut(t float64) float64 {
	const n1 = 7.5625
	const d1 = 2.75
	switch {
	case t < 1/d1:
		return n1 * t * t
	case t < 2/d1:
		t -= 1.5 / d1
		return n1*t*t + 0.75
	case t < 2.5/d1:
		t -= 2.25 / d1
		return n1*t*t + 0.9375
	default:
		t -= 2.625 / d1
		return n1*t*t + 0.984375
	}
}

func elasticOut(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	const c4 = (2 * math.Pi) / 3
	return math.Pow(2, -10*t)*math.Sin((t*10-0.75)*c4) + 1
}
