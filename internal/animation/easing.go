package animation

import (
	"encoding/json"
	"fmt"
	"math"
)

// Named easing curves
const (
	Linear    = "linear"
	Ease      = "ease"
	EaseIn    = "easeIn"
	EaseOut   = "easeOut"
	EaseInOut = "easeInOut"
)

var namedCurves = map[string][4]float64{
	Ease:      {0.25, 0.1, 0.25, 1},
	EaseIn:    {0.42, 0, 1, 1},
	EaseOut:   {0, 0, 0.58, 1},
	EaseInOut: {0.42, 0, 0.58, 1},
}

// Easing maps normalized progress to eased progress. The zero value is linear.
// In JSON it is either a curve name or a [x1, y1, x2, y2] cubic-Bézier control pair.
type Easing struct {
	Name   string
	Bezier [4]float64
	custom bool
}

// Named returns a named easing curve
func Named(name string) Easing {
	return Easing{Name: name}
}

// CubicBezier returns a custom cubic-Bézier easing with control points (x1,y1) and (x2,y2)
func CubicBezier(x1, y1, x2, y2 float64) Easing {
	return Easing{Bezier: [4]float64{x1, y1, x2, y2}, custom: true}
}

// IsCustom reports whether the easing uses explicit control points
func (e Easing) IsCustom() bool {
	return e.custom
}

// Apply returns the eased value of t, with t clamped to [0, 1]
func (e Easing) Apply(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}

	if e.custom {
		return solveBezier(e.Bezier, t)
	}
	if pts, ok := namedCurves[e.Name]; ok {
		return solveBezier(pts, t)
	}
	// linear and unknown names
	return t
}

// MarshalJSON writes a name or a control-point array
func (e Easing) MarshalJSON() ([]byte, error) {
	if e.custom {
		return json.Marshal(e.Bezier[:])
	}
	return json.Marshal(e.Name)
}

// UnmarshalJSON accepts a curve name or a 4-element control-point array
func (e *Easing) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*e = Easing{Name: name}
		return nil
	}

	var pts []float64
	if err := json.Unmarshal(data, &pts); err != nil {
		return fmt.Errorf("easing must be a name or [x1,y1,x2,y2]: %w", err)
	}
	if len(pts) != 4 {
		return fmt.Errorf("cubic-bezier easing needs 4 values, got %d", len(pts))
	}
	*e = CubicBezier(pts[0], pts[1], pts[2], pts[3])
	return nil
}

// solveBezier evaluates y at x for a unit cubic Bézier with endpoints (0,0) and (1,1)
func solveBezier(p [4]float64, x float64) float64 {
	x1, y1, x2, y2 := p[0], p[1], p[2], p[3]

	cx := 3 * x1
	bx := 3*(x2-x1) - cx
	ax := 1 - cx - bx
	cy := 3 * y1
	by := 3*(y2-y1) - cy
	ay := 1 - cy - by

	sampleX := func(s float64) float64 { return ((ax*s+bx)*s + cx) * s }
	sampleY := func(s float64) float64 { return ((ay*s+by)*s + cy) * s }
	slopeX := func(s float64) float64 { return (3*ax*s+2*bx)*s + cx }

	const epsilon = 1e-7

	s := x
	for i := 0; i < 8; i++ {
		dx := sampleX(s) - x
		if math.Abs(dx) < epsilon {
			return sampleY(s)
		}
		d := slopeX(s)
		if math.Abs(d) < 1e-6 {
			break
		}
		s -= dx / d
	}

	// bisection fallback
	lo, hi := 0.0, 1.0
	s = x
	for i := 0; i < 64 && lo < hi; i++ {
		v := sampleX(s)
		if math.Abs(v-x) < epsilon {
			break
		}
		if x > v {
			lo = s
		} else {
			hi = s
		}
		s = (lo + hi) / 2
	}
	return sampleY(s)
}
