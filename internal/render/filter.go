package render

import (
	"image"
	"image/draw"
	"math"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/kikiluvv/framecut/internal/timeline"
)

// ColorMatrix is a 3x4 row-major affine color transform on unpremultiplied 0..1 RGB
type ColorMatrix [12]float64

// Identity is the neutral color matrix
var Identity = ColorMatrix{
	1, 0, 0, 0,
	0, 1, 0, 0,
	0, 0, 1, 0,
}

// Mul returns m applied after n
func (m ColorMatrix) Mul(n ColorMatrix) ColorMatrix {
	var out ColorMatrix
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			v := m[r*4]*n[c] + m[r*4+1]*n[4+c] + m[r*4+2]*n[8+c]
			if c == 3 {
				v += m[r*4+3]
			}
			out[r*4+c] = v
		}
	}
	return out
}

// Apply transforms one color without clamping
func (m ColorMatrix) Apply(r, g, b float64) (float64, float64, float64) {
	return m[0]*r + m[1]*g + m[2]*b + m[3],
		m[4]*r + m[5]*g + m[6]*b + m[7],
		m[8]*r + m[9]*g + m[10]*b + m[11]
}

// IsIdentity reports whether the matrix leaves colors unchanged
func (m ColorMatrix) IsIdentity() bool {
	for i := range m {
		if math.Abs(m[i]-Identity[i]) > 1e-9 {
			return false
		}
	}
	return true
}

func brightness(k float64) ColorMatrix {
	return ColorMatrix{k, 0, 0, 0, 0, k, 0, 0, 0, 0, k, 0}
}

func contrast(k float64) ColorMatrix {
	o := 0.5 - 0.5*k
	return ColorMatrix{k, 0, 0, o, 0, k, 0, o, 0, 0, k, o}
}

func saturate(s float64) ColorMatrix {
	return ColorMatrix{
		0.213 + 0.787*s, 0.715 - 0.715*s, 0.072 - 0.072*s, 0,
		0.213 - 0.213*s, 0.715 + 0.285*s, 0.072 - 0.072*s, 0,
		0.213 - 0.213*s, 0.715 - 0.715*s, 0.072 + 0.928*s, 0,
	}
}

func hueRotate(deg float64) ColorMatrix {
	rad := deg * math.Pi / 180
	c, s := math.Cos(rad), math.Sin(rad)
	return ColorMatrix{
		0.213 + c*0.787 - s*0.213, 0.715 - c*0.715 - s*0.715, 0.072 - c*0.072 + s*0.928, 0,
		0.213 - c*0.213 + s*0.143, 0.715 + c*0.285 + s*0.140, 0.072 - c*0.072 - s*0.283, 0,
		0.213 - c*0.213 - s*0.787, 0.715 - c*0.715 + s*0.715, 0.072 + c*0.928 + s*0.072, 0,
	}
}

func grayscale(amount float64) ColorMatrix {
	a := 1 - clamp01(amount)
	return ColorMatrix{
		0.2126 + 0.7874*a, 0.7152 - 0.7152*a, 0.0722 - 0.0722*a, 0,
		0.2126 - 0.2126*a, 0.7152 + 0.2848*a, 0.0722 - 0.0722*a, 0,
		0.2126 - 0.2126*a, 0.7152 - 0.7152*a, 0.0722 + 0.9278*a, 0,
	}
}

func sepia(amount float64) ColorMatrix {
	a := 1 - clamp01(amount)
	return ColorMatrix{
		0.393 + 0.607*a, 0.769 - 0.769*a, 0.189 - 0.189*a, 0,
		0.349 - 0.349*a, 0.686 + 0.314*a, 0.168 - 0.168*a, 0,
		0.272 - 0.272*a, 0.534 - 0.534*a, 0.131 + 0.869*a, 0,
	}
}

// Filter is the composed effect stack for one layer
type Filter struct {
	Matrix  ColorMatrix
	Blur    float64
	Sharpen float64
}

// Pixel radius per blur slider unit and sigma per sharpen unit
const (
	blurSigmaPerUnit    = 0.2
	sharpenSigmaPerUnit = 0.02
)

// IsNeutral reports whether the filter changes nothing
func (f Filter) IsNeutral() bool {
	return f.Matrix.IsIdentity() && f.Blur <= 0 && f.Sharpen <= 0
}

// BuildFilter folds the adjustment sliders, plus an optional named look at
// intensity percent, into a single filter.
func BuildFilter(adj timeline.Adjustments, look string, intensity float64) Filter {
	if d, ok := Looks[strings.ToLower(look)]; ok {
		adj = adj.Add(d, intensity/100)
	}

	g := adj.Get
	bright := 1 + g(timeline.AdjBrightness)/100 + g(timeline.AdjExposure)/150 +
		(g(timeline.AdjHighlights)+g(timeline.AdjShadows))/400 + g(timeline.AdjHSLLightness)/200 +
		(g(timeline.AdjWhites)+g(timeline.AdjBlacks))/400
	cont := 1 + g(timeline.AdjContrast)/100 + (g(timeline.AdjHighlights)-g(timeline.AdjShadows))/400 -
		g(timeline.AdjFade)/200 + g(timeline.AdjClarity)/400 + g(timeline.AdjDehaze)/300
	sat := 1 + g(timeline.AdjSaturation)/100 + g(timeline.AdjVibrance)/200 + g(timeline.AdjHSLSaturation)/200 -
		g(timeline.AdjFade)/200 + g(timeline.AdjDehaze)/400
	hue := g(timeline.AdjHue)*1.8 + g(timeline.AdjTemperature)*0.15 + g(timeline.AdjTint)*0.1

	// CSS order: brightness, contrast, saturate, hue-rotate, grayscale, sepia
	m := Identity
	if bright != 1 {
		m = brightness(math.Max(0, bright)).Mul(m)
	}
	if cont != 1 {
		m = contrast(math.Max(0, cont)).Mul(m)
	}
	if sat != 1 {
		m = saturate(math.Max(0, sat)).Mul(m)
	}
	if hue != 0 {
		m = hueRotate(hue).Mul(m)
	}
	if v := g(timeline.AdjGrayscale); v > 0 {
		m = grayscale(v / 100).Mul(m)
	}
	if v := g(timeline.AdjSepia); v > 0 {
		m = sepia(v / 100).Mul(m)
	}

	return Filter{
		Matrix:  m,
		Blur:    math.Max(0, g(timeline.AdjBlur)) * blurSigmaPerUnit,
		Sharpen: math.Max(0, g(timeline.AdjSharpen)) * sharpenSigmaPerUnit,
	}
}

// Looks are named filter presets expressed as slider deltas at full intensity
var Looks = map[string]map[string]float64{
	"vintage": {
		timeline.AdjSepia: 30, timeline.AdjContrast: -10, timeline.AdjSaturation: -20,
		timeline.AdjFade: 20, timeline.AdjVignette: 30,
	},
	"noir": {
		timeline.AdjGrayscale: 100, timeline.AdjContrast: 30, timeline.AdjBrightness: -5,
	},
	"warm":      {timeline.AdjTemperature: 30, timeline.AdjSaturation: 10},
	"cool":      {timeline.AdjTemperature: -30, timeline.AdjTint: -5},
	"vivid":     {timeline.AdjSaturation: 40, timeline.AdjVibrance: 20, timeline.AdjContrast: 10},
	"dramatic":  {timeline.AdjContrast: 40, timeline.AdjSaturation: -10, timeline.AdjVignette: 40},
	"faded":     {timeline.AdjFade: 40, timeline.AdjBrightness: 5},
	"sepia":     {timeline.AdjSepia: 100},
	"mono":      {timeline.AdjGrayscale: 100},
	"cinematic": {timeline.AdjContrast: 20, timeline.AdjSaturation: -15, timeline.AdjTemperature: -10, timeline.AdjVignette: 25},
}

// applyMatrix transforms the premultiplied pixels of img within r, clamping once
func applyMatrix(img *image.RGBA, r image.Rectangle, m ColorMatrix) {
	r = r.Intersect(img.Rect)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		i := img.PixOffset(r.Min.X, y)
		for x := r.Min.X; x < r.Max.X; x, i = x+1, i+4 {
			a := img.Pix[i+3]
			if a == 0 {
				continue
			}
			af := float64(a) / 255
			cr := float64(img.Pix[i]) / 255 / af
			cg := float64(img.Pix[i+1]) / 255 / af
			cb := float64(img.Pix[i+2]) / 255 / af
			nr, ng, nb := m.Apply(cr, cg, cb)
			img.Pix[i] = to8(clamp01(nr) * af)
			img.Pix[i+1] = to8(clamp01(ng) * af)
			img.Pix[i+2] = to8(clamp01(nb) * af)
		}
	}
}

// applyFilter runs the full stack on img restricted to r
func applyFilter(img *image.RGBA, r image.Rectangle, f Filter) {
	if !f.Matrix.IsIdentity() {
		applyMatrix(img, r, f.Matrix)
	}
	r = r.Intersect(img.Rect)
	if r.Empty() {
		return
	}
	if f.Blur > 0 {
		out := imaging.Blur(img.SubImage(r), f.Blur)
		draw.Draw(img, r, out, image.Point{}, draw.Src)
	}
	if f.Sharpen > 0 {
		out := imaging.Sharpen(img.SubImage(r), f.Sharpen)
		draw.Draw(img, r, out, image.Point{}, draw.Src)
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

func to8(v float64) uint8 {
	return uint8(v*255 + 0.5)
}
