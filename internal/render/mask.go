package render

import (
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/kikiluvv/framecut/internal/resolver"
	"github.com/kikiluvv/framecut/internal/timeline"
	"github.com/srwiley/rasterx"
	"golang.org/x/image/math/fixed"
)

const (
	starInnerRatio = 0.45
	heartSamples   = 72
	filmstripHoles = 12
	filmstripHole  = 0.06
)

type point struct{ x, y float64 }

// shapeMask rasterizes a mask in the layer's local w x h space
func shapeMask(m *timeline.Mask, w, h, canvasH int, fonts *FontRegistry) *image.Alpha {
	fw, fh := float64(w), float64(h)
	cx, cy := fw/2+m.X/100*fw, fh/2+m.Y/100*fh
	s := m.Scale / 100
	radius := math.Min(fw, fh) * s / 2

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	if m.Shape == timeline.MaskText {
		textMask(img, m, cx, cy, s, canvasH, fonts)
	} else {
		scanner := rasterx.NewScannerGV(w, h, img, img.Bounds())
		filler := rasterx.NewFiller(w, h, scanner)
		filler.SetColor(color.White)

		rot := func(pts []point) []point {
			return rotate(pts, cx, cy, m.Rotation)
		}
		switch m.Shape {
		case timeline.MaskRectangle:
			polygon(filler, rot(rectPoints(cx, cy, fw*s/2, fh*s/2)))
		case timeline.MaskCircle:
			rasterx.AddCircle(cx, cy, radius, filler)
		case timeline.MaskStar:
			polygon(filler, rot(starPoints(cx, cy, radius)))
		case timeline.MaskHeart:
			polygon(filler, rot(heartPoints(cx, cy, radius)))
		case timeline.MaskFilmstrip:
			filler.SetWinding(false)
			hw, hh := fw*s/2, fh*s/2
			polygon(filler, rot(rectPoints(cx, cy, hw, hh)))
			hole := fh * s * filmstripHole
			step := 2 * hw / filmstripHoles
			for i := 0; i < filmstripHoles; i++ {
				x := cx - hw + step*(float64(i)+0.5)
				for _, y := range []float64{cy - hh + hole, cy + hh - hole} {
					polygon(filler, rot(rectPoints(x, y, hole/2, hole/2)))
				}
			}
		}
		filler.Draw()
	}

	var src image.Image = img
	if m.Blur > 0 {
		src = imaging.Blur(img, m.Blur)
	}

	out := image.NewAlpha(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			_, _, _, a := src.At(x, y).RGBA()
			v := uint8(a >> 8)
			if m.Invert {
				v = 255 - v
			}
			out.Pix[y*out.Stride+x] = v
		}
	}
	return out
}

// textMask draws glyph coverage so media shows through the letters
func textMask(dst *image.RGBA, m *timeline.Mask, cx, cy, scale float64, canvasH int, fonts *FontRegistry) {
	if m.Text == nil || fonts == nil || strings.TrimSpace(m.Text.Content) == "" {
		return
	}
	face, err := textFace(fonts, m.Text, canvasH, scale)
	if err != nil {
		return
	}
	lines, widths, bw, bh := layoutText(face, m.Text.Content)
	origin := image.Pt(int(cx)-bw/2, int(cy)-bh/2)
	drawLines(dst, face, lines, widths, bw, origin, m.Text.Align, image.White, len([]rune(m.Text.Content)))
}

func polygon(f *rasterx.Filler, pts []point) {
	if len(pts) == 0 {
		return
	}
	f.Start(toFixed(pts[0]))
	for _, p := range pts[1:] {
		f.Line(toFixed(p))
	}
	f.Stop(true)
}

func toFixed(p point) fixed.Point26_6 {
	return rasterx.ToFixedP(p.x, p.y)
}

func rectPoints(cx, cy, hw, hh float64) []point {
	return []point{{cx - hw, cy - hh}, {cx + hw, cy - hh}, {cx + hw, cy + hh}, {cx - hw, cy + hh}}
}

func starPoints(cx, cy, r float64) []point {
	pts := make([]point, 0, 10)
	for i := 0; i < 10; i++ {
		rr := r
		if i%2 == 1 {
			rr = r * starInnerRatio
		}
		a := -math.Pi/2 + float64(i)*math.Pi/5
		pts = append(pts, point{cx + rr*math.Cos(a), cy + rr*math.Sin(a)})
	}
	return pts
}

func heartPoints(cx, cy, r float64) []point {
	k := r / 17
	pts := make([]point, 0, heartSamples)
	for i := 0; i < heartSamples; i++ {
		t := 2 * math.Pi * float64(i) / heartSamples
		x := 16 * math.Pow(math.Sin(t), 3)
		y := 13*math.Cos(t) - 5*math.Cos(2*t) - 2*math.Cos(3*t) - math.Cos(4*t)
		pts = append(pts, point{cx + x*k, cy - y*k})
	}
	return pts
}

func rotate(pts []point, cx, cy, deg float64) []point {
	if deg == 0 {
		return pts
	}
	rad := deg * math.Pi / 180
	c, s := math.Cos(rad), math.Sin(rad)
	for i, p := range pts {
		dx, dy := p.x-cx, p.y-cy
		pts[i] = point{cx + dx*c - dy*s, cy + dx*s + dy*c}
	}
	return pts
}

// applyAlpha multiplies img's pixels in r by mask coverage
func applyAlpha(img *image.RGBA, r image.Rectangle, mask *image.Alpha) {
	r = r.Intersect(img.Rect)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		i := img.PixOffset(r.Min.X, y)
		for x := r.Min.X; x < r.Max.X; x, i = x+1, i+4 {
			a := uint32(mask.AlphaAt(x, y).A)
			if a == 255 {
				continue
			}
			for c := 0; c < 4; c++ {
				img.Pix[i+c] = uint8(uint32(img.Pix[i+c]) * a / 255)
			}
		}
	}
}

// revealMask is the canvas-space coverage of a wipe or circle transition
func revealMask(ts *resolver.TransitionState, r image.Rectangle, w, h int) *image.Alpha {
	if ts == nil || ts.Role != resolver.RoleIncoming {
		return nil
	}
	p := clamp01(ts.Progress)
	kind := strings.ToLower(ts.Type)

	var inside func(x, y float64) bool
	fw, fh := float64(w), float64(h)
	switch kind {
	case "wipeleft":
		inside = func(x, _ float64) bool { return x >= (1-p)*fw }
	case "wiperight":
		inside = func(x, _ float64) bool { return x < p*fw }
	case "wipeup":
		inside = func(_, y float64) bool { return y >= (1-p)*fh }
	case "wipedown":
		inside = func(_, y float64) bool { return y < p*fh }
	case "circle":
		rad := p * math.Hypot(fw, fh) / 2
		inside = func(x, y float64) bool { return math.Hypot(x-fw/2, y-fh/2) <= rad }
	default:
		return nil
	}

	m := image.NewAlpha(r)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if inside(float64(x)+0.5, float64(y)+0.5) {
				m.Pix[m.PixOffset(x, y)] = 255
			}
		}
	}
	return m
}
