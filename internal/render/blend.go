package render

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/kikiluvv/framecut/internal/timeline"
)

type blendFunc func(cb, cs float64) float64

var blendFuncs = map[timeline.BlendMode]blendFunc{
	timeline.BlendMultiply:   func(cb, cs float64) float64 { return cb * cs },
	timeline.BlendScreen:     screen,
	timeline.BlendOverlay:    func(cb, cs float64) float64 { return hardLight(cs, cb) },
	timeline.BlendDarken:     math.Min,
	timeline.BlendLighten:    math.Max,
	timeline.BlendColorDodge: colorDodge,
	timeline.BlendColorBurn:  colorBurn,
	timeline.BlendHardLight:  hardLight,
	timeline.BlendSoftLight:  softLight,
	timeline.BlendDifference: func(cb, cs float64) float64 { return math.Abs(cb - cs) },
	timeline.BlendExclusion:  func(cb, cs float64) float64 { return cb + cs - 2*cb*cs },
}

func colorDodge(cb, cs float64) float64 {
	switch {
	case cb == 0:
		return 0
	case cs >= 1:
		return 1
	}
	return math.Min(1, cb/(1-cs))
}

func colorBurn(cb, cs float64) float64 {
	switch {
	case cb >= 1:
		return 1
	case cs <= 0:
		return 0
	}
	return 1 - math.Min(1, (1-cb)/cs)
}

func softLight(cb, cs float64) float64 {
	if cs <= 0.5 {
		return cb - (1-2*cs)*cb*(1-cb)
	}
	d := math.Sqrt(cb)
	if cb <= 0.25 {
		d = ((16*cb-12)*cb + 4) * cb
	}
	return cb + (2*cs-1)*(d-cb)
}

func screen(cb, cs float64) float64 {
	return cb + cs - cb*cs
}

func hardLight(cb, cs float64) float64 {
	if cs <= 0.5 {
		return cb * 2 * cs
	}
	return screen(cb, 2*cs-1)
}

// composite draws src over dst within r using a blend mode at opacity 0..1
func composite(dst, src *image.RGBA, r image.Rectangle, mode timeline.BlendMode, opacity float64) {
	r = r.Intersect(dst.Rect).Intersect(src.Rect)
	if r.Empty() || opacity <= 0 {
		return
	}

	fn, ok := blendFuncs[mode]
	if !ok && mode != timeline.BlendAdd {
		mask := image.NewUniform(color.Alpha{A: to8(clamp01(opacity))})
		draw.DrawMask(dst, r, src, r.Min, mask, image.Point{}, draw.Over)
		return
	}

	for y := r.Min.Y; y < r.Max.Y; y++ {
		di := dst.PixOffset(r.Min.X, y)
		si := src.PixOffset(r.Min.X, y)
		for x := r.Min.X; x < r.Max.X; x, di, si = x+1, di+4, si+4 {
			as := float64(src.Pix[si+3]) / 255 * opacity
			if as == 0 {
				continue
			}
			ab := float64(dst.Pix[di+3]) / 255
			ao := as + ab*(1-as)
			if fn == nil {
				ao = math.Min(1, as+ab)
			}

			for c := 0; c < 3; c++ {
				// premultiplied source scaled by opacity
				ps := float64(src.Pix[si+c]) / 255 * opacity
				pb := float64(dst.Pix[di+c]) / 255

				var co float64
				if fn == nil {
					co = math.Min(1, ps+pb)
				} else {
					cs := ps / as
					cb := 0.0
					if ab > 0 {
						cb = pb / ab
					}
					co = ps*(1-ab) + pb*(1-as) + as*ab*clamp01(fn(clamp01(cb), clamp01(cs)))
				}
				dst.Pix[di+c] = to8(math.Min(co, ao))
			}
			dst.Pix[di+3] = to8(ao)
		}
	}
}

// mix blends filtered into dst by weight 0..1, optionally modulated by a mask
func mix(dst, filtered *image.RGBA, mask *image.Alpha, weight float64) {
	r := dst.Rect.Intersect(filtered.Rect)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		di := dst.PixOffset(r.Min.X, y)
		fi := filtered.PixOffset(r.Min.X, y)
		for x := r.Min.X; x < r.Max.X; x, di, fi = x+1, di+4, fi+4 {
			w := weight
			if mask != nil {
				w *= float64(mask.AlphaAt(x, y).A) / 255
			}
			if w == 0 {
				continue
			}
			for c := 0; c < 4; c++ {
				a, b := float64(dst.Pix[di+c]), float64(filtered.Pix[fi+c])
				dst.Pix[di+c] = uint8(a + (b-a)*w + 0.5)
			}
		}
	}
}
