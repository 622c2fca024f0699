// Package render paints resolved frame states onto raster surfaces. Live
// preview and export call the same Render; only the surface size and the
// quality flag differ.
package render

import (
	"image"
	"math"

	"github.com/kikiluvv/framecut/internal/resolver"
	"github.com/kikiluvv/framecut/internal/timeline"
	"github.com/rs/zerolog"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// Layers fainter than this opacity percent are skipped outside high quality mode
const minOpacity = 1.0

// FrameSource supplies the decoded picture for a layer, nil when there is none
type FrameSource interface {
	FrameFor(l *resolver.Layer) image.Image
}

// AlphaSource supplies a segmentation mask with the same bounds as img, or nil
type AlphaSource interface {
	AlphaFor(l *resolver.Layer, img image.Image) *image.Alpha
}

// Options tune a render call
type Options struct {
	// HighQuality selects CatmullRom resampling and disables adaptive shortcuts.
	HighQuality bool
	Frames      FrameSource
	Alpha       AlphaSource
	Fonts       *FontRegistry
	Logger      *zerolog.Logger
}

func (o *Options) interpolator() draw.Interpolator {
	if o.HighQuality {
		return draw.CatmullRom
	}
	return draw.ApproxBiLinear
}

func (o *Options) debug(l *resolver.Layer, msg string) {
	if o.Logger != nil {
		o.Logger.Debug().Str("clip", l.ClipID).Str("kind", string(l.Kind)).Msg(msg)
	}
}

// Render clears surface and composites every layer of fs onto it. Positions
// are rescaled when the surface differs from the frame state's output size.
func Render(surface *image.RGBA, fs *resolver.FrameState, opts Options) {
	draw.Draw(surface, surface.Rect, image.Black, image.Point{}, draw.Src)
	if fs == nil {
		return
	}

	w, h := surface.Rect.Dx(), surface.Rect.Dy()
	kx, ky := 1.0, 1.0
	if fs.Width > 0 && fs.Height > 0 {
		kx, ky = float64(w)/float64(fs.Width), float64(h)/float64(fs.Height)
	}

	var vig, grn float64
	for i := range fs.Layers {
		l := fs.Layers[i]
		if !l.Visible() || (!opts.HighQuality && l.Opacity < minOpacity) {
			continue
		}
		l.Transform.X *= kx
		l.Transform.Y *= ky
		if l.Mask != nil {
			m := *l.Mask
			m.Blur *= ky
			l.Mask = &m
		}

		adj := layerAdjustments(&l)
		vig = math.Max(vig, adj.Get(timeline.AdjVignette))
		grn = math.Max(grn, adj.Get(timeline.AdjGrain))

		f := BuildFilter(adj, "", 0)
		f.Blur *= ky
		f.Sharpen *= ky

		var img image.Image
		switch l.Kind {
		case timeline.ClipAdjustment:
			adjustSurface(surface, &l, f, h, &opts)
			continue
		case timeline.ClipText:
			if l.Text == nil || opts.Fonts == nil {
				opts.debug(&l, "text layer without text or fonts")
				continue
			}
			t, err := RenderText(opts.Fonts, l.Text, h, l.TextReveal)
			if err != nil || t == nil {
				opts.debug(&l, "text layer rendered nothing")
				continue
			}
			img = t
		default:
			if opts.Frames != nil {
				img = opts.Frames.FrameFor(&fs.Layers[i])
			}
			if img == nil {
				opts.debug(&l, "no frame, skipping base draw")
				continue
			}
		}

		if l.BackgroundRemoval && opts.Alpha != nil {
			if a := opts.Alpha.AlphaFor(&fs.Layers[i], img); a != nil {
				img = withAlpha(img, a)
			}
		}
		drawLayer(surface, &l, img, f, &opts)
	}

	if vig > 0 {
		vignette(surface, vig)
	}
	if grn > 0 {
		grain(surface, grn, grainSeed(fs.Time))
	}
}

// layerAdjustments merges the layer's sliders with its named look
func layerAdjustments(l *resolver.Layer) timeline.Adjustments {
	if d, ok := Looks[l.Filter]; ok {
		return l.Adjustments.Add(d, l.FilterIntensity/100)
	}
	return l.Adjustments
}

func drawLayer(surface *image.RGBA, l *resolver.Layer, img image.Image, f Filter, opts *Options) {
	w, h := surface.Rect.Dx(), surface.Rect.Dy()
	g := ComputeGeometry(l, img.Bounds(), w, h)
	if g.Source.Empty() {
		return
	}

	bb := g.Bounds(1 + 3*f.Blur).Intersect(surface.Rect)
	if bb.Empty() {
		return
	}

	interp := opts.interpolator()
	scratch := image.NewRGBA(bb)
	interp.Transform(scratch, g.Matrix, img, g.Source, draw.Src, nil)

	if !f.IsNeutral() {
		applyFilter(scratch, bb, f)
	}
	if l.Mask.Enabled() {
		if m := localMask(l.Mask, g, h, bb, interp, opts.Fonts); m != nil {
			applyAlpha(scratch, bb, m)
		}
	}
	if rm := revealMask(l.Transition, bb, w, h); rm != nil {
		applyAlpha(scratch, bb, rm)
	}

	composite(surface, scratch, bb, l.BlendMode, l.Opacity/100)
}

// localMask rasterizes the mask in fitted space and maps it onto the canvas
func localMask(m *timeline.Mask, g Geometry, canvasH int, bb image.Rectangle, interp draw.Interpolator, fonts *FontRegistry) *image.Alpha {
	mw, mh := int(math.Ceil(g.Fitted.W)), int(math.Ceil(g.Fitted.H))
	if mw <= 0 || mh <= 0 {
		return nil
	}
	local := shapeMask(m, mw, mh, canvasH, fonts)

	toFitted := f64.Aff3{g.Fitted.W / float64(mw), 0, 0, 0, g.Fitted.H / float64(mh), 0}
	out := image.NewAlpha(bb)
	interp.Transform(out, mul(g.Local, toFitted), local, local.Bounds(), draw.Src, nil)
	return out
}

// adjustSurface filters everything already composited, mixed by the layer's opacity
func adjustSurface(surface *image.RGBA, l *resolver.Layer, f Filter, canvasH int, opts *Options) {
	if f.IsNeutral() {
		return
	}
	filtered := image.NewRGBA(surface.Rect)
	copy(filtered.Pix, surface.Pix)
	applyFilter(filtered, filtered.Rect, f)

	var mask *image.Alpha
	if l.Mask.Enabled() {
		full := *l
		full.Fit = timeline.FitFill
		g := ComputeGeometry(&full, surface.Rect, surface.Rect.Dx(), surface.Rect.Dy())
		mask = localMask(l.Mask, g, canvasH, surface.Rect, opts.interpolator(), opts.Fonts)
	}
	mix(surface, filtered, mask, clamp01(l.Opacity/100))
}

func withAlpha(img image.Image, a *image.Alpha) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(b)
	draw.DrawMask(out, b, img, b.Min, a, a.Rect.Min, draw.Src)
	return out
}
