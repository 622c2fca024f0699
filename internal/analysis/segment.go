package analysis

import (
	"context"
	"image"
	"image/color"
	"math"

	"github.com/kikiluvv/framecut/internal/render"
	"github.com/kikiluvv/framecut/internal/resolver"
	"github.com/nfnt/resize"
	"github.com/rs/zerolog"
)

// SegmentationAlpha feeds a Segmenter into the renderer's background removal pass
type SegmentationAlpha struct {
	ctx       context.Context
	logger    zerolog.Logger
	segmenter Segmenter
}

var _ render.AlphaSource = (*SegmentationAlpha)(nil)

func NewSegmentationAlpha(ctx context.Context, logger zerolog.Logger, s Segmenter) *SegmentationAlpha {
	return &SegmentationAlpha{
		ctx:       ctx,
		logger:    logger.With().Str("component", "segmentation").Logger(),
		segmenter: s,
	}
}

// AlphaFor returns a mask matching img's bounds. A failed segmentation leaves
// the layer opaque.
func (s *SegmentationAlpha) AlphaFor(l *resolver.Layer, img image.Image) *image.Alpha {
	mask, err := s.segmenter.Segment(s.ctx, l, img)
	if err != nil {
		s.logger.Warn().Err(err).Str("clip", l.ClipID).Msg("segmentation failed")
		return nil
	}
	if mask == nil {
		return nil
	}
	return FitMask(mask, img.Bounds())
}

// FitMask resizes mask to the size of bounds and moves it to bounds' origin
func FitMask(mask *image.Alpha, bounds image.Rectangle) *image.Alpha {
	mb := mask.Bounds()
	if mb.Dx() == bounds.Dx() && mb.Dy() == bounds.Dy() {
		if mb.Min == bounds.Min {
			return mask
		}
		out := image.NewAlpha(bounds)
		for y := 0; y < bounds.Dy(); y++ {
			copy(out.Pix[y*out.Stride:y*out.Stride+bounds.Dx()], mask.Pix[mask.PixOffset(mb.Min.X, mb.Min.Y+y):][:bounds.Dx()])
		}
		return out
	}

	gray := &image.Gray{Pix: mask.Pix, Stride: mask.Stride, Rect: mb}
	scaled := resize.Resize(uint(bounds.Dx()), uint(bounds.Dy()), gray, resize.Bilinear)

	out := image.NewAlpha(bounds)
	sb := scaled.Bounds()
	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < bounds.Dx(); x++ {
			g := color.GrayModel.Convert(scaled.At(sb.Min.X+x, sb.Min.Y+y)).(color.Gray)
			out.Pix[y*out.Stride+x] = g.Y
		}
	}
	return out
}

// ChromaKeySegmenter keys out pixels close to Key. Distances below Threshold
// are transparent and the next Softness fades to opaque.
type ChromaKeySegmenter struct {
	Key       color.RGBA
	Threshold float64
	Softness  float64
	// Scale downsamples the frame before keying; the mask is resized back by FitMask.
	Scale float64
}

var _ Segmenter = ChromaKeySegmenter{}

// GreenScreen is a keyer for a typical green backdrop
var GreenScreen = ChromaKeySegmenter{
	Key:       color.RGBA{R: 0, G: 177, B: 64, A: 255},
	Threshold: 80,
	Softness:  40,
	Scale:     0.5,
}

func (k ChromaKeySegmenter) Segment(ctx context.Context, _ *resolver.Layer, img image.Image) (*image.Alpha, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src := img
	if k.Scale > 0 && k.Scale < 1 {
		w := uint(math.Max(1, math.Round(float64(img.Bounds().Dx())*k.Scale)))
		src = resize.Resize(w, 0, img, resize.Bilinear)
	}

	b := src.Bounds()
	mask := image.NewAlpha(image.Rect(0, 0, b.Dx(), b.Dy()))
	kr, kg, kb := float64(k.Key.R), float64(k.Key.G), float64(k.Key.B)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			r, g, bl, _ := src.At(b.Min.X+x, b.Min.Y+y).RGBA()
			dr := float64(r>>8) - kr
			dg := float64(g>>8) - kg
			db := float64(bl>>8) - kb
			d := math.Sqrt(dr*dr + dg*dg + db*db)

			var a float64
			switch {
			case d <= k.Threshold:
				a = 0
			case k.Softness <= 0 || d >= k.Threshold+k.Softness:
				a = 1
			default:
				a = (d - k.Threshold) / k.Softness
			}
			mask.Pix[y*mask.Stride+x] = uint8(math.Round(a * 255))
		}
	}
	return mask, nil
}
