package render

import (
	"image"
	"math"

	"github.com/kikiluvv/framecut/internal/resolver"
	"github.com/kikiluvv/framecut/internal/timeline"
	"golang.org/x/image/math/f64"
)

// Sticker layers are sized relative to the canvas height before clip scale applies
const stickerBaseHeight = 0.25

// Rect is a floating point rectangle in canvas pixels
type Rect struct {
	X, Y, W, H float64
}

// Geometry is where a layer's media lands on the canvas
type Geometry struct {
	// Fitted is the untransformed fit-to-canvas rectangle.
	Fitted Rect
	// Visible is Fitted after the crop insets.
	Visible Rect
	// Source is the cropped region of the source picture.
	Source image.Rectangle
	// Local maps fitted-rect pixel coordinates to canvas pixels.
	Local f64.Aff3
	// Matrix maps source pixels to canvas pixels.
	Matrix f64.Aff3
}

// ComputeGeometry fits a source of the given bounds to a w x h canvas and
// applies the layer's crop and transform.
func ComputeGeometry(l *resolver.Layer, src image.Rectangle, w, h int) Geometry {
	cw, ch := float64(w), float64(h)
	sw, sh := float64(src.Dx()), float64(src.Dy())
	if sw <= 0 || sh <= 0 {
		return Geometry{}
	}

	fw, fh := fitSize(l, sw, sh, cw, ch)
	g := Geometry{Fitted: Rect{X: (cw - fw) / 2, Y: (ch - fh) / 2, W: fw, H: fh}}

	c := l.Crop
	g.Visible = Rect{
		X: g.Fitted.X + fw*c.Left/100,
		Y: g.Fitted.Y + fh*c.Top/100,
		W: fw * (100 - c.Left - c.Right) / 100,
		H: fh * (100 - c.Top - c.Bottom) / 100,
	}
	g.Source = image.Rect(
		src.Min.X+int(math.Round(sw*c.Left/100)),
		src.Min.Y+int(math.Round(sh*c.Top/100)),
		src.Max.X-int(math.Round(sw*c.Right/100)),
		src.Max.Y-int(math.Round(sh*c.Bottom/100)),
	)

	s := l.Transform.Scale / 100
	rad := l.Transform.Rotation * math.Pi / 180
	cos, sin := math.Cos(rad)*s, math.Sin(rad)*s
	cx, cy := cw/2+l.Transform.X, ch/2+l.Transform.Y

	g.Local = f64.Aff3{
		cos, -sin, cx - (cos*fw/2 - sin*fh/2),
		sin, cos, cy - (sin*fw/2 + cos*fh/2),
	}
	toLocal := f64.Aff3{
		fw / sw, 0, -float64(src.Min.X) * fw / sw,
		0, fh / sh, -float64(src.Min.Y) * fh / sh,
	}
	g.Matrix = mul(g.Local, toLocal)
	return g
}

func fitSize(l *resolver.Layer, sw, sh, cw, ch float64) (float64, float64) {
	switch l.Kind {
	case timeline.ClipText:
		return sw, sh
	case timeline.ClipSticker:
		fh := ch * stickerBaseHeight
		return fh * sw / sh, fh
	}

	switch l.Fit {
	case timeline.FitFill:
		return cw, ch
	case timeline.FitCover:
		k := math.Max(cw/sw, ch/sh)
		return sw * k, sh * k
	default:
		k := math.Min(cw/sw, ch/sh)
		return sw * k, sh * k
	}
}

// Bounds returns the integer canvas bounding box of the visible region,
// grown by pad pixels.
func (g Geometry) Bounds(pad float64) image.Rectangle {
	v := g.Visible
	lx, ly := v.X-g.Fitted.X, v.Y-g.Fitted.Y
	corners := [4][2]float64{{lx, ly}, {lx + v.W, ly}, {lx, ly + v.H}, {lx + v.W, ly + v.H}}

	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range corners {
		x, y := apply(g.Local, p[0], p[1])
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	return image.Rect(
		int(math.Floor(minX-pad)), int(math.Floor(minY-pad)),
		int(math.Ceil(maxX+pad)), int(math.Ceil(maxY+pad)),
	)
}

// Footprint returns Visible normalised to canvas size, for hit-testing
func (g Geometry) Footprint(w, h int) Rect {
	b := g.Bounds(0)
	return Rect{
		X: float64(b.Min.X) / float64(w),
		Y: float64(b.Min.Y) / float64(h),
		W: float64(b.Dx()) / float64(w),
		H: float64(b.Dy()) / float64(h),
	}
}

func mul(a, b f64.Aff3) f64.Aff3 {
	return f64.Aff3{
		a[0]*b[0] + a[1]*b[3], a[0]*b[1] + a[1]*b[4], a[0]*b[2] + a[1]*b[5] + a[2],
		a[3]*b[0] + a[4]*b[3], a[3]*b[1] + a[4]*b[4], a[3]*b[2] + a[4]*b[5] + a[5],
	}
}

func apply(m f64.Aff3, x, y float64) (float64, float64) {
	return m[0]*x + m[1]*y + m[2], m[3]*x + m[4]*y + m[5]
}
