package render

import (
	"image"
	"math"
	"math/rand/v2"
)

// vignette darkens toward the corners by amount 0..100
func vignette(img *image.RGBA, amount float64) {
	k := clamp01(amount / 100)
	b := img.Rect
	cx, cy := float64(b.Min.X+b.Max.X)/2, float64(b.Min.Y+b.Max.Y)/2
	maxD := math.Hypot(float64(b.Dx())/2, float64(b.Dy())/2)

	for y := b.Min.Y; y < b.Max.Y; y++ {
		i := img.PixOffset(b.Min.X, y)
		dy := (float64(y) + 0.5 - cy) / maxD
		for x := b.Min.X; x < b.Max.X; x, i = x+1, i+4 {
			dx := (float64(x) + 0.5 - cx) / maxD
			d := math.Sqrt(dx*dx + dy*dy)
			if d <= 0.35 {
				continue
			}
			t := (d - 0.35) / 0.65
			f := 1 - k*t*t
			img.Pix[i] = uint8(float64(img.Pix[i]) * f)
			img.Pix[i+1] = uint8(float64(img.Pix[i+1]) * f)
			img.Pix[i+2] = uint8(float64(img.Pix[i+2]) * f)
		}
	}
}

// grain adds luminance noise of amount 0..100, seeded so a given instant
// always renders the same noise.
func grain(img *image.RGBA, amount float64, seed uint64) {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	k := clamp01(amount/100) * 0.25 * 255

	b := img.Rect
	for y := b.Min.Y; y < b.Max.Y; y++ {
		i := img.PixOffset(b.Min.X, y)
		for x := b.Min.X; x < b.Max.X; x, i = x+1, i+4 {
			n := (rng.Float64()*2 - 1) * k
			a := float64(img.Pix[i+3])
			if a == 0 {
				continue
			}
			n *= a / 255
			for c := 0; c < 3; c++ {
				v := float64(img.Pix[i+c]) + n
				img.Pix[i+c] = uint8(math.Max(0, math.Min(a, v)))
			}
		}
	}
}

func grainSeed(t float64) uint64 {
	return math.Float64bits(t) ^ 0x2545f4914f6cdd1d
}
