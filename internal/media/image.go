package media

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".webp": true, ".bmp": true, ".svg": true,
}

// IsImage reports whether a source refers to a still or animated image
func IsImage(source string) bool {
	ext := strings.ToLower(filepath.Ext(stripQuery(source)))
	return imageExtensions[ext]
}

// minimum long side when rasterizing vector stickers
const svgRasterSize = 1024

// ImageSource serves stills and animated images decoded once up front
type ImageSource struct {
	frames []image.Image
	starts []float64
	total  float64

	outstanding atomic.Int64
}

// NewImageSource wraps an already decoded still
func NewImageSource(img image.Image) *ImageSource {
	return &ImageSource{frames: []image.Image{img}, starts: []float64{0}}
}

// LoadImage decodes a local path or http(s) URL
func LoadImage(ctx context.Context, source string) (*ImageSource, error) {
	r, err := openReader(ctx, source)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	switch strings.ToLower(filepath.Ext(stripQuery(source))) {
	case ".gif":
		g, err := gif.DecodeAll(r)
		if err != nil {
			return nil, fmt.Errorf("failed to decode gif %s: %w", source, err)
		}
		return newAnimatedSource(g), nil
	case ".svg":
		img, err := rasterizeSVG(r)
		if err != nil {
			return nil, fmt.Errorf("failed to rasterize svg %s: %w", source, err)
		}
		return NewImageSource(img), nil
	}

	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", source, err)
	}
	return NewImageSource(img), nil
}

// FrameAt returns the still, or the animation frame showing at t (looping)
func (s *ImageSource) FrameAt(ctx context.Context, t float64) (*Frame, error) {
	if len(s.frames) == 0 {
		return nil, ErrNoFrame
	}
	idx := 0
	if len(s.frames) > 1 && s.total > 0 {
		local := math.Mod(math.Max(0, t), s.total)
		for i := len(s.starts) - 1; i >= 0; i-- {
			if local >= s.starts[i] {
				idx = i
				break
			}
		}
	}
	s.outstanding.Add(1)
	return NewFrame(s.frames[idx], t, func() { s.outstanding.Add(-1) }), nil
}

// Frames returns the number of distinct pictures
func (s *ImageSource) Frames() int {
	return len(s.frames)
}

// Outstanding returns frames handed out and not yet released
func (s *ImageSource) Outstanding() int64 {
	return s.outstanding.Load()
}

// Close drops decoded pictures
func (s *ImageSource) Close() error {
	s.frames = nil
	return nil
}

// newAnimatedSource flattens gif frames against their disposal rules
func newAnimatedSource(g *gif.GIF) *ImageSource {
	w, h := g.Config.Width, g.Config.Height
	if w == 0 || h == 0 {
		for _, fr := range g.Image {
			b := fr.Bounds()
			w, h = max(w, b.Max.X), max(h, b.Max.Y)
		}
	}
	bounds := image.Rect(0, 0, w, h)
	canvas := image.NewRGBA(bounds)

	src := &ImageSource{}
	at := 0.0
	for i, fr := range g.Image {
		var previous *image.RGBA
		disposal := byte(0)
		if i < len(g.Disposal) {
			disposal = g.Disposal[i]
		}
		if disposal == gif.DisposalPrevious {
			previous = image.NewRGBA(bounds)
			copy(previous.Pix, canvas.Pix)
		}

		draw.Draw(canvas, fr.Bounds(), fr, fr.Bounds().Min, draw.Over)
		snapshot := image.NewRGBA(bounds)
		copy(snapshot.Pix, canvas.Pix)

		delay := 0.1
		if i < len(g.Delay) && g.Delay[i] > 0 {
			delay = float64(g.Delay[i]) / 100
		}
		src.frames = append(src.frames, snapshot)
		src.starts = append(src.starts, at)
		at += delay

		switch disposal {
		case gif.DisposalBackground:
			draw.Draw(canvas, fr.Bounds(), image.NewUniform(color.Transparent), image.Point{}, draw.Src)
		case gif.DisposalPrevious:
			copy(canvas.Pix, previous.Pix)
		}
	}
	src.total = at
	return src
}

func rasterizeSVG(r io.Reader) (image.Image, error) {
	icon, err := oksvg.ReadIconStream(r)
	if err != nil {
		return nil, err
	}

	vw, vh := icon.ViewBox.W, icon.ViewBox.H
	if vw <= 0 || vh <= 0 {
		vw, vh = svgRasterSize, svgRasterSize
	}
	k := svgRasterSize / math.Max(vw, vh)
	w, h := int(math.Ceil(vw*k)), int(math.Ceil(vh*k))

	icon.SetTarget(0, 0, float64(w), float64(h))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	scanner := rasterx.NewScannerGV(w, h, img, img.Bounds())
	icon.Draw(rasterx.NewDasher(w, h, scanner), 1.0)
	return img, nil
}

func openReader(ctx context.Context, source string) (io.ReadCloser, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return nil, err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s: %w", source, err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("failed to fetch %s: status %d", source, resp.StatusCode)
		}
		return resp.Body, nil
	}

	path := strings.TrimPrefix(source, "file://")
	return os.Open(path)
}

func stripQuery(source string) string {
	if i := strings.IndexAny(source, "?#"); i >= 0 {
		return source[:i]
	}
	return source
}
