package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/kikiluvv/framecut/internal/timeline"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gobolditalic"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/gomonobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// Text sizes are authored against this canvas height
const referenceHeight = 1080.0

// Style selects a face within a family
type Style struct {
	Bold   bool
	Italic bool
}

type faceKey struct {
	font *opentype.Font
	size float64
}

// FontRegistry resolves font families to parsed fonts and caches sized faces.
// Cached faces are not safe for concurrent drawing, so each render loop draws
// through its own Fork.
type FontRegistry struct {
	mu       sync.Mutex
	families map[string]map[Style]*opentype.Font
	faces    map[faceKey]font.Face
}

// NewFontRegistry creates a registry with the Go fonts as "sans" and "mono"
func NewFontRegistry() *FontRegistry {
	r := &FontRegistry{
		families: make(map[string]map[Style]*opentype.Font),
		faces:    make(map[faceKey]font.Face),
	}
	builtin := []struct {
		family string
		style  Style
		data   []byte
	}{
		{"sans", Style{}, goregular.TTF},
		{"sans", Style{Bold: true}, gobold.TTF},
		{"sans", Style{Italic: true}, goitalic.TTF},
		{"sans", Style{Bold: true, Italic: true}, gobolditalic.TTF},
		{"mono", Style{}, gomono.TTF},
		{"mono", Style{Bold: true}, gomonobold.TTF},
	}
	for _, b := range builtin {
		f, err := opentype.Parse(b.data)
		if err != nil {
			continue
		}
		r.Register(b.family, b.style, f)
	}
	return r
}

// Fork returns a registry sharing the parsed fonts with an empty face cache
func (r *FontRegistry) Fork() *FontRegistry {
	r.mu.Lock()
	defer r.mu.Unlock()

	f := &FontRegistry{
		families: make(map[string]map[Style]*opentype.Font, len(r.families)),
		faces:    make(map[faceKey]font.Face),
	}
	for name, styles := range r.families {
		cp := make(map[Style]*opentype.Font, len(styles))
		for st, ft := range styles {
			cp[st] = ft
		}
		f.families[name] = cp
	}
	return f
}

// Register adds a font under a family and style
func (r *FontRegistry) Register(family string, style Style, f *opentype.Font) {
	r.mu.Lock()
	defer r.mu.Unlock()

	family = strings.ToLower(family)
	if r.families[family] == nil {
		r.families[family] = make(map[Style]*opentype.Font)
	}
	r.families[family][style] = f
}

// LoadDir registers every .ttf and .otf file in dir. A file named
// "Family-BoldItalic.ttf" registers as family "family" with that style.
func (r *FontRegistry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read fonts dir: %w", err)
	}
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".ttf" && ext != ".otf") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return fmt.Errorf("failed to read font %s: %w", e.Name(), err)
		}
		f, err := opentype.Parse(data)
		if err != nil {
			return fmt.Errorf("failed to parse font %s: %w", e.Name(), err)
		}
		family, style := parseFontName(strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
		r.Register(family, style, f)
	}
	return nil
}

func parseFontName(stem string) (string, Style) {
	family, variant, _ := strings.Cut(stem, "-")
	v := strings.ToLower(variant)
	return family, Style{
		Bold:   strings.Contains(v, "bold"),
		Italic: strings.Contains(v, "italic") || strings.Contains(v, "oblique"),
	}
}

// Families lists registered family names
func (r *FontRegistry) Families() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.families))
	for name := range r.families {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Face returns a face for family and style at size pixels, falling back to
// the regular style and then to "sans".
func (r *FontRegistry) Face(family string, style Style, size float64) (font.Face, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f := r.lookup(strings.ToLower(family), style)
	if f == nil {
		f = r.lookup(timeline.DefaultFontFamily, style)
	}
	if f == nil {
		return nil, fmt.Errorf("no font for family %q", family)
	}

	size = math.Max(1, math.Round(size*4)/4)
	key := faceKey{font: f, size: size}
	if face, ok := r.faces[key]; ok {
		return face, nil
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingNone})
	if err != nil {
		return nil, err
	}
	r.faces[key] = face
	return face, nil
}

func (r *FontRegistry) lookup(family string, style Style) *opentype.Font {
	styles, ok := r.families[family]
	if !ok {
		return nil
	}
	if f, ok := styles[style]; ok {
		return f
	}
	return styles[Style{}]
}

func textStyle(t *timeline.Text) Style {
	w := strings.ToLower(t.FontWeight)
	bold := w == "bold" || w == "bolder"
	if n, err := strconv.Atoi(w); err == nil && n >= 600 {
		bold = true
	}
	s := strings.ToLower(t.FontStyle)
	return Style{Bold: bold, Italic: s == "italic" || s == "oblique"}
}

// textFace sizes t relative to the canvas height
func textFace(fonts *FontRegistry, t *timeline.Text, canvasH int, scale float64) (font.Face, error) {
	size := t.FontSize
	if size <= 0 {
		size = timeline.DefaultFontSize
	}
	return fonts.Face(t.FontFamily, textStyle(t), size*float64(canvasH)/referenceHeight*scale)
}

// layoutText measures the full content so a typewriter reveal does not shift lines
func layoutText(face font.Face, content string) ([]string, []int, int, int) {
	lines := strings.Split(content, "\n")
	widths := make([]int, len(lines))
	maxW := 0
	for i, line := range lines {
		widths[i] = font.MeasureString(face, line).Ceil()
		maxW = max(maxW, widths[i])
	}
	lineH := face.Metrics().Height.Ceil()
	return lines, widths, maxW, lineH * len(lines)
}

// drawLines draws up to reveal runes of lines onto dst with the block's top-left at origin
func drawLines(dst draw.Image, face font.Face, lines []string, widths []int, blockW int, origin image.Point, align string, src image.Image, reveal int) {
	m := face.Metrics()
	lineH := m.Height.Ceil()
	d := &font.Drawer{Dst: dst, Src: src, Face: face}

	left := reveal
	for i, line := range lines {
		if left <= 0 {
			break
		}
		runes := []rune(line)
		if len(runes) > left {
			runes = runes[:left]
		}
		left -= len([]rune(line)) + 1

		x := origin.X
		switch strings.ToLower(align) {
		case "right":
			x += blockW - widths[i]
		case "left":
		default:
			x += (blockW - widths[i]) / 2
		}
		d.Dot = fixed.Point26_6{
			X: fixed.I(x),
			Y: fixed.I(origin.Y+i*lineH) + m.Ascent,
		}
		d.DrawString(string(runes))
	}
}

// RenderText rasterizes a text block at native size. reveal is the visible
// fraction of characters, 1 for all.
func RenderText(fonts *FontRegistry, t *timeline.Text, canvasH int, reveal float64) (*image.RGBA, error) {
	face, err := textFace(fonts, t, canvasH, 1)
	if err != nil {
		return nil, err
	}
	lines, widths, w, h := layoutText(face, t.Content)
	if w == 0 || h == 0 {
		return nil, nil
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	n := int(math.Round(float64(len([]rune(t.Content))) * clamp01(reveal)))
	drawLines(img, face, lines, widths, w, image.Point{}, t.Align, image.NewUniform(parseColor(t.Color)), n)
	return img, nil
}

// parseColor reads #rgb, #rrggbb and #rrggbbaa, defaulting to white
func parseColor(s string) color.NRGBA {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) == 6 {
		s += "ff"
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if len(s) != 8 || err != nil {
		return color.NRGBA{255, 255, 255, 255}
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}
}
