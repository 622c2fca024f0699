// Package analysis adapts the external collaborators of the editor: scene and
// audio analysis, sticker search and person segmentation. Their results only
// ever become timeline data or an alpha pre-pass for the renderer.
package analysis

import (
	"context"
	"image"
	"math"
	"sort"

	"github.com/kikiluvv/framecut/internal/resolver"
	"github.com/kikiluvv/framecut/internal/timeline"
)

// Mood labels produced by analyzers
const (
	MoodEnergetic = "energetic"
	MoodCalm      = "calm"
	MoodDark      = "dark"
	MoodVibrant   = "vibrant"
	MoodNeutral   = "neutral"
)

// Report describes one media source
type Report struct {
	Source   string  `json:"source"`
	Duration float64 `json:"duration"`
	Mood     string  `json:"mood"`
	// Energy is the action level from 0 (static) to 1 (frantic).
	Energy float64 `json:"energy"`
	// Tempo is in beats per minute; Beats are source times in seconds.
	Tempo       float64            `json:"tempo"`
	Beats       []float64          `json:"beats"`
	Scenes      []float64          `json:"scenes,omitempty"`
	Adjustments map[string]float64 `json:"adjustments"`
}

// Sticker is a search result usable as a sticker clip source
type Sticker struct {
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnailUrl"`
	IsAnimated   bool   `json:"isAnimated"`
}

// SceneAnalyzer reports mood, energy, tempo and suggested adjustments for a source
type SceneAnalyzer interface {
	Analyze(ctx context.Context, source string) (*Report, error)
}

// StickerSearch finds stickers for a query
type StickerSearch interface {
	Search(ctx context.Context, query string, limit int) ([]Sticker, error)
}

// Segmenter returns a per-pixel opacity mask of the person in img. The mask
// may be smaller than img; it is resized before use.
type Segmenter interface {
	Segment(ctx context.Context, l *resolver.Layer, img image.Image) (*image.Alpha, error)
}

// ApplySuggestedAdjustments adds the report's suggestions on top of the clip's
// own sliders
func ApplySuggestedAdjustments(c *timeline.Clip, r *Report) {
	applyScaled(c, r, 1)
}

func applyScaled(c *timeline.Clip, r *Report, strength float64) {
	if c == nil || r == nil || len(r.Adjustments) == 0 {
		return
	}
	c.Adjustments = c.Adjustments.Add(r.Adjustments, strength)
}

// NewStickerClip places a sticker result on the timeline
func NewStickerClip(s Sticker, start, duration float64) *timeline.Clip {
	c := timeline.NewClip(timeline.ClipSticker, s.URL, start, duration)
	c.Name = "sticker"
	return c
}

// PlanOptions tune PlanTimeline
type PlanOptions struct {
	Width  int
	Height int
	// MinClip and MaxClip bound each placed clip in seconds.
	MinClip float64
	MaxClip float64
	// Transition is the crossfade between consecutive clips, 0 for hard cuts.
	Transition     float64
	TransitionType string
	// Music, when set, is laid on an audio track and its beats drive the cuts.
	Music *Report
	// Strength scales suggested adjustments.
	Strength float64
}

// PlanTimeline places every analyzed source back to back on one video track,
// ending each clip on a beat
func PlanTimeline(reports []*Report, opts PlanOptions) *timeline.Timeline {
	if opts.MinClip <= 0 {
		opts.MinClip = 1
	}
	if opts.MaxClip <= 0 {
		opts.MaxClip = 6
	}
	if opts.TransitionType == "" {
		opts.TransitionType = "mix"
	}
	if opts.Strength <= 0 {
		opts.Strength = 1
	}

	tl := timeline.New(opts.Width, opts.Height)
	video := tl.AddTrack(timeline.TrackVideo)

	at := 0.0
	for i, r := range reports {
		if r == nil || r.Duration <= 0 {
			continue
		}

		length := math.Min(r.Duration, opts.MaxClip)
		var beats []float64
		if opts.Music != nil {
			for _, b := range opts.Music.Beats {
				beats = append(beats, b-at)
			}
		} else {
			beats = r.Beats
		}
		length = snapToBeat(length, beats, opts.MinClip)

		c := timeline.NewClip(timeline.ClipVideo, r.Source, at, length)
		c.SourceDuration = r.Duration
		if opts.Music != nil {
			c.AudioDetached = true
		}
		applyScaled(c, r, opts.Strength)
		if i > 0 && opts.Transition > 0 && len(video.Clips) > 0 {
			c.Transition = &timeline.Transition{
				Type:     opts.TransitionType,
				Duration: math.Min(opts.Transition, length/2),
			}
		}
		video.Add(c)
		at += length
	}

	if opts.Music != nil && opts.Music.Source != "" && at > 0 {
		music := timeline.NewClip(timeline.ClipAudio, opts.Music.Source, 0, math.Min(at, opts.Music.Duration))
		music.SourceDuration = opts.Music.Duration
		tl.AddTrack(timeline.TrackAudio).Add(music)
	}

	tl.RecomputeDuration()
	return tl
}

// snapToBeat shortens length to the last beat in [shortest, length], keeping it when none fits
func snapToBeat(length float64, beats []float64, shortest float64) float64 {
	sorted := append([]float64(nil), beats...)
	sort.Float64s(sorted)

	best := length
	found := false
	for _, b := range sorted {
		if b >= shortest && b <= length+1e-9 {
			best = b
			found = true
		}
	}
	if !found {
		return length
	}
	return best
}

// BeatGrid returns beat times from 0 to duration at tempo
func BeatGrid(tempo, duration float64) []float64 {
	if tempo <= 0 || duration <= 0 {
		return nil
	}
	step := 60 / tempo
	var beats []float64
	for t := 0.0; t < duration; t += step {
		beats = append(beats, math.Round(t*1000)/1000)
	}
	return beats
}
