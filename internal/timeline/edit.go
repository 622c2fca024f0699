package timeline

import (
	"fmt"
	"sort"

	"github.com/kikiluvv/framecut/internal/animation"
)

// New creates an empty timeline with the given canvas size
func New(width, height int) *Timeline {
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}
	return &Timeline{Width: width, Height: height}
}

// AddTrack appends a new track of the given kind
func (tl *Timeline) AddTrack(kind TrackKind) *Track {
	tr := &Track{
		ID:     NewID(),
		Kind:   kind,
		Height: DefaultTrackHeight,
	}
	tl.Tracks = append(tl.Tracks, tr)
	return tr
}

// Add places a clip on the track, keeping clips ordered by start time
func (tr *Track) Add(c *Clip) {
	tr.Clips = append(tr.Clips, c)
	sort.SliceStable(tr.Clips, func(i, j int) bool {
		return tr.Clips[i].StartTime < tr.Clips[j].StartTime
	})
}

// At returns the first clip whose interval contains t
func (tr *Track) At(t, eps float64) *Clip {
	for _, c := range tr.Clips {
		if c != nil && c.Duration > 0 && c.Contains(t, eps) {
			return c
		}
	}
	return nil
}

// Find locates a clip and its track by id
func (tl *Timeline) Find(id string) (*Track, *Clip) {
	for _, tr := range tl.Tracks {
		if tr == nil {
			continue
		}
		for _, c := range tr.Clips {
			if c != nil && c.ID == id {
				return tr, c
			}
		}
	}
	return nil, nil
}

// Remove deletes a clip by id
func (tl *Timeline) Remove(id string) bool {
	for _, tr := range tl.Tracks {
		if tr == nil {
			continue
		}
		for i, c := range tr.Clips {
			if c != nil && c.ID == id {
				tr.Clips = append(tr.Clips[:i], tr.Clips[i+1:]...)
				tl.RecomputeDuration()
				return true
			}
		}
	}
	return false
}

// Move repositions a clip on its track
func (tl *Timeline) Move(id string, start float64) error {
	tr, c := tl.Find(id)
	if c == nil {
		return fmt.Errorf("%w: clip %s not found", ErrInvalid, id)
	}
	if start < 0 {
		return fmt.Errorf("%w: negative start %f", ErrInvalid, start)
	}
	c.StartTime = start
	sort.SliceStable(tr.Clips, func(i, j int) bool {
		return tr.Clips[i].StartTime < tr.Clips[j].StartTime
	})
	tl.RecomputeDuration()
	return nil
}

// Split cuts a clip at timeline time at and returns the new right-hand clip.
// Keyframes are partitioned by time. Each half keeps the keyframe pair that
// brackets the cut, so eased curves evaluate exactly as before the split.
func (tl *Timeline) Split(id string, at float64) (*Clip, error) {
	tr, c := tl.Find(id)
	if c == nil {
		return nil, fmt.Errorf("%w: clip %s not found", ErrInvalid, id)
	}
	if at <= c.StartTime || at >= c.End() {
		return nil, fmt.Errorf("%w: split point %f outside clip [%f, %f)", ErrInvalid, at, c.StartTime, c.End())
	}

	cut := at - c.StartTime
	right := c.Clone()
	right.ID = NewID()
	right.StartTime = at
	right.Duration = c.Duration - cut
	right.StartOffset = c.StartOffset + cut*c.EffectiveSpeed()
	right.Transition = nil
	right.FadeIn = 0

	left := c
	left.Duration = cut
	left.FadeOut = 0

	if len(c.Keyframes) > 0 {
		leftKfs := make(map[string][]animation.Keyframe, len(c.Keyframes))
		rightKfs := make(map[string][]animation.Keyframe, len(c.Keyframes))
		for name, kfs := range c.Keyframes {
			leftKfs[name], rightKfs[name] = splitKeyframes(kfs, cut)
		}
		left.Keyframes = leftKfs
		right.Keyframes = rightKfs
	}

	left.Animations, right.Animations = splitAnimations(c.Animations)

	tr.Add(right)
	return right, nil
}

// splitKeyframes partitions kfs at clip time cut. The right half is shifted
// to start at zero and may begin with a keyframe at negative time.
func splitKeyframes(kfs []animation.Keyframe, cut float64) (left, right []animation.Keyframe) {
	// first keyframe strictly after the cut
	j := sort.Search(len(kfs), func(i int) bool { return kfs[i].Time > cut })

	left = append([]animation.Keyframe(nil), kfs[:min(j+1, len(kfs))]...)
	right = append([]animation.Keyframe(nil), kfs[max(j-1, 0):]...)
	for i := range right {
		right[i].Time -= cut
	}
	return left, right
}

func splitAnimations(anims []Animation) (left, right []Animation) {
	for _, a := range anims {
		switch animation.PresetKind(a.Type) {
		case animation.KindIn:
			left = append(left, a)
		case animation.KindOut:
			right = append(right, a)
		default:
			left = append(left, a)
			right = append(right, a)
		}
	}
	return left, right
}

// ContentEnd returns the latest clip end across all tracks
func (tl *Timeline) ContentEnd() float64 {
	end := 0.0
	for _, tr := range tl.Tracks {
		if tr == nil {
			continue
		}
		for _, c := range tr.Clips {
			if c != nil && c.End() > end {
				end = c.End()
			}
		}
	}
	return end
}

// RecomputeDuration grows the duration to cover every clip
func (tl *Timeline) RecomputeDuration() {
	if end := tl.ContentEnd(); end > tl.Duration {
		tl.Duration = end
	}
}

// Canvas returns the editing canvas size with defaults applied
func (tl *Timeline) Canvas() (int, int) {
	w, h := tl.Width, tl.Height
	if w <= 0 {
		w = DefaultWidth
	}
	if h <= 0 {
		h = DefaultHeight
	}
	return w, h
}
