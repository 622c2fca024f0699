package animation

import "sort"

// Keyframe is a clip-relative sample of an animated property
type Keyframe struct {
	Time   float64 `json:"time"`
	Value  float64 `json:"value"`
	Easing Easing  `json:"easing"`
}

// Interpolate resolves the value at time t from a time-ordered keyframe list.
// Empty lists yield def. Times outside the list clamp to the nearest endpoint.
// The incoming keyframe's easing shapes each interval.
func Interpolate(t float64, kfs []Keyframe, def float64) float64 {
	if len(kfs) == 0 {
		return def
	}

	first := kfs[0]
	if t <= first.Time {
		return first.Value
	}
	last := kfs[len(kfs)-1]
	if t >= last.Time {
		return last.Value
	}

	// first index strictly after t; duplicates resolve to the later keyframe
	i := sort.Search(len(kfs), func(i int) bool { return kfs[i].Time > t })
	k1, k2 := kfs[i-1], kfs[i]

	span := k2.Time - k1.Time
	if span <= 0 {
		return k1.Value
	}

	p := k2.Easing.Apply((t - k1.Time) / span)
	return k1.Value + (k2.Value-k1.Value)*p
}

// SortKeyframes orders a keyframe list by time, keeping the relative order of equal times
func SortKeyframes(kfs []Keyframe) {
	sort.SliceStable(kfs, func(i, j int) bool { return kfs[i].Time < kfs[j].Time })
}
