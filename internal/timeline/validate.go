package timeline

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalid marks malformed timeline data
var ErrInvalid = errors.New("invalid timeline")

// Validate reports every structural problem in the timeline without mutating it
func (tl *Timeline) Validate() error {
	var errs []error

	if tl.Width <= 0 || tl.Height <= 0 {
		errs = append(errs, fmt.Errorf("%w: canvas %dx%d", ErrInvalid, tl.Width, tl.Height))
	}
	if end := tl.ContentEnd(); tl.Duration < end {
		errs = append(errs, fmt.Errorf("%w: duration %.3f shorter than content %.3f", ErrInvalid, tl.Duration, end))
	}

	seen := make(map[string]bool)
	for ti, tr := range tl.Tracks {
		if tr == nil {
			errs = append(errs, fmt.Errorf("%w: track %d is null", ErrInvalid, ti))
			continue
		}
		for _, c := range tr.Clips {
			if c == nil {
				errs = append(errs, fmt.Errorf("%w: track %s has a null clip", ErrInvalid, tr.ID))
				continue
			}
			if c.ID != "" && seen[c.ID] {
				errs = append(errs, fmt.Errorf("%w: duplicate clip id %s", ErrInvalid, c.ID))
			}
			seen[c.ID] = true
			if err := c.Validate(); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}

// Validate reports problems with a single clip
func (c *Clip) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: clip %s: %s", ErrInvalid, c.ID, fmt.Sprintf(format, args...)))
	}

	if !(c.Duration > 0) || math.IsInf(c.Duration, 0) {
		bad("duration must be > 0, got %v", c.Duration)
	}
	if c.StartTime < 0 || math.IsNaN(c.StartTime) {
		bad("start time must be >= 0, got %v", c.StartTime)
	}
	if c.NeedsSource() && c.Source == "" {
		bad("%s clip has no source", c.Type)
	}
	if c.StartOffset < 0 {
		bad("start offset must be >= 0, got %v", c.StartOffset)
	}
	if c.SourceDuration > 0 && c.StartOffset+c.Duration*c.EffectiveSpeed() > c.SourceDuration+1e-6 {
		bad("trim window %.3f+%.3f exceeds source duration %.3f", c.StartOffset, c.Duration, c.SourceDuration)
	}

	cr := c.Crop
	for _, v := range []float64{cr.Left, cr.Top, cr.Right, cr.Bottom} {
		if v < 0 || v >= 100 {
			bad("crop inset %v outside [0,100)", v)
			break
		}
	}
	if cr.Left+cr.Right >= 100 {
		bad("crop left+right %v must be < 100", cr.Left+cr.Right)
	}
	if cr.Top+cr.Bottom >= 100 {
		bad("crop top+bottom %v must be < 100", cr.Top+cr.Bottom)
	}

	if c.Volume < 0 || c.Volume > 200 {
		bad("volume %v outside [0,200]", c.Volume)
	}

	for name, kfs := range c.Keyframes {
		for i := 1; i < len(kfs); i++ {
			if kfs[i].Time < kfs[i-1].Time {
				bad("keyframes for %s are not time-ordered", name)
				break
			}
		}
	}

	return errors.Join(errs...)
}
