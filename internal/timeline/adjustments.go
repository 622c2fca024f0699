package timeline

// Adjustment slider names. Every slider is neutral at 0.
const (
	AdjBrightness    = "brightness"
	AdjContrast      = "contrast"
	AdjSaturation    = "saturation"
	AdjTemperature   = "temperature"
	AdjTint          = "tint"
	AdjExposure      = "exposure"
	AdjHighlights    = "highlights"
	AdjShadows       = "shadows"
	AdjVibrance      = "vibrance"
	AdjHue           = "hue"
	AdjHSLSaturation = "hslSaturation"
	AdjHSLLightness  = "hslLightness"
	AdjSharpen       = "sharpen"
	AdjBlur          = "blur"
	AdjVignette      = "vignette"
	AdjGrain         = "grain"
	AdjFade          = "fade"
	AdjGrayscale     = "grayscale"
	AdjSepia         = "sepia"
	AdjSuperRes      = "superRes"
	AdjDenoise       = "denoise"
	AdjStabilize     = "stabilize"
	AdjClarity       = "clarity"
	AdjDehaze        = "dehaze"
	AdjWhites        = "whites"
	AdjBlacks        = "blacks"
)

// AdjustmentNames lists every known slider
var AdjustmentNames = []string{
	AdjBrightness, AdjContrast, AdjSaturation, AdjTemperature, AdjTint,
	AdjExposure, AdjHighlights, AdjShadows, AdjVibrance, AdjHue,
	AdjHSLSaturation, AdjHSLLightness, AdjSharpen, AdjBlur, AdjVignette,
	AdjGrain, AdjFade, AdjGrayscale, AdjSepia, AdjSuperRes, AdjDenoise,
	AdjStabilize, AdjClarity, AdjDehaze, AdjWhites, AdjBlacks,
}

// Adjustments is a flat map of named numeric sliders
type Adjustments map[string]float64

// Get returns the slider value, 0 when unset
func (a Adjustments) Get(name string) float64 {
	if a == nil {
		return 0
	}
	return a[name]
}

// Clone returns an independent copy
func (a Adjustments) Clone() Adjustments {
	out := make(Adjustments, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// IsNeutral reports whether every slider is 0
func (a Adjustments) IsNeutral() bool {
	for _, v := range a {
		if v != 0 {
			return false
		}
	}
	return true
}

// Add returns a copy with delta*scale added to each named slider
func (a Adjustments) Add(delta map[string]float64, scale float64) Adjustments {
	out := a.Clone()
	for k, v := range delta {
		out[k] += v * scale
	}
	return out
}
