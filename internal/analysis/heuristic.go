package analysis

import (
	"context"
	"fmt"
	"image"
	"math"
	"sort"

	"github.com/kikiluvv/framecut/internal/ffmpeg"
	"github.com/kikiluvv/framecut/internal/timeline"
	"github.com/nfnt/resize"
	"github.com/rs/zerolog"
)

// Media is the subset of the ffmpeg executor the heuristic analyzer needs
type Media interface {
	ProbeVideo(ctx context.Context, path string) (*ffmpeg.VideoInfo, error)
	DetectScenes(ctx context.Context, input string, threshold float64) ([]float64, error)
	DetectSilence(ctx context.Context, input string, noiseThreshold, minDuration float64) ([]ffmpeg.SilenceSegment, error)
	AnalyzeVolume(ctx context.Context, input string) (*ffmpeg.VolumeStats, error)
	ExtractFrame(ctx context.Context, source string, t float64) (image.Image, error)
}

var _ Media = (*ffmpeg.Executor)(nil)

// HeuristicConfig tunes the heuristic analyzer
type HeuristicConfig struct {
	SceneThreshold     float64
	SilenceThreshold   float64
	MinSilenceDuration float64
	// ThumbnailWidth is the width frame statistics are computed at.
	ThumbnailWidth uint
}

func DefaultHeuristicConfig() HeuristicConfig {
	return HeuristicConfig{
		SceneThreshold:     0.4,
		SilenceThreshold:   -30.0,
		MinSilenceDuration: 0.5,
		ThumbnailWidth:     160,
	}
}

// HeuristicAnalyzer derives a Report from ffmpeg filters and frame statistics
type HeuristicAnalyzer struct {
	logger zerolog.Logger
	media  Media
	config HeuristicConfig
}

var _ SceneAnalyzer = (*HeuristicAnalyzer)(nil)

func NewHeuristicAnalyzer(logger zerolog.Logger, m Media, cfg HeuristicConfig) *HeuristicAnalyzer {
	if cfg.ThumbnailWidth == 0 {
		cfg.ThumbnailWidth = DefaultHeuristicConfig().ThumbnailWidth
	}
	return &HeuristicAnalyzer{
		logger: logger.With().Str("component", "analyzer").Logger(),
		media:  m,
		config: cfg,
	}
}

// FrameStats are normalized still-image metrics in [0, 1]
type FrameStats struct {
	Colorfulness float64 `json:"colorfulness"`
	Contrast     float64 `json:"contrast"`
	// Brightness is the mean luminance, 0 black and 1 white.
	Brightness float64 `json:"brightness"`
}

// Analyze runs probe, scene, silence and volume detection and samples the middle frame
func (a *HeuristicAnalyzer) Analyze(ctx context.Context, source string) (*Report, error) {
	a.logger.Info().Str("source", source).Msg("analyzing source")

	info, err := a.media.ProbeVideo(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("probe: %w", err)
	}
	duration := info.Duration.Seconds()
	if duration <= 0 {
		return nil, fmt.Errorf("source %s has no duration", source)
	}

	report := &Report{Source: source, Duration: duration}

	var scenes []float64
	if info.HasVideo {
		scenes, err = a.media.DetectScenes(ctx, source, a.config.SceneThreshold)
		if err != nil {
			a.logger.Warn().Err(err).Msg("scene detection failed, continuing without scenes")
		}
	}
	report.Scenes = scenes

	var silences []ffmpeg.SilenceSegment
	var volume *ffmpeg.VolumeStats
	if info.HasAudio {
		silences, err = a.media.DetectSilence(ctx, source, a.config.SilenceThreshold, a.config.MinSilenceDuration)
		if err != nil {
			a.logger.Warn().Err(err).Msg("silence detection failed")
		}
		volume, err = a.media.AnalyzeVolume(ctx, source)
		if err != nil {
			a.logger.Warn().Err(err).Msg("volume analysis failed")
		}
	}

	stats := FrameStats{Colorfulness: 0.2, Contrast: 0.4, Brightness: 0.5}
	if info.HasVideo {
		frame, err := a.media.ExtractFrame(ctx, source, duration/2)
		if err != nil {
			a.logger.Warn().Err(err).Msg("frame extraction failed, using neutral statistics")
		} else {
			stats = Stats(resize.Resize(a.config.ThumbnailWidth, 0, frame, resize.Bilinear))
		}
	}

	report.Energy = energy(len(scenes), duration, volume, silenceRatio(silences, duration))
	report.Tempo = tempo(scenes, report.Energy)
	report.Beats = BeatGrid(report.Tempo, duration)
	report.Mood = mood(stats, report.Energy)
	report.Adjustments = suggest(stats)

	a.logger.Info().
		Str("source", source).
		Str("mood", report.Mood).
		Float64("energy", report.Energy).
		Float64("tempo", report.Tempo).
		Int("scenes", len(scenes)).
		Msg("analysis complete")

	return report, nil
}

// Stats computes colorfulness, contrast and brightness of img
func Stats(img image.Image) FrameStats {
	b := img.Bounds()
	pixels := float64(b.Dx() * b.Dy())
	if pixels == 0 {
		return FrameStats{}
	}

	var rSum, gSum, bSum, lumSum, lumSq float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			rf, gf, bf := float64(r>>8), float64(g>>8), float64(bl>>8)
			rSum += rf
			gSum += gf
			bSum += bf
			lum := 0.299*rf + 0.587*gf + 0.114*bf
			lumSum += lum
			lumSq += lum * lum
		}
	}

	rMean, gMean, bMean := rSum/pixels, gSum/pixels, bSum/pixels
	spread := math.Abs(rMean-gMean) + math.Abs(gMean-bMean) + math.Abs(bMean-rMean)

	mean := lumSum / pixels
	variance := math.Max(0, lumSq/pixels-mean*mean)

	return FrameStats{
		Colorfulness: math.Min(1, spread/255),
		Contrast:     math.Min(1, math.Sqrt(variance)/60),
		Brightness:   mean / 255,
	}
}

func silenceRatio(segments []ffmpeg.SilenceSegment, duration float64) float64 {
	if duration <= 0 {
		return 0
	}
	var total float64
	for _, s := range segments {
		total += s.Duration
	}
	return math.Min(1, total/duration)
}

// energy blends cut rate, loudness and the share of non-silent audio
func energy(scenes int, duration float64, volume *ffmpeg.VolumeStats, silence float64) float64 {
	// one cut every two seconds saturates
	cutRate := math.Min(1, float64(scenes)/duration*2)

	loud := 0.5
	if volume != nil {
		// -40 dB mean is quiet, -10 dB is loud
		loud = math.Max(0, math.Min(1, (volume.MeanVolume+40)/30))
	}

	e := 0.5*cutRate + 0.3*loud + 0.2*(1-silence)
	return math.Round(math.Max(0, math.Min(1, e))*100) / 100
}

// tempo folds the median scene interval into a musical range, or scales with energy
func tempo(scenes []float64, energy float64) float64 {
	if len(scenes) >= 2 {
		intervals := make([]float64, 0, len(scenes)-1)
		for i := 1; i < len(scenes); i++ {
			if d := scenes[i] - scenes[i-1]; d > 0 {
				intervals = append(intervals, d)
			}
		}
		if len(intervals) > 0 {
			sort.Float64s(intervals)
			bpm := 60 / intervals[len(intervals)/2]
			for bpm < 70 {
				bpm *= 2
			}
			for bpm > 180 {
				bpm /= 2
			}
			return math.Round(bpm)
		}
	}
	return math.Round(90 + 60*energy)
}

func mood(s FrameStats, energy float64) string {
	switch {
	case energy >= 0.7:
		return MoodEnergetic
	case s.Brightness < 0.3:
		return MoodDark
	case s.Colorfulness >= 0.35:
		return MoodVibrant
	case energy <= 0.3:
		return MoodCalm
	default:
		return MoodNeutral
	}
}

// suggest nudges the frame toward mid brightness, moderate contrast and some color
func suggest(s FrameStats) map[string]float64 {
	adj := map[string]float64{}
	if d := 0.5 - s.Brightness; math.Abs(d) > 0.1 {
		adj[timeline.AdjBrightness] = round(d * 40)
	}
	if s.Contrast < 0.4 {
		adj[timeline.AdjContrast] = round((0.4 - s.Contrast) * 50)
	}
	if s.Colorfulness < 0.15 {
		adj[timeline.AdjVibrance] = round((0.15 - s.Colorfulness) * 100)
	}
	return adj
}

func round(v float64) float64 {
	return math.Round(v*10) / 10
}
