package ffmpeg

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// SilenceSegment represents a period of silence in audio
type SilenceSegment struct {
	Start    float64
	End      float64
	Duration float64
}

// DetectSilence finds silence segments quieter than noiseThreshold dB lasting at least minDuration
func (e *Executor) DetectSilence(ctx context.Context, input string, noiseThreshold float64, minDuration float64) ([]SilenceSegment, error) {
	e.logger.Info().
		Str("input", input).
		Float64("noise_threshold", noiseThreshold).
		Float64("min_duration", minDuration).
		Msg("detecting silence")

	output, err := e.analyze(ctx, input, "-af", fmt.Sprintf("silencedetect=noise=%.6fdB:d=%.6f", noiseThreshold, minDuration))
	if err != nil {
		return nil, fmt.Errorf("silence detection failed: %w", err)
	}
	if output == "" {
		return nil, fmt.Errorf("silence detection produced no output")
	}

	return parseSilenceOutput(output), nil
}

// parseSilenceOutput extracts silence segments from silencedetect lines
func parseSilenceOutput(output string) []SilenceSegment {
	var segments []SilenceSegment
	var currentStart float64

	for _, line := range strings.Split(output, "\n") {
		if v, ok := field(line, "silence_start:"); ok {
			currentStart = v
			continue
		}
		end, ok := field(line, "silence_end:")
		if !ok {
			continue
		}
		duration, ok := field(line, "silence_duration:")
		if !ok {
			duration = end - currentStart
		}
		segments = append(segments, SilenceSegment{
			Start:    currentStart,
			End:      end,
			Duration: duration,
		})
	}

	return segments
}

// VolumeStats holds volume analysis results in dB
type VolumeStats struct {
	MeanVolume float64
	MaxVolume  float64
}

// AnalyzeVolume calculates volume statistics for audio/video file
func (e *Executor) AnalyzeVolume(ctx context.Context, input string) (*VolumeStats, error) {
	e.logger.Info().Str("input", input).Msg("analyzing volume")

	output, err := e.analyze(ctx, input, "-af", "volumedetect")
	if err != nil {
		return nil, fmt.Errorf("volume analysis failed: %w", err)
	}
	if output == "" {
		return nil, fmt.Errorf("volume analysis produced no output")
	}

	return parseVolumeOutput(output), nil
}

// parseVolumeOutput extracts volume stats from volumedetect lines
func parseVolumeOutput(output string) *VolumeStats {
	stats := &VolumeStats{}

	for _, line := range strings.Split(output, "\n") {
		if v, ok := field(line, "mean_volume:"); ok {
			stats.MeanVolume = v
		} else if v, ok := field(line, "max_volume:"); ok {
			stats.MaxVolume = v
		}
	}

	return stats
}

// field parses the number following key on the line
func field(line, key string) (float64, bool) {
	_, rest, ok := strings.Cut(line, key)
	if !ok {
		return 0, false
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(fields[0], "|"), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
