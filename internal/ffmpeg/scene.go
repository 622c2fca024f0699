package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// DetectScenes returns the times in seconds where the picture changes by more than threshold
func (e *Executor) DetectScenes(ctx context.Context, input string, threshold float64) ([]float64, error) {
	e.logger.Info().
		Str("input", input).
		Float64("threshold", threshold).
		Msg("detecting scene changes")

	output, err := e.analyze(ctx, input, "-vf", fmt.Sprintf("select='gt(scene,%f)',showinfo", threshold))
	if err != nil {
		return nil, fmt.Errorf("scene detection failed: %w", err)
	}

	scenes := parseSceneOutput(output)
	e.logger.Info().Int("scenes", len(scenes)).Msg("scene detection complete")
	return scenes, nil
}

// analyze runs a filter against a null muxer and collects the diagnostics
func (e *Executor) analyze(ctx context.Context, input, flag, filter string) (string, error) {
	var stderrBuf bytes.Buffer
	var mu sync.Mutex

	opts := RunOptions{
		Args: []string{
			"-i", input,
			flag, filter,
			"-f", "null",
			"-",
		},
		LogHandler: func(line string) {
			mu.Lock()
			stderrBuf.WriteString(line + "\n")
			mu.Unlock()
		},
	}

	err := e.Run(ctx, opts)

	mu.Lock()
	output := stderrBuf.String()
	mu.Unlock()

	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		// the null muxer can exit non-zero after the filter already reported
		if !strings.Contains(err.Error(), "Conversion failed") &&
			!strings.Contains(err.Error(), "Invalid return value") &&
			!strings.Contains(err.Error(), "Output file is empty") {
			return "", err
		}
	}
	return output, nil
}

// parseSceneOutput extracts scene change timestamps from showinfo lines
func parseSceneOutput(output string) []float64 {
	var scenes []float64

	for _, line := range strings.Split(output, "\n") {
		_, rest, ok := strings.Cut(line, "pts_time:")
		if !ok {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			continue
		}
		if seconds, err := strconv.ParseFloat(fields[0], 64); err == nil {
			scenes = append(scenes, seconds)
		}
	}

	return scenes
}
