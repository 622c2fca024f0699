package main

import (
	"fmt"

	"github.com/kikiluvv/framecut/internal/analysis"
	"github.com/kikiluvv/framecut/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	planPath   string
	musicPath  string
	maxClip    float64
	transition float64
)

var probeCmd = &cobra.Command{
	Use:   "probe [media file]",
	Short: "Print stream information for a media file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		exec, err := newExecutor(config.FromContext(cmd.Context()))
		if err != nil {
			return err
		}
		info, err := exec.ProbeVideo(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(info)
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze [media files...]",
	Short: "Analyze mood, energy and tempo, optionally planning a timeline",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		exec, err := newExecutor(cfg)
		if err != nil {
			return err
		}
		analyzer := analysis.NewHeuristicAnalyzer(log.Logger, exec, analysis.DefaultHeuristicConfig())

		reports := make([]*analysis.Report, 0, len(args))
		for _, src := range args {
			r, err := analyzer.Analyze(cmd.Context(), src)
			if err != nil {
				return fmt.Errorf("%s: %w", src, err)
			}
			reports = append(reports, r)
		}

		if planPath == "" {
			return printJSON(reports)
		}

		opts := analysis.PlanOptions{
			MaxClip:    maxClip,
			Transition: transition,
		}
		if musicPath != "" {
			music, err := analyzer.Analyze(cmd.Context(), musicPath)
			if err != nil {
				return fmt.Errorf("%s: %w", musicPath, err)
			}
			opts.Music = music
		}

		tl := analysis.PlanTimeline(reports, opts)
		if err := tl.Save(planPath); err != nil {
			return err
		}
		log.Info().
			Str("timeline", planPath).
			Int("clips", len(tl.Tracks[0].Clips)).
			Float64("duration", tl.Duration).
			Msg("timeline planned")
		return nil
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&planPath, "plan", "", "write a generated timeline to this path")
	analyzeCmd.Flags().StringVar(&musicPath, "music", "", "music bed whose beats drive the cuts")
	analyzeCmd.Flags().Float64Var(&maxClip, "max-clip", 6, "longest clip in a planned timeline, in seconds")
	analyzeCmd.Flags().Float64Var(&transition, "transition", 0.5, "crossfade between planned clips, 0 for hard cuts")
}
