package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kikiluvv/framecut/internal/config"
	"github.com/kikiluvv/framecut/internal/export"
	"github.com/kikiluvv/framecut/internal/ffmpeg"
	"github.com/kikiluvv/framecut/internal/logging"
	"github.com/kikiluvv/framecut/internal/media"
	"github.com/kikiluvv/framecut/internal/render"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	cfgFile string
	verbose bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "framecut",
	Short: "framecut - timeline compositing and export engine",
	Long:  "Resolves, previews and exports multi-track video timelines through ffmpeg.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.Init(verbose)

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if src := cfg.Source(); src != "" {
			log.Debug().Str("path", src).Msg("loaded config")
		}

		cmd.SetContext(config.WithConfig(cmd.Context(), cfg))
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./framecut.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(frameCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Config management commands",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(config.FromContext(cmd.Context()))
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the default configuration",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "framecut.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		if err := config.Default().Save(path); err != nil {
			return err
		}
		log.Info().Str("path", path).Msg("wrote default config")
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}

func newExecutor(cfg *config.Config) (*ffmpeg.Executor, error) {
	return ffmpeg.New(log.Logger, ffmpeg.Options{
		BinaryPath:  cfg.FFmpeg.BinaryPath,
		ProbePath:   cfg.FFmpeg.ProbePath,
		Threads:     cfg.FFmpeg.Threads,
		HWAccel:     cfg.FFmpeg.HWAccel,
		Preset:      cfg.FFmpeg.Preset,
		VAAPIDevice: cfg.FFmpeg.VAAPIDevice,
	})
}

func loadFonts(cfg *config.Config) (*render.FontRegistry, error) {
	fonts := render.NewFontRegistry()
	if dir := cfg.Render.FontsDir; dir != "" {
		if err := fonts.LoadDir(dir); err != nil {
			return nil, fmt.Errorf("failed to load fonts from %s: %w", dir, err)
		}
	}
	return fonts, nil
}

func newExporter(cfg *config.Config, exec *ffmpeg.Executor, fonts *render.FontRegistry) *export.Exporter {
	return export.New(log.Logger, ffmpeg.NewBackend(exec), exec, exec, export.WithFonts(fonts))
}

// exportDefaults maps the config file onto job settings
func exportDefaults(cfg *config.Config) export.Config {
	return export.Config{
		Width:           cfg.Export.Width,
		Height:          cfg.Export.Height,
		FPS:             cfg.Export.FPS,
		Bitrate:         cfg.Export.Bitrate,
		HWAccel:         cfg.FFmpeg.HWAccel,
		TempDir:         cfg.Export.TempDir,
		YieldEvery:      cfg.Export.YieldEvery,
		SampleRate:      cfg.Audio.SampleRate,
		Channels:        cfg.Audio.Channels,
		FrameSize:       cfg.Audio.FrameSize,
		AudioBitrate:    cfg.Audio.Bitrate,
		DecodeTolerance: cfg.Export.DecodeTolerance,
	}
}

func frameRouter(cfg *config.Config, exec *ffmpeg.Executor) *media.Router {
	r := &media.Router{Decoder: media.DecoderOptions{Tolerance: cfg.Export.DecodeTolerance}}
	if exec != nil {
		r.Streams = exec
	}
	return r
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
