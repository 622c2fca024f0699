package main

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/kikiluvv/framecut/internal/config"
	"github.com/kikiluvv/framecut/internal/export"
	"github.com/kikiluvv/framecut/internal/media"
	"github.com/kikiluvv/framecut/internal/render"
	"github.com/kikiluvv/framecut/internal/resolver"
	"github.com/kikiluvv/framecut/internal/timeline"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	atTime      float64
	outputPath  string
	outWidth    int
	outHeight   int
	outFPS      float64
	bitrateFlag int64
	hwaccelFlag string
	hqFlag      bool
)

var resolveCmd = &cobra.Command{
	Use:   "resolve [timeline.json]",
	Short: "Print the resolved frame state at a time",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tl, err := timeline.Load(args[0])
		if err != nil {
			return err
		}
		fs := resolver.Resolve(tl, atTime, resolver.Settings{OutputWidth: outWidth, OutputHeight: outHeight})
		return printJSON(fs)
	},
}

var frameCmd = &cobra.Command{
	Use:   "frame [timeline.json]",
	Short: "Render a single frame to PNG",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		tl, err := timeline.Load(args[0])
		if err != nil {
			return err
		}

		exec, err := newExecutor(cfg)
		if err != nil {
			log.Warn().Err(err).Msg("ffmpeg unavailable, only image sources will render")
		}
		fonts, err := loadFonts(cfg)
		if err != nil {
			return err
		}

		w, h := outWidth, outHeight
		editW, editH := tl.Canvas()
		if w <= 0 {
			w = editW
		}
		if h <= 0 {
			h = max(1, w*editH/editW)
		}

		fs := resolver.Resolve(tl, atTime, resolver.Settings{OutputWidth: w, OutputHeight: h})

		pool := media.NewPool(log.Logger, frameRouter(cfg, exec), media.ClipKey)
		defer pool.Close()
		batch := pool.Batch(cmd.Context())
		defer batch.Release()

		surface := image.NewRGBA(image.Rect(0, 0, w, h))
		render.Render(surface, &fs, render.Options{
			HighQuality: hqFlag,
			Frames:      batch,
			Fonts:       fonts,
			Logger:      &log.Logger,
		})

		out := outputPath
		if out == "" {
			out = fmt.Sprintf("frame_%.3f.png", atTime)
		}
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := png.Encode(f, surface); err != nil {
			return fmt.Errorf("failed to encode png: %w", err)
		}

		log.Info().
			Str("output", out).
			Float64("time", fs.Time).
			Int("layers", len(fs.Layers)).
			Msg("frame rendered")
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export [timeline.json]",
	Short: "Export a timeline to MP4",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		tl, err := timeline.Load(args[0])
		if err != nil {
			return err
		}

		exec, err := newExecutor(cfg)
		if err != nil {
			return err
		}
		fonts, err := loadFonts(cfg)
		if err != nil {
			return err
		}

		ecfg := exportDefaults(cfg)
		if outWidth > 0 {
			ecfg.Width = outWidth
		}
		if outHeight > 0 {
			ecfg.Height = outHeight
		}
		if outFPS > 0 {
			ecfg.FPS = outFPS
		}
		if bitrateFlag > 0 {
			ecfg.Bitrate = bitrateFlag
		}
		if hwaccelFlag != "" {
			ecfg.HWAccel = hwaccelFlag
		}
		ecfg.Output = outputPath
		if ecfg.Output == "" {
			stem := filepath.Base(args[0])
			stem = stem[:len(stem)-len(filepath.Ext(stem))]
			ecfg.Output = filepath.Join(cfg.Export.OutputDir, stem+".mp4")
		}

		start := time.Now()
		job, err := newExporter(cfg, exec, fonts).Run(cmd.Context(), tl, ecfg, func(u export.Update) {
			log.Info().
				Str("state", string(u.State)).
				Float64("progress", u.Progress).
				Int("frame", u.Frame).
				Int("total", u.Total).
				Msg("export progress")
		})
		if err != nil {
			log.Error().Err(err).Str("status", job.Status()).Msg("export did not complete")
			return err
		}

		log.Info().
			Str("output", job.Output()).
			Dur("elapsed", time.Since(start)).
			Msg("export finished")
		return nil
	},
}

func init() {
	resolveCmd.Flags().Float64VarP(&atTime, "at", "t", 0, "timeline time in seconds")
	resolveCmd.Flags().IntVar(&outWidth, "width", 0, "output width (default: canvas)")
	resolveCmd.Flags().IntVar(&outHeight, "height", 0, "output height (default: canvas)")

	frameCmd.Flags().Float64VarP(&atTime, "at", "t", 0, "timeline time in seconds")
	frameCmd.Flags().StringVarP(&outputPath, "output", "o", "", "output png (default: frame_<t>.png)")
	frameCmd.Flags().IntVar(&outWidth, "width", 0, "output width (default: canvas)")
	frameCmd.Flags().IntVar(&outHeight, "height", 0, "output height (default: from width and canvas aspect)")
	frameCmd.Flags().BoolVar(&hqFlag, "hq", true, "bilinear sampling instead of nearest neighbour")

	exportCmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file (default: <output_dir>/<timeline>.mp4)")
	exportCmd.Flags().IntVar(&outWidth, "width", 0, "output width")
	exportCmd.Flags().IntVar(&outHeight, "height", 0, "output height")
	exportCmd.Flags().Float64Var(&outFPS, "fps", 0, "output frame rate")
	exportCmd.Flags().Int64Var(&bitrateFlag, "bitrate", 0, "video bitrate in bits per second (default: from resolution)")
	exportCmd.Flags().StringVar(&hwaccelFlag, "hwaccel", "", "auto, none, nvenc, vaapi or videotoolbox")
}
