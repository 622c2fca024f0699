package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"time"

	"github.com/kikiluvv/framecut/internal/config"
	"github.com/kikiluvv/framecut/internal/media"
	"github.com/kikiluvv/framecut/internal/preview"
	"github.com/kikiluvv/framecut/internal/resolver"
	"github.com/kikiluvv/framecut/internal/server"
	"github.com/kikiluvv/framecut/internal/timeline"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	addrFlag     string
	watchFlag    bool
	snapshotPath string
	speedFlag    float64
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the resolve, frame and export API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		exec, err := newExecutor(cfg)
		if err != nil {
			return err
		}
		fonts, err := loadFonts(cfg)
		if err != nil {
			return err
		}

		addr := cfg.Server.Addr
		if addrFlag != "" {
			addr = addrFlag
		}

		srv := server.New(log.Logger, newExporter(cfg, exec, fonts), server.Options{
			Addr:        addr,
			MaxJobs:     cfg.Server.MaxJobs,
			OutputDir:   cfg.Export.OutputDir,
			Defaults:    exportDefaults(cfg),
			Frames:      frameRouter(cfg, exec),
			Fonts:       fonts,
			MediaRoot:   cfg.Server.MediaRoot,
			AllowRemote: cfg.Server.AllowRemote,
		})

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		select {
		case err := <-errCh:
			return err
		case <-cmd.Context().Done():
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	},
}

var previewCmd = &cobra.Command{
	Use:   "preview [timeline.json]",
	Short: "Play a timeline through the live preview path",
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

		var last *image.RGBA
		session := preview.New(log.Logger, preview.DecodeFactory(log.Logger, frameRouter(cfg, exec), time.Now), tl, preview.Options{
			FPS:      cfg.Preview.FPS,
			MaxWidth: cfg.Preview.MaxWidth,
			Tolerances: media.Tolerances{
				Paused:  cfg.Preview.ScrubTolerance,
				Playing: cfg.Preview.PlayTolerance,
			},
			HighQuality: cfg.Render.HighQuality,
			Fonts:       fonts,
			OnFrame: func(surface *image.RGBA, _ *resolver.FrameState) {
				if snapshotPath == "" {
					return
				}
				if last == nil || last.Rect != surface.Rect {
					last = image.NewRGBA(surface.Rect)
				}
				copy(last.Pix, surface.Pix)
			},
		})
		defer session.Close()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		if watchFlag {
			go func() {
				if err := session.Watch(ctx, args[0]); err != nil && !errors.Is(err, context.Canceled) {
					log.Error().Err(err).Msg("timeline watch stopped")
				}
			}()
		}

		if speedFlag > 0 {
			session.SetSpeed(speedFlag)
		}
		if atTime > 0 {
			session.Seek(atTime)
		}
		session.Play()

		// without --watch the preview ends with playback
		go func() {
			ticker := time.NewTicker(100 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if !watchFlag && !session.Playing() {
						cancel()
						return
					}
				}
			}
		}()

		if err := session.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}

		stats := session.Stats()
		log.Info().
			Int64("rendered", stats.Rendered).
			Int64("dropped", stats.Dropped).
			Int64("skipped", stats.Skipped).
			Msg("preview finished")

		if snapshotPath != "" && last != nil {
			f, err := os.Create(snapshotPath)
			if err != nil {
				return err
			}
			defer f.Close()
			if err := png.Encode(f, last); err != nil {
				return fmt.Errorf("failed to encode snapshot: %w", err)
			}
			log.Info().Str("snapshot", snapshotPath).Msg("wrote last preview frame")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&addrFlag, "addr", "", "listen address (default: server.addr)")

	previewCmd.Flags().BoolVar(&watchFlag, "watch", false, "reload the timeline when the file changes and keep running")
	previewCmd.Flags().Float64VarP(&atTime, "at", "t", 0, "start playback at this timeline time")
	previewCmd.Flags().StringVarP(&snapshotPath, "output", "o", "", "write the last rendered frame to this png")
	previewCmd.Flags().Float64Var(&speedFlag, "speed", 1, "playback speed")
}
