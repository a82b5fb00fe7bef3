package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/deskcap/internal/capture"
	"github.com/breeze-rmm/deskcap/internal/imageout"
	"github.com/breeze-rmm/deskcap/internal/screen"
)

var (
	captureOutput  string
	captureFormat  string
	captureDataURL bool
	captureTimeout time.Duration
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture one frame to a file or a data URL",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, closer, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		defer closer.Close()

		formatName := cfg.OutputFormat
		if cmd.Flags().Changed("format") {
			formatName = captureFormat
		}
		format, err := imageout.ParseFormat(formatName)
		if err != nil {
			return err
		}

		svc := screen.NewService(captureConfig(cfg, &capture.Stats{}))
		defer svc.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), captureTimeout)
		defer cancel()
		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("failed to start capture: %w", err)
		}

		poller := screen.NewPoller(svc, screen.PollerConfig{
			BackoffInitial: cfg.RebuildBackoffInitial(),
			BackoffMax:     cfg.RebuildBackoffMax(),
		})
		frame, err := poller.Next(ctx)
		if err != nil {
			return fmt.Errorf("failed to capture frame: %w", err)
		}

		if captureDataURL {
			url, err := imageout.DataURL(frame)
			if err != nil {
				return err
			}
			fmt.Println(url)
			return nil
		}

		path := captureOutput
		if path == "" {
			name := "capture-" + frame.CapturedAt.Format("20060102-150405") + format.Ext()
			path = filepath.Join(cfg.OutputDir, name)
		}
		if err := imageout.WriteFile(path, frame, format); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		fmt.Printf("Captured %dx%d frame to %s\n", frame.Width, frame.Height, path)
		return nil
	},
}

func init() {
	captureCmd.Flags().StringVarP(&captureOutput, "output", "o", "", "output file (default is output_dir/capture-<time>.<ext>)")
	captureCmd.Flags().StringVar(&captureFormat, "format", "", "image format: png, bmp, jpeg or raw")
	captureCmd.Flags().BoolVar(&captureDataURL, "data-url", false, "print a base64 PNG data URL instead of writing a file")
	captureCmd.Flags().DurationVar(&captureTimeout, "timeout", 10*time.Second, "give up if no changed frame arrives in time")
}
