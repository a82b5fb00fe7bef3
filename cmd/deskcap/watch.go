package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/deskcap/internal/capture"
	"github.com/breeze-rmm/deskcap/internal/framesink"
	"github.com/breeze-rmm/deskcap/internal/framestore"
	"github.com/breeze-rmm/deskcap/internal/health"
	"github.com/breeze-rmm/deskcap/internal/imageout"
	"github.com/breeze-rmm/deskcap/internal/logging"
	"github.com/breeze-rmm/deskcap/internal/metrics"
	"github.com/breeze-rmm/deskcap/internal/screen"
)

var (
	watchDuration time.Duration
	watchNoWrite  bool
	watchUpload   string
)

const healthInterval = 5 * time.Second

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Capture continuously into the output directory or upload destination",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, closer, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		defer closer.Close()

		format, err := imageout.ParseFormat(cfg.OutputFormat)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if watchDuration > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, watchDuration)
			defer cancel()
		}

		stats := &capture.Stats{}
		svc := screen.NewService(captureConfig(cfg, stats))
		defer svc.Close()
		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("failed to start capture: %w", err)
		}

		if watchUpload != "" {
			cfg.UploadURL = watchUpload
		}
		dest := cfg.FrameDestination()
		var handler framesink.Handler = func(context.Context, *capture.PixelBuffer) error { return nil }
		if !watchNoWrite {
			store, err := framestore.Open(ctx, dest, framestore.Options{
				Region:   cfg.UploadRegion,
				Endpoint: cfg.UploadEndpoint,
			})
			if err != nil {
				return err
			}
			defer store.Close()
			handler = framesink.StoreHandler(store, format)
		}
		sink := framesink.New(cfg.SinkWorkers, cfg.SinkQueueSize, handler)

		hm := health.NewMonitor()
		if cfg.MetricsAddr != "" {
			collector := metrics.NewCollector(stats,
				metrics.WithService(svc.Status),
				metrics.WithSink(sink.Stats))
			exporter := metrics.NewExporter(cfg.MetricsAddr, hm, collector)
			if err := exporter.Start(); err != nil {
				return fmt.Errorf("failed to start metrics exporter: %w", err)
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				exporter.Shutdown(shutdownCtx)
			}()
		}
		go watchHealth(ctx, hm, svc, sink)

		width, height, _ := svc.Dimensions()
		fmt.Printf("Watching %dx%d output, writing %s frames to %s\n", width, height, format, dest)
		poller := screen.NewPoller(svc, screen.PollerConfig{
			Interval:       cfg.PollInterval(),
			MaxFPS:         cfg.MaxFPS,
			BackoffInitial: cfg.RebuildBackoffInitial(),
			BackoffMax:     cfg.RebuildBackoffMax(),
		})
		runErr := poller.Run(ctx, func(frame *capture.PixelBuffer) error {
			sink.Submit(frame)
			return nil
		})

		drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := sink.Shutdown(drainCtx); err != nil {
			log.Warn("frame sink did not drain", logging.KeyError, err)
		}

		snap := stats.Snapshot()
		st := sink.Stats()
		fmt.Printf("Captured %d frames (%d unchanged, %d timeouts, %d rebuilds); wrote %d, dropped %d\n",
			snap.Captures, snap.NoChange, snap.Timeouts, svc.Status().Rebuilds, st.Written, st.Dropped)
		return runErr
	},
}

func watchHealth(ctx context.Context, hm *health.Monitor, svc *screen.Service, sink *framesink.Sink) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	prev := sink.Stats()
	hm.ObserveCapture(svc.Status())
	hm.ObserveSink(prev, prev)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur := sink.Stats()
			hm.ObserveCapture(svc.Status())
			hm.ObserveSink(prev, cur)
			prev = cur
			log.Debug("capture status", "status", svc.Status())
		}
	}
}

func init() {
	watchCmd.Flags().DurationVar(&watchDuration, "duration", 0, "stop after this long (default runs until interrupted)")
	watchCmd.Flags().StringVar(&watchUpload, "upload", "", "upload frames to s3://, gs://, azblob:// or b2:// instead of output_dir")
	watchCmd.Flags().BoolVar(&watchNoWrite, "no-write", false, "capture without writing files, for load and metrics testing")
}
