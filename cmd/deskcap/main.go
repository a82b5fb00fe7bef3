package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/deskcap/internal/capture"
	"github.com/breeze-rmm/deskcap/internal/capture/captest"
	"github.com/breeze-rmm/deskcap/internal/config"
	"github.com/breeze-rmm/deskcap/internal/logging"
)

var (
	version     = "0.1.0"
	cfgFile     string
	backendFlag string
	adapterFlag int
	logLevel    string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:          "deskcap",
	Short:        "Desktop Duplication screen capture",
	Long:         `deskcap - capture the Windows desktop through DXGI Desktop Duplication`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("deskcap v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is deskcap.yaml in the platform config dir)")
	rootCmd.PersistentFlags().StringVar(&backendFlag, "backend", "", "capture backend: dxgi or simulated")
	rootCmd.PersistentFlags().IntVar(&adapterFlag, "adapter", 0, "graphics adapter index (0 = primary)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads the config file, applies command-line overrides,
// validates, and configures logging. The returned closer flushes the log
// file, if any.
func loadConfig(cmd *cobra.Command) (*config.Config, io.Closer, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Backend = backendFlag
	}
	if flags.Changed("adapter") {
		cfg.AdapterIndex = adapterFlag
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}

	closer, err := initLogging(cfg)
	if err != nil {
		return nil, nil, err
	}

	result := cfg.ValidateTiered()
	for _, w := range result.Warnings {
		log.Warn("config validation", logging.KeyError, w)
	}
	if result.HasFatals() {
		closer.Close()
		return nil, nil, fmt.Errorf("invalid config: %w", result.Err())
	}
	return cfg, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func initLogging(cfg *config.Config) (io.Closer, error) {
	if cfg.LogFile == "" {
		logging.Init(cfg.LogFormat, cfg.LogLevel, os.Stderr)
		return nopCloser{}, nil
	}
	rw, err := logging.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, rw)
	return rw, nil
}

// captureConfig maps the file config onto session options.
func captureConfig(cfg *config.Config, stats *capture.Stats) capture.Config {
	cc := capture.DefaultConfig()
	cc.AdapterIndex = uint32(cfg.AdapterIndex)
	cc.AcquireTimeout = cfg.AcquireTimeout()
	cc.Stats = stats
	if cfg.Backend == config.BackendSimulated {
		cc.Backend = captest.New(captest.Options{Width: 1280, Height: 720, RowPitch: 5376})
	} else {
		cc.Backend = capture.DefaultBackend()
	}
	return cc
}
