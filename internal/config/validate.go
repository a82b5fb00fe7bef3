package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
)

var validBackends = map[string]bool{
	BackendDXGI:      true,
	BackendSimulated: true,
}

var validOutputFormats = map[string]bool{
	"png":  true,
	"bmp":  true,
	"jpeg": true,
	"jpg":  true,
	"raw":  true,
}

var validUploadSchemes = map[string]bool{
	"s3":     true,
	"gs":     true,
	"azblob": true,
	"b2":     true,
	"file":   true,
}

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// ValidationResult separates problems that make the config unusable from
// problems that were corrected in place.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// AllErrors returns fatals followed by warnings.
func (r ValidationResult) AllErrors() []error {
	all := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	all = append(all, r.Fatals...)
	return append(all, r.Warnings...)
}

// Err joins the fatals, or returns nil when there are none.
func (r ValidationResult) Err() error {
	return errors.Join(r.Fatals...)
}

// Validate checks the config and returns every problem found. Values that
// would break the capture loop are clamped to safe ranges. Everything is
// logged as a warning.
func (c *Config) Validate() []error {
	errs := c.ValidateTiered().AllErrors()
	for _, err := range errs {
		slog.Warn("config validation", "error", err)
	}
	return errs
}

// ValidateTiered is Validate without logging, split by severity.
func (c *Config) ValidateTiered() ValidationResult {
	var r ValidationResult
	fatal := func(format string, args ...any) {
		r.Fatals = append(r.Fatals, fmt.Errorf(format, args...))
	}
	warn := func(format string, args ...any) {
		r.Warnings = append(r.Warnings, fmt.Errorf(format, args...))
	}

	if c.AdapterIndex < 0 {
		fatal("adapter_index %d must not be negative", c.AdapterIndex)
	}

	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	if c.Backend == "" {
		c.Backend = BackendDXGI
	}
	if !validBackends[c.Backend] {
		fatal("backend %q is not valid (use dxgi or simulated)", c.Backend)
	}

	c.OutputFormat = strings.ToLower(strings.TrimSpace(c.OutputFormat))
	if c.OutputFormat == "" {
		c.OutputFormat = "png"
	}
	if !validOutputFormats[c.OutputFormat] {
		fatal("output_format %q is not valid (use png, bmp, jpeg or raw)", c.OutputFormat)
	}

	if c.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			fatal("metrics_addr %q is not host:port: %w", c.MetricsAddr, err)
		}
	}

	if c.UploadURL != "" {
		u, err := url.Parse(c.UploadURL)
		switch {
		case err != nil:
			fatal("upload_url %q is not a URL: %w", c.UploadURL, err)
		case !validUploadSchemes[strings.ToLower(u.Scheme)]:
			fatal("upload_url %q has unsupported scheme (use s3, gs, azblob, b2 or file)", c.UploadURL)
		case u.Host == "" && strings.ToLower(u.Scheme) != "file":
			fatal("upload_url %q has no bucket", c.UploadURL)
		}
	}
	if c.UploadEndpoint != "" {
		if u, err := url.Parse(c.UploadEndpoint); err != nil || u.Scheme == "" || u.Host == "" {
			fatal("upload_endpoint %q is not an absolute URL", c.UploadEndpoint)
		}
	}

	// A zero timeout turns AcquireNextFrame into a busy poll.
	if c.AcquireTimeoutMs < 1 {
		warn("acquire_timeout_ms %d is below minimum 1, clamping", c.AcquireTimeoutMs)
		c.AcquireTimeoutMs = 1
	} else if c.AcquireTimeoutMs > 10000 {
		warn("acquire_timeout_ms %d exceeds maximum 10000, clamping", c.AcquireTimeoutMs)
		c.AcquireTimeoutMs = 10000
	}

	if c.PollIntervalMs < 0 {
		warn("poll_interval_ms %d is negative, clamping", c.PollIntervalMs)
		c.PollIntervalMs = 0
	} else if c.PollIntervalMs > 60000 {
		warn("poll_interval_ms %d exceeds maximum 60000, clamping", c.PollIntervalMs)
		c.PollIntervalMs = 60000
	}

	if c.MaxFPS < 0 {
		warn("max_fps %g is negative, treating as unlimited", c.MaxFPS)
		c.MaxFPS = 0
	} else if c.MaxFPS > 240 {
		warn("max_fps %g exceeds maximum 240, clamping", c.MaxFPS)
		c.MaxFPS = 240
	}

	if c.SinkWorkers < 1 {
		warn("sink_workers %d is below minimum 1, clamping", c.SinkWorkers)
		c.SinkWorkers = 1
	} else if c.SinkWorkers > 32 {
		warn("sink_workers %d exceeds maximum 32, clamping", c.SinkWorkers)
		c.SinkWorkers = 32
	}

	if c.SinkQueueSize < 1 {
		warn("sink_queue_size %d is below minimum 1, clamping", c.SinkQueueSize)
		c.SinkQueueSize = 1
	} else if c.SinkQueueSize > 1024 {
		warn("sink_queue_size %d exceeds maximum 1024, clamping", c.SinkQueueSize)
		c.SinkQueueSize = 1024
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		warn("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel)
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		warn("log_format %q is not valid (use text or json)", c.LogFormat)
	}

	if c.LogMaxSizeMB < 1 {
		warn("log_max_size_mb %d is below minimum 1, clamping", c.LogMaxSizeMB)
		c.LogMaxSizeMB = 1
	} else if c.LogMaxSizeMB > 1024 {
		warn("log_max_size_mb %d exceeds maximum 1024, clamping", c.LogMaxSizeMB)
		c.LogMaxSizeMB = 1024
	}
	if c.LogMaxBackups < 1 {
		warn("log_max_backups %d is below minimum 1, clamping", c.LogMaxBackups)
		c.LogMaxBackups = 1
	} else if c.LogMaxBackups > 100 {
		warn("log_max_backups %d exceeds maximum 100, clamping", c.LogMaxBackups)
		c.LogMaxBackups = 100
	}

	if c.RebuildBackoffInitialMs < 10 {
		warn("rebuild_backoff_initial_ms %d is below minimum 10, clamping", c.RebuildBackoffInitialMs)
		c.RebuildBackoffInitialMs = 10
	} else if c.RebuildBackoffInitialMs > 60000 {
		warn("rebuild_backoff_initial_ms %d exceeds maximum 60000, clamping", c.RebuildBackoffInitialMs)
		c.RebuildBackoffInitialMs = 60000
	}
	if c.RebuildBackoffMaxMs < c.RebuildBackoffInitialMs {
		warn("rebuild_backoff_max_ms %d is below rebuild_backoff_initial_ms, raising to %d",
			c.RebuildBackoffMaxMs, c.RebuildBackoffInitialMs)
		c.RebuildBackoffMaxMs = c.RebuildBackoffInitialMs
	} else if c.RebuildBackoffMaxMs > 300000 {
		warn("rebuild_backoff_max_ms %d exceeds maximum 300000, clamping", c.RebuildBackoffMaxMs)
		c.RebuildBackoffMaxMs = 300000
	}

	return r
}
