// Package metrics exposes capture counters and service state to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/breeze-rmm/deskcap/internal/capture"
	"github.com/breeze-rmm/deskcap/internal/framesink"
	"github.com/breeze-rmm/deskcap/internal/screen"
)

const namespace = "deskcap"

var states = []screen.State{
	screen.StateIdle, screen.StateReady, screen.StateLost, screen.StateFailed, screen.StateClosed,
}

// Collector reads capture.Stats and optional service and sink sources at
// scrape time. It holds no counters of its own.
type Collector struct {
	stats  *capture.Stats
	status func() screen.Status
	sink   func() framesink.Stats

	acquires    *prometheus.Desc
	releases    *prometheus.Desc
	outstanding *prometheus.Desc
	captures    *prometheus.Desc
	noChange    *prometheus.Desc
	timeouts    *prometheus.Desc
	accessLost  *prometheus.Desc
	failures    *prometheus.Desc
	sessions    *prometheus.Desc
	bytes       *prometheus.Desc
	lastTime    *prometheus.Desc
	lastTook    *prometheus.Desc

	state    *prometheus.Desc
	rebuilds *prometheus.Desc
	width    *prometheus.Desc
	height   *prometheus.Desc

	sinkFrames *prometheus.Desc
}

// Option adds an optional source to a Collector.
type Option func(*Collector)

// WithService reports service state, rebuilds and output size.
func WithService(status func() screen.Status) Option {
	return func(c *Collector) { c.status = status }
}

// WithSink reports frame sink outcomes.
func WithSink(stats func() framesink.Stats) Option {
	return func(c *Collector) { c.sink = stats }
}

func NewCollector(stats *capture.Stats, opts ...Option) *Collector {
	c := &Collector{
		stats: stats,

		acquires:    desc("frames_acquired_total", "Frames acquired from the desktop duplication."),
		releases:    desc("frames_released_total", "Acquired frames released back to the compositor."),
		outstanding: desc("frames_outstanding", "Frames acquired and not yet released."),
		captures:    desc("frames_captured_total", "Frames copied out to CPU memory."),
		noChange:    desc("frames_unchanged_total", "Acquires that delivered no new desktop content."),
		timeouts:    desc("acquire_timeouts_total", "Acquires that timed out waiting for a frame."),
		accessLost:  desc("access_lost_total", "Times the duplication interface was invalidated."),
		failures:    desc("capture_failures_total", "Captures that failed with a hard error."),
		sessions:    desc("sessions_opened_total", "Capture sessions constructed."),
		bytes:       desc("bytes_copied_total", "Packed pixel bytes produced."),
		lastTime:    desc("last_capture_timestamp_seconds", "Unix time of the last completed capture."),
		lastTook:    desc("last_capture_duration_seconds", "Duration of the last completed capture."),

		state:    prometheus.NewDesc(namespace+"_session_state", "Capture service state (1 for the current state).", []string{"state"}, nil),
		rebuilds: desc("session_rebuilds_total", "Sessions rebuilt after access was lost."),
		width:    desc("output_width_pixels", "Width of the duplicated output."),
		height:   desc("output_height_pixels", "Height of the duplicated output."),

		sinkFrames: prometheus.NewDesc(namespace+"_sink_frames_total", "Frames handled by the frame sink by outcome.", []string{"outcome"}, nil),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func desc(name, help string) *prometheus.Desc {
	return prometheus.NewDesc(namespace+"_"+name, help, nil, nil)
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.acquires, c.releases, c.outstanding, c.captures, c.noChange, c.timeouts,
		c.accessLost, c.failures, c.sessions, c.bytes, c.lastTime, c.lastTook,
	} {
		ch <- d
	}
	if c.status != nil {
		ch <- c.state
		ch <- c.rebuilds
		ch <- c.width
		ch <- c.height
	}
	if c.sink != nil {
		ch <- c.sinkFrames
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats.Snapshot()
	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}

	counter(c.acquires, s.Acquires)
	counter(c.releases, s.Releases)
	gauge(c.outstanding, float64(s.Outstanding()))
	counter(c.captures, s.Captures)
	counter(c.noChange, s.NoChange)
	counter(c.timeouts, s.Timeouts)
	counter(c.accessLost, s.AccessLost)
	counter(c.failures, s.Failures)
	counter(c.sessions, s.SessionsOpened)
	counter(c.bytes, s.BytesCopied)
	if !s.LastCapture.IsZero() {
		gauge(c.lastTime, float64(s.LastCapture.UnixNano())/1e9)
	} else {
		gauge(c.lastTime, 0)
	}
	gauge(c.lastTook, s.LastCaptureTime.Seconds())

	if c.status != nil {
		st := c.status()
		for _, state := range states {
			v := 0.0
			if st.State == state {
				v = 1
			}
			gauge(c.state, v, string(state))
		}
		counter(c.rebuilds, st.Rebuilds)
		gauge(c.width, float64(st.Width))
		gauge(c.height, float64(st.Height))
	}

	if c.sink != nil {
		ss := c.sink()
		for outcome, v := range map[string]uint64{
			"submitted": ss.Submitted,
			"dropped":   ss.Dropped,
			"written":   ss.Written,
			"failed":    ss.Failed,
		} {
			ch <- prometheus.MustNewConstMetric(c.sinkFrames, prometheus.CounterValue, float64(v), outcome)
		}
	}
}
