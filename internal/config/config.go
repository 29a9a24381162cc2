// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New(...) initializer to build a Config with defaults.
// - External errors must be wrapped via this package's error helpers.
package config

import (
	"context"
)

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// DatabaseURL points at Postgres. Empty runs the service on the
	// in-memory store and queue, which is only useful for development.
	DatabaseURL string `koanf:"database_url"`

	// SharedSecret guards the job-trigger endpoints.
	SharedSecret string `koanf:"shared_secret"`

	// WorkerCount sets the number of queue consumers.
	WorkerCount int `koanf:"worker_count"`

	// PollIntervalMS is how often an idle worker polls the queue.
	PollIntervalMS int `koanf:"poll_interval_ms"`

	// VisibilityTimeoutS is the message lease in seconds. A consumer that
	// dies mid-job loses the lease and the message is redelivered.
	VisibilityTimeoutS int `koanf:"visibility_timeout_s"`

	// MaxReadCount dead-letters a message after this many deliveries.
	MaxReadCount int `koanf:"max_read_count"`

	// ScheduleIntervalMin is the fan-out sweep cadence in minutes.
	ScheduleIntervalMin int `koanf:"schedule_interval_min"`

	// EstimateIntervalMin is the device power estimation cadence in minutes.
	EstimateIntervalMin int `koanf:"estimate_interval_min"`

	// PeakMultiplier and AnomalyMultiplier scale the detection threshold
	// (mean + multiplier * stddev) per event kind.
	PeakMultiplier    float64 `koanf:"peak_multiplier"`
	AnomalyMultiplier float64 `koanf:"anomaly_multiplier"`

	// ConfidenceThreshold is the minimum classifier confidence for a
	// device suggestion to stick.
	ConfidenceThreshold float64 `koanf:"confidence_threshold"`

	// ClassifyURL and ClassifyAPIKey configure the external device
	// classification service. Empty URL disables classification.
	ClassifyURL    string `koanf:"classify_url"`
	ClassifyAPIKey string `koanf:"classify_api_key"`

	// SMTP relay for anomaly alert email. Empty credentials disable
	// delivery; alerts are logged instead.
	SMTPHost     string `koanf:"smtp_host"`
	SMTPPort     int    `koanf:"smtp_port"`
	SMTPUsername string `koanf:"smtp_username"`
	SMTPPassword string `koanf:"smtp_password"`
	SMTPFrom     string `koanf:"smtp_from"`

	// UnsubscribeBaseURL prefixes the opt-out link in alert email.
	UnsubscribeBaseURL string `koanf:"unsubscribe_base_url"`
}

// New creates a Config with defaults. Context is accepted first to satisfy
// the project-wide convention; it is reserved for future use and is
// currently unused.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:            "info",
		Addr:                ":9080",
		WorkerCount:         4,
		PollIntervalMS:      2_000,
		VisibilityTimeoutS:  300,
		MaxReadCount:        10,
		ScheduleIntervalMin: 30,
		EstimateIntervalMin: 60,
		PeakMultiplier:      2.0,
		AnomalyMultiplier:   5000.0,
		ConfidenceThreshold: 0.9,
		SMTPPort:            587,
		UnsubscribeBaseURL:  "http://localhost:9080/unsubscribe",
	}
}
