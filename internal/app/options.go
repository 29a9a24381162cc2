package service

import (
	"time"

	"github.com/enersight/peakd/internal/adapters/mq/queue"
	"github.com/enersight/peakd/internal/adapters/notification"
	"github.com/enersight/peakd/internal/adapters/repository"
	"github.com/enersight/peakd/internal/domain/mark"
	"github.com/enersight/peakd/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithDatabaseURL points the service at Postgres. Empty keeps the
// in-memory store and queue.
func WithDatabaseURL(url string) Option {
	return func(s *Service) {
		s.databaseURL = url
	}
}

// WithWorkerCount sets the number of queue consumers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithPollInterval sets how often an idle worker polls the queue.
func WithPollInterval(interval time.Duration) Option {
	return func(s *Service) {
		if interval > 0 {
			s.pollInterval = interval
		}
	}
}

// WithVisibilityTimeout sets the message lease duration.
func WithVisibilityTimeout(vt time.Duration) Option {
	return func(s *Service) {
		if vt > 0 {
			s.visibility = vt
		}
	}
}

// WithMaxReadCount sets the delivery cap before dead-lettering.
func WithMaxReadCount(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.maxReadCount = n
		}
	}
}

// WithScheduleInterval sets the fan-out sweep cadence.
func WithScheduleInterval(interval time.Duration) Option {
	return func(s *Service) {
		if interval > 0 {
			s.scheduleInterval = interval
		}
	}
}

// WithEstimateInterval sets the device power estimation cadence.
func WithEstimateInterval(interval time.Duration) Option {
	return func(s *Service) {
		if interval > 0 {
			s.estimateInterval = interval
		}
	}
}

// WithPeakMultiplier sets the peak detection threshold multiplier.
func WithPeakMultiplier(mult float64) Option {
	return func(s *Service) {
		if mult > 0 {
			s.peakMultiplier = mult
		}
	}
}

// WithAnomalyMultiplier sets the anomaly detection threshold multiplier.
func WithAnomalyMultiplier(mult float64) Option {
	return func(s *Service) {
		if mult > 0 {
			s.anomalyMultiplier = mult
		}
	}
}

// WithConfidenceThreshold sets the minimum classifier confidence for a
// device suggestion to stick.
func WithConfidenceThreshold(threshold float64) Option {
	return func(s *Service) {
		if threshold >= 0 && threshold <= 1 {
			s.confidenceThreshold = threshold
		}
	}
}

// WithClassifyService configures the external classification endpoint.
// An empty URL disables classification.
func WithClassifyService(url, apiKey string) Option {
	return func(s *Service) {
		s.classifyURL = url
		s.classifyAPIKey = apiKey
	}
}

// WithSMTP configures the mail relay for anomaly alerts.
func WithSMTP(cfg notification.SMTPConfig) Option {
	return func(s *Service) {
		s.smtp = cfg
	}
}

// WithUnsubscribeBaseURL prefixes the opt-out link in alert email.
func WithUnsubscribeBaseURL(base string) Option {
	return func(s *Service) {
		if base != "" {
			s.unsubscribeBaseURL = base
		}
	}
}

// WithStore injects a storage implementation, mainly for tests.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithQueue injects a queue implementation, mainly for tests.
func WithQueue(q queue.Queue) Option {
	return func(s *Service) {
		if q != nil {
			s.queue = q
		}
	}
}

// WithClassifier injects a classifier implementation, mainly for tests.
func WithClassifier(c mark.Classifier) Option {
	return func(s *Service) {
		if c != nil {
			s.classifier = c
		}
	}
}

// WithNotifier injects a notifier implementation, mainly for tests.
func WithNotifier(n mark.Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(log logger.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.logger = log
		}
	}
}
