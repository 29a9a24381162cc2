// Package mark orchestrates one unit of pipeline work: scan a sensor's
// window, persist new peak events idempotently, and attribute or notify.
// Persistence always completes before classification or notification is
// triggered; that ordering is what makes queue redelivery safe.
package mark

import (
	"context"
	"fmt"
	"time"

	"github.com/enersight/peakd/internal/domain/category"
	"github.com/enersight/peakd/internal/domain/detect"
	"github.com/enersight/peakd/internal/domain/model"
	"github.com/enersight/peakd/pkg/logger"
	"github.com/enersight/peakd/pkg/metrics"
	"github.com/google/uuid"
)

// Default orchestration parameters.
const (
	DefaultPeakMultiplier      = 2.0
	DefaultAnomalyMultiplier   = 5000.0
	DefaultConfidenceThreshold = 0.9
	defaultWindowAlign         = 30 * time.Minute
)

// Storage is the slice of the storage collaborator the orchestrator
// needs.
type Storage interface {
	Readings(ctx context.Context, sensorID string, start, end time.Time) ([]model.EnergyReading, error)
	InsertPeaks(ctx context.Context, events []model.PeakEvent) ([]model.PeakEvent, error)
	UnassignedPeaks(ctx context.Context, sensorID string, kind model.EventKind, start, end time.Time) ([]model.PeakEvent, error)
	AssignDevices(ctx context.Context, peakID string, deviceIDs []string) error
	DevicesByUser(ctx context.Context, userID string) ([]model.Device, error)
	UserBySensor(ctx context.Context, sensorID string) (model.User, error)
	EnsureUnsubscribeToken(ctx context.Context, userID string) (string, error)
}

// PeakSeries is one peak's electricity samples sent for classification.
type PeakSeries struct {
	PeakID  string
	Samples []model.EnergyReading
}

// Suggestion is one candidate device category with its confidence.
type Suggestion struct {
	Label      string
	Confidence float64
}

// Attribution is the classification result for one peak.
type Attribution struct {
	PeakID  string
	Devices []Suggestion
}

// Classifier asks the external ML service which device categories likely
// produced a batch of peaks.
type Classifier interface {
	Classify(ctx context.Context, peaks []PeakSeries) ([]Attribution, error)
}

// Alert carries everything the notification collaborator needs for one
// anomaly email.
type Alert struct {
	To              string
	Name            string
	SensorID        string
	Start           time.Time
	End             time.Time
	Value           float64
	UnsubscribeLink string
}

// Notifier sends anomaly alerts.
type Notifier interface {
	SendAnomalyAlert(ctx context.Context, alert Alert) error
}

// Criteria selects what to scan. Zero Start/End derive a half-hour-
// aligned window ending now. A zero Multiplier uses the kind's default.
type Criteria struct {
	SensorID   string
	UserID     string
	Kind       model.EventKind
	Start      time.Time
	End        time.Time
	Multiplier float64
}

// Outcome reports what a FindAndMark invocation did.
type Outcome struct {
	Start  time.Time
	End    time.Time
	Found  int // windows detected in the series
	Marked int // events newly persisted (excludes already-marked windows)
}

// Marker runs the find-and-mark pipeline.
type Marker struct {
	storage    Storage
	classifier Classifier
	notifier   Notifier

	windowWidth         time.Duration
	peakMultiplier      float64
	anomalyMultiplier   float64
	confidenceThreshold float64
	unsubscribeBaseURL  string
	now                 func() time.Time

	log logger.Logger
}

// New creates a Marker with configuration options.
func New(storage Storage, classifier Classifier, notifier Notifier, opts ...Option) *Marker {
	m := &Marker{
		storage:             storage,
		classifier:          classifier,
		notifier:            notifier,
		windowWidth:         detect.DefaultWindowWidth,
		peakMultiplier:      DefaultPeakMultiplier,
		anomalyMultiplier:   DefaultAnomalyMultiplier,
		confidenceThreshold: DefaultConfidenceThreshold,
		unsubscribeBaseURL:  "https://example.invalid/unsubscribe",
		now:                 time.Now,
		log:                 logger.Named("mark"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// FindAndMark scans the criteria's window, persists new peak events and
// routes them to classification (peaks) or notification (anomalies).
//
// A storage failure aborts the invocation so the queue message stays for
// redelivery. Classification and notification failures degrade: the
// events remain marked and the step is logged, never retried by
// re-marking.
func (m *Marker) FindAndMark(ctx context.Context, c Criteria) (Outcome, error) {
	start := m.now()
	defer func() {
		metrics.RecordMarkLatency(float64(time.Since(start).Milliseconds()))
	}()

	if !c.Kind.Valid() {
		return Outcome{}, fmt.Errorf("find and mark: unknown event kind %q", c.Kind)
	}

	winStart, winEnd := m.resolveWindow(c)
	out := Outcome{Start: winStart, End: winEnd}

	readings, err := m.storage.Readings(ctx, c.SensorID, winStart, winEnd)
	if err != nil {
		return out, fmt.Errorf("load readings for %s: %w", c.SensorID, err)
	}

	detector := detect.New(
		detect.WithWindowWidth(m.windowWidth),
		detect.WithMultiplier(m.multiplierFor(c)),
	)
	windows := detector.Extract(readings, m.now())
	out.Found = len(windows)
	metrics.RecordPeaksDetected(string(c.Kind), len(windows))
	if len(windows) == 0 {
		return out, nil
	}

	events := make([]model.PeakEvent, 0, len(windows))
	for _, w := range windows {
		events = append(events, model.PeakEvent{
			ID:       uuid.NewString(),
			SensorID: c.SensorID,
			Start:    w.Start,
			End:      w.End,
			Kind:     c.Kind,
			Value:    w.Peak.Value,
		})
	}

	inserted, err := m.storage.InsertPeaks(ctx, events)
	if err != nil {
		return out, fmt.Errorf("persist peak events for %s: %w", c.SensorID, err)
	}
	out.Marked = len(inserted)
	for range inserted {
		metrics.RecordEventPersisted()
	}
	for i := 0; i < len(events)-len(inserted); i++ {
		metrics.RecordEventDuplicate()
	}

	switch c.Kind {
	case model.KindPeak:
		if err := m.classifyPeaks(ctx, c.SensorID, winStart, winEnd, readings); err != nil {
			return out, err
		}
	case model.KindAnomaly:
		// Marked first, notified second. A notification failure never
		// rolls the persisted events back.
		if out.Marked > 0 {
			m.notifyAnomaly(ctx, c.SensorID, inserted)
		}
	}
	return out, nil
}

// resolveWindow returns the criteria's window, deriving the half-hour-
// aligned window ending at now when no bounds are given.
func (m *Marker) resolveWindow(c Criteria) (time.Time, time.Time) {
	if !c.Start.IsZero() && !c.End.IsZero() {
		return c.Start, c.End
	}
	end := m.now().Truncate(defaultWindowAlign)
	return end.Add(-defaultWindowAlign), end
}

func (m *Marker) multiplierFor(c Criteria) float64 {
	if c.Multiplier > 0 {
		return c.Multiplier
	}
	if c.Kind == model.KindAnomaly {
		return m.anomalyMultiplier
	}
	return m.peakMultiplier
}

// classifyPeaks sends unassigned peaks of the window for classification
// and writes back suggestions above the confidence threshold. The peaks
// already carrying a device are filtered out before the call.
func (m *Marker) classifyPeaks(ctx context.Context, sensorID string, start, end time.Time, readings []model.EnergyReading) error {
	candidates, err := m.storage.UnassignedPeaks(ctx, sensorID, model.KindPeak, start, end)
	if err != nil {
		return fmt.Errorf("load unassigned peaks for %s: %w", sensorID, err)
	}
	if len(candidates) == 0 {
		return nil
	}

	batch := make([]PeakSeries, 0, len(candidates))
	for _, p := range candidates {
		batch = append(batch, PeakSeries{PeakID: p.ID, Samples: samplesIn(readings, p.Start, p.End)})
	}

	metrics.RecordClassifyRequest()
	attributions, err := m.classifier.Classify(ctx, batch)
	if err != nil {
		// Degrade: the peaks stay marked but unassigned and will be
		// retried by a later sweep over the same window.
		metrics.RecordClassifyError()
		m.log.Warn(ctx, "classification failed, peaks left unassigned",
			logger.String("sensorID", sensorID),
			logger.Int("peaks", len(batch)),
			logger.Error(err),
		)
		return nil
	}

	user, err := m.storage.UserBySensor(ctx, sensorID)
	if err != nil {
		return fmt.Errorf("resolve owner of %s: %w", sensorID, err)
	}
	devices, err := m.storage.DevicesByUser(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("load devices of %s: %w", user.ID, err)
	}

	for _, att := range attributions {
		ids, err := m.matchDevices(att, devices)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			continue
		}
		if err := m.storage.AssignDevices(ctx, att.PeakID, ids); err != nil {
			return fmt.Errorf("assign devices to peak %s: %w", att.PeakID, err)
		}
		metrics.RecordDeviceSuggestions(len(ids))
	}
	return nil
}

// matchDevices maps confident suggestions to the user's devices by
// category. Multiple devices may qualify for one peak: the threshold is a
// filter, not a top-1 pick. An unknown category label is an error so
// contract drift with the classification service surfaces instead of
// silently dropping suggestions.
func (m *Marker) matchDevices(att Attribution, devices []model.Device) ([]string, error) {
	var ids []string
	for _, s := range att.Devices {
		if s.Confidence < m.confidenceThreshold {
			continue
		}
		cat, err := category.FromLabel(s.Label)
		if err != nil {
			return nil, fmt.Errorf("classification for peak %s: %w", att.PeakID, err)
		}
		for _, d := range devices {
			if d.Category == cat && !containsID(ids, d.ID) {
				ids = append(ids, d.ID)
			}
		}
	}
	return ids, nil
}

// notifyAnomaly sends at most one notification per invocation, for the
// most severe of the newly marked anomalies.
func (m *Marker) notifyAnomaly(ctx context.Context, sensorID string, inserted []model.PeakEvent) {
	worst := inserted[0]
	for _, e := range inserted[1:] {
		if e.Value > worst.Value {
			worst = e
		}
	}

	user, err := m.storage.UserBySensor(ctx, sensorID)
	if err != nil {
		metrics.RecordNotificationError()
		m.log.Error(ctx, "anomaly marked but owner lookup failed",
			logger.String("sensorID", sensorID),
			logger.Error(err),
		)
		return
	}
	token, err := m.storage.EnsureUnsubscribeToken(ctx, user.ID)
	if err != nil {
		metrics.RecordNotificationError()
		m.log.Error(ctx, "anomaly marked but unsubscribe token failed",
			logger.String("userID", user.ID),
			logger.Error(err),
		)
		return
	}

	alert := Alert{
		To:              user.Email,
		Name:            user.Name,
		SensorID:        sensorID,
		Start:           worst.Start,
		End:             worst.End,
		Value:           worst.Value,
		UnsubscribeLink: fmt.Sprintf("%s?token=%s", m.unsubscribeBaseURL, token),
	}
	if err := m.notifier.SendAnomalyAlert(ctx, alert); err != nil {
		metrics.RecordNotificationError()
		m.log.Error(ctx, "anomaly notification failed, events stay marked",
			logger.String("sensorID", sensorID),
			logger.String("userID", user.ID),
			logger.Error(err),
		)
		return
	}
	metrics.RecordNotificationSent()
}

func samplesIn(readings []model.EnergyReading, start, end time.Time) []model.EnergyReading {
	var out []model.EnergyReading
	for _, r := range readings {
		if !r.TS.Before(start) && !r.TS.After(end) {
			out = append(out, r)
		}
	}
	return out
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
