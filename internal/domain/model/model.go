// Package model contains domain models passed between layers.
package model

import (
	"errors"
	"strings"
	"time"

	"github.com/enersight/peakd/internal/domain/category"
)

// EventKind distinguishes informational peaks from user-notifying anomalies.
// Both kinds come out of the same extraction algorithm; the kind only
// records which severity multiplier produced the event.
type EventKind string

const (
	KindPeak    EventKind = "peak"
	KindAnomaly EventKind = "anomaly"
)

// Valid reports whether k is a known event kind.
func (k EventKind) Valid() bool {
	return k == KindPeak || k == KindAnomaly
}

// EnergyReading is a single point of a sensor's energy series.
// Readings are immutable once ingested and ordered by TS per sensor.
type EnergyReading struct {
	SensorID string    `json:"sensorId"`
	TS       time.Time `json:"ts"`
	Value    float64   `json:"value"` // kWh interval consumption or instantaneous draw
}

// PeakEvent is a marked consumption spike window for one sensor.
// (SensorID, Start, End, Kind) is the idempotency key: reprocessing the
// same window must not create a second event.
type PeakEvent struct {
	ID        string    `json:"id"`
	SensorID  string    `json:"sensorId"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Kind      EventKind `json:"kind"`
	Value     float64   `json:"value"` // representative (maximum) reading in the window
	DeviceIDs []string  `json:"deviceIds,omitempty"`
}

// Device is a household appliance attached to a user.
// Power is either user-declared (fixed) or produced by the estimation
// sweep; PowerEstimated marks it as a regression target rather than a
// known constant.
type Device struct {
	ID             string            `json:"id"`
	UserID         string            `json:"userId"`
	Name           string            `json:"name"`
	Category       category.Category `json:"category"`
	Power          *float64          `json:"power,omitempty"` // watts, nil when unknown
	PowerEstimated bool              `json:"powerEstimated"`
}

// User owns sensors and devices and receives anomaly notifications.
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Timezone string `json:"timezone"` // IANA name, used for window alignment
}

// Sensor is a metering point that produces EnergyReadings.
type Sensor struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
}

// ScanJob is the payload of one durable queue message: scan one sensor's
// window for one event kind. UserID is set for anomaly checks only.
type ScanJob struct {
	UserID   string    `json:"userId,omitempty"`
	SensorID string    `json:"sensorId"`
	Kind     EventKind `json:"kind"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
}

// Validate checks the payload shape before it is handed to the pipeline.
func (j ScanJob) Validate() error {
	switch {
	case strings.TrimSpace(j.SensorID) == "":
		return errors.New("missing sensorId")
	case !j.Kind.Valid():
		return errors.New("unknown event kind: " + string(j.Kind))
	case j.Kind == KindAnomaly && strings.TrimSpace(j.UserID) == "":
		return errors.New("missing userId for anomaly job")
	case !j.Start.IsZero() && !j.End.IsZero() && j.End.Before(j.Start):
		return errors.New("window end before start")
	}
	return nil
}

// Message is one at-least-once delivery from the durable queue.
// ReadCT counts deliveries including this one; it increments on every
// redelivery after a visibility timeout expires.
type Message struct {
	MsgID  int64   `json:"msg_id"`
	ReadCT int     `json:"read_ct"`
	Job    ScanJob `json:"message"`
}
