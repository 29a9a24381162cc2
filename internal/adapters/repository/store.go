// Package repository persists readings, peak events, devices and users.
// The Store interface is what the rest of the service programs against; a
// Postgres implementation backs production and an in-memory one backs
// tests and local runs without a database.
package repository

import (
	"context"
	"time"

	"github.com/enersight/peakd/internal/domain/model"
)

// Observation pairs a peak's attributed devices with its observed power,
// the raw material of the estimation sweep.
type Observation struct {
	DeviceIDs []string
	Power     float64
}

// Store is the storage contract consumed by the pipeline.
type Store interface {
	// Readings returns a sensor's energy series in [start, end], ascending.
	Readings(ctx context.Context, sensorID string, start, end time.Time) ([]model.EnergyReading, error)

	// InsertPeaks persists events idempotently and returns only the ones
	// newly inserted. An event whose (sensorID, start, end, kind) window
	// is already marked is silently skipped, which makes queue redelivery
	// safe.
	InsertPeaks(ctx context.Context, events []model.PeakEvent) ([]model.PeakEvent, error)

	// UnassignedPeaks returns peak events of the given kind in the window
	// that have no devices attributed yet.
	UnassignedPeaks(ctx context.Context, sensorID string, kind model.EventKind, start, end time.Time) ([]model.PeakEvent, error)

	// AssignDevices attributes devices to a peak event.
	AssignDevices(ctx context.Context, peakID string, deviceIDs []string) error

	// DevicesByUser returns all devices registered by a user.
	DevicesByUser(ctx context.Context, userID string) ([]model.Device, error)

	// UpdateDevicePower writes an estimated power value to a device and
	// flags it as estimated.
	UpdateDevicePower(ctx context.Context, deviceID string, power float64) error

	// ObservationsByUser returns the attributed peaks of a user's sensors
	// as estimation observations.
	ObservationsByUser(ctx context.Context, userID string) ([]Observation, error)

	// UserBySensor resolves the owner of a sensor.
	UserBySensor(ctx context.Context, sensorID string) (model.User, error)

	// Sensors lists all sensors eligible for scanning.
	Sensors(ctx context.Context) ([]model.Sensor, error)

	// Users lists all users, for anomaly fan-out and estimation sweeps.
	Users(ctx context.Context) ([]model.User, error)

	// EnsureUnsubscribeToken returns the user's unsubscribe token,
	// minting and persisting one on first use.
	EnsureUnsubscribeToken(ctx context.Context, userID string) (string, error)

	// Close releases the underlying resources.
	Close() error
}
