package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/enersight/peakd/internal/domain/model"
	"github.com/google/uuid"
)

// windowKey is the application-side mirror of the unique index enforcing
// idempotent peak insertion.
type windowKey struct {
	sensorID string
	start    time.Time
	end      time.Time
	kind     model.EventKind
}

// MemoryStore implements Store in memory. It backs tests and local runs
// without Postgres and enforces the same idempotency key.
type MemoryStore struct {
	mu       sync.RWMutex
	readings map[string][]model.EnergyReading // sensorID -> ascending series
	peaks    map[string]model.PeakEvent       // peakID -> event
	windows  map[windowKey]string             // window -> peakID
	assigned map[string][]string              // peakID -> deviceIDs
	devices  map[string]model.Device
	users    map[string]model.User
	sensors  map[string]model.Sensor
	tokens   map[string]string // userID -> unsubscribe token
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		readings: make(map[string][]model.EnergyReading),
		peaks:    make(map[string]model.PeakEvent),
		windows:  make(map[windowKey]string),
		assigned: make(map[string][]string),
		devices:  make(map[string]model.Device),
		users:    make(map[string]model.User),
		sensors:  make(map[string]model.Sensor),
		tokens:   make(map[string]string),
	}
}

// Seeding helpers, used by tests and the local bootstrap.

func (s *MemoryStore) AddUser(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *MemoryStore) AddSensor(sn model.Sensor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sensors[sn.ID] = sn
}

func (s *MemoryStore) AddDevice(d model.Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[d.ID] = d
}

func (s *MemoryStore) AddReadings(readings ...model.EnergyReading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range readings {
		s.readings[r.SensorID] = append(s.readings[r.SensorID], r)
	}
	for id := range s.readings {
		series := s.readings[id]
		sort.Slice(series, func(i, j int) bool { return series[i].TS.Before(series[j].TS) })
	}
}

func (s *MemoryStore) Readings(_ context.Context, sensorID string, start, end time.Time) ([]model.EnergyReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.EnergyReading
	for _, r := range s.readings[sensorID] {
		if !r.TS.Before(start) && !r.TS.After(end) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStore) InsertPeaks(_ context.Context, events []model.PeakEvent) ([]model.PeakEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var inserted []model.PeakEvent
	for _, e := range events {
		key := windowKey{sensorID: e.SensorID, start: e.Start, end: e.End, kind: e.Kind}
		if _, dup := s.windows[key]; dup {
			continue
		}
		s.windows[key] = e.ID
		s.peaks[e.ID] = e
		inserted = append(inserted, e)
	}
	return inserted, nil
}

func (s *MemoryStore) UnassignedPeaks(_ context.Context, sensorID string, kind model.EventKind, start, end time.Time) ([]model.PeakEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.PeakEvent
	for _, p := range s.peaks {
		if p.SensorID != sensorID || p.Kind != kind {
			continue
		}
		if p.Start.Before(start) || p.End.After(end) {
			continue
		}
		if len(s.assigned[p.ID]) > 0 {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (s *MemoryStore) AssignDevices(_ context.Context, peakID string, deviceIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.peaks[peakID]; !ok {
		return fmt.Errorf("peak %s: %w", peakID, ErrNotFound)
	}
	for _, id := range deviceIDs {
		if !contains(s.assigned[peakID], id) {
			s.assigned[peakID] = append(s.assigned[peakID], id)
		}
	}
	return nil
}

func (s *MemoryStore) DevicesByUser(_ context.Context, userID string) ([]model.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Device
	for _, d := range s.devices {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpdateDevicePower(_ context.Context, deviceID string, power float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[deviceID]
	if !ok {
		return fmt.Errorf("device %s: %w", deviceID, ErrNotFound)
	}
	d.Power = &power
	d.PowerEstimated = true
	s.devices[deviceID] = d
	return nil
}

func (s *MemoryStore) ObservationsByUser(_ context.Context, userID string) ([]Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, p := range s.peaks {
		sn, ok := s.sensors[p.SensorID]
		if ok && sn.UserID == userID && len(s.assigned[id]) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	var obs []Observation
	for _, id := range ids {
		obs = append(obs, Observation{
			DeviceIDs: append([]string(nil), s.assigned[id]...),
			Power:     s.peaks[id].Value,
		})
	}
	return obs, nil
}

func (s *MemoryStore) UserBySensor(_ context.Context, sensorID string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sn, ok := s.sensors[sensorID]
	if !ok {
		return model.User{}, fmt.Errorf("sensor %s: %w", sensorID, ErrNotFound)
	}
	u, ok := s.users[sn.UserID]
	if !ok {
		return model.User{}, fmt.Errorf("user for sensor %s: %w", sensorID, ErrNotFound)
	}
	return u, nil
}

func (s *MemoryStore) Sensors(_ context.Context) ([]model.Sensor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Sensor
	for _, sn := range s.sensors {
		out = append(out, sn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Users(_ context.Context) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.User
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) EnsureUnsubscribeToken(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return "", fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if tok, ok := s.tokens[userID]; ok {
		return tok, nil
	}
	tok := uuid.NewString()
	s.tokens[userID] = tok
	return tok, nil
}

// AssignedDevices returns the devices attributed to a peak. Test helper.
func (s *MemoryStore) AssignedDevices(peakID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.assigned[peakID]...)
}

// PeakCount returns the number of persisted peak events. Test helper.
func (s *MemoryStore) PeakCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peaks)
}

func (s *MemoryStore) Close() error { return nil }

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
