package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/enersight/peakd/internal/domain/model"
	"github.com/google/uuid"
	"github.com/lib/pq" // also registers the postgres driver

)

//go:embed schema.sql
var schema string

// Connection pool settings.
const (
	maxOpenConns = 25
	maxIdleConns = 5
)

// PostgresStore implements Store on Postgres via lib/pq.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to the database, applies the embedded schema
// and returns a ready store.
func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// DB exposes the underlying handle so the durable queue can share the
// connection pool.
func (s *PostgresStore) DB() *sql.DB { return s.db }

func (s *PostgresStore) Readings(ctx context.Context, sensorID string, start, end time.Time) ([]model.EnergyReading, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sensor_id, ts, value
		FROM energy_readings
		WHERE sensor_id = $1 AND ts BETWEEN $2 AND $3
		ORDER BY ts`, sensorID, start, end)
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	defer rows.Close()

	var readings []model.EnergyReading
	for rows.Next() {
		var r model.EnergyReading
		if err := rows.Scan(&r.SensorID, &r.TS, &r.Value); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

func (s *PostgresStore) InsertPeaks(ctx context.Context, events []model.PeakEvent) ([]model.PeakEvent, error) {
	var inserted []model.PeakEvent
	for _, e := range events {
		var id string
		err := s.db.QueryRowContext(ctx, `
			INSERT INTO peak_events (id, sensor_id, start_at, end_at, kind, value)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (sensor_id, start_at, end_at, kind) DO NOTHING
			RETURNING id`,
			e.ID, e.SensorID, e.Start, e.End, string(e.Kind), e.Value).Scan(&id)
		if err == sql.ErrNoRows {
			continue // window already marked
		}
		if err != nil {
			return nil, fmt.Errorf("insert peak event: %w", err)
		}
		inserted = append(inserted, e)
	}
	return inserted, nil
}

func (s *PostgresStore) UnassignedPeaks(ctx context.Context, sensorID string, kind model.EventKind, start, end time.Time) ([]model.PeakEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.sensor_id, p.start_at, p.end_at, p.kind, p.value
		FROM peak_events p
		WHERE p.sensor_id = $1 AND p.kind = $2
		  AND p.start_at >= $3 AND p.end_at <= $4
		  AND NOT EXISTS (
			SELECT 1 FROM peak_event_devices d WHERE d.peak_id = p.id
		  )
		ORDER BY p.start_at`, sensorID, string(kind), start, end)
	if err != nil {
		return nil, fmt.Errorf("query unassigned peaks: %w", err)
	}
	defer rows.Close()

	var peaks []model.PeakEvent
	for rows.Next() {
		var p model.PeakEvent
		var kind string
		if err := rows.Scan(&p.ID, &p.SensorID, &p.Start, &p.End, &kind, &p.Value); err != nil {
			return nil, fmt.Errorf("scan peak event: %w", err)
		}
		p.Kind = model.EventKind(kind)
		peaks = append(peaks, p)
	}
	return peaks, rows.Err()
}

func (s *PostgresStore) AssignDevices(ctx context.Context, peakID string, deviceIDs []string) error {
	for _, id := range deviceIDs {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO peak_event_devices (peak_id, device_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, peakID, id); err != nil {
			return fmt.Errorf("assign device %s to peak %s: %w", id, peakID, err)
		}
	}
	return nil
}

func (s *PostgresStore) DevicesByUser(ctx context.Context, userID string) ([]model.Device, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, category, power, power_estimated
		FROM devices
		WHERE user_id = $1
		ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}
	defer rows.Close()

	var devices []model.Device
	for rows.Next() {
		var d model.Device
		var power sql.NullFloat64
		if err := rows.Scan(&d.ID, &d.UserID, &d.Name, &d.Category, &power, &d.PowerEstimated); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		if power.Valid {
			v := power.Float64
			d.Power = &v
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

func (s *PostgresStore) UpdateDevicePower(ctx context.Context, deviceID string, power float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE devices SET power = $2, power_estimated = TRUE
		WHERE id = $1`, deviceID, power)
	if err != nil {
		return fmt.Errorf("update device power: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update device power %s: %w", deviceID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ObservationsByUser(ctx context.Context, userID string) ([]Observation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.value, array_agg(d.device_id)
		FROM peak_events p
		JOIN peak_event_devices d ON d.peak_id = p.id
		JOIN sensors s ON s.id = p.sensor_id
		WHERE s.user_id = $1
		GROUP BY p.id, p.value
		ORDER BY p.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	var obs []Observation
	for rows.Next() {
		var id string
		var o Observation
		if err := rows.Scan(&id, &o.Power, pq.Array(&o.DeviceIDs)); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		obs = append(obs, o)
	}
	return obs, rows.Err()
}

func (s *PostgresStore) UserBySensor(ctx context.Context, sensorID string) (model.User, error) {
	var u model.User
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.email, u.name, u.timezone
		FROM users u
		JOIN sensors s ON s.user_id = u.id
		WHERE s.id = $1`, sensorID).Scan(&u.ID, &u.Email, &u.Name, &u.Timezone)
	if err == sql.ErrNoRows {
		return model.User{}, fmt.Errorf("user for sensor %s: %w", sensorID, ErrNotFound)
	}
	if err != nil {
		return model.User{}, fmt.Errorf("query user by sensor: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) Sensors(ctx context.Context) ([]model.Sensor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id FROM sensors ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query sensors: %w", err)
	}
	defer rows.Close()

	var sensors []model.Sensor
	for rows.Next() {
		var sn model.Sensor
		if err := rows.Scan(&sn.ID, &sn.UserID); err != nil {
			return nil, fmt.Errorf("scan sensor: %w", err)
		}
		sensors = append(sensors, sn)
	}
	return sensors, rows.Err()
}

func (s *PostgresStore) Users(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, email, name, timezone FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.Timezone); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *PostgresStore) EnsureUnsubscribeToken(ctx context.Context, userID string) (string, error) {
	token := uuid.NewString()
	err := s.db.QueryRowContext(ctx, `
		UPDATE users
		SET unsubscribe_token = COALESCE(unsubscribe_token, $2)
		WHERE id = $1
		RETURNING unsubscribe_token`, userID, token).Scan(&token)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("ensure unsubscribe token: %w", err)
	}
	return token, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
