// Package timescaledb adapts archivestore.Store to a TimescaleDB
// hypertable via pgx/v5, connecting directly through a pgxpool.Pool
// rather than through any higher-level storage-manager abstraction.
package timescaledb

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wx-tools/vantaged/internal/types"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS archive_record (
	date_time         TIMESTAMPTZ NOT NULL,
	us_units          SMALLINT NOT NULL,
	interval_sec      INTEGER NOT NULL,
	iss_id            INTEGER NOT NULL,
	model_type        SMALLINT NOT NULL,
	rx_check_percent  DOUBLE PRECISION,
	out_temp          DOUBLE PRECISION,
	high_out_temp     DOUBLE PRECISION,
	low_out_temp      DOUBLE PRECISION,
	rain              DOUBLE PRECISION,
	rain_rate         DOUBLE PRECISION,
	barometer         DOUBLE PRECISION,
	radiation         DOUBLE PRECISION,
	high_radiation    DOUBLE PRECISION,
	in_temp           DOUBLE PRECISION,
	in_humidity       DOUBLE PRECISION,
	out_humidity      DOUBLE PRECISION,
	avg_wind_speed    DOUBLE PRECISION,
	high_wind_speed   DOUBLE PRECISION,
	high_wind_dir     DOUBLE PRECISION,
	prevailing_wind_dir DOUBLE PRECISION,
	uv                DOUBLE PRECISION,
	high_uv           DOUBLE PRECISION,
	et                DOUBLE PRECISION,
	dew_point         DOUBLE PRECISION,
	heat_index        DOUBLE PRECISION,
	wind_chill        DOUBLE PRECISION,
	PRIMARY KEY (date_time)
);`

const createExtensionSQL = `CREATE EXTENSION IF NOT EXISTS timescaledb;`

const createHypertableSQL = `SELECT create_hypertable('archive_record', 'date_time', if_not_exists => TRUE);`

// Store persists archive records to a TimescaleDB hypertable.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to TimescaleDB at dsn and ensures the archive_record
// hypertable exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("archivestore/timescaledb: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archivestore/timescaledb: ping: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createTableSQL); err != nil {
		return fmt.Errorf("archivestore/timescaledb: create table: %w", err)
	}
	if _, err := s.pool.Exec(ctx, createExtensionSQL); err != nil {
		return fmt.Errorf("archivestore/timescaledb: create extension: %w", err)
	}
	if _, err := s.pool.Exec(ctx, createHypertableSQL); err != nil {
		return fmt.Errorf("archivestore/timescaledb: create hypertable: %w", err)
	}
	return nil
}

// NewestTimestamp returns the most recent date_time stored, or the zero
// time if the table is empty.
func (s *Store) NewestTimestamp(ctx context.Context) (time.Time, error) {
	var ts pgtype.Timestamptz
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(date_time), 'epoch') FROM archive_record`).Scan(&ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("archivestore/timescaledb: newest timestamp: %w", err)
	}
	if ts.Time.Unix() == 0 {
		return time.Time{}, nil
	}
	return ts.Time, nil
}

// Insert writes one archive record, ignoring a duplicate date_time
// (the console can re-dump records the driver already persisted after a
// restart).
func (s *Store) Insert(ctx context.Context, rec types.ArchiveRecord) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO archive_record (
	date_time, us_units, interval_sec, iss_id, model_type, rx_check_percent,
	out_temp, high_out_temp, low_out_temp, rain, rain_rate, barometer,
	radiation, high_radiation, in_temp, in_humidity, out_humidity,
	avg_wind_speed, high_wind_speed, high_wind_dir, prevailing_wind_dir,
	uv, high_uv, et, dew_point, heat_index, wind_chill
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27)
ON CONFLICT (date_time) DO NOTHING`,
		rec.DateTime, rec.UsUnits, rec.Interval, rec.ISSId, rec.ModelType, rec.RxCheckPercent,
		rec.OutTemp, rec.HighOutTemp, rec.LowOutTemp, rec.Rain, rec.RainRate, rec.Barometer,
		rec.Radiation, rec.HighRadiation, rec.InTemp, rec.InHumidity, rec.OutHumidity,
		rec.AvgWindSpeed, rec.HighWindSpeed, rec.HighWindDir, rec.PrevailingWindDir,
		rec.UV, rec.HighUV, rec.ET, rec.DewPoint, rec.HeatIndex, rec.WindChill)
	if err != nil {
		return fmt.Errorf("archivestore/timescaledb: insert: %w", err)
	}
	return nil
}

// All returns every persisted archive record ordered by date_time, for
// cmd/vantagectl's -backfill-stats to replay history into the stats
// store.
func (s *Store) All(ctx context.Context) ([]types.ArchiveRecord, error) {
	rows, err := s.pool.Query(ctx, `
SELECT date_time, us_units, interval_sec, iss_id, model_type, rx_check_percent,
	out_temp, high_out_temp, low_out_temp, rain, rain_rate, barometer,
	radiation, high_radiation, in_temp, in_humidity, out_humidity,
	avg_wind_speed, high_wind_speed, high_wind_dir, prevailing_wind_dir,
	uv, high_uv, et, dew_point, heat_index, wind_chill
FROM archive_record ORDER BY date_time`)
	if err != nil {
		return nil, fmt.Errorf("archivestore/timescaledb: scanning all records: %w", err)
	}
	defer rows.Close()

	var out []types.ArchiveRecord
	for rows.Next() {
		var rec types.ArchiveRecord
		err := rows.Scan(&rec.DateTime, &rec.UsUnits, &rec.Interval, &rec.ISSId, &rec.ModelType, &rec.RxCheckPercent,
			&rec.OutTemp, &rec.HighOutTemp, &rec.LowOutTemp, &rec.Rain, &rec.RainRate, &rec.Barometer,
			&rec.Radiation, &rec.HighRadiation, &rec.InTemp, &rec.InHumidity, &rec.OutHumidity,
			&rec.AvgWindSpeed, &rec.HighWindSpeed, &rec.HighWindDir, &rec.PrevailingWindDir,
			&rec.UV, &rec.HighUV, &rec.ET, &rec.DewPoint, &rec.HeatIndex, &rec.WindChill)
		if err != nil {
			return nil, fmt.Errorf("archivestore/timescaledb: scanning row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archivestore/timescaledb: iterating rows: %w", err)
	}
	return out, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
