// Package gormstats adapts statsstore.Store to a small Postgres table of
// daily highs/lows via GORM.
package gormstats

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/wx-tools/vantaged/internal/types"
)

// DailyStat is one calendar day's running extremes, upserted as each
// archive record for that day arrives.
type DailyStat struct {
	Day               time.Time `gorm:"primaryKey"`
	HighOutTemp       float64
	HighOutTempTime   time.Time
	LowOutTemp        float64
	LowOutTempTime    time.Time
	HighWindSpeed     float64
	HighWindSpeedTime time.Time
	TotalRain         float64
}

// TableName pins the table name via GORM's Tabler interface.
func (DailyStat) TableName() string { return "daily_stat" }

// Store maintains DailyStat rows in Postgres.
type Store struct {
	db *gorm.DB
}

// New opens a GORM connection to dsn and migrates the daily_stat table.
func New(dsn string, logger *zap.SugaredLogger) (*Store, error) {
	gl := gormlogger.New(
		zap.NewStdLog(logger.Desugar()),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gl})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&DailyStat{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// UpdateDay upserts the day's running highs/lows with rec's values.
func (s *Store) UpdateDay(ctx context.Context, rec types.ArchiveRecord) error {
	day := time.Date(rec.DateTime.Year(), rec.DateTime.Month(), rec.DateTime.Day(), 0, 0, 0, 0, rec.DateTime.Location())

	var existing DailyStat
	err := s.db.WithContext(ctx).First(&existing, "day = ?", day).Error
	switch {
	case err == gorm.ErrRecordNotFound:
		existing = DailyStat{
			Day:               day,
			HighOutTemp:       rec.HighOutTemp,
			HighOutTempTime:   rec.DateTime,
			LowOutTemp:        rec.LowOutTemp,
			LowOutTempTime:    rec.DateTime,
			HighWindSpeed:     rec.HighWindSpeed,
			HighWindSpeedTime: rec.DateTime,
			TotalRain:         rec.Rain,
		}
		return s.db.WithContext(ctx).Create(&existing).Error
	case err != nil:
		return err
	}

	if rec.HighOutTemp > existing.HighOutTemp {
		existing.HighOutTemp = rec.HighOutTemp
		existing.HighOutTempTime = rec.DateTime
	}
	if rec.LowOutTemp < existing.LowOutTemp {
		existing.LowOutTemp = rec.LowOutTemp
		existing.LowOutTempTime = rec.DateTime
	}
	if rec.HighWindSpeed > existing.HighWindSpeed {
		existing.HighWindSpeed = rec.HighWindSpeed
		existing.HighWindSpeedTime = rec.DateTime
	}
	existing.TotalRain += rec.Rain

	return s.db.WithContext(ctx).Save(&existing).Error
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// YearToDateRain runs a raw aggregation query over database/sql via the
// lib/pq driver rather than GORM, returning a plain numeric answer without
// an ORM round trip.
func YearToDateRain(dsn string, year int) (float64, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	var total sql.NullFloat64
	err = db.QueryRow(`SELECT SUM(total_rain) FROM daily_stat WHERE EXTRACT(YEAR FROM day) = $1`, year).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total.Float64, nil
}
