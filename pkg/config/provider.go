// Package config provides configuration management for the acquisition
// daemon and its configurator CLI, with pluggable YAML and SQLite-backed
// sources behind a single Provider interface.
package config

import (
	"fmt"
	"time"
)

// Provider is the interface cmd/vantaged and cmd/vantagectl depend on to
// load the console connection parameters, storage backend DSNs, and the
// uploader's settings.
type Provider interface {
	LoadConfig() (*Data, error)
	IsReadOnly() bool
	Close() error
}

// Data is the complete configuration: one station (the daemon drives a
// single console), zero or more storage backends, and the upload queue's
// settings.
type Data struct {
	Station StationConfig   `json:"station"`
	Storage []StorageConfig `json:"storage,omitempty"`
	Upload  UploadConfig    `json:"upload,omitempty"`
}

// StationConfig carries the console connection parameters and the
// driver tunables: retry/backoff counts, the archive dump delay, and the
// DST-slack bound archive record decoding tolerates.
type StationConfig struct {
	Name string `json:"name"`

	// Connection: exactly one of (Hostname+Port) or SerialDevice is set.
	Hostname     string `json:"hostname,omitempty"`
	Port         string `json:"port,omitempty"`
	SerialDevice string `json:"serial_device,omitempty"`
	Baud         int    `json:"baud,omitempty"`

	ISSId     int `json:"iss_id,omitempty"`
	ModelType int `json:"model_type,omitempty"` // 1 or 2, see rxCheckPercent

	MaxTries    int           `json:"max_tries,omitempty"`
	DialTimeout time.Duration `json:"dial_timeout,omitempty"`
	ReadTimeout time.Duration `json:"read_timeout,omitempty"`

	ArchiveDelay time.Duration `json:"archive_delay,omitempty"` // default 15s
	DSTDelta     time.Duration `json:"dst_delta,omitempty"`     // regression slack, default 1h

	// Location is an IANA time zone name (e.g. "America/Denver") the
	// console's local clock is assumed to run in.
	Location string `json:"location,omitempty"`

	// Latitude, Longitude and Altitude record the station's coordinates.
	// They are loaded and stored by the providers; the upload payload does
	// not include them.
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
	Altitude  float64 `json:"altitude,omitempty"`
}

// StorageConfig is one configured storage backend. Type selects which of
// the embedded configs is populated.
type StorageConfig struct {
	Type        string             `json:"type"` // "timescaledb" | "stats"
	TimescaleDB *TimescaleDBConfig `json:"timescaledb,omitempty"`
	Stats       *StatsConfig       `json:"stats,omitempty"`
}

// TimescaleDBConfig configures the archive store adapter.
type TimescaleDBConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	User     string `json:"user"`
	Password string `json:"password"`
	SSLMode  string `json:"ssl_mode,omitempty"`
}

// DSN forms a libpq-style connection string from the individual fields.
func (t *TimescaleDBConfig) DSN() string {
	dsn := fmt.Sprintf("host=%s dbname=%s user=%s password=%s", t.Host, t.Database, t.User, t.Password)
	if t.Port > 0 {
		dsn += fmt.Sprintf(" port=%d", t.Port)
	}
	if t.SSLMode != "" {
		dsn += fmt.Sprintf(" sslmode=%s", t.SSLMode)
	} else {
		dsn += " sslmode=disable"
	}
	return dsn
}

// StatsConfig configures the daily-stats GORM store. DSN is passed to the
// store as is; an empty DSN does not fall back to the TimescaleDB
// connection settings.
type StatsConfig struct {
	DSN string `json:"dsn,omitempty"`
}

// UploadConfig configures the bounded upload queue and its RESTful
// client.
type UploadConfig struct {
	Endpoint       string        `json:"endpoint,omitempty"`
	APIKey         string        `json:"api_key,omitempty"`
	UploadInterval time.Duration `json:"upload_interval,omitempty"`
	QueueSize      int           `json:"queue_size,omitempty"`
}

// Validate reports configuration problems a provider's LoadConfig should
// surface before the daemon starts acquiring.
func Validate(d *Data) []ValidationError {
	var errs []ValidationError

	hasSerial := d.Station.SerialDevice != ""
	hasNetwork := d.Station.Hostname != "" && d.Station.Port != ""
	if !hasSerial && !hasNetwork {
		errs = append(errs, ValidationError{Field: "station", Message: "must set either serial_device or hostname+port"})
	}
	if hasSerial && hasNetwork {
		errs = append(errs, ValidationError{Field: "station", Message: "must not set both serial_device and hostname+port"})
	}
	if d.Station.ModelType != 0 && d.Station.ModelType != 1 && d.Station.ModelType != 2 {
		errs = append(errs, ValidationError{Field: "station.model_type", Value: fmt.Sprintf("%d", d.Station.ModelType), Message: "must be 1 or 2"})
	}

	seen := make(map[string]bool)
	for i, s := range d.Storage {
		if s.Type == "" {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("storage[%d].type", i), Message: "required"})
			continue
		}
		if seen[s.Type] {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("storage[%d].type", i), Value: s.Type, Message: "duplicate storage backend type"})
		}
		seen[s.Type] = true
		switch s.Type {
		case "timescaledb":
			if s.TimescaleDB == nil {
				errs = append(errs, ValidationError{Field: fmt.Sprintf("storage[%d].timescaledb", i), Message: "required for type timescaledb"})
			}
		case "stats":
			if s.Stats == nil {
				errs = append(errs, ValidationError{Field: fmt.Sprintf("storage[%d].stats", i), Message: "required for type stats"})
			}
		default:
			errs = append(errs, ValidationError{Field: fmt.Sprintf("storage[%d].type", i), Value: s.Type, Message: "unknown storage backend type"})
		}
	}

	return errs
}

// ValidationError describes one configuration problem.
type ValidationError struct {
	Field   string `json:"field"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
}

func (ve ValidationError) Error() string {
	if ve.Value == "" {
		return fmt.Sprintf("%s: %s", ve.Field, ve.Message)
	}
	return fmt.Sprintf("%s: %s (value: %s)", ve.Field, ve.Message, ve.Value)
}
