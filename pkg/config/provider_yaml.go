package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// YAMLProvider implements Provider for a static YAML configuration file.
type YAMLProvider struct {
	filename string
	config   *Data
}

// NewYAMLProvider creates a new YAML configuration provider.
func NewYAMLProvider(filename string) *YAMLProvider {
	return &YAMLProvider{filename: filename}
}

// LoadConfig loads the complete configuration from the YAML file.
func (y *YAMLProvider) LoadConfig() (*Data, error) {
	raw, err := os.ReadFile(y.filename)
	if err != nil {
		return nil, err
	}

	var doc struct {
		Station stationYAML   `yaml:"station"`
		Storage []storageYAML `yaml:"storage,omitempty"`
		Upload  uploadYAML    `yaml:"upload,omitempty"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	data := &Data{
		Station: StationConfig{
			Name:         doc.Station.Name,
			Hostname:     doc.Station.Hostname,
			Port:         doc.Station.Port,
			SerialDevice: doc.Station.SerialDevice,
			Baud:         doc.Station.Baud,
			ISSId:        doc.Station.ISSId,
			ModelType:    doc.Station.ModelType,
			MaxTries:     doc.Station.MaxTries,
			DialTimeout:  doc.Station.DialTimeout,
			ReadTimeout:  doc.Station.ReadTimeout,
			ArchiveDelay: doc.Station.ArchiveDelay,
			DSTDelta:     doc.Station.DSTDelta,
			Location:     doc.Station.Location,
			Latitude:     doc.Station.Latitude,
			Longitude:    doc.Station.Longitude,
			Altitude:     doc.Station.Altitude,
		},
		Upload: UploadConfig{
			Endpoint:       doc.Upload.Endpoint,
			APIKey:         doc.Upload.APIKey,
			UploadInterval: doc.Upload.UploadInterval,
			QueueSize:      doc.Upload.QueueSize,
		},
	}

	for _, s := range doc.Storage {
		sc := StorageConfig{Type: s.Type}
		if s.TimescaleDB != nil {
			sc.TimescaleDB = &TimescaleDBConfig{
				Host:     s.TimescaleDB.Host,
				Port:     s.TimescaleDB.Port,
				Database: s.TimescaleDB.Database,
				User:     s.TimescaleDB.User,
				Password: s.TimescaleDB.Password,
				SSLMode:  s.TimescaleDB.SSLMode,
			}
		}
		if s.Stats != nil {
			sc.Stats = &StatsConfig{DSN: s.Stats.DSN}
		}
		data.Storage = append(data.Storage, sc)
	}

	y.config = data
	return data, nil
}

// IsReadOnly returns true: a YAML file is edited by hand, not by the
// configurator CLI.
func (y *YAMLProvider) IsReadOnly() bool { return true }

// Close is a no-op for the YAML provider.
func (y *YAMLProvider) Close() error { return nil }

type stationYAML struct {
	Name         string        `yaml:"name"`
	Hostname     string        `yaml:"hostname,omitempty"`
	Port         string        `yaml:"port,omitempty"`
	SerialDevice string        `yaml:"serial-device,omitempty"`
	Baud         int           `yaml:"baud,omitempty"`
	ISSId        int           `yaml:"iss-id,omitempty"`
	ModelType    int           `yaml:"model-type,omitempty"`
	MaxTries     int           `yaml:"max-tries,omitempty"`
	DialTimeout  time.Duration `yaml:"dial-timeout,omitempty"`
	ReadTimeout  time.Duration `yaml:"read-timeout,omitempty"`
	ArchiveDelay time.Duration `yaml:"archive-delay,omitempty"`
	DSTDelta     time.Duration `yaml:"dst-delta,omitempty"`
	Location     string        `yaml:"location,omitempty"`
	Latitude     float64       `yaml:"latitude,omitempty"`
	Longitude    float64       `yaml:"longitude,omitempty"`
	Altitude     float64       `yaml:"altitude,omitempty"`
}

type storageYAML struct {
	Type        string           `yaml:"type"`
	TimescaleDB *timescaleDBYAML `yaml:"timescaledb,omitempty"`
	Stats       *statsYAML       `yaml:"stats,omitempty"`
}

type timescaleDBYAML struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port,omitempty"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl-mode,omitempty"`
}

type statsYAML struct {
	DSN string `yaml:"dsn,omitempty"`
}

type uploadYAML struct {
	Endpoint       string        `yaml:"endpoint,omitempty"`
	APIKey         string        `yaml:"api-key,omitempty"`
	UploadInterval time.Duration `yaml:"upload-interval,omitempty"`
	QueueSize      int           `yaml:"queue-size,omitempty"`
}
