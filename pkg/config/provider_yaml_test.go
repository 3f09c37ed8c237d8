package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempYAML(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "vantaged.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing temp yaml: %v", err)
	}
	return path
}

func TestYAMLProviderLoadConfig(t *testing.T) {
	path := writeTempYAML(t, `
station:
  name: backyard
  serial-device: /dev/ttyUSB0
  baud: 19200
  iss-id: 1
  model-type: 2
  max-tries: 3
  dial-timeout: 5000000000
  archive-delay: 15000000000
  location: America/Denver
  latitude: 39.7
  longitude: -104.9
  altitude: 1609

storage:
  - type: timescaledb
    timescaledb:
      host: db.internal
      port: 5432
      database: vantaged
      user: vantaged
      password: secret
  - type: stats
    stats:
      dsn: "postgres://vantaged@db.internal/vantaged_stats"

upload:
  endpoint: https://ingest.example.com/archive
  api-key: abc123
  queue-size: 512
`)

	data, err := NewYAMLProvider(path).LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if data.Station.Name != "backyard" {
		t.Errorf("Station.Name = %q, want backyard", data.Station.Name)
	}
	if data.Station.SerialDevice != "/dev/ttyUSB0" {
		t.Errorf("Station.SerialDevice = %q", data.Station.SerialDevice)
	}
	if data.Station.DialTimeout != 5*time.Second {
		t.Errorf("Station.DialTimeout = %v, want 5s", data.Station.DialTimeout)
	}
	if data.Station.ArchiveDelay != 15*time.Second {
		t.Errorf("Station.ArchiveDelay = %v, want 15s", data.Station.ArchiveDelay)
	}

	if len(data.Storage) != 2 {
		t.Fatalf("len(Storage) = %d, want 2", len(data.Storage))
	}
	if data.Storage[0].Type != "timescaledb" || data.Storage[0].TimescaleDB == nil {
		t.Fatalf("Storage[0] = %+v, want populated timescaledb entry", data.Storage[0])
	}
	if data.Storage[0].TimescaleDB.Host != "db.internal" {
		t.Errorf("TimescaleDB.Host = %q", data.Storage[0].TimescaleDB.Host)
	}
	if data.Storage[1].Type != "stats" || data.Storage[1].Stats == nil {
		t.Fatalf("Storage[1] = %+v, want populated stats entry", data.Storage[1])
	}

	if data.Upload.Endpoint != "https://ingest.example.com/archive" {
		t.Errorf("Upload.Endpoint = %q", data.Upload.Endpoint)
	}
	if data.Upload.QueueSize != 512 {
		t.Errorf("Upload.QueueSize = %d, want 512", data.Upload.QueueSize)
	}
}

func TestYAMLProviderIsReadOnly(t *testing.T) {
	p := NewYAMLProvider("unused.yaml")
	if !p.IsReadOnly() {
		t.Error("YAMLProvider.IsReadOnly() = false, want true")
	}
}

func TestYAMLProviderLoadConfigMissingFile(t *testing.T) {
	_, err := NewYAMLProvider(filepath.Join(t.TempDir(), "missing.yaml")).LoadConfig()
	if err == nil {
		t.Fatal("LoadConfig on a missing file: want error, got nil")
	}
}
