package config

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestSQLiteProvider(t *testing.T) *SQLiteProvider {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vantaged.db")
	p, err := NewSQLiteProvider(path)
	if err != nil {
		t.Fatalf("NewSQLiteProvider: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestSQLiteProviderLoadConfigFreshDatabase(t *testing.T) {
	p := openTestSQLiteProvider(t)
	data, err := p.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig on a fresh database: %v", err)
	}
	if data.Station.Name != "" {
		t.Errorf("Station.Name = %q, want empty on a fresh database", data.Station.Name)
	}
	if len(data.Storage) != 0 {
		t.Errorf("Storage = %v, want empty on a fresh database", data.Storage)
	}
}

func TestSQLiteProviderPutStationRoundTrips(t *testing.T) {
	p := openTestSQLiteProvider(t)

	want := StationConfig{
		Name:         "backyard",
		SerialDevice: "/dev/ttyUSB0",
		Baud:         19200,
		ISSId:        1,
		ModelType:    2,
		MaxTries:     3,
		DialTimeout:  5 * time.Second,
		ArchiveDelay: 15 * time.Second,
		Location:     "America/Denver",
		Latitude:     39.7,
		Longitude:    -104.9,
		Altitude:     1609,
	}
	if err := p.PutStation(want); err != nil {
		t.Fatalf("PutStation: %v", err)
	}

	data, err := p.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if data.Station != want {
		t.Errorf("Station = %+v, want %+v", data.Station, want)
	}
}

func TestSQLiteProviderPutStorageRoundTrips(t *testing.T) {
	p := openTestSQLiteProvider(t)

	tsdb := StorageConfig{Type: "timescaledb", TimescaleDB: &TimescaleDBConfig{
		Host: "db.internal", Port: 5432, Database: "vantaged", User: "vantaged", Password: "secret",
	}}
	if err := p.PutStorage(tsdb); err != nil {
		t.Fatalf("PutStorage(timescaledb): %v", err)
	}
	stats := StorageConfig{Type: "stats", Stats: &StatsConfig{DSN: "postgres://vantaged@db.internal/stats"}}
	if err := p.PutStorage(stats); err != nil {
		t.Fatalf("PutStorage(stats): %v", err)
	}

	data, err := p.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if len(data.Storage) != 2 {
		t.Fatalf("len(Storage) = %d, want 2", len(data.Storage))
	}
	byType := map[string]StorageConfig{}
	for _, sc := range data.Storage {
		byType[sc.Type] = sc
	}
	if got := byType["timescaledb"].TimescaleDB; got == nil || got.Host != "db.internal" {
		t.Errorf("timescaledb entry = %+v, want Host=db.internal", got)
	}
	if got := byType["stats"].Stats; got == nil || got.DSN != "postgres://vantaged@db.internal/stats" {
		t.Errorf("stats entry = %+v, want the configured DSN", got)
	}
}

func TestSQLiteProviderPutStorageUpsertsOnConflict(t *testing.T) {
	p := openTestSQLiteProvider(t)

	if err := p.PutStorage(StorageConfig{Type: "stats", Stats: &StatsConfig{DSN: "first"}}); err != nil {
		t.Fatalf("initial PutStorage: %v", err)
	}
	if err := p.PutStorage(StorageConfig{Type: "stats", Stats: &StatsConfig{DSN: "second"}}); err != nil {
		t.Fatalf("updating PutStorage: %v", err)
	}

	data, err := p.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if len(data.Storage) != 1 {
		t.Fatalf("len(Storage) = %d, want 1 (upsert, not insert)", len(data.Storage))
	}
	if data.Storage[0].Stats.DSN != "second" {
		t.Errorf("Stats.DSN = %q, want the updated value", data.Storage[0].Stats.DSN)
	}
}

func TestSQLiteProviderDeleteStorage(t *testing.T) {
	p := openTestSQLiteProvider(t)
	if err := p.PutStorage(StorageConfig{Type: "stats", Stats: &StatsConfig{DSN: "x"}}); err != nil {
		t.Fatalf("PutStorage: %v", err)
	}
	if err := p.DeleteStorage("stats"); err != nil {
		t.Fatalf("DeleteStorage: %v", err)
	}
	data, err := p.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if len(data.Storage) != 0 {
		t.Errorf("Storage = %v, want empty after DeleteStorage", data.Storage)
	}
}

func TestSQLiteProviderIsReadOnly(t *testing.T) {
	p := openTestSQLiteProvider(t)
	if p.IsReadOnly() {
		t.Error("SQLiteProvider.IsReadOnly() = true, want false")
	}
}
