package config

import "testing"

func TestValidateRequiresOneConnectionMethod(t *testing.T) {
	errs := Validate(&Data{Station: StationConfig{}})
	if len(errs) == 0 {
		t.Fatal("Validate with neither serial_device nor hostname+port: want errors, got none")
	}
}

func TestValidateRejectsBothConnectionMethods(t *testing.T) {
	errs := Validate(&Data{Station: StationConfig{
		SerialDevice: "/dev/ttyUSB0",
		Hostname:     "console.local",
		Port:         "22222",
	}})
	if len(errs) == 0 {
		t.Fatal("Validate with both serial_device and hostname+port: want errors, got none")
	}
}

func TestValidateAcceptsSerialOnly(t *testing.T) {
	errs := Validate(&Data{Station: StationConfig{SerialDevice: "/dev/ttyUSB0"}})
	if len(errs) != 0 {
		t.Fatalf("Validate with serial_device set: want no errors, got %v", errs)
	}
}

func TestValidateRejectsBadModelType(t *testing.T) {
	errs := Validate(&Data{Station: StationConfig{SerialDevice: "/dev/ttyUSB0", ModelType: 9}})
	if len(errs) != 1 {
		t.Fatalf("Validate with model_type=9: want 1 error, got %v", errs)
	}
}

func TestValidateRejectsDuplicateStorageType(t *testing.T) {
	errs := Validate(&Data{
		Station: StationConfig{SerialDevice: "/dev/ttyUSB0"},
		Storage: []StorageConfig{
			{Type: "timescaledb", TimescaleDB: &TimescaleDBConfig{}},
			{Type: "timescaledb", TimescaleDB: &TimescaleDBConfig{}},
		},
	})
	if len(errs) != 1 {
		t.Fatalf("Validate with duplicate storage type: want 1 error, got %v", errs)
	}
}

func TestValidateRejectsStorageMissingBackendConfig(t *testing.T) {
	errs := Validate(&Data{
		Station: StationConfig{SerialDevice: "/dev/ttyUSB0"},
		Storage: []StorageConfig{{Type: "timescaledb"}},
	})
	if len(errs) != 1 {
		t.Fatalf("Validate with timescaledb entry missing its config: want 1 error, got %v", errs)
	}
}

func TestValidateRejectsUnknownStorageType(t *testing.T) {
	errs := Validate(&Data{
		Station: StationConfig{SerialDevice: "/dev/ttyUSB0"},
		Storage: []StorageConfig{{Type: "carrier-pigeon"}},
	})
	if len(errs) != 1 {
		t.Fatalf("Validate with unknown storage type: want 1 error, got %v", errs)
	}
}

func TestTimescaleDBConfigDSN(t *testing.T) {
	dsn := (&TimescaleDBConfig{Host: "db.internal", Database: "vantaged", User: "vantaged", Password: "secret", Port: 5432}).DSN()
	want := "host=db.internal dbname=vantaged user=vantaged password=secret port=5432 sslmode=disable"
	if dsn != want {
		t.Errorf("DSN() = %q, want %q", dsn, want)
	}
}

func TestTimescaleDBConfigDSNWithSSLMode(t *testing.T) {
	dsn := (&TimescaleDBConfig{Host: "db.internal", Database: "vantaged", User: "vantaged", Password: "secret", SSLMode: "require"}).DSN()
	want := "host=db.internal dbname=vantaged user=vantaged password=secret sslmode=require"
	if dsn != want {
		t.Errorf("DSN() = %q, want %q", dsn, want)
	}
}
