package config

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteProvider implements Provider against a local SQLite database,
// giving the configurator CLI (cmd/vantagectl) a read-write store without
// depending on the Postgres-backed archive/stats stores being reachable.
type SQLiteProvider struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteProvider opens (creating and migrating if necessary) a SQLite
// configuration database at dbPath.
func NewSQLiteProvider(dbPath string) (*SQLiteProvider, error) {
	connStr := fmt.Sprintf("%s?_busy_timeout=10000&_journal_mode=WAL&_synchronous=NORMAL", dbPath)
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open sqlite config db: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite config db: %w", err)
	}

	p := &SQLiteProvider{db: db, dbPath: dbPath}
	if err := p.initializeSchemaIfNeeded(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize sqlite schema: %w", err)
	}
	return p, nil
}

func (s *SQLiteProvider) initializeSchemaIfNeeded() error {
	var name string
	err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='station'").Scan(&name)
	if err == sql.ErrNoRows {
		return s.initializeSchema()
	}
	if err != nil {
		return fmt.Errorf("checking for existing tables: %w", err)
	}
	return nil
}

func (s *SQLiteProvider) initializeSchema() error {
	const schema = `
CREATE TABLE station (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	name          TEXT NOT NULL,
	hostname      TEXT,
	port          TEXT,
	serial_device TEXT,
	baud          INTEGER,
	iss_id        INTEGER,
	model_type    INTEGER,
	max_tries     INTEGER,
	dial_timeout  INTEGER,
	read_timeout  INTEGER,
	archive_delay INTEGER,
	dst_delta     INTEGER,
	location      TEXT,
	latitude      REAL,
	longitude     REAL,
	altitude      REAL
);

CREATE TABLE storage_backend (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	type         TEXT NOT NULL UNIQUE,
	config_json  TEXT NOT NULL
);

CREATE TABLE upload (
	id              INTEGER PRIMARY KEY CHECK (id = 1),
	endpoint        TEXT,
	api_key         TEXT,
	upload_interval INTEGER,
	queue_size      INTEGER
);
`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT INTO station (id, name) VALUES (1, '')`)
	return err
}

// LoadConfig reads the station row, every storage_backend row, and the
// upload row into a Data.
func (s *SQLiteProvider) LoadConfig() (*Data, error) {
	data := &Data{}

	row := s.db.QueryRow(`SELECT name, hostname, port, serial_device, baud, iss_id, model_type,
		max_tries, dial_timeout, read_timeout, archive_delay, dst_delta, location,
		latitude, longitude, altitude FROM station WHERE id = 1`)

	var hostname, port, serialDevice, location sql.NullString
	var baud, issID, modelType, maxTries sql.NullInt64
	var dialTimeout, readTimeout, archiveDelay, dstDelta sql.NullInt64
	var lat, lon, alt sql.NullFloat64
	if err := row.Scan(&data.Station.Name, &hostname, &port, &serialDevice, &baud, &issID, &modelType,
		&maxTries, &dialTimeout, &readTimeout, &archiveDelay, &dstDelta, &location, &lat, &lon, &alt); err != nil {
		return nil, fmt.Errorf("loading station row: %w", err)
	}
	data.Station.Hostname = hostname.String
	data.Station.Port = port.String
	data.Station.SerialDevice = serialDevice.String
	data.Station.Baud = int(baud.Int64)
	data.Station.ISSId = int(issID.Int64)
	data.Station.ModelType = int(modelType.Int64)
	data.Station.MaxTries = int(maxTries.Int64)
	data.Station.DialTimeout = time.Duration(dialTimeout.Int64)
	data.Station.ReadTimeout = time.Duration(readTimeout.Int64)
	data.Station.ArchiveDelay = time.Duration(archiveDelay.Int64)
	data.Station.DSTDelta = time.Duration(dstDelta.Int64)
	data.Station.Location = location.String
	data.Station.Latitude = lat.Float64
	data.Station.Longitude = lon.Float64
	data.Station.Altitude = alt.Float64

	rows, err := s.db.Query(`SELECT type, config_json FROM storage_backend ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("loading storage backends: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var typ, cfgJSON string
		if err := rows.Scan(&typ, &cfgJSON); err != nil {
			return nil, err
		}
		sc := StorageConfig{Type: typ}
		switch typ {
		case "timescaledb":
			sc.TimescaleDB = &TimescaleDBConfig{}
			if err := json.Unmarshal([]byte(cfgJSON), sc.TimescaleDB); err != nil {
				return nil, fmt.Errorf("decoding timescaledb config: %w", err)
			}
		case "stats":
			sc.Stats = &StatsConfig{}
			if err := json.Unmarshal([]byte(cfgJSON), sc.Stats); err != nil {
				return nil, fmt.Errorf("decoding stats config: %w", err)
			}
		}
		data.Storage = append(data.Storage, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	uploadRow := s.db.QueryRow(`SELECT endpoint, api_key, upload_interval, queue_size FROM upload WHERE id = 1`)
	var endpoint, apiKey sql.NullString
	var uploadInterval, queueSize sql.NullInt64
	if err := uploadRow.Scan(&endpoint, &apiKey, &uploadInterval, &queueSize); err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("loading upload row: %w", err)
	}
	data.Upload = UploadConfig{
		Endpoint:       endpoint.String,
		APIKey:         apiKey.String,
		UploadInterval: time.Duration(uploadInterval.Int64),
		QueueSize:      int(queueSize.Int64),
	}

	return data, nil
}

// PutStation replaces the station row.
func (s *SQLiteProvider) PutStation(st StationConfig) error {
	_, err := s.db.Exec(`UPDATE station SET name=?, hostname=?, port=?, serial_device=?, baud=?,
		iss_id=?, model_type=?, max_tries=?, dial_timeout=?, read_timeout=?, archive_delay=?,
		dst_delta=?, location=?, latitude=?, longitude=?, altitude=? WHERE id = 1`,
		st.Name, st.Hostname, st.Port, st.SerialDevice, st.Baud, st.ISSId, st.ModelType,
		st.MaxTries, int64(st.DialTimeout), int64(st.ReadTimeout), int64(st.ArchiveDelay),
		int64(st.DSTDelta), st.Location, st.Latitude, st.Longitude, st.Altitude)
	return err
}

// PutStorage upserts one storage backend's configuration.
func (s *SQLiteProvider) PutStorage(sc StorageConfig) error {
	var cfg interface{}
	switch sc.Type {
	case "timescaledb":
		cfg = sc.TimescaleDB
	case "stats":
		cfg = sc.Stats
	default:
		return fmt.Errorf("config: unknown storage backend type %q", sc.Type)
	}
	blob, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO storage_backend (type, config_json) VALUES (?, ?)
		ON CONFLICT(type) DO UPDATE SET config_json = excluded.config_json`, sc.Type, string(blob))
	return err
}

// DeleteStorage removes a configured storage backend.
func (s *SQLiteProvider) DeleteStorage(storageType string) error {
	_, err := s.db.Exec(`DELETE FROM storage_backend WHERE type = ?`, storageType)
	return err
}

// IsReadOnly returns false: the SQLite provider is the configurator CLI's
// read-write store.
func (s *SQLiteProvider) IsReadOnly() bool { return false }

// Close closes the underlying database handle.
func (s *SQLiteProvider) Close() error {
	return s.db.Close()
}
