// Command vantagectl configures a vantaged station: setting the archive
// interval, clearing archive memory, and provisioning or backfilling the
// storage backends, using settings loaded from a SQLite configuration
// database. vantaged itself reads a YAML configuration file instead.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/wx-tools/vantaged/internal/archivestore"
	"github.com/wx-tools/vantaged/internal/archivestore/timescaledb"
	"github.com/wx-tools/vantaged/internal/statsstore"
	"github.com/wx-tools/vantaged/internal/statsstore/gormstats"
	"github.com/wx-tools/vantaged/internal/transport"
	"github.com/wx-tools/vantaged/internal/vantage"
	"github.com/wx-tools/vantaged/pkg/config"
)

func main() {
	var (
		dbPath           = flag.String("config-db", "vantaged.db", "path to the SQLite configuration database")
		createDatabase   = flag.Bool("create-database", false, "create the TimescaleDB archive hypertable")
		createStats      = flag.Bool("create-stats", false, "create the daily-stats table")
		reconfigDatabase = flag.Bool("reconfig-database", false, "re-run archive/stats schema migration against the configured DSNs")
		backfillStats    = flag.Bool("backfill-stats", false, "replay persisted archive rows through the stats store")
		configureStation = flag.String("configure-station", "", "set the archive interval (seconds) for the configured station, e.g. -configure-station 300")
		clearStation     = flag.Bool("clear-station", false, "clear the console's archive memory")
	)
	flag.Parse()

	logger := zap.NewNop().Sugar()

	provider, err := config.NewSQLiteProvider(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening config db %s: %v\n", *dbPath, err)
		os.Exit(1)
	}
	defer provider.Close()

	data, err := provider.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading configuration: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	switch {
	case *createDatabase:
		if err := ensureTimescaleDB(ctx, data); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		fmt.Println("archive hypertable ready")

	case *createStats:
		if err := ensureStats(data, logger); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		fmt.Println("daily-stats table ready")

	case *reconfigDatabase:
		if err := ensureTimescaleDB(ctx, data); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		if err := ensureStats(data, logger); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		fmt.Println("schema migration complete")

	case *backfillStats:
		if err := backfill(ctx, data, logger); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}

	case *configureStation != "":
		seconds, err := time.ParseDuration(*configureStation + "s")
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid -configure-station value %q: %v\n", *configureStation, err)
			os.Exit(1)
		}
		driver := newDriver(data, logger)
		if err := driver.SetArchiveInterval(nil, int(seconds.Seconds())); err != nil {
			fmt.Fprintf(os.Stderr, "setting archive interval: %v\n", err)
			os.Exit(1)
		}
		if err := driver.ClearLog(nil); err != nil {
			fmt.Fprintf(os.Stderr, "clearing archive memory after interval change: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("archive interval updated and archive memory cleared")

	case *clearStation:
		driver := newDriver(data, logger)
		if err := driver.ClearLog(nil); err != nil {
			fmt.Fprintf(os.Stderr, "clearing archive memory: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("archive memory cleared")

	default:
		flag.Usage()
		os.Exit(2)
	}
}

func newDriver(data *config.Data, logger *zap.SugaredLogger) *vantage.Driver {
	cfg := vantage.Config{
		Transport: transport.Config{
			SerialDevice: data.Station.SerialDevice,
			Baud:         data.Station.Baud,
			Hostname:     data.Station.Hostname,
			Port:         data.Station.Port,
		},
		ISSId:     data.Station.ISSId,
		ModelType: data.Station.ModelType,
	}
	return vantage.NewDriver(cfg, logger, 300)
}

func findStorage(data *config.Data, storageType string) *config.StorageConfig {
	for i := range data.Storage {
		if data.Storage[i].Type == storageType {
			return &data.Storage[i]
		}
	}
	return nil
}

func ensureTimescaleDB(ctx context.Context, data *config.Data) error {
	sc := findStorage(data, "timescaledb")
	if sc == nil || sc.TimescaleDB == nil {
		return fmt.Errorf("no timescaledb storage backend configured")
	}
	store, err := timescaledb.New(ctx, sc.TimescaleDB.DSN())
	if err != nil {
		return fmt.Errorf("connecting to timescaledb: %w", err)
	}
	return store.Close()
}

func ensureStats(data *config.Data, logger *zap.SugaredLogger) error {
	sc := findStorage(data, "stats")
	if sc == nil || sc.Stats == nil {
		return fmt.Errorf("no stats storage backend configured")
	}
	store, err := gormstats.New(sc.Stats.DSN, logger)
	if err != nil {
		return fmt.Errorf("connecting to stats store: %w", err)
	}
	return store.Close()
}

// backfill replays every persisted archive record through the stats
// store, the operation behind -backfill-stats.
func backfill(ctx context.Context, data *config.Data, logger *zap.SugaredLogger) error {
	archiveSC := findStorage(data, "timescaledb")
	statsSC := findStorage(data, "stats")
	if archiveSC == nil || archiveSC.TimescaleDB == nil {
		return fmt.Errorf("no timescaledb storage backend configured to backfill from")
	}
	if statsSC == nil || statsSC.Stats == nil {
		return fmt.Errorf("no stats storage backend configured to backfill into")
	}

	archive, err := timescaledb.New(ctx, archiveSC.TimescaleDB.DSN())
	if err != nil {
		return fmt.Errorf("connecting to timescaledb: %w", err)
	}
	defer archive.Close()

	stats, err := gormstats.New(statsSC.Stats.DSN, logger)
	if err != nil {
		return fmt.Errorf("connecting to stats store: %w", err)
	}
	defer stats.Close()

	n, err := replayArchive(ctx, archive, stats)
	if err != nil {
		return err
	}
	fmt.Printf("replayed %d archive records into the stats store\n", n)
	return nil
}

// replayArchive is split out from backfill so it only depends on the
// archivestore.Store/statsstore.Store interfaces, not the concrete
// adapters, matching how engine.Engine depends on engine.Service rather
// than any particular storage package. It returns the number of records
// replayed.
func replayArchive(ctx context.Context, archive archivestore.Store, stats statsstore.Store) (int, error) {
	records, err := archive.All(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading archive records: %w", err)
	}
	for _, rec := range records {
		if err := stats.UpdateDay(ctx, rec); err != nil {
			return 0, fmt.Errorf("updating stats for %s: %w", rec.DateTime, err)
		}
	}
	return len(records), nil
}
