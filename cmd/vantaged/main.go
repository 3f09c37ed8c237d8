// Command vantaged is the Davis VantagePro/VantagePro2 acquisition
// daemon: it streams LOOP packets, dumps the archive on each boundary,
// and hands translated records to the configured storage and upload
// services.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/wx-tools/vantaged/internal/archivestore"
	"github.com/wx-tools/vantaged/internal/archivestore/timescaledb"
	"github.com/wx-tools/vantaged/internal/constants"
	"github.com/wx-tools/vantaged/internal/engine"
	"github.com/wx-tools/vantaged/internal/statsstore"
	"github.com/wx-tools/vantaged/internal/statsstore/gormstats"
	"github.com/wx-tools/vantaged/internal/transport"
	"github.com/wx-tools/vantaged/internal/types"
	"github.com/wx-tools/vantaged/internal/uploader"
	"github.com/wx-tools/vantaged/internal/vantage"
	"github.com/wx-tools/vantaged/pkg/config"
	"github.com/wx-tools/vantaged/pkg/vantagelog"
)

func main() {
	var (
		daemonize = flag.Bool("daemon", false, "mark the run as daemonized in the startup log (the engine runs continuously either way; reserved for process-manager integration)")
		showVer   = flag.Bool("version", false, "print version and exit")
		debug     = flag.Bool("debug", false, "enable debug logging")
		logFile   = flag.String("log-file", "", "optional path to a rotating log file")
	)
	flag.Parse()

	if *showVer {
		fmt.Printf("vantaged %s (%s)\n", constants.Version, constants.CommitID)
		return
	}

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: vantaged [flags] config_path")
		os.Exit(2)
	}
	configPath := flag.Arg(0)

	zapLogger, err := vantagelog.New(vantagelog.Options{Debug: *debug, FilePath: *logFile})
	if err != nil {
		fmt.Fprintf(os.Stderr, "building logger: %v\n", err)
		os.Exit(1)
	}
	defer zapLogger.Sync()
	logger := zapLogger.Sugar()

	logger.Infow("starting vantaged", "version", constants.Version, "commit", constants.CommitID, "daemon", *daemonize)

	provider := config.NewYAMLProvider(configPath)
	data, err := provider.LoadConfig()
	if err != nil {
		logger.Fatalf("loading configuration from %s: %v", configPath, err)
	}
	if errs := config.Validate(data); len(errs) > 0 {
		for _, ve := range errs {
			logger.Errorf("configuration error: %v", ve)
		}
		logger.Fatal("invalid configuration, refusing to start")
	}

	location, err := resolveLocation(data.Station.Location)
	if err != nil {
		logger.Fatalf("resolving station.location %q: %v", data.Station.Location, err)
	}

	driverCfg := vantage.Config{
		Transport: transport.Config{
			SerialDevice: data.Station.SerialDevice,
			Baud:         data.Station.Baud,
			Hostname:     data.Station.Hostname,
			Port:         data.Station.Port,
			DialTimeout:  data.Station.DialTimeout,
			ReadTimeout:  data.Station.ReadTimeout,
		},
		ISSId:        data.Station.ISSId,
		ModelType:    data.Station.ModelType,
		MaxTries:     data.Station.MaxTries,
		ArchiveDelay: data.Station.ArchiveDelay,
		DstDelta:     data.Station.DSTDelta,
		Location:     location,
	}
	driver := vantage.NewDriver(driverCfg, logger, 300)

	services, closers, err := buildServices(context.Background(), data, logger)
	if err != nil {
		logger.Fatalf("building services: %v", err)
	}
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()

	services = append([]engine.Service{&clockSync{driver: driver}}, services...)

	eng := engine.New(driver, logger, services...)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	if err := eng.Run(ctx); err != nil {
		logger.Fatalf("engine terminated: %v", err)
	}
	logger.Info("vantaged stopped")
}

func resolveLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.Local, nil
	}
	return time.LoadLocation(name)
}

type closer interface{ Close() error }

// buildServices constructs the archive persister, stats updater, and
// uploader from the configured storage backends, in the order archive
// records should be handed to them.
func buildServices(ctx context.Context, data *config.Data, logger *zap.SugaredLogger) ([]engine.Service, []closer, error) {
	var services []engine.Service
	var closers []closer

	for _, sc := range data.Storage {
		switch sc.Type {
		case "timescaledb":
			if sc.TimescaleDB == nil {
				continue
			}
			store, err := timescaledb.New(ctx, sc.TimescaleDB.DSN())
			if err != nil {
				return nil, nil, fmt.Errorf("connecting to timescaledb: %w", err)
			}
			services = append(services, &archivePersister{store: store, logger: logger})
			closers = append(closers, store)

		case "stats":
			if sc.Stats == nil {
				continue
			}
			store, err := gormstats.New(sc.Stats.DSN, logger)
			if err != nil {
				return nil, nil, fmt.Errorf("connecting to stats store: %w", err)
			}
			services = append(services, &statsUpdater{store: store, logger: logger})
			closers = append(closers, store)
		}
	}

	if data.Upload.Endpoint != "" {
		client := &uploader.HTTPClient{Endpoint: data.Upload.Endpoint, APIKey: data.Upload.APIKey}
		services = append(services, uploader.NewQueue(client, logger, data.Upload.QueueSize))
	}

	return services, closers, nil
}

// archivePersister adapts archivestore.Store to engine.Service.
type archivePersister struct {
	engine.ServiceBase
	store  archivestore.Store
	logger *zap.SugaredLogger
}

func (p *archivePersister) NewArchivePacket(ctx context.Context, rec types.ArchiveRecord) error {
	return p.store.Insert(ctx, rec)
}

func (p *archivePersister) NewestArchiveTimestamp(ctx context.Context) (time.Time, bool) {
	ts, err := p.store.NewestTimestamp(ctx)
	if err != nil {
		p.logger.Errorf("reading newest archive timestamp: %v", err)
		return time.Time{}, false
	}
	return ts, !ts.IsZero()
}

// clockSync synchronizes the console's clock to the host's at the start
// of every SETUP, before any other service sees a record.
type clockSync struct {
	engine.ServiceBase
	driver *vantage.Driver
}

func (c *clockSync) Preloop(ctx context.Context) error {
	return c.driver.SetTime(ctx.Done(), time.Now(), 5*time.Second)
}

// statsUpdater adapts statsstore.Store to engine.Service.
type statsUpdater struct {
	engine.ServiceBase
	store  statsstore.Store
	logger *zap.SugaredLogger
}

func (u *statsUpdater) NewArchivePacket(ctx context.Context, rec types.ArchiveRecord) error {
	return u.store.UpdateDay(ctx, rec)
}
