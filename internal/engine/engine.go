// Package engine drives the console acquisition state machine: SETUP,
// then an alternating LOOP/ARCHIVE cycle, dispatching translated records
// to a list of registered services in registration order.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/google/uuid"
	vanerrors "github.com/wx-tools/vantaged/internal/errors"
	"github.com/wx-tools/vantaged/internal/types"
	"github.com/wx-tools/vantaged/internal/vantage"
	"go.uber.org/zap"
)

// Service is the external contract the archive persister, stats updater,
// time-syncer, and uploader all implement. Every method is optional; a
// Service embeds ServiceBase to get no-op defaults it can selectively
// override.
type Service interface {
	Setup(ctx context.Context) error
	Preloop(ctx context.Context) error
	NewLoopPacket(ctx context.Context, rec types.LoopRecord) error
	NewArchivePacket(ctx context.Context, rec types.ArchiveRecord) error
	ProcessArchiveData(ctx context.Context) error
	ShutDown(ctx context.Context)

	// NewestArchiveTimestamp reports the newest dateTime this service has
	// persisted, used by the ARCHIVE state to know where to resume.
	// Services that don't track this (e.g. the uploader) return a zero
	// time and false.
	NewestArchiveTimestamp(ctx context.Context) (time.Time, bool)
}

// ServiceBase gives embedders no-op defaults for every Service method.
type ServiceBase struct{}

func (ServiceBase) Setup(context.Context) error                                 { return nil }
func (ServiceBase) Preloop(context.Context) error                               { return nil }
func (ServiceBase) NewLoopPacket(context.Context, types.LoopRecord) error       { return nil }
func (ServiceBase) NewArchivePacket(context.Context, types.ArchiveRecord) error { return nil }
func (ServiceBase) ProcessArchiveData(context.Context) error                    { return nil }
func (ServiceBase) ShutDown(context.Context)                                    {}
func (ServiceBase) NewestArchiveTimestamp(context.Context) (time.Time, bool)    { return time.Time{}, false }

// Engine owns the console driver and the registered services, running
// the SETUP -> LOOP -> ARCHIVE pump on a single goroutine.
type Engine struct {
	driver   *vantage.Driver
	services []Service
	logger   *zap.SugaredLogger

	// IOFaultBackoff/OSFaultBackoff are the sleep durations the fault
	// policy uses before restarting after a transport I/O error or an OS
	// error (e.g. a competing serial client), respectively.
	IOFaultBackoff time.Duration
	OSFaultBackoff time.Duration
}

// New builds an Engine with its services in dispatch order.
func New(driver *vantage.Driver, logger *zap.SugaredLogger, services ...Service) *Engine {
	return &Engine{
		driver:         driver,
		services:       services,
		logger:         logger,
		IOFaultBackoff: 60 * time.Second,
		OSFaultBackoff: 10 * time.Second,
	}
}

// Run blocks until ctx is cancelled, driving SETUP once and then the
// LOOP/ARCHIVE cycle indefinitely, restarting after transient faults per
// the fault policy and terminating on a programming-error-class failure.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.setup(ctx); err != nil {
		return err
	}
	defer e.shutdown(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := e.cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			backoff := e.classifyFault(err)
			if backoff < 0 {
				e.logger.Errorf("terminating after unrecoverable error: %v", err)
				return err
			}
			e.logger.Errorf("restarting acquisition cycle after %v: %v", backoff, err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
		}
	}
}

// classifyFault maps an error from one acquisition cycle to a backoff
// duration, or -1 if the engine should terminate instead of restarting.
func (e *Engine) classifyFault(err error) time.Duration {
	var wakeup *vanerrors.WakeupError
	var ack *vanerrors.AckError
	var crc *vanerrors.CrcError
	var retries *vanerrors.RetriesExceeded
	if errors.As(err, &wakeup) || errors.As(err, &ack) || errors.As(err, &crc) || errors.As(err, &retries) {
		return e.IOFaultBackoff
	}

	var pathErr *os.PathError
	var opErr *net.OpError
	if errors.As(err, &pathErr) || errors.As(err, &opErr) {
		return e.OSFaultBackoff
	}

	// UnknownArchiveType, ViolatedPrecondition, UnsupportedFeature, and any
	// error outside this taxonomy are programming- or configuration-class
	// failures that won't clear on their own; terminate instead of
	// restarting into the same failure.
	return -1
}

func (e *Engine) setup(ctx context.Context) error {
	for _, svc := range e.services {
		if err := svc.Setup(ctx); err != nil {
			return err
		}
	}
	for _, svc := range e.services {
		if err := svc.Preloop(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) shutdown(ctx context.Context) {
	for _, svc := range e.services {
		svc.ShutDown(ctx)
	}
}

// cycle runs one LOOP phase followed by one ARCHIVE phase, tagging both
// with a correlation ID so a single acquisition cycle's log lines can be
// grepped out of a long-running daemon's output.
func (e *Engine) cycle(ctx context.Context) error {
	cycleID := uuid.New().String()
	e.logger.Debugw("starting acquisition cycle", "cycle_id", cycleID)
	if err := e.runLoop(ctx); err != nil {
		return fmt.Errorf("cycle %s: %w", cycleID, err)
	}
	if err := e.runArchive(ctx); err != nil {
		return fmt.Errorf("cycle %s: %w", cycleID, err)
	}
	return nil
}

func (e *Engine) runLoop(ctx context.Context) error {
	done := ctx.Done()
	return e.driver.StreamLoop(done, func(rec types.LoopRecord) bool {
		for _, svc := range e.services {
			if err := svc.NewLoopPacket(ctx, rec); err != nil {
				e.logger.Errorf("service rejected LOOP packet: %v", err)
			}
		}
		return ctx.Err() == nil
	})
}

func (e *Engine) runArchive(ctx context.Context) error {
	newest := e.newestArchiveTimestamp(ctx)

	done := ctx.Done()
	err := e.driver.DumpSince(done, newest, func(rec types.ArchiveRecord) bool {
		for _, svc := range e.services {
			if err := svc.NewArchivePacket(ctx, rec); err != nil {
				e.logger.Errorf("service rejected archive record: %v", err)
			}
		}
		return ctx.Err() == nil
	})
	if err != nil {
		return err
	}

	for _, svc := range e.services {
		if err := svc.ProcessArchiveData(ctx); err != nil {
			return err
		}
	}
	return nil
}

// newestArchiveTimestamp asks each service for the newest dateTime it
// has persisted and returns the maximum, or the zero time if none report
// one (a cold start dumps the console's entire archive).
func (e *Engine) newestArchiveTimestamp(ctx context.Context) time.Time {
	var newest time.Time
	for _, svc := range e.services {
		if ts, ok := svc.NewestArchiveTimestamp(ctx); ok && ts.After(newest) {
			newest = ts
		}
	}
	return newest
}
