// Package archivestore defines the storage contract archive records flow
// into once the console driver has decoded and translated them.
package archivestore

import (
	"context"
	"time"

	"github.com/wx-tools/vantaged/internal/types"
)

// Store persists archive records and reports the newest persisted
// timestamp, the resume point engine.Engine's ARCHIVE phase asks for
// through engine.Service.NewestArchiveTimestamp.
type Store interface {
	NewestTimestamp(ctx context.Context) (time.Time, error)
	Insert(ctx context.Context, rec types.ArchiveRecord) error

	// All returns every persisted archive record in increasing DateTime
	// order, used by cmd/vantagectl's -backfill-stats to replay history
	// into the stats store.
	All(ctx context.Context) ([]types.ArchiveRecord, error)

	Close() error
}
