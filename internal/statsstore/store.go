// Package statsstore defines the daily-aggregate contract archive
// records feed after persistence, used by cmd/vantagectl's
// --backfill-stats replay and by cmd/vantaged's engine service on each
// NewArchivePacket.
package statsstore

import (
	"context"

	"github.com/wx-tools/vantaged/internal/types"
)

// Store maintains one row of running highs/lows per calendar day.
type Store interface {
	UpdateDay(ctx context.Context, rec types.ArchiveRecord) error
	Close() error
}
