package storage

import (
	"context"
	"errors"
	"strings"

	"claimrelay/internal/participant"
	logx "claimrelay/pkg/logx"
)

// Store loads and saves full registry snapshots.
type Store interface {
	// Load returns the persisted mapping. A missing backing file yields an
	// error wrapping fs.ErrNotExist.
	Load(ctx context.Context) (map[string]participant.Record, error)
	// Save overwrites the persisted mapping with records.
	Save(ctx context.Context, records map[string]participant.Record) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file", "json":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
