package storage

import (
	"context"

	"github.com/yairfalse/vahti/pkg/types"
)

// Store persists the snapshot history of every job, keyed by job GUID.
// Implementations must be safe for concurrent use across different GUIDs.
type Store interface {
	// Load returns the latest snapshot for guid, or types.EmptySnapshot() if none is stored
	Load(ctx context.Context, guid string) (types.Snapshot, error)
	// Save appends snapshot to the history of guid
	Save(ctx context.Context, guid string, snapshot types.Snapshot) error
	// DeleteLatest removes the newest snapshot of guid. With temporary set only a
	// snapshot written through this Store instance is removed. Returns false when
	// there was nothing to delete.
	DeleteLatest(ctx context.Context, guid string, temporary bool) (bool, error)
	// GetHistorySnapshots returns up to count snapshots, most recent first. A count
	// of zero or less returns the whole history.
	GetHistorySnapshots(ctx context.Context, guid string, count int) ([]types.Snapshot, error)
	// GetGUIDs returns every GUID with at least one snapshot, sorted
	GetGUIDs(ctx context.Context) ([]string, error)
	// Move relocates the history of oldGUID to newGUID and returns the number of snapshots moved
	Move(ctx context.Context, oldGUID, newGUID string) (int, error)

	// GC drops the history of GUIDs not in known and keeps the newest keep snapshots of the rest
	GC(ctx context.Context, known []string, keep int) (int, error)
	// CleanCache keeps only the latest snapshot of every GUID
	CleanCache(ctx context.Context) (int, error)
	// RollbackCache deletes every snapshot newer than timestamp
	RollbackCache(ctx context.Context, timestamp float64) (int, error)

	Close() error
}

// Config holds storage configuration
type Config struct {
	Backend      string `json:"backend"`
	Path         string `json:"path"`
	MaxSnapshots int    `json:"max_snapshots,omitempty"`
}
