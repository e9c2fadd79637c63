package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/yairfalse/vahti/pkg/types"
)

// New opens the store selected by config.Backend
func New(config Config) (Store, error) {
	switch config.Backend {
	case "", "sqlite":
		if err := os.MkdirAll(filepath.Dir(config.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		return NewSQLiteStore(config)
	case "local":
		return NewLocalStore(config)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", config.Backend)
	}
}

// sortNewestFirst orders snapshots by timestamp, newest first. Ties keep their current order.
func sortNewestFirst(snapshots []types.Snapshot) {
	sort.SliceStable(snapshots, func(i, j int) bool {
		return snapshots[i].Timestamp > snapshots[j].Timestamp
	})
}

func knownSet(known []string) map[string]struct{} {
	set := make(map[string]struct{}, len(known))
	for _, guid := range known {
		set[guid] = struct{}{}
	}
	return set
}
