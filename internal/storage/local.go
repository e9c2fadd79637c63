package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/yairfalse/vahti/pkg/types"
)

// LocalStore keeps the history of each GUID in one JSON file, newest snapshot first
type LocalStore struct {
	config    Config
	snapshots string
	writer    *AtomicWriter

	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	sessions map[string]int // snapshots written per GUID by this instance
}

// NewLocalStore creates a new local store rooted at config.Path
func NewLocalStore(config Config) (*LocalStore, error) {
	if config.Path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		config.Path = filepath.Join(homeDir, ".vahti", "snapshots")
	}

	store := &LocalStore{
		config:    config,
		snapshots: filepath.Join(config.Path, "snapshots"),
		writer:    NewAtomicWriter(filepath.Join(config.Path, "backups")),
		locks:     make(map[string]*sync.Mutex),
		sessions:  make(map[string]int),
	}

	if err := os.MkdirAll(store.snapshots, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", store.snapshots, err)
	}

	return store, nil
}

// Load returns the latest snapshot for guid
func (s *LocalStore) Load(ctx context.Context, guid string) (types.Snapshot, error) {
	unlock := s.lock(guid)
	defer unlock()

	history, err := s.read(guid)
	if err != nil {
		return types.EmptySnapshot(), err
	}
	if len(history) == 0 {
		return types.EmptySnapshot(), nil
	}
	return history[0], nil
}

// Save prepends snapshot to the history of guid
func (s *LocalStore) Save(ctx context.Context, guid string, snapshot types.Snapshot) error {
	if err := snapshot.Validate(); err != nil {
		return fmt.Errorf("invalid snapshot: %w", err)
	}

	unlock := s.lock(guid)
	defer unlock()

	history, err := s.read(guid)
	if err != nil {
		return err
	}

	history = append([]types.Snapshot{snapshot}, history...)
	sortNewestFirst(history)
	if s.config.MaxSnapshots > 0 && len(history) > s.config.MaxSnapshots {
		history = history[:s.config.MaxSnapshots]
	}

	if err := s.write(guid, history); err != nil {
		return err
	}

	s.mu.Lock()
	s.sessions[guid]++
	s.mu.Unlock()
	return nil
}

// DeleteLatest removes the newest snapshot of guid
func (s *LocalStore) DeleteLatest(ctx context.Context, guid string, temporary bool) (bool, error) {
	unlock := s.lock(guid)
	defer unlock()

	if temporary {
		s.mu.Lock()
		written := s.sessions[guid]
		s.mu.Unlock()
		if written == 0 {
			return false, nil
		}
	}

	history, err := s.read(guid)
	if err != nil {
		return false, err
	}
	if len(history) == 0 {
		return false, nil
	}

	if len(history) == 1 {
		err = s.writer.Remove(s.path(guid))
	} else {
		err = s.write(guid, history[1:])
	}
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	if s.sessions[guid] > 0 {
		s.sessions[guid]--
	}
	s.mu.Unlock()
	return true, nil
}

// GetHistorySnapshots returns up to count snapshots of guid, most recent first
func (s *LocalStore) GetHistorySnapshots(ctx context.Context, guid string, count int) ([]types.Snapshot, error) {
	unlock := s.lock(guid)
	defer unlock()

	history, err := s.read(guid)
	if err != nil {
		return nil, err
	}
	if count > 0 && len(history) > count {
		history = history[:count]
	}
	return history, nil
}

// GetGUIDs lists every GUID with a history file
func (s *LocalStore) GetGUIDs(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.snapshots)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshots directory: %w", err)
	}

	var guids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		guids = append(guids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(guids)
	return guids, nil
}

// Move relocates the history of oldGUID onto newGUID, merging with any existing history
func (s *LocalStore) Move(ctx context.Context, oldGUID, newGUID string) (int, error) {
	if oldGUID == newGUID {
		return 0, nil
	}

	// Lock in a stable order
	first, second := oldGUID, newGUID
	if second < first {
		first, second = second, first
	}
	unlockFirst := s.lock(first)
	defer unlockFirst()
	unlockSecond := s.lock(second)
	defer unlockSecond()

	moving, err := s.read(oldGUID)
	if err != nil {
		return 0, err
	}
	if len(moving) == 0 {
		return 0, nil
	}

	existing, err := s.read(newGUID)
	if err != nil {
		return 0, err
	}

	merged := append(existing, moving...)
	sortNewestFirst(merged)
	if err := s.write(newGUID, merged); err != nil {
		return 0, err
	}
	if err := s.writer.Remove(s.path(oldGUID)); err != nil {
		return 0, fmt.Errorf("failed to remove %s: %w", oldGUID, err)
	}

	return len(moving), nil
}

// GC drops unknown GUIDs and trims known ones to keep snapshots
func (s *LocalStore) GC(ctx context.Context, known []string, keep int) (int, error) {
	guids, err := s.GetGUIDs(ctx)
	if err != nil {
		return 0, err
	}

	live := knownSet(known)
	removed := 0
	for _, guid := range guids {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if _, ok := live[guid]; !ok {
			n, err := s.trim(guid, 0)
			if err != nil {
				return removed, err
			}
			removed += n
			continue
		}
		if keep > 0 {
			n, err := s.trim(guid, keep)
			if err != nil {
				return removed, err
			}
			removed += n
		}
	}

	if _, err := s.writer.CleanupBackups(0, 1); err != nil {
		return removed, fmt.Errorf("failed to clean backups: %w", err)
	}
	return removed, nil
}

// CleanCache keeps only the latest snapshot of every GUID
func (s *LocalStore) CleanCache(ctx context.Context) (int, error) {
	guids, err := s.GetGUIDs(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, guid := range guids {
		n, err := s.trim(guid, 1)
		if err != nil {
			return removed, err
		}
		removed += n
	}
	return removed, nil
}

// RollbackCache deletes every snapshot newer than timestamp
func (s *LocalStore) RollbackCache(ctx context.Context, timestamp float64) (int, error) {
	guids, err := s.GetGUIDs(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, guid := range guids {
		n, err := s.rewrite(guid, func(history []types.Snapshot) []types.Snapshot {
			kept := history[:0]
			for _, snapshot := range history {
				if snapshot.Timestamp <= timestamp {
					kept = append(kept, snapshot)
				}
			}
			return kept
		})
		if err != nil {
			return removed, err
		}
		removed += n
	}
	return removed, nil
}

// Close is a no-op; every write is flushed immediately
func (s *LocalStore) Close() error {
	return nil
}

// trim keeps the newest keep snapshots of guid; keep 0 deletes the history
func (s *LocalStore) trim(guid string, keep int) (int, error) {
	return s.rewrite(guid, func(history []types.Snapshot) []types.Snapshot {
		if len(history) > keep {
			return history[:keep]
		}
		return history
	})
}

func (s *LocalStore) rewrite(guid string, fn func([]types.Snapshot) []types.Snapshot) (int, error) {
	unlock := s.lock(guid)
	defer unlock()

	history, err := s.read(guid)
	if err != nil {
		return 0, err
	}
	before := len(history)
	history = fn(history)
	removed := before - len(history)
	if removed == 0 {
		return 0, nil
	}
	if len(history) == 0 {
		return removed, s.writer.Remove(s.path(guid))
	}
	return removed, s.write(guid, history)
}

func (s *LocalStore) path(guid string) string {
	return filepath.Join(s.snapshots, sanitizeFilename(guid)+".json")
}

func (s *LocalStore) read(guid string) ([]types.Snapshot, error) {
	data, err := s.writer.ReadFile(s.path(guid))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read history of %s: %w", guid, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var records []record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to decode history of %s: %w", guid, err)
	}
	history := make([]types.Snapshot, len(records))
	for i, r := range records {
		snapshot, err := r.snapshot()
		if err != nil {
			return nil, fmt.Errorf("failed to decode history of %s: %w", guid, err)
		}
		history[i] = snapshot
	}
	return history, nil
}

func (s *LocalStore) write(guid string, history []types.Snapshot) error {
	records := make([]record, len(history))
	for i, snapshot := range history {
		records[i] = newRecord(snapshot)
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return s.writer.WriteFile(s.path(guid), data, 0o644)
}

// record is the on-disk form of a snapshot. JSON strings must be valid UTF-8,
// so binary data is stored base64 encoded and flagged in Encoding.
type record struct {
	Data      string  `json:"data"`
	Encoding  string  `json:"encoding,omitempty"`
	Timestamp float64 `json:"timestamp"`
	Tries     int     `json:"tries"`
	ETag      string  `json:"etag"`
	MimeType  string  `json:"mime_type"`
}

const encodingBase64 = "base64"

func newRecord(snapshot types.Snapshot) record {
	r := record{
		Data:      snapshot.Data,
		Timestamp: snapshot.Timestamp,
		Tries:     snapshot.Tries,
		ETag:      snapshot.ETag,
		MimeType:  snapshot.MimeType,
	}
	if !utf8.ValidString(snapshot.Data) {
		r.Data = base64.StdEncoding.EncodeToString([]byte(snapshot.Data))
		r.Encoding = encodingBase64
	}
	return r
}

func (r record) snapshot() (types.Snapshot, error) {
	snapshot := types.Snapshot{
		Data:      r.Data,
		Timestamp: r.Timestamp,
		Tries:     r.Tries,
		ETag:      r.ETag,
		MimeType:  r.MimeType,
	}
	switch r.Encoding {
	case "":
	case encodingBase64:
		data, err := base64.StdEncoding.DecodeString(r.Data)
		if err != nil {
			return types.Snapshot{}, fmt.Errorf("invalid base64 data: %w", err)
		}
		snapshot.Data = string(data)
	default:
		return types.Snapshot{}, fmt.Errorf("unknown data encoding %q", r.Encoding)
	}
	return snapshot, nil
}

// lock serializes access to one GUID and returns the unlock function
func (s *LocalStore) lock(guid string) func() {
	s.mu.Lock()
	l, ok := s.locks[guid]
	if !ok {
		l = &sync.Mutex{}
		s.locks[guid] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// sanitizeFilename removes invalid characters from filenames
func sanitizeFilename(name string) string {
	invalid := []string{"/", "\\", ":", "*", "?", "\"", "<", ">", "|", " "}
	result := name
	for _, char := range invalid {
		result = strings.ReplaceAll(result, char, "-")
	}
	return result
}
