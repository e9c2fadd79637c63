package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/yairfalse/vahti/pkg/types"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	guid      TEXT    NOT NULL,
	timestamp REAL    NOT NULL,
	data      TEXT    NOT NULL,
	tries     INTEGER NOT NULL DEFAULT 0,
	etag      TEXT    NOT NULL DEFAULT '',
	mime_type TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_snapshots_guid_ts ON snapshots (guid, timestamp DESC, id DESC);
`

// SQLiteStore keeps snapshots in a single SQLite database
type SQLiteStore struct {
	db     *sql.DB
	config Config

	mu      sync.Mutex
	session map[string][]int64 // row ids written by this instance, per GUID
}

// NewSQLiteStore opens (and creates if needed) the database at config.Path.
// ":memory:" opens a private in-memory database.
func NewSQLiteStore(config Config) (*SQLiteStore, error) {
	dsn := config.Path
	if dsn != ":memory:" {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(10000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serializes writers and keeps ":memory:" databases shared
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:      db,
		config:  config,
		session: make(map[string][]int64),
	}, nil
}

const selectSnapshot = `SELECT data, timestamp, tries, etag, mime_type FROM snapshots`

// Load returns the latest snapshot for guid
func (s *SQLiteStore) Load(ctx context.Context, guid string) (types.Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		selectSnapshot+` WHERE guid = ? ORDER BY timestamp DESC, id DESC LIMIT 1`, guid)

	snapshot, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.EmptySnapshot(), nil
	}
	if err != nil {
		return types.EmptySnapshot(), fmt.Errorf("failed to load snapshot of %s: %w", guid, err)
	}
	return snapshot, nil
}

// Save inserts snapshot and trims the history to MaxSnapshots
func (s *SQLiteStore) Save(ctx context.Context, guid string, snapshot types.Snapshot) error {
	if err := snapshot.Validate(); err != nil {
		return fmt.Errorf("invalid snapshot: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (guid, timestamp, data, tries, etag, mime_type) VALUES (?, ?, ?, ?, ?, ?)`,
		guid, snapshot.Timestamp, snapshot.Data, snapshot.Tries, snapshot.ETag, snapshot.MimeType)
	if err != nil {
		return fmt.Errorf("failed to save snapshot of %s: %w", guid, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}

	if s.config.MaxSnapshots > 0 {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM snapshots WHERE guid = ? AND id NOT IN (
				SELECT id FROM snapshots WHERE guid = ? ORDER BY timestamp DESC, id DESC LIMIT ?
			)`, guid, guid, s.config.MaxSnapshots); err != nil {
			return fmt.Errorf("failed to trim history of %s: %w", guid, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot of %s: %w", guid, err)
	}

	s.mu.Lock()
	s.session[guid] = append(s.session[guid], id)
	s.mu.Unlock()
	return nil
}

// DeleteLatest removes the newest snapshot of guid
func (s *SQLiteStore) DeleteLatest(ctx context.Context, guid string, temporary bool) (bool, error) {
	if temporary {
		s.mu.Lock()
		ids := s.session[guid]
		var id int64
		if len(ids) > 0 {
			id = ids[len(ids)-1]
			s.session[guid] = ids[:len(ids)-1]
		}
		s.mu.Unlock()
		if id == 0 {
			return false, nil
		}
		return s.deleteRows(ctx, `DELETE FROM snapshots WHERE id = ?`, id)
	}

	return s.deleteRows(ctx, `
		DELETE FROM snapshots WHERE id = (
			SELECT id FROM snapshots WHERE guid = ? ORDER BY timestamp DESC, id DESC LIMIT 1
		)`, guid)
}

// GetHistorySnapshots returns up to count snapshots of guid, most recent first
func (s *SQLiteStore) GetHistorySnapshots(ctx context.Context, guid string, count int) ([]types.Snapshot, error) {
	query := selectSnapshot + ` WHERE guid = ? ORDER BY timestamp DESC, id DESC`
	args := []interface{}{guid}
	if count > 0 {
		query += ` LIMIT ?`
		args = append(args, count)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history of %s: %w", guid, err)
	}
	defer rows.Close()

	var history []types.Snapshot
	for rows.Next() {
		snapshot, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		history = append(history, snapshot)
	}
	return history, rows.Err()
}

// GetGUIDs lists every GUID with at least one snapshot
func (s *SQLiteStore) GetGUIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT guid FROM snapshots ORDER BY guid`)
	if err != nil {
		return nil, fmt.Errorf("failed to list guids: %w", err)
	}
	defer rows.Close()

	var guids []string
	for rows.Next() {
		var guid string
		if err := rows.Scan(&guid); err != nil {
			return nil, err
		}
		guids = append(guids, guid)
	}
	return guids, rows.Err()
}

// Move relocates the history of oldGUID onto newGUID
func (s *SQLiteStore) Move(ctx context.Context, oldGUID, newGUID string) (int, error) {
	if oldGUID == newGUID {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `UPDATE snapshots SET guid = ? WHERE guid = ?`, newGUID, oldGUID)
	if err != nil {
		return 0, fmt.Errorf("failed to move %s: %w", oldGUID, err)
	}
	n, err := res.RowsAffected()

	s.mu.Lock()
	if ids, ok := s.session[oldGUID]; ok {
		s.session[newGUID] = append(s.session[newGUID], ids...)
		delete(s.session, oldGUID)
	}
	s.mu.Unlock()
	return int(n), err
}

// GC drops unknown GUIDs and trims known ones to keep snapshots
func (s *SQLiteStore) GC(ctx context.Context, known []string, keep int) (int, error) {
	guids, err := s.GetGUIDs(ctx)
	if err != nil {
		return 0, err
	}

	live := knownSet(known)
	var stale []interface{}
	for _, guid := range guids {
		if _, ok := live[guid]; !ok {
			stale = append(stale, guid)
		}
	}

	removed := 0
	if len(stale) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(stale)), ",")
		res, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE guid IN (`+placeholders+`)`, stale...)
		if err != nil {
			return 0, fmt.Errorf("failed to drop unknown guids: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += int(n)
	}

	if keep > 0 {
		n, err := s.keepNewest(ctx, keep)
		if err != nil {
			return removed, err
		}
		removed += n
	}

	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		return removed, fmt.Errorf("failed to vacuum: %w", err)
	}
	return removed, nil
}

// CleanCache keeps only the latest snapshot of every GUID
func (s *SQLiteStore) CleanCache(ctx context.Context) (int, error) {
	return s.keepNewest(ctx, 1)
}

// RollbackCache deletes every snapshot newer than timestamp
func (s *SQLiteStore) RollbackCache(ctx context.Context, timestamp float64) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE timestamp > ?`, timestamp)
	if err != nil {
		return 0, fmt.Errorf("failed to roll back: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) keepNewest(ctx context.Context, keep int) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM snapshots WHERE id IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (PARTITION BY guid ORDER BY timestamp DESC, id DESC) AS rn
				FROM snapshots
			) WHERE rn > ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to trim history: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLiteStore) deleteRows(ctx context.Context, query string, args ...interface{}) (bool, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to delete snapshot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSnapshot(row rowScanner) (types.Snapshot, error) {
	var snapshot types.Snapshot
	err := row.Scan(&snapshot.Data, &snapshot.Timestamp, &snapshot.Tries, &snapshot.ETag, &snapshot.MimeType)
	return snapshot, err
}
