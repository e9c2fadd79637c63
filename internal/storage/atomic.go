package storage

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AtomicWriter provides atomic file operations with backup/recovery
type AtomicWriter struct {
	locks     map[string]*sync.RWMutex // per-file locks
	locksMu   sync.Mutex               // protects the locks map
	backupDir string
}

// NewAtomicWriter creates a new atomic writer. An empty backupDir disables backups.
func NewAtomicWriter(backupDir string) *AtomicWriter {
	return &AtomicWriter{
		locks:     make(map[string]*sync.RWMutex),
		backupDir: backupDir,
	}
}

// WriteFile writes data to a file atomically with backup
func (w *AtomicWriter) WriteFile(filename string, data []byte, perm os.FileMode) error {
	fileLock := w.getFileLock(filename)
	fileLock.Lock()
	defer fileLock.Unlock()

	return w.writeLocked(filename, data, perm)
}

func (w *AtomicWriter) writeLocked(filename string, data []byte, perm os.FileMode) error {
	if err := w.createBackup(filename); err != nil {
		return fmt.Errorf("failed to create backup: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempFile := filename + ".tmp." + uuid.NewString()

	if err := os.WriteFile(tempFile, data, perm); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := verifyFileIntegrity(tempFile, data); err != nil {
		os.Remove(tempFile)
		return err
	}

	if err := os.Rename(tempFile, filename); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// ReadFile reads a file, falling back to the newest backup when it is missing or empty.
// A missing file without backup yields an error satisfying os.IsNotExist.
func (w *AtomicWriter) ReadFile(filename string) ([]byte, error) {
	fileLock := w.getFileLock(filename)
	fileLock.Lock()
	defer fileLock.Unlock()

	data, err := os.ReadFile(filename)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil && len(data) > 0 {
		return data, nil
	}

	recovered, recErr := w.recoverFromBackup(filename)
	if recErr != nil {
		if err != nil {
			return nil, err
		}
		return data, nil
	}
	return recovered, nil
}

// Remove deletes a file and its backups
func (w *AtomicWriter) Remove(filename string) error {
	fileLock := w.getFileLock(filename)
	fileLock.Lock()
	defer fileLock.Unlock()

	if err := os.Remove(filename); err != nil && !os.IsNotExist(err) {
		return err
	}
	for _, backup := range w.backups(filename) {
		os.Remove(backup)
	}
	return nil
}

// createBackup copies the existing file into the backup directory
func (w *AtomicWriter) createBackup(filename string) error {
	if w.backupDir == "" {
		return nil
	}
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return nil
	}

	if err := os.MkdirAll(w.backupDir, 0o755); err != nil {
		return err
	}

	backupName := fmt.Sprintf("%s.%d.backup", filepath.Base(filename), time.Now().UnixNano())
	return copyFile(filename, filepath.Join(w.backupDir, backupName))
}

// backups lists the backups of filename, newest first
func (w *AtomicWriter) backups(filename string) []string {
	if w.backupDir == "" {
		return nil
	}
	matches, err := filepath.Glob(filepath.Join(w.backupDir, filepath.Base(filename)+".*.backup"))
	if err != nil {
		return nil
	}
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	return matches
}

// recoverFromBackup restores a file from its most recent backup
func (w *AtomicWriter) recoverFromBackup(filename string) ([]byte, error) {
	backups := w.backups(filename)
	if len(backups) == 0 {
		return nil, fmt.Errorf("no backup found for %s", filename)
	}

	data, err := os.ReadFile(backups[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read backup: %w", err)
	}

	if err := w.writeLocked(filename, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to restore backup: %w", err)
	}

	return data, nil
}

// CleanupBackups keeps the newest maxCount backups per file and drops those older than maxAge
func (w *AtomicWriter) CleanupBackups(maxAge time.Duration, maxCount int) (int, error) {
	if w.backupDir == "" {
		return 0, nil
	}

	entries, err := os.ReadDir(w.backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	// filename.<nanos>.backup grouped by filename
	groups := make(map[string][]string)
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || !strings.HasSuffix(name, ".backup") {
			continue
		}
		stem := strings.TrimSuffix(name, ".backup")
		dot := strings.LastIndex(stem, ".")
		if dot <= 0 {
			continue
		}
		groups[stem[:dot]] = append(groups[stem[:dot]], name)
	}

	removed := 0
	now := time.Now()
	for _, names := range groups {
		sort.Sort(sort.Reverse(sort.StringSlice(names)))
		for i, name := range names {
			path := filepath.Join(w.backupDir, name)
			info, err := os.Stat(path)
			if err != nil {
				continue
			}
			tooOld := maxAge > 0 && now.Sub(info.ModTime()) > maxAge
			tooMany := maxCount > 0 && i >= maxCount
			if !tooOld && !tooMany {
				continue
			}
			if err := os.Remove(path); err != nil {
				return removed, fmt.Errorf("failed to remove backup %s: %w", path, err)
			}
			removed++
		}
	}

	return removed, nil
}

// getFileLock gets or creates a lock for a specific file
func (w *AtomicWriter) getFileLock(filename string) *sync.RWMutex {
	w.locksMu.Lock()
	defer w.locksMu.Unlock()

	if lock, exists := w.locks[filename]; exists {
		return lock
	}

	lock := &sync.RWMutex{}
	w.locks[filename] = lock
	return lock
}

// verifyFileIntegrity verifies that written data matches expected data
func verifyFileIntegrity(filename string, expectedData []byte) error {
	actualData, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	if sha256.Sum256(expectedData) != sha256.Sum256(actualData) {
		return fmt.Errorf("file integrity check failed: hash mismatch")
	}

	return nil
}

// copyFile copies a file from src to dst
func copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	dstFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer dstFile.Close()

	_, err = io.Copy(dstFile, srcFile)
	return err
}
