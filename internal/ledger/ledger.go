// Package ledger implements the durable set store backing the relay queue:
// three flat identifier partitions (queued, inflight, done) plus the failed
// audit log, all files of one record per line. Every operation on every
// partition is serialized behind a single mutex because cross-partition
// transitions must be checked and updated atomically.
package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/relayq/relayq/internal/relay"
)

const failedSeparator = " | "

// Store is a file-backed relay.Ledger. Appends are flushed to stable
// storage before returning; rewrites go through a temp file and an atomic
// rename, so readers observe either the pre- or post-mutation content.
type Store struct {
	mu    sync.Mutex
	dir   string
	files map[relay.Partition]string
}

// New creates the store directory if needed and returns a Store.
func New(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("store directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &Store{
		dir: dir,
		files: map[relay.Partition]string{
			relay.PartitionQueued:   filepath.Join(dir, "queued.txt"),
			relay.PartitionInFlight: filepath.Join(dir, "inflight.txt"),
			relay.PartitionDone:     filepath.Join(dir, "done.txt"),
			relay.PartitionFailed:   filepath.Join(dir, "failed.txt"),
		},
	}, nil
}

// ReadAll returns the partition's identifiers in stored order.
func (s *Store) ReadAll(p relay.Partition) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path, err := s.idPartition(p)
	if err != nil {
		return nil, err
	}
	return readLines(path)
}

// WriteAll replaces the partition's content with ids, in order.
func (s *Store) WriteAll(p relay.Partition, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	path, err := s.idPartition(p)
	if err != nil {
		return err
	}
	return writeLines(path, ids)
}

// Append adds one identifier to the end of the partition.
func (s *Store) Append(p relay.Partition, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	path, err := s.idPartition(p)
	if err != nil {
		return err
	}
	return appendLine(path, id)
}

// Remove deletes the first occurrence of id and reports whether it was found.
func (s *Store) Remove(p relay.Partition, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path, err := s.idPartition(p)
	if err != nil {
		return false, err
	}
	return removeLine(path, id)
}

// Clear empties the partition and returns the number of records removed.
func (s *Store) Clear(p relay.Partition) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path, err := s.idPartition(p)
	if err != nil {
		return 0, err
	}
	lines, err := readLines(path)
	if err != nil {
		return 0, err
	}
	if err := writeLines(path, nil); err != nil {
		return 0, err
	}
	return len(lines), nil
}

// Contains reports whether id is present in the partition.
func (s *Store) Contains(p relay.Partition, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path, err := s.idPartition(p)
	if err != nil {
		return false, err
	}
	lines, err := readLines(path)
	if err != nil {
		return false, err
	}
	for _, line := range lines {
		if line == id {
			return true, nil
		}
	}
	return false, nil
}

// Claim moves id from queued to inflight. The id may already be inflight
// when a job is re-delivered after a restart; claiming is then idempotent.
// A different identifier already in flight (a job parked for manual
// reconciliation) rejects the claim without touching either partition, so
// the parked record is never erased.
func (s *Store) Claim(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inflight, err := readLines(s.files[relay.PartitionInFlight])
	if err != nil {
		return fmt.Errorf("claim %s: %w", id, err)
	}
	for _, cur := range inflight {
		if cur != id {
			return fmt.Errorf("claim %s: %q is already in flight", id, cur)
		}
	}
	if _, err := removeLine(s.files[relay.PartitionQueued], id); err != nil {
		return fmt.Errorf("claim %s: %w", id, err)
	}
	if len(inflight) == 0 {
		if err := appendLine(s.files[relay.PartitionInFlight], id); err != nil {
			return fmt.Errorf("claim %s: %w", id, err)
		}
	}
	return nil
}

// Complete moves id from inflight to done.
func (s *Store) Complete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := appendLine(s.files[relay.PartitionDone], id); err != nil {
		return fmt.Errorf("complete %s: %w", id, err)
	}
	if _, err := removeLine(s.files[relay.PartitionInFlight], id); err != nil {
		return fmt.Errorf("complete %s: %w", id, err)
	}
	return nil
}

// Fail removes id from inflight and appends an audit entry. The job ends up
// untracked and is eligible for resubmission.
func (s *Store) Fail(id string, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := at.UTC().Format(time.RFC3339) + failedSeparator + id + failedSeparator + reason
	if err := appendLine(s.files[relay.PartitionFailed], entry); err != nil {
		return fmt.Errorf("fail %s: %w", id, err)
	}
	if _, err := removeLine(s.files[relay.PartitionInFlight], id); err != nil {
		return fmt.Errorf("fail %s: %w", id, err)
	}
	return nil
}

// ReadFailed returns the audit log in stored order. Malformed lines are
// skipped rather than failing the whole read.
func (s *Store) ReadFailed() ([]relay.FailedEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines, err := readLines(s.files[relay.PartitionFailed])
	if err != nil {
		return nil, err
	}
	entries := make([]relay.FailedEntry, 0, len(lines))
	for _, line := range lines {
		parts := strings.SplitN(line, failedSeparator, 3)
		if len(parts) != 3 {
			continue
		}
		ts, err := time.Parse(time.RFC3339, parts[0])
		if err != nil {
			continue
		}
		entries = append(entries, relay.FailedEntry{Timestamp: ts, ID: parts[1], Reason: parts[2]})
	}
	return entries, nil
}

// ClearFailed empties the audit log and returns the number of entries removed.
func (s *Store) ClearFailed() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.files[relay.PartitionFailed]
	lines, err := readLines(path)
	if err != nil {
		return 0, err
	}
	if err := writeLines(path, nil); err != nil {
		return 0, err
	}
	return len(lines), nil
}

var _ relay.Ledger = (*Store)(nil)

func (s *Store) idPartition(p relay.Partition) (string, error) {
	if p == relay.PartitionFailed {
		return "", fmt.Errorf("partition %s uses the failed-log operations", p)
	}
	path, ok := s.files[p]
	if !ok {
		return "", fmt.Errorf("unknown partition %q", p)
	}
	return path, nil
}

func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		_ = f.Close()
		return fmt.Errorf("append %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

func writeLines(path string, lines []string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())
	for _, line := range lines {
		if _, err := tmp.WriteString(line + "\n"); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("write temp for %s: %w", path, err)
		}
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp for %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

func removeLine(path, id string) (bool, error) {
	lines, err := readLines(path)
	if err != nil {
		return false, err
	}
	out := lines[:0]
	found := false
	for _, line := range lines {
		if !found && line == id {
			found = true
			continue
		}
		out = append(out, line)
	}
	if !found {
		return false, nil
	}
	return true, writeLines(path, out)
}
