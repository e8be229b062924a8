package persist

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// --------------------------------------------------------------------------
// Write-Ahead Command Log
// --------------------------------------------------------------------------

// WALEntry is one replayable record: the logical timestamp at which the
// command originally executed and the command text
// (`<command> <database> <args...>`).
type WALEntry struct {
	Timestamp time.Time
	Command   string
}

// WAL is the append-only log of successful mutating commands since the last
// snapshot. Each record is one line, `<unix_ts>\t<command text>\n`. The file
// exists only between snapshots: it is removed after a successful replay and
// after a clean snapshot-on-shutdown.
//
// Thread-safety: all methods are safe for concurrent use.
type WAL struct {
	path string
	mu   sync.Mutex
	file *os.File
}

// NewWAL creates a handle for the log at path. The file itself is created
// lazily on the first Append.
func NewWAL(path string) *WAL {
	return &WAL{path: path}
}

// Path returns the location of the log file.
func (w *WAL) Path() string { return w.path }

// Append writes one record and syncs it to stable storage before returning,
// so a crash between two appends loses at most the command still in flight.
func (w *WAL) Append(at time.Time, command string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		file, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open command log %s: %w", w.path, err)
		}
		w.file = file
	}

	if _, err := fmt.Fprintf(w.file, "%d\t%s\n", at.Unix(), command); err != nil {
		return fmt.Errorf("failed to append to command log: %w", err)
	}
	return w.file.Sync()
}

// Load reads all records from the log. A missing file yields no entries and
// no error. Lines that do not parse are skipped: the only way they occur is
// a write torn by a crash, and replay must stay resilient to that.
func (w *WAL) Load() ([]WALEntry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	file, err := os.Open(w.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open command log %s: %w", w.path, err)
	}
	defer file.Close()

	var entries []WALEntry
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		tsText, command, ok := strings.Cut(line, "\t")
		if !ok || command == "" {
			continue
		}
		ts, err := strconv.ParseInt(tsText, 10, 64)
		if err != nil {
			continue
		}

		entries = append(entries, WALEntry{
			Timestamp: time.Unix(ts, 0),
			Command:   command,
		})
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("failed to read command log: %w", err)
	}
	return entries, nil
}

// Remove closes and deletes the log file. Removing an absent log is a no-op.
func (w *WAL) Remove() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		w.file.Close()
		w.file = nil
	}

	err := os.Remove(w.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove command log %s: %w", w.path, err)
	}
	return nil
}

// Close closes the underlying file if open.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
