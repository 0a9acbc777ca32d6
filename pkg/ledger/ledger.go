// Package ledger implements the append-only, resumable key→record store
// used by any node that must persist state across runs: a JSON-Lines log
// on disk, with an in-memory last-writer-by-rev index and compaction.
package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/batchgraph/engine/infrastructure/errors"
	"github.com/batchgraph/engine/infrastructure/metrics"
	"github.com/batchgraph/engine/pkg/entry"
)

const headerVersion = 1

type headerLine struct {
	Version int `json:"__ledger_version__"`
}

// record is the on-disk shape of one ledger line.
type record struct {
	Idx  string                 `json:"idx"`
	Rev  int64                  `json:"rev"`
	Data map[string]interface{} `json:"data"`
}

// Ledger is a named, on-disk append log plus an in-memory index of the
// current live record per idx (last writer by rev wins). Safe for
// concurrent use by a single process; concurrent writers across processes
// to the same path are unsupported (spec: advisory only, not enforced).
type Ledger struct {
	mu      sync.RWMutex
	path    string
	name    string
	file    *os.File
	w       *bufio.Writer
	live    map[string]entry.Entry
	metrics *metrics.Metrics
}

// SetMetrics attaches a Metrics instrument set under the given ledger name,
// and immediately records the entries this ledger resumed from disk as a
// ledger read. Optional; a Ledger with no attached Metrics simply skips
// instrumentation.
func (l *Ledger) SetMetrics(m *metrics.Metrics, name string) {
	l.mu.Lock()
	l.metrics = m
	l.name = name
	count := len(l.live)
	l.mu.Unlock()

	if m != nil {
		m.RecordLedgerRead(name, count)
	}
}

// Open creates or loads a ledger at path. On load it scans the log,
// discarding a trailing partial line (crash safety), and reconstructs the
// live map by last-writer-by-(idx,rev).
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.LedgerIOFailure(path, "open", err)
	}

	live := map[string]entry.Entry{}
	if f, err := os.Open(path); err == nil {
		if err := scanInto(f, live); err != nil {
			f.Close()
			return nil, errors.LedgerIOFailure(path, "scan", err)
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return nil, errors.LedgerIOFailure(path, "open", err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.LedgerIOFailure(path, "open", err)
	}

	return &Ledger{
		path: path,
		file: file,
		w:    bufio.NewWriter(file),
		live: live,
	}, nil
}

// scanInto reads a ledger log, skipping the header line if present and
// discarding a trailing line that fails to parse (a partial write at tail).
func scanInto(f *os.File, live map[string]entry.Entry) error {
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	first := true
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if first {
			first = false
			var h headerLine
			if err := json.Unmarshal(line, &h); err == nil && h.Version != 0 {
				continue
			}
		}
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			// Partial tail write from an interrupted append; discard.
			continue
		}
		applyRecord(live, rec)
	}
	return scanner.Err()
}

func applyRecord(live map[string]entry.Entry, rec record) {
	e := entry.Entry{Idx: rec.Idx, Rev: rec.Rev, Data: rec.Data}
	existing, ok := live[rec.Idx]
	if !ok || e.Rev >= existing.Rev {
		live[rec.Idx] = e
	}
}

// Contains reports whether the ledger has a record for idx, optionally at
// an exact revision.
func (l *Ledger) Contains(idx string, rev *int64) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.live[idx]
	if !ok {
		return false
	}
	if rev != nil {
		return e.Rev == *rev
	}
	return true
}

// Get fetches the latest record for idx.
func (l *Ledger) Get(idx string) (entry.Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.live[idx]
	return e, ok
}

// Append writes entries to the log and updates the in-memory index,
// last-writer-wins by (idx, rev). Any I/O error aborts the whole batch;
// the already-persisted prefix remains valid on reopen.
func (l *Ledger) Append(entries []entry.Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, e := range entries {
		rec := record{Idx: e.Idx, Rev: e.Rev, Data: e.Data}
		line, err := json.Marshal(rec)
		if err != nil {
			return errors.LedgerIOFailure(l.path, "append", err)
		}
		if _, err := l.w.Write(line); err != nil {
			return errors.LedgerIOFailure(l.path, "append", err)
		}
		if err := l.w.WriteByte('\n'); err != nil {
			return errors.LedgerIOFailure(l.path, "append", err)
		}
		applyRecord(l.live, rec)
	}
	if err := l.w.Flush(); err != nil {
		return errors.LedgerIOFailure(l.path, "append", err)
	}
	if err := l.file.Sync(); err != nil {
		return errors.LedgerIOFailure(l.path, "append", err)
	}
	if l.metrics != nil {
		l.metrics.RecordLedgerWrite(l.name, len(entries))
	}
	return nil
}

// Update is a semantic replace: it appends the new generation of each
// entry (same as Append, since the log is append-only and the live index
// already applies last-writer-wins), optionally compacting afterward.
func (l *Ledger) Update(entries []entry.Entry, compact bool) error {
	if err := l.Append(entries); err != nil {
		return err
	}
	if compact {
		return l.Compact()
	}
	return nil
}

// Filter returns all current live records passing predicate.
func (l *Ledger) Filter(predicate func(entry.Entry) bool) []entry.Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]entry.Entry, 0, len(l.live))
	for _, e := range l.live {
		if predicate(e) {
			out = append(out, e)
		}
	}
	return out
}

// All returns every current live record.
func (l *Ledger) All() []entry.Entry {
	return l.Filter(func(entry.Entry) bool { return true })
}

// Compact rewrites the log to contain exactly the current live set,
// writing to a sidecar file and atomically renaming over the original.
func (l *Ledger) Compact() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	sidecar := l.path + ".compact.tmp"
	f, err := os.Create(sidecar)
	if err != nil {
		return errors.LedgerIOFailure(l.path, "compact", err)
	}

	w := bufio.NewWriter(f)
	header, _ := json.Marshal(headerLine{Version: headerVersion})
	if _, err := w.Write(header); err != nil {
		f.Close()
		os.Remove(sidecar)
		return errors.LedgerIOFailure(l.path, "compact", err)
	}
	w.WriteByte('\n')

	for _, e := range l.live {
		rec := record{Idx: e.Idx, Rev: e.Rev, Data: e.Data}
		line, err := json.Marshal(rec)
		if err != nil {
			f.Close()
			os.Remove(sidecar)
			return errors.LedgerIOFailure(l.path, "compact", err)
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(sidecar)
		return errors.LedgerIOFailure(l.path, "compact", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(sidecar)
		return errors.LedgerIOFailure(l.path, "compact", err)
	}
	f.Close()

	if err := l.file.Close(); err != nil {
		return errors.LedgerIOFailure(l.path, "compact", err)
	}
	if err := os.Rename(sidecar, l.path); err != nil {
		return errors.LedgerIOFailure(l.path, "compact", err)
	}

	file, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.LedgerIOFailure(l.path, "compact", err)
	}
	l.file = file
	l.w = bufio.NewWriter(file)
	if l.metrics != nil {
		l.metrics.RecordLedgerCompaction(l.name)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.w.Flush(); err != nil {
		return fmt.Errorf("flush ledger %s: %w", l.path, err)
	}
	return l.file.Close()
}

// Len reports the number of live records.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.live)
}
