package ledger

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// maxLineSize bounds a single JSON Lines record on replay.
const maxLineSize = 4 << 20

// appendFile is the part of *os.File the ledger uses.
type appendFile interface {
	io.ReadWriteSeeker
	Sync() error
	Truncate(size int64) error
	Stat() (os.FileInfo, error)
	Close() error
}

// FileLedger persists the chain as an append-only JSON Lines file, one entry
// per line, and keeps a replayed copy in memory for reads.
//
// A line that cannot be decoded stops the replay. The ledger then reports a
// BROKEN_LINK at that position from Verify and refuses further appends with
// ErrStoreDamaged; it never rewrites the file. A failed write is cut back
// off the end of the file; if that fails too the ledger is marked damaged.
type FileLedger struct {
	hooks
	mu        sync.RWMutex
	file      appendFile
	chain     chain
	damagedAt *uint64
	logger    *zap.Logger
}

// OpenFileLedger opens (or creates) the ledger file at path and replays it.
func OpenFileLedger(path string, logger *zap.Logger) (*FileLedger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open ledger file: %w", err)
	}
	l := &FileLedger{file: f, logger: logger}
	if err := l.replay(); err != nil {
		f.Close()
		return nil, err
	}
	if l.damagedAt != nil {
		logger.Warn("ledger file contains an undecodable record",
			zap.String("path", path),
			zap.Uint64("position", *l.damagedAt),
		)
	}
	return l, nil
}

func (l *FileLedger) replay() error {
	if _, err := l.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek ledger file: %w", err)
	}
	sc := bufio.NewScanner(l.file)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		e, err := decodeEntry(line)
		if err != nil {
			pos := uint64(len(l.chain.entries))
			l.damagedAt = &pos
			return nil
		}
		l.chain.entries = append(l.chain.entries, e)
	}
	if err := sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			pos := uint64(len(l.chain.entries))
			l.damagedAt = &pos
			return nil
		}
		return fmt.Errorf("read ledger file: %w", err)
	}
	return nil
}

func decodeEntry(line []byte) (Entry, error) {
	var e Entry
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	if err := dec.Decode(&e); err != nil {
		return Entry{}, err
	}
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Timestamp = e.Timestamp.UTC()
	return e, nil
}

// Close closes the underlying file.
func (l *FileLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// Append implements Ledger. The entry becomes visible to readers only after
// its line has been written and synced.
func (l *FileLedger) Append(ctx context.Context, actor Actor, action, resource string, details map[string]any) (*Entry, error) {
	d, err := newDraft(actor, action, resource, details)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	if l.damagedAt != nil {
		l.mu.Unlock()
		return nil, ErrStoreDamaged
	}
	index, prevHash := l.chain.tip()
	entry, err := d.seal(index, prevHash)
	if err != nil {
		l.mu.Unlock()
		return nil, err
	}
	line, err := canonicalJSON(entry)
	if err != nil {
		l.mu.Unlock()
		return nil, fmt.Errorf("encode ledger entry: %w", err)
	}
	if err := l.writeLine(append(line, '\n')); err != nil {
		l.mu.Unlock()
		return nil, err
	}
	l.chain.entries = append(l.chain.entries, entry)
	l.mu.Unlock()

	l.logger.Debug("ledger entry appended",
		zap.Uint64("index", entry.Index),
		zap.String("action", entry.Action),
	)
	l.notify(ctx, entry)
	out := entry.clone()
	return &out, nil
}

// writeLine appends line and syncs it. On failure the file is truncated back
// to its previous size so the next append cannot fork the chain. Callers
// hold l.mu.
func (l *FileLedger) writeLine(line []byte) error {
	info, err := l.file.Stat()
	if err != nil {
		return fmt.Errorf("stat ledger file: %w", err)
	}
	offset := info.Size()

	if _, err = l.file.Write(line); err != nil {
		err = fmt.Errorf("write ledger entry: %w", err)
	} else if err = l.file.Sync(); err != nil {
		err = fmt.Errorf("sync ledger file: %w", err)
	}
	if err == nil {
		return nil
	}

	if rerr := l.rollback(offset); rerr != nil {
		pos := uint64(len(l.chain.entries))
		l.damagedAt = &pos
		l.logger.Error("ledger file left in unknown state, appends disabled",
			zap.Int64("offset", offset),
			zap.NamedError("write_error", err),
			zap.Error(rerr),
		)
	}
	return err
}

func (l *FileLedger) rollback(offset int64) error {
	if err := l.file.Truncate(offset); err != nil {
		return fmt.Errorf("truncate ledger file: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync ledger file: %w", err)
	}
	return nil
}

// ReadAll implements Ledger.
func (l *FileLedger) ReadAll(_ context.Context, page Page) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chain.readAll(page), nil
}

// Get implements Ledger.
func (l *FileLedger) Get(_ context.Context, index uint64) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chain.get(index)
}

// Len implements Ledger. An undecodable record is not counted.
func (l *FileLedger) Len(_ context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.chain.entries), nil
}

// Root implements Ledger.
func (l *FileLedger) Root(_ context.Context) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chain.root(), nil
}

// Verify implements Ledger.
func (l *FileLedger) Verify(_ context.Context) (*Verification, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	w := newWalker()
	for i := range l.chain.entries {
		if !w.visit(&l.chain.entries[i]) {
			break
		}
	}
	length := len(l.chain.entries)
	if l.damagedAt != nil {
		w.damaged()
		length++
	}
	return w.result(length), nil
}
