package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audit_ledger (
    idx        INTEGER PRIMARY KEY,
    timestamp  TEXT NOT NULL,
    actor_id   TEXT NOT NULL,
    actor_role TEXT NOT NULL DEFAULT '',
    action     TEXT NOT NULL,
    resource   TEXT NOT NULL DEFAULT '',
    details    TEXT NOT NULL DEFAULT '{}',
    prev_hash  TEXT NOT NULL,
    hash       TEXT NOT NULL
);`

// SQLiteLedger persists the chain in an embedded SQLite database. It keeps
// a single connection open, so ":memory:" databases work for tests.
type SQLiteLedger struct {
	hooks
	mu     sync.Mutex // single writer
	db     *sql.DB
	logger *zap.Logger
}

// OpenSQLiteLedger opens (or creates) a SQLite ledger at path. Pass
// ":memory:" for a throwaway database.
func OpenSQLiteLedger(path string, logger *zap.Logger) (*SQLiteLedger, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating ledger directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening ledger database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating ledger schema: %w", err)
	}
	return &SQLiteLedger{db: db, logger: logger}, nil
}

// Close closes the database.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

// Append implements Ledger.
func (l *SQLiteLedger) Append(ctx context.Context, actor Actor, action, resource string, details map[string]any) (*Entry, error) {
	d, err := newDraft(actor, action, resource, details)
	if err != nil {
		return nil, err
	}
	detailsJSON, err := encodeDetails(d.details)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDetails, err)
	}

	l.mu.Lock()
	entry, err := l.insert(ctx, d, detailsJSON)
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}

	l.logger.Debug("ledger entry appended",
		zap.Uint64("index", entry.Index),
		zap.String("action", entry.Action),
	)
	l.notify(ctx, entry)
	return &entry, nil
}

// insert seals d onto the current tail and commits it. Callers hold l.mu.
func (l *SQLiteLedger) insert(ctx context.Context, d *draft, detailsJSON []byte) (Entry, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	index, prevHash := uint64(0), GenesisPrevHash
	var tailIdx int64
	var tailHash string
	err = tx.QueryRowContext(ctx,
		"SELECT idx, hash FROM audit_ledger ORDER BY idx DESC LIMIT 1",
	).Scan(&tailIdx, &tailHash)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return Entry{}, fmt.Errorf("read ledger tail: %w", err)
	default:
		index, prevHash = uint64(tailIdx)+1, tailHash
	}

	entry, err := d.seal(index, prevHash)
	if err != nil {
		return Entry{}, err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO audit_ledger (`+entryColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(entry.Index), entry.Timestamp.Format(time.RFC3339Nano),
		entry.ActorID, entry.ActorRole, entry.Action, entry.Resource,
		string(detailsJSON), entry.PrevHash, entry.Hash,
	); err != nil {
		return Entry{}, fmt.Errorf("insert ledger entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Entry{}, fmt.Errorf("commit ledger tx: %w", err)
	}
	return entry, nil
}

// ReadAll implements Ledger.
func (l *SQLiteLedger) ReadAll(ctx context.Context, page Page) ([]Entry, error) {
	limit := -1
	if page.Limit > 0 {
		limit = page.Limit
	}
	offset := page.Offset
	if offset < 0 {
		offset = 0
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM audit_ledger ORDER BY idx DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		e, err := scanSQLiteEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Get implements Ledger.
func (l *SQLiteLedger) Get(ctx context.Context, index uint64) (*Entry, error) {
	e, err := scanSQLiteEntry(l.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM audit_ledger WHERE idx = ?`, int64(index),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger entry %d: %w", index, err)
	}
	return &e, nil
}

// Len implements Ledger.
func (l *SQLiteLedger) Len(ctx context.Context) (int, error) {
	var n int
	if err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_ledger").Scan(&n); err != nil {
		return 0, fmt.Errorf("count ledger entries: %w", err)
	}
	return n, nil
}

// Root implements Ledger.
func (l *SQLiteLedger) Root(ctx context.Context) (string, error) {
	var hash string
	err := l.db.QueryRowContext(ctx,
		"SELECT hash FROM audit_ledger ORDER BY idx DESC LIMIT 1",
	).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return GenesisPrevHash, nil
	}
	if err != nil {
		return "", fmt.Errorf("get ledger root: %w", err)
	}
	return hash, nil
}

// Verify implements Ledger.
func (l *SQLiteLedger) Verify(ctx context.Context) (*Verification, error) {
	length, err := l.Len(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM audit_ledger ORDER BY idx ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	w := newWalker()
	for rows.Next() {
		e, err := scanSQLiteEntry(rows)
		if errors.Is(err, errUndecodable) {
			w.damaged()
			break
		}
		if err != nil {
			return nil, err
		}
		if !w.visit(&e) {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger: %w", err)
	}
	return w.result(length), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteEntry(row rowScanner) (Entry, error) {
	var (
		e       Entry
		idx     int64
		ts      string
		details string
	)
	if err := row.Scan(
		&idx, &ts, &e.ActorID, &e.ActorRole,
		&e.Action, &e.Resource, &details, &e.PrevHash, &e.Hash,
	); err != nil {
		return Entry{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: index %d: timestamp: %v", errUndecodable, idx, err)
	}
	e.Timestamp = t
	return finishScan(e, idx, []byte(details))
}
