package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKey is a stable PostgreSQL advisory lock key used to serialise
// concurrent Append calls. The value is arbitrary but must be consistent
// across all ledger processes sharing the database.
const advisoryLockKey = int64(7_340_211_905)

const entryColumns = `idx, timestamp, actor_id, actor_role, action, resource, details, prev_hash, hash`

// PostgresLedger persists the audit chain to a PostgreSQL database.
// It implements the Ledger interface.
type PostgresLedger struct {
	hooks
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresLedger creates a PostgresLedger backed by the given connection pool.
// The audit_ledger table is created by cmd/migrate.
func NewPostgresLedger(pool *pgxpool.Pool, logger *zap.Logger) *PostgresLedger {
	return &PostgresLedger{pool: pool, logger: logger}
}

// Append implements Ledger.
// It acquires a PostgreSQL advisory lock, reads the chain tail, computes the
// new entry hash, and inserts it, all within a single transaction.
func (l *PostgresLedger) Append(ctx context.Context, actor Actor, action, resource string, details map[string]any) (*Entry, error) {
	d, err := newDraft(actor, action, resource, details)
	if err != nil {
		return nil, err
	}
	detailsJSON, err := encodeDetails(d.details)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDetails, err)
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// The lock is released when the transaction commits or rolls back.
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	index, prevHash := uint64(0), GenesisPrevHash
	var tailIdx int64
	var tailHash string
	err = tx.QueryRow(ctx,
		"SELECT idx, hash FROM audit_ledger ORDER BY idx DESC LIMIT 1",
	).Scan(&tailIdx, &tailHash)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("read ledger tail: %w", err)
	default:
		index, prevHash = uint64(tailIdx)+1, tailHash
	}

	entry, err := d.seal(index, prevHash)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO audit_ledger (`+entryColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		int64(entry.Index), entry.Timestamp, entry.ActorID, entry.ActorRole,
		entry.Action, entry.Resource, string(detailsJSON),
		entry.PrevHash, entry.Hash,
	); err != nil {
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit ledger tx: %w", err)
	}

	l.logger.Debug("ledger entry appended",
		zap.Uint64("index", entry.Index),
		zap.String("action", entry.Action),
		zap.String("resource", entry.Resource),
	)
	l.notify(ctx, entry)
	return &entry, nil
}

// ReadAll implements Ledger.
func (l *PostgresLedger) ReadAll(ctx context.Context, page Page) ([]Entry, error) {
	var limit any
	if page.Limit > 0 {
		limit = page.Limit
	}
	offset := page.Offset
	if offset < 0 {
		offset = 0
	}
	rows, err := l.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM audit_ledger ORDER BY idx DESC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		e, err := scanPgEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Get implements Ledger.
func (l *PostgresLedger) Get(ctx context.Context, index uint64) (*Entry, error) {
	e, err := scanPgEntry(l.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM audit_ledger WHERE idx = $1`, int64(index),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger entry %d: %w", index, err)
	}
	return &e, nil
}

// Len implements Ledger.
func (l *PostgresLedger) Len(ctx context.Context) (int, error) {
	var n int
	if err := l.pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_ledger").Scan(&n); err != nil {
		return 0, fmt.Errorf("count ledger entries: %w", err)
	}
	return n, nil
}

// Root implements Ledger.
func (l *PostgresLedger) Root(ctx context.Context) (string, error) {
	var hash string
	err := l.pool.QueryRow(ctx,
		"SELECT hash FROM audit_ledger ORDER BY idx DESC LIMIT 1",
	).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return GenesisPrevHash, nil
	}
	if err != nil {
		return "", fmt.Errorf("get ledger root: %w", err)
	}
	return hash, nil
}

// Verify implements Ledger. It streams all rows ordered by idx and stops at
// the first break. O(n) in ledger length.
func (l *PostgresLedger) Verify(ctx context.Context) (*Verification, error) {
	length, err := l.Len(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := l.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM audit_ledger ORDER BY idx ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	w := newWalker()
	for rows.Next() {
		e, err := scanPgEntry(rows)
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

func scanPgEntry(row pgx.Row) (Entry, error) {
	var (
		e       Entry
		idx     int64
		details []byte
	)
	if err := row.Scan(
		&idx, &e.Timestamp, &e.ActorID, &e.ActorRole,
		&e.Action, &e.Resource, &details, &e.PrevHash, &e.Hash,
	); err != nil {
		return Entry{}, err
	}
	return finishScan(e, idx, details)
}
