package custody

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

// PostgresVault keeps artifacts and custody records in PostgreSQL. The
// custody_records and evidence_artifacts tables are created by cmd/migrate.
type PostgresVault struct {
	db *pgxpool.Pool
}

// NewPostgresVault creates a PostgresVault backed by the given pool.
func NewPostgresVault(db *pgxpool.Pool) *PostgresVault {
	return &PostgresVault{db: db}
}

// Put implements Vault. The artifact and its record are written in one
// transaction.
func (v *PostgresVault) Put(ctx context.Context, rec *Record, content []byte) error {
	id, err := uuid.Parse(rec.ID)
	if err != nil {
		return fmt.Errorf("parse record id: %w", err)
	}

	tx, err := v.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`INSERT INTO evidence_artifacts (ref, content, stored_at) VALUES ($1, $2, $3)`,
		rec.ArtifactRef, content, rec.RecordedAt,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrArtifactExists
		}
		return fmt.Errorf("insert artifact: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO custody_records (id, artifact_ref, algorithm, stored_digest, recorded_at, recorded_by)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, rec.ArtifactRef, string(rec.Algorithm), rec.StoredDigest, rec.RecordedAt, rec.RecordedBy,
	); err != nil {
		return fmt.Errorf("insert custody record: %w", err)
	}
	return tx.Commit(ctx)
}

// Record implements RecordSource.
func (v *PostgresVault) Record(ctx context.Context, id string) (*Record, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrRecordNotFound
	}

	var (
		rec Record
		alg string
	)
	err = v.db.QueryRow(ctx, `
		SELECT id, artifact_ref, algorithm, stored_digest, recorded_at, recorded_by
		FROM custody_records WHERE id = $1`, uid,
	).Scan(&uid, &rec.ArtifactRef, &alg, &rec.StoredDigest, &rec.RecordedAt, &rec.RecordedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get custody record: %w", err)
	}
	rec.ID = uid.String()
	rec.Algorithm = Algorithm(alg)
	rec.RecordedAt = rec.RecordedAt.UTC()
	return &rec, nil
}

// Content implements ContentSource.
func (v *PostgresVault) Content(ctx context.Context, ref string) ([]byte, error) {
	var content []byte
	err := v.db.QueryRow(ctx,
		`SELECT content FROM evidence_artifacts WHERE ref = $1`, ref,
	).Scan(&content)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	return content, nil
}
