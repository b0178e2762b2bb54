//go:build integration

package ledger_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/policeintel/auditledger/internal/ledger"
	"go.uber.org/zap"
)

func setupPostgres(t *testing.T) (*ledger.PostgresLedger, *pgxpool.Pool) {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	db, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		t.Fatalf("connect to postgres: %v", err)
	}
	t.Cleanup(db.Close)
	if err := db.Ping(ctx); err != nil {
		t.Fatalf("ping postgres: %v", err)
	}

	// Clean ledger table for deterministic tests
	if _, err := db.Exec(ctx, "DELETE FROM audit_ledger"); err != nil {
		t.Fatalf("clean audit_ledger (run cmd/migrate first): %v", err)
	}
	return ledger.NewPostgresLedger(db, zap.NewNop()), db
}

func TestPostgresLedger_scenario(t *testing.T) {
	l, db := setupPostgres(t)

	mustAppend(t, l, u2, "create_case", "FIR-1", map[string]any{"title": "Vehicle theft", "value": 250000})
	mustAppend(t, l, u2, "update_status", "FIR-1", map[string]any{"status": "UNDER_INVESTIGATION"})
	mustAppend(t, l, u3, "share_case", "FIR-1", nil)

	all, err := l.ReadAll(ctx, ledger.Page{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].Index != 2 || all[2].Index != 0 {
		t.Fatalf("ReadAll: %+v", all)
	}
	if v := mustVerify(t, l); !v.Intact {
		t.Fatalf("expected intact, got %+v", v)
	}

	if _, err := db.Exec(ctx, `UPDATE audit_ledger SET details = '{"status":"CLOSED"}' WHERE idx = 1`); err != nil {
		t.Fatal(err)
	}
	assertBroken(t, mustVerify(t, l), 1, ledger.ContentTampered)
}

func TestPostgresLedger_concurrentAppends(t *testing.T) {
	l, _ := setupPostgres(t)

	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		go func() {
			_, err := l.Append(ctx, u2, "update_status", "FIR-1", nil)
			errs <- err
		}()
	}
	for i := 0; i < 20; i++ {
		if err := <-errs; err != nil {
			t.Fatal(err)
		}
	}
	if v := mustVerify(t, l); !v.Intact || v.Length != 20 {
		t.Errorf("got %+v", v)
	}
}
