// Package ledger implements the tamper-evident audit ledger.
//
// Every audited action is recorded as an Entry whose Hash covers its own
// fields plus the Hash of the entry before it. The first entry (genesis)
// chains from GenesisPrevHash. Editing, deleting or reordering any entry
// after the fact is detected by Verify, which reports the first offending
// index and whether the link or the content broke.
//
// Implementations of the Ledger interface:
//   - MemoryLedger: in-process, for tests and single-process deployments.
//   - FileLedger: append-only JSON Lines file.
//   - SQLiteLedger: embedded SQLite database.
//   - PostgresLedger: durable, for production use.
//
// All implementations serialise appends (single writer) and hand out
// copies, so a returned Entry can never be used to mutate history.
package ledger

import "context"

// Page selects a window of ReadAll results. Limit 0 means no limit.
type Page struct {
	Limit  int
	Offset int
}

// AppendHook observes entries after they have been published.
type AppendHook func(ctx context.Context, e Entry)

// Ledger is the append-only, hash-chained audit log.
type Ledger interface {
	// Append records an action. action is upper-cased; details may be nil.
	// Caller errors (ErrInvalidActor, ErrInvalidAction, ErrInvalidDetails)
	// are returned before the chain is touched.
	Append(ctx context.Context, actor Actor, action, resource string, details map[string]any) (*Entry, error)

	// ReadAll returns entries newest first.
	ReadAll(ctx context.Context, page Page) ([]Entry, error)

	// Get returns the entry at the given zero-based index, or ErrNotFound.
	Get(ctx context.Context, index uint64) (*Entry, error)

	// Len returns the number of entries.
	Len(ctx context.Context) (int, error)

	// Root returns the hash of the most recent entry, or GenesisPrevHash
	// when the ledger is empty.
	Root(ctx context.Context) (string, error)

	// Verify walks the chain from genesis. Integrity findings are reported
	// in the Verification; the error is reserved for storage failures.
	Verify(ctx context.Context) (*Verification, error)

	// OnAppend registers a hook called after every successful append.
	OnAppend(hook AppendHook)
}
