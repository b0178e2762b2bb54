package ledger_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/policeintel/auditledger/internal/ledger"
	"go.uber.org/zap"
)

func openFile(t *testing.T, path string) *ledger.FileLedger {
	t.Helper()
	l, err := ledger.OpenFileLedger(path, zap.NewNop())
	if err != nil {
		t.Fatalf("OpenFileLedger: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestFileLedger_persistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	l := openFile(t, path)
	mustAppend(t, l, u2, "create_case", "FIR-1", map[string]any{"amount": 1500.75, "note": "<b>seized</b>"})
	mustAppend(t, l, u2, "update_status", "FIR-1", nil)
	last := mustAppend(t, l, u3, "share_case", "FIR-1", map[string]any{"with": []any{"cyber-cell"}})
	l.Close()

	reopened := openFile(t, path)
	n, _ := reopened.Len(ctx)
	if n != 3 {
		t.Fatalf("expected 3 entries after reopen, got %d", n)
	}
	root, _ := reopened.Root(ctx)
	if root != last.Hash {
		t.Errorf("root after reopen: got %q, want %q", root, last.Hash)
	}
	if v := mustVerify(t, reopened); !v.Intact {
		t.Fatalf("reopened chain should be intact: %+v", v)
	}

	next := mustAppend(t, reopened, u2, "close_case", "FIR-1", nil)
	if next.Index != 3 || next.PrevHash != last.Hash {
		t.Errorf("append after reopen did not chain: %+v", next)
	}
}

func TestFileLedger_detectsEditedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	l := openFile(t, path)
	mustAppend(t, l, u2, "create_case", "FIR-1", nil)
	mustAppend(t, l, u2, "update_status", "FIR-1", map[string]any{"status": "OPEN"})
	mustAppend(t, l, u3, "share_case", "FIR-1", nil)
	l.Close()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	edited := bytes.Replace(raw, []byte(`"status":"OPEN"`), []byte(`"status":"CLOSED"`), 1)
	if bytes.Equal(raw, edited) {
		t.Fatal("test setup: details not found in file")
	}
	if err := os.WriteFile(path, edited, 0o640); err != nil {
		t.Fatal(err)
	}

	assertBroken(t, mustVerify(t, openFile(t, path)), 1, ledger.ContentTampered)
}

func TestFileLedger_detectsDeletedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	l := openFile(t, path)
	for i := 0; i < 3; i++ {
		mustAppend(t, l, u2, "update_status", "FIR-1", map[string]any{"step": i})
	}
	l.Close()

	raw, _ := os.ReadFile(path)
	lines := bytes.SplitAfter(raw, []byte("\n"))
	kept := append(append([]byte{}, lines[0]...), lines[2]...)
	if err := os.WriteFile(path, kept, 0o640); err != nil {
		t.Fatal(err)
	}

	assertBroken(t, mustVerify(t, openFile(t, path)), 1, ledger.BrokenLink)
}

func TestFileLedger_undecodableLineBlocksAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	l := openFile(t, path)
	mustAppend(t, l, u2, "create_case", "FIR-1", nil)
	l.Close()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("{not json\n")
	f.Close()

	damaged := openFile(t, path)
	v := mustVerify(t, damaged)
	assertBroken(t, v, 1, ledger.BrokenLink)
	if v.Length != 2 {
		t.Errorf("Length should count the damaged record: got %d", v.Length)
	}

	if _, err := damaged.Append(ctx, u2, "update_status", "FIR-1", nil); !errors.Is(err, ledger.ErrStoreDamaged) {
		t.Errorf("expected ErrStoreDamaged, got %v", err)
	}
}

// faultyFile fails the next failSyncs calls to Sync and, when failTruncate
// is set, every Truncate.
type faultyFile struct {
	ledger.AppendFile
	failSyncs    int
	failTruncate bool
}

func (f *faultyFile) Sync() error {
	if f.failSyncs > 0 {
		f.failSyncs--
		return errors.New("sync: input/output error")
	}
	return f.AppendFile.Sync()
}

func (f *faultyFile) Truncate(size int64) error {
	if f.failTruncate {
		return errors.New("truncate: read-only file system")
	}
	return f.AppendFile.Truncate(size)
}

func TestFileLedger_failedSyncDoesNotFork(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	l := openFile(t, path)
	first := mustAppend(t, l, u2, "create_case", "FIR-1", nil)

	faulty := &faultyFile{failSyncs: 1}
	l.WrapFile(func(f ledger.AppendFile) ledger.AppendFile {
		faulty.AppendFile = f
		return faulty
	})

	if _, err := l.Append(ctx, u2, "update_status", "FIR-1", nil); err == nil {
		t.Fatal("expected append to fail when sync fails")
	}

	next := mustAppend(t, l, u3, "share_case", "FIR-1", nil)
	if next.Index != 1 || next.PrevHash != first.Hash {
		t.Errorf("append after failed sync did not chain from the last good entry: %+v", next)
	}
	l.Close()

	reopened := openFile(t, path)
	v := mustVerify(t, reopened)
	if !v.Intact || v.Length != 2 {
		t.Errorf("reopened chain after failed sync: %+v", v)
	}
}

func TestFileLedger_unrecoverableWriteDisablesAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	l := openFile(t, path)
	mustAppend(t, l, u2, "create_case", "FIR-1", nil)

	l.WrapFile(func(f ledger.AppendFile) ledger.AppendFile {
		return &faultyFile{AppendFile: f, failSyncs: 1, failTruncate: true}
	})

	if _, err := l.Append(ctx, u2, "update_status", "FIR-1", nil); err == nil {
		t.Fatal("expected append to fail when sync fails")
	}
	if _, err := l.Append(ctx, u3, "share_case", "FIR-1", nil); !errors.Is(err, ledger.ErrStoreDamaged) {
		t.Errorf("expected ErrStoreDamaged after a failed rollback, got %v", err)
	}
	if v := mustVerify(t, l); v.Intact {
		t.Errorf("damaged ledger must not verify as intact: %+v", v)
	}
}

func TestOpenFileLedger_createsParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "nested", "audit.jsonl")

	l := openFile(t, path)
	mustAppend(t, l, u2, "create_case", "FIR-1", nil)

	if _, err := os.Stat(path); err != nil {
		t.Errorf("ledger file not created: %v", err)
	}
}
