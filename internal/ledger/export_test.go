package ledger

import "database/sql"

// MutateStored applies fn to the stored entry at position i without
// recomputing any hash.
func (l *MemoryLedger) MutateStored(i int, fn func(e *Entry)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(&l.chain.entries[i])
}

// RemoveStored drops the stored entry at position i.
func (l *MemoryLedger) RemoveStored(i int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.chain.entries = append(l.chain.entries[:i], l.chain.entries[i+1:]...)
}

// SwapStored exchanges the stored entries at positions i and j.
func (l *MemoryLedger) SwapStored(i, j int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.chain.entries[i], l.chain.entries[j] = l.chain.entries[j], l.chain.entries[i]
}

// DB exposes the underlying database for tampering in tests.
func (l *SQLiteLedger) DB() *sql.DB { return l.db }

// AppendFile exposes the file abstraction so tests can inject I/O faults.
type AppendFile = appendFile

// WrapFile replaces the ledger's file with wrap(current).
func (l *FileLedger) WrapFile(wrap func(AppendFile) AppendFile) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.file = wrap(l.file)
}
