package custody

import "time"

// OverwriteArtifact replaces stored bytes without touching the record.
func (v *MemoryVault) OverwriteArtifact(ref string, content []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.artifacts[ref] = content
}

// DropArtifact removes stored bytes, leaving the record dangling.
func (v *MemoryVault) DropArtifact(ref string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.artifacts, ref)
}

// PutRecord stores a record as-is.
func (v *MemoryVault) PutRecord(rec Record) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.records[rec.ID] = rec
}

func SetClock(v *Verifier, now func() time.Time) {
	v.now = now
}
