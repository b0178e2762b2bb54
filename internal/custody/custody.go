// Package custody verifies that fingerprinted evidence artifacts have not
// changed since intake.
//
// An artifact is fingerprinted once, when it enters the evidence vault: its
// digest is stored in a Record and the intake is written to the audit
// ledger. Verify later recomputes the digest over the artifact's current
// bytes and compares it to the stored one. Every outcome, including a
// missing record, is reported as a Result; Verify never fails.
package custody

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrRecordNotFound is returned by a RecordSource for an unknown id.
	ErrRecordNotFound = errors.New("custody: record not found")
	// ErrArtifactNotFound is returned by a ContentSource for an unknown ref.
	ErrArtifactNotFound = errors.New("custody: artifact not found")
	// ErrArtifactExists is returned by Vault.Put when the ref is taken.
	ErrArtifactExists = errors.New("custody: artifact already stored")
	// ErrUnsupportedAlgorithm is returned for an unknown digest algorithm.
	ErrUnsupportedAlgorithm = errors.New("custody: unsupported algorithm")
	// ErrEmptyArtifact is returned by Fingerprint for a missing ref or content.
	ErrEmptyArtifact = errors.New("custody: artifact ref and content are required")
)

// Record is the vault's fingerprint of one artifact.
type Record struct {
	ID           string    `json:"id"`
	ArtifactRef  string    `json:"artifactRef"`
	Algorithm    Algorithm `json:"algorithm"`
	StoredDigest string    `json:"storedDigest"`
	RecordedAt   time.Time `json:"recordedAt"`
	RecordedBy   string    `json:"recordedBy"`
}

// Reason explains why a Result is not verified.
type Reason string

const (
	ReasonRecordNotFound       Reason = "RECORD_NOT_FOUND"
	ReasonArtifactNotFound     Reason = "ARTIFACT_NOT_FOUND"
	ReasonUnsupportedAlgorithm Reason = "UNSUPPORTED_ALGORITHM"
	ReasonDigestMismatch       Reason = "DIGEST_MISMATCH"
	ReasonVaultUnavailable     Reason = "VAULT_UNAVAILABLE"
)

// Result is the outcome of a custody check.
type Result struct {
	RecordID  string    `json:"recordId"`
	Verified  bool      `json:"verified"`
	CheckedAt time.Time `json:"checkedAt"`
	Reference string    `json:"reference"`
	Reason    Reason    `json:"reason,omitempty"`
}

// RecordSource resolves custody records by id.
type RecordSource interface {
	Record(ctx context.Context, id string) (*Record, error)
}

// ContentSource returns the current bytes of an artifact.
type ContentSource interface {
	Content(ctx context.Context, ref string) ([]byte, error)
}

// Vault stores artifacts together with their custody records.
type Vault interface {
	RecordSource
	ContentSource
	// Put stores content under rec.ArtifactRef and saves rec.
	Put(ctx context.Context, rec *Record, content []byte) error
}
