package custody

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/policeintel/auditledger/internal/ledger"
	"go.uber.org/zap"
)

// Ledger actions written by the verifier.
const (
	ActionFingerprinted      = "EVIDENCE_FINGERPRINTED"
	ActionVerified           = "CUSTODY_VERIFIED"
	ActionVerificationFailed = "CUSTODY_VERIFICATION_FAILED"
)

// systemActor is recorded when a check runs without an actor in context.
var systemActor = ledger.Actor{ID: "custody-verifier", Role: "SYSTEM"}

// MetricsRecorder is an optional callback for recording check outcomes.
type MetricsRecorder func(res Result)

// Verifier fingerprints artifacts at intake and checks them later.
type Verifier struct {
	vault     Vault
	ledger    ledger.Ledger
	onMetrics MetricsRecorder
	now       func() time.Time
	logger    *zap.Logger
}

// NewVerifier creates a Verifier over vault.
func NewVerifier(vault Vault, logger *zap.Logger) *Verifier {
	return &Verifier{
		vault:  vault,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// SetLedger makes the verifier record intakes and checks in l.
func (v *Verifier) SetLedger(l ledger.Ledger) {
	v.ledger = l
}

// SetMetricsRecorder configures the metrics callback.
func (v *Verifier) SetMetricsRecorder(fn MetricsRecorder) {
	v.onMetrics = fn
}

// Fingerprint digests content, stores it in the vault under artifactRef and
// returns the new record. When a ledger is set the intake is appended as
// EVIDENCE_FINGERPRINTED.
func (v *Verifier) Fingerprint(ctx context.Context, artifactRef string, content []byte, alg Algorithm, actor ledger.Actor) (*Record, error) {
	artifactRef = strings.TrimSpace(artifactRef)
	if artifactRef == "" || len(content) == 0 {
		return nil, ErrEmptyArtifact
	}
	if alg == "" {
		alg = SHA256
	}
	digest, err := alg.Sum(content)
	if err != nil {
		return nil, err
	}
	recordedBy := actor.ResolvedID()
	if recordedBy == "" {
		return nil, ledger.ErrInvalidActor
	}

	rec := &Record{
		ID:           uuid.New().String(),
		ArtifactRef:  artifactRef,
		Algorithm:    alg,
		StoredDigest: digest,
		RecordedAt:   v.now().Truncate(time.Microsecond),
		RecordedBy:   recordedBy,
	}
	if err := v.vault.Put(ctx, rec, content); err != nil {
		return nil, fmt.Errorf("store artifact: %w", err)
	}

	if v.ledger != nil {
		if _, err := v.ledger.Append(ctx, actor, ActionFingerprinted, rec.ID, map[string]any{
			"artifact_ref": rec.ArtifactRef,
			"algorithm":    string(rec.Algorithm),
			"digest":       rec.StoredDigest,
		}); err != nil {
			return nil, fmt.Errorf("record intake in ledger: %w", err)
		}
	}

	v.logger.Info("artifact fingerprinted",
		zap.String("record_id", rec.ID),
		zap.String("artifact_ref", rec.ArtifactRef),
		zap.String("algorithm", string(rec.Algorithm)),
	)
	return rec, nil
}

// Verify resolves the record with the given id and checks it.
func (v *Verifier) Verify(ctx context.Context, recordID string) Result {
	rec, err := v.vault.Record(ctx, recordID)
	if err != nil {
		res := Result{
			RecordID:  recordID,
			CheckedAt: v.now(),
			Reference: Reference(""),
			Reason:    ReasonRecordNotFound,
		}
		if !errors.Is(err, ErrRecordNotFound) {
			v.logger.Error("custody: resolve record", zap.String("record_id", recordID), zap.Error(err))
			res.Reason = ReasonVaultUnavailable
		}
		v.finish(ctx, res)
		return res
	}
	return v.Check(ctx, rec)
}

// Check recomputes the digest of rec's artifact and compares it to
// rec.StoredDigest. The record is never modified. A nil rec is reported as
// RECORD_NOT_FOUND.
func (v *Verifier) Check(ctx context.Context, rec *Record) Result {
	if rec == nil {
		res := Result{
			CheckedAt: v.now(),
			Reference: Reference(""),
			Reason:    ReasonRecordNotFound,
		}
		v.finish(ctx, res)
		return res
	}
	res := v.check(ctx, rec)
	v.finish(ctx, res)
	return res
}

func (v *Verifier) check(ctx context.Context, rec *Record) Result {
	res := Result{
		RecordID:  rec.ID,
		CheckedAt: v.now(),
		Reference: Reference(rec.StoredDigest),
	}

	alg, err := ParseAlgorithm(string(rec.Algorithm))
	if err != nil {
		res.Reason = ReasonUnsupportedAlgorithm
		return res
	}

	content, err := v.vault.Content(ctx, rec.ArtifactRef)
	if err != nil {
		res.Reason = ReasonArtifactNotFound
		if !errors.Is(err, ErrArtifactNotFound) {
			v.logger.Error("custody: load artifact", zap.String("artifact_ref", rec.ArtifactRef), zap.Error(err))
			res.Reason = ReasonVaultUnavailable
		}
		return res
	}

	actual, err := alg.Sum(content)
	if err != nil {
		res.Reason = ReasonUnsupportedAlgorithm
		return res
	}
	res.Reference = Reference(actual)

	stored := strings.ToLower(strings.TrimSpace(rec.StoredDigest))
	if subtle.ConstantTimeCompare([]byte(stored), []byte(actual)) != 1 {
		res.Reason = ReasonDigestMismatch
		return res
	}
	res.Verified = true
	return res
}

// finish logs, counts and records res in the ledger.
func (v *Verifier) finish(ctx context.Context, res Result) {
	if v.onMetrics != nil {
		v.onMetrics(res)
	}

	action := ActionVerified
	if !res.Verified {
		action = ActionVerificationFailed
		v.logger.Warn("custody check failed",
			zap.String("record_id", res.RecordID),
			zap.String("reason", string(res.Reason)),
			zap.String("reference", res.Reference),
		)
	}

	if v.ledger == nil {
		return
	}
	actor, ok := ledger.ActorFrom(ctx)
	if !ok {
		actor = systemActor
	}
	details := map[string]any{"reference": res.Reference}
	if res.Reason != "" {
		details["reason"] = string(res.Reason)
	}
	if _, err := v.ledger.Append(ctx, actor, action, res.RecordID, details); err != nil {
		v.logger.Error("custody: record check in ledger",
			zap.String("record_id", res.RecordID),
			zap.Error(err),
		)
	}
}
