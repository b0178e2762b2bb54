package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// GenesisPrevHash is the PrevHash of the first entry in every chain.
const GenesisPrevHash = "0"

// Actor identifies the principal performing an audited action.
type Actor struct {
	ID          string `json:"id"`
	BadgeNumber string `json:"badge_number,omitempty"`
	Role        string `json:"role"`
}

// ResolvedID returns the badge number, falling back to the internal id.
func (a Actor) ResolvedID() string {
	if badge := strings.TrimSpace(a.BadgeNumber); badge != "" {
		return badge
	}
	return strings.TrimSpace(a.ID)
}

// Entry is one immutable record in the audit ledger.
type Entry struct {
	Index     uint64         `json:"index"`
	Timestamp time.Time      `json:"timestamp"`
	ActorID   string         `json:"actorId"`
	ActorRole string         `json:"actorRole"`
	Action    string         `json:"action"`   // upper-cased, e.g. CREATE_CASE
	Resource  string         `json:"resource"` // case id, evidence id, ...
	Details   map[string]any `json:"details"`
	PrevHash  string         `json:"prevHash"`
	Hash      string         `json:"hash"`
}

// clone returns a deep copy of e.
func (e Entry) clone() Entry {
	e.Details = cloneDetails(e.Details)
	return e
}

// hashContent is the actor-supplied part of the hashed payload.
type hashContent struct {
	ActorID   string         `json:"actorId"`
	ActorRole string         `json:"actorRole"`
	Action    string         `json:"action"`
	Resource  string         `json:"resource"`
	Details   map[string]any `json:"details"`
}

// hashPayload fixes the field order of the digest input.
type hashPayload struct {
	Index     uint64      `json:"index"`
	PrevHash  string      `json:"prevHash"`
	Timestamp string      `json:"timestamp"`
	Content   hashContent `json:"content"`
}

// CanonicalBytes returns the exact byte sequence hashed for e.
func CanonicalBytes(e *Entry) ([]byte, error) {
	details := e.Details
	if details == nil {
		details = map[string]any{}
	}
	return canonicalJSON(hashPayload{
		Index:     e.Index,
		PrevHash:  e.PrevHash,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		Content: hashContent{
			ActorID:   e.ActorID,
			ActorRole: e.ActorRole,
			Action:    e.Action,
			Resource:  e.Resource,
			Details:   details,
		},
	})
}

// ComputeHash returns the digest of e's declared fields. e.Hash is ignored.
func ComputeHash(e *Entry) (string, error) {
	b, err := CanonicalBytes(e)
	if err != nil {
		return "", err
	}
	return Digest(b), nil
}

// Digest returns the hex-encoded SHA-256 of data.
func Digest(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// canonicalJSON encodes v without HTML escaping or a trailing newline.
// encoding/json sorts map keys, so nested details come out ordered.
func canonicalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// normalizeDetails round-trips details through JSON so that the stored,
// hashed and re-read forms are identical. nil becomes an empty map.
func normalizeDetails(details map[string]any) (map[string]any, error) {
	if details == nil {
		return map[string]any{}, nil
	}
	raw, err := canonicalJSON(details)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDetails, err)
	}
	out, err := decodeDetails(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDetails, err)
	}
	return out, nil
}

// decodeDetails parses stored details, keeping numbers as json.Number.
func decodeDetails(raw []byte) (map[string]any, error) {
	out := map[string]any{}
	if len(raw) == 0 {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// encodeDetails returns the canonical storage form of details.
func encodeDetails(details map[string]any) ([]byte, error) {
	if details == nil {
		details = map[string]any{}
	}
	return canonicalJSON(details)
}

func cloneDetails(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneDetails(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// now returns the append timestamp. Microsecond precision survives every
// storage backend, so a reloaded entry hashes the same as the original.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
