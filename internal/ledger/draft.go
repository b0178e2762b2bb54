package ledger

import (
	"fmt"
	"strings"
)

// draft is a validated append request that has not been chained yet.
type draft struct {
	actorID   string
	actorRole string
	action    string
	resource  string
	details   map[string]any
}

// newDraft validates caller input. It runs before any lock is taken so a
// rejected append never touches the chain.
func newDraft(actor Actor, action, resource string, details map[string]any) (*draft, error) {
	actorID := actor.ResolvedID()
	if actorID == "" {
		return nil, ErrInvalidActor
	}
	action = strings.ToUpper(strings.TrimSpace(action))
	if action == "" {
		return nil, ErrInvalidAction
	}
	normalized, err := normalizeDetails(details)
	if err != nil {
		return nil, err
	}
	return &draft{
		actorID:   actorID,
		actorRole: strings.TrimSpace(actor.Role),
		action:    action,
		resource:  strings.TrimSpace(resource),
		details:   normalized,
	}, nil
}

// seal chains the draft after prevHash at position index and computes its
// hash. It must be called while holding the writer lock.
func (d *draft) seal(index uint64, prevHash string) (Entry, error) {
	e := Entry{
		Index:     index,
		Timestamp: now(),
		ActorID:   d.actorID,
		ActorRole: d.actorRole,
		Action:    d.action,
		Resource:  d.resource,
		Details:   d.details,
		PrevHash:  prevHash,
	}
	hash, err := ComputeHash(&e)
	if err != nil {
		return Entry{}, fmt.Errorf("hash entry: %w", err)
	}
	e.Hash = hash
	return e, nil
}
