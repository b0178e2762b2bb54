package ledger

import "errors"

var (
	// ErrInvalidActor means no usable actor identifier could be derived.
	ErrInvalidActor = errors.New("ledger: invalid actor")
	// ErrInvalidAction means the action is empty after normalisation.
	ErrInvalidAction = errors.New("ledger: invalid action")
	// ErrInvalidDetails means the details payload cannot be serialised.
	ErrInvalidDetails = errors.New("ledger: invalid details")
	// ErrNotFound is returned by Get for an index outside the chain.
	ErrNotFound = errors.New("ledger: entry not found")
	// ErrStoreDamaged is returned by Append when the backing store holds
	// data that cannot be decoded; history must be investigated first.
	ErrStoreDamaged = errors.New("ledger: store damaged")
)
