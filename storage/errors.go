package storage

import "errors"

var (
	// ErrNotFound reports a missing row, as opposed to a failed round trip.
	ErrNotFound = errors.New("no such row")
	// ErrDuplicate reports a unique-key violation on insert.
	ErrDuplicate = errors.New("duplicate key")
	// ErrInsufficientFunds reports a sender prepare whose balance guard
	// matched zero rows while the wallet row exists.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrTxConflict reports an attempt to move a ledger row between
	// terminal states. It signals an orchestrator bug or a racing sweep.
	ErrTxConflict = errors.New("transaction already decided")
	// ErrUnavailable reports a store that cannot be reached.
	ErrUnavailable = errors.New("store unavailable")
)
