package bptree

import (
	"errors"
	"fmt"
)

// Result is the outcome of a public mutating/lookup operation. It is the
// The tagged-result error taxonomy for operational outcomes, as opposed
// to invariant breaches, which panic.
type Result uint8

const (
	ResultSuccess Result = iota
	ResultKeyDoesNotExist
	ResultKeyAlreadyExists
	ResultOutOfStorage
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "Success"
	case ResultKeyDoesNotExist:
		return "KeyDoesNotExist"
	case ResultKeyAlreadyExists:
		return "KeyAlreadyExists"
	case ResultOutOfStorage:
		return "OutOfStorage"
	default:
		return "Unknown"
	}
}

// Sentinel errors for the plumbing paths (Flush, storage, cache) that
// need an idiomatic Go error rather than a bare Result code.
var (
	// ErrKeyDoesNotExist mirrors ResultKeyDoesNotExist for APIs that
	// prefer an error return over a Result code (e.g. Store.Search).
	ErrKeyDoesNotExist = errors.New("bptree: key does not exist")

	// ErrKeyAlreadyExists mirrors ResultKeyAlreadyExists.
	ErrKeyAlreadyExists = errors.New("bptree: key already exists")

	// ErrOutOfStorage names the out-of-storage condition. No operation
	// returns it: when a tier has no room for a write-back, Flush and
	// Checkpoint return the tier's own allocation error, wrapped.
	ErrOutOfStorage = errors.New("bptree: out of storage")

	// ErrClosed names use of a Store after Close. No Store method
	// returns it; Store does not track whether Close has been called.
	ErrClosed = errors.New("bptree: store is closed")
)

// invariantViolation is the payload of a panic raised when a structural
// invariant is found broken (an unrecognized UID tier, a rebalance that
// could not find a sibling, an index node whose pivots/keys length
// mismatch, ...). These are programming or on-disk-corruption errors and
// are never recovered by the public API; only internal test helpers that
// assert panics catch them.
type invariantViolation struct {
	msg string
}

func (e invariantViolation) Error() string { return "bptree: invariant violation: " + e.msg }

// fatalf panics with an invariantViolation built from the given message.
func fatalf(format string, args ...any) {
	panic(invariantViolation{msg: fmt.Sprintf(format, args...)})
}
