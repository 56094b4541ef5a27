package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound = errors.New("not found")

	// Quote-side venue failures.
	ErrNoPool    = errors.New("no pool for token pair")
	ErrStaleData = errors.New("venue data is stale")
	ErrTransport = errors.New("venue transport error")

	// Build-side venue failures.
	ErrPoolChanged         = errors.New("pool state changed since quote")
	ErrInvalidDirection    = errors.New("token pair does not match pool direction")
	ErrInsufficientBalance = errors.New("insufficient balance for swap")

	// Chain submission or confirmation failure.
	ErrChainSubmit = errors.New("chain submission failed")

	// ErrLockHeld means a distributed lock is already held elsewhere.
	ErrLockHeld = errors.New("lock already held")
)

// ValidationError carries the full list of schema violations for an intake
// payload. Surfaced at HTTP as a 400 with the issues attached.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, i := range e.Issues {
		parts = append(parts, i.Field+": "+i.Message)
	}
	return "invalid payload: " + strings.Join(parts, "; ")
}

// NoQuotesError means no venue returned a usable quote within the routing
// deadline. Reasons maps venue name to its failure reason.
type NoQuotesError struct {
	Reasons map[string]string
}

func (e *NoQuotesError) Error() string {
	parts := make([]string, 0, len(e.Reasons))
	for venue, reason := range e.Reasons {
		parts = append(parts, fmt.Sprintf("%s: %s", venue, reason))
	}
	return "Unable to fetch quotes from any venue (" + strings.Join(parts, "; ") + ")"
}

// Permanent reports whether err cannot succeed on a retry with the same job,
// so the queue should dead-letter it immediately instead of backing off.
func Permanent(err error) bool {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return true
	}
	return errors.Is(err, ErrInvalidDirection)
}
