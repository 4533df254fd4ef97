// Package validation carries the input-rejection error shared by the refund
// engine. Every ValidationError is raised before any side effect happens.
package validation

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalid matches any *Error via errors.Is.
var ErrInvalid = errors.New("validation failed")

// walletPattern is the accepted payout address format (EVM, 20 bytes hex).
var walletPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// Error describes a single malformed input field.
type Error struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *Error) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is reports whether target is ErrInvalid.
func (e *Error) Is(target error) bool {
	return target == ErrInvalid
}

// Errorf builds an *Error for field with a formatted reason.
func Errorf(field, format string, args ...any) *Error {
	return &Error{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// WalletAddress returns an error unless addr is a well-formed 0x address.
func WalletAddress(field, addr string) error {
	if !walletPattern.MatchString(addr) {
		return Errorf(field, "must be a valid Ethereum address")
	}
	return nil
}

// NonEmpty returns an error when v is empty.
func NonEmpty(field, v string) error {
	if v == "" {
		return Errorf(field, "must be a non-empty string")
	}
	return nil
}
