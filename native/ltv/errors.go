package ltv

import "errors"

var (
	// ErrArithmetic indicates an intermediate multiplication overflowed or a
	// division by zero occurred while computing the ratio.
	ErrArithmetic = errors.New("ltv: arithmetic overflow or division by zero")
)

// ErrorIndex enumerates the structured error codes carried by LogError
// events. The signature and expiration entries are part of the published
// taxonomy but the current evaluation path never raises them; only
// LTVExceedsMax is wired.
type ErrorIndex uint8

const (
	InvalidPriceFeedSignature ErrorIndex = iota
	InvalidCreditorSignature
	PriceExpired
	LTVExceedsMax
)
