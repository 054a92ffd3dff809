package creditor

import "errors"

var (
	ErrNilState            = errors.New("creditor: state not configured")
	ErrNilCollaborator     = errors.New("creditor: collaborator not configured")
	ErrPaused              = errors.New("creditor: paused")
	ErrUnauthorized        = errors.New("creditor: unauthorized")
	ErrInvalidArgument     = errors.New("creditor: invalid argument")
	ErrExpired             = errors.New("creditor: offer expired")
	ErrAlreadyFilled       = errors.New("creditor: offer already filled")
	ErrCancelled           = errors.New("creditor: offer cancelled")
	ErrNonConsensual       = errors.New("creditor: missing required consent")
	ErrInsufficientBalance = errors.New("creditor: insufficient balance or allowance")
	ErrDecisionRejected    = errors.New("creditor: decision engine rejected offer")
)

// ErrorCode enumerates the structured codes carried by LogError events so
// off-chain observers can distinguish rejection causes while state provably
// reverts.
type ErrorCode uint8

const (
	CodeOfferCancelled ErrorCode = iota
	CodeOfferAlreadyFilled
	CodeOfferNonConsensual
	CodeCreditorBalanceOrAllowanceInsufficient
	CodeOfferExpired
)
