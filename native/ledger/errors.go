package ledger

import "errors"

var (
	ErrNilState        = errors.New("ledger: state not configured")
	ErrNilAuthorizer   = errors.New("ledger: authorizer not configured")
	ErrUnauthorized    = errors.New("ledger: unauthorized")
	ErrCollision       = errors.New("ledger: entry hash collision")
	ErrNotFound        = errors.New("ledger: entry not found")
	ErrInvalidArgument = errors.New("ledger: invalid argument")
)
