package registry

import "errors"

var (
	ErrNilState        = errors.New("registry: state not configured")
	ErrUnauthorized    = errors.New("registry: unauthorized")
	ErrInvalidArgument = errors.New("registry: invalid argument")
	ErrNotBootstrapped = errors.New("registry: owner not set")
)
