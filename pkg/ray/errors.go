package ray

import "errors"

// Sentinel errors.
var (
	ErrClosed    = errors.New("ray: closed")
	ErrInvalidID = errors.New("ray: invalid message id")
	ErrNoTerm    = errors.New("ray: nil term")
)
