package triples

import (
	"errors"
	"fmt"
)

// Sentinel errors for triple store operations.
var (
	ErrMissingTriple = errors.New("triples: missing triple")
	ErrClosed        = errors.New("triples: store closed")
	ErrInvalidName   = errors.New("triples: invalid name")
)

// MissingTripleError reports that a subject has no value for a name.
//
// errors.Is(err, ErrMissingTriple) holds for every MissingTripleError.
type MissingTripleError struct {
	Subject uint64
	Name    string
}

func (e *MissingTripleError) Error() string {
	return fmt.Sprintf("triples: no %q for subject %d", e.Name, e.Subject)
}

func (e *MissingTripleError) Is(target error) bool {
	return target == ErrMissingTriple
}
