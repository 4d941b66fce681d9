package query

import (
	"errors"
	"fmt"
)

// Sentinel errors. Every parse or build failure matches ErrInvalidSyntax.
var (
	ErrInvalidSyntax   = errors.New("query: invalid syntax")
	ErrUnknownOperator = errors.New("query: unknown operator")
)

// InvalidSyntaxError describes malformed query text.
type InvalidSyntaxError struct {
	Query  string
	Token  string
	Pos    int
	Reason string
	Err    error
}

func (e *InvalidSyntaxError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("query: %s at offset %d in %q", e.Reason, e.Pos, e.Query)
	}
	return fmt.Sprintf("query: %s at %q (offset %d) in %q", e.Reason, e.Token, e.Pos, e.Query)
}

func (e *InvalidSyntaxError) Is(target error) bool { return target == ErrInvalidSyntax }

func (e *InvalidSyntaxError) Unwrap() error { return e.Err }

// UnknownOperatorError reports an operator nobody owns.
type UnknownOperatorError struct {
	Query string
	Op    string
	Pos   int
}

func (e *UnknownOperatorError) Error() string {
	return fmt.Sprintf("query: unknown operator %q at offset %d in %q", e.Op, e.Pos, e.Query)
}

func (e *UnknownOperatorError) Is(target error) bool {
	return target == ErrUnknownOperator || target == ErrInvalidSyntax
}
