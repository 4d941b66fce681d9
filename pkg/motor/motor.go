// Package motor holds the extraction plugins of the index.
//
// A Motor watches every ingested message, derives attributes from it and
// owns the query operators that read those attributes back. Motors are kept
// in an explicit, ordered Set; the query builder resolves an operator to the
// first motor that claims it.
package motor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/orneryd/boutinf/pkg/logging"
	"github.com/orneryd/boutinf/pkg/message"
	"github.com/orneryd/boutinf/pkg/predicate"
)

// ErrDuplicate is returned when two motors share a name.
var ErrDuplicate = errors.New("motor: duplicate name")

// Motor is an extraction plugin.
type Motor interface {
	Name() string
	// PointsTo reports whether the motor owns operator op.
	PointsTo(op string) bool
	// Build makes the predicate for one use of op.
	Build(op string, args []predicate.Atom) (predicate.Predicate, error)
	// See extracts attributes from a newly ingested message. It may run
	// while queries read earlier messages.
	See(ctx context.Context, msg message.Message) error
	// Statistics is a one-line summary for diagnostics.
	Statistics() string
}

// Set is an ordered registry of motors.
type Set struct {
	mu     sync.RWMutex
	motors []Motor

	log      *logging.Logger
	failures atomic.Uint64

	// OnFailure, when set, is called once for every failed or panicking See.
	OnFailure func(motor string)
}

// NewSet returns an empty set.
func NewSet(log *logging.Logger) *Set {
	return &Set{log: logging.OrNoop(log).WithComponent("motor")}
}

// Register appends m. Motors registered earlier win operator conflicts.
func (s *Set) Register(m Motor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.motors {
		if existing.Name() == m.Name() {
			return fmt.Errorf("%w: %s", ErrDuplicate, m.Name())
		}
	}
	s.motors = append(s.motors, m)
	return nil
}

// Resolve finds the motor owning op.
func (s *Set) Resolve(op string) (Motor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.motors {
		if m.PointsTo(op) {
			return m, true
		}
	}
	return nil, false
}

// Motors lists the registered motors in order.
func (s *Set) Motors() []Motor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Motor(nil), s.motors...)
}

// SeeAll shows msg to every motor in registration order. A motor that fails
// or panics is logged and skipped; the others still see the message. It
// returns how many motors failed.
func (s *Set) SeeAll(ctx context.Context, msg message.Message) int {
	failed := 0
	for _, m := range s.Motors() {
		err := s.see(ctx, m, msg)
		s.log.LogSee(ctx, m.Name(), msg.ID, err)
		if err != nil {
			failed++
			s.failures.Add(1)
			if s.OnFailure != nil {
				s.OnFailure(m.Name())
			}
		}
	}
	return failed
}

func (s *Set) see(ctx context.Context, m Motor, msg message.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.LogMotorPanic(ctx, m.Name(), msg.ID, r)
			err = fmt.Errorf("motor %s: panic: %v", m.Name(), r)
		}
	}()
	return m.See(ctx, msg)
}

// Failures counts failed See calls since creation.
func (s *Set) Failures() uint64 { return s.failures.Load() }

// Statistics joins the statistics of every motor, one per line.
func (s *Set) Statistics() string {
	var sb strings.Builder
	for _, m := range s.Motors() {
		fmt.Fprintf(&sb, "%s: %s\n", m.Name(), m.Statistics())
	}
	return sb.String()
}

// Close closes every motor that holds resources.
func (s *Set) Close() error {
	var errs []error
	for _, m := range s.Motors() {
		if c, ok := m.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("motor %s: %w", m.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

// argError is returned by Build for arguments an operator cannot use.
func argError(op, reason string) error {
	return fmt.Errorf("%w: %s: %s", predicate.ErrArgument, op, reason)
}

// textArg returns the single text-like literal of args.
func textArg(op string, args []predicate.Atom) (string, error) {
	if len(args) != 1 {
		return "", argError(op, fmt.Sprintf("expects one argument, got %d", len(args)))
	}
	if !args[0].Literal() {
		return "", argError(op, "argument must be a literal, got "+args[0].Kind.String())
	}
	return args[0].Value, nil
}
