package motor

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/orneryd/boutinf/pkg/message"
	"github.com/orneryd/boutinf/pkg/predicate"
	"github.com/orneryd/boutinf/pkg/triples"
)

// Triple names used by the participants motor.
const (
	MessageToBout     = "message-to-bout"
	BoutToParticipant = "bout-to-participant"
)

// Participants links messages to bouts and bouts to the identities taking
// part in them. It owns the talks-with operator: (talks-with 'urn:test:A').
type Participants struct {
	store *triples.Store
	seen  atomic.Uint64
}

// NewParticipants declares its triples in store.
func NewParticipants(store *triples.Store) (*Participants, error) {
	if err := store.Declare(MessageToBout, false); err != nil {
		return nil, err
	}
	if err := store.Declare(BoutToParticipant, true); err != nil {
		return nil, err
	}
	return &Participants{store: store}, nil
}

func (p *Participants) Name() string { return "participants" }

func (p *Participants) PointsTo(op string) bool { return op == "talks-with" }

func (p *Participants) See(ctx context.Context, msg message.Message) error {
	if msg.Bout.ID == 0 {
		return nil
	}
	bout := strconv.FormatUint(msg.Bout.ID, 10)
	if err := p.store.Put(msg.ID, MessageToBout, bout); err != nil {
		return fmt.Errorf("participants: message %d: %w", msg.ID, err)
	}
	for _, who := range msg.Bout.Participants {
		if who == "" || p.store.Has(msg.Bout.ID, BoutToParticipant, who) {
			continue
		}
		if err := p.store.Put(msg.Bout.ID, BoutToParticipant, who); err != nil {
			return fmt.Errorf("participants: bout %d: %w", msg.Bout.ID, err)
		}
	}
	p.seen.Add(1)
	return nil
}

// Build makes (talks-with 'identity'): every message of every bout the
// identity takes part in.
func (p *Participants) Build(op string, args []predicate.Atom) (predicate.Predicate, error) {
	who, err := textArg(op, args)
	if err != nil {
		return nil, err
	}
	ids, err := p.store.ReverseJoin(MessageToBout, BoutToParticipant, who)
	if err != nil {
		return nil, fmt.Errorf("participants: %s: %w", op, err)
	}
	return predicate.NewSet(ids...), nil
}

// Bout returns the bout of a message, or a *triples.MissingTripleError.
func (p *Participants) Bout(id uint64) (uint64, error) {
	v, err := p.store.Get(id, MessageToBout)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(v, 10, 64)
}

func (p *Participants) Statistics() string {
	s := p.store.Stats()
	return fmt.Sprintf("%d messages, %d puts, %d gets (%d missing)", p.seen.Load(), s.Puts, s.Gets, s.Misses)
}
