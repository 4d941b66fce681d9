package motor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/orneryd/boutinf/pkg/attr"
	"github.com/orneryd/boutinf/pkg/message"
	"github.com/orneryd/boutinf/pkg/predicate"
	"github.com/orneryd/boutinf/pkg/ray"
	"github.com/orneryd/boutinf/pkg/triples"
)

// Names used by the bundles motor.
const (
	// BundleAttr is the ray attribute holding the participant marker of a
	// message.
	BundleAttr = "bundles-marker"
	// BoutToMarker is the triple holding the current marker of a bout.
	BoutToMarker = "bout-to-marker"
)

// Bundles groups bouts with the same set of participants. Every message is
// marked with the sorted participant list of its bout; when a bout gains or
// loses a participant all its messages are marked again.
//
// It owns two operators:
//
//	(bundled)       the newest message of every bundle
//	(unbundled 42)  messages of the other bouts bundled with bout 42
//
// The compare-and-remark of a bout is not atomic on its own. It relies on
// messages of one bout being seen one at a time, which the ingestion queue
// guarantees by sharding on bout.
type Bundles struct {
	r     *ray.Ray
	store *triples.Store

	seen     atomic.Uint64
	remarked atomic.Uint64
}

// NewBundles declares the marker attribute on r and the bout triple in
// store.
func NewBundles(r *ray.Ray, store *triples.Store) (*Bundles, error) {
	if err := r.Declare(attr.New(BundleAttr, attr.Text)); err != nil {
		return nil, err
	}
	if err := store.Declare(BoutToMarker, false); err != nil {
		return nil, err
	}
	return &Bundles{r: r, store: store}, nil
}

// Marker is the bundle key of a participant list: distinct, sorted and
// bracketed, as in "[urn:test:a, urn:test:b]".
func Marker(participants []string) string {
	names := make([]string, 0, len(participants))
	for _, p := range participants {
		if p != "" {
			names = append(names, p)
		}
	}
	slices.Sort(names)
	names = slices.Compact(names)
	return "[" + strings.Join(names, ", ") + "]"
}

func (b *Bundles) Name() string { return "bundles" }

func (b *Bundles) PointsTo(op string) bool { return op == "bundled" || op == "unbundled" }

// See marks msg. Messages without a bout are left unmarked; every one of
// them is a bundle of its own.
func (b *Bundles) See(ctx context.Context, msg message.Message) error {
	if msg.Bout.ID == 0 {
		return nil
	}
	marker := Marker(msg.Bout.Participants)
	tb := b.r.Builder()
	c := b.r.Cursor()
	if err := c.Replace(tb.Picker(msg.ID), BundleAttr, marker); err != nil {
		return fmt.Errorf("bundles: message %d: %w", msg.ID, err)
	}

	old, err := b.store.Get(msg.Bout.ID, BoutToMarker)
	missing := errors.Is(err, triples.ErrMissingTriple)
	if err != nil && !missing {
		return fmt.Errorf("bundles: bout %d: %w", msg.Bout.ID, err)
	}
	b.seen.Add(1)
	if !missing && old == marker {
		return nil
	}
	if err := b.store.Put(msg.Bout.ID, BoutToMarker, marker); err != nil {
		return fmt.Errorf("bundles: bout %d: %w", msg.Bout.ID, err)
	}
	if missing {
		return nil
	}

	// participants changed: earlier messages of the bout move bundle too
	bout := tb.Matcher(predicate.AttributeOf(VarBoutNumber), strconv.FormatUint(msg.Bout.ID, 10))
	if err := c.Replace(bout, BundleAttr, marker); err != nil {
		return fmt.Errorf("bundles: bout %d: %w", msg.Bout.ID, err)
	}
	b.remarked.Add(1)
	return nil
}

func (b *Bundles) Build(op string, args []predicate.Atom) (predicate.Predicate, error) {
	switch op {
	case "bundled":
		if len(args) != 0 {
			return nil, argError(op, "takes no arguments")
		}
		return b.bundled(), nil
	case "unbundled":
		if len(args) != 1 || args[0].Kind != predicate.NumberAtom {
			return nil, argError(op, "expects one bout number")
		}
		bout, err := strconv.ParseUint(args[0].Value, 10, 64)
		if err != nil || bout == 0 {
			return nil, argError(op, "bad bout number "+args[0].Value)
		}
		return b.unbundled(bout)
	}
	return nil, argError(op, "not a bundles operator")
}

// bundled admits a message when no newer message shares its marker.
// Unmarked messages always pass.
func (b *Bundles) bundled() predicate.Predicate {
	r := b.r
	tb := r.Builder()
	newest := func(id uint64) bool {
		marker, ok := r.Attr(id, BundleAttr)
		if !ok {
			return true
		}
		c := r.Cursor()
		if !c.Shift(tb.Matcher(BundleAttr, marker)) {
			return false
		}
		got, _ := c.ID()
		return got == id
	}
	return predicate.Scan(r, "bundled", newest)
}

// unbundled selects the messages sharing the marker of bout, except the
// bout's own. An unknown bout selects nothing.
func (b *Bundles) unbundled(bout uint64) (predicate.Predicate, error) {
	marker, err := b.store.Get(bout, BoutToMarker)
	if errors.Is(err, triples.ErrMissingTriple) {
		return predicate.False(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("bundles: unbundled %d: %w", bout, err)
	}
	tb := b.r.Builder()
	term := tb.And(
		tb.Matcher(BundleAttr, marker),
		tb.Not(tb.Matcher(predicate.AttributeOf(VarBoutNumber), strconv.FormatUint(bout, 10))),
	)
	return predicate.NewMatching(b.r, term), nil
}

func (b *Bundles) Statistics() string {
	return fmt.Sprintf("%d messages, %d bouts re-marked", b.seen.Load(), b.remarked.Load())
}
