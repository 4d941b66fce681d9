package motor

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/orneryd/boutinf/pkg/message"
	"github.com/orneryd/boutinf/pkg/predicate"
	"github.com/orneryd/boutinf/pkg/triples"
)

// NamespaceTriple names the triple holding the root namespace of an XML
// message.
const NamespaceTriple = "xml-ns"

// XML records the root namespace of messages whose text is an XML document.
// It owns the ns operator: (ns 'urn:test:bar').
type XML struct {
	store     *triples.Store
	seen      atomic.Uint64
	annotated atomic.Uint64
	malformed atomic.Uint64
}

// NewXML stores namespaces in store.
func NewXML(store *triples.Store) *XML {
	return &XML{store: store}
}

func (x *XML) Name() string { return "xml" }

func (x *XML) PointsTo(op string) bool { return op == "ns" }

// See annotates XML messages. Plain text is ignored; malformed XML is
// reported and the message stays unannotated.
func (x *XML) See(ctx context.Context, msg message.Message) error {
	x.seen.Add(1)
	body := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(body, "<") {
		return nil
	}
	ns, err := RootNamespace(body)
	if err != nil {
		x.malformed.Add(1)
		return fmt.Errorf("xml: message %d: %w", msg.ID, err)
	}
	if ns == "" {
		return nil
	}
	if err := x.store.Put(msg.ID, NamespaceTriple, ns); err != nil {
		return fmt.Errorf("xml: message %d: %w", msg.ID, err)
	}
	x.annotated.Add(1)
	return nil
}

// RootNamespace returns the namespace of the first element of an XML
// document, or "" when it has none.
func RootNamespace(doc string) (string, error) {
	dec := xml.NewDecoder(strings.NewReader(doc))
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return "", fmt.Errorf("no root element")
		}
		if err != nil {
			return "", err
		}
		if start, ok := tok.(xml.StartElement); ok {
			// the rest of the document must still be well formed
			if err := dec.Skip(); err != nil {
				return "", err
			}
			return start.Name.Space, nil
		}
	}
}

// Build makes (ns 'namespace') from the reverse index of the triple store.
func (x *XML) Build(op string, args []predicate.Atom) (predicate.Predicate, error) {
	ns, err := textArg(op, args)
	if err != nil {
		return nil, err
	}
	ids, err := x.store.Reverse(NamespaceTriple, ns)
	if err != nil {
		return nil, fmt.Errorf("xml: %s: %w", op, err)
	}
	return predicate.NewSet(ids...), nil
}

func (x *XML) Statistics() string {
	return fmt.Sprintf("%d messages, %d with namespace, %d malformed",
		x.seen.Load(), x.annotated.Load(), x.malformed.Load())
}
