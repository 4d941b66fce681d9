package motor

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/orneryd/boutinf/pkg/attr"
	"github.com/orneryd/boutinf/pkg/message"
	"github.com/orneryd/boutinf/pkg/predicate"
	"github.com/orneryd/boutinf/pkg/ray"
)

// Variables stored by the vars motor, as they appear in queries.
const (
	VarText        = "text"
	VarNumber      = "number"
	VarBoutNumber  = "bout.number"
	VarBoutTitle   = "bout.title"
	VarAuthorName  = "author.name"
	VarAuthorAlias = "author.alias"
	VarDate        = "date"
)

var varKinds = map[string]attr.Kind{
	VarText:        attr.Text,
	VarNumber:      attr.Number,
	VarBoutNumber:  attr.Number,
	VarBoutTitle:   attr.Text,
	VarAuthorName:  attr.Text,
	VarAuthorAlias: attr.Text,
	VarDate:        attr.Date,
}

// Vars copies message fields into ray attributes so queries can compare
// them ($text, $bout.number, ...). It owns the unique operator.
type Vars struct {
	r    *ray.Ray
	seen atomic.Uint64
}

// NewVars declares the variable attributes on r.
func NewVars(r *ray.Ray) (*Vars, error) {
	for v, kind := range varKinds {
		if err := r.Declare(attr.New(predicate.AttributeOf(v), kind)); err != nil {
			return nil, err
		}
	}
	return &Vars{r: r}, nil
}

func (v *Vars) Name() string { return "vars" }

func (v *Vars) PointsTo(op string) bool { return op == "unique" }

func (v *Vars) See(ctx context.Context, msg message.Message) error {
	values := map[string]string{
		VarText:        msg.Text,
		VarNumber:      strconv.FormatUint(msg.ID, 10),
		VarBoutTitle:   msg.Bout.Title,
		VarAuthorName:  msg.Author,
		VarAuthorAlias: msg.AuthorAlias,
	}
	if msg.Bout.ID != 0 {
		values[VarBoutNumber] = strconv.FormatUint(msg.Bout.ID, 10)
	}
	if !msg.Date.IsZero() {
		values[VarDate] = attr.FormatDate(msg.Date)
	}

	b := v.r.Builder()
	c := v.r.Cursor()
	pick := b.Picker(msg.ID)
	for name, value := range values {
		if value == "" {
			continue
		}
		if err := c.Replace(pick, predicate.AttributeOf(name), value); err != nil {
			return fmt.Errorf("vars: %s: %w", name, err)
		}
	}
	v.seen.Add(1)
	return nil
}

// Build makes (unique $var): the newest message for every distinct value
// of the variable.
func (v *Vars) Build(op string, args []predicate.Atom) (predicate.Predicate, error) {
	if len(args) != 1 || args[0].Kind != predicate.VariableAtom {
		return nil, argError(op, "expects one variable")
	}
	name := predicate.AttributeOf(args[0].Value)
	r := v.r
	b := r.Builder()
	newest := func(id uint64) bool {
		for _, value := range r.Values(id, name) {
			c := r.Cursor()
			if c.Shift(b.Matcher(name, value)) {
				if got, _ := c.ID(); got == id {
					return true
				}
			}
		}
		return false
	}
	return predicate.Scan(r, "unique $"+args[0].Value, newest), nil
}

func (v *Vars) Statistics() string {
	return fmt.Sprintf("%d messages, %d variables", v.seen.Load(), len(varKinds))
}
