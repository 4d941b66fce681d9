package query

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/orneryd/boutinf/pkg/cache"
	"github.com/orneryd/boutinf/pkg/logging"
	"github.com/orneryd/boutinf/pkg/motor"
	"github.com/orneryd/boutinf/pkg/predicate"
	"github.com/orneryd/boutinf/pkg/ray"
)

// Resolver finds the motor owning an operator.
type Resolver interface {
	Resolve(op string) (motor.Motor, bool)
}

// BuilderOptions configure a Builder.
type BuilderOptions struct {
	// CacheSize is how many parsed queries are kept. Zero disables caching.
	CacheSize int
	CacheTTL  time.Duration
	Logger    *logging.Logger
}

// Builder turns query text into predicates over a ray.
//
// Operators resolve to built-ins first (and, or, not, equal, greater-than,
// less-than, from, limit, pos), then to motors in registration order.
type Builder struct {
	r      *ray.Ray
	motors Resolver
	cache  *cache.QueryCache[*Expr]
	log    *logging.Logger
}

// NewBuilder returns a builder for r. motors may be nil.
func NewBuilder(r *ray.Ray, motors Resolver, opts BuilderOptions) *Builder {
	b := &Builder{r: r, motors: motors, log: logging.OrNoop(opts.Logger).WithComponent("query")}
	if opts.CacheSize > 0 {
		b.cache = cache.NewQueryCache[*Expr](opts.CacheSize, opts.CacheTTL)
	}
	return b
}

// Parse normalizes and parses text, going through the cache.
func (b *Builder) Parse(text string) (*Expr, error) {
	q := Normalize(text)
	if b.cache == nil {
		return Parse(q)
	}
	key := b.cache.Key(q)
	if e, ok := b.cache.Get(key); ok {
		return e, nil
	}
	e, err := Parse(q)
	if err != nil {
		return nil, err
	}
	b.cache.Put(key, e)
	return e, nil
}

// Build parses text and builds a fresh predicate for it.
func (b *Builder) Build(text string) (predicate.Predicate, error) {
	e, err := b.Parse(text)
	if err != nil {
		return nil, err
	}
	p, err := b.Compile(e)
	if err != nil {
		return nil, err
	}
	b.log.Debug("predicate built", "query", text, "expr", e.String())
	return p, nil
}

// Compile builds a fresh predicate from a parsed expression. Expressions are
// immutable; predicates are not, so compile once per evaluation.
func (b *Builder) Compile(e *Expr) (predicate.Predicate, error) {
	return b.compile(e, e.String())
}

// CacheStats reports parse cache counters.
func (b *Builder) CacheStats() cache.Stats {
	if b.cache == nil {
		return cache.Stats{}
	}
	return b.cache.Stats()
}

func (b *Builder) compile(e *Expr, src string) (predicate.Predicate, error) {
	if e.Kind != Call {
		return nil, &InvalidSyntaxError{Query: src, Token: e.String(), Pos: e.Pos, Reason: "expected an operator call"}
	}
	args := make([]predicate.Atom, 0, len(e.Args))
	for _, a := range e.Args {
		atom, err := b.atom(a, src)
		if err != nil {
			return nil, err
		}
		args = append(args, atom)
	}

	if build, ok := builtins[e.Op]; ok {
		p, err := build(b.r, args)
		if err != nil {
			return nil, b.wrap(e, src, err)
		}
		return p, nil
	}
	if b.motors != nil {
		if m, ok := b.motors.Resolve(e.Op); ok {
			p, err := m.Build(e.Op, args)
			if err != nil {
				return nil, b.wrap(e, src, err)
			}
			return p, nil
		}
	}
	return nil, &UnknownOperatorError{Query: src, Op: e.Op, Pos: e.Pos}
}

func (b *Builder) wrap(e *Expr, src string, err error) error {
	return &InvalidSyntaxError{Query: src, Token: e.Op, Pos: e.Pos, Reason: err.Error(), Err: err}
}

func (b *Builder) atom(e *Expr, src string) (predicate.Atom, error) {
	switch e.Kind {
	case Call:
		p, err := b.compile(e, src)
		if err != nil {
			return predicate.Atom{}, err
		}
		return predicate.Nested(p), nil
	case Number:
		n, ok := e.Int()
		if !ok {
			return predicate.Atom{}, &InvalidSyntaxError{Query: src, Token: e.Value, Pos: e.Pos, Reason: "number out of range"}
		}
		return predicate.Number(n), nil
	case Date:
		t, _ := e.Time()
		return predicate.Date(t), nil
	case Variable:
		return predicate.Variable(e.Value), nil
	default:
		return predicate.Text(e.Value), nil
	}
}

type builtin func(r *ray.Ray, args []predicate.Atom) (predicate.Predicate, error)

var builtins = map[string]builtin{
	"and": func(r *ray.Ray, args []predicate.Atom) (predicate.Predicate, error) {
		preds, err := nested("and", args)
		if err != nil {
			return nil, err
		}
		return predicate.And(r, preds...), nil
	},
	"or": func(r *ray.Ray, args []predicate.Atom) (predicate.Predicate, error) {
		preds, err := nested("or", args)
		if err != nil {
			return nil, err
		}
		return predicate.Or(preds...), nil
	},
	"not": func(r *ray.Ray, args []predicate.Atom) (predicate.Predicate, error) {
		preds, err := nested("not", args)
		if err != nil {
			return nil, err
		}
		if len(preds) != 1 {
			return nil, fmt.Errorf("not expects one predicate, got %d", len(preds))
		}
		return predicate.Not(r, preds[0]), nil
	},
	"equal":        comparison(predicate.Equal),
	"greater-than": comparison(predicate.GreaterThan),
	"less-than":    comparison(predicate.LessThan),
	"from":         position("from", predicate.From),
	"limit":        position("limit", predicate.Limit),
	"pos":          position("pos", predicate.Pos),
}

func nested(op string, args []predicate.Atom) ([]predicate.Predicate, error) {
	preds := make([]predicate.Predicate, 0, len(args))
	for i, a := range args {
		if a.Kind != predicate.NestedAtom {
			return nil, fmt.Errorf("%s argument %d must be a predicate, got %s", op, i+1, a.Kind)
		}
		preds = append(preds, a.Pred)
	}
	return preds, nil
}

func comparison(op predicate.Op) builtin {
	return func(r *ray.Ray, args []predicate.Atom) (predicate.Predicate, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("%s expects two arguments, got %d", op, len(args))
		}
		return predicate.NewCompare(r, op, args[0], args[1])
	}
}

func position(name string, build func(*ray.Ray, uint64) predicate.Predicate) builtin {
	return func(r *ray.Ray, args []predicate.Atom) (predicate.Predicate, error) {
		if len(args) != 1 || args[0].Kind != predicate.NumberAtom {
			return nil, fmt.Errorf("%s expects one number", name)
		}
		n, err := strconv.ParseInt(args[0].Value, 10, 64)
		if err != nil || n < 0 {
			return nil, errors.New(name + " expects a non-negative number")
		}
		return build(r, uint64(n)), nil
	}
}
