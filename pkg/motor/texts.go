package motor

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"unicode"

	"github.com/orneryd/boutinf/pkg/attr"
	"github.com/orneryd/boutinf/pkg/message"
	"github.com/orneryd/boutinf/pkg/pool"
	"github.com/orneryd/boutinf/pkg/predicate"
	"github.com/orneryd/boutinf/pkg/ray"
)

// minWord is the shortest word worth indexing.
const minWord = 3

// indexedVars are the variables whose words are indexed.
var indexedVars = []string{VarText, VarBoutTitle, VarAuthorAlias}

// Texts indexes the words of message text, bout title and author alias. It
// owns the matches operator: (matches 'some words' $text).
type Texts struct {
	r     *ray.Ray
	seen  atomic.Uint64
	words atomic.Uint64
}

// NewTexts declares the word attributes on r.
func NewTexts(r *ray.Ray) (*Texts, error) {
	for _, v := range indexedVars {
		if err := r.Declare(attr.NewMulti(wordsAttr(v), attr.Text)); err != nil {
			return nil, err
		}
	}
	return &Texts{r: r}, nil
}

func wordsAttr(variable string) string {
	return "texts-" + predicate.AttributeOf(variable)
}

// Words splits s into distinct upper-case words of at least three letters
// or digits, in order of first appearance. The slice comes from the string
// slice pool; callers done with it may hand it back with
// pool.PutStringSlice.
func Words(s string) []string {
	fields := strings.FieldsFunc(s, func(c rune) bool {
		return !unicode.IsLetter(c) && !unicode.IsDigit(c)
	})
	out := pool.GetStringSlice()
	for _, f := range fields {
		if len([]rune(f)) < minWord {
			continue
		}
		w := strings.ToUpper(f)
		if !slices.Contains(out, w) {
			out = append(out, w)
		}
	}
	return out
}

func (t *Texts) Name() string { return "texts" }

func (t *Texts) PointsTo(op string) bool { return op == "matches" }

func (t *Texts) See(ctx context.Context, msg message.Message) error {
	fields := map[string]string{
		VarText:        msg.Text,
		VarBoutTitle:   msg.Bout.Title,
		VarAuthorAlias: msg.AuthorAlias,
	}
	b := t.r.Builder()
	c := t.r.Cursor()
	pick := b.Picker(msg.ID)
	for _, v := range indexedVars {
		words := Words(fields[v])
		for _, w := range words {
			if err := c.Add(pick, wordsAttr(v), w); err != nil {
				pool.PutStringSlice(words)
				return fmt.Errorf("texts: %s: %w", v, err)
			}
			t.words.Add(1)
		}
		pool.PutStringSlice(words)
	}
	t.seen.Add(1)
	return nil
}

// Build makes (matches 'text' $var). Every word of the text must appear in
// the variable. Text without indexable words falls back to a substring scan;
// blank text matches everything.
func (t *Texts) Build(op string, args []predicate.Atom) (predicate.Predicate, error) {
	if len(args) != 2 || !args[0].Literal() || args[1].Kind != predicate.VariableAtom {
		return nil, argError(op, "expects a literal and a variable")
	}
	text, variable := args[0].Value, args[1].Value
	if strings.TrimSpace(text) == "" {
		return predicate.True(t.r), nil
	}

	words := Words(text)
	defer pool.PutStringSlice(words)
	if len(words) > 0 && slices.Contains(indexedVars, variable) {
		b := t.r.Builder()
		terms := make([]ray.Term, 0, len(words))
		for _, w := range words {
			terms = append(terms, b.Matcher(wordsAttr(variable), w))
		}
		return predicate.NewMatching(t.r, b.And(terms...)), nil
	}

	needle := strings.ToUpper(strings.TrimSpace(text))
	name := predicate.AttributeOf(variable)
	r := t.r
	return predicate.Scan(r, "matches", func(id uint64) bool {
		for _, v := range r.Values(id, name) {
			if strings.Contains(strings.ToUpper(v), needle) {
				return true
			}
		}
		return false
	}), nil
}

func (t *Texts) Statistics() string {
	return fmt.Sprintf("%d messages, %d words indexed", t.seen.Load(), t.words.Load())
}
