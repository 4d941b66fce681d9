// Package attr describes the named, typed values derived from messages and
// the comparison rules predicates apply to them.
package attr

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Kind governs how values of an attribute are ordered.
type Kind int

const (
	// Text values compare lexically unless both sides look numeric or dated.
	Text Kind = iota
	// Number values are decimal integers.
	Number
	// Date values are ISO-8601 timestamps.
	Date
	// Reversive values sort in the opposite direction (newest first).
	Reversive
)

func (k Kind) String() string {
	switch k {
	case Text:
		return "text"
	case Number:
		return "number"
	case Date:
		return "date"
	case Reversive:
		return "reversive"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "":
		return Text, nil
	case "number":
		return Number, nil
	case "date":
		return Date, nil
	case "reversive":
		return Reversive, nil
	}
	return Text, fmt.Errorf("attr: unknown kind %q", s)
}

// MarshalYAML writes the kind by name.
func (k Kind) MarshalYAML() (interface{}, error) {
	return k.String(), nil
}

// UnmarshalYAML reads a kind by name.
func (k *Kind) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Attribute is a named value slot on a message.
type Attribute struct {
	Name string `yaml:"name"`
	Kind Kind   `yaml:"kind"`
	// Multi attributes hold a set of values per message.
	Multi bool `yaml:"multi"`
}

// New returns a single-valued attribute.
func New(name string, kind Kind) Attribute {
	return Attribute{Name: name, Kind: kind}
}

// NewMulti returns a multi-valued attribute.
func NewMulti(name string, kind Kind) Attribute {
	return Attribute{Name: name, Kind: kind, Multi: true}
}

func (a Attribute) String() string {
	if a.Multi {
		return a.Name + ":" + a.Kind.String() + "*"
	}
	return a.Name + ":" + a.Kind.String()
}

// Branch names the comparison that decided an ordering.
type Branch string

const (
	ByNumber Branch = "number"
	ByDate   Branch = "date"
	ByText   Branch = "text"
)

// DateLayouts are the ISO-8601 forms recognised as dates, most specific first.
var DateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseDate parses an ISO-8601 date or timestamp.
func ParseDate(s string) (time.Time, bool) {
	if len(s) < len("2006-01-02") || s[4] != '-' {
		return time.Time{}, false
	}
	for _, layout := range DateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseNumber parses a decimal integer value.
func ParseNumber(s string) (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return n, err == nil
}

// FormatDate renders t the way date attributes are stored.
func FormatDate(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// Compare orders two raw values. Both parse as integers: numeric order.
// Both parse as ISO-8601: chronological order. Otherwise lexical order.
// The result is negative, zero or positive like strings.Compare.
func Compare(a, b string) (int, Branch) {
	if x, ok := ParseNumber(a); ok {
		if y, ok := ParseNumber(b); ok {
			return cmpInt(x, y), ByNumber
		}
	}
	if x, ok := ParseDate(a); ok {
		if y, ok := ParseDate(b); ok {
			return x.Compare(y), ByDate
		}
	}
	return strings.Compare(a, b), ByText
}

// CompareAs orders two values of an attribute of the given kind, tracing the
// branch taken at debug level.
func CompareAs(kind Kind, a, b string) int {
	c, branch := Compare(a, b)
	if kind == Reversive {
		c = -c
	}
	slog.Debug("attr compare", "a", a, "b", b, "branch", string(branch), "kind", kind.String(), "result", c)
	return c
}

func cmpInt(x, y int64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}
