// Package message defines the immutable messages the index observes.
package message

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"time"
)

// ErrInvalidID is returned for ids the index cannot hold.
var ErrInvalidID = errors.New("message: id must be between 1 and 2^64-2")

// Bout is the conversation a message belongs to.
type Bout struct {
	ID           uint64    `json:"id"`
	Title        string    `json:"title"`
	Date         time.Time `json:"date"`
	Participants []string  `json:"participants"`
}

// Message is one posted message. The index never mutates it.
type Message struct {
	ID          uint64    `json:"id"`
	Text        string    `json:"text"`
	Author      string    `json:"author"`
	AuthorAlias string    `json:"alias"`
	Date        time.Time `json:"date"`
	Bout        Bout      `json:"bout"`
}

// Validate checks the fields the index relies on.
func (m Message) Validate() error {
	if !ValidID(m.ID) {
		return fmt.Errorf("%w: %d", ErrInvalidID, m.ID)
	}
	return nil
}

// ValidID reports whether id can be stored. Zero and MaxUint64 are reserved
// as cursor sentinels.
func ValidID(id uint64) bool {
	return id != 0 && id != math.MaxUint64
}

func (m Message) String() string {
	return fmt.Sprintf("msg#%d in bout#%d by %s", m.ID, m.Bout.ID, m.Author)
}

// Decoder reads messages from JSON lines.
type Decoder struct {
	scanner *bufio.Scanner
	line    int
}

// NewDecoder returns a decoder reading one JSON object per line from r.
// Blank lines are skipped.
func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &Decoder{scanner: sc}
}

// Next decodes the next message, returning io.EOF at the end.
func (d *Decoder) Next() (Message, error) {
	for d.scanner.Scan() {
		d.line++
		raw := d.scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		var m Message
		if err := json.Unmarshal(raw, &m); err != nil {
			return Message{}, fmt.Errorf("message: line %d: %w", d.line, err)
		}
		if err := m.Validate(); err != nil {
			return Message{}, fmt.Errorf("message: line %d: %w", d.line, err)
		}
		return m, nil
	}
	if err := d.scanner.Err(); err != nil {
		return Message{}, err
	}
	return Message{}, io.EOF
}
