package extractor

import (
	"fmt"

	"github.com/maastricht-university/emoface/expression"
)

type Kind int

const (
	KindCoordinate Kind = iota + 1
	KindText
	KindTurnComplete
)

func (k Kind) String() string {
	switch k {
	case KindCoordinate:
		return "coordinate-found"
	case KindText:
		return "text-chunk"
	case KindTurnComplete:
		return "turn-complete"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Event is one output of a session.
//
// Coordinate, Label and Expression are set for KindCoordinate. Text holds the
// chunk for KindText, and for KindTurnComplete the concatenation of every
// chunk emitted during the turn.
type Event struct {
	Kind       Kind                  `json:"kind"`
	Coordinate expression.Coordinate `json:"coordinate"`
	Label      string                `json:"label,omitempty"`
	Expression expression.Vector     `json:"expression"`
	Text       string                `json:"text,omitempty"`
}

// Emitter receives session events in order. A returned error aborts the turn.
type Emitter func(Event) error
