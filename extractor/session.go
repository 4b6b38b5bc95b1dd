// Package extractor pulls an affect marker out of a streamed model reply.
//
// A Session buffers the first fragments of a turn until the marker grammar
// matches, emits the coordinate once, and then passes every later fragment
// straight through. If the visible buffer grows past the grammar threshold
// without a match the session gives up and streams the text unchanged.
// Auxiliary blocks such as reasoning sections are removed in every phase.
package extractor

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/maastricht-university/emoface/expression"
)

var ErrClosed = errors.New("extractor: session closed")

type Phase int

const (
	Scanning Phase = iota
	Passthrough
	Exhausted
)

func (p Phase) String() string {
	switch p {
	case Scanning:
		return "scanning"
	case Passthrough:
		return "passthrough"
	case Exhausted:
		return "exhausted"
	}
	return "unknown"
}

type Interpolator interface {
	Interpolate(expression.Coordinate) expression.Vector
}

// Session holds the state of a single turn. It is not safe for concurrent
// use; fragments must be fed in arrival order.
type Session struct {
	g      *Grammar
	interp Interpolator
	emit   Emitter

	aux      filter
	buf      strings.Builder // visible text while scanning
	raw      int             // bytes fed while scanning
	sent     strings.Builder
	phase    Phase
	closed   bool
	unclosed bool
}

func NewSession(g *Grammar, interp Interpolator, emit Emitter) *Session {
	return &Session{g: g, interp: interp, emit: emit, aux: g.newFilter()}
}

func (s *Session) Phase() Phase { return s.phase }

// Unclosed reports whether the turn ended inside an auxiliary block. The
// text after its open delimiter was never emitted.
func (s *Session) Unclosed() bool { return s.unclosed }

// Feed consumes the next fragment. Auxiliary blocks are removed in every
// phase; outside them, fragments after the scanning phase pass through as is.
func (s *Session) Feed(fragment string) error {
	if s.closed {
		return ErrClosed
	}
	vis := s.aux.write(fragment)
	if s.phase != Scanning {
		return s.text(vis)
	}

	s.buf.WriteString(vis)
	s.raw += len(fragment)
	buf := s.buf.String()
	if m, ok := s.g.find(buf); ok {
		s.phase = Passthrough
		s.buf.Reset()
		return s.matched(buf, m)
	}
	if utf8.RuneCountInString(buf) > s.g.threshold || s.raw > s.g.maxBuffer {
		s.phase = Exhausted
		s.buf.Reset()
		return s.text(buf)
	}
	return nil
}

func (s *Session) matched(vis string, m match) error {
	ev := Event{
		Kind:       KindCoordinate,
		Coordinate: m.at,
		Label:      m.label,
		Expression: s.interp.Interpolate(m.at),
	}
	if err := s.emit(ev); err != nil {
		return err
	}
	rest := vis[m.end:]
	if s.g.preamble == PreambleForward {
		rest = vis[:m.start] + rest
	}
	return s.text(rest)
}

// Close ends the turn: an unmatched buffer and any held text are flushed and
// turn-complete is emitted.
func (s *Session) Close() error {
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	rest, open := s.aux.flush()
	s.unclosed = open
	if s.phase == Scanning {
		rest = s.buf.String() + rest
		s.buf.Reset()
	}
	if err := s.text(rest); err != nil {
		return err
	}
	return s.emit(Event{Kind: KindTurnComplete, Text: s.sent.String()})
}

func (s *Session) text(chunk string) error {
	if chunk == "" {
		return nil
	}
	s.sent.WriteString(chunk)
	return s.emit(Event{Kind: KindText, Text: chunk})
}
