package extractor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/maastricht-university/emoface/expression"
)

type Preamble string

const (
	// PreambleDiscard drops visible text that precedes the marker.
	PreambleDiscard Preamble = "discard"
	// PreambleForward emits it ahead of the text following the marker.
	PreambleForward Preamble = "forward"
)

const (
	DefaultThreshold = 300
	DefaultMaxBuffer = 64 << 10
)

// Block is an auxiliary structural span, such as a reasoning section,
// delimited by literal open and close tokens.
type Block struct {
	Open  string `yaml:"open" mapstructure:"open"`
	Close string `yaml:"close" mapstructure:"close"`
}

type GrammarConfig struct {
	Pattern   string   `yaml:"pattern" mapstructure:"pattern"`
	Scale     float64  `yaml:"scale" mapstructure:"scale"`
	Threshold int      `yaml:"threshold" mapstructure:"threshold"`
	MaxBuffer int      `yaml:"max_buffer" mapstructure:"max_buffer"`
	Preamble  Preamble `yaml:"preamble" mapstructure:"preamble"`
	Blocks    []Block  `yaml:"blocks" mapstructure:"blocks"`
}

var grammarPresets = map[string]GrammarConfig{
	"tag": {
		Pattern: `(?s)<emotion\s+v\s*=\s*"(?P<v>[-+]?\d+(?:\.\d+)?)"\s+a\s*=\s*"(?P<a>[-+]?\d+(?:\.\d+)?)"\s*>(?P<label>.*?)</emotion>`,
		Scale:   1,
		Blocks:  []Block{{Open: "<think>", Close: "</think>"}},
	},
	// EMOTION: (3.0, -1.5) (hopeful)\n with coordinates on [-5, 5].
	"line": {
		Pattern: `(?i)EMOTION:\s*\(\s*(?P<v>[-+]?\d+(?:\.\d*)?)\s*,\s*(?P<a>[-+]?\d+(?:\.\d*)?)\s*\)(?P<label>[^\n]*)\n`,
		Scale:   5,
	},
}

func GrammarPreset(name string) (GrammarConfig, error) {
	if name == "" {
		name = "tag"
	}
	g, ok := grammarPresets[name]
	if !ok {
		return GrammarConfig{}, fmt.Errorf("extractor: unknown grammar preset %q", name)
	}
	g.Blocks = append([]Block(nil), g.Blocks...)
	return g, nil
}

// Grammar is a compiled marker grammar. It is immutable and may be shared
// by any number of sessions.
type Grammar struct {
	re        *regexp.Regexp
	v, a, lbl int
	scale     float64
	threshold int
	maxBuffer int
	preamble  Preamble
	blocks    []Block
}

func NewGrammar(cfg GrammarConfig) (*Grammar, error) {
	re, err := regexp.Compile(cfg.Pattern)
	if err != nil {
		return nil, fmt.Errorf("extractor: marker pattern: %w", err)
	}
	g := &Grammar{
		re:        re,
		v:         re.SubexpIndex("v"),
		a:         re.SubexpIndex("a"),
		lbl:       re.SubexpIndex("label"),
		scale:     cfg.Scale,
		threshold: cfg.Threshold,
		maxBuffer: cfg.MaxBuffer,
		preamble:  cfg.Preamble,
	}
	if g.v < 0 || g.a < 0 {
		return nil, fmt.Errorf("extractor: marker pattern needs named groups v and a")
	}
	if g.scale == 0 {
		g.scale = 1
	}
	if g.threshold <= 0 {
		g.threshold = DefaultThreshold
	}
	if g.maxBuffer <= 0 {
		g.maxBuffer = DefaultMaxBuffer
	}
	switch g.preamble {
	case "":
		g.preamble = PreambleDiscard
	case PreambleDiscard, PreambleForward:
	default:
		return nil, fmt.Errorf("extractor: unknown preamble policy %q", cfg.Preamble)
	}
	for _, b := range cfg.Blocks {
		if b.Open == "" || b.Close == "" {
			return nil, fmt.Errorf("extractor: block delimiters must be non-empty")
		}
		g.blocks = append(g.blocks, b)
	}
	return g, nil
}

type match struct {
	start, end int
	at         expression.Coordinate
	label      string
}

func (g *Grammar) find(s string) (match, bool) {
	loc := g.re.FindStringSubmatchIndex(s)
	if loc == nil {
		return match{}, false
	}
	group := func(i int) string {
		if i < 0 || loc[2*i] < 0 {
			return ""
		}
		return s[loc[2*i]:loc[2*i+1]]
	}
	v, err := strconv.ParseFloat(group(g.v), 64)
	if err != nil {
		return match{}, false
	}
	a, err := strconv.ParseFloat(group(g.a), 64)
	if err != nil {
		return match{}, false
	}
	return match{
		start: loc[0],
		end:   loc[1],
		at:    expression.Coordinate{V: v / g.scale, A: a / g.scale},
		label: cleanLabel(group(g.lbl)),
	}, true
}

func cleanLabel(s string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), "()（）[]【】"))
}

// filter removes auxiliary blocks from a fragment stream. A trailing
// partial open delimiter, or a partial close delimiter inside a block, is
// held back until the next write so the output never depends on where the
// stream was split.
type filter struct {
	blocks  []Block
	in      int // index of the open block, -1 outside
	pending string
}

func (g *Grammar) newFilter() filter { return filter{blocks: g.blocks, in: -1} }

func (f *filter) write(s string) string {
	if len(f.blocks) == 0 {
		return s
	}
	s = f.pending + s
	f.pending = ""
	var b strings.Builder
	for {
		if f.in >= 0 {
			cl := f.blocks[f.in].Close
			end := strings.Index(s, cl)
			if end < 0 {
				if keep := len(cl) - 1; len(s) > keep {
					s = s[len(s)-keep:]
				}
				f.pending = s
				return b.String()
			}
			s = s[end+len(cl):]
			f.in = -1
			continue
		}
		at, blk := -1, -1
		for i, cand := range f.blocks {
			if j := strings.Index(s, cand.Open); j >= 0 && (at < 0 || j < at) {
				at, blk = j, i
			}
		}
		if at < 0 {
			keep := f.partialOpen(s)
			b.WriteString(s[:len(s)-keep])
			f.pending = s[len(s)-keep:]
			return b.String()
		}
		b.WriteString(s[:at])
		s = s[at+len(f.blocks[blk].Open):]
		f.in = blk
	}
}

// partialOpen returns the length of the longest suffix of s that is a proper
// prefix of an open delimiter.
func (f *filter) partialOpen(s string) int {
	n := 0
	for _, b := range f.blocks {
		for k := len(b.Open) - 1; k > n; k-- {
			if strings.HasSuffix(s, b.Open[:k]) {
				n = k
				break
			}
		}
	}
	return n
}

// flush ends the stream. Held text outside a block is returned; open reports
// whether the stream ended inside a block, whose text is dropped.
func (f *filter) flush() (rest string, open bool) {
	rest, open = f.pending, f.in >= 0
	f.pending = ""
	if open {
		rest = ""
	}
	return rest, open
}
