package orchestrator

import (
	"time"

	"github.com/maastricht-university/emoface/clients"
	"github.com/maastricht-university/emoface/expression"
	"github.com/maastricht-university/emoface/extractor"
)

// messages prepends the system prompt and, with history disabled, keeps only
// the latest user message.
func (p *Pipeline) messages(history []clients.Message) []clients.Message {
	out := make([]clients.Message, 0, len(history)+1)
	if p.prompt != "" {
		out = append(out, clients.Message{Role: clients.RoleSystem, Content: p.prompt})
	}
	if p.history {
		for _, m := range history {
			if m.Role == clients.RoleSystem {
				continue
			}
			out = append(out, m)
		}
		return out
	}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == clients.RoleUser {
			return append(out, history[i])
		}
	}
	return out
}

// timedInterp measures time spent in the engine for one turn.
type timedInterp struct {
	e   extractor.Interpolator
	dur time.Duration
}

func (t *timedInterp) Interpolate(c expression.Coordinate) expression.Vector {
	start := time.Now()
	v := t.e.Interpolate(c)
	t.dur += time.Since(start)
	return v
}
