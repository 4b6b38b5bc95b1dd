package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/maastricht-university/emoface/clients"
	cfg "github.com/maastricht-university/emoface/config"
	"github.com/maastricht-university/emoface/expression"
	"github.com/maastricht-university/emoface/extractor"
	"github.com/maastricht-university/emoface/metrics"
)

// Pipeline runs conversational turns. It holds only immutable collaborators;
// every turn gets its own extractor session.
type Pipeline struct {
	src     clients.Streamer
	grammar *extractor.Grammar
	engine  extractor.Interpolator
	timing  *CSVLog
	prompt  string
	history bool
	log     *logrus.Entry
}

func NewPipeline(c *cfg.Root, src clients.Streamer, timing *CSVLog, log *logrus.Entry) (*Pipeline, error) {
	ec, err := c.ExpressionConfig()
	if err != nil {
		return nil, err
	}
	engine, err := expression.New(ec)
	if err != nil {
		return nil, err
	}
	gc, err := c.GrammarConfig()
	if err != nil {
		return nil, err
	}
	grammar, err := extractor.NewGrammar(gc)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		src:     src,
		grammar: grammar,
		engine:  engine,
		timing:  timing,
		prompt:  c.LLM.SystemPrompt,
		history: c.LLM.History,
		log:     log,
	}, nil
}

// NewSource builds the token source configured under llm.
func NewSource(c cfg.LLM) (clients.Streamer, error) {
	h := clients.NewHTTP(cfg.DurSeconds(c.Timeout))
	switch c.Provider {
	case "ollama":
		return clients.NewOllama(h, c.BaseURL, c.Model, c.Temperature), nil
	case "openai":
		return clients.NewOpenAI(h, c.BaseURL, c.APIKey, c.Model, c.Temperature), nil
	}
	return nil, fmt.Errorf("llm: unknown provider %q", c.Provider)
}

// Run streams one reply for history and forwards extractor events to emit.
// A source failure is returned without a turn-complete event.
func (p *Pipeline) Run(ctx context.Context, turnID string, history []clients.Message, emit extractor.Emitter) (*Result, error) {
	log := p.log.WithField("turn", turnID)
	start := time.Now()
	res := &Result{TurnID: turnID}

	interp := &timedInterp{e: p.engine}
	sess := extractor.NewSession(p.grammar, interp, func(ev extractor.Event) error {
		switch ev.Kind {
		case extractor.KindCoordinate:
			res.Found = true
			res.Coordinate = ev.Coordinate
			res.Label = ev.Label
			res.Expression = ev.Expression
			log.WithFields(logrus.Fields{"v": ev.Coordinate.V, "a": ev.Coordinate.A, "label": ev.Label}).Debug("marker found")
		case extractor.KindTurnComplete:
			res.Text = ev.Text
		}
		return emit(ev)
	})

	msgs := p.messages(history)
	log.WithField("messages", len(msgs)).Debug("turn started")

	llmStart := time.Now()
	err := p.src.Stream(ctx, msgs, func(fragment string) error {
		metrics.RecordFragment()
		return sess.Feed(fragment)
	})
	res.Timing.LLM = time.Since(llmStart)
	if err == nil {
		err = sess.Close()
	}
	res.Phase = sess.Phase()
	res.Unclosed = sess.Unclosed()
	res.Timing.Param = interp.dur
	res.Timing.Total = time.Since(start)

	if err != nil {
		metrics.RecordTurn(metrics.OutcomeFailed)
		if errors.Is(err, context.Canceled) {
			log.Info("turn canceled")
		} else {
			log.WithError(err).Warn("turn failed")
		}
		return res, fmt.Errorf("turn %s: %w", turnID, err)
	}

	switch {
	case res.Found:
		metrics.RecordTurn(metrics.OutcomeMarker)
	case res.Phase == extractor.Exhausted:
		metrics.RecordTurn(metrics.OutcomeExhausted)
		log.Warn("no marker within threshold, text streamed as is")
	default:
		metrics.RecordTurn(metrics.OutcomeUnmatched)
		log.Warn("stream ended before a marker was found")
	}
	if res.Unclosed {
		log.Warn("reply ended inside an unclosed auxiliary block, its text was dropped")
	}
	metrics.ObserveStage("total", res.Timing.Total)
	metrics.ObserveStage("llm", res.Timing.LLM)
	metrics.ObserveStage("param", res.Timing.Param)

	if p.timing != nil {
		if err := p.timing.saveTiming(time.Now(), res.Timing); err != nil {
			log.WithError(err).Warn("timing not saved")
		}
	}
	log.WithFields(logrus.Fields{
		"phase": res.Phase,
		"total": res.Timing.Total,
		"llm":   res.Timing.LLM,
	}).Info("turn complete")
	return res, nil
}
