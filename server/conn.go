package server

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/maastricht-university/emoface/clients"
	cfg "github.com/maastricht-university/emoface/config"
	"github.com/maastricht-university/emoface/extractor"
	"github.com/maastricht-university/emoface/metrics"
	"github.com/maastricht-university/emoface/orchestrator"
)

const maxQueuedTurns = 4

type conn struct {
	s   *Server
	ws  *websocket.Conn
	log *logrus.Entry

	writeMu sync.Mutex
	turns   chan []clients.Message
}

func newConn(s *Server, ws *websocket.Conn) *conn {
	return &conn{
		s:     s,
		ws:    ws,
		log:   s.log.WithField("conn", uuid.NewString()),
		turns: make(chan []clients.Message, maxQueuedTurns),
	}
}

func (c *conn) serve(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.runTurns(ctx)
	}()
	defer func() {
		close(c.turns)
		cancel()
		<-done
		c.ws.Close()
		c.log.Info("disconnected")
	}()

	c.log.Info("connected")
	for {
		_, b, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.WithError(err).Warn("read failed")
			}
			return
		}
		var env envelope
		if err := json.Unmarshal(b, &env); err != nil {
			c.sendError("malformed message")
			continue
		}
		switch env.Event {
		case EventUserMessage:
			c.enqueue(env.Data)
		case EventSaveData:
			c.save(env.Data)
		default:
			c.sendError("unknown event " + env.Event)
		}
	}
}

func (c *conn) enqueue(data json.RawMessage) {
	var um userMessage
	if err := json.Unmarshal(data, &um); err != nil || len(um.Messages) == 0 {
		c.sendError("user_message needs messages")
		return
	}
	select {
	case c.turns <- um.Messages:
	default:
		c.sendError("too many pending messages")
	}
}

// runTurns processes queued turns one at a time so replies never interleave.
func (c *conn) runTurns(ctx context.Context) {
	for msgs := range c.turns {
		if ctx.Err() != nil {
			continue
		}
		turnID := uuid.NewString()
		if n := len(msgs); n > 0 {
			c.log.WithField("turn", turnID).Infof("[user] %s", msgs[n-1].Content)
		}
		if _, err := c.s.runner.Run(ctx, turnID, msgs, c.forward); err != nil && ctx.Err() == nil {
			c.sendError(err.Error())
		}
	}
}

func (c *conn) forward(ev extractor.Event) error {
	switch ev.Kind {
	case extractor.KindCoordinate:
		return c.send(EventUpdateExpression, expressionUpdate{
			Vector:  ev.Expression,
			Valence: ev.Coordinate.V,
			Arousal: ev.Coordinate.A,
			Label:   ev.Label,
		})
	case extractor.KindText:
		return c.send(EventBotStream, chunk{Chunk: ev.Text})
	case extractor.KindTurnComplete:
		return c.send(EventBotStreamEnd, streamEnd{Text: strings.TrimSpace(ev.Text)})
	}
	return nil
}

func (c *conn) save(data json.RawMessage) {
	if c.s.records == nil {
		c.send(EventSaveError, message{Message: "recording is disabled"})
		return
	}
	var rec orchestrator.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		metrics.RecordSave(false)
		c.send(EventSaveError, message{Message: err.Error()})
		return
	}
	if err := c.s.records.SaveRecord(rec); err != nil {
		metrics.RecordSave(false)
		c.log.WithError(err).Error("record not saved")
		c.send(EventSaveError, message{Message: err.Error()})
		return
	}
	metrics.RecordSave(true)
	c.log.WithField("subject", rec.SubjectID).Info("record saved")
	c.send(EventSaveSuccess, message{Message: "saved to " + c.s.records.Path()})
}

func (c *conn) sendError(msg string) {
	c.send(EventError, message{Message: msg})
}

func (c *conn) send(event string, data any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	timeout := cfg.DurSeconds(c.s.cfg.Server.WriteTimeout)
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(timeout))
	return c.ws.WriteJSON(outbound{Event: event, Data: data})
}
