package server

import (
	"encoding/json"

	"github.com/maastricht-university/emoface/clients"
	"github.com/maastricht-university/emoface/expression"
)

// Event names shared with the browser page.
const (
	EventUserMessage      = "user_message"
	EventSaveData         = "save_data"
	EventUpdateExpression = "update_expression"
	EventBotStream        = "bot_stream"
	EventBotStreamEnd     = "bot_stream_end"
	EventSaveSuccess      = "save_success"
	EventSaveError        = "save_error"
	EventError            = "error"
)

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type userMessage struct {
	Messages []clients.Message `json:"messages"`
}

type expressionUpdate struct {
	expression.Vector
	Valence float64 `json:"valence"`
	Arousal float64 `json:"arousal"`
	Label   string  `json:"label"`
}

type chunk struct {
	Chunk string `json:"chunk"`
}

type streamEnd struct {
	Text string `json:"text"`
}

type message struct {
	Message string `json:"message"`
}
