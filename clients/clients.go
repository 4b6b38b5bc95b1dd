package clients

import (
	"context"
	"net"
	"net/http"
	"time"
)

type HTTP struct{ c *http.Client }

// NewHTTP bounds connection setup and the wait for response headers by
// timeout. Streamed bodies are read until the server finishes or ctx is done.
func NewHTTP(timeout time.Duration) *HTTP {
	t := http.DefaultTransport.(*http.Transport).Clone()
	if timeout > 0 {
		t.DialContext = (&net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}).DialContext
		t.TLSHandshakeTimeout = timeout
		t.ResponseHeaderTimeout = timeout
	}
	return &HTTP{c: &http.Client{Transport: t}}
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Streamer pushes reply fragments to fn in arrival order. An error from fn
// stops the stream and is returned as is.
type Streamer interface {
	Stream(ctx context.Context, msgs []Message, fn func(fragment string) error) error
}
