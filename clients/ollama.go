package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// --- Ollama (/api/chat) ---
type OllamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
}
type OllamaReq struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  *OllamaOptions `json:"options,omitempty"`
}
type OllamaChunk struct {
	Message Message `json:"message"`
	Done    bool    `json:"done"`
	Error   string  `json:"error,omitempty"`
}

type Ollama struct {
	h     *HTTP
	url   string
	model string
	opts  *OllamaOptions
}

func NewOllama(h *HTTP, url, model string, temperature float64) *Ollama {
	o := &Ollama{h: h, url: url, model: model}
	if temperature > 0 {
		o.opts = &OllamaOptions{Temperature: temperature}
	}
	return o
}

func (o *Ollama) Stream(ctx context.Context, msgs []Message, fn func(string) error) error {
	b, err := json.Marshal(OllamaReq{Model: o.model, Messages: msgs, Stream: true, Options: o.opts})
	if err != nil {
		return fmt.Errorf("ollama encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url+"/api/chat", bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.h.c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ollama %s: %s", resp.Status, string(body))
	}

	dec := json.NewDecoder(resp.Body)
	for {
		var chunk OllamaChunk
		if err := dec.Decode(&chunk); err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("ollama: stream ended without done")
			}
			return fmt.Errorf("ollama decode: %w", err)
		}
		if chunk.Error != "" {
			return fmt.Errorf("ollama: %s", chunk.Error)
		}
		if s := chunk.Message.Content; s != "" {
			if err := fn(s); err != nil {
				return err
			}
		}
		if chunk.Done {
			return nil
		}
	}
}
