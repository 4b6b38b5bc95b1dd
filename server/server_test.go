package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maastricht-university/emoface/clients"
	cfg "github.com/maastricht-university/emoface/config"
	"github.com/maastricht-university/emoface/metrics"
	"github.com/maastricht-university/emoface/orchestrator"
)

type scriptedSource struct {
	fragments []string
	err       error
}

func (s *scriptedSource) Stream(ctx context.Context, _ []clients.Message, fn func(string) error) error {
	for _, f := range s.fragments {
		if err := fn(f); err != nil {
			return err
		}
	}
	return s.err
}

type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func setup(t *testing.T, src clients.Streamer) (*httptest.Server, *cfg.Root) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	c := &cfg.Root{}
	c.Expression.Preset = "default"
	c.Extractor.Preset = "tag"
	c.LLM.History = true
	c.Paths.Static = t.TempDir()
	c.Paths.Outputs = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(c.Paths.Static, "index.html"), []byte("<html>face</html>"), 0o644))

	p, err := orchestrator.NewPipeline(c, src, nil, logrus.NewEntry(log))
	require.NoError(t, err)
	records, err := orchestrator.NewRecordLog(c.Paths.Outputs)
	require.NoError(t, err)

	srv := httptest.NewServer(New(c, p, records, metrics.NewRegistry(), logrus.NewEntry(log)).Handler())
	t.Cleanup(srv.Close)
	return srv, c
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, event string, data any) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(map[string]any{"event": event, "data": data}))
}

func read(t *testing.T, ws *websocket.Conn) inbound {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var in inbound
	require.NoError(t, ws.ReadJSON(&in))
	return in
}

func TestTurnOverWebsocket(t *testing.T) {
	srv, _ := setup(t, &scriptedSource{fragments: []string{
		`<emotion v="0.89" a="0.17">`, `happy</emotion>`, " Hello", " there! ",
	}})
	ws := dial(t, srv)

	send(t, ws, EventUserMessage, map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})

	in := read(t, ws)
	require.Equal(t, EventUpdateExpression, in.Event)
	var upd map[string]any
	require.NoError(t, json.Unmarshal(in.Data, &upd))
	assert.Equal(t, "happy", upd["label"])
	assert.Equal(t, 0.89, upd["valence"])
	assert.InDelta(t, 40, upd["mouthCurve"], 1e-3)
	assert.Contains(t, upd, "eyeOpenness")

	var chunks []string
	for {
		in = read(t, ws)
		if in.Event != EventBotStream {
			break
		}
		var c chunk
		require.NoError(t, json.Unmarshal(in.Data, &c))
		chunks = append(chunks, c.Chunk)
	}
	assert.Equal(t, []string{" Hello", " there! "}, chunks)
	require.Equal(t, EventBotStreamEnd, in.Event)
	var end streamEnd
	require.NoError(t, json.Unmarshal(in.Data, &end))
	assert.Equal(t, "Hello there!", end.Text)
}

func TestTurnFailureReportsError(t *testing.T) {
	srv, _ := setup(t, &scriptedSource{err: errors.New("model offline")})
	ws := dial(t, srv)

	send(t, ws, EventUserMessage, map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})
	in := read(t, ws)
	require.Equal(t, EventError, in.Event)
	assert.Contains(t, string(in.Data), "model offline")
}

func TestSaveData(t *testing.T) {
	srv, c := setup(t, &scriptedSource{})
	ws := dial(t, srv)

	send(t, ws, EventSaveData, map[string]any{
		"subject_id":        "subj-1",
		"timestamp":         "2025-01-01T00:00:00Z",
		"emotion_label":     "calm",
		"animationDuration": 800,
		"eyeOpenness":       0.2,
		"mouthWidth":        1.2,
	})
	in := read(t, ws)
	require.Equal(t, EventSaveSuccess, in.Event)

	b, err := os.ReadFile(filepath.Join(c.Paths.Outputs, "emotion_data.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "subject_id,timestamp,emotion_label,animationDuration,eyeOpenness"))
	assert.True(t, strings.HasPrefix(lines[1], "subj-1,2025-01-01T00:00:00Z,calm,800,0.2,"))
	assert.True(t, strings.HasSuffix(lines[1], ",1.2"))
}

func TestBadMessages(t *testing.T) {
	srv, _ := setup(t, &scriptedSource{})
	ws := dial(t, srv)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, EventError, read(t, ws).Event)

	send(t, ws, "dance", nil)
	assert.Equal(t, EventError, read(t, ws).Event)

	send(t, ws, EventUserMessage, map[string]any{"messages": []any{}})
	assert.Equal(t, EventError, read(t, ws).Event)

	send(t, ws, EventSaveData, "not a record")
	assert.Equal(t, EventSaveError, read(t, ws).Event)
}

func TestStaticHealthAndMetrics(t *testing.T) {
	srv, _ := setup(t, &scriptedSource{})

	get := func(path string) (int, string) {
		resp, err := srv.Client().Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(b)
	}

	code, body := get("/")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "face")

	code, body = get("/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)

	code, body = get("/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "emoface_connections_active")
}

func TestCheckOrigin(t *testing.T) {
	c := &cfg.Root{}
	s := New(c, nil, nil, nil, logrus.NewEntry(logrus.New()))
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Origin", "http://evil.example")
	assert.True(t, s.checkOrigin(r))

	c.Server.AllowedOrigins = []string{"http://127.0.0.1:5000"}
	assert.False(t, s.checkOrigin(r))
	r.Header.Set("Origin", "http://127.0.0.1:5000")
	assert.True(t, s.checkOrigin(r))
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	c := &cfg.Root{}
	c.Server.Addr = "127.0.0.1:0"
	s := New(c, nil, nil, nil, logrus.NewEntry(log))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
