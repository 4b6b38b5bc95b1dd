package orchestrator

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maastricht-university/emoface/clients"
	cfg "github.com/maastricht-university/emoface/config"
	"github.com/maastricht-university/emoface/expression"
	"github.com/maastricht-university/emoface/extractor"
)

type fakeSource struct {
	fragments []string
	err       error
	got       []clients.Message
}

func (f *fakeSource) Stream(ctx context.Context, msgs []clients.Message, fn func(string) error) error {
	f.got = msgs
	for _, s := range f.fragments {
		if err := fn(s); err != nil {
			return err
		}
	}
	return f.err
}

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func testConfig() *cfg.Root {
	c := &cfg.Root{}
	c.Expression.Preset = "default"
	c.Extractor.Preset = "tag"
	c.LLM.SystemPrompt = "sys"
	c.LLM.History = true
	return c
}

func TestRunForwardsEvents(t *testing.T) {
	dir := t.TempDir()
	timing, err := NewTimingLog(dir)
	require.NoError(t, err)

	src := &fakeSource{fragments: []string{`<think>x</think><emotion v="0.89" a="0.`, `17">happy</emotion>`, "Yay", "!"}}
	p, err := NewPipeline(testConfig(), src, timing, quietLog())
	require.NoError(t, err)

	var events []extractor.Event
	history := []clients.Message{{Role: clients.RoleUser, Content: "we won"}}
	for i := 0; i < 2; i++ {
		events = nil
		res, err := p.Run(context.Background(), "t1", history, func(ev extractor.Event) error {
			events = append(events, ev)
			return nil
		})
		require.NoError(t, err)
		assert.True(t, res.Found)
		assert.Equal(t, "happy", res.Label)
		assert.Equal(t, expression.Coordinate{V: 0.89, A: 0.17}, res.Coordinate)
		assert.Equal(t, "Yay!", res.Text)
		assert.Equal(t, extractor.Passthrough, res.Phase)
		assert.InDelta(t, 40, res.Expression.MouthCurve, 1e-3)
	}

	kinds := make([]extractor.Kind, 0, len(events))
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []extractor.Kind{extractor.KindCoordinate, extractor.KindText, extractor.KindText, extractor.KindTurnComplete}, kinds)

	require.Len(t, src.got, 2)
	assert.Equal(t, clients.RoleSystem, src.got[0].Role)

	f, err := os.Open(timing.Path())
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, timingHeaders, rows[0])
}

func TestRunSourceFailure(t *testing.T) {
	boom := errors.New("connection reset")
	src := &fakeSource{fragments: []string{"partial <emo"}, err: boom}
	p, err := NewPipeline(testConfig(), src, nil, quietLog())
	require.NoError(t, err)

	var events []extractor.Event
	res, err := p.Run(context.Background(), "t2", nil, func(ev extractor.Event) error {
		events = append(events, ev)
		return nil
	})
	require.ErrorIs(t, err, boom)
	assert.False(t, res.Found)
	assert.Empty(t, events)
}

func TestRunWithoutMarker(t *testing.T) {
	long := strings.Repeat("just talking. ", 30)
	p, err := NewPipeline(testConfig(), &fakeSource{fragments: []string{long[:100], long[100:]}}, nil, quietLog())
	require.NoError(t, err)

	var text strings.Builder
	res, err := p.Run(context.Background(), "t3", nil, func(ev extractor.Event) error {
		if ev.Kind == extractor.KindText {
			text.WriteString(ev.Text)
		}
		assert.NotEqual(t, extractor.KindCoordinate, ev.Kind)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, extractor.Exhausted, res.Phase)
	assert.Equal(t, long, text.String())
	assert.Equal(t, long, res.Text)
}

func TestRunWarnsOnUnclosedBlock(t *testing.T) {
	l, hook := logtest.NewNullLogger()
	src := &fakeSource{fragments: []string{`<emotion v="0.1" a="0.1">ok</emotion>hi `, `<think>trailing`}}
	p, err := NewPipeline(testConfig(), src, nil, logrus.NewEntry(l))
	require.NoError(t, err)

	res, err := p.Run(context.Background(), "t4", nil, func(extractor.Event) error { return nil })
	require.NoError(t, err)
	assert.True(t, res.Unclosed)
	assert.Equal(t, "hi ", res.Text)

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && strings.Contains(e.Message, "unclosed") {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestNewPipelineRejectsBadConfig(t *testing.T) {
	c := testConfig()
	c.Extractor.Pattern = `(?P<v>\d+)`
	_, err := NewPipeline(c, &fakeSource{}, nil, quietLog())
	assert.Error(t, err)

	c = testConfig()
	c.Expression.Preset = "missing"
	_, err = NewPipeline(c, &fakeSource{}, nil, quietLog())
	assert.Error(t, err)
}

func TestMessagesHistoryToggle(t *testing.T) {
	history := []clients.Message{
		{Role: clients.RoleSystem, Content: "client supplied"},
		{Role: clients.RoleUser, Content: "hi"},
		{Role: clients.RoleAssistant, Content: "hello"},
		{Role: clients.RoleUser, Content: "how are you"},
	}

	p := &Pipeline{prompt: "sys", history: true}
	got := p.messages(history)
	require.Len(t, got, 4)
	assert.Equal(t, "sys", got[0].Content)
	assert.Equal(t, "how are you", got[3].Content)

	p.history = false
	got = p.messages(history)
	require.Len(t, got, 2)
	assert.Equal(t, "how are you", got[1].Content)

	p.prompt = ""
	assert.Empty(t, p.messages(nil))
}

func TestNewSource(t *testing.T) {
	s, err := NewSource(cfg.LLM{Provider: "ollama", Model: "m", Timeout: 1})
	require.NoError(t, err)
	assert.IsType(t, &clients.Ollama{}, s)

	s, err = NewSource(cfg.LLM{Provider: "openai", Model: "m", BaseURL: "http://localhost/v1/"})
	require.NoError(t, err)
	assert.IsType(t, &clients.OpenAI{}, s)

	_, err = NewSource(cfg.LLM{Provider: "smoke-signals"})
	assert.Error(t, err)
}

func TestRecordLogConcurrentAppends(t *testing.T) {
	l, err := NewRecordLog(t.TempDir())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.SaveRecord(Record{
				SubjectID:         "s1",
				EmotionLabel:      "happy",
				AnimationDuration: 1000,
				Vector:            expression.Vector{EyeOpenness: 0.2, MouthWidth: 2.5},
			}))
		}()
	}
	wg.Wait()

	f, err := os.Open(l.Path())
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 21)
	assert.Equal(t, "subject_id", rows[0][0])
	assert.Equal(t, "mouthWidth", rows[0][12])
	assert.Equal(t, []string{"s1", "happy", "1000", "0.2"}, []string{rows[1][0], rows[1][2], rows[1][3], rows[1][4]})
	assert.Equal(t, "2.5", rows[1][12])
	assert.NotEmpty(t, rows[1][1])
}
