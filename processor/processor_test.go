package processor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"translation-relay/logging"
	"translation-relay/metrics"
	"translation-relay/models"
)

type stubText struct {
	mu         sync.Mutex
	translate  func(text, hint string) (string, error)
	reply      func(text string) (string, error)
	replyCalls int
	lastHint   string
}

func (s *stubText) Translate(_ context.Context, text, hint string) (string, error) {
	s.mu.Lock()
	s.lastHint = hint
	s.mu.Unlock()
	return s.translate(text, hint)
}

func (s *stubText) GenerateReply(_ context.Context, text string) (string, error) {
	s.mu.Lock()
	s.replyCalls++
	s.mu.Unlock()
	return s.reply(text)
}

func fixed(out string) func(string, string) (string, error) {
	return func(string, string) (string, error) { return out, nil }
}

func newProcessor(text *stubText) (*Processor, *metrics.Registry) {
	m := metrics.NewRegistry()
	return New(text, m, logging.Discard()), m
}

func TestHandle_TranslationOnly(t *testing.T) {
	text := &stubText{translate: fixed("hello")}
	p, m := newProcessor(text)

	res, err := p.Handle(context.Background(), "u1", models.IncomingMessage{UserID: "u1", Text: "hola"})
	require.NoError(t, err)
	assert.Equal(t, "hello", res.TranslatedText)
	assert.Equal(t, "hola", res.OriginalText)
	assert.Equal(t, "u1", res.UserID)
	assert.Nil(t, res.AutoReply)
	assert.False(t, res.Timestamp.IsZero())
	assert.Zero(t, text.replyCalls)

	raw, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"auto_reply":null`)

	assert.Equal(t, models.MetricsSnapshot{TotalMessages: 1, TranslatedCount: 1, Errors: 0}, m.Snapshot())
}

func TestHandle_WithReply(t *testing.T) {
	text := &stubText{
		translate: fixed("hello"),
		reply: func(in string) (string, error) {
			assert.Equal(t, "hello", in)
			return "Thanks for reaching out.", nil
		},
	}
	p, m := newProcessor(text)

	res, err := p.Handle(context.Background(), "u1", models.IncomingMessage{UserID: "u1", Text: "hola", Language: "es", NeedResponse: true})
	require.NoError(t, err)
	require.NotNil(t, res.AutoReply)
	assert.Equal(t, "Thanks for reaching out.", *res.AutoReply)
	assert.Equal(t, "es", text.lastHint)
	assert.Equal(t, models.MetricsSnapshot{TotalMessages: 1, TranslatedCount: 1, Errors: 0}, m.Snapshot())
}

func TestHandle_TranslateFailure(t *testing.T) {
	boom := errors.New("service exploded")
	text := &stubText{translate: func(string, string) (string, error) { return "", boom }}
	p, m := newProcessor(text)

	msg := models.IncomingMessage{UserID: "u1", Text: "bonjour", NeedResponse: true}
	_, err := p.Handle(context.Background(), "u1", msg)
	require.ErrorIs(t, err, boom)
	assert.Zero(t, text.replyCalls)

	er := models.NewErrorResult("u1", msg, err)
	assert.Equal(t, "bonjour", er.OriginalText)
	assert.Equal(t, "service exploded", er.Error)
	assert.Equal(t, models.MetricsSnapshot{TotalMessages: 1, TranslatedCount: 0, Errors: 1}, m.Snapshot())
}

func TestHandle_ReplyFailureFailsMessage(t *testing.T) {
	boom := errors.New("no reply today")
	text := &stubText{
		translate: fixed("hello"),
		reply:     func(string) (string, error) { return "", boom },
	}
	p, m := newProcessor(text)

	_, err := p.Handle(context.Background(), "u1", models.IncomingMessage{UserID: "u1", Text: "hola", NeedResponse: true})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, models.MetricsSnapshot{TotalMessages: 1, TranslatedCount: 1, Errors: 1}, m.Snapshot())
}

func TestHandle_Concurrent(t *testing.T) {
	const n = 200
	text := &stubText{translate: func(in, _ string) (string, error) {
		if in == "fail" {
			return "", errors.New("nope")
		}
		return "ok", nil
	}}
	p, m := newProcessor(text)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := "hi"
			if i%4 == 0 {
				in = "fail"
			}
			res, err := p.Handle(context.Background(), "u", models.IncomingMessage{UserID: "u", Text: in})
			if err == nil {
				assert.Equal(t, in, res.OriginalText)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, models.MetricsSnapshot{TotalMessages: n, TranslatedCount: n - n/4, Errors: n / 4}, m.Snapshot())
}
