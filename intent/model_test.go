package intent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/yoman/ai/openrouter"
	"github.com/teranos/yoman/ai/provider"
	"github.com/teranos/yoman/errors"
	"github.com/teranos/yoman/pulse/budget"
)

type stubGate struct{ deny bool }

func (g stubGate) ShouldInvoke(string) budget.Decision {
	if g.deny {
		return budget.Decision{Reason: "per-minute limit 0 reached"}
	}
	return budget.Decision{Allowed: true}
}

func TestModelClassifierSuggest(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    Suggestion
	}{
		{
			name:    "task",
			content: `{"kind":"create-task","confidence":0.9,"title":"renew passport","participants":[],"body":"","target":""}`,
			want:    Suggestion{Kind: CreateTask, Confidence: 0.9, Payload: Payload{Title: "renew passport", Participants: []string{}}},
		},
		{
			name:    "fenced delete with target",
			content: "```json\n{\"kind\":\"delete-event\",\"confidence\":0.8,\"target\":\"dentist\"}\n```",
			want:    Suggestion{Kind: DeleteEvent, Confidence: 0.8, Hint: "dentist"},
		},
		{name: "null kind", content: `{"kind":null,"confidence":0.9}`},
		{name: "low confidence", content: `{"kind":"create-task","confidence":0.3}`},
		{name: "unknown kind", content: `{"kind":"order-pizza","confidence":0.99}`},
		{name: "not json", content: `create-task`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := provider.ClientFunc(func(ctx context.Context, req openrouter.ChatRequest) (*openrouter.ChatResponse, error) {
				assert.True(t, req.JSONMode)
				assert.Contains(t, req.SystemPrompt, `"draft-message"`)
				return &openrouter.ChatResponse{Content: tt.content}, nil
			})
			m := NewModelClassifier(client, stubGate{}, 0.7, 0, zaptest.NewLogger(t).Sugar())

			sg, err := m.Suggest(context.Background(), Input{UserID: "u1", Text: "x"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, sg)
		})
	}
}

func TestModelClassifierGateDenial(t *testing.T) {
	called := false
	client := provider.ClientFunc(func(ctx context.Context, req openrouter.ChatRequest) (*openrouter.ChatResponse, error) {
		called = true
		return nil, nil
	})
	m := NewModelClassifier(client, stubGate{deny: true}, 0.7, 0, nil)

	_, err := m.Suggest(context.Background(), Input{UserID: "u1", Text: "x"})
	assert.True(t, errors.IsQuotaExceeded(err))
	assert.False(t, called, "a denied call must not reach the model")
}

type stubCircuit struct{ err error }

func (c stubCircuit) Check() error { return c.err }

func TestModelClassifierOpenCircuit(t *testing.T) {
	called := false
	client := provider.ClientFunc(func(ctx context.Context, req openrouter.ChatRequest) (*openrouter.ChatResponse, error) {
		called = true
		return nil, nil
	})
	m := NewModelClassifier(client, stubGate{}, 0.7, 0, nil).
		WithCircuit(stubCircuit{err: errors.WithDetail(errors.ErrDispatchBlocked, "circuit open")})

	_, err := m.Suggest(context.Background(), Input{UserID: "u1", Text: "x"})
	assert.True(t, errors.IsDispatchBlocked(err))
	assert.False(t, called, "an open circuit must keep calls off the model")

	// the classifier treats a blocked fallback as unrecognised
	c := New(Config{AmbiguityMargin: 0.15}, nil, zaptest.NewLogger(t).Sugar()).WithFallback(m)
	res, err := c.Classify(context.Background(), Input{UserID: "u1", Text: "zzz qqq"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnrecognized, res.Outcome)
	assert.False(t, called)
}

func TestModelClassifierClientError(t *testing.T) {
	client := provider.ClientFunc(func(ctx context.Context, req openrouter.ChatRequest) (*openrouter.ChatResponse, error) {
		return nil, errors.New("status 502")
	})
	_, err := NewModelClassifier(client, nil, 0.7, 0, nil).Suggest(context.Background(), Input{Text: "x"})
	assert.True(t, errors.IsResolverFailure(err))
}

// A denied model fallback leaves the utterance unrecognised.
func TestClassifierWithDeniedModelFallback(t *testing.T) {
	client := provider.ClientFunc(func(ctx context.Context, req openrouter.ChatRequest) (*openrouter.ChatResponse, error) {
		t.Fatal("model called despite denial")
		return nil, nil
	})
	c := newClassifier(t, nil).WithFallback(NewModelClassifier(client, stubGate{deny: true}, 0.7, 0, nil))

	res, err := c.Classify(context.Background(), Input{UserID: "u1", Text: "passport thing"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnrecognized, res.Outcome)
}
