package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/yoman/ai/openrouter"
	"github.com/teranos/yoman/ai/provider"
	"github.com/teranos/yoman/errors"
	"github.com/teranos/yoman/logger"
	"github.com/teranos/yoman/pulse/budget"
)

const classifyPrompt = `You classify requests sent to a calendar and reminder assistant.
Users write in Hebrew or English. Reply with one JSON object and nothing else:
{"kind": one of %s or null,
 "confidence": number between 0 and 1,
 "title": short title of the item, in the user's language,
 "participants": array of names,
 "body": message text for draft-message, else "",
 "target": words naming the existing item for update or delete, else ""}
Use null when the request is none of these.`

// Gate decides whether a paid call may go out. budget.Gateway implements it.
type Gate interface {
	ShouldInvoke(userID string) budget.Decision
}

// Circuit reports whether outbound calls are blocked. circuit.Breaker
// implements it.
type Circuit interface {
	Check() error
}

type modelAnswer struct {
	Kind         *string  `json:"kind"`
	Confidence   float64  `json:"confidence"`
	Title        string   `json:"title"`
	Participants []string `json:"participants"`
	Body         string   `json:"body"`
	Target       string   `json:"target"`
}

// ModelClassifier asks a language model to read utterances the cue tables
// miss. Every call passes the gate first.
type ModelClassifier struct {
	client    provider.AIClient
	gate      Gate
	circuit   Circuit
	threshold float64
	timeout   time.Duration
	log       *zap.SugaredLogger
}

// NewModelClassifier creates a fallback over client. Answers below
// threshold are discarded.
func NewModelClassifier(client provider.AIClient, gate Gate, threshold float64, timeout time.Duration, log *zap.SugaredLogger) *ModelClassifier {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &ModelClassifier{
		client:    client,
		gate:      gate,
		threshold: threshold,
		timeout:   timeout,
		log:       log.With(logger.FieldComponent, "intent.model"),
	}
}

// WithCircuit skips the model while c reports the transport down.
func (m *ModelClassifier) WithCircuit(c Circuit) *ModelClassifier {
	m.circuit = c
	return m
}

// Suggest implements Fallback. A gateway denial is returned as an
// ErrQuotaExceeded error, an open circuit as ErrDispatchBlocked; a useless answer is a zero Suggestion.
func (m *ModelClassifier) Suggest(ctx context.Context, in Input) (Suggestion, error) {
	if m.circuit != nil {
		if err := m.circuit.Check(); err != nil {
			return Suggestion{}, err
		}
	}
	if m.gate != nil {
		if d := m.gate.ShouldInvoke(in.UserID); !d.Allowed {
			return Suggestion{}, d.Err()
		}
	}
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	resp, err := m.client.Chat(ctx, openrouter.ChatRequest{
		SystemPrompt: fmt.Sprintf(classifyPrompt, kindList()),
		UserPrompt:   in.Text,
		JSONMode:     true,
		UserID:       in.UserID,
	})
	if err != nil {
		return Suggestion{}, errors.NewResolverFailure(err, "intent model call failed")
	}

	var a modelAnswer
	if err := json.Unmarshal([]byte(trimFences(resp.Content)), &a); err != nil {
		m.log.Infow("Malformed intent answer", logger.FieldError, err)
		return Suggestion{}, nil
	}
	if a.Kind == nil || a.Confidence < m.threshold {
		return Suggestion{}, nil
	}
	kind, ok := ParseKind(*a.Kind)
	if !ok {
		m.log.Infow("Model answered an unknown intent kind", "kind", *a.Kind)
		return Suggestion{}, nil
	}
	return Suggestion{
		Kind:       kind,
		Confidence: a.Confidence,
		Payload:    Payload{Title: a.Title, Participants: a.Participants, Body: a.Body},
		Hint:       a.Target,
	}, nil
}

func kindList() string {
	names := []string{
		string(CreateEvent), string(UpdateEvent), string(DeleteEvent), string(ListEvents),
		string(CreateReminder), string(UpdateReminder), string(DeleteReminder), string(ListReminders),
		string(CreateTask), string(UpdateTask), string(DeleteTask), string(ListTasks),
		string(ListAll), string(DraftMessage),
	}
	return `"` + strings.Join(names, `", "`) + `"`
}

func trimFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
