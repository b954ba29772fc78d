package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/yoman/ai/openrouter"
	"github.com/teranos/yoman/ai/provider"
	"github.com/teranos/yoman/am/geotime"
	"github.com/teranos/yoman/errors"
	"github.com/teranos/yoman/logger"
	"github.com/teranos/yoman/temporal"
)

const systemPrompt = `You resolve date and time expressions for a reminder assistant.
Users write in Hebrew or English. Reply with one JSON object and nothing else:
{"resolved_instant": "YYYY-MM-DDTHH:MM:SS" or "YYYY-MM-DD" or null,
 "confidence": number between 0 and 1,
 "is_all_day": boolean,
 "explanation": short string}
resolved_instant is local wall-clock time in the user's timezone. Use a bare
date only when no time of day is given, and set is_all_day to true. Use null
when the text names no point in time. Never invent a time the text does not
imply; lower the confidence instead.`

// answer is the JSON the model is asked for.
type answer struct {
	ResolvedInstant *string  `json:"resolved_instant"`
	Confidence      *float64 `json:"confidence"`
	IsAllDay        bool     `json:"is_all_day"`
	Explanation     string   `json:"explanation"`
}

var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ModelResolver asks a language model and validates the answer.
type ModelResolver struct {
	client provider.AIClient
	cfg    Config
	log    *zap.SugaredLogger
}

// NewModelResolver creates a resolver over client.
func NewModelResolver(client provider.AIClient, cfg Config, log *zap.SugaredLogger) *ModelResolver {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &ModelResolver{client: client, cfg: cfg, log: logger.AddResolveSymbol(log)}
}

// Resolve implements Resolver.
func (m *ModelResolver) Resolve(ctx context.Context, req Request) (temporal.ResolvedTime, error) {
	loc, err := geotime.Load(req.Timezone)
	if err != nil {
		return temporal.ResolvedTime{}, err
	}
	if m.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := m.client.Chat(ctx, openrouter.ChatRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt(req, loc),
		JSONMode:     true,
		UserID:       req.UserID,
	})
	log := logger.FromContext(ctx, m.log).With(logger.FieldUserID, req.UserID,
		logger.FieldDurationMS, time.Since(start).Milliseconds())
	if err != nil {
		if ctx.Err() != nil {
			log.Warnw("Model resolver timed out", logger.FieldError, err)
			return temporal.ResolvedTime{}, errors.NewResolverFailure(
				errors.Mark(err, errors.ErrTimeout), "model call exceeded %s", m.cfg.Timeout)
		}
		log.Warnw("Model resolver call failed", logger.FieldError, err)
		return temporal.ResolvedTime{}, errors.NewResolverFailure(err, "model call failed")
	}

	rt, err := m.validate(resp.Content, req.Reference, loc, req.Timezone)
	if err != nil {
		log.Infow("Model answer rejected", logger.FieldReason, errors.FlattenDetails(err), logger.FieldError, err)
		return temporal.ResolvedTime{}, err
	}
	log.Debugw("Model resolved time", "instant", rt.Instant, "confidence", rt.Confidence)
	return rt, nil
}

func userPrompt(req Request, loc *time.Location) string {
	ref := req.Reference.In(loc)
	locale := req.Locale
	if locale == "" {
		locale = "he"
	}
	return fmt.Sprintf("Now: %s (%s)\nTimezone: %s\nLanguage: %s\nText: %s",
		ref.Format("2006-01-02T15:04:05"), ref.Weekday(), req.Timezone, locale, req.Text)
}

// validate parses the model's answer and checks it against the confidence
// threshold and the plausible range [reference-1d, reference+horizon].
func (m *ModelResolver) validate(content string, ref time.Time, loc *time.Location, tz string) (temporal.ResolvedTime, error) {
	var a answer
	if err := json.Unmarshal([]byte(stripFences(content)), &a); err != nil {
		return temporal.ResolvedTime{}, errors.WithDetail(
			errors.NewResolverFailure(err, "malformed model answer"), truncate(content, 200))
	}
	if a.ResolvedInstant == nil || strings.TrimSpace(*a.ResolvedInstant) == "" {
		return temporal.ResolvedTime{}, errors.WithDetail(
			errors.NewResolverFailure(nil, "model found no instant"), a.Explanation)
	}
	if a.Confidence == nil {
		return temporal.ResolvedTime{}, errors.NewResolverFailure(nil, "model answer has no confidence")
	}
	if *a.Confidence < 0 || *a.Confidence > 1 {
		return temporal.ResolvedTime{}, errors.NewResolverFailure(nil, "confidence %v out of [0,1]", *a.Confidence)
	}
	if *a.Confidence < m.cfg.ConfidenceThreshold {
		return temporal.ResolvedTime{}, errors.WithDetailf(
			errors.NewResolverFailure(nil, "confidence %.2f below threshold %.2f", *a.Confidence, m.cfg.ConfidenceThreshold),
			"explanation: %s", a.Explanation)
	}

	instant, allDay, err := parseInstant(strings.TrimSpace(*a.ResolvedInstant), loc)
	if err != nil {
		return temporal.ResolvedTime{}, errors.NewResolverFailure(err, "unreadable instant %q", *a.ResolvedInstant)
	}
	allDay = allDay || a.IsAllDay

	lo := ref.Add(-24 * time.Hour)
	hi := ref.Add(m.cfg.MaxHorizon)
	if instant.Before(lo) || (m.cfg.MaxHorizon > 0 && instant.After(hi)) {
		return temporal.ResolvedTime{}, errors.WithDetailf(
			errors.NewResolverFailure(nil, "instant %s outside plausible range", instant.Format(time.RFC3339)),
			"range: %s .. %s", lo.Format(time.RFC3339), hi.Format(time.RFC3339))
	}

	return temporal.ResolvedTime{
		Instant:    instant,
		Timezone:   tz,
		IsAllDay:   allDay,
		Confidence: *a.Confidence,
		Source:     temporal.SourceModel,
	}, nil
}

// parseInstant accepts RFC 3339, local wall-clock or a bare date, which is
// an all-day answer at local midnight.
func parseInstant(s string, loc *time.Location) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(loc), false, nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, false, nil
		}
	}
	t, err := time.ParseInLocation("2006-01-02", s, loc)
	if err != nil {
		return time.Time{}, false, errors.Newf("no known layout matches %q", s)
	}
	return t, true, nil
}

// stripFences removes a Markdown code fence some models wrap JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
