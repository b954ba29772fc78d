package intent

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/teranos/yoman/am"
	"github.com/teranos/yoman/errors"
	"github.com/teranos/yoman/logger"
	"github.com/teranos/yoman/recur"
	"github.com/teranos/yoman/temporal"
)

const (
	// minScore is the least evidence that names an intent: one full action
	// cue plus a little object evidence.
	minScore = 1.2
	// timeBonus favours create when the utterance carries a time or rule.
	timeBonus = 0.5
	// implicitCreate is the action weight of a verbless utterance that
	// names a time ("dentist tomorrow at 5").
	implicitCreate = 0.5
	// listAllBonus stands in for the object of an untyped list request.
	listAllBonus = 0.4
)

// objectPriors apply when no object cue is present: a bare request is most
// often a reminder.
var objectPriors = map[Object]float64{
	ObjectReminder: 0.4,
	ObjectEvent:    0.2,
	ObjectTask:     0.1,
}

// ItemRef is an existing item an update or delete can target.
type ItemRef struct {
	ID    string
	Kind  Object
	Title string
}

// ItemLookup finds a user's live item. obj is ObjectNone when the utterance
// names no kind; an empty hint asks for the most recently touched item.
type ItemLookup interface {
	FindItem(ctx context.Context, userID string, obj Object, hint string) (ItemRef, bool, error)
}

// Suggestion is a fallback's reading of an utterance. A zero Kind means
// no suggestion.
type Suggestion struct {
	Kind       Kind
	Confidence float64
	Payload    Payload
	Hint       string
}

// Fallback is consulted when the cue tables recognise nothing.
type Fallback interface {
	Suggest(ctx context.Context, in Input) (Suggestion, error)
}

// Input is one utterance and whatever the temporal tiers made of it.
type Input struct {
	UserID   string
	Text     string
	Resolved *temporal.ResolvedTime
	Rule     *recur.Rule
	Lead     recur.LeadTime
	// Remainder is Text with temporal and recurrence phrases removed. It
	// defaults to Text.
	Remainder string
}

func (in Input) timed() bool {
	return in.Resolved != nil || (in.Rule != nil && in.Rule.Recurring())
}

// Config tunes the classifier.
type Config struct {
	AmbiguityMargin float64
}

// ConfigFromAm reads the classifier section of am.toml.
func ConfigFromAm(c *am.Config) Config {
	return Config{AmbiguityMargin: c.Classifier.AmbiguityMargin}
}

// Classifier scores lexical cues into a StructuredIntent.
type Classifier struct {
	cfg      Config
	lookup   ItemLookup
	fallback Fallback
	log      *zap.SugaredLogger
}

// New creates a classifier. A nil lookup finds nothing, so updates become
// creates and deletes become ambiguous.
func New(cfg Config, lookup ItemLookup, log *zap.SugaredLogger) *Classifier {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Classifier{cfg: cfg, lookup: lookup, log: log.With(logger.FieldComponent, "intent")}
}

// WithFallback sets the reader for utterances the cues do not cover.
func (c *Classifier) WithFallback(f Fallback) *Classifier {
	c.fallback = f
	return c
}

// scored is a candidate plus whether its object was named outright.
type scored struct {
	Candidate
	explicit bool
}

// Classify maps in to an intent, or reports it as ambiguous or
// unrecognised. Errors come only from the item lookup or the fallback.
func (c *Classifier) Classify(ctx context.Context, in Input) (Result, error) {
	log := logger.FromContext(ctx, c.log).With(logger.FieldUserID, in.UserID)

	cands := c.score(in)
	if len(cands) == 0 || cands[0].Score < minScore {
		res, err := c.fallbackResult(ctx, in)
		if err != nil {
			return Result{}, err
		}
		log.Debugw("Intent classified", logger.FieldOutcome, res.Outcome, logger.FieldReason, res.Reason)
		return res, nil
	}

	top := cands[0]
	if len(cands) > 1 && top.Score-cands[1].Score < c.cfg.AmbiguityMargin {
		res := Result{
			Outcome:    OutcomeAmbiguous,
			Candidates: publicCandidates(cands, top.Score-c.cfg.AmbiguityMargin),
			Reason:     "several readings score alike",
		}
		log.Debugw("Intent ambiguous", "candidates", res.Candidates)
		return res, nil
	}

	ts := tokenize(in.remainder())
	names, used := participants(ts)
	p := Payload{Title: title(ts, used), Participants: names}
	if top.Kind == DraftMessage {
		p = draft(tokenize(in.Text))
	}

	res, err := c.finalize(ctx, in, top.Kind, top.explicit, p, hint(ts, used), cands)
	if err != nil {
		return Result{}, err
	}
	log.Debugw("Intent classified", logger.FieldOutcome, res.Outcome, "kind", top.Kind, "score", top.Score)
	return res, nil
}

func (in Input) remainder() string {
	if in.Remainder != "" {
		return in.Remainder
	}
	return in.Text
}

// score turns cue evidence into candidates, best first.
func (c *Classifier) score(in Input) []scored {
	s := scan(splitWords(in.Text))
	explicit := s.hasItemObject()

	actions := s.actions
	if len(actions) == 0 && in.timed() {
		actions = map[Action]float64{ActionCreate: implicitCreate}
	}

	best := map[Kind]scored{}
	add := func(k Kind, score float64, exp bool) {
		if cur, ok := best[k]; !ok || score > cur.Score {
			best[k] = scored{Candidate: Candidate{Kind: k, Score: score}, explicit: exp}
		}
	}

	for a, aw := range actions {
		switch a {
		case ActionDraft:
			add(DraftMessage, aw+s.objects[ObjectMessage]+0.5, true)
		case ActionList:
			if !explicit {
				add(ListAll, aw+listAllBonus, false)
				continue
			}
			for _, o := range Items {
				if ow := s.objects[o]; ow > 0 {
					k, _ := KindOf(a, o)
					add(k, aw+ow, true)
				}
			}
		case ActionUpdate, ActionDelete:
			if !explicit {
				// the lookup decides the object
				k, _ := KindOf(a, ObjectReminder)
				add(k, aw+objectPriors[ObjectReminder], false)
				continue
			}
			for _, o := range Items {
				if ow := s.objects[o]; ow > 0 {
					k, _ := KindOf(a, o)
					add(k, aw+ow, true)
				}
			}
		case ActionCreate:
			bonus := 0.0
			if in.timed() {
				bonus = timeBonus
			}
			if s.objects[ObjectMessage] > 0 && !explicit {
				// "write a message", "send an email"
				add(DraftMessage, aw+s.objects[ObjectMessage], true)
			}
			for _, o := range Items {
				ow, exp := s.objects[o], true
				if !explicit {
					ow, exp = objectPriors[o], false
				}
				if ow > 0 {
					k, _ := KindOf(a, o)
					add(k, aw+ow+bonus, exp)
				}
			}
		}
	}

	out := make([]scored, 0, len(best))
	for _, sc := range best {
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// finalize resolves the target of updates and deletes and assembles the
// intent. An update whose target cannot be found is a new item; a delete
// whose target cannot be found needs the user.
func (c *Classifier) finalize(ctx context.Context, in Input, kind Kind, explicit bool, p Payload, hint string, cands []scored) (Result, error) {
	si := StructuredIntent{
		Kind:       kind,
		Anchor:     in.Resolved,
		Recurrence: in.Rule,
		LeadTime:   in.Lead,
		Payload:    p,
	}

	switch a := kind.Action(); a {
	case ActionUpdate, ActionDelete:
		obj := kind.Object()
		if !explicit {
			obj = ObjectNone
		}
		ref, found, err := c.find(ctx, in.UserID, obj, hint)
		if err != nil {
			return Result{}, err
		}
		switch {
		case found:
			si.Kind, _ = KindOf(a, ref.Kind)
			si.TargetRef = ref.ID
			si.Payload.Title = ""
		case a == ActionUpdate:
			si.Kind, _ = KindOf(ActionCreate, kind.Object())
			if si.Payload.Title == "" {
				si.Payload.Title = hint
			}
		default:
			return Result{
				Outcome:    OutcomeAmbiguous,
				Candidates: publicCandidates(cands, 0),
				Reason:     "no matching item",
			}, nil
		}
	}

	if err := si.Validate(); err != nil {
		return Result{}, errors.Wrap(err, "assemble intent")
	}
	return Result{Outcome: OutcomeIntent, Intent: &si}, nil
}

func (c *Classifier) find(ctx context.Context, userID string, obj Object, hint string) (ItemRef, bool, error) {
	if c.lookup == nil {
		return ItemRef{}, false, nil
	}
	ref, ok, err := c.lookup.FindItem(ctx, userID, obj, hint)
	if err != nil {
		return ItemRef{}, false, errors.Wrapf(err, "look up %s item", obj)
	}
	if ok && !isItem(ref.Kind) {
		return ItemRef{}, false, errors.AssertionFailedf("lookup returned item %s of kind %q", ref.ID, ref.Kind)
	}
	return ref, ok, nil
}

func isItem(o Object) bool {
	for _, it := range Items {
		if it == o {
			return true
		}
	}
	return false
}

// fallbackResult asks the fallback, if any, about an utterance the cues
// did not recognise. Its suggestion goes through the same target
// resolution as a cue match.
func (c *Classifier) fallbackResult(ctx context.Context, in Input) (Result, error) {
	unrecognized := Result{Outcome: OutcomeUnrecognized, Reason: "no intent cues"}
	if c.fallback == nil {
		return unrecognized, nil
	}
	sg, err := c.fallback.Suggest(ctx, in)
	if err != nil {
		if errors.IsQuotaExceeded(err) || errors.IsResolverFailure(err) || errors.IsDispatchBlocked(err) {
			unrecognized.Reason = errors.UnwrapAll(err).Error()
			c.log.Infow("Intent fallback unavailable", logger.FieldError, err)
			return unrecognized, nil
		}
		return Result{}, err
	}
	if _, ok := kinds[sg.Kind]; !ok {
		return unrecognized, nil
	}
	return c.finalize(ctx, in, sg.Kind, true, sg.Payload, sg.Hint, []scored{{Candidate: Candidate{Kind: sg.Kind, Score: sg.Confidence}}})
}

// publicCandidates returns the candidates scoring at least floor.
func publicCandidates(cands []scored, floor float64) []Candidate {
	var out []Candidate
	for _, sc := range cands {
		if sc.Score >= floor {
			out = append(out, sc.Candidate)
		}
	}
	return out
}
