package intent

import (
	"strings"

	"github.com/teranos/yoman/temporal"
)

// token is a normalised word and the punctuation that followed it.
type token struct {
	w     string
	comma bool
	colon bool
}

func tokenize(s string) []token {
	var out []token
	for _, f := range strings.Fields(temporal.Normalize(s)) {
		t := token{
			comma: strings.HasSuffix(f, ","),
			colon: strings.HasSuffix(f, ":"),
		}
		t.w = strings.Trim(f, ",.!?;:()[]\"'")
		if t.w != "" {
			out = append(out, t)
		} else if len(out) > 0 {
			// a detached comma or colon belongs to the word before it
			out[len(out)-1].comma = out[len(out)-1].comma || t.comma
			out[len(out)-1].colon = out[len(out)-1].colon || t.colon
		}
	}
	return out
}

func tokenWords(ts []token) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.w
	}
	return out
}

// participantStops end a participant list.
var participantStops = map[string]bool{
	"about": true, "at": true, "on": true, "to": true, "for": true, "in": true, "regarding": true,
	"על": true, "בנושא": true, "לגבי": true,
}

// participants reads the names after "with"/"עם". Names are separated by
// commas, "and", or a leading ו on the next word. It returns the names and
// the token positions they occupy, marker included.
func participants(ts []token) ([]string, map[int]bool) {
	used := map[int]bool{}
	var names []string
	for i, t := range ts {
		if !participantMarkers[t.w] {
			continue
		}
		used[i] = true
		var cur []string
		flush := func() {
			if len(cur) > 0 {
				names = append(names, strings.Join(cur, " "))
				cur = nil
			}
		}
		for j := i + 1; j < len(ts); j++ {
			w := ts[j].w
			if participantStops[w] || participantMarkers[w] {
				break
			}
			if _, ok := cueFor(w); ok {
				break
			}
			used[j] = true
			switch {
			case w == "and":
				flush()
				continue
			case w == "ו":
				flush()
				continue
			case len(names)+len(cur) > 0 && strings.HasPrefix(w, "ו") && len([]rune(w)) > 2:
				flush()
				w = strings.TrimPrefix(w, "ו")
			}
			cur = append(cur, w)
			if ts[j].comma {
				flush()
			}
		}
		flush()
		break
	}
	return names, used
}

// title is what is left of the text once action words, generic container
// nouns ("reminder", "task") and the participant list are removed, with
// fillers trimmed from both ends. Event nouns ("meeting", "dinner") stay.
func title(ts []token, skip map[int]bool) string {
	cues := scan(tokenWords(ts))
	var kept []string
	for i, t := range ts {
		if skip[i] {
			continue
		}
		if c, ok := cueFor(t.w); ok {
			if c.action != "" || c.object != ObjectEvent {
				continue
			}
		} else if cues.cueWords[i] {
			continue
		}
		kept = append(kept, t.w)
	}
	for len(kept) > 0 && fillers[kept[0]] {
		kept = kept[1:]
	}
	for len(kept) > 0 && fillers[kept[len(kept)-1]] {
		kept = kept[:len(kept)-1]
	}
	return strings.Join(kept, " ")
}

// hint is the lookup key for update and delete: the title without any
// object nouns, fillers or pronouns. A bare pronoun yields "".
func hint(ts []token, skip map[int]bool) string {
	cues := scan(tokenWords(ts))
	var kept []string
	for i, t := range ts {
		if skip[i] || cues.cueWords[i] || fillers[t.w] || pronouns[t.w] {
			continue
		}
		if _, ok := cueFor(t.w); ok {
			continue
		}
		kept = append(kept, t.w)
	}
	return strings.Join(kept, " ")
}

// draft reads the recipient and body of a message request, e.g.
// "draft a message to dan: running late" or "תנסח הודעה לדני שאני מאחר".
func draft(ts []token) Payload {
	var p Payload
	body, rcpt := -1, -1
	for i, t := range ts {
		if t.colon {
			body = i + 1
			break
		}
	}

	for i := 0; i < len(ts) && (body < 0 || i < body); i++ {
		w := ts[i].w
		if p.Participants == nil {
			if w == "to" && i+1 < len(ts) && !fillers[ts[i+1].w] {
				p.Participants = []string{ts[i+1].w}
				i++
				rcpt = i
				continue
			}
			if r := []rune(w); len(r) > 2 && r[0] == 'ל' && i > 0 && isMessageWord(ts[i-1].w) {
				p.Participants = []string{string(r[1:])}
				rcpt = i
				continue
			}
		}
		if body >= 0 {
			continue
		}
		if bodyMarkers[w] && p.Participants != nil {
			body = i + 1
			break
		}
		// "לדני שאני מאחר": a ש-prefixed word right after the recipient opens the body
		if r := []rune(w); rcpt >= 0 && i == rcpt+1 && len(r) > 1 && r[0] == 'ש' {
			ts[i].w = string(r[1:])
			body = i
			break
		}
	}
	if body >= 0 && body < len(ts) {
		p.Body = strings.Join(tokenWords(ts[body:]), " ")
	}
	return p
}

func isMessageWord(w string) bool {
	c, ok := cueFor(w)
	return ok && (c.object == ObjectMessage || c.action == ActionDraft)
}
