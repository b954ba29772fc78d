package temporal

import (
	"strconv"
	"strings"
	"unicode"
)

type token struct {
	text  string
	num   bool
	start int // rune offsets into the normalised text
	end   int
}

func isNumberSeparator(r rune) bool {
	return r == ':' || r == '.' || r == '/' || r == '-'
}

func isWordJoiner(r rune) bool {
	return r == '\'' || r == '"'
}

// tokenize splits normalised text into words and numeric expressions.
// Letters and digits always split ("ב16:00" → "ב", "16:00"; "5pm" → "5",
// "pm"), separators only stay inside a number when a digit follows.
func tokenize(rs []rune) []token {
	var toks []token
	i := 0
	for i < len(rs) {
		r := rs[i]
		switch {
		case unicode.IsDigit(r):
			j := i + 1
			for j < len(rs) {
				if unicode.IsDigit(rs[j]) {
					j++
					continue
				}
				if isNumberSeparator(rs[j]) && j+1 < len(rs) && unicode.IsDigit(rs[j+1]) {
					j += 2
					continue
				}
				break
			}
			toks = append(toks, token{text: string(rs[i:j]), num: true, start: i, end: j})
			i = j
		case unicode.IsLetter(r):
			j := i + 1
			for j < len(rs) {
				if unicode.IsLetter(rs[j]) {
					j++
					continue
				}
				if isWordJoiner(rs[j]) && j+1 < len(rs) && unicode.IsLetter(rs[j+1]) {
					j += 2
					continue
				}
				break
			}
			toks = append(toks, token{text: string(rs[i:j]), start: i, end: j})
			i = j
		case r == '@':
			toks = append(toks, token{text: "@", start: i, end: i + 1})
			i++
		default:
			i++
		}
	}
	return toks
}

type numberKind int

const (
	numberInvalid numberKind = iota
	numberPlain
	numberClock
	numberDate
)

type number struct {
	kind       numberKind
	value      int // plain
	hour, min  int // clock
	day, month int // date
	year       int // date, 0 when absent
	zeroPadded bool
	dotted     bool // day.month with a two-digit second part, also readable as HH.MM
}

func parseNumber(text string) number {
	if strings.Contains(text, ":") {
		parts := strings.Split(text, ":")
		if len(parts) < 2 || len(parts) > 3 || len(parts[1]) != 2 {
			return number{}
		}
		h, err1 := strconv.Atoi(parts[0])
		m, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil || h > 24 || m > 59 || (h == 24 && m != 0) || len(parts[0]) > 2 {
			return number{}
		}
		return number{kind: numberClock, hour: h, min: m, zeroPadded: len(parts[0]) == 2 && parts[0][0] == '0'}
	}

	parts := strings.FieldsFunc(text, isNumberSeparator)
	switch len(parts) {
	case 1:
		v, err := strconv.Atoi(parts[0])
		if err != nil {
			return number{}
		}
		return number{kind: numberPlain, value: v, zeroPadded: len(parts[0]) > 1 && parts[0][0] == '0'}
	case 2:
		d, err1 := strconv.Atoi(parts[0])
		m, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil || len(parts[0]) > 2 || len(parts[1]) > 2 {
			return number{}
		}
		return number{
			kind:       numberDate,
			day:        d,
			month:      m,
			zeroPadded: len(parts[0]) == 2 && parts[0][0] == '0',
			dotted:     strings.Contains(text, ".") && len(parts[1]) == 2,
		}
	case 3:
		a, err1 := strconv.Atoi(parts[0])
		b, err2 := strconv.Atoi(parts[1])
		c, err3 := strconv.Atoi(parts[2])
		if err1 != nil || err2 != nil || err3 != nil {
			return number{}
		}
		if len(parts[0]) == 4 {
			return number{kind: numberDate, year: a, month: b, day: c}
		}
		switch len(parts[2]) {
		case 2:
			c += 2000
		case 4:
		default:
			return number{}
		}
		return number{kind: numberDate, day: a, month: b, year: c}
	}
	return number{}
}

func (n number) validDayMonth() bool {
	return n.month >= 1 && n.month <= 12 && n.day >= 1 && n.day <= 31
}
