// Package keywords extracts and matches the keyword sets used for fast,
// call-free routing and classification.
package keywords

import (
	"math"
	"strings"
	"unicode"
)

var stopwords = map[string]bool{
	"a": true, "about": true, "after": true, "again": true, "agent": true, "all": true,
	"also": true, "an": true, "and": true, "any": true, "are": true, "as": true,
	"assistant": true, "at": true, "be": true, "been": true, "before": true, "being": true,
	"between": true, "both": true, "but": true, "by": true, "can": true, "could": true,
	"did": true, "do": true, "does": true, "doing": true, "each": true, "expert": true,
	"few": true, "for": true, "from": true, "further": true, "get": true, "had": true,
	"has": true, "have": true, "having": true, "help": true, "helps": true, "her": true,
	"here": true, "him": true, "his": true, "how": true, "i": true, "if": true,
	"in": true, "into": true, "is": true, "it": true, "its": true, "just": true,
	"like": true, "me": true, "more": true, "most": true, "my": true, "need": true,
	"no": true, "not": true, "now": true, "of": true, "on": true, "only": true,
	"or": true, "other": true, "our": true, "out": true, "over": true, "own": true,
	"please": true, "same": true, "she": true, "should": true, "so": true, "some": true,
	"specialist": true, "such": true, "than": true, "that": true, "the": true, "their": true,
	"them": true, "then": true, "there": true, "these": true, "they": true, "this": true,
	"those": true, "through": true, "to": true, "too": true, "under": true, "until": true,
	"up": true, "using": true, "very": true, "want": true, "was": true, "we": true,
	"were": true, "what": true, "when": true, "where": true, "which": true, "while": true,
	"who": true, "whom": true, "why": true, "will": true, "with": true, "would": true,
	"you": true, "your": true, "yours": true,
}

func IsStopword(w string) bool {
	return stopwords[w]
}

// Tokenize lowercases s and splits it on anything that is not a letter or
// a digit.
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Stem reduces a lowercase word to a crude stem so that inflections of the
// same word compare equal ("writes", "writer" and "write" all give "writ").
func Stem(w string) string {
	switch n := len(w); {
	case n > 4 && strings.HasSuffix(w, "ies"):
		w = w[:n-3] + "y"
	case n > 5 && strings.HasSuffix(w, "ing"):
		w = w[:n-3]
	case n > 5 && strings.HasSuffix(w, "ers"):
		w = w[:n-3]
	case n > 4 && strings.HasSuffix(w, "er"):
		w = w[:n-2]
	case n > 4 && strings.HasSuffix(w, "ed"):
		w = w[:n-2]
	case n > 4 && strings.HasSuffix(w, "es"):
		w = w[:n-1]
	case n > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss"):
		w = w[:n-1]
	}
	if len(w) > 3 && strings.HasSuffix(w, "e") {
		w = w[:len(w)-1]
	}
	return w
}

// Content returns the tokens of s that are not stopwords, in order.
func Content(s string) []string {
	var out []string
	for _, tok := range Tokenize(s) {
		if !stopwords[tok] {
			out = append(out, tok)
		}
	}
	return out
}

type group struct {
	stem  string
	forms []string
}

// Set is an agent's keyword set. Keywords sharing a stem form one entry;
// the set's size is its number of distinct stems.
type Set struct {
	groups []group
	index  map[string]int
}

func NewSet(words ...string) *Set {
	s := &Set{index: make(map[string]int)}
	for _, w := range words {
		s.Add(w)
	}
	return s
}

// Add inserts a lowercase keyword unless it is a stopword or a duplicate.
func (s *Set) Add(word string) {
	word = strings.ToLower(strings.TrimSpace(word))
	if word == "" || stopwords[word] {
		return
	}
	stem := Stem(word)
	if i, ok := s.index[stem]; ok {
		for _, f := range s.groups[i].forms {
			if f == word {
				return
			}
		}
		s.groups[i].forms = append(s.groups[i].forms, word)
		return
	}
	s.index[stem] = len(s.groups)
	s.groups = append(s.groups, group{stem: stem, forms: []string{word}})
}

func (s *Set) Size() int {
	return len(s.groups)
}

// Keywords lists every surface form in insertion order.
func (s *Set) Keywords() []string {
	var out []string
	for _, g := range s.groups {
		out = append(out, g.forms...)
	}
	return out
}

// weight scores one surface form: long keywords are stronger evidence.
func weight(form string) int {
	if len(form) > 5 {
		return 2
	}
	return 1
}

// Score matches the set against message tokens. A keyword matches when its
// stem equals the stem of any token. The confidence is the summed weight
// of matched keywords over size*1.5, capped at 1.
func (s *Set) Score(tokens []string) (float64, []string) {
	if len(s.groups) == 0 {
		return 0, nil
	}
	stems := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		stems[Stem(t)] = true
	}

	total := 0
	var matched []string
	for _, g := range s.groups {
		if !stems[g.stem] {
			continue
		}
		for _, f := range g.forms {
			total += weight(f)
			matched = append(matched, f)
		}
	}
	conf := float64(total) / (float64(len(s.groups)) * 1.5)
	return math.Min(conf, 1), matched
}

// Overlaps reports whether any token shares a stem with the set.
func (s *Set) Overlaps(tokens []string) bool {
	for _, t := range tokens {
		if _, ok := s.index[Stem(t)]; ok {
			return true
		}
	}
	return false
}

// ForAgent builds the keyword set of an agent: description words longer
// than four characters, the tokens of its name and its tool names.
func ForAgent(name, description string, tools []string) *Set {
	s := NewSet()
	for _, w := range Tokenize(description) {
		if len(w) > 4 {
			s.Add(w)
		}
	}
	for _, w := range Tokenize(splitCamel(name)) {
		s.Add(w)
	}
	for _, tool := range tools {
		s.Add(tool)
		if parts := Tokenize(splitCamel(tool)); len(parts) > 1 {
			for _, p := range parts {
				s.Add(p)
			}
		}
	}
	return s
}

// splitCamel inserts spaces at lower-to-upper case transitions so
// "WebSearch" tokenizes as "web search".
func splitCamel(s string) string {
	var b strings.Builder
	var prev rune
	for i, r := range s {
		if i > 0 && unicode.IsUpper(r) && unicode.IsLower(prev) {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
		prev = r
	}
	return b.String()
}
