// Package terms turns note text into stemmed term counts and bounded TF weights.
package terms

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	fencedCodeRe = regexp.MustCompile("```[\\s\\S]*?```")
	inlineCodeRe = regexp.MustCompile("`[^`]*`")
	nonTermRe    = regexp.MustCompile(`[^a-z0-9\x{00E0}-\x{017E}\s]`)

	// At most one of these can end a given token.
	suffixes = []string{"azioni", "azione", "mente", "ing", "ed", "ly"}
)

// Counts maps a stem to the number of times it occurs in a document.
type Counts map[string]int

// Vector maps a stem to its TF weight.
type Vector map[string]float64

// Tokenize normalizes text into stem counts.
// Code spans are ignored, stopwords are dropped, and tokens shorter than
// two characters never reach the stemmer.
func Tokenize(text string) Counts {
	text = fencedCodeRe.ReplaceAllString(text, " ")
	text = inlineCodeRe.ReplaceAllString(text, " ")
	text = strings.ToLower(text)
	text = nonTermRe.ReplaceAllString(text, " ")

	out := make(Counts)
	for _, tok := range strings.Fields(text) {
		if utf8.RuneCountInString(tok) < 2 {
			continue
		}
		stem := Stem(tok)
		if stem == "" || Stopwords.Contains(stem) {
			continue
		}
		out[stem]++
	}
	return out
}

// Stem strips one derivational suffix and then a trailing plural marker.
func Stem(token string) string {
	for _, s := range suffixes {
		if strings.HasSuffix(token, s) {
			token = strings.TrimSuffix(token, s)
			break
		}
	}
	switch {
	case strings.HasSuffix(token, "es"):
		token = strings.TrimSuffix(token, "es")
	case strings.HasSuffix(token, "s"):
		token = strings.TrimSuffix(token, "s")
	}
	return token
}

// TF converts raw counts into weights in [0.5, 1.0]; the most frequent stem gets 1.0.
func TF(counts Counts) Vector {
	if len(counts) == 0 {
		return Vector{}
	}
	maxCount := 0
	for _, c := range counts {
		if c > maxCount {
			maxCount = c
		}
	}
	out := make(Vector, len(counts))
	for term, c := range counts {
		out[term] = 0.5 + 0.5*(float64(c)/float64(maxCount))
	}
	return out
}

// Analyze is Tokenize followed by TF for a note's title and body.
func Analyze(title, content string) Vector {
	return TF(Tokenize(title + " " + content))
}

// Terms returns the keys of v.
func (v Vector) Terms() []string {
	out := make([]string, 0, len(v))
	for t := range v {
		out = append(out, t)
	}
	return out
}
