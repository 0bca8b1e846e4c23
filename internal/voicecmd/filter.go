// Package voicecmd detects explicit spoken cancel commands in transcripts.
//
// A cancel command must be the entire utterance ("cancel that", "stop
// logging"); the words appearing inside a longer answer never cancel. STT
// output is noisy, so matching is three-tiered: exact phrase, per-token
// Double Metaphone equality (catches "cansel"), and Jaro-Winkler similarity
// over the whole phrase as a last resort.
package voicecmd

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// defaultFuzzyThreshold is the minimum Jaro-Winkler score for the similarity
// fallback tier.
const defaultFuzzyThreshold = 0.90

// defaultPhrases are the built-in cancel commands.
var defaultPhrases = []string{
	"cancel",
	"cancel that",
	"cancel this",
	"stop",
	"stop logging",
	"never mind",
	"forget it",
	"scrap that",
}

// Option is a functional option for configuring a [Filter].
type Option func(*Filter)

// WithPhrases replaces the built-in cancel phrase list.
func WithPhrases(phrases []string) Option {
	return func(f *Filter) {
		f.phrases = phrases
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for the similarity
// fallback. Default: 0.90.
func WithFuzzyThreshold(threshold float64) Option {
	return func(f *Filter) {
		f.fuzzyThreshold = threshold
	}
}

// Filter checks whole transcripts against the cancel phrase list.
// Stateless; safe for concurrent use.
type Filter struct {
	phrases        []string
	fuzzyThreshold float64
}

// New creates a Filter with the built-in phrases.
func New(opts ...Option) *Filter {
	f := &Filter{
		phrases:        defaultPhrases,
		fuzzyThreshold: defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// IsCancel reports whether text is an explicit cancel command.
func (f *Filter) IsCancel(text string) bool {
	norm := normalize(text)
	if norm == "" {
		return false
	}

	for _, phrase := range f.phrases {
		if norm == phrase {
			return true
		}
	}

	// Phonetic tier: token-for-token Double Metaphone equality.
	tokens := strings.Fields(norm)
	for _, phrase := range f.phrases {
		if phoneticEqual(tokens, strings.Fields(phrase)) {
			return true
		}
	}

	// Similarity tier: whole-phrase Jaro-Winkler.
	for _, phrase := range f.phrases {
		if matchr.JaroWinkler(norm, phrase, false) >= f.fuzzyThreshold {
			return true
		}
	}

	return false
}

// normalize lowercases text and strips the punctuation STT providers attach
// to short utterances.
func normalize(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	var b strings.Builder
	for _, r := range text {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ':
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// phoneticEqual reports whether two token lists have pairwise-matching
// Double Metaphone codes.
func phoneticEqual(a, b []string) bool {
	if len(a) != len(b) || len(a) == 0 {
		return false
	}
	for i := range a {
		ap, as := matchr.DoubleMetaphone(a[i])
		bp, bs := matchr.DoubleMetaphone(b[i])
		if ap == "" && bp == "" {
			return false
		}
		if ap != bp && ap != bs && as != bp && (as == "" || as != bs) {
			return false
		}
	}
	return true
}
