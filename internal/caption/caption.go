// Package caption scans and cleans caption text. Detection normalizes common
// obfuscations (leetspeak digits and symbols) before matching against the
// profanity lexicon, so "a55hole" is caught alongside the plain spelling.
package caption

import (
	"strings"
	"unicode"
)

// leet maps common substitution characters back to the letters they stand for.
var leet = map[rune]rune{
	'0': 'o',
	'1': 'i',
	'3': 'e',
	'4': 'a',
	'5': 's',
	'6': 'g',
	'7': 't',
	'8': 'b',
	'9': 'g',
	'@': 'a',
	'$': 's',
	'!': 'i',
	'+': 't',
}

// defaultLexicon is the built-in profanity list. Callers extend it through
// NewScanner.
var defaultLexicon = []string{
	"asshole",
	"bastard",
	"bitch",
	"cunt",
	"dick",
	"fuck",
	"fucker",
	"fucking",
	"motherfucker",
	"nigger",
	"piss",
	"prick",
	"pussy",
	"shit",
	"slut",
	"twat",
	"whore",
}

// Scanner flags and masks profane tokens in captions.
type Scanner struct {
	lexicon map[string]bool
}

// NewScanner creates a Scanner with the built-in lexicon plus any extra terms.
func NewScanner(extra []string) *Scanner {
	lex := make(map[string]bool, len(defaultLexicon)+len(extra))
	for _, w := range defaultLexicon {
		lex[w] = true
	}
	for _, w := range extra {
		lex[NormalizeToken(w)] = true
	}
	return &Scanner{lexicon: lex}
}

// NormalizeToken lowercases a token, substitutes leetspeak characters, and
// strips everything that is not a letter.
func NormalizeToken(token string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(token) {
		if sub, ok := leet[r]; ok {
			b.WriteRune(sub)
			continue
		}
		if unicode.IsLetter(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Scan returns the original tokens whose normalized form matches the lexicon.
func (s *Scanner) Scan(text string) []string {
	var hits []string
	for _, token := range strings.Fields(text) {
		if s.lexicon[NormalizeToken(token)] {
			hits = append(hits, token)
		}
	}
	return hits
}

// Clean masks every profane token, preserving the first character so the
// caption stays readable. Returns the cleaned caption and the flagged tokens.
func (s *Scanner) Clean(text string) (string, []string) {
	tokens := strings.Fields(text)
	var hits []string
	changed := false
	for i, token := range tokens {
		if !s.lexicon[NormalizeToken(token)] {
			continue
		}
		hits = append(hits, token)
		tokens[i] = maskToken(token)
		changed = true
	}
	if !changed {
		return text, nil
	}
	return strings.Join(tokens, " "), hits
}

func maskToken(token string) string {
	runes := []rune(token)
	for i := 1; i < len(runes); i++ {
		runes[i] = '*'
	}
	return string(runes)
}
