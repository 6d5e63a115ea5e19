package caption

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeToken(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  string
	}{
		{"plain lowercase", "hello", "hello"},
		{"uppercase", "HeLLo", "hello"},
		{"leet digits", "a55hole", "asshole"},
		{"leet symbols", "$h!t", "shit"},
		{"mixed leet", "fu(k1ng", "fuking"},
		{"punctuation stripped", "f.u.c.k", "fuck"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeToken(tt.token))
		})
	}
}

func TestScannerScan(t *testing.T) {
	s := NewScanner(nil)

	tests := []struct {
		name string
		text string
		want []string
	}{
		{"clean caption", "sunset over the marina", nil},
		{"plain profanity", "what the fuck", []string{"fuck"}},
		{"leet obfuscation", "you a55hole", []string{"a55hole"}},
		{"symbol obfuscation", "total $h!t show", []string{"$h!t"}},
		{"multiple hits", "fuck this shit", []string{"fuck", "shit"}},
		{"substring is not a hit", "scunthorpe classic", nil},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Scan(tt.text))
		})
	}
}

func TestScannerClean(t *testing.T) {
	s := NewScanner(nil)

	cleaned, hits := s.Clean("you a55hole really")
	assert.Equal(t, "you a****** really", cleaned)
	require.Len(t, hits, 1)
	assert.Equal(t, "a55hole", hits[0])

	// A clean caption comes back untouched.
	cleaned, hits = s.Clean("nice day outside")
	assert.Equal(t, "nice day outside", cleaned)
	assert.Empty(t, hits)
}

func TestScannerExtraTerms(t *testing.T) {
	s := NewScanner([]string{"gamblecoin"})

	hits := s.Scan("buy G4MBL3C0IN now")
	require.Len(t, hits, 1)
	assert.Equal(t, "G4MBL3C0IN", hits[0])
}
