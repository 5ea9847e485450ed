package inference

import (
	"strings"
	"unicode"
)

// Token is a whitespace-delimited word split into its alphanumeric core and the
// punctuation around it.
type Token struct {
	Leading  string
	Core     string
	Trailing string
}

// Tokenize splits text on whitespace.
func Tokenize(text string) []Token {
	fields := strings.Fields(text)
	tokens := make([]Token, 0, len(fields))
	for _, f := range fields {
		start := strings.IndexFunc(f, isWordRune)
		if start < 0 {
			tokens = append(tokens, Token{Leading: f})
			continue
		}
		end := strings.LastIndexFunc(f, isWordRune)
		_, size := firstRune(f[end:])
		end += size
		tokens = append(tokens, Token{Leading: f[:start], Core: f[start:end], Trailing: f[end:]})
	}
	return tokens
}

// JoinTokens reassembles tokens separated by single spaces.
func JoinTokens(tokens []Token) string {
	parts := make([]string, len(tokens))
	for i, t := range tokens {
		parts[i] = t.Leading + t.Core + t.Trailing
	}
	return strings.Join(parts, " ")
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\''
}

func firstRune(s string) (rune, int) {
	for _, r := range s {
		return r, len(string(r))
	}
	return 0, 0
}
