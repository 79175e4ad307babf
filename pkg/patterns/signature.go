package patterns

import (
	"encoding/hex"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"golang.org/x/crypto/blake2b"
)

// Normalize lower-cases text, turns punctuation into spaces, collapses whitespace and strips
// trivial plurals ("regions" -> "region", "categories" -> "category"; "sales" is kept).
func Normalize(text string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			return unicode.ToLower(r)
		default:
			return ' '
		}
	}, text)

	fields := strings.Fields(mapped)
	for i, f := range fields {
		fields[i] = stem(f)
	}
	return strings.Join(fields, " ")
}

func stem(word string) string {
	if len(word) <= 3 {
		return word
	}
	switch {
	case strings.HasSuffix(word, "ies"):
		return word[:len(word)-3] + "y"
	case strings.HasSuffix(word, "ss"), strings.HasSuffix(word, "us"),
		strings.HasSuffix(word, "is"), strings.HasSuffix(word, "es"):
		return word
	case strings.HasSuffix(word, "s"):
		return word[:len(word)-1]
	default:
		return word
	}
}

// Signature is the hex BLAKE2b-128 digest of Normalize(text).
func Signature(text string) string {
	return signatureOfNormalized(Normalize(text))
}

func signatureOfNormalized(normalized string) string {
	h, err := blake2b.New(16, nil)
	if err != nil {
		// Only fails for sizes above 64 or oversized keys.
		panic(err)
	}
	_, _ = h.Write([]byte(normalized))
	return hex.EncodeToString(h.Sum(nil))
}

// Similarity is 1 - levenshtein(a, b) / max(len(a), len(b)) over runes. Equal strings score 1.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := len([]rune(a)), len([]rune(b))
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}
