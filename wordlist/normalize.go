package wordlist

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Letters with a stroke or bar have no canonical decomposition, so NFKD
// leaves them alone. They are folded by hand after the marks are stripped.
var strokes = map[rune]rune{
	'ł': 'l',
	'ø': 'o',
	'đ': 'd',
	'ħ': 'h',
	'ŧ': 't',
	'ƶ': 'z',
}

func foldStroke(r rune) rune {
	if f, ok := strokes[r]; ok {
		return f
	}
	return r
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsNumber(r)
}

// Tokens case-folds text, strips diacritics and splits it on runs of
// non-word characters. Compatibility forms such as ℌ or ᴴ only turn into
// plain capitals after NFKD, so decomposition runs before the fold too.
func Tokens(text string) []string {
	t := transform.Chain(
		norm.NFKD,
		cases.Fold(),
		norm.NFKD,
		runes.Remove(runes.In(unicode.Mn)),
		runes.Map(foldStroke),
		norm.NFC,
	)

	folded, _, err := transform.String(t, text)
	if err != nil {
		folded = strings.ToLower(text)
	}

	return strings.FieldsFunc(folded, func(r rune) bool {
		return !isWordRune(r)
	})
}

// Normalize returns the tokens of text joined by single spaces. Normalizing
// an already normalized string is a no-op.
func Normalize(text string) string {
	return strings.Join(Tokens(text), " ")
}
