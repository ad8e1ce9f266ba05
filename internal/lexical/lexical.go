// Package lexical holds the word tokenizer shared by the offline embedder,
// the summarizer and the keyword fallback of the retriever.
package lexical

import (
	"math"
	"regexp"
	"strings"
)

var wordPattern = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)

var stopwords = func() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()

// Words returns the lower-cased words of text in order, stopwords included.
func Words(text string) []string {
	return wordPattern.FindAllString(strings.ToLower(text), -1)
}

// IsStopword reports whether w (lower case) carries no content.
func IsStopword(w string) bool {
	_, ok := stopwords[w]
	return ok
}

// Terms returns the content words of text in order.
func Terms(text string) []string {
	raw := Words(text)
	out := raw[:0]
	for _, t := range raw {
		if IsStopword(t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// TokenSet is a set of distinct content words.
type TokenSet map[string]struct{}

// NewTokenSet builds the set of content words of text.
func NewTokenSet(text string) TokenSet {
	terms := Terms(text)
	set := make(TokenSet, len(terms))
	for _, t := range terms {
		set[t] = struct{}{}
	}
	return set
}

// Ochiai returns |A∩B| / sqrt(|A||B|), or 0 when either set is empty.
func Ochiai(a, b TokenSet) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for t := range small {
		if _, ok := large[t]; ok {
			inter++
		}
	}
	return float64(inter) / math.Sqrt(float64(len(a))*float64(len(b)))
}
