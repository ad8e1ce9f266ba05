package summarizer

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"medrag/internal/lexical"
)

var sentencePattern = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)

// FrequencySummarizer ranks sentences by word frequency (stopwords filtered).
// Ranking is deterministic: equal scores keep their original order.
type FrequencySummarizer struct{}

// NewFrequencySummarizer creates a frequency-based sentence ranker.
func NewFrequencySummarizer() *FrequencySummarizer {
	return &FrequencySummarizer{}
}

// Split breaks a paragraph into trimmed, non-empty sentences. Text without a
// terminal punctuation mark is returned as a single sentence.
func Split(text string) []string {
	var out []string
	end := 0
	for _, loc := range sentencePattern.FindAllStringIndex(text, -1) {
		if s := strings.TrimSpace(text[loc[0]:loc[1]]); s != "" {
			out = append(out, s)
		}
		end = loc[1]
	}
	if tail := strings.TrimSpace(text[end:]); tail != "" {
		out = append(out, tail)
	}
	return out
}

// Summarize returns at most maxSentences of the highest-ranked sentences of
// text, in the order they appear.
func (s *FrequencySummarizer) Summarize(text string, maxSentences int) ([]string, error) {
	if maxSentences <= 0 {
		return nil, nil
	}
	sentences := Split(text)
	if len(sentences) <= maxSentences {
		return sentences, nil
	}

	freq := map[string]float64{}
	for _, sent := range sentences {
		for _, tok := range lexical.Terms(sent) {
			freq[tok]++
		}
	}
	maxF := 0.0
	for _, v := range freq {
		maxF = math.Max(maxF, v)
	}
	if maxF > 0 {
		for k, v := range freq {
			freq[k] = v / maxF
		}
	}

	type pair struct {
		idx   int
		score float64
	}
	scores := make([]pair, len(sentences))
	for i, sent := range sentences {
		terms := lexical.Terms(sent)
		score := 0.0
		for _, tok := range terms {
			score += freq[tok]
		}
		// Normalize by sentence length to avoid bias
		if l := float64(len(terms)); l > 0 {
			score /= math.Sqrt(l)
		}
		scores[i] = pair{i, score}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	selected := make([]int, maxSentences)
	for i := range selected {
		selected[i] = scores[i].idx
	}
	sort.Ints(selected)
	out := make([]string, 0, maxSentences)
	for _, idx := range selected {
		out = append(out, sentences[idx])
	}
	return out, nil
}
