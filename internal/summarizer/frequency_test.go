package summarizer_test

import (
	"testing"

	"github.com/m-mizutani/gt"

	"medrag/internal/summarizer"
)

func TestSplit(t *testing.T) {
	gt.Value(t, summarizer.Split("Flu is common. It spreads fast!  ")).Equal([]string{"Flu is common.", "It spreads fast!"})
	gt.Value(t, summarizer.Split("no terminal mark")).Equal([]string{"no terminal mark"})
	gt.Array(t, summarizer.Split("   ")).Length(0)
}

func TestFrequencySummarizer(t *testing.T) {
	s := summarizer.NewFrequencySummarizer()
	text := "Influenza is a viral infection. Influenza causes fever and influenza spreads. The weather was nice."

	t.Run("keeps original order of the best sentences", func(t *testing.T) {
		got, err := s.Summarize(text, 2)
		gt.NoError(t, err).Required()
		gt.Value(t, got).Equal([]string{"Influenza is a viral infection.", "Influenza causes fever and influenza spreads."})
	})

	t.Run("deterministic across runs", func(t *testing.T) {
		a, err := s.Summarize(text, 1)
		gt.NoError(t, err).Required()
		b, err := s.Summarize(text, 1)
		gt.NoError(t, err).Required()
		gt.Value(t, a).Equal(b)
	})

	t.Run("zero sentences requested", func(t *testing.T) {
		got, err := s.Summarize(text, 0)
		gt.NoError(t, err).Required()
		gt.Array(t, got).Length(0)
	})
}
