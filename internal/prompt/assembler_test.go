package prompt_test

import (
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"medrag/internal/domain"
	"medrag/internal/prompt"
)

const unlimited = 1 << 20

var fixedNow = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

func newAssembler() *prompt.Assembler {
	return prompt.NewAssembler(prompt.WithClock(func() time.Time { return fixedNow }))
}

func fluSentences() []domain.Sentence {
	texts := []string{
		"Flu has symptom: fever",
		"Flu has symptom: cough",
		"Flu has cause: influenza virus",
		"Flu has prevention: yearly vaccination",
	}
	out := make([]domain.Sentence, len(texts))
	for i, t := range texts {
		out[i] = domain.Sentence{ID: i, Text: t, SourceEntity: "Flu"}
	}
	return out
}

func baseRequest() prompt.Request {
	return prompt.Request{
		Retrieval: domain.RetrievalResult{{SentenceID: 2, Score: 0.9}, {SentenceID: 0, Score: 0.7}, {SentenceID: 3, Score: 0.4}},
		Sentences: fluSentences(),
		History: []domain.ConversationTurn{
			{Query: "what is flu?", Answer: "A viral infection."},
			{Query: "is it contagious?", Answer: "Yes, very."},
		},
		Profile: &domain.UserProfile{
			DateOfBirth: "1990-04-02",
			Gender:      "female",
			Allergies:   []string{"penicillin"},
		},
		Query:     "How do I avoid the flu?",
		MaxLength: unlimited,
	}
}

func lengthOf(t *testing.T, req prompt.Request) int {
	t.Helper()
	req.MaxLength = unlimited
	c, err := newAssembler().Assemble(req)
	gt.NoError(t, err).Required()
	return c.Length()
}

func TestAssembleLayout(t *testing.T) {
	c, err := newAssembler().Assemble(baseRequest())
	gt.NoError(t, err).Required()

	want := prompt.DefaultPreamble + "\n" +
		"The user said the following:\"How do I avoid the flu?\"\n\n" +
		"Context:\n" +
		"Flu has cause: influenza virus\nFlu has symptom: fever\nFlu has prevention: yearly vaccination\n\n" +
		"Conversation history:\n" +
		"User: what is flu?\nAssistant: A viral infection.\nUser: is it contagious?\nAssistant: Yes, very.\n\n" +
		"User profile:\n" +
		"Age: 36; Gender: female; Allergies: penicillin\n\n" +
		"Answer:"
	gt.Value(t, c.Text).Equal(want)
	gt.Value(t, c.Hits.IDs()).Equal([]int{2, 0, 3})
	gt.Value(t, c.HistoryTurns).Equal(2)
	gt.Value(t, c.ProfileFields).Equal(3)
}

func TestAssembleTruncation(t *testing.T) {
	t.Run("drops just enough oldest history turns", func(t *testing.T) {
		req := baseRequest()
		withoutOldest := req
		withoutOldest.History = req.History[1:]
		req.MaxLength = lengthOf(t, withoutOldest)

		c, err := newAssembler().Assemble(req)
		gt.NoError(t, err).Required()
		gt.Value(t, c.DroppedTurns).Equal(1)
		gt.Value(t, c.DroppedSentences).Equal(0)
		gt.Value(t, c.DroppedProfileFields).Equal(0)
		gt.Bool(t, strings.Contains(c.Text, "what is flu?")).False()
		gt.String(t, c.Text).Contains("is it contagious?")
		gt.String(t, c.Text).Contains("The user said the following:\"How do I avoid the flu?\"")
		gt.Bool(t, strings.HasPrefix(c.Text, prompt.DefaultPreamble)).True()
		gt.Bool(t, c.Length() <= req.MaxLength).True()
	})

	t.Run("lowest scored sentence goes before the profile", func(t *testing.T) {
		req := baseRequest()
		req.History = nil
		shorter := req
		shorter.Retrieval = req.Retrieval[:2]
		req.MaxLength = lengthOf(t, shorter)

		c, err := newAssembler().Assemble(req)
		gt.NoError(t, err).Required()
		gt.Value(t, c.DroppedSentences).Equal(1)
		gt.Value(t, c.Hits.IDs()).Equal([]int{2, 0})
		gt.Bool(t, strings.Contains(c.Text, "yearly vaccination")).False()
		gt.String(t, c.Text).Contains("Allergies: penicillin")
	})

	t.Run("history goes before any sentence", func(t *testing.T) {
		req := baseRequest()
		req.MaxLength = lengthOf(t, req) - 1

		c, err := newAssembler().Assemble(req)
		gt.NoError(t, err).Required()
		gt.Value(t, c.DroppedTurns).Equal(1)
		gt.Value(t, c.DroppedSentences).Equal(0)
	})

	t.Run("profile fields are cut last, from the end", func(t *testing.T) {
		req := baseRequest()
		req.History = nil
		req.Retrieval = nil
		req.MaxLength = lengthOf(t, req) - 1

		c, err := newAssembler().Assemble(req)
		gt.NoError(t, err).Required()
		gt.Value(t, c.DroppedProfileFields).Equal(1)
		gt.String(t, c.Text).Contains("User profile:\nAge: 36; Gender: female\n")
	})

	t.Run("never longer than the budget", func(t *testing.T) {
		req := baseRequest()
		bare := req
		bare.History, bare.Retrieval, bare.Profile = nil, nil, nil
		minimum := lengthOf(t, bare)
		full := lengthOf(t, req)

		for max := minimum; max <= full; max++ {
			req.MaxLength = max
			c, err := newAssembler().Assemble(req)
			gt.NoError(t, err).Required()
			gt.Bool(t, c.Length() <= max).True()
			gt.String(t, c.Text).Contains(req.Query)
		}

		req.MaxLength = minimum - 1
		_, err := newAssembler().Assemble(req)
		gt.Error(t, err).Is(domain.ErrPromptTooLarge)
	})

	t.Run("length counts code points", func(t *testing.T) {
		req := baseRequest()
		req.Query = "¿Qué es la fiebre?"
		c, err := newAssembler().Assemble(req)
		gt.NoError(t, err).Required()
		req.MaxLength = c.Length()
		_, err = newAssembler().Assemble(req)
		gt.NoError(t, err)
		gt.Bool(t, len(c.Text) > c.Length()).True()
	})
}

func TestAssembleEdges(t *testing.T) {
	t.Run("empty retrieval renders an empty context block", func(t *testing.T) {
		c, err := newAssembler().Assemble(prompt.Request{Query: "hello", MaxLength: unlimited})
		gt.NoError(t, err).Required()
		gt.String(t, c.Text).Contains("Context:\n\n\nConversation history:\n\n\nAnswer:")
		gt.Bool(t, strings.Contains(c.Text, "User profile:")).False()
	})

	t.Run("pregnancy without due date", func(t *testing.T) {
		req := prompt.Request{
			Query:     "is ibuprofen safe?",
			Profile:   &domain.UserProfile{IsPregnant: true},
			MaxLength: unlimited,
		}
		c, err := newAssembler().Assemble(req)
		gt.NoError(t, err).Required()
		gt.String(t, c.Text).Contains("User profile:\nPregnant: Yes (due date: unknown)\n\nAnswer:")
		gt.Bool(t, strings.Contains(c.Text, "Age:")).False()
		gt.Bool(t, strings.Contains(c.Text, "Gender:")).False()
	})

	t.Run("retrieved id outside the sentence sequence", func(t *testing.T) {
		req := baseRequest()
		req.Retrieval = domain.RetrievalResult{{SentenceID: 99, Score: 1}}
		_, err := newAssembler().Assemble(req)
		gt.Error(t, err).Is(domain.ErrIndexUnavailable)
	})

	t.Run("non-positive budget", func(t *testing.T) {
		req := baseRequest()
		req.MaxLength = 0
		_, err := newAssembler().Assemble(req)
		gt.Error(t, err).Is(domain.ErrInvalidArgument)
	})

	t.Run("custom preamble", func(t *testing.T) {
		c, err := prompt.NewAssembler(prompt.WithPreamble("Be brief.")).Assemble(prompt.Request{Query: "q", MaxLength: unlimited})
		gt.NoError(t, err).Required()
		gt.Bool(t, strings.HasPrefix(c.Text, "Be brief.\nThe user said")).True()
	})
}

func TestProfileFields(t *testing.T) {
	p := &domain.UserProfile{
		DateOfBirth:        "2000-12-31",
		Gender:             " male ",
		Conditions:         []string{"asthma", "", "Asthma", "asthma"},
		CurrentMedications: []string{"salbutamol"},
		IsPregnant:         true,
		PregnancyDueDate:   "2027-01-15",
	}
	got := prompt.ProfileFields(p, fixedNow)
	gt.Value(t, got).Equal([]string{
		"Age: 26",
		"Gender: male",
		"Conditions: Asthma, asthma",
		"Current medications: salbutamol",
		"Pregnant: Yes (due date: 2027-01-15)",
	})

	gt.Array(t, prompt.ProfileFields(nil, fixedNow)).Length(0)
	gt.Array(t, prompt.ProfileFields(&domain.UserProfile{DateOfBirth: "not a date"}, fixedNow)).Length(0)
}

func TestExtractAnswer(t *testing.T) {
	c, err := newAssembler().Assemble(baseRequest())
	gt.NoError(t, err).Required()

	gt.Value(t, c.ExtractAnswer(c.Text+" Get vaccinated every year.\n")).Equal("Get vaccinated every year.")
	gt.Value(t, c.ExtractAnswer("  Answer: wash your hands. ")).Equal("Answer: wash your hands.")
}
