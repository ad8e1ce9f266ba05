package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/m-mizutani/gt"

	"medrag/internal/domain"
	"medrag/internal/service"
)

type stubChat struct {
	queries []string
	answer  *service.Answer
	err     error
}

func (s *stubChat) Ask(ctx context.Context, sessionID, query string, profile *domain.UserProfile) (*service.Answer, error) {
	s.queries = append(s.queries, query)
	return s.answer, s.err
}

func typeText(m Model, text string) Model {
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)})
	return next.(Model)
}

func sized(m Model) Model {
	next, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 30})
	return next.(Model)
}

func TestAskRunsAsynchronously(t *testing.T) {
	stub := &stubChat{answer: &service.Answer{
		Text:       "Fever is a symptom of flu.",
		Generation: "g1",
		Sources: []service.Source{
			{Sentence: domain.Sentence{ID: 0, Text: "Flu has symptom: cough"}, Score: 0.4},
			{Sentence: domain.Sentence{ID: 1, Text: "Flu has symptom: fever"}, Score: 0.3},
		},
	}}
	m := sized(New(context.Background(), stub, "s1", nil, "2 illnesses"))
	m = typeText(m, "fever")

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	gt.Bool(t, m.busy).True()
	gt.Value(t, m.input.Value()).Equal("")
	gt.Array(t, stub.queries).Length(0)
	gt.Bool(t, cmd != nil).True()

	// a second Enter while busy is ignored
	_, again := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	gt.Bool(t, again == nil).True()

	next, _ = m.Update(cmd())
	m = next.(Model)
	gt.Value(t, stub.queries).Equal([]string{"fever"})
	gt.Bool(t, m.busy).False()
	gt.Array(t, m.turns).Length(1)
	gt.Bool(t, strings.Contains(m.status, "2 sources")).True()
	gt.Bool(t, strings.Contains(m.renderTranscript(), "Fever is a symptom of flu.")).True()
}

func TestAskErrorKeepsTranscript(t *testing.T) {
	stub := &stubChat{err: errors.New("index unavailable")}
	m := sized(New(context.Background(), stub, "s1", nil, ""))
	m = typeText(m, "fever")
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	next, _ = m.Update(cmd())
	m = next.(Model)

	gt.Array(t, m.turns).Length(0)
	gt.Bool(t, strings.HasPrefix(m.status, "Error:")).True()
}

func TestBestSource(t *testing.T) {
	sources := []service.Source{
		{Sentence: domain.Sentence{Text: "Flu has symptom: cough"}},
		{Sentence: domain.Sentence{Text: "Flu has symptom: fever"}},
	}
	gt.Value(t, bestSource(sources, "high fever")).Equal(1)
	gt.Value(t, bestSource(sources, "")).Equal(0)
}
