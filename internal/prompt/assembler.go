// Package prompt assembles the bounded prompt handed to the generator.
//
// Sections appear in a fixed order: preamble, quoted query, retrieved
// context, conversation history, user profile and the answer cue. When the
// prompt exceeds its budget, oldest history turns go first, then the
// lowest-scored sentences, then profile fields from the end. The preamble
// and query are never cut.
package prompt

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/m-mizutani/goerr/v2"

	"medrag/internal/domain"
)

// DefaultPreamble is the static instruction block the generator was tuned on.
const DefaultPreamble = `You are a medical assistant. You can provide information about diseases, symptoms, causes, and risk factors.
Only respond to medical questions.
Use the following context to answer.
If the symptoms are vague, ask for more details.
If the question is non-medical, politely say you cannot answer.
Do NOT include the context or the question IN your response.`

const (
	contextHeader = "Context:"
	historyHeader = "Conversation history:"
	profileHeader = "User profile:"
	answerCue     = "Answer:"
)

// Request carries everything one prompt is built from. Sentences is the
// sequence of the generation the retrieval came from, indexed by id.
type Request struct {
	Retrieval domain.RetrievalResult
	Sentences []domain.Sentence
	History   []domain.ConversationTurn
	Profile   *domain.UserProfile
	Query     string
	MaxLength int
}

// Context is an assembled prompt and a record of what was cut to fit.
type Context struct {
	Text string
	// Hits are the retrieved sentences that made it into the prompt.
	Hits                 domain.RetrievalResult
	HistoryTurns         int
	ProfileFields        int
	DroppedTurns         int
	DroppedSentences     int
	DroppedProfileFields int
}

// Length is the prompt size in Unicode code points.
func (c *Context) Length() int {
	return utf8.RuneCountInString(c.Text)
}

// ExtractAnswer returns the generated answer from raw generator output.
// Generators that echo their input have the exact prompt removed by length;
// output without the echo is returned trimmed.
func (c *Context) ExtractAnswer(raw string) string {
	if strings.HasPrefix(raw, c.Text) {
		raw = raw[len(c.Text):]
	}
	return strings.TrimSpace(raw)
}

// Assembler builds prompts.
type Assembler struct {
	preamble string
	now      func() time.Time
}

type Option func(*Assembler)

// WithPreamble replaces the instruction block.
func WithPreamble(p string) Option {
	return func(a *Assembler) {
		if strings.TrimSpace(p) != "" {
			a.preamble = p
		}
	}
}

// WithClock sets the time used to derive ages.
func WithClock(now func() time.Time) Option {
	return func(a *Assembler) {
		a.now = now
	}
}

func NewAssembler(opts ...Option) *Assembler {
	a := &Assembler{preamble: DefaultPreamble, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble renders req into a prompt no longer than req.MaxLength code
// points, or fails with domain.ErrPromptTooLarge when the preamble and query
// alone do not fit.
func (a *Assembler) Assemble(req Request) (*Context, error) {
	if req.MaxLength <= 0 {
		return nil, goerr.Wrap(domain.ErrInvalidArgument, "max length must be positive", goerr.V("max_length", req.MaxLength))
	}

	facts := make([]string, len(req.Retrieval))
	for i, h := range req.Retrieval {
		if h.SentenceID < 0 || h.SentenceID >= len(req.Sentences) {
			return nil, goerr.Wrap(domain.ErrIndexUnavailable, "retrieved id outside sentence sequence",
				goerr.V("id", h.SentenceID), goerr.V("sentences", len(req.Sentences)))
		}
		facts[i] = req.Sentences[h.SentenceID].Text
	}
	turns := make([]string, len(req.History))
	for i, t := range req.History {
		turns[i] = "User: " + t.Query + "\nAssistant: " + t.Answer
	}

	l := &layout{
		preamble: a.preamble,
		query:    req.Query,
		facts:    facts,
		turns:    turns,
		profile:  ProfileFields(req.Profile, a.now()),
	}

	if bare := l.bareLength(); bare > req.MaxLength {
		return nil, goerr.Wrap(domain.ErrPromptTooLarge, "preamble and query exceed prompt budget",
			goerr.V("required", bare), goerr.V("max_length", req.MaxLength))
	}

	ctx := &Context{}
	for l.length() > req.MaxLength && len(l.turns) > 0 {
		l.turns = l.turns[1:]
		ctx.DroppedTurns++
	}
	for l.length() > req.MaxLength && len(l.facts) > 0 {
		l.facts = l.facts[:len(l.facts)-1]
		ctx.DroppedSentences++
	}
	for l.length() > req.MaxLength && len(l.profile) > 0 {
		l.profile = l.profile[:len(l.profile)-1]
		ctx.DroppedProfileFields++
	}

	ctx.Text = l.render()
	ctx.Hits = append(domain.RetrievalResult{}, req.Retrieval[:len(l.facts)]...)
	ctx.HistoryTurns = len(l.turns)
	ctx.ProfileFields = len(l.profile)
	return ctx, nil
}

// layout holds the renderable pieces of one prompt.
type layout struct {
	preamble string
	query    string
	facts    []string
	turns    []string
	profile  []string
}

func (l *layout) render() string {
	var b strings.Builder
	b.WriteString(l.preamble)
	b.WriteString("\nThe user said the following:\"")
	b.WriteString(l.query)
	b.WriteString("\"\n\n")

	b.WriteString(contextHeader)
	b.WriteString("\n")
	b.WriteString(strings.Join(l.facts, "\n"))
	b.WriteString("\n\n")

	b.WriteString(historyHeader)
	b.WriteString("\n")
	b.WriteString(strings.Join(l.turns, "\n"))
	b.WriteString("\n\n")

	if len(l.profile) > 0 {
		b.WriteString(profileHeader)
		b.WriteString("\n")
		b.WriteString(strings.Join(l.profile, "; "))
		b.WriteString("\n\n")
	}

	b.WriteString(answerCue)
	return b.String()
}

func (l *layout) length() int {
	return utf8.RuneCountInString(l.render())
}

// bareLength is the size with every droppable section emptied.
func (l *layout) bareLength() int {
	bare := layout{preamble: l.preamble, query: l.query}
	return bare.length()
}
