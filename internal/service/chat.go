package service

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/m-mizutani/goerr/v2"

	"medrag/internal/corpus"
	"medrag/internal/domain"
	"medrag/internal/index"
	"medrag/internal/logging"
	"medrag/internal/prompt"
	"medrag/internal/retriever"
	"medrag/internal/session"
	"medrag/internal/vectorstore"
)

// ProfileReader returns the stored profile of a user, or
// domain.ErrProfileNotFound.
type ProfileReader interface {
	Get(ctx context.Context, userID string) (*domain.UserProfile, error)
}

// Config holds the tunables of the chat service.
type Config struct {
	CorpusPath   string
	TopK         int
	MaxLength    int
	MaxNewTokens int
}

// Source is a retrieved sentence with its score.
type Source struct {
	domain.Sentence
	Score float64 `json:"score"`
}

// Answer is the outcome of one question.
type Answer struct {
	Text                 string   `json:"response"`
	Sources              []Source `json:"sources"`
	Generation           string   `json:"generation"`
	DroppedTurns         int      `json:"droppedTurns"`
	DroppedSentences     int      `json:"droppedSentences"`
	DroppedProfileFields int      `json:"droppedProfileFields"`
}

// BuildReport describes a published generation.
type BuildReport struct {
	Generation string `json:"generation"`
	Model      string `json:"model"`
	Sentences  int    `json:"sentences"`
}

// Chat wires normalization, indexing, retrieval, prompt assembly and
// generation behind session-aware operations.
type Chat struct {
	cfg        Config
	embedder   domain.Embedder
	storage    vectorstore.Storage
	normalizer *corpus.Normalizer
	builder    *index.Builder
	retriever  *retriever.Retriever
	assembler  *prompt.Assembler
	generator  domain.Generator
	sessions   *session.Store
	profiles   ProfileReader

	handle  index.Handle
	buildMu sync.Mutex
}

type Option func(*Chat)

func WithGenerator(g domain.Generator) Option {
	return func(c *Chat) { c.generator = g }
}

func WithNormalizer(n *corpus.Normalizer) Option {
	return func(c *Chat) { c.normalizer = n }
}

func WithBuilder(b *index.Builder) Option {
	return func(c *Chat) { c.builder = b }
}

func WithRetriever(r *retriever.Retriever) Option {
	return func(c *Chat) { c.retriever = r }
}

func WithAssembler(a *prompt.Assembler) Option {
	return func(c *Chat) { c.assembler = a }
}

func WithSessions(s *session.Store) Option {
	return func(c *Chat) { c.sessions = s }
}

func WithProfiles(p ProfileReader) Option {
	return func(c *Chat) { c.profiles = p }
}

func New(cfg Config, embedder domain.Embedder, storage vectorstore.Storage, opts ...Option) *Chat {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = 1024
	}
	if cfg.MaxNewTokens <= 0 {
		cfg.MaxNewTokens = 300
	}
	c := &Chat{cfg: cfg, embedder: embedder, storage: storage}
	for _, opt := range opts {
		opt(c)
	}
	if c.normalizer == nil {
		c.normalizer = corpus.NewNormalizer()
	}
	if c.builder == nil {
		c.builder = index.NewBuilder(embedder)
	}
	if c.retriever == nil {
		c.retriever = retriever.New(embedder)
	}
	if c.assembler == nil {
		c.assembler = prompt.NewAssembler()
	}
	if c.sessions == nil {
		c.sessions = session.NewStore()
	}
	return c
}

// Rebuild normalizes the corpus file, builds a new generation, persists it
// and only then makes it live. Queries keep using the previous generation
// until the swap; a failed rebuild leaves it serving.
func (c *Chat) Rebuild(ctx context.Context) (*BuildReport, error) {
	if !c.buildMu.TryLock() {
		return nil, goerr.Wrap(domain.ErrBuildInProgress, "rebuild already running")
	}
	defer c.buildMu.Unlock()

	records, err := corpus.Load(c.cfg.CorpusPath)
	if err != nil {
		return nil, err
	}
	sentences, err := c.normalizer.Normalize(records)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to normalize corpus", goerr.V("path", c.cfg.CorpusPath))
	}
	g, err := c.builder.Build(ctx, sentences)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to build index")
	}
	if err := c.storage.Save(ctx, g); err != nil {
		return nil, goerr.Wrap(err, "failed to persist index", goerr.V("generation", g.ID))
	}
	if old := c.handle.Swap(g); old != nil {
		logging.From(ctx).Info("index generation replaced", "old", old.ID, "new", g.ID)
	}
	return &BuildReport{Generation: g.ID, Model: g.Model, Sentences: len(g.Sentences)}, nil
}

// Load makes the persisted generation live.
func (c *Chat) Load(ctx context.Context) (*BuildReport, error) {
	g, err := c.storage.Load(ctx)
	if err != nil {
		return nil, err
	}
	if g.Model != c.embedder.Name() {
		return nil, goerr.Wrap(domain.ErrIndexUnavailable, "persisted index uses a different embedding model",
			goerr.V("index_model", g.Model), goerr.V("embedder", c.embedder.Name()))
	}
	c.handle.Swap(g)
	return &BuildReport{Generation: g.ID, Model: g.Model, Sentences: len(g.Sentences)}, nil
}

// LoadOrRebuild loads the persisted generation and rebuilds when there is
// none or it cannot serve the configured embedder.
func (c *Chat) LoadOrRebuild(ctx context.Context) (*BuildReport, error) {
	report, err := c.Load(ctx)
	if err == nil {
		return report, nil
	}
	if !errors.Is(err, domain.ErrIndexUnavailable) {
		return nil, err
	}
	logging.From(ctx).Info("no usable index, rebuilding", logging.ErrAttrs(err)...)
	return c.Rebuild(ctx)
}

// Generation returns the live generation, or nil before the first load.
func (c *Chat) Generation() *index.Generation {
	return c.handle.Current()
}

// Search returns the k best sentences for query; k <= 0 uses the configured
// default.
func (c *Chat) Search(ctx context.Context, query string, k int) ([]Source, error) {
	if k <= 0 {
		k = c.cfg.TopK
	}
	g := c.handle.Current()
	res, err := c.retriever.Search(ctx, g, query, k)
	if err != nil {
		return nil, err
	}
	return sources(g, res), nil
}

// StartSession opens a conversation for userID.
func (c *Chat) StartSession(userID string) *session.Session {
	return c.sessions.Start(userID)
}

// Session returns a live conversation.
func (c *Chat) Session(id string) (*session.Session, error) {
	return c.sessions.Get(id)
}

// EndSession discards a conversation and its history.
func (c *Chat) EndSession(id string) error {
	return c.sessions.End(id)
}

// Ask answers query within a session. The session's lock is held from
// reading its history until the new turn is appended. When profile is nil
// the stored profile of the session's user is used, if any.
func (c *Chat) Ask(ctx context.Context, sessionID, query string, profile *domain.UserProfile) (*Answer, error) {
	if strings.TrimSpace(query) == "" {
		return nil, goerr.Wrap(domain.ErrInvalidArgument, "query is empty")
	}
	if c.generator == nil {
		return nil, goerr.New("no generator configured")
	}
	sess, err := c.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if profile == nil && c.profiles != nil && sess.UserID != "" {
		p, err := c.profiles.Get(ctx, sess.UserID)
		switch {
		case err == nil:
			profile = p
		case !errors.Is(err, domain.ErrProfileNotFound):
			return nil, goerr.Wrap(err, "failed to read profile", goerr.V("user", sess.UserID))
		}
	}

	g := c.handle.Current()
	ans := &Answer{}
	text, err := sess.Exchange(ctx, query, func(ctx context.Context, history []domain.ConversationTurn) (string, error) {
		res, err := c.retriever.Search(ctx, g, query, c.cfg.TopK)
		if err != nil {
			return "", err
		}
		pc, err := c.assembler.Assemble(prompt.Request{
			Retrieval: res,
			Sentences: g.Sentences,
			History:   history,
			Profile:   profile,
			Query:     query,
			MaxLength: c.cfg.MaxLength,
		})
		if err != nil {
			return "", err
		}
		raw, err := c.generator.Generate(ctx, pc.Text, c.cfg.MaxNewTokens)
		if err != nil {
			return "", goerr.Wrap(err, "generation failed", goerr.V("session", sessionID))
		}

		ans.Sources = sources(g, pc.Hits)
		ans.Generation = g.ID
		ans.DroppedTurns = pc.DroppedTurns
		ans.DroppedSentences = pc.DroppedSentences
		ans.DroppedProfileFields = pc.DroppedProfileFields
		logging.From(ctx).Debug("prompt assembled",
			"session", sessionID,
			"length", pc.Length(),
			"sentences", len(pc.Hits),
			"history_turns", pc.HistoryTurns,
			"dropped_turns", pc.DroppedTurns,
			"dropped_sentences", pc.DroppedSentences,
		)
		return pc.ExtractAnswer(raw), nil
	})
	if err != nil {
		return nil, err
	}
	ans.Text = text
	return ans, nil
}

func sources(g *index.Generation, res domain.RetrievalResult) []Source {
	out := make([]Source, 0, len(res))
	for _, h := range res {
		if s, ok := g.Sentence(h.SentenceID); ok {
			out = append(out, Source{Sentence: s, Score: h.Score})
		}
	}
	return out
}
