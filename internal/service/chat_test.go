package service_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/m-mizutani/gt"

	"medrag/internal/domain"
	"medrag/internal/embedding/hashing"
	"medrag/internal/service"
	"medrag/internal/vectorstore/memory"
)

const fluCorpus = `[
  {"Name of illness":"Flu","Symptoms":["fever","cough"],"Causes":["influenza virus"]},
  {"Name of illness":"Migraine","Symptoms":["headache","nausea"],"Prevention":"regular sleep"}
]`

type mockGenerator struct {
	mu      sync.Mutex
	prompts []string
	answer  string
	err     error
}

func (m *mockGenerator) Generate(ctx context.Context, prompt string, maxNewTokens int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	if m.err != nil {
		return "", m.err
	}
	// echo the prompt like a causal LM would
	return prompt + " " + m.answer, nil
}

type mockProfiles struct {
	profiles map[string]*domain.UserProfile
}

func (m *mockProfiles) Get(ctx context.Context, userID string) (*domain.UserProfile, error) {
	if p, ok := m.profiles[userID]; ok {
		return p, nil
	}
	return nil, domain.ErrProfileNotFound
}

type blockingEmbedder struct {
	*hashing.Embedder
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return b.Embedder.Embed(ctx, text)
}

func writeCorpus(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "illness_details.json")
	gt.NoError(t, os.WriteFile(path, []byte(content), 0o644)).Required()
	return path
}

func newChat(t *testing.T, corpusPath string, opts ...service.Option) (*service.Chat, *mockGenerator) {
	t.Helper()
	emb, err := hashing.NewEmbedder(256)
	gt.NoError(t, err).Required()
	gen := &mockGenerator{answer: "Rest and fluids."}
	opts = append([]service.Option{service.WithGenerator(gen)}, opts...)
	c := service.New(service.Config{CorpusPath: corpusPath, TopK: 3, MaxLength: 2048}, emb, memory.NewStorage(), opts...)
	return c, gen
}

func TestRebuildAndSearch(t *testing.T) {
	ctx := context.Background()
	chat, _ := newChat(t, writeCorpus(t, fluCorpus))

	report, err := chat.Rebuild(ctx)
	gt.NoError(t, err).Required()
	gt.Value(t, report.Sentences).Equal(6)
	gt.Value(t, report.Model).Equal("hashing-256")

	res, err := chat.Search(ctx, "Flu has symptom: fever", 1)
	gt.NoError(t, err).Required()
	gt.Array(t, res).Length(1)
	gt.Value(t, res[0].Text).Equal("Flu has symptom: fever")
	gt.Value(t, res[0].ID).Equal(0)
}

func TestSearchBeforeLoad(t *testing.T) {
	chat, _ := newChat(t, writeCorpus(t, fluCorpus))
	_, err := chat.Search(context.Background(), "fever", 1)
	gt.Error(t, err).Is(domain.ErrIndexUnavailable)
}

func TestFailedRebuildKeepsServing(t *testing.T) {
	ctx := context.Background()
	path := writeCorpus(t, fluCorpus)
	chat, _ := newChat(t, path)
	first, err := chat.Rebuild(ctx)
	gt.NoError(t, err).Required()

	gt.NoError(t, os.WriteFile(path, []byte(`[{"Name of illness":"Bad","Symptoms":[1,2]}]`), 0o644)).Required()
	_, err = chat.Rebuild(ctx)
	gt.Error(t, err).Is(domain.ErrCorpusFormat)
	gt.Value(t, chat.Generation().ID).Equal(first.Generation)
}

func TestLoad(t *testing.T) {
	ctx := context.Background()
	path := writeCorpus(t, fluCorpus)
	emb, err := hashing.NewEmbedder(64)
	gt.NoError(t, err).Required()
	store := memory.NewStorage()

	t.Run("nothing persisted rebuilds", func(t *testing.T) {
		chat := service.New(service.Config{CorpusPath: path}, emb, store)
		report, err := chat.LoadOrRebuild(ctx)
		gt.NoError(t, err).Required()
		gt.Value(t, report.Sentences).Equal(6)
	})

	t.Run("a second process loads the same generation", func(t *testing.T) {
		chat := service.New(service.Config{CorpusPath: path}, emb, store)
		report, err := chat.Load(ctx)
		gt.NoError(t, err).Required()
		gt.Value(t, report.Sentences).Equal(6)
	})

	t.Run("index from another embedding model is refused", func(t *testing.T) {
		other, err := hashing.NewEmbedder(128)
		gt.NoError(t, err).Required()
		chat := service.New(service.Config{CorpusPath: path}, other, store)
		_, err = chat.Load(ctx)
		gt.Error(t, err).Is(domain.ErrIndexUnavailable)
	})
}

func TestConcurrentRebuild(t *testing.T) {
	inner, err := hashing.NewEmbedder(32)
	gt.NoError(t, err).Required()
	emb := &blockingEmbedder{Embedder: inner, started: make(chan struct{}), release: make(chan struct{})}
	chat := service.New(service.Config{CorpusPath: writeCorpus(t, fluCorpus)}, emb, memory.NewStorage())

	done := make(chan error, 1)
	go func() {
		_, err := chat.Rebuild(context.Background())
		done <- err
	}()
	<-emb.started
	_, err = chat.Rebuild(context.Background())
	gt.Error(t, err).Is(domain.ErrBuildInProgress)

	close(emb.release)
	gt.NoError(t, <-done)
}

func TestAsk(t *testing.T) {
	ctx := context.Background()

	t.Run("answers and remembers the turn", func(t *testing.T) {
		chat, gen := newChat(t, writeCorpus(t, fluCorpus))
		_, err := chat.Rebuild(ctx)
		gt.NoError(t, err).Required()
		sess := chat.StartSession("alice")

		ans, err := chat.Ask(ctx, sess.ID, "what causes flu fever?", nil)
		gt.NoError(t, err).Required()
		gt.Value(t, ans.Text).Equal("Rest and fluids.")
		gt.Bool(t, len(ans.Sources) > 0).True()
		gt.Value(t, ans.Generation).Equal(chat.Generation().ID)

		_, err = chat.Ask(ctx, sess.ID, "and migraine?", nil)
		gt.NoError(t, err).Required()
		gt.Array(t, gen.prompts).Length(2)
		gt.String(t, gen.prompts[1]).Contains("User: what causes flu fever?\nAssistant: Rest and fluids.")
		gt.Array(t, sess.History()).Length(2)
	})

	t.Run("sessions do not see each other", func(t *testing.T) {
		chat, gen := newChat(t, writeCorpus(t, fluCorpus))
		_, err := chat.Rebuild(ctx)
		gt.NoError(t, err).Required()
		a := chat.StartSession("alice")
		b := chat.StartSession("bob")

		_, err = chat.Ask(ctx, a.ID, "secret question about fever", nil)
		gt.NoError(t, err).Required()
		_, err = chat.Ask(ctx, b.ID, "headache?", nil)
		gt.NoError(t, err).Required()
		gt.Bool(t, len(gen.prompts) == 2).True()
		gt.String(t, gen.prompts[1]).Contains("Conversation history:\n\n\n")
	})

	t.Run("stored profile is used when none is sent", func(t *testing.T) {
		profiles := &mockProfiles{profiles: map[string]*domain.UserProfile{
			"alice": {UserID: "alice", Allergies: []string{"aspirin"}},
		}}
		chat, gen := newChat(t, writeCorpus(t, fluCorpus), service.WithProfiles(profiles))
		_, err := chat.Rebuild(ctx)
		gt.NoError(t, err).Required()

		_, err = chat.Ask(ctx, chat.StartSession("alice").ID, "fever?", nil)
		gt.NoError(t, err).Required()
		gt.String(t, gen.prompts[0]).Contains("User profile:\nAllergies: aspirin")

		_, err = chat.Ask(ctx, chat.StartSession("carol").ID, "fever?", nil)
		gt.NoError(t, err).Required()
		gt.Bool(t, len(gen.prompts) == 2).True()
	})

	t.Run("unknown session", func(t *testing.T) {
		chat, _ := newChat(t, writeCorpus(t, fluCorpus))
		_, err := chat.Ask(ctx, "nope", "fever?", nil)
		gt.Error(t, err).Is(domain.ErrSessionNotFound)
	})

	t.Run("no index leaves history untouched", func(t *testing.T) {
		chat, gen := newChat(t, writeCorpus(t, fluCorpus))
		sess := chat.StartSession("alice")
		_, err := chat.Ask(ctx, sess.ID, "fever?", nil)
		gt.Error(t, err).Is(domain.ErrIndexUnavailable)
		gt.Array(t, sess.History()).Length(0)
		gt.Array(t, gen.prompts).Length(0)
	})

	t.Run("budget too small for the question", func(t *testing.T) {
		emb, err := hashing.NewEmbedder(64)
		gt.NoError(t, err).Required()
		gen := &mockGenerator{}
		chat := service.New(service.Config{CorpusPath: writeCorpus(t, fluCorpus), MaxLength: 50}, emb, memory.NewStorage(), service.WithGenerator(gen))
		_, err = chat.Rebuild(ctx)
		gt.NoError(t, err).Required()
		_, err = chat.Ask(ctx, chat.StartSession("u").ID, "fever?", nil)
		gt.Error(t, err).Is(domain.ErrPromptTooLarge)
	})

	t.Run("empty question", func(t *testing.T) {
		chat, _ := newChat(t, writeCorpus(t, fluCorpus))
		_, err := chat.Ask(ctx, chat.StartSession("u").ID, "   ", nil)
		gt.Error(t, err).Is(domain.ErrInvalidArgument)
	})
}
