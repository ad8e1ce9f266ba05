package cli

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"

	"medrag/internal/config"
	"medrag/internal/corpus"
	"medrag/internal/domain"
	"medrag/internal/embedding/hashing"
	"medrag/internal/embedding/openai"
	"medrag/internal/index"
	"medrag/internal/llm"
	"medrag/internal/llm/ollama"
	"medrag/internal/logging"
	"medrag/internal/profile"
	"medrag/internal/prompt"
	"medrag/internal/retriever"
	"medrag/internal/service"
	"medrag/internal/summarizer"
	"medrag/internal/vectorstore"
	"medrag/internal/vectorstore/file"
	"medrag/internal/vectorstore/memory"
	"medrag/internal/vectorstore/sqlite"
)

// runtime is the assembled object graph of one command.
type runtime struct {
	cfg      *config.AppConfig
	chat     *service.Chat
	profiles *profile.Store
	closers  []func() error
}

func (r *runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	return errors.Join(errs...)
}

// assemble builds the chat service and its collaborators from cfg. needGen
// is false for commands that never generate answers.
func assemble(ctx context.Context, cfg *config.AppConfig, needGen bool) (*runtime, error) {
	rt := &runtime{cfg: cfg}
	var gem gollem.LLMClient
	geminiClient := func() (gollem.LLMClient, error) {
		if gem != nil {
			return gem, nil
		}
		c, err := llm.NewGemini(ctx, cfg.Gemini.Project, cfg.Gemini.Location)
		if err != nil {
			return nil, err
		}
		gem = c
		return gem, nil
	}

	emb, err := newEmbedder(cfg, geminiClient)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to configure embedder", goerr.V("type", cfg.Embedder.Type))
	}
	storage, err := rt.newStorage(ctx, cfg)
	if err != nil {
		_ = rt.Close()
		return nil, goerr.Wrap(err, "failed to configure index store", goerr.V("store", cfg.Index.Store))
	}
	profiles, err := profile.NewStore(cfg.Profile.Dir)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.profiles = profiles

	normOpts := []corpus.Option{}
	if len(cfg.Corpus.Categories) > 0 {
		normOpts = append(normOpts, corpus.WithCategories(cfg.Corpus.Categories...))
	}
	if cfg.Corpus.OverviewSentences > 0 {
		normOpts = append(normOpts, corpus.WithOverview(corpus.DefaultOverview(), summarizer.NewFrequencySummarizer(), cfg.Corpus.OverviewSentences))
	}
	promptOpts := []prompt.Option{}
	if cfg.Prompt.Preamble != "" {
		promptOpts = append(promptOpts, prompt.WithPreamble(cfg.Prompt.Preamble))
	}

	opts := []service.Option{
		service.WithNormalizer(corpus.NewNormalizer(normOpts...)),
		service.WithBuilder(index.NewBuilder(emb, index.WithConcurrency(cfg.Index.BuildConcurrency))),
		service.WithRetriever(retriever.New(emb, retriever.WithMinScore(cfg.Retrieval.MinScore))),
		service.WithAssembler(prompt.NewAssembler(promptOpts...)),
		service.WithProfiles(profiles),
	}
	if needGen {
		gen, err := newGenerator(cfg, geminiClient)
		if err != nil {
			_ = rt.Close()
			return nil, goerr.Wrap(err, "failed to configure generator", goerr.V("type", cfg.Generator.Type))
		}
		opts = append(opts, service.WithGenerator(gen))
	}

	rt.chat = service.New(service.Config{
		CorpusPath:   cfg.Corpus.Path,
		TopK:         cfg.Retrieval.TopK,
		MaxLength:    cfg.Prompt.MaxLength,
		MaxNewTokens: cfg.Generator.MaxNewTokens,
	}, emb, storage, opts...)

	logging.From(ctx).Debug("components assembled",
		"embedder", emb.Name(),
		"store", cfg.Index.Store,
		"generator", cfg.Generator.Type,
	)
	return rt, nil
}

func newEmbedder(cfg *config.AppConfig, gemini func() (gollem.LLMClient, error)) (domain.Embedder, error) {
	switch cfg.Embedder.Type {
	case "hashing", "":
		return hashing.NewEmbedder(cfg.Embedder.Dimension)
	case "openai":
		oc := cfg.Embedder.OpenAI
		return openai.NewClient(openai.Config{
			BaseURL:    oc.BaseURL,
			APIKeyEnv:  oc.APIKeyEnv,
			Model:      oc.Model,
			Timeout:    time.Duration(oc.TimeoutSecs) * time.Second,
			MaxRetries: oc.MaxRetries,
		})
	case "gemini":
		client, err := gemini()
		if err != nil {
			return nil, err
		}
		return llm.NewEmbedder(client, cfg.Embedder.Dimension, "gemini:"+cfg.Embedder.Model)
	default:
		return nil, goerr.New("unknown embedder", goerr.V("type", cfg.Embedder.Type))
	}
}

func newGenerator(cfg *config.AppConfig, gemini func() (gollem.LLMClient, error)) (domain.Generator, error) {
	switch cfg.Generator.Type {
	case "echo", "":
		return llm.Echo{}, nil
	case "ollama":
		oc := cfg.Generator.Ollama
		return ollama.New(oc.BaseURL, oc.Model, ollama.WithSampling(oc.Temperature, oc.TopP)), nil
	case "gemini":
		client, err := gemini()
		if err != nil {
			return nil, err
		}
		return llm.NewGenerator(client)
	default:
		return nil, goerr.New("unknown generator", goerr.V("type", cfg.Generator.Type))
	}
}

func (r *runtime) newStorage(ctx context.Context, cfg *config.AppConfig) (vectorstore.Storage, error) {
	switch cfg.Index.Store {
	case "memory":
		return memory.NewStorage(), nil
	case "file", "":
		return file.NewStorage(cfg.Index.Dir)
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.Index.SQLitePath), 0o755); err != nil {
			return nil, goerr.Wrap(err, "failed to create index directory", goerr.V("path", cfg.Index.SQLitePath))
		}
		db, err := sqlite.Open(cfg.Index.SQLitePath)
		if err != nil {
			return nil, err
		}
		st, err := sqlite.NewStorage(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		r.closers = append(r.closers, st.Close)
		return st, nil
	default:
		return nil, goerr.New("unknown index store", goerr.V("store", cfg.Index.Store))
	}
}
