package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"medrag/internal/corpus"
)

// CorpusConfig locates the corpus file and controls normalization.
type CorpusConfig struct {
	Path string `yaml:"path" toml:"path"`
	// OverviewSentences > 0 turns each overview paragraph into that many facts.
	OverviewSentences int                   `yaml:"overview_sentences" toml:"overview_sentences"`
	Categories        []corpus.CategorySpec `yaml:"categories,omitempty" toml:"categories,omitempty"`
}

// IndexConfig selects where index generations are persisted.
type IndexConfig struct {
	Store            string `yaml:"store" toml:"store"`
	Dir              string `yaml:"dir" toml:"dir"`
	SQLitePath       string `yaml:"sqlite_path" toml:"sqlite_path"`
	BuildConcurrency int    `yaml:"build_concurrency" toml:"build_concurrency"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url" toml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env" toml:"api_key_env"`
	Model       string `yaml:"model" toml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs" toml:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries" toml:"max_retries"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type      string                `yaml:"type" toml:"type"`
	Dimension int                   `yaml:"dimension" toml:"dimension"`
	Model     string                `yaml:"model,omitempty" toml:"model,omitempty"`
	OpenAI    *OpenAIEmbedderConfig `yaml:"openai,omitempty" toml:"openai,omitempty"`
}

// OllamaConfig configures the local generation server.
type OllamaConfig struct {
	BaseURL     string  `yaml:"base_url" toml:"base_url"`
	Model       string  `yaml:"model" toml:"model"`
	Temperature float64 `yaml:"temperature" toml:"temperature"`
	TopP        float64 `yaml:"top_p" toml:"top_p"`
}

// GeneratorConfig selects and configures the answer generator.
type GeneratorConfig struct {
	Type         string        `yaml:"type" toml:"type"`
	MaxNewTokens int           `yaml:"max_new_tokens" toml:"max_new_tokens"`
	Ollama       *OllamaConfig `yaml:"ollama,omitempty" toml:"ollama,omitempty"`
}

// GeminiConfig is shared by the Gemini embedder and generator.
type GeminiConfig struct {
	Project  string `yaml:"project" toml:"project"`
	Location string `yaml:"location" toml:"location"`
}

// RetrievalConfig controls search.
type RetrievalConfig struct {
	TopK     int     `yaml:"top_k" toml:"top_k"`
	MinScore float64 `yaml:"min_score" toml:"min_score"`
}

// PromptConfig controls prompt assembly.
type PromptConfig struct {
	MaxLength int    `yaml:"max_length" toml:"max_length"`
	Preamble  string `yaml:"preamble,omitempty" toml:"preamble,omitempty"`
}

// ServerConfig configures the HTTP front door.
type ServerConfig struct {
	Addr           string `yaml:"addr" toml:"addr"`
	Watch          bool   `yaml:"watch" toml:"watch"`
	DebounceMillis int    `yaml:"debounce_millis" toml:"debounce_millis"`
}

// ProfileConfig locates the health profile store.
type ProfileConfig struct {
	Dir string `yaml:"dir" toml:"dir"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Corpus    CorpusConfig    `yaml:"corpus" toml:"corpus"`
	Index     IndexConfig     `yaml:"index" toml:"index"`
	Embedder  EmbedderConfig  `yaml:"embedder" toml:"embedder"`
	Generator GeneratorConfig `yaml:"generator" toml:"generator"`
	Gemini    *GeminiConfig   `yaml:"gemini,omitempty" toml:"gemini,omitempty"`
	Retrieval RetrievalConfig `yaml:"retrieval" toml:"retrieval"`
	Prompt    PromptConfig    `yaml:"prompt" toml:"prompt"`
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Profile   ProfileConfig   `yaml:"profile" toml:"profile"`
	Log       LogConfig       `yaml:"log" toml:"log"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
// Files ending in .toml are decoded as TOML, anything else as YAML.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, goerr.Wrap(err, "failed to read config", goerr.V("path", path))
	}
	cfg := defaultConfig()
	if isTOML(path) {
		err = toml.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse config", goerr.V("path", path))
	}
	applyConfigDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, goerr.Wrap(err, "invalid config", goerr.V("path", path))
	}
	return cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/medrag/config.yaml.
// If neither exists, it writes defaults to ~/.config/medrag/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return goerr.Wrap(err, "failed to create config directory", goerr.V("path", path))
	}
	var (
		data []byte
		err  error
	)
	if isTOML(path) {
		data, err = toml.Marshal(cfg)
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return goerr.Wrap(err, "failed to encode config")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return goerr.Wrap(err, "failed to write config", goerr.V("path", path))
	}
	return nil
}

// Validate rejects settings the engine cannot run with.
func (c *AppConfig) Validate() error {
	switch {
	case c.Corpus.Path == "":
		return goerr.New("corpus.path is required")
	case c.Corpus.OverviewSentences < 0:
		return goerr.New("corpus.overview_sentences must not be negative")
	case c.Retrieval.TopK <= 0:
		return goerr.New("retrieval.top_k must be positive", goerr.V("top_k", c.Retrieval.TopK))
	case c.Retrieval.MinScore < 0:
		return goerr.New("retrieval.min_score must not be negative")
	case c.Prompt.MaxLength <= 0:
		return goerr.New("prompt.max_length must be positive", goerr.V("max_length", c.Prompt.MaxLength))
	case c.Generator.MaxNewTokens <= 0:
		return goerr.New("generator.max_new_tokens must be positive")
	case c.Index.BuildConcurrency <= 0:
		return goerr.New("index.build_concurrency must be positive")
	}
	for _, spec := range c.Corpus.Categories {
		if !spec.Category.Valid() || spec.Field == "" || spec.Label == "" {
			return goerr.New("invalid corpus category", goerr.V("category", spec.Category), goerr.V("field", spec.Field))
		}
	}

	switch c.Index.Store {
	case "memory":
	case "file":
		if c.Index.Dir == "" {
			return goerr.New("index.dir is required for the file store")
		}
	case "sqlite":
		if c.Index.SQLitePath == "" {
			return goerr.New("index.sqlite_path is required for the sqlite store")
		}
	default:
		return goerr.New("unknown index store", goerr.V("store", c.Index.Store))
	}

	switch c.Embedder.Type {
	case "hashing":
		if c.Embedder.Dimension <= 0 {
			return goerr.New("embedder.dimension must be positive")
		}
	case "openai":
		if c.Embedder.OpenAI == nil {
			return goerr.New("embedder.openai section is required")
		}
	case "gemini":
		if c.Gemini == nil || c.Gemini.Project == "" {
			return goerr.New("gemini.project is required for the gemini embedder")
		}
		if c.Embedder.Dimension <= 0 {
			return goerr.New("embedder.dimension must be positive")
		}
	default:
		return goerr.New("unknown embedder type", goerr.V("type", c.Embedder.Type))
	}

	switch c.Generator.Type {
	case "echo", "ollama":
	case "gemini":
		if c.Gemini == nil || c.Gemini.Project == "" {
			return goerr.New("gemini.project is required for the gemini generator")
		}
	default:
		return goerr.New("unknown generator type", goerr.V("type", c.Generator.Type))
	}
	return nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", goerr.Wrap(err, "failed to resolve home directory")
	}
	return filepath.Join(home, ".config", "medrag", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Corpus:    CorpusConfig{Path: "data/illness_details.json"},
		Index:     IndexConfig{Store: "file", Dir: "data/index", SQLitePath: "data/index.sqlite", BuildConcurrency: 4},
		Embedder:  EmbedderConfig{Type: "hashing", Dimension: 512},
		Generator: GeneratorConfig{Type: "echo", MaxNewTokens: 300},
		Retrieval: RetrievalConfig{TopK: 5},
		Prompt:    PromptConfig{MaxLength: 1024},
		Server:    ServerConfig{Addr: "127.0.0.1:5000", DebounceMillis: 500},
		Profile:   ProfileConfig{Dir: "data/profiles"},
		Log:       LogConfig{Level: "info", Format: "console"},
	}
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Embedder.Type == "openai" && cfg.Embedder.OpenAI != nil {
		if cfg.Embedder.OpenAI.BaseURL == "" {
			cfg.Embedder.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Embedder.OpenAI.Model == "" {
			cfg.Embedder.OpenAI.Model = "text-embedding-3-small"
		}
		if cfg.Embedder.OpenAI.TimeoutSecs == 0 {
			cfg.Embedder.OpenAI.TimeoutSecs = 30
		}
	}
	if cfg.Embedder.Type == "gemini" && cfg.Embedder.Model == "" {
		cfg.Embedder.Model = "gemini-embedding"
	}
	if cfg.Generator.Type == "ollama" && cfg.Generator.Ollama == nil {
		cfg.Generator.Ollama = &OllamaConfig{Temperature: 0.7, TopP: 0.9}
	}
	if cfg.Gemini != nil && cfg.Gemini.Location == "" {
		cfg.Gemini.Location = "us-central1"
	}
	if cfg.Server.DebounceMillis <= 0 {
		cfg.Server.DebounceMillis = 500
	}
}
