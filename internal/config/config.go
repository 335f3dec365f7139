package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Ollama    OllamaConfig
	Storage   StorageConfig
	Retrieval RetrievalConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
	// APIToken protects /history and /metrics when set. Env only.
	APIToken string
	// QueryRate is the sustained POST /query rate per second; 0 disables
	// limiting.
	QueryRate  float64
	QueryBurst int
}

type OllamaConfig struct {
	BaseURL    string
	ChatModel  string
	EmbedModel string
}

type StorageConfig struct {
	DataDir string
	PDFDir  string
}

// MetricsPath is the SQLite file holding queries, errors and document usage.
func (s StorageConfig) MetricsPath() string { return filepath.Join(s.DataDir, "metrics.db") }

// HistoryPath is the SQLite file holding conversation turns.
func (s StorageConfig) HistoryPath() string {
	return filepath.Join(s.DataDir, "conversation_history.db")
}

// IndexPath is the SQLite file holding document chunks and embeddings.
func (s StorageConfig) IndexPath() string { return filepath.Join(s.DataDir, "index.db") }

type RetrievalConfig struct {
	TopK         int
	ChunkSize    int
	ChunkOverlap int
}

type LogConfig struct {
	Level string
	// File, when set, receives JSON logs with size-based rotation.
	File string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port:       8000,
			QueryBurst: 5,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			ChatModel:  "llama3.2",
			EmbedModel: "nomic-embed-text",
		},
		Storage: StorageConfig{
			DataDir: dataDir,
			PDFDir:  filepath.Join(dataDir, "pdfs"),
		},
		Retrieval: RetrievalConfig{
			TopK:         4,
			ChunkSize:    1000,
			ChunkOverlap: 200,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration from, in increasing precedence: defaults,
// the YAML file at $XDG_CONFIG_HOME/pdfqa/config.yaml, a .env file in the
// working directory and PDFQA_* environment variables. Variables already set
// in the environment win over .env entries.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()), ".env")
}

func loadWith(b ConfigBackend, envFile string) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}
	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch {
	case c.Server.Port <= 0 || c.Server.Port > 65535:
		return fmt.Errorf("invalid config: server.port %d out of range", c.Server.Port)
	case c.Server.QueryRate < 0:
		return fmt.Errorf("invalid config: server.query_rate must not be negative")
	case c.Retrieval.TopK < 1 || c.Retrieval.TopK > 10:
		return fmt.Errorf("invalid config: retrieval.top_k must be between 1 and 10")
	case c.Retrieval.ChunkSize <= 0:
		return fmt.Errorf("invalid config: retrieval.chunk_size must be positive")
	case c.Retrieval.ChunkOverlap < 0 || c.Retrieval.ChunkOverlap >= c.Retrieval.ChunkSize:
		return fmt.Errorf("invalid config: retrieval.chunk_overlap must be in [0, chunk_size)")
	}
	return nil
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "pdfqa-data"
		}
	}
	return filepath.Join(dir, "pdfqa")
}
