package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"exam-flash/internal/apperr"
)

// Generation backends selectable with GENERATION_BACKEND.
const (
	BackendHeuristic = "heuristic"
	BackendOpenAI    = "openai"
	BackendOllama    = "ollama"
)

// Config stores runtime configuration loaded from environment variables.
type Config struct {
	Port string

	OpenAIKey      string
	OpenAIEndpoint string
	OpenAIModel    string
	OllamaModel    string
	Backend        string

	Database  string
	UploadDir string

	ChunkSize         int
	ChunkOverlap      int
	MaxQuestionNumber int

	MaxUploadBytes    int64
	AllowedExtensions []string

	WorkerCount   int
	QueueSize     int
	JobMaxRetries int
	JobTimeout    time.Duration

	LogLevel slog.Level
}

// Load reads configuration from the environment, providing sensible defaults.
// Chunk sizes are passed through untouched so the chunker can reject them.
func Load() (Config, error) {
	// Load .env file if it exists (useful for development)
	_ = godotenv.Load()
	env := &envReader{}
	cfg := Config{
		Port:              getEnv("PORT", "8080"),
		OpenAIKey:         os.Getenv("OPENAI_API_KEY"),
		OpenAIEndpoint:    getEnv("OPENAI_API_ENDPOINT", "https://api.openai.com/v1"),
		OpenAIModel:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OllamaModel:       getEnv("OLLAMA_MODEL", "llama3.2"),
		Backend:           strings.ToLower(getEnv("GENERATION_BACKEND", BackendHeuristic)),
		Database:          getEnv("DATABASE_PATH", "./data/flashcards.db"),
		UploadDir:         getEnv("UPLOAD_DIR", "./data/uploads"),
		ChunkSize:         env.intValue("CHUNK_SIZE", 500),
		ChunkOverlap:      env.intValue("CHUNK_OVERLAP", 100),
		MaxQuestionNumber: env.intValue("MAX_QUESTION_NUMBER", 10),
		MaxUploadBytes:    env.int64Value("MAX_UPLOAD_SIZE", 16<<20),
		AllowedExtensions: envList("ALLOWED_EXTENSIONS", []string{".pdf", ".docx", ".md", ".txt"}),
		WorkerCount:       env.intValue("WORKER_COUNT", 2),
		QueueSize:         env.intValue("QUEUE_SIZE", 64),
		JobMaxRetries:     env.intValue("JOB_MAX_RETRIES", 2),
		JobTimeout:        env.durationValue("JOB_TIMEOUT", 5*time.Minute),
		LogLevel:          env.levelValue("LOG_LEVEL", slog.LevelInfo),
	}
	if err := env.err(); err != nil {
		return cfg, err
	}

	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.JobMaxRetries < 0 {
		cfg.JobMaxRetries = 0
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 16 << 20
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return cfg, fmt.Errorf("ensure upload dir %s: %w", cfg.UploadDir, err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Database), 0o755); err != nil {
		return cfg, fmt.Errorf("ensure database dir %s: %w", cfg.Database, err)
	}
	return cfg, nil
}

// Validate checks settings that have no safe fallback.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendHeuristic, BackendOllama:
	case BackendOpenAI:
		if c.OpenAIKey == "" {
			return apperr.New(apperr.InvalidConfiguration, "OPENAI_API_KEY is required for the openai backend")
		}
	default:
		return apperr.New(apperr.InvalidConfiguration, "unknown GENERATION_BACKEND %q", c.Backend)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

// envReader parses typed settings and remembers every malformed one, so a
// typo fails startup instead of silently running on a default.
type envReader struct {
	bad []string
}

func (e *envReader) lookup(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

func (e *envReader) reject(key, value, want string) {
	e.bad = append(e.bad, fmt.Sprintf("%s=%q is not %s", key, value, want))
}

func (e *envReader) err() error {
	if len(e.bad) == 0 {
		return nil
	}
	return apperr.New(apperr.InvalidConfiguration, "invalid settings: %s", strings.Join(e.bad, "; "))
}

func (e *envReader) intValue(key string, fallback int) int {
	v, ok := e.lookup(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.reject(key, v, "an integer")
		return fallback
	}
	return n
}

func (e *envReader) int64Value(key string, fallback int64) int64 {
	v, ok := e.lookup(key)
	if !ok {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.reject(key, v, "an integer")
		return fallback
	}
	return n
}

func (e *envReader) durationValue(key string, fallback time.Duration) time.Duration {
	v, ok := e.lookup(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.reject(key, v, "a duration")
		return fallback
	}
	return d
}

func (e *envReader) levelValue(key string, fallback slog.Level) slog.Level {
	v, ok := e.lookup(key)
	if !ok {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		e.reject(key, v, "a log level")
		return fallback
	}
	return level
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		if !strings.HasPrefix(part, ".") {
			part = "." + part
		}
		out = append(out, part)
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
