package config

import (
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exam-flash/internal/apperr"
)

func setDirs(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("UPLOAD_DIR", filepath.Join(dir, "uploads"))
	t.Setenv("DATABASE_PATH", filepath.Join(dir, "db", "cards.db"))
}

func TestLoadDefaults(t *testing.T) {
	setDirs(t)
	t.Setenv("GENERATION_BACKEND", "")
	t.Setenv("CHUNK_SIZE", "")
	t.Setenv("CHUNK_OVERLAP", "")
	t.Setenv("ALLOWED_EXTENSIONS", "")
	t.Setenv("LOG_LEVEL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 500, cfg.ChunkSize)
	assert.Equal(t, 100, cfg.ChunkOverlap)
	assert.Equal(t, int64(16<<20), cfg.MaxUploadBytes)
	assert.Equal(t, BackendHeuristic, cfg.Backend)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, []string{".pdf", ".docx", ".md", ".txt"}, cfg.AllowedExtensions)
	assert.DirExists(t, cfg.UploadDir)
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"CHUNK_SIZE", "abc"},
		{"CHUNK_OVERLAP", "1.5"},
		{"MAX_UPLOAD_SIZE", "16MB"},
		{"JOB_MAX_RETRIES", "twice"},
		{"JOB_TIMEOUT", "300"},
		{"LOG_LEVEL", "loud"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			setDirs(t)
			t.Setenv("GENERATION_BACKEND", "")
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			require.Error(t, err)
			assert.Equal(t, apperr.InvalidConfiguration, apperr.KindOf(err))
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoadOverrides(t *testing.T) {
	setDirs(t)
	t.Setenv("CHUNK_SIZE", "200")
	t.Setenv("CHUNK_OVERLAP", "250")
	t.Setenv("ALLOWED_EXTENSIONS", "PDF, .txt ,")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("GENERATION_BACKEND", "Ollama")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 200, cfg.ChunkSize)
	assert.Equal(t, 250, cfg.ChunkOverlap, "invalid overlap is left for the chunker to reject")
	assert.Equal(t, []string{".pdf", ".txt"}, cfg.AllowedExtensions)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, BackendOllama, cfg.Backend)
}

func TestValidateBackend(t *testing.T) {
	err := Config{Backend: BackendOpenAI}.Validate()
	require.Error(t, err)
	assert.Equal(t, apperr.InvalidConfiguration, apperr.KindOf(err))

	err = Config{Backend: "markov"}.Validate()
	assert.Equal(t, apperr.InvalidConfiguration, apperr.KindOf(err))

	assert.NoError(t, Config{Backend: BackendOpenAI, OpenAIKey: "sk-test"}.Validate())
}

