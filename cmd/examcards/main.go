// Package main is the entry point for the examcards CLI. It runs structure
// detection, alignment, chunking and flashcard generation over local files
// without a database.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"exam-flash/internal/chunker"
	"exam-flash/internal/config"
	"exam-flash/internal/flashcards"
	"exam-flash/internal/services"
	"exam-flash/internal/structure"
)

// version is set at build time via ldflags.
var version = "dev"

// settings are resolved from flags, EXAMCARDS_* environment variables and
// examcards.yaml, in that order of precedence.
type settings struct {
	ChunkSize         int
	ChunkOverlap      int
	MaxQuestionNumber int
	Backend           string
	OpenAIKey         string
	OpenAIModel       string
	OpenAIEndpoint    string
	OllamaModel       string
	Format            string
	LogLevel          string
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:   "examcards",
		Short: "Turn question papers, mark schemes and notes into flashcards",
		Long: `examcards reads question papers, mark schemes and study notes (.pdf, .docx,
.md, .txt) and runs each pipeline stage from the command line: detect question
and answer structure, align questions with mark scheme answers, chunk text,
and generate flashcards.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(v, cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file (default: ./examcards.yaml or ~/.config/examcards/config.yaml)")
	flags.Int("chunk-size", chunker.DefaultChunkSize, "words per chunk")
	flags.Int("chunk-overlap", chunker.DefaultOverlap, "words shared by consecutive chunks")
	flags.Int("max-question", structure.DefaultMaxQuestionNumber, "highest question number accepted as a question start")
	flags.String("backend", config.BackendHeuristic, "generation backend: heuristic, openai or ollama")
	flags.String("openai-key", "", "OpenAI API key")
	flags.String("openai-model", "gpt-4o-mini", "OpenAI model")
	flags.String("openai-endpoint", "", "OpenAI compatible API base URL")
	flags.String("ollama-model", "llama3.2", "Ollama model")
	flags.StringP("format", "f", "json", "output format: json or yaml")
	flags.String("log-level", "warn", "log level: debug, info, warn or error")

	for key, flag := range map[string]string{
		"chunk_size":          "chunk-size",
		"chunk_overlap":       "chunk-overlap",
		"max_question_number": "max-question",
		"backend":             "backend",
		"openai_api_key":      "openai-key",
		"openai_model":        "openai-model",
		"openai_api_endpoint": "openai-endpoint",
		"ollama_model":        "ollama-model",
		"format":              "format",
		"log_level":           "log-level",
	} {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}

	root.AddCommand(
		newDetectCmd(v),
		newAlignCmd(v),
		newChunkCmd(v),
		newGenerateCmd(v),
		newVersionCmd(),
	)
	return root
}

func initConfig(v *viper.Viper, cmd *cobra.Command) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("examcards")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "examcards"))
		}
	}

	v.SetEnvPrefix("EXAMCARDS")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func loadSettings(v *viper.Viper) settings {
	return settings{
		ChunkSize:         v.GetInt("chunk_size"),
		ChunkOverlap:      v.GetInt("chunk_overlap"),
		MaxQuestionNumber: v.GetInt("max_question_number"),
		Backend:           strings.ToLower(v.GetString("backend")),
		OpenAIKey:         v.GetString("openai_api_key"),
		OpenAIModel:       v.GetString("openai_model"),
		OpenAIEndpoint:    v.GetString("openai_api_endpoint"),
		OllamaModel:       v.GetString("ollama_model"),
		Format:            strings.ToLower(v.GetString("format")),
		LogLevel:          v.GetString("log_level"),
	}
}

func (s settings) logger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s.LogLevel)); err != nil {
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// pipeline is the storage-free set of stages a command runs.
type pipeline struct {
	detector  *structure.Detector
	chunker   *chunker.Chunker
	generator *flashcards.Generator
	ingestion *services.IngestionService
}

func (s settings) newPipeline(log *slog.Logger) (*pipeline, error) {
	c, err := chunker.New(s.ChunkSize, s.ChunkOverlap, log)
	if err != nil {
		return nil, err
	}
	backend, err := services.NewBackend(config.Config{
		Backend:        s.Backend,
		OpenAIKey:      s.OpenAIKey,
		OpenAIModel:    s.OpenAIModel,
		OpenAIEndpoint: s.OpenAIEndpoint,
		OllamaModel:    s.OllamaModel,
	})
	if err != nil {
		return nil, err
	}

	p := &pipeline{
		detector:  structure.NewDetector(log, structure.Options{MaxQuestionNumber: s.MaxQuestionNumber}),
		chunker:   c,
		generator: flashcards.NewGenerator(c, backend, log),
	}
	p.ingestion = services.NewIngestionService(services.NewFileTextSource(), p.detector, c, p.generator, nil, nil, nil, log)
	return p, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of examcards",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "examcards %s\n", version)
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(viper.New()).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
