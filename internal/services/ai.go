package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/ollama/ollama/envconfig"
	openai "github.com/sashabaranov/go-openai"

	"exam-flash/internal/apperr"
	"exam-flash/internal/config"
	"exam-flash/internal/flashcards"
)

const (
	maxSourcesPerPrompt = 12
	maxSourceChars      = 2400
	maxExcludedInPrompt = 60
	maxConcurrentCalls  = 4
	defaultModelSupport = 0.7
)

const systemPrompt = "You are an expert educator who writes atomic, unambiguous spaced repetition flashcards from study material and exam mark schemes."

// completeFunc sends one prompt to a model and returns its raw text reply.
type completeFunc func(ctx context.Context, prompt string) (string, error)

type draftEnvelope struct {
	Cards []flashcards.Draft `json:"cards"`
}

// extractJSON removes markdown code block formatting if present and extracts the JSON
func extractJSON(content string) string {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```") {
		start := 3
		if newlineIdx := strings.Index(content[start:], "\n"); newlineIdx != -1 {
			start += newlineIdx + 1
		}
		if endIdx := strings.Index(content[start:], "```"); endIdx != -1 {
			content = content[start : start+endIdx]
		} else {
			content = content[start:]
		}
	}

	content = strings.TrimSpace(content)

	if startIdx := strings.Index(content, "{"); startIdx != -1 {
		if endIdx := strings.LastIndex(content, "}"); endIdx != -1 && endIdx > startIdx {
			content = content[startIdx : endIdx+1]
		}
	}

	return strings.TrimSpace(content)
}

func sanitizeForPrompt(input string, limit int) string {
	collapsed := strings.Join(strings.Fields(strings.TrimSpace(input)), " ")
	if limit <= 0 {
		return collapsed
	}
	runes := []rune(collapsed)
	if len(runes) <= limit {
		return collapsed
	}
	if limit > 3 {
		return string(runes[:limit-3]) + "..."
	}
	return string(runes[:limit])
}

var cardTypeGuidance = map[flashcards.CardType]string{
	flashcards.TypeDefinition:     "definition cards: the question asks what a term means, the answer defines it",
	flashcards.TypeCloze:          "cloze cards: the question is a sentence with one key term replaced by _____, the answer is the missing term",
	flashcards.TypeExplanation:    "explanation cards: the question asks why or how, the answer explains the reasoning",
	flashcards.TypeMultipleChoice: "multiple choice cards: the question lists lettered options A-D, the answer is the correct letter and option",
}

var difficultyGuidance = map[flashcards.Difficulty]string{
	flashcards.Easy:   "easy: recall of a single fact stated directly in the material",
	flashcards.Medium: "medium: connects two facts or requires a short explanation",
	flashcards.Hard:   "hard: requires applying or combining several ideas from the material",
}

func buildDraftPrompt(req flashcards.DraftRequest, sources []flashcards.Source) string {
	var b strings.Builder
	fmt.Fprintf(&b, `Respond with JSON {"cards":[{"question":"","answer":"","hint":"","source_id":"","support":0.0}]}.
Write exactly %d %s.
Difficulty %s.
Subject: %s.
source_id must be the id of the source the card is drawn from. support is 0-1: how directly that source states the answer.
The hint must help recall without giving the answer away. Do not invent facts that are not in the sources.
`, req.Count, cardTypeGuidance[req.CardType], difficultyGuidance[req.Difficulty], sanitizeForPrompt(req.Subject, 80))

	if len(req.Exclude) > 0 {
		b.WriteString("\nThese questions already exist; do not repeat them:\n")
		written := 0
		for q := range req.Exclude {
			if written == maxExcludedInPrompt {
				b.WriteString("- (additional questions omitted)\n")
				break
			}
			fmt.Fprintf(&b, "- %s\n", sanitizeForPrompt(q, 160))
			written++
		}
	}

	b.WriteString("\nSources:\n")
	for _, src := range sources {
		fmt.Fprintf(&b, "[%s]", src.ID)
		if src.Keyed {
			fmt.Fprintf(&b, " (exam question %d, mark scheme answer %s)", src.Number, src.AnswerKey)
		}
		b.WriteString("\n")
		text := src.Text
		if text == "" {
			text = src.Stem
		}
		b.WriteString(sanitizeForPrompt(text, maxSourceChars))
		b.WriteString("\n\n")
	}
	return b.String()
}

func parseDrafts(content string) ([]flashcards.Draft, error) {
	var env draftEnvelope
	if err := json.Unmarshal([]byte(extractJSON(content)), &env); err != nil {
		return nil, fmt.Errorf("unmarshal flashcard json: %w", err)
	}
	out := env.Cards[:0]
	for _, d := range env.Cards {
		if strings.TrimSpace(d.Question) == "" || strings.TrimSpace(d.Answer) == "" {
			continue
		}
		if d.Support <= 0 {
			d.Support = defaultModelSupport
		}
		out = append(out, d)
	}
	return out, nil
}

// draftWithModel splits sources into prompt sized batches, drafts them
// concurrently and merges the replies in batch order.
func draftWithModel(ctx context.Context, req flashcards.DraftRequest, complete completeFunc) ([]flashcards.Draft, error) {
	var batches [][]flashcards.Source
	for i := 0; i < len(req.Sources); i += maxSourcesPerPrompt {
		batches = append(batches, req.Sources[i:min(i+maxSourcesPerPrompt, len(req.Sources))])
	}
	if len(batches) == 0 {
		return nil, nil
	}

	type result struct {
		drafts []flashcards.Draft
		err    error
	}
	results := make([]result, len(batches))
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, maxConcurrentCalls)

	for i, batch := range batches {
		wg.Add(1)
		go func(idx int, sources []flashcards.Source) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			reply, err := complete(ctx, buildDraftPrompt(req, sources))
			if err != nil {
				results[idx] = result{err: err}
				return
			}
			drafts, err := parseDrafts(reply)
			results[idx] = result{drafts: drafts, err: err}
		}(i, batch)
	}
	wg.Wait()

	var out []flashcards.Draft
	var errs []error
	for _, r := range results {
		if r.err != nil {
			errs = append(errs, r.err)
			continue
		}
		out = append(out, r.drafts...)
	}
	if len(out) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// NewBackend returns the generation backend selected by cfg.Backend.
func NewBackend(cfg config.Config) (flashcards.Backend, error) {
	switch cfg.Backend {
	case "", config.BackendHeuristic:
		return flashcards.NewHeuristicBackend(), nil
	case config.BackendOpenAI:
		return NewOpenAIBackend(cfg.OpenAIKey, cfg.OpenAIModel, cfg.OpenAIEndpoint)
	case config.BackendOllama:
		return NewOllamaBackend(cfg.OllamaModel), nil
	}
	return nil, apperr.New(apperr.InvalidConfiguration, "unknown generation backend %q", cfg.Backend)
}

// OpenAIBackend drafts cards with an OpenAI compatible chat completion API.
type OpenAIBackend struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

func NewOpenAIBackend(apiKey, model, apiEndpoint string) (*OpenAIBackend, error) {
	if apiKey == "" || model == "" {
		return nil, apperr.New(apperr.InvalidConfiguration, "openai backend needs an api key and model")
	}
	cfg := openai.DefaultConfig(apiKey)
	if apiEndpoint != "" {
		cfg.BaseURL = apiEndpoint
	}
	return &OpenAIBackend{
		client:  openai.NewClientWithConfig(cfg),
		model:   model,
		timeout: 3 * time.Minute,
	}, nil
}

func (b *OpenAIBackend) Name() string {
	return "openai"
}

func (b *OpenAIBackend) Draft(ctx context.Context, req flashcards.DraftRequest) ([]flashcards.Draft, error) {
	return draftWithModel(ctx, req, b.complete)
}

func (b *OpenAIBackend) complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: b.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.4,
		MaxTokens:   4096,
	})
	if err != nil {
		return "", fmt.Errorf("request openai flashcards: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// OllamaBackend drafts cards with a local Ollama model.
type OllamaBackend struct {
	client *api.Client
	model  string
}

// NewOllamaBackend connects to the host named by OLLAMA_HOST.
func NewOllamaBackend(model string) *OllamaBackend {
	return NewOllamaBackendWithClient(api.NewClient(envconfig.Host(), http.DefaultClient), model)
}

func NewOllamaBackendWithClient(client *api.Client, model string) *OllamaBackend {
	return &OllamaBackend{client: client, model: model}
}

func (b *OllamaBackend) Name() string {
	return "ollama"
}

func (b *OllamaBackend) Draft(ctx context.Context, req flashcards.DraftRequest) ([]flashcards.Draft, error) {
	return draftWithModel(ctx, req, b.complete)
}

func (b *OllamaBackend) complete(ctx context.Context, prompt string) (string, error) {
	stream := false
	req := api.GenerateRequest{
		Model:  b.model,
		System: systemPrompt,
		Prompt: prompt,
		Format: json.RawMessage(`"json"`),
		Stream: &stream,
		Options: map[string]interface{}{
			"temperature": 0.4,
			"num_predict": 4096,
		},
	}

	var reply strings.Builder
	err := b.client.Generate(ctx, &req, func(resp api.GenerateResponse) error {
		_, err := reply.WriteString(resp.Response)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("request ollama flashcards: %w", err)
	}
	return reply.String(), nil
}
