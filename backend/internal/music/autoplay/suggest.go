package autoplay

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"cadence/backend/internal/music"
	"cadence/backend/internal/music/history"
)

const suggestSystemPrompt = `You suggest music search queries. Given the track a listener just heard, reply with exactly 3 search queries for finding similar but different songs, one per line. Plain text only: no numbering, no quotes, no commentary.`

// Suggester asks an OpenAI-compatible endpoint (LiteLLM in deployments) for
// related-search queries when tag-derived queries find nothing.
type Suggester struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewSuggester creates a suggester against an OpenAI-compatible endpoint.
func NewSuggester(baseURL, apiKey, modelID string, logger *zap.Logger) *Suggester {
	// LiteLLM accepts any key when auth is handled upstream
	if apiKey == "" {
		apiKey = "dummy-key"
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = strings.TrimSuffix(baseURL, "/") + "/v1"
	}
	return &Suggester{
		client: openai.NewClientWithConfig(config),
		model:  modelID,
		logger: logger,
	}
}

// SuggestQueries returns up to 3 search queries related to the seed track.
func (s *Suggester) SuggestQueries(ctx context.Context, seed music.Track, meta history.Metadata) ([]string, error) {
	userMsg := fmt.Sprintf("Just played: %q by %q.", seed.Title, seed.Author)
	if genres := meta.GenreTags(); len(genres) > 0 {
		userMsg += " Genres: " + strings.Join(genres, ", ") + "."
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: suggestSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userMsg},
		},
		Temperature: 0.9,
	})
	if err != nil {
		return nil, fmt.Errorf("suggestion request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in suggestion response")
	}

	queries := parseQueryLines(resp.Choices[0].Message.Content)
	s.logger.Debug("related queries suggested",
		zap.String("seed", seed.Title),
		zap.Int("count", len(queries)),
	)
	return queries, nil
}

// parseQueryLines extracts queries from a model reply, tolerating the
// numbering and bullets models add despite instructions.
func parseQueryLines(content string) []string {
	var queries []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "0123456789.-*) ")
		line = strings.Trim(line, `"'`)
		if line == "" {
			continue
		}
		queries = append(queries, line)
		if len(queries) == 3 {
			break
		}
	}
	return queries
}
