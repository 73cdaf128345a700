package evaluate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"google.golang.org/genai"
)

// contentGenerator is the part of the Gemini models API the evaluator uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiEvaluator evaluates with Gemini, falling back through a list of models.
type GeminiEvaluator struct {
	gen        contentGenerator
	models     []string
	basePrompt string
}

var _ Evaluator = (*GeminiEvaluator)(nil)

// NewGeminiEvaluator creates a Gemini evaluator. Models are tried in order.
func NewGeminiEvaluator(ctx context.Context, apiKey string, models []string, basePrompt string) (*GeminiEvaluator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: %w", ErrMissingAPIKey)
	}
	if len(models) == 0 {
		return nil, errors.New("gemini: at least one model is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return newGeminiEvaluator(client.Models, models, basePrompt), nil
}

func newGeminiEvaluator(gen contentGenerator, models []string, basePrompt string) *GeminiEvaluator {
	return &GeminiEvaluator{
		gen:        gen,
		models:     append([]string(nil), models...),
		basePrompt: basePrompt,
	}
}

// Evaluate returns the first non-empty reply. When every model fails the
// per-model errors are joined under ErrAllModelsFailed.
func (e *GeminiEvaluator) Evaluate(ctx context.Context, prompt string) (string, error) {
	full := prompt
	if e.basePrompt != "" {
		full = e.basePrompt + "\n" + prompt
	}

	contents := []*genai.Content{
		{Parts: []*genai.Part{{Text: full}}, Role: "user"},
	}

	var errs []error
	for _, model := range e.models {
		log.Debug("Requesting evaluation from Gemini", "model", model)

		resp, err := e.gen.GenerateContent(ctx, model, contents, nil)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			log.Warn("Gemini model failed, trying next", "model", model, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", model, err))
			continue
		}

		text := strings.TrimSpace(responseText(resp))
		if text == "" {
			errs = append(errs, fmt.Errorf("%s: empty response", model))
			continue
		}
		return text, nil
	}

	return "", fmt.Errorf("%w: %w", ErrAllModelsFailed, errors.Join(errs...))
}

// Provider returns the provider name.
func (e *GeminiEvaluator) Provider() Provider {
	return ProviderGemini
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}
