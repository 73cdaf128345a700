package evaluate

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIEvaluator evaluates with an OpenAI-compatible chat model.
type OpenAIEvaluator struct {
	client     openai.Client
	model      string
	basePrompt string
}

var _ Evaluator = (*OpenAIEvaluator)(nil)

// NewOpenAIEvaluator creates an OpenAI evaluator.
func NewOpenAIEvaluator(apiKey, model, baseURL, basePrompt string) (*OpenAIEvaluator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: %w", ErrMissingAPIKey)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &OpenAIEvaluator{
		client:     openai.NewClient(opts...),
		model:      model,
		basePrompt: basePrompt,
	}, nil
}

// Evaluate sends the base prompt as the system message and prompt as the user message.
func (e *OpenAIEvaluator) Evaluate(ctx context.Context, prompt string) (string, error) {
	log.Debug("Requesting evaluation from OpenAI", "model", e.model)

	var messages []openai.ChatCompletionMessageParamUnion
	if e.basePrompt != "" {
		messages = append(messages, openai.SystemMessage(e.basePrompt))
	}
	messages = append(messages, openai.UserMessage(prompt))

	resp, err := e.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(e.model),
		Messages:    messages,
		Temperature: openai.Float(0),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no completion returned")
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("empty completion returned")
	}
	return text, nil
}

// Provider returns the provider name.
func (e *OpenAIEvaluator) Provider() Provider {
	return ProviderOpenAI
}
