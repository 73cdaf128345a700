// Package evaluate scores motivational-interviewing summaries with a language
// model. The score serves as ground truth next to the stored summary.
package evaluate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/nickcecere/mirag/internal/config"
)

// Provider represents an evaluator provider type.
type Provider string

const (
	ProviderGemini Provider = "gemini"
	ProviderOpenAI Provider = "openai"
)

var (
	// ErrMissingAPIKey is returned when the selected provider has no credential.
	ErrMissingAPIKey = errors.New("evaluator API key is required")

	// ErrAllModelsFailed is returned when no model produced a response.
	ErrAllModelsFailed = errors.New("no model returned an evaluation")
)

// DefaultBasePrompt frames every evaluation request.
const DefaultBasePrompt = `You are an expert in motivational interviewing (MI) and clinical supervision.
You will be given a summary of a recorded counseling session.
Rate how well the counselor demonstrates MI skills: open questions, affirmations,
reflective listening, summarizing, evoking change talk and respecting autonomy.
Start your answer with a single score from 0 to 10 on its own line, then give a
short justification in markdown.`

// Evaluator sends a prompt to a language model and returns its text reply.
type Evaluator interface {
	Evaluate(ctx context.Context, prompt string) (string, error)
	Provider() Provider
}

// NewEvaluator creates an evaluator based on the configuration.
func NewEvaluator(ctx context.Context, cfg *config.Config) (Evaluator, error) {
	basePrompt, err := LoadBasePrompt(cfg.Evaluator.BasePrompt)
	if err != nil {
		return nil, err
	}

	switch Provider(cfg.Evaluator.Provider) {
	case ProviderGemini:
		return NewGeminiEvaluator(ctx, cfg.Evaluator.Gemini.APIKey, cfg.Evaluator.Gemini.Models, basePrompt)
	case ProviderOpenAI:
		return NewOpenAIEvaluator(
			cfg.Evaluator.OpenAI.APIKey,
			cfg.Evaluator.OpenAI.Model,
			cfg.Evaluator.OpenAI.BaseURL,
			basePrompt,
		)
	default:
		return nil, fmt.Errorf("unsupported evaluator provider: %s", cfg.Evaluator.Provider)
	}
}

// LoadBasePrompt resolves the configured base prompt. An existing file path is
// read, any other non-empty value is used as the prompt itself and an empty
// value yields DefaultBasePrompt.
func LoadBasePrompt(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return DefaultBasePrompt, nil
	}

	info, err := os.Stat(value)
	if err != nil || info.IsDir() {
		return value, nil
	}

	data, err := os.ReadFile(value)
	if err != nil {
		return "", fmt.Errorf("failed to read base prompt: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// SummaryPrompt builds the evaluation request for one summary.
func SummaryPrompt(summary string) string {
	return "Evaluate the quality of this motivational interviewing summary: " + strings.TrimSpace(summary)
}

var scorePattern = regexp.MustCompile(`\d+(?:\.\d+)?`)

// ExtractScore returns the first number in a model reply.
func ExtractScore(text string) (float64, bool) {
	match := scorePattern.FindString(text)
	if match == "" {
		return 0, false
	}
	score, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, false
	}
	return score, true
}

// Score is the outcome of evaluating one summary.
type Score struct {
	Value    float64
	HasValue bool
	Raw      string
}

// MetadataValue returns the value stored alongside a summary: the number when
// one was found, otherwise the raw reply.
func (s Score) MetadataValue() any {
	if s.HasValue {
		return s.Value
	}
	return s.Raw
}

func (s Score) String() string {
	if s.HasValue {
		return strconv.FormatFloat(s.Value, 'f', -1, 64)
	}
	return s.Raw
}

// ScoreSummary evaluates summary with ev and extracts the score.
func ScoreSummary(ctx context.Context, ev Evaluator, summary string) (Score, error) {
	reply, err := ev.Evaluate(ctx, SummaryPrompt(summary))
	if err != nil {
		return Score{}, err
	}
	value, ok := ExtractScore(reply)
	return Score{Value: value, HasValue: ok, Raw: reply}, nil
}
