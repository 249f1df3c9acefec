package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sethvargo/go-retry"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"sapsan-iro/core/store"
)

const classifyPrompt = `You are an incident triage assistant for a hospitality operations platform.
Classify the incident below into exactly one category:
unauthorized_access, payment_anomaly, data_exposure, facility_fault, general.

Respond with a single JSON object, nothing else:
{"category": "<category>", "confidence": <0.0-1.0>}

Title: %s
Description: %s
Affected systems: %s`

// llmBackend asks a chat model for the category. Model errors are tagged
// retryable so the service's single-retry budget applies.
type llmBackend struct {
	model llms.Model
	name  string
}

func NewLLMBackend(modelName string) (Backend, error) {
	client, err := openai.New(openai.WithModel(modelName))
	if err != nil {
		return nil, fmt.Errorf("init llm backend: %w", err)
	}
	return &llmBackend{model: client, name: modelName}, nil
}

func (b *llmBackend) Name() string { return "llm:" + b.name }

func (b *llmBackend) Categorize(ctx context.Context, incident *store.Incident) (*Result, error) {
	prompt := fmt.Sprintf(classifyPrompt, incident.Title, incident.Description,
		strings.Join(incident.AffectedSystems, ", "))
	completion, err := llms.GenerateFromSinglePrompt(ctx, b.model, prompt,
		llms.WithTemperature(0), llms.WithMaxTokens(128))
	if err != nil {
		return nil, retry.RetryableError(fmt.Errorf("llm completion: %w", err))
	}

	var verdict struct {
		Category   string  `json:"category"`
		Confidence float64 `json:"confidence"`
	}
	raw := extractJSONObject(completion)
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return nil, retry.RetryableError(fmt.Errorf("parse llm verdict %q: %w", completion, err))
	}
	return &Result{Category: strings.TrimSpace(verdict.Category), Confidence: verdict.Confidence}, nil
}

// extractJSONObject tolerates models that wrap the JSON in prose or fences.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
