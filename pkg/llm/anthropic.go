package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient backs EntityExtractor, FactExtractor, Summarizer, and
// Triage with Claude, used when an API key is configured. Every method
// falls back to a heuristic sibling on error so enrichment degrades
// rather than fails.
type AnthropicClient struct {
	client *anthropic.Client
	model  anthropic.Model
}

// defaultModel is used when the caller doesn't pin a specific model.
const defaultModel = anthropic.ModelClaude3_5HaikuLatest

// NewAnthropicClient creates a Claude-backed capability client. An empty
// model defaults to defaultModel.
func NewAnthropicClient(apiKey string, model anthropic.Model) *AnthropicClient {
	if model == "" {
		model = defaultModel
	}
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicClient{client: &c, model: model}
}

func (a *AnthropicClient) complete(ctx context.Context, system, prompt string) (string, error) {
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: 1024,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic complete: %w", err)
	}
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

const entityExtractSystem = `Extract named entities from the user's content. Respond with only a JSON array of objects with fields "name", "type" (person|organization|concept|product|location|misc), "aliases" (array of strings, may be empty).`

// ExtractEntities implements EntityExtractor.
func (a *AnthropicClient) ExtractEntities(ctx context.Context, content string) ([]ExtractedEntity, error) {
	raw, err := a.complete(ctx, entityExtractSystem, content)
	if err != nil {
		return HeuristicEntityExtractor{}.ExtractEntities(ctx, content)
	}
	var out []ExtractedEntity
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return HeuristicEntityExtractor{}.ExtractEntities(ctx, content)
	}
	return out, nil
}

const factExtractSystem = `Extract factual relationships from the user's content. Respond with only a JSON array of objects with fields "source", "target", "type", "fact", "weight" (0 to 1 confidence).`

// ExtractFacts implements FactExtractor.
func (a *AnthropicClient) ExtractFacts(ctx context.Context, content string) ([]ExtractedFact, error) {
	raw, err := a.complete(ctx, factExtractSystem, content)
	if err != nil {
		return HeuristicFactExtractor{}.ExtractFacts(ctx, content)
	}
	var out []ExtractedFact
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return HeuristicFactExtractor{}.ExtractFacts(ctx, content)
	}
	return out, nil
}

// Summarize implements Summarizer.
func (a *AnthropicClient) Summarize(ctx context.Context, content string) (string, error) {
	summary, err := a.complete(ctx, "Summarize the user's content in one or two sentences. Respond with only the summary.", content)
	if err != nil {
		return HeuristicSummarizer{}.Summarize(ctx, content)
	}
	return summary, nil
}

const triageSystem = `Classify how the user's content should be stored. Respond with only JSON: {"decision": "store_only"|"extract_entities"|"episodic", "confidence": 0 to 1, "reason": "..."}.`

// Classify implements Triage.
func (a *AnthropicClient) Classify(ctx context.Context, content string) (TriageResult, error) {
	raw, err := a.complete(ctx, triageSystem, content)
	if err != nil {
		return HeuristicTriage{}.Classify(ctx, content)
	}
	var out TriageResult
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return HeuristicTriage{}.Classify(ctx, content)
	}
	return out, nil
}
