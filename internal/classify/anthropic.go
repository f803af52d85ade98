package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient classifies through the Messages API by forcing a single
// tool call whose input is the classification list.
type AnthropicClient struct {
	client anthropic.Client
	prompt Prompt
}

var _ Collaborator = (*AnthropicClient)(nil)

// NewAnthropicClient builds a collaborator. A non-empty model overrides the
// prompt's model. Retries are left to the next scheduled run.
func NewAnthropicClient(apiKey, model string, prompt Prompt, opts ...option.RequestOption) *AnthropicClient {
	if model != "" {
		prompt.Model = model
	}
	if prompt.MaxTokens <= 0 {
		prompt.MaxTokens = 8192
	}
	opts = append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}, opts...)
	return &AnthropicClient{client: anthropic.NewClient(opts...), prompt: prompt}
}

type toolInput struct {
	Classifications []Classification `json:"classifications"`
}

func (c *AnthropicClient) toolSchema() anthropic.ToolInputSchemaParam {
	return anthropic.ToolInputSchemaParam{
		Properties: map[string]any{
			"classifications": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"title": map[string]any{"type": "string"},
						"event": map[string]any{"type": "string"},
						"categories": map[string]any{
							"type":  "array",
							"items": map[string]any{"type": "string"},
						},
					},
					"required": []string{"title", "categories"},
				},
			},
		},
		Required: []string{"classifications"},
	}
}

// Classify sends the candidates as a JSON array in a single user message.
func (c *AnthropicClient) Classify(ctx context.Context, req Request) ([]Classification, error) {
	payload, err := json.Marshal(req.Items)
	if err != nil {
		return nil, fmt.Errorf("failed to encode candidates: %w", err)
	}

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.prompt.Model),
		MaxTokens: c.prompt.MaxTokens,
		System:    []anthropic.TextBlockParam{{Text: c.prompt.SystemText(req.ExistingCategories, req.ExistingEvents)}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(string(payload))),
		},
		Tools: []anthropic.ToolUnionParam{{
			OfTool: &anthropic.ToolParam{
				Name:        c.prompt.ToolName,
				Description: anthropic.String(c.prompt.ToolDescription),
				InputSchema: c.toolSchema(),
			},
		}},
		ToolChoice: anthropic.ToolChoiceParamOfTool(c.prompt.ToolName),
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, &ClassificationError{Kind: KindUnavailable, Err: fmt.Errorf("status %d: %w", apiErr.StatusCode, err)}
		}
		return nil, &ClassificationError{Kind: KindUnavailable, Err: err}
	}

	for _, block := range msg.Content {
		if block.Type != "tool_use" || block.Name != c.prompt.ToolName {
			continue
		}
		var input toolInput
		if err := json.Unmarshal(block.Input, &input); err != nil {
			return nil, &ClassificationError{Kind: KindMalformed, Err: err}
		}
		if len(input.Classifications) == 0 {
			return nil, &ClassificationError{Kind: KindEmpty}
		}
		return input.Classifications, nil
	}
	return nil, &ClassificationError{Kind: KindEmpty, Err: fmt.Errorf("no %s tool call in response (stop reason %q)", c.prompt.ToolName, msg.StopReason)}
}
