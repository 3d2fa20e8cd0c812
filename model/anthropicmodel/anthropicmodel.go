// Package anthropicmodel adapts the Anthropic Claude API to
// model.StreamClient, wrapping a single-shot Messages.New call in the
// one-Final stream contract every StreamClient implementation honors.
package anthropicmodel

import (
	"context"
	"errors"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hollow-sw/hsw/model"
)

const defaultModelName = "claude-sonnet-4-5-20250929"

// client wraps the official Anthropic SDK client behind an interface so
// tests can substitute a fake.
type client interface {
	createMessage(ctx context.Context, systemPrompt string, messages []model.Message, tools []model.ToolSpec) (model.Response, error)
}

// New returns a model.StreamClient backed by Anthropic's Claude API.
// An empty modelName uses defaultModelName.
func New(apiKey, modelName string) model.StreamClient {
	if modelName == "" {
		modelName = defaultModelName
	}
	c := &defaultClient{apiKey: apiKey, modelName: modelName}
	return model.SingleShot(func(ctx context.Context, req model.Request) (model.Response, error) {
		systemPrompt, messages := extractSystemPrompt(req.Messages)
		return c.createMessage(ctx, systemPrompt, messages, req.Tools)
	})
}

// extractSystemPrompt separates system messages (Anthropic takes the
// system prompt as a top-level parameter, not a message).
func extractSystemPrompt(messages []model.Message) (string, []model.Message) {
	var systemPrompt string
	var rest []model.Message
	for _, msg := range messages {
		if msg.Role == model.RoleSystem {
			if systemPrompt != "" {
				systemPrompt += "\n\n"
			}
			systemPrompt += msg.Content
			continue
		}
		rest = append(rest, msg)
	}
	return systemPrompt, rest
}

type defaultClient struct {
	apiKey    string
	modelName string
}

func (c *defaultClient) createMessage(ctx context.Context, systemPrompt string, messages []model.Message, tools []model.ToolSpec) (model.Response, error) {
	if c.apiKey == "" {
		return model.Response{}, errors.New("anthropicmodel: API key is required")
	}

	sdkClient := anthropicsdk.NewClient(option.WithAPIKey(c.apiKey))

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(c.modelName),
		Messages:  convertMessages(messages),
		MaxTokens: 4096,
	}
	if systemPrompt != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: systemPrompt}}
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}

	resp, err := sdkClient.Messages.New(ctx, params)
	if err != nil {
		return model.Response{}, fmt.Errorf("anthropicmodel: API error: %w", err)
	}
	return convertResponse(resp, c.modelName), nil
}

func convertMessages(messages []model.Message) []anthropicsdk.MessageParam {
	out := make([]anthropicsdk.MessageParam, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleUser, model.RoleTool:
			out = append(out, anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(msg.Content)))
		case model.RoleAssistant:
			out = append(out, anthropicsdk.NewAssistantMessage(anthropicsdk.NewTextBlock(msg.Content)))
		default:
			out = append(out, anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(msg.Content)))
		}
	}
	return out
}

func convertTools(tools []model.ToolSpec) []anthropicsdk.ToolUnionParam {
	out := make([]anthropicsdk.ToolUnionParam, len(tools))
	for i, tool := range tools {
		var properties any
		var required []string
		if tool.Schema != nil {
			if props, ok := tool.Schema["properties"]; ok {
				properties = props
			}
			switch req := tool.Schema["required"].(type) {
			case []string:
				required = req
			case []interface{}:
				required = make([]string, 0, len(req))
				for _, v := range req {
					if s, ok := v.(string); ok {
						required = append(required, s)
					}
				}
			}
		}
		out[i] = anthropicsdk.ToolUnionParam{
			OfTool: &anthropicsdk.ToolParam{
				Name:        tool.Name,
				Description: anthropicsdk.String(tool.Description),
				InputSchema: anthropicsdk.ToolInputSchemaParam{Properties: properties, Required: required},
			},
		}
	}
	return out
}

func convertResponse(resp *anthropicsdk.Message, modelName string) model.Response {
	out := model.Response{ModelName: modelName}
	for _, block := range resp.Content {
		switch b := block.AsAny().(type) {
		case anthropicsdk.TextBlock:
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += b.Text
		case anthropicsdk.ToolUseBlock:
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{
				ID:    b.ID,
				Name:  b.Name,
				Input: convertToolInput(b.Input),
			})
		}
	}
	return out
}

func convertToolInput(input interface{}) map[string]interface{} {
	if input == nil {
		return nil
	}
	if m, ok := input.(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{"_raw": input}
}
