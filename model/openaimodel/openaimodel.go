// Package openaimodel adapts the OpenAI chat completions API to
// model.StreamClient via the single-shot stream wrapper.
package openaimodel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/hollow-sw/hsw/model"
)

const defaultModelName = "gpt-4o"

// New returns a model.StreamClient backed by OpenAI's chat completions
// API. An empty modelName uses defaultModelName.
func New(apiKey, modelName string) model.StreamClient {
	if modelName == "" {
		modelName = defaultModelName
	}
	c := &defaultClient{apiKey: apiKey, modelName: modelName}
	return model.SingleShot(c.createChatCompletion)
}

type defaultClient struct {
	apiKey    string
	modelName string
}

func (c *defaultClient) createChatCompletion(ctx context.Context, req model.Request) (model.Response, error) {
	if c.apiKey == "" {
		return model.Response{}, errors.New("openaimodel: API key is required")
	}

	sdkClient := openaisdk.NewClient(option.WithAPIKey(c.apiKey))

	params := openaisdk.ChatCompletionNewParams{
		Model:    openaisdk.ChatModel(c.modelName),
		Messages: convertMessages(req.Messages),
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}

	resp, err := sdkClient.Chat.Completions.New(ctx, params)
	if err != nil {
		return model.Response{}, fmt.Errorf("openaimodel: API error: %w", err)
	}
	return convertResponse(resp, c.modelName)
}

func convertMessages(messages []model.Message) []openaisdk.ChatCompletionMessageParamUnion {
	out := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			out = append(out, openaisdk.SystemMessage(msg.Content))
		case model.RoleUser, model.RoleTool:
			out = append(out, openaisdk.UserMessage(msg.Content))
		case model.RoleAssistant:
			out = append(out, openaisdk.AssistantMessage(msg.Content))
		default:
			out = append(out, openaisdk.UserMessage(msg.Content))
		}
	}
	return out
}

func convertTools(tools []model.ToolSpec) []openaisdk.ChatCompletionToolParam {
	out := make([]openaisdk.ChatCompletionToolParam, len(tools))
	for i, tool := range tools {
		out[i] = openaisdk.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        tool.Name,
				Description: openaisdk.String(tool.Description),
				Parameters:  shared.FunctionParameters(tool.Schema),
			},
		}
	}
	return out
}

func convertResponse(resp *openaisdk.ChatCompletion, modelName string) (model.Response, error) {
	out := model.Response{ModelName: modelName}
	if len(resp.Choices) == 0 {
		return out, nil
	}

	msg := resp.Choices[0].Message
	out.Text = msg.Content

	if len(msg.ToolCalls) > 0 {
		out.ToolCalls = make([]model.ToolCall, len(msg.ToolCalls))
		for i, tc := range msg.ToolCalls {
			input, err := parseToolInput(tc.Function.Arguments)
			if err != nil {
				return model.Response{}, fmt.Errorf("openaimodel: tool call %s: %w", tc.Function.Name, err)
			}
			out.ToolCalls[i] = model.ToolCall{ID: tc.ID, Name: tc.Function.Name, Input: input}
		}
	}
	return out, nil
}

// parseToolInput decodes the JSON-encoded arguments string OpenAI
// returns for a tool call into a plain map.
func parseToolInput(jsonStr string) (map[string]interface{}, error) {
	if jsonStr == "" {
		return nil, nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(jsonStr), &out); err != nil {
		return nil, fmt.Errorf("invalid tool arguments JSON: %w", err)
	}
	return out, nil
}
