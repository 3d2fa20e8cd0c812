// Package googlemodel adapts Google's Gemini API to model.StreamClient,
// wrapping a single-shot GenerateContent call in the one-Final stream
// contract every StreamClient implementation honors.
package googlemodel

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/hollow-sw/hsw/model"
)

const defaultModelName = "gemini-2.5-flash"

// client wraps the official Gemini SDK client behind an interface so
// tests can substitute a fake.
type client interface {
	generateContent(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.Response, error)
}

// New returns a model.StreamClient backed by Google's Gemini API. An
// empty modelName uses defaultModelName.
func New(apiKey, modelName string) model.StreamClient {
	if modelName == "" {
		modelName = defaultModelName
	}
	c := &defaultClient{apiKey: apiKey, modelName: modelName}
	return model.SingleShot(func(ctx context.Context, req model.Request) (model.Response, error) {
		return c.generateContent(ctx, req.Messages, req.Tools)
	})
}

type defaultClient struct {
	apiKey    string
	modelName string
}

func (c *defaultClient) generateContent(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.Response, error) {
	if c.apiKey == "" {
		return model.Response{}, errors.New("googlemodel: API key is required")
	}

	sdkClient, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	if err != nil {
		return model.Response{}, fmt.Errorf("googlemodel: create client: %w", err)
	}
	defer func() { _ = sdkClient.Close() }()

	genModel := sdkClient.GenerativeModel(c.modelName)
	if len(tools) > 0 {
		genModel.Tools = convertTools(tools)
	}
	// Gemini takes the system prompt via a dedicated field rather than as
	// a message in the turn sequence.
	systemPrompt, rest := extractSystemPrompt(messages)
	if systemPrompt != "" {
		genModel.SystemInstruction = genai.NewUserContent(genai.Text(systemPrompt))
	}

	resp, err := genModel.GenerateContent(ctx, convertMessages(rest)...)
	if err != nil {
		return model.Response{}, fmt.Errorf("googlemodel: API error: %w", err)
	}

	if blocked := safetyBlock(resp); blocked != nil {
		return model.Response{}, blocked
	}
	return convertResponse(resp, c.modelName), nil
}

// extractSystemPrompt separates system messages (Gemini takes the system
// prompt via SystemInstruction, not as a message in the turn sequence).
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

func convertMessages(messages []model.Message) []genai.Part {
	parts := make([]genai.Part, 0, len(messages))
	for _, msg := range messages {
		if msg.Content != "" {
			parts = append(parts, genai.Text(msg.Content))
		}
	}
	return parts
}

func convertTools(tools []model.ToolSpec) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, len(tools))
	for i, t := range tools {
		declarations[i] = &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  convertSchema(t.Schema),
		}
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

func convertSchema(schema map[string]interface{}) *genai.Schema {
	if schema == nil {
		return nil
	}
	result := &genai.Schema{Type: genai.TypeObject}

	if props, ok := schema["properties"].(map[string]interface{}); ok {
		properties := make(map[string]*genai.Schema, len(props))
		for key, val := range props {
			propMap, ok := val.(map[string]interface{})
			if !ok {
				continue
			}
			propSchema := &genai.Schema{}
			if typeStr, ok := propMap["type"].(string); ok {
				propSchema.Type = convertTypeString(typeStr)
			}
			if desc, ok := propMap["description"].(string); ok {
				propSchema.Description = desc
			}
			properties[key] = propSchema
		}
		result.Properties = properties
	}

	switch required := schema["required"].(type) {
	case []string:
		result.Required = required
	case []interface{}:
		result.Required = make([]string, 0, len(required))
		for _, v := range required {
			if s, ok := v.(string); ok {
				result.Required = append(result.Required, s)
			}
		}
	}

	return result
}

func convertTypeString(typeStr string) genai.Type {
	switch typeStr {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}

// safetyBlock inspects resp for a safety-filter block on its first
// candidate, returning a *SafetyFilterError the caller can detect with
// errors.As instead of parsing empty-content responses as ordinary
// (if unhelpful) output.
func safetyBlock(resp *genai.GenerateContentResponse) *SafetyFilterError {
	if len(resp.Candidates) == 0 {
		return nil
	}
	candidate := resp.Candidates[0]
	if candidate.FinishReason != genai.FinishReasonSafety {
		return nil
	}
	category := "unspecified"
	for _, rating := range candidate.SafetyRatings {
		if rating.Blocked {
			category = rating.Category.String()
			break
		}
	}
	return &SafetyFilterError{reason: candidate.FinishReason.String(), category: category}
}

func convertResponse(resp *genai.GenerateContentResponse, modelName string) model.Response {
	out := model.Response{ModelName: modelName}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += string(p)
		case genai.FunctionCall:
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{Name: p.Name, Input: p.Args})
		}
	}
	return out
}

// SafetyFilterError reports that Gemini's safety filter blocked a
// response. Callers distinguish it from an ordinary API error with
// errors.As.
type SafetyFilterError struct {
	reason   string
	category string
}

func (e *SafetyFilterError) Error() string {
	return "googlemodel: content blocked by safety filter: " + e.category
}

// Category returns the safety category that triggered the block.
func (e *SafetyFilterError) Category() string { return e.category }

// Reason returns Gemini's finish-reason string for the block.
func (e *SafetyFilterError) Reason() string { return e.reason }
