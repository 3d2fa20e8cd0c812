package googlemodel

import (
	"testing"

	"github.com/google/generative-ai-go/genai"

	"github.com/hollow-sw/hsw/model"
)

func TestExtractSystemPromptSeparatesSystemMessages(t *testing.T) {
	messages := []model.Message{
		{Role: model.RoleSystem, Content: "Be concise."},
		{Role: model.RoleUser, Content: "Hi"},
		{Role: model.RoleSystem, Content: "Never swear."},
	}

	system, rest := extractSystemPrompt(messages)
	if system != "Be concise.\n\nNever swear." {
		t.Fatalf("system = %q", system)
	}
	if len(rest) != 1 || rest[0].Content != "Hi" {
		t.Fatalf("rest = %+v", rest)
	}
}

func TestExtractSystemPromptEmptyWhenNoSystemMessage(t *testing.T) {
	messages := []model.Message{{Role: model.RoleUser, Content: "Hi"}}
	system, rest := extractSystemPrompt(messages)
	if system != "" {
		t.Fatalf("system = %q, want empty", system)
	}
	if len(rest) != 1 {
		t.Fatalf("rest = %+v", rest)
	}
}

func TestConvertTypeStringMapsKnownJSONTypes(t *testing.T) {
	cases := map[string]genai.Type{
		"string":  genai.TypeString,
		"number":  genai.TypeNumber,
		"integer": genai.TypeInteger,
		"boolean": genai.TypeBoolean,
		"array":   genai.TypeArray,
		"object":  genai.TypeObject,
		"unknown": genai.TypeUnspecified,
	}
	for in, want := range cases {
		if got := convertTypeString(in); got != want {
			t.Fatalf("convertTypeString(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestConvertSchemaNilStaysNil(t *testing.T) {
	if got := convertSchema(nil); got != nil {
		t.Fatalf("got = %+v, want nil", got)
	}
}

func TestConvertSchemaExtractsPropertiesAndRequired(t *testing.T) {
	schema := map[string]interface{}{
		"properties": map[string]interface{}{
			"city": map[string]interface{}{"type": "string", "description": "city name"},
		},
		"required": []interface{}{"city"},
	}

	got := convertSchema(schema)
	if got.Type != genai.TypeObject {
		t.Fatalf("Type = %v, want TypeObject", got.Type)
	}
	prop, ok := got.Properties["city"]
	if !ok {
		t.Fatal("Properties[\"city\"] missing")
	}
	if prop.Type != genai.TypeString || prop.Description != "city name" {
		t.Fatalf("prop = %+v", prop)
	}
	if len(got.Required) != 1 || got.Required[0] != "city" {
		t.Fatalf("Required = %v", got.Required)
	}
}

func TestSafetyBlockNilWhenNoCandidates(t *testing.T) {
	resp := &genai.GenerateContentResponse{}
	if got := safetyBlock(resp); got != nil {
		t.Fatalf("got = %+v, want nil", got)
	}
}

func TestSafetyBlockNilWhenFinishReasonIsNotSafety(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonStop}},
	}
	if got := safetyBlock(resp); got != nil {
		t.Fatalf("got = %+v, want nil", got)
	}
}

func TestSafetyBlockDetectsBlockedCategory(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			FinishReason: genai.FinishReasonSafety,
			SafetyRatings: []*genai.SafetyRating{
				{Category: genai.HarmCategoryHarassment, Blocked: true},
			},
		}},
	}
	got := safetyBlock(resp)
	if got == nil {
		t.Fatal("got = nil, want a SafetyFilterError")
	}
	if got.Category() != genai.HarmCategoryHarassment.String() {
		t.Fatalf("Category() = %q", got.Category())
	}
}

func TestNewUsesDefaultModelNameWhenEmpty(t *testing.T) {
	c := New("test-key", "")
	if c == nil {
		t.Fatal("expected non-nil client")
	}
}
