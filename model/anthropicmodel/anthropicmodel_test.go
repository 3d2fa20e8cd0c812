package anthropicmodel

import (
	"testing"

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

func TestConvertToolInputPassesThroughMap(t *testing.T) {
	m := map[string]interface{}{"query": "weather"}
	got := convertToolInput(m)
	if got["query"] != "weather" {
		t.Fatalf("got = %+v", got)
	}
}

func TestConvertToolInputWrapsNonMapValue(t *testing.T) {
	got := convertToolInput("raw-string")
	if got["_raw"] != "raw-string" {
		t.Fatalf("got = %+v", got)
	}
}

func TestConvertToolInputNilStaysNil(t *testing.T) {
	if got := convertToolInput(nil); got != nil {
		t.Fatalf("got = %+v, want nil", got)
	}
}

func TestNewUsesDefaultModelNameWhenEmpty(t *testing.T) {
	c := New("test-key", "")
	if c == nil {
		t.Fatal("expected non-nil client")
	}
}
