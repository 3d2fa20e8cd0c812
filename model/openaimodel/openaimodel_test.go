package openaimodel

import (
	"testing"
)

func TestParseToolInputDecodesJSON(t *testing.T) {
	got, err := parseToolInput(`{"query":"weather","limit":3}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got["query"] != "weather" {
		t.Fatalf("got = %+v", got)
	}
	if got["limit"].(float64) != 3 {
		t.Fatalf("got = %+v", got)
	}
}

func TestParseToolInputEmptyStringIsNil(t *testing.T) {
	got, err := parseToolInput("")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != nil {
		t.Fatalf("got = %+v, want nil", got)
	}
}

func TestParseToolInputRejectsInvalidJSON(t *testing.T) {
	_, err := parseToolInput("{not json")
	if err == nil {
		t.Fatal("expected an error for invalid JSON")
	}
}

func TestNewUsesDefaultModelNameWhenEmpty(t *testing.T) {
	if c := New("test-key", ""); c == nil {
		t.Fatal("expected non-nil client")
	}
}
