package tokenizer

import (
	"testing"

	"github.com/hollow-sw/hsw/channel"
)

func mustCounter(t *testing.T, modelName string) *Counter {
	t.Helper()
	c, err := New(modelName)
	if err != nil {
		t.Fatalf("New(%q): %v", modelName, err)
	}
	return c
}

func TestNewFallsBackToCl100kBaseForUnknownModel(t *testing.T) {
	mustCounter(t, "not-a-real-model")
}

func TestCountEmptyContentIsZero(t *testing.T) {
	c := mustCounter(t, "gpt-4")
	n, err := c.Count(channel.Message{Role: "user", Content: ""})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 0 {
		t.Fatalf("n = %d, want 0", n)
	}
}

func TestCountNonEmptyContentIsPositive(t *testing.T) {
	c := mustCounter(t, "gpt-4")
	n, err := c.Count(channel.Message{Role: "user", Content: "hello, world"})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n <= 0 {
		t.Fatalf("n = %d, want > 0", n)
	}
}

func TestCountRangeSumsMatchIndividualCounts(t *testing.T) {
	c := mustCounter(t, "gpt-4")
	messages := []channel.Message{
		{Role: "user", Content: "first message"},
		{Role: "assistant", Content: "second message, a bit longer"},
		{Role: "user", Content: "third"},
	}

	total, err := c.CountRange(messages, 0, len(messages))
	if err != nil {
		t.Fatalf("CountRange: %v", err)
	}

	var want int
	for _, m := range messages {
		n, err := c.Count(m)
		if err != nil {
			t.Fatalf("Count: %v", err)
		}
		want += n
	}
	if total != want {
		t.Fatalf("total = %d, want %d", total, want)
	}
}

func TestCountRangeRejectsInvalidBounds(t *testing.T) {
	c := mustCounter(t, "gpt-4")
	messages := []channel.Message{{Role: "user", Content: "only one"}}

	cases := []struct {
		start, end int
	}{
		{-1, 1},
		{0, 2},
		{1, 0},
	}
	for _, tc := range cases {
		if _, err := c.CountRange(messages, tc.start, tc.end); err == nil {
			t.Fatalf("CountRange(%d, %d): want error, got nil", tc.start, tc.end)
		}
	}
}
