// Package tokenizer counts tokens for preModel's compaction decision,
// adapting github.com/tiktoken-go/tokenizer the way the pack's
// trpc-agent-go model/tiktoken package wires it: a Codec resolved by
// model name, falling back to cl100k_base when the model is unknown.
package tokenizer

import (
	"fmt"

	tiktoken "github.com/tiktoken-go/tokenizer"

	"github.com/hollow-sw/hsw/channel"
)

// Counter counts tokens for channel.Message content.
type Counter struct {
	encoding tiktoken.Codec
}

// New resolves a tiktoken codec for modelName, falling back to
// cl100k_base when the model name is not recognized.
func New(modelName string) (*Counter, error) {
	enc, err := tiktoken.ForModel(tiktoken.Model(modelName))
	if err != nil {
		enc, err = tiktoken.Get(tiktoken.Cl100kBase)
		if err != nil {
			return nil, fmt.Errorf("tokenizer: fallback codec unavailable: %w", err)
		}
	}
	return &Counter{encoding: enc}, nil
}

// Count returns the token count of a single message's content.
func (c *Counter) Count(msg channel.Message) (int, error) {
	if msg.Content == "" {
		return 0, nil
	}
	toks, _, err := c.encoding.Encode(msg.Content)
	if err != nil {
		return 0, fmt.Errorf("tokenizer: encode failed: %w", err)
	}
	return len(toks), nil
}

// CountRange returns the total token count across messages[start:end].
func (c *Counter) CountRange(messages []channel.Message, start, end int) (int, error) {
	if start < 0 || end > len(messages) || start > end {
		return 0, fmt.Errorf("tokenizer: invalid range start=%d end=%d len=%d", start, end, len(messages))
	}
	total := 0
	for i := start; i < end; i++ {
		n, err := c.Count(messages[i])
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}
