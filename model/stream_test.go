package model

import (
	"context"
	"errors"
	"testing"
)

func TestCollectAccumulatesTokensUntilFinal(t *testing.T) {
	ch := make(chan Event, 4)
	ch <- Event{Kind: EventToken, Token: "Hel"}
	ch <- Event{Kind: EventToken, Token: "lo"}
	ch <- Event{Kind: EventFinal, Final: &Response{Text: "Hello"}}
	close(ch)

	tokens, final, err := Collect(context.Background(), ch)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if tokens != "Hello" {
		t.Fatalf("tokens = %q, want %q", tokens, "Hello")
	}
	if final.Text != "Hello" {
		t.Fatalf("final.Text = %q, want %q", final.Text, "Hello")
	}
}

func TestCollectRejectsEventAfterFinal(t *testing.T) {
	ch := make(chan Event, 2)
	ch <- Event{Kind: EventFinal, Final: &Response{Text: "done"}}
	ch <- Event{Kind: EventToken, Token: "oops"}
	close(ch)

	_, _, err := Collect(context.Background(), ch)
	var invalid *StreamInvalidError
	if !errors.As(err, &invalid) || invalid.Reason != "event-after-final" {
		t.Fatalf("err = %v, want event-after-final", err)
	}
}

func TestCollectRejectsMissingFinal(t *testing.T) {
	ch := make(chan Event, 1)
	ch <- Event{Kind: EventToken, Token: "partial"}
	close(ch)

	_, _, err := Collect(context.Background(), ch)
	var invalid *StreamInvalidError
	if !errors.As(err, &invalid) || invalid.Reason != "missing-final" {
		t.Fatalf("err = %v, want missing-final", err)
	}
}

func TestSingleShotEmitsExactlyOneFinal(t *testing.T) {
	client := SingleShot(func(ctx context.Context, req Request) (Response, error) {
		return Response{Text: "ok", ModelName: "test-model"}, nil
	})

	ch, err := client.Stream(context.Background(), Request{})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	_, final, err := Collect(context.Background(), ch)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if final.Text != "ok" || final.ModelName != "test-model" {
		t.Fatalf("unexpected final: %+v", final)
	}
}

func TestSingleShotPropagatesCallError(t *testing.T) {
	wantErr := errors.New("boom")
	client := SingleShot(func(ctx context.Context, req Request) (Response, error) {
		return Response{}, wantErr
	})

	_, err := client.Stream(context.Background(), Request{})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
}

func TestMockClientReplaysQueuedResponsesInOrder(t *testing.T) {
	client := &MockClient{Responses: []Response{{Text: "first"}, {Text: "second"}}}

	ch, err := client.Stream(context.Background(), Request{})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	_, final, _ := Collect(context.Background(), ch)
	if final.Text != "first" {
		t.Fatalf("first call = %q, want %q", final.Text, "first")
	}

	ch, _ = client.Stream(context.Background(), Request{})
	_, final, _ = Collect(context.Background(), ch)
	if final.Text != "second" {
		t.Fatalf("second call = %q, want %q", final.Text, "second")
	}

	if _, err := client.Stream(context.Background(), Request{}); !errors.Is(err, ErrNoMoreResponses) {
		t.Fatalf("expected ErrNoMoreResponses, got %v", err)
	}
}
