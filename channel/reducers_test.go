package channel

import (
	"encoding/json"
	"errors"
	"testing"
)

func marshalMessages(t *testing.T, msgs []Message) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(msgs)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func unmarshalMessages(t *testing.T, raw json.RawMessage) []Message {
	t.Helper()
	var out []Message
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return out
}

func TestMessagesUpsertAppendsAndReplaces(t *testing.T) {
	reducer := Messages()
	base := marshalMessages(t, []Message{{ID: "1", Role: "user", Content: "hi"}})
	update := marshalMessages(t, []Message{
		{ID: "1", Role: "user", Content: "hi edited"},
		{ID: "2", Role: "assistant", Content: "hello"},
	})

	out, err := reducer(base, []json.RawMessage{update})
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}

	msgs := unmarshalMessages(t, out)
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2", len(msgs))
	}
	if msgs[0].Content != "hi edited" {
		t.Fatalf("msgs[0].Content = %q, want edited", msgs[0].Content)
	}
	if msgs[1].ID != "2" {
		t.Fatalf("msgs[1].ID = %q, want 2", msgs[1].ID)
	}
}

func TestMessagesRemoveUnknownIDFails(t *testing.T) {
	reducer := Messages()
	base := marshalMessages(t, []Message{{ID: "1", Role: "user", Content: "hi"}})
	update := marshalMessages(t, []Message{{ID: "ghost", Op: OpRemove}})

	_, err := reducer(base, []json.RawMessage{update})
	if !errors.Is(err, ErrInvalidMessagesUpdate) {
		t.Fatalf("err = %v, want ErrInvalidMessagesUpdate", err)
	}
}

func TestMessagesRemoveAllDiscardsPriorUpdates(t *testing.T) {
	reducer := Messages()
	base := marshalMessages(t, []Message{
		{ID: "1", Role: "user", Content: "hi"},
		{ID: "2", Role: "assistant", Content: "hello"},
	})
	update := marshalMessages(t, []Message{
		{ID: "3", Role: "user", Content: "should be discarded"},
		{ID: RemoveAllSentinel, Op: OpRemoveAll},
		{ID: "4", Role: "assistant", Content: "kept"},
	})

	out, err := reducer(base, []json.RawMessage{update})
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}

	msgs := unmarshalMessages(t, out)
	if len(msgs) != 1 || msgs[0].ID != "4" {
		t.Fatalf("msgs = %+v, want only id 4", msgs)
	}
}

func TestMessagesRemoveAllNonSentinelIDFails(t *testing.T) {
	reducer := Messages()
	update := marshalMessages(t, []Message{{ID: "not-the-sentinel", Op: OpRemoveAll}})

	_, err := reducer(nil, []json.RawMessage{update})
	if !errors.Is(err, ErrInvalidMessagesUpdate) {
		t.Fatalf("err = %v, want ErrInvalidMessagesUpdate", err)
	}
}

func TestMessagesStripsOpField(t *testing.T) {
	reducer := Messages()
	base := marshalMessages(t, []Message{{ID: "1", Role: "user", Content: "hi"}})
	update := marshalMessages(t, []Message{{ID: "2", Role: "assistant", Content: "hello"}})

	out, err := reducer(base, []json.RawMessage{update})
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}

	for _, m := range unmarshalMessages(t, out) {
		if m.Op != OpNone {
			t.Fatalf("message %q retained op %q, want stripped", m.ID, m.Op)
		}
	}
}

func TestSumAccumulates(t *testing.T) {
	reducer := Sum()
	out, err := reducer(json.RawMessage("10"), []json.RawMessage{json.RawMessage("1"), json.RawMessage("2.5")})
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	var got float64
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != 13.5 {
		t.Fatalf("got = %v, want 13.5", got)
	}
}

func TestLastWriteWinsPicksFinalWrite(t *testing.T) {
	reducer := LastWriteWins()
	out, err := reducer(json.RawMessage("1"), []json.RawMessage{json.RawMessage("2"), json.RawMessage("3")})
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	if string(out) != "3" {
		t.Fatalf("out = %s, want 3", out)
	}
}
