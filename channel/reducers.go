package channel

import "encoding/json"

// LastWriteWins returns a ReducerFunc where the final write in the batch
// wins outright. Combine with the Single policy to enforce "at most one
// writer per step" at the store layer (see Store.Apply).
func LastWriteWins() ReducerFunc {
	return func(current json.RawMessage, writes []json.RawMessage) (json.RawMessage, error) {
		if len(writes) == 0 {
			return current, nil
		}
		return writes[len(writes)-1], nil
	}
}

// Sum returns a ReducerFunc that adds numeric deltas onto the current
// value. Used for accumulated counters such as token counts.
func Sum() ReducerFunc {
	return func(current json.RawMessage, writes []json.RawMessage) (json.RawMessage, error) {
		total := 0.0
		if len(current) > 0 {
			if err := json.Unmarshal(current, &total); err != nil {
				return nil, err
			}
		}
		for _, w := range writes {
			var delta float64
			if err := json.Unmarshal(w, &delta); err != nil {
				return nil, err
			}
			total += delta
		}
		return json.Marshal(total)
	}
}

// MessageOp names the transient operation carried by a MessageUpdate
// entry. It is stripped from every retained message after merging.
type MessageOp string

const (
	// OpNone upserts: replace by id if present, else append.
	OpNone MessageOp = ""
	// OpRemove deletes the message with the matching id; fails the
	// reducer if the id is unknown.
	OpRemove MessageOp = "remove"
	// OpRemoveAll is only valid against the RemoveAllSentinel id; resets
	// the channel to an empty list and discards every update at or
	// before the last such entry.
	OpRemoveAll MessageOp = "removeAll"
)

// RemoveAllSentinel is the only id a removeAll entry may carry.
const RemoveAllSentinel = "__remove_all__"

// Message is one entry in a messages-reducer-governed channel.
type Message struct {
	ID      string                 `json:"id"`
	Role    string                 `json:"role"`
	Content string                 `json:"content"`
	Extra   map[string]interface{} `json:"extra,omitempty"`
	Op      MessageOp              `json:"op,omitempty"`
}

// Messages implements the spec's MessagesReducer (§4.1): merge-by-id
// with remove/removeAll support, stripping the transient Op field from
// every retained message.
func Messages() ReducerFunc {
	return func(current json.RawMessage, writes []json.RawMessage) (json.RawMessage, error) {
		var base []Message
		if len(current) > 0 {
			if err := json.Unmarshal(current, &base); err != nil {
				return nil, err
			}
		}

		var updates []Message
		for _, w := range writes {
			var batch []Message
			if err := json.Unmarshal(w, &batch); err != nil {
				return nil, err
			}
			updates = append(updates, batch...)
		}

		for _, u := range updates {
			if u.Op == OpRemoveAll && u.ID != RemoveAllSentinel {
				return nil, ErrInvalidMessagesUpdate
			}
		}

		lastRemoveAll := -1
		for i, u := range updates {
			if u.Op == OpRemoveAll {
				lastRemoveAll = i
			}
		}
		if lastRemoveAll >= 0 {
			base = nil
			updates = updates[lastRemoveAll+1:]
		}

		index := make(map[string]int, len(base))
		for i, m := range base {
			index[m.ID] = i
		}

		for _, u := range updates {
			switch u.Op {
			case OpRemove:
				i, ok := index[u.ID]
				if !ok {
					return nil, ErrInvalidMessagesUpdate
				}
				base = append(base[:i], base[i+1:]...)
				delete(index, u.ID)
				for id, idx := range index {
					if idx > i {
						index[id] = idx - 1
					}
				}
			default:
				if i, ok := index[u.ID]; ok {
					base[i] = u
				} else {
					index[u.ID] = len(base)
					base = append(base, u)
				}
			}
		}

		for i := range base {
			base[i].Op = OpNone
		}

		return json.Marshal(base)
	}
}
