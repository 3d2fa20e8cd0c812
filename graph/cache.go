package graph

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hollow-sw/hsw/channel"
)

// nodeCache is the bounded, in-memory LRU the scheduler consults before
// invoking a node whose spec declares a CachePolicy. Grounded on the
// teacher's MaxConcurrentNodes-bounded worker-pool instinct (bound
// everything that could grow unboundedly across a long-running graph),
// applied here to node output memoization instead of concurrency.
type nodeCache struct {
	entries *lru.Cache[string, NodeOutput]
}

func newNodeCache(size int) *nodeCache {
	if size < 1 {
		size = 1
	}
	c, _ := lru.New[string, NodeOutput](size)
	return &nodeCache{entries: c}
}

// fingerprint computes the deterministic input fingerprint for a node
// invocation: sha256(graphVersion || nodeID || sorted(channelID=value)).
func fingerprint(graphVersion, nodeID string, policy *CachePolicy, store *channel.Store) (string, error) {
	ids := append([]string(nil), policy.ChannelIDs...)
	sort.Strings(ids)

	h := sha256.New()
	h.Write([]byte(graphVersion))
	h.Write([]byte{0})
	h.Write([]byte(nodeID))
	h.Write([]byte{0})

	for _, id := range ids {
		raw, err := store.GetRaw(id)
		if err != nil {
			return "", err
		}
		var canon interface{}
		if err := json.Unmarshal(raw, &canon); err != nil {
			return "", err
		}
		canonical, err := json.Marshal(canon)
		if err != nil {
			return "", err
		}
		h.Write([]byte(id))
		h.Write([]byte{0})
		h.Write(canonical)
		h.Write([]byte{0xff})
	}

	return fmt.Sprintf("fp:%x", h.Sum(nil)), nil
}

func (c *nodeCache) get(key string) (NodeOutput, bool) {
	return c.entries.Get(key)
}

func (c *nodeCache) put(key string, out NodeOutput) {
	c.entries.Add(key, out)
}
