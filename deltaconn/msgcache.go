package deltaconn

import (
	"context"
	"sync"
)

// MessageFetcher retrieves a previously sent message by hash.
// *rest.Client implements it.
type MessageFetcher interface {
	GetMessage(ctx context.Context, hash string) ([]byte, error)
}

// MessageCache remembers cacheable forward messages so the server can send a
// short "ref" instead of repeating them. Safe for concurrent use.
type MessageCache struct {
	mu      sync.Mutex
	max     int
	entries map[string]*ForwardMsg
	order   []string // insertion order, oldest first
	fetch   MessageFetcher
}

// NewMessageCache creates a cache holding up to max messages. fetch may be
// nil, in which case misses are decode errors.
func NewMessageCache(max int, fetch MessageFetcher) *MessageCache {
	return &MessageCache{
		max:     max,
		entries: make(map[string]*ForwardMsg),
		fetch:   fetch,
	}
}

// Len returns the number of cached messages.
func (c *MessageCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Get returns the cached message for hash.
func (c *MessageCache) Get(hash string) (*ForwardMsg, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg, ok := c.entries[hash]
	return msg, ok
}

// Put stores msg if it is cacheable.
func (c *MessageCache) Put(msg *ForwardMsg) {
	if c.max <= 0 || msg.Hash == "" || msg.Metadata == nil || !msg.Metadata.Cacheable {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[msg.Hash]; ok {
		return
	}
	for len(c.order) >= c.max {
		delete(c.entries, c.order[0])
		c.order = c.order[1:]
	}
	c.entries[msg.Hash] = msg
	c.order = append(c.order, msg.Hash)
}

// Resolve returns the cached original for ref, carrying ref's metadata.
func (c *MessageCache) Resolve(ref *ForwardMsg) (*ForwardMsg, bool) {
	cached, ok := c.Get(ref.RefHash)
	if !ok {
		return nil, false
	}
	return withMetadata(cached, ref.Metadata), true
}

// Fetch retrieves the original message for hash and decodes it with decode.
// It does not store the result. Safe to call off the manager loop.
func (c *MessageCache) Fetch(ctx context.Context, hash string, decode Decoder) (*ForwardMsg, error) {
	if c.fetch == nil {
		return nil, NewError(ErrorCacheMiss, "no cached message for "+hash)
	}
	raw, err := c.fetch.GetMessage(ctx, hash)
	if err != nil {
		return nil, WrapError(ErrorCacheMiss, "fetch "+hash, err)
	}
	msg, err := decode(ctx, raw)
	if err != nil {
		return nil, err
	}
	if msg.Type == forwardRef {
		return nil, NewError(ErrorDecode, "fetched message is itself a ref")
	}
	return msg, nil
}

// withMetadata returns a copy of msg carrying the ref's delivery metadata,
// since the same element may be placed at a different path.
func withMetadata(msg *ForwardMsg, md *Metadata) *ForwardMsg {
	if md == nil {
		return msg
	}
	cp := *msg
	cp.Metadata = md
	return &cp
}
