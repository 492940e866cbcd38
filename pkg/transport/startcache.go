package transport

import (
	"encoding/json"
	"time"

	"github.com/karlseguin/ccache"
)

const defaultStartCacheTTL = 15 * time.Minute

// startCache holds the reply to the last StartScript of each ticket so that a
// retried start is answered without starting the script twice.
type startCache struct {
	cache *ccache.Cache
	ttl   time.Duration
}

func newStartCache(ttl time.Duration) *startCache {
	return &startCache{
		cache: ccache.New(ccache.Configure().MaxSize(1000).ItemsToPrune(100)),
		ttl:   ttl,
	}
}

// Last returns the recorded reply for key, or nil.
func (c *startCache) Last(key string) json.RawMessage {
	item := c.cache.Get(key)
	if item == nil || item.Expired() {
		return nil
	}
	res, ok := item.Value().(json.RawMessage)
	if !ok {
		return nil
	}
	return append(json.RawMessage(nil), res...)
}

func (c *startCache) Record(key string, res json.RawMessage) {
	c.cache.Set(key, append(json.RawMessage(nil), res...), c.ttl)
}

// Forget drops key once the script has been completed.
func (c *startCache) Forget(key string) {
	c.cache.Delete(key)
}
