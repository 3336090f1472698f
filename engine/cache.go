package engine

import (
	"sync"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/singleflight"

	"github.com/ban1717/scripto/prepare"
)

// codeCache maps a cache key to instrumented code. Concurrent requests for
// the same key share one computation, and failures are never stored.
type codeCache struct {
	ready map[prepare.Hash]*prepare.InstrumentedCode
	group singleflight.Group
	mu    sync.RWMutex
}

func newCodeCache() *codeCache {
	return &codeCache{ready: make(map[prepare.Hash]*prepare.InstrumentedCode)}
}

// cacheKey derives the key for code prepared under the given settings.
func cacheKey(code []byte, limits prepare.Limits, opts prepare.InstrumenterOptions) prepare.Hash {
	h, _ := blake2b.New256(nil)
	h.Write(code)
	h.Write(limits.Fingerprint())
	h.Write(opts.Fingerprint())
	var key prepare.Hash
	copy(key[:], h.Sum(nil))
	return key
}

// get returns the cached code for key, running compute at most once per key
// while it is missing. hit is false only for the caller whose compute ran.
func (c *codeCache) get(key prepare.Hash, compute func() (*prepare.InstrumentedCode, error)) (code *prepare.InstrumentedCode, hit bool, err error) {
	c.mu.RLock()
	code, ok := c.ready[key]
	c.mu.RUnlock()
	if ok {
		return code, true, nil
	}

	computed := false
	v, err, _ := c.group.Do(string(key[:]), func() (any, error) {
		// Double-check: a previous flight may have finished after our lookup.
		c.mu.RLock()
		code, ok := c.ready[key]
		c.mu.RUnlock()
		if ok {
			return code, nil
		}

		computed = true
		code, err := compute()
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.ready[key] = code
		c.mu.Unlock()
		return code, nil
	})
	if err != nil {
		return nil, !computed, err
	}
	return v.(*prepare.InstrumentedCode), !computed, nil
}

func (c *codeCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ready)
}
