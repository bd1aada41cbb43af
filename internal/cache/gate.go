// Package cache implements the response cache: deterministic key synthesis
// and the gate that orchestrates lookup before dispatch and asynchronous
// storage after a successful dispatch.
package cache

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"searchproxy/internal/background"
	"searchproxy/internal/upstream"
)

// Store is the narrow slice of the external key-value store the gate needs.
// *redis.Storage from gofiber/storage satisfies it; a miss is (nil, nil).
type Store interface {
	Get(key string) ([]byte, error)
	Set(key string, val []byte, exp time.Duration) error
}

// entry is the stored form of a response.
type entry struct {
	Status int                 `json:"status"`
	Header map[string][]string `json:"header"`
	Body   []byte              `json:"body"`
}

// Gate applies the caching policy around the upstream dispatcher. Lookup
// runs on the request path; stores are handed to the background queue so
// they never add caller latency. Store errors are treated as a miss or a
// dropped write and only logged.
type Gate struct {
	store     Store
	queue     *background.Queue
	ssrTTL    time.Duration
	clientTTL time.Duration
	log       *zap.Logger
}

// NewGate wires the gate to its store, TTL policy and background queue.
func NewGate(store Store, queue *background.Queue, ssrTTL, clientTTL time.Duration, log *zap.Logger) *Gate {
	return &Gate{
		store:     store,
		queue:     queue,
		ssrTTL:    ssrTTL,
		clientTTL: clientTTL,
		log:       log,
	}
}

// Eligible reports whether a request may use the cache at all: it must
// carry a token, and non-SSR traffic additionally needs a positive client
// TTL.
func (g *Gate) Eligible(ssr bool, token string) bool {
	if token == "" {
		return false
	}
	return ssr || g.clientTTL > 0
}

// Lookup returns the stored response for key, or nil on a miss. A store
// error counts as a miss.
func (g *Gate) Lookup(key string) *upstream.Result {
	raw, err := g.store.Get(key)
	if err != nil {
		g.log.Warn("cache lookup failed, treating as miss",
			zap.String("key", key),
			zap.Error(err))
		return nil
	}
	if raw == nil {
		return nil
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		g.log.Warn("cache entry corrupt, treating as miss",
			zap.String("key", key),
			zap.Error(err))
		return nil
	}

	return &upstream.Result{
		Status: e.Status,
		Header: http.Header(e.Header),
		Body:   e.Body,
	}
}

// Store schedules a successful response for storage under key. The stored
// copy gets its Cache-Control rewritten to the TTL that applies to this
// request class; the caller's response object is left untouched.
// Non-success responses are never stored.
func (g *Gate) Store(key string, res *upstream.Result, ssr bool) {
	if !res.Success() {
		return
	}

	ttl := g.clientTTL
	if ssr {
		ttl = g.ssrTTL
	}

	header := res.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(ttl.Seconds())))

	e := entry{
		Status: res.Status,
		Header: header,
		Body:   res.Body,
	}
	raw, err := json.Marshal(e)
	if err != nil {
		g.log.Warn("cache entry marshal failed", zap.Error(err))
		return
	}

	g.queue.Submit(func() {
		if err := g.store.Set(key, raw, ttl); err != nil {
			g.log.Warn("cache store failed, entry dropped",
				zap.String("key", key),
				zap.Error(err))
		}
	})
}
