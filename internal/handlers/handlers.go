// Package handlers composes the request pipeline: classification has already
// happened in middleware; here POST bodies are validated, the cache gate is
// consulted, the dispatcher is called and the response is finalized.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v3"

	"searchproxy/internal/upstream"
)

// hop-by-hop headers never copied from upstream responses.
var skipResponseHeaders = map[string]struct{}{
	"Connection":        {},
	"Keep-Alive":        {},
	"Transfer-Encoding": {},
	"Content-Length":    {},
}

// forwardHeaders picks the inbound headers worth sending upstream: content
// negotiation, the caller's user agent and any x-algolia-* headers.
func forwardHeaders(c fiber.Ctx) http.Header {
	out := http.Header{}
	for key, values := range c.GetReqHeaders() {
		lower := strings.ToLower(key)
		if lower == "content-type" || lower == "user-agent" || strings.HasPrefix(lower, "x-algolia-") {
			for _, v := range values {
				out.Add(key, v)
			}
		}
	}
	return out
}

// sendResult writes an upstream (or cached) result as the response.
func sendResult(c fiber.Ctx, res *upstream.Result) error {
	for name, values := range res.Header {
		if _, skip := skipResponseHeaders[name]; skip {
			continue
		}
		for _, v := range values {
			c.Set(name, v)
		}
	}
	return c.Status(res.Status).Send(res.Body)
}
