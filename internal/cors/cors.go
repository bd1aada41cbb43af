// Package cors decides the Access-Control-Allow-Origin value for every
// response the proxy produces, including cache hits and error responses.
// Cached bodies carry no origin information, so the decision is recomputed
// per response and never stored.
package cors

import (
	"regexp"

	"github.com/gofiber/fiber/v3"

	"searchproxy/internal/request"
)

// CanonicalOrigin is the storefront origin used as the fallback allow value
// and as the stable value for SSR-flagged (trusted first-party) requests.
const CanonicalOrigin = "https://www.avocadostore.de"

// dashboardOrigin is the operator dashboard, allowed as a literal because it
// lives outside the storefront domains.
const dashboardOrigin = "https://avocadostore.retool.com"

// allowedOriginPatterns covers storefront subdomains on both TLDs and local
// development on any port.
var allowedOriginPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^https://([a-z0-9-]+\.)?avocadostore\.(de|at)$`),
	regexp.MustCompile(`^https?://localhost(:\d+)?$`),
}

// Preflight response constants. AllowHeaders must list every custom header
// the clients send, or browsers drop the request before it reaches us.
const (
	allowMethods = "GET, POST, OPTIONS"
	allowHeaders = "Content-Type, User-Agent, X-AS-Cache-Key, x-ssr-request, " +
		"x-algolia-agent, x-algolia-application-id, x-algolia-api-key"
	maxAgeSeconds = "86400"
)

// Decision is the resolved CORS header set for one response.
type Decision struct {
	AllowOrigin string
	VaryOrigin  bool
}

// Resolve decides the allowed origin for a request. SSR callers always get
// the canonical origin; allow-listed browser origins are echoed back with
// Vary: Origin; everything else falls back to the canonical origin.
func Resolve(origin string, ssr bool) Decision {
	if ssr {
		return Decision{AllowOrigin: CanonicalOrigin}
	}
	if origin != "" && originAllowed(origin) {
		return Decision{AllowOrigin: origin, VaryOrigin: true}
	}
	return Decision{AllowOrigin: CanonicalOrigin}
}

func originAllowed(origin string) bool {
	if origin == dashboardOrigin {
		return true
	}
	for _, p := range allowedOriginPatterns {
		if p.MatchString(origin) {
			return true
		}
	}
	return false
}

// apply stamps the decision onto the current response.
func apply(c fiber.Ctx, d Decision) {
	c.Set("Access-Control-Allow-Origin", d.AllowOrigin)
	if d.VaryOrigin {
		c.Set("Vary", "Origin")
	}
}

// Middleware re-applies the origin decision after the handler chain has
// produced a response, whatever its source (upstream, cache, error).
func Middleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		err := c.Next()

		rc := request.FromCtx(c)
		if rc == nil {
			apply(c, Decision{AllowOrigin: CanonicalOrigin})
			return err
		}
		apply(c, Resolve(rc.Origin, rc.SSR))
		return err
	}
}

// Preflight terminates OPTIONS requests with 204 and the full CORS header
// set. No upstream call is made.
func Preflight(c fiber.Ctx) error {
	c.Set("Access-Control-Allow-Methods", allowMethods)
	c.Set("Access-Control-Allow-Headers", allowHeaders)
	c.Set("Access-Control-Max-Age", maxAgeSeconds)
	return c.SendStatus(fiber.StatusNoContent)
}
