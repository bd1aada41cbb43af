// Package request classifies inbound requests into an immutable per-request
// context consumed by the rest of the pipeline.
package request

import (
	"net/url"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
)

// Header and parameter names the classifier consumes.
const (
	SSRHeader        = "x-ssr-request"
	CacheKeyHeader   = "X-AS-Cache-Key"
	CacheKeyParam    = "cacheKey"
	localsContextKey = "proxy_request_context"
)

// Context is an immutable snapshot of one inbound request. It is created
// once by the classifier middleware and read-only afterwards.
type Context struct {
	// ID correlates log lines for one request.
	ID string

	// URL is the full request URL including scheme, host, path and query.
	URL *url.URL

	// Origin is the Origin header value, or "" when absent.
	Origin string

	// SSR is true only when the x-ssr-request header carries the exact
	// pre-shared sentinel value. Presence alone is not enough.
	SSR bool

	Method string
	Path   string
	Query  url.Values

	// CacheToken partitions cached entries. The cacheKey query parameter
	// wins over the X-AS-Cache-Key header when both are present. Empty
	// means this request is never cached.
	CacheToken string

	UserAgent string
}

// Classify builds a Context from the raw request. It fails only when the
// request URL cannot be parsed, which is fatal for the request.
func Classify(c fiber.Ctx, ssrSecret string) (*Context, error) {
	u, err := url.Parse(c.BaseURL() + c.OriginalURL())
	if err != nil {
		return nil, err
	}

	query := u.Query()

	token := query.Get(CacheKeyParam)
	if token == "" {
		token = c.Get(CacheKeyHeader)
	}

	return &Context{
		ID:         uuid.NewString(),
		URL:        u,
		Origin:     c.Get("Origin"),
		SSR:        ssrSecret != "" && c.Get(SSRHeader) == ssrSecret,
		Method:     c.Method(),
		Path:       u.Path,
		Query:      query,
		CacheToken: token,
		UserAgent:  c.Get("User-Agent"),
	}, nil
}

// Middleware classifies every request and stores the Context in Locals.
// An unparseable URL is rejected with 400 before any handler runs.
func Middleware(ssrSecret string) fiber.Handler {
	return func(c fiber.Ctx) error {
		rc, err := Classify(c, ssrSecret)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).SendString("invalid request URL")
		}
		c.Locals(localsContextKey, rc)
		return c.Next()
	}
}

// FromCtx returns the Context stored by Middleware, or nil when the
// classifier has not run.
func FromCtx(c fiber.Ctx) *Context {
	rc, _ := c.Locals(localsContextKey).(*Context)
	return rc
}
