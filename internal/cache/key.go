package cache

import (
	"net/url"
)

// ssrParam marks the SSR flag inside synthesized keys so SSR and browser
// traffic never share an entry.
const ssrParam = "ssr"

// tokenParam is the query parameter carrying the caller-supplied cache
// token inside synthesized keys.
const tokenParam = "cacheKey"

// Key derives the cache key for a request: the full request URL with the
// cache token and an ssr=0|1 marker forced into the query string. Requests
// that differ in token or SSR flag always produce different keys.
func Key(u *url.URL, token string, ssr bool) string {
	clone := *u
	q := clone.Query()
	q.Set(tokenParam, token)
	if ssr {
		q.Set(ssrParam, "1")
	} else {
		q.Set(ssrParam, "0")
	}
	clone.RawQuery = q.Encode()
	return clone.String()
}
