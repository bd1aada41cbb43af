// Package validation implements the search payload accept/reject rules.
package validation

import (
	"regexp"
)

// Rejection reasons, matching the errorType values sent to clients.
const (
	ReasonTooShort     = "too_short"
	ReasonInvalidChars = "invalid_characters"
)

// MinQueryLength is the shortest non-empty query worth forwarding upstream.
// Single and double character searches are expensive and low-value.
const MinQueryLength = 3

// queryCharPattern is the allowed code-point class for query strings:
// printable ASCII, Latin-1 supplement and Latin Extended-A (U+00A1-U+017F),
// Cyrillic (U+0400-U+045F) and a curated symbol set.
//
// This literal is load-bearing: storefront search history was used to tune
// it, and any change shifts which real queries get rejected. Do not rewrite
// it into an "equivalent" form.
var queryCharPattern = regexp.MustCompile(`^[ -~¡-ſЀ-џ€£§°²³µ·«»–—‘’‚“”„…™]*$`)

// SearchItem is one element of a batched search payload. The validator only
// looks at the query field; everything else in the item is forwarded to the
// upstream untouched.
type SearchItem struct {
	Query string `json:"query"`
}

// Rejection describes why a batch was refused. Query carries the offending
// query for invalid_characters rejections, truncated to 100 characters.
type Rejection struct {
	Reason string
	Query  string
}

// ValidateQueries checks a decoded search batch and returns nil when it is
// acceptable, or a Rejection describing the first applicable refusal.
//
// A batch where every query is empty or absent is a category/listing page
// request, not a search, and is always accepted. Character-set violations
// take precedence over length violations.
func ValidateQueries(items []SearchItem) *Rejection {
	hasQuery := false
	longEnough := false

	for _, item := range items {
		if item.Query == "" {
			continue
		}
		hasQuery = true
		if !queryCharPattern.MatchString(item.Query) {
			return &Rejection{
				Reason: ReasonInvalidChars,
				Query:  truncate(item.Query, 100),
			}
		}
		if len([]rune(item.Query)) >= MinQueryLength {
			longEnough = true
		}
	}

	if hasQuery && !longEnough {
		return &Rejection{Reason: ReasonTooShort}
	}
	return nil
}

// truncate shortens s to at most n characters (not bytes).
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
