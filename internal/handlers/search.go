package handlers

import (
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"

	"searchproxy/internal/cache"
	"searchproxy/internal/logging"
	"searchproxy/internal/metrics"
	"searchproxy/internal/models"
	"searchproxy/internal/request"
	"searchproxy/internal/upstream"
	"searchproxy/internal/validation"
)

// SearchHandler proxies /1/indexes/:index/queries with validation, caching
// and host failover.
type SearchHandler struct {
	dispatcher *upstream.Dispatcher
	gate       *cache.Gate
	reqLog     *logging.RequestLogger
	log        *zap.Logger
}

// NewSearchHandler creates a new search handler instance.
func NewSearchHandler(dispatcher *upstream.Dispatcher, gate *cache.Gate, reqLog *logging.RequestLogger, log *zap.Logger) *SearchHandler {
	return &SearchHandler{
		dispatcher: dispatcher,
		gate:       gate,
		reqLog:     reqLog,
		log:        log,
	}
}

// searchPayload is the decoded slice of the batch body the validator needs.
// The raw body is forwarded upstream untouched.
type searchPayload struct {
	Requests []validation.SearchItem `json:"requests"`
}

// Queries handles GET and POST search requests.
func (h *SearchHandler) Queries(c fiber.Ctx) error {
	rc := request.FromCtx(c)
	start := time.Now()
	body := c.Body()

	// Only POST bodies are validated; GET requests carry the query in the
	// URL and go straight upstream.
	if rc.Method == fiber.MethodPost {
		var payload searchPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return h.reject(c, rc, start, models.ErrMalformedJSON, "request body is not valid JSON", err.Error())
		}
		if rej := validation.ValidateQueries(payload.Requests); rej != nil {
			switch rej.Reason {
			case validation.ReasonInvalidChars:
				return h.reject(c, rc, start, models.ErrInvalidChars, "query contains unsupported characters", rej.Query)
			default:
				return h.reject(c, rc, start, models.ErrTooShort, "query is too short", nil)
			}
		}
	}

	// Caching applies to POST requests with a cache token only.
	cacheable := rc.Method == fiber.MethodPost && h.gate.Eligible(rc.SSR, rc.CacheToken)
	var key string
	if cacheable {
		key = cache.Key(rc.URL, rc.CacheToken, rc.SSR)
		if res := h.gate.Lookup(key); res != nil {
			metrics.RecordCacheLookup(true)
			h.finish(rc, res.Status, true, start)
			return sendResult(c, res)
		}
		metrics.RecordCacheLookup(false)
	}

	dispatchStart := time.Now()
	res, failure := h.dispatcher.Search(c.Context(), rc.Method, rc.Path, rc.Query, forwardHeaders(c), body)
	metrics.ObserveUpstreamDuration(time.Since(dispatchStart))

	if failure != nil {
		h.log.Error("all upstream search hosts exhausted",
			zap.String("request_id", rc.ID),
			zap.Int("attempts", len(failure.Attempts)))
		h.finish(rc, fiber.StatusBadGateway, false, start)
		return c.Status(fiber.StatusBadGateway).
			JSON(models.NewError(models.ErrAlgolia, "all upstream search hosts failed", failure))
	}

	if cacheable {
		h.gate.Store(key, res, rc.SSR)
	}

	h.finish(rc, res.Status, false, start)
	return sendResult(c, res)
}

// reject answers a client input error with the typed 400 envelope.
func (h *SearchHandler) reject(c fiber.Ctx, rc *request.Context, start time.Time, errType, message string, details any) error {
	h.finish(rc, fiber.StatusBadRequest, false, start)
	return c.Status(fiber.StatusBadRequest).JSON(models.NewError(errType, message, details))
}

func (h *SearchHandler) finish(rc *request.Context, status int, cacheHit bool, start time.Time) {
	metrics.RecordRequest("queries", rc.Method, status)
	h.reqLog.Log(rc, logging.Outcome{
		Status:   status,
		CacheHit: cacheHit,
		Duration: time.Since(start),
	})
}
