package handlers

import (
	"time"

	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"

	"searchproxy/internal/logging"
	"searchproxy/internal/metrics"
	"searchproxy/internal/request"
	"searchproxy/internal/upstream"
)

// analyticsFailureBody is the fixed plain-text 502 body for the analytics
// path. There is no retry and no alternate host.
const analyticsFailureBody = "analytics upstream unreachable"

// EventsHandler proxies /1/events to the single fixed analytics host.
// Responses on this path are never cached.
type EventsHandler struct {
	dispatcher *upstream.Dispatcher
	reqLog     *logging.RequestLogger
	log        *zap.Logger
}

// NewEventsHandler creates a new events handler instance.
func NewEventsHandler(dispatcher *upstream.Dispatcher, reqLog *logging.RequestLogger, log *zap.Logger) *EventsHandler {
	return &EventsHandler{dispatcher: dispatcher, reqLog: reqLog, log: log}
}

// Events handles POST analytics requests.
func (h *EventsHandler) Events(c fiber.Ctx) error {
	rc := request.FromCtx(c)
	start := time.Now()

	res, err := h.dispatcher.Events(c.Context(), rc.Path, rc.Query, forwardHeaders(c), c.Body())
	if err != nil {
		h.log.Error("analytics upstream unreachable",
			zap.String("request_id", rc.ID),
			zap.Error(err))
		h.finish(rc, fiber.StatusBadGateway, start)
		c.Set("Content-Type", "text/plain; charset=utf-8")
		return c.Status(fiber.StatusBadGateway).SendString(analyticsFailureBody)
	}

	h.finish(rc, res.Status, start)
	return sendResult(c, res)
}

func (h *EventsHandler) finish(rc *request.Context, status int, start time.Time) {
	metrics.RecordRequest("events", rc.Method, status)
	h.reqLog.Log(rc, logging.Outcome{Status: status, Duration: time.Since(start)})
}
