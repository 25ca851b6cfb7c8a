package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"BTProxy/internal/domain/models"
	"BTProxy/internal/services/keyer"
	xhttp "BTProxy/pkg/http"
	xlogger "BTProxy/pkg/logger"
)

// Enqueuer accepts cache-warm requests for asynchronous processing.
type Enqueuer interface {
	Enqueue(ctx context.Context, topic string, payload interface{}) error
}

// WarmHandler serves POST /api/cache/warm.
type WarmHandler struct {
	logger *xlogger.Logger
	queue  Enqueuer
	topic  string
}

func NewWarmHandler(logger *xlogger.Logger, queue Enqueuer, topic string) *WarmHandler {
	return &WarmHandler{logger: logger.Named("api"), queue: queue, topic: topic}
}

func (h *WarmHandler) RegisterRoutes(e *echo.Echo) {
	e.POST("/api/cache/warm", h.Warm)
}

type warmAccepted struct {
	Key    string `json:"key"`
	Queued bool   `json:"queued"`
}

// Warm validates the signal like /api/backtest and queues it; the summary
// is computed by the warm worker.
func (h *WarmHandler) Warm(c echo.Context) error {
	req := &models.BacktestRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	sig, err := req.Signal()
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	}

	warm := models.WarmRequest{Signal: sig, HorizonYears: req.HorizonYears}
	if err := h.queue.Enqueue(c.Request().Context(), h.topic, warm); err != nil {
		h.logger.Error("enqueue warm request", xlogger.String("underlying", sig.Underlying), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.BadGatewayError("warm queue unavailable").WithError(err))
	}
	return xhttp.DataResponse(c, http.StatusAccepted, warmAccepted{
		Key:    keyer.DeriveKey(sig, req.HorizonYears),
		Queued: true,
	})
}
