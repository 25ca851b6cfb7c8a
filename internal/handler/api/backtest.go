package api

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"BTProxy/internal/domain/models"
	"BTProxy/internal/service/ratelimit"
	"BTProxy/internal/services/keyer"
	xhttp "BTProxy/pkg/http"
	xlogger "BTProxy/pkg/logger"
)

func init() {
	xhttp.RegisterValidation("strategy", func(v string) bool {
		_, err := models.ParseStrategy(v)
		return err == nil
	})
}

// Backtester is the get-or-compute entry point.
type Backtester interface {
	Backtest(ctx context.Context, sig models.Signal, horizonYears int) (models.BacktestSummary, models.CacheStatus, error)
}

// BacktestHandler serves POST /api/backtest.
type BacktestHandler struct {
	logger  *xlogger.Logger
	bt      Backtester
	limiter *ratelimit.Limiter
}

// NewBacktestHandler creates the handler. A nil limiter disables rate limiting.
func NewBacktestHandler(logger *xlogger.Logger, bt Backtester, limiter *ratelimit.Limiter) *BacktestHandler {
	return &BacktestHandler{logger: logger.Named("api"), bt: bt, limiter: limiter}
}

func (h *BacktestHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.POST("/backtest", h.Backtest, h.rateLimit)
}

func (h *BacktestHandler) Backtest(c echo.Context) error {
	req := &models.BacktestRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	sig, err := req.Signal()
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	}

	sum, status, err := h.bt.Backtest(c.Request().Context(), sig, req.HorizonYears)
	if err != nil {
		h.logger.Error("backtest usecase error",
			xlogger.String("underlying", sig.Underlying),
			xlogger.String("strategy", string(sig.Strategy)),
			xlogger.Error(err),
		)
		return xhttp.AppErrorResponse(c, backtestError(err))
	}

	key := sum.Key
	if key == "" {
		key = keyer.DeriveKey(sig, req.HorizonYears)
	}
	c.Response().Header().Set("X-Cache", string(status))
	c.Response().Header().Set("X-Cache-Key", key)
	return xhttp.SuccessResponse(c, models.BacktestResponse{
		Key:     key,
		Cache:   status,
		Summary: sum,
	})
}

func backtestError(err error) *xhttp.AppError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return xhttp.GatewayTimeoutError("backtest still computing, retry shortly").WithError(err)
	}
	return xhttp.BadGatewayError("history source unavailable").WithError(err)
}

func (h *BacktestHandler) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if h.limiter == nil {
			return next(c)
		}
		ok, wait := h.limiter.Allow(c.RealIP())
		if !ok {
			secs := int(math.Ceil(wait.Seconds()))
			if wait >= time.Duration(math.MaxInt64) || secs < 1 {
				secs = 1
			}
			c.Response().Header().Set(echo.HeaderRetryAfter, strconv.Itoa(secs))
			return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("rate limit exceeded"))
		}
		return next(c)
	}
}
