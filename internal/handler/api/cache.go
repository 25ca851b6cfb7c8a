package api

import (
	"context"
	"errors"
	"net/url"

	"github.com/labstack/echo/v4"

	"BTProxy/internal/domain/models"
	"BTProxy/internal/usecase"
	xhttp "BTProxy/pkg/http"
	xlogger "BTProxy/pkg/logger"
)

// CacheOps is the operator surface over the summary cache.
type CacheOps interface {
	Status() usecase.CacheStatus
	KeyStatus(ctx context.Context, key string) (*usecase.KeyStatus, error)
	Purge(ctx context.Context, key string) error
	ListKeys(ctx context.Context, pattern string, limit int) usecase.KeyList
}

// CacheHandler serves /api/cache/*.
type CacheHandler struct {
	logger *xlogger.Logger
	ops    CacheOps
}

func NewCacheHandler(logger *xlogger.Logger, ops CacheOps) *CacheHandler {
	return &CacheHandler{logger: logger.Named("api"), ops: ops}
}

func (h *CacheHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/cache")
	g.GET("/status", h.Status)
	g.GET("/keys", h.ListKeys)
	g.DELETE("/keys/:key", h.Purge)
}

// Status returns global counters, or one entry's metadata with ?key=.
func (h *CacheHandler) Status(c echo.Context) error {
	key := c.QueryParam("key")
	if key == "" {
		return xhttp.SuccessResponse(c, h.ops.Status())
	}
	st, err := h.ops.KeyStatus(c.Request().Context(), key)
	if err != nil {
		return h.keyError(c, key, err)
	}
	return xhttp.SuccessResponse(c, st)
}

func (h *CacheHandler) Purge(c echo.Context) error {
	key, err := url.PathUnescape(c.Param("key"))
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("invalid key: %v", err))
	}
	if err := h.ops.Purge(c.Request().Context(), key); err != nil {
		return h.keyError(c, key, err)
	}
	h.logger.Info("cache key purged", xlogger.String("key", key))
	return xhttp.NoContentResponse(c)
}

func (h *CacheHandler) ListKeys(c echo.Context) error {
	req := &models.ListKeysRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	return xhttp.SuccessResponse(c, h.ops.ListKeys(c.Request().Context(), req.Pattern, req.Limit))
}

func (h *CacheHandler) keyError(c echo.Context, key string, err error) error {
	if errors.Is(err, usecase.ErrKeyNotFound) {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("key %s not found", key).WithParam("key", key))
	}
	h.logger.Error("cache ops error", xlogger.String("key", key), xlogger.Error(err))
	return xhttp.AppErrorResponse(c, err)
}
