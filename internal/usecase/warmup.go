package usecase

import (
	"context"
	"encoding/json"
	"fmt"

	"BTProxy/internal/domain/models"
	"BTProxy/pkg/logger"
)

// maxWarmHorizonYears matches the HTTP request bound.
const maxWarmHorizonYears = 10

// WarmupHandler consumes cache-warm messages and runs the orchestrator for
// them, so hot signals are computed before the first request arrives.
type WarmupHandler struct {
	topic string
	bt    *BacktestUseCase
	log   *logger.Logger
}

func NewWarmupHandler(topic string, bt *BacktestUseCase, log *logger.Logger) *WarmupHandler {
	return &WarmupHandler{topic: topic, bt: bt, log: log.Named("warmup")}
}

func (h *WarmupHandler) Topic() string { return h.topic }

// Handle returns an error only for retryable failures. Malformed messages
// are logged and dropped.
func (h *WarmupHandler) Handle(ctx context.Context, b []byte) error {
	var req models.WarmRequest
	if err := json.Unmarshal(b, &req); err != nil {
		h.log.Warn("drop malformed warm message", logger.Error(err))
		return nil
	}
	st, err := models.ParseStrategy(string(req.Signal.Strategy))
	if err != nil || req.Signal.Underlying == "" {
		h.log.Warn("drop invalid warm message", logger.String("strategy", string(req.Signal.Strategy)), logger.String("underlying", req.Signal.Underlying))
		return nil
	}
	req.Signal.Strategy = st
	switch {
	case req.HorizonYears <= 0:
		req.HorizonYears = 2
	case req.HorizonYears > maxWarmHorizonYears:
		req.HorizonYears = maxWarmHorizonYears
	}

	sum, status, err := h.bt.Backtest(ctx, req.Signal, req.HorizonYears)
	if err != nil {
		return fmt.Errorf("warm %s: %w", req.Signal.Underlying, err)
	}
	h.log.Debug("warmed", logger.String("key", sum.Key), logger.String("cache", string(status)))
	return nil
}
