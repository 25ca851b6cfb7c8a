package repository

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"BTProxy/internal/domain/models"
	domrepo "BTProxy/internal/domain/repository"
	xhttp "BTProxy/pkg/http"
	applogger "BTProxy/pkg/logger"
)

// historyResponse is the body of GET {base}/history.
type historyResponse struct {
	Symbol string              `json:"symbol"`
	Bars   []models.HistoryBar `json:"bars"`
}

// HTTPHistory reads bars from a remote history service.
type HTTPHistory struct {
	baseURL string
	apiKey  string
	client  *xhttp.Client
	l       *applogger.Logger
	sf      coalescer
}

func NewHTTPHistory(baseURL, apiKey string, client *xhttp.Client, l *applogger.Logger) *HTTPHistory {
	return &HTTPHistory{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
		l:       l.Named("http_history"),
	}
}

func (h *HTTPHistory) GetHistory(ctx context.Context, symbol string, days int) ([]models.HistoryBar, error) {
	return h.sf.do(ctx, symbol, days, h.fetch)
}

func (h *HTTPHistory) fetch(ctx context.Context, symbol string, days int) ([]models.HistoryBar, error) {
	headers := map[string]string{}
	if h.apiKey != "" {
		headers["X-API-Key"] = h.apiKey
	}

	var resp historyResponse
	err := h.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodGet,
		URL:     h.baseURL + "/history",
		Headers: headers,
		QueryParams: map[string][]string{
			"symbol": {symbol},
			"days":   {strconv.Itoa(days)},
		},
	}, &resp)
	if err != nil {
		var se *xhttp.StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return nil, domrepo.ErrNoHistory
		}
		h.l.Error("history request failed", applogger.String("symbol", symbol), applogger.Error(err))
		return nil, fmt.Errorf("get history: %w", err)
	}

	// the service may ignore days
	return tail(resp.Bars, days), nil
}
