package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// HTTPGateway forwards orders to an external payout service.
//
// Each order is POSTed as JSON to {baseURL}/transfers with the order reference
// in the Idempotency-Key header. Only a 2xx response counts as success.
// Transport errors and 5xx answers are retried with the same key; 4xx
// answers are final.
type HTTPGateway struct {
	baseURL    string
	httpClient *retryablehttp.Client
	logger     *zap.Logger
}

// NewHTTPGateway creates an HTTPGateway. timeout bounds each attempt and
// defaults to 10 seconds.
func NewHTTPGateway(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPGateway {
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Timeout: timeout}
	rc.RetryMax = 2
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = time.Second
	rc.Logger = nil
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			logger.Warn("retrying payout",
				zap.String("reference", req.Header.Get("Idempotency-Key")),
				zap.Int("attempt", attempt+1),
			)
		}
	}

	return &HTTPGateway{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: rc,
		logger:     logger,
	}
}

// Transfer implements Gateway.
func (g *HTTPGateway) Transfer(ctx context.Context, o Order) error {
	body, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/transfers", body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", o.Reference)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("payout request: %w", err)
	}
	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		g.logger.Warn("payout rejected",
			zap.String("reference", o.Reference),
			zap.Int("status", resp.StatusCode),
		)
		return fmt.Errorf("%w: HTTP %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	g.logger.Debug("payout accepted",
		zap.String("reference", o.Reference),
		zap.String("to", o.To.String()),
		zap.Int64("amount", o.Amount),
	)
	return nil
}
