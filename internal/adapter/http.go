package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/boxsignal/repricer/internal/config"
	"github.com/boxsignal/repricer/internal/pkg/apperrors"
	"github.com/boxsignal/repricer/internal/pkg/metrics"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const defaultUpstreamTimeout = 10 * time.Second

// restClient is the shared HTTP plumbing for the REST-backed adapters: one
// rate limiter per adapter instance to respect the marketplace's budget,
// uniform error classification, JSON in/out.
type restClient struct {
	marketplaceID string
	baseURL       string
	client        *http.Client
	limiter       *rate.Limiter
	authorize     func(req *http.Request)
}

func newRESTClient(marketplaceID string, cfg config.MarketplaceConfig) *restClient {
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = defaultUpstreamTimeout
	}
	qps := cfg.QPS
	if qps <= 0 {
		qps = 5
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &restClient{
		marketplaceID: marketplaceID,
		baseURL:       cfg.BaseURL,
		client:        &http.Client{Timeout: timeout},
		limiter:       rate.NewLimiter(rate.Limit(qps), burst),
	}
}

func (c *restClient) doJSON(ctx context.Context, method, path, op string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return apperrors.New(apperrors.ErrTransientUpstream, "rate limiter wait aborted", err)
	}

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return apperrors.New(apperrors.ErrInternal, "encode request body", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return apperrors.New(apperrors.ErrInternal, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authorize != nil {
		c.authorize(req)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	metrics.UpstreamLatency.WithLabelValues(c.marketplaceID, op).Observe(time.Since(start).Seconds())
	if err != nil {
		// Network-level failures (timeouts, resets) are retryable.
		return apperrors.New(apperrors.ErrTransientUpstream, fmt.Sprintf("%s %s failed", method, path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return apperrors.FromHTTPStatus(resp.StatusCode,
			fmt.Sprintf("%s %s: upstream %d: %s", method, path, resp.StatusCode, string(raw)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return apperrors.New(apperrors.ErrPermanentUpstream, "decode upstream response", err)
		}
	}
	return nil
}

// minorUnits converts a decimal price string ("12.34") to integer minor
// units (1234).
func minorUnits(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid price %q: %w", s, err)
	}
	return d.Mul(decimal.NewFromInt(100)).Round(0).IntPart(), nil
}

// priceString renders minor units back to the decimal string the
// marketplaces expect.
func priceString(p int64) string {
	return decimal.NewFromInt(p).Div(decimal.NewFromInt(100)).StringFixed(2)
}
