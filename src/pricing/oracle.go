package pricing

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

const (
	defaultRetryBaseDelay  = 200 * time.Millisecond
	defaultRetryMaxBackoff = 2 * time.Second
)

type priceResponse struct {
	AssetID string          `json:"asset_id"`
	Price   decimal.Decimal `json:"price"`
	AsOf    time.Time       `json:"as_of"`
}

// OracleClient reads reference prices from the price oracle HTTP API.
type OracleClient struct {
	http *resty.Client
}

func NewOracleClient(cfg Config) *OracleClient {
	client := resty.New().
		SetBaseURL(cfg.OracleURL).
		SetTimeout(cfg.OracleTimeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxBackoff).
		AddRetryCondition(isRetryableResp)

	return &OracleClient{http: client}
}

// isRetryableResp retries transport errors, 5xx, 429 and 408.
func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}
	code := r.StatusCode()
	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}

func (c *OracleClient) ReferencePrice(ctx context.Context, assetID string) (decimal.Decimal, error) {
	var out priceResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/v1/prices/" + url.PathEscape(assetID))
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"component": "PriceOracle",
			"asset_id":  assetID,
		}).WithError(err).Error("Reference price request failed")
		return decimal.Zero, fmt.Errorf("%w: %s: %v", ErrPriceUnavailable, assetID, err)
	}
	if resp.IsError() {
		return decimal.Zero, fmt.Errorf("%w: %s: oracle returned %d", ErrPriceUnavailable, assetID, resp.StatusCode())
	}
	if !out.Price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s: oracle returned price %s", ErrPriceUnavailable, assetID, out.Price)
	}

	logger.WithFields(map[string]interface{}{
		"component": "PriceOracle",
		"asset_id":  assetID,
		"price":     out.Price.String(),
		"as_of":     out.AsOf,
	}).Debug("Reference price fetched")

	return out.Price, nil
}
