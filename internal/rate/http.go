package rate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// HTTPOracle fetches quotes from a price service over HTTP. The service is
// expected to answer GET {base}/rates?base=BTC&quote={quote} with a JSON body
// of the form {"rate": "60123.45", "timestamp": 1700000000}.
type HTTPOracle struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

func NewHTTPOracle(baseURL string, timeout time.Duration, log zerolog.Logger) *HTTPOracle {
	return &HTTPOracle{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		log:     log,
	}
}

type rateResponse struct {
	Rate      string `json:"rate"`
	Timestamp int64  `json:"timestamp"`
}

var rateScale = decimal.NewFromInt(RateScale)

// BTCRate fetches the current BTC quote. Quotes that fail to parse, are not
// positive, or would overflow the fixed-point representation are rejected.
func (o *HTTPOracle) BTCRate(ctx context.Context, quote string) (Rate, error) {
	u := fmt.Sprintf("%s/rates?base=BTC&quote=%s", o.baseURL, url.QueryEscape(quote))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Rate{}, fmt.Errorf("build rate request: %w", err)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return Rate{}, fmt.Errorf("fetch rate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Rate{}, fmt.Errorf("rate service returned status %d", resp.StatusCode)
	}

	var body rateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Rate{}, fmt.Errorf("decode rate response: %w", err)
	}

	price, err := decimal.NewFromString(body.Rate)
	if err != nil {
		return Rate{}, fmt.Errorf("parse rate %q: %w", body.Rate, err)
	}
	if !price.IsPositive() {
		return Rate{}, fmt.Errorf("rate %s is not positive", price)
	}

	scaled := price.Mul(rateScale).Truncate(0)
	if !scaled.BigInt().IsUint64() {
		return Rate{}, fmt.Errorf("rate %s overflows fixed-point range", price)
	}

	r := Rate{
		Rate:      scaled.BigInt().Uint64(),
		Timestamp: time.Unix(body.Timestamp, 0).UTC(),
	}
	o.log.Debug().
		Str("quote", quote).
		Uint64("rate", r.Rate).
		Time("timestamp", r.Timestamp).
		Msg("fetched BTC rate")
	return r, nil
}

// StaticOracle returns a fixed rate. Used in tests and as a regtest fallback
// when no price service is configured.
type StaticOracle struct {
	Value Rate
	Err   error
}

func (s StaticOracle) BTCRate(context.Context, string) (Rate, error) {
	if s.Err != nil {
		return Rate{}, s.Err
	}
	return s.Value, nil
}
