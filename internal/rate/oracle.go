// Package rate provides BTC spot rates used to size collateralized loans.
package rate

import (
	"context"
	"time"
)

// RateScale is the fixed-point scale of Rate.Rate. A rate of 60_000 USD per
// BTC is carried as 60_000 * RateScale.
const RateScale = 1_000_000_000

// Rate is a fixed-point BTC quote.
type Rate struct {
	// Rate is the price scaled by RateScale.
	Rate uint64
	// Timestamp is when the quote was produced by the source.
	Timestamp time.Time
}

// Oracle produces BTC spot rates against a quote currency symbol such as
// "USD". Implementations must return an error rather than a stale or zero
// rate; callers treat any returned rate as safe to mint against.
type Oracle interface {
	BTCRate(ctx context.Context, quote string) (Rate, error)
}
