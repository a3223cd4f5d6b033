// Package ledger talks to the external asset ledgers that hold collateral
// and stablecoin balances, and orchestrates the multi-leg transfers that
// make up deposits, redemptions and transfers.
package ledger

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"boxmint/internal/account"
	"boxmint/internal/observability"
)

// TransferArgs describes a single ledger transfer. A nil FromSubaccount
// transfers from the caller's default account.
type TransferArgs struct {
	FromSubaccount *account.Subaccount
	To             account.Account
	Amount         uint64
	Memo           string
}

// TransferClient is one external asset ledger. Transfer returns the ledger's
// receipt index for the settled transfer.
type TransferClient interface {
	Transfer(ctx context.Context, args TransferArgs) (uint64, error)
	BalanceOf(ctx context.Context, acct account.Account) (uint64, error)
}

// TransferError is a rejection produced by the ledger itself, as opposed to
// a failure reaching it.
type TransferError struct {
	Code    uint64
	Message string
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("ledger rejected transfer (code %d): %s", e.Code, e.Message)
}

// HTTPClient is a TransferClient over a JSON HTTP ledger API. The asset
// label distinguishes the two ledgers on the transfer metrics.
type HTTPClient struct {
	baseURL string
	asset   string
	client  *http.Client
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewHTTPClient(baseURL, asset string, timeout time.Duration, metrics *observability.Metrics, log zerolog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		asset:   asset,
		client:  &http.Client{Timeout: timeout},
		metrics: metrics,
		log:     log,
	}
}

type transferRequest struct {
	FromSubaccount string `json:"from_subaccount,omitempty"`
	ToOwner        string `json:"to_owner"`
	ToSubaccount   string `json:"to_subaccount,omitempty"`
	Amount         uint64 `json:"amount"`
	Memo           string `json:"memo,omitempty"`
}

type transferResponse struct {
	Receipt uint64 `json:"receipt"`
	Error   *struct {
		Code    uint64 `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *HTTPClient) Transfer(ctx context.Context, args TransferArgs) (uint64, error) {
	req := transferRequest{
		ToOwner: args.To.Owner,
		Amount:  args.Amount,
		Memo:    args.Memo,
	}
	if args.FromSubaccount != nil {
		req.FromSubaccount = hex.EncodeToString(args.FromSubaccount[:])
	}
	if args.To.Subaccount != nil {
		req.ToSubaccount = hex.EncodeToString(args.To.Subaccount[:])
	}

	var resp transferResponse
	if err := c.post(ctx, "/v1/transfer", req, &resp); err != nil {
		c.countTransfer("error")
		return 0, err
	}
	if resp.Error != nil {
		c.countTransfer("rejected")
		return 0, &TransferError{Code: resp.Error.Code, Message: resp.Error.Message}
	}
	c.countTransfer("ok")
	return resp.Receipt, nil
}

func (c *HTTPClient) countTransfer(status string) {
	if c.metrics != nil {
		c.metrics.LedgerTransfers.WithLabelValues(c.asset, status).Inc()
	}
}

type balanceRequest struct {
	Owner      string `json:"owner"`
	Subaccount string `json:"subaccount,omitempty"`
}

type balanceResponse struct {
	Balance uint64 `json:"balance"`
}

func (c *HTTPClient) BalanceOf(ctx context.Context, acct account.Account) (uint64, error) {
	req := balanceRequest{Owner: acct.Owner}
	if acct.Subaccount != nil {
		req.Subaccount = hex.EncodeToString(acct.Subaccount[:])
	}

	var resp balanceResponse
	if err := c.post(ctx, "/v1/balance", req, &resp); err != nil {
		return 0, err
	}
	return resp.Balance, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
