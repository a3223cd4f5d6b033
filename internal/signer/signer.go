// Package signer talks to the threshold-signing service that owns the
// minter's Bitcoin keys.
package signer

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"boxmint/internal/account"
)

// AddressResolver derives the Bitcoin deposit address controlled by the
// signing service for an account's box.
type AddressResolver interface {
	DepositAddress(ctx context.Context, acct account.Account, ssi string) (string, error)
}

// HTTPResolver resolves deposit addresses against the signing service.
type HTTPResolver struct {
	baseURL string
	client  *http.Client
}

func NewHTTPResolver(baseURL string, timeout time.Duration) *HTTPResolver {
	return &HTTPResolver{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

type addressResponse struct {
	Address string `json:"address"`
}

func (r *HTTPResolver) DepositAddress(ctx context.Context, acct account.Account, ssi string) (string, error) {
	q := url.Values{"owner": {acct.Owner}, "ssi": {ssi}}
	if acct.Subaccount != nil {
		q.Set("subaccount", hex.EncodeToString(acct.Subaccount[:]))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/v1/address?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("build address request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("resolve deposit address: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("signer returned status %d", resp.StatusCode)
	}

	var body addressResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode address response: %w", err)
	}
	if body.Address == "" {
		return "", fmt.Errorf("signer returned an empty address")
	}
	return body.Address, nil
}

// StaticResolver returns a fixed address per account key. Used in tests and
// for regtest deployments with a single watch address.
type StaticResolver map[string]string

func (s StaticResolver) DepositAddress(_ context.Context, acct account.Account, _ string) (string, error) {
	addr, ok := s[acct.Key()]
	if !ok {
		return "", fmt.Errorf("no deposit address for account %s", acct.Key())
	}
	return addr, nil
}
