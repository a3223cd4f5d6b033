// Package identity resolves self-sovereign identifiers to the ledger
// identity linked to them.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Resolver maps an SSI to its linked ledger identity. Callers must verify
// the result matches the invoking identity before acting on it.
type Resolver interface {
	Resolve(ctx context.Context, ssi string) (string, error)
}

// HTTPResolver resolves identities against an SSI registry service.
type HTTPResolver struct {
	baseURL string
	client  *http.Client
}

func NewHTTPResolver(baseURL string, timeout time.Duration) *HTTPResolver {
	return &HTTPResolver{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

type resolveResponse struct {
	Owner string `json:"owner"`
}

func (r *HTTPResolver) Resolve(ctx context.Context, ssi string) (string, error) {
	u := fmt.Sprintf("%s/v1/resolve?ssi=%s", r.baseURL, url.QueryEscape(ssi))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("build resolve request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", ssi, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("resolve %s: registry returned status %d", ssi, resp.StatusCode)
	}

	var body resolveResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode resolve response: %w", err)
	}
	if body.Owner == "" {
		return "", fmt.Errorf("ssi %s has no linked identity", ssi)
	}
	return body.Owner, nil
}

// StaticResolver resolves from a fixed map. Used in tests.
type StaticResolver map[string]string

func (s StaticResolver) Resolve(_ context.Context, ssi string) (string, error) {
	owner, ok := s[ssi]
	if !ok {
		return "", fmt.Errorf("ssi %s has no linked identity", ssi)
	}
	return owner, nil
}
