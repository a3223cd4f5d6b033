// Package indexer queries external asset indexers for amounts carried by
// individual transaction outputs.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"boxmint/internal/chain"
)

// maxResponseBytes bounds how much of an indexer response is read. Indexer
// responses are tiny JSON objects; anything larger is a misbehaving provider.
const maxResponseBytes = 64 * 1024

// Provider is one indexer endpoint.
type Provider struct {
	ID      string
	BaseURL string
}

// Registry resolves indexer providers by id.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry(providers []Provider) *Registry {
	m := make(map[string]Provider, len(providers))
	for _, p := range providers {
		m[p.ID] = p
	}
	return &Registry{providers: m}
}

func (r *Registry) Lookup(id string) (Provider, error) {
	p, ok := r.providers[id]
	if !ok {
		return Provider{}, fmt.Errorf("unknown indexer provider %q", id)
	}
	return p, nil
}

// IDs returns the registered provider ids in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Client fetches per-output asset amounts from a registered provider.
type Client struct {
	registry *Registry
	client   *http.Client
	log      zerolog.Logger
}

func NewClient(registry *Registry, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		registry: registry,
		client:   &http.Client{Timeout: timeout},
		log:      log,
	}
}

type amountResponse struct {
	Amount string `json:"amount"`
}

// AssetAmount returns the asset amount carried by the output, or zero when
// the output carries none. Indexer gateways answer errors with HTML pages
// rather than JSON; those are detected and surfaced as call failures.
func (c *Client) AssetAmount(ctx context.Context, providerID string, out chain.Utxo) (uint64, error) {
	p, err := c.registry.Lookup(providerID)
	if err != nil {
		return 0, err
	}

	u := fmt.Sprintf("%s/output/%s:%d", p.BaseURL, out.OutPoint.Hash.String(), out.OutPoint.Index)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, fmt.Errorf("build indexer request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, chain.NewCallError("indexer.AssetAmount", chain.ReasonServiceError, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, chain.NewCallError("indexer.AssetAmount", chain.ReasonServiceError, err.Error())
	}

	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "<") {
		// HTML error page from the gateway in front of the indexer.
		return 0, chain.NewCallError("indexer.AssetAmount", chain.ReasonRejected,
			fmt.Sprintf("provider %s returned an HTML error page (status %d)", providerID, resp.StatusCode))
	}
	if resp.StatusCode == http.StatusNotFound {
		return 0, nil
	}
	if resp.StatusCode != http.StatusOK {
		return 0, chain.NewCallError("indexer.AssetAmount", chain.ReasonServiceError,
			fmt.Sprintf("provider %s returned status %d", providerID, resp.StatusCode))
	}

	var parsed amountResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, chain.NewCallError("indexer.AssetAmount", chain.ReasonRejected,
			fmt.Sprintf("malformed indexer response: %v", err))
	}
	if parsed.Amount == "" {
		return 0, nil
	}
	amount, err := strconv.ParseUint(parsed.Amount, 10, 64)
	if err != nil {
		return 0, chain.NewCallError("indexer.AssetAmount", chain.ReasonRejected,
			fmt.Sprintf("non-numeric indexer amount %q", parsed.Amount))
	}
	return amount, nil
}
