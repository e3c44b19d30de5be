// Package p2p holds the peer-facing transport. Peers expose the node HTTP
// API; the core sees fetch results and tolerates peers that are slow, stale
// or gone.
package p2p

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"srishti/core/block"
)

// fetchTimeout bounds every peer-facing request. Timeouts surface as a
// retryable failure class, distinct from structural rejection.
const fetchTimeout = 5 * time.Second

// HTTPFetcher pulls chain data from peers over their node API.
type HTTPFetcher struct {
	Client *http.Client
}

// NewHTTPFetcher builds a fetcher with the bounded-wait client.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{Client: &http.Client{Timeout: fetchTimeout}}
}

func (f *HTTPFetcher) get(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return fmt.Errorf("peer request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("peer returned status %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

// TipInfo is a peer's advertised chain tip.
type TipInfo struct {
	Height  int    `json:"height"`
	TipHash string `json:"tipHash"`
}

// FetchTip asks a peer for its current tip.
func (f *HTTPFetcher) FetchTip(ctx context.Context, peerAddr string) (TipInfo, error) {
	var tip TipInfo
	err := f.get(ctx, fmt.Sprintf("http://%s/status", peerAddr), &tip)
	return tip, err
}

// FetchBlocks pulls the peer's block sequence starting at from.
func (f *HTTPFetcher) FetchBlocks(ctx context.Context, peerAddr string, from int) ([]block.Block, error) {
	var blocks []block.Block
	err := f.get(ctx, fmt.Sprintf("http://%s/blocks?from=%d", peerAddr, from), &blocks)
	return blocks, err
}

// FetchHeaders pulls headers starting at from (light-client sync).
func (f *HTTPFetcher) FetchHeaders(ctx context.Context, peerAddr string, from int) ([]block.Header, error) {
	var headers []block.Header
	err := f.get(ctx, fmt.Sprintf("http://%s/headers?from=%d", peerAddr, from), &headers)
	return headers, err
}
