// Package feed supplies market prices to the monitor, either by querying a
// REST quote endpoint per tick or by serving a redis cache kept warm by the
// streaming ticker.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/quayside-labs/swapsentinel/internal/domain"
)

// RESTFeed fetches spot quotes from an HTTP price endpoint.
type RESTFeed struct {
	baseURL    string
	httpClient *http.Client
}

// NewRESTFeed creates a quote client for the given endpoint root,
// e.g. "https://quotes.example.com".
func NewRESTFeed(baseURL string) *RESTFeed {
	return &RESTFeed{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// quoteResponse is the wire shape of GET /v1/price.
type quoteResponse struct {
	Pair  string  `json:"pair"`
	Price float64 `json:"price"`
	TS    int64   `json:"ts"`
}

// CurrentPrice fetches the latest spot price for the pair.
func (f *RESTFeed) CurrentPrice(ctx context.Context, pair string) (float64, error) {
	params := url.Values{}
	params.Set("pair", pair)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		f.baseURL+"/v1/price?"+params.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("feed: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("feed: quote %s: %w", pair, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("feed: read quote response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("feed: quote %s: status %d: %s", pair, resp.StatusCode, truncate(body, 200))
	}

	var q quoteResponse
	if err := json.Unmarshal(body, &q); err != nil {
		return 0, fmt.Errorf("feed: decode quote: %w", err)
	}
	if q.Price <= 0 {
		return 0, fmt.Errorf("feed: quote %s: non-positive price %g", pair, q.Price)
	}

	return q.Price, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Compile-time interface check.
var _ domain.PriceFeed = (*RESTFeed)(nil)
