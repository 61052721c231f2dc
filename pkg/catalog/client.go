// Package catalog fetches image records from the third-party catalog API and
// decodes them into RawItem values. It is the only package that talks to the
// catalog over the network.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/catvault/catvault/pkg/errors"
)

const (
	// DefaultLimit is the batch size used when callers pass a non-positive limit.
	DefaultLimit = 25

	// APIKeyHeader carries the catalog API key.
	APIKeyHeader = "x-api-key"

	userAgent      = "catvault/1.0"
	defaultTimeout = 30 * time.Second
)

// RawItem is one decoded catalog entry. Temperament is nil when the entry has
// no breed or the first breed has no temperament.
type RawItem struct {
	ExternalID  string  `json:"external_id"`
	URL         string  `json:"url"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Temperament *string `json:"temperament,omitempty"`
}

// Filter narrows a search.
type Filter struct {
	HasBreeds bool
	BreedIDs  []string
}

// DefaultFilter returns only items known to carry breed data.
func DefaultFilter() Filter {
	return Filter{HasBreeds: true}
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client calls the catalog search endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a catalog client. Settings are checked on each Fetch so
// that a missing key surfaces as a configuration error from the run.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		apiKey:     strings.TrimSpace(opts.APIKey),
		httpClient: httpClient,
	}
}

type searchResult struct {
	ID     string  `json:"id"`
	URL    string  `json:"url"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Breeds []breed `json:"breeds"`
}

type breed struct {
	Temperament *string `json:"temperament"`
}

// Fetch requests up to limit items matching filter.
func (c *Client) Fetch(ctx context.Context, limit int, filter Filter) ([]RawItem, error) {
	if c.baseURL == "" {
		return nil, errors.Configuration("catalog fetch", "catalog base URL is not configured")
	}
	if c.apiKey == "" {
		return nil, errors.Configuration("catalog fetch", "catalog API key is not configured")
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	endpoint, err := c.searchURL(limit, filter)
	if err != nil {
		return nil, errors.Configuration("catalog fetch", "invalid catalog base URL %q: %v", c.baseURL, err)
	}

	slog.Info("catalog_fetch_start", "limit", limit, "has_breeds", filter.HasBreeds)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, errors.E(errors.KindNetwork, "catalog fetch", fmt.Errorf("error creating request: %w", err))
	}
	req.Header.Set(APIKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("catalog_fetch_failed", "error", err)
		return nil, errors.E(errors.KindNetwork, "catalog fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.Error("catalog_fetch_bad_status", "status", resp.StatusCode)
		return nil, errors.E(errors.KindNetwork, "catalog fetch",
			fmt.Errorf("received non-success response: %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.E(errors.KindNetwork, "catalog fetch", fmt.Errorf("error reading response body: %w", err))
	}

	items, err := Decode(body)
	if err != nil {
		slog.Error("catalog_decode_failed", "error", err)
		return nil, err
	}

	slog.Info("catalog_fetch_complete", "items", len(items))
	return items, nil
}

func (c *Client) searchURL(limit int, filter Filter) (string, error) {
	u, err := url.Parse(c.baseURL + "/images/search")
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("base URL must be absolute")
	}

	q := u.Query()
	q.Set("limit", strconv.Itoa(limit))
	if filter.HasBreeds {
		q.Set("has_breeds", "1")
	}
	if len(filter.BreedIDs) > 0 {
		q.Set("breed_ids", strings.Join(filter.BreedIDs, ","))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Decode parses a search response body. Only structural decoding happens
// here; field constraints are the validator's job.
func Decode(body []byte) ([]RawItem, error) {
	var results []searchResult
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, errors.E(errors.KindParse, "catalog decode", fmt.Errorf("error unmarshaling search results: %w", err))
	}

	items := make([]RawItem, 0, len(results))
	for _, r := range results {
		item := RawItem{
			ExternalID: r.ID,
			URL:        r.URL,
			Width:      r.Width,
			Height:     r.Height,
		}
		if len(r.Breeds) > 0 {
			item.Temperament = r.Breeds[0].Temperament
		}
		items = append(items, item)
	}
	return items, nil
}
