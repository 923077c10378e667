package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/OFFIS-RIT/lkgb/backend/internal/util"

	"golang.org/x/sync/singleflight"
)

const DefaultIPAPIURL = "https://ipapi.co"

// IPAPIClient looks addresses up against the ipapi.co JSON API.
// Concurrent lookups of the same address share one request.
type IPAPIClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxTries   int
	backoff    time.Duration

	group singleflight.Group
}

// NewIPAPIClientParams configures an IPAPIClient. Zero values select the
// public endpoint, a ten second timeout and three attempts.
type NewIPAPIClientParams struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxTries   int
	Backoff    time.Duration
	HTTPClient *http.Client
}

func NewIPAPIClient(params NewIPAPIClientParams) *IPAPIClient {
	baseURL := strings.TrimRight(params.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultIPAPIURL
	}
	httpClient := params.HTTPClient
	if httpClient == nil {
		timeout := params.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	maxTries := params.MaxTries
	if maxTries <= 0 {
		maxTries = 3
	}
	backoff := params.Backoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	return &IPAPIClient{
		baseURL:    baseURL,
		apiKey:     params.APIKey,
		httpClient: httpClient,
		maxTries:   maxTries,
		backoff:    backoff,
	}
}

type ipapiResponse struct {
	City        string `json:"city"`
	Region      string `json:"region"`
	CountryName string `json:"country_name"`
	Timezone    string `json:"timezone"`
	ASN         string `json:"asn"`
	Org         string `json:"org"`
	Hostname    string `json:"hostname"`

	Error    bool   `json:"error"`
	Reason   string `json:"reason"`
	Reserved bool   `json:"reserved"`
}

// Lookup implements Lookup. Rate limiting and API-reported errors yield
// ErrLookupUnavailable without retrying; transport and 5xx errors are
// retried with backoff.
func (c *IPAPIClient) Lookup(ctx context.Context, addr netip.Addr) (Record, error) {
	key := addr.String()
	ch := c.group.DoChan(key, func() (any, error) {
		return util.RetryWithBackoff(ctx, c.maxTries, c.backoff, func(ctx context.Context) (Record, error) {
			return c.fetch(ctx, key)
		})
	})

	select {
	case <-ctx.Done():
		return Record{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Record{}, res.Err
		}
		return res.Val.(Record), nil
	}
}

func (c *IPAPIClient) fetch(ctx context.Context, ip string) (Record, error) {
	endpoint := c.baseURL + "/" + url.PathEscape(ip) + "/json/"
	if c.apiKey != "" {
		endpoint += "?key=" + url.QueryEscape(c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Record{}, util.Permanent(fmt.Errorf("%w: %w", ErrLookupUnavailable, err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "lkgb-backend")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrLookupUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Record{}, util.Permanent(fmt.Errorf("%w: rate limit exceeded", ErrLookupUnavailable))
	case resp.StatusCode >= 500:
		return Record{}, fmt.Errorf("%w: upstream status %d", ErrLookupUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return Record{}, util.Permanent(fmt.Errorf("%w: upstream status %d", ErrLookupUnavailable, resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrLookupUnavailable, err)
	}

	var payload ipapiResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return Record{}, util.Permanent(fmt.Errorf("%w: decode response: %w", ErrLookupUnavailable, err))
	}
	if payload.Error {
		reason := payload.Reason
		if reason == "" {
			reason = "lookup failed"
		}
		return Record{}, util.Permanent(fmt.Errorf("%w: %s", ErrLookupUnavailable, reason))
	}

	return Record{
		City:         payload.City,
		Region:       payload.Region,
		Country:      payload.CountryName,
		Timezone:     payload.Timezone,
		ASN:          payload.ASN,
		Organization: payload.Org,
		Hostname:     payload.Hostname,
	}, nil
}
