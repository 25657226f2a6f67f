// Package nominatim implements geocoding.Geocoder against the OpenStreetMap
// Nominatim search API.
package nominatim

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/driveprofile/driveprofile/internal/geocoding"
	"github.com/driveprofile/driveprofile/internal/provider/resilience"
	"github.com/driveprofile/driveprofile/internal/routing"
)

const (
	// ProviderName identifies this geocoding provider.
	ProviderName = "nominatim"

	// DefaultBaseURL is the public Nominatim instance.
	DefaultBaseURL = "https://nominatim.openstreetmap.org"

	// DefaultUserAgent is sent when none is configured; Nominatim rejects anonymous clients.
	DefaultUserAgent = "DriveProfile/1.0"

	// DefaultMinInterval honours the public instance's one request per second policy.
	DefaultMinInterval = time.Second

	// MaxSearchLimit caps the number of suggestions per search.
	MaxSearchLimit = 10
)

// HTTPDoer executes HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig holds configuration for the Nominatim client.
type ClientConfig struct {
	BaseURL   string
	UserAgent string

	// CountryCodes restricts results (comma-separated ISO 3166-1 alpha-2), optional.
	CountryCodes string

	// MinInterval is the minimum spacing between outgoing requests.
	MinInterval time.Duration

	// HTTPClient overrides the resilient client (tests).
	HTTPClient HTTPDoer

	Timeout  time.Duration
	Registry *resilience.Registry
	Logger   zerolog.Logger
}

// Client is a Nominatim geocoder.
type Client struct {
	baseURL      string
	userAgent    string
	countryCodes string
	httpClient   HTTPDoer
	logger       zerolog.Logger

	// limiter spaces outgoing requests; a canceled wait gives its slot back.
	limiter *rate.Limiter
}

var _ geocoding.Geocoder = (*Client)(nil)

type searchResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// NewClient creates a Nominatim client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	minInterval := cfg.MinInterval
	if minInterval == 0 {
		minInterval = DefaultMinInterval
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		clientCfg := resilience.DefaultClientConfig(ProviderName)
		if cfg.Timeout > 0 {
			clientCfg.Timeout = cfg.Timeout
		}
		clientCfg.Registry = cfg.Registry
		httpClient = resilience.NewClient(clientCfg)
	}

	return &Client{
		baseURL:      baseURL,
		userAgent:    userAgent,
		countryCodes: cfg.CountryCodes,
		httpClient:   httpClient,
		logger:       cfg.Logger,
		limiter:      rate.NewLimiter(rate.Every(minInterval), 1),
	}
}

// Resolve returns the best match for placeName, or nil when nothing matches.
func (c *Client) Resolve(ctx context.Context, placeName string) (*geocoding.Place, error) {
	places, err := c.Search(ctx, placeName, 1)
	if err != nil {
		return nil, err
	}
	if len(places) == 0 {
		c.logger.Debug().Str("place", placeName).Msg("no geocoding match")
		return nil, nil
	}
	return &places[0], nil
}

// Search returns up to limit matches for query, best first.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]geocoding.Place, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, geocoding.ErrEmptyQuery
	}
	limit = max(1, min(limit, MaxSearchLimit))

	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("limit", strconv.Itoa(limit))
	if c.countryCodes != "" {
		params.Set("countrycodes", c.countryCodes)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+params.Encode(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set("Accept", "application/json")

	c.logger.Debug().Str("query", query).Int("limit", limit).Msg("requesting geocode from nominatim")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, unavailable("REQUEST_FAILED", "failed to reach geocoding provider", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, unavailable("READ_FAILED", "failed to read geocoding response", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn().
			Int("status", resp.StatusCode).
			Str("query", query).
			Msg("nominatim returned an error status")
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, &routing.Error{
				Provider: ProviderName,
				Code:     "RATE_LIMIT",
				Message:  "geocoding rate limit exceeded",
				Err:      routing.ErrRateLimitExceeded,
			}
		}
		return nil, &routing.Error{
			Provider: ProviderName,
			Code:     fmt.Sprintf("HTTP_%d", resp.StatusCode),
			Message:  fmt.Sprintf("geocoding provider returned status %d", resp.StatusCode),
			Err:      routing.ErrProviderUnavailable,
		}
	}

	var results []searchResult
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, unavailable("DECODE_FAILED", "geocoding provider returned an unreadable response", err)
	}

	places := make([]geocoding.Place, 0, len(results))
	for _, r := range results {
		place, err := r.toPlace()
		if err != nil {
			c.logger.Warn().Err(err).Str("query", query).Msg("skipping malformed nominatim result")
			continue
		}
		places = append(places, place)
	}

	return places, nil
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// wait blocks until the next request slot, or ctx is done.
func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		// The slot lies past ctx's deadline.
		return fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}
	return nil
}

func (r searchResult) toPlace() (geocoding.Place, error) {
	lat, err := strconv.ParseFloat(r.Lat, 64)
	if err != nil {
		return geocoding.Place{}, fmt.Errorf("invalid latitude %q: %w", r.Lat, err)
	}
	lon, err := strconv.ParseFloat(r.Lon, 64)
	if err != nil {
		return geocoding.Place{}, fmt.Errorf("invalid longitude %q: %w", r.Lon, err)
	}
	coord := routing.Coordinate{Lat: lat, Lon: lon}
	if err := coord.Validate(); err != nil {
		return geocoding.Place{}, err
	}
	return geocoding.Place{Coordinate: coord, DisplayName: r.DisplayName}, nil
}

func unavailable(code, msg string, err error) error {
	return &routing.Error{
		Provider: ProviderName,
		Code:     code,
		Message:  msg,
		Err:      fmt.Errorf("%w: %w", routing.ErrProviderUnavailable, err),
	}
}
