package locator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

const (
	// DefaultFetchTimeout is the default HTTP request timeout for registry fetches.
	DefaultFetchTimeout = 10 * time.Second

	// DefaultMaxRetries is the default number of attempts.
	DefaultMaxRetries = 3

	defaultBaseBackoff = 500 * time.Millisecond

	// maxResponseBytes limits the registry response to 5 MB.
	maxResponseBytes = 5 << 20
)

// FetchOption configures FetchRegistryFromAPI behavior.
type FetchOption func(*fetchConfig)

type fetchConfig struct {
	timeout     time.Duration
	maxRetries  int
	baseBackoff time.Duration
	client      *http.Client
}

func defaultFetchConfig() fetchConfig {
	return fetchConfig{
		timeout:     DefaultFetchTimeout,
		maxRetries:  DefaultMaxRetries,
		baseBackoff: defaultBaseBackoff,
	}
}

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) FetchOption {
	return func(c *fetchConfig) {
		c.timeout = d
	}
}

// WithMaxRetries sets the maximum number of attempts.
func WithMaxRetries(n int) FetchOption {
	return func(c *fetchConfig) {
		c.maxRetries = n
	}
}

// WithBaseBackoff sets the base delay for exponential backoff between retries.
func WithBaseBackoff(d time.Duration) FetchOption {
	return func(c *fetchConfig) {
		c.baseBackoff = d
	}
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) FetchOption {
	return func(c *fetchConfig) {
		c.client = client
	}
}

// FetchRegistryFromAPI fetches beacon definitions from an external registry.
// The response is either a JSON array of beacons or an object with a "beacons"
// array, each entry shaped like a config file beacon. Transient failures are
// retried with exponential backoff.
func FetchRegistryFromAPI(ctx context.Context, apiURL string, opts ...FetchOption) ([]BeaconConfig, error) {
	if apiURL == "" {
		return nil, fmt.Errorf("fetch registry: API URL is empty")
	}

	cfg := defaultFetchConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxRetries < 1 {
		cfg.maxRetries = 1
	}

	client := cfg.client
	if client == nil {
		client = &http.Client{Timeout: cfg.timeout}
	}

	var lastErr error
	for attempt := range cfg.maxRetries {
		if attempt > 0 {
			backoff := cfg.baseBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("fetch registry: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		body, err := doFetch(ctx, client, apiURL)
		if err != nil {
			lastErr = err
			continue
		}

		beacons, err := parseRegistryJSON(body)
		if err != nil {
			// not transient
			return nil, fmt.Errorf("fetch registry: %w", err)
		}
		return beacons, nil
	}

	return nil, fmt.Errorf("fetch registry: all %d attempts failed: %w", cfg.maxRetries, lastErr)
}

func parseRegistryJSON(data []byte) ([]BeaconConfig, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty registry response")
	}

	var beacons []BeaconConfig
	if data[0] == '[' {
		if err := json.Unmarshal(data, &beacons); err != nil {
			return nil, fmt.Errorf("parsing registry JSON: %w", err)
		}
	} else {
		var wrapped struct {
			Beacons []BeaconConfig `json:"beacons"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return nil, fmt.Errorf("parsing registry JSON: %w", err)
		}
		beacons = wrapped.Beacons
	}

	for i, b := range beacons {
		if err := validate.Struct(b); err != nil {
			return nil, fmt.Errorf("%w: registry beacon[%d]: %v", ErrInvalidConfig, i, err)
		}
	}
	return beacons, nil
}

// doFetch performs a single HTTP GET and returns the response body bytes.
func doFetch(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP GET %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP GET %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", url, err)
	}

	return body, nil
}
