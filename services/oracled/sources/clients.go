package sources

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"reefchain/native/oracle"
)

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// pushFeedClient talks to a round-based aggregator gateway.
type pushFeedClient struct {
	client   HTTPDoer
	endpoint string
	apiKey   string
}

func newPushFeedClient(client HTTPDoer, endpoint, apiKey string) *pushFeedClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &pushFeedClient{
		client:   client,
		endpoint: strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		apiKey:   strings.TrimSpace(apiKey),
	}
}

// LatestRound implements oracle.PushFeedClient.
func (c *pushFeedClient) LatestRound(sourceRef string) (oracle.PushRound, error) {
	if c == nil || c.endpoint == "" {
		return oracle.PushRound{}, fmt.Errorf("push feed client not configured")
	}
	target := fmt.Sprintf("%s/rounds/%s/latest", c.endpoint, url.PathEscape(strings.TrimSpace(sourceRef)))
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return oracle.PushRound{}, err
	}
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return oracle.PushRound{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return oracle.PushRound{}, fmt.Errorf("push feed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		RoundID         uint64 `json:"round_id"`
		Answer          string `json:"answer"`
		UpdatedAt       int64  `json:"updated_at"`
		AnsweredInRound uint64 `json:"answered_in_round"`
		Decimals        uint8  `json:"decimals"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return oracle.PushRound{}, fmt.Errorf("push feed: decode: %w", err)
	}
	answer, err := parseAmount(payload.Answer)
	if err != nil {
		return oracle.PushRound{}, fmt.Errorf("push feed: %w", err)
	}
	return oracle.PushRound{
		RoundID:         payload.RoundID,
		Answer:          answer,
		UpdatedAt:       payload.UpdatedAt,
		AnsweredInRound: payload.AnsweredInRound,
		Decimals:        payload.Decimals,
	}, nil
}

// pullFeedClient talks to a publish-on-demand price service.
type pullFeedClient struct {
	client   HTTPDoer
	endpoint string
	apiKey   string
}

func newPullFeedClient(client HTTPDoer, endpoint, apiKey string) *pullFeedClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &pullFeedClient{
		client:   client,
		endpoint: strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		apiKey:   strings.TrimSpace(apiKey),
	}
}

// LatestPrice implements oracle.PullFeedClient. The staleness bound is pushed
// down to the service so it can refuse to serve cached data.
func (c *pullFeedClient) LatestPrice(feedID string, maxAge time.Duration) (oracle.PullPrice, error) {
	if c == nil || c.endpoint == "" {
		return oracle.PullPrice{}, fmt.Errorf("pull feed client not configured")
	}
	target := fmt.Sprintf("%s/price/%s", c.endpoint, url.PathEscape(strings.TrimSpace(feedID)))
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return oracle.PullPrice{}, err
	}
	values := url.Values{}
	values.Set("max_age", fmt.Sprintf("%d", int64(maxAge/time.Second)))
	req.URL.RawQuery = values.Encode()
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return oracle.PullPrice{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return oracle.PullPrice{}, fmt.Errorf("pull feed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		Price       string `json:"price"`
		Expo        int32  `json:"expo"`
		Confidence  string `json:"conf"`
		PublishTime int64  `json:"publish_time"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return oracle.PullPrice{}, fmt.Errorf("pull feed: decode: %w", err)
	}
	price, err := parseAmount(payload.Price)
	if err != nil {
		return oracle.PullPrice{}, fmt.Errorf("pull feed: %w", err)
	}
	confidence := big.NewInt(0)
	if trimmed := strings.TrimSpace(payload.Confidence); trimmed != "" {
		confidence, err = parseAmount(trimmed)
		if err != nil {
			return oracle.PullPrice{}, fmt.Errorf("pull feed: %w", err)
		}
	}
	return oracle.PullPrice{
		Price:      price,
		Expo:       payload.Expo,
		Confidence: confidence,
		Timestamp:  payload.PublishTime,
	}, nil
}

// indexFeedClient talks to an index feed exposing value and freshness lookups.
type indexFeedClient struct {
	client   HTTPDoer
	endpoint string
	apiKey   string
}

func newIndexFeedClient(client HTTPDoer, endpoint, apiKey string) *indexFeedClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &indexFeedClient{
		client:   client,
		endpoint: strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		apiKey:   strings.TrimSpace(apiKey),
	}
}

func (c *indexFeedClient) fetch(feedID string) (*big.Int, int64, error) {
	if c == nil || c.endpoint == "" {
		return nil, 0, fmt.Errorf("index feed client not configured")
	}
	target := fmt.Sprintf("%s/index/%s", c.endpoint, url.PathEscape(strings.TrimSpace(feedID)))
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, err
	}
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, 0, fmt.Errorf("index feed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		Value     string `json:"value"`
		UpdatedAt int64  `json:"updated_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, 0, fmt.Errorf("index feed: decode: %w", err)
	}
	value, err := parseAmount(payload.Value)
	if err != nil {
		return nil, 0, fmt.Errorf("index feed: %w", err)
	}
	return value, payload.UpdatedAt, nil
}

// Value implements oracle.IndexFeedClient.
func (c *indexFeedClient) Value(feedID string) (*big.Int, error) {
	value, _, err := c.fetch(feedID)
	return value, err
}

// UpdatedAt implements oracle.IndexFeedClient.
func (c *indexFeedClient) UpdatedAt(feedID string) (int64, error) {
	_, updatedAt, err := c.fetch(feedID)
	return updatedAt, err
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("empty amount")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return value, nil
}
