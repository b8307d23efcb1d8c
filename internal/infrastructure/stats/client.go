package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Endpoint names, used as metric labels
const (
	EndpointMempool   = "mempool"
	EndpointTipHeight = "tip_height"
	EndpointHashrate  = "hashrate"
)

// ClientConfig configures the network stats HTTP client
type ClientConfig struct {
	BaseURL       string
	MempoolPath   string
	TipHeightPath string
	HashratePath  string
	Timeout       time.Duration
}

// MempoolInfo is the mempool summary
type MempoolInfo struct {
	Count      int64    `json:"count"`
	AvgFeeRate *float64 `json:"avgFee_10"`
}

type hashrateResponse struct {
	CurrentHashrate float64 `json:"currentHashrate"`
}

// Client fetches network-level statistics from a mempool.space style API
type Client struct {
	config     ClientConfig
	httpClient *http.Client
}

// NewClient creates a new stats client
func NewClient(config ClientConfig) *Client {
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// Mempool fetches the mempool transaction count and average fee rate
func (c *Client) Mempool(ctx context.Context) (*MempoolInfo, error) {
	var info MempoolInfo
	if err := c.getJSON(ctx, c.config.MempoolPath, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// TipHeight fetches the height of the current chain tip
func (c *Client) TipHeight(ctx context.Context) (int64, error) {
	body, err := c.get(ctx, c.config.TipHeightPath)
	if err != nil {
		return 0, err
	}
	height, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse tip height: %w", err)
	}
	return height, nil
}

// Hashrate fetches the current network hashrate. A zero value is reported as an error.
func (c *Client) Hashrate(ctx context.Context) (float64, error) {
	var resp hashrateResponse
	if err := c.getJSON(ctx, c.config.HashratePath, &resp); err != nil {
		return 0, err
	}
	if resp.CurrentHashrate <= 0 {
		return 0, fmt.Errorf("response has no current hashrate")
	}
	return resp.CurrentHashrate, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	body, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	url := strings.TrimRight(c.config.BaseURL, "/") + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, path)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return body, nil
}
