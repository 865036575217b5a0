package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/fleetsnap/fleetsnap/internal/models"
)

// Client collects snapshots on an interval and reports them to a
// collector over HTTP.
type Client struct {
	collector  *SnapshotCollector
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) (*Client, error) {
	collector, err := NewSnapshotCollector()
	if err != nil {
		return nil, fmt.Errorf("create snapshot collector: %w", err)
	}

	return &Client{
		collector: collector,
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// Start reports one snapshot per tick until the context is cancelled.
// Individual report failures are logged and the loop keeps going; the
// next tick gets a fresh capture.
func (c *Client) Start(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			snapshotID, err := c.Report(ctx)
			if err != nil {
				log.Printf("Report failed: %v", err)
				continue
			}
			log.Printf("Reported snapshot %d", snapshotID)
		}
	}
}

// Report captures and submits one snapshot, returning the server-assigned
// snapshot id.
func (c *Client) Report(ctx context.Context) (int64, error) {
	report, err := c.collector.Collect()
	if err != nil {
		return 0, fmt.Errorf("collect snapshot: %w", err)
	}

	return c.Send(ctx, report)
}

// Send submits an already-built report.
func (c *Client) Send(ctx context.Context, report *models.Report) (int64, error) {
	body, err := json.Marshal(report)
	if err != nil {
		return 0, fmt.Errorf("encode report: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/process-snapshots/", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("post snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		SnapshotID int64 `json:"snapshot_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}

	return result.SnapshotID, nil
}
