package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/fleetsnap/fleetsnap/internal/models"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Health() (map[string]interface{}, error) {
	var result map[string]interface{}
	if err := c.get("/health", &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) ListHosts() ([]string, error) {
	var hostnames []string
	if err := c.get("/hosts/", &hostnames); err != nil {
		return nil, err
	}
	return hostnames, nil
}

func (c *Client) LatestSnapshot(hostname string) (*models.SnapshotView, error) {
	var view models.SnapshotView
	path := "/process-snapshots/latest/?hostname=" + url.QueryEscape(hostname)
	if err := c.get(path, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

func (c *Client) ListSnapshots(hostname string, page, pageSize int) (*models.SnapshotPage, error) {
	var result models.SnapshotPage
	path := fmt.Sprintf("/process-snapshots/list/?hostname=%s&page=%d&page_size=%d",
		url.QueryEscape(hostname), page, pageSize)
	if err := c.get(path, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) GetSnapshot(id int64) (*models.SnapshotView, error) {
	var view models.SnapshotView
	if err := c.get(fmt.Sprintf("/process-snapshots/%d/", id), &view); err != nil {
		return nil, err
	}
	return &view, nil
}

func (c *Client) GetSeries(hostname string, limit int) ([]models.SeriesPoint, error) {
	var points []models.SeriesPoint
	path := fmt.Sprintf("/process-snapshots/series/?hostname=%s&limit=%d",
		url.QueryEscape(hostname), limit)
	if err := c.get(path, &points); err != nil {
		return nil, err
	}
	return points, nil
}

func (c *Client) get(path string, out interface{}) error {
	resp, err := c.httpClient.Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}
