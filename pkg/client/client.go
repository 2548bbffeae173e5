package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client talks to a running patrolmgr daemon over its HTTP API.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8080/api",
		Timeout: 15 * time.Second,
	}
}

func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultConfig().BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable checks whether the daemon answers on its status endpoint.
func (c *Client) IsReachable(ctx context.Context) bool {
	var out map[string]string
	return c.get(ctx, "/status", &out) == nil
}

func (c *Client) CreateProject(ctx context.Context, name, description string) (Project, error) {
	var out Project
	err := c.post(ctx, "/projects", map[string]string{
		"name": name, "description": description,
	}, &out)
	return out, err
}

func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var out []Project
	err := c.get(ctx, "/projects", &out)
	return out, err
}

func (c *Client) DeleteProject(ctx context.Context, id int64) error {
	return c.delete(ctx, "/projects/"+itoa(id))
}

func (c *Client) CreateSearch(ctx context.Context, req CreateSearchRequest) (Search, error) {
	var out Search
	err := c.post(ctx, "/searches", req, &out)
	return out, err
}

func (c *Client) ListSearches(ctx context.Context, projectID int64) ([]Search, error) {
	var out []Search
	err := c.get(ctx, "/projects/"+itoa(projectID)+"/searches", &out)
	return out, err
}

func (c *Client) DeleteSearch(ctx context.Context, id int64) error {
	return c.delete(ctx, "/searches/"+itoa(id))
}

func (c *Client) StartSearch(ctx context.Context, id int64) (StatusResponse, error) {
	var out StatusResponse
	err := c.post(ctx, "/searches/"+itoa(id)+"/start", nil, &out)
	return out, err
}

func (c *Client) StopSearch(ctx context.Context, id int64, wait time.Duration) (StatusResponse, error) {
	path := "/searches/" + itoa(id) + "/stop"
	if wait > 0 {
		path += "?wait=" + url.QueryEscape(wait.String())
	}
	var out StatusResponse
	err := c.post(ctx, path, nil, &out)
	return out, err
}

func (c *Client) SearchStatus(ctx context.Context, id int64) (StatusResponse, error) {
	var out StatusResponse
	err := c.get(ctx, "/searches/"+itoa(id)+"/status", &out)
	return out, err
}

func (c *Client) AllStatuses(ctx context.Context) (map[string]string, error) {
	var out map[string]string
	err := c.get(ctx, "/status", &out)
	return out, err
}

func (c *Client) Results(ctx context.Context, searchID int64, limit, offset int) (ResultsPage, error) {
	path := fmt.Sprintf("/searches/%d/results?limit=%d&offset=%d", searchID, limit, offset)
	var out ResultsPage
	err := c.get(ctx, path, &out)
	return out, err
}

func (c *Client) RecentResults(ctx context.Context, limit int) ([]Result, error) {
	var out []Result
	err := c.get(ctx, fmt.Sprintf("/results/recent?limit=%d", limit), &out)
	return out, err
}

// --- transport helpers ---

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) delete(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&e); err == nil && e.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", method, path, e.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }
