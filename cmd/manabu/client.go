package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hyperjump/manabu/internal/models"
	"github.com/hyperjump/manabu/internal/server"
)

// apiClient talks to a running manabu server on behalf of one user.
type apiClient struct {
	base   string
	user   string
	client *http.Client
}

func newAPIClient(serverURL, user string) *apiClient {
	return &apiClient{
		base:   strings.TrimSuffix(serverURL, "/") + "/api/v1",
		user:   user,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *apiClient) do(method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set(server.UserIDHeader, c.user)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		if errBody.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, errBody.Error)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *apiClient) search(q models.SearchQuery) (*models.SearchResponse, error) {
	params := url.Values{}
	params.Set("q", q.Query)
	if q.Page > 0 {
		params.Set("page", strconv.Itoa(q.Page))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Fuzzy {
		params.Set("fuzzy", "true")
	}
	var resp models.SearchResponse
	if err := c.do(http.MethodGet, "/documents/search?"+params.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) stats() (*models.DocumentStats, error) {
	var stats models.DocumentStats
	if err := c.do(http.MethodGet, "/documents/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *apiClient) watchDirectories() ([]string, error) {
	var resp struct {
		Directories []string `json:"directories"`
	}
	if err := c.do(http.MethodGet, "/watch/directories", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Directories, nil
}

func (c *apiClient) addWatchDirectory(path string) error {
	return c.do(http.MethodPost, "/watch/directories", map[string]string{"path": path}, nil)
}

func (c *apiClient) removeWatchDirectory(path string) error {
	return c.do(http.MethodDelete, "/watch/directories?path="+url.QueryEscape(path), nil, nil)
}
