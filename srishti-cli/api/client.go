package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to a srishti node's HTTP API.
type Client struct {
	BaseURL string
	http    *http.Client
}

// NewClient targets a node API at addr (host:port).
func NewClient(addr string) *Client {
	return &Client{
		BaseURL: "http://" + addr,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// GetJSON fetches path and decodes the JSON response into out.
func (c *Client) GetJSON(path string, out interface{}) error {
	resp, err := c.http.Get(c.BaseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("node returned %s: %s", resp.Status, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// PostJSON sends a JSON body to path, with an optional bearer token.
func (c *Client) PostJSON(path string, payload interface{}, token string, out interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, c.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("node returned %s: %s", resp.Status, string(body))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
