// Package client provides a Go SDK for talking to the distributed KV store.
//
// It hides HTTP details, JSON encoding/decoding, and status-code handling
// behind a small typed API. The client talks to exactly one node; that
// node coordinates replication and talks to the rest of the cluster — the
// client never does.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client represents a connection to ONE KV node.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new Client. timeout protects against hanging forever; a
// zero value defaults to 10s.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// WriteResult mirrors the PUT/DELETE response body.
type WriteResult struct {
	Success          bool                     `json:"success"`
	Key              string                   `json:"key"`
	ReplicaNodes     []string                 `json:"replicaNodes"`
	SuccessfulWrites int                      `json:"successfulWrites"`
	QuorumSize       int                      `json:"quorumSize"`
	QuorumAchieved   bool                     `json:"quorumAchieved"`
	WriteResults     []map[string]interface{} `json:"writeResults"`
}

// GetResponse mirrors the GET /data/{key} response body.
type GetResponse struct {
	Value          json.RawMessage `json:"value"`
	Metadata       Metadata        `json:"metadata"`
	ReadResults    int             `json:"readResults"`
	QuorumAchieved bool            `json:"quorumAchieved"`
}

// Metadata mirrors the nested metadata object in GetResponse.
type Metadata struct {
	Version   uint64 `json:"version"`
	Timestamp int64  `json:"timestamp"`
	NodeID    string `json:"nodeId"`
}

// Put stores key=value in the cluster via PUT /data/{key}.
func (c *Client) Put(ctx context.Context, key string, value json.RawMessage) (*WriteResult, error) {
	body, err := json.Marshal(map[string]json.RawMessage{"value": value})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		fmt.Sprintf("%s/data/%s", c.baseURL, key), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("PUT request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var result WriteResult
	return &result, json.NewDecoder(resp.Body).Decode(&result)
}

// Get retrieves the value for key via GET /data/{key}. A 404 is converted
// to ErrNotFound.
func (c *Client) Get(ctx context.Context, key string) (*GetResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/data/%s", c.baseURL, key), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var result GetResponse
	return &result, json.NewDecoder(resp.Body).Decode(&result)
}

// Delete removes key from the cluster via DELETE /data/{key}.
func (c *Client) Delete(ctx context.Context, key string) (*WriteResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		fmt.Sprintf("%s/data/%s", c.baseURL, key), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("DELETE request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var result WriteResult
	return &result, json.NewDecoder(resp.Body).Decode(&result)
}

// AddNode registers a new node into the cluster via POST /cluster/nodes.
func (c *Client) AddNode(ctx context.Context, nodeID, address string) error {
	body, _ := json.Marshal(map[string]string{"nodeId": nodeID, "address": address})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/cluster/nodes", c.baseURL), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// ─── Errors ───────────────────────────────────────────────────────────────────

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = fmt.Errorf("key not found")

// APIError carries the HTTP status and the error message from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

// checkStatus converts a non-2xx HTTP response into an *APIError.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	var apiErr struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Error
	if msg == "" {
		msg = string(body)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
