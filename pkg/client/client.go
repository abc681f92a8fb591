// Package client is the Go SDK for talking to a kvshard node's public
// /v0/entity API. It is a single-base-URL wrapper like the teacher's
// internal/client.Client, adapted to raw-byte bodies and the ack/from
// query parameter instead of a JSON envelope.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"kvshard/internal/record"
)

// ErrNotFound is returned by Get for any 404 from the server, with or
// without an x-last-modified header: a deleted key reads the same as one
// that was never written.
var ErrNotFound = fmt.Errorf("client: key not found")

// APIError carries a non-2xx response the client could not otherwise
// interpret.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("client: server returned HTTP %d: %s", e.Status, e.Body)
}

// Client talks to a single kvshard node. That node is responsible for
// coordinating any replication; the client itself has no cluster knowledge.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client against baseURL (e.g. "http://localhost:8080").
func New(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Value is the result of a successful Get: the raw bytes and their
// last-modification timestamp.
type Value struct {
	Data      []byte
	UpdatedAt time.Time
}

// Get retrieves the value stored at key. ack and from select the quorum
// parameters; 0 for both lets the server apply its ack=from=1 default.
func (c *Client) Get(ctx context.Context, key string, ack, from int) (*Value, error) {
	req, err := c.newRequest(ctx, http.MethodGet, key, ack, from, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: GET request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("client: read response body: %w", err)
	}
	ts, err := record.ParseTimestamp(resp.Header.Get("x-last-modified"))
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	return &Value{Data: body, UpdatedAt: ts}, nil
}

// Put stores value at key, requiring ack of from replicas to acknowledge.
func (c *Client) Put(ctx context.Context, key string, value []byte, ack, from int) error {
	req, err := c.newRequest(ctx, http.MethodPut, key, ack, from, value)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: PUT request: %w", err)
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// Delete removes key, requiring ack of from replicas to acknowledge.
func (c *Client) Delete(ctx context.Context, key string, ack, from int) error {
	req, err := c.newRequest(ctx, http.MethodDelete, key, ack, from, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: DELETE request: %w", err)
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// Status pings GET /v0/status.
func (c *Client) Status(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v0/status", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("client: status request: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return "", err
	}
	body, err := io.ReadAll(resp.Body)
	return string(body), err
}

func (c *Client) newRequest(ctx context.Context, method, key string, ack, from int, body []byte) (*http.Request, error) {
	q := url.Values{}
	q.Set("id", key)
	if ack > 0 && from > 0 {
		q.Set("replicas", fmt.Sprintf("%d/%d", ack, from))
	}
	u := fmt.Sprintf("%s/v0/entity?%s", c.baseURL, q.Encode())

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	return req, nil
}

// checkStatus converts any non-2xx response into an APIError.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	return &APIError{Status: resp.StatusCode, Body: string(body)}
}
