// Package replica implements the internal replication hop: the HTTP client
// the Coordinator uses to ask one specific peer to perform a read or write
// on its own LocalStore, marked so the peer does not itself fan the request
// back out.
package replica

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"time"

	"kvshard/internal/record"
)

// maxRetries bounds the internal hop's own retry loop, mirroring the
// teacher's sendReplicateRequest (maxRetries=3): a transport error or 5xx
// gets a bounded number of attempts with exponential backoff between them
// before giving up and surfacing the failure to the Coordinator.
const maxRetries = 3

// ErrNotFound mirrors store.ErrNotFound across the wire: the peer had no
// record at all for the key (as opposed to a present tombstone, which comes
// back as a normal successful Get with Record.Tombstone set).
var ErrNotFound = fmt.Errorf("replica: key not found")

// APIError carries a non-2xx, non-404 HTTP response from a peer.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("replica: peer returned HTTP %d: %s", e.Status, e.Body)
}

// Client talks to exactly one peer node's internal replicated surface. It
// never itself retries past its own timeout budget — the Coordinator decides
// how many replicas to contact and how long to wait overall.
//
// httpClient is shared across every peer Client in the process (per
// spec.md §5/§9: "exactly one outbound HTTP client per process") — New
// never constructs one of its own, it only ever borrows the one the caller
// passes in.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client for the peer at baseURL (e.g. "http://node-b:8002"),
// using httpClient for every request. httpClient must be shared by the
// caller across all peers, not constructed fresh per Client.
func New(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

// NewHTTPClient builds the single outbound *http.Client a process shares
// across every peer Client it constructs.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout == 0 {
		timeout = 3 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// HTTPClient returns the *http.Client this Client was built with, so
// callers can confirm peer clients share one process-wide instance.
func (c *Client) HTTPClient() *http.Client { return c.httpClient }

// Get fetches key's current record from the peer, replicated (not fanned
// out further by the peer).
func (c *Client) Get(ctx context.Context, key []byte) (record.Record, error) {
	return c.do(ctx, http.MethodGet, key, nil, time.Time{})
}

// Put writes value at key with timestamp ts, replicated.
func (c *Client) Put(ctx context.Context, key, value []byte, ts time.Time) error {
	_, err := c.do(ctx, http.MethodPut, key, value, ts)
	return err
}

// Delete writes a tombstone at key with timestamp ts, replicated.
func (c *Client) Delete(ctx context.Context, key []byte, ts time.Time) error {
	_, err := c.do(ctx, http.MethodDelete, key, nil, ts)
	return err
}

// do issues the request, retrying transport failures and 5xx responses with
// a capped exponential backoff between attempts, at most maxRetries attempts
// in all.
// A 4xx response or a definitive ErrNotFound is never retried — those are
// not transient.
func (c *Client) do(ctx context.Context, method string, key, body []byte, ts time.Time) (record.Record, error) {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return record.Record{}, ctx.Err()
			case <-time.After(Backoff(attempt, 200*time.Millisecond)):
			}
		}

		req, err := c.newRequest(ctx, method, key, body, ts)
		if err != nil {
			return record.Record{}, err
		}

		rec, err := c.doEntity(req)
		if err == nil {
			return rec, nil
		}
		if errors.Is(err, ErrNotFound) {
			return record.Record{}, err
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status < 500 {
			return record.Record{}, err
		}
		lastErr = err
	}
	return record.Record{}, fmt.Errorf("replica: giving up after %d attempts: %w", maxRetries, lastErr)
}

func (c *Client) newRequest(ctx context.Context, method string, key, body []byte, ts time.Time) (*http.Request, error) {
	u := fmt.Sprintf("%s/v0/entity?id=%s", c.baseURL, url.QueryEscape(string(key)))

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("replica: build request: %w", err)
	}
	// replicas is deliberately never forwarded: the peer must treat this as
	// a single-node operation against its own LocalStore, not re-fan-out.
	req.Header.Set("x-replicated", "yes")
	if !ts.IsZero() {
		req.Header.Set("x-last-modified", record.FormatTimestamp(ts))
	}
	return req, nil
}

// doEntity performs the request and interprets the /v0/entity response
// envelope shared by client and replicated requests alike.
func (c *Client) doEntity(req *http.Request) (record.Record, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return record.Record{}, fmt.Errorf("replica: request to %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		ts := time.Now().UTC()
		if lm := resp.Header.Get("x-last-modified"); lm != "" {
			parsed, err := record.ParseTimestamp(lm)
			if err != nil {
				return record.Record{}, fmt.Errorf("replica: %w", err)
			}
			ts = parsed
		}
		return record.NewValue(body, ts), nil
	case http.StatusNotFound:
		// A 404 with x-last-modified set is a tombstone, not absence: the
		// peer is reporting a deleted record so the Coordinator can still
		// merge it by timestamp against other replicas' responses.
		if lm := resp.Header.Get("x-last-modified"); lm != "" {
			ts, err := record.ParseTimestamp(lm)
			if err != nil {
				return record.Record{}, fmt.Errorf("replica: %w", err)
			}
			return record.NewTombstone(ts), nil
		}
		return record.Record{}, ErrNotFound
	default:
		return record.Record{}, &APIError{Status: resp.StatusCode, Body: string(body)}
	}
}

// Backoff returns the delay before retry attempt (0-indexed), capped at
// maxDelay. It mirrors the teacher's exponential-backoff shape but is kept
// short in absolute terms: a replication hop budget is a fraction of the
// client-facing request's own deadline, so unbounded 2^n growth would blow
// through the Coordinator's overall timeout after two or three peers retry.
func Backoff(attempt int, maxDelay time.Duration) time.Duration {
	if attempt <= 0 {
		return 0
	}
	d := time.Duration(math.Pow(2, float64(attempt-1))) * 20 * time.Millisecond
	if d > maxDelay {
		return maxDelay
	}
	return d
}
