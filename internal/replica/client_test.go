package replica

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvshard/internal/record"
)

func TestGetReturnsValueRecord(t *testing.T) {
	ts := time.Now().UTC()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "yes", r.Header.Get("x-replicated"))
		w.Header().Set("x-last-modified", record.FormatTimestamp(ts))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("bar"))
	}))
	defer srv.Close()

	c := New(srv.URL, NewHTTPClient(time.Second))
	got, err := c.Get(context.Background(), []byte("foo"))
	require.NoError(t, err)
	assert.Equal(t, []byte("bar"), got.Value)
	assert.False(t, got.Tombstone)
	assert.True(t, ts.Equal(got.Timestamp))
}

func TestGetWithoutTimestampHeaderDefaultsToNow(t *testing.T) {
	before := time.Now().UTC()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("bar"))
	}))
	defer srv.Close()

	c := New(srv.URL, NewHTTPClient(time.Second))
	got, err := c.Get(context.Background(), []byte("foo"))
	require.NoError(t, err)
	assert.Equal(t, []byte("bar"), got.Value)
	assert.False(t, got.Tombstone)
	assert.False(t, got.Timestamp.Before(before))
	assert.False(t, got.Timestamp.After(time.Now().UTC()))
}

func TestGetMissingReturnsErrNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, NewHTTPClient(time.Second))
	_, err := c.Get(context.Background(), []byte("absent"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetTombstoneReturnsTombstoneRecordNotError(t *testing.T) {
	ts := time.Now().UTC()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-last-modified", record.FormatTimestamp(ts))
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, NewHTTPClient(time.Second))
	got, err := c.Get(context.Background(), []byte("deleted"))
	require.NoError(t, err)
	assert.True(t, got.Tombstone)
	assert.True(t, ts.Equal(got.Timestamp))
}

func TestPutSendsReplicatedHeaderAndTimestamp(t *testing.T) {
	ts := time.Now().UTC()
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "yes", r.Header.Get("x-replicated"))
		assert.Equal(t, record.FormatTimestamp(ts), r.Header.Get("x-last-modified"))
		buf := make([]byte, 3)
		n, _ := r.Body.Read(buf)
		gotBody = buf[:n]
		w.Header().Set("x-last-modified", record.FormatTimestamp(ts))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := New(srv.URL, NewHTTPClient(time.Second))
	err := c.Put(context.Background(), []byte("k"), []byte("val"), ts)
	require.NoError(t, err)
	assert.Equal(t, []byte("val"), gotBody)
}

func TestDeleteReplicasQueryParamNeverSent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.Query().Get("replicas"))
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, NewHTTPClient(time.Second))
	err := c.Delete(context.Background(), []byte("k"), time.Now().UTC())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetRetriesOn5xxThenSucceeds(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("bar"))
	}))
	defer srv.Close()

	c := New(srv.URL, NewHTTPClient(time.Second))
	got, err := c.Get(context.Background(), []byte("foo"))
	require.NoError(t, err)
	assert.Equal(t, []byte("bar"), got.Value)
	assert.Equal(t, 2, calls)
}

func TestGet4xxIsNotRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(srv.URL, NewHTTPClient(time.Second))
	_, err := c.Get(context.Background(), []byte("foo"))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 1, calls)
}

func TestUnexpectedStatusIsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c := New(srv.URL, NewHTTPClient(time.Second))
	_, err := c.Get(context.Background(), []byte("k"))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
}

func TestBackoffGrowsThenCaps(t *testing.T) {
	assert.Equal(t, time.Duration(0), Backoff(0, time.Second))
	first := Backoff(1, time.Second)
	second := Backoff(2, time.Second)
	assert.True(t, second > first)
	assert.LessOrEqual(t, Backoff(20, 50*time.Millisecond), 50*time.Millisecond)
}
