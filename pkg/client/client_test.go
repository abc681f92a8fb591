package client

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

func TestPutGetDeleteRoundTrip(t *testing.T) {
	store := make(map[string][]byte)
	var ts time.Time

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id")
		switch r.Method {
		case http.MethodPut:
			buf := make([]byte, 1024)
			n, _ := r.Body.Read(buf)
			store[id] = buf[:n]
			ts = time.Now().UTC()
			w.WriteHeader(http.StatusCreated)
		case http.MethodGet:
			v, ok := store[id]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("x-last-modified", record.FormatTimestamp(ts))
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(v)
		case http.MethodDelete:
			delete(store, id)
			w.WriteHeader(http.StatusAccepted)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)

	require.NoError(t, c.Put(context.Background(), "foo", []byte("bar"), 1, 1))

	v, err := c.Get(context.Background(), "foo", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("bar"), v.Data)

	require.NoError(t, c.Delete(context.Background(), "foo", 1, 1))

	_, err = c.Get(context.Background(), "foo", 1, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReplicasQueryParamOmittedWhenZero(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	_, _ = c.Get(context.Background(), "foo", 0, 0)
	assert.NotContains(t, gotQuery, "replicas")
}

func TestStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("I'm OK"))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	body, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "I'm OK", body)
}
