package coordinator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvshard/internal/cluster"
	"kvshard/internal/record"
	"kvshard/internal/replica"
	"kvshard/internal/store"
)

// peerStore is an in-memory stand-in backing an httptest.Server that plays
// the role of a remote replica, so coordinator tests exercise S3/S4/S5/S6
// without a real cluster.
type peerStore struct {
	mu   sync.Mutex
	vals map[string]recPair
	up   bool
}

type recPair struct {
	value     []byte
	ts        time.Time
	tombstone bool
}

func newPeer(up bool) (*peerStore, *httptest.Server) {
	p := &peerStore{vals: make(map[string]recPair), up: up}
	srv := httptest.NewServer(http.HandlerFunc(p.handle))
	return p, srv
}

func (p *peerStore) handle(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.up {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	key := r.URL.Query().Get("id")

	switch r.Method {
	case http.MethodGet:
		rp, ok := p.vals[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if rp.tombstone {
			w.Header().Set("x-last-modified", record.FormatTimestamp(rp.ts))
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("x-last-modified", record.FormatTimestamp(rp.ts))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(rp.value)
	case http.MethodPut:
		ts := parseHeader(r.Header.Get("x-last-modified"))
		buf := make([]byte, 1<<16)
		n, _ := r.Body.Read(buf)
		p.vals[key] = recPair{value: append([]byte(nil), buf[:n]...), ts: ts}
		w.WriteHeader(http.StatusCreated)
	case http.MethodDelete:
		ts := parseHeader(r.Header.Get("x-last-modified"))
		p.vals[key] = recPair{tombstone: true, ts: ts}
		w.WriteHeader(http.StatusAccepted)
	}
}

func parseHeader(v string) time.Time {
	ts, _ := record.ParseTimestamp(v)
	return ts
}

func TestDialersShareOneHTTPClient(t *testing.T) {
	_, srvA := newPeer(true)
	defer srvA.Close()
	_, srvB := newPeer(true)
	defer srvB.Close()

	c := newTestCoordinator(t, []string{srvA.URL, srvB.URL}, "http://self")
	da := c.dialerFor(srvA.URL).(*replica.Client)
	db := c.dialerFor(srvB.URL).(*replica.Client)

	assert.Same(t, c.httpClient, da.HTTPClient())
	assert.Same(t, c.httpClient, db.HTTPClient())
}

func newTestCoordinator(t *testing.T, peerURLs []string, selfURL string) *Coordinator {
	t.Helper()
	s, err := store.Open(store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	m := cluster.New(peerURLs, selfURL, nil)
	w := NewTaskWatcher(nil)
	t.Cleanup(w.Shutdown)
	return New(s, m, w, nil, time.Second, nil)
}

func TestQuorumPutSucceedsWithAllPeersUp(t *testing.T) {
	_, srvB := newPeer(true)
	defer srvB.Close()
	_, srvC := newPeer(true)
	defer srvC.Close()

	urls := []string{"http://self", srvB.URL, srvC.URL}
	c := newTestCoordinator(t, urls, "http://self")

	ts := time.Now().UTC()
	stamped, err := c.Put(context.Background(), []byte("k1"), []byte("hello"), &ts, 2, 3, false)
	require.NoError(t, err)
	assert.True(t, ts.Equal(stamped))
}

func TestQuorumFailureOnGetWhenPeersDown(t *testing.T) {
	_, srvB := newPeer(false)
	defer srvB.Close()
	_, srvC := newPeer(false)
	defer srvC.Close()

	urls := []string{"http://self", srvB.URL, srvC.URL}
	c := newTestCoordinator(t, urls, "http://self")

	_, err := c.Get(context.Background(), []byte("k1"), 2, 3, false)
	assert.ErrorIs(t, err, ErrNotEnoughReplicas)
}

func TestLWWTombstoneWinsOverEarlierWrite(t *testing.T) {
	_, srvB := newPeer(true)
	defer srvB.Close()
	_, srvC := newPeer(true)
	defer srvC.Close()

	urls := []string{"http://self", srvB.URL, srvC.URL}
	c := newTestCoordinator(t, urls, "http://self")

	t1 := time.Now().UTC()
	t2 := t1.Add(time.Second)

	_, err := c.Put(context.Background(), []byte("k"), []byte("v1"), &t1, 3, 3, false)
	require.NoError(t, err)
	_, err = c.Delete(context.Background(), []byte("k"), &t2, 3, 3, false)
	require.NoError(t, err)

	_, err = c.Get(context.Background(), []byte("k"), 2, 3, false)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	require.NotNil(t, nf.Timestamp)
	assert.True(t, t2.Equal(*nf.Timestamp))
}

func TestReplicatedModeShortCircuitsToLocal(t *testing.T) {
	_, srvB := newPeer(true)
	defer srvB.Close()

	urls := []string{"http://self", srvB.URL}
	c := newTestCoordinator(t, urls, "http://self")

	ts := time.Now().UTC()
	_, err := c.Put(context.Background(), []byte("k"), []byte("v"), &ts, 1, 1, true)
	require.NoError(t, err)

	got, err := c.Get(context.Background(), []byte("k"), 1, 1, true)
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got.Value)
}

func TestBadParametersRejected(t *testing.T) {
	c := newTestCoordinator(t, []string{"http://self", "http://b"}, "http://self")

	_, err := c.Get(context.Background(), []byte("k"), 3, 2, false)
	assert.ErrorIs(t, err, ErrBadParameters)

	_, err = c.Get(context.Background(), []byte("k"), 0, 2, false)
	assert.ErrorIs(t, err, ErrBadParameters)
}

func TestGetNotFoundWhenEveryReplyIsAbsent(t *testing.T) {
	_, srvB := newPeer(true)
	defer srvB.Close()

	urls := []string{"http://self", srvB.URL}
	c := newTestCoordinator(t, urls, "http://self")

	_, err := c.Get(context.Background(), []byte("never-written"), 2, 2, false)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Nil(t, nf.Timestamp)
}
