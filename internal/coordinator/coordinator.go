// Package coordinator implements the quorum engine: fan-out of a client
// request over the replicas chosen by placement.Rendezvous, completion-order
// collection, last-write-wins merge, and ack-of-from enforcement.
//
// This is the generalized shape of the teacher's Replicator.ReplicateWrite /
// CoordinateRead: per-replica goroutines reporting onto a channel, drained
// until a quorum is reached. Two things are generalized beyond what the
// teacher does: collection terminates the instant the ack threshold is hit
// (cancelling siblings) rather than waiting out a single shared timer, and
// cancelled-but-unfinished tasks are hedged off to a TaskWatcher instead of
// being abandoned against the results channel.
package coordinator

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"kvshard/internal/cluster"
	"kvshard/internal/placement"
	"kvshard/internal/record"
	"kvshard/internal/replica"
	"kvshard/internal/store"
)

// Sentinel business errors. internal/api maps these to status codes in one
// place; they are never retried within a single request.
var (
	ErrNotFound          = errors.New("coordinator: not found")
	ErrNotEnoughReplicas = errors.New("coordinator: not enough replicas acknowledged")
	ErrBadParameters     = errors.New("coordinator: bad ack/from parameters")
)

// NotFoundError is the error Get returns when the key has no live value.
// Timestamp, when non-nil, carries the timestamp of the winning tombstone so
// the HTTP layer can still emit x-last-modified on a 404.
type NotFoundError struct {
	Timestamp *time.Time
}

func (e *NotFoundError) Error() string { return ErrNotFound.Error() }
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// localStorage is the capability the Coordinator needs from the per-node
// store — deliberately narrower than store.LocalStore's full surface, per
// the interface-abstraction design note: the HTTP handler depends on a
// storage capability, the Coordinator depends on this one, neither
// references the other's concrete type.
type localStorage interface {
	Get(key []byte) (record.Record, error)
	Upsert(key []byte, r record.Record) error
}

// replicaDialer is the capability the Coordinator needs from a peer
// connection; *replica.Client satisfies it.
type replicaDialer interface {
	Get(ctx context.Context, key []byte) (record.Record, error)
	Put(ctx context.Context, key, value []byte, ts time.Time) error
	Delete(ctx context.Context, key []byte, ts time.Time) error
}

// Coordinator is the per-process quorum engine. One Coordinator is wired per
// node; it owns the shared outbound replica connections and the TaskWatcher
// for the process lifetime.
type Coordinator struct {
	local      localStorage
	membership *cluster.Membership
	watcher    *TaskWatcher
	log        *logrus.Entry

	// httpClient is the single outbound HTTP client the process shares
	// across every peer it dials, per spec.md §5/§9 ("exactly one
	// outbound HTTP client per process"). Every replica.Client this
	// Coordinator builds borrows this client rather than constructing
	// its own.
	httpClient *http.Client

	mu      sync.Mutex
	dialers map[string]replicaDialer
}

// New builds a Coordinator. httpClient is the single shared outbound client
// used for every peer dial; if nil, one is built from dialTimeout.
// dialTimeout bounds each replica HTTP call when httpClient is nil; a dead
// peer must never stall a quorum, so the client's timeout must be finite.
func New(local localStorage, membership *cluster.Membership, watcher *TaskWatcher, httpClient *http.Client, dialTimeout time.Duration, log *logrus.Entry) *Coordinator {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if httpClient == nil {
		httpClient = replica.NewHTTPClient(dialTimeout)
	}
	return &Coordinator{
		local:      local,
		membership: membership,
		watcher:    watcher,
		log:        log,
		httpClient: httpClient,
		dialers:    make(map[string]replicaDialer),
	}
}

func (c *Coordinator) dialerFor(url string) replicaDialer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.dialers[url]; ok {
		return d
	}
	d := replica.New(url, c.httpClient)
	c.dialers[url] = d
	return d
}

// checkParams enforces 1 ≤ from ≤ max(N,1) and 1 ≤ ack ≤ from.
func (c *Coordinator) checkParams(ack, from int) error {
	n := c.membership.Size()
	if from < 1 || from > n {
		return ErrBadParameters
	}
	if ack < 1 || ack > from {
		return ErrBadParameters
	}
	return nil
}

func (c *Coordinator) targets(key []byte, from int, replicated bool) []placement.Target {
	if replicated {
		return []placement.Target{{URL: placement.Local}}
	}
	selfURL, _ := c.membership.SelfURL()
	return placement.Rendezvous(key, c.membership.URLs(), selfURL, from)
}

// outcome is the uniform per-replica result for both get and upsert tasks.
type outcome struct {
	present bool
	absent  bool
	rec     record.Record
	err     error
}

// Get performs a quorum read. replicated short-circuits to a single local
// lookup, per §4.4 — that is the terminal hop and never fans out further.
func (c *Coordinator) Get(ctx context.Context, key []byte, ack, from int, replicated bool) (record.Record, error) {
	if err := c.checkParams(ack, from); err != nil {
		return record.Record{}, err
	}

	targets := c.targets(key, from, replicated)
	results, cancel := c.fanOut(ctx, targets, func(ctx context.Context, t placement.Target) outcome {
		if t.IsLocal() {
			r, err := c.local.Get(key)
			if err != nil {
				return c.classifyLocalGet(err)
			}
			return outcome{present: true, rec: r}
		}
		r, err := c.dialerFor(t.URL).Get(ctx, key)
		if err != nil {
			if errors.Is(err, replica.ErrNotFound) {
				return outcome{absent: true}
			}
			return outcome{err: err}
		}
		return outcome{present: true, rec: r}
	})

	var presents []record.Record
	counted := 0
	remaining := len(targets)

	for remaining > 0 && counted < ack {
		res := <-results
		remaining--
		switch {
		case res.err != nil:
			// Transport/I/O failure: swallowed, lowers remaining capacity only.
		case res.absent:
			counted++
		case res.present:
			counted++
			presents = append(presents, res.rec)
		}
	}

	cancel()
	c.watcher.Watch(remaining, results)

	if counted < ack {
		return record.Record{}, ErrNotEnoughReplicas
	}
	if len(presents) == 0 {
		return record.Record{}, &NotFoundError{}
	}

	winner := presents[0]
	for _, r := range presents[1:] {
		if winner.Before(r) {
			winner = r
		}
	}
	if winner.Tombstone {
		ts := winner.Timestamp
		return record.Record{}, &NotFoundError{Timestamp: &ts}
	}
	return winner, nil
}

func (c *Coordinator) classifyLocalGet(err error) outcome {
	if errors.Is(err, store.ErrNotFound) {
		return outcome{absent: true}
	}
	return outcome{err: err}
}

// Put writes value at key across a quorum. If ts is nil the coordinator
// stamps now once and uses that single timestamp for every replica.
func (c *Coordinator) Put(ctx context.Context, key, value []byte, ts *time.Time, ack, from int, replicated bool) (time.Time, error) {
	stamp := resolveTimestamp(ts)
	return stamp, c.upsert(ctx, key, record.NewValue(value, stamp), ack, from, replicated)
}

// Delete writes a tombstone at key across a quorum.
func (c *Coordinator) Delete(ctx context.Context, key []byte, ts *time.Time, ack, from int, replicated bool) (time.Time, error) {
	stamp := resolveTimestamp(ts)
	return stamp, c.upsert(ctx, key, record.NewTombstone(stamp), ack, from, replicated)
}

func resolveTimestamp(ts *time.Time) time.Time {
	if ts != nil {
		return *ts
	}
	return time.Now().UTC()
}

func (c *Coordinator) upsert(ctx context.Context, key []byte, r record.Record, ack, from int, replicated bool) error {
	if err := c.checkParams(ack, from); err != nil {
		return err
	}

	targets := c.targets(key, from, replicated)
	results, cancel := c.fanOut(ctx, targets, func(ctx context.Context, t placement.Target) outcome {
		if t.IsLocal() {
			if err := c.local.Upsert(key, r); err != nil {
				return outcome{err: err}
			}
			return outcome{present: true}
		}
		var err error
		if r.Tombstone {
			err = c.dialerFor(t.URL).Delete(ctx, key, r.Timestamp)
		} else {
			err = c.dialerFor(t.URL).Put(ctx, key, r.Value, r.Timestamp)
		}
		if err != nil {
			return outcome{err: err}
		}
		return outcome{present: true}
	})

	counted := 0
	remaining := len(targets)
	for remaining > 0 && counted < ack {
		res := <-results
		remaining--
		if res.err == nil {
			counted++
		}
	}

	cancel()
	c.watcher.Watch(remaining, results)

	if counted < ack {
		return ErrNotEnoughReplicas
	}
	return nil
}

// fanOut launches one goroutine per target before any is awaited, each
// reporting its outcome onto a channel buffered to len(targets) so a
// cancelled task's eventual send never blocks once the caller stops
// reading. The returned cancel func, when called, cancels every
// still-running sibling task via their shared context.
func (c *Coordinator) fanOut(ctx context.Context, targets []placement.Target, do func(context.Context, placement.Target) outcome) (<-chan outcome, context.CancelFunc) {
	taskCtx, cancel := context.WithCancel(ctx)
	results := make(chan outcome, len(targets))

	for _, t := range targets {
		t := t
		go func() {
			results <- do(taskCtx, t)
		}()
	}
	return results, cancel
}
