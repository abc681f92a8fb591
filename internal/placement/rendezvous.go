// Package placement implements rendezvous hashing (highest random weight):
// replica selection by scoring every candidate against the key and taking
// the top-scoring ones, rather than the teacher's virtual-node hash ring.
//
// Unlike consistent hashing, rendezvous hashing needs no ring rebuild and no
// virtual nodes: each (key, url) pair is scored independently, so every node
// computes the identical ordering from identical membership without any
// shared, mutable ring state.
package placement

import (
	"bytes"
	"crypto/sha1"
	"sort"
)

// Local is the sentinel returned in place of the self URL in a Target list.
const Local = ""

// Target is one entry in a rendezvous ordering: either a peer URL (URL !=
// Local) or the local sentinel.
type Target struct {
	URL string
}

// IsLocal reports whether t refers to this node rather than a peer.
func (t Target) IsLocal() bool { return t.URL == Local }

type scored struct {
	url   string
	score [sha1.Size]byte
}

// Rendezvous computes the replica ordering for key over the given cluster
// membership. urls is the full, static cluster list (including selfURL, if
// selfURL is a cluster member); selfURL is used only to rewrite the winning
// URL into the Local sentinel. from must be between 1 and max(len(urls), 1);
// the caller (the Coordinator) is responsible for enforcing that bound.
//
// Empty urls is a single-node degenerate case: the only possible target is
// Local, and from must equal 1 (the Coordinator enforces this too, but
// Rendezvous itself never panics on it — it simply returns []Target{{Local}}
// if from >= 1).
func Rendezvous(key []byte, urls []string, selfURL string, from int) []Target {
	if len(urls) == 0 {
		if from < 1 {
			return nil
		}
		return []Target{{URL: Local}}
	}

	scoredURLs := make([]scored, len(urls))
	for i, u := range urls {
		scoredURLs[i] = scored{url: u, score: score(key, u)}
	}

	// Sort by descending score; ties are broken by URL byte order so that
	// placement is deterministic across nodes regardless of map/slice
	// iteration order upstream.
	sort.Slice(scoredURLs, func(i, j int) bool {
		cmp := bytes.Compare(scoredURLs[i].score[:], scoredURLs[j].score[:])
		if cmp != 0 {
			return cmp > 0
		}
		return scoredURLs[i].url < scoredURLs[j].url
	})

	n := from
	if n > len(scoredURLs) {
		n = len(scoredURLs)
	}

	targets := make([]Target, n)
	for i := 0; i < n; i++ {
		u := scoredURLs[i].url
		if u == selfURL {
			targets[i] = Target{URL: Local}
		} else {
			targets[i] = Target{URL: u}
		}
	}
	return targets
}

// score computes SHA1(key || url) as the 20-byte rendezvous weight.
func score(key []byte, url string) [sha1.Size]byte {
	h := sha1.New()
	h.Write(key)
	h.Write([]byte(url))
	var out [sha1.Size]byte
	copy(out[:], h.Sum(nil))
	return out
}
