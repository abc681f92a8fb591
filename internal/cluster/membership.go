// Package cluster holds the static cluster membership list and the
// self-detection rule the Coordinator uses to turn one rendezvous target
// into a local operation.
//
// Membership is deliberately immutable after construction: dynamic
// membership (nodes joining or leaving at runtime) is a spec non-goal.
package cluster

import (
	"net"
	"net/url"

	"github.com/sirupsen/logrus"
)

// Membership is the immutable, ordered set of peer URLs known at startup,
// together with which one (if any) is this node.
type Membership struct {
	urls   []string
	self   string
	selfOK bool
}

// New builds a Membership from the cluster's URL list and this node's own
// advertised URL. selfURL does not need to be byte-identical to an entry in
// urls — self-detection compares host/port, following the original Python
// implementation's `pydht/replicated.py` `is_our_url` rule, since matching
// URL strings exactly would break on trivial formatting differences
// (trailing slash, scheme case) between how a node is listed by peers and
// how it describes itself.
//
// If urls is non-empty and no entry matches selfURL by host/port, the node
// still starts (every rendezvous target is then treated as remote) but a
// warning is logged, per the spec's "warning condition" clause.
func New(urls []string, selfURL string, log *logrus.Entry) *Membership {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	m := &Membership{urls: append([]string(nil), urls...)}

	selfHost, selfPort, err := hostPort(selfURL)
	if err != nil {
		log.WithError(err).WithField("self", selfURL).Warn("cluster: cannot parse self URL")
	} else {
		for _, u := range urls {
			h, p, err := hostPort(u)
			if err != nil {
				continue
			}
			if h == selfHost && p == selfPort {
				m.self = u
				m.selfOK = true
				break
			}
		}
	}

	if len(urls) > 0 && !m.selfOK {
		log.WithField("self", selfURL).Warn("cluster: self URL not found in cluster membership; all rendezvous targets will be treated as remote")
	}

	return m
}

// URLs returns the full, static cluster membership list.
func (m *Membership) URLs() []string {
	return append([]string(nil), m.urls...)
}

// SelfURL returns the cluster-list entry matched as self, and whether a
// match was found.
func (m *Membership) SelfURL() (string, bool) {
	return m.self, m.selfOK
}

// Size returns max(len(urls), 1), the N the Coordinator's parameter
// discipline is checked against.
func (m *Membership) Size() int {
	if len(m.urls) == 0 {
		return 1
	}
	return len(m.urls)
}

func hostPort(rawURL string) (string, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", err
	}
	host, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		// No explicit port (e.g. "http://node1") — fall back to the whole
		// host component and the scheme's implicit port.
		host = u.Host
		port = defaultPort(u.Scheme)
	}
	return host, port, nil
}

func defaultPort(scheme string) string {
	switch scheme {
	case "https":
		return "443"
	default:
		return "80"
	}
}
