// Package launcher spawns N kvnode shard processes plus an optional
// round-robin load balancer in front of them. This is the external
// collaborator spec.md §1 calls "out of scope" but still names as part of
// the repo's process boundary (§6) — kept thin, deliberately not part of
// the replicated storage core.
package launcher

import (
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync/atomic"
)

// Options configures a launched cluster.
type Options struct {
	// N is the number of kvnode shards to spawn.
	N int
	// BasePort is the first loopback port used; shards occupy
	// BasePort, BasePort+1, ... BasePort+N-1.
	BasePort int
	// DataDirPrefix, if non-empty, gives each shard its own
	// "<prefix>-<index>" data directory instead of an ephemeral temp dir.
	DataDirPrefix string
	// KvnodePath is the path to the kvnode binary to exec.
	KvnodePath string
	// LoadBalancerAddr, if non-empty, starts a round-robin reverse proxy
	// listening at this address in front of the N shards.
	LoadBalancerAddr string
}

// Cluster is a launched set of child kvnode processes (and, optionally, a
// load balancer) owned by this process.
type Cluster struct {
	procs []*exec.Cmd
	urls  []string
	lb    *http.Server
}

// URLs returns the self URLs assigned to each spawned shard.
func (c *Cluster) URLs() []string { return append([]string(nil), c.urls...) }

// Launch spawns opts.N kvnode child processes sharing one cluster list,
// and an optional load balancer in front of them.
func Launch(opts Options) (*Cluster, error) {
	if opts.N < 1 {
		return nil, fmt.Errorf("launcher: N must be >= 1, got %d", opts.N)
	}
	if opts.KvnodePath == "" {
		return nil, fmt.Errorf("launcher: KvnodePath is required")
	}

	urls := make([]string, opts.N)
	for i := 0; i < opts.N; i++ {
		urls[i] = fmt.Sprintf("http://localhost:%d", opts.BasePort+i)
	}
	clusterList := strings.Join(urls, ",")

	c := &Cluster{urls: urls}
	for i := 0; i < opts.N; i++ {
		addr := fmt.Sprintf(":%d", opts.BasePort+i)
		args := []string{
			"--self", urls[i],
			"--addr", addr,
			"--cluster", clusterList,
		}
		if opts.DataDirPrefix != "" {
			args = append(args, "--data-dir", fmt.Sprintf("%s-%d", opts.DataDirPrefix, i))
		}

		cmd := exec.Command(opts.KvnodePath, args...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			c.Shutdown()
			return nil, fmt.Errorf("launcher: start shard %d: %w", i, err)
		}
		c.procs = append(c.procs, cmd)
	}

	if opts.LoadBalancerAddr != "" {
		lb, err := newLoadBalancer(opts.LoadBalancerAddr, urls)
		if err != nil {
			c.Shutdown()
			return nil, fmt.Errorf("launcher: start load balancer: %w", err)
		}
		c.lb = lb
	}

	return c, nil
}

// Shutdown terminates every spawned child process and the load balancer, if
// any. Best-effort: errors from individual kills are not fatal to the
// overall shutdown.
func (c *Cluster) Shutdown() {
	for _, cmd := range c.procs {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}
	for _, cmd := range c.procs {
		_ = cmd.Wait()
	}
	if c.lb != nil {
		_ = c.lb.Close()
	}
}

// roundRobinProxy cycles through backend URLs on every request.
type roundRobinProxy struct {
	backends []*url.URL
	next     uint64
}

func newLoadBalancer(addr string, backendURLs []string) (*http.Server, error) {
	backends := make([]*url.URL, len(backendURLs))
	for i, b := range backendURLs {
		u, err := url.Parse(b)
		if err != nil {
			return nil, fmt.Errorf("parse backend url %q: %w", b, err)
		}
		backends[i] = u
	}
	rr := &roundRobinProxy{backends: backends}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		target := rr.pick()
		proxy := httputil.NewSingleHostReverseProxy(target)
		proxy.ServeHTTP(w, r)
	})

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{Handler: mux}
	go srv.Serve(ln)
	return srv, nil
}

func (rr *roundRobinProxy) pick() *url.URL {
	i := atomic.AddUint64(&rr.next, 1) - 1
	return rr.backends[i%uint64(len(rr.backends))]
}

// FreePort asks the OS for an unused loopback TCP port, for tests and
// Options.BasePort selection that must avoid collisions.
func FreePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(portStr)
}
