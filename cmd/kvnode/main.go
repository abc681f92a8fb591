// cmd/kvnode is the single-node entrypoint: one process serving the kvshard
// HTTP API and participating as a replica for any key placed on it.
//
// Example — three-node cluster, one process each:
//
//	kvnode --self http://localhost:8001 --addr :8001 \
//	       --cluster http://localhost:8001,http://localhost:8002,http://localhost:8003
//	kvnode --self http://localhost:8002 --addr :8002 \
//	       --cluster http://localhost:8001,http://localhost:8002,http://localhost:8003
//	kvnode --self http://localhost:8003 --addr :8003 \
//	       --cluster http://localhost:8001,http://localhost:8002,http://localhost:8003
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"kvshard/internal/api"
	"kvshard/internal/cluster"
	"kvshard/internal/config"
	"kvshard/internal/coordinator"
	"kvshard/internal/replica"
	"kvshard/internal/store"
)

func main() {
	log := logrus.NewEntry(logrus.StandardLogger())

	cmd := &cobra.Command{
		Use:   "kvnode",
		Short: "Single node of a sharded, replicated key-value store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, log)
		},
	}

	cmd.Flags().String("self", "", "this node's own advertised URL, used for rendezvous self-detection")
	cmd.Flags().String("addr", ":8080", "listen address")
	cmd.Flags().String("data-dir", "", "on-disk data directory (empty: a fresh temp dir, removed on clean shutdown)")
	cmd.Flags().String("cluster", "", "comma-separated peer URLs, including self")

	if err := cmd.Execute(); err != nil {
		log.WithError(err).Fatal("kvnode: fatal error")
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, log *logrus.Entry) error {
	cfg, err := config.Load(cmd)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	localStore, err := store.Open(store.Options{Dir: cfg.DataDir, Log: log})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer localStore.Close()

	membership := cluster.New(cfg.ClusterURLs(), cfg.Self, log)
	watcher := coordinator.NewTaskWatcher(log)
	// One outbound HTTP client for the whole process, shared across every
	// peer dial the Coordinator makes — see coordinator.New's doc comment.
	httpClient := replica.NewHTTPClient(3 * time.Second)
	coord := coordinator.New(localStore, membership, watcher, httpClient, 3*time.Second, log)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	handler := api.NewHandler(coord, log)
	handler.Register(router)
	api.MustRegisterMetrics(prometheus.DefaultRegisterer)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.WithFields(logrus.Fields{"addr": cfg.Addr, "self": cfg.Self}).Info("kvnode: listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("kvnode: server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("kvnode: shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("kvnode: server shutdown error")
	}
	watcher.Shutdown()
	return nil
}
