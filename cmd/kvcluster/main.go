// cmd/kvcluster is the process launcher: spawns N kvnode shards plus an
// optional load balancer in front of them. Out of scope for the replicated
// storage core per spec.md §1, but still the process boundary spec.md §6
// describes.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"kvshard/internal/launcher"
)

func main() {
	var (
		n          int
		basePort   int
		lbAddr     string
		dataDir    string
		kvnodePath string
	)

	cmd := &cobra.Command{
		Use:   "kvcluster",
		Short: "Spawn N kvnode shards plus an optional load balancer",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := kvnodePath
			if path == "" {
				resolved, err := exec.LookPath("kvnode")
				if err != nil {
					return fmt.Errorf("kvcluster: --kvnode-path not set and no kvnode on PATH: %w", err)
				}
				path = resolved
			}
			path, err := filepath.Abs(path)
			if err != nil {
				return err
			}

			c, err := launcher.Launch(launcher.Options{
				N:                n,
				BasePort:         basePort,
				DataDirPrefix:    dataDir,
				KvnodePath:       path,
				LoadBalancerAddr: lbAddr,
			})
			if err != nil {
				return err
			}
			defer c.Shutdown()

			fmt.Println("kvcluster: shards running at:")
			for _, u := range c.URLs() {
				fmt.Println(" -", u)
			}
			if lbAddr != "" {
				fmt.Println("kvcluster: load balancer at", lbAddr)
			}

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit
			fmt.Println("kvcluster: shutting down")
			return nil
		},
	}

	cmd.Flags().IntVar(&n, "n", 3, "number of shards to spawn")
	cmd.Flags().IntVar(&basePort, "base-port", 8001, "first shard's port; shards occupy base-port..base-port+n-1")
	cmd.Flags().StringVar(&lbAddr, "lb", "", "if set, start a round-robin load balancer at this address")
	cmd.Flags().StringVar(&dataDir, "data-dir-prefix", "", "if set, each shard gets <prefix>-<index> as its data dir")
	cmd.Flags().StringVar(&kvnodePath, "kvnode-path", "", "path to the kvnode binary (default: look up on PATH)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
