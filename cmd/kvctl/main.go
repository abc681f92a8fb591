// cmd/kvctl is the CLI client, built with Cobra like the teacher's own
// cmd/client, adapted to kvshard's ack/from quorum parameters and raw-byte
// values instead of the teacher's JSON-wrapped single-node API.
//
// Usage:
//
//	kvctl put mykey "hello world"     --server http://localhost:8001 --replicas 2/3
//	kvctl get mykey                   --server http://localhost:8001
//	kvctl delete mykey                --server http://localhost:8001
//	kvctl status                      --server http://localhost:8001
package main

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"kvshard/pkg/client"
)

var (
	serverAddr string
	timeout    time.Duration
	replicas   string
)

var replicasPattern = regexp.MustCompile(`^(\d+)/(\d+)$`)

func parseReplicas() (ack, from int, err error) {
	if replicas == "" {
		return 0, 0, nil
	}
	m := replicasPattern.FindStringSubmatch(replicas)
	if m == nil {
		return 0, 0, fmt.Errorf("malformed --replicas %q, want A/F", replicas)
	}
	a, _ := strconv.Atoi(m[1])
	f, _ := strconv.Atoi(m[2])
	return a, f, nil
}

func main() {
	root := &cobra.Command{
		Use:   "kvctl",
		Short: "CLI client for the kvshard distributed key-value store",
	}

	root.PersistentFlags().StringVarP(&serverAddr, "server", "s",
		"http://localhost:8080", "kvshard node address")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second,
		"HTTP request timeout")
	root.PersistentFlags().StringVar(&replicas, "replicas", "",
		"ack/from quorum, e.g. 2/3 (default: node's own default)")

	root.AddCommand(putCmd(), getCmd(), deleteCmd(), statusCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func putCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <key> <value>",
		Short: "Store a key-value pair",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ack, from, err := parseReplicas()
			if err != nil {
				return err
			}
			c := client.New(serverAddr, timeout)
			if err := c.Put(context.Background(), args[0], []byte(args[1]), ack, from); err != nil {
				return err
			}
			fmt.Printf("stored %q\n", args[0])
			return nil
		},
	}
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Retrieve a value by key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ack, from, err := parseReplicas()
			if err != nil {
				return err
			}
			c := client.New(serverAddr, timeout)
			v, err := c.Get(context.Background(), args[0], ack, from)
			if err == client.ErrNotFound {
				fmt.Printf("key %q not found\n", args[0])
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Printf("%s\n", v.Data)
			return nil
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ack, from, err := parseReplicas()
			if err != nil {
				return err
			}
			c := client.New(serverAddr, timeout)
			if err := c.Delete(context.Background(), args[0], ack, from); err != nil {
				return err
			}
			fmt.Printf("deleted %q\n", args[0])
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check a node's health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			body, err := c.Status(context.Background())
			if err != nil {
				return err
			}
			fmt.Println(body)
			return nil
		},
	}
}
