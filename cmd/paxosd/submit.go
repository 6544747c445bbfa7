package main

import (
	"fmt"
	"net"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/paxoscluster/paxos/internal/config"
	"github.com/paxoscluster/paxos/internal/protocol"
	"github.com/paxoscluster/paxos/internal/replica"
)

// newSubmitCmd builds a small cluster in one process and submits a
// single value through the last replica, rather than exposing any
// client RPC surface.
func newSubmitCmd() *cobra.Command {
	var (
		n       int
		payload string
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Run an in-process demo cluster and submit one value",
		RunE: func(cmd *cobra.Command, args []string) error {
			addrs, err := freeLoopbackAddrs(n)
			if err != nil {
				return err
			}

			logger := log.Default()
			logger.SetLevel(log.InfoLevel)

			replicas := make([]*replica.Replica, n)
			for i := 0; i < n; i++ {
				cfg := config.Config{ID: protocol.ReplicaID(i), Peers: addrs}
				r, err := replica.New(cfg, replica.WithLogger(logger.With("replica", i)))
				if err != nil {
					return fmt.Errorf("starting replica %d: %w", i, err)
				}
				replicas[i] = r
			}
			defer func() {
				for _, r := range replicas {
					_ = r.Close()
				}
			}()

			leader := replicas[n-1]
			id, err := leader.Submit(protocol.Value(payload))
			if err != nil {
				return fmt.Errorf("submit: %w", err)
			}
			logger.Info("submitted value", "instance", id.String(), "value", payload)

			time.Sleep(2 * time.Second)
			return nil
		},
	}

	cmd.Flags().IntVar(&n, "replicas", 3, "number of replicas in the demo cluster")
	cmd.Flags().StringVar(&payload, "value", "hello-paxos", "value to submit")

	return cmd
}

func freeLoopbackAddrs(n int) ([]string, error) {
	addrs := make([]string, n)
	for i := 0; i < n; i++ {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return nil, err
		}
		addrs[i] = l.Addr().String()
		if err := l.Close(); err != nil {
			return nil, err
		}
	}
	return addrs, nil
}
