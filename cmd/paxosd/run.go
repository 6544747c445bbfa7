package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/paxoscluster/paxos/internal/config"
	"github.com/paxoscluster/paxos/internal/metrics"
	"github.com/paxoscluster/paxos/internal/replica"
	"github.com/paxoscluster/paxos/internal/storage"
)

func newRunCmd() *cobra.Command {
	var (
		configPath  string
		storeDir    string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single replica until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			logger := log.New(os.Stderr)
			logger.SetReportTimestamp(true)

			reg := prometheus.NewRegistry()
			m := metrics.New(reg)

			opts := []replica.Option{
				replica.WithLogger(logger),
				replica.WithMetrics(m),
			}
			if storeDir != "" {
				store, err := storage.NewFileStorage(storeDir)
				if err != nil {
					return err
				}
				opts = append(opts, replica.WithStore(store))
			}

			r, err := replica.New(cfg, opts...)
			if err != nil {
				return err
			}

			if metricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
				server := &http.Server{Addr: metricsAddr, Handler: mux}
				go func() {
					if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logger.Error("metrics server exited", "err", err)
					}
				}()
				defer server.Close()
			}

			logger.Info("replica started", "id", cfg.ID, "peers", len(cfg.Peers))

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()

			logger.Info("shutting down")
			return r.Close()
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to the replica's JSON configuration file")
	cmd.Flags().StringVar(&storeDir, "store", "", "directory for durable acceptor state (empty disables durability)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on (empty disables)")
	cmd.MarkFlagRequired("config")

	return cmd
}
