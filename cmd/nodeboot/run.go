package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/nodeboot/pkg/api"
	"github.com/cuemby/nodeboot/pkg/app"
	"github.com/cuemby/nodeboot/pkg/log"
	"github.com/cuemby/nodeboot/pkg/metrics"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Bootstrap this node and run its role manager",
	Long: `Bootstrap this node and run the coordinator or worker manager selected
by the role in the user data, until interrupted.

Examples:
  # Boot from user data in the default location
  nodeboot run

  # Local test coordinator without a cluster bucket
  nodeboot run --cloud dummy --set role=master --set testflag=true

  # Remove the cluster's persistent data on exit
  nodeboot run --delete-cluster`,
	RunE: runNode,
}

func init() {
	runCmd.Flags().String("http-addr", "", "Serve health, metrics and console endpoints on this address")
	runCmd.Flags().Bool("delete-cluster", false, "Delete the cluster's persistent data on shutdown")
	runCmd.Flags().Duration("monitor-interval", 0, "Console monitor interval (default 10s)")
	runCmd.Flags().Duration("shutdown-timeout", 30*time.Second, "Time allowed for a graceful shutdown")
}

func runNode(cmd *cobra.Command, args []string) error {
	opts, err := appOptions(cmd)
	if err != nil {
		return err
	}
	opts.MonitorInterval, _ = cmd.Flags().GetDuration("monitor-interval")
	httpAddr, _ := cmd.Flags().GetString("http-addr")
	deleteCluster, _ := cmd.Flags().GetBool("delete-cluster")
	shutdownTimeout, _ := cmd.Flags().GetDuration("shutdown-timeout")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.SetVersion(Version)

	a, err := app.New(ctx, opts)
	if err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}
	defer a.Close()

	collector := metrics.NewCollector(a.Sink, a.Messages)
	collector.Start()
	defer collector.Stop()

	// A server failure cancels gctx and brings the node down like a signal
	g, gctx := errgroup.WithContext(ctx)

	var server *api.Server
	if httpAddr != "" {
		server = api.NewServer(a)
		g.Go(func() error {
			if err := server.Start(httpAddr); err != nil {
				return fmt.Errorf("HTTP server error: %w", err)
			}
			return nil
		})
	}

	if err := a.Startup(ctx); err != nil {
		shutdownServer(server, shutdownTimeout)
		_ = g.Wait()
		return err
	}

	logger := log.WithComponent("cli")
	logger.Info().
		Str("state", a.State().String()).
		Str("pd_source", string(a.PDSource)).
		Msg("Node is running. Press Ctrl+C to stop.")

	<-gctx.Done()
	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	shutdownServer(server, shutdownTimeout)
	if err := a.Shutdown(shutdownCtx, deleteCluster); err != nil {
		return err
	}
	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("Shutdown complete")
	return nil
}

func shutdownServer(server *api.Server, timeout time.Duration) {
	if server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Errorf("Failed to stop HTTP server", err)
	}
}
