package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/bitsnark/charms/internal/prover"
)

// ServerOptions holds flags for the server command.
type ServerOptions struct {
	Listen        string
	MetricsListen string
}

// NewServerCommand creates the server command.
func NewServerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServerOptions{}

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Serve the proof backend over gRPC",
		Long: `Serve the configured proof backend to remote provers.

Metrics are served at /metrics on --metrics-listen when it is set.
The server stops on SIGINT or SIGTERM.

Example:
  charms server --listen 127.0.0.1:17784 --metrics-listen 127.0.0.1:9090`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(rootOpts, opts, cmd)
		},
	}
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "gRPC listen address (default from config)")
	cmd.Flags().StringVar(&opts.MetricsListen, "metrics-listen", "", "metrics listen address")
	return cmd
}

func runServer(rootOpts *RootOptions, opts *ServerOptions, cmd *cobra.Command) error {
	rt, err := newRuntime(rootOpts, cmd)
	if err != nil {
		return err
	}
	defer rt.close()
	logger := rt.logger

	listen := opts.Listen
	if listen == "" {
		listen = rt.cfg.Server.Listen
	}
	metricsListen := opts.MetricsListen
	if metricsListen == "" {
		metricsListen = rt.cfg.Server.MetricsListen
	}

	lis, err := net.Listen("tcp", listen)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	gs := grpc.NewServer()
	prover.NewServer(rt.backend).Register(gs)

	var metrics *http.Server
	if metricsListen != "" {
		rt.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{}))
		metrics = &http.Server{Addr: metricsListen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	}

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("prover service listening", "addr", lis.Addr().String(), "backend", rt.cfg.Prover.Backend)
		return gs.Serve(lis)
	})
	if metrics != nil {
		g.Go(func() error {
			logger.Info("metrics listening", "addr", metricsListen)
			if err := metrics.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		gs.GracefulStop()
		if metrics != nil {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return metrics.Shutdown(shutdownCtx)
		}
		return nil
	})
	fmt.Fprintf(cmd.OutOrStdout(), "Serving prover on %s. Press Ctrl-C to stop.\n", lis.Addr())

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}
	logger.Info("server stopped gracefully")
	return nil
}
