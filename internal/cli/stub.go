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

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/quizload/internal/logging"
	"github.com/wesleyorama2/quizload/internal/quiz/quiztest"
)

type stubOptions struct {
	addr      string
	latency   time.Duration
	verbose   bool
	logFormat string
}

func newStubCmd() *cobra.Command {
	opts := &stubOptions{}

	cmd := &cobra.Command{
		Use:   "stub",
		Short: "Serve an in-memory quiz gateway for local runs",
		Long: `Serve the quiz HTTP API from memory so a load test can be tried
without the real backend.

  quizload stub --addr :6969
  quizload run --host http://localhost:6969 --users 10 --duration 30s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
			defer stop()

			ln, err := net.Listen("tcp", opts.addr)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", opts.addr, err)
			}
			return serveStub(ctx, ln, cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", ":6969", "Listen address")
	cmd.Flags().DurationVar(&opts.latency, "latency", 0, "Delay added to every response")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log every request")
	cmd.Flags().StringVar(&opts.logFormat, "log-format", "console", "Log format (console, json)")

	return cmd
}

// serveStub serves the gateway on ln until ctx ends.
func serveStub(ctx context.Context, ln net.Listener, cmd *cobra.Command, opts *stubOptions) error {
	logCfg := logging.DefaultConfig()
	logCfg.Format = opts.logFormat
	logCfg.Writer = cmd.ErrOrStderr()
	if opts.verbose {
		logCfg.Level = "debug"
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("error creating logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	server := &http.Server{
		Handler:           quiztest.NewGateway(quiztest.WithLatency(opts.latency), quiztest.WithLogger(logger)),
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      5*time.Second + opts.latency,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ReadHeaderTimeout: 2 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()
	logger.Info("stub gateway listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logger.Info("stub gateway stopping")
	return server.Shutdown(shutdownCtx)
}
