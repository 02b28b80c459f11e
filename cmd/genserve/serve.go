package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"genserve/internal/httpapi"
	"genserve/internal/queue"
)

// shutdownTimeout bounds the whole shutdown; the queue's grace period runs inside it.
const shutdownTimeout = 60 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.String("addr", ":8080", "HTTP listen address, e.g. :8080")
	f.String("cors-origins", "", "Comma-separated allowed CORS origins (enables CORS)")
	f.Int64("max-body-bytes", 1<<20, "Maximum /generate request body size")
	f.Int64("max-timeout-ms", 0, "Cap on client timeout_ms (0 = no cap)")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	backend, models, err := openBackend(cmd, cfg, log)
	if err != nil {
		return err
	}
	q, err := queue.New(cfg.QueueConfig(backend, &log))
	if err != nil {
		return err
	}

	httpapi.SetLogger(log.With().Str("component", "http").Logger())
	httpapi.SetDefaultLogLevel(cfg.LogLevel)
	maxBody, _ := cmd.Flags().GetInt64("max-body-bytes")
	httpapi.SetMaxBodyBytes(maxBody)
	maxTimeout, _ := cmd.Flags().GetInt64("max-timeout-ms")
	httpapi.SetMaxTimeout(maxTimeout)
	if cfg.CORS.Enabled {
		httpapi.SetCORSOptions(true, cfg.CORS.Origins, []string{"GET", "POST", "OPTIONS"}, []string{"Content-Type", "X-Log-Level"})
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(httpapi.QueueService{Queue: q, Models: models}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ln, err := net.Listen("tcp", cfg.Addr)
		if err != nil {
			return err
		}
		log.Info().Str("addr", ln.Addr().String()).Str("models_dir", cfg.ModelsDir).Msg("genserve listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// stop admission first so /readyz flips and queued work is released,
		// then let handlers write their final responses
		qerr := q.Shutdown(sctx)
		serr := srv.Shutdown(sctx)
		return errors.Join(qerr, serr)
	})
	return g.Wait()
}
