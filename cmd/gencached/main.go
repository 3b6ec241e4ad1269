// Command gencached runs a gencache service: the gRPC Session endpoint for
// clients and an HTTP admin endpoint for operators.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/unkn0wn-root/gencache"
	"github.com/unkn0wn-root/gencache/internal/admin"
	"github.com/unkn0wn-root/gencache/internal/config"
	"github.com/unkn0wn-root/gencache/transport"
)

func main() {
	path := flag.String("config", os.Getenv("GENCACHE_CONFIG"), "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	lg, err := newLogging(cfg.Log, os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "gencached: log:", err)
		os.Exit(2)
	}
	defer lg.sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, lg); err != nil {
		lg.log.Error("gencached exiting", gencache.Fields{"err": err})
		lg.sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, lg logging) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	log := lg.log

	hooks, metrics, closeHooks := newHooks(lg)
	defer closeHooks()

	cdc, err := newCodec(cfg)
	if err != nil {
		return err
	}
	st, err := newStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	claimer, closeClaimer, err := newClaimer(cfg, log, cancel)
	if err != nil {
		_ = st.Close(ctx)
		return err
	}
	defer closeClaimer()

	svc, err := gencache.New[any](ctx, gencache.Options[any]{
		Store:     st,
		Codec:     cdc,
		Threshold: cfg.Threshold,
		Name:      cfg.Name,
		Claimer:   claimer,
		Logger:    log,
		Hooks:     hooks,
	})
	if err != nil {
		_ = st.Close(ctx)
		return err
	}
	metrics.WatchStats(svc.Stats)
	log.Info("gencache started", gencache.Fields{
		"name":       cfg.Name,
		"generation": svc.Stats().Generation,
		"threshold":  cfg.Threshold,
		"store":      cfg.Store.Backend,
		"codec":      cfg.Codec,
	})

	lis, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		_ = svc.Close(ctx)
		return err
	}
	gs := grpc.NewServer()
	transport.NewServer(svc, transport.ServerOptions{
		MaxBacklog: cfg.MaxBacklog,
		Logger:     log,
		Hooks:      hooks,
	}).Register(gs)

	errCh := make(chan error, 2)
	go func() {
		log.Info("session listening", gencache.Fields{"addr": lis.Addr().String()})
		if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc: %w", err)
		}
	}()

	adm := admin.New(svc, admin.Options{Metrics: metrics.Handler(), Logger: log})
	adminDone := make(chan struct{})
	go func() {
		defer close(adminDone)
		if err := adm.Start(ctx, cfg.Admin); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("admin: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down", nil)
	case runErr = <-errCh:
		cancel()
	}

	stopGRPC(gs, cfg.ShutdownTimeout)
	<-adminDone

	closeCtx, cancelClose := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancelClose()
	return errors.Join(runErr, svc.Close(closeCtx))
}

// stopGRPC waits up to d for sessions to end, then cuts them.
func stopGRPC(gs *grpc.Server, d time.Duration) {
	done := make(chan struct{})
	go func() {
		gs.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		gs.Stop()
		<-done
	}
}
