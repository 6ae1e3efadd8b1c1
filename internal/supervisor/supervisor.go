package supervisor

import (
	"context"
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Config bundles everything Run needs to stand up one supervisor
// instance: the worker registry (already populated and spawned by the
// caller), the chaos killer, the prober, and the gateway glue.
type Config struct {
	Registry *Registry
	Killer   ChaosKiller
	Prober   *Prober
	Gateway  *Gateway

	// KillerAddr, if set, binds an HTTP admin server exposing the
	// interactive killer's /kill/{uid} and /respawn/{uid} routes. Unused
	// when Killer is a RandomKiller.
	KillerAddr string

	Log zerolog.Logger
}

// Run starts the chaos killer and the prober concurrently under one
// cancellable errgroup, and an admin HTTP server if Killer is interactive
// and KillerAddr is set. It returns once ctx is cancelled or any
// component fails.
func Run(ctx context.Context, cfg Config) error {
	if cfg.Prober != nil && cfg.Gateway != nil {
		cfg.Prober.OnLeader = cfg.Gateway.OnLeaderChange
	}

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Killer != nil {
		g.Go(func() error { return ignoreCancel(cfg.Killer.Run(ctx)) })
	}
	if cfg.Prober != nil {
		g.Go(func() error { return ignoreCancel(cfg.Prober.Run(ctx)) })
	}

	if ik, ok := cfg.Killer.(*InteractiveKiller); ok && cfg.KillerAddr != "" {
		srv := newAdminServer(cfg.KillerAddr, ik)
		g.Go(func() error { return serveUntilCancel(ctx, srv) })
	}

	return g.Wait()
}

func ignoreCancel(err error) error {
	if err == context.Canceled {
		return nil
	}
	return err
}

func newAdminServer(addr string, ik *InteractiveKiller) *http.Server {
	r := mux.NewRouter()
	ik.Routes(r)
	return &http.Server{Addr: addr, Handler: r}
}

func serveUntilCancel(ctx context.Context, srv *http.Server) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		_ = srv.Close()
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
