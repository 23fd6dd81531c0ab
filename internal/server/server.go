package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/charadev96/gatehouse/internal/server/domain"
	"github.com/charadev96/gatehouse/internal/server/service"
)

type AdminConfig struct {
	Addr string
	// CertFile/KeyFile switch the admin listener to TLS. Missing
	// files are generated on first start.
	CertFile string
	KeyFile  string
	Logger   *zerolog.Logger
}

// Server runs the three independent drivers of the member lifecycle:
// the admin HTTP API, the platform event pump feeding the reconciler,
// and the sweep ticker. A failure in one unit of work (one request,
// one event, one sweep) never takes the process down.
type Server struct {
	Admin   AdminConfig
	Handler http.Handler

	Platform      domain.ChatPlatform
	Reconciler    *service.Reconciler
	Sweeper       *service.Sweeper
	SweepInterval time.Duration
	Logger        *zerolog.Logger
}

func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.ServeAdmin(ctx) })
	g.Go(func() error { return s.pumpEvents(ctx) })
	g.Go(func() error { return s.runSweeper(ctx) })
	return g.Wait()
}

func (s *Server) ServeAdmin(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Admin.Addr)
	if err != nil {
		return fmt.Errorf("failed to init server: %w", err)
	}

	if s.Admin.CertFile != "" {
		cert, err := EnsureServerCertificate(s.Admin.CertFile, s.Admin.KeyFile, s.Admin.Logger)
		if err != nil {
			ln.Close()
			return err
		}
		ln = tls.NewListener(ln, &tls.Config{
			Certificates: []tls.Certificate{cert},
		})
	}

	s.Admin.Logger.Info().
		Str("address", s.Admin.Addr).
		Bool("tls", s.Admin.CertFile != "").
		Msg("started server")

	inst := &http.Server{
		Handler: s.Handler,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		<-ctx.Done()
		s.Admin.Logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		inst.Shutdown(shutdownCtx)
	}()

	if err := inst.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// pumpEvents drains the platform's membership notifications into the
// reconciler, one at a time. The channel is the only ordering the
// platform guarantees.
func (s *Server) pumpEvents(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-s.Platform.Events():
			if !ok {
				return nil
			}
			s.handleEvent(ctx, ev)
		}
	}
}

func (s *Server) handleEvent(ctx context.Context, ev domain.MembershipEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.Logger.Error().
				Interface("panic", r).
				Str("identity", ev.Identity).
				Msg("recovered from panic in event handler")
		}
	}()
	if err := s.Reconciler.HandleEvent(ctx, ev); err != nil {
		s.Logger.Error().
			Err(err).
			Str("kind", ev.Kind.String()).
			Str("identity", ev.Identity).
			Int64("user_id", ev.UserID).
			Msg("failed to handle membership event")
	}
}

func (s *Server) runSweeper(ctx context.Context) error {
	s.Logger.Info().
		Dur("interval", s.SweepInterval).
		Msg("started sweep loop")

	ticker := time.NewTicker(s.SweepInterval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Server) sweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.Logger.Error().
				Interface("panic", r).
				Msg("recovered from panic in sweep")
		}
	}()
	if err := s.Sweeper.Run(ctx); err != nil {
		s.Logger.Error().Err(err).Msg("sweep failed")
	}
}
