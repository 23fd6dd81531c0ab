package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/charadev96/gatehouse/internal/server"
	"github.com/charadev96/gatehouse/internal/server/config"
	"github.com/charadev96/gatehouse/internal/server/domain"
	"github.com/charadev96/gatehouse/internal/server/handler/admin"
	"github.com/charadev96/gatehouse/internal/server/platform/memory"
	"github.com/charadev96/gatehouse/internal/server/repository"
	"github.com/charadev96/gatehouse/internal/server/service"
	"github.com/charadev96/gatehouse/internal/shared/infra"
	"github.com/charadev96/gatehouse/internal/shared/log"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gatehouse server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	logger := log.New("server")

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	roster, err := config.LoadRoster(cfg.RosterFile)
	if err != nil {
		return err
	}

	sqldb, err := sql.Open(sqliteshim.ShimName, cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer sqldb.Close()
	db := bun.NewDB(sqldb, sqlitedialect.New())

	members, err := repository.NewBunMemberRepository(ctx, db)
	if err != nil {
		return err
	}
	// Seed the whole roster in one transaction: a half-applied file
	// would be worse than a failed start.
	runner := infra.NewBunTransactionRunner(db)
	err = runner.Exec(ctx, func(ctx context.Context) error {
		for _, m := range roster.Members {
			if err := members.UpsertRoster(ctx, m.Identity, m.DisplayName); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to seed roster: %w", err)
	}
	logger.Info().
		Int("roster", len(roster.Members)).
		Int("operators", len(roster.Operators)).
		Msg("member store ready")

	platform, err := newPlatform(cfg)
	if err != nil {
		return err
	}

	notifyLog := log.New("notify")
	notifier := &service.Notifier{
		Platform:    platform,
		OperatorIDs: roster.OperatorIDs(),
		Location:    cfg.Location(),
		Logger:      &notifyLog,
	}

	issuerLog := log.New("issuer")
	issuer := &service.Issuer{
		Members:     members,
		Platform:    platform,
		Notify:      notifier,
		Channel:     cfg.Channel,
		InviteTTL:   cfg.InviteTTL,
		CallTimeout: cfg.CallTimeout,
		Logger:      &issuerLog,
	}

	reconcilerLog := log.New("reconcile")
	reconciler := &service.Reconciler{
		Members:     members,
		Platform:    platform,
		Notify:      notifier,
		Channel:     cfg.Channel,
		Term:        cfg.SubscriptionTerm,
		Policy:      cfg.PolicyValue(),
		CallTimeout: cfg.CallTimeout,
		Logger:      &reconcilerLog,
	}

	sweeperLog := log.New("sweeper")
	sweeper := &service.Sweeper{
		Members:     members,
		Platform:    platform,
		Notify:      notifier,
		Channel:     cfg.Channel,
		WarnLead:    cfg.WarnLead,
		Policy:      cfg.PolicyValue(),
		CallTimeout: cfg.CallTimeout,
		Logger:      &sweeperLog,
		Metrics:     service.NewMetrics(prometheus.DefaultRegisterer),
	}

	adminLog := log.New("admin")
	api := &admin.API{
		Members: members,
		Issuer:  issuer,
		Sweeper: sweeper,
		Tokens:  roster.Tokens(),
		Metrics: promhttp.Handler(),
		Logger:  &adminLog,
	}

	srv := &server.Server{
		Admin: server.AdminConfig{
			Addr:     cfg.AdminAddr,
			CertFile: cfg.AdminCert,
			KeyFile:  cfg.AdminKey,
			Logger:   &adminLog,
		},
		Handler:       api.Routes(),
		Platform:      platform,
		Reconciler:    reconciler,
		Sweeper:       sweeper,
		SweepInterval: cfg.SweepInterval,
		Logger:        &logger,
	}

	return srv.Run(ctx)
}

func newPlatform(cfg config.Config) (domain.ChatPlatform, error) {
	switch cfg.Platform {
	case "memory":
		return memory.New(), nil
	}
	return nil, fmt.Errorf("unsupported platform %q", cfg.Platform)
}
