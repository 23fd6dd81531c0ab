package server

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/charadev96/gatehouse/internal/server/domain"
	"github.com/charadev96/gatehouse/internal/server/platform/memory"
	"github.com/charadev96/gatehouse/internal/server/repository"
	"github.com/charadev96/gatehouse/internal/server/service"
)

// TestRunDrivesLifecycle starts the full server loop over the
// in-process platform and walks a member from invitation to
// activation to revocation, with nothing but real wiring in between.
func TestRunDrivesLifecycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { sqldb.Close() })
	db := bun.NewDB(sqldb, sqlitedialect.New())
	repo, err := repository.NewBunMemberRepository(ctx, db)
	if err != nil {
		t.Fatalf("create repository: %v", err)
	}

	logger := zerolog.New(io.Discard)
	platform := memory.New()
	notify := &service.Notifier{Platform: platform, Logger: &logger}
	issuer := &service.Issuer{
		Members:     repo,
		Platform:    platform,
		Notify:      notify,
		Channel:     "club",
		InviteTTL:   time.Hour,
		CallTimeout: 5 * time.Second,
		Logger:      &logger,
	}
	rec := &service.Reconciler{
		Members:     repo,
		Platform:    platform,
		Notify:      notify,
		Channel:     "club",
		Term:        200 * time.Millisecond,
		CallTimeout: 5 * time.Second,
		Logger:      &logger,
	}
	sweeper := &service.Sweeper{
		Members:     repo,
		Platform:    platform,
		Notify:      notify,
		Channel:     "club",
		WarnLead:    50 * time.Millisecond,
		CallTimeout: 5 * time.Second,
		Logger:      &logger,
	}
	srv := &Server{
		Admin: AdminConfig{
			Addr:   "127.0.0.1:0",
			Logger: &logger,
		},
		Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
		Platform:      platform,
		Reconciler:    rec,
		Sweeper:       sweeper,
		SweepInterval: 20 * time.Millisecond,
		Logger:        &logger,
	}

	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	if err := repo.UpsertRoster(ctx, "alice", "Alice"); err != nil {
		t.Fatalf("roster: %v", err)
	}
	inv, err := issuer.RequestInvitation(ctx, "alice")
	if err != nil {
		t.Fatalf("invitation: %v", err)
	}
	if err := platform.Join("club", "alice", 42, inv.Link); err != nil {
		t.Fatalf("join: %v", err)
	}

	// The pump activates the subscription, then the ticker sweeps it
	// away once the short window elapses.
	waitFor(t, 5*time.Second, func() bool {
		m, err := repo.GetByIdentity(ctx, "alice")
		return err == nil && m.Activated()
	})
	waitFor(t, 5*time.Second, func() bool {
		m, err := repo.GetByIdentity(ctx, "alice")
		return err == nil && !m.RevokedAt.IsZero()
	})
	if platform.Present("club", 42) {
		t.Fatalf("member still present after revocation")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not shut down")
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestEnsureServerCertificate(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "admin.crt")
	keyPath := filepath.Join(dir, "admin.key")
	logger := zerolog.New(io.Discard)

	cert, err := EnsureServerCertificate(certPath, keyPath, &logger)
	if err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	if len(cert.Certificate) == 0 {
		t.Fatalf("no certificate generated")
	}

	firstPEM, err := os.ReadFile(certPath)
	if err != nil {
		t.Fatalf("read cert: %v", err)
	}
	info, err := os.Stat(keyPath)
	if err != nil {
		t.Fatalf("stat key: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("key file too open: %v", perm)
	}

	// A second start reuses the files untouched.
	if _, err := EnsureServerCertificate(certPath, keyPath, &logger); err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	secondPEM, err := os.ReadFile(certPath)
	if err != nil {
		t.Fatalf("reread cert: %v", err)
	}
	if string(firstPEM) != string(secondPEM) {
		t.Fatalf("certificate regenerated on restart")
	}
}

var _ domain.ChatPlatform = (*memory.Platform)(nil)
