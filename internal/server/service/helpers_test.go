package service

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	server "github.com/charadev96/gatehouse/internal/server/domain"
	"github.com/charadev96/gatehouse/internal/server/platform/memory"
	"github.com/charadev96/gatehouse/internal/server/repository"
)

const (
	testChannel  = "club"
	operatorID   = int64(900)
	testTimeout  = 5 * time.Second
	testWarnLead = 24 * time.Hour
)

// fixture wires the real repository over in-memory sqlite to the
// in-process platform, with a frozen clock shared by every component.
type fixture struct {
	members  server.MemberRepository
	platform *memory.Platform
	notify   *Notifier
	issuer   *Issuer
	rec      *Reconciler
	sweeper  *Sweeper
	clock    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { sqldb.Close() })
	db := bun.NewDB(sqldb, sqlitedialect.New())
	repo, err := repository.NewBunMemberRepository(context.Background(), db)
	if err != nil {
		t.Fatalf("create repository: %v", err)
	}

	logger := zerolog.New(io.Discard)
	f := &fixture{
		members:  repo,
		platform: memory.New(),
		clock:    time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC),
	}
	f.platform.Now = f.now
	f.notify = &Notifier{
		Platform:    f.platform,
		OperatorIDs: []int64{operatorID},
		Logger:      &logger,
	}
	f.issuer = &Issuer{
		Members:     repo,
		Platform:    f.platform,
		Notify:      f.notify,
		Channel:     testChannel,
		InviteTTL:   time.Hour,
		CallTimeout: testTimeout,
		Logger:      &logger,
		Now:         f.now,
	}
	f.rec = &Reconciler{
		Members:     repo,
		Platform:    f.platform,
		Notify:      f.notify,
		Channel:     testChannel,
		Term:        30 * 24 * time.Hour,
		Policy:      server.StrangerAlert,
		CallTimeout: testTimeout,
		Logger:      &logger,
		Now:         f.now,
	}
	f.sweeper = &Sweeper{
		Members:     repo,
		Platform:    f.platform,
		Notify:      f.notify,
		Channel:     testChannel,
		WarnLead:    testWarnLead,
		Policy:      server.StrangerAlert,
		CallTimeout: testTimeout,
		Logger:      &logger,
		Now:         f.now,
	}
	return f
}

func (f *fixture) now() time.Time { return f.clock }

func (f *fixture) advance(d time.Duration) { f.clock = f.clock.Add(d) }

// enroll puts an identity on the roster, mints its invitation and
// redeems it, leaving the member active in the channel.
func (f *fixture) enroll(t *testing.T, identity string, userID int64) {
	t.Helper()
	ctx := context.Background()
	if err := f.members.UpsertRoster(ctx, identity, ""); err != nil {
		t.Fatalf("roster %s: %v", identity, err)
	}
	inv, err := f.issuer.RequestInvitation(ctx, identity)
	if err != nil {
		t.Fatalf("invitation for %s: %v", identity, err)
	}
	if err := f.platform.Join(testChannel, identity, userID, inv.Link); err != nil {
		t.Fatalf("join for %s: %v", identity, err)
	}
	if err := f.rec.HandleEvent(ctx, f.nextEvent(t)); err != nil {
		t.Fatalf("handle join for %s: %v", identity, err)
	}
}

func (f *fixture) nextEvent(t *testing.T) server.MembershipEvent {
	t.Helper()
	select {
	case ev := <-f.platform.Events():
		return ev
	default:
		t.Fatalf("no pending membership event")
		return server.MembershipEvent{}
	}
}

func (f *fixture) drainEvents() {
	for {
		select {
		case <-f.platform.Events():
		default:
			return
		}
	}
}

func containsMessage(msgs []string, substr string) bool {
	for _, m := range msgs {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}
