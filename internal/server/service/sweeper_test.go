package service

import (
	"context"
	"errors"
	"testing"
	"time"

	server "github.com/charadev96/gatehouse/internal/server/domain"
)

func TestSweepWarnsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enroll(t, "alice", 42)

	// Deep inside the window: nothing to say.
	f.advance(f.rec.Term - 2*testWarnLead)
	if err := f.sweeper.Run(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if containsMessage(f.platform.DirectMessages(42), "expires at") {
		t.Fatalf("warned too early: %v", f.platform.DirectMessages(42))
	}

	// Inside the lead window: exactly one warning, even across
	// back-to-back sweeps.
	f.advance(testWarnLead + time.Hour)
	for i := 0; i < 3; i++ {
		if err := f.sweeper.Run(ctx); err != nil {
			t.Fatalf("sweep %d: %v", i, err)
		}
	}
	warned := 0
	for _, msg := range f.platform.DirectMessages(42) {
		if containsMessage([]string{msg}, "expires at") {
			warned++
		}
	}
	if warned != 1 {
		t.Fatalf("expected exactly one warning, got %d", warned)
	}
	if !f.platform.Present(testChannel, 42) {
		t.Fatalf("warning phase removed the member")
	}
}

func TestSweepRevokesExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enroll(t, "alice", 42)
	f.enroll(t, "bob", 43)

	// Only alice's window elapses.
	f.advance(f.rec.Term + time.Minute)
	if err := f.members.Reset(ctx, "bob"); err != nil {
		t.Fatalf("reset bob: %v", err)
	}
	if err := f.members.ActivateSubscription(ctx, "bob", 43, f.clock, f.clock.Add(f.rec.Term)); err != nil {
		t.Fatalf("extend bob: %v", err)
	}

	if err := f.sweeper.Run(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if f.platform.Present(testChannel, 42) {
		t.Fatalf("expired member still present")
	}
	if f.platform.Banned(testChannel, 42) {
		t.Fatalf("expired member left banned after kick")
	}
	if !f.platform.Present(testChannel, 43) {
		t.Fatalf("active member was removed")
	}
	got, err := f.members.GetByIdentity(ctx, "alice")
	if err != nil {
		t.Fatalf("get alice: %v", err)
	}
	if got.RevokedAt.IsZero() || got.State(f.clock) != server.StateExpired {
		t.Fatalf("revocation not recorded: %+v", got)
	}
	if !containsMessage(f.platform.DirectMessages(42), "subscription has ended") {
		t.Fatalf("member not informed: %v", f.platform.DirectMessages(42))
	}

	// A second sweep finds nothing left to do.
	before := len(f.platform.DirectMessages(42))
	if err := f.sweeper.Run(ctx); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if len(f.platform.DirectMessages(42)) != before {
		t.Fatalf("second sweep re-notified: %v", f.platform.DirectMessages(42))
	}
	f.drainEvents()
}

func TestSweepRevokesAbsentMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enroll(t, "carol", 11)

	// Carol leaves on her own before the deadline.
	if err := f.platform.RemoveMember(ctx, testChannel, 11); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := f.platform.UnbanMember(ctx, testChannel, 11); err != nil {
		t.Fatalf("unban: %v", err)
	}
	f.drainEvents()

	f.advance(f.rec.Term + time.Minute)
	if err := f.sweeper.Run(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	m, err := f.members.GetByIdentity(ctx, "carol")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	// Absent or not, the store reaches the same terminal state.
	if m.RevokedAt.IsZero() {
		t.Fatalf("absent member not revoked: %+v", m)
	}
}

func TestSweepPlatformFailureIsolated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enroll(t, "dan", 12)
	f.advance(f.rec.Term + time.Minute)

	f.platform.Err = errors.New("platform down")
	if err := f.sweeper.Run(ctx); err != nil {
		t.Fatalf("sweep with failing platform: %v", err)
	}
	m, err := f.members.GetByIdentity(ctx, "dan")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !m.RevokedAt.IsZero() {
		t.Fatalf("revocation recorded despite failed membership check: %+v", m)
	}

	// Next cycle, platform healthy again: the member is retried.
	f.platform.Err = nil
	if err := f.sweeper.Run(ctx); err != nil {
		t.Fatalf("retry sweep: %v", err)
	}
	m, err = f.members.GetByIdentity(ctx, "dan")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if m.RevokedAt.IsZero() {
		t.Fatalf("member not revoked on retry: %+v", m)
	}
	if f.platform.Present(testChannel, 12) {
		t.Fatalf("member still present after retry")
	}
	f.drainEvents()
}

func TestSweepDriftAlertPolicy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enroll(t, "erin", 13)

	// Someone was added platform-side, no event, no store record; and
	// an admin is present too.
	f.platform.Place(testChannel, "freeloader", 600, false)
	f.platform.Place(testChannel, "boss", 700, true)

	if err := f.sweeper.Run(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	msgs := f.platform.DirectMessages(operatorID)
	if !containsMessage(msgs, "id 600") {
		t.Fatalf("drift not reported: %v", msgs)
	}
	if containsMessage(msgs, "id 700") {
		t.Fatalf("admin reported as drift: %v", msgs)
	}
	if containsMessage(msgs, "id 13") {
		t.Fatalf("authorized member reported as drift: %v", msgs)
	}
	if !f.platform.Present(testChannel, 600) {
		t.Fatalf("alert policy removed the freeloader")
	}
}

func TestSweepDriftRemovePolicy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sweeper.Policy = server.StrangerRemove
	f.enroll(t, "erin", 13)
	f.platform.Place(testChannel, "freeloader", 600, false)

	if err := f.sweeper.Run(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if f.platform.Present(testChannel, 600) {
		t.Fatalf("remove policy left the freeloader in place")
	}
	if f.platform.Banned(testChannel, 600) {
		t.Fatalf("freeloader left permanently banned")
	}
	if !f.platform.Present(testChannel, 13) {
		t.Fatalf("authorized member removed during drift pass")
	}
	f.drainEvents()
}

// TestLifecycleTimeline walks one member through the whole cycle:
// roster add, invitation, refused re-request, join twenty minutes
// later, expiry warning, revocation, and a quiet steady state after.
func TestLifecycleTimeline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.members.UpsertRoster(ctx, "alice", "Alice"); err != nil {
		t.Fatalf("roster: %v", err)
	}
	inv, err := f.issuer.RequestInvitation(ctx, "alice")
	if err != nil {
		t.Fatalf("invitation: %v", err)
	}

	f.advance(10 * time.Minute)
	if _, err := f.issuer.RequestInvitation(ctx, "alice"); !errors.Is(err, server.ErrAlreadyIssued) {
		t.Fatalf("expected ErrAlreadyIssued at T+10m, got %v", err)
	}

	f.advance(10 * time.Minute)
	joinedAt := f.clock
	if err := f.platform.Join(testChannel, "alice", 42, inv.Link); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := f.rec.HandleEvent(ctx, f.nextEvent(t)); err != nil {
		t.Fatalf("handle join: %v", err)
	}

	// The link is single-use.
	if err := f.platform.Join(testChannel, "mallory", 666, inv.Link); err == nil {
		t.Fatalf("used link redeemed twice")
	}

	// Near the end of the window the warning goes out.
	f.advance(f.rec.Term - 30*time.Minute)
	if err := f.sweeper.Run(ctx); err != nil {
		t.Fatalf("warning sweep: %v", err)
	}
	if !containsMessage(f.platform.DirectMessages(42), "expires at") {
		t.Fatalf("no warning near expiry: %v", f.platform.DirectMessages(42))
	}
	if !f.platform.Present(testChannel, 42) {
		t.Fatalf("member removed before expiry")
	}

	// Past the deadline the sweep revokes.
	f.advance(time.Hour)
	if err := f.sweeper.Run(ctx); err != nil {
		t.Fatalf("revoking sweep: %v", err)
	}
	if f.platform.Present(testChannel, 42) {
		t.Fatalf("member present after expiry sweep")
	}
	m, err := f.members.GetByIdentity(ctx, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if m.RevokedAt.IsZero() {
		t.Fatalf("revocation not recorded")
	}
	if !m.ActiveFrom.Equal(joinedAt) {
		t.Fatalf("window anchor drifted: %v != %v", m.ActiveFrom, joinedAt)
	}
	f.drainEvents()

	// Steady state: further sweeps do nothing.
	before := len(f.platform.DirectMessages(42))
	f.advance(time.Hour)
	if err := f.sweeper.Run(ctx); err != nil {
		t.Fatalf("steady-state sweep: %v", err)
	}
	if len(f.platform.DirectMessages(42)) != before {
		t.Fatalf("steady-state sweep sent messages: %v", f.platform.DirectMessages(42))
	}
}
