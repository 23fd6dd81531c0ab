package memory

import (
	"context"
	"testing"
	"time"

	server "github.com/charadev96/gatehouse/internal/server/domain"
)

func TestInviteLinkSingleUse(t *testing.T) {
	p := New()
	ctx := context.Background()

	inv, err := p.CreateInvite(ctx, "club", time.Hour)
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}
	if err := p.Join("club", "alice", 1, inv.Link); err != nil {
		t.Fatalf("first join: %v", err)
	}
	if err := p.Join("club", "mallory", 2, inv.Link); err == nil {
		t.Fatalf("used link redeemed twice")
	}
	if !p.Present("club", 1) || p.Present("club", 2) {
		t.Fatalf("presence wrong after joins")
	}

	ev := <-p.Events()
	if ev.Kind != server.EventJoined || ev.UserID != 1 || ev.Identity != "alice" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestInviteLinkExpires(t *testing.T) {
	p := New()
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	p.Now = func() time.Time { return now }

	inv, err := p.CreateInvite(context.Background(), "club", time.Hour)
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}
	now = now.Add(2 * time.Hour)
	if err := p.Join("club", "alice", 1, inv.Link); err == nil {
		t.Fatalf("expired link redeemed")
	}
}

func TestRevokedLinkRejected(t *testing.T) {
	p := New()
	ctx := context.Background()

	inv, err := p.CreateInvite(ctx, "club", time.Hour)
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}
	if err := p.RevokeInvite(ctx, "club", inv.Link); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := p.Join("club", "alice", 1, inv.Link); err == nil {
		t.Fatalf("revoked link redeemed")
	}
}

func TestRemoveBansUntilUnban(t *testing.T) {
	p := New()
	ctx := context.Background()
	p.Place("club", "alice", 1, false)

	if err := p.RemoveMember(ctx, "club", 1); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if p.Present("club", 1) {
		t.Fatalf("still present after removal")
	}
	if !p.Banned("club", 1) {
		t.Fatalf("not banned after removal")
	}

	inv, err := p.CreateInvite(ctx, "club", time.Hour)
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}
	if err := p.Join("club", "alice", 1, inv.Link); err == nil {
		t.Fatalf("banned user joined")
	}

	if err := p.UnbanMember(ctx, "club", 1); err != nil {
		t.Fatalf("unban: %v", err)
	}
	inv2, err := p.CreateInvite(ctx, "club", time.Hour)
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}
	if err := p.Join("club", "alice", 1, inv2.Link); err != nil {
		t.Fatalf("join after unban: %v", err)
	}
}

func TestAdministratorsAndListing(t *testing.T) {
	p := New()
	ctx := context.Background()
	p.Place("club", "boss", 10, true)
	p.Place("club", "alice", 11, false)

	admins, err := p.Administrators(ctx, "club")
	if err != nil {
		t.Fatalf("administrators: %v", err)
	}
	if _, ok := admins[10]; !ok || len(admins) != 1 {
		t.Fatalf("unexpected admins: %v", admins)
	}

	members, err := p.ListMembers(ctx, "club")
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("unexpected members: %+v", members)
	}

	status, err := p.MembershipStatus(ctx, "club", 10)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Present || !status.Admin {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestInjectedErrorPropagates(t *testing.T) {
	p := New()
	ctx := context.Background()
	p.Err = context.DeadlineExceeded

	if _, err := p.CreateInvite(ctx, "club", time.Hour); err == nil {
		t.Fatalf("expected injected error")
	}
	if err := p.SendDirectMessage(ctx, 1, "hi"); err == nil {
		t.Fatalf("expected injected error")
	}
}
