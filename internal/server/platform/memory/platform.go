// Package memory implements the chat-platform capability surface
// in-process. It backs the dev-mode deployment and every test that
// needs a deterministic platform: joins consume single-use links,
// membership events are pushed on a channel, and direct messages are
// recorded instead of delivered.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	server "github.com/charadev96/gatehouse/internal/server/domain"
)

type invite struct {
	channel   string
	expiresAt time.Time
	used      bool
	revoked   bool
}

type presence struct {
	identity string
	admin    bool
}

type Platform struct {
	mu       sync.Mutex
	invites  map[string]*invite
	channels map[string]map[int64]presence
	banned   map[string]map[int64]bool
	outbox   map[int64][]string
	events   chan server.MembershipEvent

	// Now is injectable for deterministic expiry checks in tests.
	Now func() time.Time

	// Err, when set, is returned by every capability call. Tests use
	// it to exercise transient-failure paths.
	Err error
}

func New() *Platform {
	return &Platform{
		invites:  make(map[string]*invite),
		channels: make(map[string]map[int64]presence),
		banned:   make(map[string]map[int64]bool),
		outbox:   make(map[int64][]string),
		events:   make(chan server.MembershipEvent, 64),
		Now:      time.Now,
	}
}

func (p *Platform) CreateInvite(ctx context.Context, channel string, ttl time.Duration) (server.Invite, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return server.Invite{}, p.Err
	}
	link := "invite://" + channel + "/" + uuid.NewString()
	exp := p.Now().Add(ttl)
	p.invites[link] = &invite{channel: channel, expiresAt: exp}
	return server.Invite{Link: link, ExpiresAt: exp}, nil
}

func (p *Platform) RevokeInvite(ctx context.Context, channel, link string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	inv, ok := p.invites[link]
	if !ok || inv.channel != channel {
		return fmt.Errorf("unknown invite link")
	}
	inv.revoked = true
	return nil
}

func (p *Platform) RemoveMember(ctx context.Context, channel string, userID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	members := p.channels[channel]
	pr, ok := members[userID]
	if !ok {
		return fmt.Errorf("user %d not present", userID)
	}
	delete(members, userID)
	if p.banned[channel] == nil {
		p.banned[channel] = make(map[int64]bool)
	}
	p.banned[channel][userID] = true
	select {
	case p.events <- server.MembershipEvent{
		Kind:     server.EventLeft,
		Identity: pr.identity,
		UserID:   userID,
		At:       p.Now(),
	}:
	default:
	}
	return nil
}

func (p *Platform) UnbanMember(ctx context.Context, channel string, userID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	delete(p.banned[channel], userID)
	return nil
}

func (p *Platform) MembershipStatus(ctx context.Context, channel string, userID int64) (server.MembershipStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return server.MembershipStatus{}, p.Err
	}
	pr, ok := p.channels[channel][userID]
	return server.MembershipStatus{Present: ok, Admin: pr.admin}, nil
}

func (p *Platform) Administrators(ctx context.Context, channel string) (map[int64]struct{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	admins := make(map[int64]struct{})
	for id, pr := range p.channels[channel] {
		if pr.admin {
			admins[id] = struct{}{}
		}
	}
	return admins, nil
}

func (p *Platform) ListMembers(ctx context.Context, channel string) ([]server.ChannelMember, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	var members []server.ChannelMember
	for id, pr := range p.channels[channel] {
		members = append(members, server.ChannelMember{
			Identity: pr.identity,
			UserID:   id,
			Admin:    pr.admin,
		})
	}
	return members, nil
}

func (p *Platform) SendDirectMessage(ctx context.Context, userID int64, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.outbox[userID] = append(p.outbox[userID], text)
	return nil
}

func (p *Platform) Events() <-chan server.MembershipEvent {
	return p.events
}

// Join redeems an invite link: the link must be unexpired, unrevoked
// and never used before. On success the user becomes present and a
// joined event is emitted.
func (p *Platform) Join(channel, identity string, userID int64, link string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	inv, ok := p.invites[link]
	if !ok || inv.channel != channel {
		return fmt.Errorf("unknown invite link")
	}
	if inv.used {
		return fmt.Errorf("invite link already used")
	}
	if inv.revoked {
		return fmt.Errorf("invite link revoked")
	}
	if p.Now().After(inv.expiresAt) {
		return fmt.Errorf("invite link expired")
	}
	if p.banned[channel][userID] {
		return fmt.Errorf("user %d is banned", userID)
	}
	inv.used = true
	p.place(channel, identity, userID, false)
	p.events <- server.MembershipEvent{
		Kind:     server.EventJoined,
		Identity: identity,
		UserID:   userID,
		At:       p.Now(),
	}
	return nil
}

// Place adds a user directly, bypassing invites, the way a platform
// admin would. No event is emitted: that is exactly the divergence the
// drift phase exists to catch.
func (p *Platform) Place(channel, identity string, userID int64, admin bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.place(channel, identity, userID, admin)
}

func (p *Platform) place(channel, identity string, userID int64, admin bool) {
	if p.channels[channel] == nil {
		p.channels[channel] = make(map[int64]presence)
	}
	p.channels[channel][userID] = presence{identity: identity, admin: admin}
}

// Emit pushes an arbitrary membership event, for simulating platform
// notifications that have no local state change.
func (p *Platform) Emit(ev server.MembershipEvent) {
	p.events <- ev
}

// Present reports whether the user is currently in the channel.
func (p *Platform) Present(channel string, userID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.channels[channel][userID]
	return ok
}

// Banned reports whether the user is currently banned from the channel.
func (p *Platform) Banned(channel string, userID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.banned[channel][userID]
}

// DirectMessages returns everything sent to the user so far.
func (p *Platform) DirectMessages(userID int64) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	msgs := make([]string, len(p.outbox[userID]))
	copy(msgs, p.outbox[userID])
	return msgs
}
