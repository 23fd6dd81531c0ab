package domain

import (
	"context"
	"time"
)

// Invite is a single-use, time-boxed join credential minted by the
// chat platform. Its lifetime is minutes to an hour and has nothing to
// do with the subscription window.
type Invite struct {
	Link      string
	ExpiresAt time.Time
}

type MembershipStatus struct {
	Present bool
	Admin   bool
}

// ChannelMember is one currently present member as reported by the
// platform, for adapters that can enumerate.
type ChannelMember struct {
	Identity string
	UserID   int64
	Admin    bool
}

type EventKind int

const (
	EventJoined EventKind = iota
	EventLeft
)

func (k EventKind) String() string {
	if k == EventJoined {
		return "joined"
	}
	return "left"
}

// MembershipEvent is pushed by the platform at its own pace,
// arbitrarily interleaved with sweeper runs.
type MembershipEvent struct {
	Kind     EventKind
	Identity string
	UserID   int64
	At       time.Time
}

// ChatPlatform is the abstract capability surface of the messaging
// platform. The store, not the platform, is the source of truth; the
// sweeper reconciles the two. Adapters bound every call by the
// caller's context deadline.
type ChatPlatform interface {
	// CreateInvite mints a single-use join link that stops working
	// after ttl.
	CreateInvite(ctx context.Context, channel string, ttl time.Duration) (Invite, error)
	// RevokeInvite invalidates a link before use.
	RevokeInvite(ctx context.Context, channel, link string) error
	// RemoveMember kicks the user. Paired with UnbanMember this is
	// the "kick without permanent block" idiom.
	RemoveMember(ctx context.Context, channel string, userID int64) error
	UnbanMember(ctx context.Context, channel string, userID int64) error
	MembershipStatus(ctx context.Context, channel string, userID int64) (MembershipStatus, error)
	// Administrators returns the user ids exempt from drift checks.
	Administrators(ctx context.Context, channel string) (map[int64]struct{}, error)
	// ListMembers enumerates present members. Adapters without that
	// capability return ErrUnsupported and the sweeper falls back to
	// probing store-known user ids.
	ListMembers(ctx context.Context, channel string) ([]ChannelMember, error)
	// SendDirectMessage is best-effort; failures are non-fatal.
	SendDirectMessage(ctx context.Context, userID int64, text string) error
	// Events is the push subscription for membership changes.
	Events() <-chan MembershipEvent
}

// StrangerPolicy decides what happens to a present user the store
// does not authorize: flag for manual review or remove outright.
type StrangerPolicy int

const (
	StrangerAlert StrangerPolicy = iota
	StrangerRemove
)

func (p StrangerPolicy) String() string {
	if p == StrangerRemove {
		return "remove"
	}
	return "alert"
}

// ParseStrangerPolicy reads the configuration value.
func ParseStrangerPolicy(s string) (StrangerPolicy, bool) {
	switch s {
	case "alert":
		return StrangerAlert, true
	case "remove":
		return StrangerRemove, true
	}
	return StrangerAlert, false
}
