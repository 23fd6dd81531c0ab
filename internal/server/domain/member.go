package domain

import (
	"context"
	"strings"
	"time"
)

type MemberState int

const (
	// StatePending: on the roster, nothing issued yet.
	StatePending MemberState = iota
	// StateInvited: a single-use join link is outstanding.
	StateInvited
	// StateActive: the subscription window is running.
	StateActive
	// StateExpired: the window elapsed or access was revoked. Terminal
	// until an operator reissues.
	StateExpired
)

func (s MemberState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateInvited:
		return "invited"
	case StateActive:
		return "active"
	case StateExpired:
		return "expired"
	}
	return "unknown"
}

// Member is one row per known identity. Zero-valued timestamps mean
// "not set"; every set timestamp is a UTC instant.
type Member struct {
	Identity        string
	DisplayName     string
	PlatformUserID  int64
	InviteLink      string
	InviteIssuedAt  time.Time
	InviteExpiresAt time.Time
	ActiveFrom      time.Time
	ExpiresAt       time.Time
	RevokedAt       time.Time
	Warned          bool
	CreatedAt       time.Time
}

// State reports the lifecycle state as of the given instant.
func (m Member) State(asOf time.Time) MemberState {
	switch {
	case !m.RevokedAt.IsZero():
		return StateExpired
	case !m.ActiveFrom.IsZero() && !asOf.Before(m.ExpiresAt):
		return StateExpired
	case !m.ActiveFrom.IsZero():
		return StateActive
	case m.InviteLink != "":
		return StateInvited
	}
	return StatePending
}

// Activated reports whether a subscription window was ever started.
func (m Member) Activated() bool {
	return !m.ActiveFrom.IsZero()
}

// NormalizeIdentity canonicalizes a public handle: identities are
// case-insensitive and a leading "@" is cosmetic.
func NormalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(identity), "@"))
}

type MemberCounts struct {
	Total   int
	Active  int
	Expired int
}

// MemberRepository is the durable member store. Every write is a
// single-row operation. The guarded writes (SetInvitation,
// ActivateSubscription, MarkRevoked, MarkWarned) apply only when the
// row still matches the expected prior state and return ErrStale
// otherwise; those guards are the concurrency-safety mechanism shared
// by the issuer, the reconciler and the sweeper.
type MemberRepository interface {
	// UpsertRoster inserts the identity if unknown and leaves an
	// existing row untouched, so a repeated operator add never
	// clobbers an active subscriber.
	UpsertRoster(ctx context.Context, identity, displayName string) error
	GetByIdentity(ctx context.Context, identity string) (Member, error)
	GetByPlatformUserID(ctx context.Context, userID int64) (Member, error)
	// SetInvitation records a freshly minted join link. Guard: no
	// invitation has ever been recorded and no subscription started.
	SetInvitation(ctx context.Context, identity, link string, issuedAt, expiresAt time.Time) error
	// ActivateSubscription starts the window and pins the platform
	// user id, clearing the pending invitation fields. Guard: not
	// activated and not revoked.
	ActivateSubscription(ctx context.Context, identity string, userID int64, from, until time.Time) error
	// MarkRevoked records the sweep that removed the member.
	// Guard: not already revoked.
	MarkRevoked(ctx context.Context, identity string, at time.Time) error
	// MarkWarned sets the near-expiry flag. Guard: not already warned.
	MarkWarned(ctx context.Context, identity string) error
	// Reset clears invitation, subscription, revocation and warning
	// fields for an operator reissue, starting a new cycle. The
	// platform user id is kept: once learned it never changes.
	Reset(ctx context.Context, identity string) error
	Delete(ctx context.Context, identity string) error

	// ListExpired returns activated, not yet revoked members whose
	// window elapsed at or before asOf.
	ListExpired(ctx context.Context, asOf time.Time) ([]Member, error)
	// ListNearExpiry returns active, unwarned members whose window
	// ends within the lead duration after asOf.
	ListNearExpiry(ctx context.Context, asOf time.Time, within time.Duration) ([]Member, error)
	// ListActive returns members whose window covers asOf.
	ListActive(ctx context.Context, asOf time.Time) ([]Member, error)
	ListKnown(ctx context.Context) ([]Member, error)
	Counts(ctx context.Context, asOf time.Time) (MemberCounts, error)
}
