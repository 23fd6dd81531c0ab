package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	server "github.com/charadev96/gatehouse/internal/server/domain"
	shared "github.com/charadev96/gatehouse/internal/shared/domain"
)

// Reconciler reacts to membership-change notifications pushed by the
// platform. Join events activate subscription windows; everything it
// cannot account for is escalated to operators rather than resolved
// silently.
type Reconciler struct {
	Members     server.MemberRepository
	Platform    server.ChatPlatform
	Notify      *Notifier
	Channel     string
	Term        time.Duration
	Policy      server.StrangerPolicy
	CallTimeout time.Duration
	Logger      *zerolog.Logger

	Now func() time.Time
}

func (r *Reconciler) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

// HandleEvent processes one membership event. Events arrive at the
// platform's own pace, arbitrarily interleaved with sweeper runs, so
// every transition is guarded by the store's conditional writes and a
// duplicate event is a no-op.
func (r *Reconciler) HandleEvent(ctx context.Context, ev server.MembershipEvent) error {
	switch ev.Kind {
	case server.EventJoined:
		return r.handleJoin(ctx, ev)
	case server.EventLeft:
		return r.handleLeave(ctx, ev)
	}
	return nil
}

func (r *Reconciler) handleJoin(ctx context.Context, ev server.MembershipEvent) error {
	now := r.now()
	m, err := r.lookup(ctx, ev)
	if err != nil {
		if errors.Is(err, shared.ErrNotExist) {
			return r.handleStranger(ctx, ev)
		}
		return err
	}

	if m.PlatformUserID != 0 && m.PlatformUserID != ev.UserID {
		r.Logger.Error().
			Str("identity", m.Identity).
			Int64("known_user_id", m.PlatformUserID).
			Int64("event_user_id", ev.UserID).
			Msg("join event user id does not match stored user id")
		r.Notify.Operators(ctx, fmt.Sprintf(
			"Anomaly: identity %q joined with platform id %d but is recorded as %d. Not touching the record.",
			m.Identity, ev.UserID, m.PlatformUserID))
		return server.ErrIdentityMismatch
	}

	switch m.State(now) {
	case server.StateActive:
		// Duplicate join. The window is neither extended nor
		// shortened.
		r.Logger.Debug().
			Str("identity", m.Identity).
			Msg("join event for already active member")
		return nil
	case server.StateExpired:
		r.Logger.Warn().
			Str("identity", m.Identity).
			Int64("user_id", ev.UserID).
			Msg("member rejoined after expiry")
		r.Notify.Operators(ctx, fmt.Sprintf(
			"Member %q rejoined after their subscription expired. Reissue explicitly if access should be restored.",
			m.Identity))
		return nil
	}

	until := now.Add(r.Term)
	err = r.Members.ActivateSubscription(ctx, m.Identity, ev.UserID, now, until)
	if err != nil {
		if errors.Is(err, shared.ErrStale) {
			// A concurrent duplicate of this event won the race;
			// the window it wrote stands.
			r.Logger.Debug().
				Str("identity", m.Identity).
				Msg("subscription already activated concurrently")
			return nil
		}
		return fmt.Errorf("failed to activate subscription: %w", err)
	}

	r.Logger.Info().
		Str("identity", m.Identity).
		Int64("user_id", ev.UserID).
		Time("expires_at", until).
		Msg("subscription activated")
	r.Notify.Member(ctx, ev.UserID, fmt.Sprintf(
		"Welcome! Your access is active until %s.", r.Notify.FormatTime(until)))
	return nil
}

func (r *Reconciler) handleLeave(ctx context.Context, ev server.MembershipEvent) error {
	m, err := r.lookup(ctx, ev)
	if err != nil {
		if errors.Is(err, shared.ErrNotExist) {
			return nil
		}
		return err
	}
	if !m.RevokedAt.IsZero() {
		// The leave is the echo of a revocation already recorded.
		return nil
	}
	// Nothing to mutate here: if the member left on their own before
	// expiry the sweeper later finds them absent and still records
	// the revocation at the deadline.
	r.Logger.Info().
		Str("identity", m.Identity).
		Int64("user_id", ev.UserID).
		Msg("member left the channel")
	return nil
}

// handleStranger applies the configured policy to a joiner the store
// knows nothing about.
func (r *Reconciler) handleStranger(ctx context.Context, ev server.MembershipEvent) error {
	r.Logger.Warn().
		Str("identity", ev.Identity).
		Int64("user_id", ev.UserID).
		Str("policy", r.Policy.String()).
		Msg("unrecognized joiner")

	if r.Policy == server.StrangerRemove {
		callCtx, cancel := context.WithTimeout(ctx, r.CallTimeout)
		defer cancel()
		if err := r.Platform.RemoveMember(callCtx, r.Channel, ev.UserID); err != nil {
			r.Notify.Operators(ctx, fmt.Sprintf(
				"Unknown user %q (id %d) joined and could not be removed: %v.",
				ev.Identity, ev.UserID, err))
			return fmt.Errorf("failed to remove unrecognized joiner: %w", err)
		}
		if err := r.Platform.UnbanMember(callCtx, r.Channel, ev.UserID); err != nil {
			r.Logger.Warn().
				Err(err).
				Int64("user_id", ev.UserID).
				Msg("failed to lift ban after removing stranger")
		}
		r.Notify.Operators(ctx, fmt.Sprintf(
			"Unknown user %q (id %d) joined and was removed.", ev.Identity, ev.UserID))
		return nil
	}

	r.Notify.Operators(ctx, fmt.Sprintf(
		"Unknown user %q (id %d) joined the channel. They are not in the member store; decide whether to remove them.",
		ev.Identity, ev.UserID))
	return nil
}

// lookup resolves the event's subject: by identity when the event
// carries a handle, falling back to the pinned platform user id for
// users without one.
func (r *Reconciler) lookup(ctx context.Context, ev server.MembershipEvent) (server.Member, error) {
	if ev.Identity != "" {
		m, err := r.Members.GetByIdentity(ctx, ev.Identity)
		if err == nil || !errors.Is(err, shared.ErrNotExist) {
			return m, err
		}
	}
	return r.Members.GetByPlatformUserID(ctx, ev.UserID)
}
