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

// Sweeper is the periodic reconciliation loop: it warns members whose
// window is about to elapse, revokes access once it has, and reports
// drift between the platform's membership and the store. Every
// mutation is guarded by the persisted state, so back-to-back runs are
// no-ops and a run interleaved with the reconciler cannot double-fire.
type Sweeper struct {
	Members     server.MemberRepository
	Platform    server.ChatPlatform
	Notify      *Notifier
	Channel     string
	WarnLead    time.Duration
	Policy      server.StrangerPolicy
	CallTimeout time.Duration
	Logger      *zerolog.Logger
	Metrics     *Metrics

	Now func() time.Time
}

func (s *Sweeper) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Run executes one sweep. A failing platform call affects only the
// member it was made for; the member is retried on the next cycle.
// The returned error covers only store-level failures that abort the
// whole run.
func (s *Sweeper) Run(ctx context.Context) error {
	asOf := s.now()
	s.Logger.Debug().Time("as_of", asOf).Msg("sweep started")

	if err := s.warnPhase(ctx, asOf); err != nil {
		return err
	}
	if err := s.revokePhase(ctx, asOf); err != nil {
		return err
	}
	s.driftPhase(ctx, asOf)
	return nil
}

// warnPhase sends the single near-expiry warning. The flag is set
// before delivery is attempted: two sweeps in immediate succession
// must not warn twice, and a lost best-effort message is acceptable
// where a duplicate is not.
func (s *Sweeper) warnPhase(ctx context.Context, asOf time.Time) error {
	members, err := s.Members.ListNearExpiry(ctx, asOf, s.WarnLead)
	if err != nil {
		return fmt.Errorf("failed to list near-expiry members: %w", err)
	}
	for _, m := range members {
		if err := s.Members.MarkWarned(ctx, m.Identity); err != nil {
			if errors.Is(err, shared.ErrStale) {
				continue
			}
			s.Logger.Error().
				Err(err).
				Str("identity", m.Identity).
				Msg("failed to mark member warned")
			continue
		}
		s.Metrics.inc(s.Metrics.Warnings)
		callCtx, cancel := context.WithTimeout(ctx, s.CallTimeout)
		s.Notify.Member(callCtx, m.PlatformUserID, fmt.Sprintf(
			"Heads up: your access expires at %s.", s.Notify.FormatTime(m.ExpiresAt)))
		cancel()
		s.Logger.Info().
			Str("identity", m.Identity).
			Time("expires_at", m.ExpiresAt).
			Msg("sent expiry warning")
	}
	return nil
}

// revokePhase removes every member whose window elapsed. The store
// reaches the same terminal state whether or not a platform-side
// removal was needed.
func (s *Sweeper) revokePhase(ctx context.Context, asOf time.Time) error {
	members, err := s.Members.ListExpired(ctx, asOf)
	if err != nil {
		return fmt.Errorf("failed to list expired members: %w", err)
	}
	for _, m := range members {
		s.revokeOne(ctx, asOf, m)
	}
	return nil
}

func (s *Sweeper) revokeOne(ctx context.Context, asOf time.Time, m server.Member) {
	callCtx, cancel := context.WithTimeout(ctx, s.CallTimeout)
	defer cancel()

	status, err := s.Platform.MembershipStatus(callCtx, s.Channel, m.PlatformUserID)
	if err != nil {
		s.Metrics.inc(s.Metrics.PlatformErrors)
		s.Logger.Warn().
			Err(err).
			Str("identity", m.Identity).
			Msg("failed to check membership, retrying next sweep")
		return
	}

	if status.Present {
		// Remove then immediately unban: a kick, not a permanent
		// block.
		if err := s.Platform.RemoveMember(callCtx, s.Channel, m.PlatformUserID); err != nil {
			s.Metrics.inc(s.Metrics.PlatformErrors)
			s.Logger.Error().
				Err(err).
				Str("identity", m.Identity).
				Int64("user_id", m.PlatformUserID).
				Msg("failed to remove expired member")
			s.Notify.Operators(ctx, fmt.Sprintf(
				"Could not remove expired member %q (id %d): %v.",
				m.Identity, m.PlatformUserID, err))
			return
		}
		if err := s.Platform.UnbanMember(callCtx, s.Channel, m.PlatformUserID); err != nil {
			s.Logger.Warn().
				Err(err).
				Str("identity", m.Identity).
				Msg("failed to lift ban after removal")
		}
	}

	if err := s.Members.MarkRevoked(ctx, m.Identity, asOf); err != nil {
		if errors.Is(err, shared.ErrStale) {
			return
		}
		s.Logger.Error().
			Err(err).
			Str("identity", m.Identity).
			Msg("failed to record revocation")
		return
	}
	s.Metrics.inc(s.Metrics.Revocations)
	s.Logger.Info().
		Str("identity", m.Identity).
		Int64("user_id", m.PlatformUserID).
		Msg("subscription expired, access revoked")
	s.Notify.Member(ctx, m.PlatformUserID,
		"Your subscription has ended and channel access was removed. Contact an operator to renew.")
}

// driftPhase looks for channel members the store does not currently
// authorize. Administrators are exempt. Failures here only log: drift
// detection is advisory and must never block expiry enforcement.
func (s *Sweeper) driftPhase(ctx context.Context, asOf time.Time) {
	callCtx, cancel := context.WithTimeout(ctx, s.CallTimeout)
	defer cancel()

	admins, err := s.Platform.Administrators(callCtx, s.Channel)
	if err != nil {
		s.Metrics.inc(s.Metrics.PlatformErrors)
		s.Logger.Warn().Err(err).Msg("failed to list administrators, skipping drift check")
		return
	}

	active, err := s.Members.ListActive(ctx, asOf)
	if err != nil {
		s.Logger.Error().Err(err).Msg("failed to list active members, skipping drift check")
		return
	}
	allowed := make(map[int64]struct{}, len(active))
	for _, m := range active {
		if m.PlatformUserID != 0 {
			allowed[m.PlatformUserID] = struct{}{}
		}
	}

	for _, present := range s.presentMembers(ctx, asOf) {
		if _, ok := admins[present.UserID]; ok || present.Admin {
			continue
		}
		if _, ok := allowed[present.UserID]; ok {
			continue
		}
		s.handleDrift(ctx, present)
	}
}

// presentMembers prefers platform enumeration and falls back to
// probing every store-known user id when the adapter cannot list.
func (s *Sweeper) presentMembers(ctx context.Context, asOf time.Time) []server.ChannelMember {
	callCtx, cancel := context.WithTimeout(ctx, s.CallTimeout)
	members, err := s.Platform.ListMembers(callCtx, s.Channel)
	cancel()
	if err == nil {
		return members
	}
	if !errors.Is(err, server.ErrUnsupported) {
		s.Metrics.inc(s.Metrics.PlatformErrors)
		s.Logger.Warn().Err(err).Msg("failed to enumerate channel members")
		return nil
	}

	known, err := s.Members.ListKnown(ctx)
	if err != nil {
		s.Logger.Error().Err(err).Msg("failed to list known members")
		return nil
	}
	var present []server.ChannelMember
	for _, m := range known {
		if m.PlatformUserID == 0 {
			continue
		}
		callCtx, cancel := context.WithTimeout(ctx, s.CallTimeout)
		status, err := s.Platform.MembershipStatus(callCtx, s.Channel, m.PlatformUserID)
		cancel()
		if err != nil {
			s.Metrics.inc(s.Metrics.PlatformErrors)
			s.Logger.Warn().
				Err(err).
				Str("identity", m.Identity).
				Msg("failed to check presence during drift scan")
			continue
		}
		if status.Present {
			present = append(present, server.ChannelMember{
				Identity: m.Identity,
				UserID:   m.PlatformUserID,
				Admin:    status.Admin,
			})
		}
	}
	return present
}

func (s *Sweeper) handleDrift(ctx context.Context, member server.ChannelMember) {
	s.Metrics.inc(s.Metrics.DriftAlerts)
	s.Logger.Warn().
		Str("identity", member.Identity).
		Int64("user_id", member.UserID).
		Str("policy", s.Policy.String()).
		Msg("unauthorized presence in channel")

	if s.Policy == server.StrangerRemove {
		callCtx, cancel := context.WithTimeout(ctx, s.CallTimeout)
		defer cancel()
		if err := s.Platform.RemoveMember(callCtx, s.Channel, member.UserID); err != nil {
			s.Metrics.inc(s.Metrics.PlatformErrors)
			s.Notify.Operators(ctx, fmt.Sprintf(
				"Unauthorized user %q (id %d) is in the channel and could not be removed: %v.",
				member.Identity, member.UserID, err))
			return
		}
		if err := s.Platform.UnbanMember(callCtx, s.Channel, member.UserID); err != nil {
			s.Logger.Warn().
				Err(err).
				Int64("user_id", member.UserID).
				Msg("failed to lift ban after drift removal")
		}
		s.Notify.Operators(ctx, fmt.Sprintf(
			"Unauthorized user %q (id %d) was removed from the channel.",
			member.Identity, member.UserID))
		return
	}

	s.Notify.Operators(ctx, fmt.Sprintf(
		"Unauthorized user %q (id %d) is present in the channel but has no active subscription. Decide whether to remove them.",
		member.Identity, member.UserID))
}
