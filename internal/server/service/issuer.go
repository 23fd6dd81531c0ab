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

// Issuer mints single-use join credentials. The roster check inside
// RequestInvitation is the sole admission control: the platform itself
// has no gate.
type Issuer struct {
	Members     server.MemberRepository
	Platform    server.ChatPlatform
	Notify      *Notifier
	Channel     string
	InviteTTL   time.Duration
	CallTimeout time.Duration
	Logger      *zerolog.Logger

	// Now is injectable for deterministic tests.
	Now func() time.Time
}

func (s *Issuer) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// RequestInvitation handles an identity claim. One invitation per
// lifetime: once a link was minted for an identity, self-service never
// mints another, whether or not the first was used. A new cycle
// requires the operator Reissue.
func (s *Issuer) RequestInvitation(ctx context.Context, identity string) (server.Invite, error) {
	identity = server.NormalizeIdentity(identity)
	now := s.now()

	m, err := s.Members.GetByIdentity(ctx, identity)
	if err != nil {
		if errors.Is(err, shared.ErrNotExist) {
			s.Logger.Warn().
				Str("identity", identity).
				Msg("invitation requested by identity not on roster")
			s.Notify.Operators(ctx, fmt.Sprintf(
				"Access request from unknown identity %q was denied.", identity))
			return server.Invite{}, server.ErrNotOnRoster
		}
		return server.Invite{}, err
	}

	switch m.State(now) {
	case server.StateActive:
		return server.Invite{}, server.ErrAlreadyActive
	case server.StateInvited, server.StateExpired:
		return server.Invite{}, server.ErrAlreadyIssued
	}

	callCtx, cancel := context.WithTimeout(ctx, s.CallTimeout)
	defer cancel()
	inv, err := s.Platform.CreateInvite(callCtx, s.Channel, s.InviteTTL)
	if err != nil {
		return server.Invite{}, fmt.Errorf("failed to create invite: %w", err)
	}

	// Persist last: if the write fails the fresh link is an orphan
	// bounded by its own short expiry, and the caller may retry.
	if err := s.Members.SetInvitation(ctx, identity, inv.Link, now, inv.ExpiresAt); err != nil {
		if errors.Is(err, shared.ErrStale) {
			// Another issuance or a concurrent activation won the
			// race. Withdraw the fresh link, best effort.
			if rerr := s.Platform.RevokeInvite(callCtx, s.Channel, inv.Link); rerr != nil {
				s.Logger.Warn().
					Err(rerr).
					Str("identity", identity).
					Msg("failed to revoke orphaned invite link")
			}
			return server.Invite{}, server.ErrAlreadyIssued
		}
		return server.Invite{}, fmt.Errorf("failed to persist invitation: %w", err)
	}

	s.Logger.Info().
		Str("identity", identity).
		Time("link_expires_at", inv.ExpiresAt).
		Msg("issued invitation")
	return inv, nil
}

// Reissue is the explicit operator action that starts a new cycle for
// an identity: the outstanding link (if any) is withdrawn on the
// platform and the invitation, subscription, revocation and warning
// fields are cleared. The platform user id is kept.
func (s *Issuer) Reissue(ctx context.Context, identity string) error {
	identity = server.NormalizeIdentity(identity)
	m, err := s.Members.GetByIdentity(ctx, identity)
	if err != nil {
		return err
	}

	if m.InviteLink != "" {
		callCtx, cancel := context.WithTimeout(ctx, s.CallTimeout)
		err := s.Platform.RevokeInvite(callCtx, s.Channel, m.InviteLink)
		cancel()
		if err != nil {
			s.Logger.Warn().
				Err(err).
				Str("identity", identity).
				Msg("failed to revoke previous invite link")
		}
	}

	if err := s.Members.Reset(ctx, identity); err != nil {
		return fmt.Errorf("failed to reset member: %w", err)
	}
	s.Logger.Info().
		Str("identity", identity).
		Msg("cleared invitation cycle for reissue")
	return nil
}

// Withdraw removes an identity from the roster entirely, revoking any
// outstanding invite link first.
func (s *Issuer) Withdraw(ctx context.Context, identity string) error {
	identity = server.NormalizeIdentity(identity)
	m, err := s.Members.GetByIdentity(ctx, identity)
	if err != nil {
		return err
	}

	if m.InviteLink != "" {
		callCtx, cancel := context.WithTimeout(ctx, s.CallTimeout)
		err := s.Platform.RevokeInvite(callCtx, s.Channel, m.InviteLink)
		cancel()
		if err != nil {
			s.Logger.Warn().
				Err(err).
				Str("identity", identity).
				Msg("failed to revoke invite link on withdraw")
		}
	}

	return s.Members.Delete(ctx, identity)
}
