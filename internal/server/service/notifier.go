package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	server "github.com/charadev96/gatehouse/internal/server/domain"
)

// Notifier delivers human-readable status messages. Delivery is
// fire-and-forget: failures are logged at warn level and never
// propagated to the caller.
type Notifier struct {
	Platform    server.ChatPlatform
	OperatorIDs []int64
	// Location is the display timezone. Timestamps are stored and
	// compared in UTC everywhere; conversion happens only here, when
	// rendering text for humans.
	Location *time.Location
	Logger   *zerolog.Logger
}

func (n *Notifier) Member(ctx context.Context, userID int64, text string) {
	if userID == 0 {
		return
	}
	if err := n.Platform.SendDirectMessage(ctx, userID, text); err != nil {
		n.Logger.Warn().
			Err(err).
			Int64("user_id", userID).
			Msg("failed to notify member")
	}
}

func (n *Notifier) Operators(ctx context.Context, text string) {
	for _, id := range n.OperatorIDs {
		if err := n.Platform.SendDirectMessage(ctx, id, text); err != nil {
			n.Logger.Warn().
				Err(err).
				Int64("operator_id", id).
				Msg("failed to alert operator")
		}
	}
}

// FormatTime renders a UTC instant in the display timezone.
func (n *Notifier) FormatTime(t time.Time) string {
	loc := n.Location
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02 15:04 MST")
}
