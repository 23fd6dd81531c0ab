package domain

import "errors"

// Admission errors. These are user-caused denials: the caller gets a
// clear message and nothing is retried.
var (
	// ErrNotOnRoster: the identity is unknown. The roster is the sole
	// admission control, so unrecognized requesters are also flagged
	// to operators by the issuer.
	ErrNotOnRoster = errors.New("not on the roster")
	// ErrAlreadyIssued: an invitation was already minted for this
	// identity. The policy is one invitation per lifetime; a new
	// cycle requires an operator reissue.
	ErrAlreadyIssued = errors.New("invitation already issued")
	// ErrAlreadyActive: the subscription window is running.
	ErrAlreadyActive = errors.New("subscription already active")
)

// ErrIdentityMismatch: a join event carried a platform user id that
// differs from the one already pinned to the identity. Never resolved
// automatically, always escalated.
var ErrIdentityMismatch = errors.New("platform user id mismatch")

// ErrUnsupported is returned by platform capabilities the concrete
// adapter cannot provide (for example member enumeration).
var ErrUnsupported = errors.New("unsupported by platform")
