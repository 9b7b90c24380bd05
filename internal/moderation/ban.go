package moderation

import (
	"fmt"
	"time"

	"github.com/parley/chat-server/internal/errs"
)

// SystemActor is the acting-user id recorded on automatic bans.
const SystemActor = "system"

// Reason categorizes why a ban was issued.
type Reason string

const (
	ReasonManualAdmin     Reason = "manual-admin"
	ReasonSpam            Reason = "spam"
	ReasonHarassment      Reason = "harassment"
	ReasonInappropriate   Reason = "inappropriate-content"
	ReasonTermsViolation  Reason = "terms-violation"
	ReasonMultipleReports Reason = "multiple-reports"
)

// ParseReason validates the wire representation of a ban reason.
func ParseReason(s string) (Reason, error) {
	switch r := Reason(s); r {
	case ReasonManualAdmin, ReasonSpam, ReasonHarassment,
		ReasonInappropriate, ReasonTermsViolation, ReasonMultipleReports:
		return r, nil
	}
	return "", fmt.Errorf("moderation: unknown ban reason %q: %w", s, errs.ErrInvalidRequest)
}

// Ban is a durable moderation record. Bans are soft-deleted: Active flips to
// false on unban, the row is never removed, preserving the audit trail.
type Ban struct {
	ID          string
	UserID      string
	BannedBy    string // SystemActor for automatic bans
	Reason      Reason
	Scope       Scope
	CreatedAt   time.Time
	ExpiresAt   *time.Time // nil = never expires
	Active      bool
	ReporterIDs []string // contributing reporters, automatic bans only
}

// Expired reports whether the ban's expiry has passed at the given instant.
// Expiry is evaluated lazily at query time; the stored Active flag is not
// rewritten by a background sweep.
func (b *Ban) Expired(now time.Time) bool {
	return b.ExpiresAt != nil && b.ExpiresAt.Before(now)
}

// InEffect reports whether the ban blocks actions at the given instant.
func (b *Ban) InEffect(now time.Time) bool {
	return b.Active && !b.Expired(now)
}

// Report is one community report of a user within a scope. At most one
// report exists per (reporter, reported, scope) tuple.
type Report struct {
	ReporterID string
	ReportedID string
	Scope      Scope
	CreatedAt  time.Time
}
