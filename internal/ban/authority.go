// Package ban implements the ban authority: validation and persistence of
// manual bans, automatic bans triggered by the report ledger, unbans, and
// the "is this user allowed to act" gate every mutating realtime operation
// passes through.
package ban

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/parley/chat-server/internal/errs"
	"github.com/parley/chat-server/internal/kmutex"
	"github.com/parley/chat-server/internal/metrics"
	"github.com/parley/chat-server/internal/moderation"
)

// Store is the durable-store slice the authority consumes.
type Store interface {
	UserExists(ctx context.Context, userID string) (bool, error)
	GroupExists(ctx context.Context, groupID string) (bool, error)
	FindActiveBan(ctx context.Context, userID string, scope moderation.Scope) (*moderation.Ban, error)
	AppendBan(ctx context.Context, b *moderation.Ban) error
	GetBan(ctx context.Context, banID string) (*moderation.Ban, error)
	DeactivateBan(ctx context.Context, banID string) error
	ListBans(ctx context.Context) ([]*moderation.Ban, error)
	ListBansForUser(ctx context.Context, userID string) ([]*moderation.Ban, error)
}

// Events receives moderation lifecycle notifications. Publication is
// fire-and-forget; a failing publisher never fails the operation.
type Events interface {
	BanCreated(b *moderation.Ban)
	BanLifted(b *moderation.Ban, actorID string)
}

// Authority validates and persists bans and answers ban queries.
type Authority struct {
	store  Store
	events Events
	locks  *kmutex.KeyedMutex
	now    func() time.Time
}

// New creates an Authority over the given store. events may be nil.
func New(store Store, events Events) *Authority {
	return &Authority{
		store:  store,
		events: events,
		locks:  kmutex.New(),
		now:    time.Now,
	}
}

func lockKey(userID string, scope moderation.Scope) string {
	return userID + "|" + scope.String()
}

// Ban creates a manual ban of target by actor. It fails with ErrNotFound
// when either party (or the scoped group) is unknown, ErrInvalidRequest on
// self-ban, and ErrConflict when an active ban already covers (target,
// scope).
func (a *Authority) Ban(ctx context.Context, targetID, actorID string, reason moderation.Reason, scope moderation.Scope, expiresAt *time.Time) (*moderation.Ban, error) {
	if targetID == actorID {
		return nil, fmt.Errorf("ban: user %s cannot ban themselves: %w", targetID, errs.ErrInvalidRequest)
	}
	for _, id := range []string{targetID, actorID} {
		exists, err := a.store.UserExists(ctx, id)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("ban: user %s: %w", id, errs.ErrNotFound)
		}
	}
	if !scope.IsGlobal() {
		exists, err := a.store.GroupExists(ctx, scope.GroupID())
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("ban: group %s: %w", scope.GroupID(), errs.ErrNotFound)
		}
	}
	return a.create(ctx, targetID, actorID, reason, scope, expiresAt, nil)
}

// AutoBan creates a system ban from an accumulated report batch, carrying
// the contributing reporter ids as the audit trail. The report ledger is
// the only caller.
func (a *Authority) AutoBan(ctx context.Context, targetID string, scope moderation.Scope, reporterIDs []string) (*moderation.Ban, error) {
	return a.create(ctx, targetID, moderation.SystemActor, moderation.ReasonMultipleReports, scope, nil, reporterIDs)
}

// create inserts a ban under the (target, scope) key lock so two concurrent
// attempts cannot both pass the conflict check.
func (a *Authority) create(ctx context.Context, targetID, actorID string, reason moderation.Reason, scope moderation.Scope, expiresAt *time.Time, reporterIDs []string) (*moderation.Ban, error) {
	key := lockKey(targetID, scope)
	a.locks.Lock(key)
	defer a.locks.Unlock(key)

	existing, err := a.store.FindActiveBan(ctx, targetID, scope)
	if err != nil {
		return nil, err
	}
	if existing != nil && !existing.Expired(a.now()) {
		return nil, fmt.Errorf("ban: user %s already banned in scope %s: %w", targetID, scope, errs.ErrConflict)
	}
	if existing != nil {
		// The prior ban expired; retire its row so the new one becomes the
		// single stored-active ban for the pair.
		if err := a.store.DeactivateBan(ctx, existing.ID); err != nil {
			return nil, err
		}
	}

	b := &moderation.Ban{
		ID:          uuid.New().String(),
		UserID:      targetID,
		BannedBy:    actorID,
		Reason:      reason,
		Scope:       scope,
		CreatedAt:   a.now(),
		ExpiresAt:   expiresAt,
		Active:      true,
		ReporterIDs: reporterIDs,
	}
	if err := a.store.AppendBan(ctx, b); err != nil {
		return nil, err
	}

	log.Printf("ban: user=%s scope=%s reason=%s by=%s", targetID, scope, reason, actorID)
	metrics.BansTotal.WithLabelValues(string(reason)).Inc()
	if a.events != nil {
		a.events.BanCreated(b)
	}
	return b, nil
}

// Unban deactivates an active ban (soft delete). It fails with ErrNotFound
// when no active ban with that id exists.
func (a *Authority) Unban(ctx context.Context, banID, actorID string) error {
	b, err := a.store.GetBan(ctx, banID)
	if err != nil {
		return err
	}
	if !b.Active {
		return fmt.Errorf("ban: %s is not active: %w", banID, errs.ErrNotFound)
	}

	key := lockKey(b.UserID, b.Scope)
	a.locks.Lock(key)
	defer a.locks.Unlock(key)

	if err := a.store.DeactivateBan(ctx, banID); err != nil {
		return err
	}

	log.Printf("ban: lifted id=%s user=%s scope=%s by=%s", banID, b.UserID, b.Scope, actorID)
	if a.events != nil {
		b.Active = false
		a.events.BanLifted(b, actorID)
	}
	return nil
}

// IsBanned evaluates the user's effective block status for a scope: an
// in-effect global ban blocks everywhere; an in-effect group ban blocks
// that group. Bans past their expiry read as inactive even though the
// stored active flag is still true.
func (a *Authority) IsBanned(ctx context.Context, userID string, scope moderation.Scope) (bool, error) {
	now := a.now()

	global, err := a.store.FindActiveBan(ctx, userID, moderation.GlobalScope())
	if err != nil {
		return false, err
	}
	if global != nil && global.InEffect(now) {
		return true, nil
	}
	if scope.IsGlobal() {
		return false, nil
	}

	group, err := a.store.FindActiveBan(ctx, userID, scope)
	if err != nil {
		return false, err
	}
	return group != nil && group.InEffect(now), nil
}

// AssertAllowed is the gate every mutating realtime or group operation
// calls: it fails with ErrForbidden when the user is blocked in the scope.
func (a *Authority) AssertAllowed(ctx context.Context, userID string, scope moderation.Scope) error {
	banned, err := a.IsBanned(ctx, userID, scope)
	if err != nil {
		return err
	}
	if banned {
		return fmt.Errorf("ban: user %s is banned in scope %s: %w", userID, scope, errs.ErrForbidden)
	}
	return nil
}

// ListBans returns every ban record for the admin surface.
func (a *Authority) ListBans(ctx context.Context) ([]*moderation.Ban, error) {
	return a.store.ListBans(ctx)
}

// ListBansForUser returns one user's ban history for the admin surface.
func (a *Authority) ListBansForUser(ctx context.Context, userID string) ([]*moderation.Ban, error) {
	return a.store.ListBansForUser(ctx, userID)
}
