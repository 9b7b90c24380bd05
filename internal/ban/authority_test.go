package ban

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/parley/chat-server/internal/errs"
	"github.com/parley/chat-server/internal/moderation"
)

// memStore is an in-memory Store for authority tests.
type memStore struct {
	mu     sync.Mutex
	users  map[string]bool
	groups map[string]bool
	bans   map[string]*moderation.Ban
}

func newMemStore(users ...string) *memStore {
	s := &memStore{
		users:  make(map[string]bool),
		groups: make(map[string]bool),
		bans:   make(map[string]*moderation.Ban),
	}
	for _, u := range users {
		s.users[u] = true
	}
	return s
}

func (s *memStore) addGroup(id string) { s.groups[id] = true }

func (s *memStore) UserExists(ctx context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[userID], nil
}

func (s *memStore) GroupExists(ctx context.Context, groupID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groups[groupID], nil
}

func (s *memStore) FindActiveBan(ctx context.Context, userID string, scope moderation.Scope) (*moderation.Ban, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bans {
		if b.Active && b.UserID == userID && b.Scope == scope {
			cp := *b
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) AppendBan(ctx context.Context, b *moderation.Ban) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	s.bans[b.ID] = &cp
	return nil
}

func (s *memStore) GetBan(ctx context.Context, banID string) (*moderation.Ban, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bans[banID]
	if !ok {
		return nil, fmt.Errorf("ban %s: %w", banID, errs.ErrNotFound)
	}
	cp := *b
	return &cp, nil
}

func (s *memStore) DeactivateBan(ctx context.Context, banID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bans[banID]
	if !ok || !b.Active {
		return fmt.Errorf("ban %s: %w", banID, errs.ErrNotFound)
	}
	b.Active = false
	return nil
}

func (s *memStore) ListBans(ctx context.Context) ([]*moderation.Ban, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*moderation.Ban, 0, len(s.bans))
	for _, b := range s.bans {
		cp := *b
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memStore) ListBansForUser(ctx context.Context, userID string) ([]*moderation.Ban, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*moderation.Ban
	for _, b := range s.bans {
		if b.UserID == userID {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func TestBan_Manual(t *testing.T) {
	store := newMemStore("target", "admin")
	a := New(store, nil)

	b, err := a.Ban(context.Background(), "target", "admin", moderation.ReasonHarassment, moderation.GlobalScope(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.UserID != "target" || b.BannedBy != "admin" {
		t.Errorf("wrong parties on ban: %+v", b)
	}
	if !b.Active {
		t.Error("new ban must be active")
	}
	if b.ExpiresAt != nil {
		t.Error("expected permanent ban")
	}

	banned, err := a.IsBanned(context.Background(), "target", moderation.GlobalScope())
	if err != nil {
		t.Fatalf("IsBanned failed: %v", err)
	}
	if !banned {
		t.Error("expected target banned")
	}
}

func TestBan_SelfBanRejected(t *testing.T) {
	a := New(newMemStore("u1"), nil)

	_, err := a.Ban(context.Background(), "u1", "u1", moderation.ReasonSpam, moderation.GlobalScope(), nil)
	if !errors.Is(err, errs.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestBan_UnknownParties(t *testing.T) {
	a := New(newMemStore("admin"), nil)

	_, err := a.Ban(context.Background(), "ghost", "admin", moderation.ReasonSpam, moderation.GlobalScope(), nil)
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown target, got %v", err)
	}

	_, err = a.Ban(context.Background(), "admin", "ghost", moderation.ReasonSpam, moderation.GlobalScope(), nil)
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown actor, got %v", err)
	}
}

func TestBan_UnknownGroup(t *testing.T) {
	a := New(newMemStore("target", "admin"), nil)

	_, err := a.Ban(context.Background(), "target", "admin", moderation.ReasonSpam, moderation.GroupScope("nope"), nil)
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown group, got %v", err)
	}
}

func TestBan_DuplicateActiveBanConflicts(t *testing.T) {
	a := New(newMemStore("target", "admin"), nil)

	if _, err := a.Ban(context.Background(), "target", "admin", moderation.ReasonSpam, moderation.GlobalScope(), nil); err != nil {
		t.Fatalf("first ban failed: %v", err)
	}
	_, err := a.Ban(context.Background(), "target", "admin", moderation.ReasonSpam, moderation.GlobalScope(), nil)
	if !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

// A global ban and a group ban for the same user are different keys.
func TestBan_ScopesDoNotConflict(t *testing.T) {
	store := newMemStore("target", "admin")
	store.addGroup("g1")
	a := New(store, nil)

	if _, err := a.Ban(context.Background(), "target", "admin", moderation.ReasonSpam, moderation.GroupScope("g1"), nil); err != nil {
		t.Fatalf("group ban failed: %v", err)
	}
	if _, err := a.Ban(context.Background(), "target", "admin", moderation.ReasonSpam, moderation.GlobalScope(), nil); err != nil {
		t.Fatalf("global ban alongside group ban failed: %v", err)
	}
}

func TestUnban_ThenRebanSucceeds(t *testing.T) {
	a := New(newMemStore("target", "admin"), nil)

	b, err := a.Ban(context.Background(), "target", "admin", moderation.ReasonSpam, moderation.GlobalScope(), nil)
	if err != nil {
		t.Fatalf("ban failed: %v", err)
	}

	if err := a.Unban(context.Background(), b.ID, "admin"); err != nil {
		t.Fatalf("unban failed: %v", err)
	}

	banned, _ := a.IsBanned(context.Background(), "target", moderation.GlobalScope())
	if banned {
		t.Error("expected target unbanned")
	}

	// Unbanning the same ban again is ErrNotFound.
	if err := a.Unban(context.Background(), b.ID, "admin"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for repeated unban, got %v", err)
	}

	if _, err := a.Ban(context.Background(), "target", "admin", moderation.ReasonSpam, moderation.GlobalScope(), nil); err != nil {
		t.Fatalf("re-ban after unban failed: %v", err)
	}
}

func TestUnban_UnknownBan(t *testing.T) {
	a := New(newMemStore("u1"), nil)

	if err := a.Unban(context.Background(), "missing", "admin"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// An expired ban reads as not banned even while its stored active flag is
// still set, and a new ban for the pair retires the stale row.
func TestIsBanned_LazyExpiry(t *testing.T) {
	store := newMemStore("target", "admin")
	a := New(store, nil)

	base := time.Now()
	a.now = func() time.Time { return base }

	exp := base.Add(time.Hour)
	b, err := a.Ban(context.Background(), "target", "admin", moderation.ReasonSpam, moderation.GlobalScope(), &exp)
	if err != nil {
		t.Fatalf("ban failed: %v", err)
	}

	banned, _ := a.IsBanned(context.Background(), "target", moderation.GlobalScope())
	if !banned {
		t.Fatal("expected ban in effect before expiry")
	}

	// Advance past the expiry.
	a.now = func() time.Time { return base.Add(2 * time.Hour) }

	banned, _ = a.IsBanned(context.Background(), "target", moderation.GlobalScope())
	if banned {
		t.Fatal("expected expired ban to read as not banned")
	}

	// A new ban replaces the stale stored-active row.
	nb, err := a.Ban(context.Background(), "target", "admin", moderation.ReasonHarassment, moderation.GlobalScope(), nil)
	if err != nil {
		t.Fatalf("ban over expired ban failed: %v", err)
	}
	old, err := store.GetBan(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("old ban lookup failed: %v", err)
	}
	if old.Active {
		t.Error("expected the expired ban row deactivated")
	}
	if nb.ID == b.ID {
		t.Error("expected a fresh ban row")
	}
}

// A global ban blocks every scope; a group ban blocks only its group.
func TestIsBanned_ScopeEffectiveness(t *testing.T) {
	store := newMemStore("target", "admin")
	store.addGroup("g1")
	a := New(store, nil)

	if _, err := a.Ban(context.Background(), "target", "admin", moderation.ReasonSpam, moderation.GroupScope("g1"), nil); err != nil {
		t.Fatalf("group ban failed: %v", err)
	}

	cases := []struct {
		name  string
		scope moderation.Scope
		want  bool
	}{
		{"banned group", moderation.GroupScope("g1"), true},
		{"other group", moderation.GroupScope("g2"), false},
		{"global", moderation.GlobalScope(), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := a.IsBanned(context.Background(), "target", tc.scope)
			if err != nil {
				t.Fatalf("IsBanned failed: %v", err)
			}
			if got != tc.want {
				t.Errorf("IsBanned(%s) = %v, want %v", tc.scope, got, tc.want)
			}
		})
	}

	// Now globally banned: blocked everywhere.
	if _, err := a.Ban(context.Background(), "target", "admin", moderation.ReasonHarassment, moderation.GlobalScope(), nil); err != nil {
		t.Fatalf("global ban failed: %v", err)
	}
	for _, scope := range []moderation.Scope{moderation.GlobalScope(), moderation.GroupScope("g2")} {
		got, _ := a.IsBanned(context.Background(), "target", scope)
		if !got {
			t.Errorf("expected global ban to block scope %s", scope)
		}
	}
}

func TestAssertAllowed(t *testing.T) {
	a := New(newMemStore("target", "admin"), nil)

	if err := a.AssertAllowed(context.Background(), "target", moderation.GlobalScope()); err != nil {
		t.Fatalf("expected unbanned user allowed: %v", err)
	}

	if _, err := a.Ban(context.Background(), "target", "admin", moderation.ReasonSpam, moderation.GlobalScope(), nil); err != nil {
		t.Fatalf("ban failed: %v", err)
	}

	err := a.AssertAllowed(context.Background(), "target", moderation.GlobalScope())
	if !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestAutoBan(t *testing.T) {
	a := New(newMemStore("target"), nil)

	b, err := a.AutoBan(context.Background(), "target", moderation.GlobalScope(), []string{"r1", "r2", "r3"})
	if err != nil {
		t.Fatalf("auto-ban failed: %v", err)
	}
	if b.BannedBy != moderation.SystemActor {
		t.Errorf("expected system actor, got %q", b.BannedBy)
	}
	if b.Reason != moderation.ReasonMultipleReports {
		t.Errorf("expected multiple-reports reason, got %q", b.Reason)
	}
	if len(b.ReporterIDs) != 3 {
		t.Errorf("expected reporter audit trail, got %v", b.ReporterIDs)
	}
}

// Two concurrent ban attempts for the same (user, scope) produce exactly
// one ban and one conflict.
func TestBan_ConcurrentSameKey(t *testing.T) {
	a := New(newMemStore("target", "a1", "a2"), nil)

	var wg sync.WaitGroup
	errCh := make(chan error, 2)
	for _, actor := range []string{"a1", "a2"} {
		wg.Add(1)
		go func(actor string) {
			defer wg.Done()
			_, err := a.Ban(context.Background(), "target", actor, moderation.ReasonSpam, moderation.GlobalScope(), nil)
			errCh <- err
		}(actor)
	}
	wg.Wait()
	close(errCh)

	var oks, conflicts int
	for err := range errCh {
		switch {
		case err == nil:
			oks++
		case errors.Is(err, errs.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if oks != 1 || conflicts != 1 {
		t.Fatalf("expected 1 success and 1 conflict, got %d/%d", oks, conflicts)
	}
}

func TestListBansForUser(t *testing.T) {
	store := newMemStore("target", "admin")
	store.addGroup("g1")
	a := New(store, nil)

	a.Ban(context.Background(), "target", "admin", moderation.ReasonSpam, moderation.GlobalScope(), nil)
	a.Ban(context.Background(), "target", "admin", moderation.ReasonSpam, moderation.GroupScope("g1"), nil)

	bans, err := a.ListBansForUser(context.Background(), "target")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(bans) != 2 {
		t.Fatalf("expected 2 bans, got %d", len(bans))
	}
}
