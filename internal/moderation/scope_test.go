package moderation

import (
	"errors"
	"testing"
	"time"

	"github.com/parley/chat-server/internal/errs"
)

func TestParseScope(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		want    Scope
		wantErr bool
	}{
		{"global", "global", GlobalScope(), false},
		{"group", "group:g1", GroupScope("g1"), false},
		{"group with colon in id", "group:team:alpha", GroupScope("team:alpha"), false},
		{"empty", "", Scope{}, true},
		{"empty group id", "group:", Scope{}, true},
		{"unknown", "room:g1", Scope{}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseScope(tc.input)
			if tc.wantErr {
				if !errors.Is(err, errs.ErrInvalidRequest) {
					t.Fatalf("expected ErrInvalidRequest, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("ParseScope(%q) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}

func TestScope_RoundTrip(t *testing.T) {
	for _, s := range []Scope{GlobalScope(), GroupScope("g7")} {
		parsed, err := ParseScope(s.String())
		if err != nil {
			t.Fatalf("round trip of %v failed: %v", s, err)
		}
		if parsed != s {
			t.Errorf("round trip changed %v to %v", s, parsed)
		}
	}
}

func TestScope_Accessors(t *testing.T) {
	if !GlobalScope().IsGlobal() {
		t.Error("GlobalScope must be global")
	}
	g := GroupScope("g1")
	if g.IsGlobal() {
		t.Error("GroupScope must not be global")
	}
	if g.GroupID() != "g1" {
		t.Errorf("expected group id g1, got %q", g.GroupID())
	}
}

func TestParseReason(t *testing.T) {
	for _, r := range []Reason{
		ReasonManualAdmin, ReasonSpam, ReasonHarassment,
		ReasonInappropriate, ReasonTermsViolation, ReasonMultipleReports,
	} {
		got, err := ParseReason(string(r))
		if err != nil || got != r {
			t.Errorf("ParseReason(%q) = %v, %v", r, got, err)
		}
	}
	if _, err := ParseReason("because"); !errors.Is(err, errs.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for unknown reason, got %v", err)
	}
}

func TestBan_InEffect(t *testing.T) {
	now := time.Now()
	hourAgo := now.Add(-time.Hour)
	hourAhead := now.Add(time.Hour)

	cases := []struct {
		name string
		ban  Ban
		want bool
	}{
		{"active permanent", Ban{Active: true}, true},
		{"active unexpired", Ban{Active: true, ExpiresAt: &hourAhead}, true},
		{"active expired", Ban{Active: true, ExpiresAt: &hourAgo}, false},
		{"inactive", Ban{Active: false}, false},
		{"inactive unexpired", Ban{Active: false, ExpiresAt: &hourAhead}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.ban.InEffect(now); got != tc.want {
				t.Errorf("InEffect = %v, want %v", got, tc.want)
			}
		})
	}
}
