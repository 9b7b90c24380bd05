package chat

import (
	"errors"
	"strings"
	"testing"

	"github.com/parley/chat-server/internal/errs"
	"github.com/parley/chat-server/internal/moderation"
)

func TestValidateContent(t *testing.T) {
	cases := []struct {
		name    string
		content string
		isFile  bool
		wantErr bool
	}{
		{"plain text", "hello there", false, false},
		{"empty", "", false, true},
		{"empty file", "", true, true},
		{"max chars exactly", strings.Repeat("a", MaxTextChars), false, false},
		{"over char limit", strings.Repeat("a", MaxTextChars+1), false, true},
		{"file skips char limit", strings.Repeat("a", MaxTextChars+1), true, false},
		{"over byte limit", strings.Repeat("a", MaxContentBytes+1), false, true},
		{"file over byte limit", strings.Repeat("a", MaxContentBytes+1), true, true},
		{"invalid utf8", string([]byte{0xff, 0xfe}), false, true},
		{"multibyte within char limit", strings.Repeat("é", MaxTextChars), false, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateContent(tc.content, tc.isFile)
			if tc.wantErr {
				if !errors.Is(err, errs.ErrInvalidRequest) {
					t.Fatalf("expected ErrInvalidRequest, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestParseDeliveryScope(t *testing.T) {
	if s, err := ParseDeliveryScope("private"); err != nil || s != ScopePrivate {
		t.Errorf("ParseDeliveryScope(private) = %v, %v", s, err)
	}
	if s, err := ParseDeliveryScope("group"); err != nil || s != ScopeGroup {
		t.Errorf("ParseDeliveryScope(group) = %v, %v", s, err)
	}
	if _, err := ParseDeliveryScope("broadcast"); !errors.Is(err, errs.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for unknown scope, got %v", err)
	}
}

func TestBanScope(t *testing.T) {
	if got := BanScope(ScopeGroup, "g1"); got != moderation.GroupScope("g1") {
		t.Errorf("group send must gate on the group scope, got %v", got)
	}
	if got := BanScope(ScopePrivate, "u2"); !got.IsGlobal() {
		t.Errorf("private send must gate on the global scope, got %v", got)
	}
}
