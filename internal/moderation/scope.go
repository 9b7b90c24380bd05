// Package moderation defines the domain types shared by the report ledger,
// the ban authority, and message routing: scopes, ban reasons, and the ban
// and report records themselves.
package moderation

import (
	"fmt"
	"strings"

	"github.com/parley/chat-server/internal/errs"
)

// Scope is the addressing context of an action: either global or a specific
// group. The zero value is the global scope.
type Scope struct {
	groupID string
}

// GlobalScope returns the scope covering all contexts.
func GlobalScope() Scope {
	return Scope{}
}

// GroupScope returns the scope restricted to a single group.
func GroupScope(groupID string) Scope {
	return Scope{groupID: groupID}
}

// ParseScope parses the wire representation: "global" or "group:<id>".
func ParseScope(s string) (Scope, error) {
	if s == "global" {
		return GlobalScope(), nil
	}
	if id, ok := strings.CutPrefix(s, "group:"); ok {
		if id == "" {
			return Scope{}, fmt.Errorf("moderation: empty group id in scope %q: %w", s, errs.ErrInvalidRequest)
		}
		return GroupScope(id), nil
	}
	return Scope{}, fmt.Errorf("moderation: malformed scope %q: %w", s, errs.ErrInvalidRequest)
}

// IsGlobal reports whether the scope covers all contexts.
func (s Scope) IsGlobal() bool {
	return s.groupID == ""
}

// GroupID returns the group id for a group scope, or "" for global.
func (s Scope) GroupID() string {
	return s.groupID
}

// String returns the wire representation.
func (s Scope) String() string {
	if s.IsGlobal() {
		return "global"
	}
	return "group:" + s.groupID
}
