// Package chat defines the message record persisted by the durable store
// and the content rules a message must satisfy before it is accepted.
package chat

import (
	"fmt"
	"time"

	"github.com/parley/chat-server/internal/errs"
	"github.com/parley/chat-server/internal/moderation"
)

// DeliveryScope addresses a message either to a single user or to a group
// room. It is independent of IsFile: scope and payload kind may combine
// freely.
type DeliveryScope string

const (
	ScopePrivate DeliveryScope = "private"
	ScopeGroup   DeliveryScope = "group"
)

// ParseDeliveryScope validates the wire representation of a delivery scope.
func ParseDeliveryScope(s string) (DeliveryScope, error) {
	switch ds := DeliveryScope(s); ds {
	case ScopePrivate, ScopeGroup:
		return ds, nil
	}
	return "", fmt.Errorf("chat: unknown delivery scope %q: %w", s, errs.ErrInvalidRequest)
}

// BanScope maps a send to the moderation scope the ban gate consults:
// group sends are gated on the group's scope, private sends on the global
// scope only.
func BanScope(scope DeliveryScope, targetID string) moderation.Scope {
	if scope == ScopeGroup {
		return moderation.GroupScope(targetID)
	}
	return moderation.GlobalScope()
}

// Message is one persisted chat message.
type Message struct {
	ID       string
	SenderID string
	TargetID string // user id for private scope, group id for group scope
	Content  string
	Scope    DeliveryScope
	IsFile   bool
	SentAt   time.Time
}
