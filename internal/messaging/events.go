package messaging

import (
	"encoding/json"
	"log"
	"time"

	"github.com/parley/chat-server/internal/moderation"
)

// ReportEvent is published on moderation.report for every accepted report.
type ReportEvent struct {
	ReporterID string `json:"reporter_id"`
	ReportedID string `json:"reported_id"`
	Scope      string `json:"scope"`
	Count      int    `json:"count"`
	AutoBanned bool   `json:"auto_banned"`
	Ts         int64  `json:"ts"`
}

// BanEvent is published on moderation.ban and moderation.unban.
type BanEvent struct {
	BanID       string   `json:"ban_id"`
	UserID      string   `json:"user_id"`
	BannedBy    string   `json:"banned_by"`
	ActorID     string   `json:"actor_id,omitempty"` // who lifted, unban only
	Reason      string   `json:"reason"`
	Scope       string   `json:"scope"`
	ExpiresAt   int64    `json:"expires_at,omitempty"`
	ReporterIDs []string `json:"reporter_ids,omitempty"`
	Ts          int64    `json:"ts"`
}

// PresenceEvent is published on presence.status for online/offline
// transitions only, never intermediate connection counts.
type PresenceEvent struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
	Ts     int64  `json:"ts"`
}

// Publisher emits moderation and presence events to NATS. Every publish is
// fire-and-forget: failures are logged and never surfaced to the operation
// that produced the event. A nil Publisher is safe to call.
type Publisher struct {
	nats *NATSClient
}

// NewPublisher creates a Publisher over the given NATS client.
func NewPublisher(nats *NATSClient) *Publisher {
	return &Publisher{nats: nats}
}

func (p *Publisher) publish(subject string, payload interface{}) {
	if p == nil || p.nats == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[events] marshal %s: %v", subject, err)
		return
	}
	if err := p.nats.Publish(subject, data); err != nil {
		log.Printf("[events] publish %s: %v", subject, err)
	}
}

// ReportFiled implements the report ledger's event sink.
func (p *Publisher) ReportFiled(r *moderation.Report, count int, autoBanned bool) {
	p.publish(SubjectReportFiled, ReportEvent{
		ReporterID: r.ReporterID,
		ReportedID: r.ReportedID,
		Scope:      r.Scope.String(),
		Count:      count,
		AutoBanned: autoBanned,
		Ts:         time.Now().Unix(),
	})
}

// BanCreated implements the ban authority's event sink.
func (p *Publisher) BanCreated(b *moderation.Ban) {
	p.publish(SubjectBanCreated, banEvent(b, ""))
}

// BanLifted implements the ban authority's event sink.
func (p *Publisher) BanLifted(b *moderation.Ban, actorID string) {
	p.publish(SubjectBanLifted, banEvent(b, actorID))
}

// PresenceChanged publishes an online/offline transition.
func (p *Publisher) PresenceChanged(userID string, online bool) {
	p.publish(SubjectPresenceStatus, PresenceEvent{
		UserID: userID,
		Online: online,
		Ts:     time.Now().Unix(),
	})
}

func banEvent(b *moderation.Ban, actorID string) BanEvent {
	ev := BanEvent{
		BanID:       b.ID,
		UserID:      b.UserID,
		BannedBy:    b.BannedBy,
		ActorID:     actorID,
		Reason:      string(b.Reason),
		Scope:       b.Scope.String(),
		ReporterIDs: b.ReporterIDs,
		Ts:          time.Now().Unix(),
	}
	if b.ExpiresAt != nil {
		ev.ExpiresAt = b.ExpiresAt.Unix()
	}
	return ev
}
