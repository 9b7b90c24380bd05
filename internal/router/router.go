// Package router implements the realtime message router: connection
// authentication, presence transitions, room membership, message fan-out,
// typing relays, and report intake. It sits between the WebSocket dispatch
// layer and the moderation engine; every mutating operation passes through
// the ban gate before it takes effect.
package router

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/parley/chat-server/internal/auth"
	"github.com/parley/chat-server/internal/chat"
	"github.com/parley/chat-server/internal/errs"
	"github.com/parley/chat-server/internal/metrics"
	"github.com/parley/chat-server/internal/moderation"
	"github.com/parley/chat-server/internal/presence"
	"github.com/parley/chat-server/internal/protocol"
	"github.com/parley/chat-server/internal/ratelimit"
	"github.com/parley/chat-server/internal/report"
	"github.com/parley/chat-server/internal/session"
	"github.com/parley/chat-server/internal/ws"
)

// opTimeout bounds the store and Redis round-trips performed inside a
// single message handler.
const opTimeout = 5 * time.Second

// Sender is the delivery surface the router fans out through. *ws.Server
// implements it.
type Sender interface {
	SendMessage(connID string, data []byte) error
	Broadcast(data []byte)
	Terminate(connID string)
}

// Directory is the durable-store slice the router consumes. *store.Store
// implements it.
type Directory interface {
	UserExists(ctx context.Context, userID string) (bool, error)
	GroupExists(ctx context.Context, groupID string) (bool, error)
	ListGroupsForUser(ctx context.Context, userID string) ([]string, error)
	ListGroupMembers(ctx context.Context, groupID string) ([]string, error)
	AppendMessage(ctx context.Context, m *chat.Message) error
}

// Gate is the ban-authority slice the router consumes.
type Gate interface {
	AssertAllowed(ctx context.Context, userID string, scope moderation.Scope) error
}

// Reporter is the report-ledger slice the router consumes.
type Reporter interface {
	Report(ctx context.Context, reportedID, reporterID string, scope moderation.Scope) (report.Outcome, error)
	Threshold() int
}

// PresenceEvents receives presence transition notifications for the audit
// stream. Publication is fire-and-forget.
type PresenceEvents interface {
	PresenceChanged(userID string, online bool)
}

// Router routes parsed client messages to the chat and moderation engines
// and fans results back out over the Sender.
type Router struct {
	sender   Sender
	verifier auth.Verifier
	dir      Directory
	gate     Gate
	reports  Reporter
	presence *presence.Registry
	sessions *session.Store     // optional Redis session mirror
	limiter  *ratelimit.Limiter // optional per-user rate limiter
	events   PresenceEvents     // optional audit stream
	conns    *table
}

// Config carries the router's collaborators. Sessions, Limiter, and Events
// may be nil.
type Config struct {
	Sender   Sender
	Verifier auth.Verifier
	Store    Directory
	Gate     Gate
	Reports  Reporter
	Presence *presence.Registry
	Sessions *session.Store
	Limiter  *ratelimit.Limiter
	Events   PresenceEvents
}

// New creates a Router from the given collaborators.
func New(cfg Config) *Router {
	return &Router{
		sender:   cfg.Sender,
		verifier: cfg.Verifier,
		dir:      cfg.Store,
		gate:     cfg.Gate,
		reports:  cfg.Reports,
		presence: cfg.Presence,
		sessions: cfg.Sessions,
		limiter:  cfg.Limiter,
		events:   cfg.Events,
		conns:    newTable(),
	}
}

// Register wires the router's handlers into the dispatcher, one per client
// message type.
func (r *Router) Register(d *ws.MessageDispatcher) {
	d.Register(protocol.TypeAuthenticate, r.HandleAuthenticate)
	d.Register(protocol.TypeMessage, r.HandleMessage)
	d.Register(protocol.TypeJoinRoom, r.HandleJoinRoom)
	d.Register(protocol.TypeLeaveRoom, r.HandleLeaveRoom)
	d.Register(protocol.TypeTyping, r.HandleTyping)
	d.Register(protocol.TypeStopTyping, r.HandleStopTyping)
	d.Register(protocol.TypeReport, r.HandleReport)
}

// HandleAuthenticate verifies the connection credential, binds the verified
// user to the connection, records presence, joins the user's group rooms,
// and acknowledges. A failed verification terminates the connection after
// the error response.
func (r *Router) HandleAuthenticate(conn *ws.Connection, msg interface{}) {
	m, ok := msg.(protocol.AuthenticateMsg)
	if !ok {
		return
	}

	if conn.Authenticated() {
		r.sendError(conn.ID, "already_authenticated", "connection is already authenticated")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	id, err := r.verifier.Verify(ctx, m.Credential)
	if err != nil {
		log.Printf("router: authentication failed conn=%s: %v", conn.ID, err)
		metrics.AuthTotal.WithLabelValues("failed").Inc()
		r.sendError(conn.ID, "auth_failed", "credential rejected")
		r.sender.Terminate(conn.ID)
		return
	}

	conn.SetUser(id.UserID)
	r.conns.bind(conn.ID, id.UserID)

	if r.sessions != nil {
		if err := r.sessions.Activate(ctx, conn.ID, id.UserID, id.DisplayName); err != nil {
			log.Printf("router: session activate failed conn=%s: %v", conn.ID, err)
		}
	}

	// Join the realtime room of every group the user belongs to. A store
	// failure here degrades to no auto-joined rooms; the client can still
	// join explicitly.
	groups, err := r.dir.ListGroupsForUser(ctx, id.UserID)
	if err != nil {
		log.Printf("router: group lookup failed user=%s: %v", id.UserID, err)
		groups = nil
	}
	for _, g := range groups {
		r.conns.join(g, conn.ID)
	}

	count := r.presence.Connect(id.UserID)
	metrics.AuthTotal.WithLabelValues("ok").Inc()
	metrics.OnlineUsers.Set(float64(r.presence.OnlineCount()))
	metrics.ActiveRooms.Set(float64(r.conns.roomCount()))

	r.send(conn.ID, protocol.TypeAuthenticated, protocol.AuthenticatedMsg{
		UserID:      id.UserID,
		DisplayName: id.DisplayName,
		Rooms:       groups,
	})

	log.Printf("router: authenticated conn=%s user=%s rooms=%d connections=%d",
		conn.ID, id.UserID, len(groups), count)

	// Broadcast only the offline-to-online transition; additional
	// connections for an already-online user stay silent.
	if count == 1 {
		r.broadcastStatus(id.UserID, true)
	}
}

// HandleDisconnect cleans up after a closed connection: it removes the
// connection from the user index and all rooms and applies the presence
// transition. It is safe to call for connections that never authenticated.
func (r *Router) HandleDisconnect(connID string) {
	userID := r.conns.drop(connID)
	if userID == "" {
		return
	}

	remaining := r.presence.Disconnect(userID)
	metrics.OnlineUsers.Set(float64(r.presence.OnlineCount()))
	metrics.ActiveRooms.Set(float64(r.conns.roomCount()))

	log.Printf("router: disconnected conn=%s user=%s remaining=%d", connID, userID, remaining)

	if remaining == 0 {
		r.broadcastStatus(userID, false)
	}
}

// HandleMessage validates, gates, persists, and fans out a chat message.
// Validation and moderation failures are reported to the sending connection
// only; recipients never see a blocked message.
func (r *Router) HandleMessage(conn *ws.Connection, msg interface{}) {
	m, ok := msg.(protocol.SendMsg)
	if !ok {
		return
	}
	senderID := conn.UserID()

	scope, err := chat.ParseDeliveryScope(m.Scope)
	if err != nil {
		r.messageError(conn.ID, "invalid_scope", "scope must be \"private\" or \"group\"")
		return
	}
	if m.TargetID == "" {
		r.messageError(conn.ID, "invalid_target", "target_id is required")
		return
	}
	if err := chat.ValidateContent(m.Content, m.IsFile); err != nil {
		r.messageError(conn.ID, "invalid_content", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if r.limiter != nil {
		allowed, _ := r.limiter.Allow(ctx, senderID, ratelimit.RuleMessage)
		if !allowed {
			metrics.MessagesTotal.WithLabelValues("blocked").Inc()
			r.messageError(conn.ID, "rate_limited", "message rate limit exceeded")
			return
		}
	}

	// The ban gate scope depends on delivery scope: group sends are gated
	// per group, private sends by the global scope only.
	banScope := chat.BanScope(scope, m.TargetID)
	if err := r.gate.AssertAllowed(ctx, senderID, banScope); err != nil {
		if errors.Is(err, errs.ErrForbidden) {
			metrics.MessagesTotal.WithLabelValues("blocked").Inc()
			r.send(conn.ID, protocol.TypeBanned, protocol.BannedMsg{Scope: banScope.String()})
			return
		}
		metrics.MessagesTotal.WithLabelValues("failed").Inc()
		r.messageError(conn.ID, "unavailable", "moderation check failed")
		return
	}

	var targets []string
	switch scope {
	case chat.ScopeGroup:
		if !r.conns.inRoom(m.TargetID, conn.ID) {
			r.messageError(conn.ID, "not_joined", "join the room before sending to it")
			return
		}
		targets = r.conns.members(m.TargetID)
	case chat.ScopePrivate:
		exists, err := r.dir.UserExists(ctx, m.TargetID)
		if err != nil {
			metrics.MessagesTotal.WithLabelValues("failed").Inc()
			r.messageError(conn.ID, "unavailable", "recipient lookup failed")
			return
		}
		if !exists {
			r.messageError(conn.ID, "unknown_target", "no such user")
			return
		}
		targets = r.conns.connsFor(m.TargetID)
	}

	cm := &chat.Message{
		ID:       uuid.New().String(),
		SenderID: senderID,
		TargetID: m.TargetID,
		Content:  m.Content,
		Scope:    scope,
		IsFile:   m.IsFile,
		SentAt:   time.Now().UTC(),
	}
	if err := r.dir.AppendMessage(ctx, cm); err != nil {
		log.Printf("router: message persist failed sender=%s: %v", senderID, err)
		metrics.MessagesTotal.WithLabelValues("failed").Inc()
		r.messageError(conn.ID, "store_error", "message could not be stored")
		return
	}

	out, err := protocol.NewServerMessage(protocol.TypeNewMessage, protocol.NewMessageMsg{
		MessageID: cm.ID,
		SenderID:  cm.SenderID,
		TargetID:  cm.TargetID,
		Content:   cm.Content,
		Scope:     string(cm.Scope),
		IsFile:    cm.IsFile,
		Ts:        cm.SentAt.UnixMilli(),
	})
	if err != nil {
		log.Printf("router: encode new_message failed: %v", err)
		metrics.MessagesTotal.WithLabelValues("failed").Inc()
		r.messageError(conn.ID, "internal_error", "message could not be encoded")
		return
	}

	start := time.Now()
	for _, connID := range targets {
		// The sending connection gets the delivery ack instead of an echo.
		if connID == conn.ID {
			continue
		}
		if err := r.sender.SendMessage(connID, out); err != nil {
			log.Printf("router: deliver failed conn=%s msg=%s: %v", connID, cm.ID, err)
		}
	}
	metrics.FanoutLatency.Observe(time.Since(start).Seconds())
	metrics.MessagesTotal.WithLabelValues("delivered").Inc()

	r.send(conn.ID, protocol.TypeMessageDelivered, protocol.MessageDeliveredMsg{
		MessageID: cm.ID,
		TargetID:  cm.TargetID,
		Ts:        cm.SentAt.UnixMilli(),
	})
}

// HandleJoinRoom checks group membership and the group-scoped ban gate, then
// adds the connection to the room.
func (r *Router) HandleJoinRoom(conn *ws.Connection, msg interface{}) {
	m, ok := msg.(protocol.JoinRoomMsg)
	if !ok {
		return
	}
	if m.GroupID == "" {
		r.roomError(conn.ID, m.GroupID, "invalid_group", "group_id is required")
		return
	}
	userID := conn.UserID()

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	exists, err := r.dir.GroupExists(ctx, m.GroupID)
	if err != nil {
		r.roomError(conn.ID, m.GroupID, "unavailable", "group lookup failed")
		return
	}
	if !exists {
		r.roomError(conn.ID, m.GroupID, "unknown_group", "no such group")
		return
	}

	members, err := r.dir.ListGroupMembers(ctx, m.GroupID)
	if err != nil {
		r.roomError(conn.ID, m.GroupID, "unavailable", "membership lookup failed")
		return
	}
	if !contains(members, userID) {
		r.roomError(conn.ID, m.GroupID, "not_a_member", "user is not a member of this group")
		return
	}

	groupScope := moderation.GroupScope(m.GroupID)
	if err := r.gate.AssertAllowed(ctx, userID, groupScope); err != nil {
		if errors.Is(err, errs.ErrForbidden) {
			r.send(conn.ID, protocol.TypeBanned, protocol.BannedMsg{Scope: groupScope.String()})
			return
		}
		r.roomError(conn.ID, m.GroupID, "unavailable", "moderation check failed")
		return
	}

	r.conns.join(m.GroupID, conn.ID)
	metrics.ActiveRooms.Set(float64(r.conns.roomCount()))
	r.send(conn.ID, protocol.TypeRoomJoined, protocol.RoomJoinedMsg{GroupID: m.GroupID})
}

// HandleLeaveRoom removes the connection from the room. Leaving is always
// allowed, including for banned users.
func (r *Router) HandleLeaveRoom(conn *ws.Connection, msg interface{}) {
	m, ok := msg.(protocol.LeaveRoomMsg)
	if !ok {
		return
	}
	r.conns.leave(m.GroupID, conn.ID)
	metrics.ActiveRooms.Set(float64(r.conns.roomCount()))
	r.send(conn.ID, protocol.TypeRoomLeft, protocol.RoomLeftMsg{GroupID: m.GroupID})
}

// HandleTyping relays a typing signal to the target's connections. Typing
// signals are transient: they are never validated against membership or
// bans and never persisted.
func (r *Router) HandleTyping(conn *ws.Connection, msg interface{}) {
	m, ok := msg.(protocol.TypingMsg)
	if !ok {
		return
	}
	r.relayTyping(conn, protocol.TypeUserTyping, m.TargetID, m.Scope)
}

// HandleStopTyping relays a stop-typing signal to the target's connections.
func (r *Router) HandleStopTyping(conn *ws.Connection, msg interface{}) {
	m, ok := msg.(protocol.StopTypingMsg)
	if !ok {
		return
	}
	r.relayTyping(conn, protocol.TypeUserStoppedTyping, m.TargetID, m.Scope)
}

func (r *Router) relayTyping(conn *ws.Connection, msgType, targetID, rawScope string) {
	scope, err := chat.ParseDeliveryScope(rawScope)
	if err != nil || targetID == "" {
		return
	}

	var targets []string
	switch scope {
	case chat.ScopeGroup:
		if !r.conns.inRoom(targetID, conn.ID) {
			return
		}
		targets = r.conns.members(targetID)
	case chat.ScopePrivate:
		targets = r.conns.connsFor(targetID)
	}

	var payload interface{}
	if msgType == protocol.TypeUserTyping {
		payload = protocol.UserTypingMsg{UserID: conn.UserID(), TargetID: targetID, Scope: rawScope}
	} else {
		payload = protocol.UserStoppedTypingMsg{UserID: conn.UserID(), TargetID: targetID, Scope: rawScope}
	}
	out, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		return
	}

	for _, connID := range targets {
		if connID == conn.ID {
			continue
		}
		_ = r.sender.SendMessage(connID, out)
	}
}

// HandleReport files a report against a user. A report that completes the
// threshold batch triggers the automatic ban; in that case the banned
// user's live connections are notified.
func (r *Router) HandleReport(conn *ws.Connection, msg interface{}) {
	m, ok := msg.(protocol.ReportMsg)
	if !ok {
		return
	}
	reporterID := conn.UserID()

	scope, err := moderation.ParseScope(m.Scope)
	if err != nil {
		metrics.ReportsTotal.WithLabelValues("rejected").Inc()
		r.sendError(conn.ID, "invalid_scope", "scope must be \"global\" or \"group:<id>\"")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if r.limiter != nil {
		allowed, _ := r.limiter.Allow(ctx, reporterID, ratelimit.RuleReport)
		if !allowed {
			metrics.ReportsTotal.WithLabelValues("rejected").Inc()
			r.sendError(conn.ID, "rate_limited", "report rate limit exceeded")
			return
		}
	}

	exists, err := r.dir.UserExists(ctx, m.ReportedID)
	if err != nil {
		metrics.ReportsTotal.WithLabelValues("rejected").Inc()
		r.sendError(conn.ID, "unavailable", "reported user lookup failed")
		return
	}
	if !exists {
		metrics.ReportsTotal.WithLabelValues("rejected").Inc()
		r.sendError(conn.ID, "unknown_user", "no such user")
		return
	}

	outcome, err := r.reports.Report(ctx, m.ReportedID, reporterID, scope)
	switch {
	case err == nil:
	case errors.Is(err, errs.ErrConflict):
		metrics.ReportsTotal.WithLabelValues("duplicate").Inc()
		r.sendError(conn.ID, "duplicate_report", "you have already reported this user in this scope")
		return
	case errors.Is(err, errs.ErrInvalidRequest):
		metrics.ReportsTotal.WithLabelValues("rejected").Inc()
		r.sendError(conn.ID, "invalid_report", "users cannot report themselves")
		return
	default:
		log.Printf("router: report failed reporter=%s reported=%s: %v", reporterID, m.ReportedID, err)
		metrics.ReportsTotal.WithLabelValues("rejected").Inc()
		r.sendError(conn.ID, "report_failed", "report could not be processed")
		return
	}

	metrics.ReportsTotal.WithLabelValues("accepted").Inc()
	r.send(conn.ID, protocol.TypeReportAck, protocol.ReportAckMsg{
		ReportedID: m.ReportedID,
		Count:      outcome.Count,
		Threshold:  r.reports.Threshold(),
		AutoBanned: outcome.AutoBanned,
	})

	if outcome.AutoBanned {
		r.notifyBanned(m.ReportedID, scope)
	}
}

// notifyBanned tells every live connection of the banned user about the
// new ban.
func (r *Router) notifyBanned(userID string, scope moderation.Scope) {
	out, err := protocol.NewServerMessage(protocol.TypeBanned, protocol.BannedMsg{
		Scope:  scope.String(),
		Reason: string(moderation.ReasonMultipleReports),
	})
	if err != nil {
		return
	}
	for _, connID := range r.conns.connsFor(userID) {
		_ = r.sender.SendMessage(connID, out)
	}
}

// broadcastStatus announces a presence transition to every authenticated
// connection and mirrors it onto the audit stream.
func (r *Router) broadcastStatus(userID string, online bool) {
	out, err := protocol.NewServerMessage(protocol.TypeUserStatusUpdate, protocol.UserStatusUpdateMsg{
		UserID: userID,
		Online: online,
	})
	if err != nil {
		log.Printf("router: encode status update failed: %v", err)
		return
	}
	r.sender.Broadcast(out)

	if r.events != nil {
		r.events.PresenceChanged(userID, online)
	}
}

func (r *Router) send(connID, msgType string, payload interface{}) {
	out, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("router: encode %s failed: %v", msgType, err)
		return
	}
	if err := r.sender.SendMessage(connID, out); err != nil {
		log.Printf("router: send %s failed conn=%s: %v", msgType, connID, err)
	}
}

func (r *Router) sendError(connID, code, message string) {
	r.send(connID, protocol.TypeError, protocol.ErrorMsg{Code: code, Message: message})
}

func (r *Router) messageError(connID, code, message string) {
	r.send(connID, protocol.TypeMessageError, protocol.MessageErrorMsg{Code: code, Message: message})
}

func (r *Router) roomError(connID, groupID, code, message string) {
	r.send(connID, protocol.TypeRoomError, protocol.RoomErrorMsg{GroupID: groupID, Code: code, Message: message})
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
