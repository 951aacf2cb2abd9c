// Package connection owns the set of live player transport sessions: room
// and global subject subscriptions, per-player session uniqueness, the login
// grace period that hides transient disconnects, and the bounded pending
// queue that buffers messages while a player is in grace.
//
// Ownership is exclusive: nothing else touches the session map, grace
// records, or pending queues. All mutations serialise on the manager lock;
// broker callbacks copy what they need and never hold it across delivery.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/arkmoor/arkmoor/internal/broker"
	"github.com/arkmoor/arkmoor/internal/observe"
	"github.com/arkmoor/arkmoor/internal/subject"
	"github.com/arkmoor/arkmoor/internal/world"
)

// Sentinel errors returned by connection operations.
var (
	// ErrRateLimited is returned when a player exceeds the connection
	// attempt budget inside the sliding window.
	ErrRateLimited = errors.New("connection: rate limited")

	// ErrSessionNotFound is returned for operations on unknown session ids.
	ErrSessionNotFound = errors.New("connection: session not found")
)

// DisconnectReason classifies why a session ended and decides whether the
// player enters grace or departs immediately.
type DisconnectReason string

const (
	// ReasonTransient is a network drop; the player enters grace period.
	ReasonTransient DisconnectReason = "transient"

	// ReasonLogout is an explicit quit; presence is removed immediately.
	ReasonLogout DisconnectReason = "logout"

	// ReasonKick is an administrative removal; presence is removed immediately.
	ReasonKick DisconnectReason = "kick"

	// ReasonSuperseded marks a session evicted by a newer login of the same
	// player. No grace: the player is still present on the new session.
	ReasonSuperseded DisconnectReason = "superseded"

	// ReasonShutdown is a server-initiated close during shutdown.
	ReasonShutdown DisconnectReason = "shutdown"
)

// Transport is the per-player duplex channel a session owns. Send must not
// block: implementations queue frames internally and fail fast when the
// peer cannot keep up.
type Transport interface {
	Send(env broker.Envelope) error
	Close(reason string) error
}

// Session is a live transport session for one player.
type Session struct {
	ID          string
	PlayerID    string
	RoomID      string
	ConnectedAt time.Time

	transport Transport
	subs      []*broker.Subscription
}

// graceRecord preserves a player's world presence across a transient
// disconnect. A player id is either in the session map or in the grace set,
// never both.
type graceRecord struct {
	playerID  string
	roomID    string
	startedAt time.Time
	reason    DisconnectReason
	pending   *pendingQueue
}

// NewGameSessionResult reports the outcome of evicting prior logins.
type NewGameSessionResult struct {
	DisconnectedCount int      `json:"disconnected_count"`
	Errors            []string `json:"errors"`
}

// Options configure a [Manager].
type Options struct {
	RateLimitAttempts int
	RateLimitWindow   time.Duration
	GraceTimeout      time.Duration
	PendingCapacity   int

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// Manager owns live sessions and grace records. All exported methods are
// safe for concurrent use.
type Manager struct {
	bus     *broker.Broker
	reg     *subject.Registry
	store   world.RoomStore
	metrics *observe.Metrics
	opts    Options
	limiter *attemptLimiter

	now func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session // session id → session
	byPlayer map[string]string   // player id → session id
	grace    map[string]*graceRecord
}

// NewManager creates a connection manager publishing through bus, minting
// subjects through reg, and mutating room presence through store.
func NewManager(bus *broker.Broker, reg *subject.Registry, store world.RoomStore, metrics *observe.Metrics, opts Options) *Manager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	m := &Manager{
		bus:     bus,
		reg:     reg,
		store:   store,
		metrics: metrics,
		opts:    opts,
		limiter: newAttemptLimiter(opts.RateLimitAttempts, opts.RateLimitWindow),
		now:     opts.Now,
	}
	m.sessions = make(map[string]*Session)
	m.byPlayer = make(map[string]string)
	m.grace = make(map[string]*graceRecord)
	return m
}

// Connect registers a new session for playerID over transport, currently in
// roomID. Any prior active session for the player is evicted with reason
// "superseded". If the player is in grace, the record is cleared and every
// pending envelope is replayed in order before live delivery resumes.
func (m *Manager) Connect(ctx context.Context, transport Transport, playerID, roomID string) (string, error) {
	if !m.limiter.allow(playerID, m.now()) {
		m.metrics.ConnectionsRejected.Add(ctx, 1, metric.WithAttributes(observe.Attr("reason", "rate_limited")))
		return "", ErrRateLimited
	}

	sessionID := uuid.NewString()
	sess := &Session{
		ID:          sessionID,
		PlayerID:    playerID,
		RoomID:      roomID,
		ConnectedAt: m.now(),
		transport:   transport,
	}

	m.mu.Lock()

	// Evict the previous login, if any.
	if prevID, ok := m.byPlayer[playerID]; ok {
		m.evictLocked(prevID, ReasonSuperseded)
		m.metrics.ActiveSessions.Add(ctx, -1)
	}

	// Returning from grace: replay what accumulated while away.
	var replay []broker.Envelope
	if rec, ok := m.grace[playerID]; ok {
		replay = rec.pending.drain()
		delete(m.grace, playerID)
		m.metrics.GracePeriods.Add(ctx, -1)
	}

	m.sessions[sessionID] = sess
	m.byPlayer[playerID] = sessionID
	m.subscribeLocked(sess)

	m.mu.Unlock()

	for _, env := range replay {
		if err := transport.Send(env); err != nil {
			slog.Warn("connection: pending replay send failed",
				"player_id", playerID, "session_id", sessionID, "err", err)
			break
		}
	}

	m.metrics.ActiveSessions.Add(ctx, 1)
	slog.Info("connection: session connected",
		"player_id", playerID, "session_id", sessionID, "room_id", roomID,
		"replayed", len(replay))
	return sessionID, nil
}

// subscribeLocked wires the session's room and personal subscriptions.
// Caller holds the manager lock.
func (m *Manager) subscribeLocked(sess *Session) {
	deliver := func(env broker.Envelope) {
		if err := sess.transport.Send(env); err != nil {
			slog.Debug("connection: delivery failed",
				"session_id", sess.ID, "subject", env.Subject, "err", err)
		}
	}
	deliverExceptSelf := func(env broker.Envelope) {
		if env.PlayerID == sess.PlayerID {
			return
		}
		deliver(env)
	}

	patterns := []struct {
		pattern string
		cb      broker.Callback
	}{
		{"events.*." + sess.RoomID, deliver},
		{"chat.*.room." + sess.RoomID, deliverExceptSelf},
		{"combat.*." + sess.RoomID, deliver},
		{"chat.global", deliverExceptSelf},
		{"chat.system", deliver},
		{"chat.whisper.player." + sess.PlayerID, deliver},
		{"combat.dp_update." + sess.PlayerID, deliver},
	}
	for _, p := range patterns {
		sess.subs = append(sess.subs, m.bus.Subscribe(p.pattern, p.cb))
	}
}

// SwitchRoom re-points the session's room subscriptions after movement.
func (m *Manager) SwitchRoom(sessionID, newRoomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrSessionNotFound, sessionID)
	}
	for _, sub := range sess.subs {
		sub.Unsubscribe()
	}
	sess.subs = nil
	sess.RoomID = newRoomID
	m.subscribeLocked(sess)
	return nil
}

// Disconnect removes the session. Transient reasons start a grace period;
// explicit logout and kick remove world presence immediately and publish the
// departure.
func (m *Manager) Disconnect(ctx context.Context, sessionID string, reason DisconnectReason) error {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrSessionNotFound, sessionID)
	}
	m.evictLocked(sessionID, reason)

	if reason == ReasonTransient {
		m.grace[sess.PlayerID] = &graceRecord{
			playerID:  sess.PlayerID,
			roomID:    sess.RoomID,
			startedAt: m.now(),
			reason:    reason,
			pending:   newPendingQueue(m.opts.PendingCapacity),
		}
		m.metrics.GracePeriods.Add(ctx, 1)
	}
	m.mu.Unlock()

	m.metrics.ActiveSessions.Add(ctx, -1)
	slog.Info("connection: session disconnected",
		"player_id", sess.PlayerID, "session_id", sessionID, "reason", reason)

	if reason != ReasonTransient && reason != ReasonSuperseded && reason != ReasonShutdown {
		m.removePresence(ctx, sess.PlayerID, sess.RoomID)
	}
	return nil
}

// evictLocked tears down a session's subscriptions and transport and drops
// it from the maps. Caller holds the manager lock.
func (m *Manager) evictLocked(sessionID string, reason DisconnectReason) {
	sess, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	for _, sub := range sess.subs {
		sub.Unsubscribe()
	}
	delete(m.sessions, sessionID)
	if m.byPlayer[sess.PlayerID] == sessionID {
		delete(m.byPlayer, sess.PlayerID)
	}
	if err := sess.transport.Close(string(reason)); err != nil {
		slog.Debug("connection: transport close failed",
			"session_id", sessionID, "err", err)
	}
}

// HandleNewGameSession atomically evicts any prior connections for playerID
// in favour of newSessionID. It is idempotent: repeat calls with the same
// arguments report zero disconnects.
func (m *Manager) HandleNewGameSession(ctx context.Context, playerID, newSessionID string) NewGameSessionResult {
	res := NewGameSessionResult{Errors: []string{}}

	m.mu.Lock()
	defer m.mu.Unlock()

	prevID, ok := m.byPlayer[playerID]
	if !ok || prevID == newSessionID {
		return res
	}
	prev := m.sessions[prevID]
	if prev == nil {
		res.Errors = append(res.Errors, fmt.Sprintf("stale session index for %s", playerID))
		delete(m.byPlayer, playerID)
		return res
	}

	// Tell the old client why it is going away, best effort.
	if env, err := broker.NewEnvelope(broker.KindSuperseded, map[string]string{
		"reason": string(ReasonSuperseded),
	}); err == nil {
		if err := prev.transport.Send(env); err != nil {
			res.Errors = append(res.Errors, err.Error())
		}
	}

	m.evictLocked(prevID, ReasonSuperseded)
	m.metrics.ActiveSessions.Add(ctx, -1)
	res.DisconnectedCount++
	return res
}

// BroadcastToRoom publishes env under events.<event>.<roomID> via the
// subject registry.
func (m *Manager) BroadcastToRoom(patternName, roomID string, env broker.Envelope) error {
	subj, err := m.reg.Build(patternName, map[string]string{"room_id": roomID})
	if err != nil {
		return fmt.Errorf("connection: broadcast to room %q: %w", roomID, err)
	}
	if _, err := m.bus.Publish(subj, env); err != nil {
		return fmt.Errorf("connection: broadcast to room %q: %w", roomID, err)
	}
	return nil
}

// BroadcastGlobal publishes env on the global chat subject.
func (m *Manager) BroadcastGlobal(env broker.Envelope) error {
	subj, err := m.reg.Build(subject.ChatGlobal, nil)
	if err != nil {
		return fmt.Errorf("connection: broadcast global: %w", err)
	}
	if _, err := m.bus.Publish(subj, env); err != nil {
		return fmt.Errorf("connection: broadcast global: %w", err)
	}
	return nil
}

// SendPersonal delivers env to playerID. Active players receive it
// immediately; players in grace have it queued for replay. Returns true
// when the envelope was delivered or queued.
func (m *Manager) SendPersonal(ctx context.Context, playerID string, env broker.Envelope) bool {
	m.mu.Lock()

	if sid, ok := m.byPlayer[playerID]; ok {
		sess := m.sessions[sid]
		m.mu.Unlock()
		if err := sess.transport.Send(env); err != nil {
			slog.Debug("connection: personal send failed",
				"player_id", playerID, "err", err)
			return false
		}
		return true
	}

	if rec, ok := m.grace[playerID]; ok {
		dropped := rec.pending.push(env)
		m.mu.Unlock()
		if dropped {
			m.metrics.PendingDropped.Add(ctx, 1)
		}
		return true
	}

	m.mu.Unlock()
	return false
}

// ActiveSession returns the live session id for playerID, if any.
func (m *Manager) ActiveSession(playerID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sid, ok := m.byPlayer[playerID]
	return sid, ok
}

// SessionPlayer returns the player that owns sessionID.
func (m *Manager) SessionPlayer(sessionID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return "", false
	}
	return sess.PlayerID, true
}

// InGrace reports whether playerID currently has a grace record.
func (m *Manager) InGrace(playerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.grace[playerID]
	return ok
}

// GraceSet returns a snapshot of player ids currently in grace.
func (m *Manager) GraceSet() map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool, len(m.grace))
	for id := range m.grace {
		out[id] = true
	}
	return out
}

// ConnectedPlayers returns the ids of players with an active session.
func (m *Manager) ConnectedPlayers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.byPlayer))
	for id := range m.byPlayer {
		out = append(out, id)
	}
	return out
}

// SweepGrace expires grace records older than the configured timeout:
// presence is removed and a player_left event published. Driven by the game
// tick.
func (m *Manager) SweepGrace(ctx context.Context) {
	cutoff := m.now().Add(-m.opts.GraceTimeout)

	m.mu.Lock()
	var expired []*graceRecord
	for id, rec := range m.grace {
		if rec.startedAt.Before(cutoff) {
			expired = append(expired, rec)
			delete(m.grace, id)
		}
	}
	m.mu.Unlock()

	for _, rec := range expired {
		m.metrics.GracePeriods.Add(ctx, -1)
		slog.Info("connection: grace period expired",
			"player_id", rec.playerID, "room_id", rec.roomID)
		m.removePresence(ctx, rec.playerID, rec.roomID)
	}
}

// Shutdown closes every session with reason "shutdown".
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	for _, id := range ids {
		m.evictLocked(id, ReasonShutdown)
	}
	m.mu.Unlock()
	m.metrics.ActiveSessions.Add(ctx, -int64(len(ids)))
}

// removePresence drops the player from their room and announces departure.
func (m *Manager) removePresence(ctx context.Context, playerID, roomID string) {
	if err := m.store.RemovePlayerFromRoom(ctx, roomID, playerID); err != nil {
		slog.Warn("connection: remove presence failed",
			"player_id", playerID, "room_id", roomID, "err", err)
	}
	env, err := broker.NewEnvelope(broker.KindEvent, map[string]string{"player_id": playerID})
	if err != nil {
		return
	}
	env.PlayerID = playerID
	env.RoomID = roomID
	if err := m.BroadcastToRoom(subject.EventsPlayerLeft, roomID, env); err != nil {
		slog.Warn("connection: player_left publish failed",
			"player_id", playerID, "room_id", roomID, "err", err)
	}
}
