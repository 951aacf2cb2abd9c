// Package game composes the auth gate and the connection manager into the
// player session lifecycle: token validation, character resolution, duplicate
// login arbitration, disconnect classification, and the periodic game tick
// that drives grace expiry and stale combat cleanup.
package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/arkmoor/arkmoor/internal/auth"
	"github.com/arkmoor/arkmoor/internal/broker"
	"github.com/arkmoor/arkmoor/internal/combat"
	"github.com/arkmoor/arkmoor/internal/command"
	"github.com/arkmoor/arkmoor/internal/connection"
	"github.com/arkmoor/arkmoor/internal/subject"
	"github.com/arkmoor/arkmoor/internal/world"
)

// ErrNoCharacter is returned when an authenticated user has no player record.
var ErrNoCharacter = errors.New("game: no character for user")

// DefaultTickInterval is the game tick period when the configuration does
// not override it.
const DefaultTickInterval = 30 * time.Second

// LoginResult reports the installed session after a successful login.
type LoginResult struct {
	SessionID string
	Player    world.Player

	// Evicted counts prior logins disconnected in favour of this one.
	Evicted int

	// Reconnected is true when the player returned inside the grace period
	// and their world presence was preserved.
	Reconnected bool
}

// Options configure a [Service].
type Options struct {
	// TickInterval is the game tick period. Zero means [DefaultTickInterval].
	TickInterval time.Duration

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// Service owns the session lifecycle. All exported methods are safe for
// concurrent use.
type Service struct {
	gate     *auth.Gate
	conn     *connection.Manager
	store    world.Store
	bus      *broker.Broker
	reg      *subject.Registry
	combat   *combat.Engine
	pipeline *command.Pipeline

	tick time.Duration
	now  func() time.Time

	lastTick atomic.Int64 // unix nanos of the most recent completed tick
}

// NewService wires the session lifecycle over its collaborators.
func NewService(gate *auth.Gate, conn *connection.Manager, store world.Store, bus *broker.Broker, reg *subject.Registry, eng *combat.Engine, pipeline *command.Pipeline, opts Options) *Service {
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		gate:     gate,
		conn:     conn,
		store:    store,
		bus:      bus,
		reg:      reg,
		combat:   eng,
		pipeline: pipeline,
		tick:     opts.TickInterval,
		now:      opts.Now,
	}
}

// Login validates token, resolves the user's character, arbitrates duplicate
// logins, and installs a session over transport. The source identifies the
// caller for auth rate limiting. A player returning inside grace keeps their
// world presence and gets pending envelopes replayed; a fresh login enters
// the world and announces itself to the room.
func (s *Service) Login(ctx context.Context, source, token string, transport connection.Transport) (LoginResult, error) {
	view, err := s.gate.ValidateSessionToken(source, token)
	if err != nil {
		return LoginResult{}, err
	}

	player, err := s.store.GetPlayerByID(ctx, view.UserID)
	if err != nil {
		if errors.Is(err, world.ErrPlayerNotFound) {
			return LoginResult{}, fmt.Errorf("%w: %s", ErrNoCharacter, view.UserID)
		}
		return LoginResult{}, fmt.Errorf("game: resolve character: %w", err)
	}

	arb := s.conn.HandleNewGameSession(ctx, player.ID, "")
	reconnected := s.conn.InGrace(player.ID)

	sessionID, err := s.conn.Connect(ctx, transport, player.ID, player.RoomID)
	if err != nil {
		return LoginResult{}, err
	}

	// A fresh login enters the world; a grace return or an evicted duplicate
	// never left it.
	if !reconnected && arb.DisconnectedCount == 0 {
		if err := s.store.AddPlayerToRoom(ctx, player.RoomID, player.ID); err != nil {
			slog.Warn("game: add presence failed",
				"player_id", player.ID, "room_id", player.RoomID, "err", err)
		}
		s.publishRoomEvent(subject.EventsPlayerEntered, player.RoomID, map[string]string{
			"player_id": player.ID,
			"name":      player.Name,
		})
	}

	if env, err := broker.NewEnvelope(broker.KindSystem, map[string]string{
		"message": "Welcome to Arkmoor, " + player.Name + ".",
	}); err == nil {
		s.conn.SendPersonal(ctx, player.ID, env)
	}

	slog.Info("game: login",
		"player_id", player.ID, "session_id", sessionID,
		"evicted", arb.DisconnectedCount, "reconnected", reconnected)

	return LoginResult{
		SessionID:   sessionID,
		Player:      player,
		Evicted:     arb.DisconnectedCount,
		Reconnected: reconnected,
	}, nil
}

// HandleCommand runs one command line for the session through the pipeline.
func (s *Service) HandleCommand(ctx context.Context, sessionID, line string) (command.Result, error) {
	return s.pipeline.Execute(ctx, sessionID, line)
}

// HandleClose reacts to the transport closing. Transient reasons start the
// grace period; logout removes presence immediately. Closing an already
// removed session is not an error.
func (s *Service) HandleClose(ctx context.Context, sessionID string, reason connection.DisconnectReason) {
	if err := s.conn.Disconnect(ctx, sessionID, reason); err != nil {
		if !errors.Is(err, connection.ErrSessionNotFound) {
			slog.Warn("game: disconnect failed", "session_id", sessionID, "err", err)
		}
	}
}

// Run drives the game tick until ctx is cancelled. Each tick publishes
// events.game_tick, expires elapsed grace periods, and ends idle combats.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	var n uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n++
			s.Tick(ctx, n)
		}
	}
}

// Tick performs one game tick. Exposed so tests can drive ticks without
// waiting on the wall clock.
func (s *Service) Tick(ctx context.Context, n uint64) {
	subj, err := s.reg.Build(subject.EventsGameTick, nil)
	if err != nil {
		slog.Error("game: build tick subject", "err", err)
	} else {
		env, err := broker.NewEnvelope(broker.KindEvent, map[string]any{
			"tick":        n,
			"server_time": s.now().UTC().Format(time.RFC3339),
		})
		if err == nil {
			if _, err := s.bus.Publish(subj, env); err != nil {
				slog.Warn("game: tick publish failed", "err", err)
			}
		}
	}

	s.conn.SweepGrace(ctx)
	s.combat.CleanupStaleCombats(ctx)
	s.lastTick.Store(s.now().UnixNano())
}

// LastTick reports when the loop last completed a tick, zero before the
// first one. Readiness probes use it to detect a stalled loop.
func (s *Service) LastTick() time.Time {
	n := s.lastTick.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Shutdown stops accepting commands, tells connected players, and closes
// every session.
func (s *Service) Shutdown(ctx context.Context) {
	s.pipeline.BeginShutdown()

	if env, err := broker.NewEnvelope(broker.KindSystem, map[string]string{
		"message": "The world is going down for maintenance.",
	}); err == nil {
		if err := s.conn.BroadcastGlobal(env); err != nil {
			slog.Warn("game: shutdown notice failed", "err", err)
		}
	}

	s.conn.Shutdown(ctx)
}

// publishRoomEvent publishes a room-scoped event, logging and continuing on
// failure so a bad subject never aborts a login.
func (s *Service) publishRoomEvent(patternName, roomID string, payload any) {
	subj, err := s.reg.Build(patternName, map[string]string{"room_id": roomID})
	if err != nil {
		slog.Error("game: build subject", "pattern", patternName, "err", err)
		return
	}
	env, err := broker.NewEnvelope(broker.KindEvent, payload)
	if err != nil {
		slog.Error("game: encode payload", "pattern", patternName, "err", err)
		return
	}
	if _, err := s.bus.Publish(subj, env); err != nil {
		slog.Warn("game: publish failed", "subject", subj, "err", err)
	}
}
