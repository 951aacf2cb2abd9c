// Package follow tracks who walks behind whom. A player follows at most
// one leader; a leader, player or NPC, can have any number of followers.
package follow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/arkmoor/arkmoor/internal/broker"
	"github.com/arkmoor/arkmoor/internal/target"
	"github.com/arkmoor/arkmoor/internal/world"
)

// Typed failures.
var (
	ErrSelfFollow  = errors.New("follow: cannot follow yourself")
	ErrNotSameRoom = errors.New("follow: not in the same room")
	ErrNoPending   = errors.New("follow: no pending request")
)

// Notifier delivers a personal envelope to a player. The connection
// manager satisfies this.
type Notifier interface {
	SendPersonal(ctx context.Context, playerID string, env broker.Envelope) bool
}

// pendingRequest is a follow request awaiting the leader's decision.
type pendingRequest struct {
	followerID string
	roomID     string
}

// Coordinator owns the follow graph. All exported methods are safe for
// concurrent use.
type Coordinator struct {
	players world.PlayerStore
	notify  Notifier

	mu        sync.Mutex
	following map[string]string          // follower id → leader id
	followers map[string]map[string]bool // leader id → follower set
	pending   map[string]pendingRequest  // leader player id → request
}

// NewCoordinator creates an empty follow coordinator.
func NewCoordinator(players world.PlayerStore, notify Notifier) *Coordinator {
	return &Coordinator{
		players:   players,
		notify:    notify,
		following: make(map[string]string),
		followers: make(map[string]map[string]bool),
		pending:   make(map[string]pendingRequest),
	}
}

// Request asks to follow the resolved leader. NPC leaders accept
// immediately; player leaders receive a prompt and must Accept or Reject.
// Both sides must share a room. Returns the user-facing confirmation text.
func (c *Coordinator) Request(ctx context.Context, followerID string, leader target.Candidate) (string, error) {
	if leader.ID == followerID {
		return "", ErrSelfFollow
	}
	follower, err := c.players.GetPlayerByID(ctx, followerID)
	if err != nil {
		return "", fmt.Errorf("follow: load follower: %w", err)
	}

	if leader.Kind == target.KindNPC {
		c.install(followerID, leader.ID)
		return fmt.Sprintf("You begin following %s.", leader.Name), nil
	}

	leaderPlayer, err := c.players.GetPlayerByID(ctx, leader.ID)
	if err != nil {
		return "", fmt.Errorf("follow: load leader: %w", err)
	}
	if leaderPlayer.RoomID != follower.RoomID {
		return "", ErrNotSameRoom
	}

	c.mu.Lock()
	c.pending[leader.ID] = pendingRequest{followerID: followerID, roomID: follower.RoomID}
	c.mu.Unlock()

	env, err := broker.NewEnvelope(broker.KindSystem, map[string]string{
		"event":         "follow_request",
		"follower_id":   followerID,
		"follower_name": follower.Name,
	})
	if err == nil {
		env.PlayerID = followerID
		c.notify.SendPersonal(ctx, leader.ID, env)
	}
	return fmt.Sprintf("You ask to follow %s.", leaderPlayer.Name), nil
}

// Accept approves the pending request addressed to leaderID. Both players
// must still share the room the request was made in.
func (c *Coordinator) Accept(ctx context.Context, leaderID string) (string, error) {
	c.mu.Lock()
	req, ok := c.pending[leaderID]
	if ok {
		delete(c.pending, leaderID)
	}
	c.mu.Unlock()
	if !ok {
		return "", ErrNoPending
	}

	follower, err := c.players.GetPlayerByID(ctx, req.followerID)
	if err != nil {
		return "", fmt.Errorf("follow: load follower: %w", err)
	}
	leader, err := c.players.GetPlayerByID(ctx, leaderID)
	if err != nil {
		return "", fmt.Errorf("follow: load leader: %w", err)
	}
	if follower.RoomID != leader.RoomID || follower.RoomID != req.roomID {
		return "", ErrNotSameRoom
	}

	c.install(req.followerID, leaderID)

	env, err := broker.NewEnvelope(broker.KindSystem, map[string]string{
		"event":       "follow_accepted",
		"leader_id":   leaderID,
		"leader_name": leader.Name,
	})
	if err == nil {
		c.notify.SendPersonal(ctx, req.followerID, env)
	}
	return fmt.Sprintf("%s now follows you.", follower.Name), nil
}

// Reject declines the pending request addressed to leaderID.
func (c *Coordinator) Reject(ctx context.Context, leaderID string) (string, error) {
	c.mu.Lock()
	req, ok := c.pending[leaderID]
	if ok {
		delete(c.pending, leaderID)
	}
	c.mu.Unlock()
	if !ok {
		return "", ErrNoPending
	}

	env, err := broker.NewEnvelope(broker.KindSystem, map[string]string{
		"event":     "follow_rejected",
		"leader_id": leaderID,
	})
	if err == nil {
		c.notify.SendPersonal(ctx, req.followerID, env)
	}
	return "Request declined.", nil
}

// install sets follower → leader, replacing any existing edge.
func (c *Coordinator) install(followerID, leaderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.following[followerID]; ok {
		delete(c.followers[prev], followerID)
	}
	c.following[followerID] = leaderID
	if c.followers[leaderID] == nil {
		c.followers[leaderID] = make(map[string]bool)
	}
	c.followers[leaderID][followerID] = true
}

// Unfollow removes the follower's edge, if any. Returns whether an edge
// existed.
func (c *Coordinator) Unfollow(followerID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	leaderID, ok := c.following[followerID]
	if !ok {
		return false
	}
	delete(c.following, followerID)
	delete(c.followers[leaderID], followerID)
	return true
}

// Drop removes every edge touching id, both as leader and as follower.
// Called when a player logs out or an NPC despawns.
func (c *Coordinator) Drop(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if leaderID, ok := c.following[id]; ok {
		delete(c.following, id)
		delete(c.followers[leaderID], id)
	}
	for followerID := range c.followers[id] {
		delete(c.following, followerID)
	}
	delete(c.followers, id)
	delete(c.pending, id)
}

// Leader returns who id is following, if anyone.
func (c *Coordinator) Leader(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	leaderID, ok := c.following[id]
	return leaderID, ok
}

// Followers returns the ids following id, in no particular order.
func (c *Coordinator) Followers(id string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.followers[id]))
	for followerID := range c.followers[id] {
		out = append(out, followerID)
	}
	return out
}

// TriggerFollow makes every follower of leaderID that is still in
// fromRoomID attempt the same movement. Followers that cannot move are
// skipped silently.
func (c *Coordinator) TriggerFollow(ctx context.Context, leaderID, fromRoomID string, move func(followerID string) error) {
	for _, followerID := range c.Followers(leaderID) {
		p, err := c.players.GetPlayerByID(ctx, followerID)
		if err != nil || p.RoomID != fromRoomID {
			continue
		}
		if err := move(followerID); err != nil {
			slog.Debug("follow: follower could not move",
				"follower_id", followerID, "leader_id", leaderID, "err", err)
		}
	}
}
