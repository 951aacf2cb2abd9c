// Package combat manages encounters between players and NPCs. The engine
// owns turn order and combat membership; hit points are persisted through
// the player store and NPC runtime, never inside a combat instance alone.
package combat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arkmoor/arkmoor/internal/broker"
	"github.com/arkmoor/arkmoor/internal/npc"
	"github.com/arkmoor/arkmoor/internal/observe"
	"github.com/arkmoor/arkmoor/internal/subject"
	"github.com/arkmoor/arkmoor/internal/world"
)

// Typed failures. Attacks that fail with one of these never mutate state.
var (
	ErrNotInCombat          = errors.New("combat: not in combat")
	ErrNotYourTurn          = errors.New("combat: not your turn")
	ErrTargetNotParticipant = errors.New("combat: target not a participant")
	ErrCombatEnded          = errors.New("combat: combat has ended")
	ErrAlreadyInCombat      = errors.New("combat: already in combat")
)

// ParticipantKind distinguishes player and NPC combatants.
type ParticipantKind string

const (
	KindPlayer ParticipantKind = "player"
	KindNPC    ParticipantKind = "npc"
)

// Participant is one combatant's view inside an instance. CurrentHP here
// mirrors the authoritative store and is kept in sync on every attack.
type Participant struct {
	ID        string
	Kind      ParticipantKind
	Name      string
	CurrentHP int
	MaxHP     int
	Dexterity int
}

// Alive reports whether the participant still has hit points.
func (p Participant) Alive() bool { return p.CurrentHP > 0 }

// State is the lifecycle phase of a combat instance.
type State string

const (
	StateInitialising State = "initialising"
	StateActive       State = "active"
	StateEnded        State = "ended"
)

// Instance is one combat encounter. Snapshots returned by the engine are
// copies; mutating them has no effect on the live combat.
type Instance struct {
	ID               string
	RoomID           string
	State            State
	Participants     map[string]Participant
	Order            []string
	CurrentTurnIndex int
	Round            int
	StartedAt        time.Time
	LastActionAt     time.Time
}

// AttackResult reports the outcome of one processed attack.
type AttackResult struct {
	Success     bool `json:"success"`
	DamageDealt int  `json:"damage_dealt"`
	TargetDied  bool `json:"target_died"`
	CombatEnded bool `json:"combat_ended"`
	XPAwarded   int  `json:"xp_awarded"`
}

// Options configure an [Engine].
type Options struct {
	// TurnTimeout bounds how long a single turn may idle before the
	// engine advances past it.
	TurnTimeout time.Duration

	// IdleCleanup is the inactivity window after which a combat is ended
	// with reason "timeout" by the stale sweep.
	IdleCleanup time.Duration

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// Engine owns every active combat. All exported methods are safe for
// concurrent use.
type Engine struct {
	bus     *broker.Broker
	reg     *subject.Registry
	players world.PlayerStore
	npcs    *npc.Runtime
	metrics *observe.Metrics
	opts    Options
	now     func() time.Time

	mu            sync.Mutex
	combats       map[string]*Instance
	byParticipant map[string]string // participant id → combat id
}

// NewEngine creates a combat engine publishing through bus and persisting
// hit points and experience through players and npcs.
func NewEngine(bus *broker.Broker, reg *subject.Registry, players world.PlayerStore, npcs *npc.Runtime, metrics *observe.Metrics, opts Options) *Engine {
	if opts.TurnTimeout <= 0 {
		opts.TurnTimeout = 30 * time.Second
	}
	if opts.IdleCleanup <= 0 {
		opts.IdleCleanup = 5 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		bus:           bus,
		reg:           reg,
		players:       players,
		npcs:          npcs,
		metrics:       metrics,
		opts:          opts,
		now:           opts.Now,
		combats:       make(map[string]*Instance),
		byParticipant: make(map[string]string),
	}
}

// StartCombat creates an encounter in roomID between attacker and target,
// computes the round order by non-increasing dexterity with id tie-break,
// and publishes combat.started. Either side already being in a combat is a
// typed failure.
func (e *Engine) StartCombat(ctx context.Context, roomID string, attacker, target Participant) (Instance, error) {
	if attacker.ID == target.ID {
		return Instance{}, fmt.Errorf("%w: cannot fight yourself", ErrTargetNotParticipant)
	}

	inst := &Instance{
		ID:           uuid.NewString(),
		RoomID:       roomID,
		State:        StateInitialising,
		Participants: map[string]Participant{attacker.ID: attacker, target.ID: target},
		Round:        1,
		StartedAt:    e.now(),
		LastActionAt: e.now(),
	}
	inst.Order = roundOrder(inst.Participants)

	e.mu.Lock()
	if _, ok := e.byParticipant[attacker.ID]; ok {
		e.mu.Unlock()
		return Instance{}, fmt.Errorf("%w: %s", ErrAlreadyInCombat, attacker.ID)
	}
	if _, ok := e.byParticipant[target.ID]; ok {
		e.mu.Unlock()
		return Instance{}, fmt.Errorf("%w: %s", ErrAlreadyInCombat, target.ID)
	}
	inst.State = StateActive
	e.combats[inst.ID] = inst
	e.byParticipant[attacker.ID] = inst.ID
	e.byParticipant[target.ID] = inst.ID
	snap := snapshot(inst)
	e.mu.Unlock()

	e.metrics.ActiveCombats.Add(ctx, 1)
	e.publishRoom(subject.CombatStarted, roomID, broker.KindCombat, map[string]any{
		"combat_id": inst.ID,
		"attacker":  attacker.Name,
		"target":    target.Name,
		"order":     inst.Order,
	})
	slog.Info("combat: started",
		"combat_id", inst.ID, "room_id", roomID,
		"attacker", attacker.ID, "target", target.ID)
	return snap, nil
}

// roundOrder sorts participant ids by dexterity descending, id ascending on
// ties.
func roundOrder(parts map[string]Participant) []string {
	order := make([]string, 0, len(parts))
	for id := range parts {
		order = append(order, id)
	}
	sort.Slice(order, func(i, j int) bool {
		a, b := parts[order[i]], parts[order[j]]
		if a.Dexterity != b.Dexterity {
			return a.Dexterity > b.Dexterity
		}
		return a.ID < b.ID
	})
	return order
}

// ProcessAttack applies damage from attackerID to targetID in the combat
// the attacker belongs to. If the attacker is not the current turn-holder
// the engine advances to the attacker's slot in the round first. Death
// triggers experience award for player kills of NPCs and may end the
// combat in the same call.
func (e *Engine) ProcessAttack(ctx context.Context, attackerID, targetID string, damage int) (AttackResult, error) {
	e.mu.Lock()

	combatID, ok := e.byParticipant[attackerID]
	if !ok {
		e.mu.Unlock()
		return AttackResult{}, fmt.Errorf("%w: %s", ErrNotInCombat, attackerID)
	}
	inst := e.combats[combatID]
	if inst == nil || inst.State != StateActive {
		e.mu.Unlock()
		return AttackResult{}, ErrCombatEnded
	}
	attacker, ok := inst.Participants[attackerID]
	if !ok || !attacker.Alive() {
		e.mu.Unlock()
		return AttackResult{}, fmt.Errorf("%w: %s", ErrNotYourTurn, attackerID)
	}
	target, ok := inst.Participants[targetID]
	if !ok {
		e.mu.Unlock()
		return AttackResult{}, fmt.Errorf("%w: %s", ErrTargetNotParticipant, targetID)
	}

	// Interactive play: a participant acting out of turn takes their slot
	// in the round rather than being refused.
	if inst.Order[inst.CurrentTurnIndex] != attackerID {
		for i, id := range inst.Order {
			if id == attackerID {
				inst.CurrentTurnIndex = i
				break
			}
		}
	}

	if damage < 0 {
		damage = 0
	}
	target.CurrentHP -= damage
	died := !target.Alive()
	inst.Participants[targetID] = target
	inst.LastActionAt = e.now()

	alive := 0
	for _, p := range inst.Participants {
		if p.Alive() {
			alive++
		}
	}
	ended := died && alive < 2
	if ended {
		inst.State = StateEnded
	} else {
		e.advanceTurnLocked(inst)
	}

	roomID := inst.RoomID
	if ended {
		e.removeLocked(inst)
	}
	e.mu.Unlock()

	res := AttackResult{Success: true, DamageDealt: damage, TargetDied: died, CombatEnded: ended}

	e.persistHP(ctx, target)
	e.publishRoom(subject.CombatDamage, roomID, broker.KindCombat, map[string]any{
		"combat_id": combatID,
		"attacker":  attackerID,
		"target":    targetID,
		"damage":    damage,
	})

	if died {
		res.XPAwarded = e.handleDeath(ctx, roomID, attacker, target)
	}
	if ended {
		e.metrics.ActiveCombats.Add(ctx, -1)
		e.publishRoom(subject.CombatEnded, roomID, broker.KindCombat, map[string]any{
			"combat_id": combatID,
			"reason":    "death",
		})
		slog.Info("combat: ended", "combat_id", combatID, "room_id", roomID, "reason", "death")
	} else {
		e.publishTurn(combatID, roomID)
	}
	return res, nil
}

// advanceTurnLocked moves the turn to the next alive participant in round
// order, bumping the round counter when the order wraps. Caller holds the
// engine lock.
func (e *Engine) advanceTurnLocked(inst *Instance) {
	for step := 1; step <= len(inst.Order); step++ {
		pos := inst.CurrentTurnIndex + step
		idx := pos % len(inst.Order)
		if inst.Participants[inst.Order[idx]].Alive() {
			if pos >= len(inst.Order) {
				inst.Round++
			}
			inst.CurrentTurnIndex = idx
			return
		}
	}
}

// publishTurn announces whose turn it is after an attack.
func (e *Engine) publishTurn(combatID, roomID string) {
	e.mu.Lock()
	inst := e.combats[combatID]
	if inst == nil {
		e.mu.Unlock()
		return
	}
	holder := inst.Order[inst.CurrentTurnIndex]
	round := inst.Round
	e.mu.Unlock()

	e.publishRoom(subject.CombatTurn, roomID, broker.KindCombat, map[string]any{
		"combat_id":    combatID,
		"turn_holder":  holder,
		"round_number": round,
	})
}

// handleDeath persists the kill's side effects: NPC despawn, death event,
// and experience for player kills of NPCs. Returns the XP awarded.
func (e *Engine) handleDeath(ctx context.Context, roomID string, killer, victim Participant) int {
	switch victim.Kind {
	case KindNPC:
		e.publishRoom(subject.CombatNPCDied, roomID, broker.KindCombat, map[string]any{
			"npc_id":   victim.ID,
			"npc_name": victim.Name,
			"killer":   killer.ID,
		})
		var xp int
		if rec, err := e.npcs.Lifecycle(victim.ID); err == nil {
			xp = rec.Definition.Stats.XPValue
		}
		e.npcs.Despawn(victim.ID)
		if killer.Kind == KindPlayer && xp > 0 {
			if err := e.awardXP(ctx, killer.ID, xp); err != nil {
				slog.Warn("combat: xp award failed",
					"player_id", killer.ID, "xp", xp, "err", err)
				return 0
			}
		}
		return xp
	case KindPlayer:
		e.publishRoom(subject.EventsPlayerDied, roomID, broker.KindEvent, map[string]any{
			"player_id": victim.ID,
			"killer":    killer.ID,
		})
	}
	return 0
}

// awardXP adds xp to the player's persisted total and announces the new
// value on the player's stat update subject.
func (e *Engine) awardXP(ctx context.Context, playerID string, xp int) error {
	p, err := e.players.GetPlayerByID(ctx, playerID)
	if err != nil {
		return err
	}
	p.Experience += xp
	if err := e.players.SavePlayer(ctx, p); err != nil {
		return err
	}

	subj, err := e.reg.Build(subject.CombatDPUpdate, map[string]string{"player_id": playerID})
	if err != nil {
		slog.Warn("combat: dp_update subject build failed", "player_id", playerID, "err", err)
		return nil
	}
	env, err := broker.NewEnvelope(broker.KindCombat, map[string]any{
		"event":      "player_xp_awarded",
		"player_id":  playerID,
		"xp_awarded": xp,
		"total_xp":   p.Experience,
	})
	if err != nil {
		return nil
	}
	env.PlayerID = playerID
	if _, err := e.bus.Publish(subj, env); err != nil {
		slog.Warn("combat: dp_update publish failed", "player_id", playerID, "err", err)
	}
	return nil
}

// persistHP writes the participant's hit points back to its authority.
func (e *Engine) persistHP(ctx context.Context, p Participant) {
	switch p.Kind {
	case KindPlayer:
		stored, err := e.players.GetPlayerByID(ctx, p.ID)
		if err == nil {
			stored.CurrentHP = p.CurrentHP
			err = e.players.SavePlayer(ctx, stored)
		}
		if err != nil {
			slog.Warn("combat: persist player hp failed", "player_id", p.ID, "err", err)
		}
	case KindNPC:
		if err := e.npcs.SetHP(p.ID, p.CurrentHP); err != nil {
			slog.Warn("combat: persist npc hp failed", "npc_id", p.ID, "err", err)
		}
	}
}

// EndCombat transitions the combat to ended, clears both participants'
// in-combat state, and publishes the ending event. Reason "timeout" is
// announced on the timeout subject.
func (e *Engine) EndCombat(ctx context.Context, combatID, reason string) error {
	e.mu.Lock()
	inst, ok := e.combats[combatID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrCombatEnded, combatID)
	}
	inst.State = StateEnded
	roomID := inst.RoomID
	e.removeLocked(inst)
	e.mu.Unlock()

	e.metrics.ActiveCombats.Add(ctx, -1)
	name := subject.CombatEnded
	if reason == "timeout" {
		name = subject.CombatTimeout
	}
	e.publishRoom(name, roomID, broker.KindCombat, map[string]any{
		"combat_id": combatID,
		"reason":    reason,
	})
	slog.Info("combat: ended", "combat_id", combatID, "room_id", roomID, "reason", reason)
	return nil
}

// removeLocked drops the instance and its participant index entries.
// Caller holds the engine lock.
func (e *Engine) removeLocked(inst *Instance) {
	delete(e.combats, inst.ID)
	for id := range inst.Participants {
		if e.byParticipant[id] == inst.ID {
			delete(e.byParticipant, id)
		}
	}
}

// CleanupStaleCombats ends every combat whose last action is older than the
// idle cleanup window. Driven by the game tick.
func (e *Engine) CleanupStaleCombats(ctx context.Context) {
	cutoff := e.now().Add(-e.opts.IdleCleanup)

	e.mu.Lock()
	var stale []string
	for id, inst := range e.combats {
		if inst.LastActionAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	e.mu.Unlock()

	for _, id := range stale {
		if err := e.EndCombat(ctx, id, "timeout"); err == nil {
			slog.Info("combat: stale combat ended", "combat_id", id)
		}
	}
}

// IsPlayerInCombat reports whether id currently participates in a combat.
// Used by movement and login guards.
func (e *Engine) IsPlayerInCombat(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.byParticipant[id]
	return ok
}

// ActiveCombat returns a snapshot of the combat id belongs to.
func (e *Engine) ActiveCombat(id string) (Instance, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	combatID, ok := e.byParticipant[id]
	if !ok {
		return Instance{}, false
	}
	inst := e.combats[combatID]
	if inst == nil {
		return Instance{}, false
	}
	return snapshot(inst), true
}

// snapshot deep-copies an instance for callers outside the lock.
func snapshot(inst *Instance) Instance {
	out := *inst
	out.Participants = make(map[string]Participant, len(inst.Participants))
	for id, p := range inst.Participants {
		out.Participants[id] = p
	}
	out.Order = append([]string(nil), inst.Order...)
	return out
}

// publishRoom builds a room-scoped subject and publishes a payload on it.
// Publish failures are logged and never roll back engine state.
func (e *Engine) publishRoom(patternName, roomID string, kind broker.EventKind, payload map[string]any) {
	subj, err := e.reg.Build(patternName, map[string]string{"room_id": roomID})
	if err != nil {
		slog.Warn("combat: subject build failed", "pattern", patternName, "room_id", roomID, "err", err)
		return
	}
	env, err := broker.NewEnvelope(kind, payload)
	if err != nil {
		slog.Warn("combat: envelope marshal failed", "subject", subj, "err", err)
		return
	}
	env.RoomID = roomID
	if _, err := e.bus.Publish(subj, env); err != nil {
		slog.Warn("combat: publish failed", "subject", subj, "err", err)
	}
}
