// Package spell applies spell effects to resolved targets. The dispatcher
// never mutates state directly: every change goes through the player
// store, which stays the authority on hit points and effects.
package spell

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/arkmoor/arkmoor/internal/broker"
	"github.com/arkmoor/arkmoor/internal/subject"
	"github.com/arkmoor/arkmoor/internal/target"
	"github.com/arkmoor/arkmoor/internal/world"
)

// Typed failures.
var (
	ErrUnknownEffect = errors.New("spell: unknown effect kind")
	ErrInvalidTarget = errors.New("spell: invalid target")
)

// EffectKind classifies what a spell does to its target.
type EffectKind string

const (
	EffectHeal   EffectKind = "heal"
	EffectDamage EffectKind = "damage"
	EffectStatus EffectKind = "status_effect"
)

// EffectData carries the kind-specific parameters of a spell.
type EffectData struct {
	// Amount is hit points healed or dealt.
	Amount int `yaml:"amount" json:"amount"`

	// DamageType selects the reduction applied to damage spells.
	DamageType string `yaml:"damage_type" json:"damage_type"`

	// StatusName and BaseDurationSeconds describe status effects; the
	// actual duration scales with caster mastery.
	StatusName          string `yaml:"status_name" json:"status_name"`
	BaseDurationSeconds int    `yaml:"base_duration_seconds" json:"base_duration_seconds"`
}

// Definition is one castable spell.
type Definition struct {
	SpellID    string     `yaml:"spell_id" json:"spell_id"`
	Kind       EffectKind `yaml:"effect_kind" json:"effect_kind"`
	EffectData EffectData `yaml:"effect_data" json:"effect_data"`

	// Mastery is the caster's proficiency, minimum 1.
	Mastery int `yaml:"mastery" json:"mastery"`
}

// Result reports the outcome of one cast.
type Result struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	EffectApplied bool   `json:"effect_applied"`
}

// Dispatcher applies spell definitions to targets. All methods are safe
// for concurrent use.
type Dispatcher struct {
	players world.PlayerStore
	bus     *broker.Broker
	reg     *subject.Registry

	// reductions maps a damage type to the percentage absorbed before
	// the remainder hits the target.
	reductions map[string]int
}

// NewDispatcher creates a dispatcher. reductions may be nil, meaning no
// damage type is reduced.
func NewDispatcher(players world.PlayerStore, bus *broker.Broker, reg *subject.Registry, reductions map[string]int) *Dispatcher {
	if reductions == nil {
		reductions = make(map[string]int)
	}
	return &Dispatcher{players: players, bus: bus, reg: reg, reductions: reductions}
}

// Cast applies def to the resolved target. Only players can be spell
// targets; NPC damage goes through the combat engine instead.
func (d *Dispatcher) Cast(ctx context.Context, casterID string, tgt target.Candidate, def Definition) (Result, error) {
	if tgt.Kind != target.KindPlayer {
		return Result{}, fmt.Errorf("%w: %s is not a player", ErrInvalidTarget, tgt.Name)
	}
	p, err := d.players.GetPlayerByID(ctx, tgt.ID)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	mastery := def.Mastery
	if mastery < 1 {
		mastery = 1
	}

	var msg string
	switch def.Kind {
	case EffectHeal:
		healed := def.EffectData.Amount
		if p.CurrentHP+healed > p.MaxHP {
			healed = p.MaxHP - p.CurrentHP
		}
		if healed < 0 {
			healed = 0
		}
		p.CurrentHP += healed
		msg = fmt.Sprintf("%s is healed for %d.", p.Name, healed)

	case EffectDamage:
		dmg := def.EffectData.Amount
		if cut := d.reductions[def.EffectData.DamageType]; cut > 0 {
			dmg -= dmg * cut / 100
		}
		if dmg < 0 {
			dmg = 0
		}
		p.CurrentHP -= dmg
		msg = fmt.Sprintf("%s takes %d %s damage.", p.Name, dmg, def.EffectData.DamageType)

	case EffectStatus:
		effect := world.StatusEffect{
			Name:            def.EffectData.StatusName,
			DurationSeconds: def.EffectData.BaseDurationSeconds * mastery,
		}
		p.Effects = append(p.Effects, effect)
		msg = fmt.Sprintf("%s is affected by %s.", p.Name, effect.Name)

	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownEffect, def.Kind)
	}

	if err := d.players.SavePlayer(ctx, p); err != nil {
		return Result{}, fmt.Errorf("spell: persist %s: %w", tgt.ID, err)
	}

	d.publishUpdate(def, p, casterID)
	return Result{Success: true, Message: msg, EffectApplied: true}, nil
}

// publishUpdate announces the target's new state on its stat update
// subject. Failures are logged, never propagated.
func (d *Dispatcher) publishUpdate(def Definition, p world.Player, casterID string) {
	subj, err := d.reg.Build(subject.CombatDPUpdate, map[string]string{"player_id": p.ID})
	if err != nil {
		slog.Warn("spell: dp_update subject build failed", "player_id", p.ID, "err", err)
		return
	}
	env, err := broker.NewEnvelope(broker.KindCombat, map[string]any{
		"event":      "spell_effect",
		"spell_id":   def.SpellID,
		"caster_id":  casterID,
		"player_id":  p.ID,
		"current_hp": p.CurrentHP,
		"max_hp":     p.MaxHP,
	})
	if err != nil {
		return
	}
	env.PlayerID = p.ID
	if _, err := d.bus.Publish(subj, env); err != nil {
		slog.Warn("spell: dp_update publish failed", "player_id", p.ID, "err", err)
	}
}
