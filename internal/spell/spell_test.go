package spell_test

import (
	"context"
	"errors"
	"testing"

	"github.com/arkmoor/arkmoor/internal/broker"
	"github.com/arkmoor/arkmoor/internal/spell"
	"github.com/arkmoor/arkmoor/internal/subject"
	"github.com/arkmoor/arkmoor/internal/target"
	"github.com/arkmoor/arkmoor/internal/world"
)

func newDispatcher(t *testing.T, reductions map[string]int) (*spell.Dispatcher, *world.MemStore) {
	t.Helper()
	reg, err := subject.NewRegistry(subject.DefaultOptions())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	store := world.NewMemStore()
	store.PutPlayer(world.Player{
		ID: "p1", Name: "Arlen", RoomID: "square",
		CurrentHP: 60, MaxHP: 100,
	})
	return spell.NewDispatcher(store, broker.New(reg, nil, nil), reg, reductions), store
}

func playerTarget() target.Candidate {
	return target.Candidate{ID: "p1", Kind: target.KindPlayer, Name: "Arlen"}
}

func TestHealIsCappedAtMaxHP(t *testing.T) {
	t.Parallel()
	d, store := newDispatcher(t, nil)
	ctx := context.Background()

	res, err := d.Cast(ctx, "caster", playerTarget(), spell.Definition{
		SpellID: "mend", Kind: spell.EffectHeal,
		EffectData: spell.EffectData{Amount: 70},
	})
	if err != nil {
		t.Fatalf("Cast: %v", err)
	}
	if !res.Success || !res.EffectApplied {
		t.Errorf("result = %+v", res)
	}
	if res.Message != "Arlen is healed for 40." {
		t.Errorf("Message = %q", res.Message)
	}

	p, err := store.GetPlayerByID(ctx, "p1")
	if err != nil {
		t.Fatalf("GetPlayerByID: %v", err)
	}
	if p.CurrentHP != 100 {
		t.Errorf("hp = %d, want 100", p.CurrentHP)
	}
}

func TestDamageAppliesTypedReduction(t *testing.T) {
	t.Parallel()
	d, store := newDispatcher(t, map[string]int{"frost": 50})
	ctx := context.Background()

	res, err := d.Cast(ctx, "caster", playerTarget(), spell.Definition{
		SpellID: "shard", Kind: spell.EffectDamage,
		EffectData: spell.EffectData{Amount: 20, DamageType: "frost"},
	})
	if err != nil {
		t.Fatalf("Cast: %v", err)
	}
	if res.Message != "Arlen takes 10 frost damage." {
		t.Errorf("Message = %q", res.Message)
	}

	p, err := store.GetPlayerByID(ctx, "p1")
	if err != nil {
		t.Fatalf("GetPlayerByID: %v", err)
	}
	if p.CurrentHP != 50 {
		t.Errorf("hp = %d, want 50", p.CurrentHP)
	}
}

func TestStatusEffectDurationScalesWithMastery(t *testing.T) {
	t.Parallel()
	d, store := newDispatcher(t, nil)
	ctx := context.Background()

	_, err := d.Cast(ctx, "caster", playerTarget(), spell.Definition{
		SpellID: "slow", Kind: spell.EffectStatus, Mastery: 3,
		EffectData: spell.EffectData{StatusName: "slowed", BaseDurationSeconds: 10},
	})
	if err != nil {
		t.Fatalf("Cast: %v", err)
	}

	p, err := store.GetPlayerByID(ctx, "p1")
	if err != nil {
		t.Fatalf("GetPlayerByID: %v", err)
	}
	if len(p.Effects) != 1 {
		t.Fatalf("effects = %v, want 1", p.Effects)
	}
	if e := p.Effects[0]; e.Name != "slowed" || e.DurationSeconds != 30 {
		t.Errorf("effect = %+v, want slowed for 30s", e)
	}
}

func TestCastFailures(t *testing.T) {
	t.Parallel()
	d, _ := newDispatcher(t, nil)
	ctx := context.Background()

	npcTarget := target.Candidate{ID: "rat-1", Kind: target.KindNPC, Name: "rat"}
	if _, err := d.Cast(ctx, "caster", npcTarget, spell.Definition{Kind: spell.EffectHeal}); !errors.Is(err, spell.ErrInvalidTarget) {
		t.Errorf("npc target err = %v, want ErrInvalidTarget", err)
	}

	ghost := target.Candidate{ID: "ghost", Kind: target.KindPlayer, Name: "Ghost"}
	if _, err := d.Cast(ctx, "caster", ghost, spell.Definition{Kind: spell.EffectHeal}); !errors.Is(err, spell.ErrInvalidTarget) {
		t.Errorf("unknown player err = %v, want ErrInvalidTarget", err)
	}

	if _, err := d.Cast(ctx, "caster", playerTarget(), spell.Definition{Kind: "banish"}); !errors.Is(err, spell.ErrUnknownEffect) {
		t.Errorf("unknown kind err = %v, want ErrUnknownEffect", err)
	}
}
