package spell_test

import (
	"strings"
	"testing"

	"github.com/arkmoor/arkmoor/internal/spell"
)

const bookYAML = `
spells:
  - spell_id: mend
    effect_kind: heal
    effect_data: {amount: 20}
    mastery: 2
  - spell_id: ember
    effect_kind: damage
    effect_data: {amount: 8, damage_type: fire}
damage_reductions:
  fire: 3
`

func TestLoadBookFromReader(t *testing.T) {
	t.Parallel()

	book, reductions, err := spell.LoadBookFromReader(strings.NewReader(bookYAML))
	if err != nil {
		t.Fatalf("LoadBookFromReader: %v", err)
	}

	mend, ok := book["mend"]
	if !ok {
		t.Fatal("mend not loaded")
	}
	if mend.Kind != spell.EffectHeal || mend.EffectData.Amount != 20 || mend.Mastery != 2 {
		t.Errorf("mend = %+v, want heal/20/mastery 2", mend)
	}

	// Mastery defaults to 1 when omitted.
	if got := book["ember"].Mastery; got != 1 {
		t.Errorf("ember mastery = %d, want 1", got)
	}
	if reductions["fire"] != 3 {
		t.Errorf("fire reduction = %d, want 3", reductions["fire"])
	}
}

func TestLoadBookRejectsUnknownKind(t *testing.T) {
	t.Parallel()

	_, _, err := spell.LoadBookFromReader(strings.NewReader(`
spells:
  - spell_id: hex
    effect_kind: polymorph
`))
	if err == nil || !strings.Contains(err.Error(), "unknown effect kind") {
		t.Fatalf("err = %v, want unknown effect kind", err)
	}
}

func TestLoadBookRejectsMissingID(t *testing.T) {
	t.Parallel()

	_, _, err := spell.LoadBookFromReader(strings.NewReader(`
spells:
  - effect_kind: heal
    effect_data: {amount: 5}
`))
	if err == nil || !strings.Contains(err.Error(), "missing spell_id") {
		t.Fatalf("err = %v, want missing spell_id", err)
	}
}
