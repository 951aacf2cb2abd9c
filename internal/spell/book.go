package spell

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// bookFile is the top-level structure of a spell book YAML file.
//
// Example:
//
//	spells:
//	  - spell_id: mend
//	    effect_kind: heal
//	    effect_data: {amount: 20}
//	    mastery: 1
//	damage_reductions:
//	  frost: 50
type bookFile struct {
	Spells           []Definition   `yaml:"spells"`
	DamageReductions map[string]int `yaml:"damage_reductions"`
}

// LoadBook reads a spell book from disk, returning the definitions keyed by
// spell id and the per-damage-type reduction table.
func LoadBook(path string) (map[string]Definition, map[string]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("spell: open book %q: %w", path, err)
	}
	defer f.Close()

	book, reductions, err := LoadBookFromReader(f)
	if err != nil {
		return nil, nil, fmt.Errorf("spell: parse book %q: %w", path, err)
	}
	return book, reductions, nil
}

// LoadBookFromReader parses spell book YAML from an [io.Reader].
func LoadBookFromReader(r io.Reader) (map[string]Definition, map[string]int, error) {
	var bf bookFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&bf); err != nil {
		return nil, nil, fmt.Errorf("spell: decode book yaml: %w", err)
	}

	book := make(map[string]Definition, len(bf.Spells))
	for i, d := range bf.Spells {
		if d.SpellID == "" {
			return nil, nil, fmt.Errorf("spell: book entry %d missing spell_id", i)
		}
		switch d.Kind {
		case EffectHeal, EffectDamage, EffectStatus:
		default:
			return nil, nil, fmt.Errorf("spell: book entry %q has unknown effect kind %q", d.SpellID, d.Kind)
		}
		if d.Mastery < 1 {
			d.Mastery = 1
		}
		book[d.SpellID] = d
	}
	return book, bf.DamageReductions, nil
}
