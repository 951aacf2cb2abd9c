package npc

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/arkmoor/arkmoor/internal/world"
)

// ContentFile is the top-level structure of a world content YAML file.
//
// Example:
//
//	npcs:
//	  - id: rat
//	    name: "rat"
//	    stats: {max_hp: 50, dexterity: 10, xp_value: 7}
//	prototypes:
//	  - id: rusty_dagger
//	    name: "a rusty dagger"
//	    long_description: "Pitted iron, older than the town."
//	rooms:
//	  - id: town_square
//	    description: "A town square."
//	    exits: {north: north_gate}
//	    npc_ids: [rat-1]
//	spawns:
//	  - instance_id: rat-1
//	    npc_id: rat
//	    room_id: town_square
type ContentFile struct {
	NPCs       []Definition          `yaml:"npcs"`
	Prototypes []world.ItemPrototype `yaml:"prototypes"`
	Rooms      []world.Room          `yaml:"rooms"`
	Spawns     []SpawnEntry          `yaml:"spawns"`
}

// SpawnEntry places an instance of a defined NPC into a room at boot.
type SpawnEntry struct {
	InstanceID string `yaml:"instance_id"`
	NPCID      string `yaml:"npc_id"`
	RoomID     string `yaml:"room_id"`
}

// LoadContentFile reads and parses a content YAML file from disk.
func LoadContentFile(path string) (*ContentFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("npc: open content file %q: %w", path, err)
	}
	defer f.Close()

	cf, err := LoadContentFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("npc: parse content file %q: %w", path, err)
	}
	return cf, nil
}

// LoadContentFromReader parses content YAML from an [io.Reader].
func LoadContentFromReader(r io.Reader) (*ContentFile, error) {
	var cf ContentFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true) // reject unknown top-level keys to catch typos
	if err := dec.Decode(&cf); err != nil {
		return nil, fmt.Errorf("npc: decode content yaml: %w", err)
	}
	for i, d := range cf.NPCs {
		if d.ID == "" || d.Name == "" {
			return nil, fmt.Errorf("npc: content entry %d missing id or name", i)
		}
	}
	for i, p := range cf.Prototypes {
		if p.ID == "" || p.Name == "" {
			return nil, fmt.Errorf("npc: prototype entry %d missing id or name", i)
		}
	}
	for i, r := range cf.Rooms {
		if r.ID == "" {
			return nil, fmt.Errorf("npc: room entry %d missing id", i)
		}
	}
	for i, s := range cf.Spawns {
		if s.InstanceID == "" || s.NPCID == "" || s.RoomID == "" {
			return nil, fmt.Errorf("npc: spawn entry %d incomplete", i)
		}
	}
	return &cf, nil
}

// Install registers every definition and prototype from cf into the runtime
// and registry, then performs the listed spawns. Returns the number of
// records installed; spawn failures are returned after everything else has
// been attempted.
func Install(cf *ContentFile, rt *Runtime, protos *world.PrototypeRegistry) (int, error) {
	n := 0
	for _, d := range cf.NPCs {
		rt.RegisterDefinition(d)
		n++
	}
	for _, p := range cf.Prototypes {
		protos.Register(p)
		n++
	}
	var errs []error
	for _, s := range cf.Spawns {
		if _, err := rt.Spawn(s.InstanceID, s.NPCID, s.RoomID); err != nil {
			errs = append(errs, fmt.Errorf("spawn %q: %w", s.InstanceID, err))
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}
