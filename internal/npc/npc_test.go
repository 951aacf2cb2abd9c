package npc_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/arkmoor/arkmoor/internal/npc"
	"github.com/arkmoor/arkmoor/internal/world"
)

func ratDef() npc.Definition {
	return npc.Definition{
		ID:   "sewer_rat",
		Name: "sewer rat",
		Stats: npc.BaseStats{
			MaxHP: 40, Dexterity: 11, XPValue: 6,
		},
	}
}

func TestSpawnStartsAtMaxHP(t *testing.T) {
	t.Parallel()

	rt := npc.NewRuntime()
	rt.RegisterDefinition(ratDef())

	inst, err := rt.Spawn("rat-1", "sewer_rat", "sewer_entrance")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if inst.CurrentHP != 40 {
		t.Errorf("CurrentHP = %d, want 40", inst.CurrentHP)
	}
	if inst.RoomID != "sewer_entrance" {
		t.Errorf("RoomID = %q, want sewer_entrance", inst.RoomID)
	}

	rec, err := rt.Lifecycle("rat-1")
	if err != nil {
		t.Fatalf("Lifecycle: %v", err)
	}
	if rec.Definition.Stats.XPValue != 6 {
		t.Errorf("XPValue = %d, want 6", rec.Definition.Stats.XPValue)
	}
}

func TestSpawnUnknownDefinition(t *testing.T) {
	t.Parallel()

	rt := npc.NewRuntime()
	if _, err := rt.Spawn("x-1", "dragon", "r1"); !errors.Is(err, npc.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDespawnRemovesFromRoomListing(t *testing.T) {
	t.Parallel()

	rt := npc.NewRuntime()
	rt.RegisterDefinition(ratDef())
	rt.Spawn("rat-1", "sewer_rat", "r1")
	rt.Spawn("rat-2", "sewer_rat", "r1")

	rt.Despawn("rat-1")

	got := rt.InRoom([]string{"rat-1", "rat-2"})
	if len(got) != 1 || got[0].ID != "rat-2" {
		t.Fatalf("InRoom = %+v, want just rat-2", got)
	}
	if _, err := rt.Active("rat-1"); !errors.Is(err, npc.ErrNotFound) {
		t.Errorf("Active after despawn = %v, want ErrNotFound", err)
	}
}

func TestSetHP(t *testing.T) {
	t.Parallel()

	rt := npc.NewRuntime()
	rt.RegisterDefinition(ratDef())
	rt.Spawn("rat-1", "sewer_rat", "r1")

	if err := rt.SetHP("rat-1", 12); err != nil {
		t.Fatalf("SetHP: %v", err)
	}
	inst, _ := rt.Active("rat-1")
	if inst.CurrentHP != 12 {
		t.Errorf("CurrentHP = %d, want 12", inst.CurrentHP)
	}
}

const contentYAML = `
npcs:
  - id: sewer_rat
    name: "sewer rat"
    stats: {max_hp: 40, dexterity: 11, xp_value: 6}
prototypes:
  - id: rusty_dagger
    name: "a rusty dagger"
    long_description: "Pitted iron, older than the town."
rooms:
  - id: sewer_entrance
    name: "Sewer Entrance"
    description: "A slick ladder descends into the dark."
    exits: {up: town_square}
    npc_ids: [rat-1]
spawns:
  - instance_id: rat-1
    npc_id: sewer_rat
    room_id: sewer_entrance
`

func TestLoadContentFromReader(t *testing.T) {
	t.Parallel()

	cf, err := npc.LoadContentFromReader(strings.NewReader(contentYAML))
	if err != nil {
		t.Fatalf("LoadContentFromReader: %v", err)
	}
	if len(cf.NPCs) != 1 || len(cf.Prototypes) != 1 || len(cf.Rooms) != 1 || len(cf.Spawns) != 1 {
		t.Fatalf("counts = %d/%d/%d/%d, want 1 each",
			len(cf.NPCs), len(cf.Prototypes), len(cf.Rooms), len(cf.Spawns))
	}
	if cf.Rooms[0].Exits["up"] != "town_square" {
		t.Errorf("room exit up = %q, want town_square", cf.Rooms[0].Exits["up"])
	}
}

func TestLoadContentRejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	_, err := npc.LoadContentFromReader(strings.NewReader("monsters:\n  - id: x\n"))
	if err == nil {
		t.Fatal("expected decode error for unknown top-level key")
	}
}

func TestLoadContentRejectsIncompleteSpawn(t *testing.T) {
	t.Parallel()

	_, err := npc.LoadContentFromReader(strings.NewReader(`
spawns:
  - instance_id: rat-1
    npc_id: sewer_rat
`))
	if err == nil || !strings.Contains(err.Error(), "incomplete") {
		t.Fatalf("err = %v, want incomplete spawn", err)
	}
}

func TestInstallRegistersAndSpawns(t *testing.T) {
	t.Parallel()

	cf, err := npc.LoadContentFromReader(strings.NewReader(contentYAML))
	if err != nil {
		t.Fatalf("LoadContentFromReader: %v", err)
	}

	rt := npc.NewRuntime()
	protos := world.NewPrototypeRegistry()
	n, err := npc.Install(cf, rt, protos)
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if n != 3 {
		t.Errorf("installed = %d, want 3", n)
	}
	if _, err := rt.Active("rat-1"); err != nil {
		t.Errorf("rat-1 not spawned: %v", err)
	}
	if _, err := protos.Get("rusty_dagger"); err != nil {
		t.Errorf("prototype not registered: %v", err)
	}
}

func TestInstallReportsFailedSpawns(t *testing.T) {
	t.Parallel()

	cf := &npc.ContentFile{
		Spawns: []npc.SpawnEntry{{InstanceID: "x-1", NPCID: "dragon", RoomID: "r1"}},
	}
	_, err := npc.Install(cf, npc.NewRuntime(), world.NewPrototypeRegistry())
	if !errors.Is(err, npc.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
