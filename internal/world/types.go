// Package world defines the game-world data model and the persistence
// interfaces the core consumes. Players, rooms, items, and containers are
// owned by the storage layer; the core reads them as values at the moment of
// use and writes back through the store interfaces.
//
// Two store implementations are provided: [PostgresStore] for production and
// [MemStore] for tests and offline tooling.
package world

// EquipSlot identifies an equipment slot on a player.
type EquipSlot string

const (
	SlotHead     EquipSlot = "head"
	SlotTorso    EquipSlot = "torso"
	SlotLegs     EquipSlot = "legs"
	SlotHands    EquipSlot = "hands"
	SlotFeet     EquipSlot = "feet"
	SlotMainHand EquipSlot = "main_hand"
	SlotOffHand  EquipSlot = "off_hand"
	SlotBelt     EquipSlot = "belt"
	SlotBackpack EquipSlot = "backpack"
)

// AllSlots lists every equipment slot, carry slots included.
var AllSlots = []EquipSlot{
	SlotHead, SlotTorso, SlotLegs, SlotHands, SlotFeet, SlotMainHand,
	SlotOffHand, SlotBelt, SlotBackpack,
}

// VisibleSlots lists the equipment slots shown when another player looks at
// a character. Internal carry slots (belt, backpack) are never rendered.
var VisibleSlots = []EquipSlot{
	SlotHead, SlotTorso, SlotLegs, SlotHands, SlotFeet, SlotMainHand, SlotOffHand,
}

// ItemInstance is a concrete item held by a player or lying in a room.
// Display data (name, long description) lives on the prototype.
type ItemInstance struct {
	ID          string `yaml:"id" json:"id"`
	PrototypeID string `yaml:"prototype_id" json:"prototype_id"`
}

// ItemStack is a quantity of one item prototype dropped in a room.
type ItemStack struct {
	PrototypeID string `yaml:"prototype_id" json:"prototype_id"`
	Quantity    int    `yaml:"quantity" json:"quantity"`
}

// StatusEffect is a timed condition applied to a player, e.g. by a spell.
type StatusEffect struct {
	Name            string `json:"name"`
	DurationSeconds int    `json:"duration_seconds"`
}

// Player is the persisted state of a character. The core mutates players
// only through the store; hit points and lucidity are authoritative here,
// never inside a combat instance.
type Player struct {
	ID           string
	Name         string
	Description  string
	RoomID       string
	ProfessionID string
	Position     string

	CurrentHP       int
	MaxHP           int
	CurrentLucidity int
	MaxLucidity     int
	Dexterity       int
	Experience      int

	Inventory []ItemInstance
	Equipment map[EquipSlot]ItemInstance
	Effects   []StatusEffect
}

// Room is a location in the world. Exits map a direction name to the id of
// the adjacent room. Player and NPC membership is mutated by the core
// through the store; everyone else treats it as read-only.
type Room struct {
	ID          string            `yaml:"id"`
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	SubzoneID   string            `yaml:"subzone_id"`
	Exits       map[string]string `yaml:"exits"`
	PlayerIDs   []string          `yaml:"-"`
	NPCIDs      []string          `yaml:"npc_ids"`
	Drops       []ItemStack       `yaml:"drops"`
}

// Container is a lootable object placed in a room or carried by a player.
type Container struct {
	ID         string
	Name       string
	RoomID     string
	Locked     bool
	Sealed     bool
	SlotsTotal int
	Items      []ItemInstance
}

// Profession is the character class record, read-only for the core.
type Profession struct {
	ID   string
	Name string
}
