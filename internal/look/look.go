// Package look renders what a player sees: their room, an adjacent room,
// another player, an item, or a container. Output is plain text, one
// thought per line, in the order a MUD client expects to print it.
package look

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/arkmoor/arkmoor/internal/npc"
	"github.com/arkmoor/arkmoor/internal/presence"
	"github.com/arkmoor/arkmoor/internal/world"
)

// ErrNotThatMany is returned when an instance ordinal exceeds the number of
// matches, e.g. "look rat-5" with two rats present.
var ErrNotThatMany = errors.New("look: there aren't that many")

// instanceRe splits a trailing ordinal off a look target, accepting both
// "rat-2" and "rat 2".
var instanceRe = regexp.MustCompile(`^(.+?)[\s-](\d+)$`)

// Engine renders look output. All methods are safe for concurrent use.
type Engine struct {
	store  world.Store
	npcs   *npc.Runtime
	protos *world.PrototypeRegistry
	pres   *presence.Service
	grace  presence.GraceSource
}

// NewEngine wires a look engine over the world store, NPC runtime, item
// prototypes, and presence service.
func NewEngine(store world.Store, npcs *npc.Runtime, protos *world.PrototypeRegistry, pres *presence.Service, grace presence.GraceSource) *Engine {
	return &Engine{store: store, npcs: npcs, protos: protos, pres: pres, grace: grace}
}

// Room renders the viewer's current room: name, description, drops,
// containers, occupants, and exits.
func (e *Engine) Room(ctx context.Context, viewerID string) (string, error) {
	viewer, err := e.store.GetPlayerByID(ctx, viewerID)
	if err != nil {
		return "", fmt.Errorf("look: load viewer: %w", err)
	}
	room, err := e.store.GetRoomByID(ctx, viewer.RoomID)
	if err != nil {
		return "", fmt.Errorf("look: load room: %w", err)
	}
	view, err := e.pres.ListOccupants(ctx, room.ID, viewerID)
	if err != nil {
		return "", err
	}

	var lines []string
	if room.Name != "" {
		lines = append(lines, room.Name)
	}
	if room.Description != "" {
		lines = append(lines, room.Description)
	}

	for _, d := range view.Drops {
		lines = append(lines, formatDrop(d))
	}
	for _, c := range view.Containers {
		lines = append(lines, fmt.Sprintf("A %s sits here.", c.Name))
	}
	if here := alsoHere(view); here != "" {
		lines = append(lines, "Also here: "+here+".")
	}

	lines = append(lines, "", "Exits: "+exitList(room.Exits))
	return strings.Join(lines, "\n"), nil
}

// Direction renders the room one exit away, or a shrug when there is no
// exit that way.
func (e *Engine) Direction(ctx context.Context, viewerID, dir string) (string, error) {
	viewer, err := e.store.GetPlayerByID(ctx, viewerID)
	if err != nil {
		return "", fmt.Errorf("look: load viewer: %w", err)
	}
	room, err := e.store.GetRoomByID(ctx, viewer.RoomID)
	if err != nil {
		return "", fmt.Errorf("look: load room: %w", err)
	}
	nextID, ok := room.Exits[strings.ToLower(strings.TrimSpace(dir))]
	if !ok {
		return "You see nothing special that way.", nil
	}
	next, err := e.store.GetRoomByID(ctx, nextID)
	if err != nil {
		return "", fmt.Errorf("look: load adjacent room: %w", err)
	}
	return next.Name + "\n" + next.Description, nil
}

// Player renders another player (or the viewer): name with linkdead
// annotation, visible equipment, position, and descriptive health and
// lucidity labels.
func (e *Engine) Player(ctx context.Context, viewerID, name string) (string, error) {
	viewer, err := e.store.GetPlayerByID(ctx, viewerID)
	if err != nil {
		return "", fmt.Errorf("look: load viewer: %w", err)
	}
	p, ok, err := e.findPlayer(ctx, viewer.RoomID, name)
	if err != nil {
		return "", err
	}
	if !ok {
		return dontSee(name), nil
	}

	header := p.Name
	if e.grace.GraceSet()[p.ID] {
		header += " (linkdead)"
	}

	var lines []string
	lines = append(lines, header)
	if p.Description != "" {
		lines = append(lines, p.Description)
	}

	for _, slot := range world.VisibleSlots {
		item, ok := p.Equipment[slot]
		if !ok {
			continue
		}
		itemName := item.PrototypeID
		if proto, err := e.protos.Get(item.PrototypeID); err == nil {
			itemName = proto.Name
		}
		lines = append(lines, fmt.Sprintf("<%s> %s", slotLabel(slot), itemName))
	}

	if p.Position != "" {
		lines = append(lines, fmt.Sprintf("%s is %s.", p.Name, p.Position))
	}
	lines = append(lines, fmt.Sprintf("%s looks %s.", p.Name, HealthLabel(p.CurrentHP, p.MaxHP)))
	lines = append(lines, fmt.Sprintf("%s seems %s.", p.Name, LucidityLabel(p.CurrentLucidity, p.MaxLucidity)))
	return strings.Join(lines, "\n"), nil
}

// Item renders an item found in the room's drops, the viewer's inventory,
// or the viewer's equipment. Equipped items are skipped when inLook is set,
// matching "look in <x>" which can only mean a container.
func (e *Engine) Item(ctx context.Context, viewerID, name string, inLook bool) (string, error) {
	viewer, err := e.store.GetPlayerByID(ctx, viewerID)
	if err != nil {
		return "", fmt.Errorf("look: load viewer: %w", err)
	}
	proto, ok, err := e.findItem(ctx, viewer, name, inLook)
	if err != nil {
		return "", err
	}
	if !ok {
		return dontSee(name), nil
	}
	return proto.Name + "\n" + proto.LongDescription, nil
}

// Container renders a container located by name or id in the room or among
// the viewer's equipped items. Contents are listed when showContents is
// set.
func (e *Engine) Container(ctx context.Context, viewerID, name string, showContents bool) (string, error) {
	viewer, err := e.store.GetPlayerByID(ctx, viewerID)
	if err != nil {
		return "", fmt.Errorf("look: load viewer: %w", err)
	}
	c, ok, err := e.findContainer(ctx, viewer, name)
	if err != nil {
		return "", err
	}
	if !ok {
		return dontSee(name), nil
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("%s (%d/%d slots)", c.Name, len(c.Items), c.SlotsTotal))
	switch {
	case c.Locked:
		lines = append(lines, "It is locked.")
	case c.Sealed:
		lines = append(lines, "It is sealed shut.")
	}
	if showContents && !c.Locked && !c.Sealed {
		if len(c.Items) == 0 {
			lines = append(lines, "It is empty.")
		} else {
			for _, item := range c.Items {
				itemName := item.PrototypeID
				if proto, err := e.protos.Get(item.PrototypeID); err == nil {
					itemName = proto.Name
				}
				lines = append(lines, "  "+itemName)
			}
		}
	}
	return strings.Join(lines, "\n"), nil
}

// Implicit resolves a bare name in priority order player, NPC, item,
// container, and renders whichever matches first.
func (e *Engine) Implicit(ctx context.Context, viewerID, name string) (string, error) {
	viewer, err := e.store.GetPlayerByID(ctx, viewerID)
	if err != nil {
		return "", fmt.Errorf("look: load viewer: %w", err)
	}

	if _, ok, err := e.findPlayer(ctx, viewer.RoomID, name); err != nil {
		return "", err
	} else if ok {
		return e.Player(ctx, viewerID, name)
	}

	if out, ok, err := e.lookNPC(ctx, viewer.RoomID, name); err != nil || ok {
		return out, err
	}

	if proto, ok, err := e.findItem(ctx, viewer, name, false); err != nil {
		return "", err
	} else if ok {
		return proto.Name + "\n" + proto.LongDescription, nil
	}

	if _, ok, err := e.findContainer(ctx, viewer, name); err != nil {
		return "", err
	} else if ok {
		return e.Container(ctx, viewerID, name, false)
	}

	return dontSee(name), nil
}

// lookNPC renders an NPC in the room by partial, punctuation-insensitive
// name match.
func (e *Engine) lookNPC(ctx context.Context, roomID, name string) (string, bool, error) {
	room, err := e.store.GetRoomByID(ctx, roomID)
	if err != nil {
		return "", false, fmt.Errorf("look: load room: %w", err)
	}
	base, ordinal := splitInstance(name)
	base = stripPunct(base)

	var matches []npc.Instance
	for _, inst := range e.npcs.InRoom(room.NPCIDs) {
		if strings.Contains(stripPunct(strings.ToLower(inst.Name)), base) {
			matches = append(matches, inst)
		}
	}
	inst, ok, err := pick(matches, ordinal)
	if err != nil || !ok {
		return "", ok, err
	}

	desc := inst.Name
	if def, defErr := e.npcs.Definition(inst.DefinitionID); defErr == nil && def.Description != "" {
		desc += "\n" + def.Description
	}
	return desc, true, nil
}

// findPlayer matches a player in roomID by partial name, honouring an
// instance ordinal.
func (e *Engine) findPlayer(ctx context.Context, roomID, name string) (world.Player, bool, error) {
	players, err := e.store.GetPlayersInRoom(ctx, roomID)
	if err != nil {
		return world.Player{}, false, fmt.Errorf("look: list players: %w", err)
	}
	base, ordinal := splitInstance(name)

	var matches []world.Player
	for _, p := range players {
		if strings.Contains(strings.ToLower(p.Name), base) {
			matches = append(matches, p)
		}
	}
	return pick(matches, ordinal)
}

// findItem searches room drops, then inventory, then equipment.
func (e *Engine) findItem(ctx context.Context, viewer world.Player, name string, skipEquipped bool) (world.ItemPrototype, bool, error) {
	room, err := e.store.GetRoomByID(ctx, viewer.RoomID)
	if err != nil {
		return world.ItemPrototype{}, false, fmt.Errorf("look: load room: %w", err)
	}
	base, ordinal := splitInstance(name)

	var ids []string
	for _, d := range room.Drops {
		ids = append(ids, d.PrototypeID)
	}
	for _, item := range viewer.Inventory {
		ids = append(ids, item.PrototypeID)
	}
	if !skipEquipped {
		for _, slot := range world.AllSlots {
			if item, ok := viewer.Equipment[slot]; ok {
				ids = append(ids, item.PrototypeID)
			}
		}
	}

	var matches []world.ItemPrototype
	for _, id := range ids {
		proto, err := e.protos.Get(id)
		if err != nil {
			continue
		}
		if strings.Contains(strings.ToLower(proto.Name), base) {
			matches = append(matches, proto)
		}
	}
	return pick(matches, ordinal)
}

// findContainer matches a container by name or id, in the room first and
// then among equipped items that are containers.
func (e *Engine) findContainer(ctx context.Context, viewer world.Player, name string) (world.Container, bool, error) {
	containers, err := e.store.GetContainersByRoomID(ctx, viewer.RoomID)
	if err != nil {
		return world.Container{}, false, fmt.Errorf("look: list containers: %w", err)
	}
	base, ordinal := splitInstance(name)

	var matches []world.Container
	for _, c := range containers {
		if strings.Contains(strings.ToLower(c.Name), base) || strings.ToLower(c.ID) == base {
			matches = append(matches, c)
		}
	}
	for _, slot := range world.AllSlots {
		item, ok := viewer.Equipment[slot]
		if !ok {
			continue
		}
		c, err := e.store.GetContainer(ctx, item.ID)
		if err != nil {
			continue
		}
		if strings.Contains(strings.ToLower(c.Name), base) || strings.ToLower(c.ID) == base {
			matches = append(matches, c)
		}
	}
	return pick(matches, ordinal)
}

// pick selects the ordinal-th match (1-indexed), defaulting to the first.
func pick[T any](matches []T, ordinal int) (T, bool, error) {
	var zero T
	if len(matches) == 0 {
		return zero, false, nil
	}
	if ordinal == 0 {
		ordinal = 1
	}
	if ordinal > len(matches) {
		return zero, false, fmt.Errorf("%w: %d of %d", ErrNotThatMany, ordinal, len(matches))
	}
	return matches[ordinal-1], true, nil
}

// splitInstance separates a trailing instance ordinal from a target name.
func splitInstance(name string) (string, int) {
	name = strings.ToLower(strings.TrimSpace(name))
	if m := instanceRe.FindStringSubmatch(name); m != nil {
		if n, err := strconv.Atoi(m[2]); err == nil && n > 0 {
			return m[1], n
		}
	}
	return name, 0
}

// HealthLabel maps a current/max hit point ratio onto its descriptive
// band.
func HealthLabel(current, max int) string {
	switch pct := percent(current, max); {
	case pct > 75:
		return "healthy"
	case pct >= 25:
		return "wounded"
	case pct >= 1:
		return "critical"
	default:
		return "mortally wounded"
	}
}

// LucidityLabel maps a current/max lucidity ratio onto its descriptive
// band.
func LucidityLabel(current, max int) string {
	switch pct := percent(current, max); {
	case pct > 75:
		return "lucid"
	case pct >= 25:
		return "disturbed"
	case pct >= 1:
		return "unstable"
	default:
		return "mad"
	}
}

func percent(current, max int) int {
	if max <= 0 {
		return 0
	}
	return current * 100 / max
}

// alsoHere joins room occupants for the "Also here:" line, players before
// NPCs.
func alsoHere(view presence.View) string {
	var names []string
	for _, p := range view.Players {
		names = append(names, p.Display())
	}
	for _, n := range view.NPCs {
		names = append(names, n.Name)
	}
	return strings.Join(names, ", ")
}

// compassOrder ranks exit directions the way players expect to read them.
var compassOrder = map[string]int{
	"north": 0, "east": 1, "south": 2, "west": 3, "up": 4, "down": 5,
}

// exitList renders the exit directions in compass order, or "none".
func exitList(exits map[string]string) string {
	if len(exits) == 0 {
		return "none"
	}
	dirs := make([]string, 0, len(exits))
	for dir := range exits {
		dirs = append(dirs, dir)
	}
	sort.Slice(dirs, func(i, j int) bool {
		ri, iKnown := compassOrder[dirs[i]]
		rj, jKnown := compassOrder[dirs[j]]
		switch {
		case iKnown && jKnown:
			return ri < rj
		case iKnown:
			return true
		case jKnown:
			return false
		}
		return dirs[i] < dirs[j]
	})
	return strings.Join(dirs, ", ")
}

// formatDrop renders one dropped item stack.
func formatDrop(d presence.DropEntry) string {
	if d.Quantity > 1 {
		return fmt.Sprintf("%s (x%d) lies here.", d.Name, d.Quantity)
	}
	return fmt.Sprintf("%s lies here.", d.Name)
}

// slotLabel renders an equipment slot for display.
func slotLabel(slot world.EquipSlot) string {
	return strings.ReplaceAll(string(slot), "_", " ")
}

// dontSee is the canonical miss message.
func dontSee(name string) string {
	return fmt.Sprintf("You don't see any '%s' here.", strings.TrimSpace(name))
}

// stripPunct removes everything except letters, digits, and spaces.
func stripPunct(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == ' ':
			b.WriteRune(r)
		}
	}
	return b.String()
}
