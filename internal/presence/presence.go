// Package presence computes who and what a player shares a room with. It
// layers the connection manager's grace set over persisted room membership
// so a transiently disconnected player still shows up, annotated linkdead.
package presence

import (
	"context"
	"fmt"

	"github.com/arkmoor/arkmoor/internal/npc"
	"github.com/arkmoor/arkmoor/internal/world"
)

// GraceSource reports which players are currently in a login grace period.
// The connection manager satisfies this.
type GraceSource interface {
	GraceSet() map[string]bool
}

// PlayerEntry is one player occupant as seen by a viewer.
type PlayerEntry struct {
	ID       string
	Name     string
	Linkdead bool
}

// Display renders the entry the way occupant lists print it.
func (e PlayerEntry) Display() string {
	if e.Linkdead {
		return e.Name + " (linkdead)"
	}
	return e.Name
}

// NPCEntry is one live NPC occupant.
type NPCEntry struct {
	ID   string
	Name string
}

// ContainerEntry is one container placed in the room.
type ContainerEntry struct {
	ID     string
	Name   string
	Locked bool
	Sealed bool
}

// DropEntry is one item stack lying in the room, resolved to its display
// name. Unknown prototypes fall back to the prototype id.
type DropEntry struct {
	PrototypeID string
	Name        string
	Quantity    int
}

// View is everything in a room except the viewer, grouped by kind. Each
// slice keeps the underlying store's insertion order.
type View struct {
	Players    []PlayerEntry
	NPCs       []NPCEntry
	Containers []ContainerEntry
	Drops      []DropEntry
}

// Service resolves room occupancy. All methods are safe for concurrent use.
type Service struct {
	rooms      world.RoomStore
	containers world.ContainerStore
	npcs       *npc.Runtime
	protos     *world.PrototypeRegistry
	grace      GraceSource
}

// NewService wires a presence service over the given stores and runtimes.
func NewService(rooms world.RoomStore, containers world.ContainerStore, npcs *npc.Runtime, protos *world.PrototypeRegistry, grace GraceSource) *Service {
	return &Service{
		rooms:      rooms,
		containers: containers,
		npcs:       npcs,
		protos:     protos,
		grace:      grace,
	}
}

// ListOccupants returns the room's occupants from viewerID's point of view:
// every player except the viewer, then NPCs, then containers, then drops.
func (s *Service) ListOccupants(ctx context.Context, roomID, viewerID string) (View, error) {
	room, err := s.rooms.GetRoomByID(ctx, roomID)
	if err != nil {
		return View{}, fmt.Errorf("presence: list occupants of %q: %w", roomID, err)
	}

	players, err := s.rooms.GetPlayersInRoom(ctx, roomID)
	if err != nil {
		return View{}, fmt.Errorf("presence: list occupants of %q: %w", roomID, err)
	}
	graceSet := s.grace.GraceSet()

	var view View
	for _, p := range players {
		if p.ID == viewerID {
			continue
		}
		view.Players = append(view.Players, PlayerEntry{
			ID:       p.ID,
			Name:     p.Name,
			Linkdead: graceSet[p.ID],
		})
	}

	for _, inst := range s.npcs.InRoom(room.NPCIDs) {
		view.NPCs = append(view.NPCs, NPCEntry{ID: inst.ID, Name: inst.Name})
	}

	containers, err := s.containers.GetContainersByRoomID(ctx, roomID)
	if err != nil {
		return View{}, fmt.Errorf("presence: list occupants of %q: %w", roomID, err)
	}
	for _, c := range containers {
		view.Containers = append(view.Containers, ContainerEntry{
			ID:     c.ID,
			Name:   c.Name,
			Locked: c.Locked,
			Sealed: c.Sealed,
		})
	}

	for _, d := range room.Drops {
		name := d.PrototypeID
		if proto, err := s.protos.Get(d.PrototypeID); err == nil {
			name = proto.Name
		}
		view.Drops = append(view.Drops, DropEntry{
			PrototypeID: d.PrototypeID,
			Name:        name,
			Quantity:    d.Quantity,
		})
	}

	return view, nil
}
