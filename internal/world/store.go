package world

import (
	"context"
	"errors"
)

// Sentinel errors shared by all store implementations.
var (
	// ErrPlayerNotFound is returned when no player matches the query.
	ErrPlayerNotFound = errors.New("world: player not found")

	// ErrRoomNotFound is returned when no room matches the given id.
	ErrRoomNotFound = errors.New("world: room not found")

	// ErrContainerNotFound is returned when no container matches the given id.
	ErrContainerNotFound = errors.New("world: container not found")

	// ErrProfessionNotFound is returned when no profession matches the given id.
	ErrProfessionNotFound = errors.New("world: profession not found")
)

// PlayerStore reads and writes persisted player state.
type PlayerStore interface {
	// GetPlayerByID retrieves a player by id.
	// Returns ErrPlayerNotFound if no such player exists.
	GetPlayerByID(ctx context.Context, id string) (Player, error)

	// GetPlayerByName retrieves a player by exact name, case-insensitive.
	// Returns ErrPlayerNotFound if no such player exists.
	GetPlayerByName(ctx context.Context, name string) (Player, error)

	// SavePlayer persists the full player record, replacing the stored one.
	SavePlayer(ctx context.Context, p Player) error
}

// RoomStore reads rooms and mutates their membership sets.
type RoomStore interface {
	// GetRoomByID retrieves a room. Implementations repair known structural
	// defects before returning (see FixRoom); callers always receive a room
	// with non-nil maps and slices.
	GetRoomByID(ctx context.Context, id string) (Room, error)

	// GetPlayersInRoom returns the players currently present in the room,
	// in stable insertion order.
	GetPlayersInRoom(ctx context.Context, roomID string) ([]Player, error)

	// AddPlayerToRoom records the player's presence in the room.
	AddPlayerToRoom(ctx context.Context, roomID, playerID string) error

	// RemovePlayerFromRoom removes the player's presence from the room.
	// Removing an absent player is not an error.
	RemovePlayerFromRoom(ctx context.Context, roomID, playerID string) error
}

// ContainerStore reads lootable containers.
type ContainerStore interface {
	// GetContainersByRoomID returns all containers placed in the room.
	GetContainersByRoomID(ctx context.Context, roomID string) ([]Container, error)

	// GetContainer retrieves a single container by id.
	// Returns ErrContainerNotFound if no such container exists.
	GetContainer(ctx context.Context, id string) (Container, error)
}

// ProfessionStore reads character professions.
type ProfessionStore interface {
	// GetProfessionByID retrieves a profession by id.
	// Returns ErrProfessionNotFound if no such profession exists.
	GetProfessionByID(ctx context.Context, id string) (Profession, error)
}

// Store aggregates every persistence contract the core consumes. Handlers
// receive it through their context parameter, never through a global.
type Store interface {
	PlayerStore
	RoomStore
	ContainerStore
	ProfessionStore
}
