package world

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store].
// It backs tests and offline tooling. The zero value is not usable;
// construct with [NewMemStore].
type MemStore struct {
	mu          sync.RWMutex
	players     map[string]Player
	rooms       map[string]Room
	containers  map[string]Container
	professions map[string]Profession
}

// NewMemStore returns an initialised, empty [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{
		players:     make(map[string]Player),
		rooms:       make(map[string]Room),
		containers:  make(map[string]Container),
		professions: make(map[string]Profession),
	}
}

// PutPlayer inserts or replaces a player record. Test seeding helper.
func (s *MemStore) PutPlayer(p Player) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.players[p.ID] = p
}

// PutRoom inserts or replaces a room record. Test seeding helper.
func (s *MemStore) PutRoom(r Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[r.ID] = FixRoom(r)
}

// PutContainer inserts or replaces a container record. Test seeding helper.
func (s *MemStore) PutContainer(c Container) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.containers[c.ID] = c
}

// PutProfession inserts or replaces a profession record. Test seeding helper.
func (s *MemStore) PutProfession(p Profession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.professions[p.ID] = p
}

// GetPlayerByID implements [PlayerStore.GetPlayerByID].
func (s *MemStore) GetPlayerByID(ctx context.Context, id string) (Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[id]
	if !ok {
		return Player{}, ErrPlayerNotFound
	}
	return clonePlayer(p), nil
}

// GetPlayerByName implements [PlayerStore.GetPlayerByName].
func (s *MemStore) GetPlayerByName(ctx context.Context, name string) (Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.players {
		if strings.EqualFold(p.Name, name) {
			return clonePlayer(p), nil
		}
	}
	return Player{}, ErrPlayerNotFound
}

// SavePlayer implements [PlayerStore.SavePlayer].
func (s *MemStore) SavePlayer(ctx context.Context, p Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.players[p.ID] = clonePlayer(p)
	return nil
}

// GetRoomByID implements [RoomStore.GetRoomByID].
func (s *MemStore) GetRoomByID(ctx context.Context, id string) (Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	if !ok {
		return Room{}, ErrRoomNotFound
	}
	return cloneRoom(r), nil
}

// GetPlayersInRoom implements [RoomStore.GetPlayersInRoom].
func (s *MemStore) GetPlayersInRoom(ctx context.Context, roomID string) ([]Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	players := make([]Player, 0, len(r.PlayerIDs))
	for _, id := range r.PlayerIDs {
		if p, ok := s.players[id]; ok {
			players = append(players, clonePlayer(p))
		}
	}
	return players, nil
}

// AddPlayerToRoom implements [RoomStore.AddPlayerToRoom].
func (s *MemStore) AddPlayerToRoom(ctx context.Context, roomID, playerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	if !slices.Contains(r.PlayerIDs, playerID) {
		r.PlayerIDs = append(r.PlayerIDs, playerID)
		s.rooms[roomID] = r
	}
	return nil
}

// RemovePlayerFromRoom implements [RoomStore.RemovePlayerFromRoom].
func (s *MemStore) RemovePlayerFromRoom(ctx context.Context, roomID, playerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	r.PlayerIDs = slices.DeleteFunc(r.PlayerIDs, func(id string) bool { return id == playerID })
	s.rooms[roomID] = r
	return nil
}

// GetContainersByRoomID implements [ContainerStore.GetContainersByRoomID].
func (s *MemStore) GetContainersByRoomID(ctx context.Context, roomID string) ([]Container, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Container
	for _, c := range s.containers {
		if c.RoomID == roomID {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b Container) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// GetContainer implements [ContainerStore.GetContainer].
func (s *MemStore) GetContainer(ctx context.Context, id string) (Container, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.containers[id]
	if !ok {
		return Container{}, ErrContainerNotFound
	}
	return c, nil
}

// GetProfessionByID implements [ProfessionStore.GetProfessionByID].
func (s *MemStore) GetProfessionByID(ctx context.Context, id string) (Profession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.professions[id]
	if !ok {
		return Profession{}, ErrProfessionNotFound
	}
	return p, nil
}

func clonePlayer(p Player) Player {
	p.Inventory = slices.Clone(p.Inventory)
	p.Effects = slices.Clone(p.Effects)
	if p.Equipment != nil {
		eq := make(map[EquipSlot]ItemInstance, len(p.Equipment))
		for k, v := range p.Equipment {
			eq[k] = v
		}
		p.Equipment = eq
	}
	return p
}

func cloneRoom(r Room) Room {
	r.PlayerIDs = slices.Clone(r.PlayerIDs)
	r.NPCIDs = slices.Clone(r.NPCIDs)
	r.Drops = slices.Clone(r.Drops)
	if r.Exits != nil {
		ex := make(map[string]string, len(r.Exits))
		for k, v := range r.Exits {
			ex[k] = v
		}
		r.Exits = ex
	}
	return r
}
