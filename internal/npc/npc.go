// Package npc holds the NPC runtime: the set of live NPC instances, their
// lifecycle records (definition plus base stats), and the item prototype
// registry. Definitions and prototypes are declarative YAML loaded at boot;
// live hit points are runtime state owned by this package.
package npc

import (
	"errors"
	"sync"
)

// ErrNotFound is returned when an NPC or prototype id is unknown.
var ErrNotFound = errors.New("npc: not found")

// BaseStats are the starting stats an NPC definition contributes to runtime
// instances and combat encounters.
type BaseStats struct {
	MaxHP     int `yaml:"max_hp"`
	Dexterity int `yaml:"dexterity"`

	// XPValue is the experience awarded to a player that kills this NPC.
	XPValue int `yaml:"xp_value"`
}

// Definition is the declarative description of an NPC kind.
type Definition struct {
	ID          string    `yaml:"id"`
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Stats       BaseStats `yaml:"stats"`
}

// BaseStats returns the definition's starting stats.
func (d Definition) BaseStats() BaseStats { return d.Stats }

// Instance is a live NPC placed in a room.
type Instance struct {
	ID           string
	DefinitionID string
	Name         string
	RoomID       string
	CurrentHP    int
}

// LifecycleRecord ties a live instance back to its definition.
type LifecycleRecord struct {
	InstanceID string
	Definition Definition
}

// Runtime tracks every live NPC instance and its lifecycle record.
// All methods are safe for concurrent use.
type Runtime struct {
	mu        sync.RWMutex
	defs      map[string]Definition
	active    map[string]Instance
	lifecycle map[string]LifecycleRecord
}

// NewRuntime returns an empty [Runtime].
func NewRuntime() *Runtime {
	return &Runtime{
		defs:      make(map[string]Definition),
		active:    make(map[string]Instance),
		lifecycle: make(map[string]LifecycleRecord),
	}
}

// RegisterDefinition adds or replaces an NPC definition.
func (r *Runtime) RegisterDefinition(def Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.ID] = def
}

// Definition returns the definition with the given id.
func (r *Runtime) Definition(id string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[id]
	if !ok {
		return Definition{}, ErrNotFound
	}
	return d, nil
}

// Spawn creates a live instance of the definition in the given room and
// returns it. The instance starts at the definition's max hit points.
func (r *Runtime) Spawn(instanceID, definitionID, roomID string) (Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	def, ok := r.defs[definitionID]
	if !ok {
		return Instance{}, ErrNotFound
	}

	inst := Instance{
		ID:           instanceID,
		DefinitionID: definitionID,
		Name:         def.Name,
		RoomID:       roomID,
		CurrentHP:    def.Stats.MaxHP,
	}
	r.active[instanceID] = inst
	r.lifecycle[instanceID] = LifecycleRecord{InstanceID: instanceID, Definition: def}
	return inst, nil
}

// Active returns the live instance with the given id.
func (r *Runtime) Active(instanceID string) (Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.active[instanceID]
	if !ok {
		return Instance{}, ErrNotFound
	}
	return inst, nil
}

// Lifecycle returns the lifecycle record for the given instance id.
func (r *Runtime) Lifecycle(instanceID string) (LifecycleRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.lifecycle[instanceID]
	if !ok {
		return LifecycleRecord{}, ErrNotFound
	}
	return rec, nil
}

// SetHP records a new current hit point value for a live instance.
func (r *Runtime) SetHP(instanceID string, hp int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.active[instanceID]
	if !ok {
		return ErrNotFound
	}
	inst.CurrentHP = hp
	r.active[instanceID] = inst
	return nil
}

// Despawn removes a live instance and its lifecycle record, typically after
// death. Despawning an unknown instance is not an error.
func (r *Runtime) Despawn(instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, instanceID)
	delete(r.lifecycle, instanceID)
}

// InRoom returns the live instances currently placed in the room, filtered
// from the given id list in its order.
func (r *Runtime) InRoom(npcIDs []string) []Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Instance, 0, len(npcIDs))
	for _, id := range npcIDs {
		if inst, ok := r.active[id]; ok {
			out = append(out, inst)
		}
	}
	return out
}
