package world

import (
	"errors"
	"sync"
)

// ErrPrototypeNotFound is returned when an item prototype id is unknown.
var ErrPrototypeNotFound = errors.New("world: item prototype not found")

// ItemPrototype is the display record for an item kind. Items in the world
// reference prototypes by id; the prototype supplies what the player reads.
type ItemPrototype struct {
	ID              string `yaml:"id"`
	Name            string `yaml:"name"`
	LongDescription string `yaml:"long_description"`
}

// PrototypeRegistry resolves prototype ids to display records.
// All methods are safe for concurrent use.
type PrototypeRegistry struct {
	mu     sync.RWMutex
	protos map[string]ItemPrototype
}

// NewPrototypeRegistry returns an empty [PrototypeRegistry].
func NewPrototypeRegistry() *PrototypeRegistry {
	return &PrototypeRegistry{protos: make(map[string]ItemPrototype)}
}

// Register adds or replaces a prototype.
func (r *PrototypeRegistry) Register(p ItemPrototype) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.protos[p.ID] = p
}

// Get returns the prototype with the given id.
func (r *PrototypeRegistry) Get(id string) (ItemPrototype, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.protos[id]
	if !ok {
		return ItemPrototype{}, ErrPrototypeNotFound
	}
	return p, nil
}
