// Package target turns free text like "rat" or "rat-2" into exactly one
// entity in the requester's room.
package target

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/arkmoor/arkmoor/internal/npc"
	"github.com/arkmoor/arkmoor/internal/world"
)

// Typed resolution failures.
var (
	ErrNotInRoom = errors.New("target: requester not in a room")
	ErrNoMatch   = errors.New("target: no match")
	ErrNoTarget  = errors.New("target: empty target")
)

// DisambiguationError reports that several entities match and the caller
// must pick one by its annotated name.
type DisambiguationError struct {
	Candidates []Candidate
}

func (e *DisambiguationError) Error() string {
	names := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		names[i] = c.Annotated()
	}
	return fmt.Sprintf("target: ambiguous, could be: %s", strings.Join(names, ", "))
}

// Kind distinguishes what a candidate refers to.
type Kind string

const (
	KindPlayer Kind = "player"
	KindNPC    Kind = "npc"
)

// Candidate is one entity matching the requested target.
type Candidate struct {
	ID   string
	Kind Kind
	Name string

	// Suffix is the disambiguation ordinal assigned when several
	// candidates share a display name, starting at 1. Zero means the
	// display name was unique.
	Suffix int
}

// Annotated renders the candidate's name with its disambiguation suffix,
// e.g. "rat-2".
func (c Candidate) Annotated() string {
	if c.Suffix == 0 {
		return c.Name
	}
	return fmt.Sprintf("%s-%d", c.Name, c.Suffix)
}

// suffixRe splits a trailing disambiguation ordinal off the target text.
var suffixRe = regexp.MustCompile(`^(.+)-(\d+)$`)

// Resolver enumerates room occupants for matching. All methods are safe
// for concurrent use.
type Resolver struct {
	players world.PlayerStore
	rooms   world.RoomStore
	npcs    *npc.Runtime
}

// NewResolver wires a resolver over the given stores and NPC runtime.
func NewResolver(players world.PlayerStore, rooms world.RoomStore, npcs *npc.Runtime) *Resolver {
	return &Resolver{players: players, rooms: rooms, npcs: npcs}
}

// Resolve matches raw against the occupants of requesterID's current room.
// Partial names match by substring; NPC names additionally match with
// punctuation stripped. When several candidates share a display name they
// receive -1, -2, ... suffixes in enumeration order, and raw may carry such
// a suffix to pick one.
func (r *Resolver) Resolve(ctx context.Context, requesterID, raw string) (Candidate, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return Candidate{}, ErrNoTarget
	}

	requester, err := r.players.GetPlayerByID(ctx, requesterID)
	if err != nil {
		return Candidate{}, fmt.Errorf("target: load requester: %w", err)
	}
	if requester.RoomID == "" {
		return Candidate{}, ErrNotInRoom
	}

	base, suffix := raw, 0
	if m := suffixRe.FindStringSubmatch(raw); m != nil {
		if n, err := strconv.Atoi(m[2]); err == nil && n > 0 {
			base, suffix = m[1], n
		}
	}

	candidates, err := r.enumerate(ctx, requester.RoomID, base)
	if err != nil {
		return Candidate{}, err
	}
	assignSuffixes(candidates)

	switch {
	case len(candidates) == 0:
		return Candidate{}, fmt.Errorf("%w: %q", ErrNoMatch, raw)
	case len(candidates) == 1:
		return candidates[0], nil
	case suffix == 0:
		return Candidate{}, &DisambiguationError{Candidates: candidates}
	}
	for _, c := range candidates {
		if c.Suffix == suffix {
			return c, nil
		}
	}
	return Candidate{}, fmt.Errorf("%w: %q", ErrNoMatch, raw)
}

// enumerate returns every room occupant whose name contains base, players
// first then NPCs, in store order.
func (r *Resolver) enumerate(ctx context.Context, roomID, base string) ([]Candidate, error) {
	room, err := r.rooms.GetRoomByID(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("target: load room: %w", err)
	}
	players, err := r.rooms.GetPlayersInRoom(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("target: list players: %w", err)
	}

	var out []Candidate
	for _, p := range players {
		if strings.Contains(strings.ToLower(p.Name), base) {
			out = append(out, Candidate{ID: p.ID, Kind: KindPlayer, Name: p.Name})
		}
	}

	strippedBase := stripPunct(base)
	for _, inst := range r.npcs.InRoom(room.NPCIDs) {
		name := stripPunct(strings.ToLower(inst.Name))
		if strings.Contains(name, strippedBase) {
			out = append(out, Candidate{ID: inst.ID, Kind: KindNPC, Name: inst.Name})
		}
	}
	return out, nil
}

// assignSuffixes numbers candidates that share a display name, in stable
// enumeration order starting at 1.
func assignSuffixes(cs []Candidate) {
	counts := make(map[string]int, len(cs))
	for _, c := range cs {
		counts[strings.ToLower(c.Name)]++
	}
	seen := make(map[string]int, len(cs))
	for i := range cs {
		key := strings.ToLower(cs[i].Name)
		if counts[key] < 2 {
			continue
		}
		seen[key]++
		cs[i].Suffix = seen[key]
	}
}

// stripPunct removes everything except letters, digits, and spaces, so
// "Old Tom's cart" matches "old toms cart".
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
