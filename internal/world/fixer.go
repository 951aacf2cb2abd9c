package world

import "log/slog"

// FixRoom applies best-effort repairs to a room loaded from storage and
// returns the fixed value. Known defects — nil maps or slices, exits that
// point at an empty id, duplicated membership entries — are logged and
// repaired rather than rejected, so a single malformed row cannot take a
// whole zone offline.
func FixRoom(r Room) Room {
	if r.Exits == nil {
		slog.Warn("world: room missing exits map, repairing", "room_id", r.ID)
		r.Exits = make(map[string]string)
	}
	for dir, dest := range r.Exits {
		if dir == "" || dest == "" {
			slog.Warn("world: room has dangling exit, removing",
				"room_id", r.ID, "direction", dir, "destination", dest)
			delete(r.Exits, dir)
		}
	}

	if r.PlayerIDs == nil {
		r.PlayerIDs = []string{}
	}
	if r.NPCIDs == nil {
		r.NPCIDs = []string{}
	}
	if r.Drops == nil {
		r.Drops = []ItemStack{}
	}

	r.PlayerIDs = dedupe(r.ID, "player", r.PlayerIDs)
	r.NPCIDs = dedupe(r.ID, "npc", r.NPCIDs)
	return r
}

// dedupe removes duplicate ids while preserving first-seen order.
func dedupe(roomID, kind string, ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if id == "" || seen[id] {
			slog.Warn("world: room has duplicate or empty membership entry, removing",
				"room_id", roomID, "kind", kind, "id", id)
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
