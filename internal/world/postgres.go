package world

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for world tables. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS players (
    id               TEXT PRIMARY KEY,
    name             TEXT NOT NULL,
    description      TEXT NOT NULL DEFAULT '',
    room_id          TEXT NOT NULL DEFAULT '',
    profession_id    TEXT NOT NULL DEFAULT '',
    position         TEXT NOT NULL DEFAULT 'standing',
    current_hp       INT NOT NULL DEFAULT 0,
    max_hp           INT NOT NULL DEFAULT 0,
    current_lucidity INT NOT NULL DEFAULT 0,
    max_lucidity     INT NOT NULL DEFAULT 0,
    dexterity        INT NOT NULL DEFAULT 0,
    experience       INT NOT NULL DEFAULT 0,
    inventory        JSONB NOT NULL DEFAULT '[]',
    equipment        JSONB NOT NULL DEFAULT '{}',
    effects          JSONB NOT NULL DEFAULT '[]',
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_players_name_lower ON players(lower(name));
CREATE INDEX IF NOT EXISTS idx_players_room ON players(room_id);

CREATE TABLE IF NOT EXISTS rooms (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    subzone_id  TEXT NOT NULL DEFAULT '',
    exits       JSONB NOT NULL DEFAULT '{}',
    player_ids  JSONB NOT NULL DEFAULT '[]',
    npc_ids     JSONB NOT NULL DEFAULT '[]',
    drops       JSONB NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_rooms_subzone ON rooms(subzone_id);

CREATE TABLE IF NOT EXISTS containers (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    room_id     TEXT NOT NULL DEFAULT '',
    locked      BOOLEAN NOT NULL DEFAULT false,
    sealed      BOOLEAN NOT NULL DEFAULT false,
    slots_total INT NOT NULL DEFAULT 0,
    items       JSONB NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_containers_room ON containers(room_id);

CREATE TABLE IF NOT EXISTS professions (
    id   TEXT PRIMARY KEY,
    name TEXT NOT NULL
);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database. Structured
// sub-fields (inventory, equipment, exits, membership) are serialised as
// JSONB.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] that uses the given database
// connection or pool. The caller is responsible for calling
// [PostgresStore.Migrate] to ensure the schema exists before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database, creating the world
// tables and indexes if they do not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("world: migrate: %w", err)
	}
	return nil
}

const playerColumns = `id, name, description, room_id, profession_id, position,
       current_hp, max_hp, current_lucidity, max_lucidity, dexterity, experience,
       inventory, equipment, effects`

// GetPlayerByID implements [PlayerStore.GetPlayerByID].
func (s *PostgresStore) GetPlayerByID(ctx context.Context, id string) (Player, error) {
	const query = `SELECT ` + playerColumns + ` FROM players WHERE id = $1`
	return s.scanPlayer(s.db.QueryRow(ctx, query, id), id)
}

// GetPlayerByName implements [PlayerStore.GetPlayerByName].
func (s *PostgresStore) GetPlayerByName(ctx context.Context, name string) (Player, error) {
	const query = `SELECT ` + playerColumns + ` FROM players WHERE lower(name) = lower($1)`
	return s.scanPlayer(s.db.QueryRow(ctx, query, name), name)
}

func (s *PostgresStore) scanPlayer(row pgx.Row, key string) (Player, error) {
	var p Player
	var invJSON, eqJSON, fxJSON []byte
	err := row.Scan(
		&p.ID, &p.Name, &p.Description, &p.RoomID, &p.ProfessionID, &p.Position,
		&p.CurrentHP, &p.MaxHP, &p.CurrentLucidity, &p.MaxLucidity, &p.Dexterity, &p.Experience,
		&invJSON, &eqJSON, &fxJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Player{}, ErrPlayerNotFound
		}
		return Player{}, fmt.Errorf("world: get player %q: %w", key, err)
	}
	if err := json.Unmarshal(invJSON, &p.Inventory); err != nil {
		return Player{}, fmt.Errorf("world: unmarshal inventory for %q: %w", key, err)
	}
	if err := json.Unmarshal(eqJSON, &p.Equipment); err != nil {
		return Player{}, fmt.Errorf("world: unmarshal equipment for %q: %w", key, err)
	}
	if err := json.Unmarshal(fxJSON, &p.Effects); err != nil {
		return Player{}, fmt.Errorf("world: unmarshal effects for %q: %w", key, err)
	}
	return p, nil
}

// SavePlayer implements [PlayerStore.SavePlayer].
func (s *PostgresStore) SavePlayer(ctx context.Context, p Player) error {
	invJSON, err := json.Marshal(emptySlice(p.Inventory))
	if err != nil {
		return fmt.Errorf("world: marshal inventory: %w", err)
	}
	eqJSON, err := json.Marshal(emptyMap(p.Equipment))
	if err != nil {
		return fmt.Errorf("world: marshal equipment: %w", err)
	}
	fxJSON, err := json.Marshal(emptySlice(p.Effects))
	if err != nil {
		return fmt.Errorf("world: marshal effects: %w", err)
	}

	const query = `
		INSERT INTO players (
			id, name, description, room_id, profession_id, position,
			current_hp, max_hp, current_lucidity, max_lucidity, dexterity, experience,
			inventory, equipment, effects, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, description = EXCLUDED.description,
			room_id = EXCLUDED.room_id, profession_id = EXCLUDED.profession_id,
			position = EXCLUDED.position,
			current_hp = EXCLUDED.current_hp, max_hp = EXCLUDED.max_hp,
			current_lucidity = EXCLUDED.current_lucidity, max_lucidity = EXCLUDED.max_lucidity,
			dexterity = EXCLUDED.dexterity, experience = EXCLUDED.experience,
			inventory = EXCLUDED.inventory, equipment = EXCLUDED.equipment,
			effects = EXCLUDED.effects, updated_at = now()`

	if _, err := s.db.Exec(ctx, query,
		p.ID, p.Name, p.Description, p.RoomID, p.ProfessionID, p.Position,
		p.CurrentHP, p.MaxHP, p.CurrentLucidity, p.MaxLucidity, p.Dexterity, p.Experience,
		invJSON, eqJSON, fxJSON,
	); err != nil {
		return fmt.Errorf("world: save player %q: %w", p.ID, err)
	}
	return nil
}

// GetRoomByID implements [RoomStore.GetRoomByID].
func (s *PostgresStore) GetRoomByID(ctx context.Context, id string) (Room, error) {
	const query = `
		SELECT id, name, description, subzone_id, exits, player_ids, npc_ids, drops
		FROM rooms WHERE id = $1`

	var r Room
	var exitsJSON, playersJSON, npcsJSON, dropsJSON []byte
	err := s.db.QueryRow(ctx, query, id).Scan(
		&r.ID, &r.Name, &r.Description, &r.SubzoneID,
		&exitsJSON, &playersJSON, &npcsJSON, &dropsJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Room{}, ErrRoomNotFound
		}
		return Room{}, fmt.Errorf("world: get room %q: %w", id, err)
	}
	if err := json.Unmarshal(exitsJSON, &r.Exits); err != nil {
		return Room{}, fmt.Errorf("world: unmarshal exits for %q: %w", id, err)
	}
	if err := json.Unmarshal(playersJSON, &r.PlayerIDs); err != nil {
		return Room{}, fmt.Errorf("world: unmarshal player_ids for %q: %w", id, err)
	}
	if err := json.Unmarshal(npcsJSON, &r.NPCIDs); err != nil {
		return Room{}, fmt.Errorf("world: unmarshal npc_ids for %q: %w", id, err)
	}
	if err := json.Unmarshal(dropsJSON, &r.Drops); err != nil {
		return Room{}, fmt.Errorf("world: unmarshal drops for %q: %w", id, err)
	}
	return FixRoom(r), nil
}

// GetPlayersInRoom implements [RoomStore.GetPlayersInRoom].
func (s *PostgresStore) GetPlayersInRoom(ctx context.Context, roomID string) ([]Player, error) {
	const query = `
		SELECT ` + playerColumns + `
		FROM players
		JOIN jsonb_array_elements_text(
			(SELECT player_ids FROM rooms WHERE id = $1)
		) WITH ORDINALITY AS m(player_id, ord) ON players.id = m.player_id
		ORDER BY m.ord`

	rows, err := s.db.Query(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("world: players in room %q: %w", roomID, err)
	}
	defer rows.Close()

	var players []Player
	for rows.Next() {
		var p Player
		var invJSON, eqJSON, fxJSON []byte
		if err := rows.Scan(
			&p.ID, &p.Name, &p.Description, &p.RoomID, &p.ProfessionID, &p.Position,
			&p.CurrentHP, &p.MaxHP, &p.CurrentLucidity, &p.MaxLucidity, &p.Dexterity, &p.Experience,
			&invJSON, &eqJSON, &fxJSON,
		); err != nil {
			return nil, fmt.Errorf("world: scan player in room %q: %w", roomID, err)
		}
		if err := json.Unmarshal(invJSON, &p.Inventory); err != nil {
			return nil, fmt.Errorf("world: unmarshal inventory: %w", err)
		}
		if err := json.Unmarshal(eqJSON, &p.Equipment); err != nil {
			return nil, fmt.Errorf("world: unmarshal equipment: %w", err)
		}
		if err := json.Unmarshal(fxJSON, &p.Effects); err != nil {
			return nil, fmt.Errorf("world: unmarshal effects: %w", err)
		}
		players = append(players, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("world: players in room %q: %w", roomID, err)
	}
	return players, nil
}

// AddPlayerToRoom implements [RoomStore.AddPlayerToRoom].
func (s *PostgresStore) AddPlayerToRoom(ctx context.Context, roomID, playerID string) error {
	const query = `
		UPDATE rooms
		SET player_ids = player_ids || to_jsonb($2::text)
		WHERE id = $1 AND NOT player_ids ? $2`

	if _, err := s.db.Exec(ctx, query, roomID, playerID); err != nil {
		return fmt.Errorf("world: add player %q to room %q: %w", playerID, roomID, err)
	}
	return nil
}

// RemovePlayerFromRoom implements [RoomStore.RemovePlayerFromRoom].
func (s *PostgresStore) RemovePlayerFromRoom(ctx context.Context, roomID, playerID string) error {
	const query = `
		UPDATE rooms
		SET player_ids = player_ids - $2
		WHERE id = $1`

	if _, err := s.db.Exec(ctx, query, roomID, playerID); err != nil {
		return fmt.Errorf("world: remove player %q from room %q: %w", playerID, roomID, err)
	}
	return nil
}

// GetContainersByRoomID implements [ContainerStore.GetContainersByRoomID].
func (s *PostgresStore) GetContainersByRoomID(ctx context.Context, roomID string) ([]Container, error) {
	const query = `
		SELECT id, name, room_id, locked, sealed, slots_total, items
		FROM containers WHERE room_id = $1 ORDER BY id`

	rows, err := s.db.Query(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("world: containers in room %q: %w", roomID, err)
	}
	defer rows.Close()

	var out []Container
	for rows.Next() {
		c, err := scanContainer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("world: containers in room %q: %w", roomID, err)
	}
	return out, nil
}

// GetContainer implements [ContainerStore.GetContainer].
func (s *PostgresStore) GetContainer(ctx context.Context, id string) (Container, error) {
	const query = `
		SELECT id, name, room_id, locked, sealed, slots_total, items
		FROM containers WHERE id = $1`

	row := s.db.QueryRow(ctx, query, id)
	c, err := scanContainer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Container{}, ErrContainerNotFound
		}
		return Container{}, err
	}
	return c, nil
}

// GetProfessionByID implements [ProfessionStore.GetProfessionByID].
func (s *PostgresStore) GetProfessionByID(ctx context.Context, id string) (Profession, error) {
	const query = `SELECT id, name FROM professions WHERE id = $1`

	var p Profession
	if err := s.db.QueryRow(ctx, query, id).Scan(&p.ID, &p.Name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profession{}, ErrProfessionNotFound
		}
		return Profession{}, fmt.Errorf("world: get profession %q: %w", id, err)
	}
	return p, nil
}

func scanContainer(row pgx.Row) (Container, error) {
	var c Container
	var itemsJSON []byte
	if err := row.Scan(&c.ID, &c.Name, &c.RoomID, &c.Locked, &c.Sealed, &c.SlotsTotal, &itemsJSON); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Container{}, err
		}
		return Container{}, fmt.Errorf("world: scan container: %w", err)
	}
	if err := json.Unmarshal(itemsJSON, &c.Items); err != nil {
		return Container{}, fmt.Errorf("world: unmarshal container items: %w", err)
	}
	return c, nil
}

// emptySlice normalises nil to an empty slice so JSONB columns never hold
// SQL NULL.
func emptySlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// emptyMap normalises nil to an empty map so JSONB columns never hold SQL NULL.
func emptyMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return map[K]V{}
	}
	return m
}
