package subject

// Canonical pattern names used across the core. Referencing these constants
// instead of raw strings keeps publisher and subscriber code in agreement.
const (
	ChatSayRoom      = "chat_say_room"
	ChatLocalSubzone = "chat_local_subzone"
	ChatGlobal       = "chat_global"
	ChatWhisper      = "chat_whisper_player"
	ChatSystem       = "chat_system"
	ChatEmoteRoom    = "chat_emote_room"
	ChatPoseRoom     = "chat_pose_room"
	ChatPartyGroup   = "chat_party_group"

	EventsPlayerEntered   = "events_player_entered"
	EventsPlayerLeft      = "events_player_left"
	EventsGameTick        = "events_game_tick"
	EventsPlayerDied      = "events_player_died"
	EventsPlayerRespawned = "events_player_respawned"

	CombatAttack   = "combat_attack"
	CombatStarted  = "combat_started"
	CombatEnded    = "combat_ended"
	CombatNPCDied  = "combat_npc_died"
	CombatDamage   = "combat_damage"
	CombatTurn     = "combat_turn"
	CombatTimeout  = "combat_timeout"
	CombatDPUpdate = "combat_dp_update"
)

// builtinPatterns seeds every registry at construction. The subject strings
// are part of the external contract and must not drift.
var builtinPatterns = []Pattern{
	// Chat
	{Name: ChatSayRoom, Template: "chat.say.room.{room_id}",
		RequiredParams: []string{"room_id"},
		Description:    "Room-scoped say messages."},
	{Name: ChatLocalSubzone, Template: "chat.local.subzone.{subzone}",
		RequiredParams: []string{"subzone"},
		Description:    "Subzone-scoped local chat."},
	{Name: ChatGlobal, Template: "chat.global",
		Description: "Server-wide chat."},
	{Name: ChatWhisper, Template: "chat.whisper.player.{target_id}",
		RequiredParams: []string{"target_id"},
		Description:    "Private whispers to one player."},
	{Name: ChatSystem, Template: "chat.system",
		Description: "System announcements."},
	{Name: ChatEmoteRoom, Template: "chat.emote.room.{room_id}",
		RequiredParams: []string{"room_id"},
		Description:    "Room-scoped emotes."},
	{Name: ChatPoseRoom, Template: "chat.pose.room.{room_id}",
		RequiredParams: []string{"room_id"},
		Description:    "Room-scoped poses."},
	{Name: ChatPartyGroup, Template: "chat.party.group.{party_id}",
		RequiredParams: []string{"party_id"},
		Description:    "Party-scoped chat."},

	// Player lifecycle events
	{Name: EventsPlayerEntered, Template: "events.player_entered.{room_id}",
		RequiredParams: []string{"room_id"},
		Description:    "A player entered the room."},
	{Name: EventsPlayerLeft, Template: "events.player_left.{room_id}",
		RequiredParams: []string{"room_id"},
		Description:    "A player left the room."},
	{Name: EventsGameTick, Template: "events.game_tick",
		Description: "Periodic server tick."},
	{Name: EventsPlayerDied, Template: "events.player_died.{room_id}",
		RequiredParams: []string{"room_id"},
		Description:    "A player died in the room."},
	{Name: EventsPlayerRespawned, Template: "events.player_respawned.{room_id}",
		RequiredParams: []string{"room_id"},
		Description:    "A player respawned in the room."},

	// Combat events
	{Name: CombatAttack, Template: "combat.attack.{room_id}",
		RequiredParams: []string{"room_id"},
		Description:    "An attack landed in the room."},
	{Name: CombatStarted, Template: "combat.started.{room_id}",
		RequiredParams: []string{"room_id"},
		Description:    "A combat encounter started in the room."},
	{Name: CombatEnded, Template: "combat.ended.{room_id}",
		RequiredParams: []string{"room_id"},
		Description:    "A combat encounter ended in the room."},
	{Name: CombatNPCDied, Template: "combat.npc_died.{room_id}",
		RequiredParams: []string{"room_id"},
		Description:    "An NPC died in the room."},
	{Name: CombatDamage, Template: "combat.damage.{room_id}",
		RequiredParams: []string{"room_id"},
		Description:    "Damage dealt in the room."},
	{Name: CombatTurn, Template: "combat.turn.{room_id}",
		RequiredParams: []string{"room_id"},
		Description:    "Turn advanced in the room's combat."},
	{Name: CombatTimeout, Template: "combat.timeout.{room_id}",
		RequiredParams: []string{"room_id"},
		Description:    "A combat in the room timed out."},
	{Name: CombatDPUpdate, Template: "combat.dp_update.{player_id}",
		RequiredParams: []string{"player_id"},
		Description:    "Player stat and experience updates from combat."},
}
