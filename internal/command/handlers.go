package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/arkmoor/arkmoor/internal/broker"
	"github.com/arkmoor/arkmoor/internal/combat"
	"github.com/arkmoor/arkmoor/internal/follow"
	"github.com/arkmoor/arkmoor/internal/npc"
	"github.com/arkmoor/arkmoor/internal/subject"
	"github.com/arkmoor/arkmoor/internal/target"
	"github.com/arkmoor/arkmoor/internal/world"
)

// baseAttackDamage is the unarmed damage of one swing until weapons carry
// their own damage rolls.
const baseAttackDamage = 10

// registerDefaults installs the built-in verb table and alias map.
func (p *Pipeline) registerDefaults() {
	p.Register("say", false, p.handleSay)
	p.Register("whisper", false, p.handleWhisper)
	p.Register("global", false, p.handleGlobal)
	p.Register("emote", false, p.handleEmote)
	p.Register("pose", false, p.handlePose)
	p.Register("look", false, p.handleLook)
	p.Register("attack", true, p.handleAttack)
	p.Register("move", false, p.handleMove)
	p.Register("follow", false, p.handleFollow)
	p.Register("unfollow", false, p.handleUnfollow)
	p.Register("following", false, p.handleFollowing)
	p.Register("cast", false, p.handleCast)
	p.Register("who", false, p.handleWho)

	p.Alias("'", "say")
	p.Alias("gossip", "global")
	p.Alias("w", "whisper")
	p.Alias("tell", "whisper")
	p.Alias("l", "look")
	p.Alias("punch", "attack")
	p.Alias("kick", "attack")
	p.Alias("strike", "attack")
	p.Alias("kill", "attack")
	p.Alias("go", "move")
	for alias := range directionWords {
		p.Alias(alias, "move")
	}
}

// handleSay broadcasts room chat. The speaker gets a first-person echo;
// everyone else in the room receives the envelope.
func (p *Pipeline) handleSay(ctx context.Context, inv Invocation) (Result, error) {
	if inv.ArgString == "" {
		return Result{Text: "Say what?"}, nil
	}
	if err := p.publishChat(subject.ChatSayRoom,
		map[string]string{"room_id": inv.Player.RoomID},
		inv.Player, map[string]any{
			"from":    inv.Player.Name,
			"message": inv.ArgString,
		}); err != nil {
		return Result{}, err
	}
	return Result{Text: "You say: " + inv.ArgString}, nil
}

// handleWhisper sends a private message to a named player anywhere on the
// server.
func (p *Pipeline) handleWhisper(ctx context.Context, inv Invocation) (Result, error) {
	if len(inv.Args) < 2 {
		return Result{Text: "Whisper to whom, what?"}, nil
	}
	recipient, err := p.deps.Store.GetPlayerByName(ctx, inv.Args[0])
	if err != nil {
		if errors.Is(err, world.ErrPlayerNotFound) {
			return Result{Text: fmt.Sprintf("There is no one called '%s'.", inv.Args[0])}, nil
		}
		return Result{}, fmt.Errorf("command: whisper lookup: %w", err)
	}
	message := strings.Join(inv.Args[1:], " ")

	if err := p.publishChat(subject.ChatWhisper,
		map[string]string{"target_id": recipient.ID},
		inv.Player, map[string]any{
			"from":    inv.Player.Name,
			"message": message,
		}); err != nil {
		return Result{}, err
	}
	return Result{Text: fmt.Sprintf("You whisper to %s: %s", recipient.Name, message)}, nil
}

// handleGlobal broadcasts on the server-wide chat subject.
func (p *Pipeline) handleGlobal(ctx context.Context, inv Invocation) (Result, error) {
	if inv.ArgString == "" {
		return Result{Text: "Say what?"}, nil
	}
	if err := p.publishChat(subject.ChatGlobal, nil,
		inv.Player, map[string]any{
			"from":    inv.Player.Name,
			"message": inv.ArgString,
		}); err != nil {
		return Result{}, err
	}
	return Result{Text: "You say (globally): " + inv.ArgString}, nil
}

// handleEmote broadcasts a third-person action line to the room.
func (p *Pipeline) handleEmote(ctx context.Context, inv Invocation) (Result, error) {
	if inv.ArgString == "" {
		return Result{Text: "Emote what?"}, nil
	}
	text := inv.Player.Name + " " + inv.ArgString
	if err := p.publishChat(subject.ChatEmoteRoom,
		map[string]string{"room_id": inv.Player.RoomID},
		inv.Player, map[string]any{"text": text}); err != nil {
		return Result{}, err
	}
	return Result{Text: text}, nil
}

// handlePose broadcasts a free-form pose line to the room.
func (p *Pipeline) handlePose(ctx context.Context, inv Invocation) (Result, error) {
	if inv.ArgString == "" {
		return Result{Text: "Pose what?"}, nil
	}
	text := inv.Player.Name + " " + inv.ArgString
	if err := p.publishChat(subject.ChatPoseRoom,
		map[string]string{"room_id": inv.Player.RoomID},
		inv.Player, map[string]any{"text": text}); err != nil {
		return Result{}, err
	}
	return Result{Text: text}, nil
}

// handleLook routes to the look engine variant the arguments ask for.
func (p *Pipeline) handleLook(ctx context.Context, inv Invocation) (Result, error) {
	switch {
	case len(inv.Args) == 0:
		text, err := p.deps.Look.Room(ctx, inv.Player.ID)
		if err != nil {
			return Result{}, err
		}
		room, roomErr := p.deps.Store.GetRoomByID(ctx, inv.Player.RoomID)
		res := Result{Text: text}
		if roomErr == nil && len(room.Drops) > 0 {
			res.Data = map[string]any{"drops": room.Drops}
		}
		return res, nil

	case strings.EqualFold(inv.Args[0], "in") && len(inv.Args) > 1:
		name := strings.Join(inv.Args[1:], " ")
		text, err := p.deps.Look.Container(ctx, inv.Player.ID, name, true)
		return Result{Text: text}, err

	case len(inv.Args) == 1 && directionWords[strings.ToLower(inv.Args[0])] != "":
		text, err := p.deps.Look.Direction(ctx, inv.Player.ID, directionWords[strings.ToLower(inv.Args[0])])
		return Result{Text: text}, err

	default:
		text, err := p.deps.Look.Implicit(ctx, inv.Player.ID, inv.ArgString)
		return Result{Text: text}, err
	}
}

// handleAttack resolves the target and either starts a combat or lands a
// blow in the one already running.
func (p *Pipeline) handleAttack(ctx context.Context, inv Invocation) (Result, error) {
	if inv.ArgString == "" {
		return Result{Text: "Attack what?"}, nil
	}
	cand, err := p.deps.Resolver.Resolve(ctx, inv.Player.ID, inv.ArgString)
	if err != nil {
		return p.resolveFailure(inv.ArgString, err)
	}
	if cand.ID == inv.Player.ID {
		return Result{Text: "Attacking yourself solves nothing."}, nil
	}
	// Linkdead players keep room presence but are off limits as targets.
	if cand.Kind == target.KindPlayer && p.deps.Conn.InGrace(cand.ID) {
		return Result{Text: fmt.Sprintf("%s is linkdead and cannot be attacked.", cand.Name)}, nil
	}

	if !p.deps.Combat.IsPlayerInCombat(inv.Player.ID) {
		attacker := combat.Participant{
			ID: inv.Player.ID, Kind: combat.KindPlayer, Name: inv.Player.Name,
			CurrentHP: inv.Player.CurrentHP, MaxHP: inv.Player.MaxHP,
			Dexterity: inv.Player.Dexterity,
		}
		defender, err := p.participantFor(ctx, cand)
		if err != nil {
			return Result{}, err
		}
		if _, err := p.deps.Combat.StartCombat(ctx, inv.Player.RoomID, attacker, defender); err != nil {
			if errors.Is(err, combat.ErrAlreadyInCombat) {
				return Result{Text: fmt.Sprintf("%s is already fighting.", cand.Name)}, nil
			}
			return Result{}, err
		}
	}

	res, err := p.deps.Combat.ProcessAttack(ctx, inv.Player.ID, cand.ID, baseAttackDamage)
	if err != nil {
		return p.combatFailure(err)
	}

	text := fmt.Sprintf("You hit %s for %d damage.", cand.Name, res.DamageDealt)
	if res.TargetDied {
		text += fmt.Sprintf(" %s dies!", cand.Name)
	}
	if res.XPAwarded > 0 {
		text += fmt.Sprintf(" You gain %d experience.", res.XPAwarded)
	}
	return Result{Text: text, Data: map[string]any{"attack": res}}, nil
}

// participantFor builds a combat participant from a resolved candidate.
func (p *Pipeline) participantFor(ctx context.Context, cand target.Candidate) (combat.Participant, error) {
	switch cand.Kind {
	case target.KindPlayer:
		pl, err := p.deps.Store.GetPlayerByID(ctx, cand.ID)
		if err != nil {
			return combat.Participant{}, fmt.Errorf("command: load defender: %w", err)
		}
		return combat.Participant{
			ID: pl.ID, Kind: combat.KindPlayer, Name: pl.Name,
			CurrentHP: pl.CurrentHP, MaxHP: pl.MaxHP, Dexterity: pl.Dexterity,
		}, nil
	default:
		inst, err := p.deps.NPCs.Active(cand.ID)
		if err != nil {
			return combat.Participant{}, fmt.Errorf("command: load npc: %w", err)
		}
		stats := npc.BaseStats{}
		if def, defErr := p.deps.NPCs.Definition(inst.DefinitionID); defErr == nil {
			stats = def.Stats
		}
		return combat.Participant{
			ID: inst.ID, Kind: combat.KindNPC, Name: inst.Name,
			CurrentHP: inst.CurrentHP, MaxHP: stats.MaxHP, Dexterity: stats.Dexterity,
		}, nil
	}
}

// handleMove walks the player through an exit, re-points their room
// subscriptions, announces the transition, and pulls followers along.
func (p *Pipeline) handleMove(ctx context.Context, inv Invocation) (Result, error) {
	if len(inv.Args) == 0 {
		return Result{Text: "Go where?"}, nil
	}
	dir := strings.ToLower(inv.Args[0])
	if full, ok := directionWords[dir]; ok {
		dir = full
	}

	if p.deps.Combat.IsPlayerInCombat(inv.Player.ID) {
		return Result{Text: "You cannot leave while fighting!"}, nil
	}

	text, err := p.movePlayer(ctx, inv.SessionID, inv.Player.ID, dir, true)
	if err != nil {
		return Result{}, err
	}
	return Result{Text: text}, nil
}

// movePlayer performs one movement, returning the arrival room text.
// withFollowers controls whether the player's followers are pulled along;
// follower moves themselves never cascade.
func (p *Pipeline) movePlayer(ctx context.Context, sessionID, playerID, dir string, withFollowers bool) (string, error) {
	player, err := p.deps.Store.GetPlayerByID(ctx, playerID)
	if err != nil {
		return "", fmt.Errorf("command: load mover: %w", err)
	}
	room, err := p.deps.Store.GetRoomByID(ctx, player.RoomID)
	if err != nil {
		return "", fmt.Errorf("command: load room: %w", err)
	}
	nextID, ok := room.Exits[dir]
	if !ok {
		return "You can't go that way.", nil
	}

	if err := p.deps.Store.RemovePlayerFromRoom(ctx, room.ID, playerID); err != nil {
		return "", fmt.Errorf("command: leave room: %w", err)
	}
	if err := p.deps.Store.AddPlayerToRoom(ctx, nextID, playerID); err != nil {
		return "", fmt.Errorf("command: enter room: %w", err)
	}
	player.RoomID = nextID
	if err := p.deps.Store.SavePlayer(ctx, player); err != nil {
		return "", fmt.Errorf("command: persist mover: %w", err)
	}
	if sessionID != "" {
		if err := p.deps.Conn.SwitchRoom(sessionID, nextID); err != nil {
			return "", err
		}
	}

	p.publishPresence(subject.EventsPlayerLeft, room.ID, player, dir)
	p.publishPresence(subject.EventsPlayerEntered, nextID, player, dir)

	if withFollowers {
		p.deps.Follow.TriggerFollow(ctx, playerID, room.ID, func(followerID string) error {
			if p.deps.Combat.IsPlayerInCombat(followerID) {
				return combat.ErrAlreadyInCombat
			}
			if p.deps.Conn.InGrace(followerID) {
				return ErrGraceBlocked
			}
			followerSession, _ := p.deps.Conn.ActiveSession(followerID)
			_, err := p.movePlayer(ctx, followerSession, followerID, dir, false)
			return err
		})
	}

	return p.deps.Look.Room(ctx, playerID)
}

// handleFollow serves "follow <target>", "follow accept", and
// "follow reject".
func (p *Pipeline) handleFollow(ctx context.Context, inv Invocation) (Result, error) {
	if len(inv.Args) == 0 {
		return Result{Text: "Follow whom?"}, nil
	}
	switch strings.ToLower(inv.Args[0]) {
	case "accept":
		msg, err := p.deps.Follow.Accept(ctx, inv.Player.ID)
		return p.followOutcome(msg, err)
	case "reject":
		msg, err := p.deps.Follow.Reject(ctx, inv.Player.ID)
		return p.followOutcome(msg, err)
	}

	cand, err := p.deps.Resolver.Resolve(ctx, inv.Player.ID, inv.ArgString)
	if err != nil {
		return p.resolveFailure(inv.ArgString, err)
	}
	msg, err := p.deps.Follow.Request(ctx, inv.Player.ID, cand)
	return p.followOutcome(msg, err)
}

// handleUnfollow severs the player's follow edge.
func (p *Pipeline) handleUnfollow(ctx context.Context, inv Invocation) (Result, error) {
	if p.deps.Follow.Unfollow(inv.Player.ID) {
		return Result{Text: "You stop following."}, nil
	}
	return Result{Text: "You are not following anyone."}, nil
}

// handleFollowing renders both sides of the player's follow edges.
func (p *Pipeline) handleFollowing(ctx context.Context, inv Invocation) (Result, error) {
	var lines []string
	if leaderID, ok := p.deps.Follow.Leader(inv.Player.ID); ok {
		lines = append(lines, "You are following "+p.displayName(ctx, leaderID)+".")
	} else {
		lines = append(lines, "You are not following anyone.")
	}

	followers := p.deps.Follow.Followers(inv.Player.ID)
	if len(followers) == 0 {
		lines = append(lines, "No one is following you.")
	} else {
		names := make([]string, 0, len(followers))
		for _, id := range followers {
			names = append(names, p.displayName(ctx, id))
		}
		sort.Strings(names)
		lines = append(lines, "Following you: "+strings.Join(names, ", ")+".")
	}
	return Result{Text: strings.Join(lines, "\n")}, nil
}

// handleCast resolves "cast <spell> <target>" through the spell book and
// dispatcher.
func (p *Pipeline) handleCast(ctx context.Context, inv Invocation) (Result, error) {
	if len(inv.Args) < 2 {
		return Result{Text: "Cast what, at whom?"}, nil
	}
	def, ok := p.deps.SpellBook[strings.ToLower(inv.Args[0])]
	if !ok {
		return Result{Text: fmt.Sprintf("You know no spell called '%s'.", inv.Args[0])}, nil
	}
	cand, err := p.deps.Resolver.Resolve(ctx, inv.Player.ID, strings.Join(inv.Args[1:], " "))
	if err != nil {
		return p.resolveFailure(inv.ArgString, err)
	}

	res, err := p.deps.Spells.Cast(ctx, inv.Player.ID, cand, def)
	if err != nil {
		return Result{Text: "The spell fizzles."}, nil
	}
	return Result{Text: res.Message, Data: map[string]any{"spell": res}}, nil
}

// handleWho lists every connected player.
func (p *Pipeline) handleWho(ctx context.Context, inv Invocation) (Result, error) {
	ids := p.deps.Conn.ConnectedPlayers()
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, p.displayName(ctx, id))
	}
	sort.Strings(names)
	text := fmt.Sprintf("%d players online: %s", len(names), strings.Join(names, ", "))
	if len(names) == 1 {
		text = "1 player online: " + names[0]
	}
	return Result{Text: text}, nil
}

// displayName resolves an entity id to something printable, falling back
// to the id itself.
func (p *Pipeline) displayName(ctx context.Context, id string) string {
	if pl, err := p.deps.Store.GetPlayerByID(ctx, id); err == nil {
		return pl.Name
	}
	if inst, err := p.deps.NPCs.Active(id); err == nil {
		return inst.Name
	}
	return id
}

// publishChat builds one chat subject and publishes a payload on it,
// stamped with the speaker for subscription-side self-exclusion.
func (p *Pipeline) publishChat(patternName string, params map[string]string, from world.Player, payload map[string]any) error {
	subj, err := p.deps.Registry.Build(patternName, params)
	if err != nil {
		return fmt.Errorf("command: build chat subject: %w", err)
	}
	env, err := broker.NewEnvelope(broker.KindChat, payload)
	if err != nil {
		return fmt.Errorf("command: chat envelope: %w", err)
	}
	env.PlayerID = from.ID
	env.RoomID = from.RoomID
	if _, err := p.deps.Bus.Publish(subj, env); err != nil {
		return fmt.Errorf("command: chat publish: %w", err)
	}
	return nil
}

// publishPresence announces a movement transition on a room event subject.
// Failures do not abort the movement.
func (p *Pipeline) publishPresence(patternName, roomID string, player world.Player, dir string) {
	subj, err := p.deps.Registry.Build(patternName, map[string]string{"room_id": roomID})
	if err != nil {
		return
	}
	env, err := broker.NewEnvelope(broker.KindEvent, map[string]any{
		"player_id":   player.ID,
		"player_name": player.Name,
		"direction":   dir,
	})
	if err != nil {
		return
	}
	env.PlayerID = player.ID
	env.RoomID = roomID
	p.deps.Bus.Publish(subj, env) //nolint:errcheck
}

// resolveFailure converts target resolution errors into player-facing
// text.
func (p *Pipeline) resolveFailure(raw string, err error) (Result, error) {
	var disambig *target.DisambiguationError
	switch {
	case errors.As(err, &disambig):
		names := make([]string, len(disambig.Candidates))
		for i, c := range disambig.Candidates {
			names[i] = c.Annotated()
		}
		return Result{Text: "Which one? " + strings.Join(names, ", ")}, nil
	case errors.Is(err, target.ErrNoMatch), errors.Is(err, target.ErrNoTarget):
		return Result{Text: fmt.Sprintf("You don't see any '%s' here.", raw)}, nil
	case errors.Is(err, target.ErrNotInRoom):
		return Result{Text: "You are nowhere."}, nil
	}
	return Result{}, err
}

// combatFailure converts combat engine errors into player-facing text.
func (p *Pipeline) combatFailure(err error) (Result, error) {
	switch {
	case errors.Is(err, combat.ErrNotYourTurn):
		return Result{Text: "It is not your turn."}, nil
	case errors.Is(err, combat.ErrTargetNotParticipant):
		return Result{Text: "They are not in this fight."}, nil
	case errors.Is(err, combat.ErrCombatEnded), errors.Is(err, combat.ErrNotInCombat):
		return Result{Text: "The fight is over."}, nil
	}
	return Result{}, err
}

// followOutcome converts follow coordinator errors into player-facing
// text.
func (p *Pipeline) followOutcome(msg string, err error) (Result, error) {
	switch {
	case err == nil:
		return Result{Text: msg}, nil
	case errors.Is(err, follow.ErrSelfFollow):
		return Result{Text: "You cannot follow yourself."}, nil
	case errors.Is(err, follow.ErrNotSameRoom):
		return Result{Text: "They are not here."}, nil
	case errors.Is(err, follow.ErrNoPending):
		return Result{Text: "No one has asked to follow you."}, nil
	}
	return Result{}, err
}
