// Package command turns raw text lines from player sessions into handler
// invocations. A line passes four stages: gate (server and player policy),
// sanitise (structural safety), parse (verb and alias resolution), and
// dispatch (verb table lookup).
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/antzucaro/matchr"

	"github.com/arkmoor/arkmoor/internal/combat"
	"github.com/arkmoor/arkmoor/internal/connection"
	"github.com/arkmoor/arkmoor/internal/follow"
	"github.com/arkmoor/arkmoor/internal/look"
	"github.com/arkmoor/arkmoor/internal/npc"
	"github.com/arkmoor/arkmoor/internal/observe"
	"github.com/arkmoor/arkmoor/internal/presence"
	"github.com/arkmoor/arkmoor/internal/spell"
	"github.com/arkmoor/arkmoor/internal/subject"
	"github.com/arkmoor/arkmoor/internal/target"
	"github.com/arkmoor/arkmoor/internal/world"

	"github.com/arkmoor/arkmoor/internal/broker"
)

// Typed policy failures.
var (
	ErrShutdownPending = errors.New("command: server is shutting down")
	ErrGraceBlocked    = errors.New("command: blocked during grace period")
)

// suggestThreshold is the minimum Jaro-Winkler similarity for an unknown
// verb to earn a "did you mean" suggestion.
const suggestThreshold = 0.80

// Result is the envelope a handler returns: text for the client plus
// optional structured data for UIs.
type Result struct {
	Text string         `json:"text"`
	Data map[string]any `json:"data,omitempty"`
}

// Invocation carries everything a handler needs for one command.
type Invocation struct {
	SessionID string
	Player    world.Player
	Verb      string
	Args      []string

	// ArgString is the argument part of the line with original spacing
	// collapsed, for handlers that treat it as prose.
	ArgString string
}

// Handler executes one verb.
type Handler func(ctx context.Context, inv Invocation) (Result, error)

// entry pairs a handler with its gate metadata.
type entry struct {
	fn Handler

	// combat marks attack-family handlers, which are blocked while the
	// player is in a login grace period.
	combat bool
}

// Deps are the collaborators handlers reach the world through.
type Deps struct {
	Conn     *connection.Manager
	Store    world.Store
	NPCs     *npc.Runtime
	Combat   *combat.Engine
	Look     *look.Engine
	Presence *presence.Service
	Resolver *target.Resolver
	Follow   *follow.Coordinator
	Spells   *spell.Dispatcher
	Bus      *broker.Broker
	Registry *subject.Registry
	Metrics  *observe.Metrics

	// SpellBook maps spell names to their definitions.
	SpellBook map[string]spell.Definition
}

// Options configure a [Pipeline].
type Options struct {
	// MaxLineLength bounds a command line after whitespace collapse.
	MaxLineLength int

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// Pipeline owns the verb table. Register all handlers before serving;
// the table is read-only afterwards.
type Pipeline struct {
	deps Deps
	opts Options
	now  func() time.Time

	handlers map[string]entry
	aliases  map[string]string

	shuttingDown atomic.Bool
}

// NewPipeline builds a pipeline with the default verb table installed.
func NewPipeline(deps Deps, opts Options) *Pipeline {
	if opts.MaxLineLength <= 0 {
		opts.MaxLineLength = 50
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	p := &Pipeline{
		deps:     deps,
		opts:     opts,
		now:      opts.Now,
		handlers: make(map[string]entry),
		aliases:  make(map[string]string),
	}
	p.registerDefaults()
	return p
}

// Register installs a handler for verb. Combat-bearing handlers are
// blocked by the gate during grace periods.
func (p *Pipeline) Register(verb string, combatBearing bool, fn Handler) {
	p.handlers[strings.ToLower(verb)] = entry{fn: fn, combat: combatBearing}
}

// Alias maps an alternate verb onto a canonical one.
func (p *Pipeline) Alias(alias, canonical string) {
	p.aliases[strings.ToLower(alias)] = strings.ToLower(canonical)
}

// BeginShutdown makes the gate reject every subsequent command.
func (p *Pipeline) BeginShutdown() { p.shuttingDown.Store(true) }

// Execute runs one raw line through the pipeline for the given session.
func (p *Pipeline) Execute(ctx context.Context, sessionID string, raw string) (Result, error) {
	start := p.now()

	playerID, ok := p.deps.Conn.SessionPlayer(sessionID)
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", connection.ErrSessionNotFound, sessionID)
	}
	player, err := p.deps.Store.GetPlayerByID(ctx, playerID)
	if err != nil {
		return Result{}, fmt.Errorf("command: load player: %w", err)
	}

	ctx, span := observe.StartSpan(ctx, "command.execute",
		observe.WithPlayer(player.ID), observe.WithRoom(player.RoomID))
	defer span.End()

	res, verb, err := p.run(ctx, sessionID, player, raw)

	status := "ok"
	if err != nil {
		status = "error"
	}
	p.deps.Metrics.RecordCommand(ctx, verb, status, p.now().Sub(start).Seconds())
	return res, err
}

// run is the four-stage body of Execute, split out so the caller can
// record metrics around it.
func (p *Pipeline) run(ctx context.Context, sessionID string, player world.Player, raw string) (Result, string, error) {
	// Gate. Shutdown rejects everything; grace blocks only combat verbs,
	// which is checked after parse once the handler is known.
	if p.shuttingDown.Load() {
		return Result{}, "", ErrShutdownPending
	}

	line, err := sanitize(raw, p.opts.MaxLineLength)
	if err != nil {
		return Result{}, "", err
	}
	if line == "" {
		return Result{Text: ""}, "", nil
	}

	fields := strings.Fields(line)
	verb := strings.ToLower(fields[0])
	if canonical, ok := p.aliases[verb]; ok {
		// Direction aliases fold the verb into the argument, "north"
		// becoming "move north".
		if canonical == "move" {
			if dir, ok := directionWords[verb]; ok {
				fields = append([]string{"move", dir}, fields[1:]...)
			}
		}
		verb = canonical
	}
	args := fields[1:]

	ent, ok := p.handlers[verb]
	if !ok {
		return Result{Text: p.unknownVerb(verb)}, verb, nil
	}
	if ent.combat && p.deps.Conn.InGrace(player.ID) {
		return Result{}, verb, ErrGraceBlocked
	}

	inv := Invocation{
		SessionID: sessionID,
		Player:    player,
		Verb:      verb,
		Args:      args,
		ArgString: strings.Join(args, " "),
	}
	res, err := ent.fn(ctx, inv)
	if err != nil {
		slog.Debug("command: handler failed",
			"verb", verb, "player_id", player.ID, "err", err)
	}
	return res, verb, err
}

// unknownVerb renders the canned miss message, with a fuzzy suggestion
// when some registered verb is close enough.
func (p *Pipeline) unknownVerb(verb string) string {
	msg := fmt.Sprintf("Unknown command '%s'.", verb)

	verbs := make([]string, 0, len(p.handlers))
	for v := range p.handlers {
		verbs = append(verbs, v)
	}
	sort.Strings(verbs)

	best, bestScore := "", 0.0
	for _, v := range verbs {
		if s := matchr.JaroWinkler(verb, v, false); s > bestScore {
			best, bestScore = v, s
		}
	}
	if bestScore >= suggestThreshold {
		msg += fmt.Sprintf(" Did you mean '%s'?", best)
	}
	return msg
}

// directionWords maps movement aliases, long and short, onto the full
// direction name.
var directionWords = map[string]string{
	"north": "north", "south": "south", "east": "east", "west": "west",
	"up": "up", "down": "down",
	"n": "north", "s": "south", "e": "east", "w": "west", "u": "up", "d": "down",
}
