package command_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/arkmoor/arkmoor/internal/broker"
	"github.com/arkmoor/arkmoor/internal/combat"
	"github.com/arkmoor/arkmoor/internal/command"
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
)

type fakeTransport struct {
	mu   sync.Mutex
	sent []broker.Envelope
}

func (t *fakeTransport) Send(env broker.Envelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, env)
	return nil
}

func (t *fakeTransport) Close(reason string) error { return nil }

func (t *fakeTransport) envelopes() []broker.Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]broker.Envelope, len(t.sent))
	copy(out, t.sent)
	return out
}

type fixture struct {
	pipeline *command.Pipeline
	conn     *connection.Manager
	store    *world.MemStore
	npcs     *npc.Runtime
	engine   *combat.Engine
	bus      *broker.Broker

	sessions   map[string]string // player id → session id
	transports map[string]*fakeTransport
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	reg, err := subject.NewRegistry(subject.DefaultOptions())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	bus := broker.New(reg, nil, nil)
	metrics := observe.DefaultMetrics()

	store := world.NewMemStore()
	store.PutPlayer(world.Player{
		ID: "pa", Name: "Arlen", RoomID: "r1",
		CurrentHP: 100, MaxHP: 100, CurrentLucidity: 100, MaxLucidity: 100,
		Dexterity: 15,
	})
	store.PutPlayer(world.Player{
		ID: "pb", Name: "Brega", RoomID: "r1",
		CurrentHP: 100, MaxHP: 100, CurrentLucidity: 100, MaxLucidity: 100,
		Dexterity: 12,
	})
	store.PutPlayer(world.Player{
		ID: "pc", Name: "Corvin", RoomID: "r2",
		CurrentHP: 100, MaxHP: 100, CurrentLucidity: 100, MaxLucidity: 100,
		Dexterity: 10,
	})
	store.PutRoom(world.Room{
		ID: "r1", Description: "A town square.",
		Exits:     map[string]string{"north": "r2", "east": "r3"},
		PlayerIDs: []string{"pa", "pb"},
		NPCIDs:    []string{"rat-1"},
	})
	store.PutRoom(world.Room{
		ID: "r2", Name: "North Road", Description: "A dusty road.",
		Exits:     map[string]string{"south": "r1"},
		PlayerIDs: []string{"pc"},
	})
	store.PutRoom(world.Room{
		ID: "r3", Name: "Market", Description: "Stalls and noise.",
		Exits:     map[string]string{"west": "r1"},
		PlayerIDs: []string{},
	})

	rt := npc.NewRuntime()
	rt.RegisterDefinition(npc.Definition{
		ID: "rat", Name: "rat",
		Stats: npc.BaseStats{MaxHP: 50, Dexterity: 10, XPValue: 7},
	})
	if _, err := rt.Spawn("rat-1", "rat", "r1"); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	protos := world.NewPrototypeRegistry()

	conn := connection.NewManager(bus, reg, store, metrics, connection.Options{
		RateLimitAttempts: 100,
		RateLimitWindow:   time.Minute,
		GraceTimeout:      2 * time.Minute,
		PendingCapacity:   10,
	})
	pres := presence.NewService(store, store, rt, protos, conn)
	lookEngine := look.NewEngine(store, rt, protos, pres, conn)
	resolver := target.NewResolver(store, store, rt)
	followCoord := follow.NewCoordinator(store, conn)
	engine := combat.NewEngine(bus, reg, store, rt, metrics, combat.Options{})
	spells := spell.NewDispatcher(store, bus, reg, nil)

	pipeline := command.NewPipeline(command.Deps{
		Conn:     conn,
		Store:    store,
		NPCs:     rt,
		Combat:   engine,
		Look:     lookEngine,
		Presence: pres,
		Resolver: resolver,
		Follow:   followCoord,
		Spells:   spells,
		Bus:      bus,
		Registry: reg,
		Metrics:  metrics,
		SpellBook: map[string]spell.Definition{
			"mend": {
				SpellID: "mend", Kind: spell.EffectHeal,
				EffectData: spell.EffectData{Amount: 20},
			},
		},
	}, command.Options{MaxLineLength: 50})

	f := &fixture{
		pipeline:   pipeline,
		conn:       conn,
		store:      store,
		npcs:       rt,
		engine:     engine,
		bus:        bus,
		sessions:   make(map[string]string),
		transports: make(map[string]*fakeTransport),
	}
	for _, id := range []string{"pa", "pb", "pc"} {
		p, err := store.GetPlayerByID(context.Background(), id)
		if err != nil {
			t.Fatalf("GetPlayerByID %s: %v", id, err)
		}
		tr := &fakeTransport{}
		sid, err := conn.Connect(context.Background(), tr, id, p.RoomID)
		if err != nil {
			t.Fatalf("Connect %s: %v", id, err)
		}
		f.sessions[id] = sid
		f.transports[id] = tr
	}
	return f
}

func (f *fixture) exec(t *testing.T, playerID, line string) command.Result {
	t.Helper()
	res, err := f.pipeline.Execute(context.Background(), f.sessions[playerID], line)
	if err != nil {
		t.Fatalf("Execute(%q): %v", line, err)
	}
	return res
}

func TestSayBroadcast(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	res := f.exec(t, "pa", "say hello")
	if res.Text != "You say: hello" {
		t.Errorf("speaker echo = %q, want %q", res.Text, "You say: hello")
	}

	// Same-room listener receives the envelope with the chat payload.
	bSeen := f.transports["pb"].envelopes()
	if len(bSeen) != 1 {
		t.Fatalf("B received %d envelopes, want 1", len(bSeen))
	}
	if bSeen[0].Subject != "chat.say.room.r1" {
		t.Errorf("subject = %q, want chat.say.room.r1", bSeen[0].Subject)
	}
	var payload struct {
		From    string `json:"from"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(bSeen[0].Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.From != "Arlen" || payload.Message != "hello" {
		t.Errorf("payload = %+v", payload)
	}

	// The speaker gets no echo envelope, and the other room hears nothing.
	if got := f.transports["pa"].envelopes(); len(got) != 0 {
		t.Errorf("A received %d envelopes, want 0", len(got))
	}
	if got := f.transports["pc"].envelopes(); len(got) != 0 {
		t.Errorf("C received %d envelopes, want 0", len(got))
	}
}

func TestSanitiseRejectsWithoutSideEffects(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		line string
		want error
	}{
		{"too long", "say " + strings.Repeat("a", 60), command.ErrTooLong},
		{"semicolon", "say hi; rm -rf /", command.ErrInvalidCharacters},
		{"pipe", "say hi | tee", command.ErrInvalidCharacters},
		{"ampersand", "say fish & chips", command.ErrInvalidCharacters},
		{"sql", "say drop table players", command.ErrInvalidCharacters},
		{"script", "say <script>alert(1)", command.ErrInvalidCharacters},
		{"format", "say %s%s%s", command.ErrInvalidCharacters},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.pipeline.Execute(ctx, f.sessions["pa"], tc.line)
			if !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}

	// None of the rejected lines reached the broker.
	if got := f.transports["pb"].envelopes(); len(got) != 0 {
		t.Errorf("rejected lines produced %d envelopes", len(got))
	}
}

func TestUnicodePreserved(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	res := f.exec(t, "pa", "say grüße aus köln")
	if res.Text != "You say: grüße aus köln" {
		t.Errorf("echo = %q", res.Text)
	}
}

func TestLookEmptyishRoom(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	res := f.exec(t, "pc", "look")
	want := "North Road\nA dusty road.\n\nExits: south"
	if res.Text != want {
		t.Errorf("look =\n%q\nwant\n%q", res.Text, want)
	}
}

func TestUnknownVerbSuggestion(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	res := f.exec(t, "pa", "atack rat")
	if !strings.Contains(res.Text, "Unknown command 'atack'.") {
		t.Errorf("text = %q", res.Text)
	}
	if !strings.Contains(res.Text, "Did you mean 'attack'?") {
		t.Errorf("no suggestion in %q", res.Text)
	}

	res = f.exec(t, "pa", "xyzzy")
	if strings.Contains(res.Text, "Did you mean") {
		t.Errorf("spurious suggestion in %q", res.Text)
	}
}

func TestAttackWithDeathThroughPipeline(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.npcs.SetHP("rat-1", 5)

	res := f.exec(t, "pa", "attack rat")
	for _, want := range []string{"You hit rat for 10 damage.", "rat dies!", "You gain 7 experience."} {
		if !strings.Contains(res.Text, want) {
			t.Errorf("attack text missing %q, got %q", want, res.Text)
		}
	}

	p, err := f.store.GetPlayerByID(ctx, "pa")
	if err != nil {
		t.Fatalf("GetPlayerByID: %v", err)
	}
	if p.Experience != 7 {
		t.Errorf("experience = %d, want 7", p.Experience)
	}
	if f.engine.IsPlayerInCombat("pa") {
		t.Error("in-combat flag not cleared")
	}
}

func TestVerbAliases(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.npcs.SetHP("rat-1", 5)
	res := f.exec(t, "pa", "punch rat")
	if !strings.Contains(res.Text, "You hit rat") {
		t.Errorf("punch alias text = %q", res.Text)
	}
}

func TestMoveAndDirectionAliases(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	res := f.exec(t, "pa", "north")
	if !strings.Contains(res.Text, "North Road") {
		t.Errorf("move text = %q", res.Text)
	}
	p, err := f.store.GetPlayerByID(ctx, "pa")
	if err != nil {
		t.Fatalf("GetPlayerByID: %v", err)
	}
	if p.RoomID != "r2" {
		t.Errorf("room = %q, want r2", p.RoomID)
	}

	res = f.exec(t, "pa", "west")
	if res.Text != "You can't go that way." {
		t.Errorf("bad direction text = %q", res.Text)
	}

	res = f.exec(t, "pa", "s")
	if !strings.Contains(res.Text, "A town square.") {
		t.Errorf("shorthand move text = %q", res.Text)
	}
}

func TestMovePullsFollowers(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.exec(t, "pb", "follow arlen")
	res := f.exec(t, "pa", "follow accept")
	if res.Text != "Brega now follows you." {
		t.Fatalf("accept text = %q", res.Text)
	}

	f.exec(t, "pa", "north")

	for _, id := range []string{"pa", "pb"} {
		p, err := f.store.GetPlayerByID(ctx, id)
		if err != nil {
			t.Fatalf("GetPlayerByID %s: %v", id, err)
		}
		if p.RoomID != "r2" {
			t.Errorf("%s room = %q, want r2", id, p.RoomID)
		}
	}
}

func TestCastHealsThroughPipeline(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	p, _ := f.store.GetPlayerByID(ctx, "pb")
	p.CurrentHP = 50
	if err := f.store.SavePlayer(ctx, p); err != nil {
		t.Fatalf("SavePlayer: %v", err)
	}

	res := f.exec(t, "pa", "cast mend brega")
	if res.Text != "Brega is healed for 20." {
		t.Errorf("cast text = %q", res.Text)
	}

	p, _ = f.store.GetPlayerByID(ctx, "pb")
	if p.CurrentHP != 70 {
		t.Errorf("hp = %d, want 70", p.CurrentHP)
	}
}

func TestWho(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	res := f.exec(t, "pa", "who")
	if !strings.Contains(res.Text, "3 players online") {
		t.Errorf("who text = %q", res.Text)
	}
	for _, name := range []string{"Arlen", "Brega", "Corvin"} {
		if !strings.Contains(res.Text, name) {
			t.Errorf("who text missing %s: %q", name, res.Text)
		}
	}
}

func TestShutdownGate(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.pipeline.BeginShutdown()
	_, err := f.pipeline.Execute(context.Background(), f.sessions["pa"], "say hi")
	if !errors.Is(err, command.ErrShutdownPending) {
		t.Fatalf("err = %v, want ErrShutdownPending", err)
	}
}

func TestWhisper(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	res := f.exec(t, "pa", "whisper Corvin meet me north")
	if res.Text != "You whisper to Corvin: meet me north" {
		t.Errorf("whisper echo = %q", res.Text)
	}

	cSeen := f.transports["pc"].envelopes()
	if len(cSeen) != 1 || cSeen[0].Subject != "chat.whisper.player.pc" {
		t.Fatalf("C envelopes = %v, want one whisper", cSeen)
	}
	if got := f.transports["pb"].envelopes(); len(got) != 0 {
		t.Errorf("B overheard the whisper: %v", got)
	}
}

func TestAttackLinkdeadPlayerRefused(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	// A transient drop leaves Brega linkdead: on the room roster, but
	// not a legal target.
	if err := f.conn.Disconnect(ctx, f.sessions["pb"], connection.ReasonTransient); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if !f.conn.InGrace("pb") {
		t.Fatal("expected pb to be in grace")
	}

	res := f.exec(t, "pa", "attack Brega")
	if got, want := res.Text, "Brega is linkdead and cannot be attacked."; got != want {
		t.Errorf("attack text = %q, want %q", got, want)
	}
	if f.engine.IsPlayerInCombat("pa") {
		t.Error("combat started against a linkdead player")
	}

	p, err := f.store.GetPlayerByID(ctx, "pb")
	if err != nil {
		t.Fatalf("GetPlayerByID: %v", err)
	}
	if p.CurrentHP != 100 {
		t.Errorf("pb HP = %d, want 100", p.CurrentHP)
	}
}
