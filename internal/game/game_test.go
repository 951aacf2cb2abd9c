package game_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/arkmoor/arkmoor/internal/auth"
	"github.com/arkmoor/arkmoor/internal/broker"
	"github.com/arkmoor/arkmoor/internal/combat"
	"github.com/arkmoor/arkmoor/internal/command"
	"github.com/arkmoor/arkmoor/internal/connection"
	"github.com/arkmoor/arkmoor/internal/follow"
	"github.com/arkmoor/arkmoor/internal/game"
	"github.com/arkmoor/arkmoor/internal/look"
	"github.com/arkmoor/arkmoor/internal/npc"
	"github.com/arkmoor/arkmoor/internal/observe"
	"github.com/arkmoor/arkmoor/internal/presence"
	"github.com/arkmoor/arkmoor/internal/spell"
	"github.com/arkmoor/arkmoor/internal/subject"
	"github.com/arkmoor/arkmoor/internal/target"
	"github.com/arkmoor/arkmoor/internal/world"
)

type fakeClock struct {
	mu  sync.Mutex
	cur time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(d)
}

type fakeTransport struct {
	mu     sync.Mutex
	sent   []broker.Envelope
	closed []string
}

func (t *fakeTransport) Send(env broker.Envelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, env)
	return nil
}

func (t *fakeTransport) Close(reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = append(t.closed, reason)
	return nil
}

func (t *fakeTransport) sentEnvelopes() []broker.Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]broker.Envelope, len(t.sent))
	copy(out, t.sent)
	return out
}

type fixture struct {
	svc   *game.Service
	gate  *auth.Gate
	conn  *connection.Manager
	store *world.MemStore
	bus   *broker.Broker
	clock *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := &fakeClock{cur: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	reg, err := subject.NewRegistry(subject.DefaultOptions())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	bus := broker.New(reg, nil, nil)
	store := world.NewMemStore()
	store.PutRoom(world.Room{ID: "r1", Name: "Town Square", Description: "A town square.", PlayerIDs: []string{}})
	store.PutPlayer(world.Player{
		ID: "p1", Name: "Arlen", RoomID: "r1",
		CurrentHP: 100, MaxHP: 100, Dexterity: 12,
	})

	gate, err := auth.NewGate(auth.Config{
		Secret: []byte("test-secret"),
		Now:    clock.now,
	})
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}

	metrics := observe.DefaultMetrics()
	mgr := connection.NewManager(bus, reg, store, metrics, connection.Options{
		RateLimitAttempts: 100,
		RateLimitWindow:   time.Minute,
		GraceTimeout:      2 * time.Minute,
		PendingCapacity:   10,
		Now:               clock.now,
	})

	runtime := npc.NewRuntime()
	protos := world.NewPrototypeRegistry()
	eng := combat.NewEngine(bus, reg, store, runtime, metrics, combat.Options{Now: clock.now})
	pres := presence.NewService(store, store, runtime, protos, mgr)
	lookEng := look.NewEngine(store, runtime, protos, pres, mgr)
	resolver := target.NewResolver(store, store, runtime)
	coord := follow.NewCoordinator(store, mgr)
	spells := spell.NewDispatcher(store, bus, reg, nil)

	pipeline := command.NewPipeline(command.Deps{
		Conn:     mgr,
		Store:    store,
		NPCs:     runtime,
		Combat:   eng,
		Look:     lookEng,
		Presence: pres,
		Resolver: resolver,
		Follow:   coord,
		Spells:   spells,
		Bus:      bus,
		Registry: reg,
		Metrics:  metrics,
	}, command.Options{Now: clock.now})

	svc := game.NewService(gate, mgr, store, bus, reg, eng, pipeline, game.Options{Now: clock.now})

	return &fixture{svc: svc, gate: gate, conn: mgr, store: store, bus: bus, clock: clock}
}

func TestLoginInstallsSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	token, err := f.gate.IssueSessionToken("p1", false)
	if err != nil {
		t.Fatalf("IssueSessionToken: %v", err)
	}

	var entered []broker.Envelope
	f.bus.Subscribe("events.player_entered.r1", func(env broker.Envelope) {
		entered = append(entered, env)
	})

	tr := &fakeTransport{}
	res, err := f.svc.Login(ctx, "10.0.0.1", token, tr)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.Player.ID != "p1" || res.SessionID == "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Evicted != 0 || res.Reconnected {
		t.Errorf("Evicted = %d, Reconnected = %v, want 0 and false", res.Evicted, res.Reconnected)
	}

	if sid, ok := f.conn.ActiveSession("p1"); !ok || sid != res.SessionID {
		t.Errorf("ActiveSession = %q, %v; want %q, true", sid, ok, res.SessionID)
	}

	players, err := f.store.GetPlayersInRoom(ctx, "r1")
	if err != nil {
		t.Fatalf("GetPlayersInRoom: %v", err)
	}
	if len(players) != 1 || players[0].ID != "p1" {
		t.Errorf("room occupants = %+v, want [p1]", players)
	}
	if len(entered) != 1 {
		t.Errorf("player_entered envelopes = %d, want 1", len(entered))
	}

	// The welcome message arrives on the transport.
	var welcomed bool
	for _, env := range tr.sentEnvelopes() {
		if env.Kind == broker.KindSystem && strings.Contains(string(env.Payload), "Welcome") {
			welcomed = true
		}
	}
	if !welcomed {
		t.Error("no welcome envelope on transport")
	}
}

func TestLoginRejectsBadToken(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.svc.Login(context.Background(), "10.0.0.1", "garbage", &fakeTransport{})
	if !errors.Is(err, auth.ErrTokenInvalid) {
		t.Fatalf("err = %v, want ErrTokenInvalid", err)
	}
	if _, ok := f.conn.ActiveSession("p1"); ok {
		t.Error("session installed despite auth failure")
	}
}

func TestLoginUnknownCharacter(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	token, err := f.gate.IssueSessionToken("ghost", false)
	if err != nil {
		t.Fatalf("IssueSessionToken: %v", err)
	}
	_, err = f.svc.Login(context.Background(), "10.0.0.1", token, &fakeTransport{})
	if !errors.Is(err, game.ErrNoCharacter) {
		t.Fatalf("err = %v, want ErrNoCharacter", err)
	}
}

func TestLoginEvictsDuplicate(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	token, err := f.gate.IssueSessionToken("p1", false)
	if err != nil {
		t.Fatalf("IssueSessionToken: %v", err)
	}

	first := &fakeTransport{}
	if _, err := f.svc.Login(ctx, "10.0.0.1", token, first); err != nil {
		t.Fatalf("first Login: %v", err)
	}

	second := &fakeTransport{}
	res, err := f.svc.Login(ctx, "10.0.0.1", token, second)
	if err != nil {
		t.Fatalf("second Login: %v", err)
	}
	if res.Evicted != 1 {
		t.Errorf("Evicted = %d, want 1", res.Evicted)
	}

	// The evicted client learns why it went away.
	var superseded bool
	for _, env := range first.sentEnvelopes() {
		if env.Kind == broker.KindSuperseded {
			superseded = true
		}
	}
	if !superseded {
		t.Error("first transport never received a superseded envelope")
	}

	// Presence is not duplicated.
	players, err := f.store.GetPlayersInRoom(ctx, "r1")
	if err != nil {
		t.Fatalf("GetPlayersInRoom: %v", err)
	}
	if len(players) != 1 {
		t.Errorf("room occupants = %d, want 1", len(players))
	}
}

func TestGraceReconnectKeepsPresence(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	token, err := f.gate.IssueSessionToken("p1", false)
	if err != nil {
		t.Fatalf("IssueSessionToken: %v", err)
	}

	first := &fakeTransport{}
	res, err := f.svc.Login(ctx, "10.0.0.1", token, first)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	f.svc.HandleClose(ctx, res.SessionID, connection.ReasonTransient)
	if !f.conn.InGrace("p1") {
		t.Fatal("player not in grace after transient close")
	}

	var entered int
	f.bus.Subscribe("events.player_entered.r1", func(broker.Envelope) { entered++ })

	second := &fakeTransport{}
	res2, err := f.svc.Login(ctx, "10.0.0.1", token, second)
	if err != nil {
		t.Fatalf("reconnect Login: %v", err)
	}
	if !res2.Reconnected {
		t.Error("Reconnected = false, want true")
	}
	if entered != 0 {
		t.Errorf("player_entered published %d times on grace return, want 0", entered)
	}
}

func TestHandleCloseUnknownSessionIsQuiet(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.svc.HandleClose(context.Background(), "no-such-session", connection.ReasonTransient)
}

func TestTickPublishesAndSweeps(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	var ticks []broker.Envelope
	f.bus.Subscribe("events.game_tick", func(env broker.Envelope) {
		ticks = append(ticks, env)
	})

	token, err := f.gate.IssueSessionToken("p1", false)
	if err != nil {
		t.Fatalf("IssueSessionToken: %v", err)
	}
	res, err := f.svc.Login(ctx, "10.0.0.1", token, &fakeTransport{})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	f.svc.HandleClose(ctx, res.SessionID, connection.ReasonTransient)

	f.clock.advance(3 * time.Minute)
	f.svc.Tick(ctx, 1)

	if len(ticks) != 1 {
		t.Fatalf("tick envelopes = %d, want 1", len(ticks))
	}
	var payload map[string]any
	if err := json.Unmarshal(ticks[0].Payload, &payload); err != nil {
		t.Fatalf("unmarshal tick payload: %v", err)
	}
	if payload["tick"] != float64(1) {
		t.Errorf("tick = %v, want 1", payload["tick"])
	}

	// The elapsed grace period was swept.
	if f.conn.InGrace("p1") {
		t.Error("grace record survived the sweep")
	}

	// The tick left its timestamp for the readiness probe.
	if got, want := f.svc.LastTick(), f.clock.now(); !got.Equal(want) {
		t.Errorf("LastTick = %v, want %v", got, want)
	}
}

func TestLastTickZeroBeforeFirstTick(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	if got := f.svc.LastTick(); !got.IsZero() {
		t.Errorf("LastTick before any tick = %v, want zero", got)
	}
}

func TestShutdownClosesSessionsAndGatesCommands(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	token, err := f.gate.IssueSessionToken("p1", false)
	if err != nil {
		t.Fatalf("IssueSessionToken: %v", err)
	}
	tr := &fakeTransport{}
	res, err := f.svc.Login(ctx, "10.0.0.1", token, tr)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	f.svc.Shutdown(ctx)

	if _, ok := f.conn.ActiveSession("p1"); ok {
		t.Error("session survived shutdown")
	}
	if _, err := f.svc.HandleCommand(ctx, res.SessionID, "say hi"); err == nil {
		t.Error("HandleCommand after shutdown succeeded, want error")
	}
}

func TestHandleCommandRoundTrip(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	token, err := f.gate.IssueSessionToken("p1", false)
	if err != nil {
		t.Fatalf("IssueSessionToken: %v", err)
	}
	res, err := f.svc.Login(ctx, "10.0.0.1", token, &fakeTransport{})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	out, err := f.svc.HandleCommand(ctx, res.SessionID, "say hello")
	if err != nil {
		t.Fatalf("HandleCommand: %v", err)
	}
	if got, want := out.Text, "You say: hello"; got != want {
		t.Errorf("Text = %q, want %q", got, want)
	}
}
