package follow_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/arkmoor/arkmoor/internal/broker"
	"github.com/arkmoor/arkmoor/internal/follow"
	"github.com/arkmoor/arkmoor/internal/target"
	"github.com/arkmoor/arkmoor/internal/world"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent map[string][]broker.Envelope
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{sent: make(map[string][]broker.Envelope)}
}

func (n *recordingNotifier) SendPersonal(ctx context.Context, playerID string, env broker.Envelope) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent[playerID] = append(n.sent[playerID], env)
	return true
}

func (n *recordingNotifier) count(playerID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent[playerID])
}

func newCoordinator(t *testing.T) (*follow.Coordinator, *world.MemStore, *recordingNotifier) {
	t.Helper()
	store := world.NewMemStore()
	store.PutPlayer(world.Player{ID: "p1", Name: "Arlen", RoomID: "square"})
	store.PutPlayer(world.Player{ID: "p2", Name: "Brega", RoomID: "square"})
	store.PutPlayer(world.Player{ID: "p3", Name: "Corvin", RoomID: "market"})
	notify := newRecordingNotifier()
	return follow.NewCoordinator(store, notify), store, notify
}

func npcLeader() target.Candidate {
	return target.Candidate{ID: "rat-1", Kind: target.KindNPC, Name: "rat"}
}

func playerLeader(id, name string) target.Candidate {
	return target.Candidate{ID: id, Kind: target.KindPlayer, Name: name}
}

func TestNPCLeaderAcceptsImmediately(t *testing.T) {
	t.Parallel()
	c, _, _ := newCoordinator(t)

	msg, err := c.Request(context.Background(), "p1", npcLeader())
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if msg != "You begin following rat." {
		t.Errorf("msg = %q", msg)
	}
	if leader, ok := c.Leader("p1"); !ok || leader != "rat-1" {
		t.Errorf("Leader = %q, %v; want rat-1, true", leader, ok)
	}
}

func TestPlayerLeaderRequiresAcceptance(t *testing.T) {
	t.Parallel()
	c, _, notify := newCoordinator(t)
	ctx := context.Background()

	if _, err := c.Request(ctx, "p1", playerLeader("p2", "Brega")); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if _, ok := c.Leader("p1"); ok {
		t.Fatal("edge installed before acceptance")
	}
	if notify.count("p2") != 1 {
		t.Fatalf("leader prompts = %d, want 1", notify.count("p2"))
	}

	msg, err := c.Accept(ctx, "p2")
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if msg != "Arlen now follows you." {
		t.Errorf("msg = %q", msg)
	}
	if leader, ok := c.Leader("p1"); !ok || leader != "p2" {
		t.Errorf("Leader = %q, %v; want p2, true", leader, ok)
	}
	if got := c.Followers("p2"); len(got) != 1 || got[0] != "p1" {
		t.Errorf("Followers = %v, want [p1]", got)
	}
}

func TestRejectClearsPending(t *testing.T) {
	t.Parallel()
	c, _, notify := newCoordinator(t)
	ctx := context.Background()

	if _, err := c.Request(ctx, "p1", playerLeader("p2", "Brega")); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if _, err := c.Reject(ctx, "p2"); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if _, ok := c.Leader("p1"); ok {
		t.Error("edge installed after rejection")
	}
	if notify.count("p1") != 1 {
		t.Errorf("follower notices = %d, want 1", notify.count("p1"))
	}
	if _, err := c.Accept(ctx, "p2"); !errors.Is(err, follow.ErrNoPending) {
		t.Errorf("Accept after reject err = %v, want ErrNoPending", err)
	}
}

func TestRequestValidation(t *testing.T) {
	t.Parallel()
	c, _, _ := newCoordinator(t)
	ctx := context.Background()

	if _, err := c.Request(ctx, "p1", playerLeader("p1", "Arlen")); !errors.Is(err, follow.ErrSelfFollow) {
		t.Errorf("self follow err = %v, want ErrSelfFollow", err)
	}
	if _, err := c.Request(ctx, "p1", playerLeader("p3", "Corvin")); !errors.Is(err, follow.ErrNotSameRoom) {
		t.Errorf("cross-room err = %v, want ErrNotSameRoom", err)
	}
}

func TestAcceptRequiresSameRoomStill(t *testing.T) {
	t.Parallel()
	c, store, _ := newCoordinator(t)
	ctx := context.Background()

	if _, err := c.Request(ctx, "p1", playerLeader("p2", "Brega")); err != nil {
		t.Fatalf("Request: %v", err)
	}
	// The leader wanders off before deciding.
	store.PutPlayer(world.Player{ID: "p2", Name: "Brega", RoomID: "market"})

	if _, err := c.Accept(ctx, "p2"); !errors.Is(err, follow.ErrNotSameRoom) {
		t.Fatalf("err = %v, want ErrNotSameRoom", err)
	}
	if _, ok := c.Leader("p1"); ok {
		t.Error("edge installed despite room mismatch")
	}
}

func TestSingleLeaderPerFollower(t *testing.T) {
	t.Parallel()
	c, _, _ := newCoordinator(t)
	ctx := context.Background()

	if _, err := c.Request(ctx, "p1", npcLeader()); err != nil {
		t.Fatalf("Request: %v", err)
	}
	other := target.Candidate{ID: "dog-1", Kind: target.KindNPC, Name: "dog"}
	if _, err := c.Request(ctx, "p1", other); err != nil {
		t.Fatalf("Request: %v", err)
	}

	if leader, _ := c.Leader("p1"); leader != "dog-1" {
		t.Errorf("Leader = %q, want dog-1", leader)
	}
	if got := c.Followers("rat-1"); len(got) != 0 {
		t.Errorf("old leader still has followers: %v", got)
	}
}

func TestTriggerFollowSkipsAbsentAndFailing(t *testing.T) {
	t.Parallel()
	c, store, _ := newCoordinator(t)
	ctx := context.Background()

	// p1 and p2 follow the rat; p2 has left the room.
	if _, err := c.Request(ctx, "p1", npcLeader()); err != nil {
		t.Fatalf("Request: %v", err)
	}
	store.PutPlayer(world.Player{ID: "p2", Name: "Brega", RoomID: "square"})
	if _, err := c.Request(ctx, "p2", npcLeader()); err != nil {
		t.Fatalf("Request: %v", err)
	}
	store.PutPlayer(world.Player{ID: "p2", Name: "Brega", RoomID: "market"})

	var moved []string
	c.TriggerFollow(ctx, "rat-1", "square", func(followerID string) error {
		moved = append(moved, followerID)
		return nil
	})
	if len(moved) != 1 || moved[0] != "p1" {
		t.Errorf("moved = %v, want [p1]", moved)
	}
}

func TestDropSeversBothSides(t *testing.T) {
	t.Parallel()
	c, _, _ := newCoordinator(t)
	ctx := context.Background()

	if _, err := c.Request(ctx, "p1", npcLeader()); err != nil {
		t.Fatalf("Request: %v", err)
	}
	c.Drop("rat-1")
	if _, ok := c.Leader("p1"); ok {
		t.Error("follower edge survived leader drop")
	}

	if c.Unfollow("p1") {
		t.Error("Unfollow after drop reported an edge")
	}
}
