package main

import (
	"testing"

	"github.com/google/uuid"
	"github.com/pixil98/go-testutil"
)

func newTestClient(name string) *Client {
	return &Client{
		send: make(chan any, 64),
		sid:  uuid.New().String(),
		name: name,
	}
}

// newTestHub builds a room whose handlers are invoked directly, so each
// test controls exactly when every mutation applies.
func newTestHub(t *testing.T) (*Config, *Hub) {
	t.Helper()

	cfg := testConfig()
	reg := newRegistry(cfg)

	id, err := reg.CreateRoom("test room")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	hub, err := reg.GetRoom(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return cfg, hub
}

func join(cfg *Config, h *Hub, c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	h.handleJoin(cfg, c)
}

// drain empties a client's send queue and returns everything it held.
func drain(c *Client) []any {
	var msgs []any
	for {
		select {
		case msg := <-c.send:
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
}

func TestJoinCreatesExactlyOneCircle(t *testing.T) {
	cfg, hub := newTestHub(t)

	a := newTestClient("alice")
	join(cfg, hub, a)

	hub.mu.RLock()
	testutil.AssertEqual(t, "members", len(hub.members), 1)
	testutil.AssertEqual(t, "circles", len(hub.circles), 1)
	circle, ok := hub.circles[a.sid]
	hub.mu.RUnlock()

	if !ok {
		t.Fatal("expected a circle keyed by the joining session id")
	}
	testutil.AssertEqual(t, "owner", circle.Owner, "alice")
	testutil.AssertEqual(t, "radius", circle.R, float64(defaultRadius))

	msgs := drain(a)
	if len(msgs) != 1 {
		t.Fatalf("expected exactly one message to the joiner, got %d", len(msgs))
	}
	state, ok := msgs[0].(RoomStateMessage)
	if !ok {
		t.Fatalf("expected RoomStateMessage, got %T", msgs[0])
	}
	testutil.AssertEqual(t, "snapshot size", len(state.Circles), 1)
	if _, ok := state.Circles[a.sid]; !ok {
		t.Fatal("snapshot missing the joiner's own circle")
	}
}

func TestMemberAndCircleSetsStayInLockstep(t *testing.T) {
	cfg, hub := newTestHub(t)

	clients := []*Client{
		newTestClient("alice"),
		newTestClient("bob"),
		newTestClient("carol"),
	}
	for _, c := range clients {
		join(cfg, hub, c)
	}

	hub.mu.RLock()
	testutil.AssertEqual(t, "members", len(hub.members), 3)
	testutil.AssertEqual(t, "circles", len(hub.circles), 3)
	for sid := range hub.members {
		if _, ok := hub.circles[sid]; !ok {
			t.Errorf("member %s has no circle", sid)
		}
	}
	hub.mu.RUnlock()

	hub.handleLeave(cfg, clients[1])

	hub.mu.RLock()
	defer hub.mu.RUnlock()
	testutil.AssertEqual(t, "members after leave", len(hub.members), 2)
	testutil.AssertEqual(t, "circles after leave", len(hub.circles), 2)
	if _, ok := hub.circles[clients[1].sid]; ok {
		t.Error("leaver's circle was not removed")
	}
	if _, ok := hub.circles[clients[0].sid]; !ok {
		t.Error("remaining member lost its circle")
	}
}

func TestLeaveByNonMemberIsNoOp(t *testing.T) {
	cfg, hub := newTestHub(t)

	a := newTestClient("alice")
	join(cfg, hub, a)
	drain(a)

	stranger := newTestClient("mallory")
	hub.handleLeave(cfg, stranger)

	hub.mu.RLock()
	testutil.AssertEqual(t, "members", len(hub.members), 1)
	hub.mu.RUnlock()

	if msgs := drain(a); len(msgs) != 0 {
		t.Fatalf("expected no broadcast for a non-member leave, got %d messages", len(msgs))
	}
}

func TestPlayerCountAfterSequentialJoins(t *testing.T) {
	cfg, hub := newTestHub(t)

	const k = 5

	first := newTestClient("player-0")
	join(cfg, hub, first)

	for i := 1; i < k; i++ {
		join(cfg, hub, newTestClient("player-"+string(rune('0'+i))))
	}

	var last *PlayerListMessage
	for _, msg := range drain(first) {
		if pl, ok := msg.(PlayerListMessage); ok && pl.Type == "player_joined" {
			last = &pl
		}
	}
	if last == nil {
		t.Fatal("first member never received a player_joined notice")
	}
	testutil.AssertEqual(t, "player count", len(last.Players), k)
}

func TestMoveByOwnerUpdatesAndFansOut(t *testing.T) {
	cfg, hub := newTestHub(t)

	a := newTestClient("alice")
	b := newTestClient("bob")
	join(cfg, hub, a)
	join(cfg, hub, b)
	drain(a)
	drain(b)

	hub.handleMove(cfg, moveRequest{client: a, x: 120, y: 80})

	hub.mu.RLock()
	circle := hub.circles[a.sid]
	hub.mu.RUnlock()
	testutil.AssertEqual(t, "x", circle.X, 120.0)
	testutil.AssertEqual(t, "y", circle.Y, 80.0)

	msgs := drain(b)
	if len(msgs) != 1 {
		t.Fatalf("expected one message to the other member, got %d", len(msgs))
	}
	moved, ok := msgs[0].(CircleMovedMessage)
	if !ok {
		t.Fatalf("expected CircleMovedMessage, got %T", msgs[0])
	}
	testutil.AssertEqual(t, "sid", moved.SID, a.sid)
	testutil.AssertEqual(t, "moved x", moved.X, 120.0)
	testutil.AssertEqual(t, "moved y", moved.Y, 80.0)

	if echoes := drain(a); len(echoes) != 0 {
		t.Fatalf("originator must not be re-notified, got %d messages", len(echoes))
	}
}

func TestMoveByNonMemberIsSilentlyDiscarded(t *testing.T) {
	cfg, hub := newTestHub(t)

	a := newTestClient("alice")
	join(cfg, hub, a)
	drain(a)

	hub.mu.RLock()
	before := hub.circles[a.sid]
	hub.mu.RUnlock()

	// Attached but never joined: owns nothing in this room.
	mallory := newTestClient("mallory")
	hub.mu.Lock()
	hub.clients[mallory] = true
	hub.mu.Unlock()

	hub.handleMove(cfg, moveRequest{client: mallory, x: 1, y: 1})

	hub.mu.RLock()
	after := hub.circles[a.sid]
	hub.mu.RUnlock()
	testutil.AssertEqual(t, "x unchanged", after.X, before.X)
	testutil.AssertEqual(t, "y unchanged", after.Y, before.Y)

	if msgs := drain(mallory); len(msgs) != 0 {
		t.Fatalf("authorization failure must be silent, got %d messages", len(msgs))
	}
	if msgs := drain(a); len(msgs) != 0 {
		t.Fatalf("owner must not be notified of a discarded move, got %d messages", len(msgs))
	}
}

func TestOwnersNeverCorruptEachOther(t *testing.T) {
	cfg, hub := newTestHub(t)

	a := newTestClient("alice")
	b := newTestClient("bob")
	join(cfg, hub, a)
	join(cfg, hub, b)

	for i := 0; i < 100; i++ {
		hub.handleMove(cfg, moveRequest{client: a, x: float64(i), y: float64(i)})
		hub.handleMove(cfg, moveRequest{client: b, x: float64(-i), y: float64(-i)})
	}

	hub.mu.RLock()
	defer hub.mu.RUnlock()
	testutil.AssertEqual(t, "alice x", hub.circles[a.sid].X, 99.0)
	testutil.AssertEqual(t, "bob x", hub.circles[b.sid].X, -99.0)
	testutil.AssertEqual(t, "alice owner", hub.circles[a.sid].Owner, "alice")
	testutil.AssertEqual(t, "bob owner", hub.circles[b.sid].Owner, "bob")
}

func TestSnapshotMatchesAuthoritativeState(t *testing.T) {
	cfg, hub := newTestHub(t)

	a := newTestClient("alice")
	b := newTestClient("bob")
	join(cfg, hub, a)
	join(cfg, hub, b)
	hub.handleMove(cfg, moveRequest{client: a, x: 42, y: 24})

	hub.mu.RLock()
	snapshot := hub.snapshotLocked()
	hub.mu.RUnlock()

	testutil.AssertEqual(t, "snapshot size", len(snapshot), 2)
	testutil.AssertEqual(t, "alice", snapshot[a.sid], hub.circles[a.sid])
	testutil.AssertEqual(t, "bob", snapshot[b.sid], hub.circles[b.sid])

	// The snapshot is a copy; mutating it must not touch authoritative state.
	mutated := snapshot[a.sid]
	mutated.X = -1
	snapshot[a.sid] = mutated

	hub.mu.RLock()
	defer hub.mu.RUnlock()
	testutil.AssertEqual(t, "authoritative x", hub.circles[a.sid].X, 42.0)
}

func TestSlowMemberEvictionNotifiesSurvivors(t *testing.T) {
	cfg, hub := newTestHub(t)

	a := newTestClient("alice")
	c := newTestClient("carol")
	join(cfg, hub, a)
	join(cfg, hub, c)

	// A one-slot buffer fills with the join snapshot, so the next fanout
	// to this member must evict it.
	slow := &Client{
		send: make(chan any, 1),
		sid:  uuid.New().String(),
		name: "bob",
	}
	join(cfg, hub, slow)
	drain(a)
	drain(c)

	hub.handleMove(cfg, moveRequest{client: a, x: 5, y: 5})

	hub.mu.RLock()
	testutil.AssertEqual(t, "members", len(hub.members), 2)
	_, circleKept := hub.circles[slow.sid]
	hub.mu.RUnlock()
	if circleKept {
		t.Error("evicted member's circle was not removed")
	}

	sawLeft := func(msgs []any) *PlayerListMessage {
		for _, msg := range msgs {
			if pl, ok := msg.(PlayerListMessage); ok && pl.Type == "player_left" {
				return &pl
			}
		}
		return nil
	}

	left := sawLeft(drain(c))
	if left == nil {
		t.Fatal("survivor was not told the evicted member left")
	}
	testutil.AssertEqual(t, "remaining players", len(left.Players), 2)

	if sawLeft(drain(a)) == nil {
		t.Fatal("move originator was not told the evicted member left")
	}

	// The eventual disconnect of the evicted socket must not announce a
	// second departure.
	hub.handleLeave(cfg, slow)
	if msgs := drain(a); len(msgs) != 0 {
		t.Fatalf("expected no re-announcement for an already-evicted member, got %d messages", len(msgs))
	}
}

func TestRejoinResendsSnapshotOnly(t *testing.T) {
	cfg, hub := newTestHub(t)

	a := newTestClient("alice")
	join(cfg, hub, a)
	drain(a)

	hub.handleJoin(cfg, a)

	msgs := drain(a)
	if len(msgs) != 1 {
		t.Fatalf("expected one message on rejoin, got %d", len(msgs))
	}
	if _, ok := msgs[0].(RoomStateMessage); !ok {
		t.Fatalf("expected RoomStateMessage, got %T", msgs[0])
	}

	hub.mu.RLock()
	defer hub.mu.RUnlock()
	testutil.AssertEqual(t, "members", len(hub.members), 1)
	testutil.AssertEqual(t, "circles", len(hub.circles), 1)
}
