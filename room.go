/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

// Chess-Socket canvas rooms
//
// Each room is an isolated realtime session. Every member owns exactly one
// circle on a shared canvas; members drag their own circle and watch
// everyone else's move live.
//
// Implementation details:
// - One hub goroutine per room; joins, leaves and moves are applied one at
//   a time in arrival order, so no per-room invariant is ever exposed to
//   unserialized mutation. Different rooms run fully in parallel.
// - The server is the sole authority for circle positions. A move request
//   is honored only when it comes from the session that owns the circle;
//   anything else is discarded without a reply.
// - The member set and the circle map are kept in lockstep: joining creates
//   the circle, leaving (or dropping the connection) removes it. All-or-
//   nothing, no dangling state.
// - Fanout excludes the originator; it already holds the value locally.
// - Periodic full snapshots (circles_update) make lost incremental updates
//   self-healing.

package main

import (
	"sort"
	"sync"
	"time"
)

var circlePalette = []string{
	"#e6194b", "#3cb44b", "#4363d8", "#f58231",
	"#911eb4", "#46f0f0", "#f032e6", "#9a6324",
}

const defaultRadius = 30

type moveRequest struct {
	client *Client
	x, y   float64
}

type Hub struct {
	id   string
	name string

	clients map[*Client]bool   // attached sockets, joined or not
	members map[string]*Client // session id -> joined socket
	circles map[string]Circle  // session id -> circle; keys mirror members

	register chan *Client
	unreg    chan *Client
	joins    chan *Client
	leaves   chan *Client
	moves    chan moveRequest

	done chan struct{}

	mu sync.RWMutex

	reg        *Registry
	createdAt  time.Time
	emptySince time.Time
	spawned    int // circles ever created, staggers spawn positions
}

func newHub(reg *Registry, id, name string) *Hub {
	now := time.Now()
	return &Hub{
		id:         id,
		name:       name,
		clients:    make(map[*Client]bool),
		members:    make(map[string]*Client),
		circles:    make(map[string]Circle),
		register:   make(chan *Client),
		unreg:      make(chan *Client),
		joins:      make(chan *Client),
		leaves:     make(chan *Client),
		moves:      make(chan moveRequest, 64),
		done:       make(chan struct{}),
		reg:        reg,
		createdAt:  now,
		emptySince: now,
	}
}

func (h *Hub) run(cfg *Config) {
	var resync <-chan time.Time
	if cfg.resyncInterval > 0 {
		ticker := time.NewTicker(cfg.resyncInterval)
		defer ticker.Stop()
		resync = ticker.C
	}

	for {
		select {
		case <-h.done:
			h.closeAll()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unreg:
			h.handleLeave(cfg, c)

			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case c := <-h.joins:
			h.handleJoin(cfg, c)

		case c := <-h.leaves:
			h.handleLeave(cfg, c)

		case mr := <-h.moves:
			h.handleMove(cfg, mr)

		case <-resync:
			h.mu.Lock()
			if len(h.members) > 0 {
				h.broadcastLocked(CirclesUpdateMessage{
					Type:    "circles_update",
					Circles: h.snapshotLocked(),
				}, nil)
			}
			h.mu.Unlock()
		}
	}
}

// handleJoin makes c a member and gives it a circle. Joining twice is
// idempotent beyond resending the snapshot.
func (h *Hub) handleJoin(cfg *Config, c *Client) {
	h.mu.Lock()

	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}

	if existing, ok := h.members[c.sid]; ok && existing == c {
		h.sendLocked(c, RoomStateMessage{
			Type:    "room_state",
			Circles: h.snapshotLocked(),
		})
		h.mu.Unlock()
		return
	}

	h.members[c.sid] = c
	h.circles[c.sid] = Circle{
		X:     float64(80 + 70*(h.spawned%8)),
		Y:     float64(80 + 70*((h.spawned/8)%5)),
		R:     defaultRadius,
		Color: circlePalette[h.spawned%len(circlePalette)],
		Owner: c.name,
	}
	h.spawned++
	h.emptySince = time.Time{}

	logf(cfg, "ROOMS: %q joined room %q (%s)", c.name, h.name, h.id)

	h.sendLocked(c, RoomStateMessage{
		Type:    "room_state",
		Circles: h.snapshotLocked(),
	})

	h.broadcastLocked(PlayerListMessage{
		Type:    "player_joined",
		Players: h.playerNamesLocked(),
	}, c)

	h.mu.Unlock()

	h.reg.notifyWatchers()
}

// handleLeave removes c's membership and circle. A leave from a session
// that never joined is a no-op; disconnects funnel through here so there
// is no special dangling-entity state.
func (h *Hub) handleLeave(cfg *Config, c *Client) {
	h.mu.Lock()

	member, ok := h.members[c.sid]
	if !ok || member != c {
		h.mu.Unlock()
		return
	}

	delete(h.members, c.sid)
	delete(h.circles, c.sid)

	if len(h.members) == 0 {
		h.emptySince = time.Now()
	}

	logf(cfg, "ROOMS: %q left room %q (%s)", c.name, h.name, h.id)

	h.announceLeaveLocked()

	h.mu.Unlock()

	h.reg.notifyWatchers()
}

// handleMove applies an owner's position update and fans it out to every
// other member. Requests from sessions that own nothing here are dropped
// silently; the wire contract deliberately gives an impostor no signal.
func (h *Hub) handleMove(cfg *Config, mr moveRequest) {
	c := mr.client

	h.mu.Lock()
	defer h.mu.Unlock()

	member, ok := h.members[c.sid]
	if !ok || member != c {
		logf(cfg, "ROOMS: Discarded move from non-member %q in room %s", c.name, h.id)
		return
	}

	circle := h.circles[c.sid]
	circle.X = mr.x
	circle.Y = mr.y
	h.circles[c.sid] = circle

	h.broadcastLocked(CircleMovedMessage{
		Type: "circle_moved",
		SID:  c.sid,
		X:    mr.x,
		Y:    mr.y,
	}, c)
}

func (h *Hub) snapshotLocked() map[string]Circle {
	circles := make(map[string]Circle, len(h.circles))
	for sid, circle := range h.circles {
		circles[sid] = circle
	}
	return circles
}

func (h *Hub) playerNamesLocked() []string {
	names := make([]string, 0, len(h.members))
	for _, c := range h.members {
		names = append(names, c.name)
	}
	sort.Strings(names)
	return names
}

// sendLocked queues msg for one client, evicting it if its buffer is full.
func (h *Hub) sendLocked(c *Client, msg any) {
	select {
	case c.send <- msg:
	default:
		if h.dropLocked(c) {
			h.announceLeaveLocked()
		}
	}
}

// broadcastLocked fans msg out to every member except the originator.
// Evicting a slow member is a departure like any other, so the survivors
// hear player_left for it once the fanout completes.
func (h *Hub) broadcastLocked(msg any, except *Client) {
	evicted := false
	for _, c := range h.members {
		if c == except {
			continue
		}
		select {
		case c.send <- msg:
		default:
			if h.dropLocked(c) {
				evicted = true
			}
		}
	}
	if evicted {
		h.announceLeaveLocked()
	}
}

func (h *Hub) announceLeaveLocked() {
	h.broadcastLocked(PlayerListMessage{
		Type:    "player_left",
		Players: h.playerNamesLocked(),
	}, nil)
}

// dropLocked evicts a slow or dead client. Its membership and circle go
// with it so the member/circle invariant holds. Reports whether a member
// entry was removed.
func (h *Hub) dropLocked(c *Client) bool {
	if _, ok := h.clients[c]; !ok {
		return false
	}
	delete(h.clients, c)
	close(c.send)

	member, ok := h.members[c.sid]
	if !ok || member != c {
		return false
	}

	delete(h.members, c.sid)
	delete(h.circles, c.sid)
	if len(h.members) == 0 {
		h.emptySince = time.Now()
	}
	return true
}

func (h *Hub) summary() RoomSummary {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return RoomSummary{
		ID:      h.id,
		Name:    h.name,
		Players: len(h.members),
	}
}

// shutdown stops the run loop, which disconnects any lingering clients.
func (h *Hub) shutdown() {
	close(h.done)
}

// closeAll disconnects all clients of this hub (used by the reaper).
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		close(c.send)
		if c.conn != nil {
			_ = c.conn.Close()
		}
		delete(h.clients, c)
	}
	h.members = make(map[string]*Client)
	h.circles = make(map[string]Circle)
}
