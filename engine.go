/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

// Client sync engine: the Go mirror of the browser canvas client.
//
// An Engine keeps a local cache of the room's circles, runs the
// Idle/Dragging pointer state machine, applies optimistic writes while the
// local circle is being dragged, and reconciles authoritative server
// messages into the cache. It is deliberately headless; a Renderer is
// repainted after every cache change so bots and tests can observe exactly
// what a canvas would show.
//
// An Engine is not safe for concurrent use. Session wraps one in a single
// run-loop goroutine that interleaves pointer events and incoming network
// messages in a well-defined order, the same way the browser's event loop
// does.

package main

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/gorilla/websocket"
)

// Renderer repaints the full circle set. Draw must treat the map as
// read-only and may be called at any time after any cache mutation.
type Renderer interface {
	Draw(circles map[string]Circle)
}

// RendererFunc adapts a function to the Renderer interface.
type RendererFunc func(circles map[string]Circle)

func (f RendererFunc) Draw(circles map[string]Circle) { f(circles) }

// Engine is the client-side state machine for one room session.
type Engine struct {
	name     string
	renderer Renderer
	emit     func(x, y float64)

	circles map[string]Circle
	players []string

	dragging bool
	dragSID  string
	offsetX  float64
	offsetY  float64

	left bool
}

func NewEngine(name string, renderer Renderer, emit func(x, y float64)) *Engine {
	return &Engine{
		name:     name,
		renderer: renderer,
		emit:     emit,
		circles:  make(map[string]Circle),
	}
}

// Apply reconciles one authoritative server message into the cache.
func (e *Engine) Apply(msg any) {
	if e.left {
		return
	}

	switch m := msg.(type) {
	case RoomStateMessage:
		e.replaceCache(m.Circles)
	case CirclesUpdateMessage:
		e.replaceCache(m.Circles)
	case CircleMovedMessage:
		if e.dragging && m.SID == e.dragSID {
			return
		}
		circle, ok := e.circles[m.SID]
		if !ok {
			return
		}
		circle.X = m.X
		circle.Y = m.Y
		e.circles[m.SID] = circle
		e.redraw()
	case PlayerListMessage:
		e.players = m.Players
	}
}

// replaceCache swaps in a full snapshot. The one exception to wholesale
// replacement: a drag in progress keeps its optimistic position for the
// locally owned circle.
func (e *Engine) replaceCache(circles map[string]Circle) {
	var held Circle
	var holding bool
	if e.dragging {
		held, holding = e.circles[e.dragSID]
	}

	e.circles = make(map[string]Circle, len(circles))
	for sid, circle := range circles {
		e.circles[sid] = circle
	}

	if holding {
		if circle, ok := e.circles[e.dragSID]; ok {
			circle.X = held.X
			circle.Y = held.Y
			e.circles[e.dragSID] = circle
		} else {
			// Our circle left the snapshot; the server has dropped us.
			e.dragging = false
			e.dragSID = ""
		}
	}

	e.redraw()
}

// PointerDown starts a drag when the press hits the locally owned circle.
// Presses over others' circles or empty canvas stay in view-only Idle.
func (e *Engine) PointerDown(x, y float64) {
	if e.left || e.dragging {
		return
	}

	for sid, circle := range e.circles {
		dx := x - circle.X
		dy := y - circle.Y
		if math.Hypot(dx, dy) > circle.R {
			continue
		}
		if circle.Owner != e.name {
			return
		}
		e.dragging = true
		e.dragSID = sid
		e.offsetX = dx
		e.offsetY = dy
		return
	}
}

// PointerMove applies the optimistic local update and emits the move
// request, using the grab offset captured at press.
func (e *Engine) PointerMove(x, y float64) {
	if e.left || !e.dragging {
		return
	}

	circle, ok := e.circles[e.dragSID]
	if !ok {
		e.dragging = false
		return
	}

	circle.X = x - e.offsetX
	circle.Y = y - e.offsetY
	e.circles[e.dragSID] = circle
	e.redraw()

	if e.emit != nil {
		e.emit(circle.X, circle.Y)
	}
}

// PointerUp ends the drag. The last emitted position stands; the server
// will confirm it through a later snapshot if any move was lost.
func (e *Engine) PointerUp() {
	e.dragging = false
	e.dragSID = ""
}

// PointerCancel is the touch-cancellation path; identical to release.
func (e *Engine) PointerCancel() {
	e.PointerUp()
}

// LeaveRoom forces Idle and stops both emitting moves and applying room
// updates. A fresh Engine (and a fresh snapshot) is needed to rejoin.
func (e *Engine) LeaveRoom() {
	e.PointerUp()
	e.left = true
}

// Dragging reports whether a drag is in progress.
func (e *Engine) Dragging() bool {
	return e.dragging
}

// Players returns the member names from the latest membership notice.
func (e *Engine) Players() []string {
	return e.players
}

// Circles returns a copy of the cache.
func (e *Engine) Circles() map[string]Circle {
	circles := make(map[string]Circle, len(e.circles))
	for sid, circle := range e.circles {
		circles[sid] = circle
	}
	return circles
}

func (e *Engine) redraw() {
	if e.renderer != nil {
		e.renderer.Draw(e.circles)
	}
}

// Session drives an Engine over a live websocket connection. All engine
// access happens on the session's run loop, so callers may use it from any
// goroutine.
type Session struct {
	engine *Engine
	conn   *websocket.Conn
	room   string

	calls     chan func()
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to a room's websocket endpoint, joins the room, and starts
// the run loop. wsURL is the ws:// or wss:// URL of /room/:roomid/ws.
func Dial(ctx context.Context, wsURL, room, name string, renderer Renderer) (*Session, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", wsURL, err)
	}

	s := &Session{
		conn:  conn,
		room:  room,
		calls: make(chan func(), 64),
		done:  make(chan struct{}),
	}

	s.engine = NewEngine(name, renderer, func(x, y float64) {
		_ = conn.WriteJSON(ClientMessage{Type: "canvas_move", Room: room, X: &x, Y: &y})
	})

	if err := conn.WriteJSON(ClientMessage{Type: "join_room", Room: room}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("joining room %s: %w", room, err)
	}

	go s.readLoop()
	go s.runLoop()

	return s, nil
}

func (s *Session) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		msg, err := decodeServerMessage(data)
		if err != nil {
			continue
		}

		select {
		case s.calls <- func() { s.engine.Apply(msg) }:
		case <-s.done:
			return
		}
	}
}

func (s *Session) runLoop() {
	for {
		select {
		case call := <-s.calls:
			call()
		case <-s.done:
			return
		}
	}
}

// do runs fn on the engine's goroutine and waits for it to finish.
func (s *Session) do(fn func()) {
	ready := make(chan struct{})
	select {
	case s.calls <- func() { fn(); close(ready) }:
	case <-s.done:
		return
	}
	select {
	case <-ready:
	case <-s.done:
	}
}

func (s *Session) PointerDown(x, y float64) { s.do(func() { s.engine.PointerDown(x, y) }) }
func (s *Session) PointerMove(x, y float64) { s.do(func() { s.engine.PointerMove(x, y) }) }
func (s *Session) PointerUp()               { s.do(func() { s.engine.PointerUp() }) }
func (s *Session) PointerCancel()           { s.do(func() { s.engine.PointerCancel() }) }

// Circles returns a copy of the engine's cache.
func (s *Session) Circles() map[string]Circle {
	var circles map[string]Circle
	s.do(func() { circles = s.engine.Circles() })
	return circles
}

// Players returns the latest member list the engine has seen.
func (s *Session) Players() []string {
	var players []string
	s.do(func() { players = s.engine.Players() })
	return players
}

// Leave sends leave_room, stops the drag machine, and shuts the session
// down. Rejoining requires a fresh Dial so the cache starts from a clean
// snapshot.
func (s *Session) Leave() {
	s.do(func() {
		s.engine.LeaveRoom()
		_ = s.conn.WriteJSON(ClientMessage{Type: "leave_room", Room: s.room})
	})
	s.Close()
}

// Close tears the connection down without an explicit leave; the server
// treats the disconnect as one.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}
