/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	_ "embed"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one websocket connection attached to a room hub. The session id
// is server-assigned per connection and is the sole key for ownership
// checks; the display name is only a label.
type Client struct {
	conn *websocket.Conn
	send chan any
	sid  string
	name string
}

const nameCookie = "chess_socket_name"

// displayName resolves the label for this connection. Assigning real names
// is the job of an external auth layer; at this boundary we accept its
// cookie, allow a ?name= override, and otherwise mint a placeholder.
func displayName(w http.ResponseWriter, r *http.Request, sid string) string {
	if name := strings.TrimSpace(r.URL.Query().Get("name")); name != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     nameCookie,
			Value:    name,
			Path:     "/",
			SameSite: http.SameSiteLaxMode,
		})
		return name
	}

	if c, err := r.Cookie(nameCookie); err == nil && c.Value != "" {
		return c.Value
	}

	return "player-" + sid[:8]
}

// serveWS upgrades the connection and attaches it to the room named in the
// path. Room membership itself only begins once the client sends join_room.
func serveWS(cfg *Config, reg *Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID := ps.ByName("roomid")
		if roomID == "" {
			http.Error(w, "missing room id", http.StatusBadRequest)
			return
		}

		hub, err := reg.GetRoom(roomID)
		if err != nil {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}

		sid := uuid.New().String()
		name := displayName(w, r, sid)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			conn: conn,
			send: make(chan any, 32),
			sid:  sid,
			name: name,
		}

		select {
		case hub.register <- client:
		case <-hub.done:
			conn.Close()
			return
		}

		go client.writePump()
		client.readPump(cfg, hub)
	}
}

func (c *Client) readPump(cfg *Config, h *Hub) {
	defer func() {
		select {
		case h.unreg <- c:
		case <-h.done:
		}
		_ = c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		msg, err := decodeClientMessage(data)
		if err != nil {
			c.reply(h, ErrorMessage{Type: "error", Message: err.Error()})
			continue
		}

		if msg.Room != h.id {
			c.reply(h, ErrorMessage{Type: "error", Message: "room not found"})
			continue
		}

		switch msg.Type {
		case "join_room":
			select {
			case h.joins <- c:
			case <-h.done:
				return
			}
		case "leave_room":
			select {
			case h.leaves <- c:
			case <-h.done:
				return
			}
		case "canvas_move":
			select {
			case h.moves <- moveRequest{client: c, x: *msg.X, y: *msg.Y}:
			case <-h.done:
				return
			}
		}
	}
}

// reply queues a message for this client without waiting on the hub loop.
// The hub lock guarantees the send channel is still open; dropping the
// message is fine, the channel only fills when the peer is already dead.
func (c *Client) reply(h *Hub, msg any) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.clients[c] {
		return
	}

	select {
	case c.send <- msg:
	default:
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// QR handler: generates a PNG QR code for the current room URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	roomID := ps.ByName("roomid")
	if roomID == "" {
		http.Error(w, "missing room id", http.StatusBadRequest)
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /room/:roomid/qr; strip trailing "/qr" to get the room URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// ---- Static file paths ----

//go:embed room/index.html
var roomHTML []byte

//go:embed room/app.css
var roomCSS []byte

//go:embed room/app.js
var roomJS []byte

func staticHandler(cfg *Config, contentType string, data []byte) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(data)
	}
}

// registerCanvas sets up routes so that:
//   - /room/:roomid       → HTML canvas client
//   - /room/:roomid/ws    → WebSocket for that room
//   - /room/:roomid/qr    → PNG QR code for that room URL
func registerCanvas(cfg *Config, reg *Registry, mux *httprouter.Router) {
	mux.GET(cfg.prefix+"/room/:roomid", staticHandler(cfg, "text/html; charset=utf-8", roomHTML))

	mux.GET(cfg.prefix+"/assets/room/app.css", staticHandler(cfg, "text/css; charset=utf-8", roomCSS))
	mux.GET(cfg.prefix+"/assets/room/app.js", staticHandler(cfg, "text/javascript; charset=utf-8", roomJS))

	mux.GET(cfg.prefix+"/room/:roomid/ws", serveWS(cfg, reg))

	mux.GET(cfg.prefix+"/room/:roomid/qr", qrHandler)
}
