/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	_ "embed"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
)

type createRoomRequest struct {
	Name string `json:"name"`
}

type createRoomResponse struct {
	OK     bool   `json:"ok"`
	RoomID string `json:"roomId,omitempty"`
	Error  string `json:"error,omitempty"`
}

type listRoomsResponse struct {
	OK    bool          `json:"ok"`
	Rooms []RoomSummary `json:"rooms"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func serveCreateRoom(cfg *Config, reg *Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		securityHeaders(cfg, w)

		var req createRoomRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, createRoomResponse{OK: false, Error: "malformed request body"})
			return
		}

		id, err := reg.CreateRoom(req.Name)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, ErrInvalidName) {
				status = http.StatusBadRequest
			}
			writeJSON(w, status, createRoomResponse{OK: false, Error: err.Error()})
			return
		}

		writeJSON(w, http.StatusOK, createRoomResponse{OK: true, RoomID: id})
	}
}

func roomList(reg *Registry) []RoomSummary {
	rooms := make([]RoomSummary, 0)
	for summary := range reg.Rooms() {
		rooms = append(rooms, summary)
	}
	return rooms
}

func serveListRooms(cfg *Config, reg *Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		securityHeaders(cfg, w)
		writeJSON(w, http.StatusOK, listRoomsResponse{OK: true, Rooms: roomList(reg)})
	}
}

// serveDirectoryWS pushes the full room list on every directory change, so
// dashboards subscribe instead of polling on an interval.
func serveDirectoryWS(cfg *Config, reg *Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		changes := reg.Watch()
		defer reg.Unwatch(changes)

		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		defer conn.Close()

		for {
			if err := conn.WriteJSON(listRoomsResponse{OK: true, Rooms: roomList(reg)}); err != nil {
				return
			}

			select {
			case <-changes:
			case <-closed:
				return
			}
		}
	}
}

//go:embed dashboard/index.html
var dashboardHTML []byte

//go:embed dashboard/app.css
var dashboardCSS []byte

//go:embed dashboard/app.js
var dashboardJS []byte

func serveDashboard(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(dashboardHTML)
	}
}

// registerDirectory sets up the dashboard page and the room directory API:
//   - /                → dashboard (create/list/join rooms)
//   - POST /api/rooms  → create room
//   - GET  /api/rooms  → list rooms
//   - /api/rooms/ws    → push-based room list subscription
func registerDirectory(cfg *Config, reg *Registry, mux *httprouter.Router) {
	mux.GET(cfg.prefix+"/", serveDashboard(cfg))

	mux.GET(cfg.prefix+"/assets/dashboard/app.css", staticHandler(cfg, "text/css; charset=utf-8", dashboardCSS))
	mux.GET(cfg.prefix+"/assets/dashboard/app.js", staticHandler(cfg, "text/javascript; charset=utf-8", dashboardJS))

	mux.POST(cfg.prefix+"/api/rooms", serveCreateRoom(cfg, reg))
	mux.GET(cfg.prefix+"/api/rooms", serveListRooms(cfg, reg))
	mux.GET(cfg.prefix+"/api/rooms/ws", serveDirectoryWS(cfg, reg))
}
