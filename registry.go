/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RoomSummary is one entry of the room directory listing.
type RoomSummary struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Players int    `json:"players"`
}

// Registry owns the set of rooms. Room creation and lookup happen here;
// all mutation of a room's members and circles is serialized inside that
// room's hub goroutine.
type Registry struct {
	mu       sync.RWMutex
	cfg      *Config
	rooms    map[string]*Hub
	watchers map[chan struct{}]bool

	stop chan struct{}
}

func newRegistry(cfg *Config) *Registry {
	reg := &Registry{
		cfg:      cfg,
		rooms:    make(map[string]*Hub),
		watchers: make(map[chan struct{}]bool),
		stop:     make(chan struct{}),
	}
	if cfg.roomGrace > 0 {
		go reg.reaperLoop()
	}
	return reg
}

// CreateRoom allocates a room with a fresh id and starts its hub.
func (reg *Registry) CreateRoom(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrInvalidName
	}

	id := uuid.New().String()
	hub := newHub(reg, id, name)

	reg.mu.Lock()
	reg.rooms[id] = hub
	reg.mu.Unlock()

	go hub.run(reg.cfg)

	logf(reg.cfg, "ROOMS: Created room %q (%s)", name, id)
	reg.notifyWatchers()

	return id, nil
}

// GetRoom returns the hub for id, or ErrRoomNotFound.
func (reg *Registry) GetRoom(id string) (*Hub, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	hub, ok := reg.rooms[id]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return hub, nil
}

// Rooms yields a summary per room. The sequence is lazy and restartable;
// it snapshots the hub set up front so iteration never holds the registry
// lock while callers do work.
func (reg *Registry) Rooms() iter.Seq[RoomSummary] {
	return func(yield func(RoomSummary) bool) {
		reg.mu.RLock()
		hubs := make([]*Hub, 0, len(reg.rooms))
		for _, hub := range reg.rooms {
			hubs = append(hubs, hub)
		}
		reg.mu.RUnlock()

		for _, hub := range hubs {
			if !yield(hub.summary()) {
				return
			}
		}
	}
}

// Watch registers a channel that receives a tick whenever the room set or
// any room's member count changes. Push-based replacement for directory
// polling.
func (reg *Registry) Watch() chan struct{} {
	ch := make(chan struct{}, 1)

	reg.mu.Lock()
	reg.watchers[ch] = true
	reg.mu.Unlock()

	return ch
}

func (reg *Registry) Unwatch(ch chan struct{}) {
	reg.mu.Lock()
	delete(reg.watchers, ch)
	reg.mu.Unlock()
}

func (reg *Registry) notifyWatchers() {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	for ch := range reg.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// reaperLoop tears down rooms that have been memberless longer than the
// grace period. The grace window tolerates transient reconnects.
func (reg *Registry) reaperLoop() {
	interval := reg.cfg.roomGrace / 2
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-reg.stop:
			return
		case <-ticker.C:
		}

		cutoff := time.Now().Add(-reg.cfg.roomGrace)
		var reaped []*Hub

		reg.mu.Lock()
		for id, hub := range reg.rooms {
			hub.mu.RLock()
			empty := len(hub.members) == 0 && hub.emptySince.Before(cutoff)
			hub.mu.RUnlock()

			if empty {
				delete(reg.rooms, id)
				reaped = append(reaped, hub)
			}
		}
		reg.mu.Unlock()

		for _, hub := range reaped {
			logf(reg.cfg, "ROOMS: Reaped empty room %q (%s)", hub.name, hub.id)
			go hub.shutdown()
		}

		if len(reaped) > 0 {
			reg.notifyWatchers()
		}
	}
}

func (reg *Registry) close() {
	close(reg.stop)
}
