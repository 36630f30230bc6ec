/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"encoding/json"
	"fmt"
)

// Circle is the shared per-player object. Only its position ever changes,
// and only the owning session may change it.
type Circle struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	R     float64 `json:"r"`
	Color string  `json:"color"`
	Owner string  `json:"owner"`
}

// Messages coming from clients
type ClientMessage struct {
	Type string   `json:"type"` // "join_room", "leave_room", "canvas_move"
	Room string   `json:"room"`
	X    *float64 `json:"x,omitempty"` // canvas_move
	Y    *float64 `json:"y,omitempty"` // canvas_move
}

// decodeClientMessage parses and validates one inbound frame. Anything
// outside the closed set of message types, or missing a required field,
// is rejected rather than trusted.
func decodeClientMessage(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientMessage{}, fmt.Errorf("malformed message: %w", err)
	}

	switch msg.Type {
	case "join_room", "leave_room":
		if msg.Room == "" {
			return ClientMessage{}, fmt.Errorf("%s: missing room", msg.Type)
		}
	case "canvas_move":
		if msg.Room == "" {
			return ClientMessage{}, fmt.Errorf("%s: missing room", msg.Type)
		}
		if msg.X == nil || msg.Y == nil {
			return ClientMessage{}, fmt.Errorf("%s: missing coordinates", msg.Type)
		}
	default:
		return ClientMessage{}, fmt.Errorf("unknown message type %q", msg.Type)
	}

	return msg, nil
}

// Messages sent to clients

// RoomStateMessage is the full snapshot sent to a session when it joins.
type RoomStateMessage struct {
	Type    string            `json:"type"` // "room_state"
	Circles map[string]Circle `json:"circles"`
}

// CirclesUpdateMessage is a full snapshot broadcast for resynchronization.
type CirclesUpdateMessage struct {
	Type    string            `json:"type"` // "circles_update"
	Circles map[string]Circle `json:"circles"`
}

// CircleMovedMessage is the incremental position update fanned out to every
// member except the originator.
type CircleMovedMessage struct {
	Type string  `json:"type"` // "circle_moved"
	SID  string  `json:"sid"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// PlayerListMessage carries the updated member list on joins and leaves.
type PlayerListMessage struct {
	Type    string   `json:"type"` // "player_joined" or "player_left"
	Players []string `json:"players"`
}

// ErrorMessage reports a protocol-level failure to one client.
type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}

// decodeServerMessage parses one server frame into its typed form. Client
// engines use this so unknown or malformed frames fail loudly instead of
// poisoning the cache.
func decodeServerMessage(data []byte) (any, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}

	switch probe.Type {
	case "room_state":
		var msg RoomStateMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case "circles_update":
		var msg CirclesUpdateMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case "circle_moved":
		var msg CircleMovedMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case "player_joined", "player_left":
		var msg PlayerListMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case "error":
		var msg ErrorMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("unknown message type %q", probe.Type)
	}
}
