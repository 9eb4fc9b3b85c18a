package websocket

import "time"

// Event is one item of the admin live feed
type Event struct {
	Type    string    `json:"type"`
	ChatID  int64     `json:"chat_id,omitempty"`
	Content string    `json:"content,omitempty"`
	At      time.Time `json:"at"`
}

// ControlMessage is sent by feed clients; only "ping" is understood
type ControlMessage struct {
	Type string `json:"type"`
}
