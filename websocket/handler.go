package websocket

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
)

const (
	sendBuffer = 64
	writeWait  = 10 * time.Second
)

// HandleEvents streams hub events to an authenticated admin client until
// either side closes. Authentication happens before the upgrade.
func HandleEvents(c *websocket.Conn, hub *Hub) {
	defer c.Close()

	subject, _ := c.Locals("admin_subject").(string)
	conn := &Connection{
		ID:      uuid.New().String(),
		Subject: subject,
		Conn:    c,
		Send:    make(chan []byte, sendBuffer),
	}
	if !hub.RegisterConnection(conn) {
		return
	}
	log.Printf("📡 Event feed client %s connected (subject=%q)", conn.ID, subject)

	pong := make(chan struct{}, 1)
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for {
			select {
			case message, ok := <-conn.Send:
				_ = c.SetWriteDeadline(time.Now().Add(writeWait))
				if !ok {
					_ = c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					log.Printf("WebSocket write error: %v", err)
					return
				}
			case <-pong:
				_ = c.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.WriteJSON(ControlMessage{Type: "pong"}); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}
		var msg ControlMessage
		if json.Unmarshal(raw, &msg) == nil && msg.Type == "ping" {
			select {
			case pong <- struct{}{}:
			default:
			}
		}
	}

	hub.UnregisterConnection(conn)
	// Unblock the writer if the hub had already shut down
	select {
	case <-writerDone:
	case <-time.After(writeWait):
	}
	log.Printf("📡 Event feed client %s disconnected", conn.ID)
}
