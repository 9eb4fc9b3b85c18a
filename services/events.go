package services

// Event types published to the admin feed
const (
	EventFileSaved         = "file.saved"
	EventFilterMatched     = "filter.matched"
	EventChatSeen          = "chat.seen"
	EventBroadcastStarted  = "broadcast.started"
	EventBroadcastProgress = "broadcast.progress"
	EventBroadcastFinished = "broadcast.finished"
)

// Publisher receives bot activity for live observers
type Publisher interface {
	Publish(eventType string, chatID int64, content string)
}

// NopPublisher discards events
type NopPublisher struct{}

// Publish implements Publisher
func (NopPublisher) Publish(string, int64, string) {}
