package topics

import (
	"time"

	"github.com/nfrund/relay/internal/pubsub"
)

// MessageCreated is published after a message is persisted and dispatched.
type MessageCreated struct {
	MessageID string    `json:"messageId"`
	ChatID    string    `json:"chatId"`
	SenderID  string    `json:"senderId"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"createdAt"`
	Online    int       `json:"online"`
	Delivered int       `json:"delivered"`
}

// ChatCreated is published after a chat is created.
type ChatCreated struct {
	ChatID    string   `json:"chatId"`
	Type      string   `json:"type"`
	MemberIDs []string `json:"memberIds"`
}

var (
	// TopicMessageCreated announces a persisted message.
	TopicMessageCreated = pubsub.NewEvent[MessageCreated]("chat.message.created",
		"Published after a message is persisted and pushed to online members")

	// TopicChatCreated announces a new chat.
	TopicChatCreated = pubsub.NewEvent[ChatCreated]("chat.chat.created",
		"Published after a chat and its memberships are created")
)
