package domain

import "time"

// MessageType tags the payload carried by a message.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeVideo MessageType = "video"
	MessageTypeAudio MessageType = "audio"
	MessageTypeFile  MessageType = "file"
)

// MessageTypes lists every accepted message type.
var MessageTypes = []MessageType{
	MessageTypeText,
	MessageTypeImage,
	MessageTypeVideo,
	MessageTypeAudio,
	MessageTypeFile,
}

// IsMedia reports whether the type carries a media reference instead of text.
func (t MessageType) IsMedia() bool {
	switch t {
	case MessageTypeImage, MessageTypeVideo, MessageTypeAudio, MessageTypeFile:
		return true
	}
	return false
}

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	return t == MessageTypeText || t.IsMedia()
}

// Message is immutable once persisted.
type Message struct {
	ID        string         `json:"id"`
	ChatID    string         `json:"chatId"`
	SenderID  string         `json:"senderId"`
	Content   string         `json:"content"`
	Type      MessageType    `json:"type"`
	MediaURL  *string        `json:"mediaUrl,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// NewMessage is the validated input handed to the store.
type NewMessage struct {
	ChatID   string
	SenderID string
	Content  string
	Type     MessageType
	MediaURL *string
	Metadata map[string]any
}

// Validate checks the payload shape shared by every store implementation.
func (m NewMessage) Validate() error {
	if m.ChatID == "" {
		return NewValidationError("chatId", "is required")
	}
	if m.SenderID == "" {
		return NewValidationError("senderId", "is required")
	}
	if !m.Type.Valid() {
		return NewValidationError("type", "must be one of text, image, video, audio, file")
	}
	if m.Type == MessageTypeText && m.Content == "" {
		return NewValidationError("content", "must not be empty for text messages")
	}
	if m.Type.IsMedia() && (m.MediaURL == nil || *m.MediaURL == "") {
		return NewValidationError("mediaUrl", "is required for media messages")
	}
	return nil
}
