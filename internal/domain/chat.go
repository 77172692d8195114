package domain

import "time"

// ChatType distinguishes one-to-one conversations from groups.
type ChatType string

const (
	ChatTypeDM    ChatType = "dm"
	ChatTypeGroup ChatType = "group"
)

// Chat is a conversation between two or more users.
type Chat struct {
	ID            string     `json:"id"`
	Type          ChatType   `json:"type"`
	Name          *string    `json:"name,omitempty"`
	IconURL       *string    `json:"iconUrl,omitempty"`
	CreatedBy     *string    `json:"createdBy,omitempty"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// ChatMember links a user to a chat.
type ChatMember struct {
	ChatID   string    `json:"chatId"`
	UserID   string    `json:"userId"`
	JoinedAt time.Time `json:"joinedAt"`
}

// NewChat is the input for creating a chat. MemberIDs must include the creator.
type NewChat struct {
	ID        string   `json:"id,omitempty"`
	Type      ChatType `json:"type"`
	Name      *string  `json:"name,omitempty"`
	IconURL   *string  `json:"iconUrl,omitempty"`
	CreatedBy *string  `json:"createdBy,omitempty"`
	MemberIDs []string `json:"memberIds"`
}

// ActivityAt is the time used to order chats by recent activity.
func (c Chat) ActivityAt() time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	return c.CreatedAt
}

// Valid reports whether t is a known chat type.
func (t ChatType) Valid() bool {
	return t == ChatTypeDM || t == ChatTypeGroup
}

// Validate checks the invariants every store relies on.
func (c NewChat) Validate() error {
	if !c.Type.Valid() {
		return NewValidationError("type", "must be dm or group")
	}
	if len(c.MemberIDs) == 0 {
		return NewValidationError("memberIds", "at least one member is required")
	}
	for _, id := range c.MemberIDs {
		if id == "" {
			return NewValidationError("memberIds", "member ids must not be empty")
		}
	}
	return nil
}
