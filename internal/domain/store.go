package domain

import "context"

// MessageStore is the narrow gateway the delivery core depends on.
// PersistMessage must make the message visible to ChatMessages before it returns.
// ChatMembers returns an empty slice and no error for an unknown chat.
type MessageStore interface {
	PersistMessage(ctx context.Context, msg NewMessage) (*Message, error)
	ChatMembers(ctx context.Context, chatID string) ([]string, error)
	ChatMessages(ctx context.Context, chatID string) ([]Message, error)
}

// ChatStore covers chat creation and lookup.
type ChatStore interface {
	CreateChat(ctx context.Context, chat NewChat) (*Chat, error)
	GetChat(ctx context.Context, chatID string) (*Chat, error)
	UserChats(ctx context.Context, userID string) ([]Chat, error)
}

// UserStore covers user creation and lookup.
type UserStore interface {
	CreateUser(ctx context.Context, user NewUser) (*User, error)
	GetUser(ctx context.Context, userID string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
}

// Store is the full persistence contract implemented by every backend.
type Store interface {
	MessageStore
	ChatStore
	UserStore
	Close() error
}
