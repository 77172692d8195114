package domain

import "time"

// User is a person who can join chats and send messages.
type User struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName"`
	AvatarURL   *string   `json:"avatarUrl,omitempty"`
	Status      *string   `json:"status,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// NewUser is the input for creating a user. An empty ID is assigned by the store.
type NewUser struct {
	ID          string  `json:"id,omitempty"`
	Username    string  `json:"username" validate:"required,min=2,max=64"`
	DisplayName string  `json:"displayName" validate:"max=128"`
	AvatarURL   *string `json:"avatarUrl,omitempty" validate:"omitempty,url"`
	Status      *string `json:"status,omitempty" validate:"omitempty,max=140"`
}

// Validate checks the invariants every store relies on.
func (u NewUser) Validate() error {
	if u.Username == "" {
		return NewValidationError("username", "is required")
	}
	return nil
}
