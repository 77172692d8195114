package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nfrund/relay/internal/domain"
	"github.com/samber/lo"
)

// Fixed ids of the demo data so seeding is repeatable.
const (
	SeedGroupChatID  = "general-community"
	SeedDirectChatID = "dm-demo-user-alice"
)

type seedUser struct {
	id          string
	username    string
	displayName string
}

var seedUsers = []seedUser{
	{id: "demo-user", username: "demo", displayName: "Demo User"},
	{id: "alice", username: "alice", displayName: "Alice Wonderland"},
	{id: "bob", username: "bob", displayName: "Bob Builder"},
	{id: "charlie", username: "charlie", displayName: "Charlie Chocolate"},
}

// SeedReport counts what Seed created.
type SeedReport struct {
	Users    int
	Chats    int
	Messages int
}

// Seed loads the demo users and chats. Records that already exist are left alone.
func Seed(ctx context.Context, store domain.Store) (SeedReport, error) {
	var report SeedReport

	for _, u := range seedUsers {
		created, err := ensureUser(ctx, store, u)
		if err != nil {
			return report, err
		}
		if created {
			report.Users++
		}
	}

	everyone := lo.Map(seedUsers, func(u seedUser, _ int) string { return u.id })
	chats := []struct {
		chat     domain.NewChat
		messages []domain.NewMessage
	}{
		{
			chat: domain.NewChat{
				ID:        SeedGroupChatID,
				Type:      domain.ChatTypeGroup,
				Name:      lo.ToPtr("General Community"),
				IconURL:   lo.ToPtr("https://api.dicebear.com/7.x/initials/svg?seed=GC"),
				CreatedBy: lo.ToPtr("alice"),
				MemberIDs: everyone,
			},
			messages: []domain.NewMessage{
				{SenderID: "alice", Content: "Welcome to the community!"},
				{SenderID: "bob", Content: "Hey everyone! This looks great."},
			},
		},
		{
			chat: domain.NewChat{
				ID:        SeedDirectChatID,
				Type:      domain.ChatTypeDM,
				CreatedBy: lo.ToPtr("demo-user"),
				MemberIDs: []string{"demo-user", "alice"},
			},
			messages: []domain.NewMessage{
				{SenderID: "alice", Content: "Hi! Send me a message to try it out."},
			},
		},
	}

	for _, c := range chats {
		_, err := store.GetChat(ctx, c.chat.ID)
		if err == nil {
			continue
		}
		if !isNotFound(err) {
			return report, fmt.Errorf("look up chat %s: %w", c.chat.ID, err)
		}
		if _, err := store.CreateChat(ctx, c.chat); err != nil {
			return report, fmt.Errorf("create chat %s: %w", c.chat.ID, err)
		}
		report.Chats++

		for _, m := range c.messages {
			m.ChatID = c.chat.ID
			m.Type = domain.MessageTypeText
			if _, err := store.PersistMessage(ctx, m); err != nil {
				return report, fmt.Errorf("seed message in %s: %w", c.chat.ID, err)
			}
			report.Messages++
		}
	}

	slog.Info("Seeding complete", "users", report.Users, "chats", report.Chats, "messages", report.Messages)
	return report, nil
}

func ensureUser(ctx context.Context, store domain.Store, u seedUser) (bool, error) {
	_, err := store.GetUser(ctx, u.id)
	if err == nil {
		return false, nil
	}
	if !isNotFound(err) {
		return false, fmt.Errorf("look up user %s: %w", u.id, err)
	}
	_, err = store.CreateUser(ctx, domain.NewUser{
		ID:          u.id,
		Username:    u.username,
		DisplayName: u.displayName,
		AvatarURL:   lo.ToPtr("https://api.dicebear.com/7.x/avataaars/svg?seed=" + u.username),
	})
	if err != nil {
		return false, fmt.Errorf("create user %s: %w", u.id, err)
	}
	return true, nil
}

func isNotFound(err error) bool { return errors.Is(err, domain.ErrNotFound) }
