// Package storetest holds the behaviour every domain.Store backend must share.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nfrund/relay/internal/domain"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory opens an empty store for one test. The store is closed by the suite.
type Factory func(t *testing.T) domain.Store

// Run executes the contract suite against stores produced by open.
func Run(t *testing.T, open Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s domain.Store)
	}{
		{"CreateAndGetUser", testCreateAndGetUser},
		{"DuplicateUsername", testDuplicateUsername},
		{"MissingUser", testMissingUser},
		{"ListUsers", testListUsers},
		{"CreateChat", testCreateChat},
		{"CreateChatValidation", testCreateChatValidation},
		{"MissingChat", testMissingChat},
		{"ChatMembersUnknownChat", testChatMembersUnknownChat},
		{"PersistMessage", testPersistMessage},
		{"PersistMessageUnknownChat", testPersistMessageUnknownChat},
		{"PersistMessageValidation", testPersistMessageValidation},
		{"ChatMessagesOrdered", testChatMessagesOrdered},
		{"ConcurrentPersist", testConcurrentPersist},
		{"UserChatsByActivity", testUserChatsByActivity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := open(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func unique(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString()[:8])
}

func mustUser(t *testing.T, s domain.Store, username string) *domain.User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), domain.NewUser{Username: username, DisplayName: username})
	require.NoError(t, err)
	return u
}

func mustChat(t *testing.T, s domain.Store, typ domain.ChatType, members ...string) *domain.Chat {
	t.Helper()
	c, err := s.CreateChat(context.Background(), domain.NewChat{
		Type:      typ,
		Name:      lo.Ternary(typ == domain.ChatTypeGroup, lo.ToPtr("group"), nil),
		CreatedBy: lo.ToPtr(members[0]),
		MemberIDs: members,
	})
	require.NoError(t, err)
	return c
}

func mustSend(t *testing.T, s domain.Store, chatID, senderID, content string) *domain.Message {
	t.Helper()
	m, err := s.PersistMessage(context.Background(), domain.NewMessage{
		ChatID:   chatID,
		SenderID: senderID,
		Content:  content,
		Type:     domain.MessageTypeText,
	})
	require.NoError(t, err)
	return m
}

func testCreateAndGetUser(t *testing.T, s domain.Store) {
	ctx := context.Background()
	avatar := "https://example.com/a.png"
	name := unique("alice")

	created, err := s.CreateUser(ctx, domain.NewUser{Username: name, DisplayName: "Alice", AvatarURL: &avatar})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.False(t, created.CreatedAt.IsZero())

	got, err := s.GetUser(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, name, got.Username)
	assert.Equal(t, "Alice", got.DisplayName)
	require.NotNil(t, got.AvatarURL)
	assert.Equal(t, avatar, *got.AvatarURL)
	assert.Nil(t, got.Status)

	byName, err := s.GetUserByUsername(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, created.ID, byName.ID)

	withID, err := s.CreateUser(ctx, domain.NewUser{ID: unique("fixed"), Username: unique("bob")})
	require.NoError(t, err)
	assert.Contains(t, withID.ID, "fixed-")
}

func testDuplicateUsername(t *testing.T, s domain.Store) {
	name := unique("dup")
	mustUser(t, s, name)

	_, err := s.CreateUser(context.Background(), domain.NewUser{Username: name})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = s.CreateUser(context.Background(), domain.NewUser{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func testMissingUser(t *testing.T, s domain.Store) {
	_, err := s.GetUser(context.Background(), "nobody")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.GetUserByUsername(context.Background(), "nobody")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testListUsers(t *testing.T, s domain.Store) {
	names := []string{unique("c"), unique("a"), unique("b")}
	for _, n := range names {
		mustUser(t, s, n)
	}

	users, err := s.ListUsers(context.Background())
	require.NoError(t, err)

	got := lo.Map(users, func(u domain.User, _ int) string { return u.Username })
	for _, n := range names {
		assert.Contains(t, got, n)
	}
	assert.IsNonDecreasing(t, got, "users are listed by username")
}

func testCreateChat(t *testing.T, s domain.Store) {
	ctx := context.Background()
	a, b := unique("a"), unique("b")

	chat, err := s.CreateChat(ctx, domain.NewChat{
		Type:      domain.ChatTypeDM,
		CreatedBy: &a,
		MemberIDs: []string{a, b, a},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, chat.ID)
	assert.Equal(t, domain.ChatTypeDM, chat.Type)
	assert.Nil(t, chat.LastMessageAt)

	got, err := s.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, chat.ID, got.ID)
	require.NotNil(t, got.CreatedBy)
	assert.Equal(t, a, *got.CreatedBy)

	members, err := s.ChatMembers(ctx, chat.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a, b}, members, "duplicate member ids collapse")
}

func testCreateChatValidation(t *testing.T, s domain.Store) {
	_, err := s.CreateChat(context.Background(), domain.NewChat{Type: "channel", MemberIDs: []string{"a"}})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = s.CreateChat(context.Background(), domain.NewChat{Type: domain.ChatTypeGroup})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func testMissingChat(t *testing.T, s domain.Store) {
	_, err := s.GetChat(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	var nf *domain.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "chat", nf.Resource)
}

func testChatMembersUnknownChat(t *testing.T, s domain.Store) {
	members, err := s.ChatMembers(context.Background(), "missing")
	require.NoError(t, err)
	assert.NotNil(t, members)
	assert.Empty(t, members)

	messages, err := s.ChatMessages(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func testPersistMessage(t *testing.T, s domain.Store) {
	ctx := context.Background()
	a, b := unique("a"), unique("b")
	chat := mustChat(t, s, domain.ChatTypeDM, a, b)

	before := time.Now().Add(-time.Second)
	media := "https://example.com/doc.pdf"
	msg, err := s.PersistMessage(ctx, domain.NewMessage{
		ChatID:   chat.ID,
		SenderID: a,
		Content:  "report",
		Type:     domain.MessageTypeFile,
		MediaURL: &media,
		Metadata: map[string]any{"filename": "doc.pdf"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.True(t, msg.CreatedAt.After(before))

	messages, err := s.ChatMessages(ctx, chat.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1, "persisted messages are readable immediately")
	got := messages[0]
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, a, got.SenderID)
	assert.Equal(t, domain.MessageTypeFile, got.Type)
	require.NotNil(t, got.MediaURL)
	assert.Equal(t, media, *got.MediaURL)
	assert.Equal(t, "doc.pdf", got.Metadata["filename"])
	assert.WithinDuration(t, msg.CreatedAt, got.CreatedAt, time.Millisecond)

	updated, err := s.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.LastMessageAt, "persisting touches the chat")
	assert.WithinDuration(t, msg.CreatedAt, *updated.LastMessageAt, time.Millisecond)
}

func testPersistMessageUnknownChat(t *testing.T, s domain.Store) {
	_, err := s.PersistMessage(context.Background(), domain.NewMessage{
		ChatID:   "missing",
		SenderID: "a",
		Content:  "hi",
		Type:     domain.MessageTypeText,
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testPersistMessageValidation(t *testing.T, s domain.Store) {
	a := unique("a")
	chat := mustChat(t, s, domain.ChatTypeGroup, a)

	_, err := s.PersistMessage(context.Background(), domain.NewMessage{
		ChatID:   chat.ID,
		SenderID: a,
		Type:     domain.MessageTypeText,
	})
	assert.ErrorIs(t, err, domain.ErrValidation)

	messages, err := s.ChatMessages(context.Background(), chat.ID)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func testChatMessagesOrdered(t *testing.T, s domain.Store) {
	a, b := unique("a"), unique("b")
	chat := mustChat(t, s, domain.ChatTypeDM, a, b)
	other := mustChat(t, s, domain.ChatTypeDM, a, unique("c"))

	var want []string
	for i := 0; i < 10; i++ {
		sender := lo.Ternary(i%2 == 0, a, b)
		want = append(want, mustSend(t, s, chat.ID, sender, fmt.Sprintf("m%d", i)).ID)
	}
	mustSend(t, s, other.ID, a, "elsewhere")

	messages, err := s.ChatMessages(context.Background(), chat.ID)
	require.NoError(t, err)
	assert.Equal(t, want, lo.Map(messages, func(m domain.Message, _ int) string { return m.ID }))
}

func testConcurrentPersist(t *testing.T, s domain.Store) {
	a, b := unique("a"), unique("b")
	chat := mustChat(t, s, domain.ChatTypeDM, a, b)

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.PersistMessage(context.Background(), domain.NewMessage{
				ChatID:   chat.ID,
				SenderID: a,
				Content:  fmt.Sprintf("m%d", i),
				Type:     domain.MessageTypeText,
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	messages, err := s.ChatMessages(context.Background(), chat.ID)
	require.NoError(t, err)
	assert.Len(t, messages, n)
	assert.Len(t, lo.UniqBy(messages, func(m domain.Message) string { return m.ID }), n)
}

func testUserChatsByActivity(t *testing.T, s domain.Store) {
	me := unique("me")
	first := mustChat(t, s, domain.ChatTypeDM, me, unique("x"))
	second := mustChat(t, s, domain.ChatTypeDM, me, unique("y"))
	mustChat(t, s, domain.ChatTypeDM, unique("p"), unique("q"))

	time.Sleep(2 * time.Millisecond)
	mustSend(t, s, first.ID, me, "bump")

	chats, err := s.UserChats(context.Background(), me)
	require.NoError(t, err)
	assert.Equal(t, []string{first.ID, second.ID}, lo.Map(chats, func(c domain.Chat, _ int) string { return c.ID }))

	none, err := s.UserChats(context.Background(), "stranger")
	require.NoError(t, err)
	assert.Empty(t, none)
}
