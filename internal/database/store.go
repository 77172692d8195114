package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nfrund/relay/internal/config"
	"github.com/nfrund/relay/internal/domain"
	"github.com/samber/lo"
	"github.com/surrealdb/surrealdb.go"
)

const schema = `
DEFINE TABLE IF NOT EXISTS user SCHEMALESS;
DEFINE INDEX IF NOT EXISTS user_username ON TABLE user FIELDS username UNIQUE;
DEFINE TABLE IF NOT EXISTS chat SCHEMALESS;
DEFINE TABLE IF NOT EXISTS chat_member SCHEMALESS;
DEFINE INDEX IF NOT EXISTS chat_member_user ON TABLE chat_member FIELDS user_id;
DEFINE INDEX IF NOT EXISTS chat_member_chat ON TABLE chat_member FIELDS chat_id;
DEFINE TABLE IF NOT EXISTS message SCHEMALESS;
DEFINE INDEX IF NOT EXISTS message_chat ON TABLE message FIELDS chat_id, created_at;
`

const maxConflictRetries = 16

type userRow struct {
	ID          string  `json:"id"`
	Username    string  `json:"username"`
	DisplayName string  `json:"display_name"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
	Status      *string `json:"status,omitempty"`
	CreatedAt   int64   `json:"created_at"`
}

func (r userRow) toDomain() domain.User {
	return domain.User{
		ID:          r.ID,
		Username:    r.Username,
		DisplayName: r.DisplayName,
		AvatarURL:   r.AvatarURL,
		Status:      r.Status,
		CreatedAt:   fromNanos(r.CreatedAt),
	}
}

type chatRow struct {
	ID            string  `json:"id"`
	Type          string  `json:"type"`
	Name          *string `json:"name,omitempty"`
	IconURL       *string `json:"icon_url,omitempty"`
	CreatedBy     *string `json:"created_by,omitempty"`
	LastMessageAt *int64  `json:"last_message_at,omitempty"`
	CreatedAt     int64   `json:"created_at"`
}

func (r chatRow) toDomain() domain.Chat {
	c := domain.Chat{
		ID:        r.ID,
		Type:      domain.ChatType(r.Type),
		Name:      r.Name,
		IconURL:   r.IconURL,
		CreatedBy: r.CreatedBy,
		CreatedAt: fromNanos(r.CreatedAt),
	}
	if r.LastMessageAt != nil {
		c.LastMessageAt = lo.ToPtr(fromNanos(*r.LastMessageAt))
	}
	return c
}

type memberRow struct {
	UserID string `json:"user_id"`
}

type messageRow struct {
	ID        string  `json:"id"`
	ChatID    string  `json:"chat_id"`
	SenderID  string  `json:"sender_id"`
	Content   string  `json:"content"`
	Type      string  `json:"type"`
	MediaURL  *string `json:"media_url,omitempty"`
	Metadata  string  `json:"metadata,omitempty"`
	CreatedAt int64   `json:"created_at"`
}

func (r messageRow) toDomain() (domain.Message, error) {
	m := domain.Message{
		ID:        r.ID,
		ChatID:    r.ChatID,
		SenderID:  r.SenderID,
		Content:   r.Content,
		Type:      domain.MessageType(r.Type),
		MediaURL:  r.MediaURL,
		CreatedAt: fromNanos(r.CreatedAt),
	}
	if r.Metadata != "" {
		if err := json.Unmarshal([]byte(r.Metadata), &m.Metadata); err != nil {
			return m, fmt.Errorf("decode metadata of message %s: %w", r.ID, err)
		}
	}
	return m, nil
}

func toNanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

// SurrealStore persists users, chats and messages in SurrealDB.
type SurrealStore struct {
	conn *Connection
}

var _ domain.Store = (*SurrealStore)(nil)

// NewStore connects to SurrealDB, defines the schema and starts health monitoring.
func NewStore(ctx context.Context, cfg config.Provider) (*SurrealStore, error) {
	conn := NewConnection(cfg)
	if err := conn.Connect(ctx); err != nil {
		return nil, err
	}

	s := &SurrealStore{conn: conn}
	if err := s.execute(ctx, schema, nil); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("define schema: %w", err)
	}

	conn.StartMonitoring()
	return s, nil
}

// Close stops health monitoring and closes the session.
func (s *SurrealStore) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.conn.Close(ctx)
}

func query[T any](ctx context.Context, s *SurrealStore, sql string, vars map[string]any) ([]T, error) {
	ctx, cancel := timeoutContext(ctx, s.conn.QueryTimeout(), ContextKeyQueryTimeout)
	defer cancel()

	var rows []T
	err := s.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		var err error
		rows, err = Query[T](ctx, db, sql, vars)
		return err
	})
	return rows, err
}

func queryOne[T any](ctx context.Context, s *SurrealStore, sql string, vars map[string]any) (*T, error) {
	ctx, cancel := timeoutContext(ctx, s.conn.QueryTimeout(), ContextKeyQueryTimeout)
	defer cancel()

	var row *T
	err := s.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		var err error
		row, err = QueryOne[T](ctx, db, sql, vars)
		return err
	})
	return row, err
}

// execute runs a write, retrying transactions that lost a write conflict.
func (s *SurrealStore) execute(ctx context.Context, sql string, vars map[string]any) error {
	ctx, cancel := timeoutContext(ctx, s.conn.ExecuteTimeout(), ContextKeyExecuteTimeout)
	defer cancel()

	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = s.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
			return Execute(ctx, db, sql, vars)
		})
		if !isRetryableConflict(err) {
			return err
		}
		slog.DebugContext(ctx, "SurrealDB transaction conflict, retrying", "attempt", attempt+1)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return err
}

func isRetryableConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "can be retried") || strings.Contains(msg, "write conflict")
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already contains") || strings.Contains(msg, "already exists")
}

const userFields = "record::id(id) AS id, username, display_name, avatar_url, status, created_at"

func (s *SurrealStore) CreateUser(ctx context.Context, in domain.NewUser) (*domain.User, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	row := userRow{
		ID:          lo.Ternary(in.ID != "", in.ID, uuid.NewString()),
		Username:    in.Username,
		DisplayName: in.DisplayName,
		AvatarURL:   in.AvatarURL,
		Status:      in.Status,
		CreatedAt:   toNanos(time.Now()),
	}

	err := s.execute(ctx, "CREATE type::thing('user', $id) CONTENT $content", map[string]any{
		"id": row.ID,
		"content": map[string]any{
			"username":     row.Username,
			"display_name": row.DisplayName,
			"avatar_url":   row.AvatarURL,
			"status":       row.Status,
			"created_at":   row.CreatedAt,
		},
	})
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("user %q: %w", row.Username, domain.ErrConflict)
	}
	if err != nil {
		return nil, domain.WrapPersistence("create user", err)
	}

	u := row.toDomain()
	return &u, nil
}

func (s *SurrealStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	row, err := queryOne[userRow](ctx, s, "SELECT "+userFields+" FROM type::thing('user', $id)", map[string]any{"id": userID})
	if err != nil {
		return nil, domain.WrapPersistence("get user", err)
	}
	if row == nil {
		return nil, domain.NewNotFoundError("user", userID)
	}
	u := row.toDomain()
	return &u, nil
}

func (s *SurrealStore) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	row, err := queryOne[userRow](ctx, s, "SELECT "+userFields+" FROM user WHERE username = $username", map[string]any{"username": username})
	if err != nil {
		return nil, domain.WrapPersistence("get user by username", err)
	}
	if row == nil {
		return nil, domain.NewNotFoundError("user", username)
	}
	u := row.toDomain()
	return &u, nil
}

func (s *SurrealStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := query[userRow](ctx, s, "SELECT "+userFields+" FROM user ORDER BY username ASC", nil)
	if err != nil {
		return nil, domain.WrapPersistence("list users", err)
	}
	return lo.Map(rows, func(r userRow, _ int) domain.User { return r.toDomain() }), nil
}

const chatFields = "record::id(id) AS id, type, name, icon_url, created_by, last_message_at, created_at"

func (s *SurrealStore) CreateChat(ctx context.Context, in domain.NewChat) (*domain.Chat, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	row := chatRow{
		ID:        lo.Ternary(in.ID != "", in.ID, uuid.NewString()),
		Type:      string(in.Type),
		Name:      in.Name,
		IconURL:   in.IconURL,
		CreatedBy: in.CreatedBy,
		CreatedAt: toNanos(time.Now()),
	}

	err := s.execute(ctx, `
BEGIN TRANSACTION;
CREATE type::thing('chat', $id) CONTENT $content;
FOR $member IN $members {
	CREATE type::thing('chat_member', [$id, $member]) CONTENT {
		chat_id: $id,
		user_id: $member,
		joined_at: $joined_at
	};
};
COMMIT TRANSACTION;`, map[string]any{
		"id": row.ID,
		"content": map[string]any{
			"type":       row.Type,
			"name":       row.Name,
			"icon_url":   row.IconURL,
			"created_by": row.CreatedBy,
			"created_at": row.CreatedAt,
		},
		"members":   lo.Uniq(in.MemberIDs),
		"joined_at": row.CreatedAt,
	})
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("chat %q: %w", row.ID, domain.ErrConflict)
	}
	if err != nil {
		return nil, domain.WrapPersistence("create chat", err)
	}

	c := row.toDomain()
	return &c, nil
}

func (s *SurrealStore) GetChat(ctx context.Context, chatID string) (*domain.Chat, error) {
	row, err := queryOne[chatRow](ctx, s, "SELECT "+chatFields+" FROM type::thing('chat', $id)", map[string]any{"id": chatID})
	if err != nil {
		return nil, domain.WrapPersistence("get chat", err)
	}
	if row == nil {
		return nil, domain.NewNotFoundError("chat", chatID)
	}
	c := row.toDomain()
	return &c, nil
}

func (s *SurrealStore) UserChats(ctx context.Context, userID string) ([]domain.Chat, error) {
	rows, err := query[chatRow](ctx, s, "SELECT "+chatFields+
		" FROM chat WHERE record::id(id) IN (SELECT VALUE chat_id FROM chat_member WHERE user_id = $user)",
		map[string]any{"user": userID})
	if err != nil {
		return nil, domain.WrapPersistence("user chats", err)
	}

	chats := lo.Map(rows, func(r chatRow, _ int) domain.Chat { return r.toDomain() })
	sort.Slice(chats, func(i, j int) bool {
		ai, aj := chats[i].ActivityAt(), chats[j].ActivityAt()
		if ai.Equal(aj) {
			return chats[i].ID < chats[j].ID
		}
		return ai.After(aj)
	})
	return chats, nil
}

func (s *SurrealStore) ChatMembers(ctx context.Context, chatID string) ([]string, error) {
	rows, err := query[memberRow](ctx, s, "SELECT user_id, joined_at FROM chat_member WHERE chat_id = $chat ORDER BY joined_at, user_id", map[string]any{"chat": chatID})
	if err != nil {
		return nil, domain.WrapPersistence("chat members", err)
	}
	return lo.Map(rows, func(r memberRow, _ int) string { return r.UserID }), nil
}

func (s *SurrealStore) PersistMessage(ctx context.Context, in domain.NewMessage) (*domain.Message, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.GetChat(ctx, in.ChatID); err != nil {
		return nil, err
	}

	msg := &domain.Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		ChatID:    in.ChatID,
		SenderID:  in.SenderID,
		Content:   in.Content,
		Type:      in.Type,
		MediaURL:  in.MediaURL,
		Metadata:  in.Metadata,
		CreatedAt: time.Now().UTC(),
	}

	var metadata string
	if len(msg.Metadata) > 0 {
		data, err := json.Marshal(msg.Metadata)
		if err != nil {
			return nil, domain.NewValidationError("metadata", "must be JSON encodable")
		}
		metadata = string(data)
	}

	createdAt := toNanos(msg.CreatedAt)
	err := s.execute(ctx, `
BEGIN TRANSACTION;
CREATE type::thing('message', $id) CONTENT $content;
UPDATE type::thing('chat', $chat) SET last_message_at = $created_at WHERE last_message_at IS NONE OR last_message_at < $created_at;
COMMIT TRANSACTION;`, map[string]any{
		"id":         msg.ID,
		"chat":       msg.ChatID,
		"created_at": createdAt,
		"content": map[string]any{
			"msg_id":     msg.ID,
			"chat_id":    msg.ChatID,
			"sender_id":  msg.SenderID,
			"content":    msg.Content,
			"type":       string(msg.Type),
			"media_url":  msg.MediaURL,
			"metadata":   metadata,
			"created_at": createdAt,
		},
	})
	if err != nil {
		return nil, domain.WrapPersistence("persist message", err)
	}
	return msg, nil
}

func (s *SurrealStore) ChatMessages(ctx context.Context, chatID string) ([]domain.Message, error) {
	rows, err := query[messageRow](ctx, s, `SELECT record::id(id) AS id, msg_id, chat_id, sender_id, content, type, media_url, metadata, created_at
FROM message WHERE chat_id = $chat ORDER BY created_at ASC, msg_id ASC`, map[string]any{"chat": chatID})
	if err != nil {
		return nil, domain.WrapPersistence("chat messages", err)
	}

	messages := make([]domain.Message, 0, len(rows))
	for _, r := range rows {
		m, err := r.toDomain()
		if err != nil {
			return nil, domain.WrapPersistence("chat messages", err)
		}
		messages = append(messages, m)
	}
	return messages, nil
}

// Healthy reports whether the last health check succeeded.
func (s *SurrealStore) Healthy() bool {
	return s.conn != nil && s.conn.IsHealthy()
}
