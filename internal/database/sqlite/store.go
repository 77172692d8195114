// Package sqlite implements domain.Store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nfrund/relay/internal/database/sqlite/migrations"
	"github.com/nfrund/relay/internal/domain"
	"github.com/samber/lo"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Store persists users, chats and messages in SQLite.
type Store struct {
	db *sql.DB
}

var _ domain.Store = (*Store)(nil)

func toNanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

// Open opens the database at path, creating it if needed, and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if path != MemoryPath {
		path = filepath.Clean(path)
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) CreateUser(ctx context.Context, in domain.NewUser) (*domain.User, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	u := &domain.User{
		ID:          lo.Ternary(in.ID != "", in.ID, uuid.NewString()),
		Username:    in.Username,
		DisplayName: in.DisplayName,
		AvatarURL:   in.AvatarURL,
		Status:      in.Status,
		CreatedAt:   time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, display_name, avatar_url, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.DisplayName, u.AvatarURL, u.Status, toNanos(u.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("user %q: %w", in.Username, domain.ErrConflict)
		}
		return nil, domain.WrapPersistence("create user", err)
	}
	return u, nil
}

const userColumns = `id, username, display_name, avatar_url, status, created_at`

func (s *Store) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, userID)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("user", userID)
	}
	if err != nil {
		return nil, domain.WrapPersistence("get user", err)
	}
	return u, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("user", username)
	}
	if err != nil {
		return nil, domain.WrapPersistence("get user by username", err)
	}
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, domain.WrapPersistence("list users", err)
	}
	defer rows.Close()

	users := []domain.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, domain.WrapPersistence("list users", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapPersistence("list users", err)
	}
	return users, nil
}

func (s *Store) CreateChat(ctx context.Context, in domain.NewChat) (*domain.Chat, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	c := &domain.Chat{
		ID:        lo.Ternary(in.ID != "", in.ID, uuid.NewString()),
		Type:      in.Type,
		Name:      in.Name,
		IconURL:   in.IconURL,
		CreatedBy: in.CreatedBy,
		CreatedAt: time.Now().UTC(),
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chats (id, type, name, icon_url, created_by, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			c.ID, string(c.Type), c.Name, c.IconURL, c.CreatedBy, toNanos(c.CreatedAt),
		); err != nil {
			return err
		}
		for _, member := range lo.Uniq(in.MemberIDs) {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO chat_members (chat_id, user_id, joined_at) VALUES (?, ?, ?)`,
				c.ID, member, toNanos(c.CreatedAt),
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("chat %q: %w", c.ID, domain.ErrConflict)
		}
		return nil, domain.WrapPersistence("create chat", err)
	}
	return c, nil
}

const chatColumns = `id, type, name, icon_url, created_by, last_message_at, created_at`

func (s *Store) GetChat(ctx context.Context, chatID string) (*domain.Chat, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM chats WHERE id = ?`, chatID)
	c, err := scanChat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("chat", chatID)
	}
	if err != nil {
		return nil, domain.WrapPersistence("get chat", err)
	}
	return c, nil
}

func (s *Store) UserChats(ctx context.Context, userID string) ([]domain.Chat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.type, c.name, c.icon_url, c.created_by, c.last_message_at, c.created_at
		 FROM chats c
		 JOIN chat_members m ON m.chat_id = c.id
		 WHERE m.user_id = ?
		 ORDER BY COALESCE(c.last_message_at, c.created_at) DESC, c.id`,
		userID,
	)
	if err != nil {
		return nil, domain.WrapPersistence("user chats", err)
	}
	defer rows.Close()

	chats := []domain.Chat{}
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, domain.WrapPersistence("user chats", err)
		}
		chats = append(chats, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapPersistence("user chats", err)
	}
	return chats, nil
}

func (s *Store) ChatMembers(ctx context.Context, chatID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM chat_members WHERE chat_id = ? ORDER BY joined_at, user_id`, chatID)
	if err != nil {
		return nil, domain.WrapPersistence("chat members", err)
	}
	defer rows.Close()

	members := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, domain.WrapPersistence("chat members", err)
		}
		members = append(members, id)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapPersistence("chat members", err)
	}
	return members, nil
}

func (s *Store) PersistMessage(ctx context.Context, in domain.NewMessage) (*domain.Message, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var metadata sql.NullString
	if len(in.Metadata) > 0 {
		data, err := json.Marshal(in.Metadata)
		if err != nil {
			return nil, domain.NewValidationError("metadata", "must be a JSON object")
		}
		metadata = sql.NullString{String: string(data), Valid: true}
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

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE chats SET last_message_at = ? WHERE id = ?`, toNanos(msg.CreatedAt), msg.ChatID)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return domain.NewNotFoundError("chat", msg.ChatID)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO messages (id, chat_id, sender_id, content, type, media_url, metadata, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			msg.ID, msg.ChatID, msg.SenderID, msg.Content, string(msg.Type), msg.MediaURL, metadata, toNanos(msg.CreatedAt),
		)
		return err
	})
	if err != nil {
		return nil, domain.WrapPersistence("persist message", err)
	}
	return msg, nil
}

func (s *Store) ChatMessages(ctx context.Context, chatID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, sender_id, content, type, media_url, metadata, created_at
		 FROM messages WHERE chat_id = ? ORDER BY created_at, seq`, chatID)
	if err != nil {
		return nil, domain.WrapPersistence("chat messages", err)
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		var (
			m         domain.Message
			typ       string
			mediaURL  sql.NullString
			metadata  sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &typ, &mediaURL, &metadata, &createdAt); err != nil {
			return nil, domain.WrapPersistence("chat messages", err)
		}
		m.Type = domain.MessageType(typ)
		m.MediaURL = nullString(mediaURL)
		m.CreatedAt = fromNanos(createdAt)
		if metadata.Valid {
			if err := json.Unmarshal([]byte(metadata.String), &m.Metadata); err != nil {
				return nil, domain.WrapPersistence("decode message metadata", err)
			}
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapPersistence("chat messages", err)
	}
	return messages, nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*domain.User, error) {
	var (
		u         domain.User
		avatarURL sql.NullString
		status    sql.NullString
		createdAt int64
	)
	if err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &avatarURL, &status, &createdAt); err != nil {
		return nil, err
	}
	u.AvatarURL = nullString(avatarURL)
	u.Status = nullString(status)
	u.CreatedAt = fromNanos(createdAt)
	return &u, nil
}

func scanChat(row scanner) (*domain.Chat, error) {
	var (
		c             domain.Chat
		typ           string
		name          sql.NullString
		iconURL       sql.NullString
		createdBy     sql.NullString
		lastMessageAt sql.NullInt64
		createdAt     int64
	)
	if err := row.Scan(&c.ID, &typ, &name, &iconURL, &createdBy, &lastMessageAt, &createdAt); err != nil {
		return nil, err
	}
	c.Type = domain.ChatType(typ)
	c.Name = nullString(name)
	c.IconURL = nullString(iconURL)
	c.CreatedBy = nullString(createdBy)
	if lastMessageAt.Valid {
		c.LastMessageAt = lo.ToPtr(fromNanos(lastMessageAt.Int64))
	}
	c.CreatedAt = fromNanos(createdAt)
	return &c, nil
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
