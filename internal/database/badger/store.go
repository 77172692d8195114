// Package badger implements domain.Store on an embedded Badger key-value store.
//
// Key layout:
//
//	user:{id}                         JSON user
//	username:{username}               user id
//	chat:{id}                         JSON chat
//	member:{chatID}:{userID}          JSON chat member
//	userchat:{userID}:{chatID}        empty
//	msg:{chatID}:{nanos:019d}:{id}    JSON message
//
// The zero padded timestamp keeps a chat's messages in chronological order under
// a prefix scan; the time-ordered message id breaks ties.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/nfrund/relay/internal/domain"
	"github.com/samber/lo"
)

const maxTxnRetries = 64

// Store persists users, chats and messages in Badger.
type Store struct {
	db *badger.DB
}

var _ domain.Store = (*Store)(nil)

// Open opens the store at path. An empty path keeps everything in memory.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLoggingLevel(badger.ERROR)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func userKey(id string) []byte { return []byte("user:" + id) }
func usernameKey(name string) []byte { return []byte("username:" + name) }
func chatKey(id string) []byte { return []byte("chat:" + id) }
func memberPrefix(chatID string) []byte { return []byte("member:" + chatID + ":") }
func userChatPrefix(userID string) []byte { return []byte("userchat:" + userID + ":") }
func messagePrefix(chatID string) []byte { return []byte("msg:" + chatID + ":") }

func memberKey(chatID, userID string) []byte {
	return append(memberPrefix(chatID), userID...)
}

func userChatKey(userID, chatID string) []byte {
	return append(userChatPrefix(userID), chatID...)
}

func messageKey(m *domain.Message) []byte {
	return []byte(fmt.Sprintf("msg:%s:%019d:%s", m.ChatID, m.CreatedAt.UnixNano(), m.ID))
}

// update runs fn in a read-write transaction, retrying on optimistic conflicts.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

// scanPrefix calls fn with the key suffix and value of every entry under prefix, in key order.
func scanPrefix(txn *badger.Txn, prefix []byte, withValues bool, fn func(suffix string, val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = withValues
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		suffix := strings.TrimPrefix(string(item.Key()), string(prefix))
		if !withValues {
			if err := fn(suffix, nil); err != nil {
				return err
			}
			continue
		}
		if err := item.Value(func(val []byte) error { return fn(suffix, val) }); err != nil {
			return err
		}
	}
	return nil
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

	err := s.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(usernameKey(u.Username)); err == nil {
			return fmt.Errorf("user %q: %w", u.Username, domain.ErrConflict)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if _, err := txn.Get(userKey(u.ID)); err == nil {
			return fmt.Errorf("user %q: %w", u.ID, domain.ErrConflict)
		}
		if err := setJSON(txn, userKey(u.ID), u); err != nil {
			return err
		}
		return txn.Set(usernameKey(u.Username), []byte(u.ID))
	})
	if err != nil {
		return nil, domain.WrapPersistence("create user", err)
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	var u domain.User
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, userKey(userID), &u)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, domain.NewNotFoundError("user", userID)
	}
	if err != nil {
		return nil, domain.WrapPersistence("get user", err)
	}
	return &u, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	var u domain.User
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(usernameKey(username))
		if err != nil {
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return getJSON(txn, userKey(string(id)), &u)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, domain.NewNotFoundError("user", username)
	}
	if err != nil {
		return nil, domain.WrapPersistence("get user by username", err)
	}
	return &u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	users := []domain.User{}
	err := s.db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, []byte("user:"), true, func(_ string, val []byte) error {
			var u domain.User
			if err := json.Unmarshal(val, &u); err != nil {
				return err
			}
			users = append(users, u)
			return nil
		})
	})
	if err != nil {
		return nil, domain.WrapPersistence("list users", err)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
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

	err := s.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(chatKey(c.ID)); err == nil {
			return fmt.Errorf("chat %q: %w", c.ID, domain.ErrConflict)
		}
		if err := setJSON(txn, chatKey(c.ID), c); err != nil {
			return err
		}
		for _, userID := range lo.Uniq(in.MemberIDs) {
			member := domain.ChatMember{ChatID: c.ID, UserID: userID, JoinedAt: c.CreatedAt}
			if err := setJSON(txn, memberKey(c.ID, userID), member); err != nil {
				return err
			}
			if err := txn.Set(userChatKey(userID, c.ID), []byte{}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, domain.WrapPersistence("create chat", err)
	}
	return c, nil
}

func (s *Store) GetChat(ctx context.Context, chatID string) (*domain.Chat, error) {
	var c domain.Chat
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, chatKey(chatID), &c)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, domain.NewNotFoundError("chat", chatID)
	}
	if err != nil {
		return nil, domain.WrapPersistence("get chat", err)
	}
	return &c, nil
}

func (s *Store) UserChats(ctx context.Context, userID string) ([]domain.Chat, error) {
	chats := []domain.Chat{}
	err := s.db.View(func(txn *badger.Txn) error {
		var ids []string
		err := scanPrefix(txn, userChatPrefix(userID), false, func(chatID string, _ []byte) error {
			ids = append(ids, chatID)
			return nil
		})
		if err != nil {
			return err
		}
		for _, id := range ids {
			var c domain.Chat
			if err := getJSON(txn, chatKey(id), &c); err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					continue
				}
				return err
			}
			chats = append(chats, c)
		}
		return nil
	})
	if err != nil {
		return nil, domain.WrapPersistence("user chats", err)
	}

	sort.Slice(chats, func(i, j int) bool {
		ai, aj := chats[i].ActivityAt(), chats[j].ActivityAt()
		if ai.Equal(aj) {
			return chats[i].ID < chats[j].ID
		}
		return ai.After(aj)
	})
	return chats, nil
}

func (s *Store) ChatMembers(ctx context.Context, chatID string) ([]string, error) {
	members := []string{}
	err := s.db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, memberPrefix(chatID), false, func(userID string, _ []byte) error {
			members = append(members, userID)
			return nil
		})
	})
	if err != nil {
		return nil, domain.WrapPersistence("chat members", err)
	}
	return members, nil
}

func (s *Store) PersistMessage(ctx context.Context, in domain.NewMessage) (*domain.Message, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	msg := &domain.Message{
		ID:       uuid.Must(uuid.NewV7()).String(),
		ChatID:   in.ChatID,
		SenderID: in.SenderID,
		Content:  in.Content,
		Type:     in.Type,
		MediaURL: in.MediaURL,
		Metadata: in.Metadata,
	}

	err := s.update(ctx, func(txn *badger.Txn) error {
		var chat domain.Chat
		if err := getJSON(txn, chatKey(msg.ChatID), &chat); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return domain.NewNotFoundError("chat", msg.ChatID)
			}
			return err
		}

		msg.CreatedAt = time.Now().UTC()
		chat.LastMessageAt = lo.ToPtr(msg.CreatedAt)
		if err := setJSON(txn, chatKey(chat.ID), chat); err != nil {
			return err
		}
		return setJSON(txn, messageKey(msg), msg)
	})
	if err != nil {
		return nil, domain.WrapPersistence("persist message", err)
	}
	return msg, nil
}

func (s *Store) ChatMessages(ctx context.Context, chatID string) ([]domain.Message, error) {
	messages := []domain.Message{}
	err := s.db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, messagePrefix(chatID), true, func(_ string, val []byte) error {
			var m domain.Message
			if err := json.Unmarshal(val, &m); err != nil {
				return err
			}
			messages = append(messages, m)
			return nil
		})
	})
	if err != nil {
		return nil, domain.WrapPersistence("chat messages", err)
	}
	return messages, nil
}
