// Package messaging is the message ingress API: it validates and persists
// messages, hands them to the dispatcher and serves chats and users.
package messaging

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/nfrund/relay/internal/dispatch"
	"github.com/nfrund/relay/internal/domain"
	"github.com/nfrund/relay/internal/modules/messaging/topics"
	"github.com/nfrund/relay/internal/pubsub"
	"github.com/samber/lo"
	"golang.org/x/text/cases"
)

const searchLimit = 10

// Dispatcher delivers a persisted message to online chat members.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg *domain.Message, opts ...dispatch.Option) dispatch.Result
}

// SendMessageInput is the ingress request for one message.
type SendMessageInput struct {
	ChatID   string             `json:"chatId" validate:"required"`
	SenderID string             `json:"senderId" validate:"required"`
	Content  string             `json:"content" validate:"max=4000"`
	Type     domain.MessageType `json:"type" validate:"omitempty,oneof=text image video audio file"`
	MediaURL *string            `json:"mediaUrl,omitempty" validate:"omitempty,url"`
	Metadata map[string]any     `json:"metadata,omitempty"`

	// OriginConnectionID is the sender's websocket connection, if known.
	OriginConnectionID string `json:"-"`
}

// CreateChatInput is the request to start a chat.
type CreateChatInput struct {
	Type      domain.ChatType `json:"type" validate:"required,oneof=dm group"`
	Name      *string         `json:"name,omitempty" validate:"omitempty,max=128"`
	IconURL   *string         `json:"iconUrl,omitempty" validate:"omitempty,url"`
	MemberIDs []string        `json:"memberIds" validate:"required,min=1"`
}

// ChatSummary is a chat as listed for one user. DMs carry the other member.
type ChatSummary struct {
	domain.Chat
	OtherUser *domain.User `json:"otherUser,omitempty"`
}

// ChatDetails is a chat with its member ids.
type ChatDetails struct {
	domain.Chat
	MemberIDs []string `json:"memberIds"`
}

// Service implements the message ingress API.
type Service struct {
	store      domain.Store
	dispatcher Dispatcher
	publisher  pubsub.Publisher
	logger     *slog.Logger
}

// NewService creates a Service. publisher may be nil.
func NewService(store domain.Store, dispatcher Dispatcher, publisher pubsub.Publisher) *Service {
	return &Service{
		store:      store,
		dispatcher: dispatcher,
		publisher:  publisher,
		logger:     slog.Default().With("component", "messaging"),
	}
}

func (in SendMessageInput) normalize() SendMessageInput {
	if in.Type == "" {
		in.Type = domain.MessageTypeText
	}
	in.Type = domain.MessageType(strings.ToLower(string(in.Type)))
	if in.MediaURL != nil && strings.TrimSpace(*in.MediaURL) == "" {
		in.MediaURL = nil
	}
	return in
}

// SendMessage validates, persists and dispatches a message and returns it as stored.
// Delivery failures are logged and never change the outcome.
func (s *Service) SendMessage(ctx context.Context, in SendMessageInput) (*domain.Message, error) {
	in = in.normalize()
	if err := domain.ValidateStruct(in); err != nil {
		return nil, err
	}

	newMsg := domain.NewMessage{
		ChatID:   in.ChatID,
		SenderID: in.SenderID,
		Content:  in.Content,
		Type:     in.Type,
		MediaURL: in.MediaURL,
		Metadata: in.Metadata,
	}
	probe := newMsg
	probe.Content = strings.TrimSpace(probe.Content)
	if err := probe.Validate(); err != nil {
		return nil, err
	}

	if err := s.requireMember(ctx, in.ChatID, in.SenderID); err != nil {
		return nil, err
	}

	msg, err := s.store.PersistMessage(ctx, newMsg)
	if err != nil {
		return nil, err
	}

	// Delivery and the event outlive the request.
	deliverCtx := context.WithoutCancel(ctx)
	result := s.deliver(deliverCtx, msg, in.OriginConnectionID)

	s.logger.DebugContext(ctx, "Message sent",
		"chat_id", msg.ChatID, "message_id", msg.ID, "user_id", msg.SenderID,
		"recipients", result.Recipients, "online", result.Online,
		"delivered", result.Delivered, "failed", result.Failed)

	s.publishMessageCreated(deliverCtx, msg, result)
	return msg, nil
}

func (s *Service) deliver(ctx context.Context, msg *domain.Message, origin string) (result dispatch.Result) {
	if s.dispatcher == nil {
		return result
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "Dispatch panicked, message stays persisted",
				"chat_id", msg.ChatID, "message_id", msg.ID, "panic", r)
			result = dispatch.Result{}
		}
	}()

	var opts []dispatch.Option
	if origin != "" {
		opts = append(opts, dispatch.FromConnection(origin))
	}
	return s.dispatcher.Dispatch(ctx, msg, opts...)
}

func (s *Service) publishMessageCreated(ctx context.Context, msg *domain.Message, result dispatch.Result) {
	if s.publisher == nil {
		return
	}
	event := topics.MessageCreated{
		MessageID: msg.ID,
		ChatID:    msg.ChatID,
		SenderID:  msg.SenderID,
		Type:      string(msg.Type),
		CreatedAt: msg.CreatedAt,
		Online:    result.Online,
		Delivered: result.Delivered,
	}
	if err := pubsub.Publish(ctx, s.publisher, topics.TopicMessageCreated, msg.SenderID, event); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish message event", "message_id", msg.ID, "error", err)
	}
}

// requireMember returns NotFound for unknown chats and for chats userID is
// not part of, so membership does not leak chat existence.
func (s *Service) requireMember(ctx context.Context, chatID, userID string) error {
	members, err := s.store.ChatMembers(ctx, chatID)
	if err != nil {
		return err
	}
	if !lo.Contains(members, userID) {
		return domain.NewNotFoundError("chat", chatID)
	}
	return nil
}

// ListMessages returns a chat's messages, oldest first.
func (s *Service) ListMessages(ctx context.Context, userID, chatID string) ([]domain.Message, error) {
	if err := s.requireMember(ctx, chatID, userID); err != nil {
		return nil, err
	}
	return s.store.ChatMessages(ctx, chatID)
}

// CreateChat creates a chat owned by creatorID. The creator is always a member;
// a dm needs exactly one other member.
func (s *Service) CreateChat(ctx context.Context, creatorID string, in CreateChatInput) (*ChatDetails, error) {
	in.Type = domain.ChatType(strings.ToLower(string(in.Type)))
	if err := domain.ValidateStruct(in); err != nil {
		return nil, err
	}

	others := lo.Without(lo.Uniq(lo.Map(in.MemberIDs, func(id string, _ int) string {
		return strings.TrimSpace(id)
	})), creatorID, "")
	if len(others) == 0 {
		return nil, domain.NewValidationError("memberIds", "at least one other member is required")
	}
	if in.Type == domain.ChatTypeDM && len(others) != 1 {
		return nil, domain.NewValidationError("memberIds", "a dm needs exactly one other member")
	}
	if in.Type == domain.ChatTypeDM {
		in.Name = nil
	}

	for _, id := range others {
		if _, err := s.store.GetUser(ctx, id); err != nil {
			return nil, err
		}
	}

	members := append([]string{creatorID}, others...)
	chat, err := s.store.CreateChat(ctx, domain.NewChat{
		Type:      in.Type,
		Name:      in.Name,
		IconURL:   in.IconURL,
		CreatedBy: lo.ToPtr(creatorID),
		MemberIDs: members,
	})
	if err != nil {
		return nil, err
	}

	if s.publisher != nil {
		event := topics.ChatCreated{ChatID: chat.ID, Type: string(chat.Type), MemberIDs: members}
		if err := pubsub.Publish(ctx, s.publisher, topics.TopicChatCreated, creatorID, event); err != nil {
			s.logger.WarnContext(ctx, "Failed to publish chat event", "chat_id", chat.ID, "error", err)
		}
	}
	return &ChatDetails{Chat: *chat, MemberIDs: members}, nil
}

// ListChats returns userID's chats, most recent activity first.
func (s *Service) ListChats(ctx context.Context, userID string) ([]ChatSummary, error) {
	chats, err := s.store.UserChats(ctx, userID)
	if err != nil {
		return nil, err
	}

	summaries := make([]ChatSummary, 0, len(chats))
	for _, chat := range chats {
		summary := ChatSummary{Chat: chat}
		if chat.Type == domain.ChatTypeDM {
			summary.OtherUser = s.otherMember(ctx, chat.ID, userID)
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func (s *Service) otherMember(ctx context.Context, chatID, userID string) *domain.User {
	members, err := s.store.ChatMembers(ctx, chatID)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to load dm members", "chat_id", chatID, "error", err)
		return nil
	}
	otherID, ok := lo.Find(members, func(id string) bool { return id != userID })
	if !ok {
		return nil
	}
	other, err := s.store.GetUser(ctx, otherID)
	if err != nil {
		return nil
	}
	return other
}

// GetChat returns a chat with its members when userID belongs to it.
func (s *Service) GetChat(ctx context.Context, userID, chatID string) (*ChatDetails, error) {
	members, err := s.store.ChatMembers(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !lo.Contains(members, userID) {
		return nil, domain.NewNotFoundError("chat", chatID)
	}
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return &ChatDetails{Chat: *chat, MemberIDs: members}, nil
}

// SearchUsers matches query case-insensitively against usernames and display
// names. An empty query lists the first users.
func (s *Service) SearchUsers(ctx context.Context, query string) ([]domain.User, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	needle := cases.Fold().String(strings.TrimSpace(query))
	matches := lo.Filter(users, func(u domain.User, _ int) bool {
		if needle == "" {
			return true
		}
		fold := cases.Fold()
		return strings.Contains(fold.String(u.Username), needle) ||
			strings.Contains(fold.String(u.DisplayName), needle)
	})

	sort.SliceStable(matches, func(i, j int) bool {
		return strings.HasPrefix(cases.Fold().String(matches[i].Username), needle) &&
			!strings.HasPrefix(cases.Fold().String(matches[j].Username), needle)
	})
	if len(matches) > searchLimit {
		matches = matches[:searchLimit]
	}
	return matches, nil
}

// GetUser returns one user.
func (s *Service) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return s.store.GetUser(ctx, userID)
}

// LoginInput identifies the user to sign in as.
type LoginInput struct {
	Username    string `json:"username" validate:"required,min=2,max=64"`
	DisplayName string `json:"displayName" validate:"max=128"`
}

// Login returns the user named in, creating it on first use.
func (s *Service) Login(ctx context.Context, in LoginInput) (*domain.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	if err := domain.ValidateStruct(in); err != nil {
		return nil, err
	}

	user, err := s.store.GetUserByUsername(ctx, in.Username)
	if err == nil {
		return user, nil
	}
	if !isNotFound(err) {
		return nil, err
	}

	user, err = s.store.CreateUser(ctx, domain.NewUser{
		Username:    in.Username,
		DisplayName: lo.Ternary(in.DisplayName != "", in.DisplayName, in.Username),
	})
	if err != nil && isConflict(err) {
		// Lost a race with a concurrent first login.
		return s.store.GetUserByUsername(ctx, in.Username)
	}
	return user, err
}
