// Package dispatch pushes persisted messages to the live connections of a
// chat's members.
package dispatch

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/nfrund/relay/internal/domain"
	"github.com/nfrund/relay/internal/websocket"
	"github.com/samber/lo"
)

// EventNewMessage is the frame type pushed for every dispatched message.
const EventNewMessage = "new_message"

const stripes = 64

// MemberResolver lists the members of a chat.
type MemberResolver interface {
	ChatMembers(ctx context.Context, chatID string) ([]string, error)
}

// ConnectionSource returns a user's dispatchable connections.
type ConnectionSource interface {
	LiveConnections(userID string) []*websocket.Connection
}

// Event is the frame written to recipients.
type Event struct {
	Type    string          `json:"type"`
	Message *domain.Message `json:"message"`
}

// Result counts what a single dispatch did.
type Result struct {
	Recipients int `json:"recipients"`
	Online     int `json:"online"`
	Attempted  int `json:"attempted"`
	Delivered  int `json:"delivered"`
	Failed     int `json:"failed"`
}

// Options tweaks one dispatch.
type Options struct {
	// OriginConnectionID is the connection the message was sent from, if known.
	OriginConnectionID string
}

// Option sets a dispatch Options field.
type Option func(*Options)

// FromConnection marks the connection that originated the message.
func FromConnection(id string) Option {
	return func(o *Options) {
		o.OriginConnectionID = id
	}
}

// Dispatcher fans a message out to every online member of its chat except the sender.
type Dispatcher struct {
	members      MemberResolver
	conns        ConnectionSource
	echoToSender bool
	logger       *slog.Logger
	locks        [stripes]sync.Mutex
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithEchoToSenderDevices also pushes to the sender's other connections.
func WithEchoToSenderDevices(enabled bool) DispatcherOption {
	return func(d *Dispatcher) {
		d.echoToSender = enabled
	}
}

// WithLogger sets the dispatcher's logger.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// New creates a Dispatcher.
func New(members MemberResolver, conns ConnectionSource, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		members: members,
		conns:   conns,
		logger:  slog.Default().With("component", "dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch pushes msg to every live connection of every chat member other than
// the sender. It never returns an error: membership lookup failures yield an
// empty result and individual push failures are counted and logged.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *domain.Message, opts ...Option) Result {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}

	logger := d.logger.With("chat_id", msg.ChatID, "message_id", msg.ID)

	lock := d.lockFor(msg.ChatID)
	lock.Lock()
	defer lock.Unlock()

	members, err := d.members.ChatMembers(ctx, msg.ChatID)
	if err != nil {
		logger.Error("Failed to resolve chat members, skipping dispatch", "error", err)
		return Result{}
	}

	recipients := lo.Without(lo.Uniq(members), msg.SenderID)
	result := Result{Recipients: len(recipients)}

	var targets []*websocket.Connection
	for _, userID := range recipients {
		live := d.conns.LiveConnections(userID)
		if len(live) > 0 {
			result.Online++
		}
		targets = append(targets, live...)
	}

	if d.echoToSender {
		own := lo.Filter(d.conns.LiveConnections(msg.SenderID), func(c *websocket.Connection, _ int) bool {
			return c.ID() != o.OriginConnectionID
		})
		targets = append(targets, own...)
	}

	if len(targets) == 0 {
		logger.Debug("No live recipients", "recipients", result.Recipients)
		return result
	}

	frame, err := json.Marshal(Event{Type: EventNewMessage, Message: msg})
	if err != nil {
		logger.Error("Failed to encode dispatch event", "error", err)
		return result
	}

	for _, c := range targets {
		result.Attempted++
		if err := c.Push(frame); err != nil {
			result.Failed++
			logger.Warn("Push failed", "connection_id", c.ID(), "user_id", c.UserID(), "error", err)
			continue
		}
		result.Delivered++
	}

	logger.Debug("Message dispatched",
		"recipients", result.Recipients, "online", result.Online,
		"delivered", result.Delivered, "failed", result.Failed)
	return result
}

func (d *Dispatcher) lockFor(chatID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(chatID))
	return &d.locks[h.Sum32()%stripes]
}
