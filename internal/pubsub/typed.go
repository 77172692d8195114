package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Event[T] binds a topic name to its payload type for type-safe publishing.
type Event[T any] struct {
	topicName   string
	description string
}

// TopicInfo describes a declared topic.
type TopicInfo struct {
	Name        string `json:"name"`
	Module      string `json:"module"`
	Description string `json:"description"`
}

var (
	catalogMu sync.RWMutex
	catalog   = map[string]TopicInfo{}
)

// NewEvent declares a typed event and records it in the topic catalog.
// Declaring the same name twice panics, since events are package-level values.
func NewEvent[T any](name, description string) Event[T] {
	module, _, _ := strings.Cut(name, ".")

	catalogMu.Lock()
	defer catalogMu.Unlock()
	if _, exists := catalog[name]; exists {
		panic(fmt.Sprintf("pubsub: topic %q declared twice", name))
	}
	catalog[name] = TopicInfo{Name: name, Module: module, Description: description}

	return Event[T]{topicName: name, description: description}
}

// Name returns the topic name.
func (e Event[T]) Name() string {
	return e.topicName
}

// Topics lists every declared topic sorted by name.
func Topics() []TopicInfo {
	catalogMu.RLock()
	defer catalogMu.RUnlock()

	topics := make([]TopicInfo, 0, len(catalog))
	for _, info := range catalog {
		topics = append(topics, info)
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i].Name < topics[j].Name })
	return topics
}

// Publish sends a typed event. userID is copied onto the bus message for tracing.
func Publish[T any](ctx context.Context, p Publisher, event Event[T], userID string, payload T) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event.Name(), err)
	}

	return p.Publish(ctx, Message{
		Topic:   event.Name(),
		UserID:  userID,
		Payload: data,
	})
}

// Subscribe registers a handler that receives decoded payloads of event.
func Subscribe[T any](ctx context.Context, s Subscriber, event Event[T], handler func(ctx context.Context, payload T) error) error {
	return s.Subscribe(ctx, event.Name(), func(ctx context.Context, msg Message) error {
		var payload T
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", event.Name(), err)
		}
		return handler(ctx, payload)
	})
}
