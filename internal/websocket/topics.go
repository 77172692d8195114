package websocket

import (
	"context"
	"log/slog"

	"github.com/nfrund/relay/internal/pubsub"
)

var (
	// TopicClientRegistered is published when a connection is bound to a user.
	TopicClientRegistered = pubsub.NewEvent[Event]("ws.client.registered",
		"Published when a websocket connection is bound to a user")

	// TopicClientDisconnected is published when a registered connection leaves the registry.
	TopicClientDisconnected = pubsub.NewEvent[Event]("ws.client.disconnected",
		"Published when a registered websocket connection is closed or unregistered")
)

// LifecyclePublisher returns an Observer that forwards registry events to the bus.
func LifecyclePublisher(pub pubsub.Publisher, logger *slog.Logger) Observer {
	return func(e Event) {
		topic := TopicClientRegistered
		if e.Kind == EventUnregistered {
			topic = TopicClientDisconnected
		}
		if err := pubsub.Publish(context.Background(), pub, topic, e.UserID, e); err != nil {
			logger.Error("Failed to publish connection lifecycle event",
				"topic", topic.Name(), "connection_id", e.ConnectionID, "user_id", e.UserID, "error", err)
		}
	}
}
