package presence

import "github.com/nfrund/relay/internal/pubsub"

// StatusChange is published when a user comes online or goes offline.
type StatusChange struct {
	UserID      string `json:"userId"`
	Status      Status `json:"status"`
	Connections int    `json:"connections"`
	Reason      string `json:"reason,omitempty"`
}

// TopicUserStatus announces online/offline transitions.
var TopicUserStatus = pubsub.NewEvent[StatusChange]("presence.user.status",
	"Published when a user's first connection registers or last connection leaves")
