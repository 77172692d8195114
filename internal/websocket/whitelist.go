package websocket

import (
	"slices"
	"sync"
)

// frameWhitelist is the set of frame types clients may send.
type frameWhitelist struct {
	mu      sync.RWMutex
	allowed []string
}

func newFrameWhitelist(types ...string) *frameWhitelist {
	w := &frameWhitelist{}
	for _, t := range types {
		w.Allow(t)
	}
	return w
}

// IsAllowed reports whether frameType may be sent by clients.
func (w *frameWhitelist) IsAllowed(frameType string) bool {
	if frameType == "" {
		return false
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return slices.Contains(w.allowed, frameType)
}

// Allow adds frameType to the whitelist. Empty and duplicate types are ignored.
func (w *frameWhitelist) Allow(frameType string) {
	if frameType == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !slices.Contains(w.allowed, frameType) {
		w.allowed = append(w.allowed, frameType)
	}
}
