package app

import (
	"github.com/nfrund/relay/internal/module"
	"github.com/nfrund/relay/internal/modules/messaging"
)

// NewModules creates and returns the list of all active modules for the application.
// This is the single source of truth for which features are enabled.
func NewModules() []module.Module {
	return []module.Module{
		messaging.New(),
	}
}
