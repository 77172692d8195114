package messaging

import (
	"errors"

	"github.com/nfrund/relay/internal/domain"
)

func isNotFound(err error) bool { return errors.Is(err, domain.ErrNotFound) }

func isConflict(err error) bool { return errors.Is(err, domain.ErrConflict) }
