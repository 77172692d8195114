package database

import (
	"context"
	"testing"

	"github.com/nfrund/relay/internal/database/storetest"
	"github.com/nfrund/relay/internal/domain"
	"github.com/nfrund/relay/internal/testutils"
	"github.com/stretchr/testify/require"
)

func TestSurrealStoreContract(t *testing.T) {
	cfg := testutils.SurrealConfigForTests(t)

	storetest.Run(t, func(t *testing.T) domain.Store {
		s, err := NewStore(context.Background(), cfg)
		require.NoError(t, err)
		return s
	})
}
