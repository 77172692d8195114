package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nfrund/relay/internal/database/storetest"
	"github.com/nfrund/relay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	return s
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) domain.Store {
		return openTestStore(t)
	})
}

func TestStoreContractInMemory(t *testing.T) {
	storetest.Run(t, func(t *testing.T) domain.Store {
		s, err := Open(context.Background(), MemoryPath)
		require.NoError(t, err)
		return s
	})
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), "  ")
	assert.Error(t, err)
}

func TestReopenKeepsDataAndSkipsAppliedMigrations(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "relay.db")

	s, err := Open(ctx, path)
	require.NoError(t, err)
	u, err := s.CreateUser(ctx, domain.NewUser{Username: "alice"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)

	var applied int
	require.NoError(t, s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+migrationTable).Scan(&applied))
	assert.Equal(t, 1, applied)
}

func TestUpSection(t *testing.T) {
	assert.Equal(t, "\nCREATE TABLE a (id TEXT);\n",
		upSection("-- +migrate Up\nCREATE TABLE a (id TEXT);\n-- +migrate Down\nDROP TABLE a;"))
	assert.Equal(t, "CREATE TABLE b (id TEXT);", upSection("CREATE TABLE b (id TEXT);"))
}
