package sqlstore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aretw0/weave/pkg/adapters/sqlstore"
	"github.com/aretw0/weave/pkg/domain"
	"github.com/aretw0/weave/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T) *sqlstore.Store {
	t.Helper()
	store, err := sqlstore.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "weave.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_Contract(t *testing.T) {
	ports.RunStateStoreContract(t, openSQLite(t))
}

func TestSQLiteProgramStore_Contract(t *testing.T) {
	ports.RunProgramStoreContract(t, openSQLite(t))
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weave.db")
	ctx := context.Background()

	store, err := sqlstore.OpenSQLite(ctx, path)
	require.NoError(t, err)
	frame := domain.NewFrame("run-reopen", "prog", 1, map[string]any{"k": "v"})
	require.NoError(t, store.SaveCheckpoint(ctx, domain.Checkpoint{RunID: "run-reopen", Frame: frame, AtMs: 42}))
	require.NoError(t, store.Close())

	store, err = sqlstore.OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer store.Close()

	cp, err := store.LoadCheckpoint(ctx, "run-reopen")
	require.NoError(t, err)
	assert.Equal(t, int64(42), cp.AtMs)
	assert.Equal(t, "v", cp.Frame.Env.State["k"])
}

func TestMySQLStore_InvalidDSN(t *testing.T) {
	_, err := sqlstore.OpenMySQL(context.Background(), "invalid:dsn:string")
	assert.ErrorContains(t, err, "invalid MySQL DSN")
}

func TestMySQLStore_Contract(t *testing.T) {
	dsn := os.Getenv("WEAVE_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("Skipping MySQL tests: WEAVE_TEST_MYSQL_DSN not set")
	}
	store, err := sqlstore.OpenMySQL(context.Background(), dsn)
	require.NoError(t, err)
	defer store.Close()

	ports.RunStateStoreContract(t, store)
	ports.RunProgramStoreContract(t, store)
}
