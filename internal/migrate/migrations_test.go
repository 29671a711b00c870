package migrate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsdesk/internal/db"
)

func TestApplyIsIncremental(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()

	v, err := Version(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, 0, v)

	all, err := Load()
	require.NoError(t, err)
	require.NotEmpty(t, all)

	applied, err := Apply(ctx, conn)
	require.NoError(t, err)
	assert.Len(t, applied, len(all))
	assert.Equal(t, "001_init.sql", applied[0].Name)

	again, err := Apply(ctx, conn)
	require.NoError(t, err)
	assert.Empty(t, again)

	v, err = Version(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, all[len(all)-1].Version, v)

	for _, table := range []string{"runs", "events", "leases"} {
		var n int
		require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n))
		assert.Equal(t, 1, n, table)
	}
}
