package repo_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsdesk/internal/db"
	"opsdesk/internal/domain"
	"opsdesk/internal/events"
	"opsdesk/internal/migrate"
	"opsdesk/internal/repo"
)

func openJournal(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	// migrating twice is a no-op
	require.NoError(t, migrate.Migrate(conn))
	return conn
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	conn := openJournal(t)
	r := repo.Repo{DB: conn}
	w := events.Writer{DB: conn}

	tx, err := conn.BeginTx(ctx, nil)
	require.NoError(t, err)
	run := domain.Run{ID: "run-1", Kind: "agenda.send", Target: "partners", Actor: "ann", Status: domain.RunRunning, StartedAt: "2026-02-06T09:00:00Z"}
	require.NoError(t, r.InsertRun(ctx, tx, run))
	require.NoError(t, w.Append(ctx, tx, run.ID, events.EmailSent, "email", "a@example.com", events.EventPayload{"message_id": "m1"}))
	require.NoError(t, w.Append(ctx, tx, "", events.RecordCreated, "record", "", nil))
	require.NoError(t, tx.Commit())

	tx, err = conn.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, r.FinishRun(ctx, tx, run.ID, domain.RunSucceeded, "2026-02-06T09:00:05Z", `{"sent":1}`, ""))
	require.ErrorIs(t, r.FinishRun(ctx, tx, "missing", domain.RunFailed, "x", "", "boom"), repo.ErrNotFound)
	require.NoError(t, tx.Commit())

	got, err := r.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunSucceeded, got.Status)
	require.NotNil(t, got.FinishedAt)
	assert.Equal(t, `{"sent":1}`, got.Summary)
	assert.Empty(t, got.Error)
	assert.Equal(t, "ann", got.Actor)

	mine, err := r.ListRuns(ctx, repo.RunFilters{Actor: "ann"})
	require.NoError(t, err)
	assert.Len(t, mine, 1)
	others, err := r.ListRuns(ctx, repo.RunFilters{Actor: "bob"})
	require.NoError(t, err)
	assert.Empty(t, others)

	_, err = r.GetRun(ctx, "missing")
	require.ErrorIs(t, err, repo.ErrNotFound)

	evts, err := r.LatestEvents(ctx, repo.EventFilters{RunID: run.ID})
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, events.EmailSent, evts[0].Type)
	assert.JSONEq(t, `{"message_id":"m1"}`, evts[0].Payload)

	all, err := r.LatestEvents(ctx, repo.EventFilters{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Greater(t, all[0].ID, all[1].ID)
	assert.Empty(t, all[0].RunID)

	older, err := r.LatestEvents(ctx, repo.EventFilters{Cursor: all[0].ID})
	require.NoError(t, err)
	require.Len(t, older, 1)
	assert.Equal(t, all[1].ID, older[0].ID)
}

func TestListRuns(t *testing.T) {
	ctx := context.Background()
	conn := openJournal(t)
	r := repo.Repo{DB: conn}

	tx, err := conn.BeginTx(ctx, nil)
	require.NoError(t, err)
	for _, run := range []domain.Run{
		{ID: "a", Kind: "agenda.send", Target: "partners", Status: domain.RunRunning, StartedAt: "2026-02-06T09:00:00Z"},
		{ID: "b", Kind: "trending.run", Target: "ds", Status: domain.RunRunning, StartedAt: "2026-02-06T10:00:00Z"},
		{ID: "c", Kind: "agenda.send", Target: "team", Status: domain.RunRunning, StartedAt: "2026-02-06T11:00:00Z"},
	} {
		require.NoError(t, r.InsertRun(ctx, tx, run))
	}
	require.NoError(t, tx.Commit())

	runs, err := r.ListRuns(ctx, repo.RunFilters{})
	require.NoError(t, err)
	ids := []string{}
	for _, run := range runs {
		ids = append(ids, run.ID)
	}
	assert.Equal(t, []string{"c", "b", "a"}, ids)

	runs, err = r.ListRuns(ctx, repo.RunFilters{Kind: "agenda.send", Limit: 1})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "c", runs[0].ID)
}
