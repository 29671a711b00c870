package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsdesk/internal/agenda"
	"opsdesk/internal/config"
	"opsdesk/internal/db"
	"opsdesk/internal/domain"
	"opsdesk/internal/engine"
	"opsdesk/internal/events"
	"opsdesk/internal/feed"
	"opsdesk/internal/lock"
	"opsdesk/internal/mail"
	"opsdesk/internal/migrate"
	"opsdesk/internal/pages"
	"opsdesk/internal/records"
	"opsdesk/internal/repo"
	"opsdesk/internal/workspace"
)

// fakeStore is an in-memory workspace keyed by data source.
type fakeStore struct {
	mu       sync.Mutex
	rows     map[string][]records.Row
	trashed  map[string]bool
	appended map[string]int
	seq      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[string][]records.Row{}, trashed: map[string]bool{}, appended: map[string]int{}}
}

func (f *fakeStore) FetchSnapshot(_ context.Context, ds string) (records.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := records.Snapshot{DataSourceID: ds}
	for _, r := range f.rows[ds] {
		if !f.trashed[r.ID] {
			snap.Rows = append(snap.Rows, r)
		}
	}
	return snap, nil
}

func (f *fakeStore) CreateRecord(_ context.Context, ds string, props records.Properties, _ string) (workspace.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s/%d", ds, f.seq))).String()
	row := records.Row{ID: id, Properties: map[string]records.Value{}}
	for col, raw := range props {
		row.Properties[col] = flatten(raw.(map[string]any))
	}
	f.rows[ds] = append(f.rows[ds], row)
	return workspace.Record{ID: id, URL: "https://notion.so/" + id}, nil
}

func flatten(p map[string]any) records.Value {
	for typ, v := range p {
		switch typ {
		case "title", "rich_text":
			rich := v.([]map[string]any)
			return records.Value{Type: typ, Text: rich[0]["text"].(map[string]any)["content"].(string)}
		case "number":
			n := v.(float64)
			return records.Value{Type: typ, Number: &n}
		case "date":
			return records.Value{Type: typ, Text: v.(map[string]any)["start"].(string)}
		case "url":
			s, _ := v.(string)
			return records.Value{Type: typ, Text: s}
		case "select":
			return records.Value{Type: typ, Text: v.(map[string]any)["name"].(string)}
		}
	}
	return records.Value{}
}

func (f *fakeStore) RetireRecord(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trashed[id] = true
	return nil
}

func (f *fakeStore) AppendContent(_ context.Context, id string, blocks []workspace.Block, _ int) (workspace.AppendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended[id] += len(blocks)
	return workspace.AppendResult{Batches: 1, Appended: len(blocks)}, nil
}

func (f *fakeStore) ListChildren(context.Context, string) ([]workspace.Block, error) {
	return nil, nil
}

func (f *fakeStore) add(ds string, row records.Row) {
	f.rows[ds] = append(f.rows[ds], row)
}

type fakeMailer struct {
	sent []mail.Message
	fail map[string]error
}

func (m *fakeMailer) Send(_ context.Context, msg mail.Message) (mail.Receipt, error) {
	if err := m.fail[msg.To]; err != nil {
		return mail.Receipt{}, err
	}
	m.sent = append(m.sent, msg)
	return mail.Receipt{ID: fmt.Sprintf("msg-%d", len(m.sent))}, nil
}

type fakeLLM struct{ prompts []string }

func (l *fakeLLM) Complete(_ context.Context, prompt, _, _ string) (string, error) {
	l.prompts = append(l.prompts, prompt)
	return "all good", nil
}

type fakeFeed struct{ repos []feed.Repo }

func (f fakeFeed) FetchDailyTrending(context.Context, string, string, string) ([]feed.Repo, error) {
	return f.repos, nil
}

type testEnv struct {
	Engine engine.Engine
	Store  *fakeStore
	Mailer *fakeMailer
	LLM    *fakeLLM
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	cfg := config.Default()
	p := cfg.Agendas["partners"]
	p.DataSourceID = "agenda-ds"
	cfg.Agendas["partners"] = p
	cfg.Trending.DataSourceID = "trending-ds"
	cfg.Tasks.DataSourceID = "tasks-ds"
	cfg.Colleagues.DataSourceID = "colleagues-ds"
	cfg.Pages.DataSourceID = "pages-ds"

	store := newFakeStore()
	mailer := &fakeMailer{fail: map[string]error{}}
	llm := &fakeLLM{}
	eng, err := engine.New(conn, cfg, engine.Deps{
		Store:  store,
		Mailer: mailer,
		LLM:    llm,
		Feed: fakeFeed{repos: []feed.Repo{
			{FullName: "acme/rocket", Owner: "acme", URL: "https://github.com/acme/rocket", StarsToday: 50, TotalStars: 900},
			{FullName: "zeta/lib", Owner: "zeta", URL: "https://github.com/zeta/lib", StarsToday: 20, TotalStars: 100},
		}},
	})
	require.NoError(t, err)
	eng.Now = func() time.Time { return time.Date(2026, 2, 6, 9, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Store: store, Mailer: mailer, LLM: llm, Ctx: context.Background()}
}

func agendaRow(id string, completed bool, item, person string) records.Row {
	return records.Row{ID: id, Properties: map[string]records.Value{
		"Completed":         {Type: "checkbox", Bool: completed},
		"Agenda Item":       {Type: "title", Text: item},
		"Brief Description": {Type: "rich_text", Text: item + " details"},
		"Person":            {Type: "rich_text", Text: person},
	}}
}

func seedAgenda(env testEnv) {
	env.Store.add("agenda-ds", agendaRow("r1", false, "Budget", "Ann"))
	env.Store.add("agenda-ds", agendaRow("r2", true, "Old item", "Bob"))
	env.Store.add("agenda-ds", agendaRow("r3", false, "Hiring", "Ann"))
}

func eventTypes(t *testing.T, env testEnv, runID string) []string {
	t.Helper()
	evts, err := env.Engine.Events(env.Ctx, repo.EventFilters{RunID: runID})
	require.NoError(t, err)
	out := make([]string, len(evts))
	for i, e := range evts {
		out[len(evts)-1-i] = e.Type
	}
	return out
}

func TestSendAgenda(t *testing.T) {
	env := newTestEnv(t)
	seedAgenda(env)

	res, err := env.Engine.SendAgenda(env.Ctx, engine.AgendaRequest{
		Profile:    "partners",
		Recipients: []string{"a@example.com", "b@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Partners' Meeting Agenda - 6 Feb 2026", res.Document.Subject)
	assert.Len(t, res.Document.Items, 2)
	require.Len(t, res.Outcomes, 2)
	assert.Len(t, env.Mailer.sent, 2)
	assert.Equal(t, "hello@attribut.me", env.Mailer.sent[0].From)

	run, err := env.Engine.Run(env.Ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunSucceeded, run.Status)
	assert.Equal(t, engine.KindAgendaSend, run.Kind)
	assert.JSONEq(t, `{"subject":"Partners' Meeting Agenda - 6 Feb 2026","items":2,"excluded":1,"recipients":2,"sent":2,"failed":0}`, run.Summary)

	assert.Equal(t, []string{events.RunStarted, events.EmailSent, events.EmailSent, events.RunSucceeded}, eventTypes(t, env, res.RunID))
}

func TestSendAgendaAbortsOnFailure(t *testing.T) {
	env := newTestEnv(t)
	seedAgenda(env)
	env.Mailer.fail["b@example.com"] = errors.New("mail api error: status=422")

	res, err := env.Engine.SendAgenda(env.Ctx, engine.AgendaRequest{
		Profile:    "partners",
		Recipients: []string{"a@example.com", "b@example.com", "c@example.com"},
	})
	require.ErrorIs(t, err, agenda.ErrDispatchAborted)
	require.Len(t, res.Outcomes, 2)
	assert.False(t, res.Outcomes[1].OK())
	assert.Len(t, env.Mailer.sent, 1)

	run, err := env.Engine.Run(env.Ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunFailed, run.Status)
	assert.Contains(t, run.Error, "status=422")
	assert.Equal(t, []string{events.RunStarted, events.EmailSent, events.EmailFailed, events.RunFailed}, eventTypes(t, env, res.RunID))
}

func TestSendAgendaWithoutRecipients(t *testing.T) {
	env := newTestEnv(t)
	seedAgenda(env)

	res, err := env.Engine.SendAgenda(env.Ctx, engine.AgendaRequest{Profile: "partners"})
	require.NoError(t, err)
	assert.Empty(t, res.Outcomes)
	assert.Empty(t, env.Mailer.sent)
	assert.Equal(t, "Partners' Meeting Agenda - 6 Feb 2026", res.Document.Subject)
	assert.Contains(t, res.Document.Body, "<h3>Budget</h3>")

	run, err := env.Engine.Run(env.Ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunSucceeded, run.Status)
	assert.JSONEq(t, `{"subject":"Partners' Meeting Agenda - 6 Feb 2026","items":2,"excluded":1,"recipients":0,"sent":0,"failed":0}`, run.Summary)
	assert.Equal(t, []string{events.RunStarted, events.RunSucceeded}, eventTypes(t, env, res.RunID))
}

func TestSendAgendaFailsFastWhenLeaseHeld(t *testing.T) {
	env := newTestEnv(t)
	seedAgenda(env)
	_, err := env.Engine.Locker.Acquire(env.Ctx, "agenda:agenda-ds", "other-run", time.Hour)
	require.NoError(t, err)

	_, err = env.Engine.SendAgenda(env.Ctx, engine.AgendaRequest{Profile: "partners", Recipients: []string{"a@example.com"}})
	require.ErrorIs(t, err, lock.ErrHeld)
	assert.Empty(t, env.Mailer.sent)

	runs, err := env.Engine.Runs(env.Ctx, repo.RunFilters{})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestSendAgendaPreviewOnly(t *testing.T) {
	env := newTestEnv(t)
	seedAgenda(env)

	res, err := env.Engine.SendAgenda(env.Ctx, engine.AgendaRequest{
		Profile:     "partners",
		Recipients:  []string{"a@example.com"},
		MeetingType: "Board",
		MeetingDate: "2026-03-01",
		PreviewOnly: true,
	})
	require.NoError(t, err)
	assert.Empty(t, res.RunID)
	assert.Equal(t, "Board Meeting Agenda - 1 Mar 2026", res.Document.Subject)
	assert.Contains(t, res.Document.Body, "<h3>Budget</h3>")
	assert.Empty(t, env.Mailer.sent)
}

func TestSendAgendaResolvesColleagueNames(t *testing.T) {
	env := newTestEnv(t)
	seedAgenda(env)
	env.Store.add("colleagues-ds", records.Row{ID: "c1", Properties: map[string]records.Value{
		"Name":      {Type: "title", Text: "Ann Lee"},
		"Job Title": {Type: "rich_text", Text: "Partner"},
		"Email":     {Type: "email", Text: "ann@example.com"},
	}})

	_, err := env.Engine.SendAgenda(env.Ctx, engine.AgendaRequest{Profile: "partners", Recipients: []string{"Ann Lee", "x@example.com"}})
	require.NoError(t, err)
	require.Len(t, env.Mailer.sent, 2)
	assert.Equal(t, "ann@example.com", env.Mailer.sent[0].To)

	_, err = env.Engine.SendAgenda(env.Ctx, engine.AgendaRequest{Profile: "partners", Recipients: []string{"Nobody"}})
	require.ErrorContains(t, err, "unknown recipient(s): Nobody")
}

func TestUnknownProfile(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.PreviewAgenda(env.Ctx, engine.AgendaRequest{Profile: "board"})
	require.ErrorContains(t, err, `unknown agenda profile "board"`)
}

func TestRunTrending(t *testing.T) {
	env := newTestEnv(t)
	// yesterday's copy of acme/rocket is retired by today's ingestion
	env.Store.add("trending-ds", records.Row{ID: "old", Properties: map[string]records.Value{
		"Name": {Type: "title", Text: "acme/rocket"},
		"Date": {Type: "date", Text: "2026-02-05"},
	}})

	res, err := env.Engine.RunTrending(env.Ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Written)
	assert.Equal(t, []string{"old"}, res.Dedup.Retired)
	assert.True(t, env.Store.trashed["old"])

	types := eventTypes(t, env, res.RunID)
	assert.Equal(t, []string{events.RunStarted, events.RecordCreated, events.RecordCreated, events.RecordRetired, events.RunSucceeded}, types)

	again, err := env.Engine.DeduplicateTrending(env.Ctx)
	require.NoError(t, err)
	assert.Empty(t, again.Retired)
	assert.Equal(t, 2, again.Kept)
}

func TestDigestTasks(t *testing.T) {
	env := newTestEnv(t)
	for i, status := range []string{"Done", "In progress", "Not started"} {
		env.Store.add("tasks-ds", records.Row{ID: fmt.Sprintf("t%d", i), Properties: map[string]records.Value{
			"Date":     {Type: "date", Text: "2026-02-0" + fmt.Sprint(i+1)},
			"Status":   {Type: "status", Text: status},
			"Priority": {Type: "select", Text: "High"},
			"Task":     {Type: "title", Text: "task " + status},
			"Formula":  {Type: "formula"},
		}})
	}

	res, err := env.Engine.DigestTasks(env.Ctx, "", "")
	require.NoError(t, err)
	assert.Len(t, res.Tasks, 2)
	assert.Equal(t, "all good", res.Summary)
	require.Len(t, env.LLM.prompts, 1)
	assert.Contains(t, env.LLM.prompts[0], "task In progress")
	assert.NotContains(t, env.LLM.prompts[0], "task Done")

	run, err := env.Engine.Run(env.Ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, engine.KindTasksDigest, run.Kind)
}

func TestPages(t *testing.T) {
	env := newTestEnv(t)

	created, err := env.Engine.CreatePage(env.Ctx, pages.PageInput{Title: "Retro", Markdown: "# Wins\n\n- shipped"})
	require.NoError(t, err)
	assert.Equal(t, 2, created.Blocks)
	assert.Equal(t, 2, env.Store.appended[created.PageID])
	assert.Equal(t, []string{events.RunStarted, events.PageCreated, events.RunSucceeded}, eventTypes(t, env, created.RunID))

	appended, err := env.Engine.AppendPage(env.Ctx, created.PageID, "", "summarise the retro", "")
	require.NoError(t, err)
	assert.Equal(t, 1, appended.Blocks)
	assert.Equal(t, []string{"summarise the retro"}, env.LLM.prompts)

	_, err = env.Engine.AppendPage(env.Ctx, created.PageID, "", "", "")
	require.ErrorIs(t, err, pages.ErrNoValidBlocks)
}

func TestNotConfigured(t *testing.T) {
	env := newTestEnv(t)
	eng := env.Engine
	eng.Store = nil
	eng.LLM = nil

	_, err := eng.OpenTasks(env.Ctx)
	require.ErrorIs(t, err, engine.ErrNotConfigured)
	_, err = eng.DigestTasks(env.Ctx, "", "")
	require.ErrorIs(t, err, engine.ErrNotConfigured)
}
