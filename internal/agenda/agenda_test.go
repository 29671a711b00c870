package agenda

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsdesk/internal/config"
	"opsdesk/internal/domain"
	"opsdesk/internal/mail"
	"opsdesk/internal/records"
)

type fakeSource struct {
	snap  records.Snapshot
	err   error
	calls int
}

func (f *fakeSource) FetchSnapshot(_ context.Context, id string) (records.Snapshot, error) {
	f.calls++
	if f.err != nil {
		return records.Snapshot{}, f.err
	}
	s := f.snap
	s.DataSourceID = id
	return s, nil
}

func agendaRow(id string, completed bool, item, desc, person string) records.Row {
	return records.Row{ID: id, Properties: map[string]records.Value{
		"Completed":         {Type: "checkbox", Bool: completed},
		"Agenda Item":       {Type: "title", Text: item},
		"Brief Description": {Type: "rich_text", Text: desc},
		"Person":            {Type: "rich_text", Text: person},
	}}
}

func partners() config.AgendaProfile {
	return config.Default().Agendas["partners"]
}

func TestBuildEndToEnd(t *testing.T) {
	src := &fakeSource{snap: records.Snapshot{Rows: []records.Row{
		agendaRow("r1", false, "Rota", "Summer cover", "Zed"),
		agendaRow("r2", true, "Old item", "done already", "Ann"),
		agendaRow("r3", false, "Budget", "Q3 numbers", "Ann"),
	}}}
	b := Builder{Source: src, Template: DefaultTemplate(), EscapeHTML: true}

	doc, err := b.Build(context.Background(), partners(), "Partners' Meeting Agenda - 6 Feb 2026")
	require.NoError(t, err)

	assert.Equal(t, 2, strings.Count(doc.Body, "<h3>"))
	require.Len(t, doc.Items, 2)
	assert.Equal(t, "r3", doc.Items[0].RecordID)
	assert.Equal(t, "r1", doc.Items[1].RecordID)
	assert.Less(t, strings.Index(doc.Body, "Budget"), strings.Index(doc.Body, "Rota"))
	assert.Contains(t, doc.Body, "<h3>Budget</h3><p>Q3 numbers</p><p>Person: <b>Ann</b></p><br>")
	assert.NotContains(t, doc.Body, "Old item")
	assert.Equal(t, 1, doc.Excluded)
}

func TestBuildPartitionsAndSorts(t *testing.T) {
	rows := []records.Row{
		agendaRow("a", false, "b", "", "Bo"),
		agendaRow("b", true, "a", "", "Al"),
		agendaRow("c", false, "a", "", "Bo"),
		agendaRow("d", false, "Z", "", "Al"),
		agendaRow("e", false, "a", "", "Al"),
		agendaRow("f", true, "x", "", "Cy"),
		agendaRow("g", false, "a", "", "Al"),
	}
	items, excluded, err := OpenItems(records.Snapshot{Rows: rows}, partners())
	require.NoError(t, err)
	assert.Equal(t, len(rows), len(items)+excluded)
	for _, it := range items {
		assert.False(t, it.Completed)
	}
	for i := 1; i < len(items); i++ {
		prev, cur := items[i-1], items[i]
		ordered := prev.Person < cur.Person || (prev.Person == cur.Person && prev.AgendaItem <= cur.AgendaItem)
		assert.True(t, ordered, "%v before %v", prev, cur)
	}
	// case-sensitive: "Z" < "a"; ties keep snapshot order (e before g).
	var ids []string
	for _, it := range items {
		ids = append(ids, it.RecordID)
	}
	assert.Equal(t, []string{"d", "e", "g", "c", "a"}, ids)
}

func TestOpenItemsItemSort(t *testing.T) {
	profile := partners()
	profile.Sort = config.SortItem
	profile.FlagColumn = "Discussed"
	row := func(id, item, person string) records.Row {
		r := agendaRow(id, false, item, "", person)
		delete(r.Properties, "Completed")
		r.Properties["Discussed"] = records.Value{Type: "checkbox"}
		return r
	}
	items, _, err := OpenItems(records.Snapshot{Rows: []records.Row{row("1", "b", "A"), row("2", "a", "Z")}}, profile)
	require.NoError(t, err)
	assert.Equal(t, "2", items[0].RecordID)
}

func TestBuildIsDeterministic(t *testing.T) {
	src := &fakeSource{snap: records.Snapshot{Rows: []records.Row{
		agendaRow("1", false, "x", "d1", "P"),
		agendaRow("2", false, "x", "d2", "P"),
	}}}
	b := Builder{Source: src, Template: DefaultTemplate()}
	first, err := b.Build(context.Background(), partners(), "S")
	require.NoError(t, err)
	second, err := b.Build(context.Background(), partners(), "S")
	require.NoError(t, err)
	assert.Equal(t, first.Subject, second.Subject)
	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, 2, src.calls, "snapshots are fetched fresh every run")
}

func TestBuildSubstitutesTemplateOnce(t *testing.T) {
	src := &fakeSource{snap: records.Snapshot{Rows: []records.Row{agendaRow("1", false, "x", "y", "z")}}}
	subject := "Team Meeting Agenda - 1 Mar 2026"
	doc, err := Builder{Source: src, Template: DefaultTemplate()}.Build(context.Background(), partners(), subject)
	require.NoError(t, err)
	assert.NotContains(t, doc.Body, SubjectToken)
	assert.NotContains(t, doc.Body, BodyToken)
	assert.Equal(t, 1, strings.Count(doc.Body, subject))
}

func TestRenderIsSinglePass(t *testing.T) {
	tpl, err := ParseTemplate("t", "<title>{{SUBJECT}}</title><main>{{BODY}}</main>")
	require.NoError(t, err)
	out := tpl.Render("weird {{BODY}}", "b {{SUBJECT}}")
	assert.Equal(t, "<title>weird {{BODY}}</title><main>b {{SUBJECT}}</main>", out)
}

func TestEscaping(t *testing.T) {
	src := &fakeSource{snap: records.Snapshot{Rows: []records.Row{agendaRow("1", false, "<script>x</script>", "a & b", "O'Neil")}}}

	doc, err := Builder{Source: src, Template: DefaultTemplate(), EscapeHTML: true}.Build(context.Background(), partners(), "S")
	require.NoError(t, err)
	assert.NotContains(t, doc.Body, "<script>")
	assert.Contains(t, doc.Body, "&lt;script&gt;")
	assert.Contains(t, doc.Body, "a &amp; b")

	doc, err = Builder{Source: src, Template: DefaultTemplate()}.Build(context.Background(), partners(), "S")
	require.NoError(t, err)
	assert.Contains(t, doc.Body, "<h3><script>x</script></h3>")
}

func TestBuildErrors(t *testing.T) {
	t.Run("fetch failure propagates", func(t *testing.T) {
		boom := errors.New("store unreachable")
		_, err := Builder{Source: &fakeSource{err: boom}, Template: DefaultTemplate()}.Build(context.Background(), partners(), "S")
		assert.ErrorIs(t, err, boom)
	})
	t.Run("missing column fails fast", func(t *testing.T) {
		row := agendaRow("1", false, "x", "y", "z")
		delete(row.Properties, "Person")
		_, err := Builder{Source: &fakeSource{snap: records.Snapshot{Rows: []records.Row{row}}}, Template: DefaultTemplate()}.
			Build(context.Background(), partners(), "S")
		var missing *records.MissingColumnError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, []string{"Person"}, missing.Columns)
	})
	t.Run("no template", func(t *testing.T) {
		_, err := Builder{Source: &fakeSource{}}.Build(context.Background(), partners(), "S")
		var te *TemplateError
		assert.ErrorAs(t, err, &te)
	})
	t.Run("empty snapshot renders empty body", func(t *testing.T) {
		doc, err := Builder{Source: &fakeSource{}, Template: DefaultTemplate()}.Build(context.Background(), partners(), "S")
		require.NoError(t, err)
		assert.Empty(t, doc.Items)
		assert.NotContains(t, doc.Body, BodyToken)
	})
}

func TestLoadTemplate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.html")
	require.NoError(t, os.WriteFile(good, []byte("<h1>{{SUBJECT}}</h1>{{BODY}}"), 0o644))
	tpl, err := LoadTemplate(good)
	require.NoError(t, err)
	assert.Equal(t, "<h1>S</h1>B", tpl.Render("S", "B"))

	dup := filepath.Join(dir, "dup.html")
	require.NoError(t, os.WriteFile(dup, []byte("{{SUBJECT}}{{SUBJECT}}{{BODY}}"), 0o644))
	_, err = LoadTemplate(dup)
	var te *TemplateError
	require.ErrorAs(t, err, &te)
	assert.Contains(t, err.Error(), "found 2")

	_, err = LoadTemplate(filepath.Join(dir, "missing.html"))
	assert.ErrorAs(t, err, &te)

	_, err = LoadTemplate("")
	assert.NoError(t, err)
}

func TestSubject(t *testing.T) {
	d := time.Date(2026, 2, 6, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "Partners' Meeting Agenda - 6 Feb 2026", Subject("Partners' Meeting Agenda", "", d))
	assert.Equal(t, "Clinical Meeting Agenda - 6 Feb 2026", Subject("Partners' Meeting Agenda", "Clinical", d))
	assert.Equal(t, "Team Meeting Agenda", Subject("Team Meeting Agenda", " ", time.Time{}))
}

type fakeSender struct {
	fail map[string]error
	sent []string
}

func (f *fakeSender) Send(_ context.Context, msg mail.Message) (mail.Receipt, error) {
	f.sent = append(f.sent, msg.To)
	if err := f.fail[msg.To]; err != nil {
		return mail.Receipt{}, err
	}
	return mail.Receipt{ID: "id-" + msg.To}, nil
}

func TestDispatchAbortOnFirstFailure(t *testing.T) {
	boom := errors.New("422 invalid recipient")
	sender := &fakeSender{fail: map[string]error{"first@x": boom}}
	d := Dispatcher{Sender: sender, From: "from@x", ReplyTo: "reply@x", Mode: config.FailureAbort}

	outcomes, err := d.Dispatch(context.Background(), domain.AgendaDocument{Subject: "S", Body: "B"}, []string{"first@x", "second@x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDispatchAborted)
	assert.ErrorIs(t, err, boom)
	require.Len(t, outcomes, 1)
	assert.Equal(t, "first@x", outcomes[0].Recipient)
	assert.Contains(t, outcomes[0].Error, "invalid recipient")
	assert.Empty(t, outcomes[0].MessageID)
	assert.Equal(t, []string{"first@x"}, sender.sent, "second recipient must not be contacted")
}

func TestDispatchIsolated(t *testing.T) {
	boom := errors.New("500")
	sender := &fakeSender{fail: map[string]error{"first@x": boom}}
	d := Dispatcher{Sender: sender, Mode: config.FailureIsolate}

	outcomes, err := d.Dispatch(context.Background(), domain.AgendaDocument{Subject: "S", Body: "B"}, []string{"first@x", "second@x"})
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrDispatchAborted)
	require.Len(t, outcomes, 2)
	assert.False(t, outcomes[0].OK())
	assert.True(t, outcomes[1].OK())
	assert.Equal(t, "id-second@x", outcomes[1].MessageID)
	for _, o := range outcomes {
		assert.True(t, (o.MessageID == "") != (o.Error == ""), "exactly one of message id and error")
	}
}

func TestDispatchNoRecipients(t *testing.T) {
	outcomes, err := Dispatcher{Sender: &fakeSender{}}.Dispatch(context.Background(), domain.AgendaDocument{}, nil)
	require.NoError(t, err)
	assert.Empty(t, outcomes)
}
