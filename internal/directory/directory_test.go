package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsdesk/internal/config"
	"opsdesk/internal/records"
)

type fakeSource records.Snapshot

func (f fakeSource) FetchSnapshot(context.Context, string) (records.Snapshot, error) {
	return records.Snapshot(f), nil
}

func person(id, name, title, email string) records.Row {
	return records.Row{ID: id, Properties: map[string]records.Value{
		"Name":      {Type: "title", Text: name},
		"Job Title": {Type: "rich_text", Text: title},
		"Email":     {Type: "email", Text: email},
	}}
}

func TestListColleaguesAndEmails(t *testing.T) {
	src := fakeSource{Rows: []records.Row{
		person("1", "Ann", "GP Partner", "ann@example.org"),
		person("2", "Bo", "Practice Manager", "bo@example.org"),
		person("3", "Cy", "Nurse", ""),
	}}
	all, err := ListColleagues(context.Background(), src, config.Default().Colleagues)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Practice Manager", all[1].JobTitle)

	emails, unknown := Emails(all, []string{"Bo", "Zed", "Ann", "Cy"})
	assert.Equal(t, []string{"bo@example.org", "ann@example.org"}, emails)
	assert.Equal(t, []string{"Zed", "Cy"}, unknown)
}

func TestListColleaguesMissingColumn(t *testing.T) {
	row := person("1", "Ann", "x", "y")
	delete(row.Properties, "Email")
	_, err := ListColleagues(context.Background(), fakeSource{Rows: []records.Row{row}}, config.Default().Colleagues)
	var mc *records.MissingColumnError
	assert.ErrorAs(t, err, &mc)
}
