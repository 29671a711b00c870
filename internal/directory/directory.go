// Package directory lists colleagues from the workspace store.
package directory

import (
	"context"

	"opsdesk/internal/config"
	"opsdesk/internal/domain"
	"opsdesk/internal/records"
)

type Source interface {
	FetchSnapshot(ctx context.Context, dataSourceID string) (records.Snapshot, error)
}

// ListColleagues projects the colleagues data source onto name, job title
// and email, in snapshot order.
func ListColleagues(ctx context.Context, src Source, cfg config.ColleaguesConfig) ([]domain.Colleague, error) {
	snap, err := src.FetchSnapshot(ctx, cfg.DataSourceID)
	if err != nil {
		return nil, err
	}
	cols := cfg.Columns
	if err := snap.Require(cols.Name, cols.JobTitle, cols.Email); err != nil {
		return nil, err
	}
	out := make([]domain.Colleague, 0, len(snap.Rows))
	for _, row := range snap.Rows {
		out = append(out, domain.Colleague{
			Name:     row.Text(cols.Name),
			JobTitle: row.Text(cols.JobTitle),
			Email:    row.Text(cols.Email),
			RecordID: row.ID,
		})
	}
	return out, nil
}

// Emails returns the addresses of the named colleagues, in the order asked.
// Unknown names are returned separately.
func Emails(all []domain.Colleague, names []string) (emails, unknown []string) {
	byName := make(map[string]string, len(all))
	for _, c := range all {
		byName[c.Name] = c.Email
	}
	for _, n := range names {
		if e, ok := byName[n]; ok && e != "" {
			emails = append(emails, e)
			continue
		}
		unknown = append(unknown, n)
	}
	return emails, unknown
}
