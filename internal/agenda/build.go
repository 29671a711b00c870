// Package agenda turns an agenda data source into a rendered email and fans
// it out to recipients.
package agenda

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"opsdesk/internal/config"
	"opsdesk/internal/domain"
	"opsdesk/internal/records"
)

// Source fetches data-source snapshots.
type Source interface {
	FetchSnapshot(ctx context.Context, dataSourceID string) (records.Snapshot, error)
}

// Builder renders agenda documents. It holds no state between calls.
type Builder struct {
	Source     Source
	Template   Template
	EscapeHTML bool
}

// Build fetches the profile's data source and renders its open items.
func (b Builder) Build(ctx context.Context, profile config.AgendaProfile, subject string) (domain.AgendaDocument, error) {
	if b.Source == nil {
		return domain.AgendaDocument{}, fmt.Errorf("agenda source not configured")
	}
	if b.Template.raw == "" {
		return domain.AgendaDocument{}, &TemplateError{Source: "unset", Reason: "no template loaded"}
	}
	snap, err := b.Source.FetchSnapshot(ctx, profile.DataSourceID)
	if err != nil {
		return domain.AgendaDocument{}, err
	}
	items, excluded, err := OpenItems(snap, profile)
	if err != nil {
		return domain.AgendaDocument{}, err
	}
	body := b.renderItems(items, profile.Heading)
	return domain.AgendaDocument{
		Subject:  subject,
		Body:     b.Template.Render(subject, body),
		Items:    items,
		Excluded: excluded,
	}, nil
}

// OpenItems projects the snapshot onto agenda items, keeps the rows whose
// flag is false and sorts them stably by the profile's keys.
func OpenItems(snap records.Snapshot, profile config.AgendaProfile) ([]domain.AgendaItem, int, error) {
	if err := snap.Require(profile.FlagColumn, profile.ItemColumn, profile.DescriptionColumn, profile.PersonColumn); err != nil {
		return nil, 0, err
	}
	items := make([]domain.AgendaItem, 0, len(snap.Rows))
	excluded := 0
	for _, row := range snap.Rows {
		flag, err := row.Bool(profile.FlagColumn)
		if err != nil {
			return nil, 0, err
		}
		if flag {
			excluded++
			continue
		}
		items = append(items, domain.AgendaItem{
			Completed:        flag,
			AgendaItem:       row.Text(profile.ItemColumn),
			BriefDescription: row.Text(profile.DescriptionColumn),
			Person:           row.Text(profile.PersonColumn),
			RecordID:         row.ID,
		})
	}
	switch profile.Sort {
	case config.SortItem:
		sort.SliceStable(items, func(i, j int) bool { return items[i].AgendaItem < items[j].AgendaItem })
	default:
		sort.SliceStable(items, func(i, j int) bool {
			if items[i].Person != items[j].Person {
				return items[i].Person < items[j].Person
			}
			return items[i].AgendaItem < items[j].AgendaItem
		})
	}
	return items, excluded, nil
}

func (b Builder) renderItems(items []domain.AgendaItem, heading string) string {
	if heading == "" {
		heading = "h3"
	}
	esc := func(s string) string { return s }
	if b.EscapeHTML {
		esc = html.EscapeString
	}
	var sb strings.Builder
	for _, it := range items {
		fmt.Fprintf(&sb, "<%s>%s</%s>", heading, esc(it.AgendaItem), heading)
		fmt.Fprintf(&sb, "<p>%s</p>", esc(it.BriefDescription))
		fmt.Fprintf(&sb, "<p>Person: <b>%s</b></p><br>", esc(it.Person))
	}
	return sb.String()
}

// Subject composes "<title> - <date>". A non-empty meetingType replaces the
// profile title with "<meetingType> Meeting Agenda". A zero date is omitted.
func Subject(title, meetingType string, date time.Time) string {
	if mt := strings.TrimSpace(meetingType); mt != "" {
		title = mt + " Meeting Agenda"
	}
	if date.IsZero() {
		return title
	}
	return fmt.Sprintf("%s - %s", title, date.Format("2 Jan 2006"))
}
