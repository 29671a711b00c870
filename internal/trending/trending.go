// Package trending ingests a ranked trending-repositories feed into the
// workspace store and retires duplicate records left by earlier runs.
//
// Ingestion writes first and never checks for an existing record; duplicate
// titles are expected and cleaned up by Deduplicate.
package trending

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"opsdesk/internal/config"
	"opsdesk/internal/domain"
	"opsdesk/internal/feed"
	"opsdesk/internal/metrics"
	"opsdesk/internal/records"
	"opsdesk/internal/workspace"
)

const DefaultLimit = 20

// ErrNoDataSource is returned when the trending data source is not configured.
var ErrNoDataSource = errors.New("trending.data_source_id is not configured")

// Feed lists the repositories trending today.
type Feed interface {
	FetchDailyTrending(ctx context.Context, language, spokenLanguage, period string) ([]feed.Repo, error)
}

// Store is the part of the workspace store the job reads and writes.
type Store interface {
	FetchSnapshot(ctx context.Context, dataSourceID string) (records.Snapshot, error)
	CreateRecord(ctx context.Context, dataSourceID string, props records.Properties, icon string) (workspace.Record, error)
	RetireRecord(ctx context.Context, recordID string) error
}

// Failure is one item-level error that did not stop its batch.
type Failure struct {
	Key   string `json:"key"`
	Error string `json:"error"`
}

// IngestResult reports the records written by one ingestion.
type IngestResult struct {
	Written  int                     `json:"written"`
	Records  []domain.TrendingRecord `json:"records"`
	Failures []Failure               `json:"failures,omitempty"`
}

// DedupResult lists the retired record ids and how many repositories kept a record.
type DedupResult struct {
	Retired  []string  `json:"retired"`
	Kept     int       `json:"kept"`
	Failures []Failure `json:"failures,omitempty"`
}

// RunResult combines an ingestion with the deduplication that followed it.
type RunResult struct {
	Written int          `json:"written"`
	Retired int          `json:"retired"`
	Ingest  IngestResult `json:"ingest"`
	Dedup   DedupResult  `json:"dedup"`
}

// Job runs ingestion and deduplication against one trending data source.
type Job struct {
	Feed   Feed
	Store  Store
	Config config.TrendingConfig
	Now    func() time.Time
	Logger *zap.Logger
}

func (j Job) now() time.Time {
	if j.Now != nil {
		return j.Now()
	}
	return time.Now()
}

func (j Job) logger() *zap.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return zap.NewNop()
}

// IconURL derives a repository owner's avatar URL.
func IconURL(host, owner string) string {
	if host == "" {
		host = "github.com"
	}
	return fmt.Sprintf("https://%s/%s.png", host, owner)
}

// Ingest writes the first limit feed entries, in feed order, as new records
// stamped with today's date. A non-positive limit uses the configured limit.
func (j Job) Ingest(ctx context.Context, limit int) (IngestResult, error) {
	if j.Config.DataSourceID == "" {
		return IngestResult{}, ErrNoDataSource
	}
	if limit <= 0 {
		limit = j.Config.Limit
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	repos, err := j.Feed.FetchDailyTrending(ctx, j.Config.Language, j.Config.SpokenLanguage, j.Config.Period)
	if err != nil {
		return IngestResult{}, err
	}
	if len(repos) > limit {
		repos = repos[:limit]
	}
	cols := j.Config.Columns
	y, m, d := j.now().UTC().Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	res := IngestResult{Records: []domain.TrendingRecord{}}
	for i, r := range repos {
		icon := IconURL(j.Config.IconHost, r.Owner)
		props := records.Properties{}.
			Title(cols.Title, r.FullName).
			URL(cols.URL, r.URL).
			Number(cols.StarsToday, float64(r.StarsToday)).
			Number(cols.TotalStars, float64(r.TotalStars)).
			Date(cols.Date, today)
		rec, err := j.Store.CreateRecord(ctx, j.Config.DataSourceID, props, icon)
		if err != nil {
			if j.Config.OnWriteFailure != config.FailureIsolate {
				return res, fmt.Errorf("write %s (%d of %d): %w", r.FullName, i+1, len(repos), err)
			}
			j.logger().Warn("trending write failed", zap.String("full_name", r.FullName), zap.Error(err))
			res.Failures = append(res.Failures, Failure{Key: r.FullName, Error: err.Error()})
			continue
		}
		metrics.IncrementRecordsWritten("trending")
		res.Written++
		res.Records = append(res.Records, domain.TrendingRecord{
			FullName:      r.FullName,
			URL:           r.URL,
			StarsToday:    r.StarsToday,
			TotalStars:    r.TotalStars,
			IngestionDate: today.Format("2006-01-02"),
			Icon:          icon,
			RecordID:      rec.ID,
		})
	}
	return res, nil
}

// Plan splits a snapshot into the records to keep (newest per title) and
// those to retire. Every row must carry a parseable date.
func Plan(snap records.Snapshot, titleCol, dateCol string) (keep, retire []string, err error) {
	if err := snap.Require(titleCol, dateCol); err != nil {
		return nil, nil, err
	}
	type dated struct {
		id    string
		title string
		date  time.Time
	}
	rows := make([]dated, 0, len(snap.Rows))
	for _, row := range snap.Rows {
		t, ok, err := row.Date(dateCol)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			return nil, nil, &records.DateError{RecordID: row.ID, Column: dateCol}
		}
		rows = append(rows, dated{id: row.ID, title: row.Text(titleCol), date: t})
	}
	sort.SliceStable(rows, func(a, b int) bool { return rows[a].date.After(rows[b].date) })
	seen := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		if _, dup := seen[r.title]; dup {
			retire = append(retire, r.id)
			continue
		}
		seen[r.title] = struct{}{}
		keep = append(keep, r.id)
	}
	return keep, retire, nil
}

// Deduplicate retires every record whose title also appears on a more
// recent (or, on equal dates, earlier-listed) record. Retirement failures
// are logged and skipped; they are absent from Retired.
func (j Job) Deduplicate(ctx context.Context) (DedupResult, error) {
	if j.Config.DataSourceID == "" {
		return DedupResult{}, ErrNoDataSource
	}
	snap, err := j.Store.FetchSnapshot(ctx, j.Config.DataSourceID)
	if err != nil {
		return DedupResult{}, err
	}
	keep, retire, err := Plan(snap, j.Config.Columns.Title, j.Config.Columns.Date)
	if err != nil {
		return DedupResult{}, err
	}
	res := DedupResult{Retired: []string{}, Kept: len(keep)}
	for _, id := range retire {
		if err := j.Store.RetireRecord(ctx, id); err != nil {
			metrics.IncrementRecordsRetired("failed")
			j.logger().Warn("retire duplicate failed", zap.String("record_id", id), zap.Error(err))
			res.Failures = append(res.Failures, Failure{Key: id, Error: err.Error()})
			continue
		}
		metrics.IncrementRecordsRetired("retired")
		res.Retired = append(res.Retired, id)
	}
	return res, nil
}

// Run ingests then deduplicates. A fatal ingestion error skips the dedup
// pass; records already written stay and are cleaned up on the next run.
func (j Job) Run(ctx context.Context, limit int) (RunResult, error) {
	ing, err := j.Ingest(ctx, limit)
	out := RunResult{Written: ing.Written, Ingest: ing}
	if err != nil {
		return out, fmt.Errorf("ingest: %w", err)
	}
	dd, err := j.Deduplicate(ctx)
	out.Dedup = dd
	out.Retired = len(dd.Retired)
	if err != nil {
		return out, fmt.Errorf("deduplicate: %w", err)
	}
	return out, nil
}
