package engine

import (
	"context"

	"opsdesk/internal/events"
	"opsdesk/internal/logging"
	"opsdesk/internal/trending"
)

type IngestReport struct {
	RunID string `json:"run_id"`
	trending.IngestResult
}

type DedupReport struct {
	RunID string `json:"run_id"`
	trending.DedupResult
}

type TrendingReport struct {
	RunID string `json:"run_id"`
	trending.RunResult
}

func (e Engine) trendingJob(ctx context.Context) (trending.Job, error) {
	st, err := e.store()
	if err != nil {
		return trending.Job{}, err
	}
	if e.Config.Trending.DataSourceID == "" {
		return trending.Job{}, trending.ErrNoDataSource
	}
	return trending.Job{
		Feed:   e.Feed,
		Store:  st,
		Config: e.Config.Trending,
		Now:    e.now,
		Logger: logging.FromContext(ctx, e.Logger),
	}, nil
}

func (e Engine) trendingLock() string {
	return "trending:" + e.Config.Trending.DataSourceID
}

// IngestTrending writes today's top trending repositories as new records.
func (e Engine) IngestTrending(ctx context.Context, limit int) (IngestReport, error) {
	if _, err := e.trendingJob(ctx); err != nil {
		return IngestReport{}, err
	}
	var res IngestReport
	runID, err := e.journal(ctx, KindTrendingIngest, e.Config.Trending.DataSourceID, e.trendingLock(), func(ctx context.Context, _ string) (any, []pending, error) {
		job, _ := e.trendingJob(ctx)
		out, err := job.Ingest(ctx, limit)
		res.IngestResult = out
		return ingestSummary(out), ingestEvents(out), err
	})
	res.RunID = runID
	return res, err
}

// DeduplicateTrending retires all but the newest record of each repository.
func (e Engine) DeduplicateTrending(ctx context.Context) (DedupReport, error) {
	if _, err := e.trendingJob(ctx); err != nil {
		return DedupReport{}, err
	}
	var res DedupReport
	runID, err := e.journal(ctx, KindTrendingDedup, e.Config.Trending.DataSourceID, e.trendingLock(), func(ctx context.Context, _ string) (any, []pending, error) {
		job, _ := e.trendingJob(ctx)
		out, err := job.Deduplicate(ctx)
		res.DedupResult = out
		return dedupSummary(out), dedupEvents(out), err
	})
	res.RunID = runID
	return res, err
}

// RunTrending ingests then deduplicates as one run.
func (e Engine) RunTrending(ctx context.Context, limit int) (TrendingReport, error) {
	if _, err := e.trendingJob(ctx); err != nil {
		return TrendingReport{}, err
	}
	var res TrendingReport
	runID, err := e.journal(ctx, KindTrendingRun, e.Config.Trending.DataSourceID, e.trendingLock(), func(ctx context.Context, _ string) (any, []pending, error) {
		job, _ := e.trendingJob(ctx)
		out, err := job.Run(ctx, limit)
		res.RunResult = out
		evts := append(ingestEvents(out.Ingest), dedupEvents(out.Dedup)...)
		return map[string]any{"written": out.Written, "retired": out.Retired}, evts, err
	})
	res.RunID = runID
	return res, err
}

func ingestSummary(r trending.IngestResult) map[string]any {
	return map[string]any{"written": r.Written, "failed": len(r.Failures)}
}

func dedupSummary(r trending.DedupResult) map[string]any {
	return map[string]any{"retired": len(r.Retired), "kept": r.Kept, "failed": len(r.Failures)}
}

func ingestEvents(r trending.IngestResult) []pending {
	var out []pending
	for _, rec := range r.Records {
		out = append(out, pending{Type: events.RecordCreated, EntityKind: "trending_record", EntityID: rec.RecordID,
			Payload: events.EventPayload{"full_name": rec.FullName, "stars_today": rec.StarsToday, "date": rec.IngestionDate}})
	}
	for _, f := range r.Failures {
		out = append(out, pending{Type: events.RecordFailed, EntityKind: "trending_record", EntityID: f.Key,
			Payload: events.EventPayload{"error": f.Error}})
	}
	return out
}

func dedupEvents(r trending.DedupResult) []pending {
	var out []pending
	for _, id := range r.Retired {
		out = append(out, pending{Type: events.RecordRetired, EntityKind: "trending_record", EntityID: id})
	}
	for _, f := range r.Failures {
		out = append(out, pending{Type: events.RetireFailed, EntityKind: "trending_record", EntityID: f.Key,
			Payload: events.EventPayload{"error": f.Error}})
	}
	return out
}
