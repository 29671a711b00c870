package engine

import (
	"context"

	"opsdesk/internal/events"
	"opsdesk/internal/logging"
	"opsdesk/internal/pages"
)

type PageReport struct {
	RunID string `json:"run_id"`
	pages.PageResult
}

func (e Engine) author(ctx context.Context) (pages.Author, error) {
	st, err := e.store()
	if err != nil {
		return pages.Author{}, err
	}
	return pages.Author{
		Store:           st,
		LLM:             e.LLM,
		DataSourceID:    e.Config.Pages.DataSourceID,
		DefaultCategory: e.Config.Pages.DefaultCategory,
		Logger:          logging.FromContext(ctx, e.Logger),
	}, nil
}

func (e Engine) pageModel(model string) string {
	if model == "" {
		return e.Config.LLM.DefaultModel
	}
	return model
}

// CreatePage creates a page in the pages data source.
func (e Engine) CreatePage(ctx context.Context, in pages.PageInput) (PageReport, error) {
	if _, err := e.author(ctx); err != nil {
		return PageReport{}, err
	}
	in.Model = e.pageModel(in.Model)
	var res PageReport
	runID, err := e.journal(ctx, KindPageCreate, e.Config.Pages.DataSourceID, "", func(ctx context.Context, _ string) (any, []pending, error) {
		a, _ := e.author(ctx)
		out, err := a.Create(ctx, in)
		res.PageResult = out
		var evts []pending
		if out.PageID != "" {
			evts = append(evts, pending{Type: events.PageCreated, EntityKind: "page", EntityID: out.PageID,
				Payload: events.EventPayload{"title": in.Title, "blocks": out.Blocks, "skipped": out.Skipped}})
		}
		return pageSummary(out), evts, err
	})
	res.RunID = runID
	return res, err
}

// AppendPage appends markdown, or content generated from prompt, to a page.
// Appends to one page are serialised by a lease on the page id.
func (e Engine) AppendPage(ctx context.Context, ref, markdown, prompt, model string) (PageReport, error) {
	if _, err := e.author(ctx); err != nil {
		return PageReport{}, err
	}
	id, err := pages.ExtractPageID(ref)
	if err != nil {
		return PageReport{}, err
	}
	var res PageReport
	runID, err := e.journal(ctx, KindPageAppend, id, "page:"+id, func(ctx context.Context, _ string) (any, []pending, error) {
		a, _ := e.author(ctx)
		out, err := a.Append(ctx, id, markdown, prompt, e.pageModel(model))
		res.PageResult = out
		var evts []pending
		if out.Blocks > 0 {
			evts = append(evts, pending{Type: events.PageAppended, EntityKind: "page", EntityID: id,
				Payload: events.EventPayload{"blocks": out.Blocks, "batches": out.Batches}})
		}
		return pageSummary(out), evts, err
	})
	res.RunID = runID
	return res, err
}

// ReadPage returns a page's content as markdown.
func (e Engine) ReadPage(ctx context.Context, ref string) (string, error) {
	a, err := e.author(ctx)
	if err != nil {
		return "", err
	}
	return a.Read(ctx, ref)
}

func pageSummary(r pages.PageResult) map[string]any {
	return map[string]any{"page_id": r.PageID, "blocks": r.Blocks, "skipped": r.Skipped, "batches": r.Batches}
}
