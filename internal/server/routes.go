package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"opsdesk/internal/domain"
	"opsdesk/internal/engine"
	"opsdesk/internal/pages"
	"opsdesk/internal/repo"
)

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*body[HealthResponse], error) {
		return reply(HealthResponse{Status: "ok"}), nil
	})
}

type profilePath struct {
	Profile string `path:"profile" example:"partners"`
}

func registerAgendas(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "preview-agenda",
		Method:      http.MethodPost,
		Path:        "/agendas/{profile}/preview",
		Summary:     "Render an agenda without sending it",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		profilePath
		Body AgendaPreviewRequest `required:"false"`
	}) (*body[domain.AgendaDocument], error) {
		doc, err := e.PreviewAgenda(ctx, engine.AgendaRequest{
			Profile:     input.Profile,
			MeetingDate: input.Body.MeetingDate,
			MeetingType: input.Body.MeetingType,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(doc), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "send-agenda",
		Method:      http.MethodPost,
		Path:        "/agendas/{profile}/send",
		Summary:     "Render an agenda and email it to each recipient",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		profilePath
		Body AgendaSendRequest
	}) (*body[engine.AgendaResult], error) {
		res, err := e.SendAgenda(ctx, engine.AgendaRequest{
			Profile:     input.Profile,
			Recipients:  input.Body.Recipients,
			MeetingDate: input.Body.MeetingDate,
			MeetingType: input.Body.MeetingType,
			PreviewOnly: input.Body.PreviewOnly,
		})
		if err != nil {
			var details map[string]any
			if res.RunID != "" {
				details = map[string]any{"run_id": res.RunID, "outcomes": res.Outcomes}
			}
			return nil, handleErrorWith(err, details)
		}
		return reply(res), nil
	})
}

func registerTrending(api huma.API, e engine.Engine) {
	errs := []int{http.StatusConflict, http.StatusUnprocessableEntity, http.StatusBadGateway, http.StatusServiceUnavailable}
	huma.Register(api, huma.Operation{
		OperationID: "ingest-trending",
		Method:      http.MethodPost,
		Path:        "/trending/ingest",
		Summary:     "Write today's trending repositories",
		Errors:      errs,
	}, func(ctx context.Context, input *struct {
		Body TrendingRequest `required:"false"`
	}) (*body[engine.IngestReport], error) {
		res, err := e.IngestTrending(ctx, input.Body.Limit)
		if err != nil {
			return nil, handleErrorWith(err, runDetails(res.RunID))
		}
		return reply(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "dedup-trending",
		Method:      http.MethodPost,
		Path:        "/trending/dedup",
		Summary:     "Retire all but the newest record of each repository",
		Errors:      errs,
	}, func(ctx context.Context, _ *struct{}) (*body[engine.DedupReport], error) {
		res, err := e.DeduplicateTrending(ctx)
		if err != nil {
			return nil, handleErrorWith(err, runDetails(res.RunID))
		}
		return reply(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "run-trending",
		Method:      http.MethodPost,
		Path:        "/trending/run",
		Summary:     "Ingest then deduplicate",
		Errors:      errs,
	}, func(ctx context.Context, input *struct {
		Body TrendingRequest `required:"false"`
	}) (*body[engine.TrendingReport], error) {
		res, err := e.RunTrending(ctx, input.Body.Limit)
		if err != nil {
			return nil, handleErrorWith(err, runDetails(res.RunID))
		}
		return reply(res), nil
	})
}

func runDetails(runID string) map[string]any {
	if runID == "" {
		return nil
	}
	return map[string]any{"run_id": runID}
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "open-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks/open",
		Summary:     "List tasks that are not done",
		Errors:      []int{http.StatusUnprocessableEntity},
	}, func(ctx context.Context, _ *struct{}) (*body[TaskList], error) {
		tasks, err := e.OpenTasks(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(TaskList{Items: orEmpty(tasks)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "digest-tasks",
		Method:      http.MethodPost,
		Path:        "/tasks/digest",
		Summary:     "Summarise open tasks",
		Errors:      []int{http.StatusUnprocessableEntity, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		Body DigestRequest `required:"false"`
	}) (*body[engine.DigestResult], error) {
		res, err := e.DigestTasks(ctx, input.Body.Instruction, input.Body.Model)
		if err != nil {
			return nil, handleErrorWith(err, runDetails(res.RunID))
		}
		res.Tasks = orEmpty(res.Tasks)
		return reply(res), nil
	})
}

func registerColleagues(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-colleagues",
		Method:      http.MethodGet,
		Path:        "/colleagues",
		Summary:     "List the colleagues directory",
	}, func(ctx context.Context, _ *struct{}) (*body[ColleagueList], error) {
		items, err := e.Colleagues(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(ColleagueList{Items: orEmpty(items)}), nil
	})
}

type pagePath struct {
	Page string `path:"page" doc:"Page id, hyphenated or compact"`
}

func registerPages(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-page",
		Method:        http.MethodPost,
		Path:          "/pages",
		Summary:       "Create a page from markdown or a prompt",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		Body pages.PageInput
	}) (*body[engine.PageReport], error) {
		res, err := e.CreatePage(ctx, input.Body)
		if err != nil {
			return nil, handleErrorWith(err, runDetails(res.RunID))
		}
		return reply(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "append-page",
		Method:      http.MethodPost,
		Path:        "/pages/{page}/append",
		Summary:     "Append markdown or generated content to a page",
		Errors:      []int{http.StatusConflict, http.StatusUnprocessableEntity, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		pagePath
		Body AppendPageRequest
	}) (*body[engine.PageReport], error) {
		res, err := e.AppendPage(ctx, input.Page, input.Body.Markdown, input.Body.Prompt, input.Body.Model)
		if err != nil {
			return nil, handleErrorWith(err, runDetails(res.RunID))
		}
		return reply(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "read-page",
		Method:      http.MethodGet,
		Path:        "/pages/{page}",
		Summary:     "Read a page as markdown",
		Errors:      []int{http.StatusBadRequest, http.StatusBadGateway},
	}, func(ctx context.Context, input *pagePath) (*body[PageContentResponse], error) {
		id, err := pages.ExtractPageID(input.Page)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		md, err := e.ReadPage(ctx, id)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(PageContentResponse{PageID: id, Markdown: md}), nil
	})
}

func registerRuns(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/runs",
		Summary:     "List journaled runs, newest first",
	}, func(ctx context.Context, input *struct {
		Kind   string `query:"kind"`
		Status string `query:"status" enum:"running,succeeded,failed,"`
		Target string `query:"target"`
		Actor  string `query:"actor" doc:"Token subject or CLI user that started the run"`
		Limit  int    `query:"limit" default:"50"`
	}) (*body[RunList], error) {
		runs, err := e.Runs(ctx, repo.RunFilters{Kind: input.Kind, Status: input.Status, Target: input.Target, Actor: input.Actor, Limit: normalizeLimit(input.Limit)})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(RunList{Items: orEmpty(runs)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/runs/{run_id}",
		Summary:     "Get one run",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RunID string `path:"run_id"`
	}) (*body[domain.Run], error) {
		run, err := e.Run(ctx, input.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(run), nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List journal events, newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		RunID      string `query:"run_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*body[paginatedEvents], error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Events(ctx, repo.EventFilters{
			RunID:      input.RunID,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Cursor:     cursorID,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return reply(resp), nil
	})
}
