package engine

import (
	"context"
	"errors"

	"opsdesk/internal/digest"
	"opsdesk/internal/directory"
	"opsdesk/internal/domain"
)

// OpenTasks lists the tasks whose status is not done.
func (e Engine) OpenTasks(ctx context.Context) ([]domain.TaskItem, error) {
	st, err := e.store()
	if err != nil {
		return nil, err
	}
	if e.Config.Tasks.DataSourceID == "" {
		return nil, errors.New("tasks.data_source_id is not configured")
	}
	return digest.ListOpenTasks(ctx, st, e.Config.Tasks)
}

type DigestResult struct {
	RunID   string            `json:"run_id"`
	Tasks   []domain.TaskItem `json:"tasks"`
	Summary string            `json:"summary"`
}

// DigestTasks summarises the open tasks with the text-generation service.
func (e Engine) DigestTasks(ctx context.Context, instruction, model string) (DigestResult, error) {
	c, err := e.completer()
	if err != nil {
		return DigestResult{}, err
	}
	if model == "" {
		model = e.Config.LLM.DefaultModel
	}
	var res DigestResult
	runID, err := e.journal(ctx, KindTasksDigest, e.Config.Tasks.DataSourceID, "", func(ctx context.Context, _ string) (any, []pending, error) {
		tasks, err := e.OpenTasks(ctx)
		if err != nil {
			return nil, nil, err
		}
		res.Tasks = tasks
		summary, err := digest.Summarize(ctx, c, tasks, instruction, model)
		res.Summary = summary
		return map[string]any{"tasks": len(tasks), "model": model}, nil, err
	})
	res.RunID = runID
	return res, err
}

// Colleagues lists the colleagues directory.
func (e Engine) Colleagues(ctx context.Context) ([]domain.Colleague, error) {
	st, err := e.store()
	if err != nil {
		return nil, err
	}
	if e.Config.Colleagues.DataSourceID == "" {
		return nil, errors.New("colleagues.data_source_id is not configured")
	}
	return directory.ListColleagues(ctx, st, e.Config.Colleagues)
}
