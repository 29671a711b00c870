// Package digest selects open tasks and hands them to a text-generation
// collaborator for summarising.
package digest

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"opsdesk/internal/config"
	"opsdesk/internal/domain"
	"opsdesk/internal/records"
)

const DefaultPrompt = "Summarise the following open tasks for a busy team lead. Group related work, call out anything overdue or high priority, and keep it under 200 words."

type Source interface {
	FetchSnapshot(ctx context.Context, dataSourceID string) (records.Snapshot, error)
}

type Completer interface {
	Complete(ctx context.Context, prompt, model, systemPrompt string) (string, error)
}

// ListOpenTasks returns the tasks whose status is not the done status, in
// snapshot order. Every non-empty date must parse.
func ListOpenTasks(ctx context.Context, src Source, cfg config.TasksConfig) ([]domain.TaskItem, error) {
	snap, err := src.FetchSnapshot(ctx, cfg.DataSourceID)
	if err != nil {
		return nil, err
	}
	cols := cfg.Columns
	if err := snap.Require(cols.Date, cols.Status, cols.Description); err != nil {
		return nil, err
	}
	done := cfg.DoneStatus
	if done == "" {
		done = "Done"
	}
	out := make([]domain.TaskItem, 0, len(snap.Rows))
	for _, row := range snap.Rows {
		date, ok, err := row.Date(cols.Date)
		if err != nil {
			return nil, err
		}
		status := row.Text(cols.Status)
		if status == done {
			continue
		}
		item := domain.TaskItem{
			Status:      status,
			Priority:    row.Text(cols.Priority),
			Description: row.Text(cols.Description),
			Formula:     row.Text(cols.Formula),
			RecordID:    row.ID,
		}
		if ok {
			item.Date = date.Format("2006-01-02")
		}
		out = append(out, item)
	}
	return out, nil
}

// Serialize renders tasks as a plain-text table for a prompt.
func Serialize(tasks []domain.TaskItem) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Date", "Status", "Priority", "Task", "Formula"})
	for _, t := range tasks {
		tw.AppendRow(table.Row{t.Date, t.Status, t.Priority, t.Description, t.Formula})
	}
	return tw.Render()
}

// Summarize sends the serialized tasks to the completer. An empty
// instruction uses DefaultPrompt.
func Summarize(ctx context.Context, c Completer, tasks []domain.TaskItem, instruction, model string) (string, error) {
	if len(tasks) == 0 {
		return "No open tasks.", nil
	}
	if strings.TrimSpace(instruction) == "" {
		instruction = DefaultPrompt
	}
	prompt := fmt.Sprintf("%s\n\n%s", instruction, Serialize(tasks))
	return c.Complete(ctx, prompt, model, "")
}
