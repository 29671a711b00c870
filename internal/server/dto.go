package server

import (
	"encoding/json"

	"opsdesk/internal/domain"
)

// Request payloads

type AgendaPreviewRequest struct {
	MeetingDate string `json:"meeting_date,omitempty" example:"2026-02-06"`
	MeetingType string `json:"meeting_type,omitempty" example:"Partners'"`
}

type AgendaSendRequest struct {
	Recipients  []string `json:"recipients,omitempty" doc:"Email addresses or colleague names; empty builds and journals without sending"`
	MeetingDate string   `json:"meeting_date,omitempty" example:"2026-02-06"`
	MeetingType string   `json:"meeting_type,omitempty"`
	PreviewOnly bool     `json:"preview_only,omitempty"`
}

type TrendingRequest struct {
	Limit int `json:"limit,omitempty" minimum:"0" doc:"Entries to ingest; 0 uses the configured limit"`
}

type DigestRequest struct {
	Instruction string `json:"instruction,omitempty"`
	Model       string `json:"model,omitempty"`
}

type AppendPageRequest struct {
	Markdown string `json:"markdown,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
	Model    string `json:"model,omitempty"`
}

// Response payloads

type HealthResponse struct {
	Status string `json:"status" example:"ok"`
}

type PageContentResponse struct {
	PageID   string `json:"page_id"`
	Markdown string `json:"markdown"`
}

type TaskList struct {
	Items []domain.TaskItem `json:"items"`
}

type ColleagueList struct {
	Items []domain.Colleague `json:"items"`
}

type RunList struct {
	Items []domain.Run `json:"items"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	RunID      string         `json:"run_id,omitempty"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		RunID:      e.RunID,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
