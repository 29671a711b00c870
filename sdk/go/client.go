package deskclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal desk HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BearerToken: token,
		Timeout:     60 * time.Second,
	}
}

// AgendaItem is one open agenda row.
type AgendaItem struct {
	Completed        bool   `json:"completed"`
	AgendaItem       string `json:"agenda_item"`
	BriefDescription string `json:"brief_description"`
	Person           string `json:"person"`
	RecordID         string `json:"record_id"`
}

type AgendaDocument struct {
	Subject  string       `json:"subject"`
	Body     string       `json:"body"`
	Items    []AgendaItem `json:"items"`
	Excluded int          `json:"excluded"`
}

type DispatchOutcome struct {
	Recipient string `json:"recipient"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

type AgendaResult struct {
	RunID    string            `json:"run_id,omitempty"`
	Document AgendaDocument    `json:"document"`
	Outcomes []DispatchOutcome `json:"outcomes,omitempty"`
}

// SendAgendaRequest mirrors the send endpoint body.
type SendAgendaRequest struct {
	Recipients  []string `json:"recipients,omitempty"`
	MeetingDate string   `json:"meeting_date,omitempty"`
	MeetingType string   `json:"meeting_type,omitempty"`
	PreviewOnly bool     `json:"preview_only,omitempty"`
}

type TrendingRecord struct {
	FullName      string `json:"full_name"`
	URL           string `json:"url"`
	StarsToday    int    `json:"stars_today"`
	TotalStars    int    `json:"total_stars"`
	IngestionDate string `json:"ingestion_date"`
	RecordID      string `json:"record_id"`
}

type Failure struct {
	Key   string `json:"key"`
	Error string `json:"error"`
}

type IngestResult struct {
	RunID    string           `json:"run_id"`
	Written  int              `json:"written"`
	Records  []TrendingRecord `json:"records"`
	Failures []Failure        `json:"failures,omitempty"`
}

type DedupResult struct {
	RunID    string    `json:"run_id"`
	Retired  []string  `json:"retired"`
	Kept     int       `json:"kept"`
	Failures []Failure `json:"failures,omitempty"`
}

// TrendingResult is the combined ingest and dedup outcome.
type TrendingResult struct {
	RunID   string       `json:"run_id"`
	Written int          `json:"written"`
	Retired int          `json:"retired"`
	Ingest  IngestResult `json:"ingest"`
	Dedup   DedupResult  `json:"dedup"`
}

type TaskItem struct {
	Date        string `json:"date,omitempty"`
	Status      string `json:"status"`
	Priority    string `json:"priority,omitempty"`
	Description string `json:"task_description"`
	Formula     string `json:"formula,omitempty"`
	RecordID    string `json:"record_id"`
}

type Digest struct {
	RunID   string     `json:"run_id"`
	Tasks   []TaskItem `json:"tasks"`
	Summary string     `json:"summary"`
}

type Colleague struct {
	Name     string `json:"name"`
	JobTitle string `json:"job_title,omitempty"`
	Email    string `json:"email,omitempty"`
	RecordID string `json:"record_id"`
}

type PageInput struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	URL         string `json:"url,omitempty"`
	Markdown    string `json:"markdown,omitempty"`
	Prompt      string `json:"prompt,omitempty"`
	Model       string `json:"model,omitempty"`
}

type PageResult struct {
	RunID   string `json:"run_id"`
	PageID  string `json:"page_id"`
	URL     string `json:"url,omitempty"`
	Blocks  int    `json:"blocks"`
	Skipped int    `json:"skipped"`
	Batches int    `json:"batches"`
}

type Run struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	Target     string `json:"target"`
	Actor      string `json:"actor,omitempty"`
	Status     string `json:"status"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
	Summary    string `json:"summary_json,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Event represents a journal entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	RunID      string         `json:"run_id"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Code returns the error code from the response envelope, if any.
func (e *APIError) Code() string {
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	_ = json.Unmarshal([]byte(e.Body), &env)
	return env.Error.Code
}

// Health reports whether the server is up. It needs no token.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "v0/health", nil, nil)
}

// PreviewAgenda renders a profile's agenda without sending it.
func (c *Client) PreviewAgenda(ctx context.Context, profile, meetingDate, meetingType string) (AgendaDocument, error) {
	body := map[string]any{}
	if meetingDate != "" {
		body["meeting_date"] = meetingDate
	}
	if meetingType != "" {
		body["meeting_type"] = meetingType
	}
	var resp AgendaDocument
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/agendas/%s/preview", url.PathEscape(profile)), body, &resp)
	return resp, err
}

// SendAgenda renders and emails a profile's agenda.
func (c *Client) SendAgenda(ctx context.Context, profile string, req SendAgendaRequest) (AgendaResult, error) {
	var resp AgendaResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/agendas/%s/send", url.PathEscape(profile)), req, &resp)
	return resp, err
}

func (c *Client) IngestTrending(ctx context.Context, limit int) (IngestResult, error) {
	var resp IngestResult
	err := c.do(ctx, http.MethodPost, "v0/trending/ingest", map[string]any{"limit": limit}, &resp)
	return resp, err
}

func (c *Client) DeduplicateTrending(ctx context.Context) (DedupResult, error) {
	var resp DedupResult
	err := c.do(ctx, http.MethodPost, "v0/trending/dedup", nil, &resp)
	return resp, err
}

func (c *Client) RunTrending(ctx context.Context, limit int) (TrendingResult, error) {
	var resp TrendingResult
	err := c.do(ctx, http.MethodPost, "v0/trending/run", map[string]any{"limit": limit}, &resp)
	return resp, err
}

// OpenTasks lists tasks that are not done.
func (c *Client) OpenTasks(ctx context.Context) ([]TaskItem, error) {
	var resp struct {
		Items []TaskItem `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "v0/tasks/open", nil, &resp)
	return resp.Items, err
}

func (c *Client) DigestTasks(ctx context.Context, instruction, model string) (Digest, error) {
	var resp Digest
	err := c.do(ctx, http.MethodPost, "v0/tasks/digest", map[string]any{"instruction": instruction, "model": model}, &resp)
	return resp, err
}

func (c *Client) Colleagues(ctx context.Context) ([]Colleague, error) {
	var resp struct {
		Items []Colleague `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "v0/colleagues", nil, &resp)
	return resp.Items, err
}

func (c *Client) CreatePage(ctx context.Context, in PageInput) (PageResult, error) {
	var resp PageResult
	err := c.do(ctx, http.MethodPost, "v0/pages", in, &resp)
	return resp, err
}

// AppendPage appends markdown, or content generated from prompt, to a page.
func (c *Client) AppendPage(ctx context.Context, pageID, markdown, prompt, model string) (PageResult, error) {
	body := map[string]any{"markdown": markdown, "prompt": prompt, "model": model}
	var resp PageResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/pages/%s/append", url.PathEscape(pageID)), body, &resp)
	return resp, err
}

// ReadPage returns a page's content as markdown.
func (c *Client) ReadPage(ctx context.Context, pageID string) (string, error) {
	var resp struct {
		Markdown string `json:"markdown"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/pages/%s", url.PathEscape(pageID)), nil, &resp)
	return resp.Markdown, err
}

// Runs lists runs, newest first. kind may be empty.
func (c *Client) Runs(ctx context.Context, kind string, limit int) ([]Run, error) {
	q := url.Values{}
	if kind != "" {
		q.Set("kind", kind)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	endpoint := "v0/runs"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []Run `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) GetRun(ctx context.Context, id string) (Run, error) {
	var resp Run
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/runs/%s", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, "", limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing, optionally for one run.
func (c *Client) EventsPage(ctx context.Context, runID string, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if runID != "" {
		q.Set("run_id", runID)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "v0/events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
