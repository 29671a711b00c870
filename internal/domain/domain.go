package domain

// AgendaItem is one open agenda row narrowed from a data-source snapshot.
type AgendaItem struct {
	Completed        bool   `json:"completed"`
	AgendaItem       string `json:"agenda_item"`
	BriefDescription string `json:"brief_description"`
	Person           string `json:"person"`
	RecordID         string `json:"record_id"`
}

// AgendaDocument is the rendered email for one pipeline run.
type AgendaDocument struct {
	Subject string       `json:"subject"`
	Body    string       `json:"body"`
	Items   []AgendaItem `json:"items"`
	// Excluded counts snapshot rows dropped because their flag was set.
	Excluded int `json:"excluded"`
}

// DispatchOutcome records one recipient's submission. Exactly one of
// MessageID and Error is set.
type DispatchOutcome struct {
	Recipient string `json:"recipient"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (o DispatchOutcome) OK() bool { return o.Error == "" }

type TrendingRecord struct {
	FullName      string `json:"full_name"`
	URL           string `json:"url"`
	StarsToday    int    `json:"stars_today"`
	TotalStars    int    `json:"total_stars"`
	IngestionDate string `json:"ingestion_date" format:"date"`
	Icon          string `json:"icon,omitempty"`
	RecordID      string `json:"record_id"`
}

type TaskItem struct {
	Date        string `json:"date,omitempty" format:"date"`
	Status      string `json:"status"`
	Priority    string `json:"priority,omitempty"`
	Description string `json:"task_description"`
	Formula     string `json:"formula,omitempty"`
	RecordID    string `json:"record_id"`
}

type Colleague struct {
	Name     string `json:"name"`
	JobTitle string `json:"job_title,omitempty"`
	Email    string `json:"email,omitempty"`
	RecordID string `json:"record_id"`
}

// Run is one journaled pipeline invocation.
type Run struct {
	ID         string  `json:"id"`
	Kind       string  `json:"kind" enum:"agenda.preview,agenda.send,trending.ingest,trending.dedup,trending.run,tasks.digest,page.create,page.append"`
	Target     string  `json:"target"`
	Actor      string  `json:"actor,omitempty"`
	Status     string  `json:"status" enum:"running,succeeded,failed"`
	StartedAt  string  `json:"started_at" format:"date-time"`
	FinishedAt *string `json:"finished_at,omitempty" format:"date-time"`
	Summary    string  `json:"summary_json,omitempty"`
	Error      string  `json:"error,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	RunID      string `json:"run_id,omitempty"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}

// Lease guards one data source against concurrent runs.
type Lease struct {
	Key        string `json:"key"`
	OwnerID    string `json:"owner_id"`
	AcquiredAt string `json:"acquired_at" format:"date-time"`
	ExpiresAt  string `json:"expires_at" format:"date-time"`
}

const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)
