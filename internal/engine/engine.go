package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"opsdesk/internal/agenda"
	"opsdesk/internal/config"
	"opsdesk/internal/domain"
	"opsdesk/internal/events"
	"opsdesk/internal/feed"
	"opsdesk/internal/llm"
	"opsdesk/internal/lock"
	"opsdesk/internal/logging"
	"opsdesk/internal/mail"
	"opsdesk/internal/metrics"
	"opsdesk/internal/records"
	"opsdesk/internal/repo"
	"opsdesk/internal/trending"
	"opsdesk/internal/workspace"
)

// Run kinds.
const (
	KindAgendaSend     = "agenda.send"
	KindTrendingIngest = "trending.ingest"
	KindTrendingDedup  = "trending.dedup"
	KindTrendingRun    = "trending.run"
	KindTasksDigest    = "tasks.digest"
	KindPageCreate     = "page.create"
	KindPageAppend     = "page.append"
)

// ErrNotConfigured is returned when an operation needs a collaborator whose
// credentials were not supplied.
var ErrNotConfigured = errors.New("not configured")

// Store is everything the engine needs from the workspace store.
type Store interface {
	FetchSnapshot(ctx context.Context, dataSourceID string) (records.Snapshot, error)
	CreateRecord(ctx context.Context, dataSourceID string, props records.Properties, icon string) (workspace.Record, error)
	RetireRecord(ctx context.Context, recordID string) error
	AppendContent(ctx context.Context, parentID string, blocks []workspace.Block, maxBatch int) (workspace.AppendResult, error)
	ListChildren(ctx context.Context, blockID string) ([]workspace.Block, error)
}

// Completer generates text for a prompt.
type Completer interface {
	Complete(ctx context.Context, prompt, model, systemPrompt string) (string, error)
}

// Deps are the collaborators an Engine calls. Nil members make the
// operations that need them fail with ErrNotConfigured.
type Deps struct {
	Store  Store
	Mailer agenda.Sender
	LLM    Completer
	Feed   trending.Feed
	Locker lock.Locker
	Logger *zap.Logger
}

// Secrets are the credentials for the remote services.
type Secrets struct {
	WorkspaceToken string
	MailAPIKey     string
	LLMAPIKey      string
}

// Connect builds the remote clients and the locker cfg names. Services
// without credentials are left unset.
func Connect(conn *sql.DB, cfg *config.Config, s Secrets, logger *zap.Logger) Deps {
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := &http.Client{}
	deps := Deps{Logger: logger}
	if s.WorkspaceToken != "" {
		deps.Store = workspace.New(workspace.Options{
			BaseURL:    cfg.Workspace.BaseURL,
			Token:      s.WorkspaceToken,
			Version:    cfg.Workspace.Version,
			Timeout:    cfg.Workspace.Timeout,
			HTTPClient: httpClient,
			Logger:     logger,
		})
	}
	if s.MailAPIKey != "" {
		deps.Mailer = mail.New(s.MailAPIKey, cfg.Email.Endpoint, httpClient)
	}
	if s.LLMAPIKey != "" {
		c := llm.New(s.LLMAPIKey, cfg.LLM.Endpoint, httpClient)
		if cfg.LLM.Temperature > 0 {
			c.Temperature = cfg.LLM.Temperature
		}
		if cfg.LLM.MaxTokens > 0 {
			c.MaxTokens = cfg.LLM.MaxTokens
		}
		c.SystemPrompt = cfg.LLM.SystemPrompt
		deps.LLM = c
	}
	deps.Feed = feed.New(cfg.Trending.FeedURL, httpClient)
	switch cfg.Lock.Backend {
	case config.LockRedis:
		deps.Locker = lock.NewRedis(lock.NewRedisClient(cfg.Lock.RedisAddr, cfg.Lock.RedisDB), logger.Named("lock"))
	case config.LockNone:
		deps.Locker = lock.Nop{}
	default:
		deps.Locker = lock.NewSQLite(conn)
	}
	return deps
}

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Journal  events.Writer
	Config   *config.Config
	Template agenda.Template
	Deps
	Now func() time.Time
}

// New validates the configured email template and assembles an engine.
func New(db *sql.DB, cfg *config.Config, deps Deps) (Engine, error) {
	if cfg == nil {
		return Engine{}, errors.New("config not loaded")
	}
	tpl, err := agenda.LoadTemplate(cfg.Email.TemplatePath)
	if err != nil {
		return Engine{}, err
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Locker == nil {
		deps.Locker = lock.NewSQLite(db)
	}
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Journal:  events.Writer{DB: db},
		Config:   cfg,
		Template: tpl,
		Deps:     deps,
		Now:      time.Now,
	}, nil
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) store() (Store, error) {
	if e.Store == nil {
		return nil, fmt.Errorf("workspace store %w: set DESK_NOTION_TOKEN", ErrNotConfigured)
	}
	return e.Store, nil
}

func (e Engine) completer() (Completer, error) {
	if e.LLM == nil {
		return nil, fmt.Errorf("text generation %w: set DESK_GROQ_API_KEY", ErrNotConfigured)
	}
	return e.LLM, nil
}

// pending is an event produced by a run body, written when the run finishes.
type pending struct {
	Type       string
	EntityKind string
	EntityID   string
	Payload    events.EventPayload
}

type actorKey struct{}

// WithActor names who triggered the runs started under ctx.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func ActorFromContext(ctx context.Context) string {
	if a, ok := ctx.Value(actorKey{}).(string); ok {
		return a
	}
	return ""
}

type runBody func(ctx context.Context, runID string) (summary any, evts []pending, err error)

// journal executes body as one recorded run. When lockKey is set the run
// holds that lease for its whole duration and fails fast if another run
// holds it. The run row and its events are committed even when body fails.
func (e Engine) journal(ctx context.Context, kind, target, lockKey string, body runBody) (string, error) {
	runID := uuid.NewString()
	if lockKey != "" {
		lease, err := e.Locker.Acquire(ctx, lockKey, runID, e.Config.Lock.TTL)
		if err != nil {
			metrics.IncrementPipelineRun(kind, "locked")
			return "", err
		}
		defer func() {
			if err := e.Locker.Release(context.WithoutCancel(ctx), lease); err != nil {
				e.Logger.Warn("release lease failed", zap.String("key", lockKey), zap.Error(err))
			}
		}()
	}

	started := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()
	actor := ActorFromContext(ctx)
	run := domain.Run{ID: runID, Kind: kind, Target: target, Actor: actor, Status: domain.RunRunning, StartedAt: started}
	if err := e.Repo.InsertRun(ctx, tx, run); err != nil {
		return "", err
	}
	if err := e.Journal.Append(ctx, tx, runID, events.RunStarted, "run", runID, events.EventPayload{"kind": kind, "target": target, "actor": actor}); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}

	ctx = logging.WithRun(ctx, runID)
	logger := logging.FromContext(ctx, e.Logger)
	logger.Info("run started", zap.String("kind", kind), zap.String("target", target), zap.String("actor", actor))

	summary, evts, runErr := body(ctx, runID)

	status, evtType, errText := domain.RunSucceeded, events.RunSucceeded, ""
	if runErr != nil {
		status, evtType, errText = domain.RunFailed, events.RunFailed, runErr.Error()
	}
	var summaryJSON string
	if summary != nil {
		data, err := json.Marshal(summary)
		if err != nil {
			return runID, errors.Join(runErr, fmt.Errorf("marshal run summary: %w", err))
		}
		summaryJSON = string(data)
	}

	// the pipeline's context may be gone; the journal still records the outcome
	wctx := context.WithoutCancel(ctx)
	ftx, err := e.DB.BeginTx(wctx, nil)
	if err != nil {
		return runID, errors.Join(runErr, err)
	}
	defer ftx.Rollback()
	for _, ev := range evts {
		if err := e.Journal.Append(wctx, ftx, runID, ev.Type, ev.EntityKind, ev.EntityID, ev.Payload); err != nil {
			return runID, errors.Join(runErr, err)
		}
	}
	if err := e.Repo.FinishRun(wctx, ftx, runID, status, e.now().UTC().Format(time.RFC3339), summaryJSON, errText); err != nil {
		return runID, errors.Join(runErr, err)
	}
	payload := events.EventPayload{"kind": kind}
	if errText != "" {
		payload["error"] = errText
	}
	if err := e.Journal.Append(wctx, ftx, runID, evtType, "run", runID, payload); err != nil {
		return runID, errors.Join(runErr, err)
	}
	if err := ftx.Commit(); err != nil {
		return runID, errors.Join(runErr, err)
	}

	metrics.IncrementPipelineRun(kind, status)
	if runErr != nil {
		logger.Error("run failed", zap.String("kind", kind), zap.Error(runErr))
	} else {
		logger.Info("run finished", zap.String("kind", kind))
	}
	return runID, runErr
}

// Runs lists journaled runs, newest first.
func (e Engine) Runs(ctx context.Context, f repo.RunFilters) ([]domain.Run, error) {
	return e.Repo.ListRuns(ctx, f)
}

// Run returns one journaled run.
func (e Engine) Run(ctx context.Context, id string) (domain.Run, error) {
	return e.Repo.GetRun(ctx, id)
}

// Events lists journal events, newest first.
func (e Engine) Events(ctx context.Context, f repo.EventFilters) ([]domain.Event, error) {
	return e.Repo.LatestEvents(ctx, f)
}
