package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"opsdesk/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const runColumns = `id,kind,target,actor,status,started_at,finished_at,summary_json,error`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (domain.Run, error) {
	var r domain.Run
	var finished, summary, errText sql.NullString
	if err := row.Scan(&r.ID, &r.Kind, &r.Target, &r.Actor, &r.Status, &r.StartedAt, &finished, &summary, &errText); err != nil {
		return r, err
	}
	if finished.Valid {
		r.FinishedAt = &finished.String
	}
	r.Summary = summary.String
	r.Error = errText.String
	return r, nil
}

func (r Repo) InsertRun(ctx context.Context, tx *sql.Tx, run domain.Run) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO runs(id,kind,target,actor,status,started_at) VALUES (?,?,?,?,?,?)`,
		run.ID, run.Kind, run.Target, run.Actor, run.Status, run.StartedAt)
	return err
}

// FinishRun records the terminal status of a run.
func (r Repo) FinishRun(ctx context.Context, tx *sql.Tx, id, status, finishedAt, summaryJSON, errText string) error {
	res, err := tx.ExecContext(ctx, `UPDATE runs SET status=?, finished_at=?, summary_json=?, error=? WHERE id=?`,
		status, finishedAt, nullable(summaryJSON), nullable(errText), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetRun(ctx context.Context, id string) (domain.Run, error) {
	run, err := scanRun(r.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return run, ErrNotFound
	}
	return run, err
}

type RunFilters struct {
	Kind   string
	Status string
	Target string
	Actor  string
	Limit  int
}

// ListRuns returns runs newest first.
func (r Repo) ListRuns(ctx context.Context, f RunFilters) ([]domain.Run, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Kind != "" {
		clauses = append(clauses, "kind=?")
		args = append(args, f.Kind)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Target != "" {
		clauses = append(clauses, "target=?")
		args = append(args, f.Target)
	}
	if f.Actor != "" {
		clauses = append(clauses, "actor=?")
		args = append(args, f.Actor)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM runs WHERE %s ORDER BY started_at DESC, id DESC LIMIT ?`, runColumns, strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, run)
	}
	return res, rows.Err()
}

type EventFilters struct {
	RunID      string
	Type       string
	EntityKind string
	EntityID   string
	// Cursor returns events older than this id.
	Cursor int64
	Limit  int
}

// LatestEvents returns events newest first.
func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.RunID != "" {
		clauses = append(clauses, "run_id=?")
		args = append(args, f.RunID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Cursor)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT id,ts,run_id,type,entity_kind,entity_id,payload_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var runID, entityID sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &runID, &e.Type, &e.EntityKind, &entityID, &e.Payload); err != nil {
			return nil, err
		}
		e.RunID = runID.String
		e.EntityID = entityID.String
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) UpsertLease(ctx context.Context, tx *sql.Tx, lease domain.Lease) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO leases(key,owner_id,acquired_at,expires_at) VALUES (?,?,?,?)
ON CONFLICT(key) DO UPDATE SET owner_id=excluded.owner_id, acquired_at=excluded.acquired_at, expires_at=excluded.expires_at`, lease.Key, lease.OwnerID, lease.AcquiredAt, lease.ExpiresAt)
	return err
}

// DeleteLease removes the lease only while owner still holds it.
func (r Repo) DeleteLease(ctx context.Context, tx *sql.Tx, key, owner string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM leases WHERE key=? AND owner_id=?`, key, owner)
	return err
}

func (r Repo) GetLeaseTx(ctx context.Context, tx *sql.Tx, key string) (domain.Lease, error) {
	var l domain.Lease
	err := tx.QueryRowContext(ctx, `SELECT key,owner_id,acquired_at,expires_at FROM leases WHERE key=?`, key).
		Scan(&l.Key, &l.OwnerID, &l.AcquiredAt, &l.ExpiresAt)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	return l, err
}

func (r Repo) ListLeases(ctx context.Context) ([]domain.Lease, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT key,owner_id,acquired_at,expires_at FROM leases ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Lease
	for rows.Next() {
		var l domain.Lease
		if err := rows.Scan(&l.Key, &l.OwnerID, &l.AcquiredAt, &l.ExpiresAt); err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
