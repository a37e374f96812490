package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/droverhq/drover/pkg/schema"
)

// LibSQLStore implements Store using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Connection-level PRAGMAs. Some return rows, so QueryRow is used.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Runs ---

func (s *LibSQLStore) CreateRun(ctx context.Context, run *Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, objective, status, human_in_the_loop, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Objective, string(run.Status), boolToInt(run.HumanInTheLoop),
		nullStr(run.Error), timeOrNow(run.CreatedAt), timeOrNow(run.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	r := &Run{}
	var status string
	var hitl int
	var errMsg sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, objective, status, human_in_the_loop, error, created_at, updated_at
		 FROM runs WHERE id = ?`, runID,
	).Scan(&r.ID, &r.Objective, &status, &hitl, &errMsg, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("run", runID)
	}
	if err != nil {
		return nil, err
	}
	r.Status = schema.RunStatus(status)
	r.HumanInTheLoop = hitl != 0
	r.Error = errMsg.String
	return r, nil
}

func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	query := `SELECT id, objective, status, human_in_the_loop, error, created_at, updated_at FROM runs`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r := &Run{}
		var status string
		var hitl int
		var errMsg sql.NullString
		if err := rows.Scan(&r.ID, &r.Objective, &status, &hitl, &errMsg, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.Status = schema.RunStatus(status)
		r.HumanInTheLoop = hitl != 0
		r.Error = errMsg.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *LibSQLStore) UpdateRunStatus(ctx context.Context, runID string, status schema.RunStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		string(status), nullStr(errMsg), runID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *LibSQLStore) DeleteRun(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, runID)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "run", runID)
}

// --- Checkpoints ---

func (s *LibSQLStore) SaveCheckpoint(ctx context.Context, cp *Checkpoint) error {
	stateJSON, err := EncodeState(cp.State)
	if err != nil {
		return err
	}
	frontierJSON, err := json.Marshal(cp.Frontier)
	if err != nil {
		return fmt.Errorf("marshal frontier: %w", err)
	}
	var interruptJSON any
	if cp.Interrupt != nil {
		data, err := json.Marshal(cp.Interrupt)
		if err != nil {
			return fmt.Errorf("marshal interrupt: %w", err)
		}
		interruptJSON = string(data)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (run_id, superstep, state, frontier, interrupt, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		cp.RunID, cp.Superstep, string(stateJSON), string(frontierJSON), interruptJSON, timeOrNow(cp.CreatedAt),
	)
	return err
}

// LatestCheckpoint returns the most recent checkpoint for a run, or nil.
// Ordering is by insertion, not superstep: a suspension checkpoint shares
// its superstep number with the one it supersedes.
func (s *LibSQLStore) LatestCheckpoint(ctx context.Context, runID string) (*Checkpoint, error) {
	cp := &Checkpoint{RunID: runID}
	var stateJSON, frontierJSON string
	var interruptJSON sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT superstep, state, frontier, interrupt, created_at
		 FROM checkpoints WHERE run_id = ? ORDER BY id DESC LIMIT 1`, runID,
	).Scan(&cp.Superstep, &stateJSON, &frontierJSON, &interruptJSON, &cp.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	cp.State, err = DecodeState([]byte(stateJSON))
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(frontierJSON), &cp.Frontier); err != nil {
		return nil, fmt.Errorf("unmarshal frontier: %w", err)
	}
	if interruptJSON.Valid {
		cp.Interrupt = &schema.InterruptPayload{}
		if err := json.Unmarshal([]byte(interruptJSON.String), cp.Interrupt); err != nil {
			return nil, fmt.Errorf("unmarshal interrupt: %w", err)
		}
	}
	return cp, nil
}

// --- Event log ---

func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	var payload any
	if event.Payload != nil {
		data, err := json.Marshal(event.Payload)
		if err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}
		payload = string(data)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events (run_id, node_id, type, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		event.RunID, nullStr(event.NodeID), event.Type, payload, timeOrNow(event.CreatedAt),
	)
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		event.ID = id
	}
	return nil
}

func (s *LibSQLStore) ListEvents(ctx context.Context, runID string, afterID int64, limit int) ([]*Event, error) {
	query := `SELECT id, run_id, node_id, type, payload, created_at
	          FROM events WHERE run_id = ? AND id > ? ORDER BY id ASC`
	args := []any{runID, afterID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var nodeID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &nodeID, &e.Type, &payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.NodeID = nodeID.String
		if payload.Valid {
			var v any
			if err := json.Unmarshal([]byte(payload.String), &v); err == nil {
				e.Payload = v
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.DroverError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
