package results

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"convoprobe/internal/model"
)

// SQLiteRepository stores results in a SQLite database, one transaction per run.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens (and creates if missing) the database at path.
// ":memory:" gives a private in-memory database.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	memory := path == ":memory:" || strings.Contains(path, "mode=memory")

	dsn := path
	if !memory && !strings.HasPrefix(path, "file:") {
		// Immediate transactions take the write lock up front so concurrent
		// savers wait on the busy timeout instead of failing on lock upgrade.
		dsn = "file:" + path + "?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate&_foreign_keys=on"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite every connection is a separate database.
	if memory {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	}

	repo := &SQLiteRepository{db: db}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return repo, nil
}

func (s *SQLiteRepository) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			scenario_id TEXT NOT NULL,
			environment TEXT,
			state TEXT NOT NULL,
			passed INTEGER NOT NULL,
			required_goals TEXT,
			unmet_goals TEXT,
			summary TEXT,
			started_at INTEGER NOT NULL,
			ended_at INTEGER NOT NULL,
			duration_ns INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_scenario ON runs(scenario_id, started_at)`,
		`CREATE TABLE IF NOT EXISTS turns (
			run_id TEXT NOT NULL,
			number INTEGER NOT NULL,
			source TEXT,
			user_message TEXT NOT NULL,
			reply TEXT NOT NULL,
			tool_calls TEXT,
			ts INTEGER NOT NULL,
			latency_ns INTEGER NOT NULL,
			attempts INTEGER NOT NULL,
			failed INTEGER NOT NULL,
			error TEXT,
			PRIMARY KEY (run_id, number),
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		)`,
		`CREATE TABLE IF NOT EXISTS goal_results (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			goal_id TEXT NOT NULL,
			achieved INTEGER NOT NULL,
			turn INTEGER NOT NULL,
			evidence TEXT,
			severity TEXT,
			PRIMARY KEY (run_id, seq),
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		)`,
		`CREATE TABLE IF NOT EXISTS issues (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			turn INTEGER NOT NULL,
			category TEXT NOT NULL,
			severity TEXT NOT NULL,
			description TEXT,
			goal_id TEXT,
			issue_key TEXT,
			PRIMARY KEY (run_id, seq),
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteRepository) Close() error {
	return s.db.Close()
}

// Save writes the run and all its records in one transaction.
func (s *SQLiteRepository) Save(ctx context.Context, r *model.RunResult) error {
	if err := checkSavable(r); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	required, _ := json.Marshal(r.RequiredGoals)
	unmet, _ := json.Marshal(r.UnmetGoals)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, scenario_id, environment, state, passed, required_goals, unmet_goals, summary, started_at, ended_at, duration_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.ScenarioID, r.Environment, string(r.State), r.Passed, string(required), string(unmet), r.Summary,
		r.StartedAt.UnixNano(), r.EndedAt.UnixNano(), int64(r.Duration))
	if err != nil {
		if isConstraint(err) {
			return fmt.Errorf("run %s: %w", r.RunID, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for _, t := range r.Turns {
		var tools sql.NullString
		if len(t.ToolCalls) > 0 {
			b, err := json.Marshal(t.ToolCalls)
			if err != nil {
				return fmt.Errorf("failed to encode tool calls of turn %d: %w", t.Number, err)
			}
			tools = sql.NullString{String: string(b), Valid: true}
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO turns (run_id, number, source, user_message, reply, tool_calls, ts, latency_ns, attempts, failed, error)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.RunID, t.Number, string(t.Source), t.UserMessage, t.Reply, tools,
			t.Timestamp.UnixNano(), int64(t.Latency), t.Attempts, t.Failed, t.Error)
		if err != nil {
			return fmt.Errorf("failed to insert turn %d: %w", t.Number, err)
		}
	}

	for i, g := range r.GoalResults {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO goal_results (run_id, seq, goal_id, achieved, turn, evidence, severity) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.RunID, i, g.GoalID, g.Achieved, g.Turn, g.Evidence, string(g.Severity))
		if err != nil {
			return fmt.Errorf("failed to insert goal result %s: %w", g.GoalID, err)
		}
	}

	for i, is := range r.Issues {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO issues (run_id, seq, turn, category, severity, description, goal_id, issue_key) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			r.RunID, i, is.Turn, string(is.Category), string(is.Severity), is.Description, is.GoalID, is.Key)
		if err != nil {
			return fmt.Errorf("failed to insert issue: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run %s: %w", r.RunID, err)
	}
	return nil
}

// Get loads a run with its turns, goal results and issues.
func (s *SQLiteRepository) Get(ctx context.Context, runID string) (*model.RunResult, error) {
	var (
		r                  model.RunResult
		state              string
		required, unmet    sql.NullString
		env, summary       sql.NullString
		started, ended, ns int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, scenario_id, environment, state, passed, required_goals, unmet_goals, summary, started_at, ended_at, duration_ns
		 FROM runs WHERE run_id = ?`, runID).
		Scan(&r.RunID, &r.ScenarioID, &env, &state, &r.Passed, &required, &unmet, &summary, &started, &ended, &ns)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	r.State = model.RunState(state)
	r.Environment = env.String
	r.Summary = summary.String
	r.StartedAt = time.Unix(0, started)
	r.EndedAt = time.Unix(0, ended)
	r.Duration = time.Duration(ns)
	if err := decodeList(required, &r.RequiredGoals); err != nil {
		return nil, err
	}
	if err := decodeList(unmet, &r.UnmetGoals); err != nil {
		return nil, err
	}

	if r.Turns, err = s.turns(ctx, runID); err != nil {
		return nil, err
	}
	if r.GoalResults, err = s.goalResults(ctx, runID); err != nil {
		return nil, err
	}
	if r.Issues, err = s.issues(ctx, runID); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *SQLiteRepository) turns(ctx context.Context, runID string) ([]model.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT number, source, user_message, reply, tool_calls, ts, latency_ns, attempts, failed, error
		 FROM turns WHERE run_id = ? ORDER BY number`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load turns: %w", err)
	}
	defer rows.Close()

	var out []model.Turn
	for rows.Next() {
		var (
			t             model.Turn
			source, errS  sql.NullString
			tools         sql.NullString
			ts, latencyNS int64
		)
		if err := rows.Scan(&t.Number, &source, &t.UserMessage, &t.Reply, &tools, &ts, &latencyNS, &t.Attempts, &t.Failed, &errS); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		t.Source = model.TurnSource(source.String)
		t.Error = errS.String
		t.Timestamp = time.Unix(0, ts)
		t.Latency = time.Duration(latencyNS)
		if tools.Valid {
			if err := json.Unmarshal([]byte(tools.String), &t.ToolCalls); err != nil {
				return nil, fmt.Errorf("failed to decode tool calls of turn %d: %w", t.Number, err)
			}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteRepository) goalResults(ctx context.Context, runID string) ([]model.GoalResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT goal_id, achieved, turn, evidence, severity FROM goal_results WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load goal results: %w", err)
	}
	defer rows.Close()

	var out []model.GoalResult
	for rows.Next() {
		var (
			g                  model.GoalResult
			evidence, severity sql.NullString
		)
		if err := rows.Scan(&g.GoalID, &g.Achieved, &g.Turn, &evidence, &severity); err != nil {
			return nil, fmt.Errorf("failed to scan goal result: %w", err)
		}
		g.Evidence = evidence.String
		g.Severity = model.Severity(severity.String)
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *SQLiteRepository) issues(ctx context.Context, runID string) ([]model.Issue, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT turn, category, severity, description, goal_id, issue_key FROM issues WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load issues: %w", err)
	}
	defer rows.Close()

	var out []model.Issue
	for rows.Next() {
		var (
			is                     model.Issue
			category, severity     string
			description, goal, key sql.NullString
		)
		if err := rows.Scan(&is.Turn, &category, &severity, &description, &goal, &key); err != nil {
			return nil, fmt.Errorf("failed to scan issue: %w", err)
		}
		is.Category = model.IssueCategory(category)
		is.Severity = model.Severity(severity)
		is.Description = description.String
		is.GoalID = goal.String
		is.Key = key.String
		out = append(out, is)
	}
	return out, rows.Err()
}

// List returns run summaries, newest first.
func (s *SQLiteRepository) List(ctx context.Context, opts ListOptions) ([]Summary, error) {
	query := `SELECT r.run_id, r.scenario_id, r.environment, r.state, r.passed, r.started_at, r.duration_ns, r.summary,
		(SELECT COUNT(*) FROM turns t WHERE t.run_id = r.run_id)
		FROM runs r`
	var args []interface{}
	if opts.ScenarioID != "" {
		query += ` WHERE r.scenario_id = ?`
		args = append(args, opts.ScenarioID)
	}
	query += ` ORDER BY r.started_at DESC, r.run_id`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum          Summary
			state        string
			env, summary sql.NullString
			started, ns  int64
		)
		if err := rows.Scan(&sum.RunID, &sum.ScenarioID, &env, &state, &sum.Passed, &started, &ns, &summary, &sum.Turns); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		sum.State = model.RunState(state)
		sum.Environment = env.String
		sum.Summary = summary.String
		sum.StartedAt = time.Unix(0, started)
		sum.Duration = time.Duration(ns)
		out = append(out, sum)
	}
	return out, rows.Err()
}

func decodeList(v sql.NullString, into *[]string) error {
	if !v.Valid || v.String == "" || v.String == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(v.String), into); err != nil {
		return fmt.Errorf("failed to decode goal list: %w", err)
	}
	return nil
}

func isConstraint(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}
