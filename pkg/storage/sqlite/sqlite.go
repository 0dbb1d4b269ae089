// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/leseb/storybridge/pkg/core/state"
	"github.com/leseb/storybridge/pkg/provider"

	_ "modernc.org/sqlite"
)

func init() {
	state.Providers.Register("sqlite", func(_ context.Context, params provider.Params) (state.ArtifactStore, error) {
		return New(params.String("path", ":memory:"))
	})
}

// compile-time check
var _ state.ArtifactStore = (*Store)(nil)

// timeLayout is fixed width so that MIN/MAX over the TEXT columns order
// chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is a SQLite-backed implementation of state.ArtifactStore, used for
// local runs and tests.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at path. Pass ":memory:" for an
// in-memory database.
func New(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, state.Unavailable("sqlite ping", err)
	}

	// A single connection keeps ":memory:" databases shared and avoids
	// "database is locked" errors.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite %s: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS user_stories (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			description TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS test_cases_generated (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			story_id TEXT NOT NULL,
			test_cases TEXT NOT NULL DEFAULT '[]',
			num_test_cases INTEGER NOT NULL DEFAULT 0,
			start_time TEXT NOT NULL,
			end_time TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_test_cases_story ON test_cases_generated(story_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("sqlite create tables: %w", err)
		}
	}
	return nil
}

// CreateStory inserts a user story and returns the generated id.
func (s *Store) CreateStory(ctx context.Context, title, description string) (string, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO user_stories (title, description, created_at) VALUES (?, ?, ?)`,
		title, description, formatTime(time.Now()),
	)
	if err != nil {
		return "", state.Unavailable("insert user story", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("read user story id: %w", err)
	}
	return strconv.FormatInt(id, 10), nil
}

// GetArtifactSummary aggregates all generation runs stored for storyID.
func (s *Store) GetArtifactSummary(ctx context.Context, storyID string) (*state.ArtifactSummary, error) {
	var (
		rows       int
		count      int
		start, end sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(num_test_cases), 0), MIN(start_time), MAX(end_time)
		 FROM test_cases_generated WHERE story_id = ?`, storyID,
	).Scan(&rows, &count, &start, &end)
	if err != nil {
		return nil, state.Unavailable("get artifact summary", err)
	}
	if rows == 0 {
		return nil, state.NotFound("artifact for story", storyID)
	}

	startPtr, err := parseNullTime(start)
	if err != nil {
		return nil, err
	}
	endPtr, err := parseNullTime(end)
	if err != nil {
		return nil, err
	}

	sum := &state.ArtifactSummary{StoryID: storyID}
	sum.Merge(count, startPtr, endPtr)
	return sum, nil
}

// GetArtifact returns every test case stored for storyID, oldest run first.
func (s *Store) GetArtifact(ctx context.Context, storyID string) (*state.Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, test_cases, start_time, end_time, created_at
		 FROM test_cases_generated WHERE story_id = ? ORDER BY id ASC`, storyID)
	if err != nil {
		return nil, state.Unavailable("get artifact", err)
	}
	defer rows.Close()

	var out *state.Artifact
	for rows.Next() {
		var (
			id                          int64
			casesJSON, start, createdAt string
			end                         sql.NullString
		)
		if err := rows.Scan(&id, &casesJSON, &start, &end, &createdAt); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}

		var cases []state.TestCase
		if err := json.Unmarshal([]byte(casesJSON), &cases); err != nil {
			return nil, fmt.Errorf("unmarshal test cases of artifact %d: %w", id, err)
		}
		startT, err := time.Parse(timeLayout, start)
		if err != nil {
			return nil, fmt.Errorf("parse start_time: %w", err)
		}
		endPtr, err := parseNullTime(end)
		if err != nil {
			return nil, err
		}
		createdT, err := time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}

		if out == nil {
			out = &state.Artifact{ID: id, StoryID: storyID, StartTime: startT, CreatedAt: createdT}
		}
		out.TestCases = append(out.TestCases, cases...)
		if startT.Before(out.StartTime) {
			out.StartTime = startT
		}
		if endPtr != nil && (out.EndTime == nil || endPtr.After(*out.EndTime)) {
			out.EndTime = endPtr
		}
	}
	if err := rows.Err(); err != nil {
		return nil, state.Unavailable("iterate artifacts", err)
	}
	if out == nil {
		return nil, state.NotFound("artifact for story", storyID)
	}
	return out, nil
}

// InsertArtifact writes one generation run inside a transaction.
func (s *Store) InsertArtifact(ctx context.Context, artifact *state.Artifact) (int64, error) {
	if artifact == nil || artifact.StoryID == "" {
		return 0, errors.New("insert artifact: story id is required")
	}

	cases := artifact.TestCases
	if cases == nil {
		cases = []state.TestCase{}
	}
	casesJSON, err := json.Marshal(cases)
	if err != nil {
		return 0, fmt.Errorf("marshal test cases: %w", err)
	}

	var end sql.NullString
	if artifact.EndTime != nil {
		end = sql.NullString{String: formatTime(*artifact.EndTime), Valid: true}
	}
	createdAt := artifact.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, state.Unavailable("begin artifact insert", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO test_cases_generated (story_id, test_cases, num_test_cases, start_time, end_time, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		artifact.StoryID, string(casesJSON), len(cases), formatTime(artifact.StartTime), end, formatTime(createdAt),
	)
	if err != nil {
		return 0, state.Unavailable("insert artifact", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read artifact id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, state.Unavailable("commit artifact insert", err)
	}
	return id, nil
}

// ListArtifactSummaries aggregates summaries for a set of stories in a
// single query.
func (s *Store) ListArtifactSummaries(ctx context.Context, storyIDs []string) (map[string]state.ArtifactSummary, error) {
	out := make(map[string]state.ArtifactSummary, len(storyIDs))
	if len(storyIDs) == 0 {
		return out, nil
	}

	args := make([]interface{}, len(storyIDs))
	for i, id := range storyIDs {
		args[i] = id
	}
	query := `SELECT story_id, COALESCE(SUM(num_test_cases), 0), MIN(start_time), MAX(end_time)
	          FROM test_cases_generated
	          WHERE story_id IN (?` + strings.Repeat(",?", len(storyIDs)-1) + `)
	          GROUP BY story_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, state.Unavailable("list artifact summaries", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			storyID    string
			count      int
			start, end sql.NullString
		)
		if err := rows.Scan(&storyID, &count, &start, &end); err != nil {
			return nil, fmt.Errorf("scan artifact summary: %w", err)
		}
		startPtr, err := parseNullTime(start)
		if err != nil {
			return nil, err
		}
		endPtr, err := parseNullTime(end)
		if err != nil {
			return nil, err
		}
		sum := state.ArtifactSummary{StoryID: storyID}
		sum.Merge(count, startPtr, endPtr)
		out[storyID] = sum
	}
	if err := rows.Err(); err != nil {
		return nil, state.Unavailable("iterate artifact summaries", err)
	}
	return out, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, ns.String)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp %q: %w", ns.String, err)
	}
	return &t, nil
}
