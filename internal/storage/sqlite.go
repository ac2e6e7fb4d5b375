package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sjawhar/interview-room/internal/interview"
)

var ErrNotFound = errors.New("record not found")

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "interview-room.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	tables := map[string]string{
		"interviews": `
			CREATE TABLE IF NOT EXISTS interviews (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				job_description TEXT NOT NULL DEFAULT '',
				skills TEXT NOT NULL DEFAULT '[]',
				interview_type TEXT NOT NULL DEFAULT '',
				difficulty TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				recording_url TEXT NOT NULL DEFAULT '',
				created_at TEXT NOT NULL,
				completed_at TEXT
			);`,
		"turns": `
			CREATE TABLE IF NOT EXISTS turns (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				interview_id INTEGER NOT NULL,
				role TEXT NOT NULL,
				content TEXT NOT NULL,
				timestamp TEXT NOT NULL,
				FOREIGN KEY(interview_id) REFERENCES interviews(id) ON DELETE CASCADE
			);`,
		"results": `
			CREATE TABLE IF NOT EXISTS results (
				interview_id INTEGER PRIMARY KEY,
				overall_rating REAL NOT NULL,
				proficiency TEXT NOT NULL DEFAULT '',
				skill_ratings TEXT NOT NULL DEFAULT '[]',
				feedback TEXT NOT NULL DEFAULT '',
				created_at TEXT NOT NULL,
				FOREIGN KEY(interview_id) REFERENCES interviews(id) ON DELETE CASCADE
			);`,
	}
	for _, name := range []string{"interviews", "turns", "results"} {
		if _, err := s.db.Exec(tables[name]); err != nil {
			return fmt.Errorf("create %s table: %w", name, err)
		}
	}

	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_interviews_created_at ON interviews(created_at)"); err != nil {
		return fmt.Errorf("create interviews index: %w", err)
	}
	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_turns_interview_id ON turns(interview_id, id)"); err != nil {
		return fmt.Errorf("create turns index: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) CreateInterview(ctx context.Context, meta interview.Meta, createdAt time.Time) (interview.Interview, error) {
	meta = meta.Normalize()
	skills, err := json.Marshal(nonNil(meta.Skills))
	if err != nil {
		return interview.Interview{}, fmt.Errorf("encode skills: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO interviews(job_description, skills, interview_type, difficulty, status, created_at) VALUES(?, ?, ?, ?, ?, ?)`,
		meta.JobDescription,
		string(skills),
		meta.InterviewType,
		meta.Difficulty,
		interview.StatusInProgress,
		createdAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return interview.Interview{}, fmt.Errorf("create interview: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return interview.Interview{}, fmt.Errorf("create interview last insert id: %w", err)
	}

	meta.InterviewID = id
	return interview.Interview{
		ID:        id,
		Meta:      meta,
		Status:    interview.StatusInProgress,
		CreatedAt: createdAt.UTC(),
	}, nil
}

func (s *SQLiteStore) GetInterview(ctx context.Context, id int64) (interview.Interview, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, job_description, skills, interview_type, difficulty, status, recording_url, created_at, completed_at
		 FROM interviews WHERE id = ?`,
		id,
	)
	iv, err := scanInterview(row)
	if errors.Is(err, sql.ErrNoRows) {
		return interview.Interview{}, fmt.Errorf("interview %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return interview.Interview{}, fmt.Errorf("query interview %d: %w", id, err)
	}
	return iv, nil
}

// ListInterviews returns the most recent interviews first.
func (s *SQLiteStore) ListInterviews(ctx context.Context, limit int) ([]interview.Interview, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_description, skills, interview_type, difficulty, status, recording_url, created_at, completed_at
		 FROM interviews
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query interviews: %w", err)
	}
	defer func() { _ = rows.Close() }()

	interviews := make([]interview.Interview, 0, 16)
	for rows.Next() {
		iv, err := scanInterview(rows)
		if err != nil {
			return nil, fmt.Errorf("scan interview: %w", err)
		}
		interviews = append(interviews, iv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate interview rows: %w", err)
	}
	return interviews, nil
}

func (s *SQLiteStore) CompleteInterview(ctx context.Context, id int64, completedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE interviews SET status = ?, completed_at = ? WHERE id = ?`,
		interview.StatusCompleted,
		completedAt.UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("complete interview %d: %w", id, err)
	}
	return requireRow(res, id)
}

func (s *SQLiteStore) SetRecordingURL(ctx context.Context, id int64, url string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE interviews SET recording_url = ? WHERE id = ?`, url, id)
	if err != nil {
		return fmt.Errorf("set recording url for interview %d: %w", id, err)
	}
	return requireRow(res, id)
}

func (s *SQLiteStore) AddTurn(ctx context.Context, interviewID int64, turn interview.Turn) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns(interview_id, role, content, timestamp) VALUES(?, ?, ?, ?)`,
		interviewID,
		string(turn.Role),
		strings.TrimSpace(turn.Content),
		turn.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("add turn for interview %d: %w", interviewID, err)
	}
	return nil
}

func (s *SQLiteStore) ListTurns(ctx context.Context, interviewID int64) ([]interview.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, timestamp FROM turns WHERE interview_id = ? ORDER BY id ASC`,
		interviewID,
	)
	if err != nil {
		return nil, fmt.Errorf("query turns for interview %d: %w", interviewID, err)
	}
	defer func() { _ = rows.Close() }()

	turns := make([]interview.Turn, 0, 32)
	for rows.Next() {
		var turn interview.Turn
		var role, ts string
		if err := rows.Scan(&role, &turn.Content, &ts); err != nil {
			return nil, fmt.Errorf("scan turn for interview %d: %w", interviewID, err)
		}
		turn.Role = interview.Role(role)

		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse turn timestamp for interview %d: %w", interviewID, err)
		}
		turn.Timestamp = parsed
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows for interview %d: %w", interviewID, err)
	}
	return turns, nil
}

// SaveResult stores the evaluation, replacing an earlier one.
func (s *SQLiteStore) SaveResult(ctx context.Context, result interview.Result) error {
	ratings, err := json.Marshal(nonNil(result.SkillRatings))
	if err != nil {
		return fmt.Errorf("encode skill ratings: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO results(interview_id, overall_rating, proficiency, skill_ratings, feedback, created_at)
		 VALUES(?, ?, ?, ?, ?, ?)
		 ON CONFLICT(interview_id) DO UPDATE SET
			overall_rating = excluded.overall_rating,
			proficiency = excluded.proficiency,
			skill_ratings = excluded.skill_ratings,
			feedback = excluded.feedback,
			created_at = excluded.created_at`,
		result.InterviewID,
		result.OverallRating,
		result.Proficiency,
		string(ratings),
		result.Feedback,
		result.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save result for interview %d: %w", result.InterviewID, err)
	}
	return nil
}

func (s *SQLiteStore) GetResult(ctx context.Context, interviewID int64) (interview.Result, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT interview_id, overall_rating, proficiency, skill_ratings, feedback, created_at FROM results WHERE interview_id = ?`,
		interviewID,
	)

	var result interview.Result
	var ratings, createdAt string
	err := row.Scan(&result.InterviewID, &result.OverallRating, &result.Proficiency, &ratings, &result.Feedback, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return interview.Result{}, fmt.Errorf("result for interview %d: %w", interviewID, ErrNotFound)
	}
	if err != nil {
		return interview.Result{}, fmt.Errorf("query result for interview %d: %w", interviewID, err)
	}
	if err := json.Unmarshal([]byte(ratings), &result.SkillRatings); err != nil {
		return interview.Result{}, fmt.Errorf("decode skill ratings for interview %d: %w", interviewID, err)
	}
	if result.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return interview.Result{}, fmt.Errorf("parse result created_at for interview %d: %w", interviewID, err)
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInterview(row rowScanner) (interview.Interview, error) {
	var iv interview.Interview
	var skills, createdAt string
	var completedAt sql.NullString
	if err := row.Scan(&iv.ID, &iv.Meta.JobDescription, &skills, &iv.Meta.InterviewType, &iv.Meta.Difficulty,
		&iv.Status, &iv.RecordingURL, &createdAt, &completedAt); err != nil {
		return interview.Interview{}, err
	}
	iv.Meta.InterviewID = iv.ID

	if err := json.Unmarshal([]byte(skills), &iv.Meta.Skills); err != nil {
		return interview.Interview{}, fmt.Errorf("decode skills: %w", err)
	}

	parsed, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return interview.Interview{}, fmt.Errorf("parse created_at: %w", err)
	}
	iv.CreatedAt = parsed

	if completedAt.Valid {
		parsedEnd, err := time.Parse(time.RFC3339Nano, completedAt.String)
		if err != nil {
			return interview.Interview{}, fmt.Errorf("parse completed_at: %w", err)
		}
		iv.CompletedAt = &parsedEnd
	}
	return iv, nil
}

func requireRow(res sql.Result, id int64) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("interview %d: %w", id, ErrNotFound)
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
