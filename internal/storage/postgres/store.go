// Package postgres provides a PostgreSQL-backed exercise store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/pyportal/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const connectTimeout = 5 * time.Second

const schema = `
CREATE TABLE IF NOT EXISTS exercises (
	id             TEXT PRIMARY KEY,
	slug           TEXT NOT NULL UNIQUE,
	title          TEXT NOT NULL,
	description    TEXT NOT NULL DEFAULT '',
	instructions   TEXT NOT NULL DEFAULT '',
	starter_code   TEXT NOT NULL DEFAULT '',
	test_code      TEXT NOT NULL DEFAULT '',
	solution_code  TEXT NOT NULL DEFAULT '',
	difficulty     TEXT NOT NULL CHECK (difficulty IN ('beginner', 'intermediate', 'advanced')),
	topics_json    JSONB NOT NULL DEFAULT '[]',
	order_index    INTEGER NOT NULL,
	estimated_time INTEGER NOT NULL DEFAULT 0,
	loaded_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_exercises_order ON exercises(order_index);
ALTER TABLE exercises ADD COLUMN IF NOT EXISTS hints_json JSONB NOT NULL DEFAULT '[]';
`

const exerciseColumns = `id, slug, title, description, instructions, starter_code, test_code,
	solution_code, difficulty, topics_json, order_index, estimated_time, hints_json`

// ExerciseStore implements exercise persistence using PostgreSQL
type ExerciseStore struct {
	pool *pgxpool.Pool
}

// NewExerciseStore creates a new PostgreSQL exercise store
func NewExerciseStore(pool *pgxpool.Pool) *ExerciseStore {
	return &ExerciseStore{pool: pool}
}

// Connect opens a connection pool and verifies it with a ping
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// Migrate creates the exercises table if it does not exist
func (s *ExerciseStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Replace swaps the catalogue inside one transaction. The inserts are sent
// as a single batch; any failure rolls everything back.
func (s *ExerciseStore) Replace(ctx context.Context, exercises []*domain.Exercise) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // no-op after commit

	if _, err := tx.Exec(ctx, "DELETE FROM exercises"); err != nil {
		return fmt.Errorf("delete exercises: %w", err)
	}

	batch := &pgx.Batch{}
	for _, ex := range exercises {
		topics, err := marshalStrings("topics", ex.Topics)
		if err != nil {
			return err
		}
		hints, err := marshalStrings("hints", ex.Hints)
		if err != nil {
			return err
		}
		batch.Queue(`INSERT INTO exercises (`+exerciseColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			ex.ID, ex.Slug, ex.Title, ex.Description, ex.Instructions,
			ex.StarterCode, ex.TestCode, ex.SolutionCode, string(ex.Difficulty),
			topics, ex.Order, ex.EstimatedTime, hints,
		)
	}

	if batch.Len() > 0 {
		results := tx.SendBatch(ctx, batch)
		for _, ex := range exercises {
			if _, err := results.Exec(); err != nil {
				results.Close()
				return fmt.Errorf("insert exercise %s: %w", ex.Slug, err)
			}
		}
		if err := results.Close(); err != nil {
			return fmt.Errorf("close batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// List returns all exercises ordered by catalogue position
func (s *ExerciseStore) List(ctx context.Context) ([]*domain.Exercise, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+exerciseColumns+` FROM exercises ORDER BY order_index`)
	if err != nil {
		return nil, fmt.Errorf("list exercises: %w", err)
	}
	defer rows.Close()

	exercises := []*domain.Exercise{}
	for rows.Next() {
		ex, err := scanExercise(rows)
		if err != nil {
			return nil, err
		}
		exercises = append(exercises, ex)
	}
	return exercises, rows.Err()
}

// Get retrieves an exercise by id or slug
func (s *ExerciseStore) Get(ctx context.Context, idOrSlug string) (*domain.Exercise, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+exerciseColumns+` FROM exercises
		WHERE id = $1 OR slug = $1 ORDER BY (id = $1) DESC LIMIT 1`, idOrSlug)
	ex, err := scanExercise(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NewNotFoundError("exercise", idOrSlug)
	}
	return ex, err
}

// Count returns the number of stored exercises
func (s *ExerciseStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM exercises").Scan(&n); err != nil {
		return 0, fmt.Errorf("count exercises: %w", err)
	}
	return n, nil
}

func scanExercise(row pgx.Row) (*domain.Exercise, error) {
	var (
		ex         domain.Exercise
		difficulty string
		topicsJSON []byte
		hintsJSON  []byte
	)
	err := row.Scan(&ex.ID, &ex.Slug, &ex.Title, &ex.Description, &ex.Instructions,
		&ex.StarterCode, &ex.TestCode, &ex.SolutionCode, &difficulty, &topicsJSON,
		&ex.Order, &ex.EstimatedTime, &hintsJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan exercise: %w", err)
	}
	ex.Difficulty = domain.Difficulty(difficulty)

	if err := json.Unmarshal(topicsJSON, &ex.Topics); err != nil {
		return nil, fmt.Errorf("unmarshal topics for %s: %w", ex.Slug, err)
	}
	if err := json.Unmarshal(hintsJSON, &ex.Hints); err != nil {
		return nil, fmt.Errorf("unmarshal hints for %s: %w", ex.Slug, err)
	}
	return &ex, nil
}

// marshalStrings encodes a string list column; nil is stored as []
func marshalStrings(field string, list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", field, err)
	}
	return string(data), nil
}
