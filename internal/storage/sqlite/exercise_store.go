package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/pyportal/internal/domain"
)

// ExerciseStore implements exercise persistence backed by SQLite.
type ExerciseStore struct {
	db *DB
}

// NewExerciseStore creates a new SQLite-backed exercise store.
func NewExerciseStore(db *DB) *ExerciseStore {
	return &ExerciseStore{db: db}
}

const exerciseColumns = `id, slug, title, description, instructions, starter_code, test_code,
	solution_code, difficulty, topics_json, order_index, estimated_time, hints_json`

// Replace deletes every stored exercise and inserts exercises in one
// transaction. Any failure rolls the transaction back.
func (s *ExerciseStore) Replace(ctx context.Context, exercises []*domain.Exercise) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "DELETE FROM exercises"); err != nil {
		return fmt.Errorf("delete exercises: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO exercises (`+exerciseColumns+`, loaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, ex := range exercises {
		topics, mErr := marshalStrings("topics", ex.Topics)
		if mErr != nil {
			err = mErr
			return err
		}
		hints, mErr := marshalStrings("hints", ex.Hints)
		if mErr != nil {
			err = mErr
			return err
		}
		_, err = stmt.ExecContext(ctx,
			ex.ID, ex.Slug, ex.Title, ex.Description, ex.Instructions,
			ex.StarterCode, ex.TestCode, ex.SolutionCode, string(ex.Difficulty),
			topics, ex.Order, ex.EstimatedTime, hints, now,
		)
		if err != nil {
			return fmt.Errorf("insert exercise %s: %w", ex.Slug, err)
		}
	}

	if _, err = tx.ExecContext(ctx,
		"INSERT INTO exercise_refreshes (loaded, refreshed_at) VALUES (?, ?)", len(exercises), now); err != nil {
		return fmt.Errorf("record refresh: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// List returns all exercises ordered by their catalogue position.
func (s *ExerciseStore) List(ctx context.Context) ([]*domain.Exercise, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+exerciseColumns+` FROM exercises ORDER BY order_index`)
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

// Get retrieves an exercise by id, falling back to its slug.
func (s *ExerciseStore) Get(ctx context.Context, idOrSlug string) (*domain.Exercise, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+exerciseColumns+` FROM exercises
		WHERE id = ? OR slug = ? ORDER BY id = ? DESC LIMIT 1`, idOrSlug, idOrSlug, idOrSlug)
	ex, err := scanExercise(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("exercise", idOrSlug)
	}
	return ex, err
}

// Count returns the number of stored exercises.
func (s *ExerciseStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM exercises").Scan(&n); err != nil {
		return 0, fmt.Errorf("count exercises: %w", err)
	}
	return n, nil
}

// LastRefresh reports when the catalogue was last replaced and how many
// exercises were loaded. ok is false if no refresh has happened yet.
func (s *ExerciseStore) LastRefresh(ctx context.Context) (at time.Time, loaded int, ok bool, err error) {
	err = s.db.QueryRowContext(ctx,
		"SELECT refreshed_at, loaded FROM exercise_refreshes ORDER BY id DESC LIMIT 1").Scan(&at, &loaded)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, 0, false, nil
	}
	if err != nil {
		return time.Time{}, 0, false, fmt.Errorf("last refresh: %w", err)
	}
	return at, loaded, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExercise(row scanner) (*domain.Exercise, error) {
	var (
		ex         domain.Exercise
		difficulty string
		topicsJSON string
		hintsJSON  string
	)
	err := row.Scan(&ex.ID, &ex.Slug, &ex.Title, &ex.Description, &ex.Instructions,
		&ex.StarterCode, &ex.TestCode, &ex.SolutionCode, &difficulty, &topicsJSON,
		&ex.Order, &ex.EstimatedTime, &hintsJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan exercise: %w", err)
	}
	ex.Difficulty = domain.Difficulty(difficulty)

	if err := json.Unmarshal([]byte(topicsJSON), &ex.Topics); err != nil {
		return nil, fmt.Errorf("unmarshal topics for %s: %w", ex.Slug, err)
	}
	if err := json.Unmarshal([]byte(hintsJSON), &ex.Hints); err != nil {
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
