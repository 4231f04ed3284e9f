package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/felixgeelhaar/pyportal/internal/domain"
	"github.com/google/go-cmp/cmp"
)

func sampleExercises() []*domain.Exercise {
	return []*domain.Exercise{
		{
			ID: "b-id", Slug: "E1_tip_calc", Title: "Tip Calc", Description: "Tip",
			Instructions: "# Tip\n\nCompute.", StarterCode: "pass", TestCode: "assert True",
			SolutionCode: "x = 1", Difficulty: domain.DifficultyBeginner,
			Topics: []string{"math", "arithmetic"}, Order: 2, EstimatedTime: 10,
			Hints: []string{"Multiply by the rate"},
		},
		{
			ID: "a-id", Slug: "E0_greet", Title: "Greet", Description: "Practice Greet",
			Difficulty: domain.DifficultyIntermediate, Topics: []string{"general"},
			Hints: []string{}, Order: 1, EstimatedTime: 20,
		},
	}
}

func TestExerciseStore_ReplaceAndList(t *testing.T) {
	ctx := context.Background()
	store := NewExerciseStore(openTestDB(t))

	if err := store.Replace(ctx, sampleExercises()); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	got, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("List() returned %d exercises, want 2", len(got))
	}
	if got[0].Slug != "E0_greet" || got[1].Slug != "E1_tip_calc" {
		t.Errorf("List() order = [%s %s], want ordered by Order", got[0].Slug, got[1].Slug)
	}
	if diff := cmp.Diff(sampleExercises()[0], got[1]); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestExerciseStore_ReplaceRemovesPrevious(t *testing.T) {
	ctx := context.Background()
	store := NewExerciseStore(openTestDB(t))

	if err := store.Replace(ctx, sampleExercises()); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	next := []*domain.Exercise{{
		ID: "c-id", Slug: "E2_initials", Title: "Initials",
		Difficulty: domain.DifficultyBeginner, Topics: []string{"strings"}, Order: 1,
	}}
	if err := store.Replace(ctx, next); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	n, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
	if _, err := store.Get(ctx, "a-id"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("old exercise should be deleted, got err = %v", err)
	}
}

func TestExerciseStore_ReplaceRollsBack(t *testing.T) {
	ctx := context.Background()
	store := NewExerciseStore(openTestDB(t))

	if err := store.Replace(ctx, sampleExercises()); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	// Duplicate slug violates the unique constraint halfway through
	bad := []*domain.Exercise{
		{ID: "x1", Slug: "dup", Title: "A", Difficulty: domain.DifficultyBeginner, Order: 1},
		{ID: "x2", Slug: "dup", Title: "B", Difficulty: domain.DifficultyBeginner, Order: 2},
	}
	if err := store.Replace(ctx, bad); err == nil {
		t.Fatal("Replace() should fail on duplicate slug")
	}

	got, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != "a-id" {
		t.Errorf("previous catalogue should be intact, got %d exercises", len(got))
	}
}

func TestExerciseStore_ReplaceEmpty(t *testing.T) {
	ctx := context.Background()
	store := NewExerciseStore(openTestDB(t))

	if err := store.Replace(ctx, sampleExercises()); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	if err := store.Replace(ctx, nil); err != nil {
		t.Fatalf("Replace(nil) error = %v", err)
	}

	got, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("List() = %v, want empty non-nil slice", got)
	}
}

func TestExerciseStore_Get(t *testing.T) {
	ctx := context.Background()
	store := NewExerciseStore(openTestDB(t))
	if err := store.Replace(ctx, sampleExercises()); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	byID, err := store.Get(ctx, "b-id")
	if err != nil {
		t.Fatalf("Get(id) error = %v", err)
	}
	if byID.Slug != "E1_tip_calc" {
		t.Errorf("Get(id).Slug = %q", byID.Slug)
	}

	bySlug, err := store.Get(ctx, "E0_greet")
	if err != nil {
		t.Fatalf("Get(slug) error = %v", err)
	}
	if bySlug.ID != "a-id" {
		t.Errorf("Get(slug).ID = %q", bySlug.ID)
	}

	_, err = store.Get(ctx, "missing")
	var nf *domain.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("Get(missing) error = %v, want *NotFoundError", err)
	}
	if nf.ID != "missing" {
		t.Errorf("NotFoundError.ID = %q", nf.ID)
	}
}

func TestExerciseStore_TopicsNil(t *testing.T) {
	ctx := context.Background()
	store := NewExerciseStore(openTestDB(t))

	ex := &domain.Exercise{ID: "n", Slug: "E0_n", Title: "N", Difficulty: domain.DifficultyBeginner, Order: 1}
	if err := store.Replace(ctx, []*domain.Exercise{ex}); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	got, err := store.Get(ctx, "n")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Topics == nil || len(got.Topics) != 0 {
		t.Errorf("Topics = %#v, want empty slice", got.Topics)
	}
}

func TestExerciseStore_LastRefresh(t *testing.T) {
	ctx := context.Background()
	store := NewExerciseStore(openTestDB(t))

	if _, _, ok, err := store.LastRefresh(ctx); err != nil || ok {
		t.Fatalf("LastRefresh() before any refresh = ok %v, err %v", ok, err)
	}

	if err := store.Replace(ctx, sampleExercises()); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	at, loaded, ok, err := store.LastRefresh(ctx)
	if err != nil || !ok {
		t.Fatalf("LastRefresh() = ok %v, err %v", ok, err)
	}
	if loaded != 2 {
		t.Errorf("loaded = %d, want 2", loaded)
	}
	if at.IsZero() {
		t.Error("refreshed_at should be set")
	}
}
