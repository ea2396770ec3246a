package task_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tasktree/internal/models"
	"tasktree/internal/storage/sqlite"
	"tasktree/internal/task"
)

func newService(t *testing.T) (*task.Service, *sqlite.Store, int64) {
	t.Helper()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	user, err := store.CreateUser(context.Background(), "Alice", "alice@example.com", "irrelevant")
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	return task.NewService(store), store, user.ID
}

func mustCreate(t *testing.T, svc *task.Service, owner int64, in task.CreateInput) models.Task {
	t.Helper()
	created, err := svc.Create(context.Background(), owner, in)
	if err != nil {
		t.Fatalf("Failed to create task %q: %v", in.Title, err)
	}
	return created
}

func TestCreateDefaults(t *testing.T) {
	svc, _, owner := newService(t)
	ctx := context.Background()

	created := mustCreate(t, svc, owner, task.CreateInput{Title: "  Buy milk  "})

	if created.Title != "Buy milk" {
		t.Errorf("Expected trimmed title, got %q", created.Title)
	}
	if created.Status != models.StatusTodo {
		t.Errorf("Expected status todo, got %s", created.Status)
	}
	if created.Priority != models.PriorityLow {
		t.Errorf("Expected default priority low, got %d", created.Priority)
	}
	if created.CompletedAt != nil {
		t.Errorf("Expected nil completed_at on creation")
	}
	if created.CreatedAt.IsZero() || created.UpdatedAt.IsZero() {
		t.Errorf("Expected timestamps to be set")
	}

	if _, err := svc.Create(ctx, owner, task.CreateInput{Title: "   "}); !errors.Is(err, task.ErrValidation) {
		t.Errorf("Expected ErrValidation for blank title, got %v", err)
	}

	bad := models.Priority(9)
	if _, err := svc.Create(ctx, owner, task.CreateInput{Title: "x", Priority: &bad}); !errors.Is(err, task.ErrValidation) {
		t.Errorf("Expected ErrValidation for out-of-range priority, got %v", err)
	}
}

func TestCreateWithParent(t *testing.T) {
	svc, store, owner := newService(t)
	ctx := context.Background()

	parent := mustCreate(t, svc, owner, task.CreateInput{Title: "Parent"})

	sub := mustCreate(t, svc, owner, task.CreateInput{Title: "Sub", ParentID: &parent.ID})
	if sub.ParentID == nil || *sub.ParentID != parent.ID {
		t.Errorf("Expected parent_id %d, got %v", parent.ID, sub.ParentID)
	}

	missing := parent.ID + 1000
	if _, err := svc.Create(ctx, owner, task.CreateInput{Title: "x", ParentID: &missing}); !errors.Is(err, task.ErrParentNotFound) {
		t.Errorf("Expected ErrParentNotFound, got %v", err)
	}

	// A parent owned by a different user must not resolve.
	other, err := store.CreateUser(ctx, "Bob", "bob@example.com", "irrelevant")
	if err != nil {
		t.Fatalf("Failed to create second user: %v", err)
	}
	if _, err := svc.Create(ctx, other.ID, task.CreateInput{Title: "x", ParentID: &parent.ID}); !errors.Is(err, task.ErrParentNotFound) {
		t.Errorf("Expected ErrParentNotFound for foreign parent, got %v", err)
	}

	done := mustCreate(t, svc, owner, task.CreateInput{Title: "Done parent"})
	if _, err := svc.Complete(ctx, owner, done.ID); err != nil {
		t.Fatalf("Failed to complete task: %v", err)
	}
	if _, err := svc.Create(ctx, owner, task.CreateInput{Title: "x", ParentID: &done.ID}); !errors.Is(err, task.ErrParentCompleted) {
		t.Errorf("Expected ErrParentCompleted, got %v", err)
	}
}

func TestUpdatePartial(t *testing.T) {
	svc, _, owner := newService(t)
	ctx := context.Background()

	created := mustCreate(t, svc, owner, task.CreateInput{Title: "Original", Description: "Keep me"})

	title := "New title"
	updated, err := svc.Update(ctx, owner, created.ID, task.Patch{Title: &title})
	if err != nil {
		t.Fatalf("Failed to update task: %v", err)
	}

	if updated.Title != "New title" {
		t.Errorf("Expected updated title, got %q", updated.Title)
	}
	if updated.Description != "Keep me" {
		t.Errorf("Expected description preserved, got %q", updated.Description)
	}
	if updated.Status != models.StatusTodo {
		t.Errorf("Expected status untouched, got %s", updated.Status)
	}
	if updated.CompletedAt != nil {
		t.Errorf("Expected completed_at untouched, got %v", updated.CompletedAt)
	}

	blank := "  "
	if _, err := svc.Update(ctx, owner, created.ID, task.Patch{Title: &blank}); !errors.Is(err, task.ErrValidation) {
		t.Errorf("Expected ErrValidation for blank title, got %v", err)
	}

	if _, err := svc.Update(ctx, owner, created.ID+1000, task.Patch{Title: &title}); !errors.Is(err, task.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestUpdateStatusToDone(t *testing.T) {
	svc, _, owner := newService(t)
	ctx := context.Background()

	parent := mustCreate(t, svc, owner, task.CreateInput{Title: "Parent"})
	sub := mustCreate(t, svc, owner, task.CreateInput{Title: "Sub", ParentID: &parent.ID})

	done := models.StatusDone
	if _, err := svc.Update(ctx, owner, parent.ID, task.Patch{Status: &done}); !errors.Is(err, task.ErrIncompleteSubtasks) {
		t.Errorf("Expected ErrIncompleteSubtasks, got %v", err)
	}

	updatedSub, err := svc.Update(ctx, owner, sub.ID, task.Patch{Status: &done})
	if err != nil {
		t.Fatalf("Failed to update subtask status: %v", err)
	}
	// A plain status update does not stamp completed_at; only Complete does.
	if updatedSub.Status != models.StatusDone {
		t.Errorf("Expected status done, got %s", updatedSub.Status)
	}
	if updatedSub.CompletedAt != nil {
		t.Errorf("Expected completed_at to stay nil on status update, got %v", updatedSub.CompletedAt)
	}

	updatedParent, err := svc.Update(ctx, owner, parent.ID, task.Patch{Status: &done})
	if err != nil {
		t.Fatalf("Failed to update parent status after subtask done: %v", err)
	}
	if updatedParent.Status != models.StatusDone {
		t.Errorf("Expected parent status done, got %s", updatedParent.Status)
	}

	// Completed tasks stay editable for other fields.
	desc := "postmortem notes"
	edited, err := svc.Update(ctx, owner, updatedParent.ID, task.Patch{Description: &desc})
	if err != nil {
		t.Fatalf("Failed to update completed task: %v", err)
	}
	if edited.Description != desc {
		t.Errorf("Expected description %q, got %q", desc, edited.Description)
	}
}

func TestUpdateReparent(t *testing.T) {
	svc, _, owner := newService(t)
	ctx := context.Background()

	a := mustCreate(t, svc, owner, task.CreateInput{Title: "A"})
	b := mustCreate(t, svc, owner, task.CreateInput{Title: "B"})

	if _, err := svc.Update(ctx, owner, a.ID, task.Patch{ParentID: &a.ID}); !errors.Is(err, task.ErrSelfParent) {
		t.Errorf("Expected ErrSelfParent, got %v", err)
	}

	missing := b.ID + 1000
	if _, err := svc.Update(ctx, owner, a.ID, task.Patch{ParentID: &missing}); !errors.Is(err, task.ErrParentNotFound) {
		t.Errorf("Expected ErrParentNotFound, got %v", err)
	}

	if _, err := svc.Complete(ctx, owner, b.ID); err != nil {
		t.Fatalf("Failed to complete task: %v", err)
	}
	if _, err := svc.Update(ctx, owner, a.ID, task.Patch{ParentID: &b.ID}); !errors.Is(err, task.ErrParentCompleted) {
		t.Errorf("Expected ErrParentCompleted, got %v", err)
	}

	c := mustCreate(t, svc, owner, task.CreateInput{Title: "C"})
	updated, err := svc.Update(ctx, owner, a.ID, task.Patch{ParentID: &c.ID})
	if err != nil {
		t.Fatalf("Failed to reparent: %v", err)
	}
	if updated.ParentID == nil || *updated.ParentID != c.ID {
		t.Errorf("Expected parent %d, got %v", c.ID, updated.ParentID)
	}
}

func TestDelete(t *testing.T) {
	svc, _, owner := newService(t)
	ctx := context.Background()

	doomed := mustCreate(t, svc, owner, task.CreateInput{Title: "Doomed"})
	orphan := mustCreate(t, svc, owner, task.CreateInput{Title: "Orphan", ParentID: &doomed.ID})

	if err := svc.Delete(ctx, owner, doomed.ID); err != nil {
		t.Fatalf("Failed to delete task: %v", err)
	}
	if _, err := svc.Get(ctx, owner, doomed.ID); !errors.Is(err, task.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}

	// Subtasks of a deleted parent become top-level.
	got, err := svc.Get(ctx, owner, orphan.ID)
	if err != nil {
		t.Fatalf("Failed to fetch orphaned subtask: %v", err)
	}
	if got.ParentID != nil {
		t.Errorf("Expected parent_id nullified, got %v", *got.ParentID)
	}

	if err := svc.Delete(ctx, owner, doomed.ID); !errors.Is(err, task.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing task, got %v", err)
	}

	completed := mustCreate(t, svc, owner, task.CreateInput{Title: "Completed"})
	if _, err := svc.Complete(ctx, owner, completed.ID); err != nil {
		t.Fatalf("Failed to complete task: %v", err)
	}
	if err := svc.Delete(ctx, owner, completed.ID); !errors.Is(err, task.ErrCannotDeleteCompleted) {
		t.Errorf("Expected ErrCannotDeleteCompleted, got %v", err)
	}
}

func TestCompleteFlow(t *testing.T) {
	svc, _, owner := newService(t)
	ctx := context.Background()

	parent := mustCreate(t, svc, owner, task.CreateInput{Title: "Parent"})
	sub := mustCreate(t, svc, owner, task.CreateInput{Title: "Sub", ParentID: &parent.ID})

	if _, err := svc.Complete(ctx, owner, parent.ID); !errors.Is(err, task.ErrIncompleteSubtasks) {
		t.Errorf("Expected ErrIncompleteSubtasks, got %v", err)
	}

	before := time.Now().Add(-time.Minute)
	if _, err := svc.Complete(ctx, owner, sub.ID); err != nil {
		t.Fatalf("Failed to complete subtask: %v", err)
	}

	done, err := svc.Complete(ctx, owner, parent.ID)
	if err != nil {
		t.Fatalf("Failed to complete parent: %v", err)
	}
	if done.Status != models.StatusDone {
		t.Errorf("Expected status done, got %s", done.Status)
	}
	if done.CompletedAt == nil {
		t.Fatalf("Expected completed_at to be set")
	}
	if done.CompletedAt.Before(before) || done.CompletedAt.After(time.Now().Add(time.Minute)) {
		t.Errorf("completed_at %v not near call time", done.CompletedAt)
	}

	// A redundant completion fails and leaves completed_at untouched.
	if _, err := svc.Complete(ctx, owner, parent.ID); !errors.Is(err, task.ErrAlreadyCompleted) {
		t.Errorf("Expected ErrAlreadyCompleted, got %v", err)
	}
	again, err := svc.Get(ctx, owner, parent.ID)
	if err != nil {
		t.Fatalf("Failed to refetch: %v", err)
	}
	if again.CompletedAt == nil || !again.CompletedAt.Equal(*done.CompletedAt) {
		t.Errorf("Expected completed_at unchanged, got %v want %v", again.CompletedAt, done.CompletedAt)
	}
}

func TestCompleteScoping(t *testing.T) {
	svc, store, owner := newService(t)
	ctx := context.Background()

	if _, err := svc.Complete(ctx, owner, 12345); !errors.Is(err, task.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	mine := mustCreate(t, svc, owner, task.CreateInput{Title: "Mine"})
	other, err := store.CreateUser(ctx, "Bob", "bob@example.com", "irrelevant")
	if err != nil {
		t.Fatalf("Failed to create second user: %v", err)
	}
	if _, err := svc.Complete(ctx, other.ID, mine.ID); !errors.Is(err, task.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for foreign task, got %v", err)
	}
}

func TestConcurrentComplete(t *testing.T) {
	svc, _, owner := newService(t)
	ctx := context.Background()

	target := mustCreate(t, svc, owner, task.CreateInput{Title: "Race"})

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Complete(ctx, owner, target.ID)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes, already int
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, task.ErrAlreadyCompleted):
			already++
		default:
			t.Errorf("Unexpected completion error: %v", err)
		}
	}
	if successes != 1 || already != 1 {
		t.Errorf("Expected exactly one success and one ErrAlreadyCompleted, got %d/%d", successes, already)
	}
}

func TestListFiltersAndSort(t *testing.T) {
	svc, _, owner := newService(t)
	ctx := context.Background()

	high := models.PriorityHigh
	due, _ := models.ParseDate("2026-09-15")
	mustCreate(t, svc, owner, task.CreateInput{Title: "Pay invoice", Priority: &high, DueDate: &due})
	mustCreate(t, svc, owner, task.CreateInput{Title: "Water plants", Description: "the ficus"})
	dusty := mustCreate(t, svc, owner, task.CreateInput{Title: "Dust shelves"})
	if _, err := svc.Complete(ctx, owner, dusty.ID); err != nil {
		t.Fatalf("Failed to complete task: %v", err)
	}

	// Filters compose conjunctively: HIGH+done matches nothing here.
	doneStatus := models.StatusDone
	got, err := svc.List(ctx, owner, task.Filter{Priority: &high, Status: &doneStatus}, nil)
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Expected no tasks for priority=high status=done, got %d", len(got))
	}

	todoStatus := models.StatusTodo
	got, err = svc.List(ctx, owner, task.Filter{Priority: &high, Status: &todoStatus}, nil)
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(got) != 1 || got[0].Title != "Pay invoice" {
		t.Errorf("Expected only the high-priority todo task, got %v", got)
	}

	got, err = svc.List(ctx, owner, task.Filter{Description: "ficus"}, nil)
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(got) != 1 || got[0].Title != "Water plants" {
		t.Errorf("Expected description substring match, got %v", got)
	}

	got, err = svc.List(ctx, owner, task.Filter{DueDate: &due}, nil)
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(got) != 1 || got[0].Title != "Pay invoice" {
		t.Errorf("Expected due-date match, got %v", got)
	}

	today := models.Date{Time: time.Now().UTC()}
	got, err = svc.List(ctx, owner, task.Filter{CompletedAt: &today}, nil)
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(got) != 1 || got[0].Title != "Dust shelves" {
		t.Errorf("Expected completed-on-day match, got %v", got)
	}

	// priority:asc puts the most urgent first; bogus fields are ignored.
	got, err = svc.List(ctx, owner, task.Filter{}, task.ParseSort("bogus:asc,priority:asc"))
	if err != nil {
		t.Fatalf("Failed to list sorted: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 tasks, got %d", len(got))
	}
	if got[0].Title != "Pay invoice" {
		t.Errorf("Expected high priority first, got %q", got[0].Title)
	}

	// A sort spec with no valid terms still succeeds.
	if _, err := svc.List(ctx, owner, task.Filter{}, task.ParseSort("bogus:asc")); err != nil {
		t.Errorf("Expected bogus-only sort to succeed, got %v", err)
	}

	got, err = svc.List(ctx, owner, task.Filter{}, task.ParseSort("title:desc"))
	if err != nil {
		t.Fatalf("Failed to list sorted: %v", err)
	}
	if got[0].Title != "Water plants" {
		t.Errorf("Expected reverse title order, got %q first", got[0].Title)
	}
}
