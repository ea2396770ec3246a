package task

import (
	"context"
	"errors"
	"strings"
	"time"

	"tasktree/internal/models"
)

// txTimeout bounds the locked completion transaction so a stuck lock
// surfaces as a retryable failure instead of blocking the caller forever.
const txTimeout = 5 * time.Second

// Store is the persistence contract the engine drives. Implementations
// perform no validation; every business rule lives in Service.
type Store interface {
	QueryTasks(ctx context.Context, ownerID int64, f Filter, sort []SortTerm) ([]models.Task, error)
	GetTask(ctx context.Context, ownerID, id int64) (models.Task, error)
	InsertTask(ctx context.Context, t models.Task) (models.Task, error)
	UpdateTask(ctx context.Context, id int64, p Patch) (models.Task, error)
	DeleteTask(ctx context.Context, id int64) error
	HasIncompleteSubtasks(ctx context.Context, ownerID, parentID int64) (bool, error)
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the transactional view used by Complete. GetTaskForUpdate holds an
// exclusive lock on the row until the transaction ends.
type Tx interface {
	GetTaskForUpdate(ctx context.Context, ownerID, id int64) (models.Task, error)
	HasIncompleteSubtasks(ctx context.Context, ownerID, parentID int64) (bool, error)
	MarkDone(ctx context.Context, id int64, completedAt time.Time) (models.Task, error)
}

// CreateInput carries the fields accepted when creating a task.
type CreateInput struct {
	Title       string
	Description string
	Priority    *models.Priority
	ParentID    *int64
	DueDate     *models.Date
}

// Patch is a partial update: nil fields keep their current value.
type Patch struct {
	Title       *string
	Description *string
	Status      *models.Status
	Priority    *models.Priority
	ParentID    *int64
	DueDate     *models.Date
	CompletedAt *time.Time
}

// Service enforces the task invariants: parent/subtask consistency, the
// todo -> done transition rules, and deletion rules. All operations are
// scoped to an explicit owner; the service never reads ambient identity.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// List returns the owner's tasks matching every set filter field, ordered by
// the given sort terms in priority order.
func (s *Service) List(ctx context.Context, ownerID int64, f Filter, sort []SortTerm) ([]models.Task, error) {
	return s.store.QueryTasks(ctx, ownerID, f, sort)
}

// Get fetches a single task owned by ownerID.
func (s *Service) Get(ctx context.Context, ownerID, id int64) (models.Task, error) {
	return s.store.GetTask(ctx, ownerID, id)
}

// Create validates the input and inserts a new todo task. A supplied parent
// must exist, belong to the same owner, and not be completed.
func (s *Service) Create(ctx context.Context, ownerID int64, in CreateInput) (models.Task, error) {
	if strings.TrimSpace(in.Title) == "" {
		return models.Task{}, ErrValidation
	}
	priority := models.PriorityLow
	if in.Priority != nil {
		if !in.Priority.Valid() {
			return models.Task{}, ErrValidation
		}
		priority = *in.Priority
	}
	if in.ParentID != nil {
		if err := s.checkParent(ctx, ownerID, *in.ParentID); err != nil {
			return models.Task{}, err
		}
	}
	return s.store.InsertTask(ctx, models.Task{
		UserID:      ownerID,
		ParentID:    in.ParentID,
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Status:      models.StatusTodo,
		Priority:    priority,
		DueDate:     in.DueDate,
	})
}

// Update applies a partial update. Setting status to done is only allowed
// when no direct subtask is incomplete; re-parenting is only allowed onto an
// existing, not-completed task other than the task itself. Update never
// stamps completed_at; only Complete does. An explicit CompletedAt in the
// patch is passed through as an override.
func (s *Service) Update(ctx context.Context, ownerID, id int64, p Patch) (models.Task, error) {
	cur, err := s.store.GetTask(ctx, ownerID, id)
	if err != nil {
		return models.Task{}, err
	}

	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return models.Task{}, ErrValidation
	}
	if p.Status != nil {
		if _, ok := models.ValidStatuses[*p.Status]; !ok {
			return models.Task{}, ErrValidation
		}
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return models.Task{}, ErrValidation
	}

	if p.Status != nil && *p.Status == models.StatusDone && cur.Status != models.StatusDone {
		blocked, err := s.store.HasIncompleteSubtasks(ctx, ownerID, id)
		if err != nil {
			return models.Task{}, err
		}
		if blocked {
			return models.Task{}, ErrIncompleteSubtasks
		}
	}

	if p.ParentID != nil && !sameParent(cur.ParentID, *p.ParentID) {
		if *p.ParentID == id {
			return models.Task{}, ErrSelfParent
		}
		if err := s.checkParent(ctx, ownerID, *p.ParentID); err != nil {
			return models.Task{}, err
		}
	}

	return s.store.UpdateTask(ctx, id, p)
}

// Delete removes a task. Completed tasks cannot be deleted; subtasks of a
// deleted task become top-level (the store nullifies their parent_id).
func (s *Service) Delete(ctx context.Context, ownerID, id int64) error {
	cur, err := s.store.GetTask(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if cur.Status == models.StatusDone {
		return ErrCannotDeleteCompleted
	}
	return s.store.DeleteTask(ctx, id)
}

// Complete marks a task done. The whole check-and-set runs in one
// transaction with the row locked, so two concurrent completions serialize:
// the second sees the committed done status and fails with
// ErrAlreadyCompleted. Any failure rolls the transaction back.
func (s *Service) Complete(ctx context.Context, ownerID, id int64) (models.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, txTimeout)
	defer cancel()

	var done models.Task
	err := s.store.WithTx(ctx, func(tx Tx) error {
		cur, err := tx.GetTaskForUpdate(ctx, ownerID, id)
		if err != nil {
			return err
		}
		if cur.Status == models.StatusDone {
			return ErrAlreadyCompleted
		}
		blocked, err := tx.HasIncompleteSubtasks(ctx, ownerID, id)
		if err != nil {
			return err
		}
		if blocked {
			return ErrIncompleteSubtasks
		}
		done, err = tx.MarkDone(ctx, id, time.Now().UTC())
		return err
	})
	if err != nil {
		return models.Task{}, err
	}
	return done, nil
}

// checkParent verifies a parent reference for create and re-parent paths.
func (s *Service) checkParent(ctx context.Context, ownerID, parentID int64) error {
	parent, err := s.store.GetTask(ctx, ownerID, parentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrParentNotFound
		}
		return err
	}
	if parent.Status == models.StatusDone {
		return ErrParentCompleted
	}
	return nil
}

func sameParent(cur *int64, next int64) bool {
	return cur != nil && *cur == next
}
