package models

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a task. Tasks start as todo and the only
// transition is todo -> done.
type Status string

const (
	StatusTodo Status = "todo"
	StatusDone Status = "done"
)

// ValidStatuses enumerates the statuses a task may hold.
var ValidStatuses = map[Status]struct{}{
	StatusTodo: {},
	StatusDone: {},
}

// Priority is an ordered urgency level; lower values are more urgent.
type Priority int

const (
	PriorityHigh    Priority = 1
	PriorityMidHigh Priority = 2
	PriorityMid     Priority = 3
	PriorityMidLow  Priority = 4
	PriorityLow     Priority = 5
)

// Valid reports whether p is one of the five defined levels.
func (p Priority) Valid() bool {
	return p >= PriorityHigh && p <= PriorityLow
}

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "High"
	case PriorityMidHigh:
		return "Mid-High"
	case PriorityMid:
		return "Medium"
	case PriorityMidLow:
		return "Mid-Low"
	case PriorityLow:
		return "Low"
	}
	return fmt.Sprintf("Priority(%d)", int(p))
}

// DateLayout is the wire format for day-granularity dates.
const DateLayout = "2006-01-02"

// Date is a calendar date without a meaningful time of day. It marshals to
// and from "YYYY-MM-DD".
type Date struct {
	time.Time
}

// ParseDate parses a "YYYY-MM-DD" string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, err
	}
	return Date{t}, nil
}

func (d Date) String() string {
	return d.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Format(DateLayout) + `"`), nil
}

func (d *Date) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		return nil
	}
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("invalid date %s", s)
	}
	parsed, err := ParseDate(s[1 : len(s)-1])
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Task represents a single task in a user's tree. ParentID links a subtask to
// its direct parent and is nil for top-level tasks.
type Task struct {
	ID          int64      `json:"id"`
	UserID      int64      `json:"user_id"`
	ParentID    *int64     `json:"parent_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      Status     `json:"status"`
	Priority    Priority   `json:"priority"`
	DueDate     *Date      `json:"due_date"`
	CompletedAt *time.Time `json:"completed_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// User is an account that owns tasks and auth tokens.
type User struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
