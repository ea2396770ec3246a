package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"tasktree/internal/models"
	"tasktree/internal/task"
)

// Store-level lookup failures for the user and token tables. Task lookups
// use the engine's task.ErrNotFound so callers branch on one sentinel.
var (
	ErrUserNotFound  = errors.New("user not found")
	ErrTokenNotFound = errors.New("token not found")
	ErrEmailTaken    = errors.New("email already registered")
)

// timeLayout is how timestamps written from Go are stored. SQLite's date
// functions and the driver's scanner both understand it.
const timeLayout = "2006-01-02 15:04:05"

// Store wraps access to the SQLite database. It implements task.Store and
// holds the user and token tables for the auth layer. It performs no
// business validation; the invariant engine owns every rule.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// querier is the subset of *sql.DB and *sql.Tx the task queries run on.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open initializes the SQLite store and runs the required migrations.
// _txlock=immediate makes every transaction take the write lock at BEGIN,
// which is what serializes concurrent completions (SQLite has no
// SELECT ... FOR UPDATE).
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("empty database path")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := ensureDir(dbPath); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=ON&_txlock=immediate", dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(0)

	s := &Store{db: conn, logger: logger}
	if err := s.migrate(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return s, nil
}

// Close releases the database resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func ensureDir(dbPath string) error {
	dir := filepath.Dir(dbPath)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL,
            email TEXT NOT NULL UNIQUE,
            password_hash TEXT NOT NULL,
            created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS auth_tokens (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            user_id INTEGER NOT NULL,
            token_hash TEXT NOT NULL UNIQUE,
            created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
            FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
        );`,
		`CREATE TABLE IF NOT EXISTS tasks (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            user_id INTEGER NOT NULL,
            parent_id INTEGER,
            title TEXT NOT NULL,
            description TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL DEFAULT 'todo',
            priority INTEGER NOT NULL DEFAULT 5,
            due_date TEXT,
            completed_at DATETIME,
            created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
            FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE,
            FOREIGN KEY(parent_id) REFERENCES tasks(id) ON DELETE SET NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks(user_id);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_parent_status ON tasks(parent_id, status);`,
		`CREATE TRIGGER IF NOT EXISTS trg_users_updated
            AFTER UPDATE ON users
            FOR EACH ROW BEGIN
                UPDATE users SET updated_at = CURRENT_TIMESTAMP WHERE id = OLD.id;
            END;`,
		`CREATE TRIGGER IF NOT EXISTS trg_tasks_updated
            AFTER UPDATE ON tasks
            FOR EACH ROW BEGIN
                UPDATE tasks SET updated_at = CURRENT_TIMESTAMP WHERE id = OLD.id;
            END;`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

const taskColumns = `id, user_id, parent_id, title, description, status, priority, due_date, completed_at, created_at, updated_at`

func scanTask(row interface{ Scan(dest ...any) error }) (models.Task, error) {
	var (
		t           models.Task
		parentID    sql.NullInt64
		priority    int
		dueDate     sql.NullString
		completedAt sql.NullTime
	)
	err := row.Scan(&t.ID, &t.UserID, &parentID, &t.Title, &t.Description, &t.Status, &priority, &dueDate, &completedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return models.Task{}, err
	}
	if parentID.Valid {
		t.ParentID = &parentID.Int64
	}
	t.Priority = models.Priority(priority)
	if dueDate.Valid {
		d, err := models.ParseDate(dueDate.String)
		if err != nil {
			return models.Task{}, fmt.Errorf("parse due_date: %w", err)
		}
		t.DueDate = &d
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return t, nil
}

// QueryTasks returns the owner's tasks matching every filter, ordered by the
// sort terms. Sort fields come from the engine's allow-list, so they are
// interpolated directly.
func (s *Store) QueryTasks(ctx context.Context, ownerID int64, f task.Filter, sort []task.SortTerm) ([]models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE user_id = ?`
	args := []any{ownerID}

	if f.Priority != nil {
		query += ` AND priority = ?`
		args = append(args, int(*f.Priority))
	}
	if f.Status != nil {
		query += ` AND status = ?`
		args = append(args, string(*f.Status))
	}
	if f.Title != "" {
		query += ` AND title LIKE ?`
		args = append(args, "%"+f.Title+"%")
	}
	if f.Description != "" {
		query += ` AND description LIKE ?`
		args = append(args, "%"+f.Description+"%")
	}
	if f.DueDate != nil {
		query += ` AND due_date = ?`
		args = append(args, f.DueDate.String())
	}
	if f.CompletedAt != nil {
		query += ` AND date(completed_at) = ?`
		args = append(args, f.CompletedAt.String())
	}

	if len(sort) > 0 {
		var terms []string
		for _, term := range sort {
			dir := "ASC"
			if term.Desc {
				dir = "DESC"
			}
			terms = append(terms, term.Field+" "+dir)
		}
		query += ` ORDER BY ` + strings.Join(terms, ", ")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func getTask(ctx context.Context, q querier, ownerID, id int64) (models.Task, error) {
	row := q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ? AND user_id = ?`, id, ownerID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Task{}, task.ErrNotFound
	}
	if err != nil {
		return models.Task{}, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func getTaskByID(ctx context.Context, q querier, id int64) (models.Task, error) {
	row := q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Task{}, task.ErrNotFound
	}
	if err != nil {
		return models.Task{}, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// GetTask retrieves a task by id, scoped to its owner.
func (s *Store) GetTask(ctx context.Context, ownerID, id int64) (models.Task, error) {
	return getTask(ctx, s.db, ownerID, id)
}

// InsertTask persists a new task and returns the stored row.
func (s *Store) InsertTask(ctx context.Context, t models.Task) (models.Task, error) {
	var dueDate any
	if t.DueDate != nil {
		dueDate = t.DueDate.String()
	}
	var parentID any
	if t.ParentID != nil {
		parentID = *t.ParentID
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(user_id, parent_id, title, description, status, priority, due_date) VALUES(?, ?, ?, ?, ?, ?, ?)`,
		t.UserID, parentID, t.Title, t.Description, string(t.Status), int(t.Priority), dueDate)
	if err != nil {
		return models.Task{}, fmt.Errorf("insert task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Task{}, fmt.Errorf("task id: %w", err)
	}
	return getTaskByID(ctx, s.db, id)
}

// UpdateTask applies the set fields of the patch and returns the stored row.
func (s *Store) UpdateTask(ctx context.Context, id int64, p task.Patch) (models.Task, error) {
	var sets []string
	var args []any

	if p.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, strings.TrimSpace(*p.Title))
	}
	if p.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *p.Description)
	}
	if p.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*p.Status))
	}
	if p.Priority != nil {
		sets = append(sets, "priority = ?")
		args = append(args, int(*p.Priority))
	}
	if p.ParentID != nil {
		sets = append(sets, "parent_id = ?")
		args = append(args, *p.ParentID)
	}
	if p.DueDate != nil {
		sets = append(sets, "due_date = ?")
		args = append(args, p.DueDate.String())
	}
	if p.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, p.CompletedAt.UTC().Format(timeLayout))
	}

	if len(sets) > 0 {
		args = append(args, id)
		_, err := s.db.ExecContext(ctx, `UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
		if err != nil {
			return models.Task{}, fmt.Errorf("update task: %w", err)
		}
	}
	return getTaskByID(ctx, s.db, id)
}

// DeleteTask removes a task; subtasks get parent_id nullified by the schema.
func (s *Store) DeleteTask(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return task.ErrNotFound
	}
	return nil
}

func hasIncompleteSubtasks(ctx context.Context, q querier, ownerID, parentID int64) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM tasks WHERE parent_id = ? AND user_id = ? AND status != ?)`,
		parentID, ownerID, string(models.StatusDone)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check subtasks: %w", err)
	}
	return exists, nil
}

// HasIncompleteSubtasks reports whether any direct subtask of parentID is
// not done.
func (s *Store) HasIncompleteSubtasks(ctx context.Context, ownerID, parentID int64) (bool, error) {
	return hasIncompleteSubtasks(ctx, s.db, ownerID, parentID)
}

// WithTx runs fn inside a transaction. The connection's immediate locking
// mode means the write lock is held from BEGIN, so reads inside fn see a
// stable, exclusive view of the affected rows. Any error from fn rolls the
// transaction back and is returned unchanged.
func (s *Store) WithTx(ctx context.Context, fn func(tx task.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&storeTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// storeTx is the transactional view handed to the engine's Complete.
type storeTx struct {
	tx *sql.Tx
}

// GetTaskForUpdate fetches the task under the transaction's exclusive lock.
func (t *storeTx) GetTaskForUpdate(ctx context.Context, ownerID, id int64) (models.Task, error) {
	return getTask(ctx, t.tx, ownerID, id)
}

func (t *storeTx) HasIncompleteSubtasks(ctx context.Context, ownerID, parentID int64) (bool, error) {
	return hasIncompleteSubtasks(ctx, t.tx, ownerID, parentID)
}

// MarkDone transitions the row to done and stamps completed_at.
func (t *storeTx) MarkDone(ctx context.Context, id int64, completedAt time.Time) (models.Task, error) {
	_, err := t.tx.ExecContext(ctx, `UPDATE tasks SET status = ?, completed_at = ? WHERE id = ?`,
		string(models.StatusDone), completedAt.UTC().Format(timeLayout), id)
	if err != nil {
		return models.Task{}, fmt.Errorf("mark done: %w", err)
	}
	return getTaskByID(ctx, t.tx, id)
}

// CreateUser inserts a new account. A duplicate email fails with
// ErrEmailTaken.
func (s *Store) CreateUser(ctx context.Context, name, email, passwordHash string) (models.User, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO users(name, email, password_hash) VALUES(?, ?, ?)`,
		name, email, passwordHash)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return models.User{}, ErrEmailTaken
		}
		return models.User{}, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.User{}, fmt.Errorf("user id: %w", err)
	}
	return s.GetUser(ctx, id)
}

const userColumns = `id, name, email, password_hash, created_at, updated_at`

func scanUser(row *sql.Row) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

// GetUser fetches an account by id.
func (s *Store) GetUser(ctx context.Context, id int64) (models.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

// GetUserByEmail fetches an account by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email))
}

// InsertToken stores the digest of an issued bearer token.
func (s *Store) InsertToken(ctx context.Context, userID int64, tokenHash string) error {
	if _, err := s.db.ExecContext(ctx, `INSERT INTO auth_tokens(user_id, token_hash) VALUES(?, ?)`, userID, tokenHash); err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

// GetUserByToken resolves a token digest to its account.
func (s *Store) GetUserByToken(ctx context.Context, tokenHash string) (models.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT u.id, u.name, u.email, u.password_hash, u.created_at, u.updated_at
         FROM users u JOIN auth_tokens t ON t.user_id = u.id WHERE t.token_hash = ?`, tokenHash))
	if errors.Is(err, ErrUserNotFound) {
		return models.User{}, ErrTokenNotFound
	}
	return u, err
}

// DeleteToken revokes a bearer token.
func (s *Store) DeleteToken(ctx context.Context, tokenHash string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM auth_tokens WHERE token_hash = ?`, tokenHash)
	if err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrTokenNotFound
	}
	return nil
}
