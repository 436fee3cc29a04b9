// Package postgres implements the store collaborators on top of the main
// application database.
package postgres

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/Tyrowin/projectpulse/internal/store"
)

const (
	fetchUnreadQuery = `SELECT id, title, message, notification_type, priority, created_at, is_read, action_url, action_text
FROM notifications
WHERE is_read = false
  AND ((recipient_type = 'user' AND recipient_id = $1)
    OR (recipient_type = 'role' AND recipient_role = $2)
    OR recipient_type = 'all')
ORDER BY created_at DESC, id DESC
LIMIT $3`

	markReadQuery = `UPDATE notifications SET is_read = true WHERE id = $1`

	hasAccessQuery = `SELECT EXISTS (
  SELECT 1 FROM projects p
  WHERE p.id = $1
    AND (p.advisor_id = $2
      OR ($3 = 'Student' AND EXISTS (
        SELECT 1 FROM project_students ps WHERE ps.project_id = p.id AND ps.student_id = $2)))
)`

	projectQuery = `SELECT p.id, p.status, COALESCE(u.username, p.advisor_id) AS advisor
FROM projects p LEFT JOIN users u ON u.id = p.advisor_id
WHERE p.id = $1`

	projectStudentsQuery = `SELECT student_id FROM project_students WHERE project_id = $1 ORDER BY student_id`

	milestonesQuery = `SELECT id, title, status, due_date FROM milestones WHERE project_id = $1 ORDER BY due_date NULLS LAST, id`

	principalQuery = `SELECT id, username, role, is_active FROM users WHERE id = $1`
)

type notificationRow struct {
	ID         int64       `db:"id"`
	Title      string      `db:"title"`
	Message    string      `db:"message"`
	Type       string      `db:"notification_type"`
	Priority   string      `db:"priority"`
	CreatedAt  time.Time   `db:"created_at"`
	IsRead     bool        `db:"is_read"`
	ActionURL  null.String `db:"action_url"`
	ActionText null.String `db:"action_text"`
}

type projectRow struct {
	ID      string `db:"id"`
	Status  string `db:"status"`
	Advisor string `db:"advisor"`
}

type milestoneRow struct {
	ID      int64     `db:"id"`
	Title   string    `db:"title"`
	Status  string    `db:"status"`
	DueDate null.Time `db:"due_date"`
}

type principalRow struct {
	ID       string `db:"id"`
	Username string `db:"username"`
	Role     string `db:"role"`
	IsActive bool   `db:"is_active"`
}

// Store reads notifications, projects and principals from Postgres.
type Store struct {
	db *sqlx.DB
}

var (
	_ store.NotificationStore = (*Store)(nil)
	_ store.ProjectStore      = (*Store)(nil)
	_ store.Directory         = (*Store)(nil)
	_ store.Pinger            = (*Store)(nil)
)

// Open connects to the database at dsn.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	return New(db), nil
}

// New wraps an existing connection pool.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// FetchUnread implements store.NotificationStore.
func (s *Store) FetchUnread(ctx context.Context, principalID, role string, limit int) ([]store.Notification, error) {
	var rows []notificationRow
	if err := s.db.SelectContext(ctx, &rows, fetchUnreadQuery, principalID, role, limit); err != nil {
		return nil, errors.Wrap(err, "selecting unread notifications")
	}

	out := make([]store.Notification, 0, len(rows))
	for _, r := range rows {
		out = append(out, store.Notification{
			ID:         r.ID,
			Title:      r.Title,
			Message:    r.Message,
			Type:       r.Type,
			Priority:   r.Priority,
			Timestamp:  r.CreatedAt,
			Read:       r.IsRead,
			ActionURL:  r.ActionURL.String,
			ActionText: r.ActionText.String,
		})
	}
	return out, nil
}

// MarkRead implements store.NotificationStore.
func (s *Store) MarkRead(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, markReadQuery, id)
	if err != nil {
		return errors.Wrapf(err, "marking notification %d read", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "reading affected rows")
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// HasAccess implements store.ProjectStore.
func (s *Store) HasAccess(ctx context.Context, principalID, role, projectID string) (bool, error) {
	if role == store.RoleAdmin {
		return true, nil
	}
	var ok bool
	if err := s.db.GetContext(ctx, &ok, hasAccessQuery, projectID, principalID, role); err != nil {
		return false, errors.Wrap(err, "checking project access")
	}
	return ok, nil
}

// FetchProjectStatus implements store.ProjectStore.
func (s *Store) FetchProjectStatus(ctx context.Context, projectID string) (store.ProjectStatus, error) {
	var p projectRow
	if err := s.db.GetContext(ctx, &p, projectQuery, projectID); err != nil {
		if errors.Cause(err) == sql.ErrNoRows {
			return store.ProjectStatus{}, store.ErrNotFound
		}
		return store.ProjectStatus{}, errors.Wrap(err, "selecting project")
	}

	students := make([]string, 0)
	if err := s.db.SelectContext(ctx, &students, projectStudentsQuery, projectID); err != nil {
		return store.ProjectStatus{}, errors.Wrap(err, "selecting project students")
	}

	var rows []milestoneRow
	if err := s.db.SelectContext(ctx, &rows, milestonesQuery, projectID); err != nil {
		return store.ProjectStatus{}, errors.Wrap(err, "selecting milestones")
	}
	milestones := make([]store.Milestone, 0, len(rows))
	for _, r := range rows {
		m := store.Milestone{ID: r.ID, Title: r.Title, Status: r.Status}
		if r.DueDate.Valid {
			due := r.DueDate.Time
			m.DueDate = &due
		}
		milestones = append(milestones, m)
	}

	return store.ProjectStatus{
		ProjectID:  p.ID,
		Status:     p.Status,
		Advisor:    p.Advisor,
		StudentIDs: students,
		Milestones: milestones,
	}, nil
}

// LookupPrincipal implements store.Directory.
func (s *Store) LookupPrincipal(ctx context.Context, id string) (store.Principal, error) {
	if _, err := strconv.ParseInt(id, 10, 64); err != nil {
		return store.Principal{}, store.ErrNotFound
	}
	var r principalRow
	if err := s.db.GetContext(ctx, &r, principalQuery, id); err != nil {
		if errors.Cause(err) == sql.ErrNoRows {
			return store.Principal{}, store.ErrNotFound
		}
		return store.Principal{}, errors.Wrap(err, "selecting principal")
	}
	return store.Principal{ID: r.ID, Username: r.Username, Role: r.Role, Active: r.IsActive}, nil
}

// Ping implements store.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	return errors.Wrap(s.db.PingContext(ctx), "pinging database")
}
