// Package store declares the narrow collaborator interfaces the broadcast
// layer reads from, and the records they return.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("not found")
)

// Roles
const (
	RoleAdmin   = "Admin"
	RoleAdvisor = "Advisor"
	RoleStudent = "Student"
)

// Notification recipient types.
const (
	RecipientUser = "user"
	RecipientRole = "role"
	RecipientAll  = "all"
)

// Notification is the read-only projection sent to notification room clients.
type Notification struct {
	ID         int64     `json:"id"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	Type       string    `json:"type"`
	Priority   string    `json:"priority"`
	Timestamp  time.Time `json:"timestamp"`
	Read       bool      `json:"read"`
	ActionURL  string    `json:"actionUrl"`
	ActionText string    `json:"actionText"`
}

// Milestone is a project milestone as shown in the status snapshot.
type Milestone struct {
	ID      int64      `json:"id"`
	Title   string     `json:"title"`
	Status  string     `json:"status"`
	DueDate *time.Time `json:"dueDate,omitempty"`
}

// ProjectStatus is the snapshot sent to project room clients.
type ProjectStatus struct {
	ProjectID  string      `json:"projectId"`
	Status     string      `json:"status"`
	Advisor    string      `json:"advisor"`
	StudentIDs []string    `json:"studentIds"`
	Milestones []Milestone `json:"milestones"`
}

// Principal is an identity known to the directory.
type Principal struct {
	ID       string
	Username string
	Role     string
	Active   bool
}

// NotificationStore reads and marks notifications.
type NotificationStore interface {
	// FetchUnread returns at most limit unread notifications addressed to the
	// principal, its role or everyone, newest first.
	FetchUnread(ctx context.Context, principalID, role string, limit int) ([]Notification, error)
	// MarkRead flags a notification as read. Unknown ids return ErrNotFound.
	MarkRead(ctx context.Context, id int64) error
}

// ProjectStore answers project access questions and status snapshots.
type ProjectStore interface {
	HasAccess(ctx context.Context, principalID, role, projectID string) (bool, error)
	FetchProjectStatus(ctx context.Context, projectID string) (ProjectStatus, error)
}

// Directory resolves principals referenced by tokens.
type Directory interface {
	LookupPrincipal(ctx context.Context, id string) (Principal, error)
}

// Pinger is implemented by collaborators that can report their own health.
type Pinger interface {
	Ping(ctx context.Context) error
}
