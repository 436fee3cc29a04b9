// Package inmemdb is a mutex guarded in-memory implementation of the store
// collaborators, used in development and tests.
package inmemdb

import (
	"context"
	"sort"
	"sync"

	"github.com/Tyrowin/projectpulse/internal/store"
)

// StoredNotification is a notification with its addressing.
type StoredNotification struct {
	store.Notification
	RecipientType string
	RecipientID   string
	RecipientRole string
}

// Project is a project with its members.
type Project struct {
	ID         string
	Status     string
	AdvisorID  string
	StudentIDs []string
	Milestones []store.Milestone
}

// DB holds every table behind a single RWMutex.
type DB struct {
	mutex         sync.RWMutex
	notifications map[int64]*StoredNotification
	projects      map[string]*Project
	principals    map[string]store.Principal
	pkCount       int64
}

var (
	_ store.NotificationStore = (*DB)(nil)
	_ store.ProjectStore      = (*DB)(nil)
	_ store.Directory         = (*DB)(nil)
	_ store.Pinger            = (*DB)(nil)
)

// New returns an empty database.
func New() *DB {
	return &DB{
		notifications: make(map[int64]*StoredNotification),
		projects:      make(map[string]*Project),
		principals:    make(map[string]store.Principal),
	}
}

// AddPrincipal inserts or replaces a principal.
func (db *DB) AddPrincipal(p store.Principal) {
	db.mutex.Lock()
	defer db.mutex.Unlock()
	db.principals[p.ID] = p
}

// AddProject inserts or replaces a project.
func (db *DB) AddProject(p Project) {
	db.mutex.Lock()
	defer db.mutex.Unlock()
	p.StudentIDs = append([]string(nil), p.StudentIDs...)
	p.Milestones = append([]store.Milestone(nil), p.Milestones...)
	db.projects[p.ID] = &p
}

// AddNotification stores n, assigning an id when it has none.
func (db *DB) AddNotification(n StoredNotification) int64 {
	db.mutex.Lock()
	defer db.mutex.Unlock()
	if n.ID == 0 {
		db.pkCount++
		n.ID = db.pkCount
	} else if n.ID > db.pkCount {
		db.pkCount = n.ID
	}
	db.notifications[n.ID] = &n
	return n.ID
}

func addressedTo(n *StoredNotification, principalID, role string) bool {
	switch n.RecipientType {
	case store.RecipientUser:
		return n.RecipientID == principalID
	case store.RecipientRole:
		return n.RecipientRole == role
	case store.RecipientAll:
		return true
	}
	return false
}

// FetchUnread implements store.NotificationStore.
func (db *DB) FetchUnread(_ context.Context, principalID, role string, limit int) ([]store.Notification, error) {
	db.mutex.RLock()
	defer db.mutex.RUnlock()

	out := make([]store.Notification, 0)
	for _, n := range db.notifications {
		if !n.Read && addressedTo(n, principalID, role) {
			out = append(out, n.Notification)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkRead implements store.NotificationStore.
func (db *DB) MarkRead(_ context.Context, id int64) error {
	db.mutex.Lock()
	defer db.mutex.Unlock()

	n, ok := db.notifications[id]
	if !ok {
		return store.ErrNotFound
	}
	n.Read = true
	return nil
}

// HasAccess implements store.ProjectStore.
func (db *DB) HasAccess(_ context.Context, principalID, role, projectID string) (bool, error) {
	if role == store.RoleAdmin {
		return true, nil
	}

	db.mutex.RLock()
	defer db.mutex.RUnlock()

	p, ok := db.projects[projectID]
	if !ok {
		return false, nil
	}
	if p.AdvisorID == principalID {
		return true, nil
	}
	if role != store.RoleStudent {
		return false, nil
	}
	for _, id := range p.StudentIDs {
		if id == principalID {
			return true, nil
		}
	}
	return false, nil
}

// FetchProjectStatus implements store.ProjectStore.
func (db *DB) FetchProjectStatus(_ context.Context, projectID string) (store.ProjectStatus, error) {
	db.mutex.RLock()
	defer db.mutex.RUnlock()

	p, ok := db.projects[projectID]
	if !ok {
		return store.ProjectStatus{}, store.ErrNotFound
	}
	advisor := p.AdvisorID
	if a, ok := db.principals[p.AdvisorID]; ok {
		advisor = a.Username
	}
	return store.ProjectStatus{
		ProjectID:  p.ID,
		Status:     p.Status,
		Advisor:    advisor,
		StudentIDs: append([]string{}, p.StudentIDs...),
		Milestones: append([]store.Milestone{}, p.Milestones...),
	}, nil
}

// LookupPrincipal implements store.Directory.
func (db *DB) LookupPrincipal(_ context.Context, id string) (store.Principal, error) {
	db.mutex.RLock()
	defer db.mutex.RUnlock()

	if p, ok := db.principals[id]; ok {
		return p, nil
	}
	return store.Principal{}, store.ErrNotFound
}

// Ping implements store.Pinger.
func (db *DB) Ping(context.Context) error { return nil }
