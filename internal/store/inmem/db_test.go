package inmemdb

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/projectpulse/internal/store"
)

func TestFetchUnread(t *testing.T) {
	ctx := context.Background()
	db := New()
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	db.AddNotification(StoredNotification{Notification: store.Notification{Title: "mine", Timestamp: base}, RecipientType: store.RecipientUser, RecipientID: "1"})
	db.AddNotification(StoredNotification{Notification: store.Notification{Title: "other user", Timestamp: base}, RecipientType: store.RecipientUser, RecipientID: "2"})
	db.AddNotification(StoredNotification{Notification: store.Notification{Title: "students", Timestamp: base.Add(time.Hour)}, RecipientType: store.RecipientRole, RecipientRole: store.RoleStudent})
	db.AddNotification(StoredNotification{Notification: store.Notification{Title: "advisors", Timestamp: base}, RecipientType: store.RecipientRole, RecipientRole: store.RoleAdvisor})
	db.AddNotification(StoredNotification{Notification: store.Notification{Title: "everyone", Timestamp: base.Add(2 * time.Hour)}, RecipientType: store.RecipientAll})
	db.AddNotification(StoredNotification{Notification: store.Notification{Title: "read", Timestamp: base, Read: true}, RecipientType: store.RecipientAll})

	got, err := db.FetchUnread(ctx, "1", store.RoleStudent, 10)
	require.NoError(t, err)

	titles := make([]string, 0, len(got))
	for _, n := range got {
		titles = append(titles, n.Title)
	}
	assert.Equal(t, []string{"everyone", "students", "mine"}, titles)
}

func TestFetchUnreadCapsAtLimit(t *testing.T) {
	db := New()
	base := time.Now()
	for i := 0; i < 15; i++ {
		db.AddNotification(StoredNotification{
			Notification:  store.Notification{Title: fmt.Sprintf("n%d", i), Timestamp: base.Add(time.Duration(i) * time.Minute)},
			RecipientType: store.RecipientAll,
		})
	}

	got, err := db.FetchUnread(context.Background(), "1", store.RoleStudent, 10)
	require.NoError(t, err)
	require.Len(t, got, 10)
	assert.Equal(t, "n14", got[0].Title)
	assert.Equal(t, "n5", got[9].Title)
}

func TestMarkRead(t *testing.T) {
	ctx := context.Background()
	db := New()
	id := db.AddNotification(StoredNotification{Notification: store.Notification{Title: "x"}, RecipientType: store.RecipientAll})

	require.NoError(t, db.MarkRead(ctx, id))
	require.NoError(t, db.MarkRead(ctx, id))
	assert.ErrorIs(t, db.MarkRead(ctx, 999), store.ErrNotFound)

	got, err := db.FetchUnread(ctx, "1", store.RoleStudent, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestHasAccess(t *testing.T) {
	db := New()
	db.AddProject(Project{ID: "PROJ001", AdvisorID: "adv", StudentIDs: []string{"s1", "s2"}})

	tests := []struct {
		name      string
		principal string
		role      string
		project   string
		want      bool
	}{
		{name: "admin", principal: "root", role: store.RoleAdmin, project: "PROJ001", want: true},
		{name: "admin unknown project", principal: "root", role: store.RoleAdmin, project: "NOPE", want: true},
		{name: "advisor", principal: "adv", role: store.RoleAdvisor, project: "PROJ001", want: true},
		{name: "other advisor", principal: "adv2", role: store.RoleAdvisor, project: "PROJ001", want: false},
		{name: "member student", principal: "s2", role: store.RoleStudent, project: "PROJ001", want: true},
		{name: "outside student", principal: "s9", role: store.RoleStudent, project: "PROJ001", want: false},
		{name: "unknown project", principal: "s1", role: store.RoleStudent, project: "NOPE", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := db.HasAccess(context.Background(), tt.principal, tt.role, tt.project)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFetchProjectStatus(t *testing.T) {
	db := New()
	db.AddPrincipal(store.Principal{ID: "adv", Username: "dr.smith", Role: store.RoleAdvisor, Active: true})
	db.AddProject(Project{
		ID:         "PROJ001",
		Status:     "in_progress",
		AdvisorID:  "adv",
		StudentIDs: []string{"s1"},
		Milestones: []store.Milestone{{ID: 1, Title: "Proposal", Status: "done"}},
	})

	got, err := db.FetchProjectStatus(context.Background(), "PROJ001")
	require.NoError(t, err)
	assert.Equal(t, "dr.smith", got.Advisor)
	assert.Equal(t, []string{"s1"}, got.StudentIDs)
	assert.Len(t, got.Milestones, 1)

	_, err = db.FetchProjectStatus(context.Background(), "NOPE")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
