package server

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/projectpulse/internal/broadcast"
	"github.com/Tyrowin/projectpulse/internal/store"
)

const projectPath = "/ws/projects/PROJ001"

func TestProjectRoom_Admission(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name      string
		principal string
		path      string
		want      int
	}{
		{name: "student member", principal: "1", path: projectPath, want: http.StatusSwitchingProtocols},
		{name: "advisor", principal: "3", path: projectPath, want: http.StatusSwitchingProtocols},
		{name: "admin", principal: "9", path: projectPath, want: http.StatusSwitchingProtocols},
		{name: "student outside the project", principal: "4", path: projectPath, want: http.StatusForbidden},
		{name: "unknown project", principal: "1", path: "/ws/projects/PROJ404", want: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, resp, err := f.dialRaw(tt.path, token(t, tt.principal))
			require.NotNil(t, resp)
			assert.Equal(t, tt.want, resp.StatusCode)
			if tt.want == http.StatusSwitchingProtocols {
				require.NoError(t, err)
				expectType(t, conn, broadcast.TypeProjectStatus, nil)
				_ = conn.Close()
			} else {
				assert.ErrorIs(t, err, websocket.ErrBadHandshake)
			}
		})
	}
}

func TestProjectRoom_RefusedStudentNeverJoins(t *testing.T) {
	f := newFixture(t, nil)

	assert.Equal(t, http.StatusForbidden, f.refusedStatus(t, projectPath, token(t, "4")))
	assert.Zero(t, f.registry.MemberCount(broadcast.ProjectGroup("PROJ001")))
	assert.Zero(t, f.srv.Hub().Count())
}

func TestProjectRoom_Snapshot(t *testing.T) {
	f := newFixture(t, nil)
	conn := f.dial(projectPath, "1")

	var status store.ProjectStatus
	expectType(t, conn, broadcast.TypeProjectStatus, &status)
	assert.Equal(t, "PROJ001", status.ProjectID)
	assert.Equal(t, "in_progress", status.Status)
	assert.Equal(t, "carol", status.Advisor)
	assert.Equal(t, []string{"1", "2"}, status.StudentIDs)
	require.Len(t, status.Milestones, 1)
	assert.Equal(t, "Proposal", status.Milestones[0].Title)

	client := f.onlyClient()
	assert.Equal(t, []broadcast.GroupKey{broadcast.ProjectGroup("PROJ001")}, f.registry.GroupsOf(client))

	send(t, conn, map[string]string{"action": "get_status"})
	var again store.ProjectStatus
	expectType(t, conn, broadcast.TypeProjectStatus, &again)
	assert.Equal(t, status, again)
}

func TestProjectRoom_UpdateMilestoneReachesEveryMemberIncludingSender(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.dial(projectPath, "1")
	expectType(t, alice, broadcast.TypeProjectStatus, nil)
	carol := f.dial(projectPath, "3")
	expectType(t, carol, broadcast.TypeProjectStatus, nil)
	f.waitForClients(2)

	send(t, alice, `{"action":"update_milestone","milestoneData":{"id":1,"status":"submitted"}}`)

	for _, conn := range []*websocket.Conn{alice, carol} {
		var update struct {
			MilestoneUpdated map[string]any `json:"milestoneUpdated"`
			UpdatedBy        string         `json:"updatedBy"`
			Timestamp        string         `json:"timestamp"`
		}
		expectType(t, conn, broadcast.TypeProjectUpdate, &update)
		assert.Equal(t, "alice", update.UpdatedBy)
		assert.Equal(t, "submitted", update.MilestoneUpdated["status"])
		assert.NotEmpty(t, update.Timestamp)
	}
}

func TestProjectRoom_IgnoresInvalidMilestoneUpdates(t *testing.T) {
	f := newFixture(t, nil)
	conn := f.dial(projectPath, "1")
	expectType(t, conn, broadcast.TypeProjectStatus, nil)

	send(t, conn, `{"action":"update_milestone"}`)
	send(t, conn, `{"action":"update_milestone","milestoneData":null}`)
	send(t, conn, `{"action":"rename_project"}`)
	send(t, conn, `{"action":"get_status"}`)

	expectType(t, conn, broadcast.TypeProjectStatus, nil)
	expectNoMessage(t, conn)
}

func TestProjectRoom_RelaysOnlyProjectUpdates(t *testing.T) {
	f := newFixture(t, nil)
	conn := f.dial(projectPath, "1")
	expectType(t, conn, broadcast.TypeProjectStatus, nil)

	key := broadcast.ProjectGroup("PROJ001")
	assert.Zero(t, f.registry.Publish(key, broadcast.TypeNotification, "nope"))
	assert.Equal(t, 1, f.registry.Publish(key, broadcast.TypeProjectUpdate, map[string]string{"updatedBy": "system"}))

	var update map[string]string
	expectType(t, conn, broadcast.TypeProjectUpdate, &update)
	assert.Equal(t, "system", update["updatedBy"])
}

type projectStoreStub struct {
	access    bool
	accessErr error
	statusErr error
}

func (p projectStoreStub) HasAccess(context.Context, string, string, string) (bool, error) {
	return p.access, p.accessErr
}

func (p projectStoreStub) FetchProjectStatus(context.Context, string) (store.ProjectStatus, error) {
	return store.ProjectStatus{}, p.statusErr
}

func TestProjectRoom_AccessCheckFailureIsUnavailable(t *testing.T) {
	f := newFixture(t, func(_ *Config, deps *Dependencies) {
		deps.Projects = projectStoreStub{accessErr: errStoreDown}
	})

	assert.Equal(t, http.StatusServiceUnavailable, f.refusedStatus(t, projectPath, token(t, "1")))
}

func TestProjectRoom_DegradedSnapshot(t *testing.T) {
	f := newFixture(t, func(_ *Config, deps *Dependencies) {
		deps.Projects = projectStoreStub{access: true, statusErr: errStoreDown}
	})
	conn := f.dial(projectPath, "1")

	env := readEnvelope(t, conn)
	require.Equal(t, broadcast.TypeProjectStatus, env.Type)
	var status map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.JSONEq(t, `"PROJ001"`, string(status["projectId"]))
	assert.JSONEq(t, `[]`, string(status["studentIds"]))
	assert.JSONEq(t, `[]`, string(status["milestones"]))
}
