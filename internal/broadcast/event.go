// Package broadcast defines the group keys, events and outbound envelope shared
// by the registry and every room.
package broadcast

import (
	"strings"
	"time"
)

// GroupKey identifies a broadcast scope. Groups exist only while they have at
// least one member.
type GroupKey string

// HealthGroup and AllGroup are the two fixed group keys.
const (
	AllGroup    GroupKey = "all"
	HealthGroup GroupKey = "health"
)

// UserGroup returns the per-principal group key.
func UserGroup(principalID string) GroupKey { return GroupKey("user:" + principalID) }

// RoleGroup returns the per-role group key.
func RoleGroup(role string) GroupKey { return GroupKey("role:" + role) }

// ProjectGroup returns the per-project group key.
func ProjectGroup(projectID string) GroupKey { return GroupKey("project:" + projectID) }

// RoomGroup returns the collaboration room group key.
func RoomGroup(roomName string) GroupKey { return GroupKey("room:" + roomName) }

func (k GroupKey) String() string { return string(k) }

// Valid reports whether the key has one of the known shapes.
func (k GroupKey) Valid() bool {
	if k == AllGroup || k == HealthGroup {
		return true
	}
	prefix, rest, ok := strings.Cut(string(k), ":")
	if !ok || rest == "" {
		return false
	}
	switch prefix {
	case "user", "role", "project", "room":
		return true
	}
	return false
}

// Outbound event types.
const (
	TypeNotification      = "notification"
	TypeNotificationsList = "notifications_list"
	TypeProjectStatus     = "project_status"
	TypeProjectUpdate     = "project_update"
	TypeUserJoined        = "user_joined"
	TypeUserLeft          = "user_left"
	TypeCursorUpdate      = "cursor_update"
	TypeTextChange        = "text_change"
	TypeSelectionChange   = "selection_change"
	TypeSystemStatus      = "system_status"
	TypeHealthCheckResult = "health_check_result"
	TypeHealthAlert       = "health_alert"
)

// Event is an immutable broadcast to every current member of Group. Sender is
// the principal id of the connection that caused it, empty for events produced
// outside any connection.
type Event struct {
	Group     GroupKey
	Type      string
	Payload   any
	Sender    string
	Timestamp time.Time
}

// Envelope is the JSON frame written to clients.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}
