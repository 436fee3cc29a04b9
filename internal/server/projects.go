package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Tyrowin/projectpulse/internal/auth"
	"github.com/Tyrowin/projectpulse/internal/broadcast"
	"github.com/Tyrowin/projectpulse/internal/store"
)

// projectMessage is the closed set of actions a project client may send.
type projectMessage interface{ projectMessage() }

type getStatusMessage struct{}

type updateMilestoneMessage struct {
	MilestoneData json.RawMessage `json:"milestoneData" validate:"required"`
}

func (getStatusMessage) projectMessage()       {}
func (updateMilestoneMessage) projectMessage() {}

func parseProjectMessage(raw []byte) projectMessage {
	action, ignored := decodeAction(raw)
	if ignored != nil {
		return ignored
	}
	switch action {
	case "get_status":
		return getStatusMessage{}
	case "update_milestone":
		var m updateMilestoneMessage
		if !decodePayload(raw, &m) || !present(m.MilestoneData) {
			return &ignoredMessage{reason: "invalid update_milestone payload"}
		}
		return m
	default:
		return &ignoredMessage{reason: "unknown action " + action}
	}
}

// projectUpdate is the payload of a project_update event.
type projectUpdate struct {
	MilestoneUpdated json.RawMessage `json:"milestoneUpdated"`
	UpdatedBy        string          `json:"updatedBy"`
	Timestamp        time.Time       `json:"timestamp"`
}

type projectRoom struct {
	store    store.ProjectStore
	registry *broadcast.Registry
	timeout  time.Duration
	logger   *zap.Logger
}

func (*projectRoom) name() string { return "projects" }

// admit answers 403 when access is denied and 503 when the access check
// itself fails.
func (pr *projectRoom) admit(r *http.Request, id auth.Identity) (session, *refusal) {
	projectID := r.PathValue("projectId")
	if projectID == "" {
		return nil, refuse(http.StatusNotFound, "missing project id")
	}

	ctx, cancel := context.WithTimeout(r.Context(), pr.timeout)
	defer cancel()

	ok, err := pr.store.HasAccess(ctx, id.PrincipalID, id.Role, projectID)
	if err != nil {
		pr.logger.Warn("project access check failed",
			zap.String("principal", id.PrincipalID),
			zap.String("project", projectID),
			zap.Error(err))
		return nil, refuse(http.StatusServiceUnavailable, "project access check unavailable")
	}
	if !ok {
		return nil, refuse(http.StatusForbidden, "no access to project")
	}

	return &projectSession{
		room:      pr,
		identity:  id,
		projectID: projectID,
		accept:    acceptTypes(broadcast.TypeProjectUpdate),
	}, nil
}

type projectSession struct {
	room      *projectRoom
	identity  auth.Identity
	projectID string
	accept    func(broadcast.Event) bool
}

func (*projectSession) name() string { return "projects" }

func (s *projectSession) groups() []broadcast.GroupKey {
	return []broadcast.GroupKey{broadcast.ProjectGroup(s.projectID)}
}

func (s *projectSession) accepts(ev broadcast.Event) bool { return s.accept(ev) }

func (s *projectSession) onJoin(c *Client) { s.sendStatus(c) }

func (s *projectSession) handle(c *Client, raw []byte) {
	switch msg := parseProjectMessage(raw).(type) {
	case getStatusMessage:
		s.sendStatus(c)
	case updateMilestoneMessage:
		now := time.Now()
		s.room.registry.PublishEvent(broadcast.Event{
			Group:  broadcast.ProjectGroup(s.projectID),
			Type:   broadcast.TypeProjectUpdate,
			Sender: s.identity.PrincipalID,
			Payload: projectUpdate{
				MilestoneUpdated: msg.MilestoneData,
				UpdatedBy:        s.identity.Username,
				Timestamp:        now,
			},
			Timestamp: now,
		})
	case *ignoredMessage:
		c.logger.Debug("ignoring message", zap.String("reason", msg.reason))
	}
}

func (*projectSession) onLeave(*Client) {}

// sendStatus falls back to a snapshot carrying only the project id when the
// store cannot answer.
func (s *projectSession) sendStatus(c *Client) {
	ctx, cancel := context.WithTimeout(c.ctx, s.room.timeout)
	defer cancel()

	status, err := s.room.store.FetchProjectStatus(ctx, s.projectID)
	if err != nil {
		c.logger.Warn("fetching project status", zap.String("project", s.projectID), zap.Error(err))
		status = store.ProjectStatus{ProjectID: s.projectID}
	}
	if status.StudentIDs == nil {
		status.StudentIDs = []string{}
	}
	if status.Milestones == nil {
		status.Milestones = []store.Milestone{}
	}
	c.sendJSON(broadcast.TypeProjectStatus, status)
}
