package server

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Tyrowin/projectpulse/internal/auth"
	"github.com/Tyrowin/projectpulse/internal/broadcast"
)

// collaborationMessage is the closed set of actions a collaboration client may send.
type collaborationMessage interface{ collaborationMessage() }

type cursorUpdateMessage struct {
	Position json.RawMessage `json:"position" validate:"required"`
}

type textChangeMessage struct {
	Changes json.RawMessage `json:"changes" validate:"required"`
}

type selectionChangeMessage struct {
	Selection json.RawMessage `json:"selection" validate:"required"`
}

func (cursorUpdateMessage) collaborationMessage()    {}
func (textChangeMessage) collaborationMessage()      {}
func (selectionChangeMessage) collaborationMessage() {}

func parseCollaborationMessage(raw []byte) collaborationMessage {
	action, ignored := decodeAction(raw)
	if ignored != nil {
		return ignored
	}
	var (
		msg   collaborationMessage
		field json.RawMessage
		ok    bool
	)
	switch action {
	case "cursor_update":
		var m cursorUpdateMessage
		ok = decodePayload(raw, &m)
		msg, field = m, m.Position
	case "text_change":
		var m textChangeMessage
		ok = decodePayload(raw, &m)
		msg, field = m, m.Changes
	case "selection_change":
		var m selectionChangeMessage
		ok = decodePayload(raw, &m)
		msg, field = m, m.Selection
	default:
		return &ignoredMessage{reason: "unknown action " + action}
	}
	if !ok || !present(field) {
		return &ignoredMessage{reason: "invalid " + action + " payload"}
	}
	return msg
}

// presence is the payload of user_joined and user_left.
type presence struct {
	User    string `json:"user"`
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

// cursorPayload, textPayload and selectionPayload are relayed to the other
// members of the room.
type cursorPayload struct {
	User      string          `json:"user"`
	UserID    string          `json:"userId"`
	Position  json.RawMessage `json:"position"`
	Timestamp time.Time       `json:"timestamp"`
}

type textPayload struct {
	User      string          `json:"user"`
	UserID    string          `json:"userId"`
	Changes   json.RawMessage `json:"changes"`
	Timestamp time.Time       `json:"timestamp"`
}

type selectionPayload struct {
	User      string          `json:"user"`
	UserID    string          `json:"userId"`
	Selection json.RawMessage `json:"selection"`
	Timestamp time.Time       `json:"timestamp"`
}

type collaborationRoom struct {
	registry *broadcast.Registry
	logger   *zap.Logger
}

func (*collaborationRoom) name() string { return "collaboration" }

func (cr *collaborationRoom) admit(r *http.Request, id auth.Identity) (session, *refusal) {
	roomName := r.PathValue("roomName")
	if roomName == "" {
		return nil, refuse(http.StatusNotFound, "missing room name")
	}
	return &collaborationSession{room: cr, identity: id, roomName: roomName}, nil
}

type collaborationSession struct {
	room     *collaborationRoom
	identity auth.Identity
	roomName string
}

func (*collaborationSession) name() string { return "collaboration" }

func (s *collaborationSession) key() broadcast.GroupKey { return broadcast.RoomGroup(s.roomName) }

func (s *collaborationSession) groups() []broadcast.GroupKey {
	return []broadcast.GroupKey{s.key()}
}

// accepts drops the connection's own edits. Presence events always pass.
func (s *collaborationSession) accepts(ev broadcast.Event) bool {
	switch ev.Type {
	case broadcast.TypeUserJoined, broadcast.TypeUserLeft:
		return true
	case broadcast.TypeCursorUpdate, broadcast.TypeTextChange, broadcast.TypeSelectionChange:
		return ev.Sender != s.identity.PrincipalID
	default:
		return false
	}
}

func (s *collaborationSession) onJoin(*Client) {
	s.publish(broadcast.TypeUserJoined, presence{
		User:    s.identity.Username,
		UserID:  s.identity.PrincipalID,
		Message: s.identity.Username + " joined the room",
	}, time.Now())
}

func (s *collaborationSession) handle(c *Client, raw []byte) {
	now := time.Now()
	id := s.identity
	switch msg := parseCollaborationMessage(raw).(type) {
	case cursorUpdateMessage:
		s.publish(broadcast.TypeCursorUpdate, cursorPayload{
			User: id.Username, UserID: id.PrincipalID, Position: msg.Position, Timestamp: now,
		}, now)
	case textChangeMessage:
		s.publish(broadcast.TypeTextChange, textPayload{
			User: id.Username, UserID: id.PrincipalID, Changes: msg.Changes, Timestamp: now,
		}, now)
	case selectionChangeMessage:
		s.publish(broadcast.TypeSelectionChange, selectionPayload{
			User: id.Username, UserID: id.PrincipalID, Selection: msg.Selection, Timestamp: now,
		}, now)
	case *ignoredMessage:
		c.logger.Debug("ignoring message", zap.String("reason", msg.reason))
	}
}

func (s *collaborationSession) onLeave(*Client) {
	s.publish(broadcast.TypeUserLeft, presence{
		User:    s.identity.Username,
		UserID:  s.identity.PrincipalID,
		Message: s.identity.Username + " left the room",
	}, time.Now())
}

func (s *collaborationSession) publish(eventType string, payload any, at time.Time) {
	s.room.registry.PublishEvent(broadcast.Event{
		Group:     s.key(),
		Type:      eventType,
		Payload:   payload,
		Sender:    s.identity.PrincipalID,
		Timestamp: at,
	})
}
