package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Tyrowin/projectpulse/internal/auth"
	"github.com/Tyrowin/projectpulse/internal/broadcast"
	"github.com/Tyrowin/projectpulse/internal/store"
)

// notificationMessage is the closed set of actions a notification client may send.
type notificationMessage interface{ notificationMessage() }

// markReadMessage carries a zero NotificationID when the client sent no
// usable id. It is still answered with a snapshot.
type markReadMessage struct {
	NotificationID int64
}

type getNotificationsMessage struct{}

func (markReadMessage) notificationMessage()         {}
func (getNotificationsMessage) notificationMessage() {}

func parseNotificationMessage(raw []byte) notificationMessage {
	action, ignored := decodeAction(raw)
	if ignored != nil {
		return ignored
	}
	switch action {
	case "mark_read":
		return markReadMessage{NotificationID: notificationID(raw)}
	case "get_notifications":
		return getNotificationsMessage{}
	default:
		return &ignoredMessage{reason: "unknown action " + action}
	}
}

// notificationID extracts a positive integer notificationId, or 0.
func notificationID(raw []byte) int64 {
	var payload struct {
		NotificationID json.RawMessage `json:"notificationId"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil || !present(payload.NotificationID) {
		return 0
	}
	var id int64
	if err := json.Unmarshal(payload.NotificationID, &id); err != nil {
		return 0
	}
	if validate.Var(id, "gt=0") != nil {
		return 0
	}
	return id
}

type notificationRoom struct {
	store   store.NotificationStore
	limit   int
	timeout time.Duration
	logger  *zap.Logger
}

func (*notificationRoom) name() string { return "notifications" }

func (nr *notificationRoom) admit(_ *http.Request, id auth.Identity) (session, *refusal) {
	return &notificationSession{room: nr, identity: id, accept: acceptTypes(broadcast.TypeNotification)}, nil
}

type notificationSession struct {
	room     *notificationRoom
	identity auth.Identity
	accept   func(broadcast.Event) bool
}

func (*notificationSession) name() string { return "notifications" }

func (s *notificationSession) groups() []broadcast.GroupKey {
	return []broadcast.GroupKey{
		broadcast.UserGroup(s.identity.PrincipalID),
		broadcast.RoleGroup(s.identity.Role),
		broadcast.AllGroup,
	}
}

func (s *notificationSession) accepts(ev broadcast.Event) bool { return s.accept(ev) }

func (s *notificationSession) onJoin(c *Client) { s.sendSnapshot(c) }

func (s *notificationSession) handle(c *Client, raw []byte) {
	switch msg := parseNotificationMessage(raw).(type) {
	case markReadMessage:
		s.markRead(c, msg.NotificationID)
		s.sendSnapshot(c)
	case getNotificationsMessage:
		s.sendSnapshot(c)
	case *ignoredMessage:
		c.logger.Debug("ignoring message", zap.String("reason", msg.reason))
	}
}

func (*notificationSession) onLeave(*Client) {}

func (s *notificationSession) markRead(c *Client, id int64) {
	if id == 0 {
		c.logger.Debug("mark_read without a valid notification id")
		return
	}
	ctx, cancel := context.WithTimeout(c.ctx, s.room.timeout)
	defer cancel()

	err := s.room.store.MarkRead(ctx, id)
	switch {
	case err == nil:
	case errors.Cause(err) == store.ErrNotFound:
		c.logger.Debug("mark_read for unknown notification", zap.Int64("notification", id))
	default:
		c.logger.Warn("marking notification read", zap.Int64("notification", id), zap.Error(err))
	}
}

// sendSnapshot degrades to an empty list when the store is unavailable.
func (s *notificationSession) sendSnapshot(c *Client) {
	ctx, cancel := context.WithTimeout(c.ctx, s.room.timeout)
	defer cancel()

	list, err := s.room.store.FetchUnread(ctx, s.identity.PrincipalID, s.identity.Role, s.room.limit)
	if err != nil {
		c.logger.Warn("fetching unread notifications", zap.Error(err))
		list = nil
	}
	if list == nil {
		list = []store.Notification{}
	}
	c.sendJSON(broadcast.TypeNotificationsList, list)
}
