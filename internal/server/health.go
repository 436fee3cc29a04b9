package server

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Tyrowin/projectpulse/internal/auth"
	"github.com/Tyrowin/projectpulse/internal/broadcast"
)

const healthCheckTimeout = 3 * time.Second

// HealthCheck probes one subsystem. A nil error means healthy.
type HealthCheck func(ctx context.Context) error

// healthMessage is the closed set of actions a health client may send.
type healthMessage interface{ healthMessage() }

type healthStatusMessage struct{}

type runHealthCheckMessage struct{}

func (healthStatusMessage) healthMessage()   {}
func (runHealthCheckMessage) healthMessage() {}

func parseHealthMessage(raw []byte) healthMessage {
	action, ignored := decodeAction(raw)
	if ignored != nil {
		return ignored
	}
	switch action {
	case "get_status":
		return healthStatusMessage{}
	case "run_health_check":
		return runHealthCheckMessage{}
	default:
		return &ignoredMessage{reason: "unknown action " + action}
	}
}

// systemStatus is the snapshot sent on join and on get_status.
type systemStatus struct {
	Status        string    `json:"status"`
	Connections   int       `json:"connections"`
	Groups        int       `json:"groups"`
	Members       int       `json:"members"`
	UptimeSeconds int64     `json:"uptimeSeconds"`
	Timestamp     time.Time `json:"timestamp"`
}

type healthCheckResult struct {
	Checks    map[string]string `json:"checks"`
	Timestamp time.Time         `json:"timestamp"`
}

type healthRoom struct {
	registry *broadcast.Registry
	hub      *Hub
	checks   map[string]HealthCheck
	timeout  time.Duration
	started  time.Time
	logger   *zap.Logger
}

func (*healthRoom) name() string { return "system-health" }

func (hr *healthRoom) admit(_ *http.Request, id auth.Identity) (session, *refusal) {
	if !id.IsAdmin() {
		return nil, refuse(http.StatusForbidden, "system health is restricted to administrators")
	}
	return &healthSession{room: hr, accept: acceptTypes(broadcast.TypeHealthAlert)}, nil
}

func (hr *healthRoom) status() systemStatus {
	groups, members := hr.registry.Stats()
	now := time.Now()
	return systemStatus{
		Status:        "operational",
		Connections:   hr.hub.Count(),
		Groups:        groups,
		Members:       members,
		UptimeSeconds: int64(now.Sub(hr.started) / time.Second),
		Timestamp:     now,
	}
}

// runChecks runs every check concurrently. Failures become status values and
// checks still running when the timeout expires are reported as timed out.
func (hr *healthRoom) runChecks(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, hr.timeout)
	defer cancel()

	type checkResult struct {
		name   string
		status string
	}
	done := make(chan checkResult, len(hr.checks))
	for name, check := range hr.checks {
		go func(name string, check HealthCheck) {
			status := "healthy"
			if err := check(ctx); err != nil {
				status = "unhealthy: " + err.Error()
			}
			done <- checkResult{name: name, status: status}
		}(name, check)
	}

	results := make(map[string]string, len(hr.checks))
	for len(results) < len(hr.checks) {
		select {
		case r := <-done:
			results[r.name] = r.status
		case <-ctx.Done():
			for name := range hr.checks {
				if _, ok := results[name]; !ok {
					results[name] = "unhealthy: timeout"
				}
			}
		}
	}
	return results
}

type healthSession struct {
	room   *healthRoom
	accept func(broadcast.Event) bool
}

func (*healthSession) name() string { return "system-health" }

func (*healthSession) groups() []broadcast.GroupKey {
	return []broadcast.GroupKey{broadcast.HealthGroup}
}

func (s *healthSession) accepts(ev broadcast.Event) bool { return s.accept(ev) }

func (s *healthSession) onJoin(c *Client) {
	c.sendJSON(broadcast.TypeSystemStatus, s.room.status())
}

func (s *healthSession) handle(c *Client, raw []byte) {
	switch msg := parseHealthMessage(raw).(type) {
	case healthStatusMessage:
		c.sendJSON(broadcast.TypeSystemStatus, s.room.status())
	case runHealthCheckMessage:
		checks := s.room.runChecks(c.ctx)
		c.sendJSON(broadcast.TypeHealthCheckResult, healthCheckResult{Checks: checks, Timestamp: time.Now()})
	case *ignoredMessage:
		c.logger.Debug("ignoring message", zap.String("reason", msg.reason))
	}
}

func (*healthSession) onLeave(*Client) {}
