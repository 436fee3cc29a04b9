package server

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Tyrowin/projectpulse/internal/auth"
	"github.com/Tyrowin/projectpulse/internal/broadcast"
	"github.com/Tyrowin/projectpulse/internal/store"
	inmemdb "github.com/Tyrowin/projectpulse/internal/store/inmem"
)

const (
	testSecret  = "test-secret"
	readTimeout = 2 * time.Second
	quietPeriod = 150 * time.Millisecond
)

var fixedTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	t        *testing.T
	db       *inmemdb.DB
	registry *broadcast.Registry
	srv      *Server
	ts       *httptest.Server
}

// seedDB builds the principals, project and notifications every room test
// runs against.
func seedDB() *inmemdb.DB {
	db := inmemdb.New()
	db.AddPrincipal(store.Principal{ID: "1", Username: "alice", Role: store.RoleStudent, Active: true})
	db.AddPrincipal(store.Principal{ID: "2", Username: "bob", Role: store.RoleStudent, Active: true})
	db.AddPrincipal(store.Principal{ID: "3", Username: "carol", Role: store.RoleAdvisor, Active: true})
	db.AddPrincipal(store.Principal{ID: "4", Username: "dave", Role: store.RoleStudent, Active: true})
	db.AddPrincipal(store.Principal{ID: "8", Username: "eve", Role: store.RoleStudent, Active: false})
	db.AddPrincipal(store.Principal{ID: "9", Username: "root", Role: store.RoleAdmin, Active: true})

	db.AddProject(inmemdb.Project{
		ID:         "PROJ001",
		Status:     "in_progress",
		AdvisorID:  "3",
		StudentIDs: []string{"1", "2"},
		Milestones: []store.Milestone{{ID: 1, Title: "Proposal", Status: "done"}},
	})

	notify := func(title, recipientType, recipientID, role string, age time.Duration) {
		db.AddNotification(inmemdb.StoredNotification{
			Notification: store.Notification{
				Title:     title,
				Message:   title + " body",
				Type:      "info",
				Priority:  "normal",
				Timestamp: fixedTime.Add(-age),
			},
			RecipientType: recipientType,
			RecipientID:   recipientID,
			RecipientRole: role,
		})
	}
	notify("for alice", store.RecipientUser, "1", "", 3*time.Hour)
	notify("for students", store.RecipientRole, "", store.RoleStudent, 2*time.Hour)
	notify("for everyone", store.RecipientAll, "", "", time.Hour)
	notify("for bob", store.RecipientUser, "2", "", 0)
	notify("for advisors", store.RecipientRole, "", store.RoleAdvisor, 0)
	return db
}

func newFixture(t *testing.T, customize func(cfg *Config, deps *Dependencies)) *fixture {
	t.Helper()

	logger := zaptest.NewLogger(t)
	db := seedDB()
	registry := broadcast.NewRegistry(logger)

	cfg := NewConfig()
	cfg.AllowedOrigins = []string{"*"}
	cfg.JWTSecret = testSecret
	deps := Dependencies{
		Registry:      registry,
		Authenticator: auth.NewAuthenticator(auth.NewJWTVerifier([]byte(testSecret), db), logger),
		Notifications: db,
		Projects:      db,
		Logger:        logger,
	}
	if customize != nil {
		customize(cfg, &deps)
	}

	srv := New(cfg, deps)
	srv.Start()
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	t.Cleanup(func() { _ = srv.Shutdown(2 * time.Second) })

	return &fixture{t: t, db: db, registry: registry, srv: srv, ts: ts}
}

func token(t *testing.T, principalID string) string {
	t.Helper()
	return signToken(t, principalID, time.Hour)
}

func signToken(t *testing.T, principalID string, ttl time.Duration) string {
	t.Helper()
	claims := &auth.Claims{
		StandardClaims: jwt.StandardClaims{
			Subject:   principalID,
			IssuedAt:  time.Now().Add(-2 * time.Hour).Unix(),
			ExpiresAt: time.Now().Add(ttl).Unix(),
		},
	}
	ss, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return ss
}

func (f *fixture) wsURL(path, rawToken string) string {
	u := "ws" + strings.TrimPrefix(f.ts.URL, "http") + path
	if rawToken != "" {
		u += "?token=" + url.QueryEscape(rawToken)
	}
	return u
}

// dialRaw attempts a handshake and returns whatever the dialer returned.
func (f *fixture) dialRaw(path, rawToken string) (*websocket.Conn, *http.Response, error) {
	return dialWithHeader(f.wsURL(path, rawToken), nil)
}

func dialWithHeader(u string, header http.Header) (*websocket.Conn, *http.Response, error) {
	conn, resp, err := websocket.DefaultDialer.Dial(u, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// dial connects as principalID and fails the test if the handshake is refused.
func (f *fixture) dial(path, principalID string) *websocket.Conn {
	f.t.Helper()
	conn, resp, err := f.dialRaw(path, token(f.t, principalID))
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		f.t.Fatalf("dial %s as %s failed (status %d): %v", path, principalID, status, err)
	}
	f.t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// refusedStatus returns the HTTP status of a handshake that must fail.
func (f *fixture) refusedStatus(t *testing.T, path, rawToken string) int {
	t.Helper()
	conn, resp, err := f.dialRaw(path, rawToken)
	if conn != nil {
		_ = conn.Close()
	}
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	return resp.StatusCode
}

func (f *fixture) waitForClients(n int) {
	f.t.Helper()
	require.Eventually(f.t, func() bool { return f.srv.Hub().Count() == n }, readTimeout, 10*time.Millisecond)
}

func (f *fixture) onlyClient() *Client {
	f.t.Helper()
	f.waitForClients(1)
	clients := f.srv.Hub().getClientSnapshot()
	require.Len(f.t, clients, 1)
	return clients[0]
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func readFrame(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	return raw
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(readFrame(t, conn), &env))
	return env
}

// expectType reads the next frame, checks its type and decodes its data into v.
func expectType(t *testing.T, conn *websocket.Conn, eventType string, v any) {
	t.Helper()
	env := readEnvelope(t, conn)
	require.Equal(t, eventType, env.Type, "unexpected frame: %s", env.Data)
	if v != nil {
		require.NoError(t, json.Unmarshal(env.Data, v))
	}
}

// expectNoMessage must be the last read on conn: a timed out read leaves the
// connection unusable.
func expectNoMessage(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(quietPeriod)))
	_, raw, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected no message, but received %s", raw)
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return
	}
	t.Fatalf("unexpected error while waiting for absence of message: %v", err)
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	var raw []byte
	switch m := v.(type) {
	case string:
		raw = []byte(m)
	default:
		var err error
		raw, err = json.Marshal(m)
		require.NoError(t, err)
	}
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))
}
