package integration

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/connectsphere/server/api"
	"github.com/connectsphere/server/audit"
	"github.com/connectsphere/server/cache"
	"github.com/connectsphere/server/config"
	"github.com/connectsphere/server/connection"
	"github.com/connectsphere/server/moderation"
	"github.com/connectsphere/server/notify"
	"github.com/connectsphere/server/post"
	"github.com/connectsphere/server/scheduler"
	"github.com/connectsphere/server/testutil"
	"github.com/connectsphere/server/users"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AdminKey is the X-Admin-Key accepted by the test server.
const AdminKey = "integration-admin-key"

// BlockedWord is rejected by the moderation chain.
const BlockedWord = "spamword"

// TestServer wraps a real HTTP server with every ConnectSphere service wired together.
type TestServer struct {
	DB     *gorm.DB
	Cache  cache.Cache
	PubSub cache.PubSub
	Audit  *audit.Service
	Sched  *scheduler.Scheduler
	Server *httptest.Server
	URL    string // http://127.0.0.1:<port>
	Sec    config.SecurityConfig

	cancel context.CancelFunc
}

// NewTestServer creates a fully wired server for integration testing.
// It mirrors the dependency wiring in main.go.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	// ---- Infrastructure ----
	db := testutil.SetupTestDB(t)
	c, pubsub := testutil.SetupTestCache(t)
	logger := zap.NewNop()

	sec := config.SecurityConfig{
		JWTSecret:      "integration-test-secret",
		JWTTTLH:        72 * time.Hour,
		BcryptCost:     4,
		RateLimitRPS:   1000,
		RateLimitBurst: 2000,
		AllowedOrigins: []string{}, // allow all origins
	}

	// ---- Services ----
	auditSvc := audit.New(db, logger)
	dir := users.NewDirectory(db)
	notifySvc := notify.NewService(db, c, pubsub, dir, 0, logger)
	connSvc := connection.NewService(connection.NewGormStore(db), dir, notifySvc, logger)
	postSvc := post.NewService(db, connSvc, dir, notifySvc, logger)
	postSvc.SetModeration(moderation.Standard([]string{BlockedWord}))
	sched := scheduler.New(logger)

	ctx, cancel := context.WithCancel(context.Background())
	router := api.NewRouter(ctx, api.Deps{
		DB:            db,
		Cache:         c,
		PubSub:        pubsub,
		Users:         dir,
		Connections:   connSvc,
		Notifications: notifySvc,
		Posts:         postSvc,
		Audit:         auditSvc,
		Scheduler:     sched,
		Server:        config.ServerConfig{AdminKey: AdminKey},
		Security:      sec,
		Notify:        config.NotifyConfig{StreamHeartbeat: time.Second},
		Logger:        logger,
	})

	// ---- Start server ----
	server := httptest.NewServer(router)

	ts := &TestServer{
		DB:     db,
		Cache:  c,
		PubSub: pubsub,
		Audit:  auditSvc,
		Sched:  sched,
		Server: server,
		URL:    server.URL,
		Sec:    sec,
		cancel: cancel,
	}
	t.Cleanup(ts.Close)
	return ts
}

// Close shuts down the test server and its background workers.
// Calling it more than once is harmless.
func (ts *TestServer) Close() {
	ts.Server.Close()
	ts.Sched.Stop()
	ts.Audit.Stop(context.Background())
	ts.cancel()
}

// --- HTTP helpers ---

func (ts *TestServer) do(t *testing.T, method, path string, body interface{}, token string) *http.Response {
	t.Helper()
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		bodyReader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, bodyReader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// PostJSON sends a POST request with JSON body and optional Bearer token.
func (ts *TestServer) PostJSON(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	if body == nil {
		body = struct{}{}
	}
	return ts.do(t, http.MethodPost, path, body, token)
}

// Get sends a GET request with optional Bearer token.
func (ts *TestServer) Get(t *testing.T, path string, token string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodGet, path, nil, token)
}

// Put sends a PUT request with JSON body and optional Bearer token.
func (ts *TestServer) Put(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodPut, path, body, token)
}

// Patch sends a PATCH request with optional JSON body and Bearer token.
func (ts *TestServer) Patch(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodPatch, path, body, token)
}

// Delete sends a DELETE request with optional JSON body and Bearer token.
func (ts *TestServer) Delete(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodDelete, path, body, token)
}

// Admin sends a request carrying the admin key.
func (ts *TestServer) Admin(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		bodyReader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, bodyReader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Key", AdminKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// Envelope is the JSON body every API response is wrapped in.
type Envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// ReadJSON reads and decodes a JSON response body into the given target.
func ReadJSON(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, target), "body: %s", string(data))
}

// ReadData asserts the response status and decodes its data member into target.
func ReadData(t *testing.T, resp *http.Response, code int, target interface{}) {
	t.Helper()
	var env Envelope
	ReadJSON(t, resp, &env)
	require.Equal(t, code, resp.StatusCode, "message: %s", env.Message)
	require.Equal(t, "success", env.Status)
	if target != nil {
		require.NoError(t, json.Unmarshal(env.Data, target), "data: %s", string(env.Data))
	}
}

// ReadFail asserts a failed response and returns its message.
func ReadFail(t *testing.T, resp *http.Response, code int) string {
	t.Helper()
	var env Envelope
	ReadJSON(t, resp, &env)
	require.Equal(t, code, resp.StatusCode)
	require.NotEqual(t, "success", env.Status)
	return env.Message
}

// --- Auth helpers ---

// Account is a signed-up user with a live session.
type Account struct {
	ID       int64
	Token    string
	Username string
	Email    string
}

// Signup registers a new account with password "password123".
func (ts *TestServer) Signup(t *testing.T, prefix string) Account {
	t.Helper()
	username := UniqueID(prefix)
	email := username + "@example.com"
	resp := ts.PostJSON(t, "/api/v1/auth/signup", map[string]string{
		"name":     prefix,
		"email":    email,
		"username": username,
		"password": "password123",
	}, "")
	var out struct {
		Token string `json:"token"`
		User  struct {
			ID int64 `json:"id"`
		} `json:"user"`
	}
	ReadData(t, resp, http.StatusCreated, &out)
	require.NotEmpty(t, out.Token)
	return Account{ID: out.User.ID, Token: out.Token, Username: username, Email: email}
}

// Login logs an existing account in and returns a fresh token.
func (ts *TestServer) Login(t *testing.T, email, password string) string {
	t.Helper()
	resp := ts.PostJSON(t, "/api/v1/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, "")
	var out struct {
		Token string `json:"token"`
	}
	ReadData(t, resp, http.StatusOK, &out)
	return out.Token
}

// Befriend sends a request from a to b and has b accept it.
func (ts *TestServer) Befriend(t *testing.T, a, b Account) int64 {
	t.Helper()
	var conn struct {
		ID int64 `json:"id"`
	}
	ReadData(t, ts.PostJSON(t, "/api/v1/connections/request", map[string]int64{"recipientId": b.ID}, a.Token),
		http.StatusCreated, &conn)
	ReadData(t, ts.PostJSON(t, fmt.Sprintf("/api/v1/connections/request/%d/respond", conn.ID),
		map[string]string{"action": "accept"}, b.Token), http.StatusOK, nil)
	return conn.ID
}

// --- Stream helpers ---

// Event is one server-sent event.
type Event struct {
	Name string
	Data string
}

// StreamClient reads the notification stream of one user.
type StreamClient struct {
	resp   *http.Response
	events chan Event
	cancel context.CancelFunc
}

// OpenStream connects to the notification stream using the query token
// and waits for the "connected" event.
func (ts *TestServer) OpenStream(t *testing.T, token string) (*StreamClient, Event) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/notifications/stream?token="+token, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		require.NoError(t, err)
	}
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sc := &StreamClient{resp: resp, events: make(chan Event, 16), cancel: cancel}
	go sc.readLoop()
	t.Cleanup(sc.Close)

	first := sc.Next(t, 3*time.Second)
	require.Equal(t, "connected", first.Name)
	return sc, first
}

func (sc *StreamClient) readLoop() {
	defer close(sc.events)
	scanner := bufio.NewScanner(sc.resp.Body)
	var ev Event
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if ev.Name != "" {
				sc.events <- ev
			}
			ev = Event{}
		case strings.HasPrefix(line, "event: "):
			ev.Name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.Data = strings.TrimPrefix(line, "data: ")
		}
	}
}

// Next waits for the next named event.
func (sc *StreamClient) Next(t *testing.T, timeout time.Duration) Event {
	t.Helper()
	select {
	case ev, ok := <-sc.events:
		require.True(t, ok, "stream closed")
		return ev
	case <-time.After(timeout):
		t.Fatalf("no stream event within %s", timeout)
		return Event{}
	}
}

// Close disconnects the stream.
func (sc *StreamClient) Close() {
	sc.cancel()
	sc.resp.Body.Close()
}

// --- ID helpers ---

var testCounter uint64

// UniqueID returns a username-safe identifier unique within the test run.
func UniqueID(prefix string) string {
	n := atomic.AddUint64(&testCounter, 1)
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano()%100000, n)
}
