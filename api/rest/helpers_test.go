package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/connectsphere/server/api/rest"
	"github.com/connectsphere/server/audit"
	"github.com/connectsphere/server/cache"
	"github.com/connectsphere/server/config"
	"github.com/connectsphere/server/connection"
	mw "github.com/connectsphere/server/middleware"
	"github.com/connectsphere/server/model"
	"github.com/connectsphere/server/notify"
	"github.com/connectsphere/server/post"
	"github.com/connectsphere/server/testutil"
	"github.com/connectsphere/server/users"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
	rest.RegisterValidators()
}

var testSec = config.SecurityConfig{
	JWTSecret:  "test-secret",
	JWTTTLH:    72 * time.Hour,
	BcryptCost: 4,
}

// env holds the services behind the handlers under test.
type env struct {
	db     *gorm.DB
	cache  cache.Cache
	pubsub cache.PubSub
	dir    *users.Directory
	notify *notify.Service
	conns  *connection.Service
	posts  *post.Service
	audit  *audit.Service
	logger *zap.Logger
	r      *gin.Engine
	auth   gin.HandlerFunc
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)
	logger := zap.NewNop()
	dir := users.NewDirectory(db)
	notifySvc := notify.NewService(db, c, ps, dir, time.Minute, logger)
	conns := connection.NewService(connection.NewGormStore(db), dir, notifySvc, logger)
	a := audit.New(db, logger)
	t.Cleanup(func() { a.Stop(context.Background()) })
	return &env{
		db:     db,
		cache:  c,
		pubsub: ps,
		dir:    dir,
		notify: notifySvc,
		conns:  conns,
		posts:  post.NewService(db, conns, dir, notifySvc, logger),
		audit:  a,
		logger: logger,
		r:      gin.New(),
		auth:   mw.Auth(testSec, c),
	}
}

// login creates a user and an authenticated session for it.
func (e *env) login(t *testing.T, username string) (*model.User, string) {
	t.Helper()
	u := testutil.CreateUser(t, e.db, username)
	token, err := mw.GenerateToken(u.ID, testSec.JWTSecret, testSec.JWTTTLH)
	require.NoError(t, err)
	require.NoError(t, e.cache.Set(context.Background(), mw.SessionKey(token), "1", time.Hour))
	return u, token
}

func (e *env) do(method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	headers := map[string]string{}
	if token != "" {
		headers["Authorization"] = "Bearer " + token
	}
	return e.doWith(method, path, body, headers)
}

func (e *env) doWith(method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// decode checks the status code and unmarshals the success payload into out.
func decode(t *testing.T, w *httptest.ResponseRecorder, code int, out interface{}) {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), "body: %s", w.Body.String())
	require.Equal(t, code, w.Code, "body: %s", w.Body.String())
	require.Equal(t, "success", env.Status)
	if out != nil {
		require.NoError(t, json.Unmarshal(env.Data, out))
	}
}

// failure checks the status code and returns the envelope of a failed call.
func failure(t *testing.T, w *httptest.ResponseRecorder, code int) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), "body: %s", w.Body.String())
	require.Equal(t, code, w.Code, "body: %s", w.Body.String())
	return env
}

func requireCode(t *testing.T, w *httptest.ResponseRecorder, code int) {
	t.Helper()
	require.Equal(t, code, w.Code, "body: %s", w.Body.String())
}
