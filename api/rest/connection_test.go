package rest_test

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/connectsphere/server/api/rest"
	"github.com/connectsphere/server/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type connJSON struct {
	ID        int64  `json:"id"`
	Status    string `json:"status"`
	BlockedBy *int64 `json:"blockedBy"`
	Requester struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
	} `json:"requester"`
	Recipient struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
	} `json:"recipient"`
}

func newConnEnv(t *testing.T) *env {
	e := newEnv(t)
	h := rest.NewConnectionHandler(e.conns, e.audit, e.logger)
	g := e.r.Group("/connections", e.auth)
	g.POST("/request", h.SendRequest)
	g.POST("/request/:id/respond", h.Respond)
	g.GET("/friends", h.Friends)
	g.GET("/friends/:userId", h.Friends)
	g.GET("/pending", h.Pending)
	g.GET("/status/:userId", h.Status)
	g.POST("/block/:userId", h.Block)
	g.DELETE("/block/:userId", h.Unblock)
	return e
}

func (e *env) sendRequest(t *testing.T, token string, to int64) connJSON {
	t.Helper()
	var c connJSON
	decode(t, e.do(http.MethodPost, "/connections/request", map[string]int64{"recipientId": to}, token), http.StatusCreated, &c)
	return c
}

func TestSendRequest(t *testing.T) {
	e := newConnEnv(t)
	alice, aliceTok := e.login(t, "alice")
	bob, _ := e.login(t, "bob")

	c := e.sendRequest(t, aliceTok, bob.ID)
	assert.Equal(t, "pending", c.Status)
	assert.Equal(t, alice.ID, c.Requester.ID)
	assert.Equal(t, "alice", c.Requester.Username)
	assert.Equal(t, "bob", c.Recipient.Username)
	assert.Nil(t, c.BlockedBy)
}

func TestSendRequest_Failures(t *testing.T) {
	e := newConnEnv(t)
	alice, aliceTok := e.login(t, "alice")
	bob, bobTok := e.login(t, "bob")
	e.sendRequest(t, aliceTok, bob.ID)

	cases := []struct {
		name  string
		token string
		body  interface{}
		code  int
		msg   string
	}{
		{"self", aliceTok, map[string]int64{"recipientId": alice.ID}, http.StatusBadRequest, "You cannot send a friend request to yourself"},
		{"unknown user", aliceTok, map[string]int64{"recipientId": 9999}, http.StatusNotFound, "User not found"},
		{"duplicate", aliceTok, map[string]int64{"recipientId": bob.ID}, http.StatusBadRequest, "A connection already exists with this user"},
		{"reverse duplicate", bobTok, map[string]int64{"recipientId": alice.ID}, http.StatusBadRequest, "A connection already exists with this user"},
		{"missing recipient", aliceTok, map[string]string{}, http.StatusBadRequest, "recipientId is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := failure(t, e.do(http.MethodPost, "/connections/request", tc.body, tc.token), tc.code)
			assert.Equal(t, "fail", env.Status)
			assert.Equal(t, tc.msg, env.Message)
		})
	}

	var n int64
	require.NoError(t, e.db.Model(&model.Connection{}).Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

func TestRespond(t *testing.T) {
	e := newConnEnv(t)
	_, aliceTok := e.login(t, "alice")
	bob, bobTok := e.login(t, "bob")
	c := e.sendRequest(t, aliceTok, bob.ID)
	path := fmt.Sprintf("/connections/request/%d/respond", c.ID)

	env := failure(t, e.do(http.MethodPost, path, map[string]string{"action": "accept"}, aliceTok), http.StatusForbidden)
	assert.Equal(t, "You are not authorized to respond to this friend request", env.Message)

	env = failure(t, e.do(http.MethodPost, path, map[string]string{"action": "maybe"}, bobTok), http.StatusBadRequest)
	assert.Equal(t, `Invalid action. Must be either "accept" or "reject"`, env.Message)

	env = failure(t, e.do(http.MethodPost, "/connections/request/9999/respond", map[string]string{"action": "accept"}, bobTok), http.StatusNotFound)
	assert.Equal(t, "Friend request not found", env.Message)

	env = failure(t, e.do(http.MethodPost, "/connections/request/abc/respond", map[string]string{"action": "accept"}, bobTok), http.StatusBadRequest)
	assert.Equal(t, "Invalid id", env.Message)

	var out connJSON
	decode(t, e.do(http.MethodPost, path, map[string]string{"action": "accept"}, bobTok), http.StatusOK, &out)
	assert.Equal(t, "accepted", out.Status)

	env = failure(t, e.do(http.MethodPost, path, map[string]string{"action": "reject"}, bobTok), http.StatusBadRequest)
	assert.Equal(t, "This friend request has already been handled", env.Message)
}

func TestRespond_Reject(t *testing.T) {
	e := newConnEnv(t)
	_, aliceTok := e.login(t, "alice")
	bob, bobTok := e.login(t, "bob")
	c := e.sendRequest(t, aliceTok, bob.ID)

	var out connJSON
	decode(t, e.do(http.MethodPost, fmt.Sprintf("/connections/request/%d/respond", c.ID),
		map[string]string{"action": "reject"}, bobTok), http.StatusOK, &out)
	assert.Equal(t, "rejected", out.Status)

	// A rejected pair cannot be re-requested.
	env := failure(t, e.do(http.MethodPost, "/connections/request", map[string]int64{"recipientId": bob.ID}, aliceTok), http.StatusBadRequest)
	assert.Equal(t, "A connection already exists with this user", env.Message)
}

func TestFriendsAndPending(t *testing.T) {
	e := newConnEnv(t)
	alice, aliceTok := e.login(t, "alice")
	bob, bobTok := e.login(t, "bob")
	carol, carolTok := e.login(t, "carol")

	c := e.sendRequest(t, aliceTok, bob.ID)
	e.sendRequest(t, carolTok, bob.ID)

	var pending struct {
		PendingRequests []connJSON `json:"pendingRequests"`
		Total           int64      `json:"total"`
		CurrentPage     int        `json:"currentPage"`
		TotalPages      int        `json:"totalPages"`
	}
	decode(t, e.do(http.MethodGet, "/connections/pending?limit=1", nil, bobTok), http.StatusOK, &pending)
	assert.EqualValues(t, 2, pending.Total)
	assert.Equal(t, 2, pending.TotalPages)
	assert.Equal(t, 1, pending.CurrentPage)
	require.Len(t, pending.PendingRequests, 1)
	// Newest first.
	assert.Equal(t, carol.ID, pending.PendingRequests[0].Requester.ID)

	decode(t, e.do(http.MethodGet, "/connections/pending", nil, aliceTok), http.StatusOK, &pending)
	assert.Empty(t, pending.PendingRequests)

	decode(t, e.do(http.MethodPost, fmt.Sprintf("/connections/request/%d/respond", c.ID),
		map[string]string{"action": "accept"}, bobTok), http.StatusOK, nil)

	var friends struct {
		Friends []struct {
			ID       int64  `json:"id"`
			Username string `json:"username"`
		} `json:"friends"`
		Total int64 `json:"total"`
	}
	decode(t, e.do(http.MethodGet, "/connections/friends", nil, bobTok), http.StatusOK, &friends)
	require.Len(t, friends.Friends, 1)
	assert.Equal(t, alice.ID, friends.Friends[0].ID)
	assert.Equal(t, "alice", friends.Friends[0].Username)

	decode(t, e.do(http.MethodGet, fmt.Sprintf("/connections/friends/%d", alice.ID), nil, carolTok), http.StatusOK, &friends)
	require.Len(t, friends.Friends, 1)
	assert.Equal(t, bob.ID, friends.Friends[0].ID)
}

func TestStatus(t *testing.T) {
	e := newConnEnv(t)
	_, aliceTok := e.login(t, "alice")
	bob, bobTok := e.login(t, "bob")
	dave, _ := e.login(t, "dave")

	var out struct {
		Connection *connJSON `json:"connection"`
		Status     string    `json:"status"`
	}
	decode(t, e.do(http.MethodGet, fmt.Sprintf("/connections/status/%d", bob.ID), nil, aliceTok), http.StatusOK, &out)
	assert.Nil(t, out.Connection)
	assert.Equal(t, "none", out.Status)

	c := e.sendRequest(t, aliceTok, bob.ID)
	decode(t, e.do(http.MethodGet, fmt.Sprintf("/connections/status/%d", c.Requester.ID), nil, bobTok), http.StatusOK, &out)
	require.NotNil(t, out.Connection)
	assert.Equal(t, c.ID, out.Connection.ID)
	assert.Equal(t, "pending", out.Status)

	decode(t, e.do(http.MethodGet, fmt.Sprintf("/connections/status/%d", dave.ID), nil, bobTok), http.StatusOK, &out)
	assert.Equal(t, "none", out.Status)
}

func TestBlockAndUnblock(t *testing.T) {
	e := newConnEnv(t)
	alice, aliceTok := e.login(t, "alice")
	bob, bobTok := e.login(t, "bob")

	// Blocking a stranger creates the record directly.
	var out connJSON
	decode(t, e.do(http.MethodPost, fmt.Sprintf("/connections/block/%d", bob.ID), nil, aliceTok), http.StatusOK, &out)
	assert.Equal(t, "blocked", out.Status)
	require.NotNil(t, out.BlockedBy)
	assert.Equal(t, alice.ID, *out.BlockedBy)

	env := failure(t, e.do(http.MethodPost, "/connections/request", map[string]int64{"recipientId": alice.ID}, bobTok), http.StatusBadRequest)
	assert.Equal(t, "A connection already exists with this user", env.Message)

	env = failure(t, e.do(http.MethodDelete, fmt.Sprintf("/connections/block/%d", alice.ID), nil, bobTok), http.StatusNotFound)
	assert.Equal(t, "No blocking relationship found with this user", env.Message)

	// The blocked party blocking back takes over the block.
	decode(t, e.do(http.MethodPost, fmt.Sprintf("/connections/block/%d", alice.ID), nil, bobTok), http.StatusOK, &out)
	require.NotNil(t, out.BlockedBy)
	assert.Equal(t, bob.ID, *out.BlockedBy)

	requireCode(t, e.do(http.MethodDelete, fmt.Sprintf("/connections/block/%d", bob.ID), nil, aliceTok), http.StatusNotFound)

	decode(t, e.do(http.MethodDelete, fmt.Sprintf("/connections/block/%d", alice.ID), nil, bobTok), http.StatusOK, &out)
	assert.Equal(t, "rejected", out.Status)
	assert.Nil(t, out.BlockedBy)
}

func TestBlock_Self(t *testing.T) {
	e := newConnEnv(t)
	alice, aliceTok := e.login(t, "alice")
	env := failure(t, e.do(http.MethodPost, fmt.Sprintf("/connections/block/%d", alice.ID), nil, aliceTok), http.StatusBadRequest)
	assert.Equal(t, "You cannot block yourself", env.Message)
}

func TestBlock_UnknownUser(t *testing.T) {
	e := newConnEnv(t)
	_, aliceTok := e.login(t, "alice")
	env := failure(t, e.do(http.MethodPost, "/connections/block/999999", nil, aliceTok), http.StatusNotFound)
	assert.Equal(t, "User not found", env.Message)
}
