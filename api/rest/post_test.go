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

type postJSON struct {
	ID      int64    `json:"id"`
	Content string   `json:"content"`
	Tags    []string `json:"tags"`
	Privacy string   `json:"privacy"`
	Author  struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
	} `json:"author"`
	Views        int64 `json:"views"`
	IsEdited     bool  `json:"isEdited"`
	LikeCount    int64 `json:"likeCount"`
	LikedByMe    bool  `json:"likedByMe"`
	CommentCount int64 `json:"commentCount"`
}

type postPage struct {
	Posts       []postJSON `json:"posts"`
	Total       int64      `json:"total"`
	CurrentPage int        `json:"currentPage"`
	TotalPages  int        `json:"totalPages"`
}

func newPostEnv(t *testing.T) *env {
	e := newEnv(t)
	h := rest.NewPostHandler(e.posts, e.logger)
	g := e.r.Group("/posts", e.auth)
	g.POST("", h.Create)
	g.GET("", h.Feed)
	g.GET("/user/:userId", h.UserPosts)
	g.GET("/:postId", h.Get)
	g.PUT("/:postId", h.Update)
	g.DELETE("/:postId", h.Delete)
	g.POST("/:postId/like", h.Like)
	g.POST("/:postId/unlike", h.Unlike)
	cg := e.r.Group("/comments", e.auth)
	cg.POST("/:postId", h.AddComment)
	cg.GET("/:postId", h.Comments)
	cg.PUT("/:commentId", h.UpdateComment)
	cg.DELETE("/:commentId", h.DeleteComment)
	return e
}

func (e *env) createPost(t *testing.T, token string, body map[string]interface{}) postJSON {
	t.Helper()
	var p postJSON
	decode(t, e.do(http.MethodPost, "/posts", body, token), http.StatusCreated, &p)
	return p
}

func (e *env) befriend(t *testing.T, a, b *model.User) {
	t.Helper()
	c := model.NewConnection(a.ID, b.ID, model.ConnectionAccepted)
	require.NoError(t, e.db.Create(c).Error)
}

func TestCreatePost(t *testing.T) {
	e := newPostEnv(t)
	alice, tok := e.login(t, "alice")

	p := e.createPost(t, tok, map[string]interface{}{
		"content": "  hello  ",
		"tags":    []string{"#Go", "go", "Social"},
	})
	assert.Equal(t, "hello", p.Content)
	assert.Equal(t, "public", p.Privacy)
	assert.Equal(t, []string{"go", "social"}, p.Tags)
	assert.Equal(t, alice.ID, p.Author.ID)

	env := failure(t, e.do(http.MethodPost, "/posts", map[string]string{"content": "   "}, tok), http.StatusBadRequest)
	assert.Equal(t, "Post content is required", env.Message)

	env = failure(t, e.do(http.MethodPost, "/posts", map[string]string{"content": "x", "privacy": "secret"}, tok), http.StatusBadRequest)
	assert.Equal(t, "privacy must be one of: public friends private", env.Message)

	env = failure(t, e.do(http.MethodPost, "/posts", map[string]interface{}{"content": "x", "images": []string{"not a url"}}, tok), http.StatusBadRequest)
	assert.Equal(t, "Please enter a valid URL", env.Message)
}

func TestFeedVisibility(t *testing.T) {
	e := newPostEnv(t)
	alice, aliceTok := e.login(t, "alice")
	bob, bobTok := e.login(t, "bob")
	_, carolTok := e.login(t, "carol")
	e.befriend(t, alice, bob)

	e.createPost(t, bobTok, map[string]interface{}{"content": "bob friends", "privacy": "friends"})
	e.createPost(t, bobTok, map[string]interface{}{"content": "bob private", "privacy": "private"})
	e.createPost(t, carolTok, map[string]interface{}{"content": "carol friends", "privacy": "friends"})
	e.createPost(t, carolTok, map[string]interface{}{"content": "carol public"})

	var page postPage
	decode(t, e.do(http.MethodGet, "/posts", nil, aliceTok), http.StatusOK, &page)
	var contents []string
	for _, p := range page.Posts {
		contents = append(contents, p.Content)
	}
	assert.ElementsMatch(t, []string{"bob friends", "carol public"}, contents)

	decode(t, e.do(http.MethodGet, fmt.Sprintf("/posts/user/%d", bob.ID), nil, bobTok), http.StatusOK, &page)
	assert.EqualValues(t, 2, page.Total)
}

func TestGetPost_CountsViews(t *testing.T) {
	e := newPostEnv(t)
	_, aliceTok := e.login(t, "alice")
	_, bobTok := e.login(t, "bob")
	p := e.createPost(t, aliceTok, map[string]interface{}{"content": "hi"})
	hidden := e.createPost(t, aliceTok, map[string]interface{}{"content": "secret", "privacy": "private"})

	var got postJSON
	decode(t, e.do(http.MethodGet, fmt.Sprintf("/posts/%d", p.ID), nil, bobTok), http.StatusOK, &got)
	decode(t, e.do(http.MethodGet, fmt.Sprintf("/posts/%d", p.ID), nil, bobTok), http.StatusOK, &got)
	assert.EqualValues(t, 2, got.Views)

	env := failure(t, e.do(http.MethodGet, fmt.Sprintf("/posts/%d", hidden.ID), nil, bobTok), http.StatusNotFound)
	assert.Equal(t, "Post not found", env.Message)
	env = failure(t, e.do(http.MethodGet, "/posts/zero", nil, bobTok), http.StatusBadRequest)
	assert.Equal(t, "Invalid postId", env.Message)
}

func TestUpdateAndDeletePost(t *testing.T) {
	e := newPostEnv(t)
	_, aliceTok := e.login(t, "alice")
	_, bobTok := e.login(t, "bob")
	p := e.createPost(t, aliceTok, map[string]interface{}{"content": "draft"})
	path := fmt.Sprintf("/posts/%d", p.ID)

	env := failure(t, e.do(http.MethodPut, path, map[string]string{"content": "hijack"}, bobTok), http.StatusNotFound)
	assert.Equal(t, "Post not found or unauthorized", env.Message)

	var got postJSON
	decode(t, e.do(http.MethodPut, path, map[string]string{"content": "final"}, aliceTok), http.StatusOK, &got)
	assert.Equal(t, "final", got.Content)
	assert.True(t, got.IsEdited)

	requireCode(t, e.do(http.MethodDelete, path, nil, bobTok), http.StatusNotFound)

	var out map[string]string
	decode(t, e.do(http.MethodDelete, path, nil, aliceTok), http.StatusOK, &out)
	assert.Equal(t, "Post deleted successfully", out["message"])
	requireCode(t, e.do(http.MethodGet, path, nil, aliceTok), http.StatusNotFound)
}

func TestLikeUnlike(t *testing.T) {
	e := newPostEnv(t)
	alice, aliceTok := e.login(t, "alice")
	_, bobTok := e.login(t, "bob")
	p := e.createPost(t, aliceTok, map[string]interface{}{"content": "like me"})
	like := fmt.Sprintf("/posts/%d/like", p.ID)

	var got postJSON
	decode(t, e.do(http.MethodPost, like, nil, bobTok), http.StatusOK, &got)
	decode(t, e.do(http.MethodPost, like, nil, bobTok), http.StatusOK, &got)
	assert.EqualValues(t, 1, got.LikeCount)
	assert.True(t, got.LikedByMe)

	// Liking your own post does not notify.
	decode(t, e.do(http.MethodPost, like, nil, aliceTok), http.StatusOK, &got)
	assert.EqualValues(t, 2, got.LikeCount)

	var n int64
	require.NoError(t, e.db.Model(&model.Notification{}).Where("recipient_id = ? AND type = ?", alice.ID, model.NotifyLike).Count(&n).Error)
	assert.EqualValues(t, 1, n)

	decode(t, e.do(http.MethodPost, fmt.Sprintf("/posts/%d/unlike", p.ID), nil, bobTok), http.StatusOK, &got)
	assert.EqualValues(t, 1, got.LikeCount)
	assert.False(t, got.LikedByMe)
}

func TestComments(t *testing.T) {
	e := newPostEnv(t)
	_, aliceTok := e.login(t, "alice")
	_, bobTok := e.login(t, "bob")
	p := e.createPost(t, aliceTok, map[string]interface{}{"content": "discuss"})
	path := fmt.Sprintf("/comments/%d", p.ID)

	var c struct {
		ID       int64  `json:"id"`
		Content  string `json:"content"`
		ParentID *int64 `json:"parentId"`
	}
	decode(t, e.do(http.MethodPost, path, map[string]string{"content": "first"}, bobTok), http.StatusCreated, &c)
	assert.Equal(t, "first", c.Content)
	parent := c.ID

	decode(t, e.do(http.MethodPost, path, map[string]interface{}{"content": "reply", "parentId": parent}, aliceTok), http.StatusCreated, &c)
	require.NotNil(t, c.ParentID)
	assert.Equal(t, parent, *c.ParentID)

	env := failure(t, e.do(http.MethodPost, path, map[string]string{"content": ""}, bobTok), http.StatusBadRequest)
	assert.Equal(t, "fail", env.Status)

	var page struct {
		Comments []struct {
			ID int64 `json:"id"`
		} `json:"comments"`
		Total int64 `json:"total"`
	}
	decode(t, e.do(http.MethodGet, path, nil, bobTok), http.StatusOK, &page)
	assert.EqualValues(t, 2, page.Total)

	env = failure(t, e.do(http.MethodPut, fmt.Sprintf("/comments/%d", parent), map[string]string{"content": "edit"}, aliceTok), http.StatusNotFound)
	assert.Equal(t, "Comment not found or unauthorized", env.Message)
	decode(t, e.do(http.MethodPut, fmt.Sprintf("/comments/%d", parent), map[string]string{"content": "edited"}, bobTok), http.StatusOK, &c)
	assert.Equal(t, "edited", c.Content)

	var out map[string]string
	decode(t, e.do(http.MethodDelete, fmt.Sprintf("/comments/%d", parent), nil, bobTok), http.StatusOK, &out)
	assert.Equal(t, "Comment deleted successfully", out["message"])
	decode(t, e.do(http.MethodGet, path, nil, bobTok), http.StatusOK, &page)
	assert.Zero(t, page.Total)
}
