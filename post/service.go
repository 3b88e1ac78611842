// Package post implements posts, likes and comments with privacy-aware
// visibility derived from the connection graph.
package post

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/connectsphere/server/apperr"
	"github.com/connectsphere/server/metrics"
	mw "github.com/connectsphere/server/middleware"
	"github.com/connectsphere/server/model"
	"github.com/connectsphere/server/moderation"
	"github.com/connectsphere/server/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Notification texts sent to post and comment authors.
const (
	LikedMessage     = "liked your post"
	CommentedMessage = "commented on your post"
)

// Relations answers connection-graph questions for visibility checks.
type Relations interface {
	FriendIDs(ctx context.Context, userID int64) ([]int64, error)
	BlockedIDs(ctx context.Context, userID int64) ([]int64, error)
}

// Directory projects author summaries.
type Directory interface {
	Summaries(ctx context.Context, ids []int64) (map[int64]model.UserSummary, error)
}

// Notifier appends a notification synchronously.
type Notifier interface {
	Emit(ctx context.Context, n *model.Notification) error
}

// Service owns posts, likes and comments.
type Service struct {
	db        *gorm.DB
	relations Relations
	dir       Directory
	notifier  Notifier
	mod       *moderation.Chain
	logger    *zap.Logger
}

func NewService(db *gorm.DB, relations Relations, dir Directory, notifier Notifier, logger *zap.Logger) *Service {
	return &Service{db: db, relations: relations, dir: dir, notifier: notifier, logger: logger}
}

// SetModeration makes posts and comments pass through ch before they are
// stored. A nil chain disables review.
func (s *Service) SetModeration(ch *moderation.Chain) {
	s.mod = ch
}

// review runs text through the moderation chain and returns the text to store.
func (s *Service) review(ctx context.Context, ev moderation.Event, author int64, text string) (string, error) {
	if s.mod == nil {
		return text, nil
	}
	c, err := s.mod.Run(ctx, ev, moderation.Content{AuthorID: author, Text: text})
	if errors.Is(err, moderation.ErrRejected) {
		metrics.ContentRejected.WithLabelValues(string(ev)).Inc()
		s.logger.Info("content rejected",
			zap.Int64("author", author),
			zap.String("event", string(ev)),
			zap.String("trace_id", mw.TraceIDFromContext(ctx)),
			zap.Error(err))
		return "", apperr.Validationf("Content violates community guidelines")
	}
	if err != nil {
		return "", apperr.Wrap(err, "review content")
	}
	text = strings.TrimSpace(c.Text)
	if text == "" {
		return "", apperr.Validationf("Content violates community guidelines")
	}
	return text, nil
}

// CreateInput carries the fields of a new post.
type CreateInput struct {
	Content  string
	Images   []string
	Tags     []string
	Privacy  model.PostPrivacy
	Location string
}

// UpdateInput carries a post edit. Nil fields are left unchanged.
type UpdateInput struct {
	Content  string
	Images   []string
	Tags     []string
	Privacy  *model.PostPrivacy
	Location *string
}

// View is a post with its author and engagement projected for one viewer.
type View struct {
	ID           int64             `json:"id"`
	Author       model.UserSummary `json:"author"`
	Content      string            `json:"content"`
	Images       []string          `json:"images"`
	Tags         []string          `json:"tags"`
	Privacy      model.PostPrivacy `json:"privacy"`
	Location     string            `json:"location"`
	Views        int64             `json:"views"`
	IsEdited     bool              `json:"isEdited"`
	EditHistory  []model.Edit      `json:"editHistory"`
	LikeCount    int64             `json:"likeCount"`
	LikedByMe    bool              `json:"likedByMe"`
	CommentCount int64             `json:"commentCount"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

// Page is one page of posts.
type Page struct {
	Posts       []View `json:"posts"`
	Total       int64  `json:"total"`
	CurrentPage int    `json:"currentPage"`
	TotalPages  int    `json:"totalPages"`
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(t, "#")))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// audience is the set of authors whose posts a viewer may see.
type audience struct {
	viewer  int64
	friends []int64
	blocked []int64
}

func (s *Service) audienceOf(ctx context.Context, viewer int64) (*audience, error) {
	friends, err := s.relations.FriendIDs(ctx, viewer)
	if err != nil {
		return nil, err
	}
	blocked, err := s.relations.BlockedIDs(ctx, viewer)
	if err != nil {
		return nil, err
	}
	return &audience{viewer: viewer, friends: friends, blocked: blocked}, nil
}

func (a *audience) scope(db *gorm.DB) *gorm.DB {
	vis := db.Session(&gorm.Session{NewDB: true}).
		Where("privacy = ?", model.PrivacyPublic).
		Or("author_id = ?", a.viewer)
	if len(a.friends) > 0 {
		vis = vis.Or("privacy = ? AND author_id IN ?", model.PrivacyFriends, a.friends)
	}
	db = db.Where(vis)
	if len(a.blocked) > 0 {
		db = db.Where("author_id NOT IN ?", a.blocked)
	}
	return db
}

func (a *audience) canSee(p *model.Post) bool {
	if p.AuthorID == a.viewer {
		return true
	}
	for _, id := range a.blocked {
		if id == p.AuthorID {
			return false
		}
	}
	switch p.Privacy {
	case model.PrivacyPublic:
		return true
	case model.PrivacyFriends:
		for _, id := range a.friends {
			if id == p.AuthorID {
				return true
			}
		}
	}
	return false
}

// visible loads a post the viewer is allowed to see.
func (s *Service) visible(ctx context.Context, viewer, postID int64) (*model.Post, error) {
	var p model.Post
	err := s.db.WithContext(ctx).First(&p, postID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFoundf("Post not found")
	}
	if err != nil {
		return nil, apperr.Wrap(err, "load post")
	}
	aud, err := s.audienceOf(ctx, viewer)
	if err != nil {
		return nil, apperr.Wrap(err, "load audience")
	}
	if !aud.canSee(&p) {
		return nil, apperr.NotFoundf("Post not found")
	}
	return &p, nil
}

// authored loads a post owned by author.
func (s *Service) authored(ctx context.Context, author, postID int64) (*model.Post, error) {
	var p model.Post
	err := s.db.WithContext(ctx).Where("id = ? AND author_id = ?", postID, author).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFoundf("Post not found or unauthorized")
	}
	if err != nil {
		return nil, apperr.Wrap(err, "load post")
	}
	return &p, nil
}

type countRow struct {
	PostID int64
	N      int64
}

func (s *Service) counts(ctx context.Context, table string, ids []int64) (map[int64]int64, error) {
	var rows []countRow
	if err := s.db.WithContext(ctx).Table(table).
		Select("post_id, COUNT(*) AS n").
		Where("post_id IN ?", ids).
		Group("post_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[int64]int64, len(rows))
	for _, r := range rows {
		out[r.PostID] = r.N
	}
	return out, nil
}

func (s *Service) project(ctx context.Context, viewer int64, posts []model.Post) ([]View, error) {
	views := make([]View, len(posts))
	if len(posts) == 0 {
		return views, nil
	}
	ids := make([]int64, len(posts))
	authors := make([]int64, len(posts))
	for i := range posts {
		ids[i] = posts[i].ID
		authors[i] = posts[i].AuthorID
	}
	summaries, err := s.dir.Summaries(ctx, authors)
	if err != nil {
		return nil, err
	}
	likes, err := s.counts(ctx, "post_likes", ids)
	if err != nil {
		return nil, err
	}
	comments, err := s.counts(ctx, "comments", ids)
	if err != nil {
		return nil, err
	}
	var mine []int64
	if err := s.db.WithContext(ctx).Model(&model.PostLike{}).
		Where("user_id = ? AND post_id IN ?", viewer, ids).
		Pluck("post_id", &mine).Error; err != nil {
		return nil, err
	}
	liked := make(map[int64]bool, len(mine))
	for _, id := range mine {
		liked[id] = true
	}

	for i, p := range posts {
		author, ok := summaries[p.AuthorID]
		if !ok {
			author = model.UserSummary{ID: p.AuthorID}
		}
		history := []model.Edit(p.EditHistory)
		if history == nil {
			history = []model.Edit{}
		}
		views[i] = View{
			ID:           p.ID,
			Author:       author,
			Content:      p.Content,
			Images:       nonNil(p.Images),
			Tags:         nonNil(p.Tags),
			Privacy:      p.Privacy,
			Location:     p.Location,
			Views:        p.Views,
			IsEdited:     p.IsEdited,
			EditHistory:  history,
			LikeCount:    likes[p.ID],
			LikedByMe:    liked[p.ID],
			CommentCount: comments[p.ID],
			CreatedAt:    p.CreatedAt,
			UpdatedAt:    p.UpdatedAt,
		}
	}
	return views, nil
}

func (s *Service) projectOne(ctx context.Context, viewer int64, p *model.Post) (*View, error) {
	views, err := s.project(ctx, viewer, []model.Post{*p})
	if err != nil {
		return nil, apperr.Wrap(err, "project post")
	}
	return &views[0], nil
}

// Create publishes a new post by author.
func (s *Service) Create(ctx context.Context, author int64, in CreateInput) (_ *View, err error) {
	ctx, span := telemetry.StartSpan(ctx, "post.Create", attribute.Int64("author", author))
	defer func() { telemetry.End(span, err) }()

	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, apperr.Validationf("Post content is required")
	}
	if content, err = s.review(ctx, moderation.BeforePost, author, content); err != nil {
		return nil, err
	}
	privacy := in.Privacy
	if privacy == "" {
		privacy = model.PrivacyPublic
	}
	if !privacy.Valid() {
		return nil, apperr.Validationf("Invalid privacy setting")
	}
	p := &model.Post{
		AuthorID:    author,
		Content:     content,
		Images:      nonNil(in.Images),
		Tags:        cleanTags(in.Tags),
		EditHistory: []model.Edit{},
		Privacy:     privacy,
		Location:    strings.TrimSpace(in.Location),
	}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, apperr.Wrap(err, "create post")
	}
	return s.projectOne(ctx, author, p)
}

func (s *Service) list(ctx context.Context, viewer int64, pg model.Page, extra func(*gorm.DB) *gorm.DB) (*Page, error) {
	pg = pg.Normalize()
	aud, err := s.audienceOf(ctx, viewer)
	if err != nil {
		return nil, apperr.Wrap(err, "load audience")
	}
	query := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&model.Post{}).Scopes(aud.scope, extra)
	}
	var total int64
	if err := query().Count(&total).Error; err != nil {
		return nil, apperr.Wrap(err, "count posts")
	}
	var rows []model.Post
	if err := query().Order("created_at DESC, id DESC").
		Offset(pg.Offset()).Limit(pg.Limit).
		Find(&rows).Error; err != nil {
		return nil, apperr.Wrap(err, "list posts")
	}
	views, err := s.project(ctx, viewer, rows)
	if err != nil {
		return nil, apperr.Wrap(err, "project posts")
	}
	return &Page{Posts: views, Total: total, CurrentPage: pg.Page, TotalPages: pg.TotalPages(total)}, nil
}

// Feed returns every post visible to viewer, newest first.
func (s *Service) Feed(ctx context.Context, viewer int64, pg model.Page) (_ *Page, err error) {
	ctx, span := telemetry.StartSpan(ctx, "post.Feed", attribute.Int64("viewer", viewer))
	defer func() { telemetry.End(span, err) }()
	return s.list(ctx, viewer, pg, func(db *gorm.DB) *gorm.DB { return db })
}

// UserPosts returns the posts of author visible to viewer, newest first.
func (s *Service) UserPosts(ctx context.Context, viewer, author int64, pg model.Page) (*Page, error) {
	return s.list(ctx, viewer, pg, func(db *gorm.DB) *gorm.DB {
		return db.Where("author_id = ?", author)
	})
}

// Get returns one post and counts the view.
func (s *Service) Get(ctx context.Context, viewer, postID int64) (*View, error) {
	p, err := s.visible(ctx, viewer, postID)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(p).
		UpdateColumn("views", gorm.Expr("views + ?", 1)).Error; err != nil {
		return nil, apperr.Wrap(err, "count view")
	}
	p.Views++
	return s.projectOne(ctx, viewer, p)
}

// Update edits a post owned by author, keeping the previous content in
// the edit history.
func (s *Service) Update(ctx context.Context, author, postID int64, in UpdateInput) (*View, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, apperr.Validationf("Post content is required")
	}
	if in.Privacy != nil && !in.Privacy.Valid() {
		return nil, apperr.Validationf("Invalid privacy setting")
	}
	p, err := s.authored(ctx, author, postID)
	if err != nil {
		return nil, err
	}
	if content, err = s.review(ctx, moderation.BeforePost, author, content); err != nil {
		return nil, err
	}
	if content != p.Content {
		p.EditHistory = append(p.EditHistory, model.Edit{Content: p.Content, EditedAt: time.Now()})
		p.Content = content
		p.IsEdited = true
	}
	if in.Images != nil {
		p.Images = in.Images
	}
	if in.Tags != nil {
		p.Tags = cleanTags(in.Tags)
	}
	if in.Privacy != nil {
		p.Privacy = *in.Privacy
	}
	if in.Location != nil {
		p.Location = strings.TrimSpace(*in.Location)
	}
	if err := s.db.WithContext(ctx).Save(p).Error; err != nil {
		return nil, apperr.Wrap(err, "update post")
	}
	return s.projectOne(ctx, author, p)
}

// Delete removes a post owned by author together with its likes and comments.
func (s *Service) Delete(ctx context.Context, author, postID int64) error {
	p, err := s.authored(ctx, author, postID)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("post_id = ?", p.ID).Delete(&model.PostLike{}).Error; err != nil {
			return err
		}
		if err := tx.Where("post_id = ?", p.ID).Delete(&model.Comment{}).Error; err != nil {
			return err
		}
		return tx.Delete(p).Error
	})
	if err != nil {
		return apperr.Wrap(err, "delete post")
	}
	return nil
}

// Like records user's like on a visible post. Liking twice is a no-op; only
// the first like notifies the author.
func (s *Service) Like(ctx context.Context, userID, postID int64) (*View, error) {
	p, err := s.visible(ctx, userID, postID)
	if err != nil {
		return nil, err
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.PostLike{PostID: p.ID, UserID: userID})
	if res.Error != nil {
		return nil, apperr.Wrap(res.Error, "like post")
	}
	if res.RowsAffected == 1 && p.AuthorID != userID {
		postRef := p.ID
		n := &model.Notification{
			RecipientID: p.AuthorID,
			SenderID:    userID,
			Type:        model.NotifyLike,
			PostID:      &postRef,
			Message:     LikedMessage,
			Link:        fmt.Sprintf("/posts/%d", p.ID),
		}
		if err := s.notifier.Emit(ctx, n); err != nil {
			s.logger.Warn("like notification failed", zap.Int64("post_id", p.ID), zap.Error(err))
		}
	}
	return s.projectOne(ctx, userID, p)
}

// Unlike removes user's like. Unliking a post that was not liked is a no-op.
func (s *Service) Unlike(ctx context.Context, userID, postID int64) (*View, error) {
	p, err := s.visible(ctx, userID, postID)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).
		Where("post_id = ? AND user_id = ?", p.ID, userID).
		Delete(&model.PostLike{}).Error; err != nil {
		return nil, apperr.Wrap(err, "unlike post")
	}
	return s.projectOne(ctx, userID, p)
}
