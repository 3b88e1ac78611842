package post

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/connectsphere/server/apperr"
	"github.com/connectsphere/server/model"
	"github.com/connectsphere/server/moderation"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CommentView is a comment with its author projected.
type CommentView struct {
	ID          int64             `json:"id"`
	PostID      int64             `json:"postId"`
	ParentID    *int64            `json:"parentId"`
	Author      model.UserSummary `json:"author"`
	Content     string            `json:"content"`
	IsEdited    bool              `json:"isEdited"`
	EditHistory []model.Edit      `json:"editHistory"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// CommentPage is one page of a post's comments.
type CommentPage struct {
	Comments    []CommentView `json:"comments"`
	Total       int64         `json:"total"`
	CurrentPage int           `json:"currentPage"`
	TotalPages  int           `json:"totalPages"`
}

func (s *Service) projectComments(ctx context.Context, rows []model.Comment) ([]CommentView, error) {
	ids := make([]int64, len(rows))
	for i := range rows {
		ids[i] = rows[i].AuthorID
	}
	summaries, err := s.dir.Summaries(ctx, ids)
	if err != nil {
		return nil, apperr.Wrap(err, "load comment authors")
	}
	views := make([]CommentView, len(rows))
	for i, c := range rows {
		author, ok := summaries[c.AuthorID]
		if !ok {
			author = model.UserSummary{ID: c.AuthorID}
		}
		history := []model.Edit(c.EditHistory)
		if history == nil {
			history = []model.Edit{}
		}
		views[i] = CommentView{
			ID:          c.ID,
			PostID:      c.PostID,
			ParentID:    c.ParentID,
			Author:      author,
			Content:     c.Content,
			IsEdited:    c.IsEdited,
			EditHistory: history,
			CreatedAt:   c.CreatedAt,
			UpdatedAt:   c.UpdatedAt,
		}
	}
	return views, nil
}

func (s *Service) projectComment(ctx context.Context, c *model.Comment) (*CommentView, error) {
	views, err := s.projectComments(ctx, []model.Comment{*c})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// AddComment comments on a post visible to author. parentID, when set,
// must name a comment on the same post.
func (s *Service) AddComment(ctx context.Context, author, postID int64, content string, parentID *int64) (*CommentView, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperr.Validationf("Comment content is required")
	}
	p, err := s.visible(ctx, author, postID)
	if err != nil {
		return nil, err
	}
	if content, err = s.review(ctx, moderation.BeforeComment, author, content); err != nil {
		return nil, err
	}
	if parentID != nil {
		var parent model.Comment
		err := s.db.WithContext(ctx).Where("id = ? AND post_id = ?", *parentID, p.ID).First(&parent).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Validationf("Parent comment not found on this post")
		}
		if err != nil {
			return nil, apperr.Wrap(err, "load parent comment")
		}
	}
	c := &model.Comment{
		PostID:      p.ID,
		AuthorID:    author,
		ParentID:    parentID,
		Content:     content,
		EditHistory: []model.Edit{},
	}
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, apperr.Wrap(err, "create comment")
	}
	if p.AuthorID != author {
		postRef, commentRef := p.ID, c.ID
		n := &model.Notification{
			RecipientID: p.AuthorID,
			SenderID:    author,
			Type:        model.NotifyComment,
			PostID:      &postRef,
			CommentID:   &commentRef,
			Message:     CommentedMessage,
			Link:        fmt.Sprintf("/posts/%d", p.ID),
		}
		if err := s.notifier.Emit(ctx, n); err != nil {
			s.logger.Warn("comment notification failed", zap.Int64("comment_id", c.ID), zap.Error(err))
		}
	}
	return s.projectComment(ctx, c)
}

// Comments lists the comments of a post visible to viewer, newest first.
func (s *Service) Comments(ctx context.Context, viewer, postID int64, pg model.Page) (*CommentPage, error) {
	pg = pg.Normalize()
	p, err := s.visible(ctx, viewer, postID)
	if err != nil {
		return nil, err
	}
	var total int64
	if err := s.db.WithContext(ctx).Model(&model.Comment{}).
		Where("post_id = ?", p.ID).Count(&total).Error; err != nil {
		return nil, apperr.Wrap(err, "count comments")
	}
	var rows []model.Comment
	if err := s.db.WithContext(ctx).
		Where("post_id = ?", p.ID).
		Order("created_at DESC, id DESC").
		Offset(pg.Offset()).Limit(pg.Limit).
		Find(&rows).Error; err != nil {
		return nil, apperr.Wrap(err, "list comments")
	}
	views, err := s.projectComments(ctx, rows)
	if err != nil {
		return nil, err
	}
	return &CommentPage{Comments: views, Total: total, CurrentPage: pg.Page, TotalPages: pg.TotalPages(total)}, nil
}

func (s *Service) ownComment(ctx context.Context, author, commentID int64) (*model.Comment, error) {
	var c model.Comment
	err := s.db.WithContext(ctx).Where("id = ? AND author_id = ?", commentID, author).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFoundf("Comment not found or unauthorized")
	}
	if err != nil {
		return nil, apperr.Wrap(err, "load comment")
	}
	return &c, nil
}

// UpdateComment edits a comment owned by author.
func (s *Service) UpdateComment(ctx context.Context, author, commentID int64, content string) (*CommentView, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperr.Validationf("Comment content is required")
	}
	c, err := s.ownComment(ctx, author, commentID)
	if err != nil {
		return nil, err
	}
	if content, err = s.review(ctx, moderation.BeforeComment, author, content); err != nil {
		return nil, err
	}
	if content != c.Content {
		c.EditHistory = append(c.EditHistory, model.Edit{Content: c.Content, EditedAt: time.Now()})
		c.Content = content
		c.IsEdited = true
		if err := s.db.WithContext(ctx).Save(c).Error; err != nil {
			return nil, apperr.Wrap(err, "update comment")
		}
	}
	return s.projectComment(ctx, c)
}

// DeleteComment removes a comment owned by author and its direct replies.
func (s *Service) DeleteComment(ctx context.Context, author, commentID int64) error {
	c, err := s.ownComment(ctx, author, commentID)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("parent_id = ?", c.ID).Delete(&model.Comment{}).Error; err != nil {
			return err
		}
		return tx.Delete(c).Error
	})
	if err != nil {
		return apperr.Wrap(err, "delete comment")
	}
	return nil
}
