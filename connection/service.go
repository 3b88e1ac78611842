// Package connection implements the friend connection state machine and
// the friends / pending views derived from it.
//
// States: pending -> accepted | rejected; any state -> blocked by either
// participant; blocked -> rejected when the blocker unblocks. There is one
// record per unordered user pair and records are never deleted.
package connection

import (
	"context"
	"errors"
	"fmt"

	"github.com/connectsphere/server/apperr"
	"github.com/connectsphere/server/metrics"
	"github.com/connectsphere/server/model"
	"github.com/connectsphere/server/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Action is a recipient's answer to a pending request.
type Action string

const (
	ActionAccept Action = "accept"
	ActionReject Action = "reject"
)

// AcceptedMessage is the notification text sent to a requester on acceptance.
const AcceptedMessage = "accepted your friend request"

// Directory resolves users for existence checks and projection.
type Directory interface {
	Get(ctx context.Context, id int64) (*model.User, error)
	Summaries(ctx context.Context, ids []int64) (map[int64]model.UserSummary, error)
}

// Notifier appends a notification synchronously.
type Notifier interface {
	Emit(ctx context.Context, n *model.Notification) error
}

// Service runs connection transitions. Every operation takes the acting
// user explicitly.
type Service struct {
	store    Store
	dir      Directory
	notifier Notifier
	logger   *zap.Logger
}

func NewService(store Store, dir Directory, notifier Notifier, logger *zap.Logger) *Service {
	return &Service{store: store, dir: dir, notifier: notifier, logger: logger}
}

func transitioned(action string) {
	metrics.ConnectionTransitions.WithLabelValues(action).Inc()
}

// SendRequest creates a pending connection from requester to recipient.
func (s *Service) SendRequest(ctx context.Context, requester, recipient int64) (_ *model.Connection, err error) {
	ctx, span := telemetry.StartSpan(ctx, "connection.SendRequest",
		attribute.Int64("requester", requester), attribute.Int64("recipient", recipient))
	defer func() { telemetry.End(span, err) }()

	if requester == recipient {
		return nil, apperr.Validationf("You cannot send a friend request to yourself")
	}
	u, err := s.dir.Get(ctx, recipient)
	if err != nil {
		return nil, apperr.Wrap(err, "lookup recipient")
	}
	if u == nil {
		return nil, apperr.NotFoundf("User not found")
	}

	existing, err := s.store.Between(ctx, requester, recipient)
	if err != nil {
		return nil, apperr.Wrap(err, "lookup connection")
	}
	if existing != nil {
		return nil, apperr.Conflictf("A connection already exists with this user")
	}

	c := model.NewConnection(requester, recipient, model.ConnectionPending)
	if err := s.store.Create(ctx, c); err != nil {
		if errors.Is(err, ErrDuplicatePair) {
			return nil, apperr.Conflictf("A connection already exists with this user")
		}
		return nil, apperr.Wrap(err, "create connection")
	}
	transitioned("request")
	return c, nil
}

// Respond lets the recipient of a pending request accept or reject it.
// Accepting notifies the requester before returning.
func (s *Service) Respond(ctx context.Context, id, responder int64, action Action) (_ *model.Connection, err error) {
	ctx, span := telemetry.StartSpan(ctx, "connection.Respond",
		attribute.Int64("connection", id), attribute.Int64("responder", responder),
		attribute.String("action", string(action)))
	defer func() { telemetry.End(span, err) }()

	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, apperr.Wrap(err, "lookup connection")
	}
	if c == nil {
		return nil, apperr.NotFoundf("Friend request not found")
	}
	if c.RecipientID != responder {
		return nil, apperr.Forbiddenf("You are not authorized to respond to this friend request")
	}
	if c.Status != model.ConnectionPending {
		return nil, apperr.Conflictf("This friend request has already been handled")
	}

	switch action {
	case ActionAccept:
		c.Status = model.ConnectionAccepted
	case ActionReject:
		c.Status = model.ConnectionRejected
	default:
		return nil, apperr.Validationf(`Invalid action. Must be either "accept" or "reject"`)
	}
	if err := s.store.Save(ctx, c); err != nil {
		return nil, apperr.Wrap(err, "save connection")
	}
	transitioned(string(action))

	if action == ActionAccept {
		if err := s.notifyAccepted(ctx, c); err != nil {
			s.logger.Error("accept notification failed",
				zap.Int64("connection_id", c.ID), zap.Int64("requester", c.RequesterID), zap.Error(err))
			return nil, apperr.Wrap(err, "notify requester")
		}
	}
	return c, nil
}

func (s *Service) notifyAccepted(ctx context.Context, c *model.Connection) error {
	recipient, err := s.dir.Get(ctx, c.RecipientID)
	if err != nil {
		return err
	}
	username := ""
	if recipient != nil {
		username = recipient.Username
	}
	return s.notifier.Emit(ctx, &model.Notification{
		RecipientID: c.RequesterID,
		SenderID:    c.RecipientID,
		Type:        model.NotifyFriendRequest,
		Message:     AcceptedMessage,
		Link:        fmt.Sprintf("/profile/%s", username),
	})
}

// Block puts the pair into blocked with actor as blocker, whatever the
// prior state. A missing record is created directly in blocked.
func (s *Service) Block(ctx context.Context, actor, other int64) (_ *model.Connection, err error) {
	ctx, span := telemetry.StartSpan(ctx, "connection.Block",
		attribute.Int64("actor", actor), attribute.Int64("other", other))
	defer func() { telemetry.End(span, err) }()

	if actor == other {
		return nil, apperr.Validationf("You cannot block yourself")
	}
	u, err := s.dir.Get(ctx, other)
	if err != nil {
		return nil, apperr.Wrap(err, "lookup user")
	}
	if u == nil {
		return nil, apperr.NotFoundf("User not found")
	}

	c, err := s.store.Between(ctx, actor, other)
	if err != nil {
		return nil, apperr.Wrap(err, "lookup connection")
	}
	if c == nil {
		c = model.NewConnection(actor, other, model.ConnectionBlocked)
		c.BlockedBy = &actor
		err = s.store.Create(ctx, c)
		if err == nil {
			transitioned("block")
			return c, nil
		}
		if !errors.Is(err, ErrDuplicatePair) {
			return nil, apperr.Wrap(err, "create connection")
		}
		// A concurrent request created the pair; block it instead.
		if c, err = s.store.Between(ctx, actor, other); err != nil || c == nil {
			return nil, apperr.Wrap(err, "reload connection")
		}
	}

	c.Status = model.ConnectionBlocked
	c.BlockedBy = &actor
	if err := s.store.Save(ctx, c); err != nil {
		return nil, apperr.Wrap(err, "save connection")
	}
	transitioned("block")
	return c, nil
}

// Unblock lifts a block placed by actor. The pair moves to rejected.
func (s *Service) Unblock(ctx context.Context, actor, other int64) (_ *model.Connection, err error) {
	ctx, span := telemetry.StartSpan(ctx, "connection.Unblock",
		attribute.Int64("actor", actor), attribute.Int64("other", other))
	defer func() { telemetry.End(span, err) }()

	c, err := s.store.Between(ctx, actor, other)
	if err != nil {
		return nil, apperr.Wrap(err, "lookup connection")
	}
	if c == nil || c.Status != model.ConnectionBlocked || c.BlockedBy == nil || *c.BlockedBy != actor {
		return nil, apperr.NotFoundf("No blocking relationship found with this user")
	}

	c.Status = model.ConnectionRejected
	c.BlockedBy = nil
	if err := s.store.Save(ctx, c); err != nil {
		return nil, apperr.Wrap(err, "save connection")
	}
	transitioned("unblock")
	return c, nil
}
