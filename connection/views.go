package connection

import (
	"context"
	"time"

	"github.com/connectsphere/server/apperr"
	"github.com/connectsphere/server/metrics"
	"github.com/connectsphere/server/model"
	"github.com/connectsphere/server/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// View is a connection with both participants projected.
type View struct {
	ID        int64                  `json:"id"`
	Requester model.UserSummary      `json:"requester"`
	Recipient model.UserSummary      `json:"recipient"`
	Status    model.ConnectionStatus `json:"status"`
	BlockedBy *int64                 `json:"blockedBy"`
	CreatedAt time.Time              `json:"createdAt"`
	UpdatedAt time.Time              `json:"updatedAt"`
}

// FriendsPage is one page of a user's accepted connections.
type FriendsPage struct {
	Friends     []model.UserSummary `json:"friends"`
	Total       int64               `json:"total"`
	CurrentPage int                 `json:"currentPage"`
	TotalPages  int                 `json:"totalPages"`
}

// PendingPage is one page of requests awaiting a user's answer.
type PendingPage struct {
	PendingRequests []View `json:"pendingRequests"`
	Total           int64  `json:"total"`
	CurrentPage     int    `json:"currentPage"`
	TotalPages      int    `json:"totalPages"`
}

func summaryOf(m map[int64]model.UserSummary, id int64) model.UserSummary {
	if s, ok := m[id]; ok {
		return s
	}
	return model.UserSummary{ID: id}
}

// Describe projects the participants of each connection.
func (s *Service) Describe(ctx context.Context, conns ...*model.Connection) ([]View, error) {
	ids := make([]int64, 0, 2*len(conns))
	for _, c := range conns {
		ids = append(ids, c.RequesterID, c.RecipientID)
	}
	people, err := s.dir.Summaries(ctx, ids)
	if err != nil {
		return nil, apperr.Wrap(err, "load users")
	}
	views := make([]View, len(conns))
	for i, c := range conns {
		views[i] = View{
			ID:        c.ID,
			Requester: summaryOf(people, c.RequesterID),
			Recipient: summaryOf(people, c.RecipientID),
			Status:    c.Status,
			BlockedBy: c.BlockedBy,
			CreatedAt: c.CreatedAt,
			UpdatedAt: c.UpdatedAt,
		}
	}
	return views, nil
}

// DescribeOne is Describe for a single connection.
func (s *Service) DescribeOne(ctx context.Context, c *model.Connection) (*View, error) {
	views, err := s.Describe(ctx, c)
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// Friends lists the users userID has an accepted connection with, in the
// order the connections were created.
func (s *Service) Friends(ctx context.Context, userID int64, p model.Page) (_ *FriendsPage, err error) {
	ctx, span := telemetry.StartSpan(ctx, "connection.Friends", attribute.Int64("user", userID))
	defer func() { telemetry.End(span, err) }()

	p = p.Normalize()
	rows, total, err := s.store.ListAccepted(ctx, userID, p.Offset(), p.Limit)
	if err != nil {
		return nil, apperr.Wrap(err, "list friends")
	}
	ids := make([]int64, len(rows))
	for i := range rows {
		ids[i] = rows[i].Counterpart(userID)
	}
	people, err := s.dir.Summaries(ctx, ids)
	if err != nil {
		return nil, apperr.Wrap(err, "load users")
	}
	friends := make([]model.UserSummary, len(ids))
	for i, id := range ids {
		friends[i] = summaryOf(people, id)
	}
	return &FriendsPage{
		Friends:     friends,
		Total:       total,
		CurrentPage: p.Page,
		TotalPages:  p.TotalPages(total),
	}, nil
}

// Pending lists requests addressed to userID that are still pending, newest first.
func (s *Service) Pending(ctx context.Context, userID int64, p model.Page) (_ *PendingPage, err error) {
	ctx, span := telemetry.StartSpan(ctx, "connection.Pending", attribute.Int64("user", userID))
	defer func() { telemetry.End(span, err) }()

	p = p.Normalize()
	rows, total, err := s.store.ListPending(ctx, userID, p.Offset(), p.Limit)
	if err != nil {
		return nil, apperr.Wrap(err, "list pending")
	}
	conns := make([]*model.Connection, len(rows))
	for i := range rows {
		conns[i] = &rows[i]
	}
	views, err := s.Describe(ctx, conns...)
	if err != nil {
		return nil, err
	}
	return &PendingPage{
		PendingRequests: views,
		Total:           total,
		CurrentPage:     p.Page,
		TotalPages:      p.TotalPages(total),
	}, nil
}

// Status returns the connection between a and b, or nil if there is none.
func (s *Service) Status(ctx context.Context, a, b int64) (*model.Connection, error) {
	c, err := s.store.Between(ctx, a, b)
	if err != nil {
		return nil, apperr.Wrap(err, "lookup connection")
	}
	return c, nil
}

// FriendIDs returns every user with an accepted connection to userID.
func (s *Service) FriendIDs(ctx context.Context, userID int64) ([]int64, error) {
	ids, err := s.store.Counterparts(ctx, userID, model.ConnectionAccepted)
	if err != nil {
		return nil, apperr.Wrap(err, "list friend ids")
	}
	return ids, nil
}

// BlockedIDs returns every user in a blocked connection with userID,
// regardless of who placed the block.
func (s *Service) BlockedIDs(ctx context.Context, userID int64) ([]int64, error) {
	ids, err := s.store.Counterparts(ctx, userID, model.ConnectionBlocked)
	if err != nil {
		return nil, apperr.Wrap(err, "list blocked ids")
	}
	return ids, nil
}

// CountByStatus reports how many connections are in each state.
func (s *Service) CountByStatus(ctx context.Context) (map[model.ConnectionStatus]int64, error) {
	return s.store.CountByStatus(ctx)
}

// RefreshGauges publishes the per-status connection counts.
func (s *Service) RefreshGauges(ctx context.Context) error {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return err
	}
	for _, st := range []model.ConnectionStatus{
		model.ConnectionPending, model.ConnectionAccepted, model.ConnectionRejected, model.ConnectionBlocked,
	} {
		metrics.Connections.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
	return nil
}
