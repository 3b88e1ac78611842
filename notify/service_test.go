package notify_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/connectsphere/server/apperr"
	"github.com/connectsphere/server/cache"
	"github.com/connectsphere/server/model"
	"github.com/connectsphere/server/notify"
	"github.com/connectsphere/server/testutil"
	"github.com/connectsphere/server/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db    *gorm.DB
	cache cache.Cache
	ps    cache.PubSub
	svc   *notify.Service
	alice *model.User
	bob   *model.User
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)
	return &fixture{
		db:    db,
		cache: c,
		ps:    ps,
		svc:   notify.NewService(db, c, ps, users.NewDirectory(db), time.Minute, zap.NewNop()),
		alice: testutil.CreateUser(t, db, "alice"),
		bob:   testutil.CreateUser(t, db, "bob"),
	}
}

func (f *fixture) emit(t *testing.T, to, from *model.User, msg string) *model.Notification {
	t.Helper()
	n := &model.Notification{
		RecipientID: to.ID,
		SenderID:    from.ID,
		Type:        model.NotifyFriendRequest,
		Message:     msg,
		Link:        "/profile/" + from.Username,
	}
	require.NoError(t, f.svc.Emit(context.Background(), n))
	return n
}

func TestEmit_VisibleImmediately(t *testing.T) {
	f := setup(t)
	f.emit(t, f.alice, f.bob, "accepted your friend request")

	page, err := f.svc.List(context.Background(), f.alice.ID, model.Page{})
	require.NoError(t, err)
	require.Len(t, page.Notifications, 1)
	n := page.Notifications[0]
	assert.Equal(t, "bob", n.Sender.Username)
	assert.Equal(t, "/profile/bob", n.Link)
	assert.False(t, n.Read)
	assert.Equal(t, int64(1), page.UnreadCount)
	assert.Equal(t, int64(1), page.Total)
}

func TestEmit_NoDeduplication(t *testing.T) {
	f := setup(t)
	f.emit(t, f.alice, f.bob, "same")
	f.emit(t, f.alice, f.bob, "same")

	page, err := f.svc.List(context.Background(), f.alice.ID, model.Page{})
	require.NoError(t, err)
	assert.Len(t, page.Notifications, 2)
}

func TestEmit_Validation(t *testing.T) {
	f := setup(t)
	err := f.svc.Emit(context.Background(), &model.Notification{
		RecipientID: f.alice.ID,
		Type:        "poke",
	})
	require.Error(t, err)
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "sender")
	assert.Contains(t, err.Error(), "type")
	assert.Contains(t, err.Error(), "link")

	var n int64
	f.db.Model(&model.Notification{}).Count(&n)
	assert.Zero(t, n)
}

func TestEmit_PublishesToRecipientChannel(t *testing.T) {
	f := setup(t)
	ch, cancel, err := f.ps.Subscribe(context.Background(), notify.Channel(f.alice.ID))
	require.NoError(t, err)
	defer cancel()

	sent := f.emit(t, f.alice, f.bob, "hello")

	select {
	case msg := <-ch:
		var v notify.View
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &v))
		assert.Equal(t, sent.ID, v.ID)
		assert.Equal(t, "bob", v.Sender.Username)
	case <-time.After(time.Second):
		t.Fatal("no live notification")
	}
}

func TestUnreadCount_CacheInvalidatedOnWrite(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	n, err := f.svc.UnreadCount(ctx, f.alice.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.emit(t, f.alice, f.bob, "one")
	n, _ = f.svc.UnreadCount(ctx, f.alice.ID)
	assert.Equal(t, int64(1), n)

	// A write that bypasses the service is not seen until the entry expires.
	require.NoError(t, f.db.Create(&model.Notification{
		RecipientID: f.alice.ID, SenderID: f.bob.ID, Type: model.NotifyLike, Message: "m", Link: "/l",
	}).Error)
	n, _ = f.svc.UnreadCount(ctx, f.alice.ID)
	assert.Equal(t, int64(1), n)

	_, err = f.svc.MarkAllRead(ctx, f.alice.ID)
	require.NoError(t, err)
	n, _ = f.svc.UnreadCount(ctx, f.alice.ID)
	assert.Zero(t, n)
}

// interleavingCache runs beforeSet once, just before the first unread count
// is written, as if another request changed the inbox mid-read.
type interleavingCache struct {
	cache.Cache
	beforeSet func()
}

func (c *interleavingCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if c.beforeSet != nil && strings.HasPrefix(key, "notify:unread:") {
		fn := c.beforeSet
		c.beforeSet = nil
		fn()
	}
	return c.Cache.Set(ctx, key, value, ttl)
}

func TestUnreadCount_InvalidationDuringReadIsNotOverwritten(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	ic := &interleavingCache{Cache: f.cache}
	svc := notify.NewService(f.db, ic, f.ps, users.NewDirectory(f.db), time.Minute, zap.NewNop())
	ic.beforeSet = func() {
		require.NoError(t, svc.Emit(ctx, &model.Notification{
			RecipientID: f.alice.ID, SenderID: f.bob.ID, Type: model.NotifyLike, Message: "m", Link: "/l",
		}))
	}

	n, err := svc.UnreadCount(ctx, f.alice.ID)
	require.NoError(t, err)
	assert.Zero(t, n, "counted before the concurrent emit")

	n, err = svc.UnreadCount(ctx, f.alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMarkRead(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	sent := f.emit(t, f.alice, f.bob, "hi")

	_, err := f.svc.MarkRead(ctx, sent.ID, f.bob.ID)
	assert.Equal(t, apperr.Forbidden, apperr.KindOf(err))

	_, err = f.svc.MarkRead(ctx, 9999, f.alice.ID)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))

	v, err := f.svc.MarkRead(ctx, sent.ID, f.alice.ID)
	require.NoError(t, err)
	assert.True(t, v.Read)

	n, _ := f.svc.UnreadCount(ctx, f.alice.ID)
	assert.Zero(t, n)
}

func TestMarkAllRead_OnlyCallersNotifications(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.emit(t, f.alice, f.bob, "1")
	f.emit(t, f.alice, f.bob, "2")
	f.emit(t, f.bob, f.alice, "3")

	changed, err := f.svc.MarkAllRead(ctx, f.alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), changed)

	n, _ := f.svc.UnreadCount(ctx, f.bob.ID)
	assert.Equal(t, int64(1), n)
}

func TestDelete(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	sent := f.emit(t, f.alice, f.bob, "bye")

	err := f.svc.Delete(ctx, sent.ID, f.bob.ID)
	assert.Equal(t, apperr.Forbidden, apperr.KindOf(err))

	require.NoError(t, f.svc.Delete(ctx, sent.ID, f.alice.ID))
	err = f.svc.Delete(ctx, sent.ID, f.alice.ID)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))

	n, _ := f.svc.UnreadCount(ctx, f.alice.ID)
	assert.Zero(t, n)
}

func TestList_PaginationNewestFirst(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	for _, msg := range []string{"first", "second", "third"} {
		f.emit(t, f.alice, f.bob, msg)
	}

	page, err := f.svc.List(ctx, f.alice.ID, model.Page{Page: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Notifications, 2)
	assert.Equal(t, "third", page.Notifications[0].Message)
	assert.Equal(t, 2, page.TotalPages)

	page, err = f.svc.List(ctx, f.alice.ID, model.Page{Page: 2, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Notifications, 1)
	assert.Equal(t, "first", page.Notifications[0].Message)
}

func TestPrune_RemovesOnlyOldReadNotifications(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)

	for _, read := range []bool{true, false} {
		n := &model.Notification{
			RecipientID: f.alice.ID, SenderID: f.bob.ID, Type: model.NotifyLike,
			Message: "old", Link: "/l", CreatedAt: old,
		}
		require.NoError(t, f.db.Create(n).Error)
		require.NoError(t, f.db.Model(n).Update("is_read", read).Error)
	}
	fresh := f.emit(t, f.alice, f.bob, "fresh")
	_, err := f.svc.MarkRead(ctx, fresh.ID, f.alice.ID)
	require.NoError(t, err)

	removed, err := f.svc.Prune(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	var left int64
	f.db.Model(&model.Notification{}).Count(&left)
	assert.Equal(t, int64(2), left)
}

func TestPruneExpired_SkipsWhileLocked(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	n := &model.Notification{
		RecipientID: f.alice.ID, SenderID: f.bob.ID, Type: model.NotifyLike,
		Message: "old", Link: "/l", CreatedAt: time.Now().Add(-48 * time.Hour),
	}
	require.NoError(t, f.db.Create(n).Error)
	require.NoError(t, f.db.Model(n).Update("is_read", true).Error)

	require.NoError(t, f.cache.Set(ctx, "lock:notification_prune", "other", time.Minute))
	require.NoError(t, f.svc.PruneExpired(ctx, 24*time.Hour))
	var left int64
	f.db.Model(&model.Notification{}).Count(&left)
	assert.Equal(t, int64(1), left, "another instance holds the lock")

	require.NoError(t, f.cache.Del(ctx, "lock:notification_prune"))
	require.NoError(t, f.svc.PruneExpired(ctx, 24*time.Hour))
	f.db.Model(&model.Notification{}).Count(&left)
	assert.Zero(t, left)

	ok, err := f.cache.Exists(ctx, "lock:notification_prune")
	require.NoError(t, err)
	assert.False(t, ok, "lock is released after the run")
}
