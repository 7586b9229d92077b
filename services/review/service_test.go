package review

import (
	"context"
	"sync"
	"testing"

	"flowmarket/pkg/access"
	"flowmarket/pkg/db/pagination"
	"flowmarket/pkg/errutil"
	"flowmarket/pkg/rediskey"
	"flowmarket/services/purchase"
	"flowmarket/services/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var (
	alice    = &access.Principal{UserID: "alice", Roles: []access.Role{access.RoleBuyer}}
	bob      = &access.Principal{UserID: "bob", Roles: []access.Role{access.RoleBuyer}}
	stranger = &access.Principal{UserID: "stranger", Roles: []access.Role{access.RoleBuyer}}
	admin    = &access.Principal{UserID: "admin", Roles: []access.Role{access.RoleAdmin}}
)

func newTestService(t *testing.T, rdb *redis.Client) (*Service, *gorm.DB) {
	t.Helper()
	gdb := testutil.NewTestDB(t, &purchase.Purchase{}, &Review{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	for i, buyerID := range []string{"alice", "bob"} {
		require.NoError(t, gdb.Create(&purchase.Purchase{
			ID:                node.Generate().String(),
			WorkflowID:        "wf-1",
			BuyerID:           buyerID,
			Amount:            decimal.RequireFromString("9.99"),
			Status:            purchase.StatusCompleted,
			ExternalSessionID: "cs_" + string(rune('a'+i)),
		}).Error)
	}
	// a checkout that never completed does not count
	require.NoError(t, gdb.Create(&purchase.Purchase{
		ID:                node.Generate().String(),
		WorkflowID:        "wf-1",
		BuyerID:           "stranger",
		Amount:            decimal.RequireFromString("9.99"),
		Status:            purchase.StatusPending,
		ExternalSessionID: "cs_pending",
	}).Error)

	return NewService(ServiceParams{DB: gdb, Node: node, Redis: rdb}), gdb
}

func TestCreate(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	r, err := svc.Create(ctx, alice, "wf-1", CreateRequest{Rating: 5, Comment: "  solid  "})
	require.NoError(t, err)
	require.Equal(t, 5, r.Rating)
	require.Equal(t, "solid", r.Comment)

	_, err = svc.Create(ctx, alice, "wf-1", CreateRequest{Rating: 4})
	require.True(t, errutil.IsStatus(err, errutil.StatusConflict))

	_, err = svc.Create(ctx, stranger, "wf-1", CreateRequest{Rating: 4})
	require.True(t, errutil.IsStatus(err, errutil.StatusForbidden))

	_, err = svc.Create(ctx, bob, "wf-2", CreateRequest{Rating: 4})
	require.True(t, errutil.IsStatus(err, errutil.StatusForbidden))

	for _, rating := range []int{0, 6, -1} {
		_, err = svc.Create(ctx, bob, "wf-1", CreateRequest{Rating: rating})
		require.True(t, errutil.IsStatus(err, errutil.StatusValidationFailed), rating)
	}
}

func TestCreateConcurrentOnlyOneWins(t *testing.T) {
	svc, gdb := newTestService(t, nil)

	const attempts = 2
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	start := make(chan struct{})
	for i := range attempts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = svc.Create(context.Background(), alice, "wf-1", CreateRequest{Rating: 4})
		}(i)
	}
	close(start)
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errutil.IsStatus(err, errutil.StatusConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, conflicts)

	var n int64
	require.NoError(t, gdb.Model(&Review{}).Where("workflow_id = ? AND user_id = ?", "wf-1", "alice").Count(&n).Error)
	require.EqualValues(t, 1, n)
}

func TestUpdateAndDeletePermissions(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	r, err := svc.Create(ctx, alice, "wf-1", CreateRequest{Rating: 3})
	require.NoError(t, err)

	rating := 4
	updated, err := svc.Update(ctx, alice, r.ID, UpdateRequest{Rating: &rating})
	require.NoError(t, err)
	require.Equal(t, 4, updated.Rating)

	comment := "moderated"
	updated, err = svc.Update(ctx, admin, r.ID, UpdateRequest{Comment: &comment})
	require.NoError(t, err)
	require.Equal(t, "moderated", updated.Comment)
	require.Equal(t, 4, updated.Rating)

	_, err = svc.Update(ctx, bob, r.ID, UpdateRequest{Rating: &rating})
	require.True(t, errutil.IsStatus(err, errutil.StatusForbidden))

	bad := 9
	_, err = svc.Update(ctx, alice, r.ID, UpdateRequest{Rating: &bad})
	require.True(t, errutil.IsStatus(err, errutil.StatusValidationFailed))

	_, err = svc.Update(ctx, alice, "missing", UpdateRequest{Rating: &rating})
	require.True(t, errutil.IsStatus(err, errutil.StatusNotFound))

	require.True(t, errutil.IsStatus(svc.Delete(ctx, bob, r.ID), errutil.StatusForbidden))
	require.NoError(t, svc.Delete(ctx, alice, r.ID))
	require.True(t, errutil.IsStatus(svc.Delete(ctx, alice, r.ID), errutil.StatusNotFound))

	// the author can review again after deleting
	_, err = svc.Create(ctx, alice, "wf-1", CreateRequest{Rating: 2})
	require.NoError(t, err)
}

func TestListWithSummary(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, alice, "wf-1", CreateRequest{Rating: 5})
	require.NoError(t, err)
	_, err = svc.Create(ctx, bob, "wf-1", CreateRequest{Rating: 2})
	require.NoError(t, err)

	items, info, summary, err := svc.List(ctx, "wf-1", pagination.Pagination{Limit: 1})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.True(t, info.HasMore)
	require.Equal(t, 2, summary.Count)
	require.InDelta(t, 3.5, summary.Average, 1e-9)

	items, _, summary, err = svc.List(ctx, "wf-empty", pagination.Pagination{})
	require.NoError(t, err)
	require.Empty(t, items)
	require.Equal(t, 0, summary.Count)
	require.Zero(t, summary.Average)
}

func TestSummaryCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	svc, _ := newTestService(t, rdb)
	ctx := context.Background()

	_, err := svc.Create(ctx, alice, "wf-1", CreateRequest{Rating: 5})
	require.NoError(t, err)

	summary, err := svc.Summary(ctx, "wf-1")
	require.NoError(t, err)
	require.Equal(t, 1, summary.Count)
	key := rediskey.BuildWorkflowRatingKey("wf-1", 1)
	require.True(t, mr.Exists(key))
	require.Equal(t, summaryTTL, mr.TTL(key))

	// writes move the summary to a new version
	_, err = svc.Create(ctx, bob, "wf-1", CreateRequest{Rating: 2})
	require.NoError(t, err)
	key = rediskey.BuildWorkflowRatingKey("wf-1", 2)
	require.False(t, mr.Exists(key))

	summary, err = svc.Summary(ctx, "wf-1")
	require.NoError(t, err)
	require.Equal(t, 2, summary.Count)
	require.InDelta(t, 3.5, summary.Average, 1e-9)

	// served from redis while it is warm
	require.NoError(t, mr.Set(key, `{"count":7,"average":4.2}`))
	summary, err = svc.Summary(ctx, "wf-1")
	require.NoError(t, err)
	require.Equal(t, 7, summary.Count)

	// and from the database when redis is gone
	mr.Close()
	summary, err = svc.Summary(ctx, "wf-1")
	require.NoError(t, err)
	require.Equal(t, 2, summary.Count)
}

func TestSummaryCacheIgnoresStaleWrite(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	svc, _ := newTestService(t, rdb)
	ctx := context.Background()

	_, err := svc.Create(ctx, alice, "wf-1", CreateRequest{Rating: 5})
	require.NoError(t, err)

	// a reader computes the summary, a review lands, then the reader caches
	version, err := svc.cache.version(ctx, "wf-1")
	require.NoError(t, err)
	_, err = svc.Create(ctx, bob, "wf-1", CreateRequest{Rating: 1})
	require.NoError(t, err)
	require.NoError(t, svc.cache.set(ctx, "wf-1", version, &Summary{Count: 1, Average: 5}))

	summary, err := svc.Summary(ctx, "wf-1")
	require.NoError(t, err)
	require.Equal(t, 2, summary.Count)
	require.InDelta(t, 3.0, summary.Average, 1e-9)
}

func TestSummarySurvivesCancelledCaller(t *testing.T) {
	svc, _ := newTestService(t, nil)

	_, err := svc.Create(context.Background(), alice, "wf-1", CreateRequest{Rating: 4})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := svc.Summary(ctx, "wf-1")
	require.NoError(t, err)
	require.Equal(t, 1, summary.Count)
}
