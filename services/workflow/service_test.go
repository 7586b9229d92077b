package workflow

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"flowmarket/pkg/access"
	"flowmarket/pkg/errutil"
	"flowmarket/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: map[string][]byte{}}
}

func (f *fakeStorage) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	if f.putErr != nil {
		return f.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return nil
}

func (f *fakeStorage) Remove(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *fakeStorage) PresignedGet(_ context.Context, key, _ string, _ time.Duration) (string, error) {
	return "https://files.example/" + key + "?sig=1", nil
}

type fakePurchases map[string]bool

func (f fakePurchases) HasCompletedPurchase(_ context.Context, workflowID, userID string) (bool, error) {
	return f[workflowID+"/"+userID], nil
}

var (
	dev    = &access.Principal{UserID: "dev", Roles: []access.Role{access.RoleDeveloper, access.RoleBuyer}}
	other  = &access.Principal{UserID: "other", Roles: []access.Role{access.RoleDeveloper}}
	buyer  = &access.Principal{UserID: "buyer", Roles: []access.Role{access.RoleBuyer}}
	admin  = &access.Principal{UserID: "admin", Roles: []access.Role{access.RoleAdmin}}
	sample = `{"name":"Lead router","nodes":[{"type":"webhook"}],"connections":{}}`
)

func newTestService(t *testing.T, purchases fakePurchases) (*Service, *fakeStorage) {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	storage := newFakeStorage()
	svc := NewService(ServiceParams{
		DB:        testutil.NewTestDB(t, &Workflow{}),
		Node:      node,
		Storage:   storage,
		Purchases: purchases,
	})
	return svc, storage
}

func create(t *testing.T, svc *Service, price string) *Workflow {
	t.Helper()
	wf, err := svc.Create(context.Background(), dev, CreateInput{Title: "Lead Router", Category: "CRM", Price: price},
		Upload{Name: "lead-router.json", Size: int64(len(sample)), Reader: strings.NewReader(sample)})
	require.NoError(t, err)
	return wf
}

func TestCreate(t *testing.T) {
	svc, storage := newTestService(t, nil)

	wf := create(t, svc, "19.99")
	require.Equal(t, StatusPending, wf.Status)
	require.Equal(t, "crm", wf.Category)
	require.Equal(t, "19.99", wf.Price.String())
	require.True(t, strings.HasPrefix(wf.Slug, "lead-router-"))
	require.Equal(t, "workflows/dev/"+wf.ID+"/lead-router.json", wf.FileKey)
	require.Equal(t, sample, string(storage.objects[wf.FileKey]))
}

func TestCreateRejects(t *testing.T) {
	svc, storage := newTestService(t, nil)
	ctx := context.Background()
	upload := func(body string) Upload {
		return Upload{Name: "flow.json", Size: int64(len(body)), Reader: strings.NewReader(body)}
	}

	_, err := svc.Create(ctx, buyer, CreateInput{Title: "Nope"}, upload(sample))
	require.True(t, errutil.IsStatus(err, errutil.StatusForbidden))

	_, err = svc.Create(ctx, dev, CreateInput{Title: "Bad", Price: "-3"}, upload(sample))
	require.True(t, errutil.IsStatus(err, errutil.StatusValidationFailed))

	_, err = svc.Create(ctx, dev, CreateInput{Title: "Bad"}, upload(`{"no":"nodes"}`))
	require.True(t, errutil.IsStatus(err, errutil.StatusValidationFailed))

	_, err = svc.Create(ctx, dev, CreateInput{Title: "Big"}, Upload{Name: "flow.json", Size: MaxFileSize + 1, Reader: strings.NewReader(sample)})
	require.True(t, errutil.IsStatus(err, errutil.StatusRequestTooLarge))

	storage.putErr = errors.New("minio down")
	_, err = svc.Create(ctx, dev, CreateInput{Title: "Down"}, upload(sample))
	require.True(t, errutil.IsStatus(err, errutil.StatusBadGateway))
}

func TestVisibilityAndReview(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	wf := create(t, svc, "5")

	_, err := svc.Get(ctx, nil, wf.ID)
	require.True(t, errutil.IsStatus(err, errutil.StatusNotFound))
	_, err = svc.Get(ctx, dev, wf.ID)
	require.NoError(t, err)
	_, err = svc.Get(ctx, admin, wf.ID)
	require.NoError(t, err)

	queue, err := svc.ListQueue(ctx)
	require.NoError(t, err)
	require.Len(t, queue, 1)

	approved, err := svc.Approve(ctx, wf.ID)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, approved.Status)

	_, err = svc.Reject(ctx, wf.ID, "too late")
	require.True(t, errutil.IsStatus(err, errutil.StatusConflict))

	got, err := svc.Get(ctx, nil, wf.ID)
	require.NoError(t, err)
	require.Equal(t, wf.ID, got.ID)

	items, info, err := svc.ListPublic(ctx, ListQuery{Category: "crm", Limit: 10})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.False(t, info.HasMore)

	items, _, err = svc.ListPublic(ctx, ListQuery{Query: "router", Limit: 10})
	require.NoError(t, err)
	require.Len(t, items, 1)

	items, _, err = svc.ListPublic(ctx, ListQuery{Query: "invoice", Limit: 10})
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestRejectKeepsNote(t *testing.T) {
	svc, _ := newTestService(t, nil)
	wf := create(t, svc, "5")

	rejected, err := svc.Reject(context.Background(), wf.ID, "missing credentials notes")
	require.NoError(t, err)
	require.Equal(t, StatusRejected, rejected.Status)
	require.Equal(t, "missing credentials notes", rejected.ReviewNote)
}

func TestUpdateReentersReview(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	wf := create(t, svc, "5")
	_, err := svc.Approve(ctx, wf.ID)
	require.NoError(t, err)

	title := "Lead Router v2"
	_, err = svc.Update(ctx, other, wf.ID, UpdateRequest{Title: &title})
	require.True(t, errutil.IsStatus(err, errutil.StatusForbidden))

	updated, err := svc.Update(ctx, dev, wf.ID, UpdateRequest{Title: &title})
	require.NoError(t, err)
	require.Equal(t, title, updated.Title)
	require.Equal(t, "lead-router-v2-"+wf.ID, updated.Slug)
	require.Equal(t, StatusPending, updated.Status)

	price := "12.50"
	updated, err = svc.Update(ctx, admin, wf.ID, UpdateRequest{Price: &price})
	require.NoError(t, err)
	require.Equal(t, "12.5", updated.Price.String())
}

func TestDelete(t *testing.T) {
	svc, storage := newTestService(t, nil)
	ctx := context.Background()
	wf := create(t, svc, "5")

	require.True(t, errutil.IsStatus(svc.Delete(ctx, other, wf.ID), errutil.StatusForbidden))
	require.NoError(t, svc.Delete(ctx, admin, wf.ID))
	require.Empty(t, storage.objects)

	require.True(t, errutil.IsStatus(svc.Delete(ctx, dev, wf.ID), errutil.StatusNotFound))
	_, err := svc.Get(ctx, admin, wf.ID)
	require.True(t, errutil.IsStatus(err, errutil.StatusNotFound))

	// the row stays behind for purchases that settle after deletion
	var kept Workflow
	require.NoError(t, svc.db.Unscoped().Where("id = ?", wf.ID).Take(&kept).Error)
	require.True(t, kept.DeletedAt.Valid)
	require.NoError(t, IncrementDownloads(svc.db, wf.ID))
}

func TestDownload(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	paid := create(t, svc, "9.99")
	free := create(t, svc, "0")

	_, err := svc.Download(ctx, buyer, paid.ID)
	require.True(t, errutil.IsStatus(err, errutil.StatusNotFound))

	link, err := svc.Download(ctx, dev, paid.ID)
	require.NoError(t, err)
	require.Contains(t, link.URL, paid.FileKey)

	_, err = svc.Approve(ctx, paid.ID)
	require.NoError(t, err)
	_, err = svc.Approve(ctx, free.ID)
	require.NoError(t, err)

	_, err = svc.Download(ctx, buyer, paid.ID)
	require.True(t, errutil.IsStatus(err, errutil.StatusForbidden))

	svc.purchases = fakePurchases{paid.ID + "/buyer": true}
	_, err = svc.Download(ctx, buyer, paid.ID)
	require.NoError(t, err)

	_, err = svc.Download(ctx, buyer, free.ID)
	require.NoError(t, err)
	_, err = svc.Download(ctx, dev, free.ID)
	require.NoError(t, err)

	got, err := svc.load(ctx, free.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), got.Downloads)

	got, err = svc.load(ctx, paid.ID)
	require.NoError(t, err)
	require.Equal(t, int64(0), got.Downloads)
}

func TestIncrementDownloadsConcurrent(t *testing.T) {
	svc, _ := newTestService(t, nil)
	wf := create(t, svc, "0")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, IncrementDownloads(svc.db, wf.ID))
		}()
	}
	wg.Wait()

	got, err := svc.load(context.Background(), wf.ID)
	require.NoError(t, err)
	require.Equal(t, int64(10), got.Downloads)

	require.Error(t, IncrementDownloads(svc.db, "missing"))
}
