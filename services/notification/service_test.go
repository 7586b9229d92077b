package notification

import (
	"context"
	"errors"
	"testing"

	"flowmarket/pkg/config"
	"flowmarket/pkg/taskname"
	"flowmarket/services/purchase"
	"flowmarket/services/testutil"
	"flowmarket/services/user"
	"flowmarket/services/workflow"

	"github.com/hibiken/asynq"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeMailer struct {
	sent []Message
	err  error
}

func (f *fakeMailer) Send(_ context.Context, msg Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func newTestService(t *testing.T) (*Service, *fakeMailer) {
	t.Helper()
	gdb := testutil.NewTestDB(t, &user.User{}, &workflow.Workflow{}, &purchase.Purchase{})

	email := "buyer@example.com"
	require.NoError(t, gdb.Create(&user.User{ID: "buyer", Email: &email, Name: "Ada", Roles: pq.StringArray{"BUYER"}}).Error)
	require.NoError(t, gdb.Create(&user.User{ID: "silent", Roles: pq.StringArray{"BUYER"}}).Error)
	require.NoError(t, gdb.Create(&workflow.Workflow{
		ID: "wf-1", OwnerID: "seller", Title: "Lead Router", Slug: "lead-router-wf-1",
		Price: decimal.RequireFromString("29.99"), Status: workflow.StatusApproved,
		FileKey: "k", FileName: "flow.json",
	}).Error)
	for _, p := range []purchase.Purchase{
		{ID: "p-done", WorkflowID: "wf-1", BuyerID: "buyer", Amount: decimal.RequireFromString("29.99"), Currency: "usd", Status: purchase.StatusCompleted, ExternalSessionID: "cs_1"},
		{ID: "p-pending", WorkflowID: "wf-1", BuyerID: "buyer", Amount: decimal.RequireFromString("29.99"), Status: purchase.StatusPending, ExternalSessionID: "cs_2"},
		{ID: "p-silent", WorkflowID: "wf-1", BuyerID: "silent", Amount: decimal.RequireFromString("29.99"), Status: purchase.StatusCompleted, ExternalSessionID: "cs_3"},
	} {
		require.NoError(t, gdb.Create(&p).Error)
	}

	mailer := &fakeMailer{}
	return NewService(ServiceParams{DB: gdb, Config: &config.Config{PublicURL: "https://market.example"}, Mailer: mailer}), mailer
}

func confirmationTask(t *testing.T, purchaseID string) *asynq.Task {
	t.Helper()
	task, err := purchase.NewConfirmationTask(purchaseID)
	require.NoError(t, err)
	require.Equal(t, taskname.PurchaseConfirmation, task.Type())
	return task
}

func TestHandleConfirmationTask(t *testing.T) {
	svc, mailer := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.HandleConfirmationTask(ctx, confirmationTask(t, "p-done")))
	require.Len(t, mailer.sent, 1)
	msg := mailer.sent[0]
	require.Equal(t, "buyer@example.com", msg.To)
	require.Equal(t, "Your purchase of Lead Router", msg.Subject)
	require.Contains(t, msg.Text, "Hi Ada")
	require.Contains(t, msg.Text, "29.99 USD")
	require.Contains(t, msg.Text, "https://market.example/workflows/wf-1")

	// nothing to send
	require.NoError(t, svc.HandleConfirmationTask(ctx, confirmationTask(t, "p-pending")))
	require.NoError(t, svc.HandleConfirmationTask(ctx, confirmationTask(t, "p-silent")))
	require.Len(t, mailer.sent, 1)
}

func TestHandleConfirmationTaskErrors(t *testing.T) {
	svc, mailer := newTestService(t)
	ctx := context.Background()

	err := svc.HandleConfirmationTask(ctx, asynq.NewTask(taskname.PurchaseConfirmation, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = svc.HandleConfirmationTask(ctx, confirmationTask(t, "missing"))
	require.ErrorIs(t, err, asynq.SkipRetry)

	mailer.err = errors.New("mail api down")
	err = svc.HandleConfirmationTask(ctx, confirmationTask(t, "p-done"))
	require.Error(t, err)
	require.NotErrorIs(t, err, asynq.SkipRetry)
}
