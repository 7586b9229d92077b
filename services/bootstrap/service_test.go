package bootstrap

import (
	"context"
	"testing"

	"flowmarket/pkg/access"
	"flowmarket/pkg/config"
	"flowmarket/services/review"
	"flowmarket/services/testutil"
	"flowmarket/services/user"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestRun(t *testing.T) {
	gdb := testutil.NewTestDB(t)
	cfg := &config.Config{}
	cfg.Database.AutoMigrate = true
	cfg.Bootstrap.AdminID = "root"
	cfg.Bootstrap.AdminEmail = "Root@Example.com"

	svc := NewService(ServiceParams{DB: gdb, Config: cfg, Users: user.NewService(user.ServiceParams{DB: gdb})})
	ctx := context.Background()

	require.NoError(t, svc.Run(ctx))
	require.True(t, gdb.Migrator().HasTable(&review.Review{}))
	require.True(t, gdb.Migrator().HasIndex(&review.Review{}, "idx_reviews_workflow_user"))

	var u user.User
	require.NoError(t, gdb.Where("id = ?", "root").Take(&u).Error)
	require.True(t, access.IsAdmin(u.AccessRoles()))
	require.Equal(t, "root@example.com", u.EmailAddress())

	// idempotent across restarts
	require.NoError(t, svc.Run(ctx))
	var n int64
	require.NoError(t, gdb.Model(&user.User{}).Count(&n).Error)
	require.EqualValues(t, 1, n)
}

func TestRunWithoutAdmin(t *testing.T) {
	gdb := testutil.NewTestDB(t)
	cfg := &config.Config{}
	cfg.Database.AutoMigrate = true

	svc := NewService(ServiceParams{DB: gdb, Config: cfg, Users: user.NewService(user.ServiceParams{DB: gdb})})
	require.NoError(t, svc.Run(context.Background()))
	require.True(t, gdb.Migrator().HasTable(&user.User{}))
}
