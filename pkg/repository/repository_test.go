package repository

import (
	"context"
	"testing"
	"time"

	"flowmarket/pkg/db"
	"flowmarket/pkg/db/option"
	"flowmarket/services/testutil"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type item struct {
	ID        string `gorm:"primaryKey"`
	Name      string `gorm:"uniqueIndex"`
	Kind      string
	Qty       int
	CreatedAt time.Time
}

func TestStoreCRUD(t *testing.T) {
	conn := testutil.NewTestDB(t, &item{})
	repo := ProvideStore[item](conn)
	ctx := context.Background()

	base := time.Now().UTC()
	require.NoError(t, repo.Create(ctx, &item{ID: "1", Name: "a", Kind: "g", Qty: 1, CreatedAt: base}))
	require.NoError(t, repo.BatchCreate(ctx, []*item{
		{ID: "2", Name: "b", Kind: "g", Qty: 5, CreatedAt: base.Add(time.Second)},
		{ID: "3", Name: "c", Kind: "h", Qty: 9, CreatedAt: base.Add(2 * time.Second)},
	}))

	found, err := repo.FindOne(ctx, &item{Name: "b"})
	require.NoError(t, err)
	require.Equal(t, "2", found.ID)

	missing, err := repo.FindOne(ctx, &item{Name: "zzz"})
	require.NoError(t, err)
	require.Nil(t, missing)

	list, err := repo.Find(ctx, &item{Kind: "g"}, option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"}))
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "2", list[0].ID)

	gt, err := repo.Count(ctx, &item{}, option.ApplyOperator(option.Condition{Field: "qty", Operator: option.GT, Value: 4}))
	require.NoError(t, err)
	require.Equal(t, int64(2), gt)

	require.NoError(t, repo.Update(ctx, "1", map[string]any{"qty": 7}))
	require.ErrorIs(t, repo.Update(ctx, "404", map[string]any{"qty": 7}), gorm.ErrRecordNotFound)

	require.NoError(t, repo.Delete(ctx, "3"))
	total, err := repo.Count(ctx, &item{})
	require.NoError(t, err)
	require.Equal(t, int64(2), total)
}

func TestStoreDuplicateAndTransaction(t *testing.T) {
	conn := testutil.NewTestDB(t, &item{})
	repo := ProvideStore[item](conn)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &item{ID: "1", Name: "a"}))
	err := repo.Create(ctx, &item{ID: "2", Name: "a"})
	require.True(t, db.IsUniqueViolation(err))

	err = conn.Transaction(func(tx *gorm.DB) error {
		if err := repo.WithTrx(tx).Create(ctx, &item{ID: "3", Name: "c"}); err != nil {
			return err
		}
		return gorm.ErrInvalidData
	})
	require.ErrorIs(t, err, gorm.ErrInvalidData)

	rolledBack, err := repo.FindOne(ctx, &item{ID: "3"})
	require.NoError(t, err)
	require.Nil(t, rolledBack)
}
