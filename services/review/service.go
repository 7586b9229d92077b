package review

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"flowmarket/pkg/access"
	"flowmarket/pkg/db"
	"flowmarket/pkg/db/option"
	"flowmarket/pkg/db/pagination"
	"flowmarket/pkg/errutil"
	"flowmarket/pkg/logger"
	"flowmarket/pkg/repository"
	"flowmarket/services/purchase"

	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

var (
	errPurchaseRequired = errors.New("review: completed purchase required")
	errAlreadyReviewed  = errors.New("review: already reviewed")
)

type Service struct {
	db    *gorm.DB
	node  *snowflake.Node
	cache summaryCache
	group singleflight.Group
	repo  repository.Repository[Review]
}

type ServiceParams struct {
	fx.In
	DB    *gorm.DB
	Node  *snowflake.Node
	Redis *redis.Client `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:    p.DB,
		node:  p.Node,
		cache: summaryCache{rdb: p.Redis},
		repo:  repository.ProvideStore[Review](p.DB),
	}
}

func ratingError() error {
	return errutil.ValidationFailed("invalid review", nil, errutil.WithField("rating", "must be between 1 and 5"))
}

// Create records the caller's review. Only buyers with a completed purchase
// may review, once per workflow; the unique index settles concurrent tries.
func (s *Service) Create(ctx context.Context, caller *access.Principal, workflowID string, req CreateRequest) (*Review, error) {
	zapLog := logger.FromContext(ctx).With(zap.String("workflow_id", workflowID), zap.String("user_id", caller.UserID))

	if !validRating(req.Rating) {
		return nil, ratingError()
	}

	r := &Review{
		ID:         s.node.Generate().String(),
		WorkflowID: workflowID,
		UserID:     caller.UserID,
		Rating:     req.Rating,
		Comment:    strings.TrimSpace(req.Comment),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owned int64
		err := tx.Model(&purchase.Purchase{}).
			Where("workflow_id = ? AND buyer_id = ? AND status = ?", workflowID, caller.UserID, purchase.StatusCompleted).
			Count(&owned).Error
		if err != nil {
			return err
		}
		if owned == 0 {
			return errPurchaseRequired
		}

		existing, err := s.repo.WithTrx(tx).Count(ctx, &Review{WorkflowID: workflowID, UserID: caller.UserID})
		if err != nil {
			return err
		}
		if existing > 0 {
			return errAlreadyReviewed
		}

		return s.repo.WithTrx(tx).Create(ctx, r)
	})
	switch {
	case errors.Is(err, errPurchaseRequired):
		return nil, errutil.Forbidden("purchase required", err)
	case errors.Is(err, errAlreadyReviewed), db.IsUniqueViolation(err):
		return nil, errutil.Conflict("already reviewed", err)
	case err != nil:
		zapLog.Error("failed to create review", zap.Error(err))
		return nil, errutil.Internal("failed to create review", err)
	}

	s.invalidate(ctx, workflowID)
	zapLog.Info("review created", zap.String("review_id", r.ID), zap.Int("rating", r.Rating))
	return r, nil
}

func (s *Service) load(ctx context.Context, id string) (*Review, error) {
	r, err := s.repo.FindOne(ctx, &Review{ID: id})
	if err != nil {
		logger.FromContext(ctx).Error("failed query get review by id", zap.String("review_id", id), zap.Error(err))
		return nil, errutil.Internal("failed to load review", err)
	}
	if r == nil {
		return nil, errutil.NotFound("review not found", nil)
	}
	return r, nil
}

func (s *Service) Update(ctx context.Context, caller *access.Principal, id string, req UpdateRequest) (*Review, error) {
	r, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.CanModify(r.UserID) {
		return nil, errutil.Forbidden("only the author or an admin can edit this review", nil)
	}

	changes := map[string]any{}
	if req.Rating != nil {
		if !validRating(*req.Rating) {
			return nil, ratingError()
		}
		changes["rating"] = *req.Rating
	}
	if req.Comment != nil {
		changes["comment"] = strings.TrimSpace(*req.Comment)
	}
	if len(changes) == 0 {
		return r, nil
	}

	if err := s.repo.Update(ctx, r.ID, changes); err != nil {
		if db.IsNotFound(err) {
			return nil, errutil.NotFound("review not found", nil)
		}
		logger.FromContext(ctx).Error("failed to update review", zap.String("review_id", id), zap.Error(err))
		return nil, errutil.Internal("failed to update review", err)
	}

	s.invalidate(ctx, r.WorkflowID)
	return s.load(ctx, id)
}

func (s *Service) Delete(ctx context.Context, caller *access.Principal, id string) error {
	r, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !caller.CanModify(r.UserID) {
		return errutil.Forbidden("only the author or an admin can delete this review", nil)
	}

	if err := s.repo.Delete(ctx, r.ID); err != nil {
		if db.IsNotFound(err) {
			return errutil.NotFound("review not found", nil)
		}
		logger.FromContext(ctx).Error("failed to delete review", zap.String("review_id", id), zap.Error(err))
		return errutil.Internal("failed to delete review", err)
	}

	s.invalidate(ctx, r.WorkflowID)
	return nil
}

// List returns a page of a workflow's reviews, newest first, and the
// workflow's rating summary.
func (s *Service) List(ctx context.Context, workflowID string, page pagination.Pagination) ([]*Review, *pagination.PageInfo, *Summary, error) {
	items, err := s.repo.Find(ctx, &Review{WorkflowID: workflowID}, option.ApplyPagination(page))
	if err != nil {
		logger.FromContext(ctx).Error("failed to list reviews", zap.String("workflow_id", workflowID), zap.Error(err))
		return nil, nil, nil, errutil.Internal("failed to list reviews", err)
	}
	items, info, err := pagination.BuildCursorPage(items, page.Size(), func(r *Review) pagination.Cursor {
		return pagination.Cursor{CreatedAt: r.CreatedAt, ID: r.ID}
	})
	if err != nil {
		return nil, nil, nil, errutil.Internal("failed to build page", err)
	}

	summary, err := s.Summary(ctx, workflowID)
	if err != nil {
		return nil, nil, nil, err
	}
	return items, info, summary, nil
}

// Summary serves the rating summary from redis, recomputing it from the
// database on a miss or when redis is unavailable. Concurrent misses for the
// same workflow share one query, which outlives any single caller's context.
func (s *Service) Summary(ctx context.Context, workflowID string) (*Summary, error) {
	zapLog := logger.FromContext(ctx).With(zap.String("workflow_id", workflowID))

	version, err := s.cache.version(ctx, workflowID)
	cacheable := err == nil
	if err != nil {
		zapLog.Warn("rating cache unavailable", zap.Error(err))
	} else {
		cached, err := s.cache.get(ctx, workflowID, version)
		if err == nil {
			summaryCacheHits.Inc()
			return cached, nil
		}
		if !errors.Is(err, errCacheMiss) {
			zapLog.Warn("rating cache unavailable", zap.Error(err))
		}
	}
	summaryCacheMiss.Inc()

	flightKey := fmt.Sprintf("%s:%d", workflowID, version)
	v, err, _ := s.group.Do(flightKey, func() (any, error) {
		fctx := context.WithoutCancel(ctx)

		var ratings []int
		if err := s.db.WithContext(fctx).Model(&Review{}).Where("workflow_id = ?", workflowID).Pluck("rating", &ratings).Error; err != nil {
			return nil, err
		}

		summary := &Summary{Count: len(ratings), Average: AverageRating(ratings)}
		if cacheable {
			if err := s.cache.set(fctx, workflowID, version, summary); err != nil {
				zapLog.Warn("failed to cache rating summary", zap.Error(err))
			}
		}
		return summary, nil
	})
	if err != nil {
		zapLog.Error("failed to load ratings", zap.Error(err))
		return nil, errutil.Internal("failed to load ratings", err)
	}
	return v.(*Summary), nil
}

func (s *Service) invalidate(ctx context.Context, workflowID string) {
	if err := s.cache.invalidate(ctx, workflowID); err != nil {
		logger.FromContext(ctx).Warn("failed to invalidate rating summary", zap.String("workflow_id", workflowID), zap.Error(err))
	}
}
