package workflow

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"flowmarket/pkg/access"
	"flowmarket/pkg/db"
	"flowmarket/pkg/db/option"
	"flowmarket/pkg/db/pagination"
	"flowmarket/pkg/errutil"
	"flowmarket/pkg/logger"
	"flowmarket/pkg/minio"
	"flowmarket/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const downloadURLTTL = 15 * time.Minute

// PurchaseChecker answers whether a buyer owns a completed purchase.
type PurchaseChecker interface {
	HasCompletedPurchase(ctx context.Context, workflowID, userID string) (bool, error)
}

type Service struct {
	db        *gorm.DB
	node      *snowflake.Node
	storage   minio.Storage
	purchases PurchaseChecker
	repo      repository.Repository[Workflow]
}

type ServiceParams struct {
	fx.In
	DB        *gorm.DB
	Node      *snowflake.Node
	Storage   minio.Storage
	Purchases PurchaseChecker
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:        p.DB,
		node:      p.Node,
		storage:   p.Storage,
		purchases: p.Purchases,
		repo:      repository.ProvideStore[Workflow](p.DB),
	}
}

type CreateInput struct {
	Title       string `form:"title" binding:"required,min=3,max=120"`
	Description string `form:"description" binding:"max=5000"`
	Category    string `form:"category" binding:"max=50"`
	Price       string `form:"price"`
}

// Upload is the workflow definition file attached to a create request.
type Upload struct {
	Name   string
	Size   int64
	Reader io.Reader
}

// Create stores the definition file and records the workflow as PENDING
// until an admin approves it.
func (s *Service) Create(ctx context.Context, caller *access.Principal, in CreateInput, file Upload) (*Workflow, error) {
	zapLog := logger.FromContext(ctx).With(zap.String("owner_id", caller.UserID))

	if !access.HasAnyRole(caller.Roles, []access.Role{access.RoleDeveloper, access.RoleAdmin}) {
		return nil, errutil.Forbidden("developer role required", nil)
	}

	price, err := ParsePrice(in.Price)
	if err != nil {
		return nil, errutil.ValidationFailed("invalid workflow", err, errutil.WithField("price", err.Error()))
	}

	if file.Size > MaxFileSize {
		return nil, errutil.RequestTooLarge("workflow file too large", errFileTooLarge, errutil.WithField("file", errFileTooLarge.Error()))
	}
	data, err := io.ReadAll(io.LimitReader(file.Reader, MaxFileSize+1))
	if err != nil {
		return nil, errutil.BadRequest("failed to read workflow file", err)
	}
	if err := ValidateDefinition(file.Name, data); err != nil {
		return nil, errutil.ValidationFailed("invalid workflow file", err, errutil.WithField("file", err.Error()))
	}

	id := s.node.Generate().String()
	wf := &Workflow{
		ID:          id,
		OwnerID:     caller.UserID,
		Title:       strings.TrimSpace(in.Title),
		Slug:        buildSlug(in.Title, id),
		Description: in.Description,
		Category:    strings.ToLower(strings.TrimSpace(in.Category)),
		Price:       price,
		Status:      StatusPending,
		FileKey:     objectKey(caller.UserID, id, file.Name),
		FileName:    file.Name,
		FileSize:    int64(len(data)),
	}

	if err := s.storage.Put(ctx, wf.FileKey, bytes.NewReader(data), wf.FileSize, "application/json"); err != nil {
		zapLog.Error("failed to store workflow file", zap.String("key", wf.FileKey), zap.Error(err))
		return nil, errutil.BadGateway("file storage unavailable", err)
	}

	if err := s.repo.Create(ctx, wf); err != nil {
		zapLog.Error("failed to create workflow", zap.Error(err))
		if rmErr := s.storage.Remove(ctx, wf.FileKey); rmErr != nil {
			zapLog.Warn("failed to remove orphaned workflow file", zap.String("key", wf.FileKey), zap.Error(rmErr))
		}
		return nil, errutil.Internal("failed to create workflow", err)
	}

	zapLog.Info("workflow submitted", zap.String("workflow_id", id))
	return wf, nil
}

func buildSlug(title, id string) string {
	return fmt.Sprintf("%s-%s", slug.Make(title), id)
}

func (s *Service) load(ctx context.Context, id string) (*Workflow, error) {
	wf, err := s.repo.FindOne(ctx, &Workflow{ID: id})
	if err != nil {
		logger.FromContext(ctx).Error("failed query get workflow by id", zap.String("workflow_id", id), zap.Error(err))
		return nil, errutil.Internal("failed to load workflow", err)
	}
	if wf == nil {
		return nil, errutil.NotFound("workflow not found", nil)
	}
	return wf, nil
}

// Get returns approved workflows to anyone. Others are visible to their
// owner and admins only, and look missing to everybody else.
func (s *Service) Get(ctx context.Context, caller *access.Principal, id string) (*Workflow, error) {
	wf, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !wf.IsApproved() && !caller.CanModify(wf.OwnerID) {
		return nil, errutil.NotFound("workflow not found", nil)
	}
	return wf, nil
}

func (s *Service) ListPublic(ctx context.Context, q ListQuery) ([]*Workflow, *pagination.PageInfo, error) {
	page := pagination.Pagination{Cursor: q.Cursor, Limit: q.Limit}
	opts := []option.QueryOption{option.ApplyPagination(page)}
	if c := strings.ToLower(strings.TrimSpace(q.Category)); c != "" {
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "category", Operator: option.EQ, Value: c}))
	}
	if term := strings.TrimSpace(q.Query); term != "" {
		like := "%" + strings.ToLower(term) + "%"
		opts = append(opts, option.Where("(LOWER(title) LIKE ? OR LOWER(description) LIKE ?)", like, like))
	}

	items, err := s.repo.Find(ctx, &Workflow{Status: StatusApproved}, opts...)
	if err != nil {
		logger.FromContext(ctx).Error("failed to list workflows", zap.Error(err))
		return nil, nil, errutil.Internal("failed to list workflows", err)
	}

	return pagination.BuildCursorPage(items, page.Size(), func(w *Workflow) pagination.Cursor {
		return pagination.Cursor{CreatedAt: w.CreatedAt, ID: w.ID}
	})
}

func (s *Service) ListMine(ctx context.Context, caller *access.Principal) ([]*Workflow, error) {
	items, err := s.repo.Find(ctx, &Workflow{OwnerID: caller.UserID},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"}))
	if err != nil {
		logger.FromContext(ctx).Error("failed to list own workflows", zap.String("owner_id", caller.UserID), zap.Error(err))
		return nil, errutil.Internal("failed to list workflows", err)
	}
	return items, nil
}

// Update applies the changed fields and sends the workflow back to review.
func (s *Service) Update(ctx context.Context, caller *access.Principal, id string, req UpdateRequest) (*Workflow, error) {
	wf, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.CanModify(wf.OwnerID) {
		return nil, errutil.Forbidden("only the owner or an admin can edit this workflow", nil)
	}

	changes := map[string]any{
		"status":      StatusPending,
		"review_note": "",
	}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		changes["title"] = title
		changes["slug"] = buildSlug(title, wf.ID)
	}
	if req.Description != nil {
		changes["description"] = *req.Description
	}
	if req.Category != nil {
		changes["category"] = strings.ToLower(strings.TrimSpace(*req.Category))
	}
	if req.Price != nil {
		price, err := ParsePrice(*req.Price)
		if err != nil {
			return nil, errutil.ValidationFailed("invalid workflow", err, errutil.WithField("price", err.Error()))
		}
		changes["price"] = price
	}

	if err := s.repo.Update(ctx, id, changes); err != nil {
		logger.FromContext(ctx).Error("failed to update workflow", zap.String("workflow_id", id), zap.Error(err))
		return nil, errutil.Internal("failed to update workflow", err)
	}

	return s.load(ctx, id)
}

// Delete soft-deletes the workflow so payments still in flight can settle
// against it, and removes the file.
func (s *Service) Delete(ctx context.Context, caller *access.Principal, id string) error {
	zapLog := logger.FromContext(ctx).With(zap.String("workflow_id", id))

	wf, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !caller.CanModify(wf.OwnerID) {
		return errutil.Forbidden("only the owner or an admin can delete this workflow", nil)
	}

	if err := s.repo.Delete(ctx, id); err != nil && !db.IsNotFound(err) {
		zapLog.Error("failed to delete workflow", zap.Error(err))
		return errutil.Internal("failed to delete workflow", err)
	}

	if err := s.storage.Remove(ctx, wf.FileKey); err != nil {
		zapLog.Warn("failed to remove workflow file", zap.String("key", wf.FileKey), zap.Error(err))
	}

	zapLog.Info("workflow deleted", zap.String("by", caller.UserID))
	return nil
}

// Download issues a short-lived link to the definition file. Owners and
// admins can always download; everyone else needs an approved workflow and
// either a completed purchase or a free price. Free downloads are counted
// here, paid ones when the purchase completes.
func (s *Service) Download(ctx context.Context, caller *access.Principal, id string) (*DownloadLink, error) {
	zapLog := logger.FromContext(ctx).With(zap.String("workflow_id", id), zap.String("user_id", caller.UserID))

	wf, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	privileged := caller.CanModify(wf.OwnerID)
	if !privileged {
		if !wf.IsApproved() {
			return nil, errutil.NotFound("workflow not found", nil)
		}
		if !wf.IsFree() {
			owned, err := s.purchases.HasCompletedPurchase(ctx, wf.ID, caller.UserID)
			if err != nil {
				zapLog.Error("failed to check purchase", zap.Error(err))
				return nil, errutil.Internal("failed to check purchase", err)
			}
			if !owned {
				return nil, errutil.Forbidden("purchase required", nil)
			}
		}
	}

	url, err := s.storage.PresignedGet(ctx, wf.FileKey, wf.FileName, downloadURLTTL)
	if err != nil {
		zapLog.Error("failed to presign download", zap.Error(err))
		return nil, errutil.BadGateway("file storage unavailable", err)
	}

	if wf.IsFree() && caller.UserID != wf.OwnerID {
		if err := IncrementDownloads(s.db.WithContext(ctx), wf.ID); err != nil {
			zapLog.Warn("failed to count free download", zap.Error(err))
		}
	}

	return &DownloadLink{URL: url, FileName: wf.FileName, ExpiresAt: time.Now().Add(downloadURLTTL)}, nil
}

// IncrementDownloads bumps the counter with a single UPDATE so concurrent
// increments are never lost. tx may be a transaction. Deleted workflows are
// counted too.
func IncrementDownloads(tx *gorm.DB, workflowID string) error {
	res := tx.Unscoped().Model(&Workflow{}).Where("id = ?", workflowID).
		UpdateColumn("downloads", gorm.Expr("downloads + ?", 1))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListQueue returns workflows waiting for review, oldest first.
func (s *Service) ListQueue(ctx context.Context) ([]*Workflow, error) {
	items, err := s.repo.Find(ctx, &Workflow{Status: StatusPending},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "asc"}))
	if err != nil {
		logger.FromContext(ctx).Error("failed to list review queue", zap.Error(err))
		return nil, errutil.Internal("failed to list review queue", err)
	}
	return items, nil
}

func (s *Service) Approve(ctx context.Context, id string) (*Workflow, error) {
	return s.decide(ctx, id, StatusApproved, "")
}

func (s *Service) Reject(ctx context.Context, id, note string) (*Workflow, error) {
	return s.decide(ctx, id, StatusRejected, strings.TrimSpace(note))
}

// decide moves a PENDING workflow to a final review state. The status guard
// is part of the UPDATE so two admins cannot both decide.
func (s *Service) decide(ctx context.Context, id string, to Status, note string) (*Workflow, error) {
	zapLog := logger.FromContext(ctx).With(zap.String("workflow_id", id), zap.String("to", string(to)))

	res := s.db.WithContext(ctx).Model(&Workflow{}).
		Where("id = ? AND status = ?", id, StatusPending).
		Updates(map[string]any{"status": to, "review_note": note})
	if res.Error != nil {
		zapLog.Error("failed to update workflow status", zap.Error(res.Error))
		return nil, errutil.Internal("failed to update workflow", res.Error)
	}
	if res.RowsAffected == 0 {
		wf, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, errutil.Conflict(fmt.Sprintf("workflow is %s, not PENDING", wf.Status), nil)
	}

	zapLog.Info("workflow reviewed")
	return s.load(ctx, id)
}
