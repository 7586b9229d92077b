package user

import (
	"context"
	"strings"

	"flowmarket/pkg/access"
	"flowmarket/pkg/db"
	"flowmarket/pkg/db/option"
	"flowmarket/pkg/db/pagination"
	"flowmarket/pkg/errutil"
	"flowmarket/pkg/logger"
	"flowmarket/pkg/repository"
	"flowmarket/pkg/session"

	"github.com/lib/pq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultRoles are granted to every account on signup.
var DefaultRoles = []access.Role{access.RoleBuyer}

type Service struct {
	repo repository.Repository[User]
}

type ServiceParams struct {
	fx.In
	DB *gorm.DB
}

func NewService(p ServiceParams) *Service {
	return &Service{
		repo: repository.ProvideStore[User](p.DB),
	}
}

// Resolve implements middleware.PrincipalResolver.
func (s *Service) Resolve(ctx context.Context, id session.Identity) (*access.Principal, error) {
	u, err := s.Provision(ctx, id)
	if err != nil {
		return nil, err
	}
	return &access.Principal{
		UserID: u.ID,
		Email:  u.EmailAddress(),
		Name:   u.Name,
		Roles:  u.AccessRoles(),
	}, nil
}

// Provision finds the account behind a verified identity or creates it with
// DefaultRoles. Roles already on record are never touched here.
func (s *Service) Provision(ctx context.Context, id session.Identity) (*User, error) {
	zapLog := logger.FromContext(ctx).With(zap.String("user_id", id.UserID))

	existing, err := s.repo.FindOne(ctx, &User{ID: id.UserID})
	if err != nil {
		zapLog.Error("failed query get user by id", zap.Error(err))
		return nil, errutil.Internal("failed to load user", err)
	}
	if existing != nil {
		return existing, nil
	}

	u := &User{
		ID:    id.UserID,
		Email: normalizeEmail(id.Email),
		Name:  id.Name,
		Roles: access.Strings(DefaultRoles),
	}

	if err := s.repo.Create(ctx, u); err != nil {
		if !db.IsUniqueViolation(err) {
			zapLog.Error("failed to create user", zap.Error(err))
			return nil, errutil.Internal("failed to create user", err)
		}

		// a concurrent first request won the insert
		existing, err = s.repo.FindOne(ctx, &User{ID: id.UserID})
		if err != nil {
			return nil, errutil.Internal("failed to load user", err)
		}
		if existing == nil {
			zapLog.Warn("email already registered to another account")
			return nil, errutil.Conflict("email already registered", nil)
		}
		return existing, nil
	}

	zapLog.Info("user provisioned", zap.Strings("roles", u.Roles))
	return u, nil
}

func (s *Service) Get(ctx context.Context, userID string) (*User, error) {
	u, err := s.repo.FindOne(ctx, &User{ID: userID})
	if err != nil {
		logger.FromContext(ctx).Error("failed query get user by id", zap.String("user_id", userID), zap.Error(err))
		return nil, errutil.Internal("failed to load user", err)
	}
	if u == nil {
		return nil, errutil.NotFound("user not found", nil)
	}
	return u, nil
}

func (s *Service) List(ctx context.Context, page pagination.Pagination) ([]*User, *pagination.PageInfo, error) {
	users, err := s.repo.Find(ctx, &User{}, option.ApplyPagination(page))
	if err != nil {
		logger.FromContext(ctx).Error("failed to list users", zap.Error(err))
		return nil, nil, errutil.Internal("failed to list users", err)
	}

	return pagination.BuildCursorPage(users, page.Size(), func(u *User) pagination.Cursor {
		return pagination.Cursor{CreatedAt: u.CreatedAt, ID: u.ID}
	})
}

// UpdateRoles replaces the target's role set. Admin only; the handler gates it.
func (s *Service) UpdateRoles(ctx context.Context, targetID string, raw []string) (*User, error) {
	roles, err := access.ParseRoles(raw)
	if err != nil {
		return nil, errutil.ValidationFailed("invalid roles", err, errutil.WithField("roles", err.Error()))
	}
	if len(roles) == 0 {
		return nil, errutil.ValidationFailed("invalid roles", nil, errutil.WithField("roles", "at least one role is required"))
	}

	if err := s.repo.Update(ctx, targetID, map[string]any{"roles": pq.StringArray(access.Strings(roles))}); err != nil {
		if db.IsNotFound(err) {
			return nil, errutil.NotFound("user not found", nil)
		}
		logger.FromContext(ctx).Error("failed to update roles", zap.String("user_id", targetID), zap.Error(err))
		return nil, errutil.Internal("failed to update roles", err)
	}

	logger.FromContext(ctx).Info("user roles updated", zap.String("user_id", targetID), zap.Strings("roles", access.Strings(roles)))
	return s.Get(ctx, targetID)
}

// EnsureAdmin creates the account if needed and grants it ADMIN.
func (s *Service) EnsureAdmin(ctx context.Context, userID, email string) error {
	u, err := s.Provision(ctx, session.Identity{UserID: userID, Email: email, Name: "Administrator"})
	if err != nil {
		return err
	}
	if access.IsAdmin(u.AccessRoles()) {
		return nil
	}

	roles := append(u.AccessRoles(), access.RoleAdmin)
	_, err = s.UpdateRoles(ctx, userID, access.Strings(roles))
	return err
}

func normalizeEmail(email string) *string {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil
	}
	return &email
}
