package bootstrap

import (
	"context"
	"fmt"

	"flowmarket/pkg/config"
	"flowmarket/services/purchase"
	"flowmarket/services/review"
	"flowmarket/services/user"
	"flowmarket/services/workflow"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Models lists every table of the marketplace in dependency order.
func Models() []any {
	models := []any{&user.User{}, &workflow.Workflow{}}
	models = append(models, purchase.Models()...)
	return append(models, &review.Review{})
}

type Service struct {
	db     *gorm.DB
	config *config.Config
	users  *user.Service
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Config *config.Config
	Users  *user.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:     p.DB,
		config: p.Config,
		users:  p.Users,
	}
}

// Run migrates the schema when enabled and makes sure the configured
// administrator exists.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Migrate(ctx); err != nil {
		return err
	}
	return s.SeedAdmin(ctx)
}

func (s *Service) Migrate(ctx context.Context) error {
	if !s.config.Database.AutoMigrate {
		zap.L().Info("[bootstrap] Auto migration disabled")
		return nil
	}
	if err := s.db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		zap.L().Error("[bootstrap] Failed to migrate schema", zap.Error(err))
		return fmt.Errorf("auto migrate: %w", err)
	}
	zap.L().Info("[bootstrap] Schema migrated", zap.Int("tables", len(Models())))
	return nil
}

func (s *Service) SeedAdmin(ctx context.Context) error {
	admin := s.config.Bootstrap
	if admin.AdminID == "" {
		zap.L().Info("[bootstrap] No bootstrap admin configured")
		return nil
	}
	if err := s.users.EnsureAdmin(ctx, admin.AdminID, admin.AdminEmail); err != nil {
		zap.L().Error("[bootstrap] Failed to ensure admin", zap.String("user_id", admin.AdminID), zap.Error(err))
		return fmt.Errorf("ensure admin: %w", err)
	}
	zap.L().Info("[bootstrap] Admin ensured", zap.String("user_id", admin.AdminID))
	return nil
}
