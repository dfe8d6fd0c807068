package services

import (
	"context"
	"time"

	"mira-api/internal/middleware"
	"mira-api/internal/models"
	"mira-api/internal/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuditTargetSystem is the target recorded for actions not tied to one asset.
const AuditTargetSystem = "Sistema"

// AuditService records who did what. Failures to record are logged and never
// fail the audited operation.
type AuditService struct {
	store  AuditStore
	logger *zap.Logger
	now    func() time.Time
}

func NewAuditService(store AuditStore, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{
		store:  store,
		logger: logger.Named("audit"),
		now:    time.Now,
	}
}

func (a *AuditService) Record(ctx context.Context, actor models.Actor, action, target string) {
	if target == "" {
		target = AuditTargetSystem
	}
	ip := middleware.ClientIPFrom(ctx)
	if ip == "" {
		ip = "local"
	}

	now := a.now()
	entry := models.AuditLog{
		Id:        uuid.NewString(),
		Timestamp: utils.FormatLocaleTimestamp(now),
		CreatedAt: now,
		UserId:    actor.Id,
		UserName:  actor.Name,
		Action:    action,
		Target:    target,
		IP:        ip,
	}

	if err := a.store.Append(ctx, entry); err != nil {
		a.logger.Error("failed to record audit entry",
			zap.String("action", action),
			zap.String("user", actor.Id),
			zap.Error(err),
		)
	}
}

func (a *AuditService) List(ctx context.Context, limit int) ([]models.AuditLog, error) {
	return a.store.List(ctx, limit)
}
