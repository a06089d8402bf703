package product

import (
	"context"

	"digishop-be/internal/db"
	"digishop-be/internal/logger"

	"go.uber.org/zap"
)

type Service interface {
	GetSummaries(ctx context.Context, ids []int64) ([]Summary, error)
}

type service struct {
	db   db.DBTX
	repo Repository
}

func NewService(conn db.DBTX, repo Repository) Service {
	return &service{db: conn, repo: repo}
}

func (s *service) GetSummaries(ctx context.Context, ids []int64) ([]Summary, error) {
	summaries, err := s.repo.GetSummaries(ctx, s.db, ids)
	if err != nil {
		logger.FromCtx(ctx).Error("failed to load product summaries",
			zap.String("layer", "service"),
			zap.Int64s("product_ids", ids),
			zap.Error(err),
		)
		return nil, err
	}
	return summaries, nil
}
