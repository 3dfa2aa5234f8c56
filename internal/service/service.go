package service

import (
	"go.uber.org/zap"

	"scoring-system/backend/config"
	"scoring-system/backend/internal/repository"
)

// Service 所有 Service 的聚合入口
type Service struct {
	Proposal       ProposalService
	TeacherRanking TeacherRankingService
	Export         ExportService
	Notification   NotificationService
}

// NewService 创建 Service 聚合
func NewService(
	cfg *config.Config,
	repo *repository.Repository,
	collab Collaborators,
	logger *zap.Logger,
) *Service {
	rankings := NewTeacherRankingService(repo, collab, &cfg.Consensus, logger)
	return &Service{
		Proposal:       NewProposalService(repo, collab, &cfg.Consensus, logger),
		TeacherRanking: rankings,
		Export:         NewExportService(rankings, collab.Members, logger),
		Notification:   NewNotificationService(repo, logger),
	}
}
