package handler

import "scoring-system/backend/internal/service"

// Handler 所有 Handler 的聚合入口
type Handler struct {
	Proposal       *ProposalHandler
	TeacherRanking *TeacherRankingHandler
	Export         *ExportHandler
	Notification   *NotificationHandler
}

// NewHandler 创建 Handler 聚合
func NewHandler(svc *service.Service) *Handler {
	return &Handler{
		Proposal:       NewProposalHandler(svc.Proposal),
		TeacherRanking: NewTeacherRankingHandler(svc.TeacherRanking),
		Export:         NewExportHandler(svc.Export),
		Notification:   NewNotificationHandler(svc.Notification),
	}
}
