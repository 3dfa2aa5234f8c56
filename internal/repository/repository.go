package repository

import "gorm.io/gorm"

// Repository 所有 Repository 的聚合入口
type Repository struct {
	Project        ProjectRepository
	Stage          StageRepository
	Membership     MembershipRepository
	Target         TargetRepository
	Proposal       ProposalRepository
	Vote           VoteRepository
	ActionLog      ActionLogRepository
	EventLog       EventLogRepository
	TeacherRanking TeacherRankingRepository
	Notification   NotificationRepository
}

// NewRepository 创建 Repository 聚合
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{
		Project:        NewProjectRepo(db),
		Stage:          NewStageRepo(db),
		Membership:     NewMembershipRepo(db),
		Target:         NewTargetRepo(db),
		Proposal:       NewProposalRepo(db),
		Vote:           NewVoteRepo(db),
		ActionLog:      NewActionLogRepo(db),
		EventLog:       NewEventLogRepo(db),
		TeacherRanking: NewTeacherRankingRepo(db),
		Notification:   NewNotificationRepo(db),
	}
}
