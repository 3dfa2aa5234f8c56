package dto

// ── 教师排名 ──

// TeacherRankingItemRequest 教师排名项
type TeacherRankingItemRequest struct {
	TargetType string `json:"target_type" binding:"required,oneof=submission comment"`
	TargetID   string `json:"target_id"   binding:"required,max=64"`
	GroupID    string `json:"group_id"    binding:"omitempty,max=64"`
	Rank       int    `json:"rank"        binding:"required,min=1"`
}

// SubmitTeacherRankingRequest 提交教师排名（整版覆盖，旧版本保留）
type SubmitTeacherRankingRequest struct {
	Rankings []TeacherRankingItemRequest `json:"rankings" binding:"required,min=1,max=200,dive"`
}

// TeacherRankingItemResponse 教师排名项
type TeacherRankingItemResponse struct {
	TargetType string `json:"target_type"`
	TargetID   string `json:"target_id"`
	GroupID    string `json:"group_id,omitempty"`
	Rank       int    `json:"rank"`
}

// TeacherRankingResponse 教师本人最新版本
type TeacherRankingResponse struct {
	Version      string                       `json:"version,omitempty"`
	VersionCount int                          `json:"version_count"`
	Items        []TeacherRankingItemResponse `json:"items"`
	Deduped      bool                         `json:"deduped,omitempty"`
}

// TeacherRankingVersionsQuery 版本历史查询参数
type TeacherRankingVersionsQuery struct {
	TargetType string `form:"type" binding:"omitempty,oneof=submission comment"`
}

// TeacherRankingVersionResponse 一次提交中某一类型的排名
type TeacherRankingVersionResponse struct {
	Version    string                       `json:"version"`
	TargetType string                       `json:"target_type"`
	TotalItems int                          `json:"total_items"`
	Items      []TeacherRankingItemResponse `json:"items"`
}

// TeacherRankingVersionsResponse 教师本人全部历史版本（新版本在前）
type TeacherRankingVersionsResponse struct {
	TargetType string                          `json:"target_type"`
	Versions   []TeacherRankingVersionResponse `json:"versions"`
}

// ProposalStatsResponse 小组提案统计（教师/观察者可见）
type ProposalStatsResponse struct {
	VersionCount       int    `json:"version_count"`
	LatestStatus       string `json:"latest_status"`
	LatestVotingResult string `json:"latest_voting_result"`
}

// GroupRankingResponse 小组在阶段中的两路排名信号
type GroupRankingResponse struct {
	GroupID         string                 `json:"group_id"`
	TeacherRank     *int                   `json:"teacher_rank,omitempty"`
	TeacherMeanRank *float64               `json:"teacher_mean_rank,omitempty"`
	TeacherCount    int                    `json:"teacher_count"`
	VoteRank        *int                   `json:"vote_rank,omitempty"`
	ProposalStats   *ProposalStatsResponse `json:"proposal_stats,omitempty"`
}

// StageRankingsResponse 阶段排名
type StageRankingsResponse struct {
	ProjectID    string                 `json:"project_id"`
	StageID      string                 `json:"stage_id"`
	TeacherCount int                    `json:"teacher_count"`
	Groups       []GroupRankingResponse `json:"groups"`
}
