package handler

import (
	"github.com/gin-gonic/gin"

	"scoring-system/backend/internal/dto"
	"scoring-system/backend/internal/service"
	"scoring-system/backend/pkg/response"
)

// TeacherRankingHandler 教师排名与阶段排名 HTTP 处理器
type TeacherRankingHandler struct {
	rankingSvc service.TeacherRankingService
}

// NewTeacherRankingHandler 创建 TeacherRankingHandler
func NewTeacherRankingHandler(rankingSvc service.TeacherRankingService) *TeacherRankingHandler {
	return &TeacherRankingHandler{rankingSvc: rankingSvc}
}

// SubmitTeacherRanking 提交教师排名
// POST /api/v1/projects/:pid/stages/:sid/teacher-rankings
func (h *TeacherRankingHandler) SubmitTeacherRanking(c *gin.Context) {
	var req dto.SubmitTeacherRankingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	actor, ok := MustGetActor(c)
	if !ok {
		return
	}

	res, err := h.rankingSvc.Submit(c.Request.Context(), actor, c.Param("pid"), c.Param("sid"), &req)
	if err != nil {
		handleConsensusError(c, err)
		return
	}
	if res.Deduped {
		response.OK(c, res)
		return
	}
	response.Created(c, res)
}

// ListTeacherRankings 当前教师最新版本
// GET /api/v1/projects/:pid/stages/:sid/teacher-rankings
func (h *TeacherRankingHandler) ListTeacherRankings(c *gin.Context) {
	actor, ok := MustGetActor(c)
	if !ok {
		return
	}

	res, err := h.rankingSvc.ListMine(c.Request.Context(), actor, c.Param("pid"), c.Param("sid"))
	if err != nil {
		handleConsensusError(c, err)
		return
	}
	response.OK(c, res)
}

// ListTeacherRankingVersions 当前教师的历史版本
// GET /api/v1/projects/:pid/stages/:sid/teacher-rankings/versions?type=submission|comment
func (h *TeacherRankingHandler) ListTeacherRankingVersions(c *gin.Context) {
	var q dto.TeacherRankingVersionsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	actor, ok := MustGetActor(c)
	if !ok {
		return
	}

	res, err := h.rankingSvc.ListVersions(c.Request.Context(), actor, c.Param("pid"), c.Param("sid"), q.TargetType)
	if err != nil {
		handleConsensusError(c, err)
		return
	}
	response.OK(c, res)
}

// GetStageRankings 阶段排名（教师排名 + 投票排名）
// GET /api/v1/projects/:pid/stages/:sid/rankings
func (h *TeacherRankingHandler) GetStageRankings(c *gin.Context) {
	actor, ok := MustGetActor(c)
	if !ok {
		return
	}

	res, err := h.rankingSvc.StageRankings(c.Request.Context(), actor, c.Param("pid"), c.Param("sid"))
	if err != nil {
		handleConsensusError(c, err)
		return
	}
	response.OK(c, res)
}
