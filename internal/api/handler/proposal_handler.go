package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"scoring-system/backend/internal/dto"
	"scoring-system/backend/internal/service"
	"scoring-system/backend/pkg/response"
)

// ProposalHandler 小组排名提案 HTTP 处理器
type ProposalHandler struct {
	proposalSvc service.ProposalService
}

// NewProposalHandler 创建 ProposalHandler
func NewProposalHandler(proposalSvc service.ProposalService) *ProposalHandler {
	return &ProposalHandler{proposalSvc: proposalSvc}
}

// ── 阶段维度 ──

// SubmitProposal 提交排名提案
// POST /api/v1/projects/:pid/stages/:sid/proposals
func (h *ProposalHandler) SubmitProposal(c *gin.Context) {
	var req dto.SubmitProposalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	actor, ok := MustGetActor(c)
	if !ok {
		return
	}

	res, err := h.proposalSvc.Submit(c.Request.Context(), actor, c.Param("pid"), c.Param("sid"), &req)
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

// ListStageProposals 阶段提案列表
// GET /api/v1/projects/:pid/stages/:sid/proposals
func (h *ProposalHandler) ListStageProposals(c *gin.Context) {
	actor, ok := MustGetActor(c)
	if !ok {
		return
	}

	res, err := h.proposalSvc.ListStage(c.Request.Context(), actor, c.Param("pid"), c.Param("sid"))
	if err != nil {
		handleConsensusError(c, err)
		return
	}
	response.OK(c, res)
}

// GetVotingStatus 本组最新提案投票进度
// GET /api/v1/projects/:pid/stages/:sid/voting-status
func (h *ProposalHandler) GetVotingStatus(c *gin.Context) {
	actor, ok := MustGetActor(c)
	if !ok {
		return
	}

	res, err := h.proposalSvc.VotingStatus(c.Request.Context(), actor, c.Param("pid"), c.Param("sid"))
	if err != nil {
		handleConsensusError(c, err)
		return
	}
	response.OK(c, res)
}

// GetConsensusSummary 结算前共识汇总
// GET /api/v1/projects/:pid/stages/:sid/consensus-summary
func (h *ProposalHandler) GetConsensusSummary(c *gin.Context) {
	actor, ok := MustGetActor(c)
	if !ok {
		return
	}

	res, err := h.proposalSvc.ConsensusSummary(c.Request.Context(), actor, c.Param("pid"), c.Param("sid"))
	if err != nil {
		handleConsensusError(c, err)
		return
	}
	response.OK(c, res)
}

// ── 提案维度 ──

// GetProposal 提案详情
// GET /api/v1/proposals/:id
func (h *ProposalHandler) GetProposal(c *gin.Context) {
	actor, ok := MustGetActor(c)
	if !ok {
		return
	}

	res, err := h.proposalSvc.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		handleConsensusError(c, err)
		return
	}
	response.OK(c, res)
}

// CastVote 投票
// POST /api/v1/proposals/:id/votes
func (h *ProposalHandler) CastVote(c *gin.Context) {
	var req dto.VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Reject(c, http.StatusBadRequest, 10001, "INVALID_VOTE", "参数校验失败", "agree 只能是 1 或 -1")
		return
	}

	actor, ok := MustGetActor(c)
	if !ok {
		return
	}

	res, err := h.proposalSvc.Vote(c.Request.Context(), actor, c.Param("id"), &req)
	if err != nil {
		handleConsensusError(c, err)
		return
	}
	response.OK(c, res)
}

// WithdrawProposal 撤回提案
// POST /api/v1/proposals/:id/withdraw
func (h *ProposalHandler) WithdrawProposal(c *gin.Context) {
	actor, ok := MustGetActor(c)
	if !ok {
		return
	}

	res, err := h.proposalSvc.Withdraw(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		handleConsensusError(c, err)
		return
	}
	response.OK(c, res)
}

// ResetProposal 重置投票（组长）
// POST /api/v1/proposals/:id/reset
func (h *ProposalHandler) ResetProposal(c *gin.Context) {
	var req dto.ResetRequest
	// 请求体可省略
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, 10001, "参数校验失败")
			return
		}
	}

	actor, ok := MustGetActor(c)
	if !ok {
		return
	}

	res, err := h.proposalSvc.Reset(c.Request.Context(), actor, c.Param("id"), &req)
	if err != nil {
		handleConsensusError(c, err)
		return
	}
	response.OK(c, res)
}

// SettleProposal 定案（教师 / 管理员）
// POST /api/v1/proposals/:id/settle
func (h *ProposalHandler) SettleProposal(c *gin.Context) {
	actor, ok := MustGetActor(c)
	if !ok {
		return
	}

	res, err := h.proposalSvc.Settle(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		handleConsensusError(c, err)
		return
	}
	response.OK(c, res)
}

// GetProposalHistory 提案操作记录
// GET /api/v1/proposals/:id/history?page=1&page_size=20
func (h *ProposalHandler) GetProposalHistory(c *gin.Context) {
	var page dto.PaginationRequest
	if err := c.ShouldBindQuery(&page); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	actor, ok := MustGetActor(c)
	if !ok {
		return
	}

	list, total, err := h.proposalSvc.History(c.Request.Context(), actor, c.Param("id"), page.GetPage(), page.GetPageSize())
	if err != nil {
		handleConsensusError(c, err)
		return
	}
	response.OKPage(c, list, total, page.GetPage(), page.GetPageSize())
}
