package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"scoring-system/backend/config"
	"scoring-system/backend/internal/api/handler"
	"scoring-system/backend/internal/api/middleware"
	"scoring-system/backend/pkg/jwt"
	"scoring-system/backend/pkg/redis"
)

// Setup 初始化并返回 Gin 路由引擎
func Setup(cfg *config.Config, h *handler.Handler, jwtMgr *jwt.Manager, rdb *redis.Client, db *gorm.DB, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// ── 全局中间件 ──
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.CORS.AllowOrigins))
	r.Use(middleware.BodyLimit(cfg.Server.BodyLimit))

	// ── 健康检查 ──
	r.GET("/health", healthCheck(db))

	// 写接口限流（挂在认证之后，按用户计数）
	limit := middleware.RateLimit(rdb, cfg.RateLimit.Requests, cfg.RateLimit.Window)

	// ── API v1（全部需要认证）──
	v1 := r.Group("/api/v1")
	v1.Use(middleware.JWTAuth(jwtMgr, rdb, logger))
	{
		// 阶段维度
		stages := v1.Group("/projects/:pid/stages/:sid")
		{
			stages.POST("/proposals", limit, h.Proposal.SubmitProposal)
			stages.GET("/proposals", h.Proposal.ListStageProposals)
			stages.GET("/voting-status", h.Proposal.GetVotingStatus)
			stages.GET("/consensus-summary", h.Proposal.GetConsensusSummary)

			stages.GET("/rankings", h.TeacherRanking.GetStageRankings)
			stages.POST("/teacher-rankings", limit, middleware.RoleAuth("teacher", "admin"), h.TeacherRanking.SubmitTeacherRanking)
			stages.GET("/teacher-rankings", h.TeacherRanking.ListTeacherRankings)
			stages.GET("/teacher-rankings/versions", h.TeacherRanking.ListTeacherRankingVersions)

			stages.GET("/export", h.Export.ExportStageRankings)
		}

		// 提案维度
		proposals := v1.Group("/proposals/:id")
		{
			proposals.GET("", h.Proposal.GetProposal)
			proposals.POST("/votes", limit, h.Proposal.CastVote)
			proposals.POST("/withdraw", limit, h.Proposal.WithdrawProposal)
			proposals.POST("/reset", limit, h.Proposal.ResetProposal)
			proposals.POST("/settle", limit, h.Proposal.SettleProposal)
			proposals.GET("/history", h.Proposal.GetProposalHistory)
		}

		// 通知
		v1.GET("/notifications", h.Notification.ListNotifications)
	}

	return r
}

// healthCheck 数据库可达即视为健康；Redis 为可选依赖，不参与判定
func healthCheck(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			sqlDB, err := db.DB()
			if err == nil {
				err = sqlDB.PingContext(ctx)
			}
			if err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
