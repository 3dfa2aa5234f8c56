package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"scoring-system/backend/internal/service"
	"scoring-system/backend/pkg/response"
)

// kindStatus 业务拒绝类别 → HTTP 状态码
var kindStatus = map[service.ErrorKind]int{
	service.KindPolicy:    http.StatusBadRequest,
	service.KindInvalid:   http.StatusBadRequest,
	service.KindForbidden: http.StatusForbidden,
	service.KindNotFound:  http.StatusNotFound,
	service.KindConflict:  http.StatusConflict,
}

// handleConsensusError 将排名共识模块错误映射为 HTTP 响应
// 非业务拒绝一律视为内部错误，不向客户端暴露细节
func handleConsensusError(c *gin.Context, err error) {
	var ce *service.ConsensusError
	if !errors.As(err, &ce) {
		response.InternalError(c)
		return
	}
	status, ok := kindStatus[ce.Kind]
	if !ok {
		status = http.StatusBadRequest
	}
	response.Reject(c, status, ce.Code, ce.ErrorCode, ce.Message, ce.Detail)
}
