package handler

import (
	"github.com/gin-gonic/gin"

	"scoring-system/backend/internal/api/middleware"
	"scoring-system/backend/internal/service"
	"scoring-system/backend/pkg/response"
)

// MustGetUserEmail 从 Gin 上下文中安全提取操作者邮箱。
// 如果 JWT 中间件未正确注入，返回 false 并写入 401 响应。
// 调用方应在 ok=false 时直接 return。
func MustGetUserEmail(c *gin.Context) (string, bool) {
	return mustGetString(c, middleware.ContextUserEmail)
}

// MustGetRole 从 Gin 上下文中安全提取全局角色。
func MustGetRole(c *gin.Context) (string, bool) {
	return mustGetString(c, middleware.ContextRole)
}

// MustGetActor 组装当前操作者
func MustGetActor(c *gin.Context) (service.Actor, bool) {
	email, ok := MustGetUserEmail(c)
	if !ok {
		return service.Actor{}, false
	}
	role, ok := MustGetRole(c)
	if !ok {
		return service.Actor{}, false
	}
	return service.Actor{Email: email, Role: role}, true
}

func mustGetString(c *gin.Context, key string) (string, bool) {
	v, exists := c.Get(key)
	if !exists {
		response.Unauthorized(c, 10002, "未认证")
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		response.Unauthorized(c, 10002, "未认证")
		return "", false
	}
	return s, true
}
