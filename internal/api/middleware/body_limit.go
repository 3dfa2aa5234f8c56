package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"scoring-system/backend/pkg/response"
)

// BodyLimit 请求体大小限制中间件
// 排名提案最多 200 项，默认 1MB 足够。声明长度超限直接 413；
// 未声明长度的请求由 MaxBytesReader 截断，绑定失败后按参数错误返回
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes > 0 && c.Request.ContentLength > maxBytes {
			response.Error(c, http.StatusRequestEntityTooLarge, 10005, "请求体过大")
			c.Abort()
			return
		}
		if c.Request.Body != nil && maxBytes > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}
