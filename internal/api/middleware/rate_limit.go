package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"scoring-system/backend/pkg/redis"
	"scoring-system/backend/pkg/response"
)

// RateLimit 写接口限流中间件
// 优先使用 Redis 滑动窗口（多实例共享计数）；rdb 为 nil 或 Redis 出错时
// 退回进程内令牌桶，按同样的 limit/window 折算速率。
// 限流键优先取登录用户邮箱，未登录时取客户端 IP。
func RateLimit(rdb *redis.Client, limit int, window time.Duration) gin.HandlerFunc {
	local := newLocalLimiter(limit, window)

	return func(c *gin.Context) {
		subject := c.GetString(ContextUserEmail)
		if subject == "" {
			subject = c.ClientIP()
		}
		key := fmt.Sprintf("rate_limit:%s:%s", subject, c.FullPath())

		allowed := false
		if rdb != nil {
			ok, err := rdb.CheckRateLimit(c.Request.Context(), key, limit, window)
			if err == nil {
				allowed = ok
			} else {
				allowed = local.allow(key)
			}
		} else {
			allowed = local.allow(key)
		}

		if !allowed {
			response.Error(c, http.StatusTooManyRequests, 10004, "请求过于频繁，请稍后再试")
			c.Abort()
			return
		}

		c.Next()
	}
}

// localLimiter 进程内按键令牌桶
type localLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	every    rate.Limit
	burst    int
}

func newLocalLimiter(limit int, window time.Duration) *localLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &localLimiter{
		limiters: make(map[string]*rate.Limiter),
		every:    rate.Every(window / time.Duration(limit)),
		burst:    limit,
	}
}

func (l *localLimiter) allow(key string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.every, l.burst)
		l.limiters[key] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
