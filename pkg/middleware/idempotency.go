package middleware

import (
	"net/http"
	"strings"
	"time"

	"ResQFlow/pkg/cache"
	apperrors "ResQFlow/pkg/errors"
	"ResQFlow/pkg/response"

	"github.com/gin-gonic/gin"
)

type IdempotencyConfig struct {
	HeaderName string        // Idempotency-Key 的请求头名
	TTL        time.Duration // 重复请求的拒绝窗口
	Store      cache.Cache
}

// IdempotencyMiddleware rejects a repeated Idempotency-Key for the same method and request
// path with 409, so one key may be reused across different resource ids.
// Requests without the header pass through. A key whose request failed with 5xx is
// released so the client can retry.
func IdempotencyMiddleware(cfg IdempotencyConfig) gin.HandlerFunc {
	if cfg.HeaderName == "" {
		cfg.HeaderName = "Idempotency-Key"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(cfg.HeaderName))
		if key == "" || cfg.Store == nil {
			c.Next()
			return
		}
		key = "idem:" + c.Request.Method + ":" + c.Request.URL.Path + ":" + key

		ok, err := cfg.Store.SetIfAbsent(c.Request.Context(), key, time.Now().Unix(), cfg.TTL)
		if err != nil {
			response.Fail(c, apperrors.Wrap(err, "idempotency store"))
			return
		}
		if !ok {
			response.Fail(c, apperrors.New(apperrors.KindConflict, "duplicate request"))
			return
		}
		c.Next()

		if c.Writer.Status() >= http.StatusInternalServerError {
			_ = cfg.Store.Delete(c.Request.Context(), key)
		}
	}
}
