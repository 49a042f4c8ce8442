package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
	"time"

	"LifeSync/pkg/cache"
	"LifeSync/pkg/metrics"

	"github.com/gin-gonic/gin"
)

type IdempotencyConfig struct {
	HeaderName string        // Idempotency-Key 的请求头名
	TTL        time.Duration // 决定一段时间内重复请求的拒绝窗口
	Store      cache.Cache   // 为空时使用进程内 go-cache
	Metrics    *metrics.Metrics
}

// IdempotencyMiddleware 同一幂等键在 TTL 内只放行一次；处理失败(5xx)时释放键以便客户端重试
func IdempotencyMiddleware(cfg IdempotencyConfig) gin.HandlerFunc {
	if cfg.HeaderName == "" {
		cfg.HeaderName = "Idempotency-Key"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	store := cfg.Store
	if store == nil {
		store = cache.NewGoCache(cache.LocalConfig{DefaultExpiration: cfg.TTL})
	}
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(cfg.HeaderName))
		if key == "" {
			// 兜底以请求体生成哈希作为幂等键
			b, _ := io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewReader(b))
			h := sha256.Sum256(b)
			key = hex.EncodeToString(h[:])
		}
		key = "idem:" + c.Request.Method + ":" + c.FullPath() + ":" + key

		added, err := store.Add(c.Request.Context(), key, []byte{1}, cfg.TTL)
		if err != nil {
			c.Next()
			return
		}
		if !added {
			if cfg.Metrics != nil {
				cfg.Metrics.RecordCacheHit("idempotency", "add")
			}
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "duplicate request"})
			return
		}
		if cfg.Metrics != nil {
			cfg.Metrics.RecordCacheMiss("idempotency", "add")
		}
		c.Next()
		if c.Writer.Status() >= http.StatusInternalServerError {
			_ = store.Delete(c.Request.Context(), key)
		}
	}
}
