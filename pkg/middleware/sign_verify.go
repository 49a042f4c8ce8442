package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	apperr "LifeSync/pkg/errors"
	"LifeSync/pkg/response"

	"github.com/gin-gonic/gin"
)

// GenerateSignature 生成 HMAC 签名：method + path + body + timestamp
func GenerateSignature(method, path string, body []byte, timestamp, secretKey string) string {
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(fmt.Sprintf("%s%s%s%s", method, path, body, timestamp)))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignVerifyMiddleware 机构控制台回执签名校验，secret 为空时不校验
func SignVerifyMiddleware(secret string, skew time.Duration) gin.HandlerFunc {
	if skew <= 0 {
		skew = 5 * time.Minute
	}
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}
		signature := c.GetHeader("Signature")
		timestamp := c.GetHeader("X-Timestamp")
		if signature == "" || timestamp == "" {
			response.Error(c, apperr.WithCode(apperr.CodeInvalidArgument, "signature or timestamp is missing"))
			return
		}
		ts, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			response.Error(c, apperr.WithCode(apperr.CodeInvalidArgument, "invalid timestamp"))
			return
		}
		if d := time.Since(time.Unix(ts, 0)); d > skew || d < -skew {
			response.Error(c, apperr.WithCode(apperr.CodeInvalidArgument, "timestamp out of range"))
			return
		}

		body, _ := io.ReadAll(c.Request.Body)
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		expected := GenerateSignature(c.Request.Method, c.Request.URL.Path, body, timestamp, secret)
		if !hmac.Equal([]byte(signature), []byte(expected)) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Body{Code: apperr.CodeInvalidArgument, Message: "invalid signature"})
			return
		}
		c.Next()
	}
}
