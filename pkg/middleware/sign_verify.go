package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strconv"
	"time"

	apperrors "ResQFlow/pkg/errors"
	"ResQFlow/pkg/response"

	"github.com/gin-gonic/gin"
)

const HeaderSignature = "Signature"

// GenerateSignature 生成 HMAC 签名: method + path + body + timestamp
func GenerateSignature(secretKey, method, path string, body []byte, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(method))
	mac.Write([]byte(path))
	mac.Write(body)
	mac.Write([]byte(timestamp))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignVerifyMiddleware checks the Signature header against ?timestamp= and the raw body.
// Timestamps older than maxSkew are rejected. An empty secret disables the check.
func SignVerifyMiddleware(secretKey string, maxSkew time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secretKey == "" {
			c.Next()
			return
		}
		signature := c.GetHeader(HeaderSignature)
		if signature == "" {
			response.Fail(c, apperrors.Validation(map[string]string{HeaderSignature: "missing"}))
			return
		}
		timestamp := c.Query("timestamp")
		ts, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			response.Fail(c, apperrors.Validation(map[string]string{"timestamp": "missing or not unix seconds"}))
			return
		}
		if maxSkew > 0 {
			if d := time.Since(time.Unix(ts, 0)); d > maxSkew || d < -maxSkew {
				response.Fail(c, apperrors.Validation(map[string]string{"timestamp": "outside allowed skew"}))
				return
			}
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			response.Fail(c, apperrors.Wrap(err, "read body"))
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		expected := GenerateSignature(secretKey, c.Request.Method, c.Request.URL.Path, body, timestamp)
		if !hmac.Equal([]byte(signature), []byte(expected)) {
			response.Fail(c, apperrors.New(apperrors.KindUnauthorized, "invalid signature"))
			return
		}
		c.Next()
	}
}
