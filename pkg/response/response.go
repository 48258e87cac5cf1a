package response

import (
	"net/http"
	"sync/atomic"

	apperrors "ResQFlow/pkg/errors"
	"ResQFlow/pkg/i18n"
	"ResQFlow/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var translator atomic.Pointer[i18n.I18nSupport]

// UseTranslator sets the bundle used to localize error messages.
func UseTranslator(t *i18n.I18nSupport) {
	translator.Store(t)
}

type ErrorBody struct {
	Error  string            `json:"error"`
	Code   string            `json:"code"`
	Detail string            `json:"detail,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, data)
}

func Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, data)
}

// Fail renders err with the status mapped from its kind. Internal errors are logged and their
// message is not exposed.
func Fail(c *gin.Context, err error) {
	kind := apperrors.KindOf(err)
	status := apperrors.StatusOf(kind)

	body := ErrorBody{Code: string(kind), Error: localize(c, string(kind))}
	var e *apperrors.Error
	if apperrors.As(err, &e) && kind != apperrors.KindInternal {
		body.Detail = e.Message
		if len(e.Fields) > 0 {
			body.Fields = make(map[string]string, len(e.Fields))
			for _, f := range e.Fields {
				body.Fields[f.Key] = f.Value
			}
		}
	}

	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("method", c.Request.Method),
			zap.Error(err))
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, body)
}

// Localize translates key for the request language, falling back to key.
func Localize(c *gin.Context, key string, data map[string]interface{}) string {
	t := translator.Load()
	if t == nil {
		return key
	}
	return t.T(c.GetString("lang"), key, data)
}

func localize(c *gin.Context, key string) string {
	return Localize(c, key, nil)
}
