package handlers

import (
	"errors"
	"io"
	"reflect"
	"strings"
	"sync"

	"ResQFlow/internal/sos"
	apperrors "ResQFlow/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var validatorsOnce sync.Once

// registerValidators adds the cnic and pkphone tags to gin's validator and reports fields by
// their json name.
func registerValidators() {
	validatorsOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
		_ = v.RegisterValidation("cnic", func(fl validator.FieldLevel) bool {
			return sos.ValidCNIC(strings.TrimSpace(fl.Field().String()))
		})
		_ = v.RegisterValidation("pkphone", func(fl validator.FieldLevel) bool {
			return sos.ValidPhone(strings.TrimSpace(fl.Field().String()))
		})
	})
}

var tagMessages = map[string]string{
	"required": "required",
	"cnic":     "must match 12345-1234567-1",
	"pkphone":  "must be a Pakistani mobile number",
	"min":      "too small",
	"max":      "too large",
	"gte":      "too small",
	"lte":      "too large",
	"gt":       "must be positive",
	"oneof":    "not an allowed value",
}

// bindJSON decodes the body and converts binding failures into a field-level validation error.
func bindJSON(c *gin.Context, obj any) error {
	err := c.ShouldBindJSON(obj)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			msg, ok := tagMessages[fe.Tag()]
			if !ok {
				msg = "invalid (" + fe.Tag() + ")"
			}
			if fe.Param() != "" && (fe.Tag() == "min" || fe.Tag() == "max" || fe.Tag() == "gte" || fe.Tag() == "lte") {
				msg += ": " + fe.Param()
			}
			fields[fe.Field()] = msg
		}
		return apperrors.Validation(fields)
	}
	if errors.Is(err, io.EOF) {
		return apperrors.Validation(map[string]string{"body": "empty request body"})
	}
	return apperrors.Validation(map[string]string{"body": err.Error()})
}
