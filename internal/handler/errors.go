package handler

import (
	"errors"
	"fmt"
	"strconv"
	"unicode"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prperemyshlev/identity-service/internal/apperr"
	"github.com/prperemyshlev/identity-service/internal/dto"
)

// writeError is the single place where errors become HTTP responses.
func writeError(c *gin.Context, err error) {
	ae := apperr.As(err)
	if ae == nil {
		ae = apperr.Internal("Internal server error", err)
	}

	// Recorded for LoggerMiddleware; the client only sees the generic message.
	_ = c.Error(err)

	if ae.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(ae.RetryAfter))
	}

	c.AbortWithStatusJSON(ae.Kind.HTTPStatus(), dto.ErrorResponse{
		Error:      ae.Code,
		Message:    ae.Message,
		Details:    ae.Details,
		RetryAfter: ae.RetryAfter,
	})
}

// bindError turns a gin binding failure into a VALIDATION_ERROR with one detail per field.
func bindError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		details := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			details = append(details, fieldMessage(fe))
		}
		return apperr.BadRequest(apperr.CodeValidation, "Validation failed", details...)
	}
	return apperr.BadRequest(apperr.CodeValidation, "Invalid request body")
}

func fieldMessage(fe validator.FieldError) string {
	field := lowerFirst(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}
