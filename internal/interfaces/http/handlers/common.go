package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/VigorCast/pkg/errors"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
)

// ErrorResponse is the standard error response body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// parseLimit reads ?limit, falling back to the default on bad input.
func parseLimit(c *gin.Context) int {
	limit := defaultListLimit
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit
}

// writeAppError maps an application error to its HTTP status. Server errors
// are masked.
func writeAppError(c *gin.Context, err error) {
	code := errors.GetCode(err)
	if code == errors.CodeUnknown {
		code = errors.ErrCodeInternal
	}
	status := errors.HTTPStatusForCode(code)

	resp := ErrorResponse{Code: string(code), Message: errors.DefaultMessageForCode(code)}
	if status < http.StatusInternalServerError {
		var ae *errors.AppError
		if errors.As(err, &ae) {
			resp.Message = ae.Message
			resp.Detail = ae.Detail
		}
	}
	c.AbortWithStatusJSON(status, resp)
}
