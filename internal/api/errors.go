package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/finova-net/finova-sub005/internal/engineerr"
)

// statusForCode maps the engine's error taxonomy (spec.md §7) onto HTTP
// status codes, the way the teacher's handlers translate a nil-dependency
// guard clause into http.StatusServiceUnavailable.
func statusForCode(code engineerr.Code) int {
	switch code {
	case engineerr.CodeValidation:
		return http.StatusBadRequest
	case engineerr.CodeConcurrencyConflict:
		return http.StatusConflict
	case engineerr.CodeAntiBotRejection:
		return http.StatusForbidden
	case engineerr.CodeDependencyTimeout:
		return http.StatusGatewayTimeout
	case engineerr.CodeDependencyUnavailable:
		return http.StatusServiceUnavailable
	case engineerr.CodeInvariantViolation:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as a JSON body carrying the stable machine
// code, never leaking the wrapped cause to the client.
func writeError(c *gin.Context, err error) {
	var ee *engineerr.EngineError
	if errors.As(err, &ee) {
		c.JSON(statusForCode(ee.Code), gin.H{
			"error": ee.Message,
			"code":  string(ee.Code),
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"error": "internal error",
		"code":  string(engineerr.CodeInvariantViolation),
	})
}
