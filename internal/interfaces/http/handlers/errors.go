package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	gerrors "github.com/openrelay/gateway/pkg/errors"
)

// statusFor maps a pkg/errors.Code onto the HTTP status the gateway's
// external surfaces report it under.
func statusFor(code gerrors.Code) int {
	switch code {
	case gerrors.CodeValidation:
		return http.StatusBadRequest
	case gerrors.CodeNotFound:
		return http.StatusNotFound
	case gerrors.CodeConflict:
		return http.StatusConflict
	case gerrors.CodeUpstreamAuth:
		return http.StatusUnauthorized
	case gerrors.CodeUpstreamClient:
		return http.StatusBadGateway
	case gerrors.CodeUpstreamNetwork, gerrors.CodeUpstreamServer:
		return http.StatusBadGateway
	case gerrors.CodeStore:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as the OpenAI-shaped {error:{message,type,code}}
// body every external surface uses, regardless of whether err originated
// from the dispatcher, a repository, or request binding.
func writeError(c *gin.Context, err error) {
	code := gerrors.CodeOf(err)
	c.JSON(statusFor(code), gin.H{
		"error": gin.H{
			"message": err.Error(),
			"type":    string(code),
			"code":    string(code),
		},
	})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error": gin.H{
			"message": message,
			"type":    string(gerrors.CodeValidation),
			"code":    string(gerrors.CodeValidation),
		},
	})
}
