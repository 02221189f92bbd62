package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "emergency-admission/internal/common/errors"
)

// StatusFor maps an error code to the HTTP status returned to clients.
func StatusFor(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrCodeValidation:
		return http.StatusBadRequest
	case apperrors.ErrCodeFacilityNotFound, apperrors.ErrCodeEntryNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeMoveRejected, apperrors.ErrCodeInvalidTransition, apperrors.ErrCodeSubmissionRetracted:
		return http.StatusConflict
	case apperrors.ErrCodeNoFacilityAvailable, apperrors.ErrCodeAdmissionFailed,
		apperrors.ErrCodeDatabaseConnectionFailed, apperrors.ErrCodeQueryTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	stdErr := apperrors.Normalize(err)
	status := StatusFor(stdErr.Code)

	fields := map[string]interface{}{
		"path":      c.FullPath(),
		"errorCode": string(stdErr.Code),
		"details":   stdErr.Details,
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", fields)
	} else {
		h.logger.Debug("request rejected", fields)
	}

	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{
			"code":      stdErr.Code,
			"message":   stdErr.Message,
			"details":   stdErr.Details,
			"retryable": stdErr.Retryable,
		},
	})
}
