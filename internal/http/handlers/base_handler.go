// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"schoolrun/internal/apperr"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, kind, msg string) {
	writeJSON(c, status, errorResponse{Error: kind, Message: msg})
}

func badRequest(c *gin.Context, msg string) {
	writeError(c, http.StatusBadRequest, apperr.ErrValidation.Error(), msg)
}

func forbidden(c *gin.Context, msg string) {
	writeError(c, http.StatusForbidden, apperr.ErrForbidden.Error(), msg)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrChildNotInJourney):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrInvalidStatus),
		errors.Is(err, apperr.ErrDuplicate),
		errors.Is(err, apperr.ErrCapacityExceeded),
		errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrNoChildrenAssigned):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperr.ErrETAUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeAppError maps an error kind to its status. Untagged and database errors
// are logged and reported without detail.
func writeAppError(c *gin.Context, err error) {
	status := statusOf(err)
	kind := apperr.KindOf(err)
	if status == http.StatusInternalServerError {
		logrus.WithFields(logrus.Fields{"path": c.FullPath(), "kind": kind}).WithError(err).Error("request failed")
		if kind == "" {
			kind = "internal"
		}
		writeError(c, status, kind, "internal error")
		return
	}
	writeError(c, status, kind, err.Error())
}
