// README: Enrollment handlers: parents request, drivers accept or reject.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"schoolrun/internal/http/middleware"
	"schoolrun/internal/modules/enrollment"
	"schoolrun/internal/types"
)

type EnrollmentService interface {
	Request(ctx context.Context, cmd enrollment.RequestCommand) (*enrollment.Request, error)
	Accept(ctx context.Context, cmd enrollment.DecideCommand) (*enrollment.Request, error)
	Reject(ctx context.Context, cmd enrollment.DecideCommand) (*enrollment.Request, error)
}

type EnrollmentHandler struct {
	enrollments EnrollmentService
}

func NewEnrollmentHandler(svc EnrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: svc}
}

type enrollmentRequest struct {
	ChildID  string `json:"childId"`
	DriverID string `json:"driverId"`
}

func (h *EnrollmentHandler) Request(c *gin.Context) {
	var req enrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	r, err := h.enrollments.Request(c.Request.Context(), enrollment.RequestCommand{
		ChildID:  types.ID(req.ChildID),
		DriverID: types.ID(req.DriverID),
		ParentID: types.ID(middleware.CallerUID(c)),
	})
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, r)
}

func (h *EnrollmentHandler) Accept(c *gin.Context) {
	r, err := h.enrollments.Accept(c.Request.Context(), h.decide(c))
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

func (h *EnrollmentHandler) Reject(c *gin.Context) {
	r, err := h.enrollments.Reject(c.Request.Context(), h.decide(c))
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

func (h *EnrollmentHandler) decide(c *gin.Context) enrollment.DecideCommand {
	return enrollment.DecideCommand{
		RequestID: types.ID(c.Param("id")),
		DriverID:  types.ID(middleware.CallerUID(c)),
	}
}
