// README: Absence handlers for parents.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"schoolrun/internal/http/middleware"
	"schoolrun/internal/modules/absence"
	"schoolrun/internal/types"
)

type AbsenceService interface {
	MarkAbsent(ctx context.Context, cmd absence.MarkCommand) (*absence.Summary, error)
	CancelAbsence(ctx context.Context, cmd absence.CancelCommand) (*absence.Summary, error)
}

type AbsenceHandler struct {
	absences AbsenceService
}

func NewAbsenceHandler(svc AbsenceService) *AbsenceHandler {
	return &AbsenceHandler{absences: svc}
}

type markAbsentRequest struct {
	ChildID string `json:"childId"`
	Date    string `json:"date"`
	Reason  string `json:"reason"`
}

func (h *AbsenceHandler) Mark(c *gin.Context) {
	var req markAbsentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	sum, err := h.absences.MarkAbsent(c.Request.Context(), absence.MarkCommand{
		ChildID:  types.ID(req.ChildID),
		Date:     types.Date(req.Date),
		Reason:   req.Reason,
		ParentID: owner(c),
	})
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, sum)
}

func (h *AbsenceHandler) Cancel(c *gin.Context) {
	sum, err := h.absences.CancelAbsence(c.Request.Context(), absence.CancelCommand{
		ChildID:  types.ID(c.Param("childId")),
		Date:     types.Date(c.Param("date")),
		ParentID: owner(c),
	})
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, sum)
}

// owner is the parent whose child is being changed; admins act for any parent.
func owner(c *gin.Context) types.ID {
	if middleware.CallerRole(c) == middleware.RoleAdmin {
		return ""
	}
	return types.ID(middleware.CallerUID(c))
}
