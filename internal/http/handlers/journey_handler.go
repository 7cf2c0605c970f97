// README: Journey handlers: create, read, start, end, child status.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"schoolrun/internal/http/middleware"
	"schoolrun/internal/modules/journey"
	"schoolrun/internal/modules/routing"
	"schoolrun/internal/types"
)

type JourneyService interface {
	Get(ctx context.Context, id types.ID) (*journey.Journey, error)
	Create(ctx context.Context, cmd journey.CreateCommand) (*journey.Journey, error)
	Start(ctx context.Context, cmd journey.StartCommand) (*journey.Journey, error)
	UpdateChildStatus(ctx context.Context, cmd journey.ChildStatusCommand) (*journey.Journey, error)
	End(ctx context.Context, cmd journey.EndCommand) (*journey.Journey, error)
}

type JourneyHandler struct {
	journeys JourneyService
}

func NewJourneyHandler(svc JourneyService) *JourneyHandler {
	return &JourneyHandler{journeys: svc}
}

type createJourneyRequest struct {
	Type       string `json:"type"`
	Date       string `json:"date"`
	AllowEmpty bool   `json:"allowEmpty"`
}

func (h *JourneyHandler) Create(c *gin.Context) {
	var req createJourneyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	j, err := h.journeys.Create(c.Request.Context(), journey.CreateCommand{
		DriverID:   types.ID(middleware.CallerUID(c)),
		Type:       routing.JourneyType(req.Type),
		Date:       types.Date(req.Date),
		AllowEmpty: req.AllowEmpty,
	})
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, j)
}

// Get is open to the journey's driver, the parents of its children and admins.
func (h *JourneyHandler) Get(c *gin.Context) {
	j, err := h.journeys.Get(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeAppError(c, err)
		return
	}
	if !canView(c, j) {
		forbidden(c, "journey belongs to another driver")
		return
	}
	writeJSON(c, http.StatusOK, j)
}

func canView(c *gin.Context, j *journey.Journey) bool {
	if middleware.CallerRole(c) == middleware.RoleAdmin {
		return true
	}
	uid := types.ID(middleware.CallerUID(c))
	if j.DriverID == uid {
		return true
	}
	for _, ch := range j.Children {
		if ch.ParentID == uid {
			return true
		}
	}
	return false
}

type startJourneyRequest struct {
	StartLocation *types.Point `json:"startLocation"`
}

func (h *JourneyHandler) Start(c *gin.Context) {
	var req startJourneyRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid body")
			return
		}
	}
	j, err := h.journeys.Start(c.Request.Context(), journey.StartCommand{
		JourneyID:     types.ID(c.Param("id")),
		DriverID:      types.ID(middleware.CallerUID(c)),
		StartLocation: req.StartLocation,
	})
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, j)
}

func (h *JourneyHandler) End(c *gin.Context) {
	j, err := h.journeys.End(c.Request.Context(), journey.EndCommand{
		JourneyID: types.ID(c.Param("id")),
		DriverID:  types.ID(middleware.CallerUID(c)),
	})
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, j)
}

type childStatusRequest struct {
	Status   string       `json:"status"`
	Location *types.Point `json:"location"`
}

func (h *JourneyHandler) UpdateChildStatus(c *gin.Context) {
	var req childStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	j, err := h.journeys.UpdateChildStatus(c.Request.Context(), journey.ChildStatusCommand{
		JourneyID: types.ID(c.Param("id")),
		DriverID:  types.ID(middleware.CallerUID(c)),
		ChildID:   types.ID(c.Param("childId")),
		Status:    journey.ChildStatus(req.Status),
		Location:  req.Location,
	})
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, j)
}
