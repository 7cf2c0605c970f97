// README: Driver location handlers.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"schoolrun/internal/http/middleware"
	"schoolrun/internal/modules/directory"
	"schoolrun/internal/modules/journey"
	"schoolrun/internal/modules/location"
	"schoolrun/internal/types"
)

// LocationIngest stores a sample and runs arrival detection.
type LocationIngest interface {
	HandleLocationUpdate(ctx context.Context, driverID types.ID, p types.Point) (*journey.LocationResult, error)
}

type LocationReader interface {
	Current(ctx context.Context, driverID types.ID) (*location.Sample, error)
	History(ctx context.Context, driverID types.ID, start, end *time.Time) ([]location.Sample, error)
}

// DriverRoster lists the children a driver carries. Their parents may follow the driver.
type DriverRoster interface {
	EnrolledChildren(ctx context.Context, driverID types.ID) ([]directory.Child, error)
}

type LocationHandler struct {
	ingest LocationIngest
	reader LocationReader
	roster DriverRoster
}

func NewLocationHandler(ingest LocationIngest, reader LocationReader, roster DriverRoster) *LocationHandler {
	return &LocationHandler{ingest: ingest, reader: reader, roster: roster}
}

// Update accepts a sample only from the driver it belongs to.
func (h *LocationHandler) Update(c *gin.Context) {
	id := c.Param("id")
	if middleware.CallerUID(c) != id {
		forbidden(c, "id does not match authenticated user")
		return
	}
	var p types.Point
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, "invalid body")
		return
	}
	res, err := h.ingest.HandleLocationUpdate(c.Request.Context(), types.ID(id), p)
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

// Current and History are open to the driver, parents of the driver's enrolled
// children and admins.
func (h *LocationHandler) Current(c *gin.Context) {
	driverID := types.ID(c.Param("id"))
	if !h.authorizeRead(c, driverID) {
		return
	}
	s, err := h.reader.Current(c.Request.Context(), driverID)
	if err != nil {
		writeAppError(c, err)
		return
	}
	if s == nil {
		writeError(c, http.StatusNotFound, "not_found", "no location recorded")
		return
	}
	writeJSON(c, http.StatusOK, s)
}

func (h *LocationHandler) History(c *gin.Context) {
	driverID := types.ID(c.Param("id"))
	if !h.authorizeRead(c, driverID) {
		return
	}
	start, err := parseTimeQuery(c, "start")
	if err != nil {
		badRequest(c, "start must be RFC3339")
		return
	}
	end, err := parseTimeQuery(c, "end")
	if err != nil {
		badRequest(c, "end must be RFC3339")
		return
	}
	samples, err := h.reader.History(c.Request.Context(), driverID, start, end)
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"samples": samples})
}

// authorizeRead writes the error response and returns false when the caller may
// not see driverID's positions.
func (h *LocationHandler) authorizeRead(c *gin.Context, driverID types.ID) bool {
	if middleware.CallerRole(c) == middleware.RoleAdmin {
		return true
	}
	uid := types.ID(middleware.CallerUID(c))
	if uid == driverID {
		return true
	}
	if middleware.CallerRole(c) == middleware.RoleParent && h.roster != nil {
		children, err := h.roster.EnrolledChildren(c.Request.Context(), driverID)
		if err != nil {
			writeAppError(c, err)
			return false
		}
		for _, ch := range children {
			if ch.ParentID == uid {
				return true
			}
		}
	}
	forbidden(c, "no child of yours rides with this driver")
	return false
}

func parseTimeQuery(c *gin.Context, key string) (*time.Time, error) {
	v := c.Query(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
