// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"schoolrun/internal/http/handlers"
	"schoolrun/internal/http/middleware"
	"schoolrun/internal/infra"
	"schoolrun/internal/metrics"
)

type RouterDeps struct {
	Verifier    infra.TokenVerifier
	Metrics     *metrics.Collector
	Journeys    handlers.JourneyService
	Locations   handlers.LocationIngest
	Positions   handlers.LocationReader
	Roster      handlers.DriverRoster
	Absences    handlers.AbsenceService
	Enrollments handlers.EnrollmentService
}

func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(), middleware.Logging(deps.Metrics))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	api := r.Group("/api", middleware.Auth(deps.Verifier))
	driver := middleware.RequireRole(middleware.RoleDriver)

	journeys := handlers.NewJourneyHandler(deps.Journeys)
	api.POST("/journeys", driver, journeys.Create)
	api.GET("/journeys/:id", journeys.Get)
	api.POST("/journeys/:id/start", driver, journeys.Start)
	api.POST("/journeys/:id/end", driver, journeys.End)
	api.PUT("/journeys/:id/children/:childId/status", driver, journeys.UpdateChildStatus)

	locations := handlers.NewLocationHandler(deps.Locations, deps.Positions, deps.Roster)
	api.PUT("/drivers/:id/location", driver, locations.Update)
	api.GET("/drivers/:id/location", locations.Current)
	api.GET("/drivers/:id/location/history", locations.History)

	absences := handlers.NewAbsenceHandler(deps.Absences)
	api.POST("/absences", absences.Mark)
	api.DELETE("/absences/:childId/:date", absences.Cancel)

	enrollments := handlers.NewEnrollmentHandler(deps.Enrollments)
	api.POST("/enrollments", enrollments.Request)
	api.POST("/enrollments/:id/accept", driver, enrollments.Accept)
	api.POST("/enrollments/:id/reject", driver, enrollments.Reject)

	return r
}
