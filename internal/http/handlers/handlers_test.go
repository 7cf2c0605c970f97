package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"schoolrun/internal/apperr"
	"schoolrun/internal/http/handlers"
	"schoolrun/internal/http/middleware"
	"schoolrun/internal/infra"
	"schoolrun/internal/modules/absence"
	"schoolrun/internal/modules/directory"
	"schoolrun/internal/modules/enrollment"
	"schoolrun/internal/modules/journey"
	"schoolrun/internal/modules/location"
	"schoolrun/internal/types"
)

type stubVerifier struct{ token *infra.Token }

func (s stubVerifier) VerifyIDToken(_ context.Context, _ string) (*infra.Token, error) {
	return s.token, nil
}

func caller(uid, role string) infra.TokenVerifier {
	return stubVerifier{token: &infra.Token{UID: uid, Claims: map[string]interface{}{"role": role}}}
}

func engine(v infra.TokenVerifier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Auth(v))
	return r
}

func do(r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer token")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errorKind(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, w.Body.String())
	}
	return body.Error
}

type stubJourneys struct {
	journey *journey.Journey
	err     error
	create  journey.CreateCommand
	status  journey.ChildStatusCommand
}

func (s *stubJourneys) Get(_ context.Context, _ types.ID) (*journey.Journey, error) {
	return s.journey, s.err
}

func (s *stubJourneys) Create(_ context.Context, cmd journey.CreateCommand) (*journey.Journey, error) {
	s.create = cmd
	return s.journey, s.err
}

func (s *stubJourneys) Start(_ context.Context, _ journey.StartCommand) (*journey.Journey, error) {
	return s.journey, s.err
}

func (s *stubJourneys) UpdateChildStatus(_ context.Context, cmd journey.ChildStatusCommand) (*journey.Journey, error) {
	s.status = cmd
	return s.journey, s.err
}

func (s *stubJourneys) End(_ context.Context, _ journey.EndCommand) (*journey.Journey, error) {
	return s.journey, s.err
}

func TestErrorKindsMapToStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{apperr.New(apperr.ErrValidation, "bad"), http.StatusBadRequest, "validation_error"},
		{apperr.New(apperr.ErrForbidden, "no"), http.StatusForbidden, "forbidden"},
		{apperr.New(apperr.ErrNotFound, "gone"), http.StatusNotFound, "not_found"},
		{apperr.New(apperr.ErrChildNotInJourney, "c9"), http.StatusNotFound, "child_not_in_journey"},
		{apperr.New(apperr.ErrInvalidStatus, "done"), http.StatusConflict, "invalid_status"},
		{apperr.New(apperr.ErrDuplicate, "again"), http.StatusConflict, "duplicate_entry"},
		{apperr.New(apperr.ErrCapacityExceeded, "full"), http.StatusConflict, "capacity_exceeded"},
		{apperr.New(apperr.ErrConflict, "raced"), http.StatusConflict, "conflict"},
		{apperr.New(apperr.ErrNoChildrenAssigned, "empty"), http.StatusUnprocessableEntity, "no_children_assigned"},
		{apperr.Database("journeys.get", errors.New("deadline")), http.StatusInternalServerError, "database_error"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		t.Run(tc.kind, func(t *testing.T) {
			r := engine(caller("d1", "driver"))
			r.POST("/journeys", handlers.NewJourneyHandler(&stubJourneys{err: tc.err}).Create)
			w := do(r, http.MethodPost, "/journeys", map[string]any{"type": "morning", "date": "2026-03-02"})
			if w.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, w.Code)
			}
			if got := errorKind(t, w); got != tc.kind {
				t.Fatalf("expected kind %q, got %q", tc.kind, got)
			}
		})
	}
}

func TestCreateJourneyUsesCaller(t *testing.T) {
	stub := &stubJourneys{journey: &journey.Journey{ID: "d1_2026-03-02_morning"}}
	r := engine(caller("d1", "driver"))
	r.POST("/journeys", handlers.NewJourneyHandler(stub).Create)

	w := do(r, http.MethodPost, "/journeys", map[string]any{"type": "morning", "date": "2026-03-02", "allowEmpty": true})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if stub.create.DriverID != "d1" || stub.create.Type != "morning" || !stub.create.AllowEmpty {
		t.Fatalf("unexpected command %+v", stub.create)
	}
}

func TestGetJourneyVisibility(t *testing.T) {
	j := &journey.Journey{
		ID:       "j1",
		DriverID: "d1",
		Children: []journey.ChildEntry{{ChildID: "c1", ParentID: "p1"}},
	}
	cases := []struct {
		uid, role string
		want      int
	}{
		{"d1", "driver", http.StatusOK},
		{"p1", "parent", http.StatusOK},
		{"ops", "admin", http.StatusOK},
		{"p2", "parent", http.StatusForbidden},
		{"d2", "driver", http.StatusForbidden},
	}
	for _, tc := range cases {
		r := engine(caller(tc.uid, tc.role))
		r.GET("/journeys/:id", handlers.NewJourneyHandler(&stubJourneys{journey: j}).Get)
		if w := do(r, http.MethodGet, "/journeys/j1", nil); w.Code != tc.want {
			t.Errorf("%s: expected %d, got %d", tc.uid, tc.want, w.Code)
		}
	}
}

func TestChildStatusCommand(t *testing.T) {
	stub := &stubJourneys{journey: &journey.Journey{ID: "j1"}}
	r := engine(caller("d1", "driver"))
	r.PUT("/journeys/:id/children/:childId/status", handlers.NewJourneyHandler(stub).UpdateChildStatus)

	w := do(r, http.MethodPut, "/journeys/j1/children/c1/status", map[string]any{
		"status":   "picked_up",
		"location": map[string]float64{"latitude": 1.5, "longitude": 2.5},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	cmd := stub.status
	if cmd.JourneyID != "j1" || cmd.ChildID != "c1" || cmd.DriverID != "d1" || cmd.Status != journey.ChildPickedUp {
		t.Fatalf("unexpected command %+v", cmd)
	}
	if cmd.Location == nil || cmd.Location.Lat != 1.5 || cmd.Location.Lng != 2.5 {
		t.Fatalf("unexpected location %+v", cmd.Location)
	}
}

type stubLocations struct {
	point   types.Point
	current *location.Sample
	start   *time.Time
}

func (s *stubLocations) HandleLocationUpdate(_ context.Context, driverID types.ID, p types.Point) (*journey.LocationResult, error) {
	s.point = p
	return &journey.LocationResult{
		Sample:   location.Sample{Lat: p.Lat, Lng: p.Lng},
		Arrivals: []journey.Arrival{{JourneyID: "j1", StopIndex: 0, ChildIDs: []types.ID{"c1"}}},
	}, nil
}

func (s *stubLocations) Current(_ context.Context, _ types.ID) (*location.Sample, error) {
	return s.current, nil
}

func (s *stubLocations) History(_ context.Context, _ types.ID, start, _ *time.Time) ([]location.Sample, error) {
	s.start = start
	return []location.Sample{}, nil
}

func TestLocationUpdate(t *testing.T) {
	stub := &stubLocations{}
	h := handlers.NewLocationHandler(stub, stub, nil)

	r := engine(caller("d1", "driver"))
	r.PUT("/drivers/:id/location", h.Update)

	if w := do(r, http.MethodPut, "/drivers/d2/location", map[string]float64{"latitude": 1, "longitude": 2}); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for another driver, got %d", w.Code)
	}
	w := do(r, http.MethodPut, "/drivers/d1/location", map[string]float64{"latitude": 1, "longitude": 2})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if stub.point != (types.Point{Lat: 1, Lng: 2}) {
		t.Fatalf("unexpected point %+v", stub.point)
	}
	var res journey.LocationResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(res.Arrivals) != 1 || res.Arrivals[0].JourneyID != "j1" {
		t.Fatalf("unexpected arrivals %+v", res.Arrivals)
	}
}

func TestLocationReads(t *testing.T) {
	stub := &stubLocations{}
	roster := directory.NewMemory()
	roster.PutChild(directory.Child{ID: "c1", ParentID: "p1", SchoolID: "s1", DriverID: "d1"})
	h := handlers.NewLocationHandler(stub, stub, roster)
	r := engine(caller("p1", "parent"))
	r.GET("/drivers/:id/location", h.Current)
	r.GET("/drivers/:id/location/history", h.History)

	if w := do(r, http.MethodGet, "/drivers/d1/location", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without a sample, got %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/drivers/d1/location/history?start=yesterday", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad start, got %d", w.Code)
	}
	w := do(r, http.MethodGet, "/drivers/d1/location/history?start=2026-03-02T07:00:00Z", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if stub.start == nil || !stub.start.Equal(time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start %v", stub.start)
	}
}

func TestLocationReadAccess(t *testing.T) {
	stub := &stubLocations{current: &location.Sample{Lat: 1, Lng: 2}}
	roster := directory.NewMemory()
	roster.PutChild(directory.Child{ID: "c1", ParentID: "p1", SchoolID: "s1", DriverID: "d1"})
	roster.PutChild(directory.Child{ID: "c2", ParentID: "p2", SchoolID: "s1", DriverID: "d2"})
	h := handlers.NewLocationHandler(stub, stub, roster)

	cases := []struct {
		uid, role string
		want      int
	}{
		{"d1", "driver", http.StatusOK},
		{"p1", "parent", http.StatusOK},
		{"admin", "admin", http.StatusOK},
		{"p2", "parent", http.StatusForbidden},
		{"d2", "driver", http.StatusForbidden},
		{"p1", "driver", http.StatusForbidden},
	}
	for _, tc := range cases {
		r := engine(caller(tc.uid, tc.role))
		r.GET("/drivers/:id/location", h.Current)
		r.GET("/drivers/:id/location/history", h.History)
		for _, path := range []string{"/drivers/d1/location", "/drivers/d1/location/history"} {
			w := do(r, http.MethodGet, path, nil)
			if w.Code != tc.want {
				t.Errorf("%s as %s on %s: expected %d, got %d", tc.uid, tc.role, path, tc.want, w.Code)
				continue
			}
			if tc.want == http.StatusForbidden && errorKind(t, w) != "forbidden" {
				t.Errorf("%s on %s: error kind %q", tc.uid, path, errorKind(t, w))
			}
		}
	}
}

type stubAbsences struct {
	mark   absence.MarkCommand
	cancel absence.CancelCommand
}

func (s *stubAbsences) MarkAbsent(_ context.Context, cmd absence.MarkCommand) (*absence.Summary, error) {
	s.mark = cmd
	return &absence.Summary{}, nil
}

func (s *stubAbsences) CancelAbsence(_ context.Context, cmd absence.CancelCommand) (*absence.Summary, error) {
	s.cancel = cmd
	return &absence.Summary{}, nil
}

func TestAbsenceOwner(t *testing.T) {
	stub := &stubAbsences{}
	r := engine(caller("p1", "parent"))
	h := handlers.NewAbsenceHandler(stub)
	r.POST("/absences", h.Mark)
	r.DELETE("/absences/:childId/:date", h.Cancel)

	if w := do(r, http.MethodPost, "/absences", map[string]string{"childId": "c1", "date": "2026-03-02", "reason": "sick"}); w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	if stub.mark.ParentID != "p1" || stub.mark.ChildID != "c1" || stub.mark.Reason != "sick" {
		t.Fatalf("unexpected mark %+v", stub.mark)
	}

	admin := engine(caller("ops", "admin"))
	admin.DELETE("/absences/:childId/:date", h.Cancel)
	if w := do(admin, http.MethodDelete, "/absences/c1/2026-03-02", nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if stub.cancel.ParentID != "" || stub.cancel.Date != "2026-03-02" {
		t.Fatalf("unexpected cancel %+v", stub.cancel)
	}
}

type stubEnrollments struct {
	request enrollment.RequestCommand
	decide  enrollment.DecideCommand
	err     error
}

func (s *stubEnrollments) Request(_ context.Context, cmd enrollment.RequestCommand) (*enrollment.Request, error) {
	s.request = cmd
	return &enrollment.Request{ID: "r1", Status: enrollment.StatusPending}, s.err
}

func (s *stubEnrollments) Accept(_ context.Context, cmd enrollment.DecideCommand) (*enrollment.Request, error) {
	s.decide = cmd
	if s.err != nil {
		return nil, s.err
	}
	return &enrollment.Request{ID: cmd.RequestID, Status: enrollment.StatusAccepted}, nil
}

func (s *stubEnrollments) Reject(_ context.Context, cmd enrollment.DecideCommand) (*enrollment.Request, error) {
	s.decide = cmd
	return &enrollment.Request{ID: cmd.RequestID, Status: enrollment.StatusRejected}, s.err
}

func TestEnrollmentFlow(t *testing.T) {
	stub := &stubEnrollments{}
	h := handlers.NewEnrollmentHandler(stub)

	parent := engine(caller("p1", "parent"))
	parent.POST("/enrollments", h.Request)
	if w := do(parent, http.MethodPost, "/enrollments", map[string]string{"childId": "c1", "driverId": "d1"}); w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	if stub.request.ParentID != "p1" || stub.request.DriverID != "d1" {
		t.Fatalf("unexpected request %+v", stub.request)
	}

	driver := engine(caller("d1", "driver"))
	driver.POST("/enrollments/:id/accept", h.Accept)
	if w := do(driver, http.MethodPost, "/enrollments/r1/accept", nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if stub.decide.RequestID != "r1" || stub.decide.DriverID != "d1" {
		t.Fatalf("unexpected decision %+v", stub.decide)
	}

	stub.err = apperr.New(apperr.ErrCapacityExceeded, "vehicle full")
	w := do(driver, http.MethodPost, "/enrollments/r2/accept", nil)
	if w.Code != http.StatusConflict || errorKind(t, w) != "capacity_exceeded" {
		t.Fatalf("expected 409 capacity_exceeded, got %d %s", w.Code, w.Body.String())
	}
}
