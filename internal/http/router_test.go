package http_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	schoolhttp "schoolrun/internal/http"
	"schoolrun/internal/infra"
	"schoolrun/internal/metrics"
)

type roleVerifier struct{ role string }

func (v roleVerifier) VerifyIDToken(_ context.Context, raw string) (*infra.Token, error) {
	return &infra.Token{UID: raw, Claims: map[string]interface{}{"role": v.role}}, nil
}

func TestRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := metrics.NewCollector()
	r := schoolhttp.NewRouter(schoolhttp.RouterDeps{Verifier: roleVerifier{role: "parent"}, Metrics: m})

	cases := []struct {
		name, method, path, auth string
		want                     int
	}{
		{"health is public", http.MethodGet, "/health", "", http.StatusOK},
		{"metrics is public", http.MethodGet, "/metrics", "", http.StatusOK},
		{"api needs a token", http.MethodGet, "/api/journeys/j1", "", http.StatusUnauthorized},
		{"parents cannot create journeys", http.MethodPost, "/api/journeys", "Bearer p1", http.StatusForbidden},
		{"parents cannot push locations", http.MethodPut, "/api/drivers/p1/location", "Bearer p1", http.StatusForbidden},
		{"parents cannot read an unrelated driver's location", http.MethodGet, "/api/drivers/d1/location", "Bearer p1", http.StatusForbidden},
		{"parents cannot accept enrollments", http.MethodPost, "/api/enrollments/r1/accept", "Bearer p1", http.StatusForbidden},
		{"unknown route", http.MethodGet, "/api/nowhere", "Bearer p1", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			if tc.auth != "" {
				req.Header.Set("Authorization", tc.auth)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, w.Code)
			}
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if !strings.Contains(w.Body.String(), "schoolrun_http_requests_total") {
		t.Fatal("expected http request counter in metrics output")
	}
}
