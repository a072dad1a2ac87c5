package db

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func okCheck(name string) Check {
	return Check{Name: name, Ping: func(context.Context) error { return nil }}
}

func failingCheck(name string) Check {
	return Check{Name: name, Ping: func(context.Context) error { return errors.New("connection refused") }}
}

func TestRunChecks_AllHealthy(t *testing.T) {
	results, healthy := runChecks(context.Background(), []Check{okCheck("primary"), okCheck("dispatch_log")})
	if !healthy {
		t.Fatal("expected healthy")
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for _, r := range results {
		if !r.Healthy || r.Error != "" {
			t.Errorf("unexpected result %+v", r)
		}
	}
}

func TestRunChecks_OneFailing(t *testing.T) {
	results, healthy := runChecks(context.Background(), []Check{okCheck("primary"), failingCheck("dispatch_log")})
	if healthy {
		t.Fatal("expected unhealthy")
	}
	if results[1].Healthy || results[1].Error != "connection refused" {
		t.Errorf("unexpected result %+v", results[1])
	}
}

func TestHealthHandler_Unhealthy(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health/db", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := healthHandler(func() *PoolStats { return &PoolStats{MaxConns: 20} }, []Check{failingCheck("primary")})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "unhealthy" {
		t.Errorf("expected status unhealthy, got %v", body["status"])
	}
}

func TestHealthHandler_Healthy(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health/db", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := healthHandler(func() *PoolStats { return &PoolStats{} }, []Check{okCheck("primary")})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
