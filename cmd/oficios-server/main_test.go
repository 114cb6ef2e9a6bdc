package main

import (
	"bytes"
	"encoding/json"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/labforense/oficios/internal/config"
	"github.com/labforense/oficios/internal/domain/casework"
	"github.com/labforense/oficios/internal/domain/oficio"
	"github.com/labforense/oficios/internal/domain/routing"
	"github.com/labforense/oficios/internal/platform/auth"
	"github.com/labforense/oficios/internal/platform/blobstore"
	"github.com/labforense/oficios/internal/platform/metrics"
	"github.com/labforense/oficios/internal/platform/middleware"
	"github.com/labforense/oficios/internal/testutil/memdb"
)

func TestMigrationFiles_Embedded(t *testing.T) {
	files, err := fs.Glob(migrationFiles(""), "*.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(files) == 0 {
		t.Fatal("expected embedded migrations")
	}
}

func TestRunServer_ConfigErrors(t *testing.T) {
	t.Run("missing database url", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "")
		err := runServer()
		if err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
			t.Fatalf("expected DATABASE_URL error, got %v", err)
		}
	})
	t.Run("production without auth", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://localhost:1/none")
		t.Setenv("ENV", "production")
		for _, k := range []string{"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY"} {
			t.Setenv(k, "")
		}
		err := runServer()
		if err == nil || !strings.Contains(err.Error(), "invalid configuration") {
			t.Fatalf("expected validation error, got %v", err)
		}
	})
}

func testServer(t *testing.T) (*echo.Echo, *memdb.DB) {
	t.Helper()
	mdb := memdb.New()
	reg := prometheus.NewRegistry()
	blobs := blobstore.NewInMemoryBlobStore()
	a := &app{
		blobs:   blobs,
		oficios: oficio.NewService(mdb.Cases(), mdb.Examiners()),
		casework: casework.NewService(casework.Deps{
			Tx:        mdb,
			Cases:     mdb.Cases(),
			Examiners: mdb.Examiners(),
			Events:    mdb.Tracking(),
			Samples:   mdb.Samples(),
			Results:   mdb.Results(),
			Metadata:  mdb.Metadata(),
			Workload:  mdb.Workload(),
			Blobs:     blobs,
			Metrics:   metrics.NewMutations(reg),
			Logger:    zerolog.Nop(),
		}),
	}
	cfg := &config.Config{
		Env:            "development",
		CORSOrigins:    []string{"*"},
		RequestTimeout: 5 * time.Second,
		RateLimitRPS:   1000,
		RateLimitBurst: 1000,
	}
	return newEcho(cfg, a, reg, zerolog.Nop()), mdb
}

func serve(e *echo.Echo, method, path, examiner string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if examiner != "" {
		req.Header.Set(auth.DevExaminerHeader, examiner)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestServer_HealthAndMetrics(t *testing.T) {
	e, _ := testServer(t)

	rec := serve(e, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health: expected 200, got %d", rec.Code)
	}
	if rec.Header().Get(middleware.RequestIDHeader) == "" {
		t.Error("expected a request id header")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers")
	}

	rec = serve(e, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "oficios_http_requests_total") {
		t.Error("expected http request counter in exposition")
	}
}

func TestServer_CaseRoutes(t *testing.T) {
	e, mdb := testServer(t)

	intake := &oficio.Examiner{FullName: "Mesa Partes", Section: routing.SectionLaboratory, Active: true}
	collector := &oficio.Examiner{FullName: "Rosa Quispe", Section: routing.SectionSampleCollection, Active: true}
	for _, ex := range []*oficio.Examiner{intake, collector} {
		if err := mdb.Examiners().Create(t.Context(), ex); err != nil {
			t.Fatalf("create examiner: %v", err)
		}
	}

	rec := serve(e, http.MethodPost, "/api/v1/cases", intake.ID.String(), map[string]interface{}{
		"case_number":    "OF-2024-0100",
		"required_exams": []string{"sarro_ungueal", "dosaje_etilico"},
		"examiner_id":    collector.ID,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("open: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var c oficio.Case
	if err := json.Unmarshal(rec.Body.Bytes(), &c); err != nil {
		t.Fatalf("decode case: %v", err)
	}

	rec = serve(e, http.MethodGet, "/api/v1/cases?limit=5", intake.ID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}
	var page struct {
		Total int `json:"total"`
		Links []struct {
			Relation string `json:"relation"`
		} `json:"links"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if page.Total != 1 || len(page.Links) != 1 {
		t.Errorf("unexpected page %+v", page)
	}

	rec = serve(e, http.MethodGet, "/api/v1/cases/"+c.ID.String()+"/next-step", intake.ID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("next-step: expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"section":"sample_collection"`) {
		t.Errorf("expected sample collection first, got %s", rec.Body.String())
	}

	rec = serve(e, http.MethodGet, "/api/v1/cases/"+uuid.NewString(), intake.ID.String(), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown case, got %d", rec.Code)
	}

	rec = serve(e, http.MethodGet, "/api/v1/artifacts/cases/OF-2024-0100/none.pdf", intake.ID.String(), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for missing artifact, got %d", rec.Code)
	}
}
