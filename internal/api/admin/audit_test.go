package admin

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"

	"github.com/license-console/license-console/internal/db/models"
	"github.com/license-console/license-console/internal/services"
)

func newAuditRouter(s *stubAudit) *gin.Engine {
	h := NewAuditHandlers(s)
	h.now = func() time.Time { return time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC) }
	r := gin.New()
	r.Use(withActor("auditor"))
	r.GET("/audit-logs", h.QueryAuditLogsHandler())
	r.GET("/audit-logs/export", h.ExportAuditLogsHandler())
	return r
}

func sampleEntries() []*models.AuditLog {
	org := "org-1"
	return []*models.AuditLog{{
		ID:             "log-1",
		Actor:          "alice",
		Action:         models.ActionOrganizationSuspend,
		ResourceType:   models.ResourceOrganization,
		ResourceID:     "org-1",
		OrganizationID: &org,
		Details:        "suspended Acme Corp",
		CreatedAt:      time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}}
}

// ---------------------------------------------------------------------------
// QueryAuditLogsHandler
// ---------------------------------------------------------------------------

func TestQueryAuditLogs_Filters(t *testing.T) {
	var got services.AuditQuery
	r := newAuditRouter(&stubAudit{query: func(q services.AuditQuery) (*services.AuditPage, error) {
		got = q
		return &services.AuditPage{Entries: sampleEntries(), Total: 1, Limit: 50}, nil
	}})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET",
		"/audit-logs?actor=alice&action=organization.suspend&organization_id=org-1&from=2026-05-01T00:00:00Z&to=2026-05-02T00:00:00Z", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: body=%s", w.Code, w.Body.String())
	}
	if got.Actor != "alice" || got.Action != "organization.suspend" || got.OrganizationID != "org-1" {
		t.Errorf("query = %+v", got)
	}
	if got.From == nil || !got.From.Equal(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("From = %v", got.From)
	}
	if got.To == nil || !got.To.Equal(time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("To = %v", got.To)
	}
	resp := getJSON(w)
	logs, _ := resp["audit_logs"].([]interface{})
	if len(logs) != 1 {
		t.Errorf("audit_logs len = %d, want 1", len(logs))
	}
	if resp["pagination"] == nil {
		t.Error("response missing 'pagination'")
	}
}

func TestQueryAuditLogs_BadTimestamp(t *testing.T) {
	r := newAuditRouter(&stubAudit{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/audit-logs?from=yesterday", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestQueryAuditLogs_InvalidAction(t *testing.T) {
	r := newAuditRouter(&stubAudit{query: func(services.AuditQuery) (*services.AuditPage, error) {
		return nil, services.ValidationError("invalid input",
			services.FieldError{Field: "action", Message: "unknown audit action"})
	}})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/audit-logs?action=organization.explode", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if f := errorFields(w); len(f) != 1 || f[0] != "action" {
		t.Errorf("fields = %v", f)
	}
}

// ---------------------------------------------------------------------------
// ExportAuditLogsHandler
// ---------------------------------------------------------------------------

func exportEntries(_ services.AuditQuery, w io.Writer) (int, error) {
	entries := sampleEntries()
	return len(entries), services.WriteCSV(w, entries)
}

func TestExportAuditLogs_CSV(t *testing.T) {
	r := newAuditRouter(&stubAudit{export: exportEntries})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/audit-logs/export?actor=alice", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: body=%s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "audit-logs-20260504T030201Z.csv") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if w.Header().Get("Content-Encoding") != "" {
		t.Error("uncompressed export must not set Content-Encoding")
	}
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want header + 1 row", len(lines))
	}
	if !strings.Contains(lines[1], "organization.suspend") {
		t.Errorf("row = %q", lines[1])
	}
}

func TestExportAuditLogs_Gzip(t *testing.T) {
	r := newAuditRouter(&stubAudit{export: exportEntries})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/audit-logs/export?compress=gzip", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if w.Header().Get("Content-Encoding") != "gzip" {
		t.Errorf("Content-Encoding = %q, want gzip", w.Header().Get("Content-Encoding"))
	}
	zr, err := gzip.NewReader(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	plain, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("read gzip body: %v", err)
	}
	if !strings.Contains(string(plain), "suspended Acme Corp") {
		t.Errorf("decompressed body = %q", plain)
	}
}

func TestExportAuditLogs_BadCompress(t *testing.T) {
	r := newAuditRouter(&stubAudit{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/audit-logs/export?compress=zstd", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if f := errorFields(w); len(f) != 1 || f[0] != "compress" {
		t.Errorf("fields = %v", f)
	}
}

func TestExportAuditLogs_ErrorBeforeOutput(t *testing.T) {
	r := newAuditRouter(&stubAudit{export: func(services.AuditQuery, io.Writer) (int, error) {
		return 0, services.ValidationError("export too large",
			services.FieldError{Field: "to", Message: "narrow the time range"})
	}})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/audit-logs/export", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("Content-Type = %q, want JSON error", ct)
	}
}

func TestExportAuditLogs_ErrorAfterOutput(t *testing.T) {
	r := newAuditRouter(&stubAudit{export: func(_ services.AuditQuery, w io.Writer) (int, error) {
		_, _ = io.WriteString(w, "id,created_at\n")
		return 0, services.StorageError("export audit logs", errDB)
	}})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/audit-logs/export", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 (headers already sent)", w.Code)
	}
	if !strings.HasPrefix(w.Body.String(), "id,created_at") {
		t.Errorf("body = %q", w.Body.String())
	}
}
