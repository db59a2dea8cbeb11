// audit.go implements handlers for querying and exporting the audit ledger.
package admin

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"

	"github.com/license-console/license-console/internal/api/httperr"
	"github.com/license-console/license-console/internal/services"
)

// AuditHandlers handles audit ledger endpoints
type AuditHandlers struct {
	ledger AuditService
	now    func() time.Time
}

// NewAuditHandlers creates a new AuditHandlers instance
func NewAuditHandlers(ledger AuditService) *AuditHandlers {
	return &AuditHandlers{ledger: ledger, now: time.Now}
}

// @Summary      Query audit logs
// @Description  Newest-first page of ledger entries. Filters combine with AND; to is inclusive.
// @Tags         Audit
// @Security     Bearer
// @Produce      json
// @Param        actor            query  string  false  "Actor"
// @Param        action           query  string  false  "Audit action, e.g. organization.suspend"
// @Param        resource_type    query  string  false  "organization or plan"
// @Param        resource         query  string  false  "Resource id"
// @Param        organization_id  query  string  false  "Target organization"
// @Param        from             query  string  false  "RFC 3339 lower bound"
// @Param        to               query  string  false  "RFC 3339 upper bound"
// @Param        limit            query  int     false  "Page size, max 200 (default 50)"
// @Param        offset           query  int     false  "Offset"
// @Success      200  {object}  map[string]interface{}  "audit_logs, pagination"
// @Failure      400  {object}  map[string]interface{}  "Invalid filter"
// @Router       /api/v1/audit-logs [get]
// QueryAuditLogsHandler returns one page of ledger entries
func (h *AuditHandlers) QueryAuditLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var q services.AuditQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			httperr.BindError(c, err)
			return
		}

		page, err := h.ledger.Query(c.Request.Context(), q)
		if err != nil {
			httperr.Respond(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"audit_logs": page.Entries,
			"pagination": pagination(page.Total, page.Limit, page.Offset),
		})
	}
}

// deferredResponse sets the download headers on the first write, so an export that fails
// before producing output can still answer with a JSON error
type deferredResponse struct {
	c       *gin.Context
	header  func(http.Header)
	started bool
}

func (d *deferredResponse) Write(p []byte) (int, error) {
	if !d.started {
		d.started = true
		d.header(d.c.Writer.Header())
		d.c.Status(http.StatusOK)
	}
	return d.c.Writer.Write(p)
}

// @Summary      Export audit logs
// @Description  Streams matching entries as CSV, newest first, up to the configured row cap. Accepts the same filters as the query endpoint.
// @Tags         Audit
// @Security     Bearer
// @Produce      text/csv
// @Param        actor            query  string  false  "Actor"
// @Param        action           query  string  false  "Audit action"
// @Param        resource_type    query  string  false  "organization or plan"
// @Param        resource         query  string  false  "Resource id"
// @Param        organization_id  query  string  false  "Target organization"
// @Param        from             query  string  false  "RFC 3339 lower bound"
// @Param        to               query  string  false  "RFC 3339 upper bound"
// @Param        compress         query  string  false  "gzip to compress the download"
// @Success      200  {file}  file  "CSV export"
// @Failure      400  {object}  map[string]interface{}  "Invalid filter"
// @Router       /api/v1/audit-logs/export [get]
// ExportAuditLogsHandler streams matching entries as CSV, optionally gzip-encoded
func (h *AuditHandlers) ExportAuditLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var q services.AuditQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			httperr.BindError(c, err)
			return
		}
		compress := c.Query("compress")
		if compress != "" && compress != "gzip" {
			httperr.Validation(c, "compress", "must be gzip")
			return
		}

		filename := fmt.Sprintf("audit-logs-%s.csv", h.now().UTC().Format("20060102T150405Z"))
		out := &deferredResponse{c: c, header: func(hd http.Header) {
			hd.Set("Content-Type", "text/csv; charset=utf-8")
			hd.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
			if compress == "gzip" {
				hd.Set("Content-Encoding", "gzip")
				hd.Add("Vary", "Accept-Encoding")
			}
		}}

		var w io.Writer = out
		var gz *gzip.Writer
		if compress == "gzip" {
			gz = gzip.NewWriter(out)
			w = gz
		}

		rows, err := h.ledger.Export(c.Request.Context(), q, w)
		if err != nil {
			if !out.started {
				httperr.Respond(c, err)
				return
			}
			// Headers are gone; the client sees a truncated download.
			_ = c.Error(err)
			slog.Error("audit export aborted", "error", err, "rows", rows)
			c.Abort()
			return
		}
		if gz != nil {
			if err := gz.Close(); err != nil {
				_ = c.Error(err)
				slog.Error("audit export gzip close failed", "error", err)
			}
		}
		slog.Info("audit log exported", "actor", actor(c), "rows", rows, "compressed", gz != nil)
	}
}
