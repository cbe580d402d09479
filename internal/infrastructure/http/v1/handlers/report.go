package handlers

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ncfpos/internal/core/apperror"
	"ncfpos/internal/domain/report"
	"ncfpos/internal/infrastructure/http/v1/dto"
)

// ReportHandler serves the fiscal reports.
type ReportHandler struct {
	*BaseHandler
	service *report.Service
}

// NewReportHandler creates the handler.
func NewReportHandler(base *BaseHandler, service *report.Service) *ReportHandler {
	return &ReportHandler{BaseHandler: base, service: service}
}

type txtWriter interface {
	WriteTXT(w io.Writer) error
}

// Sales handles GET /reports/sales?from=&to=[&format=txt]
func (h *ReportHandler) Sales(c *gin.Context) {
	var q dto.DateRangeQuery
	if !h.BindQuery(c, &q) {
		return
	}
	from, to, err := q.Range()
	if err != nil {
		h.Error(c, apperror.NewValidation(err.Error()))
		return
	}

	rep, err := h.service.Sales(c.Request.Context(), from, to)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.render(c, q.Format, "607", from, rep)
}

// Annulled handles GET /reports/annulled?from=&to=[&format=txt]
func (h *ReportHandler) Annulled(c *gin.Context) {
	var q dto.DateRangeQuery
	if !h.BindQuery(c, &q) {
		return
	}
	from, to, err := q.Range()
	if err != nil {
		h.Error(c, apperror.NewValidation(err.Error()))
		return
	}

	rep, err := h.service.Annulled(c.Request.Context(), from, to)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.render(c, q.Format, "608", from, rep)
}

func (h *ReportHandler) render(c *gin.Context, format, name string, from time.Time, rep txtWriter) {
	if format != "txt" {
		h.OK(c, rep)
		return
	}

	var buf bytes.Buffer
	if err := rep.WriteTXT(&buf); err != nil {
		h.Error(c, apperror.NewInternal(err))
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s_%s.txt"`, name, from.Format("200601")))
	c.Data(http.StatusOK, "text/plain; charset=utf-8", buf.Bytes())
}
