package web

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/JonMunkholm/markrecon/internal/core"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// handleTemplate downloads the upload template for ?mode=.
func (s *Server) handleTemplate(w http.ResponseWriter, r *http.Request) {
	mode, err := core.ParseLookupMode(r.URL.Query().Get("mode"))
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	buf, err := core.WriteTemplate(mode)
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	writeWorkbook(w, core.TemplateFileName(mode), buf)
}

// failedRowsRequest is a batch or upload result plus the mode it ran in.
type failedRowsRequest struct {
	LookupMode string `json:"lookup_mode"`
	core.BatchResult
}

// handleFailedRows turns a result payload into a workbook of the rows
// that need attention.
func (s *Server) handleFailedRows(w http.ResponseWriter, r *http.Request) {
	var req failedRowsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	mode, err := core.ParseLookupMode(req.LookupMode)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	buf, err := core.WriteFailedRows(&req.BatchResult, mode)
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	filename := fmt.Sprintf("failed_rows_%s.xlsx", time.Now().Format("20060102_150405"))
	writeWorkbook(w, filename, buf)
}

func writeWorkbook(w http.ResponseWriter, filename string, buf *bytes.Buffer) {
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}
