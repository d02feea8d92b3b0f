package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/JonMunkholm/markrecon/internal/core"
	"github.com/go-chi/chi/v5"
)

// maxJSONBody bounds JSON request bodies. Bulk uploads send every row in
// one body, so this is well above the workbook limit.
const maxJSONBody = 64 << 20

// decodeJSON reads a JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: body exceeds %d bytes", core.ErrFileTooLarge, tooLarge.Limit)
		}
		return fmt.Errorf("%w: %v", errInvalidBody, err)
	}
	return nil
}

// handleHealth reports liveness and, when a database is attached, its
// reachability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":        "ok",
		"uploads":       s.service.UploadLimiterStatus(),
		"open_sessions": s.service.OpenSessions(),
	}
	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.Ping(ctx); err != nil {
			s.respondError(w, r, fmt.Errorf("%w: %v", errDatabaseHealth, err), http.StatusServiceUnavailable)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handlePrepare resolves institution codes and returns the lookup index.
func (s *Server) handlePrepare(w http.ResponseWriter, r *http.Request) {
	var req core.PrepareRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	ctx := WithRequestMetadata(r.Context(), r)
	result, err := s.service.Prepare(ctx, req)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleProcessBatch commits one chunk against a caller-supplied index.
func (s *Server) handleProcessBatch(w http.ResponseWriter, r *http.Request) {
	var req core.BatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	ctx := WithRequestMetadata(r.Context(), r)
	result, err := s.service.ProcessBatch(ctx, req)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleBulkUpload runs a whole upload from JSON rows.
func (s *Server) handleBulkUpload(w http.ResponseWriter, r *http.Request) {
	var req core.BulkUploadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	ctx := WithRequestMetadata(r.Context(), r)
	result, err := s.service.BulkUpload(ctx, req)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleBulkUploadFile runs a whole upload from a multipart .xlsx file.
// Form fields: file, uploaded_by, lookup_mode.
func (s *Server) handleBulkUploadFile(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Upload.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = fmt.Errorf("%w: limit is %d bytes", core.ErrFileTooLarge, maxSize)
		} else {
			err = fmt.Errorf("%w: %v", errInvalidBody, err)
		}
		s.respondError(w, r, err, statusFor(err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, errMissingFile, http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, r, fmt.Errorf("read upload: %w", err), http.StatusInternalServerError)
		return
	}

	rows, err := core.ReadWorkbook(bytes.NewReader(data))
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	ctx := WithRequestMetadata(r.Context(), r)
	result, err := s.service.BulkUpload(ctx, core.BulkUploadRequest{
		MarksData:   rows,
		UploadedBy:  r.FormValue("uploaded_by"),
		LookupMode:  r.FormValue("lookup_mode"),
		FileName:    header.Filename,
		FileContent: data,
	})
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// bulkDeleteRequest is the body of POST /bulk-delete.
type bulkDeleteRequest struct {
	IDs []string `json:"ids"`
}

// handleBulkDelete removes Draft bulk-upload entries.
func (s *Server) handleBulkDelete(w http.ResponseWriter, r *http.Request) {
	var req bulkDeleteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	ctx := WithRequestMetadata(r.Context(), r)
	result, err := s.service.BulkDelete(ctx, req.IDs)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ============================================================================
// Upload sessions
// ============================================================================

// handleOpenSession builds an index and keeps it on the server.
func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req core.OpenSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	ctx := WithRequestMetadata(r.Context(), r)
	info, err := s.service.OpenUploadSession(ctx, req)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

// sessionBatchRequest is the body of POST /uploads/{handle}/batches.
// BatchStartIndex is optional; without it the chunk follows the last one.
type sessionBatchRequest struct {
	Rows            []core.RawRow `json:"batch_data"`
	BatchStartIndex *int          `json:"batch_start_index,omitempty"`
}

// handleSessionBatch commits a chunk within a session.
func (s *Server) handleSessionBatch(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")

	var req sessionBatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	ctx := WithRequestMetadata(r.Context(), r)
	result, err := s.service.ProcessSessionBatch(ctx, handle, req.Rows, req.BatchStartIndex)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleCloseSession discards a session and returns its totals.
func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")

	ctx := WithRequestMetadata(r.Context(), r)
	summary, err := s.service.CloseUploadSession(ctx, handle)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
