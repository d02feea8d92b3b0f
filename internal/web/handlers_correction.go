package web

import (
	"net/http"

	"github.com/JonMunkholm/markrecon/internal/core"
)

// handleCorrection applies one marks correction.
func (s *Server) handleCorrection(w http.ResponseWriter, r *http.Request) {
	var req core.CorrectionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	ctx := WithRequestMetadata(r.Context(), r)
	result, err := s.service.Correct(ctx, req)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// historyResponse is the body of GET /correction/history.
type historyResponse struct {
	MarksEntryID string                  `json:"marks_entry_id"`
	Corrections  []core.CorrectionRecord `json:"corrections"`
	NetChange    float64                 `json:"net_change"`
}

// handleCorrectionHistory lists the corrections of an entry, oldest first.
func (s *Server) handleCorrectionHistory(w http.ResponseWriter, r *http.Request) {
	entryID := r.URL.Query().Get("marksEntryId")

	records, err := s.service.History(r.Context(), entryID)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{
		MarksEntryID: entryID,
		Corrections:  records,
		NetChange:    core.NetChange(records),
	})
}
