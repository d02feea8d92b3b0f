package core

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
)

// CorrectionTypes is the fixed taxonomy a correction must use.
var CorrectionTypes = []string{
	"Data Entry Error",
	"Revaluation",
	"Moderation",
	"Grace Marks",
	"Administrative",
	"Other",
}

// ApprovalApproved is the approval status of engine-applied corrections.
const ApprovalApproved = "Approved"

// CorrectionRequest is the input of the correction operation. NewMarks is
// left as a raw value so a non-numeric submission is reported as invalid
// marks rather than a decoding failure.
type CorrectionRequest struct {
	MarksEntryID    string `json:"marks_entry_id"`
	NewMarks        any    `json:"new_marks"`
	NewMarksInWords string `json:"new_marks_in_words,omitempty"`
	Reason          string `json:"correction_reason"`
	CorrectionType  string `json:"correction_type"`
	ReferenceNumber string `json:"reference_number,omitempty"`
	CorrectedBy     string `json:"corrected_by,omitempty"`
}

// CorrectionResult is returned by a successful correction.
type CorrectionResult struct {
	Entry  MarkEntry        `json:"entry"`
	Record CorrectionRecord `json:"correction"`
}

// normalizeCorrectionType matches t against the taxonomy, ignoring case,
// and returns the canonical spelling.
func normalizeCorrectionType(t string) (string, bool) {
	t = strings.TrimSpace(t)
	for _, ct := range CorrectionTypes {
		if strings.EqualFold(ct, t) {
			return ct, true
		}
	}
	return "", false
}

// checkCorrectionRequest performs the checks that need no stored state.
func checkCorrectionRequest(req CorrectionRequest) (newMarks float64, correctionType string, err error) {
	if _, err := uuid.Parse(strings.TrimSpace(req.MarksEntryID)); err != nil {
		return 0, "", fmt.Errorf("%w: %q", ErrInvalidEntryID, req.MarksEntryID)
	}

	n, ok := ParseNumber(req.NewMarks)
	if !ok {
		return 0, "", fmt.Errorf("%w: new marks must be a number", ErrInvalidMarks)
	}
	if n < 0 {
		return 0, "", fmt.Errorf("%w: marks cannot be negative", ErrInvalidMarks)
	}

	if strings.TrimSpace(req.Reason) == "" {
		return 0, "", ErrMissingReason
	}

	ct, ok := normalizeCorrectionType(req.CorrectionType)
	if !ok {
		return 0, "", fmt.Errorf("%w: %q (allowed: %s)", ErrMissingType, req.CorrectionType,
			strings.Join(CorrectionTypes, ", "))
	}

	return RoundMarks(n), ct, nil
}

// planCorrection builds the record for an entry read under lock.
func planCorrection(req CorrectionRequest, newMarks float64, correctionType string) CorrectionPlanner {
	return func(current MarkEntry) (CorrectionRecord, error) {
		if newMarks > current.MarksOutOf {
			return CorrectionRecord{}, fmt.Errorf("%w: marks cannot exceed maximum (%s)",
				ErrInvalidMarks, FormatMarks(current.MarksOutOf))
		}
		if newMarks == RoundMarks(current.MarksObtained) {
			return CorrectionRecord{}, ErrNoChange
		}

		words := strings.TrimSpace(req.NewMarksInWords)
		if words == "" {
			words = MarksInWords(newMarks)
		}

		return CorrectionRecord{
			MarkEntryID:     current.ID,
			OldMarks:        current.MarksObtained,
			NewMarks:        newMarks,
			MarksDifference: RoundMarks(newMarks - current.MarksObtained),
			OldMarksInWords: current.MarksInWords,
			NewMarksInWords: words,
			Reason:          strings.TrimSpace(req.Reason),
			CorrectionType:  correctionType,
			ReferenceNumber: strings.TrimSpace(req.ReferenceNumber),
			ApprovalStatus:  ApprovalApproved,
			CorrectedBy:     strings.TrimSpace(req.CorrectedBy),
		}, nil
	}
}

// Correct changes the marks of an existing entry. The correction record
// and the entry update are written in one transaction by the store; when
// any check fails nothing is written.
func (s *Service) Correct(ctx context.Context, req CorrectionRequest) (*CorrectionResult, error) {
	newMarks, ct, err := checkCorrectionRequest(req)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(req.CorrectedBy) == "" {
		req.CorrectedBy = GetActorFromContext(ctx)
	}

	entryID := strings.TrimSpace(req.MarksEntryID)
	entry, record, err := s.store.ApplyCorrection(ctx, entryID, planCorrection(req, newMarks, ct))
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, AuditLogParams{
		Action:       ActionMarksCorrection,
		Actor:        record.CorrectedBy,
		EntityID:     entry.ID,
		OldValue:     FormatMarks(record.OldMarks),
		NewValue:     FormatMarks(record.NewMarks),
		Reason:       record.Reason,
		RowsAffected: 1,
		Details: map[string]any{
			"correction_id":    record.ID,
			"correction_type":  record.CorrectionType,
			"reference_number": record.ReferenceNumber,
			"marks_difference": record.MarksDifference,
		},
	})

	return &CorrectionResult{Entry: entry, Record: record}, nil
}

// History returns the correction records of an entry, oldest first.
func (s *Service) History(ctx context.Context, entryID string) ([]CorrectionRecord, error) {
	entryID = strings.TrimSpace(entryID)
	if _, err := uuid.Parse(entryID); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEntryID, entryID)
	}
	records, err := s.store.CorrectionHistory(ctx, entryID)
	if err != nil {
		return nil, fmt.Errorf("load correction history: %w", err)
	}
	if records == nil {
		records = []CorrectionRecord{}
	}
	return records, nil
}

// NetChange sums the differences of a history. For a complete history it
// equals current marks minus the originally uploaded marks.
func NetChange(records []CorrectionRecord) float64 {
	var sum float64
	for _, r := range records {
		sum += r.MarksDifference
	}
	return math.Round(sum*100) / 100
}
