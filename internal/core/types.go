package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// LookupMode selects which student identifier a spreadsheet carries.
type LookupMode string

const (
	// ModeDummyNumber rows identify students by the anonymized dummy
	// number. The session code is optional.
	ModeDummyNumber LookupMode = "dummy_number"

	// ModeRegisterNumber rows identify students by register number and
	// must name the session.
	ModeRegisterNumber LookupMode = "register_number"
)

// ParseLookupMode accepts the mode names used by the API and the CLI.
// An empty string selects ModeDummyNumber.
func ParseLookupMode(s string) (LookupMode, error) {
	switch LookupMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeDummyNumber:
		return ModeDummyNumber, nil
	case ModeRegisterNumber:
		return ModeRegisterNumber, nil
	default:
		return "", fmt.Errorf("%w: %q (use dummy_number or register_number)", ErrInvalidLookupMode, s)
	}
}

// IdentifierLabel is the human name of the mode's student identifier.
func (m LookupMode) IdentifierLabel() string {
	if m == ModeRegisterNumber {
		return "register number"
	}
	return "dummy number"
}

// EntryStatus is the lifecycle state of an external mark entry.
type EntryStatus string

const (
	StatusDraft     EntryStatus = "Draft"
	StatusSubmitted EntryStatus = "Submitted"
	StatusVerified  EntryStatus = "Verified"
	StatusLocked    EntryStatus = "Locked"
)

// EntrySource records how an entry was created.
type EntrySource string

const (
	SourceBulkUpload  EntrySource = "Bulk Upload"
	SourceManualEntry EntrySource = "Manual Entry"
)

// Institution is an active institution. Code is what users type into
// spreadsheets; ID never leaves the server except inside lookup payloads.
type Institution struct {
	ID   string
	Code string
}

// Session is an examination session of one institution.
type Session struct {
	ID            string
	InstitutionID string
	SessionCode   string
	SessionName   string
}

// Registration is a student's sanctioned attempt at a course in a session.
// It is read-only here; IsAbsent comes from the attendance records.
type Registration struct {
	ID             string
	InstitutionID  string
	SessionID      string
	SessionCode    string
	CourseID       string
	CourseCode     string
	RegisterNumber string
	DummyNumber    string
	ProgramID      string
	ProgramCode    string
	StudentID      string
	StudentName    string
	IsRegular      bool
	AttemptNumber  int
	IsAbsent       bool
}

// EntryKeyRow is the minimal projection of an existing mark entry needed
// for duplicate detection.
type EntryKeyRow struct {
	InstitutionID      string
	ExamRegistrationID string
}

// MarkEntry is a recorded external mark.
type MarkEntry struct {
	ID                 string      `json:"id"`
	InstitutionID      string      `json:"institutions_id"`
	ExamRegistrationID string      `json:"exam_registration_id"`
	SessionID          string      `json:"examination_session_id"`
	CourseID           string      `json:"course_id"`
	ProgramID          string      `json:"program_id,omitempty"`
	StudentID          string      `json:"student_id,omitempty"`
	DummyNumber        string      `json:"dummy_number,omitempty"`
	RegisterNumber     string      `json:"register_number,omitempty"`
	MarksObtained      float64     `json:"total_marks_obtained"`
	MarksOutOf         float64     `json:"marks_out_of"`
	MarksInWords       string      `json:"total_marks_in_words"`
	Status             EntryStatus `json:"entry_status"`
	Source             EntrySource `json:"source"`
	EntryTime          string      `json:"entry_time,omitempty"`
	IdentityVerified   bool        `json:"identity_verified"`
	Remarks            string      `json:"evaluator_remarks,omitempty"`
	EvaluationDate     time.Time   `json:"evaluation_date"`
	UploadID           string      `json:"upload_id,omitempty"`
	CreatedBy          string      `json:"created_by"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

// CorrectionRecord is one append-only audit row for a marks correction.
type CorrectionRecord struct {
	ID              string    `json:"id"`
	MarkEntryID     string    `json:"marks_entry_id"`
	OldMarks        float64   `json:"old_marks"`
	NewMarks        float64   `json:"new_marks"`
	MarksDifference float64   `json:"marks_difference"`
	OldMarksInWords string    `json:"old_marks_in_words"`
	NewMarksInWords string    `json:"new_marks_in_words"`
	Reason          string    `json:"correction_reason"`
	CorrectionType  string    `json:"correction_type"`
	ReferenceNumber string    `json:"reference_number,omitempty"`
	ApprovalStatus  string    `json:"approval_status"`
	CorrectedBy     string    `json:"corrected_by"`
	CorrectedAt     time.Time `json:"corrected_at"`
}

// Page is one bounded slice of a listing.
type Page struct {
	Limit  int
	Offset int
}

// Store is the persistence boundary of the package. The Postgres
// implementation lives in internal/store; tests use an in-memory fake.
//
// Listing methods return rows in a stable order so that offset pagination
// neither skips nor repeats rows while the index is being built.
type Store interface {
	// ActiveInstitutions returns the active institutions whose upper-cased
	// code is in codes.
	ActiveInstitutions(ctx context.Context, codes []string) ([]Institution, error)

	ListSessions(ctx context.Context, institutionIDs []string, page Page) ([]Session, error)
	ListRegistrations(ctx context.Context, institutionIDs []string, page Page) ([]Registration, error)
	ListEntryKeys(ctx context.Context, institutionIDs []string, page Page) ([]EntryKeyRow, error)

	// InsertMarkEntry inserts e and returns the new id. A duplicate
	// (institution, registration) pair must surface as a *pgconn.PgError
	// with code 23505.
	InsertMarkEntry(ctx context.Context, e MarkEntry) (string, error)

	GetMarkEntries(ctx context.Context, ids []string) ([]MarkEntry, error)

	// DeleteDraftBulkEntries deletes the given entries that are still Draft
	// and came from bulk upload, and returns the ids actually deleted.
	DeleteDraftBulkEntries(ctx context.Context, ids []string) ([]string, error)

	// ApplyCorrection locks the entry, calls plan with its current state and
	// stores the returned record and the entry update atomically. If plan
	// returns an error nothing is written. ErrEntryNotFound is returned for
	// unknown ids.
	ApplyCorrection(ctx context.Context, entryID string, plan CorrectionPlanner) (MarkEntry, CorrectionRecord, error)

	// CorrectionHistory returns the records of one entry, oldest first.
	CorrectionHistory(ctx context.Context, entryID string) ([]CorrectionRecord, error)

	InsertAuditLog(ctx context.Context, params AuditLogParams) error
}

// CorrectionPlanner decides the correction to apply to an entry read under
// lock.
type CorrectionPlanner func(current MarkEntry) (CorrectionRecord, error)
