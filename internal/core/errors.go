package core

import (
	"errors"
	"fmt"
	"strings"
)

// Request-level errors. These abort an operation before any row is
// processed; row-level problems are reported in BatchResult instead.
var (
	ErrInvalidLookupMode   = errors.New("invalid lookup mode")
	ErrNoInstitutionCodes  = errors.New("no institution codes provided")
	ErrUnknownInstitution  = errors.New("invalid institution code")
	ErrMissingIndex        = errors.New("lookup index missing from request, run prepare first")
	ErrMissingUploader     = errors.New("uploaded_by is required")
	ErrNoRows              = errors.New("no rows to process")
	ErrTooManyRows         = errors.New("too many rows for a single upload")
	ErrIndexTruncated      = errors.New("lookup index incomplete: page limit reached")
	ErrIndexTimeout        = errors.New("lookup index build timed out")
	ErrNoIDs               = errors.New("no entry ids provided")
	ErrInvalidEntryID      = errors.New("invalid entry id")
	ErrSessionNotFound     = errors.New("upload session not found")
	ErrTooManyOpenSessions = errors.New("too many open upload sessions")
	ErrInvalidWorkbook     = errors.New("invalid workbook")
	ErrFileTooLarge        = errors.New("file too large")
)

// Correction errors.
var (
	ErrEntryNotFound = errors.New("marks entry not found")
	ErrInvalidMarks  = errors.New("invalid marks")
	ErrNoChange      = errors.New("new marks must be different from current marks")
	ErrMissingReason = errors.New("correction reason is required")
	ErrMissingType   = errors.New("invalid correction type")
)

// UnknownInstitutionsError names every institution code that did not
// resolve to an active institution.
type UnknownInstitutionsError struct {
	Codes []string
}

func (e *UnknownInstitutionsError) Error() string {
	return fmt.Sprintf("invalid institution code(s): %s. Please check the Institution Code column in your spreadsheet",
		strings.Join(e.Codes, ", "))
}

// Is reports ErrUnknownInstitution as a match.
func (e *UnknownInstitutionsError) Is(target error) bool {
	return target == ErrUnknownInstitution
}

// IsClientError reports whether err was caused by the request rather than
// by the server, so handlers can choose 4xx over 5xx.
func IsClientError(err error) bool {
	for _, target := range []error{
		ErrInvalidLookupMode, ErrNoInstitutionCodes, ErrUnknownInstitution,
		ErrMissingIndex, ErrMissingUploader, ErrNoRows, ErrTooManyRows,
		ErrNoIDs, ErrInvalidEntryID, ErrInvalidMarks, ErrNoChange,
		ErrMissingReason, ErrMissingType, ErrInvalidWorkbook, ErrFileTooLarge,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
