package core

// # Error Codes Reference
//
// User-facing errors carry a code that operators can quote to support.
// Codes are grouped by category.
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate entry: Marks already exist for this registration
//	        Patterns: "duplicate key", "violates unique"
//	DB002 - Missing reference: A referenced record does not exist
//	        Patterns: "violates foreign key"
//	DB003 - Check failed: Marks are outside the allowed range
//	        Patterns: "violates check constraint"
//	DB004 - Connection refused: Unable to connect to database
//	        Patterns: "connection refused"
//	DB005 - Connection reset: Database connection was interrupted
//	        Patterns: "connection reset"
//	DB006 - Deadlock: Database was busy with conflicting operations
//	        Patterns: "deadlock"
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - Missing uploader: uploaded_by is required
//	VAL002 - No rows: The request carried no rows
//	VAL003 - Too many rows: The upload exceeds the single-shot row limit
//	VAL004 - Invalid lookup mode
//	VAL005 - Invalid entry id
//	VAL006 - No ids: Bulk delete received no ids
//	VAL007 - Invalid request body
//
// # Index Errors (IDX001-IDX099)
//
//	IDX001 - Invalid institution code: one or more codes are unknown or inactive
//	IDX002 - No institution codes supplied
//	IDX003 - Index missing: process-batch called without a prepared index
//	IDX004 - Index incomplete: the scan hit the page limit
//	IDX005 - Index timeout: the scan did not finish in time
//
// # Upload Errors (UPL001-UPL099)
//
//	UPL001 - System busy: Too many uploads in progress
//	UPL002 - Session expired: Upload session not found
//	UPL003 - Too many open sessions
//	UPL004 - Invalid workbook: file is not a readable .xlsx workbook
//	UPL005 - File too large
//	UPL006 - Request cancelled
//	UPL007 - Request timeout
//
// # Correction Errors (COR001-COR099)
//
//	COR001 - Entry not found
//	COR002 - Invalid marks: not a number, negative or above the maximum
//	COR003 - No change: new marks equal current marks
//	COR004 - Missing reason
//	COR005 - Invalid correction type
//
// # Rate Limiting (RATE001)
//
//	RATE001 - Too many requests
//
// # Default Error (ERR000)
//
// Fallback when nothing matches. Check the server log for the request id.
//
// Sentinel errors are matched with errors.Is first; other errors are matched
// case-insensitively against the patterns, first match wins.

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

// sentinelMessages maps package sentinels to user messages.
var sentinelMessages = []struct {
	target error
	msg    UserMessage
}{
	{ErrMissingUploader, UserMessage{"The uploader is not specified", "Send uploaded_by with the request", "VAL001"}},
	{ErrNoRows, UserMessage{"No rows to process", "Add at least one data row below the header", "VAL002"}},
	{ErrTooManyRows, UserMessage{"Too many rows for a single upload", "Use prepare and process-batch, or split the file", "VAL003"}},
	{ErrInvalidLookupMode, UserMessage{"Unknown lookup mode", "Use dummy_number or register_number", "VAL004"}},
	{ErrInvalidEntryID, UserMessage{"Invalid marks entry id", "Check the id and try again", "VAL005"}},
	{ErrNoIDs, UserMessage{"No entries selected", "Select at least one entry to delete", "VAL006"}},

	{ErrUnknownInstitution, UserMessage{"One or more institution codes are not recognised", "Check the Institution Code column in your spreadsheet", "IDX001"}},
	{ErrNoInstitutionCodes, UserMessage{"No institution codes found", "Fill in the Institution Code column", "IDX002"}},
	{ErrMissingIndex, UserMessage{"Lookup data is missing from the request", "Run prepare first and send its result with every batch", "IDX003"}},
	{ErrIndexTruncated, UserMessage{"Too many registrations to index in one upload", "Upload fewer institutions at a time or raise INDEX_MAX_PAGES", "IDX004"}},
	{ErrIndexTimeout, UserMessage{"Loading registrations took too long", "Try again later or upload fewer institutions at a time", "IDX005"}},

	{ErrTooManyUploads, UserMessage{"System is busy processing other uploads", "Please wait a moment and try again", "UPL001"}},
	{ErrSessionNotFound, UserMessage{"Upload session not found", "The session may have expired. Start the upload again", "UPL002"}},
	{ErrTooManyOpenSessions, UserMessage{"Too many uploads are open", "Close finished uploads or wait for them to expire", "UPL003"}},
	{ErrInvalidWorkbook, UserMessage{"The file is not a readable spreadsheet", "Upload an .xlsx file based on the template", "UPL004"}},
	{ErrFileTooLarge, UserMessage{"The file is too large", "Split the file into smaller uploads", "UPL005"}},

	{ErrEntryNotFound, UserMessage{"Marks entry not found", "Refresh the page and select the entry again", "COR001"}},
	{ErrInvalidMarks, UserMessage{"The new marks are not valid", "Enter a number between 0 and the maximum marks", "COR002"}},
	{ErrNoChange, UserMessage{"New marks must be different from current marks", "Enter the corrected value", "COR003"}},
	{ErrMissingReason, UserMessage{"A correction reason is required", "Describe why the marks are being changed", "COR004"}},
	{ErrMissingType, UserMessage{"Invalid correction type", "Choose one of: " + strings.Join(CorrectionTypes, ", "), "COR005"}},

	// after the domain sentinels: an index timeout wraps DeadlineExceeded
	{context.Canceled, UserMessage{"Request was cancelled", "Please try again", "UPL006"}},
	{context.DeadlineExceeded, UserMessage{"Request timed out", "Try a smaller upload or try again later", "UPL007"}},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns catch errors that arrive as text, mostly from the driver.
// More specific patterns come first.
var errorPatterns = []errorPattern{
	// =========================================================================
	// Database constraint errors (DB001-DB003)
	// =========================================================================
	{
		pattern: "duplicate key",
		msg:     UserMessage{Message: "Marks already exist for this registration", Action: "Use a correction to change recorded marks", Code: "DB001"},
	},
	{
		pattern: "violates unique",
		msg:     UserMessage{Message: "Marks already exist for this registration", Action: "Use a correction to change recorded marks", Code: "DB001"},
	},
	{
		pattern: "violates foreign key",
		msg:     UserMessage{Message: "A referenced record does not exist", Action: "Check that the registration, course and session exist", Code: "DB002"},
	},
	{
		pattern: "violates check constraint",
		msg:     UserMessage{Message: "Marks are outside the allowed range", Action: "Marks must be between 0 and marks out of", Code: "DB003"},
	},

	// =========================================================================
	// Database connection errors (DB004-DB006)
	// =========================================================================
	{
		pattern: "connection refused",
		msg:     UserMessage{Message: "Unable to connect to database", Action: "Please try again in a few moments", Code: "DB004"},
	},
	{
		pattern: "connection reset",
		msg:     UserMessage{Message: "Database connection was interrupted", Action: "Please try again", Code: "DB005"},
	},
	{
		pattern: "deadlock",
		msg:     UserMessage{Message: "Database was busy with conflicting operations", Action: "Please try again", Code: "DB006"},
	},

	// =========================================================================
	// Request errors
	// =========================================================================
	{
		pattern: "invalid request body",
		msg:     UserMessage{Message: "The request could not be read", Action: "Send a valid JSON body", Code: "VAL007"},
	},
	{
		pattern: "rate limit",
		msg:     UserMessage{Message: "Too many requests", Action: "Please wait a moment before trying again", Code: "RATE001"},
	},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts an error to a user-friendly message. Package sentinels
// are matched with errors.Is, anything else by text pattern. Unknown
// errors map to ERR000.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, sm := range sentinelMessages {
		if errors.Is(err, sm.target) {
			return sm.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError renders an error as "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather
// than the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
