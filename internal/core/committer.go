package core

// committer.go turns validated rows into mark entries.
//
// A batch call is stateless: everything it needs arrives in the request
// (rows, lookup index, keys created by earlier chunks) and everything the
// next chunk needs leaves in the result (NewExistingKeys). Rows are handled
// strictly in input order because in-batch duplicate detection depends on
// each successful insert being recorded before the next row is looked at.

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres SQLSTATE codes the committer reclassifies.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// ErrorKind classifies a row outcome that did not produce an entry.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation" // malformed row, never reached storage
	KindResolution ErrorKind = "resolution" // no matching institution, session or registration
	KindDuplicate  ErrorKind = "duplicate"  // already represented; a skip, not a failure
	KindConstraint ErrorKind = "constraint" // storage rejected the insert
	KindUnexpected ErrorKind = "unexpected"
)

// BatchStatus is derived from the counters of a batch.
type BatchStatus string

const (
	BatchCompleted BatchStatus = "Completed"
	BatchPartial   BatchStatus = "Partial"
	BatchFailed    BatchStatus = "Failed"
)

// DeriveStatus computes the status of a batch. A batch where nothing
// succeeded fails only if some row actually failed; a re-upload whose rows
// are all skipped is complete.
func DeriveStatus(successful, failed, skipped int) BatchStatus {
	switch {
	case successful == 0 && failed > 0:
		return BatchFailed
	case failed > 0 || skipped > 0:
		if successful > 0 {
			return BatchPartial
		}
		return BatchCompleted
	default:
		return BatchCompleted
	}
}

// RowError reports one row that failed or was skipped, keyed by its
// spreadsheet row number and identifying fields.
type RowError struct {
	Row             int       `json:"row"`
	Kind            ErrorKind `json:"kind"`
	InstitutionCode string    `json:"institution_code,omitempty"`
	Identifier      string    `json:"identifier,omitempty"`
	CourseCode      string    `json:"course_code,omitempty"`
	SessionCode     string    `json:"session_code,omitempty"`
	Errors          []string  `json:"errors"`
}

// Message joins the row's error messages.
func (e RowError) Message() string {
	return strings.Join(e.Errors, "; ")
}

// BatchRequest is the input of one process-batch call.
type BatchRequest struct {
	Rows       []RawRow `json:"batch_data"`
	UploadedBy string   `json:"uploaded_by"`
	LookupIndex

	// NewExistingKeys carries the keys returned by earlier chunks of the
	// same upload. They are merged with ExistingEntryLookup.
	NewExistingKeys []string `json:"newExistingKeys,omitempty"`

	// BatchStartIndex is the zero-based position of Rows[0] in the upload.
	BatchStartIndex int    `json:"batch_start_index"`
	UploadID        string `json:"upload_id,omitempty"`
}

// BatchResult is the output of one process-batch call. The four counters
// are always present, even when every row failed.
type BatchResult struct {
	Total            int         `json:"total"`
	Successful       int         `json:"successful"`
	Failed           int         `json:"failed"`
	Skipped          int         `json:"skipped"`
	Status           BatchStatus `json:"status"`
	Errors           []RowError  `json:"errors"`
	ValidationErrors []RowError  `json:"validation_errors"`
	SkippedRows      []RowError  `json:"skipped_rows"`
	NewExistingKeys  []string    `json:"newExistingKeys"`
}

// Merge adds another chunk's result into r.
func (r *BatchResult) Merge(o *BatchResult) {
	r.Total += o.Total
	r.Successful += o.Successful
	r.Failed += o.Failed
	r.Skipped += o.Skipped
	r.Errors = append(r.Errors, o.Errors...)
	r.ValidationErrors = append(r.ValidationErrors, o.ValidationErrors...)
	r.SkippedRows = append(r.SkippedRows, o.SkippedRows...)
	r.NewExistingKeys = append(r.NewExistingKeys, o.NewExistingKeys...)
	r.Status = DeriveStatus(r.Successful, r.Failed, r.Skipped)
}

func newBatchResult(total int) *BatchResult {
	return &BatchResult{
		Total:            total,
		Errors:           []RowError{},
		ValidationErrors: []RowError{},
		SkippedRows:      []RowError{},
		NewExistingKeys:  []string{},
	}
}

// committer processes rows against one index. seen holds the existing
// entry keys: the index snapshot, keys from earlier chunks, and keys
// inserted by this call.
type committer struct {
	store      Store
	index      *LookupIndex
	seen       map[string]bool
	uploadedBy string
	uploadID   string
	now        func() time.Time
}

func newCommitter(store Store, ix *LookupIndex, priorKeys []string, uploadedBy, uploadID string) *committer {
	seen := make(map[string]bool, len(ix.ExistingEntryLookup)+len(priorKeys))
	for k, present := range ix.ExistingEntryLookup {
		if present {
			seen[k] = true
		}
	}
	for _, k := range priorKeys {
		seen[k] = true
	}
	return &committer{
		store:      store,
		index:      ix,
		seen:       seen,
		uploadedBy: uploadedBy,
		uploadID:   uploadID,
		now:        time.Now,
	}
}

// run processes rows in order. startIndex is the zero-based position of
// rows[0] in the upload; reported row numbers count the header row. Blank
// rows keep their position and are left out of every count.
func (c *committer) run(ctx context.Context, rows []RawRow, startIndex int) *BatchResult {
	res := newBatchResult(len(rows))

	for i, raw := range rows {
		rowNum := startIndex + i + 2
		if raw.IsBlank() {
			res.Total--
			continue
		}

		if ctx.Err() != nil {
			// the rest of the chunk is reported, never silently dropped
			for j := i; j < len(rows); j++ {
				if rows[j].IsBlank() {
					res.Total--
					continue
				}
				cand, _ := ValidateRow(rows[j], c.index.Mode)
				res.Failed++
				res.Errors = append(res.Errors, rowError(startIndex+j+2, KindUnexpected, cand,
					"Processing stopped before this row: "+ctx.Err().Error()))
			}
			break
		}

		c.processRow(ctx, raw, rowNum, res)
	}

	res.Status = DeriveStatus(res.Successful, res.Failed, res.Skipped)
	return res
}

func (c *committer) processRow(ctx context.Context, raw RawRow, rowNum int, res *BatchResult) {
	mode := c.index.Mode

	cand, vr := ValidateRow(raw, mode)
	if !vr.Valid {
		res.Failed++
		res.ValidationErrors = append(res.ValidationErrors, rowError(rowNum, KindValidation, cand, vr.Messages()...))
		return
	}

	// 1. institution
	instID, ok := c.index.InstitutionMapping[cand.InstitutionCode]
	if !ok {
		res.Failed++
		res.Errors = append(res.Errors, rowError(rowNum, KindResolution, cand,
			fmt.Sprintf("Invalid institution code: %s", cand.InstitutionCode)))
		return
	}

	// 2. registration
	reg, msg := c.resolve(instID, cand)
	if msg != "" {
		res.Failed++
		res.Errors = append(res.Errors, rowError(rowNum, KindResolution, cand, msg))
		return
	}

	// 3. duplicates
	entryKey := ExistingEntryKey(instID, reg.ExamRegistrationID)
	if c.seen[entryKey] {
		res.Skipped++
		res.SkippedRows = append(res.SkippedRows, rowError(rowNum, KindDuplicate, cand,
			fmt.Sprintf("Marks for %s %s, course %s already exist. Skipped to prevent overwrite.",
				mode.IdentifierLabel(), cand.Identifier, cand.CourseCode)))
		return
	}

	// 4. optional fields
	entryTime, err := ParseEntryTime(cand.EntryTime)
	if err != nil {
		res.Failed++
		res.ValidationErrors = append(res.ValidationErrors, rowError(rowNum, KindValidation, cand,
			"Entry time must be HH:MM, HH:MM:SS or a fraction of a day"))
		return
	}

	now := c.now()
	entry := MarkEntry{
		InstitutionID:      instID,
		ExamRegistrationID: reg.ExamRegistrationID,
		SessionID:          reg.SessionID,
		CourseID:           reg.CourseID,
		ProgramID:          reg.ProgramID,
		StudentID:          reg.StudentID,
		DummyNumber:        reg.DummyNumber,
		RegisterNumber:     reg.RegisterNumber,
		MarksObtained:      cand.MarksObtained,
		MarksOutOf:         cand.MarksOutOf,
		MarksInWords:       MarksInWords(cand.MarksObtained),
		Status:             StatusDraft,
		Source:             SourceBulkUpload,
		EntryTime:          entryTime,
		IdentityVerified:   ParseTruthy(cand.IdentityVerified),
		Remarks:            cand.Remarks,
		EvaluationDate:     time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC),
		UploadID:           c.uploadID,
		CreatedBy:          c.uploadedBy,
	}

	// 5. insert
	if _, err := c.store.InsertMarkEntry(ctx, entry); err != nil {
		c.classifyInsertError(err, rowNum, cand, entryKey, res)
		return
	}

	c.seen[entryKey] = true
	res.NewExistingKeys = append(res.NewExistingKeys, entryKey)
	res.Successful++
}

// resolve finds the registration for a candidate. A non-empty message
// explains why none was found.
func (c *committer) resolve(instID string, cand Candidate) (RegistrationRef, string) {
	label := cand.Mode.IdentifierLabel()
	key := RegistrationKey(instID, cand.Identifier, cand.CourseCode, cand.SessionCode)
	reg, ok := c.index.RegisterLookup[key]

	if !ok {
		if cand.SessionCode != "" {
			if _, sessionOK := c.index.SessionLookup[SessionKey(instID, cand.SessionCode)]; !sessionOK {
				return reg, fmt.Sprintf("Session %q not found for institution %s",
					cand.SessionCode, cand.InstitutionCode)
			}
			return reg, fmt.Sprintf("No registration found for %s %s, course %s and session %s",
				label, cand.Identifier, cand.CourseCode, cand.SessionCode)
		}
		return reg, fmt.Sprintf("No registration found for %s %s and course %s",
			label, cand.Identifier, cand.CourseCode)
	}

	if reg.Ambiguous {
		return reg, fmt.Sprintf("%s %s for course %s is registered in more than one session; add the Session Code",
			capitalize(label), cand.Identifier, cand.CourseCode)
	}
	if reg.IsAbsent {
		return reg, "Student is marked as absent. Marks cannot be entered for absent students."
	}
	return reg, ""
}

// classifyInsertError maps a storage rejection onto the row outcome.
func (c *committer) classifyInsertError(err error, rowNum int, cand Candidate, entryKey string, res *BatchResult) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			// another upload got there first; absorbed as a skip
			c.seen[entryKey] = true
			res.NewExistingKeys = append(res.NewExistingKeys, entryKey)
			res.Skipped++
			res.SkippedRows = append(res.SkippedRows, rowError(rowNum, KindDuplicate, cand,
				fmt.Sprintf("Marks for %s %s, course %s were recorded by another upload. Skipped to prevent duplicate.",
					cand.Mode.IdentifierLabel(), cand.Identifier, cand.CourseCode)))
			return
		case pgForeignKeyViolation:
			res.Failed++
			res.Errors = append(res.Errors, rowError(rowNum, KindConstraint, cand, foreignKeyMessage(pgErr)))
			return
		case pgCheckViolation:
			res.Failed++
			res.Errors = append(res.Errors, rowError(rowNum, KindConstraint, cand,
				"Marks rejected by database check: "+pgErr.Message))
			return
		}
	}

	res.Failed++
	res.Errors = append(res.Errors, rowError(rowNum, KindUnexpected, cand,
		fmt.Sprintf("Row %d: %s", rowNum, err.Error())))
}

// foreignKeyMessage names the missing reference of a foreign-key failure.
func foreignKeyMessage(pgErr *pgconn.PgError) string {
	ref := strings.ToLower(pgErr.ConstraintName + " " + pgErr.Detail)
	switch {
	case strings.Contains(ref, "exam_registration"):
		return "Exam registration not found in system"
	case strings.Contains(ref, "course"):
		return "Course not found in system"
	case strings.Contains(ref, "session"):
		return "Examination session not found in system"
	case strings.Contains(ref, "institution"):
		return "Institution not found in system"
	case strings.Contains(ref, "program"):
		return "Program not found in system"
	}
	detail := pgErr.Detail
	if detail == "" {
		detail = pgErr.Message
	}
	return "Foreign key constraint violation: " + detail
}

func rowError(rowNum int, kind ErrorKind, cand Candidate, msgs ...string) RowError {
	return RowError{
		Row:             rowNum,
		Kind:            kind,
		InstitutionCode: cand.InstitutionCode,
		Identifier:      cand.Identifier,
		CourseCode:      cand.CourseCode,
		SessionCode:     cand.SessionCode,
		Errors:          msgs,
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
