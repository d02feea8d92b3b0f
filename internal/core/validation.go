package core

// validation.go turns one raw spreadsheet row into a typed Candidate.
//
// Every rule is checked independently and all failures are reported, so an
// operator can fix a row in one pass. Nothing here touches storage; the
// row is resolved to a registration later, by the committer.

import (
	"fmt"
)

// RawRow is one spreadsheet row keyed by column. Keys may be row keys
// ("total_marks_obtained") or template headers ("Total Marks Obtained*").
type RawRow map[string]any

// IsBlank reports whether every cell of r is empty. Blank rows hold their
// sheet position but are neither processed nor counted.
func (r RawRow) IsBlank() bool {
	for _, v := range r {
		if CellString(v) != "" {
			return false
		}
	}
	return true
}

// Column describes one template column.
type Column struct {
	Header   string // as printed in the template, "*" marks required
	Key      string // normalized row key
	Aliases  []string
	Required bool
}

var (
	colInstitution    = Column{Header: "Institution Code*", Key: "institution_code", Required: true}
	colDummyNumber    = Column{Header: "Dummy Number*", Key: "dummy_number", Required: true}
	colRegisterNumber = Column{Header: "Register Number*", Key: "register_number", Required: true}
	colCourseCode     = Column{Header: "Course Code*", Key: "course_code", Aliases: []string{"subject_code"}, Required: true}
	colSubjectCode    = Column{Header: "Subject Code*", Key: "subject_code", Aliases: []string{"course_code"}, Required: true}
	colSessionCode    = Column{Header: "Session Code", Key: "session_code"}
	colSessionCodeReq = Column{Header: "Session Code*", Key: "session_code", Required: true}
	colMarksObtained  = Column{Header: "Total Marks Obtained*", Key: "total_marks_obtained", Aliases: []string{"marks_obtained"}, Required: true}
	colMarksOutOf     = Column{Header: "Marks Out Of*", Key: "marks_out_of", Aliases: []string{"maximum_marks"}, Required: true}
	colRemarks        = Column{Header: "Remarks", Key: "remarks", Aliases: []string{"evaluator_remarks"}}

	// optional columns accepted but not printed in templates
	colEntryTime        = Column{Key: "entry_time"}
	colIdentityVerified = Column{Key: "identity_verified"}
)

// TemplateColumns returns the spreadsheet columns for a lookup mode.
func TemplateColumns(mode LookupMode) []Column {
	if mode == ModeRegisterNumber {
		return []Column{colInstitution, colRegisterNumber, colSubjectCode, colSessionCodeReq,
			colMarksObtained, colMarksOutOf, colRemarks}
	}
	return []Column{colInstitution, colDummyNumber, colCourseCode, colSessionCode,
		colMarksObtained, colMarksOutOf, colRemarks}
}

// ValidationError is one failed rule for one field.
type ValidationError struct {
	Field   string // row key
	Value   string // offending value, if any
	Message string // complete sentence shown to the operator
}

func (e ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// ValidationResult is the outcome of validating one row.
type ValidationResult struct {
	Valid  bool
	Errors []ValidationError
}

// Messages returns the error messages in rule order.
func (r ValidationResult) Messages() []string {
	out := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		out = append(out, e.Message)
	}
	return out
}

// Candidate is a row that passed validation, not yet resolved to a
// registration. Identifier is the dummy or register number depending on
// Mode.
type Candidate struct {
	Mode            LookupMode
	InstitutionCode string
	Identifier      string
	CourseCode      string
	SessionCode     string
	MarksObtained   float64
	MarksOutOf      float64
	Remarks         string

	// parsed by the committer
	EntryTime        any
	IdentityVerified any
}

// rowView reads a RawRow by normalized column key.
type rowView map[string]any

func newRowView(raw RawRow) rowView {
	v := make(rowView, len(raw))
	for k, val := range raw {
		v[NormalizeHeader(k)] = val
	}
	return v
}

func (v rowView) get(c Column) any {
	if val, ok := v[c.Key]; ok && CellString(val) != "" {
		return val
	}
	for _, alias := range c.Aliases {
		if val, ok := v[alias]; ok && CellString(val) != "" {
			return val
		}
	}
	return nil
}

func (v rowView) text(c Column) string {
	return CellString(v.get(c))
}

// ValidateRow checks a raw row for the given lookup mode. The Candidate is
// only meaningful when the result is Valid; its identifying fields are
// filled in either way so failures can be reported against them.
func ValidateRow(raw RawRow, mode LookupMode) (Candidate, ValidationResult) {
	row := newRowView(raw)
	cand := Candidate{
		Mode:             mode,
		InstitutionCode:  NormalizeInstitutionCode(row.text(colInstitution)),
		SessionCode:      row.text(colSessionCode),
		Remarks:          row.text(colRemarks),
		EntryTime:        row.get(colEntryTime),
		IdentityVerified: row.get(colIdentityVerified),
	}

	var errs []ValidationError
	require := func(c Column, value, label string) {
		if value == "" {
			errs = append(errs, ValidationError{Field: c.Key, Message: label + " is required"})
		}
	}

	require(colInstitution, cand.InstitutionCode, "Institution code")
	switch mode {
	case ModeRegisterNumber:
		cand.Identifier = row.text(colRegisterNumber)
		cand.CourseCode = row.text(colSubjectCode)
		require(colRegisterNumber, cand.Identifier, "Register number")
		require(colSubjectCode, cand.CourseCode, "Subject code")
		require(colSessionCodeReq, cand.SessionCode, "Session code")
	default:
		cand.Identifier = row.text(colDummyNumber)
		cand.CourseCode = row.text(colCourseCode)
		require(colDummyNumber, cand.Identifier, "Dummy number")
		require(colCourseCode, cand.CourseCode, "Course code")
	}

	obtainedRaw := row.get(colMarksObtained)
	obtained, obtainedOK := ParseNumber(obtainedRaw)
	switch {
	case obtainedRaw == nil:
		errs = append(errs, ValidationError{Field: colMarksObtained.Key,
			Message: "Total marks obtained is required"})
		obtainedOK = false
	case !obtainedOK:
		errs = append(errs, ValidationError{Field: colMarksObtained.Key, Value: CellString(obtainedRaw),
			Message: "Total marks obtained must be a valid number"})
	case obtained < 0:
		errs = append(errs, ValidationError{Field: colMarksObtained.Key, Value: CellString(obtainedRaw),
			Message: "Total marks obtained cannot be negative"})
		obtainedOK = false
	case obtained == 0:
		errs = append(errs, ValidationError{Field: colMarksObtained.Key, Value: CellString(obtainedRaw),
			Message: "Total marks obtained cannot be 0 (zero marks not accepted)"})
		obtainedOK = false
	}

	outOfRaw := row.get(colMarksOutOf)
	outOf, outOfOK := ParseNumber(outOfRaw)
	if !outOfOK || outOf <= 0 {
		errs = append(errs, ValidationError{Field: colMarksOutOf.Key, Value: CellString(outOfRaw),
			Message: "Marks out of must be a positive number greater than 0"})
		outOfOK = false
	}

	if obtainedOK && outOfOK && RoundMarks(obtained) > RoundMarks(outOf) {
		errs = append(errs, ValidationError{Field: colMarksObtained.Key, Value: FormatMarks(obtained),
			Message: fmt.Sprintf("Total marks (%s) cannot exceed marks out of (%s)",
				FormatMarks(obtained), FormatMarks(outOf))})
	}

	cand.MarksObtained = RoundMarks(obtained)
	cand.MarksOutOf = RoundMarks(outOf)

	return cand, ValidationResult{Valid: len(errs) == 0, Errors: errs}
}
