package core

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"
)

const (
	templateSheet     = "Marks Upload"
	instructionsSheet = "Instructions"
	failedRowsSheet   = "Failed Rows"
)

// ReadWorkbook reads the first sheet of an .xlsx workbook. The first row is
// the header; every later row becomes a RawRow keyed by the normalized
// header, so rows[i] is always sheet row i+2. Blank rows inside the data
// stay as empty placeholders and trailing blank rows are dropped.
func ReadWorkbook(r io.Reader) ([]RawRow, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWorkbook, err)
	}
	defer f.Close()

	sheetName := f.GetSheetName(0)
	if sheetName == "" {
		return nil, fmt.Errorf("%w: no sheets", ErrInvalidWorkbook)
	}
	sheetRows, err := f.GetRows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("%w: read sheet %q: %v", ErrInvalidWorkbook, sheetName, err)
	}
	if len(sheetRows) == 0 {
		return nil, fmt.Errorf("%w: sheet %q is empty", ErrInvalidWorkbook, sheetName)
	}

	header := make([]string, len(sheetRows[0]))
	named := 0
	for i, h := range sheetRows[0] {
		header[i] = NormalizeHeader(h)
		if header[i] != "" {
			named++
		}
	}
	if named == 0 {
		return nil, fmt.Errorf("%w: header row is blank", ErrInvalidWorkbook)
	}

	rows := make([]RawRow, 0, len(sheetRows)-1)
	last := 0
	for _, cells := range sheetRows[1:] {
		row := make(RawRow, len(header))
		blank := true
		for i, key := range header {
			if key == "" || i >= len(cells) {
				continue
			}
			v := strings.TrimSpace(cells[i])
			if v != "" {
				blank = false
			}
			row[key] = v
		}
		if blank {
			row = RawRow{}
		}
		rows = append(rows, row)
		if !blank {
			last = len(rows)
		}
	}
	return rows[:last], nil
}

// TemplateFileName is the download name of the template for mode.
func TemplateFileName(mode LookupMode) string {
	if mode == ModeRegisterNumber {
		return "external_marks_template_register_number.xlsx"
	}
	return "external_marks_template_dummy_number.xlsx"
}

// WriteTemplate builds the upload template for a lookup mode: the header
// row plus an instructions sheet.
func WriteTemplate(mode LookupMode) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()

	idx, err := f.NewSheet(templateSheet)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(idx)
	f.DeleteSheet("Sheet1")

	headerStyle, err := f.NewStyle(headerStyleDef())
	if err != nil {
		return nil, fmt.Errorf("create style: %w", err)
	}

	cols := TemplateColumns(mode)
	for i, c := range cols {
		name := colName(i)
		f.SetColWidth(templateSheet, name, name, 22)
		f.SetCellValue(templateSheet, cell(name, 1), c.Header)
	}
	last := colName(len(cols) - 1)
	f.SetCellStyle(templateSheet, "A1", cell(last, 1), headerStyle)

	if _, err := f.NewSheet(instructionsSheet); err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.SetColWidth(instructionsSheet, "A", "A", 24)
	f.SetColWidth(instructionsSheet, "B", "B", 80)
	f.SetCellValue(instructionsSheet, "A1", "Column")
	f.SetCellValue(instructionsSheet, "B1", "Notes")
	f.SetCellStyle(instructionsSheet, "A1", "B1", headerStyle)
	for i, line := range instructions(mode) {
		f.SetCellValue(instructionsSheet, cell("A", i+2), line[0])
		f.SetCellValue(instructionsSheet, cell("B", i+2), line[1])
	}

	buf := new(bytes.Buffer)
	if err := f.Write(buf); err != nil {
		return nil, fmt.Errorf("write template: %w", err)
	}
	return buf, nil
}

func instructions(mode LookupMode) [][2]string {
	lines := [][2]string{
		{"Institution Code*", "Code of an active institution. Several institutions may share one file."},
	}
	if mode == ModeRegisterNumber {
		lines = append(lines,
			[2]string{"Register Number*", "Student register number as printed on the hall ticket."},
			[2]string{"Subject Code*", "Course code of the examination paper."},
			[2]string{"Session Code*", "Examination session code. Required in register number mode."},
		)
	} else {
		lines = append(lines,
			[2]string{"Dummy Number*", "Dummy number written on the answer script."},
			[2]string{"Course Code*", "Course code of the examination paper."},
			[2]string{"Session Code", "Optional. Fill in when the same dummy number and course exist in more than one session."},
		)
	}
	return append(lines,
		[2]string{"Total Marks Obtained*", "Greater than 0 and not more than Marks Out Of."},
		[2]string{"Marks Out Of*", "Maximum marks for the paper, greater than 0."},
		[2]string{"Remarks", "Optional evaluator remarks."},
		[2]string{"", "Rows that already have marks are skipped. Use a correction to change recorded marks."},
	)
}

// WriteFailedRows exports the failed and skipped rows of a result so the
// operator can fix them offline. Rows are ordered by spreadsheet row.
func WriteFailedRows(res *BatchResult, mode LookupMode) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()

	idx, err := f.NewSheet(failedRowsSheet)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(idx)
	f.DeleteSheet("Sheet1")

	headerStyle, err := f.NewStyle(headerStyleDef())
	if err != nil {
		return nil, fmt.Errorf("create style: %w", err)
	}

	headers := []string{"Row", "Outcome", "Institution Code", capitalize(mode.IdentifierLabel()), "Course Code", "Session Code", "Errors"}
	widths := []float64{8, 12, 18, 18, 16, 16, 80}
	for i, h := range headers {
		name := colName(i)
		f.SetColWidth(failedRowsSheet, name, name, widths[i])
		f.SetCellValue(failedRowsSheet, cell(name, 1), h)
	}
	f.SetCellStyle(failedRowsSheet, "A1", cell(colName(len(headers)-1), 1), headerStyle)

	type outcome struct {
		label string
		err   RowError
	}
	var all []outcome
	for _, e := range res.ValidationErrors {
		all = append(all, outcome{"Failed", e})
	}
	for _, e := range res.Errors {
		all = append(all, outcome{"Failed", e})
	}
	for _, e := range res.SkippedRows {
		all = append(all, outcome{"Skipped", e})
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].err.Row < all[j].err.Row })

	for i, o := range all {
		row := i + 2
		f.SetCellValue(failedRowsSheet, cell("A", row), o.err.Row)
		f.SetCellValue(failedRowsSheet, cell("B", row), o.label)
		f.SetCellValue(failedRowsSheet, cell("C", row), o.err.InstitutionCode)
		f.SetCellValue(failedRowsSheet, cell("D", row), o.err.Identifier)
		f.SetCellValue(failedRowsSheet, cell("E", row), o.err.CourseCode)
		f.SetCellValue(failedRowsSheet, cell("F", row), o.err.SessionCode)
		f.SetCellValue(failedRowsSheet, cell("G", row), o.err.Message())
	}

	buf := new(bytes.Buffer)
	if err := f.Write(buf); err != nil {
		return nil, fmt.Errorf("write failed rows: %w", err)
	}
	return buf, nil
}

func headerStyleDef() *excelize.Style {
	return &excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	}
}

func colName(idx int) string {
	name, _ := excelize.ColumnNumberToName(idx + 1)
	return name
}

func cell(col string, row int) string {
	return fmt.Sprintf("%s%d", col, row)
}
