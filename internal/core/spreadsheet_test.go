package core

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

// workbook builds an .xlsx in memory from rows of cell values.
func workbook(t *testing.T, rows [][]any) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for r, cells := range rows {
		for c, v := range cells {
			if err := f.SetCellValue("Sheet1", cell(colName(c), r+1), v); err != nil {
				t.Fatalf("SetCellValue: %v", err)
			}
		}
	}
	buf := new(bytes.Buffer)
	if err := f.Write(buf); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return buf
}

func TestReadWorkbook(t *testing.T) {
	buf := workbook(t, [][]any{
		{"Institution Code*", "Dummy Number*", "Course Code*", "Session Code", "Total Marks Obtained*", "Marks Out Of*", "Remarks"},
		{"JKKN", "D001", "CS101", "", 75, 100, ""},
		{"", "", "", "", "", "", ""},
		{" jkkn ", "D002", "CS101", "NOV2024", "42.5", "50", "late"},
	})

	rows, err := ReadWorkbook(buf)
	if err != nil {
		t.Fatalf("ReadWorkbook() error = %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("ReadWorkbook() rows = %d, want 3 (blank row kept in place)", len(rows))
	}
	if rows[0]["dummy_number"] != "D001" || rows[0]["total_marks_obtained"] != "75" {
		t.Errorf("first row = %v", rows[0])
	}
	if !rows[1].IsBlank() {
		t.Errorf("second row = %v, want blank", rows[1])
	}
	if rows[2]["institution_code"] != "jkkn" || rows[2]["remarks"] != "late" {
		t.Errorf("third row = %v", rows[2])
	}

	cand, res := ValidateRow(rows[2], ModeDummyNumber)
	if !res.Valid || cand.InstitutionCode != "JKKN" || cand.MarksObtained != 42.5 {
		t.Errorf("ValidateRow(read row) = %+v, %v", cand, res.Messages())
	}
}

func TestReadWorkbook_TrailingBlankRowsDropped(t *testing.T) {
	buf := workbook(t, [][]any{
		{"Institution Code*", "Dummy Number*"},
		{"JKKN", "D001"},
		{"", ""},
		{" ", ""},
	})

	rows, err := ReadWorkbook(buf)
	if err != nil {
		t.Fatalf("ReadWorkbook() error = %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("ReadWorkbook() rows = %d, want 1", len(rows))
	}
}

func TestReadWorkbook_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input *bytes.Buffer
	}{
		{"not a zip", bytes.NewBufferString("institution,dummy\nJKKN,D001\n")},
		{"blank header", workbook(t, [][]any{{"", ""}, {"JKKN", "D001"}})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ReadWorkbook(tt.input); !errors.Is(err, ErrInvalidWorkbook) {
				t.Errorf("ReadWorkbook() error = %v, want ErrInvalidWorkbook", err)
			}
		})
	}
}

func TestWriteTemplate(t *testing.T) {
	for _, mode := range []LookupMode{ModeDummyNumber, ModeRegisterNumber} {
		t.Run(string(mode), func(t *testing.T) {
			buf, err := WriteTemplate(mode)
			if err != nil {
				t.Fatalf("WriteTemplate() error = %v", err)
			}

			f, err := excelize.OpenReader(buf)
			if err != nil {
				t.Fatalf("OpenReader: %v", err)
			}
			defer f.Close()

			if got := f.GetSheetName(0); got != templateSheet {
				t.Errorf("first sheet = %q, want %q", got, templateSheet)
			}
			rows, err := f.GetRows(templateSheet)
			if err != nil || len(rows) != 1 {
				t.Fatalf("template rows = %v, %v", rows, err)
			}
			cols := TemplateColumns(mode)
			for i, c := range cols {
				if rows[0][i] != c.Header {
					t.Errorf("header %d = %q, want %q", i, rows[0][i], c.Header)
				}
			}
			if idx, _ := f.GetSheetIndex(instructionsSheet); idx < 0 {
				t.Error("instructions sheet missing")
			}
		})
	}

	if !strings.Contains(TemplateFileName(ModeRegisterNumber), "register_number") {
		t.Errorf("TemplateFileName() = %q", TemplateFileName(ModeRegisterNumber))
	}
}

func TestWriteFailedRows(t *testing.T) {
	res := &BatchResult{
		Errors: []RowError{
			{Row: 7, Kind: KindResolution, InstitutionCode: "JKKN", Identifier: "D777", CourseCode: "CS101",
				Errors: []string{"No registration found for dummy number D777 and course CS101"}},
		},
		SkippedRows: []RowError{
			{Row: 3, Kind: KindDuplicate, InstitutionCode: "JKKN", Identifier: "D001", CourseCode: "CS101",
				Errors: []string{"already exist"}},
		},
	}

	buf, err := WriteFailedRows(res, ModeDummyNumber)
	if err != nil {
		t.Fatalf("WriteFailedRows() error = %v", err)
	}
	f, err := excelize.OpenReader(buf)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(failedRowsSheet)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want header + 2", len(rows))
	}
	if rows[0][3] != "Dummy number" {
		t.Errorf("identifier header = %q", rows[0][3])
	}
	if rows[1][0] != "3" || rows[1][1] != "Skipped" {
		t.Errorf("first data row = %v, want row 3 skipped", rows[1])
	}
	if rows[2][0] != "7" || rows[2][1] != "Failed" || !strings.Contains(rows[2][6], "D777") {
		t.Errorf("second data row = %v", rows[2])
	}
}
