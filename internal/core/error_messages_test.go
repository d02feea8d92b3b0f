package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"nil error returns empty", nil, ""},
		{"wrapped sentinel", fmt.Errorf("load: %w", ErrEntryNotFound), "COR001"},
		{"unknown institutions", &UnknownInstitutionsError{Codes: []string{"XYZ"}}, "IDX001"},
		{"index timeout before deadline", fmt.Errorf("%w: %w", ErrIndexTimeout, context.DeadlineExceeded), "IDX005"},
		{"bare deadline", context.DeadlineExceeded, "UPL007"},
		{"cancelled", context.Canceled, "UPL006"},
		{"limiter busy", ErrTooManyUploads, "UPL001"},
		{"no change", ErrNoChange, "COR003"},
		{"invalid type", ErrMissingType, "COR005"},
		{"bad workbook", fmt.Errorf("%w: zip: not a valid zip file", ErrInvalidWorkbook), "UPL004"},
		{"duplicate key text", errors.New("ERROR: duplicate key value violates unique constraint"), "DB001"},
		{"case insensitive", errors.New("DUPLICATE KEY value"), "DB001"},
		{"foreign key text", errors.New("insert violates foreign key constraint"), "DB002"},
		{"check constraint text", errors.New("new row violates check constraint \"marks_range\""), "DB003"},
		{"connection refused", errors.New("dial tcp: connection refused"), "DB004"},
		{"rate limit", errors.New("rate limit exceeded"), "RATE001"},
		{"unknown error", errors.New("some random internal error"), "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MapError(tt.err); got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	got := FormatUserError(ErrNoChange)
	want := "New marks must be different from current marks (Code: COR003). Enter the corrected value"
	if got != want {
		t.Errorf("FormatUserError() = %q, want %q", got, want)
	}

	if got := FormatUserError(nil); got != "" {
		t.Errorf("FormatUserError(nil) = %q, want empty", got)
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sentinel", ErrNoRows, true},
		{"driver text", errors.New("duplicate key"), true},
		{"unknown", errors.New("random internal error xyz"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUserFacing(tt.err); got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsClientError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{ErrMissingUploader, true},
		{&UnknownInstitutionsError{Codes: []string{"X"}}, true},
		{fmt.Errorf("%w: 150", ErrInvalidMarks), true},
		{ErrFileTooLarge, true},
		{ErrEntryNotFound, false},
		{ErrTooManyUploads, false},
		{errBoom, false},
	}
	for _, tt := range tests {
		if got := IsClientError(tt.err); got != tt.want {
			t.Errorf("IsClientError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
