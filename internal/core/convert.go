package core

// convert.go turns loosely typed spreadsheet cells into typed values.
//
// Cells arrive either as strings (xlsx uploads, CSV exports pasted into
// JSON) or as JSON numbers and booleans (browser-side parsers). Every
// function here accepts both.

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// numericRegex matches a plain decimal after cleanup.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)$`)

// groupedRegex matches a number with comma thousands separators (1,250.5).
var groupedRegex = regexp.MustCompile(`^[+-]?\d{1,3}(,\d{3})+(\.\d+)?$`)

// clockRegex matches H:MM, HH:MM and HH:MM:SS.
var clockRegex = regexp.MustCompile(`^(\d{1,2}):(\d{2})(?::(\d{2}))?$`)

// truthyTokens are the identity-verified values that mean yes.
var truthyTokens = map[string]bool{"TRUE": true, "YES": true, "1": true, "Y": true}

// CleanCell removes common spreadsheet artifacts from a cell value:
// surrounding whitespace, the Excel text-formula wrapper (="...") and
// stray quotes.
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	s = strings.Trim(s, `"'`)
	return strings.TrimSpace(s)
}

// CellString renders any decoded cell value as cleaned text.
func CellString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return CleanCell(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		if t {
			return "TRUE"
		}
		return "FALSE"
	default:
		return CleanCell(fmt.Sprint(t))
	}
}

// ParseNumber parses a cell as a finite number. Commas are accepted only
// as thousands separators, so a decimal comma such as "1,5" is rejected.
// ok is false for empty or non-numeric input.
func ParseNumber(v any) (n float64, ok bool) {
	switch t := v.(type) {
	case float64:
		return t, !math.IsNaN(t) && !math.IsInf(t, 0)
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}

	s := CellString(v)
	if strings.Contains(s, ",") {
		if !groupedRegex.MatchString(s) {
			return 0, false
		}
		s = strings.ReplaceAll(s, ",", "")
	}
	if s == "" || !numericRegex.MatchString(s) {
		return 0, false
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ParseEntryTime normalizes an entry-time cell to HH:MM:SS.
//
// Accepted forms are clock text (9:05, 09:05, 09:05:30) and a fraction of a
// day as Excel stores times (0.5 is 12:00:00). Empty input returns "".
func ParseEntryTime(v any) (string, error) {
	s := CellString(v)
	if s == "" {
		return "", nil
	}

	if m := clockRegex.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		mins, _ := strconv.Atoi(m[2])
		sec := 0
		if m[3] != "" {
			sec, _ = strconv.Atoi(m[3])
		}
		if h > 23 || mins > 59 || sec > 59 {
			return "", fmt.Errorf("entry time %q is out of range", s)
		}
		return fmt.Sprintf("%02d:%02d:%02d", h, mins, sec), nil
	}

	frac, ok := ParseNumber(v)
	if !ok || frac < 0 || frac >= 1 {
		return "", fmt.Errorf("entry time %q must be HH:MM[:SS] or a fraction of a day", s)
	}
	total := int(math.Round(frac * 86400))
	if total == 86400 {
		total = 86399
	}
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60), nil
}

// ParseTruthy reports whether a cell holds one of TRUE, YES, 1 or Y.
func ParseTruthy(v any) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return truthyTokens[strings.ToUpper(CellString(v))]
}

// RoundMarks rounds to two decimal places, the precision marks are stored
// with.
func RoundMarks(v float64) float64 {
	return math.Round(v*100) / 100
}

// FormatMarks renders marks without trailing zeros (75, 42.5).
func FormatMarks(v float64) string {
	return strconv.FormatFloat(RoundMarks(v), 'f', -1, 64)
}

// NormalizeHeader maps a spreadsheet header such as "Total Marks Obtained*"
// to its row key "total_marks_obtained".
func NormalizeHeader(h string) string {
	h = strings.ToLower(CleanCell(h))
	h = strings.TrimRight(h, "* ")
	h = strings.TrimSpace(h)
	return strings.Join(strings.FieldsFunc(h, func(r rune) bool {
		return r == ' ' || r == '_' || r == '-' || r == '.'
	}), "_")
}
