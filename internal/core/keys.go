package core

import "strings"

// keySep separates the parts of a composite lookup key. Codes and numbers
// never contain it after CleanCell.
const keySep = "|"

// BuildKey joins an institution id with business-key fields into a lookup
// key. Fields are trimmed and lower-cased so spreadsheet casing never
// affects a match. Every dictionary in the lookup index is keyed with it.
func BuildKey(institutionID string, fields ...string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(institutionID))
	for _, f := range fields {
		b.WriteString(keySep)
		b.WriteString(strings.ToLower(strings.TrimSpace(f)))
	}
	return b.String()
}

// SessionKey keys the session dictionary.
func SessionKey(institutionID, sessionCode string) string {
	return BuildKey(institutionID, sessionCode)
}

// RegistrationKey keys the registration dictionary. number is the dummy or
// register number depending on the lookup mode. An empty sessionCode
// yields the session-less alias used by dummy-number rows that omit it.
func RegistrationKey(institutionID, number, courseCode, sessionCode string) string {
	return BuildKey(institutionID, number, courseCode, sessionCode)
}

// ExistingEntryKey keys the existing-entry set.
func ExistingEntryKey(institutionID, examRegistrationID string) string {
	return BuildKey(institutionID, examRegistrationID)
}

// NormalizeInstitutionCode is the canonical form of a user-typed code.
func NormalizeInstitutionCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
