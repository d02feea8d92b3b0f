// Package core reconciles bulk external-marks uploads against examination
// registrations and applies audited corrections to recorded marks.
//
// It has no transport dependencies: the HTTP server, the marksctl CLI and
// the tests all drive the same [Service] through the [Store] interface.
//
// # Bulk upload pipeline
//
// A spreadsheet row travels through four stages:
//
//  1. Institution resolution: codes are trimmed and upper-cased and mapped to
//     active institution ids. One unknown code rejects the whole upload and
//     the error names every unknown code.
//  2. Lookup index: sessions, registrations and the keys of existing mark
//     entries are fetched page by page for the resolved institutions and
//     stored in three dictionaries keyed by [BuildKey] strings.
//  3. Row validation: [ValidateRow] turns a loosely typed [RawRow] into a
//     [Candidate] and reports every problem with the row at once.
//  4. Commit: [Service.ProcessBatch] resolves each candidate through the
//     index, skips registrations that already have an entry, inserts the
//     rest and reclassifies storage errors.
//
// Stages 1 and 2 form the prepare phase ([Service.Prepare]); its result is a
// serializable [LookupIndex]. Each process-batch call receives the index
// back together with the entry keys created by earlier chunks of the same
// upload, so the server keeps no per-upload memory between calls. Callers
// that prefer not to round-trip the index can open a server-held
// [UploadSession] instead.
//
// The unique constraint on (institution_id, exam_registration_id) in
// storage is the authority on duplicates. The in-memory key sets only avoid
// pointless inserts; a unique violation from storage is always downgraded
// to a skip.
//
// # Corrections
//
// [Service.Correct] changes the marks of an existing entry. It requires a
// reason and a correction type from [CorrectionTypes], rejects no-op and
// out-of-range values, and writes the correction record and the entry
// update in one transaction. [Service.History] lists the records of an
// entry oldest first.
//
// # Error codes
//
// Errors returned to users are mapped to codes by [MapError]:
//
//   - DB0xx: storage errors
//   - VAL0xx: request and row validation
//   - IDX0xx: institution resolution and lookup index building
//   - UPL0xx: upload concurrency, sessions and workbooks
//   - COR0xx: corrections
package core
