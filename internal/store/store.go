// Package store is the Postgres implementation of core.Store.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/JonMunkholm/markrecon/internal/core"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres reads reference data and writes mark entries through a pool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ core.Store = (*Postgres)(nil)

// New creates a store over pool.
func New(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Ping checks the connection, for health endpoints.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// ============================================================================
// Reference data
// ============================================================================

func (p *Postgres) ActiveInstitutions(ctx context.Context, codes []string) ([]core.Institution, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id::text, institution_code
		FROM institutions
		WHERE is_active AND upper(institution_code) = ANY($1::text[])`, codes)
	if err != nil {
		return nil, fmt.Errorf("query institutions: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.Institution, error) {
		var inst core.Institution
		err := row.Scan(&inst.ID, &inst.Code)
		return inst, err
	})
}

func (p *Postgres) ListSessions(ctx context.Context, institutionIDs []string, page core.Page) ([]core.Session, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id::text, institutions_id::text, session_code, session_name
		FROM examination_sessions
		WHERE institutions_id = ANY($1::text[]::uuid[])
		ORDER BY id
		LIMIT $2 OFFSET $3`, institutionIDs, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.Session, error) {
		var s core.Session
		err := row.Scan(&s.ID, &s.InstitutionID, &s.SessionCode, &s.SessionName)
		return s, err
	})
}

// ListRegistrations joins the session and course codes the index keys on,
// and the attendance flag.
func (p *Postgres) ListRegistrations(ctx context.Context, institutionIDs []string, page core.Page) ([]core.Registration, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT r.id::text, r.institutions_id::text,
		       r.examination_session_id::text, s.session_code,
		       r.course_id::text, c.course_code,
		       r.register_number, r.dummy_number,
		       coalesce(r.program_id::text, ''), coalesce(pr.program_code, ''),
		       coalesce(r.student_id::text, ''), coalesce(st.student_name, ''),
		       r.is_regular, r.attempt_number, coalesce(a.is_absent, false)
		FROM exam_registrations r
		JOIN examination_sessions s ON s.id = r.examination_session_id
		JOIN courses c ON c.id = r.course_id
		LEFT JOIN programs pr ON pr.id = r.program_id
		LEFT JOIN students st ON st.id = r.student_id
		LEFT JOIN exam_attendance a ON a.exam_registration_id = r.id
		WHERE r.institutions_id = ANY($1::text[]::uuid[])
		ORDER BY r.id
		LIMIT $2 OFFSET $3`, institutionIDs, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("query registrations: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.Registration, error) {
		var r core.Registration
		var attempt int32
		err := row.Scan(&r.ID, &r.InstitutionID,
			&r.SessionID, &r.SessionCode,
			&r.CourseID, &r.CourseCode,
			&r.RegisterNumber, &r.DummyNumber,
			&r.ProgramID, &r.ProgramCode,
			&r.StudentID, &r.StudentName,
			&r.IsRegular, &attempt, &r.IsAbsent)
		r.AttemptNumber = int(attempt)
		return r, err
	})
}

func (p *Postgres) ListEntryKeys(ctx context.Context, institutionIDs []string, page core.Page) ([]core.EntryKeyRow, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT institutions_id::text, exam_registration_id::text
		FROM external_mark_entries
		WHERE institutions_id = ANY($1::text[]::uuid[])
		ORDER BY id
		LIMIT $2 OFFSET $3`, institutionIDs, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("query entry keys: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.EntryKeyRow, error) {
		var k core.EntryKeyRow
		err := row.Scan(&k.InstitutionID, &k.ExamRegistrationID)
		return k, err
	})
}

// ============================================================================
// Mark entries
// ============================================================================

// InsertMarkEntry returns the driver error untouched so the caller can
// classify unique and foreign-key violations.
func (p *Postgres) InsertMarkEntry(ctx context.Context, e core.MarkEntry) (string, error) {
	var id string
	err := p.pool.QueryRow(ctx, `
		INSERT INTO external_mark_entries (
			institutions_id, exam_registration_id, examination_session_id, course_id,
			program_id, student_id, dummy_number, register_number,
			total_marks_obtained, marks_out_of, total_marks_in_words,
			entry_status, source, entry_time, identity_verified, evaluator_remarks,
			evaluation_date, upload_id, created_by
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11,
			$12, $13, $14::text::time, $15, $16,
			$17, $18, $19
		)
		RETURNING id::text`,
		toPgUUID(e.InstitutionID), toPgUUID(e.ExamRegistrationID), toPgUUID(e.SessionID), toPgUUID(e.CourseID),
		toPgUUID(e.ProgramID), toPgUUID(e.StudentID), e.DummyNumber, e.RegisterNumber,
		e.MarksObtained, e.MarksOutOf, e.MarksInWords,
		string(e.Status), string(e.Source), toPgText(e.EntryTime), e.IdentityVerified, toPgText(e.Remarks),
		toPgDate(e.EvaluationDate), toPgUUID(e.UploadID), e.CreatedBy,
	).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

const entryColumns = `
	id::text, institutions_id::text, exam_registration_id::text, examination_session_id::text,
	course_id::text, coalesce(program_id::text, ''), coalesce(student_id::text, ''),
	dummy_number, register_number,
	total_marks_obtained::float8, marks_out_of::float8, total_marks_in_words,
	entry_status, source, coalesce(to_char(entry_time, 'HH24:MI:SS'), ''),
	identity_verified, coalesce(evaluator_remarks, ''), evaluation_date,
	coalesce(upload_id::text, ''), created_by, created_at, updated_at`

func scanEntry(row pgx.Row) (core.MarkEntry, error) {
	var e core.MarkEntry
	var status, source string
	err := row.Scan(
		&e.ID, &e.InstitutionID, &e.ExamRegistrationID, &e.SessionID,
		&e.CourseID, &e.ProgramID, &e.StudentID,
		&e.DummyNumber, &e.RegisterNumber,
		&e.MarksObtained, &e.MarksOutOf, &e.MarksInWords,
		&status, &source, &e.EntryTime,
		&e.IdentityVerified, &e.Remarks, &e.EvaluationDate,
		&e.UploadID, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt,
	)
	e.Status = core.EntryStatus(status)
	e.Source = core.EntrySource(source)
	return e, err
}

func (p *Postgres) GetMarkEntries(ctx context.Context, ids []string) ([]core.MarkEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := p.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM external_mark_entries
		WHERE id = ANY($1::text[]::uuid[])`, ids)
	if err != nil {
		return nil, fmt.Errorf("query mark entries: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.MarkEntry, error) {
		return scanEntry(row)
	})
}

// DeleteDraftBulkEntries re-checks status and source in the statement
// itself, so an entry submitted after it was read is left alone. Entries
// with corrections are kept; their history cannot be orphaned.
func (p *Postgres) DeleteDraftBulkEntries(ctx context.Context, ids []string) ([]string, error) {
	rows, err := p.pool.Query(ctx, `
		DELETE FROM external_mark_entries e
		WHERE e.id = ANY($1::text[]::uuid[])
		  AND e.entry_status = $2
		  AND e.source = $3
		  AND NOT EXISTS (SELECT 1 FROM marks_corrections c WHERE c.marks_entry_id = e.id)
		RETURNING e.id::text`, ids, string(core.StatusDraft), string(core.SourceBulkUpload))
	if err != nil {
		return nil, fmt.Errorf("delete mark entries: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// ============================================================================
// Corrections
// ============================================================================

// ApplyCorrection locks the entry row for the duration of the transaction,
// so concurrent corrections of one entry are serialized and each record's
// old marks equal the previous record's new marks.
func (p *Postgres) ApplyCorrection(ctx context.Context, entryID string, plan core.CorrectionPlanner) (core.MarkEntry, core.CorrectionRecord, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return core.MarkEntry{}, core.CorrectionRecord{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	entry, err := scanEntry(tx.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM external_mark_entries
		WHERE id = $1::text::uuid
		FOR UPDATE`, entryID))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.MarkEntry{}, core.CorrectionRecord{}, core.ErrEntryNotFound
	}
	if err != nil {
		return core.MarkEntry{}, core.CorrectionRecord{}, fmt.Errorf("lock entry: %w", err)
	}

	rec, err := plan(entry)
	if err != nil {
		return core.MarkEntry{}, core.CorrectionRecord{}, err
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO marks_corrections (
			marks_entry_id, old_marks, new_marks, marks_difference,
			old_marks_in_words, new_marks_in_words, correction_reason, correction_type,
			reference_number, approval_status, corrected_by
		) VALUES ($1::text::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id::text, corrected_at`,
		entry.ID, rec.OldMarks, rec.NewMarks, rec.MarksDifference,
		rec.OldMarksInWords, rec.NewMarksInWords, rec.Reason, rec.CorrectionType,
		toPgText(rec.ReferenceNumber), rec.ApprovalStatus, rec.CorrectedBy,
	).Scan(&rec.ID, &rec.CorrectedAt)
	if err != nil {
		return core.MarkEntry{}, core.CorrectionRecord{}, fmt.Errorf("insert correction: %w", err)
	}

	err = tx.QueryRow(ctx, `
		UPDATE external_mark_entries
		SET total_marks_obtained = $2, total_marks_in_words = $3, updated_at = now()
		WHERE id = $1::text::uuid
		RETURNING updated_at`,
		entry.ID, rec.NewMarks, rec.NewMarksInWords,
	).Scan(&entry.UpdatedAt)
	if err != nil {
		return core.MarkEntry{}, core.CorrectionRecord{}, fmt.Errorf("update entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return core.MarkEntry{}, core.CorrectionRecord{}, fmt.Errorf("commit correction: %w", err)
	}

	entry.MarksObtained = rec.NewMarks
	entry.MarksInWords = rec.NewMarksInWords
	return entry, rec, nil
}

func (p *Postgres) CorrectionHistory(ctx context.Context, entryID string) ([]core.CorrectionRecord, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id::text, marks_entry_id::text,
		       old_marks::float8, new_marks::float8, marks_difference::float8,
		       old_marks_in_words, new_marks_in_words, correction_reason, correction_type,
		       coalesce(reference_number, ''), approval_status, corrected_by, corrected_at
		FROM marks_corrections
		WHERE marks_entry_id = $1::text::uuid
		ORDER BY corrected_at, id`, entryID)
	if err != nil {
		return nil, fmt.Errorf("query corrections: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.CorrectionRecord, error) {
		var r core.CorrectionRecord
		err := row.Scan(&r.ID, &r.MarkEntryID,
			&r.OldMarks, &r.NewMarks, &r.MarksDifference,
			&r.OldMarksInWords, &r.NewMarksInWords, &r.Reason, &r.CorrectionType,
			&r.ReferenceNumber, &r.ApprovalStatus, &r.CorrectedBy, &r.CorrectedAt)
		return r, err
	})
}

// ============================================================================
// Audit
// ============================================================================

func (p *Postgres) InsertAuditLog(ctx context.Context, params core.AuditLogParams) error {
	var details []byte
	if params.Details != nil {
		b, err := json.Marshal(params.Details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
		details = b
	}

	_, err := p.pool.Exec(ctx, `
		INSERT INTO audit_log (
			action, severity, actor, ip_address, user_agent, entity_id, upload_id,
			old_value, new_value, reason, rows_affected, details
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		string(params.Action), string(params.Severity), toPgText(params.Actor), parseIP(params.IPAddress),
		toPgText(params.UserAgent), toPgText(params.EntityID), toPgUUID(params.UploadID),
		toPgText(params.OldValue), toPgText(params.NewValue), toPgText(params.Reason),
		toPgInt4(params.RowsAffected), details,
	)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// ============================================================================
// Parameter helpers
// ============================================================================

func toPgText(s string) pgtype.Text {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

// toPgUUID returns NULL for empty or malformed ids.
func toPgUUID(s string) pgtype.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: parsed, Valid: true}
}

func toPgInt4(i int) pgtype.Int4 {
	return pgtype.Int4{Int32: int32(i), Valid: true}
}

func toPgDate(t time.Time) pgtype.Date {
	if t.IsZero() {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: t, Valid: true}
}

// parseIP strips a port and returns nil when the address does not parse.
func parseIP(s string) *netip.Addr {
	if s == "" {
		return nil
	}
	host := s
	if h, _, err := net.SplitHostPort(s); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return nil
	}
	return &addr
}
