package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JonMunkholm/markrecon/internal/config"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeStore is an in-memory Store. It enforces the unique
// (institution, registration) constraint the way Postgres does.
type fakeStore struct {
	mu            sync.Mutex
	institutions  []Institution
	sessions      []Session
	registrations []Registration
	entries       map[string]MarkEntry
	corrections   []CorrectionRecord
	audits        []AuditLogParams

	// insertErr, when set, is returned for inserts of that registration id.
	insertErr map[string]error
	// listCalls counts listing calls, for pagination tests.
	listCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		entries:   make(map[string]MarkEntry),
		insertErr: make(map[string]error),
	}
}

func (f *fakeStore) ActiveInstitutions(_ context.Context, codes []string) ([]Institution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := make(map[string]bool, len(codes))
	for _, c := range codes {
		want[strings.ToUpper(c)] = true
	}
	var out []Institution
	for _, inst := range f.institutions {
		if want[strings.ToUpper(inst.Code)] {
			out = append(out, inst)
		}
	}
	return out, nil
}

func inSet(ids []string) map[string]bool {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

func page[T any](rows []T, p Page) []T {
	if p.Offset >= len(rows) {
		return nil
	}
	end := min(p.Offset+p.Limit, len(rows))
	return rows[p.Offset:end]
}

func (f *fakeStore) ListSessions(_ context.Context, ids []string, p Page) ([]Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	want := inSet(ids)
	var rows []Session
	for _, s := range f.sessions {
		if want[s.InstitutionID] {
			rows = append(rows, s)
		}
	}
	return page(rows, p), nil
}

func (f *fakeStore) ListRegistrations(_ context.Context, ids []string, p Page) ([]Registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	want := inSet(ids)
	var rows []Registration
	for _, r := range f.registrations {
		if want[r.InstitutionID] {
			rows = append(rows, r)
		}
	}
	return page(rows, p), nil
}

func (f *fakeStore) ListEntryKeys(_ context.Context, ids []string, p Page) ([]EntryKeyRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	want := inSet(ids)
	var rows []EntryKeyRow
	for _, e := range f.sortedEntries() {
		if want[e.InstitutionID] {
			rows = append(rows, EntryKeyRow{InstitutionID: e.InstitutionID, ExamRegistrationID: e.ExamRegistrationID})
		}
	}
	return page(rows, p), nil
}

func (f *fakeStore) sortedEntries() []MarkEntry {
	out := make([]MarkEntry, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *fakeStore) InsertMarkEntry(_ context.Context, e MarkEntry) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.insertErr[e.ExamRegistrationID]; err != nil {
		return "", err
	}
	for _, existing := range f.entries {
		if existing.InstitutionID == e.InstitutionID && existing.ExamRegistrationID == e.ExamRegistrationID {
			return "", &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}
		}
	}
	e.ID = uuid.NewString()
	e.CreatedAt = time.Now()
	e.UpdatedAt = e.CreatedAt
	f.entries[e.ID] = e
	return e.ID, nil
}

func (f *fakeStore) GetMarkEntries(_ context.Context, ids []string) ([]MarkEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []MarkEntry
	for _, id := range ids {
		if e, ok := f.entries[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteDraftBulkEntries(_ context.Context, ids []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var deleted []string
	for _, id := range ids {
		e, ok := f.entries[id]
		if !ok || e.Status != StatusDraft || e.Source != SourceBulkUpload {
			continue
		}
		delete(f.entries, id)
		deleted = append(deleted, id)
	}
	return deleted, nil
}

func (f *fakeStore) ApplyCorrection(_ context.Context, entryID string, plan CorrectionPlanner) (MarkEntry, CorrectionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[entryID]
	if !ok {
		return MarkEntry{}, CorrectionRecord{}, ErrEntryNotFound
	}
	rec, err := plan(e)
	if err != nil {
		return MarkEntry{}, CorrectionRecord{}, err
	}
	rec.ID = uuid.NewString()
	rec.CorrectedAt = time.Now().Add(time.Duration(len(f.corrections)) * time.Millisecond)
	f.corrections = append(f.corrections, rec)

	e.MarksObtained = rec.NewMarks
	e.MarksInWords = rec.NewMarksInWords
	e.UpdatedAt = rec.CorrectedAt
	f.entries[entryID] = e
	return e, rec, nil
}

func (f *fakeStore) CorrectionHistory(_ context.Context, entryID string) ([]CorrectionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []CorrectionRecord
	for _, r := range f.corrections {
		if r.MarkEntryID == entryID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) InsertAuditLog(_ context.Context, params AuditLogParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audits = append(f.audits, params)
	return nil
}

func (f *fakeStore) entryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

func (f *fakeStore) auditActions() []AuditAction {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]AuditAction, 0, len(f.audits))
	for _, a := range f.audits {
		out = append(out, a.Action)
	}
	return out
}

// addEntry stores an entry directly and returns its id.
func (f *fakeStore) addEntry(e MarkEntry) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	f.entries[e.ID] = e
	return e.ID
}

// ============================================================================
// Fixtures
// ============================================================================

const (
	instA   = "inst-a"
	instB   = "inst-b"
	sessA1  = "sess-a1"
	sessA2  = "sess-a2"
	regD001 = "reg-d001"
	regD002 = "reg-d002"
	regD003 = "reg-d003"
	regD004 = "reg-d004-s1"
	regD005 = "reg-d004-s2"
	regAbs  = "reg-absent"
)

// seededStore returns a store with two institutions and a handful of
// registrations. D004/CS101 is registered in two sessions; D009 is absent.
func seededStore() *fakeStore {
	f := newFakeStore()
	f.institutions = []Institution{{ID: instA, Code: "JKKN"}, {ID: instB, Code: "ENGG"}}
	f.sessions = []Session{
		{ID: sessA1, InstitutionID: instA, SessionCode: "NOV2024", SessionName: "November 2024"},
		{ID: sessA2, InstitutionID: instA, SessionCode: "APR2025", SessionName: "April 2025"},
	}
	reg := func(id, dummy, regNo, course, sessID, sessCode string) Registration {
		return Registration{
			ID: id, InstitutionID: instA, SessionID: sessID, SessionCode: sessCode,
			CourseID: "course-" + strings.ToLower(course), CourseCode: course,
			DummyNumber: dummy, RegisterNumber: regNo, StudentID: "stu-" + dummy,
			ProgramID: "prog-1", ProgramCode: "BSC", IsRegular: true,
		}
	}
	f.registrations = []Registration{
		reg(regD001, "D001", "R001", "CS101", sessA1, "NOV2024"),
		reg(regD002, "D002", "R002", "CS101", sessA1, "NOV2024"),
		reg(regD003, "D003", "R003", "CS102", sessA1, "NOV2024"),
		reg(regD004, "D004", "R004", "CS101", sessA1, "NOV2024"),
		reg(regD005, "D004", "R004", "CS101", sessA2, "APR2025"),
	}
	absent := reg(regAbs, "D009", "R009", "CS101", sessA1, "NOV2024")
	absent.IsAbsent = true
	f.registrations = append(f.registrations, absent)
	return f
}

func testConfig() *config.Config {
	return &config.Config{
		Upload: config.UploadConfig{
			MaxConcurrent: 2,
			MaxWaitTime:   time.Second,
			BatchSize:     2,
			MaxRows:       100,
			Timeout:       time.Minute,
		},
		Index: config.IndexConfig{
			PageSize: 2,
			MaxPages: 50,
			Timeout:  time.Minute,
		},
		Sessions: config.SessionConfig{
			TTL:     time.Minute,
			MaxOpen: 3,
		},
	}
}

func newTestService(store Store) *Service {
	svc, err := NewService(store, testConfig())
	if err != nil {
		panic(fmt.Sprintf("NewService: %v", err))
	}
	return svc
}

// markRow is a dummy-number spreadsheet row.
func markRow(inst, dummy, course string, obtained, outOf any) RawRow {
	return RawRow{
		"Institution Code*":     inst,
		"Dummy Number*":         dummy,
		"Course Code*":          course,
		"Total Marks Obtained*": obtained,
		"Marks Out Of*":         outOf,
	}
}

var errBoom = errors.New("boom")
