package core

// lookup.go resolves institution codes and builds the lookup index used to
// match spreadsheet rows to registrations without a query per row.

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/JonMunkholm/markrecon/internal/config"
	"github.com/JonMunkholm/markrecon/internal/logging"
)

// SessionRef is the session descriptor stored in the index.
type SessionRef struct {
	ID            string `json:"id"`
	InstitutionID string `json:"institutions_id"`
	SessionCode   string `json:"session_code"`
	SessionName   string `json:"session_name,omitempty"`
}

// RegistrationRef is the registration descriptor stored in the index.
// Ambiguous is set on session-less aliases that match registrations in
// more than one session; rows hitting one must name their session.
type RegistrationRef struct {
	ExamRegistrationID string `json:"exam_registration_id"`
	InstitutionID      string `json:"institutions_id"`
	SessionID          string `json:"examination_session_id"`
	SessionCode        string `json:"session_code"`
	CourseID           string `json:"course_id"`
	CourseCode         string `json:"course_code"`
	ProgramID          string `json:"program_id,omitempty"`
	ProgramCode        string `json:"program_code,omitempty"`
	StudentID          string `json:"student_id,omitempty"`
	StudentName        string `json:"student_name,omitempty"`
	RegisterNumber     string `json:"register_number,omitempty"`
	DummyNumber        string `json:"dummy_number,omitempty"`
	IsRegular          bool   `json:"is_regular"`
	AttemptNumber      int    `json:"attempt_number"`
	IsAbsent           bool   `json:"is_absent,omitempty"`
	Ambiguous          bool   `json:"ambiguous,omitempty"`
}

// LookupIndex is the serializable result of the prepare phase.
type LookupIndex struct {
	Mode                LookupMode                 `json:"lookupMode"`
	InstitutionMapping  map[string]string          `json:"institutionMapping"`
	SessionLookup       map[string]SessionRef      `json:"sessionLookup"`
	RegisterLookup      map[string]RegistrationRef `json:"registerLookup"`
	ExistingEntryLookup map[string]bool            `json:"existingEntryLookup"`
}

// IndexStats summarizes a built index.
type IndexStats struct {
	Institutions     int `json:"institutions"`
	Sessions         int `json:"sessions"`
	Registrations    int `json:"registrations"`
	RegistrationKeys int `json:"registrationKeys"`
	AmbiguousKeys    int `json:"ambiguousKeys"`
	ExistingEntries  int `json:"existingEntries"`
}

// PrepareResult is returned by the prepare operation.
type PrepareResult struct {
	Success bool `json:"success"`
	LookupIndex
	Stats IndexStats `json:"stats"`
}

// check verifies that an index received from a caller is usable and fills
// in nil dictionaries.
func (ix *LookupIndex) check() error {
	mode, err := ParseLookupMode(string(ix.Mode))
	if err != nil {
		return err
	}
	ix.Mode = mode
	if len(ix.InstitutionMapping) == 0 {
		return ErrMissingIndex
	}
	if ix.SessionLookup == nil {
		ix.SessionLookup = map[string]SessionRef{}
	}
	if ix.RegisterLookup == nil {
		ix.RegisterLookup = map[string]RegistrationRef{}
	}
	if ix.ExistingEntryLookup == nil {
		ix.ExistingEntryLookup = map[string]bool{}
	}
	return nil
}

// InstitutionCodes collects the distinct normalized institution codes in
// rows, in first-seen order.
func InstitutionCodes(rows []RawRow) []string {
	seen := make(map[string]bool)
	var codes []string
	for _, raw := range rows {
		code := NormalizeInstitutionCode(newRowView(raw).text(colInstitution))
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true
		codes = append(codes, code)
	}
	return codes
}

// ResolveInstitutions maps codes to active institution ids. If any code is
// unknown the returned *UnknownInstitutionsError lists all of them.
func ResolveInstitutions(ctx context.Context, store Store, codes []string) (map[string]string, error) {
	seen := make(map[string]bool, len(codes))
	var wanted []string
	for _, c := range codes {
		c = NormalizeInstitutionCode(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		wanted = append(wanted, c)
	}
	if len(wanted) == 0 {
		return nil, ErrNoInstitutionCodes
	}

	institutions, err := store.ActiveInstitutions(ctx, wanted)
	if err != nil {
		return nil, fmt.Errorf("load institutions: %w", err)
	}

	mapping := make(map[string]string, len(institutions))
	for _, inst := range institutions {
		mapping[NormalizeInstitutionCode(inst.Code)] = inst.ID
	}

	var unknown []string
	for _, c := range wanted {
		if _, ok := mapping[c]; !ok {
			unknown = append(unknown, c)
		}
	}
	if len(unknown) > 0 {
		return nil, &UnknownInstitutionsError{Codes: unknown}
	}

	// only the requested codes
	out := make(map[string]string, len(wanted))
	for _, c := range wanted {
		out[c] = mapping[c]
	}
	return out, nil
}

// IndexBuilder scans storage into a LookupIndex.
type IndexBuilder struct {
	store    Store
	pageSize int
	maxPages int
	timeout  time.Duration
}

// NewIndexBuilder creates a builder bounded by cfg.
func NewIndexBuilder(store Store, cfg config.IndexConfig) *IndexBuilder {
	return &IndexBuilder{
		store:    store,
		pageSize: cfg.PageSize,
		maxPages: cfg.MaxPages,
		timeout:  cfg.Timeout,
	}
}

// Build fetches every session, registration and existing entry key of the
// mapped institutions and assembles a fresh index. It never patches an
// older index; callers rebuild whenever the institution set changes.
func (b *IndexBuilder) Build(ctx context.Context, mode LookupMode, institutions map[string]string) (*LookupIndex, IndexStats, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	ids := make([]string, 0, len(institutions))
	for _, id := range institutions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	start := time.Now()
	log := logging.WithFields(ctx, "mode", mode, "institutions", len(ids))

	sessions, err := fetchAll(ctx, "sessions", b.pageSize, b.maxPages,
		func(ctx context.Context, p Page) ([]Session, error) {
			return b.store.ListSessions(ctx, ids, p)
		})
	if err != nil {
		return nil, IndexStats{}, err
	}

	registrations, err := fetchAll(ctx, "registrations", b.pageSize, b.maxPages,
		func(ctx context.Context, p Page) ([]Registration, error) {
			return b.store.ListRegistrations(ctx, ids, p)
		})
	if err != nil {
		return nil, IndexStats{}, err
	}

	entryKeys, err := fetchAll(ctx, "existing entries", b.pageSize, b.maxPages,
		func(ctx context.Context, p Page) ([]EntryKeyRow, error) {
			return b.store.ListEntryKeys(ctx, ids, p)
		})
	if err != nil {
		return nil, IndexStats{}, err
	}

	ix, stats := assembleIndex(mode, institutions, sessions, registrations, entryKeys)
	log.Info("lookup index built",
		"sessions", stats.Sessions,
		"registrations", stats.Registrations,
		"ambiguous_keys", stats.AmbiguousKeys,
		"existing_entries", stats.ExistingEntries,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return ix, stats, nil
}

// assembleIndex is the pure part of Build.
func assembleIndex(mode LookupMode, institutions map[string]string, sessions []Session,
	registrations []Registration, entryKeys []EntryKeyRow) (*LookupIndex, IndexStats) {

	ix := &LookupIndex{
		Mode:                mode,
		InstitutionMapping:  make(map[string]string, len(institutions)),
		SessionLookup:       make(map[string]SessionRef, len(sessions)),
		RegisterLookup:      make(map[string]RegistrationRef, len(registrations)),
		ExistingEntryLookup: make(map[string]bool, len(entryKeys)),
	}
	for code, id := range institutions {
		ix.InstitutionMapping[code] = id
	}

	for _, s := range sessions {
		ix.SessionLookup[SessionKey(s.InstitutionID, s.SessionCode)] = SessionRef{
			ID:            s.ID,
			InstitutionID: s.InstitutionID,
			SessionCode:   s.SessionCode,
			SessionName:   s.SessionName,
		}
	}

	ambiguous := 0
	put := func(key string, ref RegistrationRef) {
		prev, ok := ix.RegisterLookup[key]
		if !ok {
			ix.RegisterLookup[key] = ref
			return
		}
		if prev.ExamRegistrationID != ref.ExamRegistrationID && !prev.Ambiguous {
			prev.Ambiguous = true
			ix.RegisterLookup[key] = prev
			ambiguous++
		}
	}

	for _, r := range registrations {
		number := r.DummyNumber
		if mode == ModeRegisterNumber {
			number = r.RegisterNumber
		}
		if number == "" || r.CourseCode == "" {
			continue
		}

		ref := registrationRef(r)
		if r.SessionCode != "" {
			put(RegistrationKey(r.InstitutionID, number, r.CourseCode, r.SessionCode), ref)
		}
		if mode == ModeDummyNumber {
			put(RegistrationKey(r.InstitutionID, number, r.CourseCode, ""), ref)
		}
	}

	for _, k := range entryKeys {
		ix.ExistingEntryLookup[ExistingEntryKey(k.InstitutionID, k.ExamRegistrationID)] = true
	}

	return ix, IndexStats{
		Institutions:     len(ix.InstitutionMapping),
		Sessions:         len(sessions),
		Registrations:    len(registrations),
		RegistrationKeys: len(ix.RegisterLookup),
		AmbiguousKeys:    ambiguous,
		ExistingEntries:  len(ix.ExistingEntryLookup),
	}
}

func registrationRef(r Registration) RegistrationRef {
	attempt := r.AttemptNumber
	if attempt <= 0 {
		attempt = 1
	}
	return RegistrationRef{
		ExamRegistrationID: r.ID,
		InstitutionID:      r.InstitutionID,
		SessionID:          r.SessionID,
		SessionCode:        r.SessionCode,
		CourseID:           r.CourseID,
		CourseCode:         r.CourseCode,
		ProgramID:          r.ProgramID,
		ProgramCode:        r.ProgramCode,
		StudentID:          r.StudentID,
		StudentName:        r.StudentName,
		RegisterNumber:     r.RegisterNumber,
		DummyNumber:        r.DummyNumber,
		IsRegular:          r.IsRegular,
		AttemptNumber:      attempt,
		IsAbsent:           r.IsAbsent,
	}
}
