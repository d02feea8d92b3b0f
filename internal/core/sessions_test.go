package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestUploadSession_Lifecycle(t *testing.T) {
	store := seededStore()
	svc := newTestService(store)
	ctx := context.Background()

	info, err := svc.OpenUploadSession(ctx, OpenSessionRequest{
		InstitutionCodes: []string{"JKKN"},
		UploadedBy:       "coe-user",
	})
	if err != nil {
		t.Fatalf("OpenUploadSession() error = %v", err)
	}
	if info.Handle == "" || info.LookupMode != ModeDummyNumber {
		t.Errorf("SessionInfo = %+v", info)
	}

	first, err := svc.ProcessSessionBatch(ctx, info.Handle, []RawRow{
		markRow("JKKN", "D001", "CS101", 75, 100),
		markRow("JKKN", "D002", "CS101", 60, 100),
	}, nil)
	if err != nil {
		t.Fatalf("ProcessSessionBatch(first) error = %v", err)
	}
	if first.Successful != 2 || first.NextRowIndex != 2 {
		t.Errorf("first chunk successful/next = %d/%d, want 2/2", first.Successful, first.NextRowIndex)
	}

	// duplicates of the first chunk are caught without the client sending keys
	second, err := svc.ProcessSessionBatch(ctx, info.Handle, []RawRow{
		markRow("JKKN", "D001", "CS101", 75, 100),
		markRow("JKKN", "D777", "CS101", 75, 100),
	}, nil)
	if err != nil {
		t.Fatalf("ProcessSessionBatch(second) error = %v", err)
	}
	if second.Skipped != 1 || second.Failed != 1 {
		t.Errorf("second chunk skipped/failed = %d/%d, want 1/1", second.Skipped, second.Failed)
	}
	if second.SkippedRows[0].Row != 4 {
		t.Errorf("skipped Row = %d, want 4", second.SkippedRows[0].Row)
	}
	if second.Cumulative.Total != 4 || second.Cumulative.Successful != 2 || second.Cumulative.Status != BatchPartial {
		t.Errorf("Cumulative = %+v", second.Cumulative)
	}

	sum, err := svc.CloseUploadSession(ctx, info.Handle)
	if err != nil {
		t.Fatalf("CloseUploadSession() error = %v", err)
	}
	if sum.Batches != 2 || sum.Successful != 2 || sum.Skipped != 1 || sum.Failed != 1 {
		t.Errorf("summary = %+v", sum)
	}

	if _, err := svc.ProcessSessionBatch(ctx, info.Handle, []RawRow{markRow("JKKN", "D003", "CS102", 1, 2)}, nil); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("ProcessSessionBatch(closed) error = %v, want ErrSessionNotFound", err)
	}

	actions := store.auditActions()
	if len(actions) != 2 || actions[0] != ActionSessionOpen || actions[1] != ActionSessionClose {
		t.Errorf("audit actions = %v", actions)
	}
}

func TestUploadSession_ExplicitStartIndex(t *testing.T) {
	svc := newTestService(seededStore())
	ctx := context.Background()

	info, err := svc.OpenUploadSession(ctx, OpenSessionRequest{InstitutionCodes: []string{"JKKN"}, UploadedBy: "u"})
	if err != nil {
		t.Fatalf("OpenUploadSession() error = %v", err)
	}
	start := 10
	res, err := svc.ProcessSessionBatch(ctx, info.Handle, []RawRow{markRow("JKKN", "D777", "CS101", 1, 2)}, &start)
	if err != nil {
		t.Fatalf("ProcessSessionBatch() error = %v", err)
	}
	if res.Errors[0].Row != 12 || res.NextRowIndex != 11 {
		t.Errorf("row/next = %d/%d, want 12/11", res.Errors[0].Row, res.NextRowIndex)
	}
}

func TestUploadSession_NoInstitutionCodes(t *testing.T) {
	svc := newTestService(seededStore())
	ctx := context.Background()

	info, err := svc.OpenUploadSession(ctx, OpenSessionRequest{UploadedBy: "coe-user"})
	if err != nil {
		t.Fatalf("OpenUploadSession() error = %v", err)
	}

	res, err := svc.ProcessSessionBatch(ctx, info.Handle, []RawRow{
		markRow("", "D001", "CS101", 75, 100),
		markRow("JKKN", "D002", "CS101", 60, 100),
	}, nil)
	if err != nil {
		t.Fatalf("ProcessSessionBatch() error = %v", err)
	}
	if res.Total != 2 || res.Failed != 2 {
		t.Fatalf("total/failed = %d/%d, want 2/2", res.Total, res.Failed)
	}
	if len(res.ValidationErrors) != 1 || len(res.Errors) != 1 {
		t.Errorf("validation/resolution errors = %d/%d, want 1/1", len(res.ValidationErrors), len(res.Errors))
	}
}

func TestUploadSession_OpenErrors(t *testing.T) {
	svc := newTestService(seededStore()) // MaxOpen 3
	ctx := context.Background()

	if _, err := svc.OpenUploadSession(ctx, OpenSessionRequest{InstitutionCodes: []string{"JKKN"}}); !errors.Is(err, ErrMissingUploader) {
		t.Errorf("open without uploader error = %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := svc.OpenUploadSession(ctx, OpenSessionRequest{InstitutionCodes: []string{"JKKN"}, UploadedBy: "u"}); err != nil {
			t.Fatalf("open %d error = %v", i, err)
		}
	}
	if _, err := svc.OpenUploadSession(ctx, OpenSessionRequest{InstitutionCodes: []string{"JKKN"}, UploadedBy: "u"}); !errors.Is(err, ErrTooManyOpenSessions) {
		t.Errorf("fourth open error = %v, want ErrTooManyOpenSessions", err)
	}
}

func TestSessionManager_Expiry(t *testing.T) {
	m := NewSessionManager(time.Minute, 10)
	now := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	if err := m.add(&UploadSession{ID: "a"}); err != nil {
		t.Fatalf("add() error = %v", err)
	}
	if err := m.add(&UploadSession{ID: "b"}); err != nil {
		t.Fatalf("add() error = %v", err)
	}

	now = now.Add(50 * time.Second)
	if _, _, err := m.get("a"); err != nil {
		t.Fatalf("get(a) within ttl error = %v", err)
	}

	// b has been idle past the ttl, a was refreshed
	now = now.Add(20 * time.Second)
	if dropped := m.Sweep(); dropped != 1 {
		t.Errorf("Sweep() = %d, want 1", dropped)
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1", m.Len())
	}

	now = now.Add(2 * time.Minute)
	if _, _, err := m.get("a"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("get(a) after ttl error = %v, want ErrSessionNotFound", err)
	}
	if m.Len() != 0 {
		t.Errorf("Len() = %d, want 0", m.Len())
	}
}

func TestSessionManager_SweepSkipsBusySession(t *testing.T) {
	m := NewSessionManager(time.Minute, 10)
	now := time.Now()
	m.now = func() time.Time { return now }

	busy := &UploadSession{ID: "busy"}
	if err := m.add(busy); err != nil {
		t.Fatalf("add() error = %v", err)
	}
	busy.mu.Lock()
	now = now.Add(time.Hour)
	if dropped := m.Sweep(); dropped != 0 {
		t.Errorf("Sweep() = %d while chunk in flight, want 0", dropped)
	}
	busy.mu.Unlock()

	if dropped := m.Sweep(); dropped != 1 {
		t.Errorf("Sweep() = %d after chunk finished, want 1", dropped)
	}
}
