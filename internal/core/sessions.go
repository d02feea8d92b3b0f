package core

// sessions.go keeps short-lived upload contexts on the server.
//
// It is the alternative to round-tripping the lookup index: the client
// opens a session (one index build), sends chunks referencing the handle
// and closes it. Chunks of one session are serialized by a per-session
// mutex, so the duplicate key set cannot be raced. Idle sessions expire
// after the TTL and are removed by the sweeper.

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/JonMunkholm/markrecon/internal/logging"
	"github.com/google/uuid"
)

// UploadSession is a server-held upload context.
type UploadSession struct {
	ID         string
	Mode       LookupMode
	UploadedBy string
	Stats      IndexStats
	CreatedAt  time.Time

	mu        sync.Mutex // serializes chunks
	committer *committer
	nextIndex int
	totals    *BatchResult
	batches   int

	// guarded by SessionManager.mu
	lastUsed time.Time
}

// SessionInfo describes an open session to its client.
type SessionInfo struct {
	Handle     string     `json:"handle"`
	LookupMode LookupMode `json:"lookup_mode"`
	Stats      IndexStats `json:"stats"`
	ExpiresAt  time.Time  `json:"expires_at"`
}

// SessionSummary is the cumulative outcome of a session.
type SessionSummary struct {
	Handle  string `json:"handle"`
	Batches int    `json:"batches"`
	BatchResult
}

// SessionBatchResult is the result of one chunk plus running totals.
type SessionBatchResult struct {
	BatchResult
	Handle       string         `json:"handle"`
	NextRowIndex int            `json:"next_row_index"`
	Cumulative   SessionCounter `json:"cumulative"`
	ExpiresAt    time.Time      `json:"expires_at"`
}

// SessionCounter holds running totals for a session.
type SessionCounter struct {
	Total      int         `json:"total"`
	Successful int         `json:"successful"`
	Failed     int         `json:"failed"`
	Skipped    int         `json:"skipped"`
	Status     BatchStatus `json:"status"`
}

// SessionManager owns the open sessions.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*UploadSession
	ttl      time.Duration
	maxOpen  int
	now      func() time.Time
}

// NewSessionManager creates a manager whose sessions expire after ttl of
// inactivity.
func NewSessionManager(ttl time.Duration, maxOpen int) *SessionManager {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if maxOpen <= 0 {
		maxOpen = 50
	}
	return &SessionManager{
		sessions: make(map[string]*UploadSession),
		ttl:      ttl,
		maxOpen:  maxOpen,
		now:      time.Now,
	}
}

func (m *SessionManager) add(sess *UploadSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sessions) >= m.maxOpen {
		return ErrTooManyOpenSessions
	}
	sess.lastUsed = m.now()
	m.sessions[sess.ID] = sess
	return nil
}

// get returns a live session and refreshes its expiry.
func (m *SessionManager) get(id string) (*UploadSession, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, time.Time{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	now := m.now()
	if now.Sub(sess.lastUsed) > m.ttl {
		delete(m.sessions, id)
		return nil, time.Time{}, fmt.Errorf("%w: %s expired", ErrSessionNotFound, id)
	}
	sess.lastUsed = now
	return sess, now.Add(m.ttl), nil
}

func (m *SessionManager) remove(id string) (*UploadSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	return sess, ok
}

// Sweep drops expired sessions that are not processing a chunk and
// returns how many were dropped.
func (m *SessionManager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	dropped := 0
	for id, sess := range m.sessions {
		if now.Sub(sess.lastUsed) <= m.ttl {
			continue
		}
		if !sess.mu.TryLock() {
			continue
		}
		delete(m.sessions, id)
		sess.mu.Unlock()
		dropped++
	}
	return dropped
}

// Len returns the number of open sessions.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// OpenSessionRequest is the input of OpenUploadSession.
type OpenSessionRequest struct {
	InstitutionCodes []string `json:"institution_codes"`
	LookupMode       string   `json:"lookup_mode,omitempty"`
	UploadedBy       string   `json:"uploaded_by"`
}

// OpenUploadSession builds the lookup index once and keeps it on the
// server under a new handle.
func (s *Service) OpenUploadSession(ctx context.Context, req OpenSessionRequest) (*SessionInfo, error) {
	if strings.TrimSpace(req.UploadedBy) == "" {
		return nil, ErrMissingUploader
	}
	mode, err := ParseLookupMode(req.LookupMode)
	if err != nil {
		return nil, err
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	ix, stats, err := s.uploadIndex(ctx, mode, req.InstitutionCodes)
	if err != nil {
		return nil, err
	}

	sess := &UploadSession{
		ID:         uuid.NewString(),
		Mode:       mode,
		UploadedBy: strings.TrimSpace(req.UploadedBy),
		Stats:      stats,
		CreatedAt:  time.Now(),
		totals:     newBatchResult(0),
	}
	sess.committer = newCommitter(s.store, ix, nil, sess.UploadedBy, sess.ID)

	if err := s.sessions.add(sess); err != nil {
		return nil, err
	}

	logging.WithFields(ctx, "upload_id", sess.ID).Info("upload session opened",
		"mode", mode, "registrations", stats.Registrations)
	s.logAudit(ctx, AuditLogParams{
		Action:   ActionSessionOpen,
		Actor:    sess.UploadedBy,
		UploadID: sess.ID,
		Details:  map[string]any{"institution_codes": req.InstitutionCodes, "lookup_mode": mode},
	})

	return &SessionInfo{
		Handle:     sess.ID,
		LookupMode: mode,
		Stats:      stats,
		ExpiresAt:  sess.lastUsed.Add(s.sessions.ttl),
	}, nil
}

// ProcessSessionBatch commits a chunk within a session. When startIndex
// is nil the chunk continues where the previous one ended.
func (s *Service) ProcessSessionBatch(ctx context.Context, handle string, rows []RawRow, startIndex *int) (*SessionBatchResult, error) {
	if len(rows) == 0 {
		return nil, ErrNoRows
	}
	sess, expiresAt, err := s.sessions.get(handle)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	start := sess.nextIndex
	if startIndex != nil && *startIndex >= 0 {
		start = *startIndex
	}

	res := sess.committer.run(ctx, rows, start)
	sess.totals.Merge(res)
	sess.batches++
	if end := start + len(rows); end > sess.nextIndex {
		sess.nextIndex = end
	}

	logging.WithFields(ctx, "upload_id", sess.ID).Info("session batch processed",
		"start", start,
		"successful", res.Successful,
		"failed", res.Failed,
		"skipped", res.Skipped,
	)

	return &SessionBatchResult{
		BatchResult:  *res,
		Handle:       sess.ID,
		NextRowIndex: sess.nextIndex,
		Cumulative: SessionCounter{
			Total:      sess.totals.Total,
			Successful: sess.totals.Successful,
			Failed:     sess.totals.Failed,
			Skipped:    sess.totals.Skipped,
			Status:     sess.totals.Status,
		},
		ExpiresAt: expiresAt,
	}, nil
}

// CloseUploadSession discards a session and returns its totals.
func (s *Service) CloseUploadSession(ctx context.Context, handle string) (*SessionSummary, error) {
	sess, ok := s.sessions.remove(handle)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, handle)
	}

	// wait for a chunk still in flight
	sess.mu.Lock()
	defer sess.mu.Unlock()

	sum := &SessionSummary{Handle: sess.ID, Batches: sess.batches, BatchResult: *sess.totals}
	sum.Status = DeriveStatus(sum.Successful, sum.Failed, sum.Skipped)

	details := batchDetails(sess.totals)
	details["batches"] = sess.batches
	s.logAudit(ctx, AuditLogParams{
		Action:       ActionSessionClose,
		Actor:        sess.UploadedBy,
		UploadID:     sess.ID,
		RowsAffected: sess.totals.Successful,
		Details:      details,
	})

	return sum, nil
}

// OpenSessions returns the number of live upload sessions.
func (s *Service) OpenSessions() int {
	return s.sessions.Len()
}
