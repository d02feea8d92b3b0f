package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/JonMunkholm/markrecon/internal/config"
	"github.com/JonMunkholm/markrecon/internal/logging"
	"github.com/google/uuid"
)

// Service provides the marks reconciliation and correction operations.
type Service struct {
	store    Store
	cfg      *config.Config
	index    *IndexBuilder
	limiter  *UploadLimiter
	sessions *SessionManager
}

// NewService creates a Service over store.
func NewService(store Store, cfg *config.Config) (*Service, error) {
	if store == nil {
		return nil, errors.New("core: nil store")
	}
	if cfg == nil {
		return nil, errors.New("core: nil config")
	}
	return &Service{
		store:    store,
		cfg:      cfg,
		index:    NewIndexBuilder(store, cfg.Index),
		limiter:  NewUploadLimiter(cfg.Upload.MaxConcurrent, cfg.Upload.MaxWaitTime),
		sessions: NewSessionManager(cfg.Sessions.TTL, cfg.Sessions.MaxOpen),
	}, nil
}

func (s *Service) logger(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx)
}

// UploadLimiterStatus returns the state of the index-build limiter.
func (s *Service) UploadLimiterStatus() UploadLimiterStatus {
	return s.limiter.Status()
}

// WaitForUploads blocks until running index builds and bulk uploads finish.
func (s *Service) WaitForUploads(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// ============================================================================
// Prepare
// ============================================================================

// PrepareRequest is the input of the prepare operation.
type PrepareRequest struct {
	InstitutionCodes []string `json:"institution_codes"`
	LookupMode       string   `json:"lookup_mode,omitempty"`
}

// Prepare resolves the institution codes and builds the lookup index for
// them. Any unknown code fails the whole call.
func (s *Service) Prepare(ctx context.Context, req PrepareRequest) (*PrepareResult, error) {
	mode, err := ParseLookupMode(req.LookupMode)
	if err != nil {
		return nil, err
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	ix, stats, err := s.buildIndex(ctx, mode, req.InstitutionCodes)
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, AuditLogParams{
		Action: ActionPrepare,
		Details: map[string]any{
			"institution_codes": req.InstitutionCodes,
			"lookup_mode":       mode,
			"registrations":     stats.Registrations,
		},
	})

	return &PrepareResult{Success: true, LookupIndex: *ix, Stats: stats}, nil
}

func (s *Service) buildIndex(ctx context.Context, mode LookupMode, codes []string) (*LookupIndex, IndexStats, error) {
	mapping, err := ResolveInstitutions(ctx, s.store, codes)
	if err != nil {
		return nil, IndexStats{}, err
	}
	return s.index.Build(ctx, mode, mapping)
}

// uploadIndex is buildIndex for uploads that carry their own rows. When
// no row names an institution there is nothing to resolve: the rows go to
// the committer against an empty index and each one fails validation.
func (s *Service) uploadIndex(ctx context.Context, mode LookupMode, codes []string) (*LookupIndex, IndexStats, error) {
	for _, c := range codes {
		if NormalizeInstitutionCode(c) != "" {
			return s.buildIndex(ctx, mode, codes)
		}
	}
	return emptyIndex(mode), IndexStats{}, nil
}

func emptyIndex(mode LookupMode) *LookupIndex {
	return &LookupIndex{
		Mode:                mode,
		InstitutionMapping:  map[string]string{},
		SessionLookup:       map[string]SessionRef{},
		RegisterLookup:      map[string]RegistrationRef{},
		ExistingEntryLookup: map[string]bool{},
	}
}

// ============================================================================
// Process batch
// ============================================================================

// ProcessBatch commits one chunk of an upload against a caller-supplied
// index. Chunks of the same upload must be sent one after another, each
// carrying the NewExistingKeys of all earlier chunks.
func (s *Service) ProcessBatch(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	if strings.TrimSpace(req.UploadedBy) == "" {
		return nil, ErrMissingUploader
	}
	if len(req.Rows) == 0 {
		return nil, ErrNoRows
	}
	if req.BatchStartIndex < 0 {
		req.BatchStartIndex = 0
	}
	if err := req.LookupIndex.check(); err != nil {
		return nil, err
	}

	log := logging.WithFields(ctx,
		"upload_id", req.UploadID,
		"batch_start_index", req.BatchStartIndex,
		"rows", len(req.Rows),
	)

	c := newCommitter(s.store, &req.LookupIndex, req.NewExistingKeys, strings.TrimSpace(req.UploadedBy), req.UploadID)
	res := c.run(ctx, req.Rows, req.BatchStartIndex)

	log.Info("batch processed",
		"successful", res.Successful,
		"failed", res.Failed,
		"skipped", res.Skipped,
		"status", res.Status,
	)

	s.logAudit(ctx, AuditLogParams{
		Action:       ActionBatchCommit,
		Actor:        req.UploadedBy,
		UploadID:     req.UploadID,
		RowsAffected: res.Successful,
		Details:      batchDetails(res),
	})

	return res, nil
}

// ============================================================================
// Single-shot bulk upload
// ============================================================================

// BulkUploadRequest is the input of a single-shot upload. MarksData and
// AttendanceData are alternative names for the same rows.
type BulkUploadRequest struct {
	MarksData      []RawRow `json:"marks_data,omitempty"`
	AttendanceData []RawRow `json:"attendance_data,omitempty"`
	UploadedBy     string   `json:"uploaded_by"`
	LookupMode     string   `json:"lookup_mode,omitempty"`
	FileName       string   `json:"file_name,omitempty"`

	// FileContent is the uploaded workbook, if any. Only its hash is kept.
	FileContent []byte `json:"-"`
}

// Rows returns whichever row list was supplied.
func (r BulkUploadRequest) Rows() []RawRow {
	if len(r.MarksData) > 0 {
		return r.MarksData
	}
	return r.AttendanceData
}

// BulkUploadResult is the outcome of a single-shot upload.
type BulkUploadResult struct {
	UploadID   string     `json:"upload_id"`
	LookupMode LookupMode `json:"lookup_mode"`
	FileName   string     `json:"file_name,omitempty"`
	FileHash   string     `json:"file_hash,omitempty"`
	BatchResult
	Batches    int        `json:"batches"`
	Stats      IndexStats `json:"stats"`
	DurationMS int64      `json:"duration_ms"`
}

// BulkUpload runs prepare and process-batch in one call for datasets that
// fit the configured row limit. Chunks are processed sequentially and
// share one duplicate key set, exactly as a well-behaved caller of
// ProcessBatch would.
func (s *Service) BulkUpload(ctx context.Context, req BulkUploadRequest) (*BulkUploadResult, error) {
	rows := req.Rows()
	if strings.TrimSpace(req.UploadedBy) == "" {
		return nil, ErrMissingUploader
	}
	if len(rows) == 0 {
		return nil, ErrNoRows
	}
	if len(rows) > s.cfg.Upload.MaxRows {
		return nil, fmt.Errorf("%w: %d rows exceeds the limit of %d, use prepare and process-batch",
			ErrTooManyRows, len(rows), s.cfg.Upload.MaxRows)
	}
	mode, err := ParseLookupMode(req.LookupMode)
	if err != nil {
		return nil, err
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Upload.Timeout)
	defer cancel()

	start := time.Now()
	out := &BulkUploadResult{
		UploadID:    uuid.NewString(),
		LookupMode:  mode,
		FileName:    req.FileName,
		BatchResult: *newBatchResult(0),
	}
	if len(req.FileContent) > 0 {
		sum := sha256.Sum256(req.FileContent)
		out.FileHash = hex.EncodeToString(sum[:])
	}

	log := logging.WithFields(ctx, "upload_id", out.UploadID, "mode", mode, "rows", len(rows))
	log.Info("bulk upload started", "file", req.FileName)

	ix, stats, err := s.uploadIndex(ctx, mode, InstitutionCodes(rows))
	if err != nil {
		return nil, err
	}
	out.Stats = stats

	c := newCommitter(s.store, ix, nil, strings.TrimSpace(req.UploadedBy), out.UploadID)
	for startIdx := 0; startIdx < len(rows); startIdx += s.cfg.Upload.BatchSize {
		end := min(startIdx+s.cfg.Upload.BatchSize, len(rows))
		out.BatchResult.Merge(c.run(ctx, rows[startIdx:end], startIdx))
		out.Batches++
	}
	out.DurationMS = time.Since(start).Milliseconds()

	log.Info("bulk upload finished",
		"successful", out.Successful,
		"failed", out.Failed,
		"skipped", out.Skipped,
		"status", out.Status,
		"duration_ms", out.DurationMS,
	)

	details := batchDetails(&out.BatchResult)
	details["file_name"] = out.FileName
	details["file_hash"] = out.FileHash
	details["lookup_mode"] = mode
	s.logAudit(ctx, AuditLogParams{
		Action:       ActionBulkUpload,
		Actor:        req.UploadedBy,
		UploadID:     out.UploadID,
		RowsAffected: out.Successful,
		Details:      details,
	})

	return out, nil
}

func batchDetails(res *BatchResult) map[string]any {
	return map[string]any{
		"total":      res.Total,
		"successful": res.Successful,
		"failed":     res.Failed,
		"skipped":    res.Skipped,
		"status":     res.Status,
	}
}

// ============================================================================
// Bulk delete
// ============================================================================

// NonDeletable explains why an id was not deleted.
type NonDeletable struct {
	ID          string `json:"id"`
	DummyNumber string `json:"dummy_number,omitempty"`
	Reason      string `json:"reason"`
}

// BulkDeleteResult reports what a bulk delete did. Refusals are not
// errors; they are listed in NonDeletable and counted in Skipped.
type BulkDeleteResult struct {
	Deleted      int            `json:"deleted"`
	DeletedIDs   []string       `json:"deleted_ids"`
	Skipped      int            `json:"skipped"`
	NonDeletable []NonDeletable `json:"non_deletable"`
}

// BulkDelete removes Draft entries created by bulk upload. Every other id
// is skipped with a reason.
func (s *Service) BulkDelete(ctx context.Context, ids []string) (*BulkDeleteResult, error) {
	res := &BulkDeleteResult{DeletedIDs: []string{}, NonDeletable: []NonDeletable{}}

	seen := make(map[string]bool, len(ids))
	var valid []string
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if _, err := uuid.Parse(id); err != nil {
			res.NonDeletable = append(res.NonDeletable, NonDeletable{ID: id, Reason: "Invalid entry id"})
			continue
		}
		valid = append(valid, id)
	}
	if len(valid) == 0 && len(res.NonDeletable) == 0 {
		return nil, ErrNoIDs
	}

	entries, err := s.store.GetMarkEntries(ctx, valid)
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}
	byID := make(map[string]MarkEntry, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
	}

	var deletable []string
	for _, id := range valid {
		e, ok := byID[id]
		switch {
		case !ok:
			res.NonDeletable = append(res.NonDeletable, NonDeletable{ID: id, Reason: "Entry not found"})
		case e.Source != SourceBulkUpload:
			res.NonDeletable = append(res.NonDeletable, NonDeletable{ID: id, DummyNumber: e.DummyNumber,
				Reason: fmt.Sprintf("Cannot delete %s records from this page", e.Source)})
		case e.Status != StatusDraft:
			res.NonDeletable = append(res.NonDeletable, NonDeletable{ID: id, DummyNumber: e.DummyNumber,
				Reason: fmt.Sprintf("Cannot delete records with status %q (only Draft allowed)", e.Status)})
		default:
			deletable = append(deletable, id)
		}
	}

	if len(deletable) > 0 {
		deleted, err := s.store.DeleteDraftBulkEntries(ctx, deletable)
		if err != nil {
			return nil, fmt.Errorf("delete entries: %w", err)
		}
		gone := make(map[string]bool, len(deleted))
		for _, id := range deleted {
			gone[id] = true
		}
		for _, id := range deletable {
			if gone[id] {
				res.DeletedIDs = append(res.DeletedIDs, id)
				continue
			}
			// corrected, or status or source changed, after it was read
			res.NonDeletable = append(res.NonDeletable, NonDeletable{ID: id, DummyNumber: byID[id].DummyNumber,
				Reason: "Entry was corrected or changed before it could be deleted"})
		}
	}

	res.Deleted = len(res.DeletedIDs)
	res.Skipped = len(res.NonDeletable)

	if res.Deleted > 0 {
		s.logAudit(ctx, AuditLogParams{
			Action:       ActionBulkDelete,
			RowsAffected: res.Deleted,
			Details: map[string]any{
				"deleted_ids": res.DeletedIDs,
				"skipped":     res.Skipped,
			},
		})
	}
	s.logger(ctx).Info("bulk delete finished", "deleted", res.Deleted, "skipped", res.Skipped)

	return res, nil
}
