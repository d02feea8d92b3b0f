package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/JonMunkholm/markrecon/internal/core"
)

// recordingProcessor returns one new key per row and records each request.
type recordingProcessor struct {
	calls []core.BatchRequest
	err   error
}

func (p *recordingProcessor) ProcessBatch(_ context.Context, req core.BatchRequest) (*core.BatchResult, error) {
	keys := slices.Clone(req.NewExistingKeys)
	p.calls = append(p.calls, core.BatchRequest{
		Rows:            req.Rows,
		NewExistingKeys: keys,
		BatchStartIndex: req.BatchStartIndex,
		UploadID:        req.UploadID,
	})
	if p.err != nil {
		return nil, p.err
	}
	res := &core.BatchResult{Total: len(req.Rows), Successful: len(req.Rows)}
	for i := range req.Rows {
		res.NewExistingKeys = append(res.NewExistingKeys, fmt.Sprintf("k%d", req.BatchStartIndex+i))
	}
	res.Status = core.DeriveStatus(res.Successful, 0, 0)
	return res, nil
}

func rows(n int) []core.RawRow {
	out := make([]core.RawRow, n)
	for i := range out {
		out[i] = core.RawRow{"dummy_number": fmt.Sprintf("D%03d", i)}
	}
	return out
}

func TestUploadChunks_ThreadsKeys(t *testing.T) {
	p := &recordingProcessor{}
	total, err := uploadChunks(context.Background(), p, core.LookupIndex{}, rows(5),
		uploadOptions{chunk: 2, uploadedBy: "coe"})
	if err != nil {
		t.Fatalf("uploadChunks: %v", err)
	}

	if len(p.calls) != 3 {
		t.Fatalf("calls = %d, want 3", len(p.calls))
	}
	wantStarts := []int{0, 2, 4}
	wantKeys := [][]string{nil, {"k0", "k1"}, {"k0", "k1", "k2", "k3"}}
	for i, c := range p.calls {
		if c.BatchStartIndex != wantStarts[i] {
			t.Errorf("call %d start = %d, want %d", i, c.BatchStartIndex, wantStarts[i])
		}
		if !slices.Equal(c.NewExistingKeys, wantKeys[i]) {
			t.Errorf("call %d keys = %v, want %v", i, c.NewExistingKeys, wantKeys[i])
		}
		if c.UploadID != p.calls[0].UploadID {
			t.Errorf("call %d upload id changed", i)
		}
	}
	if total.Total != 5 || total.Successful != 5 || total.Status != core.BatchCompleted {
		t.Errorf("total = %+v, want 5 successful completed", total)
	}
}

func TestUploadChunks_StopsOnError(t *testing.T) {
	p := &recordingProcessor{err: core.ErrMissingIndex}
	_, err := uploadChunks(context.Background(), p, core.LookupIndex{}, rows(3), uploadOptions{chunk: 1})
	if !errors.Is(err, core.ErrMissingIndex) {
		t.Fatalf("err = %v, want ErrMissingIndex", err)
	}
	if len(p.calls) != 1 {
		t.Errorf("calls = %d, want 1", len(p.calls))
	}
}

func TestUploadChunks_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &recordingProcessor{}
	if _, err := uploadChunks(ctx, p, core.LookupIndex{}, rows(3), uploadOptions{chunk: 1}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(p.calls) != 0 {
		t.Errorf("calls = %d, want 0", len(p.calls))
	}
}

func TestRootCmd_HasSubcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"migrate", "template", "upload"} {
		if c, _, err := root.Find([]string{name}); err != nil || c.Name() != name {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}
