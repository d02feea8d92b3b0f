package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/JonMunkholm/markrecon/internal/core"
	"github.com/JonMunkholm/markrecon/internal/store"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type uploadOptions struct {
	file       string
	mode       string
	uploadedBy string
	chunk      int
	failedOut  string
}

func newUploadCmd(root *rootOptions) *cobra.Command {
	var opts uploadOptions

	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload a marks workbook in chunks",
		Long: "Reads the workbook, prepares the lookup index once, then commits the rows\n" +
			"chunk by chunk, carrying the keys inserted by earlier chunks forward.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(cmd.Context(), root, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.file, "file", "", "Workbook to upload (.xlsx, required)")
	cmd.Flags().StringVar(&opts.mode, "mode", string(core.ModeDummyNumber), "Lookup mode: dummy_number or register_number")
	cmd.Flags().StringVar(&opts.uploadedBy, "uploaded-by", "", "Operator recorded as creator (required)")
	cmd.Flags().IntVar(&opts.chunk, "chunk", 500, "Rows per batch")
	cmd.Flags().StringVar(&opts.failedOut, "failed-out", "", "Write failed and skipped rows to this workbook")

	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("uploaded-by")

	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if opts.chunk < 1 {
			return fmt.Errorf("invalid --chunk %d: must be at least 1", opts.chunk)
		}
		if _, err := core.ParseLookupMode(opts.mode); err != nil {
			return err
		}
		return nil
	}

	return cmd
}

func runUpload(ctx context.Context, root *rootOptions, opts uploadOptions, out io.Writer) error {
	f, err := os.Open(opts.file)
	if err != nil {
		return fmt.Errorf("open workbook: %w", err)
	}
	rows, err := core.ReadWorkbook(f)
	f.Close()
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return core.ErrNoRows
	}

	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	pool, err := openPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	svc, err := core.NewService(store.New(pool), cfg)
	if err != nil {
		return err
	}
	ctx = core.ContextWithActor(ctx, opts.uploadedBy)

	prep, err := svc.Prepare(ctx, core.PrepareRequest{
		InstitutionCodes: core.InstitutionCodes(rows),
		LookupMode:       opts.mode,
	})
	if err != nil {
		return err
	}
	slog.Info("lookup index ready",
		"institutions", prep.Stats.Institutions,
		"registrations", prep.Stats.Registrations,
		"existing_entries", prep.Stats.ExistingEntries,
	)

	total, err := uploadChunks(ctx, svc, prep.LookupIndex, rows, opts)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "rows: %d  successful: %d  failed: %d  skipped: %d  status: %s\n",
		total.Total, total.Successful, total.Failed, total.Skipped, total.Status)
	for _, e := range append(total.ValidationErrors, total.Errors...) {
		fmt.Fprintf(out, "  row %d: %s\n", e.Row, e.Message())
	}

	if opts.failedOut != "" && (total.Failed > 0 || total.Skipped > 0) {
		mode, _ := core.ParseLookupMode(opts.mode)
		buf, err := core.WriteFailedRows(total, mode)
		if err != nil {
			return err
		}
		if err := os.WriteFile(opts.failedOut, buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", opts.failedOut, err)
		}
		fmt.Fprintf(out, "failed rows written to %s\n", opts.failedOut)
	}
	return nil
}

// batchProcessor is the part of core.Service the chunk loop needs.
type batchProcessor interface {
	ProcessBatch(ctx context.Context, req core.BatchRequest) (*core.BatchResult, error)
}

// uploadChunks sends rows in order, one chunk at a time. Every chunk
// carries the keys inserted by all earlier chunks, so a student repeated
// across chunks is skipped rather than hitting the unique constraint.
func uploadChunks(ctx context.Context, svc batchProcessor, ix core.LookupIndex, rows []core.RawRow, opts uploadOptions) (*core.BatchResult, error) {
	uploadID := uuid.NewString()
	total := &core.BatchResult{Status: core.DeriveStatus(0, 0, 0)}
	var keys []string

	for start := 0; start < len(rows); start += opts.chunk {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		end := min(start+opts.chunk, len(rows))

		res, err := svc.ProcessBatch(ctx, core.BatchRequest{
			Rows:            rows[start:end],
			UploadedBy:      strings.TrimSpace(opts.uploadedBy),
			LookupIndex:     ix,
			NewExistingKeys: keys,
			BatchStartIndex: start,
			UploadID:        uploadID,
		})
		if err != nil {
			return total, fmt.Errorf("batch at row %d: %w", start+2, err)
		}
		keys = append(keys, res.NewExistingKeys...)
		total.Merge(res)

		slog.Info("batch committed",
			"rows", fmt.Sprintf("%d-%d", start+2, end+1),
			"successful", res.Successful,
			"failed", res.Failed,
			"skipped", res.Skipped,
		)
	}
	return total, nil
}
