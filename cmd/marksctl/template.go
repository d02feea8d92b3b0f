package main

import (
	"fmt"
	"os"

	"github.com/JonMunkholm/markrecon/internal/core"
	"github.com/spf13/cobra"
)

func newTemplateCmd() *cobra.Command {
	var mode, out string

	cmd := &cobra.Command{
		Use:   "template",
		Short: "Write an empty upload template workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			lm, err := core.ParseLookupMode(mode)
			if err != nil {
				return err
			}
			if out == "" {
				out = core.TemplateFileName(lm)
			}
			buf, err := core.WriteTemplate(lm)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", string(core.ModeDummyNumber), "Lookup mode: dummy_number or register_number")
	cmd.Flags().StringVar(&out, "out", "", "Output file (default: template file name for the mode)")
	return cmd
}
