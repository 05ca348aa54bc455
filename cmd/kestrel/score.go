package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/frame"
)

func scoreCmd() *cobra.Command {
	var (
		module  string
		auditID string
		outPath string
		docPath string
	)
	cmd := &cobra.Command{
		Use:   "score <extract.csv>",
		Short: "Score an AP or GL extract and print the batch summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			m := domain.Module(strings.ToUpper(module))
			if !m.Valid() {
				return fmt.Errorf("--module must be AP or GL, got %q", module)
			}

			var f *frame.Frame
			if err := readFile(args[0], func(r io.Reader) (err error) {
				f, err = frame.ReadCSV(r)
				return err
			}); err != nil {
				return err
			}

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			out, err := a.pipeline.Run(ctx, &domain.Batch{AuditID: auditID, Module: m}, f.Records())
			if err != nil {
				return err
			}

			if outPath != "" {
				if err := writeFrame(outPath, out.Frame); err != nil {
					return err
				}
			}
			if docPath != "" && out.Documents != nil {
				if err := writeFrame(docPath, out.Documents); err != nil {
					return err
				}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out.Summary)
		},
	}
	cmd.Flags().StringVar(&module, "module", "AP", "ledger module (AP, GL)")
	cmd.Flags().StringVar(&auditID, "audit-id", "", "audit the batch belongs to")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the scored rows to this CSV")
	cmd.Flags().StringVar(&docPath, "documents", "", "write the document rollup to this CSV")
	return cmd
}

func writeFrame(path string, f *frame.Frame) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := frame.WriteCSV(file, f); err != nil {
		file.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	return file.Close()
}
