package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/frame"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/prep"
	"github.com/opensource-finance/kestrel/internal/verification"
)

func verifyCmd() *cobra.Command {
	var (
		artifactRoot string
		outPath      string
	)
	cmd := &cobra.Command{
		Use:   "verify <ap-extract.csv>",
		Short: "Verify every invoice of an AP extract against its attachments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var f *frame.Frame
			if err := readFile(args[0], func(r io.Reader) (err error) {
				f, err = frame.ReadCSV(r)
				return err
			}); err != nil {
				return err
			}
			f = prep.Prepare(f, prep.Options{})
			rows := pipeline.InvoiceRows(f)
			if len(rows) == 0 {
				return fmt.Errorf("%s has no invoice rows with an ACCOUNT_DOC_ID", args[0])
			}

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			if artifactRoot != "" {
				a.cfg.Pipeline.ArtifactRoot = artifactRoot
				pcfg, deps, err := a.pipelineConfig()
				if err != nil {
					return err
				}
				a.pipeline = pipeline.New(pcfg, deps)
			}

			var enc *json.Encoder
			if outPath != "" {
				out, err := os.Create(outPath)
				if err != nil {
					return err
				}
				defer out.Close()
				enc = json.NewEncoder(out)
			}

			bar := progressbar.NewOptions(len(rows),
				progressbar.OptionSetWriter(cmd.ErrOrStderr()),
				progressbar.OptionShowCount(),
				progressbar.OptionShowElapsedTimeOnFinish(),
				progressbar.OptionSetWidth(40),
				progressbar.OptionSetDescription("Verifying invoices..."),
				progressbar.OptionOnCompletion(func() {
					fmt.Fprintln(cmd.ErrOrStderr())
				}),
			)

			results := map[domain.Method]int{}
			var verified, anomalies, failed int
			for _, i := range rows {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				inv := verification.InvoiceFromFrame(f, i)
				v, err := a.pipeline.VerifyInvoice(ctx, inv)
				if err != nil {
					failed++
					slog.Warn("invoice verification failed",
						"account_doc_id", inv.AccountDocID,
						"error", err,
					)
				}
				if v != nil {
					verified++
					anomalies += v.Anomalies()
					for _, r := range v.Results {
						results[r.Method]++
					}
					if enc != nil {
						if err := enc.Encode(v); err != nil {
							return fmt.Errorf("failed to write verification: %w", err)
						}
					}
				}
				if err := bar.Add(1); err != nil {
					slog.Warn("failed to update progress bar", "error", err)
				}
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Invoices verified: %d\n", verified)
			fmt.Fprintf(w, "Anomalous parameters: %d\n", anomalies)
			fmt.Fprintln(w, "Parameters by method:")
			for _, m := range []domain.Method{domain.MethodAutomated, domain.MethodManual, domain.MethodCombined} {
				fmt.Fprintf(w, "  %-10s %d\n", m, results[m])
			}
			fmt.Fprintf(w, "  %-10s %d\n", "null", results[""])
			if failed > 0 {
				fmt.Fprintf(w, "Failed: %d\n", failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&artifactRoot, "artifacts", "", "attachment directory (overrides pipeline.artifactRoot)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write one JSON verification per line to this file")
	return cmd
}
