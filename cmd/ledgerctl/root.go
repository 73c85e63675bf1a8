package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/gridlock-ai/sentinel/internal/domain"
	"github.com/gridlock-ai/sentinel/internal/feedback"
	"github.com/gridlock-ai/sentinel/internal/ledger"
	"github.com/gridlock-ai/sentinel/internal/simulate"
)

type app struct {
	backend string
	path    string
	out     io.Writer
}

func newRootCommand(out io.Writer) *cobra.Command {
	a := &app{out: out}

	cmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Inspect and verify the theft ledger offline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)
	cmd.PersistentFlags().StringVar(&a.backend, "backend", "file", "ledger backend: file or sqlite")
	cmd.PersistentFlags().StringVar(&a.path, "ledger", "data/ledger.jsonl", "path to the ledger")

	cmd.AddCommand(
		newVerifyCmd(a),
		newListCmd(a),
		newShowCmd(a),
		newFeedbackCmd(a),
		newDatasetCmd(a),
	)
	return cmd
}

func (a *app) load() ([]domain.LedgerEntry, error) {
	switch a.backend {
	case "file":
		return ledger.ReadFile(a.path)
	case "sqlite":
		if _, err := os.Stat(a.path); err != nil {
			return nil, err
		}
		s, err := ledger.NewSQLiteStore(a.path)
		if err != nil {
			return nil, err
		}
		defer s.Close()
		return s.Load()
	}
	return nil, fmt.Errorf("unknown backend %q", a.backend)
}

func newVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Recompute every hash and check the chain links",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := a.load()
			if err != nil {
				return err
			}
			report := ledger.VerifyEntries(entries)
			if !report.OK {
				fmt.Fprintf(a.out, "CORRUPT at index %d: %s\n", report.FailedIndex, report.Reason)
				return domain.ErrCorruptLedger
			}
			fmt.Fprintf(a.out, "OK: %d entries verified\n", report.Entries)
			return nil
		},
	}
}

func newListCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List ledger entries, newest last",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := a.load()
			if err != nil {
				return err
			}
			if limit > 0 && len(entries) > limit {
				entries = entries[len(entries)-limit:]
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "INDEX\tTIMESTAMP\tEPISODE\tSCORE\tCAUSE\tHASH")
			for _, e := range entries {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%.3f\t%s\t%s\n",
					e.Index,
					e.Timestamp.UTC().Format(time.RFC3339),
					e.Payload.EpisodeID,
					e.Payload.AnomalyScore,
					e.Payload.CauseLabel(),
					shortHash(e.EntryHash),
				)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "show only the last N entries")
	return cmd
}

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show INDEX",
		Short: "Print one entry as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("index must be an integer: %w", err)
			}
			entries, err := a.load()
			if err != nil {
				return err
			}
			if idx < 0 || idx >= len(entries) {
				return fmt.Errorf("index %d out of range (ledger has %d entries)", idx, len(entries))
			}
			enc := json.NewEncoder(a.out)
			enc.SetIndent("", "  ")
			return enc.Encode(entries[idx])
		},
	}
}

func newFeedbackCmd(a *app) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "Summarise the labelled feedback log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			samples, err := feedback.ReadFile(path)
			if err != nil {
				return err
			}
			var theft int
			for _, s := range samples {
				if s.Label == domain.LabelTheft {
					theft++
				}
			}
			fmt.Fprintf(a.out, "%d samples: %d normal, %d theft\n", len(samples), len(samples)-theft, theft)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "data/feedback_log.csv", "path to the feedback log")
	return cmd
}

func newDatasetCmd(a *app) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "dataset",
		Short: "Write the built-in simulator dataset as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if out == "" || out == "-" {
				return simulate.WriteDataset(a.out, simulate.GenerateDataset())
			}
			if _, err := os.Stat(out); err == nil {
				return fmt.Errorf("%s already exists", out)
			} else if !errors.Is(err, os.ErrNotExist) {
				return err
			}
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			if err := simulate.WriteDataset(f, simulate.GenerateDataset()); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "-", "output file, - for stdout")
	return cmd
}

func shortHash(h string) string {
	if len(h) <= 12 {
		return h
	}
	return h[:12]
}
