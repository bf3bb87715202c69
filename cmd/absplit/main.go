// Package main provides the absplit command line tool: incremental
// acquisition of antibody–antigen complex structures from the RCSB archive
// and splitting of each complex into separate antigen and antibody files.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/absplit-io/absplit/internal/config"
	"github.com/absplit-io/absplit/internal/pipeline"
	"github.com/absplit-io/absplit/internal/sabdab"
	"github.com/absplit-io/absplit/internal/split"
)

// Version information.
const (
	version = "1.0.0"
	name    = "absplit"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("ABSPLIT_LOG_LEVEL", slog.LevelInfo),
	})))

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	if os.Args[1] == "--version" {
		fmt.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	// Stop dispatching new entries on interrupt; in-flight work finishes.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error

	switch os.Args[1] {
	case "sabdab":
		err = cmdSAbDab(ctx, os.Args[2:])
	case "process":
		err = cmdProcess(ctx, os.Args[2:])
	case "info":
		err = cmdInfo(ctx, os.Args[2:])
	case "retry":
		err = cmdRetry(ctx, os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		slog.Error("Command failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `%s v%s — antibody–antigen structure acquisition and chain splitting

Usage:
  %s sabdab <summary.tsv> [-output DIR] [-workers N] [-limit N] [-force]
  %s process <PDB_ID> -antigen CHAINS -antibody CHAINS [-output DIR] [-force]
  %s info <PDB_ID> [-output DIR]
  %s retry [-output DIR] [-limit N]
`, name, version, name, name, name, name)
}

func cmdSAbDab(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sabdab", flag.ExitOnError)
	output := fs.String("output", "", "output directory")
	workers := fs.Int("workers", 0, "worker pool width (default 1)")
	limit := fs.Int("limit", 0, "process at most N entries")
	force := fs.Bool("force", false, "re-download even if raw files exist")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() < 1 {
		return fmt.Errorf("sabdab: summary TSV path required")
	}

	settings := loadSettings(*output, *workers)

	entries, err := sabdab.ParseFile(fs.Arg(0))
	if err != nil {
		return err
	}

	batch := make([]*pipeline.Entry, 0, len(entries))

	for _, e := range entries {
		assignment, err := e.Assignment()
		if err != nil {
			slog.Warn("Skipping entry with unusable chain assignment",
				slog.String("pdb_id", e.PDBID),
				slog.String("error", err.Error()))

			continue
		}

		batch = append(batch, &pipeline.Entry{ID: e.PDBID, Assignment: assignment})
	}

	summary, err := pipeline.NewOrchestrator(settings).Run(ctx, batch, pipeline.RunOptions{
		Limit: *limit,
		Force: *force,
	})
	if err != nil {
		return err
	}

	printSummary(summary)

	return nil
}

func cmdProcess(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("process", flag.ExitOnError)
	antigen := fs.String("antigen", "", "antigen chain IDs (e.g. A or A,B)")
	antibody := fs.String("antibody", "", "antibody chain IDs (e.g. H,L)")
	output := fs.String("output", "", "output directory")
	force := fs.Bool("force", false, "re-download even if the raw file exists")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() < 1 {
		return fmt.Errorf("process: PDB identifier required")
	}

	settings := loadSettings(*output, 0)

	out, err := pipeline.NewOrchestrator(settings).ProcessOne(ctx,
		fs.Arg(0),
		split.ParseChains(*antigen),
		split.ParseChains(*antibody),
		*force,
	)
	if err != nil {
		return err
	}

	if out.Failed() {
		fmt.Printf("%s: %s (%s)\n", out.ID, out.Status, out.Detail)

		return nil
	}

	fmt.Printf("%s: %s\n", out.ID, out.Status)
	fmt.Printf("  antigen:  %s\n", out.AntigenPath)
	fmt.Printf("  antibody: %s\n", out.AntibodyPath)

	return nil
}

func cmdInfo(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	output := fs.String("output", "", "output directory")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() < 1 {
		return fmt.Errorf("info: PDB identifier required")
	}

	settings := loadSettings(*output, 0)

	chains, err := pipeline.NewOrchestrator(settings).InspectChains(ctx, fs.Arg(0))
	if err != nil {
		return err
	}

	fmt.Printf("%s chains:\n", strings.ToUpper(fs.Arg(0)))

	for _, chain := range chains {
		fmt.Printf("  %s: %d residues\n", chain.ID, chain.ResidueCount())
	}

	return nil
}

func cmdRetry(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("retry", flag.ExitOnError)
	output := fs.String("output", "", "output directory")
	limit := fs.Int("limit", 0, "retry at most N entries")

	if err := fs.Parse(args); err != nil {
		return err
	}

	settings := loadSettings(*output, 0)

	summary, err := pipeline.NewOrchestrator(settings).Retry(ctx, pipeline.RunOptions{Limit: *limit})
	if err != nil {
		return err
	}

	printSummary(summary)

	return nil
}

// loadSettings builds settings from the YAML file and environment, then
// applies explicit flag overrides.
func loadSettings(output string, workers int) *config.Settings {
	settings := config.LoadFromEnv()

	if output != "" {
		settings.OutputDir = output
	}

	if workers > 0 {
		settings.Workers = workers
	}

	return settings
}

func printSummary(s *pipeline.Summary) {
	fmt.Printf("run %s: %d total, %d success, %d failed\n", s.RunID, s.Total, s.Success, s.Failed)

	for reason, count := range s.FailureBreakdown {
		fmt.Printf("  %s: %d\n", reason, count)
	}
}
