// Command cardledger-cli prints the dashboard, upcoming or overdue
// statements of one user as JSON, or writes the report once.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"cardledger/internal/backend"
	"cardledger/internal/cli"
	"cardledger/internal/core"
	"cardledger/internal/log"
	"cardledger/internal/services"
	"cardledger/internal/worker"
)

type options struct {
	userID string
	asOf   core.Date
	view   string
	export bool
}

func parseFlags(args []string, defaultUser string, today core.Date) (options, error) {
	fs := flag.NewFlagSet("cardledger-cli", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	user := fs.String("user", defaultUser, "ledger owner")
	asOf := fs.String("as-of", "", "as-of date YYYY-MM-DD (default today)")
	view := fs.String("view", "dashboard", "dashboard, upcoming or overdue")
	export := fs.Bool("export", false, "write the dashboard to the configured report instead of printing it")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts := options{userID: *user, asOf: today, view: *view, export: *export}
	if *asOf != "" {
		d, ok := core.ParseDate(*asOf)
		if !ok {
			return options{}, fmt.Errorf("invalid -as-of %q: want YYYY-MM-DD", *asOf)
		}
		opts.asOf = d
	}
	switch opts.view {
	case "dashboard", "upcoming", "overdue":
	default:
		return options{}, fmt.Errorf("invalid -view %q: want dashboard, upcoming or overdue", opts.view)
	}
	return opts, nil
}

// printView writes the selected view as indented JSON.
func printView(ctx context.Context, w io.Writer, svc *services.LedgerService, opts options) error {
	var v any
	var err error
	switch opts.view {
	case "upcoming":
		v, err = svc.UpcomingDue(ctx, opts.userID, opts.asOf)
	case "overdue":
		v, err = svc.Overdue(ctx, opts.userID, opts.asOf)
	default:
		v, err = svc.Dashboard(ctx, opts.userID, opts.asOf)
	}
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg).WithComponent(log.ComponentCLI)

	opts, err := parseFlags(os.Args[1:], cfg.UserID, core.DateOf(time.Now()))
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	res := cli.InitBackend(ctx, logger, cfg)
	defer res.Close()
	svc := cli.NewLedgerService(cfg, res, logger)

	if opts.export {
		bcfg, err := backend.FromAppConfig(cfg)
		if err != nil {
			logger.Error("Invalid backend configuration", log.FieldError, err)
			os.Exit(1)
		}
		writer, err := backend.NewFactory(logger).CreateReportWriter(ctx, bcfg)
		if err != nil {
			logger.Error("Failed to initialize report writer", log.FieldError, err)
			os.Exit(1)
		}
		w := worker.NewReportWorker(svc, writer, nil, worker.Config{UserID: opts.userID}, logger)
		if err := w.ExportAsOf(ctx, opts.asOf); err != nil {
			logger.Error("Export failed", log.FieldError, err)
			os.Exit(1)
		}
		return
	}

	if err := printView(ctx, os.Stdout, svc, opts); err != nil {
		logger.Error("Failed to compute view", log.FieldError, err, "view", opts.view)
		os.Exit(1)
	}
}
