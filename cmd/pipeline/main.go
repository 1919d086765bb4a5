package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/kirillkom/pricewatch/internal/bootstrap"
	"github.com/kirillkom/pricewatch/internal/config"
	"github.com/kirillkom/pricewatch/internal/core/domain"
	"github.com/kirillkom/pricewatch/internal/core/ports"
	"github.com/kirillkom/pricewatch/internal/core/usecase"
	"github.com/kirillkom/pricewatch/internal/infrastructure/queue/nats"
	"github.com/kirillkom/pricewatch/internal/infrastructure/resilience"
	"github.com/kirillkom/pricewatch/internal/infrastructure/staging/localfs"
	"github.com/kirillkom/pricewatch/internal/observability/logging"
)

const serviceName = "pipeline"

// Exit codes.
const (
	exitOK = iota
	exitError
	exitUsage
	exitPartial
	exitBusy
)

const usage = `usage: pipeline <command> [args]

commands:
  stage <file.jsonl>...              stage JSONL records as one sealed collection
  load                               load every unprocessed collection
  tag                                tag articles without an automatic tag
  cycle                              load, then tag
  collections                        list staging collections
  reset <key>                        make a failed or processed collection loadable again
  tag-manual <sku> <label>           assign a tag by hand
  export <by-tag|by-brand|competition> <out.xlsx> [brand]
`

func main() {
	_ = godotenv.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type command struct {
	args    string
	minArgs int
	maxArgs int
	// staging-only commands do not need the database.
	stagingOnly bool
	exec        func(ctx context.Context, env *env, args []string) error
}

var commands = map[string]command{
	"stage":       {args: "<file.jsonl>...", minArgs: 1, maxArgs: -1, stagingOnly: true, exec: stageCmd},
	"collections": {stagingOnly: true, exec: collectionsCmd},
	"reset":       {args: "<key>", minArgs: 1, maxArgs: 1, stagingOnly: true, exec: resetCmd},
	"load":        {exec: loadCmd},
	"tag":         {exec: tagCmd},
	"cycle":       {exec: cycleCmd},
	"tag-manual":  {args: "<sku> <label>", minArgs: 2, maxArgs: 2, exec: tagManualCmd},
	"export":      {args: "<by-tag|by-brand|competition> <out.xlsx> [brand]", minArgs: 2, maxArgs: 3, exec: exportCmd},
}

type env struct {
	cfg     config.Config
	logger  *slog.Logger
	out     io.Writer
	staging *localfs.Store
	events  ports.CollectionEvents
	app     *bootstrap.App
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("pipeline", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return exitUsage
	}

	name, rest := fs.Arg(0), fs.Args()[1:]
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", name, usage)
		return exitUsage
	}
	if len(rest) < cmd.minArgs || (cmd.maxArgs >= 0 && len(rest) > cmd.maxArgs) {
		fmt.Fprintf(stderr, "usage: pipeline %s %s\n", name, cmd.args)
		return exitUsage
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return exitError
	}
	logger := logging.New(stderr, serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	e, closeEnv, err := openEnv(ctx, cfg, logger, stdout, name, cmd.stagingOnly)
	if err != nil {
		logger.Error("pipeline_init_failed", "command", name, "error", err)
		return exitError
	}
	defer closeEnv()

	err = cmd.exec(ctx, e, rest)
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errPartial):
		return exitPartial
	case domain.IsKind(err, domain.ErrLoaderBusy):
		logger.Warn("pipeline_busy", "command", name, "error", err)
		return exitBusy
	case domain.IsKind(err, domain.ErrInvalidInput), domain.IsKind(err, domain.ErrNotFound):
		logger.Error("pipeline_rejected", "command", name, "error", err)
		return exitUsage
	default:
		logger.Error("pipeline_failed", "command", name, "error", err)
		return exitError
	}
}

func openEnv(ctx context.Context, cfg config.Config, logger *slog.Logger, out io.Writer, name string, stagingOnly bool) (*env, func(), error) {
	e := &env{cfg: cfg, logger: logger, out: out}
	if !stagingOnly {
		app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Service: serviceName, Logger: logger})
		if err != nil {
			return nil, nil, err
		}
		e.app = app
		e.staging = app.Staging
		return e, app.Close, nil
	}

	staging, err := localfs.New(cfg.StagingPath, localfs.Options{ShardRecords: cfg.StagingShardRecords, Logger: logger})
	if err != nil {
		return nil, nil, err
	}
	e.staging = staging
	closeFn := func() {}
	if name == "stage" && cfg.NATSEnabled {
		events, err := nats.Connect(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			Name:   "pricewatch-" + serviceName,
			Logger: logger,
			Executor: resilience.NewExecutor(resilience.Policy{
				MaxAttempts:    cfg.RetryMaxAttempts,
				InitialBackoff: cfg.RetryInitialBackoff,
				BreakerEnabled: true,
			}, logger),
		})
		if err != nil {
			// Staging stays usable; the worker schedule picks the collection up.
			logger.Warn("events_unavailable", "error", err)
		} else {
			e.events = events
			closeFn = events.Close
		}
	}
	return e, closeFn, nil
}

var errPartial = errors.New("some collections were not loaded")

func stageCmd(ctx context.Context, e *env, paths []string) error {
	var readers []io.Reader
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return domain.WrapError(domain.ErrInvalidInput, "open input", err)
		}
		defer f.Close()
		readers = append(readers, f)
	}
	c, err := usecase.NewStageUseCase(e.staging, e.events, e.logger).StageJSONL(ctx, readers...)
	if err != nil {
		return err
	}
	return printJSON(e.out, c)
}

func collectionsCmd(ctx context.Context, e *env, _ []string) error {
	collections, err := e.staging.List(ctx)
	if err != nil {
		return err
	}
	if collections == nil {
		collections = []domain.Collection{}
	}
	return printJSON(e.out, collections)
}

func resetCmd(ctx context.Context, e *env, args []string) error {
	if err := e.staging.Reset(ctx, args[0]); err != nil {
		return err
	}
	c, err := e.staging.Get(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(e.out, c)
}

func loadCmd(ctx context.Context, e *env, _ []string) error {
	summary, err := e.app.LoadUC.Run(ctx)
	if err != nil {
		return err
	}
	if err := printJSON(e.out, summary); err != nil {
		return err
	}
	if summary.Failed() > 0 {
		return errPartial
	}
	return nil
}

func tagCmd(ctx context.Context, e *env, _ []string) error {
	summary, err := e.app.TagUC.Run(ctx)
	if err != nil {
		return err
	}
	return printJSON(e.out, summary)
}

func cycleCmd(ctx context.Context, e *env, _ []string) error {
	summary, err := e.app.CycleUC.Run(ctx)
	if err != nil {
		return err
	}
	if err := printJSON(e.out, summary); err != nil {
		return err
	}
	if summary.Load.Failed() > 0 {
		return errPartial
	}
	return nil
}

func tagManualCmd(ctx context.Context, e *env, args []string) error {
	if err := e.app.TagUC.AssignManual(ctx, args[0], args[1]); err != nil {
		return err
	}
	return printJSON(e.out, map[string]string{"sku": args[0], "label": args[1], "method": string(domain.TagMethodManual)})
}

func exportCmd(ctx context.Context, e *env, args []string) error {
	kind, path := args[0], args[1]
	var (
		report      domain.Report
		groupHeader = "tag"
		err         error
	)
	switch kind {
	case "by-tag":
		report, err = e.app.ReportUC.ByTag(ctx)
	case "by-brand":
		groupHeader = "brand"
		report, err = e.app.ReportUC.ByBrand(ctx)
	case "competition":
		if len(args) < 3 {
			return domain.WrapError(domain.ErrInvalidInput, "export", errors.New("competition needs a brand"))
		}
		report, err = e.app.ReportUC.BrandCompetition(ctx, args[2])
	default:
		return domain.WrapError(domain.ErrInvalidInput, "export", fmt.Errorf("unknown report %q", kind))
	}
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := e.app.Exporter.WriteReport(f, kind, groupHeader, report); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return printJSON(e.out, map[string]any{"report": kind, "path": path, "groups": len(report)})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
