package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"

	"github.com/joseph-ayodele/pdf-watermarker/constants"
	"github.com/joseph-ayodele/pdf-watermarker/internal/common"
	"github.com/joseph-ayodele/pdf-watermarker/internal/core"
	"github.com/joseph-ayodele/pdf-watermarker/internal/core/events"
	"github.com/joseph-ayodele/pdf-watermarker/internal/entity"
	"github.com/joseph-ayodele/pdf-watermarker/internal/export"
	"github.com/joseph-ayodele/pdf-watermarker/internal/jobfile"
	repo "github.com/joseph-ayodele/pdf-watermarker/internal/repository"
	"github.com/joseph-ayodele/pdf-watermarker/internal/services/batch"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }
func (l *listFlag) Set(v string) error {
	*l = append(*l, v)
	return nil
}

type options struct {
	job       entity.JobConfig
	report    string
	ledgerDSN string
	quiet     bool
}

// parseArgs builds the job from an optional --job file overridden by any flag
// given explicitly on the command line.
func parseArgs(args []string, defaultDSN string) (options, error) {
	fs := flag.NewFlagSet("watermark-batch", flag.ContinueOnError)
	var (
		inputs   listFlag
		jobPath  = fs.String("job", "", "JSON job file")
		out      = fs.String("out", "", "output root directory")
		text     = fs.String("text", "", "watermark text")
		image    = fs.String("image", "", "watermark image (png, jpeg, gif, webp)")
		alpha    = fs.Int("transparency", 50, "watermark opacity in percent, 0-100")
		position = fs.String("position", string(constants.PositionCenter), "center|top-left|top-right|bottom-left|bottom-right|diagonal")
		color    = fs.String("color", "#FFFFFF", "text color, #RGB or #RRGGBB")
		ocrOn    = fs.Bool("ocr", false, "run OCR on each output")
		lang     = fs.String("lang", "eng", "OCR language, e.g. eng or eng+deu")
		compress = fs.Bool("compress", false, "optimize each output")
		dpi      = fs.Int("dpi", 150, "render resolution (75, 100, 150, 200, 250, 300)")
		policy   = fs.String("failure-policy", string(constants.FailureContinue), "continue|abort")
		report   = fs.String("report", "", "write an XLSX run report to this path")
		ledger   = fs.String("ledger", defaultDSN, "run ledger DSN (sqlite path or postgres:// URL); empty disables")
		quiet    = fs.Bool("quiet", false, "do not print progress")
	)
	fs.Var(&inputs, "in", "input root directory (repeatable)")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg := entity.DefaultJobConfig()
	if *jobPath != "" {
		loaded, err := jobfile.Load(*jobPath)
		if err != nil {
			return options{}, err
		}
		cfg = loaded
	}

	var badDPI bool
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "in":
			cfg.InputRoots = inputs
		case "out":
			cfg.OutputRoot = *out
		case "text":
			cfg.Text = *text
		case "image":
			cfg.ImagePath = *image
		case "transparency":
			cfg.Transparency = *alpha
		case "position":
			cfg.Position = *position
		case "color":
			cfg.Color = *color
		case "ocr":
			cfg.OCREnabled = *ocrOn
		case "lang":
			cfg.OCRLanguage = *lang
		case "compress":
			cfg.Compress = *compress
		case "dpi":
			cfg.DPI = *dpi
			badDPI = !slices.Contains(constants.AllowedDPI, *dpi)
		case "failure-policy":
			cfg.FailurePolicy = *policy
		}
	})
	if badDPI {
		return options{}, fmt.Errorf("--dpi must be one of %v", constants.AllowedDPI)
	}
	if len(cfg.InputRoots) == 0 || cfg.OutputRoot == "" {
		return options{}, fmt.Errorf("--in and --out (or --job) are required")
	}
	return options{job: cfg, report: *report, ledgerDSN: *ledger, quiet: *quiet}, nil
}

func main() {
	os.Exit(execute(os.Args[1:]))
}

func execute(args []string) int {
	cfg := common.LoadConfig()
	opts, err := parseArgs(args, cfg.Ledger.DSN)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		printError("Error: %v\n", err)
		return 2
	}
	if err := cfg.Validate(); err != nil {
		printError("Error: %v\n", err)
		return 2
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	var svcOpts []batch.Option
	if opts.ledgerDSN != "" {
		ledgerCfg := repo.ConfigFrom(cfg.Ledger)
		ledgerCfg.DSN = opts.ledgerDSN
		ledger, err := repo.Open(context.Background(), ledgerCfg, logger)
		if err != nil {
			logger.Error("failed to open run ledger", "error", err)
			return 1
		}
		defer ledger.Close()
		if err := ledger.Migrate(context.Background()); err != nil {
			logger.Error("failed to migrate run ledger", "error", err)
			return 1
		}
		svcOpts = append(svcOpts, batch.WithRecorder(ledger))
	}

	svc, err := batch.NewService(cfg, logger, svcOpts...)
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		return 1
	}
	c, err := svc.NewRun(opts.job)
	if err != nil {
		printError("Error: %v\n", err)
		return 2
	}
	return run(c, opts, logger)
}

// run drives c to completion. The first interrupt stops cooperatively at the
// next page boundary; a second one cancels outright.
func run(c *core.Controller, opts options, logger *slog.Logger) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		select {
		case <-sigs:
			logger.Warn("interrupt received, stopping after the current page")
			c.Stop()
		case <-c.Done():
			return
		}
		select {
		case <-sigs:
			logger.Warn("second interrupt, cancelling")
			cancel()
		case <-c.Done():
		}
	}()

	if err := c.Start(ctx); err != nil {
		logger.Error("failed to start run", "error", err)
		return 1
	}
	for ev := range c.Events() {
		if !opts.quiet {
			printEvent(ev)
		}
	}
	sum, err := c.Wait(context.Background())
	if err != nil {
		logger.Error("wait for run", "error", err)
		return 1
	}

	if opts.report != "" {
		data, err := export.NewService(nil, logger).SummaryXLSX(c.Job(), sum)
		if err == nil {
			err = os.WriteFile(opts.report, data, 0o644)
		}
		if err != nil {
			logger.Error("failed to write report", "path", opts.report, "error", err)
		} else {
			logger.Info("report written", "path", opts.report)
		}
	}

	fmt.Printf("Batch %s: %s\n", sum.RunID, sum.State)
	fmt.Printf("- Documents: %d\n", sum.Progress.Total)
	fmt.Printf("- Processed: %d\n", sum.Progress.Processed)
	fmt.Printf("- Succeeded: %d\n", sum.Succeeded())
	fmt.Printf("- Failed: %d\n", sum.Progress.Failed)
	fmt.Printf("- Skipped: %d\n", sum.Progress.Skipped)
	fmt.Printf("- Output: %s\n", c.Job().OutputRoot)
	if sum.Error != "" {
		fmt.Printf("- First error: %s\n", sum.Error)
	}
	return exitCode(sum)
}

func exitCode(sum entity.Summary) int {
	switch {
	case sum.State == constants.RunStateAborted:
		return 130
	case sum.State == constants.RunStateFailed, sum.Progress.Failed > 0:
		return 1
	}
	return 0
}

func printEvent(ev events.Event) {
	switch ev.Kind {
	case events.KindDocument:
		d := ev.Document
		line := fmt.Sprintf("[%3d%%] %-9s %s", ev.Percent, d.Status, filepath.ToSlash(d.Task.RelativePath))
		if d.Error != "" {
			line += ": " + d.Error
		}
		printError("%s\n", line)
	case events.KindState:
		if ev.Progress.Paused {
			printError("paused at %d/%d\n", ev.Progress.Processed, ev.Progress.Total)
		} else {
			printError("resumed\n")
		}
	case events.KindFailed:
		printError("run failed: %s\n", ev.Error)
	}
}
