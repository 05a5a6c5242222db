package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-analyzer/internal/chunker"
	"github.com/dvloznov/statement-analyzer/internal/config"
	"github.com/dvloznov/statement-analyzer/internal/export"
	"github.com/dvloznov/statement-analyzer/internal/llm"
	"github.com/dvloznov/statement-analyzer/internal/logger"
	"github.com/dvloznov/statement-analyzer/internal/notionsync"
	"github.com/dvloznov/statement-analyzer/internal/pdftext"
	"github.com/dvloznov/statement-analyzer/internal/pipeline"
	"github.com/dvloznov/statement-analyzer/internal/store"
)

var (
	okColor       = color.New(color.FgGreen, color.Bold)
	warnColor     = color.New(color.FgYellow)
	errColor      = color.New(color.FgRed, color.Bold)
	headingColor  = color.New(color.BgBlue, color.FgWhite)
	emphasisColor = color.New(color.FgCyan)
)

// commands maps each subcommand to its runner.
var commands = map[string]func(ctx context.Context, env *cliEnv, args []string) error{
	"process": runProcess,
	"list":    runList,
	"show":    runShow,
	"export":  runExport,
	"compare": runCompare,
	"publish": runPublish,
	"upload":  runUpload,
	"extract": runExtract,
}

// cliEnv carries the configuration shared by every subcommand.
type cliEnv struct {
	cfg config.Config
	log zerolog.Logger
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	name := os.Args[1]
	if name == "help" || name == "-h" || name == "--help" {
		printUsage()
		return
	}
	run, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", name)
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		errColor.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	env := &cliEnv{cfg: cfg, log: logger.NewFromConfig(cfg.Log.Level, cfg.Log.Format)}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx, env.log)

	if err := run(ctx, env, os.Args[2:]); err != nil {
		errColor.Fprintf(os.Stderr, "%s failed: %v\n", name, err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Statement Analyzer CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  process   Analyze statement PDFs (-period LABEL=file.pdf, repeatable)")
	fmt.Println("  list      List saved analyses")
	fmt.Println("  show      Print a saved analysis")
	fmt.Println("  export    Export a saved analysis as PDF or XLSX")
	fmt.Println("  compare   Compare two or more saved analyses")
	fmt.Println("  publish   Publish a saved analysis to Notion")
	fmt.Println("  upload    Store a statement PDF in the uploads bucket")
	fmt.Println("  extract   Print the text and chunking of a statement PDF")
	fmt.Println("  help      Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

// periodFlags collects repeated -period LABEL=path values in order.
type periodFlags []periodFile

type periodFile struct {
	Label string
	Path  string
}

func (p *periodFlags) String() string {
	parts := make([]string, 0, len(*p))
	for _, f := range *p {
		parts = append(parts, f.Label+"="+f.Path)
	}
	return strings.Join(parts, ",")
}

func (p *periodFlags) Set(value string) error {
	label, path, ok := strings.Cut(value, "=")
	label, path = strings.TrimSpace(label), strings.TrimSpace(path)
	if !ok || label == "" || path == "" {
		return fmt.Errorf("expected LABEL=path, got %q", value)
	}
	*p = append(*p, periodFile{Label: label, Path: path})
	return nil
}

// fileFlags collects repeated -file values.
type fileFlags []string

func (f *fileFlags) String() string { return strings.Join(*f, ",") }

func (f *fileFlags) Set(value string) error {
	*f = append(*f, value)
	return nil
}

func (e *cliEnv) engine() (*pipeline.Engine, error) {
	tokenizer, err := chunker.NewTiktoken(e.cfg.Pipeline.Encoding)
	if err != nil {
		return nil, err
	}
	return pipeline.NewEngine(pipeline.EngineConfig{
		Factory:       llm.NewGeminiFactory(e.cfg.Model.Name, e.cfg.Model.Timeout),
		Tokenizer:     tokenizer,
		ChunkTokens:   e.cfg.Pipeline.ChunkTokens,
		Gate:          llm.NewGate(e.cfg.Pipeline.ThrottleInterval, e.cfg.Pipeline.ThrottleBurst),
		Budget:        e.cfg.Pipeline.Budget,
		DefaultAPIKey: e.cfg.Model.APIKey,
		Logger:        e.log,
	})
}

// withStore opens the configured analyses store for the duration of fn.
func (e *cliEnv) withStore(ctx context.Context, fn func(store.Store) error) error {
	opened, err := store.Open(ctx, e.cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := opened.Close(); err != nil {
			e.log.Warn().Err(err).Msg("Failed to close store")
		}
	}()
	return fn(opened.Analyses)
}

// progressPrinter renders one line per completed period.
func progressPrinter(total int) pipeline.EmitterFunc {
	done := 0
	return func(period string, record pipeline.PeriodRecord) error {
		done++
		headingColor.Printf(" [%d of %d] ", done, total)
		fmt.Printf(" %-16s ", period)
		switch record.Status {
		case pipeline.PeriodStatusDegraded:
			errColor.Printf("degraded: %s\n", record.Error)
		case pipeline.PeriodStatusEmpty:
			warnColor.Println("no text")
		default:
			okColor.Printf("%d transactions\n", len(record.Transactions))
		}
		return nil
	}
}

func runProcess(ctx context.Context, env *cliEnv, args []string) error {
	fs := flag.NewFlagSet("process", flag.ExitOnError)
	var periods periodFlags
	fs.Var(&periods, "period", "Statement for one period as LABEL=path.pdf (repeatable)")
	start := fs.String("start", "", "Window start date (YYYY-MM-DD)")
	end := fs.String("end", "", "Window end date (YYYY-MM-DD)")
	apiKey := fs.String("api-key", "", "Model API key (defaults to GEMINI_API_KEY)")
	out := fs.String("out", "", "Write the result JSON to this file")
	save := fs.Bool("save", false, "Save the result to the analyses store")
	bank := fs.String("bank", "", "Bank name used when saving")
	date := fs.String("date", "", "Statement date used when saving")
	fs.Parse(args)

	if len(periods) == 0 {
		return errors.New("at least one -period is required")
	}
	if *save && (*bank == "" || *date == "") {
		return errors.New("-save requires -bank and -date")
	}

	in := pipeline.Input{Window: pipeline.Window{Start: *start, End: *end}}
	for _, p := range periods {
		text, err := pdftext.ExtractFile(p.Path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", p.Path, err)
		}
		in.Periods = append(in.Periods, pipeline.PeriodText{Period: p.Label, Text: text})
	}

	engine, err := env.engine()
	if err != nil {
		return err
	}
	result, err := engine.Process(ctx, *apiKey, in, progressPrinter(len(in.Periods)))
	if err != nil {
		return err
	}

	totals := pipeline.ComputeTotals(result.Transactions)
	fmt.Println()
	emphasisColor.Println("Totals")
	fmt.Printf("  Income:       %s\n", totals.Income.StringFixed(2))
	fmt.Printf("  Expenses:     %s\n", totals.Expenses.StringFixed(2))
	fmt.Printf("  Net:          %s\n", totals.Net.StringFixed(2))
	fmt.Printf("  Transactions: %d\n", totals.Transactions)
	if totals.Degraded > 0 {
		warnColor.Printf("  %d period(s) could not be parsed\n", totals.Degraded)
	}
	fmt.Println()
	emphasisColor.Println("Analysis")
	fmt.Println(result.Analysis)

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	if *out != "" {
		if err := os.WriteFile(*out, data, 0o644); err != nil {
			return err
		}
		okColor.Printf("Result written to %s\n", *out)
	}
	if *save {
		return env.withStore(ctx, func(s store.Store) error {
			fileName, err := s.Save(ctx, store.SaveRequest{BankName: *bank, StatementDate: *date, Analysis: data})
			if err != nil {
				return err
			}
			okColor.Printf("Saved as %s\n", fileName)
			return nil
		})
	}
	return nil
}

func runList(ctx context.Context, env *cliEnv, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	fs.Parse(args)

	return env.withStore(ctx, func(s store.Store) error {
		analyses, err := s.List(ctx)
		if err != nil {
			return err
		}
		if len(analyses) == 0 {
			warnColor.Println("No saved analyses.")
			return nil
		}
		for _, a := range analyses {
			fmt.Printf("%-40s ", a.FileName)
			emphasisColor.Printf("%-20s", a.BankName)
			fmt.Printf(" %s\n", a.StatementDate)
		}
		return nil
	})
}

func runShow(ctx context.Context, env *cliEnv, args []string) error {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	file := fs.String("file", "", "Saved analysis file name")
	fs.Parse(args)

	if *file == "" {
		return errors.New("-file is required")
	}
	return env.withStore(ctx, func(s store.Store) error {
		saved, err := s.Get(ctx, *file)
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(saved, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	})
}

func runExport(ctx context.Context, env *cliEnv, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	file := fs.String("file", "", "Saved analysis file name")
	formatName := fs.String("format", "pdf", "Export format: pdf or xlsx")
	out := fs.String("out", "", "Output path (defaults to the export file name)")
	fs.Parse(args)

	if *file == "" {
		return errors.New("-file is required")
	}
	format, err := export.ParseFormat(*formatName)
	if err != nil {
		return err
	}

	return env.withStore(ctx, func(s store.Store) error {
		saved, err := s.Get(ctx, *file)
		if err != nil {
			return err
		}
		data, err := export.Build(saved, format)
		if err != nil {
			return err
		}
		path := *out
		if path == "" {
			path = format.FileName(saved.FileName)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return err
		}
		okColor.Printf("Exported %s to %s\n", saved.FileName, path)
		return nil
	})
}

func runCompare(ctx context.Context, env *cliEnv, args []string) error {
	fs := flag.NewFlagSet("compare", flag.ExitOnError)
	var files fileFlags
	fs.Var(&files, "file", "Saved analysis file name (repeat at least twice)")
	apiKey := fs.String("api-key", "", "Model API key (defaults to GEMINI_API_KEY)")
	fs.Parse(args)

	if len(files) < 2 {
		return errors.New("at least two -file values are required")
	}

	var analyses []json.RawMessage
	err := env.withStore(ctx, func(s store.Store) error {
		for _, name := range files {
			saved, err := s.Get(ctx, name)
			if err != nil {
				return err
			}
			analyses = append(analyses, saved.Analysis)
		}
		return nil
	})
	if err != nil {
		return err
	}

	engine, err := env.engine()
	if err != nil {
		return err
	}
	docs, err := engine.Documents(ctx, *apiKey)
	if err != nil {
		return err
	}
	comparison, err := docs.CompareAnalyses(ctx, analyses)
	if err != nil {
		return err
	}
	emphasisColor.Printf("Comparison of %s\n\n", files.String())
	fmt.Println(comparison)
	return nil
}

func runPublish(ctx context.Context, env *cliEnv, args []string) error {
	fs := flag.NewFlagSet("publish", flag.ExitOnError)
	file := fs.String("file", "", "Saved analysis file name")
	fs.Parse(args)

	if *file == "" {
		return errors.New("-file is required")
	}
	if env.cfg.Notion.Token == "" || env.cfg.Notion.DatabaseID == "" {
		return notionsync.ErrNotConfigured
	}
	publisher := notionsync.NewPublisher(notionsync.NewNotionClient(env.cfg.Notion.Token), env.cfg.Notion.DatabaseID, env.log)

	return env.withStore(ctx, func(s store.Store) error {
		saved, err := s.Get(ctx, *file)
		if err != nil {
			return err
		}
		published, err := publisher.Publish(ctx, saved)
		if err != nil {
			return err
		}
		verb := "Updated"
		if published.Created {
			verb = "Created"
		}
		okColor.Printf("%s Notion page %s for %s\n", verb, published.PageID, saved.FileName)
		return nil
	})
}

func runUpload(ctx context.Context, env *cliEnv, args []string) error {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	filePath := fs.String("file", "", "Path to local PDF file")
	fs.Parse(args)

	if *filePath == "" {
		return errors.New("-file is required")
	}
	data, err := os.ReadFile(*filePath)
	if err != nil {
		return err
	}
	text, err := pdftext.ExtractBytes(data)
	if err != nil {
		return fmt.Errorf("reading %s: %w", *filePath, err)
	}

	opened, err := store.Open(ctx, env.cfg.Store)
	if err != nil {
		return err
	}
	defer opened.Close()

	id := uuid.NewString()
	if err := opened.Uploads.Write(ctx, id+".pdf", data, "application/pdf"); err != nil {
		return err
	}
	okColor.Printf("Uploaded %s as %s\n", filepath.Base(*filePath), id)
	fmt.Printf("  %d characters of text\n", len(text))
	return nil
}

func runExtract(ctx context.Context, env *cliEnv, args []string) error {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	filePath := fs.String("file", "", "Path to local PDF file")
	chunks := fs.Bool("chunks", false, "Show how the text splits into model chunks")
	fs.Parse(args)

	if *filePath == "" {
		return errors.New("-file is required")
	}
	text, err := pdftext.ExtractFile(*filePath)
	if err != nil {
		return err
	}
	if !*chunks {
		fmt.Println(text)
		return nil
	}

	tokenizer, err := chunker.NewTiktoken(env.cfg.Pipeline.Encoding)
	if err != nil {
		return err
	}
	parts, err := chunker.Split(tokenizer, filepath.Base(*filePath), text, env.cfg.Pipeline.ChunkTokens)
	if err != nil {
		return err
	}
	emphasisColor.Printf("%d tokens in %d chunk(s) of at most %d\n", chunker.Count(tokenizer, text), len(parts), env.cfg.Pipeline.ChunkTokens)
	for _, c := range parts {
		headingColor.Printf(" chunk %d ", c.Index)
		fmt.Printf(" %d tokens\n", c.Tokens)
		fmt.Println(c.Text)
	}
	return nil
}
