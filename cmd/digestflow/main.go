package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shpitdev/digestflow/internal/app"
	"github.com/shpitdev/digestflow/internal/config"
	"github.com/shpitdev/digestflow/internal/pipeline"
	"github.com/shpitdev/digestflow/internal/version"
	"github.com/shpitdev/digestflow/pkg/pipeline/redact"
)

func main() {
	// Interrupts cancel the run context; the pipeline still reports whatever
	// completed before the signal.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	switch os.Args[1] {
	case "help", "-h", "--help":
		usage(os.Stdout)
		return
	case "version", "--version":
		fmt.Println(version.Current)
		return
	case "run":
		os.Exit(runCmd(ctx, os.Args[2:]))
	default:
		_, _ = fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		usage(os.Stderr)
		os.Exit(2)
	}
}

func runCmd(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.String("config", "config.yaml", "Path to the YAML configuration file")
	inputPath := fs.String("input", "", "Path to the digest email (.eml)")
	reportPath := fs.String("report", "-", "Where to write the JSON batch report (- for stdout)")
	csvPath := fs.String("csv", "", "Optional path for a per-stage summary CSV")
	metricsAddr := fs.String("metrics-listen", "", "Optional address to expose /metrics on for the duration of the run")
	debug := fs.Bool("debug", false, "Enable debug logging")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *inputPath == "" {
		_, _ = fmt.Fprintln(os.Stderr, "run requires --input")
		return 2
	}

	// Values in .env feed the ${VAR} expansions in the config file.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", redact.Secrets(err.Error()))
		return 2
	}

	level := slog.LevelInfo
	if *debug || cfg.Log.Level == "debug" {
		level = slog.LevelDebug
	}
	log := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	}))

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Error("metrics listener failed", "error", err)
			}
		}()
	}

	rep, err := app.Run(ctx, cfg, *inputPath, *reportPath, *csvPath, log)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "run failed: %s\n", redact.Secrets(err.Error()))
		return 1
	}
	if rep.Status == pipeline.StatusAllFailed {
		return 1
	}
	return 0
}

func usage(w *os.File) {
	_, _ = fmt.Fprintf(w, `digestflow: digest email summarization pipeline (parse, fetch, summarize, notify)

Usage:
  digestflow <command> [flags]

Commands:
  run      Process one digest email through the full pipeline
  version  Print the release version

Examples:
  digestflow run --config config.yaml --input digest.eml
  digestflow run --input digest.eml --report report.json --csv stages.csv

Environment:
  GEMINI_API_KEY     Model API key (referenced from config via ${GEMINI_API_KEY})
  SLACK_WEBHOOK_URL  Incoming webhook for delivery (referenced from config)

A .env file in the working directory is loaded before the config file is read.

`)
}
