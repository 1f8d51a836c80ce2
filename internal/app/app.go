// Package app wires the configured capabilities into a pipeline runner and
// owns the run's outer lifecycle: reading the digest email, applying the run
// timeout, and emitting the report.
package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/shpitdev/digestflow/internal/config"
	"github.com/shpitdev/digestflow/internal/fetch"
	"github.com/shpitdev/digestflow/internal/notify"
	"github.com/shpitdev/digestflow/internal/parse"
	"github.com/shpitdev/digestflow/internal/pipeline"
	"github.com/shpitdev/digestflow/internal/summarize"
	"github.com/shpitdev/digestflow/pkg/pipeline/retry"
)

// Run processes one digest email file end to end and writes the report.
// reportPath and csvPath are optional; "-" or "" for reportPath means stdout.
// The returned report is non-nil whenever err is nil.
func Run(ctx context.Context, cfg *config.AppConfig, inputPath, reportPath, csvPath string, log *slog.Logger) (*pipeline.Report, error) {
	raw, err := os.ReadFile(inputPath)
	if err != nil {
		return nil, errors.Wrap(err, "read digest email")
	}

	runner, err := buildRunner(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, cfg.RunTimeout.Std())
	defer cancel()

	rep, err := runner.Run(runCtx, raw)
	if err != nil {
		return nil, err
	}

	if err := writeReport(rep, reportPath); err != nil {
		return rep, err
	}
	if csvPath != "" {
		if err := writeCSVFile(rep, csvPath); err != nil {
			return rep, err
		}
	}
	return rep, nil
}

// buildRunner constructs the four capabilities and the escalation sink from
// configuration. Construction failures are configuration errors and surface
// before any work starts.
func buildRunner(ctx context.Context, cfg *config.AppConfig, log *slog.Logger) (*pipeline.Runner, error) {
	cookies, err := cfg.LoadCookies()
	if err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: 2 * time.Minute}

	parser := parse.New(log)
	fetcher := fetch.New(client, fetch.Config{
		Cookies:   cookies,
		UserAgent: cfg.Fetch.UserAgent,
	}, log)

	summarizer, err := summarize.New(ctx, summarize.Config{
		APIKey:      cfg.Gemini.APIKey,
		Model:       cfg.Gemini.Model,
		BaseURL:     cfg.Gemini.BaseURL,
		Temperature: cfg.Gemini.Temperature,
	}, log)
	if err != nil {
		return nil, err
	}

	notifier, err := notify.New(client, notify.Config{
		WebhookURL:      cfg.Slack.WebhookURL,
		AllowCustomHost: cfg.Slack.AllowCustomHost,
	}, log)
	if err != nil {
		return nil, err
	}
	admin := notify.NewAdmin(client, cfg.Slack.AdminWebhookURL, log)

	return pipeline.NewRunner(parser, fetcher, summarizer, notifier, admin, pipeline.Options{
		Parse:     stageOptions(cfg.Stages.Parse),
		Fetch:     stageOptions(cfg.Stages.Fetch),
		Summarize: stageOptions(cfg.Stages.Summarize),
		Notify:    stageOptions(cfg.Stages.Notify),
	}, log), nil
}

func stageOptions(sc config.StageConfig) pipeline.StageOptions {
	policy := retry.Default
	policy.MaxAttempts = sc.MaxAttempts
	policy.BaseDelay = sc.BaseDelay.Std()
	policy.RateLimitDelay = sc.RateLimitDelay.Std()
	policy.MaxDelay = sc.MaxDelay.Std()
	return pipeline.StageOptions{
		MaxConcurrency: sc.MaxConcurrency,
		Policy:         policy,
		AttemptTimeout: sc.AttemptTimeout.Std(),
		RateLimitRPS:   sc.RateLimitRPS,
	}
}

func writeReport(rep *pipeline.Report, path string) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal report")
	}
	data = append(data, '\n')

	if path == "" || path == "-" {
		_, err = os.Stdout.Write(data)
		return err
	}
	return errors.Wrap(os.WriteFile(path, data, 0644), "write report file")
}

func writeCSVFile(rep *pipeline.Report, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create csv file")
	}
	defer func() {
		_ = f.Close()
	}()
	if err := WriteReportCSV(f, rep); err != nil {
		return err
	}
	return f.Close()
}
