// Package notify implements the notify capability (per-article Slack webhook
// delivery) and the escalation sink for critical failures.
//
// Delivery is at-least-once: a retried webhook may post the same message
// twice, and the message format is deterministic per article so duplicates
// are recognizable.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/shpitdev/digestflow/internal/digest"
	"github.com/shpitdev/digestflow/pkg/pipeline/errclass"
	"github.com/shpitdev/digestflow/pkg/pipeline/redact"
)

const slackHookPrefix = "https://hooks.slack.com/"

// Config holds the notifier settings.
type Config struct {
	WebhookURL string

	// AllowCustomHost permits webhook URLs outside hooks.slack.com.
	// Used for local mock runs; production configs leave it false.
	AllowCustomHost bool
}

// Notifier posts article summaries to a Slack incoming webhook.
type Notifier struct {
	client     *http.Client
	webhookURL string
	log        *slog.Logger
}

// New validates the webhook URL and returns a Notifier.
func New(client *http.Client, cfg Config, log *slog.Logger) (*Notifier, error) {
	if client == nil {
		client = http.DefaultClient
	}
	url := strings.TrimSpace(cfg.WebhookURL)
	if url == "" {
		return nil, &errclass.ConfigError{Err: errors.New("slack webhook url is required")}
	}
	if !cfg.AllowCustomHost && !strings.HasPrefix(url, slackHookPrefix) {
		return nil, &errclass.ConfigError{Err: errors.Newf("invalid slack webhook url: %s", redact.Secrets(url))}
	}
	return &Notifier{client: client, webhookURL: url, log: log}, nil
}

// Notify delivers one summarized article to the channel.
func (n *Notifier) Notify(ctx context.Context, a digest.Article) error {
	msg, err := FormatMessage(a)
	if err != nil {
		return err
	}
	if err := n.post(ctx, msg); err != nil {
		return err
	}
	n.log.Debug("posted summary to slack", "url", a.URL)
	return nil
}

// FormatMessage renders the per-article Slack message. Missing fields are
// validation failures: an empty summary must never be delivered.
func FormatMessage(a digest.Article) (string, error) {
	title := strings.TrimSpace(a.Title)
	summary := strings.TrimSpace(a.Summary)
	url := strings.TrimSpace(a.URL)
	switch {
	case title == "":
		return "", &errclass.ValidationError{Err: errors.New("article title is required")}
	case summary == "":
		return "", &errclass.ValidationError{Err: errors.New("article summary is required")}
	case url == "":
		return "", &errclass.ValidationError{Err: errors.New("article url is required")}
	}
	return "📌 *" + title + "*\n\n📝 " + summary + "\n\n🔗 " + url, nil
}

func (n *Notifier) post(ctx context.Context, text string) error {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return errors.Wrap(err, "marshal slack payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "build slack request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "post slack webhook")
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return &errclass.RateLimitError{
			Err: errclass.NewStatusError("notify_slack", resp.StatusCode, resp.Status, body),
		}
	default:
		return errclass.NewStatusError("notify_slack", resp.StatusCode, resp.Status, body)
	}
}

// Admin is the escalation sink: critical failures and terminal batch
// summaries go to an operator webhook when one is configured, and to the log
// otherwise. Escalation failures are logged and swallowed so a broken admin
// channel can never interrupt a run.
type Admin struct {
	client     *http.Client
	webhookURL string
	log        *slog.Logger
}

// NewAdmin returns an escalation sink. An empty webhook URL yields a log-only
// sink.
func NewAdmin(client *http.Client, webhookURL string, log *slog.Logger) *Admin {
	if client == nil {
		client = http.DefaultClient
	}
	return &Admin{client: client, webhookURL: strings.TrimSpace(webhookURL), log: log}
}

// Escalate delivers one operator notification. It never returns an error.
func (a *Admin) Escalate(ctx context.Context, severity, msg string) {
	msg = redact.Secrets(msg)
	a.log.Warn("escalating to operators", "severity", severity, "message", msg)
	if a.webhookURL == "" {
		return
	}

	payload, err := json.Marshal(map[string]string{
		"text": "🚨 [" + strings.ToUpper(severity) + "] " + msg,
	})
	if err != nil {
		a.log.Error("escalation payload marshal failed", "error", err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.webhookURL, bytes.NewReader(payload))
	if err != nil {
		a.log.Error("escalation request build failed", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		a.log.Error("escalation delivery failed", "error", redact.Secrets(err.Error()))
		return
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		a.log.Error("escalation delivery rejected", "status", resp.Status)
	}
}
