package notify_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/digestflow/internal/digest"
	"github.com/shpitdev/digestflow/internal/notify"
	"github.com/shpitdev/digestflow/pkg/pipeline/errclass"
)

func discardLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func finishedArticle() digest.Article {
	a := digest.NewArticle("https://medium.com/@jane/post-1", "Understanding Go Channels", "Jane")
	a.Content = "full content"
	a.Summary = "Channels coordinate goroutines; this article shows how."
	return a
}

func TestNew_ValidatesWebhookURL(t *testing.T) {
	t.Parallel()

	var cfgErr *errclass.ConfigError

	_, err := notify.New(nil, notify.Config{}, discardLog())
	require.Error(t, err)
	assert.ErrorAs(t, err, &cfgErr)

	_, err = notify.New(nil, notify.Config{WebhookURL: "https://evil.example.com/hook"}, discardLog())
	require.Error(t, err)
	assert.ErrorAs(t, err, &cfgErr)

	_, err = notify.New(nil, notify.Config{WebhookURL: "https://hooks.slack.com/services/T0/B0/x"}, discardLog())
	require.NoError(t, err)

	_, err = notify.New(nil, notify.Config{WebhookURL: "http://127.0.0.1:1/hook", AllowCustomHost: true}, discardLog())
	require.NoError(t, err)
}

func TestFormatMessage(t *testing.T) {
	t.Parallel()

	msg, err := notify.FormatMessage(finishedArticle())
	require.NoError(t, err)
	assert.Equal(t,
		"📌 *Understanding Go Channels*\n\n📝 Channels coordinate goroutines; this article shows how.\n\n🔗 https://medium.com/@jane/post-1",
		msg)

	// Deterministic: the same article always renders the same message, so a
	// redelivered notification is recognizable as a duplicate.
	again, err := notify.FormatMessage(finishedArticle())
	require.NoError(t, err)
	assert.Equal(t, msg, again)
}

func TestFormatMessage_MissingFieldsAreValidationFailures(t *testing.T) {
	t.Parallel()

	var ve *errclass.ValidationError

	a := finishedArticle()
	a.Summary = "   "
	_, err := notify.FormatMessage(a)
	require.Error(t, err, "an empty summary must never be delivered")
	assert.ErrorAs(t, err, &ve)

	a = finishedArticle()
	a.Title = ""
	_, err = notify.FormatMessage(a)
	require.Error(t, err)
	assert.ErrorAs(t, err, &ve)
}

func TestNotify_PostsMessage(t *testing.T) {
	t.Parallel()

	var got struct {
		Text string `json:"text"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)

	n, err := notify.New(srv.Client(), notify.Config{WebhookURL: srv.URL, AllowCustomHost: true}, discardLog())
	require.NoError(t, err)

	require.NoError(t, n.Notify(context.Background(), finishedArticle()))
	assert.Contains(t, got.Text, "Understanding Go Channels")
	assert.Contains(t, got.Text, "🔗 https://medium.com/@jane/post-1")
}

func TestNotify_StatusClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		code     int
		category errclass.Category
	}{
		{"rate limited", http.StatusTooManyRequests, errclass.CategoryRateLimit},
		{"server error", http.StatusInternalServerError, errclass.CategoryExternalService},
		{"gone", http.StatusNotFound, errclass.CategoryInputValidation},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tc.code)
			}))
			t.Cleanup(srv.Close)

			n, err := notify.New(srv.Client(), notify.Config{WebhookURL: srv.URL, AllowCustomHost: true}, discardLog())
			require.NoError(t, err)

			err = n.Notify(context.Background(), finishedArticle())
			require.Error(t, err)
			cerr := errclass.Classify(err, errclass.StageNotify)
			assert.Equal(t, tc.category, cerr.Category)
		})
	}
}

func TestAdmin_EscalateNeverFailsTheRun(t *testing.T) {
	t.Parallel()

	// Webhook down: Escalate must swallow the failure.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	admin := notify.NewAdmin(srv.Client(), srv.URL, discardLog())
	admin.Escalate(context.Background(), "critical", "summarize credentials rejected")

	// Log-only sink when no webhook is configured.
	logOnly := notify.NewAdmin(nil, "", discardLog())
	logOnly.Escalate(context.Background(), "critical", "still must not panic")
}

func TestAdmin_PostsSeverityTaggedMessage(t *testing.T) {
	t.Parallel()

	var got struct {
		Text string `json:"text"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)

	admin := notify.NewAdmin(srv.Client(), srv.URL, discardLog())
	admin.Escalate(context.Background(), "critical",
		"post https://hooks.slack.com/services/T0/B0/secret99 rejected")

	assert.Contains(t, got.Text, "[CRITICAL]")
	assert.NotContains(t, got.Text, "secret99", "escalations must not leak webhook secrets")
}
