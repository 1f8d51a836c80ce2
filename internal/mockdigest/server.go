// Package mockdigest implements a local stand-in for the three external
// services the pipeline talks to: the article site, the model API, and the
// Slack webhook. It exists for local harness runs and integration tests; no
// production code path depends on it.
package mockdigest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// Call records a request made to the mock service.
type Call struct {
	Method string
	Path   string
}

// Message records one webhook delivery.
type Message struct {
	Text string
}

// Article is one mock article page served under /articles/{slug}.
type Article struct {
	Slug    string
	Title   string
	Author  string
	Content string
}

// Server serves mock article pages, a generateContent-shaped model endpoint,
// and a Slack-shaped incoming webhook, all on one handler.
type Server struct {
	mu       sync.Mutex
	articles map[string]Article
	calls    []Call
	messages []Message

	// failWebhookTimes makes the next N webhook posts return 429.
	failWebhookTimes int
	// failModelTimes makes the next N model calls return 503.
	failModelTimes int

	requiredAPIKey string
}

// New constructs a mock server pre-loaded with the given articles.
func New(articles []Article) *Server {
	s := &Server{articles: make(map[string]Article, len(articles))}
	for _, a := range articles {
		s.articles[a.Slug] = a
	}
	return s
}

// RequireAPIKey enforces the x-goog-api-key header on model calls. An empty
// key disables the check.
func (s *Server) RequireAPIKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requiredAPIKey = strings.TrimSpace(key)
}

// FailWebhookTimes makes the next n webhook posts answer 429.
func (s *Server) FailWebhookTimes(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWebhookTimes = n
}

// FailModelTimes makes the next n model calls answer 503.
func (s *Server) FailModelTimes(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failModelTimes = n
}

// Handler returns an http.Handler serving the mock API surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/articles/", s.handleArticle)
	mux.HandleFunc("/webhook", s.handleWebhook)
	// The generateContent path shape used by the Gemini REST surface.
	mux.HandleFunc("/v1beta/models/", s.handleGenerate)
	mux.HandleFunc("/digest.eml", s.handleDigestEmail)
	return mux
}

// Calls returns a snapshot of requests made to the server.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Messages returns a snapshot of webhook deliveries.
func (s *Server) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Server) recordCall(r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path})
}

func (s *Server) handleArticle(w http.ResponseWriter, r *http.Request) {
	s.recordCall(r)
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	slug := strings.TrimPrefix(r.URL.Path, "/articles/")
	slug = strings.TrimSuffix(slug, "/")

	s.mu.Lock()
	a, ok := s.articles[slug]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!doctype html>
<html><head><title>%s</title></head>
<body>
<article>
<h1>%s</h1>
<p>by %s</p>
<p>%s</p>
</article>
</body></html>`, a.Title, a.Title, a.Author, a.Content)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	s.recordCall(r)
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.Lock()
	if s.failWebhookTimes > 0 {
		s.failWebhookTimes--
		s.mu.Unlock()
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}
	s.mu.Unlock()

	var payload struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || strings.TrimSpace(payload.Text) == "" {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.messages = append(s.messages, Message{Text: payload.Text})
	s.mu.Unlock()
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	s.recordCall(r)
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.Lock()
	requiredKey := s.requiredAPIKey
	fail := false
	if s.failModelTimes > 0 {
		s.failModelTimes--
		fail = true
	}
	s.mu.Unlock()

	if requiredKey != "" && r.Header.Get("x-goog-api-key") != requiredKey {
		http.Error(w, `{"error":{"code":401,"message":"invalid api key"}}`, http.StatusUnauthorized)
		return
	}
	if fail {
		http.Error(w, `{"error":{"code":503,"message":"model overloaded"}}`, http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]any{
		"candidates": []map[string]any{{
			"content": map[string]any{
				"role": "model",
				"parts": []map[string]any{{
					"text": "A concise mock summary of the article, produced without calling a real model.",
				}},
			},
			"finishReason": "STOP",
		}},
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// handleDigestEmail serves a synthetic digest email whose article links point
// back at this server, so a full pipeline run can loop entirely through the
// mock. The body is base64 transfer-encoded HTML like real digest emails.
func (s *Server) handleDigestEmail(w http.ResponseWriter, r *http.Request) {
	s.recordCall(r)

	base := "http://" + r.Host

	var links strings.Builder
	s.mu.Lock()
	for _, a := range s.articles {
		fmt.Fprintf(&links, `<div><h2><a href="%s/articles/%s?source=email-digest">%s</a></h2><p>%s</p></div>`,
			base, a.Slug, a.Title, a.Author)
	}
	s.mu.Unlock()

	html := `<html><body><h2>Today's highlights</h2>` + links.String() + `</body></html>`
	encoded := base64.StdEncoding.EncodeToString([]byte(html))

	w.Header().Set("Content-Type", "message/rfc822")
	fmt.Fprintf(w, "From: digest@example.com\r\n"+
		"To: reader@example.com\r\n"+
		"Subject: Your daily digest\r\n"+
		"MIME-Version: 1.0\r\n"+
		"Content-Type: text/html; charset=utf-8\r\n"+
		"Content-Transfer-Encoding: base64\r\n"+
		"\r\n%s\r\n", encoded)
}

// SampleArticles returns a small fixed article set for harness runs.
func SampleArticles() []Article {
	return []Article{
		{
			Slug:    "go-pipelines",
			Title:   "Building Resilient Pipelines in Go",
			Author:  "Ana Reyes",
			Content: "Worker pools, bounded concurrency, and why partial failure is a feature. A walk through fan-out designs that degrade gracefully instead of falling over.",
		},
		{
			Slug:    "retry-budgets",
			Title:   "Retry Budgets and the Art of Giving Up",
			Author:  "Marcus Webb",
			Content: "Unbounded retries turn a blip into an outage. This post covers exponential backoff, jitter, and the categories of errors that should never be retried.",
		},
		{
			Slug:    "webhook-etiquette",
			Title:   "Webhook Etiquette for High-Volume Producers",
			Author:  "Priya Natarajan",
			Content: "Rate limits exist for a reason. How to batch, space, and deduplicate outbound webhook traffic without losing messages.",
		},
	}
}
