// Package summarize implements the summarize capability on the Gemini API.
package summarize

import (
	"context"
	"log/slog"
	"strings"

	"github.com/cockroachdb/errors"
	"google.golang.org/genai"

	"github.com/shpitdev/digestflow/internal/digest"
	"github.com/shpitdev/digestflow/pkg/pipeline/errclass"
)

// maxContentChars truncates article content before prompting to stay inside
// the model's context budget.
const maxContentChars = 3000

const maxOutputTokens = 500

// Config holds the Gemini summarizer settings.
type Config struct {
	APIKey string
	Model  string

	// BaseURL overrides the Gemini API base URL. Useful for proxies/testing.
	BaseURL string

	Temperature float32
}

// Summarizer generates short article summaries with Gemini.
type Summarizer struct {
	client      *genai.Client
	model       string
	temperature float32
	log         *slog.Logger
}

// New validates the configuration and builds the Gemini client.
func New(ctx context.Context, cfg Config, log *slog.Logger) (*Summarizer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, &errclass.ConfigError{Err: errors.New("gemini api key is required")}
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, &errclass.ConfigError{Err: errors.New("gemini model is required")}
	}

	cc := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		cc.HTTPOptions.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, &errclass.ConfigError{Err: errors.Wrap(err, "build gemini client")}
	}
	temp := cfg.Temperature
	if temp <= 0 {
		temp = 0.3
	}
	return &Summarizer{
		client:      client,
		model:       strings.TrimSpace(cfg.Model),
		temperature: temp,
		log:         log,
	}, nil
}

// Summarize enriches the article with a generated summary. An empty model
// response is a failure, never a silently empty summary.
func (s *Summarizer) Summarize(ctx context.Context, a digest.Article) (digest.Article, error) {
	if a.Title == "" || a.Content == "" {
		return a, &errclass.ValidationError{Err: errors.New("article title and content are required")}
	}

	resp, err := s.client.Models.GenerateContent(
		ctx,
		s.model,
		genai.Text(buildPrompt(a.Title, a.Content)),
		&genai.GenerateContentConfig{
			CandidateCount:  1,
			Temperature:     genai.Ptr(s.temperature),
			MaxOutputTokens: maxOutputTokens,
		},
	)
	if err != nil {
		return a, classifyErr(err)
	}

	summary := strings.TrimSpace(resp.Text())
	if summary == "" {
		return a, errclass.NewStatusError("summarize", 502, "empty model response", nil)
	}

	a.Summary = summary
	s.log.Debug("generated summary",
		"url", a.URL,
		"model", s.model,
		"summary_chars", len(summary))
	return a, nil
}

func buildPrompt(title, content string) string {
	if len(content) > maxContentChars {
		content = content[:maxContentChars] + "..."
	}
	return strings.TrimSpace(`
Provide a concise and informative summary of the following article.

Title: ` + title + `

Article Content:
` + content + `

Instructions:
- Capture the main points and key insights
- Keep the summary between 2-4 sentences
- Write in a clear, professional tone
- Do not include promotional language or calls to action

Summary:`)
}

// classifyErr maps Gemini API failures onto classifier signals: throttling to
// a rate-limit marker, auth rejections to an auth marker, everything else to a
// status-coded error.
func classifyErr(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429:
			return &errclass.RateLimitError{Err: err}
		case apiErr.Code == 401 || apiErr.Code == 403:
			return &errclass.AuthError{Err: err}
		default:
			return &errclass.StatusError{Op: "summarize", Code: apiErr.Code, Status: apiErr.Status}
		}
	}
	return err
}
