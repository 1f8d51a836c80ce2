// Package fetch implements the fetch capability: it retrieves an article's
// full content from its publisher.
//
// Failures are signalled so the classifier can tell them apart: 429 maps to a
// rate-limit error, 401/403 to an authentication error, 5xx and transport
// failures to retryable conditions, and unextractable pages to terminal
// validation failures.
package fetch

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/cockroachdb/errors"

	"github.com/shpitdev/digestflow/internal/digest"
	"github.com/shpitdev/digestflow/pkg/pipeline/errclass"
)

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// maxBodyBytes caps the response body read; article pages past this size are
// truncated rather than rejected.
const maxBodyBytes = 4 << 20

// Cookie is one session cookie attached to every article request. Reader
// sessions are how member-only articles are retrieved.
type Cookie struct {
	Name  string `yaml:"name" json:"name"`
	Value string `yaml:"value" json:"value"`
}

// Config holds the fetcher settings.
type Config struct {
	Cookies   []Cookie
	UserAgent string
}

// Fetcher retrieves article content over HTTP.
type Fetcher struct {
	client    *http.Client
	cookies   []Cookie
	userAgent string
	log       *slog.Logger
}

// New returns a Fetcher using client, or http.DefaultClient when nil.
func New(client *http.Client, cfg Config, log *slog.Logger) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	ua := cfg.UserAgent
	if strings.TrimSpace(ua) == "" {
		ua = defaultUserAgent
	}
	return &Fetcher{
		client:    client,
		cookies:   cfg.Cookies,
		userAgent: ua,
		log:       log,
	}
}

// Fetch retrieves the article body and enriches the work item with its
// content. The attempt deadline comes from ctx; retries are the executor's
// concern.
func (f *Fetcher) Fetch(ctx context.Context, a digest.Article) (digest.Article, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return a, &errclass.ValidationError{Err: errors.Wrapf(err, "build request for %s", a.URL)}
	}
	f.decorate(req)

	resp, err := f.client.Do(req)
	if err != nil {
		// Transport errors (timeouts, resets, DNS) classify as network.
		return a, errors.Wrapf(err, "fetch %s", a.URL)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return a, errors.Wrapf(err, "read body of %s", a.URL)
	}

	if err := checkStatus(resp, body); err != nil {
		return a, err
	}

	title, content, err := extractArticle(body)
	if err != nil {
		return a, err
	}

	if a.Title == "" {
		a.Title = title
	}
	a.Content = content

	f.log.Debug("fetched article",
		"url", a.URL,
		"status", resp.StatusCode,
		"content_chars", len(content))
	return a, nil
}

func (f *Fetcher) decorate(req *http.Request) {
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	for _, c := range f.cookies {
		req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
}

func checkStatus(resp *http.Response, body []byte) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return &errclass.RateLimitError{
			Err: errclass.NewStatusError("fetch_article", resp.StatusCode, resp.Status, body),
		}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &errclass.AuthError{
			Err: errclass.NewStatusError("fetch_article", resp.StatusCode, resp.Status, body),
		}
	default:
		return errclass.NewStatusError("fetch_article", resp.StatusCode, resp.Status, body)
	}
}

// titleSelectors cover current and legacy article markup, most specific first.
var titleSelectors = []string{
	`h1[data-testid="storyTitle"]`,
	"h1.graf--title",
	"h1.p-name",
	"h1",
	"title",
}

// contentSelectors locate the article body container.
var contentSelectors = []string{
	"article section",
	`[data-testid="storyContent"]`,
	".postArticle-content",
	".e-content",
	"article",
}

func extractArticle(body []byte) (title, content string, err error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return "", "", &errclass.ValidationError{Err: errors.Wrap(err, "parse article HTML")}
	}

	doc.Find("script, style, nav, header, footer, aside").Remove()

	for _, sel := range titleSelectors {
		t := strings.TrimSpace(doc.Find(sel).First().Text())
		if len(t) > 5 {
			title = cleanText(t)
			break
		}
	}
	if title == "" {
		return "", "", &errclass.ValidationError{Err: errors.New("could not extract article title")}
	}

	for _, sel := range contentSelectors {
		container := doc.Find(sel).First()
		if container.Length() == 0 {
			continue
		}
		var parts []string
		container.Find("p, h1, h2, h3, h4, blockquote, li").Each(func(_ int, s *goquery.Selection) {
			text := strings.TrimSpace(s.Text())
			if len(text) > 5 {
				parts = append(parts, cleanText(text))
			}
		})
		if joined := strings.Join(parts, "\n\n"); len(joined) > 100 {
			content = joined
			break
		}
	}
	if content == "" {
		// Fallback: all paragraphs, short ones filtered.
		var parts []string
		doc.Find("p").Each(func(_ int, s *goquery.Selection) {
			text := strings.TrimSpace(s.Text())
			if len(text) > 20 {
				parts = append(parts, cleanText(text))
			}
		})
		content = strings.Join(parts, "\n\n")
	}
	if content == "" {
		return "", "", &errclass.ValidationError{Err: errors.New("could not extract article content")}
	}
	return title, content, nil
}

var (
	spaceRe    = regexp.MustCompile(`\s+`)
	artifactRe = regexp.MustCompile(`(Follow|Sign up|Sign in)\s*$`)
)

func cleanText(text string) string {
	text = spaceRe.ReplaceAllString(strings.TrimSpace(text), " ")
	return strings.TrimSpace(artifactRe.ReplaceAllString(text, ""))
}
