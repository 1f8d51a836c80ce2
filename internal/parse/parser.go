// Package parse implements the parse capability: it turns a raw digest email
// into the initial batch of article work items.
//
// Digest emails arrive as MIME messages whose HTML part is usually
// quoted-printable or base64 encoded. Extraction prefers the digest's own
// sections ("Today's highlights", "From your following") and falls back to
// scanning every anchor when the layout is unrecognized. Zero articles is a
// valid, non-error outcome.
package parse

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/cockroachdb/errors"

	"github.com/shpitdev/digestflow/internal/digest"
	"github.com/shpitdev/digestflow/pkg/pipeline/errclass"
)

// minTitleLen filters out navigation links ("Read more", "Open in app") that
// otherwise look like article anchors.
const minTitleLen = 11

// Parser extracts articles from raw digest emails.
type Parser struct {
	log *slog.Logger
}

// New returns a Parser logging through log.
func New(log *slog.Logger) *Parser {
	return &Parser{log: log}
}

// Parse decodes the email payload and extracts the unique article references.
// A malformed or empty payload is a validation failure; an email that simply
// contains no article links yields an empty slice and no error.
func (p *Parser) Parse(ctx context.Context, raw []byte) ([]digest.Article, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, &errclass.ValidationError{Err: errors.New("email payload is empty")}
	}

	html := p.decodeHTML(raw)
	if strings.TrimSpace(html) == "" {
		return nil, &errclass.ValidationError{Err: errors.New("no HTML content found in email payload")}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, &errclass.ValidationError{Err: errors.Wrap(err, "parse email HTML")}
	}

	articles := p.extractSections(doc)
	if len(articles) == 0 {
		p.log.Debug("no articles found in digest sections, trying general extraction")
		articles = p.extractGeneral(doc)
	}

	unique := dedupe(articles)
	p.log.Info("extracted articles from digest email",
		"articles", len(unique),
		"content_bytes", len(html))
	return unique, nil
}

// decodeHTML pulls the text/html part out of the MIME message and reverses its
// transfer encoding. Falls back to scanning the raw payload for an <html>
// marker when the message structure is unrecognized.
func (p *Parser) decodeHTML(raw []byte) string {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		p.log.Debug("payload is not a MIME message, using raw content", "error", err)
		return htmlFromRaw(string(raw))
	}

	contentType := msg.Header.Get("Content-Type")
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = "text/html"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		if html := htmlFromMultipart(msg.Body, params["boundary"]); html != "" {
			return html
		}
		return htmlFromRaw(string(raw))
	}

	body, err := io.ReadAll(decodeTransfer(msg.Body, msg.Header.Get("Content-Transfer-Encoding")))
	if err != nil {
		return htmlFromRaw(string(raw))
	}
	if strings.HasPrefix(mediaType, "text/html") {
		return string(body)
	}
	return htmlFromRaw(string(body))
}

func htmlFromMultipart(body io.Reader, boundary string) string {
	if boundary == "" {
		return ""
	}
	mr := multipart.NewReader(body, boundary)
	for {
		part, err := mr.NextPart()
		if err != nil {
			return ""
		}
		partType, _, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
		if partType != "text/html" {
			continue
		}
		decoded, err := io.ReadAll(decodeTransfer(part, part.Header.Get("Content-Transfer-Encoding")))
		if err != nil {
			return ""
		}
		return string(decoded)
	}
}

func decodeTransfer(r io.Reader, encoding string) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, r)
	default:
		return r
	}
}

// htmlFromRaw finds embedded HTML in a payload that is not a well-formed MIME
// message, decoding quoted-printable soft breaks when they are present.
func htmlFromRaw(raw string) string {
	start := strings.Index(strings.ToLower(raw), "<html")
	if start < 0 {
		return ""
	}
	html := raw[start:]
	if strings.Contains(html, "=3D") || strings.Contains(html, "=\r\n") || strings.Contains(html, "=\n") {
		decoded, err := io.ReadAll(quotedprintable.NewReader(strings.NewReader(html)))
		if err == nil {
			return string(decoded)
		}
	}
	return html
}

var sectionHeadingRe = regexp.MustCompile(`(?i)(today'?s\s+highlights?|from\s+your\s+following)`)

// extractSections walks the digest's named sections and collects article
// anchors from the surrounding containers.
func (p *Parser) extractSections(doc *goquery.Document) []digest.Article {
	var articles []digest.Article
	doc.Find("div, td, section, h2, h3").Each(func(_ int, sel *goquery.Selection) {
		if !sectionHeadingRe.MatchString(sel.Text()) {
			return
		}
		container := sel.Parent()
		if container.Length() == 0 {
			return
		}
		container.Find("a[href]").Each(func(_ int, link *goquery.Selection) {
			if a, ok := articleFromLink(link); ok {
				articles = append(articles, a)
			}
		})
	})
	return articles
}

// extractGeneral scans every anchor in the document. Fallback for digests
// whose section layout changed.
func (p *Parser) extractGeneral(doc *goquery.Document) []digest.Article {
	var articles []digest.Article
	doc.Find("a[href]").Each(func(_ int, link *goquery.Selection) {
		if a, ok := articleFromLink(link); ok {
			articles = append(articles, a)
		}
	})
	return articles
}

func articleFromLink(link *goquery.Selection) (digest.Article, bool) {
	href, _ := link.Attr("href")
	if !IsArticleURL(href) {
		return digest.Article{}, false
	}
	title := titleFromLink(link)
	if len(title) < minTitleLen {
		return digest.Article{}, false
	}
	author := authorNear(link)
	if author == "" {
		author = "Unknown Author"
	}
	return digest.NewArticle(href, title, author), true
}

var boilerplateLinkRe = regexp.MustCompile(`(?i)^(read\s+more|continue\s+reading|view\s+story|open\s+in\s+app|medium\.com)$`)

func titleFromLink(link *goquery.Selection) string {
	title := strings.TrimSpace(link.Text())
	if title != "" && !boilerplateLinkRe.MatchString(title) {
		return collapseWhitespace(title)
	}
	// The anchor may wrap an image; look for a heading in the same container.
	parent := link.Parent()
	for i := 0; i < 3 && parent.Length() > 0; i++ {
		if h := parent.Find("h1, h2, h3").First(); h.Length() > 0 {
			if t := strings.TrimSpace(h.Text()); len(t) >= minTitleLen {
				return collapseWhitespace(t)
			}
		}
		parent = parent.Parent()
	}
	return ""
}

var (
	bylineRe   = regexp.MustCompile(`(?i)\bby\s+([^,\n|]+)`)
	usernameRe = regexp.MustCompile(`@([\w\-.]+)`)
	inPublRe   = regexp.MustCompile(`(?i)\s+in\s+.*$`)
)

func authorNear(link *goquery.Selection) string {
	parent := link.Parent()
	for i := 0; i < 3 && parent.Length() > 0; i++ {
		text := parent.Text()
		if m := bylineRe.FindStringSubmatch(text); m != nil {
			author := strings.TrimSpace(m[1])
			// "by Jane Doe in Better Programming": drop the publication.
			author = inPublRe.ReplaceAllString(author, "")
			if len(author) > 2 && len(author) < 50 {
				return collapseWhitespace(author)
			}
		}
		if m := usernameRe.FindStringSubmatch(text); m != nil {
			return m[1]
		}
		parent = parent.Parent()
	}
	return ""
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func dedupe(articles []digest.Article) []digest.Article {
	seen := make(map[string]bool, len(articles))
	out := make([]digest.Article, 0, len(articles))
	for _, a := range articles {
		if seen[a.URL] {
			continue
		}
		seen[a.URL] = true
		out = append(out, a)
	}
	return out
}

// skipURLRes reject digest links that are not articles: help pages, image
// CDNs, account settings, app-store links, and static assets.
var skipURLRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)help\.medium\.com`),
	regexp.MustCompile(`(?i)miro\.medium\.com`),
	regexp.MustCompile(`(?i)cdn-images-\d+\.medium\.com`),
	regexp.MustCompile(`(?i)policy\.medium\.com`),
	regexp.MustCompile(`(?i)medium\.com/(plans|me/|jobs)`),
	regexp.MustCompile(`(?i)medium\.com/\?source=`),
	regexp.MustCompile(`(?i)medium\.com/?$`),
	regexp.MustCompile(`(?i)itunes\.apple\.com|play\.google\.com`),
	regexp.MustCompile(`(?i)\.(css|js|png|jpe?g|gif)$`),
}

// articleURLRes accept the URL shapes articles are published under: author
// profiles, publications, and custom publication domains. Loopback /articles/
// paths are accepted so harness runs can point at a local mock site.
var articleURLRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)medium\.com/@[\w\-.]+/[\w\-]+`),
	regexp.MustCompile(`(?i)[\w\-]+\.medium\.com/[\w\-]+`),
	regexp.MustCompile(`(?i)medium\.com/[\w\-]+/[\w\-]+`),
	regexp.MustCompile(`(?i)^https?://(localhost|127\.0\.0\.1)(:\d+)?/articles/[\w\-]+`),
}

// IsArticleURL reports whether href plausibly points at an article rather
// than digest chrome.
func IsArticleURL(href string) bool {
	if strings.TrimSpace(href) == "" {
		return false
	}
	for _, re := range skipURLRes {
		if re.MatchString(href) {
			return false
		}
	}
	for _, re := range articleURLRes {
		if re.MatchString(href) {
			return true
		}
	}
	return false
}
