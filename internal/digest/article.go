// Package digest holds the domain model shared by all pipeline stages.
package digest

import (
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// articleNamespace scopes the UUIDv5 derivation of article IDs. Stable across
// runs so the same URL always yields the same ID.
var articleNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// Article is the unit of work flowing through the pipeline. It is created at
// parse time and enriched additively stage by stage: fetch fills Content,
// summarize fills Summary. Once an article fails a stage it never re-enters a
// later one. Articles are not persisted beyond a single run.
type Article struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Title  string `json:"title"`
	Author string `json:"author,omitempty"`

	Content string `json:"content,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// NewArticle builds an article with a stable identity derived from the
// canonical URL.
func NewArticle(rawURL, title, author string) Article {
	canonical := CanonicalURL(rawURL)
	return Article{
		ID:     uuid.NewSHA1(articleNamespace, []byte(canonical)).String(),
		URL:    canonical,
		Title:  strings.TrimSpace(title),
		Author: strings.TrimSpace(author),
	}
}

// trackingParams are query parameters digests attach for analytics. They are
// stripped so that the same article linked from two digest sections dedupes to
// one work item.
var trackingParams = map[string]bool{
	"source":       true,
	"utm_source":   true,
	"utm_medium":   true,
	"utm_campaign": true,
	"utm_content":  true,
	"utm_term":     true,
	"ref":          true,
	"referrer":     true,
}

// CanonicalURL strips tracking parameters and fragments from an article URL.
// Unparseable URLs are returned as-is.
func CanonicalURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	for param := range q {
		if trackingParams[strings.ToLower(param)] {
			q.Del(param)
		}
	}
	u.RawQuery = q.Encode()
	u.Fragment = ""
	return u.String()
}
