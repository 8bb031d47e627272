// Package research qualifies leads and analyzes their company websites
// to give the composer genuine, specific context.
package research

import (
	"context"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Page is a fetched company website: raw HTML for technology detection
// plus stripped text for content checks.
type Page struct {
	URL   string
	Title string
	HTML  string
	Text  string
}

// Scraper fetches company websites.
type Scraper interface {
	Fetch(ctx context.Context, websiteURL string) (*Page, error)
}

// HTTPScraper fetches HTML via net/http with block detection. Blocked
// and unreachable sites are soft failures; analysis continues on company
// context alone.
type HTTPScraper struct {
	client *http.Client
}

// NewScraper creates an HTTPScraper with the given timeout.
func NewScraper(timeout time.Duration) *HTTPScraper {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPScraper{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
}

func (s *HTTPScraper) Fetch(ctx context.Context, websiteURL string) (*Page, error) {
	target := normalizeURL(websiteURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, eris.Wrap(err, "research: create request")
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; OutreachBot/1.0)")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "research: fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return nil, eris.Wrap(err, "research: read body")
	}

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
		return nil, eris.Errorf("research: blocked (%d)", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, eris.Errorf("research: status %d", resp.StatusCode)
	}
	if len(body) < 100 {
		return nil, eris.New("research: empty page")
	}

	html := string(body)
	return &Page{
		URL:   target,
		Title: extractTitle(html),
		HTML:  html,
		Text:  stripHTML(html),
	}, nil
}

func normalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return "https://" + raw
	}
	return raw
}

var titleRe = regexp.MustCompile(`(?i)<title[^>]*>(.*?)</title>`)

func extractTitle(html string) string {
	m := titleRe.FindStringSubmatch(html)
	if len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// stripHTML removes scripts/styles/nav/footer, strips tags, decodes
// entities, and collapses whitespace.
func stripHTML(html string) string {
	for _, tag := range []string{"script", "style", "nav", "footer"} {
		re := regexp.MustCompile(`(?is)<` + tag + `[^>]*>.*?</` + tag + `>`)
		html = re.ReplaceAllString(html, "")
	}

	tagRe := regexp.MustCompile(`<[^>]+>`)
	html = tagRe.ReplaceAllString(html, " ")

	r := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
	)
	html = r.Replace(html)

	spaceRe := regexp.MustCompile(`[ \t]+`)
	html = spaceRe.ReplaceAllString(html, " ")

	nlRe := regexp.MustCompile(`\n{3,}`)
	html = nlRe.ReplaceAllString(html, "\n\n")

	return strings.TrimSpace(html)
}
