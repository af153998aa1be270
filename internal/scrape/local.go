package scrape

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

const maxBodyBytes = 1 << 20

// LocalReader fetches pages directly and strips them to text. Blocked or
// empty pages fail so a Chain can fall through to a hosted reader.
type LocalReader struct {
	client   *http.Client
	maxChars int
}

// NewLocalReader creates a LocalReader keeping at most maxChars of text per
// page. maxChars <= 0 keeps 5000.
func NewLocalReader(maxChars int) *LocalReader {
	if maxChars <= 0 {
		maxChars = 5000
	}
	return &LocalReader{
		client: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		maxChars: maxChars,
	}
}

// ReadPage implements Reader.
func (l *LocalReader) ReadPage(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", eris.Wrap(err, "scrape: create request")
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; ScreeningBot/1.0)")

	resp, err := l.client.Do(req)
	if err != nil {
		return "", eris.Wrapf(err, "scrape: fetch %s", url)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", eris.Wrapf(err, "scrape: read %s", url)
	}

	if block := DetectBlock(resp, body); block != BlockNone {
		return "", eris.Errorf("scrape: %s blocked (%s)", url, block)
	}
	if resp.StatusCode >= 400 {
		return "", eris.Errorf("scrape: %s status %d", url, resp.StatusCode)
	}

	text := StripHTML(string(body))
	if len(text) < 100 {
		return "", eris.Errorf("scrape: %s has no readable text", url)
	}
	if len(text) > l.maxChars {
		text = text[:l.maxChars]
	}
	return text, nil
}

var (
	dropBlockRe = regexp.MustCompile(`(?is)<(script|style|nav|footer|noscript)[^>]*>.*?</(script|style|nav|footer|noscript)>`)
	tagRe       = regexp.MustCompile(`<[^>]+>`)
	spaceRe     = regexp.MustCompile(`[ \t\r\f\v]+`)
	blankRe     = regexp.MustCompile(`\n\s*\n(\s*\n)+`)
	entities    = strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
	)
)

// StripHTML drops script, style and navigation blocks, removes tags,
// decodes common entities and collapses whitespace.
func StripHTML(html string) string {
	html = dropBlockRe.ReplaceAllString(html, "")
	html = tagRe.ReplaceAllString(html, " ")
	html = entities.Replace(html)
	html = spaceRe.ReplaceAllString(html, " ")
	html = blankRe.ReplaceAllString(html, "\n\n")
	return strings.TrimSpace(html)
}
