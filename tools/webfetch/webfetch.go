// Package webfetch renders pages with a headless browser and reduces them to
// markdown-ish text. It backs the search provider surface when no hosted tool
// server key is configured, at lower fidelity.
package webfetch

import (
	"context"
	"errors"
	"log"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	readability "github.com/go-shiori/go-readability"

	"github.com/rfvalente/morada/models"
)

const (
	defaultTimeout  = 15 * time.Second
	defaultMaxChars = 20000
	defaultAgent    = "morada/1.0 (+https://github.com/rfvalente/morada)"

	searchBaseURL = "https://casa.sapo.pt/pesquisa/"
	maxSearchHits = 20
)

type Config struct {
	Timeout   time.Duration
	MaxChars  int
	UserAgent string
}

type Fetcher struct {
	cfg    Config
	logger *log.Logger
}

func New(cfg Config, logger *log.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = defaultMaxChars
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultAgent
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[FETCH] ", log.LstdFlags)
	}
	return &Fetcher{cfg: cfg, logger: logger}
}

// Search renders a Casa Sapo results page for the query and harvests listing
// links. The engine hint only matters for hosted search, so it is ignored.
func (f *Fetcher) Search(ctx context.Context, query, _ string) ([]models.SearchHit, error) {
	target := searchBaseURL + "?" + url.Values{"q": {query}}.Encode()
	html, err := f.fetchHTML(ctx, target)
	if err != nil {
		return nil, models.E(models.KindUpstreamTransient, "webfetch.search", "rendering results page", err)
	}
	hits := parseSearchHits(html)
	f.logger.Printf("local search %q returned %d hits", query, len(hits))
	return hits, nil
}

// ScrapeMarkdown renders the page and reduces its readable content to
// markdown-ish text with the title and lead image up front.
func (f *Fetcher) ScrapeMarkdown(ctx context.Context, pageURL string) (string, error) {
	if strings.TrimSpace(pageURL) == "" {
		return "", models.E(models.KindLogic, "webfetch.scrape", "empty url", nil)
	}
	html, err := f.fetchHTML(ctx, pageURL)
	if err != nil {
		return "", models.E(models.KindUpstreamTransient, "webfetch.scrape", "rendering page", err)
	}
	md, err := markdownFromHTML(html, pageURL, f.cfg.MaxChars)
	if err != nil {
		return "", models.E(models.KindUpstreamFatal, "webfetch.scrape", "extracting readable content", err)
	}
	return md, nil
}

func (f *Fetcher) fetchHTML(ctx context.Context, target string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent(f.cfg.UserAgent),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}

var (
	listingAnchorPattern = regexp.MustCompile(`(?is)<a[^>]+href="(https?://casa\.sapo\.pt/[^"#]+)"[^>]*>(.*?)</a>`)
	tagPattern           = regexp.MustCompile(`(?s)<[^>]*>`)
)

func parseSearchHits(html string) []models.SearchHit {
	seen := make(map[string]bool)
	var hits []models.SearchHit
	for _, m := range listingAnchorPattern.FindAllStringSubmatch(html, -1) {
		href := m[1]
		title := strings.Join(strings.Fields(tagPattern.ReplaceAllString(m[2], " ")), " ")
		if title == "" || seen[href] {
			continue
		}
		seen[href] = true
		hits = append(hits, models.SearchHit{Title: title, URL: href, DisplayURL: "casa.sapo.pt"})
		if len(hits) == maxSearchHits {
			break
		}
	}
	return hits
}

func markdownFromHTML(html, pageURL string, maxChars int) (string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		base = &url.URL{}
	}
	article, err := readability.FromReader(strings.NewReader(html), base)
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return "", errors.New("no readable content")
	}
	if len(text) > maxChars {
		text = text[:maxChars]
	}

	var b strings.Builder
	if t := strings.TrimSpace(article.Title); t != "" {
		b.WriteString("# " + t + "\n\n")
	}
	if article.Image != "" {
		b.WriteString("![](" + article.Image + ")\n\n")
	}
	b.WriteString(text)
	return b.String(), nil
}
