package fetcher

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/antchfx/htmlquery"
	"github.com/carlmjohnson/requests"
	"github.com/fiffu/listingwatch/config"
	"github.com/fiffu/listingwatch/lib/models"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// ErrTransientFetch marks failures the caller should simply retry next cycle.
var ErrTransientFetch = errors.New("transient fetch failure")

const newProjectTag = "פרויקט חדש"

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:121.0) Gecko/20100101 Firefox/121.0",
}

const (
	xpathListing   = "//a[contains(@class, 'item-layout_itemLink')]"
	xpathDropTag   = ".//span[contains(@class, 'item-image_imageTag')]"
	xpathContent   = ".//div[contains(@class, 'item-layout_itemContent')]"
	xpathPrice     = ".//span[contains(@class, 'feed-item-price_price')]"
	xpathTitle     = ".//span[contains(@class, 'item-data-content_heading')]"
	xpathInfoLines = ".//span[contains(@class, 'item-data-content_itemInfoLine')]"
)

// Fetcher returns the listings currently shown for one bound query.
type Fetcher interface {
	Fetch(ctx context.Context) ([]models.Listing, error)
}

// Factory builds fetchers bound to a query.
type Factory struct {
	log       *zap.Logger
	transport http.RoundTripper
	baseURL   string
	timeout   time.Duration
}

func NewFactory(cfg *config.Config, log *zap.Logger, transport http.RoundTripper) *Factory {
	return &Factory{
		log:       log,
		transport: transport,
		baseURL:   strings.TrimSuffix(cfg.Source.BaseURL, "/"),
		timeout:   time.Duration(cfg.Source.FetchTimeoutSecs) * time.Second,
	}
}

func (f *Factory) NewFetcher(q models.Query) Fetcher {
	return &listingFetcher{f, q}
}

type listingFetcher struct {
	*Factory
	query models.Query
}

func (lf *listingFetcher) Fetch(ctx context.Context) ([]models.Listing, error) {
	if lf.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, lf.timeout)
		defer cancel()
	}

	ua := userAgents[rand.IntN(len(userAgents))]
	rb := requests.URL(lf.query.URL).
		Transport(lf.transport).
		UserAgent(ua).
		Accept("text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8").
		Header("Accept-Language", "he-IL,he;q=0.9,en-US;q=0.8,en;q=0.7").
		Header("Referer", lf.baseURL+"/")
	for k, v := range lf.query.Params {
		rb.Param(k, v)
	}

	var body string
	err := rb.ToString(&body).Fetch(ctx)
	if requests.HasStatusErr(err, http.StatusForbidden, http.StatusTooManyRequests) {
		lf.log.Sugar().Warnw("Possible rate limiting from source", "url", lf.query.String(), "err", err)
		return nil, fmt.Errorf("%w: %w", ErrTransientFetch, err)
	} else if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransientFetch, err)
	}

	return ParseListings(strings.NewReader(body), lf.baseURL, time.Now().UTC())
}

// ParseListings extracts listing records from a search result page. Records
// missing price, title or location are returned as-is; callers decide
// whether they are usable.
func ParseListings(r io.Reader, baseURL string, now time.Time) ([]models.Listing, error) {
	doc, err := htmlquery.Parse(r)
	if err != nil {
		return nil, err
	}

	anchors := htmlquery.Find(doc, xpathListing)
	listings := make([]models.Listing, 0, len(anchors))
	for _, a := range anchors {
		listing, ok := extractListing(a, baseURL, now)
		if ok {
			listings = append(listings, listing)
		}
	}
	return listings, nil
}

func extractListing(a *html.Node, baseURL string, now time.Time) (models.Listing, bool) {
	l := models.Listing{Timestamp: now}

	if href := attr(a, "href"); href != "" {
		if strings.HasPrefix(href, "/") {
			href = baseURL + href
		}
		l.Link, _, _ = strings.Cut(href, "?")
	}

	if tag := htmlquery.FindOne(a, xpathDropTag); tag != nil {
		l.PriceDropText = digForText(tag)
		if l.PriceDropText == newProjectTag {
			return l, false
		}
		l.PriceDropped = true
	}

	content := htmlquery.FindOne(a, xpathContent)
	if content == nil {
		return l, false
	}

	l.Price = SelectText(content, xpathPrice)
	l.Title = SelectText(content, xpathTitle)
	info := SelectTexts(content, xpathInfoLines)
	if len(info) >= 1 {
		l.Location = info[0]
	}
	if len(info) >= 2 {
		l.Details = info[1]
	}

	l.ID = ListingID(l.Title, l.Location, l.Link)
	return l, true
}

// ListingID derives a stable identifier for a listing from its visible identity.
func ListingID(title, location, link string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(title+"_"+location+"_"+link)))
}
