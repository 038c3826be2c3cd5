// Package extract turns raw product-page HTML into structured fields
// via an LLM, after stripping the markup down to what matters.
package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultMaxChars bounds the cleaned document sent to the model.
const DefaultMaxChars = 150_000

const (
	areasPerPattern = 10
	maxProductAreas = 15
)

var collapseWhitespace = regexp.MustCompile(`\s{2,}`)

// scriptKeywords flag inline scripts that embed product state, which on
// VTEX and Next.js storefronts is often the only reliable price source.
var scriptKeywords = []string{"product", "price", "preco", "sku", "catalog", "vtex"}

// metaKeywords select product and Open Graph meta tags by name/property.
var metaKeywords = []string{"product", "price", "title", "description", "og:"}

// productClassPatterns locate the page regions worth keeping by class
// name. Portuguese terms cover Brazilian storefronts.
var productClassPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)product|item|detail|pdp|sku`),
	regexp.MustCompile(`(?i)price|cost|value|amount|money`),
	regexp.MustCompile(`(?i)buy|purchase|cart|add|comprar`),
	regexp.MustCompile(`(?i)payment|installment|parcel|pix`),
	regexp.MustCompile(`(?i)ship|delivery|frete|entrega`),
	regexp.MustCompile(`(?i)stock|availability|disponib`),
	regexp.MustCompile(`(?i)review|rating|score|estrela`),
}

// CleanHTML reduces a product page to the fragments that carry product
// data: matching meta tags, product-area nodes selected by class, and
// structured-data or product-keyword scripts. Scripts outside the keep
// list, styles, and frames are discarded. On unparseable input the raw
// HTML is returned truncated rather than failing the extraction.
func CleanHTML(html string, maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return truncate(html, maxChars)
	}

	scripts := keepScripts(doc)
	metas := keepMetaTags(doc)

	// Scripts are captured above; dropping them here keeps the noise
	// out of the product-area fragments.
	doc.Find("script, style, noscript, iframe, svg, link").Remove()

	areas := productAreas(doc)

	combined := strings.Join(append(append(metas, areas...), scripts...), "\n")
	if strings.TrimSpace(combined) == "" {
		// Nothing matched the keep lists; fall back to the stripped
		// document so the extractor still sees the page.
		if body, bodyErr := doc.Html(); bodyErr == nil {
			combined = body
		} else {
			combined = html
		}
	}

	combined = collapseWhitespace.ReplaceAllString(combined, " ")
	return truncate(strings.TrimSpace(combined), maxChars)
}

// keepScripts returns scripts carrying structured data (ld+json, plain
// JSON, __NEXT_DATA__) or product keywords in their body.
func keepScripts(doc *goquery.Document) []string {
	var kept []string
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		typ := s.AttrOr("type", "")
		keep := typ == "application/ld+json" || typ == "application/json" ||
			s.AttrOr("id", "") == "__NEXT_DATA__"
		if !keep {
			body := strings.ToLower(s.Text())
			for _, kw := range scriptKeywords {
				if strings.Contains(body, kw) {
					keep = true
					break
				}
			}
		}
		if !keep {
			return
		}
		if outer, err := goquery.OuterHtml(s); err == nil {
			kept = append(kept, outer)
		}
	})
	return kept
}

// keepMetaTags returns meta tags whose name or property mentions the
// product, price, or Open Graph vocabulary.
func keepMetaTags(doc *goquery.Document) []string {
	var kept []string
	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		key := strings.ToLower(s.AttrOr("name", "") + s.AttrOr("property", ""))
		for _, kw := range metaKeywords {
			if strings.Contains(key, kw) {
				if outer, err := goquery.OuterHtml(s); err == nil {
					kept = append(kept, outer)
				}
				return
			}
		}
	})
	return kept
}

// productAreas collects up to areasPerPattern nodes per class pattern,
// deduplicated and capped at maxProductAreas overall.
func productAreas(doc *goquery.Document) []string {
	var kept []string
	seen := make(map[string]struct{})
	for _, pattern := range productClassPatterns {
		matched := 0
		doc.Find("[class]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if matched >= areasPerPattern || len(kept) >= maxProductAreas {
				return false
			}
			if !pattern.MatchString(s.AttrOr("class", "")) {
				return true
			}
			matched++
			outer, err := goquery.OuterHtml(s)
			if err != nil {
				return true
			}
			if _, dup := seen[outer]; dup {
				return true
			}
			seen[outer] = struct{}{}
			kept = append(kept, outer)
			return true
		})
		if len(kept) >= maxProductAreas {
			break
		}
	}
	return kept
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
