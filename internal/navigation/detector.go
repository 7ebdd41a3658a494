// Package navigation follows the hosted single-page app as it moves between
// logical pages and hands each newly rendered page to the filler.
package navigation

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/ryanscovill/jp-work-automation/internal/browser"
)

// headingSelectors are tried in order; the first group with non-empty text wins.
var headingSelectors = []string{
	"h1, .page-title, .title",
	".breadcrumb li:last-child",
	"legend, fieldset > h2",
	"title",
}

// Detection is the outcome of one page detection.
type Detection struct {
	Heading string
	Page    string
	OK      bool
}

// Detector identifies the logical page from the rendered document.
type Detector struct {
	page   browser.Page
	pages  []string
	logger *zap.Logger
}

func NewDetector(page browser.Page, pageNames []string, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{page: page, pages: pageNames, logger: logger.Named("detector")}
}

// Detect reads the current document and matches its heading against the
// configured page names.
func (d *Detector) Detect(ctx context.Context) (Detection, error) {
	html, err := d.page.HTML(ctx)
	if err != nil {
		return Detection{}, fmt.Errorf("read document: %w", err)
	}
	heading, err := Heading(html)
	if err != nil {
		return Detection{}, err
	}
	name, ok := MatchPage(heading, d.pages)
	d.logger.Debug("page heading", zap.String("heading", heading), zap.String("page", name), zap.Bool("matched", ok))
	return Detection{Heading: heading, Page: name, OK: ok}, nil
}

// Heading extracts the normalized page heading from an HTML document.
func Heading(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse document: %w", err)
	}
	for _, sel := range headingSelectors {
		if text := normalize(doc.Find(sel).First().Text()); text != "" {
			return text, nil
		}
	}
	return "", nil
}

// MatchPage returns the first page whose name contains the heading or is
// contained by it. Both sides are compared lowercased, with hyphens and
// underscores read as spaces.
func MatchPage(heading string, pages []string) (string, bool) {
	h := normalize(heading)
	if h == "" {
		return "", false
	}
	for _, name := range pages {
		n := normalize(name)
		if n == "" {
			continue
		}
		if strings.Contains(h, n) || strings.Contains(n, h) {
			return name, true
		}
	}
	return "", false
}

var separators = strings.NewReplacer("-", " ", "_", " ")

func normalize(s string) string {
	return strings.Join(strings.Fields(separators.Replace(strings.ToLower(s))), " ")
}
