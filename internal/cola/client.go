// Package cola queries the TTB COLA (Certificate of Label Approval)
// public registry at ttbonline.gov and normalizes results into
// RegistryRecord rows.
package cola

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/net/html"

	"github.com/labelproof/labelproof/pkg/models"
)

const (
	defaultBaseURL = "https://ttbonline.gov/colasonline"

	userAgent = "Mozilla/5.0 (compatible; LabelProofBot/1.0; +https://github.com/labelproof/labelproof)"

	requestTimeout = 30 * time.Second

	// COLA completed-date search window.
	lookbackYears = 5
)

// Client searches the COLA public registry. Requests go through a
// circuit breaker so a flapping registry does not stall every job.
type Client struct {
	http    *http.Client
	baseURL string
	breaker *gobreaker.CircuitBreaker
}

// New builds a registry client. TLS verification is disabled because
// the registry host has recurring certificate problems.
func New() *Client {
	return NewWithBaseURL(defaultBaseURL)
}

// NewWithBaseURL overrides the registry host; used by tests.
func NewWithBaseURL(baseURL string) *Client {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "ttb-cola",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("registry circuit breaker state change")
		},
	})
	return &Client{
		http:    &http.Client{Timeout: requestTimeout, Transport: transport},
		baseURL: strings.TrimRight(baseURL, "/"),
		breaker: breaker,
	}
}

// SearchByBrand queries the registry for approved labels matching the
// brand name, optionally narrowed to a beverage category's class/type
// code range. Returns at most limit records.
func (c *Client) SearchByBrand(ctx context.Context, brandName, category string, limit int) ([]models.RegistryRecord, error) {
	now := time.Now().UTC()
	from := now.AddDate(-lookbackYears, 0, 0)

	form := url.Values{}
	form.Set("searchCriteria.dateCompletedFrom", from.Format("01/02/2006"))
	form.Set("searchCriteria.dateCompletedTo", now.Format("01/02/2006"))
	form.Set("searchCriteria.productOrFancifulName", brandName)
	form.Set("searchCriteria.productNameSearchType", "E")

	switch category {
	case models.CategoryWine:
		form.Set("searchCriteria.classTypeFrom", "80")
		form.Set("searchCriteria.classTypeTo", "89")
	case models.CategoryDistilledSpirits:
		form.Set("searchCriteria.classTypeFrom", "100")
		form.Set("searchCriteria.classTypeTo", "699")
	case models.CategoryMaltBeverage:
		form.Set("searchCriteria.classTypeFrom", "900")
		form.Set("searchCriteria.classTypeTo", "999")
	}

	searchURL := c.baseURL + "/publicSearchColasBasicProcess.do?action=search"

	body, err := c.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, searchURL, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("User-Agent", userAgent)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("registry request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, fmt.Errorf("registry returned HTTP %d", resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	})
	if err != nil {
		return nil, err
	}

	records, err := c.parseSearchResults(string(body.([]byte)), limit)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("brand", brandName).Int("records", len(records)).Msg("registry search complete")
	return records, nil
}

// parseSearchResults extracts records from the COLA results page. The
// results table has ten columns:
//
//	TTB ID | Permit No. | Serial Number | Completed Date | Fanciful Name |
//	Brand Name | Origin Code | Origin Desc | Class/Type Code | Class/Type Desc
func (c *Client) parseSearchResults(page string, limit int) ([]models.RegistryRecord, error) {
	if strings.Contains(page, "No results were found") {
		return nil, nil
	}

	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse registry response: %w", err)
	}

	table := findResultsTable(doc)
	if table == nil {
		return nil, nil
	}

	var records []models.RegistryRecord
	rows := childElements(table, "tr")
	for _, row := range rows[1:] { // skip header
		cells := childElements(row, "td")
		if len(cells) < 10 {
			continue
		}

		ttbID := cellText(cells[0])
		brandName := cellText(cells[5])
		classTypeDesc := cellText(cells[9])
		if ttbID == "" || brandName == "" || classTypeDesc == "" {
			continue
		}

		rec := models.RegistryRecord{
			TTBID:         ttbID,
			PermitNo:      cellText(cells[1]),
			SerialNumber:  cellText(cells[2]),
			BrandName:     brandName,
			OriginCode:    cellText(cells[6]),
			OriginDesc:    cellText(cells[7]),
			ClassTypeCode: cellText(cells[8]),
			ClassTypeDesc: classTypeDesc,
			SourceURL:     c.detailURL(cells[0], ttbID),
		}
		if d, err := time.Parse("01/02/2006", cellText(cells[3])); err == nil {
			rec.CompletedDate = &d
		}
		if fanciful := cellText(cells[4]); fanciful != "" {
			rec.FancifulName = &fanciful
		}
		rec.InferredABV = InferABV(classTypeDesc)
		rec.BeverageCategory = InferCategory(classTypeDesc, rec.ClassTypeCode)

		records = append(records, rec)
		if len(records) >= limit {
			break
		}
	}
	return records, nil
}

// detailURL resolves the detail link in the TTB ID cell, falling back
// to the canonical detail URL when the anchor is missing.
func (c *Client) detailURL(cell *html.Node, ttbID string) string {
	for _, a := range childElements(cell, "a") {
		for _, attr := range a.Attr {
			if attr.Key != "href" || attr.Val == "" {
				continue
			}
			if strings.HasPrefix(attr.Val, "http") {
				return attr.Val
			}
			return c.baseURL + "/" + attr.Val
		}
	}
	return fmt.Sprintf("%s/viewColaDetails.do?action=publicDisplaySearchBasic&ttbid=%s", c.baseURL, ttbID)
}

// findResultsTable walks the document for a table whose text mentions
// the result headers.
func findResultsTable(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "table" {
		text := nodeText(n)
		if strings.Contains(text, "TTB ID") && strings.Contains(text, "Brand Name") &&
			strings.Contains(text, "Class/Type") {
			return n
		}
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if found := findResultsTable(child); found != nil {
			return found
		}
	}
	return nil
}

// childElements collects descendant elements with the given tag,
// stopping descent at nested tables.
func childElements(n *html.Node, tag string) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			if child.Type == html.ElementNode {
				if child.Data == tag {
					out = append(out, child)
					continue
				}
				if child.Data == "table" {
					continue
				}
			}
			walk(child)
		}
	}
	walk(n)
	return out
}

func cellText(n *html.Node) string {
	return strings.TrimSpace(nodeText(n))
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return sb.String()
}

// InferABV estimates ABV from a class/type description. COLA results
// carry no ABV, so typical values come from the 27 CFR ranges. More
// specific keywords are checked first. Returns nil when nothing
// matches.
func InferABV(classTypeDesc string) *float64 {
	normalized := strings.ToUpper(classTypeDesc)
	contains := func(keywords ...string) bool {
		for _, kw := range keywords {
			if strings.Contains(normalized, kw) {
				return true
			}
		}
		return false
	}

	abv := func(v float64) *float64 { return &v }

	switch {
	case contains("DESSERT", "PORT", "SHERRY", "COOKING"):
		return abv(18.0)
	case contains("TABLE WINE", "WHITE WINE", "RED WINE"):
		return abv(12.0)
	case contains("SPARKLING", "CHAMPAGNE"):
		return abv(12.0)
	case contains("WHISKEY", "WHISKY", "BOURBON"):
		return abv(45.0)
	case contains("GIN", "VODKA", "RUM", "TEQUILA", "BRANDY"):
		return abv(40.0)
	case contains("IPA", "INDIA PALE ALE"):
		return abv(6.5)
	case contains("STOUT", "PORTER"):
		return abv(6.0)
	case contains("BEER", "LAGER", "ALE"):
		return abv(5.0)
	case contains("MALT BEVERAGE"):
		return abv(5.0)
	case contains("WINE"):
		return abv(12.0)
	case contains("SPIRIT", "LIQUOR", "LIQUEUR"):
		return abv(40.0)
	case contains("MALT"):
		return abv(5.0)
	}
	return nil
}

// InferCategory maps a class/type row to a beverage category, matching
// description keywords first and falling back to the numeric code
// ranges used by the COLA search form.
func InferCategory(classTypeDesc, classTypeCode string) string {
	normalized := strings.ToUpper(classTypeDesc)
	containsAny := func(keywords []string) bool {
		for _, kw := range keywords {
			if strings.Contains(normalized, kw) {
				return true
			}
		}
		return false
	}

	if containsAny([]string{"WINE", "CHAMPAGNE", "PORT", "SHERRY", "DESSERT", "TABLE"}) {
		return models.CategoryWine
	}
	if containsAny([]string{"WHISKEY", "WHISKY", "BOURBON", "GIN", "VODKA", "RUM", "TEQUILA", "BRANDY", "LIQUEUR", "SPIRIT", "DISTILLED"}) {
		return models.CategoryDistilledSpirits
	}
	if containsAny([]string{"BEER", "ALE", "LAGER", "MALT", "IPA", "STOUT", "PORTER"}) {
		return models.CategoryMaltBeverage
	}

	if code, err := strconv.Atoi(classTypeCode); err == nil {
		switch {
		case code >= 80 && code <= 89:
			return models.CategoryWine
		case code >= 100 && code <= 699:
			return models.CategoryDistilledSpirits
		case code >= 900 && code <= 999:
			return models.CategoryMaltBeverage
		}
	}
	return models.CategoryWine
}
