// Package scrape extracts search result rows from rendered Kagi result pages.
// The primary extraction runs inside the page (ResultsJS); Parse is a
// server-side fallback over the captured HTML that applies the same selector
// tiers when in-page evaluation yields nothing.
package scrape

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Result is a single extracted search result row.
// T is the row type tag: 0 for web results; other values are reserved for
// non-result rows such as related searches and are filtered before rendering.
type Result struct {
	T         int    `json:"t"`
	Title     string `json:"title"`
	URL       string `json:"url"`
	Snippet   string `json:"snippet"`
	Published string `json:"published"`
}

// ResultsJS is the in-page extraction script evaluated after a search page
// renders. It walks the result containers in two tiers: the known result
// markup first, then a generic pass over anything result-shaped when the
// primary selectors match nothing (the page markup changes between site
// revisions). Returns an array of Result-shaped objects.
const ResultsJS = `(() => {
	const results = [];

	document.querySelectorAll('div.search-result, div._0_result-item').forEach(element => {
		const titleElement = element.querySelector('.heading a, ._0_result-title a');

		const urlElement = element.querySelector('.url, .__sri-url');
		const url = urlElement ?
			(urlElement.href || urlElement.getAttribute('href')) :
			(titleElement ? titleElement.href : null);

		const snippetElement = element.querySelector('.snippet, ._0_DESC, .__sri-desc div');
		const publishedElement = element.querySelector('.published');

		if (titleElement && (snippetElement || url)) {
			results.push({
				t: 0,
				title: titleElement.textContent.trim(),
				url: url || "",
				snippet: snippetElement ? snippetElement.textContent.trim() : "",
				published: publishedElement ? publishedElement.textContent.trim() : ""
			});
		}
	});

	if (results.length === 0) {
		document.querySelectorAll('article, ._ext_a, div[class*="result"]').forEach(element => {
			const titleElement = element.querySelector('h3 a, h2 a, a[class*="title"]');
			const contentElement = element.querySelector('p, div[class*="desc"], div[class*="content"]');
			const linkElement = element.querySelector('a[href]');

			const heading = element.querySelector('h3, h2');
			const title = titleElement ? titleElement.textContent.trim() :
				(heading ? heading.textContent.trim() : null);
			const url = titleElement ? titleElement.href :
				(linkElement ? linkElement.href : null);
			const snippet = contentElement ? contentElement.textContent.trim() : "";

			if ((title || url) && snippet) {
				results.push({
					t: 0,
					title: title || "No title",
					url: url || "",
					snippet: snippet,
					published: ""
				});
			}
		});
	}

	return results;
})()`

// Parse extracts result rows from raw page HTML using the same two selector
// tiers as ResultsJS. It exists for pages where script evaluation returned
// nothing but the captured DOM still carries results. Relative hrefs are
// resolved against base when it is non-nil.
func Parse(pageHTML string, base *url.URL) []Result {
	root, err := html.Parse(strings.NewReader(pageHTML))
	if err != nil {
		return nil
	}
	doc := goquery.NewDocumentFromNode(root)

	results := parsePrimary(doc, base)
	if len(results) == 0 {
		results = parseGeneric(doc, base)
	}
	return results
}

// parsePrimary applies the known result markup selectors.
func parsePrimary(doc *goquery.Document, base *url.URL) []Result {
	var results []Result

	doc.Find("div.search-result, div._0_result-item").Each(func(_ int, s *goquery.Selection) {
		titleEl := s.Find(".heading a, ._0_result-title a").First()

		resultURL := ""
		if urlEl := s.Find(".url, .__sri-url").First(); urlEl.Length() > 0 {
			resultURL = hrefOf(urlEl, base)
		}
		if resultURL == "" && titleEl.Length() > 0 {
			resultURL = hrefOf(titleEl, base)
		}

		snippetEl := s.Find(".snippet, ._0_DESC, .__sri-desc div").First()

		if titleEl.Length() == 0 || (snippetEl.Length() == 0 && resultURL == "") {
			return
		}

		results = append(results, Result{
			T:         0,
			Title:     strings.TrimSpace(titleEl.Text()),
			URL:       resultURL,
			Snippet:   strings.TrimSpace(snippetEl.Text()),
			Published: strings.TrimSpace(s.Find(".published").First().Text()),
		})
	})

	return results
}

// parseGeneric applies the fallback pass over anything result-shaped.
func parseGeneric(doc *goquery.Document, base *url.URL) []Result {
	var results []Result

	doc.Find(`article, ._ext_a, div[class*="result"]`).Each(func(_ int, s *goquery.Selection) {
		titleEl := s.Find(`h3 a, h2 a, a[class*="title"]`).First()

		title := ""
		if titleEl.Length() > 0 {
			title = strings.TrimSpace(titleEl.Text())
		} else if heading := s.Find("h3, h2").First(); heading.Length() > 0 {
			title = strings.TrimSpace(heading.Text())
		}

		resultURL := ""
		if titleEl.Length() > 0 {
			resultURL = hrefOf(titleEl, base)
		}
		if resultURL == "" {
			if linkEl := s.Find("a[href]").First(); linkEl.Length() > 0 {
				resultURL = hrefOf(linkEl, base)
			}
		}

		snippet := strings.TrimSpace(s.Find(`p, div[class*="desc"], div[class*="content"]`).First().Text())

		if (title == "" && resultURL == "") || snippet == "" {
			return
		}
		if title == "" {
			title = "No title"
		}

		results = append(results, Result{
			T:       0,
			Title:   title,
			URL:     resultURL,
			Snippet: snippet,
		})
	})

	return results
}

// hrefOf returns the selection's href attribute, resolved against base.
func hrefOf(s *goquery.Selection, base *url.URL) string {
	href, ok := s.Attr("href")
	if !ok || href == "" {
		return ""
	}
	if base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// FilterWeb keeps only web result rows (type tag 0). Other tags carry
// related searches and similar blocks that must not be rendered.
func FilterWeb(rows []Result) []Result {
	filtered := make([]Result, 0, len(rows))
	for _, r := range rows {
		if r.T == 0 {
			filtered = append(filtered, r)
		}
	}
	return filtered
}
