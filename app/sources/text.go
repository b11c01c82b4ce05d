package sources

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/lysyi3m/alert-comb/app/textutil"
)

const maxSummaryLength = 500

// cleanHTML returns the visible text of an HTML fragment with whitespace
// collapsed.
func cleanHTML(fragment string) string {
	if strings.TrimSpace(fragment) == "" {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.Join(strings.Fields(fragment), " ")
	}

	doc.Find("script, style").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func cleanSummary(fragment string) string {
	return textutil.Truncate(cleanHTML(fragment), maxSummaryLength)
}

// containsAny reports whether text mentions any keyword, ignoring case and
// diacritics. An empty keyword list always matches.
func containsAny(text string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}

	folded := textutil.Fold(text)
	for _, keyword := range keywords {
		if k := textutil.Fold(keyword); k != "" && strings.Contains(folded, k) {
			return true
		}
	}
	return false
}
