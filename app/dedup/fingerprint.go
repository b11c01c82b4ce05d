package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"

	"github.com/lysyi3m/alert-comb/app/alert"
	"github.com/lysyi3m/alert-comb/app/textutil"
)

var trackingParams = map[string]bool{
	"utm_source":   true,
	"utm_medium":   true,
	"utm_campaign": true,
	"utm_term":     true,
	"utm_content":  true,
	"ref":          true,
	"fbclid":       true,
	"gclid":        true,
}

// Fingerprint is the similarity-comparable form of an item: the sorted set of
// folded title words plus the canonical link.
type Fingerprint struct {
	Tokens []string
	URL    string
}

func NewFingerprint(item alert.Item) Fingerprint {
	return Fingerprint{
		Tokens: titleTokens(item.Title),
		URL:    CanonicalURL(item.URL),
	}
}

// Key is a stable identifier for storage backends.
func (f Fingerprint) Key() string {
	hash := sha256.Sum256([]byte(strings.Join(f.Tokens, " ") + "|" + f.URL))
	return hex.EncodeToString(hash[:16])
}

// titleTokens returns the sorted unique folded words of title. A title with no
// letters or digits ("🚨🚨🚨") is kept whole as a single lower-cased token so
// identical symbol-only titles still match.
func titleTokens(title string) []string {
	all := textutil.Tokens(title)
	if len(all) == 0 {
		raw := strings.ToLower(strings.Join(strings.Fields(title), " "))
		if raw == "" {
			return nil
		}
		return []string{raw}
	}

	set := make(map[string]struct{}, len(all))
	for _, token := range all {
		if len([]rune(token)) < 2 {
			continue
		}
		set[token] = struct{}{}
	}
	// very short titles keep their single-rune words
	if len(set) == 0 {
		for _, token := range all {
			set[token] = struct{}{}
		}
	}

	tokens := make([]string, 0, len(set))
	for token := range set {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)
	return tokens
}

// CanonicalURL lower-cases the host, drops the scheme, "www.", fragments,
// tracking parameters and trailing slashes. Unparseable input returns "".
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}

	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")

	query := u.Query()
	for key := range query {
		if trackingParams[strings.ToLower(key)] {
			query.Del(key)
		}
	}

	canonical := host + strings.TrimRight(u.EscapedPath(), "/")
	if encoded := query.Encode(); encoded != "" {
		canonical += "?" + encoded
	}
	return canonical
}

// Jaccard returns |a ∩ b| / |a ∪ b| for two sorted, de-duplicated token slices.
func Jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	intersection := 0
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			intersection++
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}

	union := len(a) + len(b) - intersection
	if union <= 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// Similarity is the Jaccard overlap of the title tokens. Two fingerprints with
// the same non-empty canonical URL are always identical.
func (f Fingerprint) Similarity(other Fingerprint) float64 {
	if f.URL != "" && f.URL == other.URL {
		return 1
	}
	return Jaccard(f.Tokens, other.Tokens)
}
