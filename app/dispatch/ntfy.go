package dispatch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"unicode"
)

// NtfyTransport publishes to an ntfy server: POST {server}/{topic}.
type NtfyTransport struct {
	baseURL    string
	token      string
	userAgent  string
	httpClient *http.Client
}

var _ Transport = (*NtfyTransport)(nil)

func NewNtfyTransport(baseURL, token, userAgent string, httpClient *http.Client) *NtfyTransport {
	return &NtfyTransport{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		userAgent:  userAgent,
		httpClient: httpClient,
	}
}

func (t *NtfyTransport) Name() string {
	return TransportNtfy
}

func (t *NtfyTransport) Send(ctx context.Context, n Notification) error {
	if n.Topic == "" {
		return fmt.Errorf("ntfy topic is empty")
	}

	endpoint := t.baseURL + "/" + n.Topic
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, strings.NewReader(n.Message))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Title", SanitizeHeader(n.Title))
	req.Header.Set("Priority", strconv.Itoa(n.Priority))
	if len(n.Tags) > 0 {
		req.Header.Set("Tags", strings.Join(n.Tags, ","))
	}
	if n.URL != "" {
		req.Header.Set("Actions", "view, Open, "+SanitizeHeader(n.URL))
	}
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to publish to ntfy: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("HTTP error: %d %s: %s", resp.StatusCode, resp.Status, strings.TrimSpace(string(body)))
	}

	return nil
}

var headerReplacer = strings.NewReplacer(
	"\u2018", "'",
	"\u2019", "'",
	"\u201c", `"`,
	"\u201d", `"`,
	"\u2013", "-",
	"\u2014", "-",
	"\u2026", "...",
	"\u00a0", " ",
	"\r", " ",
	"\n", " ",
)

// SanitizeHeader makes s safe for an HTTP header value: typographic
// punctuation becomes ASCII, control characters become spaces and any other
// non-ASCII rune becomes "?".
func SanitizeHeader(s string) string {
	s = headerReplacer.Replace(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r < 32 || r == unicode.MaxASCII:
			b.WriteByte(' ')
		case r > unicode.MaxASCII:
			b.WriteByte('?')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
