// Package fetch retrieves a page the way the scan command needs it: the
// raw document for the scorer plus a readable title for display.
package fetch

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
)

const maxBodySize = 8 << 20 // 8 MB

// Page fetches an http(s) URL and returns its title and raw HTML. Non-HTTP
// schemes are rejected outright, mirroring what the coordinator analyzes.
func Page(url string) (title, html string, err error) {
	lower := strings.ToLower(url)
	if !strings.HasPrefix(lower, "http:") && !strings.HasPrefix(lower, "https:") {
		return "", "", fmt.Errorf("not an HTTP URL: %s", url)
	}

	client := &http.Client{Timeout: 15 * time.Second}
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return "", "", fmt.Errorf("fetch %s: %w", url, err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")

	resp, err := client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", "", fmt.Errorf("fetch %s: HTTP %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", "", fmt.Errorf("read %s: %w", url, err)
	}
	html = string(body)

	article, err := readability.FromReader(strings.NewReader(html), nil)
	if err != nil {
		// The page still scores fine without a title.
		return "", html, nil
	}
	return article.Title, html, nil
}
