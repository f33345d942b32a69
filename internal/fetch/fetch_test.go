package fetch

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPage(t *testing.T) {
	const page = `<html><head><title>Login Portal</title></head><body><h1>Login</h1><p>Enter your details below to continue.</p></body></html>`
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(page))
	}))
	defer ts.Close()

	title, html, err := Page(ts.URL)
	if err != nil {
		t.Fatalf("Page: %v", err)
	}
	if html != page {
		t.Errorf("html = %q", html)
	}
	if !strings.Contains(title, "Login") {
		t.Errorf("title = %q", title)
	}
}

func TestPageRejectsNonHTTP(t *testing.T) {
	for _, url := range []string{"about:config", "file:///etc/passwd", "chrome://flags", "ftp://x"} {
		if _, _, err := Page(url); err == nil {
			t.Errorf("Page(%q) should fail", url)
		}
	}
}

func TestPageErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer ts.Close()

	if _, _, err := Page(ts.URL); err == nil {
		t.Fatal("expected error for HTTP 404")
	}
}
