package scorer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCheck(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/check" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body["url"] != "http://example.com" || body["html"] != "<html></html>" {
			t.Errorf("request body = %v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"risk_score": 0.92,
			"reasons": ["lookalike domain", "recent registration"],
			"highlights": ["#login-form"],
			"meta": {"domain": "example.com"}
		}`))
	}))
	defer ts.Close()

	rec, err := New(ts.URL).Check(context.Background(), "http://example.com", "<html></html>")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if rec.RiskScore != 0.92 {
		t.Errorf("risk_score = %v", rec.RiskScore)
	}
	if len(rec.Reasons) != 2 || rec.Reasons[0] != "lookalike domain" {
		t.Errorf("reasons = %v", rec.Reasons)
	}
	if len(rec.Highlights) != 1 || rec.Highlights[0] != "#login-form" {
		t.Errorf("highlights = %v", rec.Highlights)
	}
	if rec.Meta.Domain != "example.com" {
		t.Errorf("domain = %q", rec.Meta.Domain)
	}
	if rec.URL != "http://example.com" {
		t.Errorf("url = %q", rec.URL)
	}
}

func TestCheckNonSuccessStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad", http.StatusBadRequest)
	}))
	defer ts.Close()

	if _, err := New(ts.URL).Check(context.Background(), "http://x", "<html></html>"); err == nil {
		t.Fatal("expected error for HTTP 400")
	}
}

func TestCheckTransportError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	ts.Close() // closed server = connection refused

	if _, err := New(ts.URL).Check(context.Background(), "http://x", "<html></html>"); err == nil {
		t.Fatal("expected transport error")
	}
}

func TestEvents(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/events" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("limit"); got != "5" {
			t.Errorf("limit = %q, want 5", got)
		}
		w.Write([]byte(`[{"id":2,"url":"http://b","risk_score":0.5,"reasons":["r"],"ts":1700000000},
			{"id":1,"url":"http://a","risk_score":0.1,"reasons":[],"ts":1600000000}]`))
	}))
	defer ts.Close()

	events, err := New(ts.URL).Events(context.Background(), 5)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 2 || events[0].URL != "http://b" || events[0].TS != 1700000000 {
		t.Errorf("events = %+v", events)
	}
}

func TestHealth(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer ts.Close()

	if err := New(ts.URL).Health(context.Background()); err != nil {
		t.Errorf("Health: %v", err)
	}
}
