package history

import (
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sahir247/phishlens/internal/types"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := OpenDB(dbPath)
	if err != nil {
		t.Fatalf("OpenDB(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestAppendAndList(t *testing.T) {
	db := testDB(t)

	rec := &types.AnalysisRecord{
		TabID:     7,
		URL:       "http://example.com",
		RiskScore: 0.92,
		Reasons:   []string{"lookalike domain", "recent registration"},
		Meta:      types.Meta{Domain: "example.com"},
	}
	if err := Append(db, rec, "<html>page</html>"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	rows, err := List(db, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	d := rows[0]
	if d.TabID != 7 || d.URL != "http://example.com" || d.Domain != "example.com" || d.RiskScore != 0.92 {
		t.Errorf("detection = %+v", d)
	}
	if len(d.Reasons) != 2 || d.Reasons[0] != "lookalike domain" {
		t.Errorf("reasons = %v", d.Reasons)
	}
	if d.HTMLSize != len("<html>page</html>") {
		t.Errorf("html size = %d", d.HTMLSize)
	}
}

func TestListNewestFirst(t *testing.T) {
	db := testDB(t)
	for i, url := range []string{"http://a", "http://b", "http://c"} {
		Append(db, &types.AnalysisRecord{TabID: i, URL: url, RiskScore: 0.1}, "")
	}

	rows, err := List(db, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].URL != "http://c" || rows[1].URL != "http://b" {
		t.Errorf("order = %s, %s", rows[0].URL, rows[1].URL)
	}
}

func TestHTMLCaptureRoundTrip(t *testing.T) {
	db := testDB(t)

	// Big repetitive page: compresses well.
	page := "<html>" + strings.Repeat("<div class='row'>content</div>\n", 500) + "</html>"
	if err := Append(db, &types.AnalysisRecord{TabID: 1, URL: "http://x", RiskScore: 0.5}, page); err != nil {
		t.Fatalf("Append: %v", err)
	}

	rows, _ := List(db, 1)
	got, err := HTMLFor(db, rows[0].ID)
	if err != nil {
		t.Fatalf("HTMLFor: %v", err)
	}
	if got != page {
		t.Errorf("capture mismatch: %d bytes vs %d", len(got), len(page))
	}
}

func TestHTMLForUnknownID(t *testing.T) {
	db := testDB(t)
	if _, err := HTMLFor(db, 42); err == nil {
		t.Fatal("expected error for unknown detection id")
	}
}

func TestEmptyCapture(t *testing.T) {
	db := testDB(t)
	Append(db, &types.AnalysisRecord{TabID: 1, URL: "http://x", RiskScore: 0.5}, "")
	rows, _ := List(db, 1)
	got, err := HTMLFor(db, rows[0].ID)
	if err != nil {
		t.Fatalf("HTMLFor: %v", err)
	}
	if got != "" {
		t.Errorf("capture = %q, want empty", got)
	}
}

func TestCompressIncompressible(t *testing.T) {
	// Short, high-entropy input falls back to raw storage.
	src := []byte{0x01, 0xfe, 0x42, 0x99, 0x7a}
	blob, size := compress(src)
	if size != len(src) {
		t.Fatalf("size = %d, want %d", size, len(src))
	}
	out, err := decompress(blob, size)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if string(out) != string(src) {
		t.Errorf("round trip mismatch")
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "twice.db")
	db, err := OpenDB(dbPath)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	db.Close()

	db, err = OpenDB(dbPath)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer db.Close()

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if n != len(migrations) {
		t.Errorf("applied %d migrations, want %d", n, len(migrations))
	}
}
