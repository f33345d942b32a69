package presenter

import (
	"context"
	"strings"
	"testing"

	"golang.org/x/net/html"

	"github.com/sahir247/phishlens/internal/router"
	"github.com/sahir247/phishlens/internal/types"
)

const testPage = `<html><head><title>t</title></head><body>
<form id="login-form"><input type="password" name="pw"></form>
<form id="other"><input type="text"></form>
<img src="logo.png">
</body></html>`

func parsePage(t *testing.T) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(testPage))
	if err != nil {
		t.Fatalf("parse page: %v", err)
	}
	return doc
}

func TestBannerVisibility(t *testing.T) {
	tests := []struct {
		score   float64
		visible bool
		tier    types.Tier
	}{
		{0.1, false, types.TierSafe},
		{0.49, false, types.TierSafe},
		{0.5, true, types.TierWarning},
		{0.79, true, types.TierWarning},
		{0.92, true, types.TierDanger},
	}
	for _, tt := range tests {
		p := New(1, router.New(), parsePage(t))
		p.OnResult(&types.AnalysisRecord{RiskScore: tt.score})
		b := p.Banner()
		if b.Visible != tt.visible || b.Tier != tt.tier {
			t.Errorf("score %v: banner = %+v, want visible=%v tier=%v", tt.score, b, tt.visible, tt.tier)
		}
	}
}

func TestBannerText(t *testing.T) {
	p := New(7, router.New(), parsePage(t))
	p.OnResult(&types.AnalysisRecord{
		RiskScore: 0.92,
		Reasons:   []string{"lookalike domain", "recent registration"},
	})
	want := "Risk 92% — lookalike domain; recent registration"
	if got := p.Banner().Text; got != want {
		t.Errorf("banner text = %q, want %q", got, want)
	}
}

func TestBannerTextCapsReasonsAtThree(t *testing.T) {
	p := New(7, router.New(), parsePage(t))
	p.OnResult(&types.AnalysisRecord{
		RiskScore: 0.8,
		Reasons:   []string{"a", "b", "c", "d"},
	})
	if got := p.Banner().Text; got != "Risk 80% — a; b; c" {
		t.Errorf("banner text = %q", got)
	}
}

func TestBannerTextNoReasons(t *testing.T) {
	p := New(7, router.New(), parsePage(t))
	p.OnResult(&types.AnalysisRecord{RiskScore: 0.55})
	if got := p.Banner().Text; got != "Risk 55%" {
		t.Errorf("banner text = %q", got)
	}
}

func TestSpacerHeight(t *testing.T) {
	p := New(1, router.New(), parsePage(t))
	if h := p.SpacerHeight(); h != 0 {
		t.Errorf("initial spacer = %d, want 0", h)
	}
	p.OnResult(&types.AnalysisRecord{RiskScore: 0.9})
	if h := p.SpacerHeight(); h != bannerHeight {
		t.Errorf("visible spacer = %d, want %d", h, bannerHeight)
	}
	p.Ignore()
	if h := p.SpacerHeight(); h != 0 {
		t.Errorf("spacer after ignore = %d, want 0", h)
	}
}

func TestApplyMarksElements(t *testing.T) {
	p := New(1, router.New(), parsePage(t))
	n := p.Apply([]string{"#login-form", "input[type='password']"})
	if n != 2 {
		t.Errorf("marked %d elements, want 2", n)
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	p := New(1, router.New(), parsePage(t))
	sels := []string{"form", "img"}
	first := p.Apply(sels)
	second := p.Apply(sels)
	if first != second {
		t.Errorf("apply twice: %d then %d marked", first, second)
	}
	if p.Marked() != second {
		t.Errorf("Marked() = %d, want %d", p.Marked(), second)
	}
}

func TestApplyEmptyClears(t *testing.T) {
	p := New(1, router.New(), parsePage(t))
	p.Apply([]string{"form"})
	if n := p.Apply([]string{}); n != 0 {
		t.Errorf("Apply([]) marked %d, want 0", n)
	}
	if p.Marked() != 0 {
		t.Errorf("Marked() after clear = %d", p.Marked())
	}
}

func TestInvalidSelectorSkipped(t *testing.T) {
	p := New(1, router.New(), parsePage(t))
	// The broken selector must not stop the valid ones around it.
	n := p.Apply([]string{"#login-form", "[[[", "img"})
	if n != 2 {
		t.Errorf("marked %d elements, want 2 despite invalid selector", n)
	}
}

func TestSelectorMatchingNothingIsFine(t *testing.T) {
	p := New(1, router.New(), parsePage(t))
	if n := p.Apply([]string{"#does-not-exist", "form"}); n != 2 {
		t.Errorf("marked %d, want 2", n)
	}
}

func TestAttachRoutesPushes(t *testing.T) {
	rt := router.New()
	p := New(3, rt, parsePage(t))
	detach := p.Attach()
	defer detach()

	rt.SendToTab(3, router.Envelope{Type: router.TypeResult,
		Data: &types.AnalysisRecord{RiskScore: 0.9, Reasons: []string{"r"}}})
	if !p.Banner().Visible {
		t.Error("RESULT push did not update banner")
	}

	rt.SendToTab(3, router.Envelope{Type: router.TypeApply, Selectors: []string{"form"}})
	if p.Marked() != 2 {
		t.Errorf("APPLY push marked %d, want 2", p.Marked())
	}

	// Pushes for other tabs are not ours.
	rt.SendToTab(4, router.Envelope{Type: router.TypeApply, Selectors: []string{"img"}})
	if p.Marked() != 2 {
		t.Errorf("foreign push changed marks: %d", p.Marked())
	}
}

func TestExplainPullsAndApplies(t *testing.T) {
	rt := router.New()
	rec := &types.AnalysisRecord{TabID: 5, Highlights: []string{"input[type='password']"}}
	rt.HandleRequests(func(env router.Envelope, reply *router.Pending) {
		if env.TabID != 5 {
			t.Errorf("GET_DATA for tab %d, want sender's 5", env.TabID)
		}
		reply.Resolve(rec)
	})

	p := New(5, rt, parsePage(t))
	p.Explain(context.Background())
	if p.Marked() != 1 {
		t.Errorf("explain marked %d, want 1", p.Marked())
	}
}

func TestExplainWithNoRecordClears(t *testing.T) {
	rt := router.New()
	rt.HandleRequests(func(env router.Envelope, reply *router.Pending) {
		reply.Resolve(nil)
	})
	p := New(5, rt, parsePage(t))
	p.Apply([]string{"form"})
	p.Explain(context.Background())
	if p.Marked() != 0 {
		t.Errorf("explain with nil record left %d marks", p.Marked())
	}
}
