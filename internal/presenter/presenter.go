// Package presenter is the in-page side of the system: a risk banner plus
// a highlight overlay over the page document. It never polls; everything
// it shows was pushed at it, except the Explain action which pulls the
// current record on demand.
package presenter

import (
	"context"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/sahir247/phishlens/internal/applog"
	"github.com/sahir247/phishlens/internal/router"
	"github.com/sahir247/phishlens/internal/types"
)

// HighlightClass marks suspicious elements in the document.
const HighlightClass = "phishlens-highlight"

// bannerHeight is the vertical space reserved at the top of the page while
// the banner is visible.
const bannerHeight = 48

// Banner is the current banner state. Visible only for warning/danger.
type Banner struct {
	Visible bool
	Tier    types.Tier
	Text    string
}

// Presenter renders one tab's page. State is limited to the banner and the
// currently applied highlight set; reapplying the same selectors is
// idempotent.
type Presenter struct {
	tabID  int
	router *router.Router

	mu     sync.Mutex
	doc    *html.Node
	banner Banner
	marked map[*html.Node]struct{}
}

// New returns a presenter for one tab over its parsed document.
func New(tabID int, rt *router.Router, doc *html.Node) *Presenter {
	return &Presenter{
		tabID:  tabID,
		router: rt,
		doc:    doc,
		marked: make(map[*html.Node]struct{}),
	}
}

// Attach subscribes the presenter to RESULT and APPLY pushes for its tab.
// The returned function detaches it.
func (p *Presenter) Attach() func() {
	return p.router.ListenTab(p.tabID, func(env router.Envelope) {
		switch env.Type {
		case router.TypeResult:
			if env.Data != nil {
				p.OnResult(env.Data)
			}
		case router.TypeApply:
			p.Apply(env.Selectors)
		}
	})
}

// OnResult updates the banner from a pushed record. The banner shows only
// when the rounded score reaches the warning tier.
func (p *Presenter) OnResult(rec *types.AnalysisRecord) {
	pct := types.Pct(rec.RiskScore)

	text := "Risk " + types.BadgeText(rec.RiskScore) + "%"
	if len(rec.Reasons) > 0 {
		top := rec.Reasons
		if len(top) > 3 {
			top = top[:3]
		}
		text += " — " + strings.Join(top, "; ")
	}

	p.mu.Lock()
	p.banner = Banner{
		Visible: pct >= 50,
		Tier:    types.TierFor(rec.RiskScore),
		Text:    text,
	}
	p.mu.Unlock()
}

// Banner returns the current banner state.
func (p *Presenter) Banner() Banner {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.banner
}

// SpacerHeight is the top space reserved so the banner never overlaps page
// content: fixed while visible, zero while hidden.
func (p *Presenter) SpacerHeight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.banner.Visible {
		return bannerHeight
	}
	return 0
}

// Apply replaces the highlight set: previous marks are cleared, then every
// element matching each selector is marked. A selector that fails to parse
// is skipped; the rest are still processed. Returns the number of marked
// elements.
func (p *Presenter) Apply(selectors []string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.clearLocked()
	if p.doc == nil {
		return 0
	}

	for _, sel := range selectors {
		s, err := cascadia.Parse(sel)
		if err != nil {
			applog.Info("highlight.skip", "selector", sel)
			continue
		}
		for _, n := range cascadia.QueryAll(p.doc, s) {
			if _, ok := p.marked[n]; ok {
				continue
			}
			addClass(n, HighlightClass)
			p.marked[n] = struct{}{}
		}
	}
	return len(p.marked)
}

// Marked returns how many elements currently carry the highlight mark.
func (p *Presenter) Marked() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.marked)
}

// Ignore hides the banner and clears highlights. Local to this page; the
// coordinator is not told.
func (p *Presenter) Ignore() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.banner.Visible = false
	p.clearLocked()
}

// Explain pulls the tab's current record via GET_DATA and applies its
// highlights. This is the one path from RESULT data to visible highlights
// that needs no APPLY push.
func (p *Presenter) Explain(ctx context.Context) {
	rep := p.router.Request(ctx, router.Envelope{}, p.tabID)
	if rep.Data == nil {
		p.Apply(nil)
		return
	}
	p.Apply(rep.Data.Highlights)
}

func (p *Presenter) clearLocked() {
	for n := range p.marked {
		removeClass(n, HighlightClass)
	}
	p.marked = make(map[*html.Node]struct{})
}

func addClass(n *html.Node, class string) {
	for i, a := range n.Attr {
		if a.Key == "class" {
			if hasClass(a.Val, class) {
				return
			}
			n.Attr[i].Val = strings.TrimSpace(a.Val + " " + class)
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: "class", Val: class})
}

func removeClass(n *html.Node, class string) {
	for i, a := range n.Attr {
		if a.Key != "class" {
			continue
		}
		var kept []string
		for _, c := range strings.Fields(a.Val) {
			if c != class {
				kept = append(kept, c)
			}
		}
		n.Attr[i].Val = strings.Join(kept, " ")
		return
	}
}

func hasClass(val, class string) bool {
	for _, c := range strings.Fields(val) {
		if c == class {
			return true
		}
	}
	return false
}
