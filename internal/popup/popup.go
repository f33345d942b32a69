// Package popup is the transient popup's view of the system: it pulls the
// active tab's record on open, can replay the coordinator's pushes on
// demand, and can force a re-analysis by reloading the tab.
package popup

import (
	"context"
	"time"

	"github.com/sahir247/phishlens/internal/applog"
	"github.com/sahir247/phishlens/internal/router"
	"github.com/sahir247/phishlens/internal/types"
)

// defaultRefreshWait bounds how long Refresh waits for the re-analysis to
// settle before rendering whatever is available. Advisory only; nothing
// depends on the analysis actually being done by then.
const defaultRefreshWait = 1200 * time.Millisecond

// Reloader reloads a tab. Implemented by the bridge.
type Reloader interface {
	Reload(tabID int) error
}

// Settle subscribes to the next settled analysis for a tab. Matches
// coordinator.Subscribe.
type Settle func(tabID int) (<-chan *types.AnalysisRecord, func())

// View is what the popup renders.
type View struct {
	HasData bool
	Pct     int
	Tier    types.Tier
	Reasons []string
	Domain  string
}

// Client drives the popup's three actions.
type Client struct {
	router *router.Router
	reload Reloader
	settle Settle

	refreshWait time.Duration
}

// New wires a popup client. settle may be nil, in which case Refresh falls
// back to the fixed delay alone.
func New(rt *router.Router, reload Reloader, settle Settle) *Client {
	return &Client{
		router:      rt,
		reload:      reload,
		settle:      settle,
		refreshWait: defaultRefreshWait,
	}
}

func view(rec *types.AnalysisRecord) View {
	if rec == nil {
		return View{}
	}
	return View{
		HasData: true,
		Pct:     types.Pct(rec.RiskScore),
		Tier:    types.TierFor(rec.RiskScore),
		Reasons: rec.Reasons,
		Domain:  rec.Meta.Domain,
	}
}

// Open fetches the active tab's record and returns the view; the zero view
// is the "no data yet" empty state.
func (c *Client) Open(ctx context.Context, tabID int) View {
	rep := c.router.Request(ctx, router.Envelope{TabID: tabID}, 0)
	return view(rep.Data)
}

// Explain re-fetches the current record and replays both a RESULT and an
// APPLY push at the tab's presenter. The banner only self-renders from the
// coordinator's own pushes, so this manual trigger reproduces that exact
// effect on demand. A missing record is a no-op.
func (c *Client) Explain(ctx context.Context, tabID int) {
	rep := c.router.Request(ctx, router.Envelope{TabID: tabID}, 0)
	if rep.Data == nil {
		return
	}
	c.router.SendToTab(tabID, router.Envelope{Type: router.TypeResult, Data: rep.Data})
	c.router.SendToTab(tabID, router.Envelope{Type: router.TypeApply, Selectors: rep.Data.Highlights})
}

// Refresh reloads the tab (re-entering analysis via the navigation
// trigger), waits for the next settle notification or the fixed fallback
// delay, then re-fetches and returns the view. The wait is a heuristic:
// the returned view may predate the new analysis.
func (c *Client) Refresh(ctx context.Context, tabID int) View {
	var settled <-chan *types.AnalysisRecord
	if c.settle != nil {
		ch, stop := c.settle(tabID)
		defer stop()
		settled = ch
	}

	if err := c.reload.Reload(tabID); err != nil {
		applog.Error("popup.reload", err, "tab", tabID)
	}

	select {
	case <-settled:
	case <-time.After(c.refreshWait):
	case <-ctx.Done():
	}

	return c.Open(ctx, tabID)
}
