// Package coordinator owns the analysis control loop: it watches tab
// lifecycle signals, asks the scorer about each page, keeps the per-tab
// store current, and pushes results at whichever page context is alive.
package coordinator

import (
	"context"
	"strings"
	"sync"

	"github.com/sahir247/phishlens/internal/applog"
	"github.com/sahir247/phishlens/internal/router"
	"github.com/sahir247/phishlens/internal/store"
	"github.com/sahir247/phishlens/internal/types"
)

// Host is the slice of the browser platform the coordinator needs. The
// bridge implements it against a live extension; tests fake it.
type Host interface {
	// ExtractHTML returns the tab's current rendered document.
	ExtractHTML(ctx context.Context, tabID int) (string, error)
	// TabURL resolves the tab's current address.
	TabURL(ctx context.Context, tabID int) (string, error)
	// SetBadge sets the tab's badge color and text.
	SetBadge(tabID int, color, text string) error
	// ClearBadgeText blanks the tab's badge text.
	ClearBadgeText(tabID int) error
	// Reload reloads the tab, which re-triggers analysis via navigation.
	Reload(tabID int) error
}

// Scorer scores one page. Satisfied by scorer.Client.
type Scorer interface {
	Check(ctx context.Context, url, html string) (*types.AnalysisRecord, error)
}

// Tab lifecycle event kinds, as forwarded by the bridge.
const (
	TabUpdated   = "updated"
	TabActivated = "activated"
	TabRemoved   = "removed"
)

// TabEvent is one lifecycle signal. URL and Status are only set for
// updated events.
type TabEvent struct {
	Kind   string
	TabID  int
	URL    string
	Status string
}

// Coordinator runs analyses and fans out their results. Overlapping runs
// for one tab are neither serialized nor cancelled; whichever scorer
// response lands last owns the store entry and the badge.
type Coordinator struct {
	store  *store.Store
	router *router.Router
	scorer Scorer
	host   Host

	// record, when set, receives every settled analysis plus the HTML it
	// was scored from (the history sink).
	record func(rec *types.AnalysisRecord, html string)

	mu      sync.Mutex
	nextID  int
	waiters map[int]map[int]chan *types.AnalysisRecord
}

// New wires a coordinator to its collaborators and installs its GET_DATA
// responder on the router.
func New(st *store.Store, rt *router.Router, sc Scorer, host Host) *Coordinator {
	c := &Coordinator{
		store:   st,
		router:  rt,
		scorer:  sc,
		host:    host,
		waiters: make(map[int]map[int]chan *types.AnalysisRecord),
	}
	rt.HandleRequests(c.respond)
	return c
}

// OnSettle installs the history sink.
func (c *Coordinator) OnSettle(fn func(rec *types.AnalysisRecord, html string)) {
	c.record = fn
}

// Store exposes the per-tab store.
func (c *Coordinator) Store() *store.Store {
	return c.store
}

// Router exposes the message router.
func (c *Coordinator) Router() *router.Router {
	return c.router
}

// IsHTTP reports whether a URL uses an http(s) scheme. Every other scheme
// is ignored entirely and never triggers analysis.
func IsHTTP(url string) bool {
	lower := strings.ToLower(url)
	return strings.HasPrefix(lower, "http:") || strings.HasPrefix(lower, "https:")
}

// Run consumes tab lifecycle events until ctx is cancelled or the channel
// closes. Each qualifying event spawns an independent analysis; no failure
// stops the loop.
func (c *Coordinator) Run(ctx context.Context, events <-chan TabEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.handle(ctx, ev)
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, ev TabEvent) {
	switch ev.Kind {
	case TabUpdated:
		if ev.Status == "complete" && IsHTTP(ev.URL) {
			go c.Analyze(ctx, ev.TabID)
		}
	case TabActivated:
		go func() {
			url, err := c.host.TabURL(ctx, ev.TabID)
			if err != nil {
				applog.Error("tab.url", err, "tab", ev.TabID)
				return
			}
			if IsHTTP(url) {
				c.Analyze(ctx, ev.TabID)
			}
		}()
	case TabRemoved:
		c.store.Evict(ev.TabID)
		c.closeWaiters(ev.TabID)
		applog.Info("tab.evicted", "tab", ev.TabID)
	}
}

// Analyze runs one analysis for a tab: extract the rendered document,
// resolve the current URL, score, then publish. Any failure along the way
// collapses into a cleared badge and nothing else; no retry, no user-facing
// error.
func (c *Coordinator) Analyze(ctx context.Context, tabID int) {
	html, err := c.host.ExtractHTML(ctx, tabID)
	if err != nil {
		c.fail(tabID, err)
		return
	}

	url, err := c.host.TabURL(ctx, tabID)
	if err != nil {
		c.fail(tabID, err)
		return
	}

	rec, err := c.scorer.Check(ctx, url, html)
	if err != nil {
		c.fail(tabID, err)
		return
	}
	rec.TabID = tabID

	c.store.Put(tabID, rec)

	env := router.Envelope{Type: router.TypeResult, Data: rec}
	c.router.SendToTab(tabID, env)
	c.router.Publish(env)

	tier := types.TierFor(rec.RiskScore)
	if err := c.host.SetBadge(tabID, tier.Color(), types.BadgeText(rec.RiskScore)); err != nil {
		applog.Error("badge.set", err, "tab", tabID)
	}

	if c.record != nil {
		c.record(rec, html)
	}
	c.notify(tabID, rec)

	applog.Info("analyze.settled", "tab", tabID, "pct", types.Pct(rec.RiskScore), "tier", tier)
}

func (c *Coordinator) fail(tabID int, err error) {
	applog.Error("analyze.failed", err, "tab", tabID)
	if err := c.host.ClearBadgeText(tabID); err != nil {
		applog.Error("badge.clear", err, "tab", tabID)
	}
}

// respond answers GET_DATA requests. With no resolvable tab id the reply is
// nil data, resolved synchronously without touching the store.
func (c *Coordinator) respond(env router.Envelope, reply *router.Pending) {
	if env.TabID == 0 {
		reply.Resolve(nil)
		return
	}
	go func() {
		reply.Resolve(c.store.Get(env.TabID))
	}()
}

// Subscribe returns a channel that receives the next settled analysis for
// a tab (and each one after, while subscribed). The channel is closed when
// the tab goes away. Callers must call the returned function when done.
func (c *Coordinator) Subscribe(tabID int) (<-chan *types.AnalysisRecord, func()) {
	ch := make(chan *types.AnalysisRecord, 1)

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	if c.waiters[tabID] == nil {
		c.waiters[tabID] = make(map[int]chan *types.AnalysisRecord)
	}
	c.waiters[tabID][id] = ch
	c.mu.Unlock()

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.waiters[tabID][id]; ok {
			delete(c.waiters[tabID], id)
		}
	}
}

func (c *Coordinator) notify(tabID int, rec *types.AnalysisRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.waiters[tabID] {
		select {
		case ch <- rec:
		default:
		}
	}
}

func (c *Coordinator) closeWaiters(tabID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.waiters[tabID] {
		close(ch)
	}
	delete(c.waiters, tabID)
}
