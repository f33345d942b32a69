// Package router carries typed messages between the coordinator, the page
// presenter, and the popup client. It offers two protocols over one
// surface: fire-and-forget pushes addressed by tab id (or broadcast), and a
// GET_DATA request/response pair whose responder may answer asynchronously.
package router

import (
	"context"
	"sync"

	"github.com/sahir247/phishlens/internal/types"
)

// Type discriminates message envelopes. The names are the extension's wire
// message types.
type Type string

const (
	TypeResult  Type = "PHISHLENS_RESULT"
	TypeApply   Type = "PHISHLENS_APPLY"
	TypeGetData Type = "PHISHLENS_GET_DATA"
)

// Envelope is a transient message. RESULT carries Data, APPLY carries
// Selectors, GET_DATA carries an optional explicit TabID.
type Envelope struct {
	Type      Type                  `json:"type"`
	TabID     int                   `json:"tabId,omitempty"`
	Data      *types.AnalysisRecord `json:"data,omitempty"`
	Selectors []string              `json:"selectors,omitempty"`
}

// Reply is the single response to a GET_DATA request. Data is nil when no
// record exists or no tab id could be resolved.
type Reply struct {
	Data *types.AnalysisRecord `json:"data"`
}

// Handler receives pushed envelopes.
type Handler func(Envelope)

// RespondFunc answers GET_DATA requests. The handler may resolve the
// Pending immediately or from another goroutine after a store read; either
// way exactly one reply reaches the requester.
type RespondFunc func(env Envelope, reply *Pending)

// Pending is a deferred reply slot for one request.
type Pending struct {
	once sync.Once
	ch   chan Reply
}

func newPending() *Pending {
	return &Pending{ch: make(chan Reply, 1)}
}

// Resolve delivers the reply. Calls after the first are ignored.
func (p *Pending) Resolve(data *types.AnalysisRecord) {
	p.once.Do(func() {
		p.ch <- Reply{Data: data}
	})
}

// Router routes envelopes between in-process listeners and an optional
// forwarder (the bridge relaying to real content scripts).
type Router struct {
	mu      sync.RWMutex
	nextID  int
	tabs    map[int]map[int]Handler
	local   map[int]Handler
	forward func(tabID int, env Envelope)
	respond RespondFunc
}

// New returns an empty router.
func New() *Router {
	return &Router{
		tabs:  make(map[int]map[int]Handler),
		local: make(map[int]Handler),
	}
}

// ListenTab registers a handler for pushes addressed to one tab. The
// returned function unsubscribes.
func (r *Router) ListenTab(tabID int, h Handler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	if r.tabs[tabID] == nil {
		r.tabs[tabID] = make(map[int]Handler)
	}
	r.tabs[tabID][id] = h
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.tabs[tabID], id)
	}
}

// Listen registers a broadcast listener for Publish.
func (r *Router) Listen(h Handler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.local[id] = h
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.local, id)
	}
}

// Forward installs a tap that also receives every SendToTab push, used by
// the bridge to relay messages to the live content script.
func (r *Router) Forward(fn func(tabID int, env Envelope)) {
	r.mu.Lock()
	r.forward = fn
	r.mu.Unlock()
}

// HandleRequests installs the GET_DATA responder. Only one responder is
// supported; the last registration wins.
func (r *Router) HandleRequests(fn RespondFunc) {
	r.mu.Lock()
	r.respond = fn
	r.mu.Unlock()
}

// SendToTab pushes an envelope at one tab's listeners. Delivery to a tab
// with no listener and no forwarder is silently dropped; no acknowledgement
// exists for pushes.
func (r *Router) SendToTab(tabID int, env Envelope) {
	env.TabID = tabID
	r.mu.RLock()
	hs := make([]Handler, 0, len(r.tabs[tabID]))
	for _, h := range r.tabs[tabID] {
		hs = append(hs, h)
	}
	fwd := r.forward
	r.mu.RUnlock()

	for _, h := range hs {
		h(env)
	}
	if fwd != nil {
		fwd(tabID, env)
	}
}

// Publish fans an envelope out to every broadcast listener in this process.
func (r *Router) Publish(env Envelope) {
	r.mu.RLock()
	hs := make([]Handler, 0, len(r.local))
	for _, h := range r.local {
		hs = append(hs, h)
	}
	r.mu.RUnlock()

	for _, h := range hs {
		h(env)
	}
}

// Request sends a GET_DATA envelope and blocks for its single reply. When
// env.TabID is zero the sender's own tab id is substituted, mirroring "the
// tab I am running in". A nil-data reply is returned when the responder
// resolves nothing, no responder is installed, or ctx expires first.
func (r *Router) Request(ctx context.Context, env Envelope, senderTab int) Reply {
	env.Type = TypeGetData
	if env.TabID == 0 {
		env.TabID = senderTab
	}

	r.mu.RLock()
	fn := r.respond
	r.mu.RUnlock()
	if fn == nil {
		return Reply{}
	}

	p := newPending()
	fn(env, p)

	select {
	case rep := <-p.ch:
		return rep
	case <-ctx.Done():
		return Reply{}
	}
}
