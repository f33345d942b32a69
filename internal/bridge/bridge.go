// Package bridge is the websocket link to the thin browser extension. The
// extension forwards tab lifecycle signals and executes host effects (badge,
// document extraction, in-page delivery, reload) on request; everything
// else lives on this side. One extension connection at a time; a new
// connection replaces the old.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/sahir247/phishlens/internal/applog"
	"github.com/sahir247/phishlens/internal/coordinator"
	"github.com/sahir247/phishlens/internal/popup"
	"github.com/sahir247/phishlens/internal/router"
)

// DefaultPort is where the daemon listens for the extension.
const DefaultPort = 19333

// commandTimeout bounds how long a correlated command (extract, queryTab)
// waits for its reply.
const commandTimeout = 15 * time.Second

// incomingMsg is a message from the extension.
type incomingMsg struct {
	Type   string `json:"type"`
	TabID  int    `json:"tabId,omitempty"`
	URL    string `json:"url,omitempty"`
	Status string `json:"status,omitempty"`
	// Command reply fields
	ID      string `json:"id,omitempty"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// outgoingMsg is a command to the extension. ID is set only on commands
// that await a reply.
type outgoingMsg struct {
	ID      string           `json:"id,omitempty"`
	Action  string           `json:"action"`
	TabID   int              `json:"tabId,omitempty"`
	Color   string           `json:"color,omitempty"`
	Text    string           `json:"text"`
	Message *router.Envelope `json:"message,omitempty"`
	View    *popup.View      `json:"view,omitempty"`
}

// Bridge accepts the extension connection and implements the coordinator's
// Host surface over it.
type Bridge struct {
	port   int
	events chan coordinator.TabEvent

	mu      sync.Mutex
	conn    *websocket.Conn
	connCtx context.Context
	nextCmd int
	pending map[string]chan incomingMsg

	popup *popup.Client
}

// New creates a bridge. Port 0 means the caller manages the listener.
func New(port int) *Bridge {
	return &Bridge{
		port:    port,
		events:  make(chan coordinator.TabEvent, 64),
		pending: make(map[string]chan incomingMsg),
	}
}

// Events returns the tab lifecycle event stream for the coordinator.
func (b *Bridge) Events() <-chan coordinator.TabEvent {
	return b.events
}

// SetPopup wires the popup client used to answer the extension popup's
// open/explain/refresh messages.
func (b *Bridge) SetPopup(p *popup.Client) {
	b.mu.Lock()
	b.popup = p
	b.mu.Unlock()
}

// Connected reports whether an extension is connected.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

// ForwardPush relays a router push to the live content script. Installed
// as the router's forwarder; silently dropped when disconnected, matching
// fire-and-forget push semantics.
func (b *Bridge) ForwardPush(tabID int, env router.Envelope) {
	if err := b.send(outgoingMsg{Action: "deliver", TabID: tabID, Message: &env}); err != nil {
		applog.Error("bridge.deliver", err, "tab", tabID)
	}
}

// ExtractHTML asks the extension for the tab's rendered document.
func (b *Bridge) ExtractHTML(ctx context.Context, tabID int) (string, error) {
	reply, err := b.command(ctx, outgoingMsg{Action: "extract", TabID: tabID})
	if err != nil {
		return "", fmt.Errorf("extract tab %d: %w", tabID, err)
	}
	return reply.Content, nil
}

// TabURL resolves the tab's current address.
func (b *Bridge) TabURL(ctx context.Context, tabID int) (string, error) {
	reply, err := b.command(ctx, outgoingMsg{Action: "queryTab", TabID: tabID})
	if err != nil {
		return "", fmt.Errorf("query tab %d: %w", tabID, err)
	}
	return reply.URL, nil
}

// SetBadge sets a tab's badge color and text.
func (b *Bridge) SetBadge(tabID int, color, text string) error {
	return b.send(outgoingMsg{Action: "badge", TabID: tabID, Color: color, Text: text})
}

// ClearBadgeText blanks a tab's badge text.
func (b *Bridge) ClearBadgeText(tabID int) error {
	return b.send(outgoingMsg{Action: "clearBadge", TabID: tabID})
}

// Reload reloads a tab.
func (b *Bridge) Reload(tabID int) error {
	return b.send(outgoingMsg{Action: "reload", TabID: tabID})
}

// send writes a fire-and-forget command. No connection is not an error:
// the effect is simply dropped, like a push with no listener.
func (b *Bridge) send(msg outgoingMsg) error {
	b.mu.Lock()
	conn := b.conn
	ctx := b.connCtx
	b.mu.Unlock()

	if conn == nil {
		return nil
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// command writes a correlated command and waits for its single reply.
func (b *Bridge) command(ctx context.Context, msg outgoingMsg) (incomingMsg, error) {
	b.mu.Lock()
	conn := b.conn
	connCtx := b.connCtx
	if conn == nil {
		b.mu.Unlock()
		return incomingMsg{}, fmt.Errorf("no extension connected")
	}
	b.nextCmd++
	msg.ID = "cmd-" + strconv.Itoa(b.nextCmd)
	ch := make(chan incomingMsg, 1)
	b.pending[msg.ID] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, msg.ID)
		b.mu.Unlock()
	}()

	data, err := json.Marshal(msg)
	if err != nil {
		return incomingMsg{}, err
	}
	if err := conn.Write(connCtx, websocket.MessageText, data); err != nil {
		return incomingMsg{}, err
	}

	timer := time.NewTimer(commandTimeout)
	defer timer.Stop()
	select {
	case reply := <-ch:
		if reply.Error != "" {
			return incomingMsg{}, fmt.Errorf("extension: %s", reply.Error)
		}
		return reply, nil
	case <-timer.C:
		return incomingMsg{}, fmt.Errorf("command %s timed out", msg.Action)
	case <-ctx.Done():
		return incomingMsg{}, ctx.Err()
	}
}

// Handler returns an http.Handler that accepts websocket upgrades.
func (b *Bridge) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			applog.Error("ws.accept", err)
			return
		}

		conn.SetReadLimit(16 << 20) // extracted documents can be large

		ctx := r.Context()
		b.mu.Lock()
		if b.conn != nil {
			applog.Info("ws.replaced")
			b.conn.CloseNow()
		}
		b.conn = conn
		b.connCtx = ctx
		b.mu.Unlock()

		applog.Info("ws.connected", "remote", r.RemoteAddr)

		defer func() {
			b.mu.Lock()
			if b.conn == conn {
				b.conn = nil
				b.connCtx = nil
			}
			b.mu.Unlock()
			conn.CloseNow()
			applog.Info("ws.disconnected")
		}()

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var msg incomingMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				applog.Error("ws.parse", err)
				continue
			}
			b.dispatch(ctx, msg)
		}
	})
}

func (b *Bridge) dispatch(ctx context.Context, msg incomingMsg) {
	switch msg.Type {
	case "tabUpdated":
		b.emit(coordinator.TabEvent{Kind: coordinator.TabUpdated, TabID: msg.TabID, URL: msg.URL, Status: msg.Status})
	case "tabActivated":
		b.emit(coordinator.TabEvent{Kind: coordinator.TabActivated, TabID: msg.TabID})
	case "tabRemoved":
		b.emit(coordinator.TabEvent{Kind: coordinator.TabRemoved, TabID: msg.TabID})
	case "popupOpen", "popupExplain", "popupRefresh":
		b.handlePopup(ctx, msg)
	default:
		// Command replies carry an id instead of a semantic type.
		if msg.ID != "" {
			b.resolve(msg)
			return
		}
		applog.Info("ws.unknown", "type", msg.Type)
	}
}

func (b *Bridge) emit(ev coordinator.TabEvent) {
	applog.Info("tab.event", "kind", ev.Kind, "tab", ev.TabID)
	select {
	case b.events <- ev:
	default:
	}
}

func (b *Bridge) resolve(msg incomingMsg) {
	b.mu.Lock()
	ch := b.pending[msg.ID]
	b.mu.Unlock()
	if ch != nil {
		ch <- msg
	}
}

// handlePopup services the extension popup. Replies go back over the
// socket correlated by the popup's own id.
func (b *Bridge) handlePopup(ctx context.Context, msg incomingMsg) {
	b.mu.Lock()
	p := b.popup
	b.mu.Unlock()
	if p == nil {
		return
	}

	kind := msg.Type
	id := msg.ID
	tabID := msg.TabID
	go func() {
		var v popup.View
		switch kind {
		case "popupOpen":
			v = p.Open(ctx, tabID)
		case "popupExplain":
			p.Explain(ctx, tabID)
			v = p.Open(ctx, tabID)
		case "popupRefresh":
			v = p.Refresh(ctx, tabID)
		}
		if err := b.send(outgoingMsg{ID: id, Action: "popupView", TabID: tabID, View: &v}); err != nil {
			applog.Error("bridge.popup", err, "tab", tabID)
		}
	}()
}

// ListenAndServe starts the bridge on its configured port.
func (b *Bridge) ListenAndServe(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/", b.Handler())

	addr := fmt.Sprintf("127.0.0.1:%d", b.port)
	applog.Info("bridge.start", "addr", addr)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	return srv.ListenAndServe()
}
