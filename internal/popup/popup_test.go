package popup

import (
	"context"
	"testing"
	"time"

	"github.com/sahir247/phishlens/internal/router"
	"github.com/sahir247/phishlens/internal/store"
	"github.com/sahir247/phishlens/internal/types"
)

type fakeReloader struct {
	reloaded chan int
}

func (f *fakeReloader) Reload(tabID int) error {
	f.reloaded <- tabID
	return nil
}

// storeResponder answers GET_DATA from a store, like the coordinator does.
func storeResponder(rt *router.Router, st *store.Store) {
	rt.HandleRequests(func(env router.Envelope, reply *router.Pending) {
		if env.TabID == 0 {
			reply.Resolve(nil)
			return
		}
		reply.Resolve(st.Get(env.TabID))
	})
}

func TestOpenEmptyState(t *testing.T) {
	rt := router.New()
	storeResponder(rt, store.New())
	c := New(rt, &fakeReloader{reloaded: make(chan int, 1)}, nil)

	v := c.Open(context.Background(), 7)
	if v.HasData {
		t.Errorf("view = %+v, want empty state", v)
	}
}

func TestOpenRendersRecord(t *testing.T) {
	rt := router.New()
	st := store.New()
	storeResponder(rt, st)
	st.Put(7, &types.AnalysisRecord{
		RiskScore: 0.92,
		Reasons:   []string{"lookalike domain", "recent registration"},
		Meta:      types.Meta{Domain: "example.com"},
	})
	c := New(rt, &fakeReloader{reloaded: make(chan int, 1)}, nil)

	v := c.Open(context.Background(), 7)
	if !v.HasData || v.Pct != 92 || v.Tier != types.TierDanger || v.Domain != "example.com" {
		t.Errorf("view = %+v", v)
	}
	if len(v.Reasons) != 2 || v.Reasons[0] != "lookalike domain" {
		t.Errorf("reasons = %v", v.Reasons)
	}
}

func TestExplainPushesResultThenApply(t *testing.T) {
	rt := router.New()
	st := store.New()
	storeResponder(rt, st)
	st.Put(4, &types.AnalysisRecord{RiskScore: 0.8, Highlights: []string{"#login-form"}})

	var got []router.Envelope
	rt.ListenTab(4, func(env router.Envelope) { got = append(got, env) })

	c := New(rt, &fakeReloader{reloaded: make(chan int, 1)}, nil)
	c.Explain(context.Background(), 4)

	if len(got) != 2 {
		t.Fatalf("pushed %d messages, want 2", len(got))
	}
	if got[0].Type != router.TypeResult || got[0].Data == nil {
		t.Errorf("first push = %+v, want RESULT", got[0])
	}
	if got[1].Type != router.TypeApply || len(got[1].Selectors) != 1 {
		t.Errorf("second push = %+v, want APPLY with selectors", got[1])
	}
}

func TestExplainNoRecordIsNoOp(t *testing.T) {
	rt := router.New()
	storeResponder(rt, store.New())
	rt.ListenTab(4, func(env router.Envelope) { t.Errorf("unexpected push %+v", env) })

	c := New(rt, &fakeReloader{reloaded: make(chan int, 1)}, nil)
	c.Explain(context.Background(), 4)
}

func TestRefreshWaitsForSettle(t *testing.T) {
	rt := router.New()
	st := store.New()
	storeResponder(rt, st)

	rel := &fakeReloader{reloaded: make(chan int, 1)}
	settled := make(chan *types.AnalysisRecord, 1)
	c := New(rt, rel, func(tabID int) (<-chan *types.AnalysisRecord, func()) {
		return settled, func() {}
	})
	c.refreshWait = 5 * time.Second // fallback must not be what unblocks us

	done := make(chan View, 1)
	go func() { done <- c.Refresh(context.Background(), 2) }()

	if tab := <-rel.reloaded; tab != 2 {
		t.Fatalf("reloaded tab %d, want 2", tab)
	}

	// Simulate the re-analysis landing.
	st.Put(2, &types.AnalysisRecord{RiskScore: 0.3})
	settled <- st.Get(2)

	select {
	case v := <-done:
		if !v.HasData || v.Pct != 30 {
			t.Errorf("view = %+v", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Refresh did not return after settle notification")
	}
}

func TestRefreshFallsBackToDelay(t *testing.T) {
	rt := router.New()
	storeResponder(rt, store.New())

	rel := &fakeReloader{reloaded: make(chan int, 1)}
	c := New(rt, rel, nil)
	c.refreshWait = 20 * time.Millisecond

	v := c.Refresh(context.Background(), 3)
	<-rel.reloaded
	// No analysis ever settled: empty state, not a hang.
	if v.HasData {
		t.Errorf("view = %+v, want empty state", v)
	}
}
