package page

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ad-decision-engine/internal/dom"
	"ad-decision-engine/internal/rotation"
	"ad-decision-engine/internal/tracking"
	"ad-decision-engine/internal/visitorstate"
)

const pageMarkup = `<body>
	<div id="slot1" data-t-id="a1" data-t-pid="p1"><a id="l1" href="https://example.com/a1">a1</a></div>
	<div class="adcmdr-rotate" data-interval="2000">
		<div data-t-id="a2"></div>
		<div data-t-id="a3"></div>
	</div>
	<div id="ajax"></div>
</body>`

type recChannel struct {
	mu    sync.Mutex
	count int
}

func (c *recChannel) Name() tracking.ChannelName { return tracking.Local }

func (c *recChannel) Send(context.Context, tracking.Action, []tracking.Event) error {
	c.mu.Lock()
	c.count++
	c.mu.Unlock()
	return nil
}

type navRec struct {
	mu    sync.Mutex
	hrefs []string
}

func (n *navRec) Navigate(href string) {
	n.mu.Lock()
	n.hrefs = append(n.hrefs, href)
	n.mu.Unlock()
}

func (n *navRec) visited() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.hrefs...)
}

func newRuntime(t *testing.T, state *visitorstate.Store) (*Runtime, *dom.Document, *clock.Mock, *navRec) {
	t.Helper()
	doc, err := dom.ParseString(pageMarkup)
	require.NoError(t, err)
	clk := clock.NewMock()
	if state == nil {
		state = visitorstate.New(visitorstate.NewMemoryBackend(clk), "adcmdr_", 0)
	}
	nav := &navRec{}
	rt := New(doc, Options{
		Tracking: tracking.Options{TrackImpressions: true, TrackClicks: true},
	}, Deps{Clock: clk, State: state, Channels: []tracking.Channel{&recChannel{}}, Navigator: nav})
	t.Cleanup(rt.Unload)
	return rt, doc, clk, nav
}

func byID(t *testing.T, doc *dom.Document, id string) *dom.Element {
	t.Helper()
	els := doc.FindAll(func(e *dom.Element) bool {
		v, _ := e.Attr("id")
		return v == id
	})
	require.Len(t, els, 1)
	return els[0]
}

func TestRuntime_Ready(t *testing.T) {
	rt, _, _, _ := newRuntime(t, nil)
	ctx := context.Background()

	require.NoError(t, rt.Ready(ctx, Visit{Referrer: "https://search.example", ViewportWidth: 1280, Language: "de"}))
	rt.Coordinator().Wait()

	st := rt.State().Snapshot(ctx)
	assert.Equal(t, 1, st.SiteImpressions)
	assert.Equal(t, "https://search.example", st.Referrer)
	assert.Equal(t, 1280, st.ViewportWidth)
	assert.Equal(t, "de", st.BrowserLanguage)
	assert.Equal(t, map[string]int{"a1": 1, "a2": 1}, st.AdImpressions)
	assert.Equal(t, map[string]int{"p1": 1}, st.PlacementImpressions)

	require.Len(t, rt.Rotators(), 1)
	assert.Equal(t, rotation.Rotating, rt.Rotators()[0].State())
	assert.Equal(t, 2*time.Second, rt.Rotators()[0].Interval())

	require.NoError(t, rt.Ready(ctx, Visit{}))
	assert.Equal(t, 1, rt.State().SiteImpressions(ctx))
}

func TestRuntime_ReferrerIsFirstTouch(t *testing.T) {
	state := visitorstate.New(visitorstate.NewMemoryBackend(clock.NewMock()), "adcmdr_", 0)
	ctx := context.Background()

	first, _, _, _ := newRuntime(t, state)
	require.NoError(t, first.Ready(ctx, Visit{Referrer: "https://first.example"}))
	second, _, _, _ := newRuntime(t, state)
	require.NoError(t, second.Ready(ctx, Visit{Referrer: "https://second.example"}))

	assert.Equal(t, "https://first.example", state.Referrer(ctx))
	assert.Equal(t, 2, state.SiteImpressions(ctx))
}

func TestRuntime_RotationTracksEachSlide(t *testing.T) {
	rt, _, clk, _ := newRuntime(t, nil)
	ctx := context.Background()
	require.NoError(t, rt.Ready(ctx, Visit{}))

	clk.Add(2 * time.Second)
	assert.Eventually(t, func() bool { return rt.State().AdImpressions(ctx, "a3") == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, rt.State().AdImpressions(ctx, "a2"))
}

func TestRuntime_InsertAdsTracksOnlyNewElements(t *testing.T) {
	rt, doc, _, nav := newRuntime(t, nil)
	ctx := context.Background()
	require.NoError(t, rt.Ready(ctx, Visit{}))

	added, err := rt.InsertAds(ctx, byID(t, doc, "ajax"),
		`<div data-t-id="a9"><a id="l9" href="https://example.com/a9">a9</a></div>
		 <div class="adcmdr-rotate"><div data-t-id="a10"></div></div>`)
	require.NoError(t, err)
	assert.Len(t, added, 2)
	rt.Coordinator().Wait()

	assert.Equal(t, 1, rt.State().AdImpressions(ctx, "a1"))
	assert.Equal(t, 1, rt.State().AdImpressions(ctx, "a9"))
	assert.Equal(t, 1, rt.State().AdImpressions(ctx, "a10"))
	assert.Len(t, rt.Rotators(), 2)

	assert.True(t, byID(t, doc, "l9").Dispatch(&dom.Event{Type: "click"}))
	assert.Eventually(t, func() bool { return len(nav.visited()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "https://example.com/a9", nav.visited()[0])
}

func TestRuntime_UnloadStopsRotation(t *testing.T) {
	rt, _, clk, _ := newRuntime(t, nil)
	ctx := context.Background()
	require.NoError(t, rt.Ready(ctx, Visit{}))
	rots := rt.Rotators()

	rt.Unload()
	for _, r := range rots {
		assert.Equal(t, rotation.Destroyed, r.State())
		assert.False(t, r.Pending())
	}
	clk.Add(10 * time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, rt.State().AdImpressions(ctx, "a3"))

	added, err := rt.InsertAds(ctx, rots[0].Container(), `<div data-t-id="a11"></div>`)
	assert.NoError(t, err)
	assert.Nil(t, added)
}

func TestRuntime_InsertBeforeReadyCountsOnce(t *testing.T) {
	rt, doc, _, _ := newRuntime(t, nil)
	ctx := context.Background()

	_, err := rt.InsertAds(ctx, byID(t, doc, "ajax"),
		`<div data-t-id="a9"></div><div class="adcmdr-rotate"><div data-t-id="r1"></div><div data-t-id="r2"></div></div>`)
	require.NoError(t, err)
	require.NoError(t, rt.Ready(ctx, Visit{}))
	rt.Coordinator().Wait()

	assert.Equal(t, 1, rt.State().AdImpressions(ctx, "a9"))
	assert.Equal(t, 1, rt.State().AdImpressions(ctx, "r1"))
	assert.Equal(t, 1, rt.State().AdImpressions(ctx, "a1"))
	assert.Len(t, rt.Rotators(), 2)
	for _, r := range rt.Rotators() {
		assert.True(t, r.Pending())
	}
}
