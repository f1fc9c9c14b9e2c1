// Package tracking records impressions and clicks on rendered ads and
// forwards them to the enabled channels.
//
// Clicks on same-window links are held back until every expected channel has
// reported completion or the click timeout elapses, whichever comes first.
// Visitor counters are incremented optimistically on every attempt,
// regardless of channel outcome.
package tracking

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"ad-decision-engine/internal/dom"
	"ad-decision-engine/internal/events"
	"ad-decision-engine/internal/visitorstate"
)

const (
	DefaultClickTimeout = 3000 * time.Millisecond
	// compoundWindow keeps the per-element guard up long enough to swallow
	// the click that follows a touchend.
	compoundWindow = 500 * time.Millisecond
)

var clickEvents = []string{"click", "touchend", "auxclick"}

type Options struct {
	ClassPrefix      string // rotation containers are "<prefix>rotate"
	TrackImpressions bool
	TrackClicks      bool
	Consent          bool // analytics channels are dropped without consent
	ClickTimeout     time.Duration
}

// clickGuard is held per wrapper while a click is handled. deferred is set
// when that click suppressed native navigation, so events swallowed by the
// guard must suppress theirs too.
type clickGuard struct {
	deferred bool
}

type activeClick struct {
	pending  map[ChannelName]bool
	href     string
	wrapper  *dom.Element
	timer    *clock.Timer
	started  time.Time
	navigate bool
}

type Coordinator struct {
	opts     Options
	channels []Channel
	state    *visitorstate.Store
	bus      *events.Bus
	nav      Navigator
	clock    clock.Clock

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	unsub  []func()

	mu         sync.Mutex
	bound      map[*dom.Element]bool
	inProgress map[*dom.Element]*clickGuard
	impressed  map[*dom.Element]bool // elements already in a PageLoad batch
	active     map[string]*activeClick
}

func NewCoordinator(opts Options, channels []Channel, state *visitorstate.Store, bus *events.Bus, nav Navigator, clk clock.Clock) *Coordinator {
	if clk == nil {
		clk = clock.New()
	}
	if opts.ClickTimeout <= 0 {
		opts.ClickTimeout = DefaultClickTimeout
	}
	var enabled []Channel
	for _, ch := range channels {
		if ch.Name() == Analytics && !opts.Consent {
			continue
		}
		enabled = append(enabled, ch)
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		opts:       opts,
		channels:   enabled,
		state:      state,
		bus:        bus,
		nav:        nav,
		clock:      clk,
		ctx:        ctx,
		cancel:     cancel,
		bound:      map[*dom.Element]bool{},
		inProgress: map[*dom.Element]*clickGuard{},
		impressed:  map[*dom.Element]bool{},
		active:     map[string]*activeClick{},
	}
	c.unsub = append(c.unsub,
		events.On(bus, events.AdsLoaded, c.onAdsLoaded),
		events.On(bus, events.ClickTrackComplete, c.onClickComplete),
	)
	return c
}

// Channels returns the channels in use after the consent gate.
func (c *Coordinator) Channels() []ChannelName {
	out := make([]ChannelName, len(c.channels))
	for i, ch := range c.channels {
		out[i] = ch.Name()
	}
	return out
}

func (c *Coordinator) onAdsLoaded(e events.AdsLoadedEvent) {
	if e.Root == nil {
		return
	}
	ads := e.Root.FindAll(func(el *dom.Element) bool {
		_, ok := RefFromElement(el)
		return ok
	})
	c.TrackImpressions(c.ctx, ads, PageLoad)
	for _, el := range ads {
		c.BindAndTrackClick(el)
	}
}

// TrackSlide tracks the impression of one activated rotation slide.
func (c *Coordinator) TrackSlide(slide *dom.Element) {
	c.TrackImpressions(c.ctx, []*dom.Element{slide}, RotationSlide)
}

// TrackImpressions counts and dispatches impressions for els, skipping
// elements with impression tracking disabled and, for PageLoad batches,
// elements inside rotation containers or already counted by an earlier
// PageLoad batch. It returns the tracked refs.
func (c *Coordinator) TrackImpressions(ctx context.Context, els []*dom.Element, batch Batch) []AdRef {
	refs := c.impressionRefs(els, batch)
	if len(refs) == 0 {
		return nil
	}

	for _, r := range refs {
		if _, err := c.state.IncrementAdImpression(ctx, r.ID); err != nil {
			log.Warn().Err(err).Str("ad_id", r.ID).Msg("count impression")
		}
		if r.PlacementID != "" {
			if _, err := c.state.IncrementPlacementImpression(ctx, r.PlacementID); err != nil {
				log.Warn().Err(err).Str("placement_id", r.PlacementID).Msg("count placement impression")
			}
		}
	}

	if c.opts.TrackImpressions && len(c.channels) > 0 {
		evs := c.newEvents(Impression, refs)
		for _, ch := range c.channels {
			ch := ch
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				_ = ch.Send(c.ctx, Impression, evs)
			}()
		}
	}
	return refs
}

func (c *Coordinator) impressionRefs(els []*dom.Element, batch Batch) []AdRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	var refs []AdRef
	for _, el := range els {
		ref, ok := RefFromElement(el)
		if !ok {
			continue
		}
		if _, off := el.Attr(AttrImpressionsDisabled); off {
			continue
		}
		if batch == PageLoad {
			if c.impressed[el] || c.inRotation(el) {
				continue
			}
			c.impressed[el] = true
		}
		refs = append(refs, ref)
	}
	return refs
}

// inRotation reports whether an ancestor of el is a rotation container.
func (c *Coordinator) inRotation(el *dom.Element) bool {
	cls := c.opts.ClassPrefix + "rotate"
	for p := el.Parent(); p != nil; p = p.Parent() {
		if p.HasClass(cls) {
			return true
		}
	}
	return false
}

// BindAndTrackClick attaches capturing click, touchend and auxclick
// listeners to an ad wrapper. Binding the same element twice is a no-op.
func (c *Coordinator) BindAndTrackClick(el *dom.Element) {
	if _, ok := RefFromElement(el); !ok {
		return
	}
	if _, off := el.Attr(AttrClicksDisabled); off {
		return
	}
	c.mu.Lock()
	if c.bound[el] {
		c.mu.Unlock()
		return
	}
	c.bound[el] = true
	c.mu.Unlock()

	for _, typ := range clickEvents {
		el.AddEventListener(typ, func(ev *dom.Event) { c.handleClick(el, ev) }, true)
	}
}

func (c *Coordinator) handleClick(wrapper *dom.Element, ev *dom.Event) {
	if ev.Type == "auxclick" && ev.Button != 0 && ev.Button != 1 {
		return
	}
	ref, ok := RefFromElement(wrapper)
	if !ok {
		return
	}

	c.mu.Lock()
	if g, busy := c.inProgress[wrapper]; busy {
		// second half of a compound sequence (touchend then click)
		if g.deferred {
			ev.PreventDefault()
		}
		c.mu.Unlock()
		return
	}
	if _, busy := c.active[ref.ID]; busy {
		// another wrapper of the same ad is mid-flight; leave this click alone
		c.mu.Unlock()
		return
	}
	guard := &clickGuard{}
	c.inProgress[wrapper] = guard
	now := c.clock.Now()

	href, newTab := navigationTarget(wrapper, ev.Target)
	var channels []Channel
	if c.opts.TrackClicks {
		channels = c.channels
	}
	deferNav := len(channels) > 0 && c.nav != nil && !newTab && ev.Type != "auxclick" && resolvable(href)
	if deferNav {
		ev.PreventDefault()
		guard.deferred = true
	}

	var rec *activeClick
	if len(channels) > 0 {
		rec = &activeClick{
			pending:  map[ChannelName]bool{},
			href:     href,
			wrapper:  wrapper,
			started:  now,
			navigate: deferNav,
		}
		for _, ch := range channels {
			rec.pending[ch.Name()] = true
		}
		c.active[ref.ID] = rec
		rec.timer = c.clock.AfterFunc(c.opts.ClickTimeout, func() { c.finish(ref.ID, rec, "timeout") })
	}
	c.mu.Unlock()

	if _, err := c.state.IncrementAdClick(c.ctx, ref.ID); err != nil {
		log.Warn().Err(err).Str("ad_id", ref.ID).Msg("count click")
	}

	if rec == nil {
		c.releaseGuard(wrapper, now)
		return
	}

	evs := c.newEvents(Click, []AdRef{ref})
	for _, ch := range channels {
		ch := ch
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			err := ch.Send(c.ctx, Click, evs)
			c.bus.Publish(events.ClickTrackComplete, events.ClickTrackCompleteEvent{
				AdID:    ref.ID,
				Channel: string(ch.Name()),
				Err:     err,
			})
		}()
	}
}

func (c *Coordinator) onClickComplete(e events.ClickTrackCompleteEvent) {
	c.mu.Lock()
	rec, ok := c.active[e.AdID]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(rec.pending, ChannelName(e.Channel))
	done := len(rec.pending) == 0
	c.mu.Unlock()

	if done {
		c.finish(e.AdID, rec, "complete")
	}
}

// finish runs at most once per record: the first of completion and timeout
// wins, clears the record and performs the deferred navigation.
func (c *Coordinator) finish(adID string, rec *activeClick, reason string) {
	c.mu.Lock()
	if c.active[adID] != rec {
		c.mu.Unlock()
		return
	}
	delete(c.active, adID)
	rec.timer.Stop()
	c.mu.Unlock()

	log.Debug().Str("ad_id", adID).Str("reason", reason).Bool("navigate", rec.navigate).Msg("click tracking finished")
	c.releaseGuard(rec.wrapper, rec.started)
	if rec.navigate && c.nav != nil {
		c.nav.Navigate(rec.href)
	}
}

// releaseGuard clears the per-element guard once the compound window since
// the click has passed.
func (c *Coordinator) releaseGuard(wrapper *dom.Element, started time.Time) {
	release := func() {
		c.mu.Lock()
		delete(c.inProgress, wrapper)
		c.mu.Unlock()
	}
	if left := compoundWindow - c.clock.Since(started); left > 0 {
		c.clock.AfterFunc(left, release)
		return
	}
	release()
}

// InProgress reports whether a click on wrapper is still being handled.
func (c *Coordinator) InProgress(wrapper *dom.Element) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inProgress[wrapper]
	return ok
}

// Pending reports whether a click record exists for adID.
func (c *Coordinator) Pending(adID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[adID]
	return ok
}

// Wait blocks until all dispatches started so far have returned.
func (c *Coordinator) Wait() { c.wg.Wait() }

// Close unsubscribes from the bus, cancels in-flight dispatches and drops
// pending click records without navigating.
func (c *Coordinator) Close() {
	for _, u := range c.unsub {
		u()
	}
	c.cancel()
	c.mu.Lock()
	for id, rec := range c.active {
		rec.timer.Stop()
		delete(c.active, id)
	}
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Coordinator) newEvents(action Action, refs []AdRef) []Event {
	now := c.clock.Now()
	out := make([]Event, len(refs))
	for i, r := range refs {
		out[i] = Event{ID: uuid.NewString(), AdID: r.ID, Type: action, Title: r.Title, Timestamp: now}
	}
	return out
}

// navigationTarget walks from the event target up to the wrapper and returns
// the href of the nearest anchor and whether it opens a new tab. Iframes and
// buttons are click targets without a navigable href.
func navigationTarget(wrapper, target *dom.Element) (href string, newTab bool) {
	if target == nil || !wrapper.Contains(target) {
		target = wrapper
	}
	el := target.Closest(wrapper, func(e *dom.Element) bool {
		switch e.Tag() {
		case "a", "iframe", "button":
			return true
		}
		return false
	})
	if el == nil || el.Tag() != "a" {
		return "", false
	}
	href, _ = el.Attr("href")
	t, _ := el.Attr("target")
	return strings.TrimSpace(href), strings.EqualFold(t, "_blank")
}

func resolvable(href string) bool {
	if href == "" || strings.HasPrefix(href, "#") {
		return false
	}
	return !strings.HasPrefix(strings.ToLower(href), "javascript:")
}
