// Package page runs the client side of ad delivery against one document:
// rotation containers, impression and click tracking, and visitor state
// bookkeeping for the page view.
package page

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"ad-decision-engine/internal/dom"
	"ad-decision-engine/internal/events"
	"ad-decision-engine/internal/rotation"
	"ad-decision-engine/internal/tracking"
	"ad-decision-engine/internal/visitorstate"
)

var ErrNoBody = errors.New("document has no body")

type Options struct {
	ClassPrefix string
	Rotation    rotation.Options
	Tracking    tracking.Options
}

type Deps struct {
	Clock    clock.Clock
	State    *visitorstate.Store
	Channels []tracking.Channel
	// Navigator performs deferred navigations. Without one, clicks are
	// tracked but never hold back native navigation.
	Navigator tracking.Navigator
}

// Visit is what the browser knows about the current page view.
type Visit struct {
	Referrer      string
	ViewportWidth int
	Language      string
}

type Runtime struct {
	doc   *dom.Document
	opts  Options
	clock clock.Clock
	state *visitorstate.Store
	bus   *events.Bus
	coord *tracking.Coordinator

	mu       sync.Mutex
	ready    bool
	unloaded bool
	rotators []*rotation.Rotator
	rotating map[*dom.Element]bool // containers that already have a rotator
}

func New(doc *dom.Document, opts Options, deps Deps) *Runtime {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.State == nil {
		deps.State = visitorstate.New(visitorstate.NewMemoryBackend(deps.Clock), "", 0)
	}
	if opts.ClassPrefix == "" {
		opts.ClassPrefix = "adcmdr-"
	}
	opts.Rotation.ClassPrefix = opts.ClassPrefix
	opts.Tracking.ClassPrefix = opts.ClassPrefix

	bus := events.NewBus()
	return &Runtime{
		doc:      doc,
		opts:     opts,
		clock:    deps.Clock,
		state:    deps.State,
		bus:      bus,
		coord:    tracking.NewCoordinator(opts.Tracking, deps.Channels, deps.State, bus, deps.Navigator, deps.Clock),
		rotating: map[*dom.Element]bool{},
	}
}

// Ready records the page view, starts every rotation container and announces
// the loaded ads. Calls after the first are no-ops.
func (r *Runtime) Ready(ctx context.Context, v Visit) error {
	r.mu.Lock()
	if r.ready || r.unloaded {
		r.mu.Unlock()
		return nil
	}
	r.ready = true
	r.mu.Unlock()

	body := r.doc.Body()
	if body == nil {
		return ErrNoBody
	}

	if _, err := r.state.IncrementSiteImpressions(ctx); err != nil {
		log.Warn().Err(err).Msg("count site impression")
	}
	if _, err := r.state.SetReferrerOnce(ctx, v.Referrer); err != nil {
		log.Warn().Err(err).Msg("store referrer")
	}
	if v.ViewportWidth > 0 {
		if err := r.state.SetViewportWidth(ctx, v.ViewportWidth); err != nil {
			log.Warn().Err(err).Msg("store viewport width")
		}
	}
	if v.Language != "" {
		if err := r.state.SetBrowserLanguage(ctx, v.Language); err != nil {
			log.Warn().Err(err).Msg("store browser language")
		}
	}

	r.startRotators(body)
	r.bus.Publish(events.AdsLoaded, events.AdsLoadedEvent{Root: body})
	return nil
}

// InsertAds appends markup to parent the way an AJAX placement fill does and
// returns the inserted top-level elements. Only the new elements are tracked;
// a later Ready neither restarts their rotators nor counts them again.
func (r *Runtime) InsertAds(ctx context.Context, parent *dom.Element, markup string) ([]*dom.Element, error) {
	r.mu.Lock()
	unloaded := r.unloaded
	r.mu.Unlock()
	if unloaded {
		return nil, nil
	}

	added, err := parent.AppendHTML(markup)
	if err != nil {
		return nil, fmt.Errorf("insert ads: %w", err)
	}
	for _, el := range added {
		r.startRotators(el)
	}
	for _, el := range added {
		r.bus.Publish(events.AdsLoaded, events.AdsLoadedEvent{Root: el})
	}
	log.Debug().Int("elements", len(added)).Msg("ads inserted")
	return added, nil
}

func (r *Runtime) startRotators(root *dom.Element) {
	cls := rotation.ContainerClass(r.opts.ClassPrefix)
	containers := root.FindAll(func(e *dom.Element) bool { return e.HasClass(cls) })

	for _, c := range containers {
		r.mu.Lock()
		if r.unloaded || r.rotating[c] {
			r.mu.Unlock()
			continue
		}
		r.rotating[c] = true
		rot := rotation.New(c, r.opts.Rotation, r.clock, r.coord)
		r.rotators = append(r.rotators, rot)
		r.mu.Unlock()

		rot.Start()
	}
}

// Unload tears the page down: every rotation timer is cancelled and pending
// click records are dropped.
func (r *Runtime) Unload() {
	r.mu.Lock()
	if r.unloaded {
		r.mu.Unlock()
		return
	}
	r.unloaded = true
	rots := r.rotators
	r.rotators = nil
	r.mu.Unlock()

	for _, rot := range rots {
		rot.Destroy()
	}
	r.coord.Close()
}

func (r *Runtime) Rotators() []*rotation.Rotator {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*rotation.Rotator(nil), r.rotators...)
}

func (r *Runtime) Coordinator() *tracking.Coordinator { return r.coord }

func (r *Runtime) Bus() *events.Bus { return r.bus }

func (r *Runtime) State() *visitorstate.Store { return r.state }
