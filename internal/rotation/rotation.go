// Package rotation cycles the slides of one rotation container.
//
// A Rotator moves Uninitialized -> Initialized -> Rotating and ends in
// Destroyed. Containers without slides stay Uninitialized; single-slide
// containers never schedule a transition. At most one transition timer is
// pending at any time.
package rotation

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"ad-decision-engine/internal/dom"
)

const (
	DefaultInterval = 5000 * time.Millisecond
	MinInterval     = 1000 * time.Millisecond
)

type State int

const (
	Uninitialized State = iota
	Initialized
	Rotating
	Destroyed
)

func (s State) String() string {
	switch s {
	case Initialized:
		return "initialized"
	case Rotating:
		return "rotating"
	case Destroyed:
		return "destroyed"
	default:
		return "uninitialized"
	}
}

// Tracker receives one impression request per slide activation.
type Tracker interface {
	TrackSlide(slide *dom.Element)
}

type Options struct {
	ClassPrefix    string
	Interval       time.Duration // container data-interval overrides
	StopTrackAfter time.Duration // container data-stoptrack overrides; 0 tracks forever
	FixedHeight    bool          // also enabled by the <prefix>rotate-fixed class
}

// Classes derived from the prefix.
func ContainerClass(prefix string) string { return prefix + "rotate" }
func ActiveClass(prefix string) string    { return prefix + "active" }
func FixedClass(prefix string) string     { return prefix + "rotate-fixed" }

type Rotator struct {
	mu        sync.Mutex
	clock     clock.Clock
	tracker   Tracker
	container *dom.Element
	opts      Options

	slides    []*dom.Element
	active    int
	interval  time.Duration
	stopTrack time.Duration
	startedAt time.Time
	timer     *clock.Timer
	state     State
}

func New(container *dom.Element, opts Options, clk clock.Clock, tr Tracker) *Rotator {
	if clk == nil {
		clk = clock.New()
	}
	return &Rotator{clock: clk, tracker: tr, container: container, opts: opts}
}

// Start binds to the container's slides and activates the initial slide.
// It is a no-op for containers without slides and for started rotators.
func (r *Rotator) Start() {
	r.mu.Lock()
	if r.state != Uninitialized {
		r.mu.Unlock()
		return
	}
	slides := r.container.Children()
	if len(slides) == 0 {
		r.mu.Unlock()
		return
	}
	r.slides = slides
	r.interval = clampInterval(durationAttr(r.container, "data-interval", r.opts.Interval))
	r.stopTrack = durationAttr(r.container, "data-stoptrack", r.opts.StopTrackAfter)
	if r.stopTrack < 0 {
		r.stopTrack = 0
	}
	r.active = 0
	for i, s := range slides {
		if s.HasClass(ActiveClass(r.opts.ClassPrefix)) {
			r.active = i
			break
		}
	}
	if r.opts.FixedHeight || r.container.HasClass(FixedClass(r.opts.ClassPrefix)) {
		r.applyMinHeight()
	}
	r.startedAt = r.clock.Now()
	r.state = Initialized
	track := r.activate()
	if len(r.slides) > 1 {
		r.state = Rotating
		r.schedule()
	}
	r.mu.Unlock()

	r.track(track)
}

// Next advances to the following slide and reschedules the transition.
func (r *Rotator) Next() {
	r.mu.Lock()
	if r.state != Rotating {
		r.mu.Unlock()
		return
	}
	track := r.advance()
	r.mu.Unlock()

	r.track(track)
}

// advance moves to (active+1) mod n, activates it and schedules the next
// transition. Caller holds r.mu.
func (r *Rotator) advance() *dom.Element {
	r.active = (r.active + 1) % len(r.slides)
	track := r.activate()
	r.schedule()
	return track
}

// Destroy cancels the pending transition. The rotator cannot be restarted.
func (r *Rotator) Destroy() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.state = Destroyed
}

func (r *Rotator) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Rotator) ActiveIndex() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *Rotator) Interval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interval
}

// Pending reports whether a transition timer is scheduled.
func (r *Rotator) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timer != nil
}

func (r *Rotator) Container() *dom.Element { return r.container }

// activate styles the active slide and returns it when its impression should
// be tracked. Caller holds r.mu.
func (r *Rotator) activate() *dom.Element {
	cls := ActiveClass(r.opts.ClassPrefix)
	for i, s := range r.slides {
		if i != r.active {
			s.RemoveClass(cls)
		}
	}
	cur := r.slides[r.active]
	cur.AddClass(cls)

	if r.stopTrack > 0 && r.clock.Since(r.startedAt) >= r.stopTrack {
		return nil
	}
	return cur
}

// schedule replaces any pending timer. Caller holds r.mu.
func (r *Rotator) schedule() {
	if r.timer != nil {
		r.timer.Stop()
	}
	var t *clock.Timer
	t = r.clock.AfterFunc(r.interval, func() {
		r.mu.Lock()
		if r.state != Rotating || r.timer != t {
			// superseded by Next or Destroy
			r.mu.Unlock()
			return
		}
		track := r.advance()
		r.mu.Unlock()
		r.track(track)
	})
	r.timer = t
}

func (r *Rotator) track(slide *dom.Element) {
	if slide == nil || r.tracker == nil {
		return
	}
	r.tracker.TrackSlide(slide)
}

// applyMinHeight pins the container to its tallest slide. Caller holds r.mu.
func (r *Rotator) applyMinHeight() {
	var max float64
	for _, s := range r.slides {
		if h := s.OuterHeight(); h > max {
			max = h
		}
	}
	if max > 0 {
		r.container.SetStyle("min-height", fmt.Sprintf("%gpx", max))
	}
}

// clampInterval falls back to the default for anything under MinInterval.
func clampInterval(d time.Duration) time.Duration {
	if d < MinInterval {
		return DefaultInterval
	}
	return d
}

func durationAttr(el *dom.Element, name string, def time.Duration) time.Duration {
	v, ok := el.Attr(name)
	if !ok || v == "" {
		return def
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		log.Debug().Str("attr", name).Str("value", v).Msg("ignoring non-numeric rotation override")
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
