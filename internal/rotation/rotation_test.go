package rotation

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ad-decision-engine/internal/dom"
)

type recTracker struct {
	mu  sync.Mutex
	ids []string
}

func (t *recTracker) TrackSlide(s *dom.Element) {
	id, _ := s.Attr("data-t-id")
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ids = append(t.ids, id)
}

func (t *recTracker) tracked() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.ids...)
}

const opts = "adcmdr-"

func container(t *testing.T, markup string) *dom.Element {
	t.Helper()
	d, err := dom.ParseString("<body>" + markup + "</body>")
	require.NoError(t, err)
	els := d.FindAll(func(e *dom.Element) bool { return e.HasClass(ContainerClass(opts)) })
	require.Len(t, els, 1)
	return els[0]
}

func activeIDs(c *dom.Element) []string {
	var out []string
	for _, s := range c.Children() {
		if s.HasClass(ActiveClass(opts)) {
			id, _ := s.Attr("data-t-id")
			out = append(out, id)
		}
	}
	return out
}

func waitActive(t *testing.T, r *Rotator, want int) {
	t.Helper()
	assert.Eventually(t, func() bool { return r.ActiveIndex() == want }, time.Second, time.Millisecond)
}

func TestRotator_ZeroSlidesIsInert(t *testing.T) {
	clk := clock.NewMock()
	tr := &recTracker{}
	r := New(container(t, `<div class="adcmdr-rotate"></div>`), Options{ClassPrefix: opts}, clk, tr)
	r.Start()

	assert.Equal(t, Uninitialized, r.State())
	assert.False(t, r.Pending())
	assert.Empty(t, tr.tracked())
}

func TestRotator_SingleSlideNeverSchedules(t *testing.T) {
	clk := clock.NewMock()
	tr := &recTracker{}
	c := container(t, `<div class="adcmdr-rotate"><div data-t-id="1"></div></div>`)
	r := New(c, Options{ClassPrefix: opts}, clk, tr)
	r.Start()

	assert.Equal(t, Initialized, r.State())
	assert.False(t, r.Pending())
	assert.Equal(t, []string{"1"}, activeIDs(c))
	assert.Equal(t, []string{"1"}, tr.tracked())

	clk.Add(time.Minute)
	r.Next()
	assert.Equal(t, []string{"1"}, tr.tracked())
}

func TestRotator_CyclesFromPreMarkedSlide(t *testing.T) {
	clk := clock.NewMock()
	tr := &recTracker{}
	c := container(t, `<div class="adcmdr-rotate" data-interval="2000">
		<div data-t-id="a"></div><div data-t-id="b" class="adcmdr-active"></div><div data-t-id="c"></div>
	</div>`)
	r := New(c, Options{ClassPrefix: opts}, clk, tr)
	r.Start()

	assert.Equal(t, Rotating, r.State())
	assert.Equal(t, 1, r.ActiveIndex())
	assert.Equal(t, 2*time.Second, r.Interval())
	assert.True(t, r.Pending())

	clk.Add(2 * time.Second)
	waitActive(t, r, 2)
	assert.True(t, r.Pending(), "exactly one timer stays pending")
	assert.Equal(t, []string{"c"}, activeIDs(c))

	clk.Add(2 * time.Second)
	waitActive(t, r, 0)
	assert.Equal(t, []string{"a"}, activeIDs(c))
	assert.Eventually(t, func() bool { return len(tr.tracked()) == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"b", "c", "a"}, tr.tracked())
}

func TestRotator_StopTrackAfter(t *testing.T) {
	clk := clock.NewMock()
	tr := &recTracker{}
	c := container(t, `<div class="adcmdr-rotate" data-stoptrack="7000">
		<div data-t-id="a"></div><div data-t-id="b"></div>
	</div>`)
	r := New(c, Options{ClassPrefix: opts, Interval: 5 * time.Second}, clk, tr)
	r.Start()

	clk.Add(5 * time.Second) // 5s: still tracked
	waitActive(t, r, 1)
	clk.Add(5 * time.Second) // 10s: past the window
	waitActive(t, r, 0)

	assert.Equal(t, []string{"a", "b"}, tr.tracked())
	assert.Equal(t, []string{"a"}, activeIDs(c), "styling continues after tracking stops")
}

func TestRotator_IntervalClamp(t *testing.T) {
	tests := []struct {
		name string
		attr string
		opt  time.Duration
		want time.Duration
	}{
		{"attribute below minimum", `data-interval="500"`, 0, DefaultInterval},
		{"attribute at minimum", `data-interval="1000"`, 0, time.Second},
		{"option below minimum", ``, 999 * time.Millisecond, DefaultInterval},
		{"unset", ``, 0, DefaultInterval},
		{"non-numeric attribute", `data-interval="fast"`, 3 * time.Second, 3 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := container(t, `<div class="adcmdr-rotate" `+tt.attr+`><div></div><div></div></div>`)
			r := New(c, Options{ClassPrefix: opts, Interval: tt.opt}, clock.NewMock(), nil)
			r.Start()
			assert.Equal(t, tt.want, r.Interval())
		})
	}
}

func TestRotator_FixedHeight(t *testing.T) {
	c := container(t, `<div class="adcmdr-rotate adcmdr-rotate-fixed">
		<div style="height: 100px; margin: 5px"></div>
		<div style="height: 250px; margin-bottom: 10px"></div>
	</div>`)
	New(c, Options{ClassPrefix: opts}, clock.NewMock(), nil).Start()
	assert.Equal(t, "260px", c.Style("min-height"))
}

func TestRotator_NextResetsTimer(t *testing.T) {
	clk := clock.NewMock()
	c := container(t, `<div class="adcmdr-rotate"><div></div><div></div><div></div></div>`)
	r := New(c, Options{ClassPrefix: opts}, clk, nil)
	r.Start()

	clk.Add(3 * time.Second)
	r.Next()
	assert.Equal(t, 1, r.ActiveIndex())

	clk.Add(2 * time.Second) // original 5s deadline must not fire
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, r.ActiveIndex())

	clk.Add(3 * time.Second) // 8s: rescheduled deadline
	waitActive(t, r, 2)
}

func TestRotator_DestroyCancelsTimer(t *testing.T) {
	clk := clock.NewMock()
	c := container(t, `<div class="adcmdr-rotate"><div></div><div></div></div>`)
	r := New(c, Options{ClassPrefix: opts}, clk, nil)
	r.Start()
	require.True(t, r.Pending())

	r.Destroy()
	assert.False(t, r.Pending())
	assert.Equal(t, Destroyed, r.State())

	clk.Add(time.Minute)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, r.ActiveIndex())

	r.Start()
	assert.Equal(t, Destroyed, r.State(), "destroyed is terminal")
}
