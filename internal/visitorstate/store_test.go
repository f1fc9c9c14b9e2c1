package visitorstate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemStore(t *testing.T) (*Store, *MemoryBackend, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	b := NewMemoryBackend(clk)
	return New(b, "adcmdr_", 0), b, clk
}

func TestStore_IncrementIsMonotonic(t *testing.T) {
	ctx := context.Background()
	for _, start := range []int{0, 1, 17} {
		s, _, _ := newMemStore(t)
		for i := 0; i < start; i++ {
			_, err := s.IncrementAdImpression(ctx, "42")
			require.NoError(t, err)
		}
		before := s.AdImpressions(ctx, "42")
		require.Equal(t, start, before)

		const n = 25
		for i := 0; i < n; i++ {
			_, err := s.IncrementAdImpression(ctx, "42")
			require.NoError(t, err)
		}
		assert.Equal(t, before+n, s.AdImpressions(ctx, "42"))
		assert.Equal(t, 0, s.AdImpressions(ctx, "43"))
	}
}

func TestStore_Counters(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newMemStore(t)

	n, err := s.IncrementSiteImpressions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, _ = s.IncrementSiteImpressions(ctx)
	_, _ = s.IncrementPlacementImpression(ctx, "p1")
	_, _ = s.IncrementAdClick(ctx, "9")
	_, _ = s.IncrementAdClick(ctx, "9")

	st := s.Snapshot(ctx)
	assert.Equal(t, 2, st.SiteImpressions)
	assert.Equal(t, map[string]int{"p1": 1}, st.PlacementImpressions)
	assert.Equal(t, 2, s.AdClicks(ctx, "9"))
	assert.Equal(t, 1, s.PlacementImpressions(ctx, "p1"))
	assert.Empty(t, st.AdImpressions)
}

func TestStore_SetReferrerOnce(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newMemStore(t)

	ok, err := s.SetReferrerOnce(ctx, "")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.SetReferrerOnce(ctx, "https://first.example")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetReferrerOnce(ctx, "https://second.example")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "https://first.example", s.Referrer(ctx))
}

func TestStore_MalformedIsDefault(t *testing.T) {
	ctx := context.Background()
	s, b, _ := newMemStore(t)
	b.Raw("adcmdr_"+FieldAdImpressions, "{not json")
	b.Raw("adcmdr_"+FieldSiteImpressions, `"seven"`)
	b.Raw("adcmdr_"+FieldReferrer, "[")

	assert.Equal(t, 0, s.AdImpressions(ctx, "1"))
	assert.Equal(t, 0, s.SiteImpressions(ctx))

	n, err := s.IncrementAdImpression(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ok, err := s.SetReferrerOnce(ctx, "https://x.example")
	require.NoError(t, err)
	assert.True(t, ok, "malformed referrer counts as unset")
}

func TestStore_PerFieldExpiry(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	s := New(NewMemoryBackend(clk), "adcmdr_", 48*time.Hour)

	_, _ = s.IncrementSiteImpressions(ctx)
	clk.Add(24 * time.Hour)
	_ = s.SetViewportWidth(ctx, 1024)
	clk.Add(25 * time.Hour)

	st := s.Snapshot(ctx)
	assert.Equal(t, 0, st.SiteImpressions, "expired independently")
	assert.Equal(t, 1024, st.ViewportWidth)
}

func TestNew_CapsTTL(t *testing.T) {
	s := New(NewMemoryBackend(nil), "", 1000*24*time.Hour)
	assert.Equal(t, MaxExpiry, s.ttl)
}

func TestCookieBackend_RoundTrip(t *testing.T) {
	ctx := context.Background()

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/", nil)
	s := New(NewCookieBackend(w, r), "adcmdr_", 30*24*time.Hour)
	_, err := s.IncrementAdImpression(ctx, "5")
	require.NoError(t, err)
	_, err = s.IncrementAdImpression(ctx, "5")
	require.NoError(t, err)
	_ = s.SetBrowserLanguage(ctx, "de")
	assert.Equal(t, 2, s.AdImpressions(ctx, "5"), "pending writes are readable")

	// carry the cookies into the next request
	res := w.Result()
	next := httptest.NewRequest("GET", "/", nil)
	latest := map[string]*http.Cookie{}
	for _, c := range res.Cookies() {
		latest[c.Name] = c
		assert.Equal(t, 30*24*3600, c.MaxAge)
	}
	for _, c := range latest {
		next.AddCookie(c)
	}
	s2 := New(NewCookieBackend(httptest.NewRecorder(), next), "adcmdr_", 0)
	assert.Equal(t, 2, s2.AdImpressions(ctx, "5"))
	assert.Equal(t, "de", s2.Snapshot(ctx).BrowserLanguage)
}

func TestCookieBackend_MalformedCookie(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.AddCookie(&http.Cookie{Name: "adcmdr_" + FieldAdClicks, Value: "%%%"})
	s := New(NewCookieBackend(httptest.NewRecorder(), r), "adcmdr_", 0)
	assert.Equal(t, 0, s.AdClicks(context.Background(), "1"))
}

func TestVisitorID(t *testing.T) {
	w := httptest.NewRecorder()
	id := VisitorID(w, httptest.NewRequest("GET", "/", nil), "adcmdr_vid", time.Hour)
	require.Len(t, w.Result().Cookies(), 1)

	r := httptest.NewRequest("GET", "/", nil)
	r.AddCookie(&http.Cookie{Name: "adcmdr_vid", Value: id})
	w2 := httptest.NewRecorder()
	assert.Equal(t, id, VisitorID(w2, r, "adcmdr_vid", time.Hour))
	assert.Empty(t, w2.Result().Cookies())
}

func TestRedisBackend(t *testing.T) {
	url := os.Getenv("ADCMDR_TEST_REDIS_URL")
	if url == "" {
		t.Skip("Skipping Redis tests: ADCMDR_TEST_REDIS_URL not set")
	}
	client, err := NewRedisClient(url)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	ctx := context.Background()
	vid := "test-" + time.Now().Format("150405.000000")
	s := New(NewRedisBackend(client, "adcmdr:test:", vid), "", time.Minute)

	_, err = s.IncrementAdClick(ctx, "3")
	require.NoError(t, err)
	assert.Equal(t, 1, s.AdClicks(ctx, "3"))

	ok, err := s.SetReferrerOnce(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = s.SetReferrerOnce(ctx, "b")
	assert.False(t, ok)
}

func TestNewRedisClient_RequiresURL(t *testing.T) {
	_, err := NewRedisClient("")
	assert.Error(t, err)
}
