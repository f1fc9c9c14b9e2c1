package targeting

import (
	"strconv"
	"strings"
	"sync"

	"ad-decision-engine/internal/visitor"
)

// Registry maps target keys to handlers. Keys of the form "<prefix>:<name>"
// resolve through prefix factories when no exact handler is registered.
type Registry struct {
	mu     sync.RWMutex
	exact  map[string]Handler
	prefix map[string]func(name string) Handler
}

func NewRegistry() *Registry {
	return &Registry{
		exact:  map[string]Handler{},
		prefix: map[string]func(string) Handler{},
	}
}

func (r *Registry) Register(key string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exact[normalizeKey(key)] = h
}

// RegisterPrefix installs a factory for "<prefix>:<name>" keys.
func (r *Registry) RegisterPrefix(prefix string, f func(name string) Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefix[strings.ToLower(prefix)] = f
}

func (r *Registry) Lookup(key string) (Handler, bool) {
	key = normalizeKey(key)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.exact[key]; ok {
		return h, true
	}
	if i := strings.IndexByte(key, ':'); i > 0 && i < len(key)-1 {
		if f, ok := r.prefix[key[:i]]; ok {
			return f(key[i+1:]), true
		}
	}
	return nil, false
}

// DefaultRegistry returns a registry with all built-in condition types.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	// content
	r.Register("post_id", Text(func(c visitor.Context) []string { return one(c.Content().PostID) }))
	r.Register("post_type", Text(func(c visitor.Context) []string { return one(c.Content().PostType) }))
	r.Register("post_category", Text(func(c visitor.Context) []string { return c.Content().Categories }))
	r.Register("post_tag", Text(func(c visitor.Context) []string { return c.Content().Tags }))
	r.Register("page_template", Text(func(c visitor.Context) []string { return one(c.Content().Template) }))
	r.Register("author", Text(func(c visitor.Context) []string { return one(c.Content().Author) }))
	r.Register("url_path", Text(func(c visitor.Context) []string { return one(c.Content().Path) }))

	// visitor
	r.Register("device", Text(func(c visitor.Context) []string { return one(c.Device().Class) }))
	r.Register("browser", Text(func(c visitor.Context) []string { return one(c.Device().Browser) }))
	r.Register("os", Text(func(c visitor.Context) []string { return one(c.Device().OS) }))
	r.Register("browser_language", Text(func(c visitor.Context) []string { return one(c.Language()) }))
	r.Register("referrer", Text(func(c visitor.Context) []string { return one(c.Referrer()) }))
	r.Register("country", Text(func(c visitor.Context) []string { return one(c.Country()) }))
	r.Register("new_visitor", Text(func(c visitor.Context) []string {
		return []string{strconv.FormatBool(c.NewVisitor())}
	}))
	r.Register("site_impressions", Number(func(c visitor.Context) (float64, bool) {
		return float64(c.SiteImpressions()), true
	}))
	r.Register("viewport_width", Number(func(c visitor.Context) (float64, bool) {
		w := c.ViewportWidth()
		return float64(w), w > 0
	}))

	// date
	r.Register("date", Date())
	r.Register("day_of_week", Text(func(c visitor.Context) []string {
		return []string{strings.ToLower(c.Timestamp().Weekday().String())}
	}))
	r.Register("hour", Number(func(c visitor.Context) (float64, bool) {
		return float64(c.Timestamp().Hour()), true
	}))

	// custom
	r.RegisterPrefix("query", func(name string) Handler {
		return Text(func(c visitor.Context) []string { v, _ := c.Query(name); return one(v) })
	})
	r.RegisterPrefix("cookie", func(name string) Handler {
		return Text(func(c visitor.Context) []string { v, _ := c.Cookie(name); return one(v) })
	})
	r.RegisterPrefix("attr", func(name string) Handler {
		return Text(func(c visitor.Context) []string { v, _ := c.Attr(name); return one(v) })
	})
	return r
}
