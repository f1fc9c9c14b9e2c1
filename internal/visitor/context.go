// Package visitor builds the immutable per-page-view snapshot that every
// targeting evaluator reads.
package visitor

import (
	"maps"
	"slices"
	"time"
)

// Content describes the page or post being rendered.
type Content struct {
	PostID     string
	PostType   string
	Categories []string
	Tags       []string
	Template   string
	Author     string
	Path       string
}

// Device is the resolved device class of the visitor agent.
type Device struct {
	Class   string // mobile | tablet | desktop | bot
	Browser string
	OS      string
}

// Snapshot is the mutable input used to build a Context.
type Snapshot struct {
	Content         Content
	Device          Device
	Referrer        string
	Language        string
	Country         string
	ViewportWidth   int
	SiteImpressions int
	NewVisitor      bool
	Query           map[string]string
	Cookies         map[string]string
	Attributes      map[string]string
	Timestamp       time.Time
}

// Context is a read-only view of a Snapshot. All accessors return copies, so
// a Context can be shared between evaluators and goroutines.
type Context struct{ s Snapshot }

// NewContext copies s into a Context.
func NewContext(s Snapshot) Context {
	c := s
	c.Content.Categories = slices.Clone(s.Content.Categories)
	c.Content.Tags = slices.Clone(s.Content.Tags)
	c.Query = maps.Clone(s.Query)
	c.Cookies = maps.Clone(s.Cookies)
	c.Attributes = maps.Clone(s.Attributes)
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now()
	}
	return Context{s: c}
}

func (c Context) Content() Content {
	out := c.s.Content
	out.Categories = slices.Clone(c.s.Content.Categories)
	out.Tags = slices.Clone(c.s.Content.Tags)
	return out
}

func (c Context) Device() Device { return c.s.Device }
func (c Context) Referrer() string { return c.s.Referrer }
func (c Context) Language() string { return c.s.Language }
func (c Context) Country() string { return c.s.Country }
func (c Context) ViewportWidth() int { return c.s.ViewportWidth }
func (c Context) SiteImpressions() int { return c.s.SiteImpressions }
func (c Context) NewVisitor() bool { return c.s.NewVisitor }
func (c Context) Timestamp() time.Time { return c.s.Timestamp }

func (c Context) Query(name string) (string, bool) {
	v, ok := c.s.Query[name]
	return v, ok
}

func (c Context) Cookie(name string) (string, bool) {
	v, ok := c.s.Cookies[name]
	return v, ok
}

// Attr returns a provider-resolved attribute.
func (c Context) Attr(name string) (string, bool) {
	v, ok := c.s.Attributes[name]
	return v, ok
}
