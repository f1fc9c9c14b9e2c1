package visitor

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// FromRequest builds a Snapshot from an incoming delivery request. Content
// attributes are passed by the CMS as query parameters.
func FromRequest(r *http.Request, now time.Time, providers ...Provider) Snapshot {
	q := r.URL.Query()
	s := Snapshot{
		Content: Content{
			PostID:     q.Get("post_id"),
			PostType:   q.Get("post_type"),
			Categories: splitList(q.Get("categories")),
			Tags:       splitList(q.Get("tags")),
			Template:   q.Get("template"),
			Author:     q.Get("author"),
			Path:       q.Get("path"),
		},
		Referrer:   q.Get("ref"),
		Language:   ParseAcceptLanguage(r.Header.Get("Accept-Language")),
		Query:      make(map[string]string, len(q)),
		Cookies:    make(map[string]string),
		Attributes: make(map[string]string),
		Timestamp:  now,
	}
	if s.Referrer == "" {
		s.Referrer = r.Referer()
	}
	if vw, err := strconv.Atoi(q.Get("vw")); err == nil && vw > 0 {
		s.ViewportWidth = vw
	}
	for k, v := range q {
		if len(v) > 0 {
			s.Query[k] = v[0]
		}
	}
	for _, c := range r.Cookies() {
		s.Cookies[c.Name] = c.Value
	}

	info := RequestInfo{UserAgent: r.UserAgent(), IP: clientIP(r)}
	for _, p := range providers {
		p.Resolve(&s, info)
	}
	return s
}

// ParseAcceptLanguage returns the primary language tag, lower-cased ("en-us" -> "en").
func ParseAcceptLanguage(h string) string {
	if h == "" {
		return ""
	}
	first := strings.SplitN(h, ",", 2)[0]
	first = strings.SplitN(first, ";", 2)[0]
	first = strings.SplitN(strings.TrimSpace(first), "-", 2)[0]
	return strings.ToLower(first)
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// clientIP prefers the address set by chi's RealIP middleware.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
