package visitor

import (
	"fmt"
	"net"
	"sync"

	"github.com/mileusna/useragent"
	"github.com/oschwald/maxminddb-golang"
)

// Provider resolves extra attributes for a visitor (device detection, geo, ...).
// Providers fill well-known snapshot fields and mirror what they resolved
// into Snapshot.Attributes, where "attr:<name>" rules read it.
type Provider interface {
	Resolve(s *Snapshot, req RequestInfo)
}

// RequestInfo is the transport-level data providers may inspect.
type RequestInfo struct {
	UserAgent string
	IP        string
}

// DeviceProvider classifies the user agent.
type DeviceProvider struct{}

func (DeviceProvider) Resolve(s *Snapshot, req RequestInfo) {
	s.Device = ParseDevice(req.UserAgent)
	s.setAttr("device_class", s.Device.Class)
	s.setAttr("browser", s.Device.Browser)
	s.setAttr("os", s.Device.OS)
}

// ParseDevice extracts browser, OS and device class from a user agent string.
func ParseDevice(ua string) Device {
	p := useragent.Parse(ua)
	d := Device{Browser: p.Name, OS: p.OS}
	if d.Browser == "" {
		d.Browser = "unknown"
	}
	if d.OS == "" {
		d.OS = "unknown"
	}
	switch {
	case p.Bot:
		d.Class = "bot"
	case p.Tablet:
		d.Class = "tablet"
	case p.Mobile:
		d.Class = "mobile"
	default:
		d.Class = "desktop"
	}
	return d
}

type geoRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
}

// GeoProvider resolves the visitor country from a MaxMind country database.
// A provider without a database leaves the country empty.
type GeoProvider struct {
	mu sync.RWMutex
	db *maxminddb.Reader
}

// OpenGeo opens the database at path. An empty path yields a disabled provider.
func OpenGeo(path string) (*GeoProvider, error) {
	g := &GeoProvider{}
	if path == "" {
		return g, nil
	}
	db, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database: %w", err)
	}
	g.db = db
	return g, nil
}

func (g *GeoProvider) Resolve(s *Snapshot, req RequestInfo) {
	if c := g.Country(req.IP); c != "" {
		s.Country = c
		s.setAttr("country", c)
	}
}

// Country returns the ISO code for ip, "LOCAL" for private ranges and "" when unknown.
func (g *GeoProvider) Country(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}
	if parsed.IsPrivate() || parsed.IsLoopback() || parsed.IsLinkLocalUnicast() {
		return "LOCAL"
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.db == nil {
		return ""
	}
	var rec geoRecord
	if err := g.db.Lookup(parsed, &rec); err != nil {
		return ""
	}
	return rec.Country.ISOCode
}

func (g *GeoProvider) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.db == nil {
		return nil
	}
	err := g.db.Close()
	g.db = nil
	return err
}

func (s *Snapshot) setAttr(k, v string) {
	if s.Attributes == nil {
		s.Attributes = map[string]string{}
	}
	s.Attributes[k] = v
}
