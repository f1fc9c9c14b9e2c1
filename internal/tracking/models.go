package tracking

import (
	"time"

	"ad-decision-engine/internal/dom"
)

// Data attributes read from ad wrappers.
const (
	AttrTrackingID          = "data-t-id"
	AttrTitle               = "data-t-title"
	AttrPlacementID         = "data-t-pid"
	AttrImpressionsDisabled = "data-ti-disabled"
	AttrClicksDisabled      = "data-tc-disabled"
)

type Action string

const (
	Impression Action = "impression"
	Click      Action = "click"
)

// ChannelName identifies a tracking destination.
type ChannelName string

const (
	Local     ChannelName = "local"
	Analytics ChannelName = "analytics"
)

// AdRef identifies a rendered ad.
type AdRef struct {
	ID          string
	Title       string
	PlacementID string
	Element     *dom.Element
}

// RefFromElement reads the tracking attributes of an ad wrapper.
func RefFromElement(el *dom.Element) (AdRef, bool) {
	id, ok := el.Attr(AttrTrackingID)
	if !ok || id == "" {
		return AdRef{}, false
	}
	title, _ := el.Attr(AttrTitle)
	pid, _ := el.Attr(AttrPlacementID)
	return AdRef{ID: id, Title: title, PlacementID: pid, Element: el}, true
}

// Event is one tracking event, alive for a single dispatch.
type Event struct {
	ID        string
	AdID      string
	Type      Action
	Title     string
	Timestamp time.Time
}

// Batch tells TrackImpressions where the request comes from.
type Batch int

const (
	// PageLoad is the bulk batch sent when ads finish loading. Ads inside
	// rotation containers are excluded; their rotator tracks them per slide.
	PageLoad Batch = iota
	// RotationSlide is a single slide activation.
	RotationSlide
)

// Navigator performs a deferred same-window navigation.
type Navigator interface {
	Navigate(href string)
}

type NavigatorFunc func(href string)

func (f NavigatorFunc) Navigate(href string) { f(href) }
