// Package events is the in-process publish/subscribe hub shared by the page
// runtime, the rotation engine and the tracking coordinator.
package events

import (
	"sync"

	"ad-decision-engine/internal/dom"
)

type Topic string

const (
	AdsLoaded          Topic = "adsLoadedEvent"
	ClickTrackComplete Topic = "clickTrackCompleteEvent"
)

// AdsLoadedEvent is published after ads finished loading, either with the
// page or through an AJAX insertion. Root scopes the newly loaded markup.
type AdsLoadedEvent struct {
	Root *dom.Element
}

// ClickTrackCompleteEvent is published once per channel per click.
type ClickTrackCompleteEvent struct {
	AdID    string
	Channel string
	Err     error
}

type subscriber struct {
	id int
	fn func(any)
}

// Bus delivers events synchronously, in subscription order.
type Bus struct {
	mu   sync.RWMutex
	next int
	subs map[Topic][]subscriber
}

func NewBus() *Bus { return &Bus{subs: map[Topic][]subscriber{}} }

// Subscribe registers fn for topic and returns a function that removes it.
func (b *Bus) Subscribe(topic Topic, fn func(any)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	id := b.next
	b.subs[topic] = append(b.subs[topic], subscriber{id: id, fn: fn})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[topic]
		for i, s := range list {
			if s.id == id {
				b.subs[topic] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

func (b *Bus) Publish(topic Topic, payload any) {
	b.mu.RLock()
	list := append([]subscriber(nil), b.subs[topic]...)
	b.mu.RUnlock()
	for _, s := range list {
		s.fn(payload)
	}
}

// On subscribes a typed handler; payloads of another type are ignored.
func On[T any](b *Bus, topic Topic, fn func(T)) func() {
	return b.Subscribe(topic, func(p any) {
		if v, ok := p.(T); ok {
			fn(v)
		}
	})
}
