// Package events implements a fan-out notification bus for VM and
// experiment lifecycle transitions published by the Coordination Service
// (C2), for observability consumers (ambient stack, SPEC_FULL.md §10: a
// notification channel alongside logging and metrics).
package events

import (
	"sync"
	"time"
)

// Type identifies a lifecycle transition.
type Type string

const (
	// TypeVMStateChanged fires whenever a VM's coordination state is set
	// (e.g. "configuring", "configured", "FAILED").
	TypeVMStateChanged Type = "vm.state_changed"
	// TypeVMTimeUpdated fires when a VM reports its current guest time.
	TypeVMTimeUpdated Type = "vm.time_updated"
	// TypeExperimentStartTimeSet fires once, the first time the
	// experiment start time is stamped (first-wins election, spec.md §9).
	TypeExperimentStartTimeSet Type = "experiment.start_time_set"
	// TypeVMMappingDestroyed fires when a VM mapping is torn down.
	TypeVMMappingDestroyed Type = "vm.mapping_destroyed"
)

// Event is one lifecycle notification.
type Event struct {
	ID        string
	Type      Type
	Timestamp time.Time
	VMUUID    string
	Message   string
	Metadata  map[string]string
}

// Subscriber is a channel that receives events.
type Subscriber chan *Event

// Broker fans out published events to every active subscriber. A full
// subscriber buffer drops the event for that subscriber rather than
// blocking the publisher.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewBroker creates a Broker. Call Start to begin distributing events.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's distribution loop in a background goroutine.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops distribution and closes every subscriber channel.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
		b.mu.Lock()
		for sub := range b.subscribers {
			close(sub)
		}
		b.subscribers = make(map[Subscriber]bool)
		b.mu.Unlock()
	})
}

// Subscribe registers a new subscriber and returns its channel.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes and closes a subscriber channel.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub)
}

// Publish enqueues event for distribution, stamping Timestamp if unset.
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// subscriber buffer full, drop for this subscriber
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
