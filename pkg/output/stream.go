// Copyright 2025 Solentlabs Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package output

import "sync"

// OutputSubscriber receives output events from an OutputEventStream.
// Subscribers decide per event whether they care about it and must never
// block or propagate errors back into business logic.
type OutputSubscriber interface {
	// Name returns a stable identifier for the subscriber (used in diagnostics).
	Name() string

	// ShouldHandle decides if this subscriber cares about the event.
	ShouldHandle(event OutputEvent) bool

	// Handle processes an output event.
	Handle(event OutputEvent)
}

// OutputEventStream fans output events out to registered subscribers.
// Emission is synchronous and in subscription order.
type OutputEventStream struct {
	mu          sync.RWMutex
	subscribers []OutputSubscriber
}

// NewOutputEventStream creates an empty event stream.
func NewOutputEventStream() *OutputEventStream {
	return &OutputEventStream{}
}

// Subscribe registers a subscriber to receive future events.
func (s *OutputEventStream) Subscribe(sub OutputSubscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, sub)
}

// SubscriberCount returns the number of registered subscribers.
func (s *OutputEventStream) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}

// Emit delivers the event to every subscriber whose ShouldHandle accepts it.
func (s *OutputEventStream) Emit(event OutputEvent) {
	s.mu.RLock()
	subs := make([]OutputSubscriber, len(s.subscribers))
	copy(subs, s.subscribers)
	s.mu.RUnlock()

	for _, sub := range subs {
		if sub.ShouldHandle(event) {
			sub.Handle(event)
		}
	}
}
