/*
Package events provides an in-memory event broker for VM and experiment
lifecycle notifications.

The Coordination Service (C2) publishes an event for four kinds of
change: a VM's state being set by SetVMStateByUUID ("configuring" ->
"configured" -> "FAILED"), a VM reporting its current guest time, the
experiment start time being stamped for the first time, or a single VM
mapping being destroyed. SetVMMapping, DestroyAllVMMappings, and the
launch-time and reset calls publish nothing. Subscribers receive
these asynchronously over a buffered channel; nothing in the
request/response path waits on a subscriber.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			fmt.Printf("[%s] %s vm=%s: %s\n",
				event.Timestamp.Format("15:04:05"), event.Type, event.VMUUID, event.Message)
		}
	}()

	broker.Publish(&events.Event{
		Type:    events.TypeVMStateChanged,
		VMUUID:  "vm-1234",
		Message: "configured",
	})

# Design

Publish is non-blocking: it hands the event to a 100-deep internal
channel and returns. The broadcast loop then fans it out to every
subscriber's own 50-deep channel; a subscriber whose buffer is full
drops the event rather than stalling the other subscribers or the
publisher. There is no persistence, replay, or delivery guarantee — this
is a best-effort notification channel for ad hoc monitoring, not a
substitute for the authoritative
state held in the Coordination Service's own store.

Always `defer broker.Unsubscribe(sub)` after `Subscribe()`; an
unsubscribed channel is never garbage collected while the broker holds a
reference to it.
*/
package events
