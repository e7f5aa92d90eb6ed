package interfaces

import "directchat/pkg/types"

// Subscriber is a channel member as the router sees it.
// FUNCTIONAL DISCOVERY: Deliver must not block on the network; implementations
// queue the envelope on the connection's writer
type Subscriber interface {
	// ID is stable for the lifetime of the subscriber and unique among live subscribers
	ID() string

	// Deliver queues an outbound envelope for the subscriber
	Deliver(envelope types.Envelope) error
}
