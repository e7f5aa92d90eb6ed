package interfaces

import "directchat/pkg/types"

// ChannelRouter addresses per-pair channels and fans events out to their members
// ARCHITECTURAL DISCOVERY: Routing is in-memory and non-blocking; persistence
// happens before Publish is called
type ChannelRouter interface {
	// ChannelID returns the symmetric channel id for a participant pair
	ChannelID(a, b string) string

	// Subscribe puts sub in channelID, replacing any previous channel of sub. Idempotent.
	Subscribe(sub Subscriber, channelID string)

	// UnsubscribeAll removes sub from every channel. No-op when sub is unknown.
	UnsubscribeAll(sub Subscriber)

	// Publish delivers envelope to every current member of channelID and
	// returns the number of successful deliveries
	Publish(channelID string, envelope types.Envelope) int
}
