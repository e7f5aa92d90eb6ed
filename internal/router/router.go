package router

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"directchat/pkg/interfaces"
	"directchat/pkg/types"
)

// Router implements the ChannelRouter interface
// ARCHITECTURAL DISCOVERY: Pure routing logic without persistence or connection handling
// keeps channel membership decisions separate from message delivery mechanisms
type Router struct {
	mu          sync.RWMutex
	channels    map[string]map[string]interfaces.Subscriber // channelID -> subscriberID -> subscriber
	membership  map[string]string                           // subscriberID -> channelID
	rateLimiter *RateLimiter
	log         *slog.Logger
}

var _ interfaces.ChannelRouter = (*Router)(nil)

// Stats is a point-in-time view of router membership
type Stats struct {
	Channels    int `json:"channels"`
	Subscribers int `json:"subscribers"`
}

// NewRouter creates a channel router whose senders may publish at most
// ratePerMinute messages per minute
func NewRouter(ratePerMinute int, log *slog.Logger) *Router {
	return &Router{
		channels:    make(map[string]map[string]interfaces.Subscriber),
		membership:  make(map[string]string),
		rateLimiter: NewRateLimiter(ratePerMinute, time.Minute),
		log:         log.With("component", "router"),
	}
}

// ChannelID returns the symmetric channel id for a participant pair
func ChannelID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + types.ChannelSeparator + b
}

// ChannelID returns the symmetric channel id for a participant pair
func (r *Router) ChannelID(a, b string) string {
	return ChannelID(a, b)
}

// Subscribe puts sub in channelID, leaving any previous channel first
// FUNCTIONAL DISCOVERY: One active channel per session; re-subscribing to the
// same channel is a no-op
func (r *Router) Subscribe(sub interfaces.Subscriber, channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.membership[sub.ID()]; ok {
		if current == channelID {
			return
		}
		r.removeLocked(sub.ID(), current)
	}

	members, ok := r.channels[channelID]
	if !ok {
		members = make(map[string]interfaces.Subscriber)
		r.channels[channelID] = members
	}
	members[sub.ID()] = sub
	r.membership[sub.ID()] = channelID

	r.log.Debug("subscribed", "subscriber", sub.ID(), "channel", channelID, "members", len(members))
}

// UnsubscribeAll removes sub from every channel it belongs to
func (r *Router) UnsubscribeAll(sub interfaces.Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	channelID, ok := r.membership[sub.ID()]
	if !ok {
		return
	}
	r.removeLocked(sub.ID(), channelID)
}

// Publish delivers envelope to a snapshot of channelID's members
// FUNCTIONAL DISCOVERY: Continue delivery to other members even if one fails
// TECHNICAL DISCOVERY: Delivery happens outside the lock so a slow member
// cannot stall subscribe/unsubscribe
func (r *Router) Publish(channelID string, envelope types.Envelope) int {
	r.mu.RLock()
	snapshot := lo.Values(r.channels[channelID])
	r.mu.RUnlock()

	delivered := 0
	for _, member := range snapshot {
		if err := member.Deliver(envelope); err != nil {
			r.log.Warn("delivery failed", "subscriber", member.ID(), "channel", channelID, "event", envelope.Event, "error", err)
			continue
		}
		delivered++
	}
	return delivered
}

// ChannelOf returns the channel subscriberID currently belongs to
func (r *Router) ChannelOf(subscriberID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	channelID, ok := r.membership[subscriberID]
	return channelID, ok
}

// Members returns the sorted subscriber ids of channelID
func (r *Router) Members(channelID string) []string {
	r.mu.RLock()
	ids := lo.Keys(r.channels[channelID])
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Stats returns the number of live channels and subscribers
func (r *Router) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Stats{
		Channels:    len(r.channels),
		Subscribers: len(r.membership),
	}
}

// Allow reports whether sender may publish another message now
// TECHNICAL DISCOVERY: Rate limiting applied per user before persistence to prevent spam
func (r *Router) Allow(sender string) bool {
	return r.rateLimiter.Allow(sender)
}

// RunCleanup evicts idle rate limiter entries every interval until ctx is done
func (r *Router) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evicted := r.rateLimiter.Cleanup(); evicted > 0 {
				r.log.Debug("rate limiter cleanup", "evicted", evicted)
			}
		}
	}
}

// removeLocked drops subscriberID from channelID and forgets empty channels.
// Caller holds r.mu.
func (r *Router) removeLocked(subscriberID, channelID string) {
	delete(r.membership, subscriberID)

	members := r.channels[channelID]
	delete(members, subscriberID)
	if len(members) == 0 {
		delete(r.channels, channelID)
	}

	r.log.Debug("unsubscribed", "subscriber", subscriberID, "channel", channelID)
}
