// Package aggregator computes the recent-conversation digest of a participant.
package aggregator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/samber/lo"

	"directchat/pkg/interfaces"
	"directchat/pkg/types"
)

// Aggregator derives one summary per counterpart from the message store.
// Results are computed per call and never cached.
type Aggregator struct {
	store interfaces.MessageStore
	log   *slog.Logger
}

// New creates an aggregator over store
func New(store interfaces.MessageStore, log *slog.Logger) *Aggregator {
	return &Aggregator{
		store: store,
		log:   log.With("component", "aggregator"),
	}
}

// RecentChats returns the newest message with each distinct counterpart of
// user, newest first. limit <= 0 returns every counterpart.
//
// FUNCTIONAL DISCOVERY: ReceiverName is taken from the newest message as-is.
// When user was the receiver of that message it is user's own display name,
// not the counterpart's; clients already rely on this.
func (a *Aggregator) RecentChats(ctx context.Context, user string, limit int) ([]types.RecentChat, error) {
	scanned, err := a.store.ScanInvolving(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("failed to scan conversations of %s: %w", user, err)
	}

	// ScanInvolving is newest first, so the first message per counterpart is its latest
	latest := lo.UniqBy(scanned, func(m *types.Message) string {
		return m.Counterpart(user)
	})

	if limit > 0 && len(latest) > limit {
		latest = latest[:limit]
	}

	chats := lo.Map(latest, func(m *types.Message, _ int) types.RecentChat {
		return types.RecentChat{
			Counterpart:  m.Counterpart(user),
			ReceiverName: m.ReceiverName,
			LastMessage:  m.Body,
			Timestamp:    m.CreatedAt,
		}
	})

	a.log.Debug("recent chats computed", "user", user, "scanned", len(scanned), "counterparts", len(chats))
	return chats, nil
}
