package cache

import (
	"context"

	"github.com/wallet-sync/internal/store"
)

// TagsFor maps a committed store change to the cache tags it invalidates.
// Every changed kind evicts the entries tagged with it.
func TagsFor(change store.Change) []string {
	seen := map[string]bool{}
	var tags []string
	add := func(tag string) {
		if !seen[tag] {
			seen[tag] = true
			tags = append(tags, tag)
		}
	}

	for _, kind := range change.Kinds {
		add(TagKind(string(kind)))
		switch kind {
		case store.KindAccount, store.KindTransaction:
			for _, id := range change.Accounts {
				add(TagAccount(id))
			}
		case store.KindAsset:
			for _, id := range change.Assets {
				add(TagAsset(id))
			}
		case store.KindNetwork:
			for _, key := range change.Networks {
				add(TagNetwork(key))
			}
		}
	}
	return tags
}

// Hook returns a store hook evicting the entries a commit makes stale.
// It runs before the commit's Apply returns. A commit can outlive its
// requester, so eviction ignores the requester's cancellation.
func (c *Cache) Hook() store.Hook {
	return func(ctx context.Context, change store.Change) {
		tags := TagsFor(change)
		if len(tags) == 0 {
			return
		}
		if err := c.Invalidate(context.WithoutCancel(ctx), tags...); err != nil {
			c.logger.WithField("revision", change.Revision).WithError(err).Warn("cache invalidation failed")
		}
	}
}
