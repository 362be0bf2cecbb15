package main

import (
	"context"
	"time"

	"ringvote/pkg/naming"
	"ringvote/pkg/ring"
	"ringvote/pkg/transport"
)

// refreshRegistryLoop keeps the cached registry populated with the current
// membership's addresses by polling the registrar, so DialerThroughRegistry
// can resolve a successor without a round trip to the registrar on every
// forward. The registrar's GetMembers/LookupAddress pair remains the source
// of truth; this loop only shortens the common-case path to it. Binding
// through cachedRegistry (rather than its backend directly) keeps the TTL
// cache's own per-Bind invalidation in effect.
func refreshRegistryLoop(ctx context.Context, registrar *transport.RegistrarClient, cachedRegistry *naming.CachedRegistry, selfUID int32, selfAddr string) {
	cachedRegistry.Bind(selfUID, selfAddr)

	ticker := time.NewTicker(registryRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			members, err := registrar.GetMembers(ctx)
			if err != nil {
				continue
			}
			for _, uid := range members {
				if uid == selfUID {
					continue
				}
				addr, err := registrar.LookupAddress(ctx, uid)
				if err != nil {
					continue
				}
				cachedRegistry.Bind(uid, addr)
			}
		}
	}
}

// invalidateRegistryOnRebuild watches node's event feed and drops every
// cached address on each ring rebuild (SetSuccessor reassignment), since a
// topology change can move any UID to a new successor relationship even
// when the UID's own address hasn't changed.
func invalidateRegistryOnRebuild(ctx context.Context, node *ring.Node, cachedRegistry *naming.CachedRegistry) {
	for ev := range node.Events(ctx) {
		if ev.Type == ring.EventRingRebuilt {
			cachedRegistry.Invalidate()
		}
	}
}
