package transfer

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/warp/commodity-ledger/ledger"
)

const activeCampaignKey = "campaign:active"

// CachedCampaigns memoizes the active campaign, which is read by every
// create and list but changes about once a year. FindCampaign is passed
// through uncached. A ttl <= 0 disables memoization; go-cache would read 0
// as "never expire".
type CachedCampaigns struct {
	next  CampaignLookup
	cache *cache.Cache
}

func NewCachedCampaigns(next CampaignLookup, ttl time.Duration) *CachedCampaigns {
	c := &CachedCampaigns{next: next}
	if ttl > 0 {
		c.cache = cache.New(ttl, 2*ttl)
	}
	return c
}

func (c *CachedCampaigns) ActiveCampaign(ctx context.Context) (*Campaign, error) {
	if c.cache == nil {
		return c.next.ActiveCampaign(ctx)
	}
	if v, ok := c.cache.Get(activeCampaignKey); ok {
		camp := v.(Campaign)
		return &camp, nil
	}

	camp, err := c.next.ActiveCampaign(ctx)
	if err != nil || camp == nil {
		// "No active campaign" is not cached so that activating one takes
		// effect immediately.
		return camp, err
	}
	c.cache.SetDefault(activeCampaignKey, *camp)
	return camp, nil
}

func (c *CachedCampaigns) FindCampaign(ctx context.Context, id ledger.CampaignID) (*Campaign, error) {
	return c.next.FindCampaign(ctx, id)
}

// Invalidate drops the memoized active campaign, e.g. after an admin upsert.
func (c *CachedCampaigns) Invalidate() {
	if c.cache == nil {
		return
	}
	c.cache.Delete(activeCampaignKey)
}
