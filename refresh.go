package fyk

import "context"

// Refresh re-fetches the key list and atomically replaces the cache.
// Callable any number of times after construction, including after a
// failed initialization; concurrent calls coalesce into one flight and
// share its outcome. It reports whether fresh data is now being served:
// (true, nil) after a successful fetch, (false, error) otherwise, the
// error's Details saying whether stale cached data remains available.
// A terminal auth failure from initialization short-circuits: Refresh
// cannot rehabilitate a rejected credential.
func (c *Client) Refresh(ctx context.Context) (bool, error) {
	select {
	case <-c.ready:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	if err := c.initErr; err != nil && IsTerminal(err) {
		return false, err
	}

	ch := c.refreshGroup.DoChan("refresh", func() (any, error) {
		return nil, c.refreshOnce()
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return false, res.Err
		}
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// refreshOnce performs one fetch-and-replace. It owns the online flag:
// success sets it, failure clears it until a later refresh succeeds.
func (c *Client) refreshOnce() error {
	c.countRefreshes.Add(1)
	c.countFetches.Add(1)

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
	defer cancel()

	keys, ferr := c.remote.fetch(ctx)
	c.auditEvent("keys.fetch", ferr == nil, map[string]any{"keys": len(keys)})
	if ferr != nil {
		c.countFetchFails.Add(1)
		c.setOnline(false)
		c.auditEvent("client.refresh", false, map[string]any{"code": string(ferr.Code)})
		if IsTerminal(ferr) {
			return ferr
		}
		stale := c.store.Size() > 0
		suggestion := "restore connectivity and call Refresh again"
		if stale {
			suggestion = "cached keys remain available; call Refresh again once connectivity returns"
		}
		return &Error{
			Code:       CodeNetworkError,
			Message:    "refresh failed: " + ferr.Message,
			Suggestion: suggestion,
			Details:    map[string]any{"staleAvailable": stale},
			cause:      ferr,
		}
	}

	if err := c.checkOwnership(); err != nil {
		// The foreign cache was just cleared; fall through and repopulate
		// it with our own fetch result.
		c.log.Debug().Msg("repopulating cache after ownership reset")
	}
	if err := c.replaceAll(keys); err != nil {
		c.setOnline(false)
		c.auditEvent("client.refresh", false, map[string]any{"code": string(CodeCacheError)})
		return &Error{
			Code:       CodeCacheError,
			Message:    "refresh fetched keys but could not cache them",
			Suggestion: "check disk space and permissions for the cache directory",
			cause:      err,
		}
	}
	c.setOnline(true)
	c.auditEvent("client.refresh", true, map[string]any{"keys": len(keys)})
	return nil
}
