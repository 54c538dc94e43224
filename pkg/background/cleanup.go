package background

import "context"

// cleanup is the catch-all housekeeping tick (spec.md §4.M "Cleanup"):
// today that means reporting in-memory group-manager pressure so an
// operator can see accumulation before get_ready_groups ever lags behind
// group_flush. Other drains already clean up after themselves (orphaned
// timeout-index entries removed inline in scheduled.go/recurring.go), so
// there's nothing else left to sweep here yet.
func (p *Processor) cleanup(ctx context.Context) {
	if p.groups == nil {
		return
	}
	p.publish("background_cleanup", "", map[string]interface{}{
		"pending_groups": p.groups.Count(),
	})
}
