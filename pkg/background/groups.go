package background

import "context"

// flushGroups drains every group whose notify_at has passed (spec.md
// §4.M "Group flush"). FlushGroup already removes the group from the
// manager, so there is no separate remove step here.
func (p *Processor) flushGroups(ctx context.Context) {
	if p.groups == nil {
		return
	}
	for _, key := range p.groups.ReadyGroups() {
		g, ok := p.groups.FlushGroup(key)
		if !ok {
			continue // raced with another drain or a direct flush
		}
		p.publish("group_flush", "", map[string]interface{}{
			"group_id":  g.GroupID,
			"group_key": g.GroupKey,
			"size":      g.Size,
		})
	}
}
