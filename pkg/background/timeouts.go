package background

import "context"

// processTimeouts drains every state machine's expired-timeout index,
// force-transitioning each fingerprint to its recorded target state
// (spec.md §4.M "State-machine timeouts").
func (p *Processor) processTimeouts(ctx context.Context) {
	if p.statemachines == nil {
		return
	}
	now := p.now()
	for _, name := range p.statemachines.MachineNames() {
		fired, err := p.statemachines.ProcessTimeouts(ctx, name, now)
		if err != nil {
			p.logger.Warn("background: state machine timeout drain failed", map[string]interface{}{
				"machine": name, "error": err.Error(),
			})
			continue
		}
		for _, f := range fired {
			p.publish("state_machine_timeout", "", map[string]interface{}{
				"namespace":    f.Namespace,
				"tenant":       f.Tenant,
				"machine_name": f.MachineName,
				"fingerprint":  f.Fingerprint,
				"previous":     f.Previous,
				"new":          f.New,
			})
		}
	}
}
