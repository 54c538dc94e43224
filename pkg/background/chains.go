package background

import (
	"context"

	"github.com/penserai/acteon/pkg/acteon"
)

// advanceChains drains the chain-ready index and advances each due chain
// one step (spec.md §4.M "Chain advancement"). A chain that reaches a
// terminal status and has a parent waiting on it is folded back in via
// ResumeFromSubChain, since Advance only moves the child itself.
func (p *Processor) advanceChains(ctx context.Context) {
	if p.chains == nil || p.store == nil {
		return
	}
	ids, err := p.store.GetReadyChains(ctx, p.now().UnixMilli())
	if err != nil {
		p.logger.Warn("background: failed to list ready chains", map[string]interface{}{"error": err.Error()})
		return
	}

	for _, id := range ids {
		if err := p.chains.Advance(ctx, id); err != nil {
			p.logger.Warn("background: chain advance failed", map[string]interface{}{"chain_id": id, "error": err.Error()})
			continue
		}

		st, found, err := p.chains.GetState(ctx, id)
		if err != nil || !found {
			continue
		}

		p.publish("chain_step_completed", "", map[string]interface{}{
			"chain_id": st.ChainID, "status": string(st.Status), "current_step": st.CurrentStep,
		})

		if isTerminalChainStatus(st.Status) {
			p.publish("chain_completed", "", map[string]interface{}{
				"chain_id": st.ChainID, "status": string(st.Status), "execution_path": st.ExecutionPath,
			})
			if st.ParentChainID != "" {
				if err := p.chains.ResumeFromSubChain(ctx, st.ChainID); err != nil {
					p.logger.Warn("background: failed to resume parent chain", map[string]interface{}{
						"chain_id": st.ChainID, "parent_chain_id": st.ParentChainID, "error": err.Error(),
					})
				}
			}
		}
	}
}

func isTerminalChainStatus(s acteon.ChainStatus) bool {
	switch s {
	case acteon.ChainCompleted, acteon.ChainFailed, acteon.ChainCancelled, acteon.ChainTimedOut:
		return true
	default:
		return false
	}
}
