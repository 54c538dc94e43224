package chain

import (
	"context"
	"time"

	"github.com/penserai/acteon/pkg/acteon"
	"github.com/penserai/acteon/pkg/acteonerr"
)

// waitingSubChain is returned by runSubChain to tell Advance the step
// isn't finished: the parent must pause until the child reports back
// via ResumeFromSubChain.
type waitingSubChain struct{}

func (waitingSubChain) Error() string { return "waiting on sub-chain" }

// runSubChain starts step.SubChain as a child chain and parks the parent
// in WaitingSubChain. The error return is the waitingSubChain sentinel,
// which Advance treats as "persist and stop", not a real error.
func (e *Executor) runSubChain(ctx context.Context, st *acteon.ChainState, step acteon.StepConfig) (stepOutcome, error) {
	childOrigin := st.OriginAction.Clone()
	child, err := e.Start(ctx, childOrigin, step.SubChain)
	if err != nil {
		return stepOutcome{}, err
	}

	childState, found, err := e.load(ctx, child.ChainID)
	if err != nil {
		return stepOutcome{}, err
	}
	if found {
		childState.ParentChainID = st.ChainID
		childState.ParentStepIndex = st.CurrentStep
		if err := e.persist(ctx, childState, 0); err != nil {
			return stepOutcome{}, err
		}
	}

	st.Status = acteon.ChainWaitingSubChain
	st.ChildChainIDs = append(st.ChildChainIDs, child.ChainID)
	return stepOutcome{}, waitingSubChain{}
}

// ResumeFromSubChain is called (by the background processor, once a
// child chain reaches a terminal status) to fold the child's result back
// into its parent and continue advancing.
func (e *Executor) ResumeFromSubChain(ctx context.Context, childChainID string) error {
	child, found, err := e.load(ctx, childChainID)
	if err != nil {
		return err
	}
	if !found || child.ParentChainID == "" {
		return nil
	}

	guard, err := e.lock.Acquire(ctx, "chain:"+child.ParentChainID, 60*time.Second, 5*time.Second)
	if err != nil {
		return err
	}
	defer guard.Release(ctx)

	parent, found, err := e.load(ctx, child.ParentChainID)
	if err != nil {
		return err
	}
	if !found || parent.Status != acteon.ChainWaitingSubChain {
		return nil
	}

	cfg, ok := e.config(parent.ChainName)
	if !ok {
		return acteonerr.New("chain.ResumeFromSubChain", acteonerr.KindChainError, acteonerr.ErrChainNotFound).WithID(parent.ChainName)
	}

	out := stepOutcome{success: child.Status == acteon.ChainCompleted, errMsg: subChainErrMsg(child.Status)}
	parent.Status = acteon.ChainRunning
	if err := e.applyStepResult(ctx, &parent, cfg, cfg.Steps[child.ParentStepIndex], out); err != nil {
		return err
	}
	return e.persist(ctx, parent, ttlForStatus(parent.Status))
}

func subChainErrMsg(status acteon.ChainStatus) string {
	if status == acteon.ChainCompleted {
		return ""
	}
	return "sub-chain ended with status " + string(status)
}
