package graph

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// nodeTimeout resolves the timeout for a node: its policy first, then the
// engine default. Zero means unlimited.
func nodeTimeout(policy *NodePolicy, defaultTimeout time.Duration) time.Duration {
	if policy != nil && policy.Timeout > 0 {
		return policy.Timeout
	}
	return defaultTimeout
}

// runNodeWithTimeout executes node under its timeout. A node that overruns
// its deadline yields a NODE_TIMEOUT EngineError regardless of what it
// returned; a parent cancellation is reported as is.
func runNodeWithTimeout[S, U any](
	ctx context.Context,
	node Node[S, U],
	nodeID string,
	state S,
	policy *NodePolicy,
	defaultTimeout time.Duration,
) (NodeResult[U], error) {
	timeout := nodeTimeout(policy, defaultTimeout)
	if timeout == 0 {
		return node.Run(ctx, state), nil
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := node.Run(timeoutCtx, state)

	if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return result, &EngineError{
			Message: fmt.Sprintf("exceeded timeout of %v", timeout),
			Code:    CodeNodeTimeout,
			NodeID:  nodeID,
			Cause:   context.DeadlineExceeded,
		}
	}
	return result, nil
}
