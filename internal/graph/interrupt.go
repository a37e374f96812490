package graph

import (
	"context"
	"fmt"
	"sync"

	"github.com/droverhq/drover/pkg/schema"
)

// InterruptError is the suspension signal a node raises through Interrupt.
// The engine parks the run, persists the payload with the checkpoint, and
// surfaces it to the caller.
type InterruptError struct {
	Payload schema.InterruptPayload
}

func (e *InterruptError) Error() string {
	return fmt.Sprintf("run interrupted at node %s", e.Payload.NodeID)
}

// resumeCarrier delivers an externally supplied resume value into a node
// re-invocation. One value, consumed at most once.
type resumeCarrier struct {
	mu       sync.Mutex
	nodeID   string
	value    string
	consumed bool
}

type carrierKey struct{}

func withResumeCarrier(ctx context.Context, c *resumeCarrier) context.Context {
	return context.WithValue(ctx, carrierKey{}, c)
}

type nodeIDKey struct{}

func withNodeID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, nodeIDKey{}, id)
}

// NodeID returns the ID of the node the context is executing, or "".
func NodeID(ctx context.Context) string {
	v, _ := ctx.Value(nodeIDKey{}).(string)
	return v
}

// Interrupt suspends the run, surfacing messageToUser to the caller. If a
// resume value is pending for this node the value is returned immediately
// and the node continues as if no suspension happened. Otherwise the node
// must return the error unmodified; the engine checkpoints the run with the
// payload and the node will be re-invoked from the top on resume, so any
// work before an Interrupt call must be idempotent.
func Interrupt(ctx context.Context, messageToUser string) (string, error) {
	nodeID := NodeID(ctx)
	if c, ok := ctx.Value(carrierKey{}).(*resumeCarrier); ok && c != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		if !c.consumed && c.nodeID == nodeID {
			c.consumed = true
			return c.value, nil
		}
	}
	return "", &InterruptError{Payload: schema.InterruptPayload{
		NodeID:        nodeID,
		MessageToUser: messageToUser,
	}}
}
