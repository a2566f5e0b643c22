// Package gateway defines the port used to reach agents through their gateway.
package gateway

import (
	"context"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/agent"
)

// Waker sends a wake signal to an agent. Wake returns once the gateway
// acknowledged the request, not when the agent checks in.
type Waker interface {
	Wake(ctx context.Context, a *agent.Agent) error
}
