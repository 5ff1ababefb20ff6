// Package gateway defines the lifecycle shared by approval center entry points.
// The HTTP API in gateway/httpapi is the only implementation today.
package gateway

import "context"

// Gateway exposes the approval center to approvers over some transport.
type Gateway interface {
	// Start serves until ctx is canceled or the listener fails.
	Start(ctx context.Context) error

	// Stop drains in-flight approval requests before ctx's deadline.
	Stop(ctx context.Context) error
}
