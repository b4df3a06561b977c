package subscription

import "context"

// Status is the connection state surfaced to consumers.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	// StatusError is terminal: the reconnect attempt cap was exhausted. The
	// consumer decides what to do; the engine never exits on its own.
	StatusError Status = "error"
)

// Transport is the pub/sub connection the manager owns. Implementations
// deliver incoming messages and connection-loss notifications through the
// handlers given to them at construction; the manager never polls.
type Transport interface {
	// Connect must respect the context deadline - the manager treats an
	// unacknowledged connect as failed when the deadline passes, regardless
	// of any retrying the underlying client library would do.
	Connect(ctx context.Context) error
	Disconnect()

	Subscribe(filter string) error
	Unsubscribe(filters ...string) error

	IsConnected() bool
}
