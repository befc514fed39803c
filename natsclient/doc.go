// Package natsclient manages the NATS connection shared by the broker
// transport nodes of a process.
//
// The client wraps nats.go with a circuit breaker: after a threshold of
// failed connection attempts (default 5) Connect fails fast with
// errors.ErrCircuitOpen, and the backoff before the next attempt doubles up
// to a cap. Once connected, nats.go reconnects on its own; the client tracks
// the resulting state changes and reports them through Health and optional
// callbacks.
//
// # Usage
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithName("arm-controller"),
//	    natsclient.WithMetrics(registry),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(context.Background())
//
//	sub, err := client.Subscribe("robot.camera", func(data []byte) {
//	    // runs on the subscription's dispatch goroutine
//	})
//
// Payloads are opaque bytes; the transport nodes in transport/natsbus encode
// and decode messages.
//
// # Testing
//
// Built with the integration tag, NewTestClient starts a NATS server in a
// container with testcontainers-go and returns a connected client.
package natsclient
