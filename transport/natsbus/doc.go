// Package natsbus carries messages between processes over NATS subjects.
//
// A Publisher encodes each received message, queues the bytes and forwards
// the message to its own targets; a sender goroutine publishes the queue on
// a subject. A Subscriber listens on a subject, decodes what arrives and
// signals it locally with its own sequence numbers:
//
//	client, _ := natsclient.NewClient("nats://localhost:4222")
//	_ = client.Connect(ctx)
//
//	pub, _ := natsbus.NewPublisher("arm-out", client, "robot.arm", transport.DefaultConfig())
//	sub, _ := natsbus.NewSubscriber("arm-in", client, "robot.arm", transport.DefaultConfig())
//
// Both adapters take the connection as an explicit handle; many nodes may
// share one *natsclient.Client.
package natsbus
