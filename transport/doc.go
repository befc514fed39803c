// Package transport holds what the transport adapter nodes share: the
// bounded drop-oldest Queue that decouples a producer's goroutine from a
// sender or receiver loop, and the adapter Config.
//
// The adapters live in subpackages:
//
//   - transport/queue: in-process hand-off between goroutines, no encoding
//   - transport/natsbus: publish and subscribe over NATS
//   - transport/wsbus: serve and consume WebSocket streams
//
// Every publisher encodes on Receive, queues the payload and forwards the
// message downstream; its own goroutine drains the queue. Every subscriber is
// a runnable node that decodes what arrives and signals it as its own
// message. Queues never block the producer: when MaxQueued payloads are
// waiting, the oldest is dropped and counted.
package transport
