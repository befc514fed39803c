// Package wsbus streams messages over WebSocket connections.
//
// A Publisher is an http.Handler: mount it on any server and every client
// that connects receives each message the node receives, encoded as one
// binary frame. Every client has its own drop-oldest queue and writer
// goroutine, so a slow client loses old frames instead of stalling the
// graph or the other clients.
//
//	pub, _ := wsbus.NewPublisher("camera-ws", transport.DefaultConfig())
//	http.Handle("/camera", pub)
//
// A Subscriber dials a publisher, decodes the frames and signals them as
// its own messages, reconnecting with backoff when the connection drops.
// transport.Config.TLS secures wss:// dials.
package wsbus
